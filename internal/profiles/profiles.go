// Package profiles loads voice profiles from YAML files.
//
// Each *.yaml or *.yml file holds one or more profile documents separated by
// "---". A profile without a name takes the file's base name.
package profiles

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/book-expert/narrator/internal/core"
)

// Errors returned by the store.
var (
	ErrProfileNotFound  = errors.New("voice profile not found")
	ErrDuplicateProfile = errors.New("duplicate voice profile")
	ErrInvalidProfile   = errors.New("invalid voice profile")
)

// Store is an immutable set of profiles keyed by name.
type Store struct {
	profiles map[string]core.VoiceProfile
}

// New builds a store from profiles.
func New(profiles ...core.VoiceProfile) (*Store, error) {
	store := &Store{profiles: make(map[string]core.VoiceProfile, len(profiles))}

	for _, profile := range profiles {
		err := store.add(profile, "")
		if err != nil {
			return nil, err
		}
	}

	return store, nil
}

// Load reads every profile file in dir. Profiles in fallbacks are added when
// no file defines a profile of the same name. A missing dir is not an error.
func Load(dir string, fallbacks ...core.VoiceProfile) (*Store, error) {
	store := &Store{profiles: make(map[string]core.VoiceProfile)}

	if dir != "" {
		err := store.loadDir(dir)
		if err != nil {
			return nil, err
		}
	}

	for _, profile := range fallbacks {
		if _, ok := store.profiles[profile.Name]; ok {
			continue
		}

		err := store.add(profile, "")
		if err != nil {
			return nil, err
		}
	}

	return store, nil
}

func (s *Store) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("failed to read profiles directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		err = s.loadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open profile %s: %w", path, err)
	}
	defer file.Close()

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)

	for document := 0; ; document++ {
		var profile core.VoiceProfile

		err = decoder.Decode(&profile)
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidProfile, path, err)
		}

		if profile.Name == "" && document == 0 {
			profile.Name = stem
		}

		err = s.add(profile, path)
		if err != nil {
			return err
		}
	}
}

func (s *Store) add(profile core.VoiceProfile, source string) error {
	if source == "" {
		source = "configuration"
	}

	if profile.Name == "" {
		return fmt.Errorf("%w: %s: name is required", ErrInvalidProfile, source)
	}

	if profile.Engine == "" {
		return fmt.Errorf("%w: %s: profile %q has no engine", ErrInvalidProfile, source, profile.Name)
	}

	if profile.Rate < 0 || profile.Volume < 0 {
		return fmt.Errorf("%w: %s: profile %q has a negative rate or volume", ErrInvalidProfile, source, profile.Name)
	}

	if _, exists := s.profiles[profile.Name]; exists {
		return fmt.Errorf("%w: %q (%s)", ErrDuplicateProfile, profile.Name, source)
	}

	if profile.Version == 0 {
		profile.Version = 1
	}

	s.profiles[profile.Name] = profile

	return nil
}

// Get returns the profile called name. The returned Params map is a copy.
func (s *Store) Get(name string) (core.VoiceProfile, error) {
	profile, ok := s.profiles[name]
	if !ok {
		return core.VoiceProfile{}, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}

	if profile.Params != nil {
		params := make(map[string]string, len(profile.Params))
		for key, value := range profile.Params {
			params[key] = value
		}

		profile.Params = params
	}

	return profile, nil
}

// Names returns the profile names in sorted order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
