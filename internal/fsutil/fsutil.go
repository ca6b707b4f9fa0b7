// Package fsutil provides file and path helpers shared by the narrator binaries.
//
// It resolves the cache and model locations, names output artifacts and formats
// sizes and durations for display.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Environment variable names used for path resolution.
const (
	envCacheDir     = "NARRATOR_CACHE_DIR"
	envXDGCacheHome = "XDG_CACHE_HOME"
)

// Common application directory and path constants.
const (
	appName                = "narrator"
	modelsDirName          = "models"
	dotCache               = ".cache"
	defaultDirPermissions  = 0o750
	invalidCharReplacement = "_"
)

// Data size constants.
const (
	kilobyte = 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

// Formatting constants.
const (
	formatSeconds = "%.1fs"
	formatMinutes = "%dm %.1fs"
	formatHours   = "%dh %dm"
	formatGB      = "%.1f GB"
	formatMB      = "%.1f MB"
	formatKB      = "%.1f KB"
	formatBytes   = "%d B"
)

// ErrModelNotFound is returned when a model file cannot be located.
var ErrModelNotFound = errors.New("model not found")

// CacheDir returns the default cache directory, honoring NARRATOR_CACHE_DIR and
// XDG_CACHE_HOME before falling back to ~/.cache/narrator.
func CacheDir() string {
	if cacheDir := os.Getenv(envCacheDir); cacheDir != "" {
		return cacheDir
	}

	if xdgCache := os.Getenv(envXDGCacheHome); xdgCache != "" {
		return filepath.Join(xdgCache, appName)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appName, "cache")
	}

	return filepath.Join(homeDir, dotCache, appName)
}

// EnsureDir ensures a directory exists at the given path, creating it if it doesn't.
func EnsureDir(path string) error {
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		mkdirErr := os.MkdirAll(path, defaultDirPermissions)
		if mkdirErr != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, mkdirErr)
		}
	}

	return nil
}

// resolveSinglePath reports whether path exists and returns its absolute form.
// Errors other than "not found" stop the search.
func resolveSinglePath(path string) (resolvedPath string, found bool, err error) {
	_, statErr := os.Stat(path)
	if statErr == nil {
		absPath, absErr := filepath.Abs(path)
		if absErr != nil {
			return "", false, fmt.Errorf("could not resolve absolute path for %q: %w", path, absErr)
		}

		return absPath, true, nil
	} else if !os.IsNotExist(statErr) {
		return "", false, fmt.Errorf("error checking model path %q: %w", path, statErr)
	}

	return "", false, nil
}

// ResolveModelPath finds a model file as given, under ./models, or under the cache dir.
func ResolveModelPath(modelName string) (string, error) {
	candidatePaths := []string{
		modelName,
		filepath.Join(modelsDirName, modelName),
		filepath.Join(CacheDir(), modelsDirName, modelName),
	}

	for _, path := range candidatePaths {
		resolvedPath, found, err := resolveSinglePath(path)
		if err != nil {
			return "", err
		} else if found {
			return resolvedPath, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrModelNotFound, modelName)
}

// OutputPath names the artifact for an input document inside outputDir.
func OutputPath(inputPath, outputDir, format string) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	return filepath.Join(outputDir, SanitizeFilename(stem)+"."+format)
}

// FormatDuration formats a duration for humans (e.g. "1h 15m", "5m 30.5s", "45.2s").
func FormatDuration(duration time.Duration) string {
	seconds := duration.Seconds()
	if seconds < 60 {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < 3600 {
		minutes := int(seconds / 60)

		return fmt.Sprintf(formatMinutes, minutes, seconds-float64(minutes*60))
	}

	hours := int(seconds / 3600)
	remainingMinutes := int((seconds - float64(hours*3600)) / 60)

	return fmt.Sprintf(formatHours, hours, remainingMinutes)
}

// FormatFileSize formats a byte count for humans (e.g. "1.2 GB", "500.5 MB").
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf(formatGB, float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
}

// SanitizeFilename replaces characters that are invalid in most filesystems.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"\\", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
		" ", invalidCharReplacement,
	)

	return replacer.Replace(filename)
}
