package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/narrator/internal/core"
	"github.com/book-expert/narrator/internal/fsutil"
)

// ArtifactSink persists an encoded document and returns where it went.
type ArtifactSink interface {
	Write(ctx context.Context, name string, data []byte) (string, error)
}

// FileSink writes artifacts to the filesystem. Relative names resolve under Dir.
type FileSink struct {
	Dir string
}

const artifactFileMode = 0o644

func (f FileSink) Write(_ context.Context, name string, data []byte) (string, error) {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(f.Dir, name)
	}

	err := fsutil.EnsureDir(filepath.Dir(path))
	if err != nil {
		return "", err
	}

	err = os.WriteFile(path, data, artifactFileMode)
	if err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", path, err)
	}

	return path, nil
}

// StoreSink uploads artifacts to an object store under name.
type StoreSink struct {
	Store core.ObjectStore
}

func (s StoreSink) Write(ctx context.Context, name string, data []byte) (string, error) {
	err := s.Store.Upload(ctx, name, data)
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact %s: %w", name, err)
	}

	return name, nil
}
