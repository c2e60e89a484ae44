// Package artifacts provides keyed artifact storage with pluggable
// backends. Published release artifacts are addressed by
// <appName>/<version>/<file> and are written at most once; the publisher
// verifies identical content before any repeated write.
package artifacts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/enclave-build-pipeline/interfaces"
)

// FileBackend implements an artifact backend using the local file system.
// Artifacts live in a directory tree mirroring the published layout.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a file artifact backend rooted at baseDir,
// creating the directory if it does not exist.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Fetch retrieves an artifact file. Returns ErrArtifactNotFound if the
// path has never been written.
func (b *FileBackend) Fetch(ctx context.Context, key interfaces.ArtifactKey, file string) ([]byte, error) {
	path := filepath.Join(b.baseDir, filepath.FromSlash(key.Path(file)))

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, interfaces.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact file: %w", err)
	}

	b.log.Debug("Fetched artifact from file",
		slog.String("path", path),
		slog.Int("size", len(data)))

	return data, nil
}

// Store writes an artifact file under the key's namespace. The write goes
// through a temporary file and rename so a crashed write never leaves a
// partially visible artifact.
func (b *FileBackend) Store(ctx context.Context, key interfaces.ArtifactKey, file string, data []byte) error {
	path := filepath.Join(b.baseDir, filepath.FromSlash(key.Path(file)))

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+file+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write artifact file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close artifact file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to finalize artifact file: %w", err)
	}

	b.log.Debug("Stored artifact in file",
		slog.String("path", path),
		slog.Int("size", len(data)))

	return nil
}

// Exists reports whether an artifact file has been written.
func (b *FileBackend) Exists(ctx context.Context, key interfaces.ArtifactKey, file string) (bool, error) {
	path := filepath.Join(b.baseDir, filepath.FromSlash(key.Path(file)))
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

// Available checks if the backend's base directory is accessible.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI identifying this backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}
