package artifacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/enclave-build-pipeline/interfaces"
)

// MultiBackend aggregates several artifact backends. Writes are mirrored
// to every available backend; fetches return from the first backend that
// has the content. The first configured backend is the canonical one: its
// view decides existence checks during publication.
type MultiBackend struct {
	backends []interfaces.ArtifactBackend
	log      *slog.Logger
}

// NewMultiBackend creates an aggregated artifact backend.
func NewMultiBackend(backends []interfaces.ArtifactBackend, log *slog.Logger) *MultiBackend {
	if log == nil {
		log = slog.Default()
	}
	return &MultiBackend{backends: backends, log: log}
}

// Fetch returns the artifact from the first backend that has it.
func (m *MultiBackend) Fetch(ctx context.Context, key interfaces.ArtifactKey, file string) ([]byte, error) {
	start := time.Now()
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable",
				slog.String("backend_name", backend.Name()),
				slog.String("path", key.Path(file)))
			continue
		}

		data, err := backend.Fetch(ctx, key, file)
		if err == nil {
			m.log.Debug("Fetched artifact",
				slog.String("backend_name", backend.Name()),
				slog.String("path", key.Path(file)),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
	}

	if len(errs) == 0 {
		return nil, interfaces.ErrBackendUnavailable
	}
	if allNotFound(errs) {
		return nil, interfaces.ErrArtifactNotFound
	}

	m.log.Error("All backends failed to fetch artifact",
		slog.String("path", key.Path(file)),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return nil, fmt.Errorf("all backends failed to fetch %s: %v", key.Path(file), errs)
}

// Store mirrors the artifact to every available backend. The write fails
// if the canonical (first) backend fails; mirror failures are logged and
// tolerated.
func (m *MultiBackend) Store(ctx context.Context, key interfaces.ArtifactKey, file string, data []byte) error {
	if len(m.backends) == 0 {
		return interfaces.ErrBackendUnavailable
	}

	for i, backend := range m.backends {
		canonical := i == 0

		if !backend.Available(ctx) {
			if canonical {
				return fmt.Errorf("%w: canonical backend %s", interfaces.ErrBackendUnavailable, backend.Name())
			}
			m.log.Warn("Mirror backend unavailable, skipping",
				slog.String("backend_name", backend.Name()),
				slog.String("path", key.Path(file)))
			continue
		}

		if err := backend.Store(ctx, key, file, data); err != nil {
			if canonical {
				return fmt.Errorf("canonical backend %s failed to store %s: %w", backend.Name(), key.Path(file), err)
			}
			m.log.Warn("Mirror backend failed to store artifact",
				slog.String("backend_name", backend.Name()),
				slog.String("path", key.Path(file)),
				"err", err)
		}
	}

	return nil
}

// Exists consults the canonical backend.
func (m *MultiBackend) Exists(ctx context.Context, key interfaces.ArtifactKey, file string) (bool, error) {
	if len(m.backends) == 0 {
		return false, interfaces.ErrBackendUnavailable
	}
	return m.backends[0].Exists(ctx, key, file)
}

// Available reports whether any backend is accessible.
func (m *MultiBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns a unique identifier for this backend.
func (m *MultiBackend) Name() string {
	return fmt.Sprintf("multi-%d", len(m.backends))
}

// LocationURI returns a synthetic URI listing the aggregated backends.
func (m *MultiBackend) LocationURI() string {
	uri := "multi:"
	for i, backend := range m.backends {
		if i > 0 {
			uri += ","
		}
		uri += backend.LocationURI()
	}
	return uri
}

func allNotFound(errs []error) bool {
	for _, err := range errs {
		if !errors.Is(err, interfaces.ErrArtifactNotFound) {
			return false
		}
	}
	return len(errs) > 0
}
