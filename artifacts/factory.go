package artifacts

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ruteri/enclave-build-pipeline/interfaces"
)

// Factory creates artifact backends from location URIs and assembles
// multi-backend mirrors.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a backend factory.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// BackendFor creates an artifact backend from a location URI.
// The URI format is [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - file:// - Local filesystem storage
//   - s3://   - Amazon S3 or compatible object storage
//   - ipfs:// - IPFS content-addressed mirror
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (f *Factory) BackendFor(loc interfaces.ArtifactBackendLocation) (interfaces.ArtifactBackend, error) {
	u, err := url.Parse(string(loc))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return f.createFileBackend(u)
	case "s3":
		return f.createS3Backend(u)
	case "ipfs":
		return f.createIPFSBackend(u)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme %q", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}

// CreateMultiBackend creates a mirror over every valid location URI. The
// first URI is the canonical backend. URIs that fail to produce a backend
// are logged and skipped; at least one must succeed.
func (f *Factory) CreateMultiBackend(locs []interfaces.ArtifactBackendLocation) (interfaces.ArtifactBackend, error) {
	backends := make([]interfaces.ArtifactBackend, 0, len(locs))

	for _, loc := range locs {
		backend, err := f.BackendFor(loc)
		if err != nil {
			f.log.Warn("Failed to create artifact backend",
				"err", err,
				slog.String("locationURI", string(loc)))
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid artifact backends created")
	}

	return NewMultiBackend(backends, f.log), nil
}

// createFileBackend creates a local filesystem backend.
// URI format: file:///var/lib/enclave-releases
func (f *Factory) createFileBackend(u *url.URL) (interfaces.ArtifactBackend, error) {
	path := u.Path
	if u.Host != "" {
		path = u.Host + path
	}
	if path == "" {
		return nil, fmt.Errorf("%w: file URI has no path", interfaces.ErrInvalidLocationURI)
	}
	return NewFileBackend(path, f.log)
}

// createS3Backend creates an S3 backend.
// URI format: s3://[accessKey:secretKey@]bucket/prefix?region=us-east-1[&endpoint=...]
func (f *Factory) createS3Backend(u *url.URL) (interfaces.ArtifactBackend, error) {
	bucket := u.Host
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 URI has no bucket", interfaces.ErrInvalidLocationURI)
	}

	prefix := strings.TrimPrefix(u.Path, "/")
	region := u.Query().Get("region")
	if region == "" {
		region = "us-east-1"
	}
	endpoint := u.Query().Get("endpoint")

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}

	return NewS3Backend(bucket, prefix, region, endpoint, accessKey, secretKey, f.log)
}

// createIPFSBackend creates an IPFS mirror backend.
// URI format: ipfs://host:port
func (f *Factory) createIPFSBackend(u *url.URL) (interfaces.ArtifactBackend, error) {
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: ipfs URI has no host", interfaces.ErrInvalidLocationURI)
	}

	port := u.Port()
	if port == "" {
		port = "5001"
	}

	return NewIPFSBackend(host, port, f.log), nil
}
