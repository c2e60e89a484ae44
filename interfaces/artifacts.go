package interfaces

import (
	"context"
	"fmt"
	"net/url"
)

// Published artifact file names under the <app>/<version>/ namespace.
const (
	EnclaveImageFile = "app.eif"
	MeasurementsFile = "measurements.json"
	MetadataFile     = "metadata.json"
	BuildLogFile     = "build.log"
)

// ArtifactKey addresses one published release: the (app name, version)
// idempotency key of the publisher.
type ArtifactKey struct {
	App     AppName
	Version AppVersion
}

// Path returns the storage path of a file under this key's namespace.
func (k ArtifactKey) Path(file string) string {
	return fmt.Sprintf("%s/%s/%s", k.App, k.Version, file)
}

// ReleaseTag returns the external release tag for this key.
func (k ArtifactKey) ReleaseTag() string {
	return fmt.Sprintf("%s-v%s", k.App, k.Version)
}

// Validate checks both components of the key.
func (k ArtifactKey) Validate() error {
	if err := k.App.Validate(); err != nil {
		return err
	}
	return k.Version.Validate()
}

// ArtifactBackendLocation represents a URI for an artifact storage backend.
type ArtifactBackendLocation string

// NewArtifactBackendLocation validates a backend location URI string.
// Supported schemes: file, s3, ipfs.
func NewArtifactBackendLocation(uri string) (ArtifactBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	switch parsed.Scheme {
	case "file", "s3", "ipfs":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	return ArtifactBackendLocation(uri), nil
}

// String returns the original URI string.
func (loc ArtifactBackendLocation) String() string {
	return string(loc)
}

// ArtifactBackend provides keyed artifact storage. Published artifacts are
// never mutated; Store over an existing path is only legal with identical
// bytes, which the publisher enforces before writing.
type ArtifactBackend interface {
	// Fetch retrieves an artifact file. Returns ErrArtifactNotFound if
	// the path has never been written.
	Fetch(ctx context.Context, key ArtifactKey, file string) ([]byte, error)

	// Store writes an artifact file under the key's namespace.
	Store(ctx context.Context, key ArtifactKey, file string, data []byte) error

	// Exists reports whether an artifact file has been written.
	Exists(ctx context.Context, key ArtifactKey, file string) (bool, error)

	// Available checks if the backend is accessible.
	Available(ctx context.Context) bool

	// Name returns an identifier for logging.
	Name() string

	// LocationURI returns the URI identifying this backend.
	LocationURI() string
}

// ArtifactBackendFactory creates artifact backends from location URIs.
type ArtifactBackendFactory interface {
	// BackendFor creates a backend from a location URI.
	BackendFor(loc ArtifactBackendLocation) (ArtifactBackend, error)

	// CreateMultiBackend creates an aggregated backend that mirrors
	// writes to every location and fetches from the first that has the
	// content.
	CreateMultiBackend(locs []ArtifactBackendLocation) (ArtifactBackend, error)
}
