package interfaces

import (
	"context"
	"time"
)

// SourceResolver looks up commit metadata on the source hosting service.
// It is the only external input to build request resolution.
type SourceResolver interface {
	// ResolveBranch returns the current head commit of a branch.
	ResolveBranch(ctx context.Context, repo, branch string) (string, error)

	// CommitAuthorTime returns the authored timestamp of a commit.
	CommitAuthorTime(ctx context.Context, repo, commit string) (time.Time, error)

	// Reachable probes the repository URL. Only a direct 200 response
	// passes; redirects and any other status are rejected.
	Reachable(ctx context.Context, repo string) error
}

// SourceCheckout materializes an exact commit into a working directory.
type SourceCheckout interface {
	// Checkout clones the repository and checks out the given commit,
	// never the branch head at execution time.
	Checkout(ctx context.Context, repo, commit, dest string) error
}

// ImageBuilder drives the container image build engine.
type ImageBuilder interface {
	// Build constructs a local image from the context directory and
	// build file with the given ordered arguments. The returned bytes are
	// the raw build output, retained for the published build log.
	Build(ctx context.Context, contextDir, buildFile string, args []BuildArg, localTag string) ([]byte, error)

	// Push publishes the local image and resolves its immutable digest.
	Push(ctx context.Context, localTag, repository string) (ImageRef, []byte, error)
}

// ImagePuller fetches a pushed image by digest into the local engine.
type ImagePuller interface {
	// Pull fetches exactly the digest-pinned image. The returned bytes
	// are the raw pull output.
	Pull(ctx context.Context, ref ImageRef) ([]byte, error)
}

// EnclaveConverter converts a container image into an attestable enclave
// image and reports its measurement registers.
type EnclaveConverter interface {
	// Convert produces the enclave image bytes and measurement set for a
	// digest-pinned image. On failure the conversion tool's diagnostic
	// output is attached verbatim to the returned error. The returned log
	// bytes are the raw conversion output.
	Convert(ctx context.Context, ref ImageRef, params EnclaveParams) ([]byte, MeasurementSet, []byte, error)
}

// ReleaseFile is one file attached to an external release record.
type ReleaseFile struct {
	Name string
	Data []byte
}

// ReleaseHost creates externally visible release records.
type ReleaseHost interface {
	// CreateRelease publishes a release under the given tag with the
	// given files attached. Creating a tag that already exists is an
	// error.
	CreateRelease(ctx context.Context, tag string, files []ReleaseFile) error

	// ReleaseExists reports whether a release tag is already published.
	ReleaseExists(ctx context.Context, tag string) (bool, error)
}

// RegistryCredentials authenticate image pushes and pulls.
type RegistryCredentials struct {
	Username string
	Password string
}

// CredentialSource provides registry credentials to the stage
// coordinators. Implementations fetch from a secret store; a static
// source exists for development and tests.
type CredentialSource interface {
	RegistryCredentials(ctx context.Context) (RegistryCredentials, error)
}
