// Package interfaces defines the core types and collaborator contracts for
// the enclave build pipeline. It provides the contract between pipeline
// stages without implementation details.
package interfaces

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/opencontainers/go-digest"
)

var (
	appNameRegex = regexp.MustCompile(`^[a-z0-9-]+$`)

	// Semantic version grammar per semver.org, without a leading 'v'.
	semverRegex = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)(?:-((?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*))*))?(?:\+([0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

	commitHashRegex = regexp.MustCompile(`^[0-9a-f]{40}$`)
)

// RepoURLPrefix is the only accepted source-hosting location prefix.
// Submitted applications must live on the public hosting service.
const RepoURLPrefix = "https://github.com/"

// AppName identifies a submitted application. It must match the directory
// the application's configuration lives in.
type AppName string

// NewAppName creates an application name with grammar validation.
func NewAppName(name string) (AppName, error) {
	if !appNameRegex.MatchString(name) {
		return "", fmt.Errorf("invalid app name %q: must match %s", name, appNameRegex.String())
	}
	return AppName(name), nil
}

// String returns the name as a string.
func (n AppName) String() string {
	return string(n)
}

// Validate checks the name against the identifier grammar.
func (n AppName) Validate() error {
	_, err := NewAppName(string(n))
	return err
}

// AppVersion is a semantic version string.
type AppVersion string

// NewAppVersion creates a version with semver grammar validation.
func NewAppVersion(version string) (AppVersion, error) {
	if !semverRegex.MatchString(version) {
		return "", fmt.Errorf("invalid version %q: must be a semantic version", version)
	}
	return AppVersion(version), nil
}

// String returns the version as a string.
func (v AppVersion) String() string {
	return string(v)
}

// Validate checks the version against the semver grammar.
func (v AppVersion) Validate() error {
	_, err := NewAppVersion(string(v))
	return err
}

// ValidateRepoURL checks that a source repository URL points at the
// supported public hosting service and names an owner and a repository.
func ValidateRepoURL(repo string) error {
	if !strings.HasPrefix(repo, RepoURLPrefix) {
		return fmt.Errorf("repository URL %q must start with %s", repo, RepoURLPrefix)
	}

	path := strings.TrimSuffix(strings.TrimPrefix(repo, RepoURLPrefix), "/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("repository URL %q must have the form %sowner/repo", repo, RepoURLPrefix)
	}
	return nil
}

// ValidateCommitHash checks that a commit pin is a full 40-character
// lowercase hex hash. Abbreviated pins are rejected because they are
// ambiguous across time.
func ValidateCommitHash(commit string) error {
	if !commitHashRegex.MatchString(commit) {
		return fmt.Errorf("invalid commit hash %q: must be 40 lowercase hex characters", commit)
	}
	return nil
}

// ImageRef is a digest-pinned container image reference. Tag-only
// references are rejected on construction so downstream stages can never
// operate on a moving target.
type ImageRef struct {
	// Repository is the registry-qualified repository, e.g.
	// registry.example.com/enclave-apps/demo
	Repository string `json:"repository"`

	// Digest is the immutable content digest of the pushed manifest.
	Digest digest.Digest `json:"digest"`
}

// NewImageRef creates a digest-pinned image reference.
func NewImageRef(repository string, dgst digest.Digest) (ImageRef, error) {
	if repository == "" {
		return ImageRef{}, errors.New("image repository must not be empty")
	}
	if err := dgst.Validate(); err != nil {
		return ImageRef{}, fmt.Errorf("invalid image digest: %w", err)
	}
	return ImageRef{Repository: repository, Digest: dgst}, nil
}

// ParseImageRef parses a repo@digest string, rejecting tag-only references.
func ParseImageRef(ref string) (ImageRef, error) {
	repo, dgst, ok := strings.Cut(ref, "@")
	if !ok {
		return ImageRef{}, fmt.Errorf("image reference %q is not digest-pinned", ref)
	}
	return NewImageRef(repo, digest.Digest(dgst))
}

// String returns the repo@digest form.
func (r ImageRef) String() string {
	return r.Repository + "@" + r.Digest.String()
}

// Validate checks that the reference is digest-pinned.
func (r ImageRef) Validate() error {
	_, err := NewImageRef(r.Repository, r.Digest)
	return err
}

// CommitSource records how a build request's commit was chosen.
type CommitSource string

const (
	// CommitSourcePinned means the configuration pinned the commit.
	CommitSourcePinned CommitSource = "pinned"

	// CommitSourceBranchHead means the branch head was resolved at
	// request-resolution time.
	CommitSourceBranchHead CommitSource = "branch-head"
)

// TimestampSource records how a build request's timestamp was chosen.
type TimestampSource string

const (
	// TimestampSourceConfigured means the configuration set a fixed epoch.
	TimestampSourceConfigured TimestampSource = "configured"

	// TimestampSourceCommitAuthor means the commit's authored time was
	// used, the deterministic default.
	TimestampSourceCommitAuthor TimestampSource = "commit-author"
)

// SourceDateEpochArg is the build argument injected to pin all
// time-dependent embedded metadata to a single deterministic value.
const SourceDateEpochArg = "SOURCE_DATE_EPOCH"

// BuildArg is a named build argument passed to the image build.
type BuildArg struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// BuildRequest is the fully resolved, deterministic expansion of an
// application configuration. Resolution is a pure function of the
// configuration and the commit metadata, so recomputing it from the same
// inputs always yields the same request.
type BuildRequest struct {
	AppName AppName    `json:"app_name"`
	Version AppVersion `json:"version"`
	Repo    string     `json:"repo"`

	// Commit is the exact commit to build, and CommitSource records
	// whether it was pinned or resolved from the branch head.
	Commit       string       `json:"commit"`
	CommitSource CommitSource `json:"commit_source"`

	// SourceDateEpoch is always present; no build proceeds with a
	// wall-clock default.
	SourceDateEpoch int64           `json:"source_date_epoch"`
	TimestampSource TimestampSource `json:"timestamp_source"`

	ContextDir string `json:"context_dir"`
	Dockerfile string `json:"dockerfile"`

	// BuildArgs are the user-declared arguments followed by the injected
	// SOURCE_DATE_EPOCH argument. Names are unique.
	BuildArgs []BuildArg `json:"build_args"`

	// DebugMode is threaded unchanged into the enclave conversion and the
	// published metadata because it perturbs measurement values.
	DebugMode bool `json:"debug_mode"`
}

// Validate checks the invariants every resolved request must hold.
func (r BuildRequest) Validate() error {
	if err := r.AppName.Validate(); err != nil {
		return err
	}
	if err := r.Version.Validate(); err != nil {
		return err
	}
	if err := ValidateCommitHash(r.Commit); err != nil {
		return err
	}
	if r.SourceDateEpoch <= 0 {
		return errors.New("build request must carry a resolved timestamp")
	}

	seen := make(map[string]struct{}, len(r.BuildArgs))
	for _, arg := range r.BuildArgs {
		if _, dup := seen[arg.Name]; dup {
			return fmt.Errorf("duplicate build argument %q", arg.Name)
		}
		seen[arg.Name] = struct{}{}
	}
	if _, ok := seen[SourceDateEpochArg]; !ok {
		return fmt.Errorf("build request is missing the injected %s argument", SourceDateEpochArg)
	}
	return nil
}

// StageOneResult is the durable hand-off between the image build
// environment and the enclave conversion environment. It is the only
// channel between the two stages.
type StageOneResult struct {
	// Image is the digest-pinned reference of the pushed image.
	Image ImageRef `json:"image"`

	// Request is the build request the image was built from, retained
	// for audit.
	Request BuildRequest `json:"request"`

	// BuildLog is the raw image build and push output.
	BuildLog []byte `json:"build_log,omitempty"`
}

// Validate checks the hand-off invariants, in particular that the image
// reference is digest-pinned.
func (r StageOneResult) Validate() error {
	if err := r.Image.Validate(); err != nil {
		return fmt.Errorf("stage one result: %w", err)
	}
	return r.Request.Validate()
}

// EnclaveParams are the enclave conversion parameters.
type EnclaveParams struct {
	// DebugMode builds a debuggable enclave image. It is flagged in the
	// published metadata because it changes measurement values.
	DebugMode bool `json:"debug_mode"`
}
