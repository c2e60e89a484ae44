package interfaces

import "errors"

var (
	// ErrConfiguration is returned for schema or semantic violations in a
	// submitted configuration. The run never proceeds to build.
	ErrConfiguration = errors.New("configuration invalid")

	// ErrResolution is returned for ambiguous or conflicting build-request
	// derivation, such as duplicate build argument names.
	ErrResolution = errors.New("build request resolution failed")

	// ErrStageExecution is returned when an image build, push, pull, or
	// enclave conversion fails. The raw diagnostic output of the failing
	// tool is preserved alongside.
	ErrStageExecution = errors.New("stage execution failed")

	// ErrDeterminismViolation is returned when measurements for the same
	// image digest and enclave parameters differ between runs. This is a
	// critical incident requiring human investigation, never a retryable
	// transient.
	ErrDeterminismViolation = errors.New("measurement determinism violation")

	// ErrPublishConflict is returned when a version is republished with
	// different content. A content change requires a new version number.
	ErrPublishConflict = errors.New("publish conflict: version already released with different content")
)

var (
	// ErrArtifactNotFound is returned when a requested artifact does not
	// exist in the storage backend.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrBackendUnavailable is returned when a storage backend is not
	// accessible.
	ErrBackendUnavailable = errors.New("artifact backend unavailable")

	// ErrInvalidLocationURI is returned when a backend location URI is
	// malformed or names an unsupported scheme.
	ErrInvalidLocationURI = errors.New("invalid artifact backend location URI")
)
