package pipeline

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/ruteri/enclave-build-pipeline/interfaces"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testCommit = "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d"

var testDigest = digest.Digest("sha256:4355a46b19d348dc2f57c046f8ef63d4538ebb936000f3c9ee954a27460dd865")

func testMeasurements(t *testing.T) interfaces.MeasurementSet {
	t.Helper()
	ms, err := interfaces.NewMeasurementSet(map[string]string{
		interfaces.RegisterImage:       strings.Repeat("ab", 48),
		interfaces.RegisterKernel:      strings.Repeat("cd", 48),
		interfaces.RegisterApplication: strings.Repeat("ef", 48),
	})
	require.NoError(t, err)
	return ms
}

// MockSourceResolver implements interfaces.SourceResolver for testing
type MockSourceResolver struct {
	mock.Mock
}

func (m *MockSourceResolver) ResolveBranch(ctx context.Context, repo, branch string) (string, error) {
	args := m.Called(ctx, repo, branch)
	return args.String(0), args.Error(1)
}

func (m *MockSourceResolver) CommitAuthorTime(ctx context.Context, repo, commit string) (time.Time, error) {
	args := m.Called(ctx, repo, commit)
	return args.Get(0).(time.Time), args.Error(1)
}

func (m *MockSourceResolver) Reachable(ctx context.Context, repo string) error {
	args := m.Called(ctx, repo)
	return args.Error(0)
}

// MockSourceCheckout implements interfaces.SourceCheckout for testing
type MockSourceCheckout struct {
	mock.Mock
}

func (m *MockSourceCheckout) Checkout(ctx context.Context, repo, commit, dest string) error {
	args := m.Called(ctx, repo, commit, dest)
	return args.Error(0)
}

// MockImageBuilder implements interfaces.ImageBuilder for testing
type MockImageBuilder struct {
	mock.Mock
}

func (m *MockImageBuilder) Build(ctx context.Context, contextDir, buildFile string, args []interfaces.BuildArg, localTag string) ([]byte, error) {
	called := m.Called(ctx, contextDir, buildFile, args, localTag)
	if called.Get(0) == nil {
		return nil, called.Error(1)
	}
	return called.Get(0).([]byte), called.Error(1)
}

func (m *MockImageBuilder) Push(ctx context.Context, localTag, repository string) (interfaces.ImageRef, []byte, error) {
	called := m.Called(ctx, localTag, repository)
	var log []byte
	if called.Get(1) != nil {
		log = called.Get(1).([]byte)
	}
	return called.Get(0).(interfaces.ImageRef), log, called.Error(2)
}

// MockImagePuller implements interfaces.ImagePuller for testing
type MockImagePuller struct {
	mock.Mock
}

func (m *MockImagePuller) Pull(ctx context.Context, ref interfaces.ImageRef) ([]byte, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// MockEnclaveConverter implements interfaces.EnclaveConverter for testing
type MockEnclaveConverter struct {
	mock.Mock
}

func (m *MockEnclaveConverter) Convert(ctx context.Context, ref interfaces.ImageRef, params interfaces.EnclaveParams) ([]byte, interfaces.MeasurementSet, []byte, error) {
	args := m.Called(ctx, ref, params)
	var eif, log []byte
	if args.Get(0) != nil {
		eif = args.Get(0).([]byte)
	}
	if args.Get(2) != nil {
		log = args.Get(2).([]byte)
	}
	return eif, args.Get(1).(interfaces.MeasurementSet), log, args.Error(3)
}

// MockArtifactBackend implements interfaces.ArtifactBackend for testing
type MockArtifactBackend struct {
	mock.Mock
}

func (m *MockArtifactBackend) Fetch(ctx context.Context, key interfaces.ArtifactKey, file string) ([]byte, error) {
	args := m.Called(ctx, key, file)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockArtifactBackend) Store(ctx context.Context, key interfaces.ArtifactKey, file string, data []byte) error {
	args := m.Called(ctx, key, file, data)
	return args.Error(0)
}

func (m *MockArtifactBackend) Exists(ctx context.Context, key interfaces.ArtifactKey, file string) (bool, error) {
	args := m.Called(ctx, key, file)
	return args.Bool(0), args.Error(1)
}

func (m *MockArtifactBackend) Available(ctx context.Context) bool {
	return true
}

func (m *MockArtifactBackend) Name() string {
	return "mock"
}

func (m *MockArtifactBackend) LocationURI() string {
	return "mock:"
}

// MockReleaseHost implements interfaces.ReleaseHost for testing
type MockReleaseHost struct {
	mock.Mock
}

func (m *MockReleaseHost) CreateRelease(ctx context.Context, tag string, files []interfaces.ReleaseFile) error {
	args := m.Called(ctx, tag, files)
	return args.Error(0)
}

func (m *MockReleaseHost) ReleaseExists(ctx context.Context, tag string) (bool, error) {
	args := m.Called(ctx, tag)
	return args.Bool(0), args.Error(1)
}
