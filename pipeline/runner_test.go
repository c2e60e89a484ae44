package pipeline

import (
	"context"
	"testing"

	"github.com/ruteri/enclave-build-pipeline/appconfig"
	"github.com/ruteri/enclave-build-pipeline/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const runnerConfigYAML = `name: demo
version: 1.2.3
repo: https://github.com/example/demo
branch: main
commit: aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d
reproducible:
  enabled: true
  source_date_epoch: 1700000000
`

type runnerFixture struct {
	runner    *Runner
	checkout  *MockSourceCheckout
	builder   *MockImageBuilder
	puller    *MockImagePuller
	converter *MockEnclaveConverter
	store     *MockArtifactBackend
	releases  *MockReleaseHost
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	log := testLogger()

	f := &runnerFixture{
		checkout:  &MockSourceCheckout{},
		builder:   &MockImageBuilder{},
		puller:    &MockImagePuller{},
		converter: &MockEnclaveConverter{},
		store:     &MockArtifactBackend{},
		releases:  &MockReleaseHost{},
	}
	f.runner = NewRunner(
		appconfig.NewValidator(nil, log, appconfig.SkipReachability()),
		NewResolver(&MockSourceResolver{}, log),
		NewStageOne(StageOneConfig{Repository: "registry.example.com/apps", WorkDir: t.TempDir()}, f.checkout, f.builder, log),
		NewStageTwo(f.puller, f.converter, log),
		NewPublisher(f.store, f.releases, log),
		0,
		log,
	)
	return f
}

func TestRunnerEndToEnd(t *testing.T) {
	f := newRunnerFixture(t)
	measurements := testMeasurements(t)
	ref := interfaces.ImageRef{Repository: "registry.example.com/apps", Digest: testDigest}

	f.checkout.On("Checkout", mock.Anything, "https://github.com/example/demo", testCommit, mock.Anything).Return(nil)
	f.builder.On("Build", mock.Anything, mock.Anything, "Dockerfile", mock.Anything, mock.Anything).Return([]byte("build\n"), nil)
	f.builder.On("Push", mock.Anything, mock.Anything, "registry.example.com/apps").Return(ref, []byte("push\n"), nil)
	f.puller.On("Pull", mock.Anything, ref).Return([]byte("pull\n"), nil)
	f.converter.On("Convert", mock.Anything, ref, interfaces.EnclaveParams{}).
		Return([]byte("eif"), measurements, []byte("conv\n"), nil)
	f.store.On("Exists", mock.Anything, mock.Anything, interfaces.EnclaveImageFile).Return(false, nil)
	f.store.On("Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.releases.On("ReleaseExists", mock.Anything, "demo-v1.2.3").Return(false, nil)
	f.releases.On("CreateRelease", mock.Anything, "demo-v1.2.3", mock.Anything).Return(nil)

	report, err := f.runner.Run(context.Background(), []byte(runnerConfigYAML), "demo")
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, ref, report.Image)
	assert.Equal(t, measurements, report.Measurements)
	assert.Equal(t, "demo-v1.2.3", report.Publish.Tag)
	assert.Equal(t, interfaces.CommitSourcePinned, report.Request.CommitSource)

	f.builder.AssertExpectations(t)
	f.converter.AssertExpectations(t)
	f.releases.AssertExpectations(t)
}

func TestRunnerReportsValidationFailure(t *testing.T) {
	f := newRunnerFixture(t)

	_, err := f.runner.Run(context.Background(), []byte("name: demo\n"), "demo")
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrConfiguration)
	f.builder.AssertNotCalled(t, "Build", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunnerStopsAtCancelledCheckpoint(t *testing.T) {
	f := newRunnerFixture(t)
	ref := interfaces.ImageRef{Repository: "registry.example.com/apps", Digest: testDigest}

	ctx, cancel := context.WithCancel(context.Background())

	f.checkout.On("Checkout", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.builder.On("Build", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]byte{}, nil)
	f.builder.On("Push", mock.Anything, mock.Anything, mock.Anything).
		Return(ref, []byte{}, nil).
		Run(func(mock.Arguments) { cancel() })

	_, err := f.runner.Run(ctx, []byte(runnerConfigYAML), "demo")
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrStageExecution)
	f.puller.AssertNotCalled(t, "Pull", mock.Anything, mock.Anything)
}
