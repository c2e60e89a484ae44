package httpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/enclave-build-pipeline/appconfig"
	"github.com/ruteri/enclave-build-pipeline/interfaces"
	"github.com/ruteri/enclave-build-pipeline/metrics"
	"github.com/ruteri/enclave-build-pipeline/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// blockingResolver implements interfaces.SourceResolver. Branch resolution
// blocks until release is closed, keeping a triggered run active.
type blockingResolver struct {
	release chan struct{}
}

func (r *blockingResolver) ResolveBranch(ctx context.Context, repo, branch string) (string, error) {
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	return "", errors.New("branch lookup failed")
}

func (r *blockingResolver) CommitAuthorTime(ctx context.Context, repo, commit string) (time.Time, error) {
	return time.Time{}, errors.New("not used")
}

func (r *blockingResolver) Reachable(ctx context.Context, repo string) error {
	return nil
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
	return m.Called(ctx, key, file, data).Error(0)
}

func (m *MockArtifactBackend) Exists(ctx context.Context, key interfaces.ArtifactKey, file string) (bool, error) {
	args := m.Called(ctx, key, file)
	return args.Bool(0), args.Error(1)
}

func (m *MockArtifactBackend) Available(ctx context.Context) bool { return true }
func (m *MockArtifactBackend) Name() string                       { return "mock" }
func (m *MockArtifactBackend) LocationURI() string                { return "mock:" }

const triggerConfigYAML = `name: demo
version: 1.2.3
repo: https://github.com/example/demo
branch: main
`

func newTestHandler(t *testing.T, resolver interfaces.SourceResolver, store interfaces.ArtifactBackend) *Handler {
	t.Helper()
	log := testLogger()

	runner := pipeline.NewRunner(
		appconfig.NewValidator(resolver, log),
		pipeline.NewResolver(resolver, log),
		pipeline.NewStageOne(pipeline.StageOneConfig{Repository: "r", WorkDir: t.TempDir()}, nil, nil, log),
		pipeline.NewStageTwo(nil, nil, log),
		pipeline.NewPublisher(store, nil, log),
		time.Minute,
		log,
	)

	m, err := metrics.New("test", "127.0.0.1:0")
	require.NoError(t, err)

	return NewHandler(runner, store, m, log)
}

func testRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/builds/{app}", h.HandleTrigger)
	r.Get("/api/builds/{app}/{version}", h.HandleRunStatus)
	r.Get("/api/releases/{app}/{version}/measurements", h.HandleMeasurements)
	return r
}

func TestTriggerAdmission(t *testing.T) {
	resolver := &blockingResolver{release: make(chan struct{})}
	handler := newTestHandler(t, resolver, &MockArtifactBackend{})
	router := testRouter(handler)

	// First trigger is admitted and starts a run.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/builds/demo", strings.NewReader(triggerConfigYAML)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	// A second trigger for the same (app, version) key while the first is
	// still running is rejected.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/builds/demo", strings.NewReader(triggerConfigYAML)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// A different version of the same app runs in parallel.
	otherVersion := strings.Replace(triggerConfigYAML, "1.2.3", "1.2.4", 1)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/builds/demo", strings.NewReader(otherVersion)))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	close(resolver.release)

	// Once the run finishes, its terminal state is queryable and a new
	// trigger for the key is admitted again.
	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/builds/demo/1.2.3", nil))
		return strings.Contains(rec.Body.String(), string(RunStatusFailed))
	}, 5*time.Second, 10*time.Millisecond)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/builds/demo", strings.NewReader(triggerConfigYAML)))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

// Status polls must not read run state concurrently with the run
// finishing; exercised under the race detector.
func TestRunStatusPollWhileRunFinishes(t *testing.T) {
	resolver := &blockingResolver{release: make(chan struct{})}
	handler := newTestHandler(t, resolver, &MockArtifactBackend{})
	router := testRouter(handler)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/builds/demo", strings.NewReader(triggerConfigYAML)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	stop := make(chan struct{})
	polled := make(chan struct{})
	go func() {
		defer close(polled)
		for {
			select {
			case <-stop:
				return
			default:
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/builds/demo/1.2.3", nil))
		}
	}()

	close(resolver.release)

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/builds/demo/1.2.3", nil))
		return strings.Contains(rec.Body.String(), string(RunStatusFailed))
	}, 5*time.Second, time.Millisecond)

	close(stop)
	<-polled
}

func TestExpiredRunStatesEvicted(t *testing.T) {
	resolver := &blockingResolver{release: make(chan struct{})}
	close(resolver.release)

	handler := newTestHandler(t, resolver, &MockArtifactBackend{})
	router := testRouter(handler)
	handler.retention = time.Minute

	stale := time.Now().UTC().Add(-2 * time.Minute)
	fresh := time.Now().UTC()
	handler.mu.Lock()
	handler.runs["old-app/1.0.0"] = &RunState{Status: RunStatusFailed, Finished: &stale}
	handler.runs["new-app/1.0.0"] = &RunState{Status: RunStatusFailed, Finished: &fresh}
	handler.mu.Unlock()

	// Admitting a run prunes terminal states past the retention window.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/builds/demo", strings.NewReader(triggerConfigYAML)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/builds/old-app/1.0.0", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/builds/new-app/1.0.0", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerRejectsBadSubmissions(t *testing.T) {
	handler := newTestHandler(t, &blockingResolver{release: make(chan struct{})}, &MockArtifactBackend{})
	router := testRouter(handler)

	// Not a YAML mapping at all.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/builds/demo", strings.NewReader("- a\n- list\n")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// No version declared, so there is no admission key.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/builds/demo", strings.NewReader("name: demo\n")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunStatusUnknownRun(t *testing.T) {
	handler := newTestHandler(t, &blockingResolver{release: make(chan struct{})}, &MockArtifactBackend{})
	router := testRouter(handler)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/builds/demo/9.9.9", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFailedRunReportsCategory(t *testing.T) {
	resolver := &blockingResolver{release: make(chan struct{})}
	close(resolver.release)

	handler := newTestHandler(t, resolver, &MockArtifactBackend{})
	router := testRouter(handler)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/builds/demo", strings.NewReader(triggerConfigYAML)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/builds/demo/1.2.3", nil))
		return strings.Contains(rec.Body.String(), "resolution")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHandleMeasurements(t *testing.T) {
	doc := []byte(`{"PCR0": "ab", "PCR1": "cd", "PCR2": "ef"}`)
	key := interfaces.ArtifactKey{App: "demo", Version: "1.2.3"}

	store := &MockArtifactBackend{}
	store.On("Fetch", mock.Anything, key, interfaces.MeasurementsFile).Return(doc, nil)

	handler := newTestHandler(t, &blockingResolver{release: make(chan struct{})}, store)
	router := testRouter(handler)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/releases/demo/1.2.3/measurements", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, doc, rec.Body.Bytes())
}

func TestHandleMeasurementsNotFound(t *testing.T) {
	store := &MockArtifactBackend{}
	store.On("Fetch", mock.Anything, mock.Anything, mock.Anything).Return(nil, interfaces.ErrArtifactNotFound)

	handler := newTestHandler(t, &blockingResolver{release: make(chan struct{})}, store)
	router := testRouter(handler)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/releases/demo/1.2.3/measurements", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleMeasurementsRejectsBadNames(t *testing.T) {
	handler := newTestHandler(t, &blockingResolver{release: make(chan struct{})}, &MockArtifactBackend{})
	router := testRouter(handler)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/releases/Demo/1.2.3/measurements", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/releases/demo/not-semver/measurements", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
