// Package httpserver exposes the pipeline trigger and status API. The
// admission policy lives here, outside the orchestration core: at most one
// active run per (app, version) key, with unbounded parallelism across
// keys.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/enclave-build-pipeline/appconfig"
	"github.com/ruteri/enclave-build-pipeline/interfaces"
	"github.com/ruteri/enclave-build-pipeline/metrics"
	"github.com/ruteri/enclave-build-pipeline/pipeline"
)

// maxBodySize is the maximum allowed request body size (1MB). Submitted
// configurations are small YAML documents.
const maxBodySize = 1024 * 1024

// runRetention is how long a finished run stays queryable through the
// status API. Older terminal entries are evicted when new runs are
// admitted, keeping the run map bounded in a long-running server.
const runRetention = 24 * time.Hour

// RunStatus is the lifecycle state of a triggered run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// RunState is the externally visible state of one pipeline run.
type RunState struct {
	Status   RunStatus            `json:"status"`
	Started  time.Time            `json:"started"`
	Finished *time.Time           `json:"finished,omitempty"`
	Report   *pipeline.RunReport  `json:"report,omitempty"`
	Error    string               `json:"error,omitempty"`
	Category string               `json:"error_category,omitempty"`
}

// Handler processes trigger and status requests.
type Handler struct {
	runner  *pipeline.Runner
	store   interfaces.ArtifactBackend
	metrics *metrics.MetricsServer
	log     *slog.Logger

	mu        sync.Mutex
	runs      map[string]*RunState // keyed by app/version; terminal entries evicted after retention
	retention time.Duration
}

// NewHandler creates the API handler.
func NewHandler(runner *pipeline.Runner, store interfaces.ArtifactBackend, m *metrics.MetricsServer, log *slog.Logger) *Handler {
	return &Handler{
		runner:    runner,
		store:     store,
		metrics:   m,
		log:       log,
		runs:      make(map[string]*RunState),
		retention: runRetention,
	}
}

// HandleTrigger accepts a configuration submission and starts a pipeline
// run for it. The app directory name comes from the URL; the body is the
// raw configuration document. A run already active for the same (app,
// version) key is rejected with 409.
//
// URL format: POST /api/builds/{app}
func (h *Handler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	appDir := chi.URLParam(r, "app")

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("failed to read body: %w", err))
		return
	}

	// Peek at the declared version for the admission key. Full
	// validation happens inside the run.
	cfg, _, err := appconfig.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if cfg.Version == "" {
		writeError(w, http.StatusBadRequest, errors.New("configuration declares no version"))
		return
	}

	key := appDir + "/" + cfg.Version
	state := &RunState{Status: RunStatusRunning, Started: time.Now().UTC()}

	h.mu.Lock()
	h.pruneLocked(time.Now().UTC())
	if existing, ok := h.runs[key]; ok && existing.Status == RunStatusRunning {
		h.mu.Unlock()
		writeError(w, http.StatusConflict, fmt.Errorf("a run for %s is already active", key))
		return
	}
	h.runs[key] = state
	h.mu.Unlock()

	go h.executeRun(key, state, raw, appDir)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"key": key, "status": string(RunStatusRunning)})
}

// HandleRunStatus reports the state of a triggered run.
//
// URL format: GET /api/builds/{app}/{version}
func (h *Handler) HandleRunStatus(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "app") + "/" + chi.URLParam(r, "version")

	// Encode a copy taken under the lock: executeRun mutates the state
	// struct when the run finishes.
	h.mu.Lock()
	state, ok := h.runs[key]
	var snapshot RunState
	if ok {
		snapshot = *state
	}
	h.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no run for %s", key))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}

// HandleMeasurements serves the published measurement set for a release.
//
// URL format: GET /api/releases/{app}/{version}/measurements
func (h *Handler) HandleMeasurements(w http.ResponseWriter, r *http.Request) {
	appName, err := interfaces.NewAppName(chi.URLParam(r, "app"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	version, err := interfaces.NewAppVersion(chi.URLParam(r, "version"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	key := interfaces.ArtifactKey{App: appName, Version: version}
	doc, err := h.store.Fetch(r.Context(), key, interfaces.MeasurementsFile)
	if errors.Is(err, interfaces.ErrArtifactNotFound) {
		writeError(w, http.StatusNotFound, fmt.Errorf("no published measurements for %s/%s", appName, version))
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(doc)
}

// pruneLocked evicts terminal run states whose finish time is past the
// retention window. Caller holds h.mu.
func (h *Handler) pruneLocked(now time.Time) {
	for key, state := range h.runs {
		if state.Status != RunStatusRunning && state.Finished != nil && now.Sub(*state.Finished) > h.retention {
			delete(h.runs, key)
		}
	}
}

func (h *Handler) executeRun(key string, state *RunState, raw []byte, appDir string) {
	start := time.Now()
	report, err := h.runner.Run(context.Background(), raw, appDir)
	finished := time.Now().UTC()

	h.mu.Lock()
	defer h.mu.Unlock()

	state.Finished = &finished
	if err != nil {
		state.Status = RunStatusFailed
		state.Error = err.Error()
		state.Category = errorCategory(err)
		h.metrics.RecordRun("failure")
		if errors.Is(err, interfaces.ErrConfiguration) {
			h.metrics.RecordValidationError()
		}
		if errors.Is(err, interfaces.ErrPublishConflict) {
			h.metrics.RecordPublish("conflict")
		}
		h.log.Error("Pipeline run failed",
			slog.String("key", key),
			slog.String("category", state.Category),
			"err", err)
		return
	}

	state.Status = RunStatusSucceeded
	state.Report = report
	h.metrics.RecordRun("success")
	if report.Publish.AlreadyPublished {
		h.metrics.RecordPublish("noop")
	} else {
		h.metrics.RecordPublish("published")
	}
	h.metrics.ObserveStage("run", time.Since(start))
}

// errorCategory maps an error to its terse failure category for the API.
// The full diagnostic output stays in the logged error and the published
// build log.
func errorCategory(err error) string {
	switch {
	case errors.Is(err, interfaces.ErrConfiguration):
		return "configuration"
	case errors.Is(err, interfaces.ErrResolution):
		return "resolution"
	case errors.Is(err, interfaces.ErrDeterminismViolation):
		return "determinism-violation"
	case errors.Is(err, interfaces.ErrPublishConflict):
		return "publish-conflict"
	case errors.Is(err, interfaces.ErrStageExecution):
		return "stage-execution"
	default:
		return "internal"
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
