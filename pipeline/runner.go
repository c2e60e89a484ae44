package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/enclave-build-pipeline/appconfig"
	"github.com/ruteri/enclave-build-pipeline/interfaces"
)

// DefaultRunTimeout bounds a full pipeline run. Every blocking operation
// in the run inherits this deadline; hitting it at any stage is a
// terminal failure for the run, never a silent continuation.
const DefaultRunTimeout = 2 * time.Hour

// Runner chains the pipeline stages for environments that host both
// stages, such as local development and the end-to-end command. Each
// stage transition requires the predecessor's explicit success; there are
// no backward edges and no retries inside the core.
type Runner struct {
	validator *appconfig.Validator
	resolver  *Resolver
	stageOne  *StageOne
	stageTwo  *StageTwo
	publisher *Publisher
	timeout   time.Duration
	log       *slog.Logger
}

// NewRunner creates a pipeline runner. A zero timeout selects
// DefaultRunTimeout.
func NewRunner(validator *appconfig.Validator, resolver *Resolver, stageOne *StageOne, stageTwo *StageTwo, publisher *Publisher, timeout time.Duration, log *slog.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	return &Runner{
		validator: validator,
		resolver:  resolver,
		stageOne:  stageOne,
		stageTwo:  stageTwo,
		publisher: publisher,
		timeout:   timeout,
		log:       log,
	}
}

// RunReport summarizes a completed pipeline run.
type RunReport struct {
	RunID        string                    `json:"run_id"`
	Request      interfaces.BuildRequest   `json:"request"`
	Image        interfaces.ImageRef       `json:"image"`
	Measurements interfaces.MeasurementSet `json:"measurements"`
	Publish      interfaces.PublishResult  `json:"publish"`
}

// Run executes the full pipeline for one submitted configuration. On a
// validation failure the aggregated report is returned as the error; on
// any stage failure the run stops at that stage boundary.
func (r *Runner) Run(ctx context.Context, rawConfig []byte, directoryName string) (*RunReport, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	runID := uuid.Must(uuid.NewRandom()).String()
	log := r.log.With(slog.String("run_id", runID), slog.String("app_dir", directoryName))
	log.Info("Starting pipeline run")

	cfg, validationErrs := r.validator.Validate(ctx, rawConfig, directoryName)
	if len(validationErrs) > 0 {
		return nil, appconfig.CombineErrors(validationErrs)
	}
	for _, warning := range cfg.Warnings {
		log.Warn("Configuration warning", slog.String("warning", warning))
	}

	req, err := r.resolver.Resolve(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := r.checkpoint(ctx, "resolve"); err != nil {
		return nil, err
	}

	stageOneResult, err := r.stageOne.Build(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := r.checkpoint(ctx, "stage-one"); err != nil {
		return nil, err
	}

	params := interfaces.EnclaveParams{DebugMode: req.DebugMode}
	eif, measurements, convLog, err := r.stageTwo.Convert(ctx, stageOneResult, params)
	if err != nil {
		return nil, err
	}
	if err := r.checkpoint(ctx, "stage-two"); err != nil {
		return nil, err
	}

	metadata := interfaces.BuildMetadataFrom(stageOneResult)
	fullLog := append(stageOneResult.BuildLog, convLog...)

	publishResult, err := r.publisher.Publish(ctx, eif, measurements, metadata, fullLog)
	if err != nil {
		return nil, err
	}

	log.Info("Pipeline run complete",
		slog.String("image", stageOneResult.Image.String()),
		slog.String("tag", publishResult.Tag),
		slog.Bool("already_published", publishResult.AlreadyPublished))

	return &RunReport{
		RunID:        runID,
		Request:      req,
		Image:        stageOneResult.Image,
		Measurements: measurements,
		Publish:      publishResult,
	}, nil
}

// checkpoint stops the run cleanly at a stage boundary when the run has
// been cancelled or has timed out.
func (r *Runner) checkpoint(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: run cancelled after %s: %v", interfaces.ErrStageExecution, stage, err)
	}
	return nil
}
