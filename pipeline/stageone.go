package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ruteri/enclave-build-pipeline/interfaces"
)

// StageOneConfig holds the stage one execution environment parameters.
type StageOneConfig struct {
	// Repository is the registry repository images are pushed to.
	Repository string

	// WorkDir is where source checkouts are materialized. Defaults to
	// the system temp directory.
	WorkDir string
}

// StageOne drives image construction and push. It runs in an environment
// with source checkout capability and registry push credentials.
type StageOne struct {
	cfg      StageOneConfig
	checkout interfaces.SourceCheckout
	builder  interfaces.ImageBuilder
	log      *slog.Logger
}

// NewStageOne creates the stage one coordinator.
func NewStageOne(cfg StageOneConfig, checkout interfaces.SourceCheckout, builder interfaces.ImageBuilder, log *slog.Logger) *StageOne {
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	return &StageOne{cfg: cfg, checkout: checkout, builder: builder, log: log}
}

// Build checks out the resolved commit, builds the image with the resolved
// arguments, and pushes it. The returned result carries the immutable
// digest of the pushed manifest, never a tag. Failure is terminal for the
// run; retries are an external concern.
func (s *StageOne) Build(ctx context.Context, req interfaces.BuildRequest) (interfaces.StageOneResult, error) {
	if err := req.Validate(); err != nil {
		return interfaces.StageOneResult{}, fmt.Errorf("%w: %v", interfaces.ErrStageExecution, err)
	}

	checkoutDir, err := os.MkdirTemp(s.cfg.WorkDir, fmt.Sprintf("build-%s-", req.AppName))
	if err != nil {
		return interfaces.StageOneResult{}, fmt.Errorf("%w: %v", interfaces.ErrStageExecution, err)
	}
	defer os.RemoveAll(checkoutDir)

	// The resolved commit is checked out exactly. Re-resolving the
	// branch here would race against the head moving since resolution.
	if err := s.checkout.Checkout(ctx, req.Repo, req.Commit, checkoutDir); err != nil {
		return interfaces.StageOneResult{}, fmt.Errorf("%w: %v", interfaces.ErrStageExecution, err)
	}

	contextDir := filepath.Join(checkoutDir, filepath.FromSlash(req.ContextDir))
	localTag := fmt.Sprintf("%s-%s-%s", req.AppName, req.Version, req.Commit[:12])

	buildLog, err := s.builder.Build(ctx, contextDir, req.Dockerfile, req.BuildArgs, localTag)
	if err != nil {
		s.log.Error("Image build failed",
			slog.String("app", req.AppName.String()),
			slog.String("commit", req.Commit),
			"err", err)
		return interfaces.StageOneResult{BuildLog: buildLog}, err
	}

	ref, pushLog, err := s.builder.Push(ctx, localTag, s.cfg.Repository)
	buildLog = append(buildLog, pushLog...)
	if err != nil {
		s.log.Error("Image push failed",
			slog.String("app", req.AppName.String()),
			slog.String("repository", s.cfg.Repository),
			"err", err)
		return interfaces.StageOneResult{BuildLog: buildLog}, err
	}

	result := interfaces.StageOneResult{
		Image:    ref,
		Request:  req,
		BuildLog: buildLog,
	}
	if err := result.Validate(); err != nil {
		return interfaces.StageOneResult{}, fmt.Errorf("%w: %v", interfaces.ErrStageExecution, err)
	}

	s.log.Info("Stage one complete",
		slog.String("app", req.AppName.String()),
		slog.String("version", req.Version.String()),
		slog.String("image", ref.String()))

	return result, nil
}
