// Package pipeline implements the build orchestration core: build request
// resolution, the two stage coordinators, the artifact publisher, and a
// runner chaining them. Stages communicate only through durable, typed
// hand-off values because they execute in separate environments.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ruteri/enclave-build-pipeline/appconfig"
	"github.com/ruteri/enclave-build-pipeline/interfaces"
)

// Resolver turns a validated configuration into a fully resolved build
// request. Given fixed commit metadata, resolution is pure: identical
// inputs always yield identical requests.
type Resolver struct {
	source interfaces.SourceResolver
	log    *slog.Logger
}

// NewResolver creates a build request resolver.
func NewResolver(source interfaces.SourceResolver, log *slog.Logger) *Resolver {
	return &Resolver{source: source, log: log}
}

// Resolve derives the build request from a validated configuration.
//
// The commit is the configured pin when present, otherwise the branch head
// at resolution time. The timestamp is the configured source_date_epoch
// when present, otherwise the resolved commit's authored time; it is never
// wall-clock time, and it is injected as the SOURCE_DATE_EPOCH build
// argument so the build environment can pin every time-dependent embedded
// value.
func (r *Resolver) Resolve(ctx context.Context, cfg *appconfig.ValidatedConfig) (interfaces.BuildRequest, error) {
	commit := cfg.Config.Commit
	commitSource := interfaces.CommitSourcePinned
	if commit == "" {
		head, err := r.source.ResolveBranch(ctx, cfg.Config.Repo, cfg.Config.Branch)
		if err != nil {
			return interfaces.BuildRequest{}, fmt.Errorf("%w: branch %s: %v", interfaces.ErrResolution, cfg.Config.Branch, err)
		}
		commit = head
		commitSource = interfaces.CommitSourceBranchHead
	}

	epoch, timestampSource, err := r.resolveTimestamp(ctx, cfg, commit)
	if err != nil {
		return interfaces.BuildRequest{}, err
	}

	args, err := resolveBuildArgs(cfg.Config.Build.Args, epoch)
	if err != nil {
		return interfaces.BuildRequest{}, err
	}

	req := interfaces.BuildRequest{
		AppName:         cfg.Name,
		Version:         cfg.Version,
		Repo:            cfg.Config.Repo,
		Commit:          commit,
		CommitSource:    commitSource,
		SourceDateEpoch: epoch,
		TimestampSource: timestampSource,
		ContextDir:      cfg.Config.Build.Directory,
		Dockerfile:      cfg.Config.Build.Dockerfile,
		BuildArgs:       args,
		DebugMode:       cfg.Config.Enclave.DebugMode,
	}

	if err := req.Validate(); err != nil {
		return interfaces.BuildRequest{}, fmt.Errorf("%w: %v", interfaces.ErrResolution, err)
	}

	r.log.Info("Resolved build request",
		slog.String("app", cfg.Name.String()),
		slog.String("version", cfg.Version.String()),
		slog.String("commit", commit),
		slog.String("commit_source", string(commitSource)),
		slog.Int64("source_date_epoch", epoch),
		slog.String("timestamp_source", string(timestampSource)))

	return req, nil
}

func (r *Resolver) resolveTimestamp(ctx context.Context, cfg *appconfig.ValidatedConfig, commit string) (int64, interfaces.TimestampSource, error) {
	if fixed := cfg.Config.Reproducible.SourceDateEpoch; fixed != nil {
		if *fixed <= 0 {
			return 0, "", fmt.Errorf("%w: source_date_epoch must be positive, got %d", interfaces.ErrResolution, *fixed)
		}
		return *fixed, interfaces.TimestampSourceConfigured, nil
	}

	authored, err := r.source.CommitAuthorTime(ctx, cfg.Config.Repo, commit)
	if err != nil {
		return 0, "", fmt.Errorf("%w: commit %s author time: %v", interfaces.ErrResolution, commit, err)
	}
	return authored.Unix(), interfaces.TimestampSourceCommitAuthor, nil
}

// resolveBuildArgs concatenates the user-declared arguments with the
// injected deterministic timestamp argument. Argument names must be
// unique; a duplicate, including a collision with the injected name, is a
// resolution error.
func resolveBuildArgs(declared []appconfig.BuildArgConfig, epoch int64) ([]interfaces.BuildArg, error) {
	args := make([]interfaces.BuildArg, 0, len(declared)+1)
	seen := make(map[string]struct{}, len(declared)+1)

	for _, arg := range declared {
		if arg.Name == "" {
			return nil, fmt.Errorf("%w: build argument with empty name", interfaces.ErrResolution)
		}
		if _, dup := seen[arg.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate build argument %q", interfaces.ErrResolution, arg.Name)
		}
		if arg.Name == interfaces.SourceDateEpochArg {
			return nil, fmt.Errorf("%w: build argument %q collides with the injected timestamp argument", interfaces.ErrResolution, arg.Name)
		}
		seen[arg.Name] = struct{}{}
		args = append(args, interfaces.BuildArg{Name: arg.Name, Value: arg.Value})
	}

	return append(args, interfaces.BuildArg{
		Name:  interfaces.SourceDateEpochArg,
		Value: strconv.FormatInt(epoch, 10),
	}), nil
}
