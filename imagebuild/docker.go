// Package imagebuild adapts the Docker CLI as the image build engine. It
// covers deterministic builds with ordered build arguments, pushes with
// digest resolution, and digest-pinned pulls.
package imagebuild

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/ruteri/enclave-build-pipeline/interfaces"
)

// pushDigestRegex matches the digest line of docker push output, e.g.
// "latest: digest: sha256:abc... size: 1234".
var pushDigestRegex = regexp.MustCompile(`digest:\s+(sha256:[0-9a-f]{64})`)

// DockerCLI drives image builds through the docker binary. It implements
// interfaces.ImageBuilder and interfaces.ImagePuller.
type DockerCLI struct {
	dockerPath  string
	credentials interfaces.CredentialSource
	log         *slog.Logger
}

// NewDockerCLI creates a Docker CLI adapter. dockerPath defaults to
// "docker" on PATH when empty. credentials may be nil for registries that
// allow anonymous access.
func NewDockerCLI(dockerPath string, credentials interfaces.CredentialSource, log *slog.Logger) *DockerCLI {
	if dockerPath == "" {
		dockerPath = "docker"
	}
	return &DockerCLI{dockerPath: dockerPath, credentials: credentials, log: log}
}

// Build constructs a local image from the context directory. Build
// arguments are passed in declaration order; the caller has already
// injected SOURCE_DATE_EPOCH among them.
func (d *DockerCLI) Build(ctx context.Context, contextDir, buildFile string, args []interfaces.BuildArg, localTag string) ([]byte, error) {
	cmdArgs := []string{
		"build",
		"--file", filepath.Join(contextDir, buildFile),
		"--tag", localTag,
	}
	for _, arg := range args {
		cmdArgs = append(cmdArgs, "--build-arg", fmt.Sprintf("%s=%s", arg.Name, arg.Value))
	}
	cmdArgs = append(cmdArgs, contextDir)

	d.log.Info("Building image",
		slog.String("context", contextDir),
		slog.String("build_file", buildFile),
		slog.String("tag", localTag),
		slog.Int("args", len(args)))

	out, err := d.run(ctx, cmdArgs...)
	if err != nil {
		return out, fmt.Errorf("%w: docker build: %v", interfaces.ErrStageExecution, err)
	}
	return out, nil
}

// Push publishes the local image to the repository and resolves the
// immutable digest of the pushed manifest from the push output.
func (d *DockerCLI) Push(ctx context.Context, localTag, repository string) (interfaces.ImageRef, []byte, error) {
	var output bytes.Buffer

	if err := d.login(ctx, repository, &output); err != nil {
		return interfaces.ImageRef{}, output.Bytes(), err
	}

	remoteTag := repository + ":" + localTag
	if out, err := d.run(ctx, "tag", localTag, remoteTag); err != nil {
		output.Write(out)
		return interfaces.ImageRef{}, output.Bytes(), fmt.Errorf("%w: docker tag: %v", interfaces.ErrStageExecution, err)
	}

	out, err := d.run(ctx, "push", remoteTag)
	output.Write(out)
	if err != nil {
		return interfaces.ImageRef{}, output.Bytes(), fmt.Errorf("%w: docker push: %v", interfaces.ErrStageExecution, err)
	}

	match := pushDigestRegex.FindSubmatch(out)
	if match == nil {
		return interfaces.ImageRef{}, output.Bytes(), fmt.Errorf("%w: push output carries no digest", interfaces.ErrStageExecution)
	}

	ref, err := interfaces.NewImageRef(repository, digest.Digest(match[1]))
	if err != nil {
		return interfaces.ImageRef{}, output.Bytes(), fmt.Errorf("%w: %v", interfaces.ErrStageExecution, err)
	}

	d.log.Info("Pushed image", slog.String("ref", ref.String()))
	return ref, output.Bytes(), nil
}

// Pull fetches exactly the digest-pinned image. The mutable tag is never
// consulted, so a reassigned tag between stages cannot change what stage
// two operates on.
func (d *DockerCLI) Pull(ctx context.Context, ref interfaces.ImageRef) ([]byte, error) {
	if err := ref.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStageExecution, err)
	}

	var output bytes.Buffer
	if err := d.login(ctx, ref.Repository, &output); err != nil {
		return output.Bytes(), err
	}

	out, err := d.run(ctx, "pull", ref.String())
	output.Write(out)
	if err != nil {
		return output.Bytes(), fmt.Errorf("%w: docker pull: %v", interfaces.ErrStageExecution, err)
	}
	return output.Bytes(), nil
}

func (d *DockerCLI) login(ctx context.Context, repository string, output *bytes.Buffer) error {
	if d.credentials == nil {
		return nil
	}

	creds, err := d.credentials.RegistryCredentials(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to fetch registry credentials: %v", interfaces.ErrStageExecution, err)
	}

	registry := repository
	if idx := strings.Index(repository, "/"); idx > 0 {
		registry = repository[:idx]
	}

	cmd := exec.CommandContext(ctx, d.dockerPath, "login", "--username", creds.Username, "--password-stdin", registry)
	cmd.Stdin = strings.NewReader(creds.Password)
	out, err := cmd.CombinedOutput()
	output.Write(out)
	if err != nil {
		return fmt.Errorf("%w: docker login: %v", interfaces.ErrStageExecution, err)
	}
	return nil
}

func (d *DockerCLI) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, d.dockerPath, args...)
	return cmd.CombinedOutput()
}
