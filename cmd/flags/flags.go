// Package flags holds the shared CLI flag definitions and logger setup
// for the pipeline binaries.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/enclave-build-pipeline/common"
	"github.com/ruteri/enclave-build-pipeline/httpserver"
	"github.com/urfave/cli/v2"
)

// SetupLogger builds the process logger from the common logging flags.
func SetupLogger(cCtx *cli.Context, service string) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJSONFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUIDFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: service,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// ConfigureServer builds the HTTP server configuration from flags.
func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var LogJSONFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUIDFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}
var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

var RegistryRepositoryFlag = &cli.StringFlag{
	Name:  "registry-repository",
	Usage: "registry repository to push built images to",
}
var ArtifactLocationFlag = &cli.StringSliceFlag{
	Name:  "artifact-location",
	Usage: "artifact backend location URI (repeatable; first is canonical). Supports file://, s3://, ipfs://",
}
var ReleaseRepoFlag = &cli.StringFlag{
	Name:  "release-repo",
	Usage: "owner/repo of the repository hosting release records",
}
var ReleaseTokenFlag = &cli.StringFlag{
	Name:    "release-token",
	Usage:   "token with release write permission",
	EnvVars: []string{"RELEASE_TOKEN"},
}
var SourceTokenFlag = &cli.StringFlag{
	Name:    "source-token",
	Usage:   "token for source hosting API lookups (optional for public repositories)",
	EnvVars: []string{"SOURCE_TOKEN"},
}
var VaultAddrFlag = &cli.StringFlag{
	Name:  "vault-addr",
	Usage: "Vault address for registry credentials (optional)",
}
var VaultTokenFlag = &cli.StringFlag{
	Name:    "vault-token",
	Usage:   "Vault token",
	EnvVars: []string{"VAULT_TOKEN"},
}
var VaultSecretPathFlag = &cli.StringFlag{
	Name:  "vault-secret-path",
	Value: "registry-credentials",
	Usage: "Vault KV v2 secret path holding registry username/password",
}
var VaultMountFlag = &cli.StringFlag{
	Name:  "vault-mount",
	Value: "secret",
	Usage: "Vault KV v2 mount path",
}
var DockerPathFlag = &cli.StringFlag{
	Name:  "docker-path",
	Value: "docker",
	Usage: "path to the docker binary",
}
var NitroCLIPathFlag = &cli.StringFlag{
	Name:  "nitro-cli-path",
	Value: "nitro-cli",
	Usage: "path to the nitro-cli binary",
}
var GitPathFlag = &cli.StringFlag{
	Name:  "git-path",
	Value: "git",
	Usage: "path to the git binary",
}
var WorkDirFlag = &cli.StringFlag{
	Name:  "work-dir",
	Usage: "directory for source checkouts and conversion scratch space",
}
var SkipReachabilityFlag = &cli.BoolFlag{
	Name:  "skip-reachability-check",
	Value: false,
	Usage: "skip the repository reachability probe during validation",
}
var RunTimeoutMinutesFlag = &cli.Int64Flag{
	Name:  "run-timeout-minutes",
	Value: 120,
	Usage: "overall pipeline run timeout in minutes",
}

// CommonFlags are shared by every binary.
var CommonFlags = []cli.Flag{
	LogJSONFlag,
	LogDebugFlag,
	LogUIDFlag,
}
