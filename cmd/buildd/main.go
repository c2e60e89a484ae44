package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ruteri/enclave-build-pipeline/appconfig"
	"github.com/ruteri/enclave-build-pipeline/artifacts"
	"github.com/ruteri/enclave-build-pipeline/cmd/flags"
	"github.com/ruteri/enclave-build-pipeline/common"
	"github.com/ruteri/enclave-build-pipeline/credentials"
	"github.com/ruteri/enclave-build-pipeline/enclave"
	"github.com/ruteri/enclave-build-pipeline/httpserver"
	"github.com/ruteri/enclave-build-pipeline/imagebuild"
	"github.com/ruteri/enclave-build-pipeline/interfaces"
	"github.com/ruteri/enclave-build-pipeline/metrics"
	"github.com/ruteri/enclave-build-pipeline/pipeline"
	"github.com/ruteri/enclave-build-pipeline/releases"
	"github.com/ruteri/enclave-build-pipeline/sourcehost"
	"github.com/urfave/cli/v2"
)

var serverFlags = append([]cli.Flag{
	flags.ListenAddrFlag,
	flags.MetricsAddrFlag,
	flags.PprofFlag,
	flags.DrainSecondsFlag,
	flags.RegistryRepositoryFlag,
	flags.ArtifactLocationFlag,
	flags.ReleaseRepoFlag,
	flags.ReleaseTokenFlag,
	flags.SourceTokenFlag,
	flags.VaultAddrFlag,
	flags.VaultTokenFlag,
	flags.VaultMountFlag,
	flags.VaultSecretPathFlag,
	flags.DockerPathFlag,
	flags.NitroCLIPathFlag,
	flags.GitPathFlag,
	flags.WorkDirFlag,
	flags.SkipReachabilityFlag,
	flags.RunTimeoutMinutesFlag,
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "buildd",
		Usage: "Serve the enclave build trigger API",
		Flags: serverFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx, common.PackageName)

			sourceOpts := []sourcehost.GitHubClientOption{}
			if token := cCtx.String(flags.SourceTokenFlag.Name); token != "" {
				sourceOpts = append(sourceOpts, sourcehost.WithToken(token))
			}
			source := sourcehost.NewGitHubClient(logger, sourceOpts...)

			validatorOpts := []appconfig.ValidatorOption{}
			if cCtx.Bool(flags.SkipReachabilityFlag.Name) {
				validatorOpts = append(validatorOpts, appconfig.SkipReachability())
			}
			validator := appconfig.NewValidator(source, logger, validatorOpts...)

			var creds interfaces.CredentialSource
			if vaultAddr := cCtx.String(flags.VaultAddrFlag.Name); vaultAddr != "" {
				vaultSource, err := credentials.NewVaultSource(
					vaultAddr,
					cCtx.String(flags.VaultTokenFlag.Name),
					cCtx.String(flags.VaultMountFlag.Name),
					cCtx.String(flags.VaultSecretPathFlag.Name),
					logger,
				)
				if err != nil {
					logger.Error("Failed to create Vault credential source", "err", err)
					return err
				}
				creds = vaultSource
			}

			repository := cCtx.String(flags.RegistryRepositoryFlag.Name)
			if repository == "" {
				logger.Error("registry-repository is required")
				return cli.Exit("registry-repository is required", 1)
			}

			docker := imagebuild.NewDockerCLI(cCtx.String(flags.DockerPathFlag.Name), creds, logger)
			checkout := sourcehost.NewGitCheckout(cCtx.String(flags.GitPathFlag.Name), logger)
			converter := enclave.NewNitroCLI(cCtx.String(flags.NitroCLIPathFlag.Name), cCtx.String(flags.WorkDirFlag.Name), logger)

			locations := []interfaces.ArtifactBackendLocation{}
			for _, loc := range cCtx.StringSlice(flags.ArtifactLocationFlag.Name) {
				locations = append(locations, interfaces.ArtifactBackendLocation(loc))
			}
			store, err := artifacts.NewFactory(logger).CreateMultiBackend(locations)
			if err != nil {
				logger.Error("Failed to create artifact store", "err", err)
				return err
			}

			releaseRepo := cCtx.String(flags.ReleaseRepoFlag.Name)
			owner, repo, err := splitReleaseRepo(releaseRepo)
			if err != nil {
				logger.Error("Invalid release-repo", "err", err, "value", releaseRepo)
				return err
			}
			releaseHost := releases.NewGitHubReleases(owner, repo, cCtx.String(flags.ReleaseTokenFlag.Name), logger)

			timeout := time.Duration(cCtx.Int64(flags.RunTimeoutMinutesFlag.Name)) * time.Minute
			runner := pipeline.NewRunner(
				validator,
				pipeline.NewResolver(source, logger),
				pipeline.NewStageOne(pipeline.StageOneConfig{
					Repository: repository,
					WorkDir:    cCtx.String(flags.WorkDirFlag.Name),
				}, checkout, docker, logger),
				pipeline.NewStageTwo(docker, converter, logger),
				pipeline.NewPublisher(store, releaseHost, logger),
				timeout,
				logger,
			)

			metricsSrv, err := metrics.New(common.PackageName, cCtx.String(flags.MetricsAddrFlag.Name))
			if err != nil {
				logger.Error("Failed to create metrics server", "err", err)
				return err
			}

			handler := httpserver.NewHandler(runner, store, metricsSrv, logger)
			srv, err := httpserver.New(flags.ConfigureServer(cCtx, logger), handler, metricsSrv)
			if err != nil {
				logger.Error("Failed to create HTTP server", "err", err)
				return err
			}

			srv.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit

			srv.Shutdown()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func splitReleaseRepo(v string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(v, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", cli.Exit("release-repo must be owner/repo", 1)
	}
	return owner, repo, nil
}
