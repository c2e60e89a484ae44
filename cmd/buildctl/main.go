package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ruteri/enclave-build-pipeline/appconfig"
	"github.com/ruteri/enclave-build-pipeline/artifacts"
	"github.com/ruteri/enclave-build-pipeline/cmd/flags"
	"github.com/ruteri/enclave-build-pipeline/credentials"
	"github.com/ruteri/enclave-build-pipeline/enclave"
	"github.com/ruteri/enclave-build-pipeline/imagebuild"
	"github.com/ruteri/enclave-build-pipeline/interfaces"
	"github.com/ruteri/enclave-build-pipeline/pipeline"
	"github.com/ruteri/enclave-build-pipeline/releases"
	"github.com/ruteri/enclave-build-pipeline/sourcehost"
	"github.com/urfave/cli/v2"
)

var configFlag = &cli.StringFlag{
	Name:  "config",
	Value: appconfig.ConfigFileName,
	Usage: "path to the application configuration file",
}
var appDirFlag = &cli.StringFlag{
	Name:     "app-dir",
	Required: true,
	Usage:    "name of the application directory the configuration lives in",
}
var requestFileFlag = &cli.StringFlag{
	Name:  "request-file",
	Value: "build-request.json",
	Usage: "path of the durable build request hand-off file",
}
var resultFileFlag = &cli.StringFlag{
	Name:  "result-file",
	Value: "stage-one-result.json",
	Usage: "path of the durable stage one result hand-off file",
}
var artifactDirFlag = &cli.StringFlag{
	Name:  "artifact-dir",
	Value: "artifacts",
	Usage: "directory the conversion outputs are written to and published from",
}
var expectedMeasurementsFlag = &cli.StringFlag{
	Name:  "expected-measurements",
	Usage: "optional measurements document to verify the conversion output against",
}

func main() {
	app := &cli.App{
		Name:  "buildctl",
		Usage: "Run enclave build pipeline stages individually or end to end",
		Flags: flags.CommonFlags,
		Commands: []*cli.Command{
			{
				Name:  "validate",
				Usage: "Validate an application configuration without building",
				Flags: []cli.Flag{
					configFlag,
					appDirFlag,
					flags.SourceTokenFlag,
					flags.SkipReachabilityFlag,
				},
				Action: runValidate,
			},
			{
				Name:  "resolve",
				Usage: "Resolve a configuration into a fully pinned build request",
				Flags: []cli.Flag{
					configFlag,
					appDirFlag,
					flags.SourceTokenFlag,
					flags.SkipReachabilityFlag,
					requestFileFlag,
				},
				Action: runResolve,
			},
			{
				Name:  "stage-one",
				Usage: "Build and push the container image for a build request",
				Flags: []cli.Flag{
					requestFileFlag,
					resultFileFlag,
					flags.RegistryRepositoryFlag,
					flags.DockerPathFlag,
					flags.GitPathFlag,
					flags.WorkDirFlag,
					flags.VaultAddrFlag,
					flags.VaultTokenFlag,
					flags.VaultMountFlag,
					flags.VaultSecretPathFlag,
				},
				Action: runStageOne,
			},
			{
				Name:  "stage-two",
				Usage: "Convert a pushed image into an enclave image with measurements",
				Flags: []cli.Flag{
					resultFileFlag,
					artifactDirFlag,
					expectedMeasurementsFlag,
					flags.DockerPathFlag,
					flags.NitroCLIPathFlag,
					flags.WorkDirFlag,
					flags.VaultAddrFlag,
					flags.VaultTokenFlag,
					flags.VaultMountFlag,
					flags.VaultSecretPathFlag,
				},
				Action: runStageTwo,
			},
			{
				Name:  "publish",
				Usage: "Publish conversion outputs to the artifact backends",
				Flags: []cli.Flag{
					artifactDirFlag,
					flags.ArtifactLocationFlag,
					flags.ReleaseRepoFlag,
					flags.ReleaseTokenFlag,
				},
				Action: runPublish,
			},
			{
				Name:  "run",
				Usage: "Run the full pipeline in-process",
				Flags: []cli.Flag{
					configFlag,
					appDirFlag,
					flags.SourceTokenFlag,
					flags.SkipReachabilityFlag,
					flags.RegistryRepositoryFlag,
					flags.ArtifactLocationFlag,
					flags.ReleaseRepoFlag,
					flags.ReleaseTokenFlag,
					flags.DockerPathFlag,
					flags.NitroCLIPathFlag,
					flags.GitPathFlag,
					flags.WorkDirFlag,
					flags.VaultAddrFlag,
					flags.VaultTokenFlag,
					flags.VaultMountFlag,
					flags.VaultSecretPathFlag,
					flags.RunTimeoutMinutesFlag,
				},
				Action: runFull,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runValidate(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx, "buildctl")

	raw, err := os.ReadFile(cCtx.String(configFlag.Name))
	if err != nil {
		return err
	}

	validator := newValidator(cCtx, logger)
	cfg, errs := validator.Validate(cCtx.Context, raw, cCtx.String(appDirFlag.Name))
	if len(errs) != 0 {
		for _, verr := range errs {
			fmt.Fprintf(os.Stderr, "%s\n", verr.Error())
		}
		return appconfig.CombineErrors(errs)
	}

	for _, warning := range cfg.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
	}
	fmt.Printf("%s %s: configuration valid\n", cfg.Name, cfg.Version)
	return nil
}

func runResolve(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx, "buildctl")

	raw, err := os.ReadFile(cCtx.String(configFlag.Name))
	if err != nil {
		return err
	}

	validator := newValidator(cCtx, logger)
	cfg, errs := validator.Validate(cCtx.Context, raw, cCtx.String(appDirFlag.Name))
	if len(errs) != 0 {
		return appconfig.CombineErrors(errs)
	}

	resolver := pipeline.NewResolver(newSource(cCtx, logger), logger)
	req, err := resolver.Resolve(cCtx.Context, cfg)
	if err != nil {
		return err
	}

	return writeJSONFile(cCtx.String(requestFileFlag.Name), req)
}

func runStageOne(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx, "buildctl")

	var req interfaces.BuildRequest
	if err := readJSONFile(cCtx.String(requestFileFlag.Name), &req); err != nil {
		return err
	}

	repository := cCtx.String(flags.RegistryRepositoryFlag.Name)
	if repository == "" {
		return cli.Exit("registry-repository is required", 1)
	}

	creds, err := newCredentialSource(cCtx, logger)
	if err != nil {
		return err
	}
	docker := imagebuild.NewDockerCLI(cCtx.String(flags.DockerPathFlag.Name), creds, logger)
	checkout := sourcehost.NewGitCheckout(cCtx.String(flags.GitPathFlag.Name), logger)

	stageOne := pipeline.NewStageOne(pipeline.StageOneConfig{
		Repository: repository,
		WorkDir:    cCtx.String(flags.WorkDirFlag.Name),
	}, checkout, docker, logger)

	result, err := stageOne.Build(cCtx.Context, req)
	if err != nil {
		return err
	}
	return writeJSONFile(cCtx.String(resultFileFlag.Name), result)
}

func runStageTwo(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx, "buildctl")

	var result interfaces.StageOneResult
	if err := readJSONFile(cCtx.String(resultFileFlag.Name), &result); err != nil {
		return err
	}

	creds, err := newCredentialSource(cCtx, logger)
	if err != nil {
		return err
	}
	docker := imagebuild.NewDockerCLI(cCtx.String(flags.DockerPathFlag.Name), creds, logger)
	converter := enclave.NewNitroCLI(cCtx.String(flags.NitroCLIPathFlag.Name), cCtx.String(flags.WorkDirFlag.Name), logger)

	stageTwo := pipeline.NewStageTwo(docker, converter, logger)
	eif, measurements, convLog, err := stageTwo.Convert(cCtx.Context, result, interfaces.EnclaveParams{DebugMode: result.Request.DebugMode})
	if err != nil {
		return err
	}

	if expectedFile := cCtx.String(expectedMeasurementsFlag.Name); expectedFile != "" {
		var expected interfaces.MeasurementSet
		if err := readJSONFile(expectedFile, &expected); err != nil {
			return err
		}
		if err := pipeline.VerifyMeasurements(expected, measurements); err != nil {
			return err
		}
		logger.Info("Measurements match the expected document")
	}

	dir := cCtx.String(artifactDirFlag.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	metadata := interfaces.BuildMetadataFrom(result)
	metadataDoc, err := metadata.Marshal()
	if err != nil {
		return err
	}
	measurementsDoc, err := json.MarshalIndent(measurements, "", "  ")
	if err != nil {
		return err
	}
	buildLog := append(append([]byte{}, result.BuildLog...), convLog...)

	for file, content := range map[string][]byte{
		interfaces.EnclaveImageFile: eif,
		interfaces.MeasurementsFile: append(measurementsDoc, '\n'),
		interfaces.MetadataFile:     metadataDoc,
		interfaces.BuildLogFile:     buildLog,
	} {
		if err := os.WriteFile(filepath.Join(dir, file), content, 0o644); err != nil {
			return err
		}
	}

	fmt.Printf("%s\n", measurementsDoc)
	return nil
}

func runPublish(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx, "buildctl")

	dir := cCtx.String(artifactDirFlag.Name)
	eif, err := os.ReadFile(filepath.Join(dir, interfaces.EnclaveImageFile))
	if err != nil {
		return err
	}
	buildLog, err := os.ReadFile(filepath.Join(dir, interfaces.BuildLogFile))
	if err != nil {
		return err
	}
	var measurements interfaces.MeasurementSet
	if err := readJSONFile(filepath.Join(dir, interfaces.MeasurementsFile), &measurements); err != nil {
		return err
	}
	var metadata interfaces.BuildMetadata
	if err := readJSONFile(filepath.Join(dir, interfaces.MetadataFile), &metadata); err != nil {
		return err
	}

	store, err := newStore(cCtx, logger)
	if err != nil {
		return err
	}
	releaseHost, err := newReleaseHost(cCtx, logger)
	if err != nil {
		return err
	}

	publisher := pipeline.NewPublisher(store, releaseHost, logger)
	published, err := publisher.Publish(cCtx.Context, eif, measurements, metadata, buildLog)
	if err != nil {
		return err
	}

	doc, err := json.MarshalIndent(published, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", doc)
	return nil
}

func runFull(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx, "buildctl")

	raw, err := os.ReadFile(cCtx.String(configFlag.Name))
	if err != nil {
		return err
	}

	repository := cCtx.String(flags.RegistryRepositoryFlag.Name)
	if repository == "" {
		return cli.Exit("registry-repository is required", 1)
	}

	source := newSource(cCtx, logger)
	creds, err := newCredentialSource(cCtx, logger)
	if err != nil {
		return err
	}
	docker := imagebuild.NewDockerCLI(cCtx.String(flags.DockerPathFlag.Name), creds, logger)
	checkout := sourcehost.NewGitCheckout(cCtx.String(flags.GitPathFlag.Name), logger)
	converter := enclave.NewNitroCLI(cCtx.String(flags.NitroCLIPathFlag.Name), cCtx.String(flags.WorkDirFlag.Name), logger)

	store, err := newStore(cCtx, logger)
	if err != nil {
		return err
	}
	releaseHost, err := newReleaseHost(cCtx, logger)
	if err != nil {
		return err
	}

	runner := pipeline.NewRunner(
		newValidator(cCtx, logger),
		pipeline.NewResolver(source, logger),
		pipeline.NewStageOne(pipeline.StageOneConfig{
			Repository: repository,
			WorkDir:    cCtx.String(flags.WorkDirFlag.Name),
		}, checkout, docker, logger),
		pipeline.NewStageTwo(docker, converter, logger),
		pipeline.NewPublisher(store, releaseHost, logger),
		time.Duration(cCtx.Int64(flags.RunTimeoutMinutesFlag.Name))*time.Minute,
		logger,
	)

	report, err := runner.Run(context.Background(), raw, cCtx.String(appDirFlag.Name))
	if err != nil {
		return err
	}

	doc, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", doc)
	return nil
}

func newSource(cCtx *cli.Context, logger *slog.Logger) *sourcehost.GitHubClient {
	opts := []sourcehost.GitHubClientOption{}
	if token := cCtx.String(flags.SourceTokenFlag.Name); token != "" {
		opts = append(opts, sourcehost.WithToken(token))
	}
	return sourcehost.NewGitHubClient(logger, opts...)
}

func newValidator(cCtx *cli.Context, logger *slog.Logger) *appconfig.Validator {
	opts := []appconfig.ValidatorOption{}
	if cCtx.Bool(flags.SkipReachabilityFlag.Name) {
		opts = append(opts, appconfig.SkipReachability())
	}
	return appconfig.NewValidator(newSource(cCtx, logger), logger, opts...)
}

func newCredentialSource(cCtx *cli.Context, logger *slog.Logger) (interfaces.CredentialSource, error) {
	vaultAddr := cCtx.String(flags.VaultAddrFlag.Name)
	if vaultAddr == "" {
		return nil, nil
	}
	return credentials.NewVaultSource(
		vaultAddr,
		cCtx.String(flags.VaultTokenFlag.Name),
		cCtx.String(flags.VaultMountFlag.Name),
		cCtx.String(flags.VaultSecretPathFlag.Name),
		logger,
	)
}

func newStore(cCtx *cli.Context, logger *slog.Logger) (interfaces.ArtifactBackend, error) {
	locations := []interfaces.ArtifactBackendLocation{}
	for _, loc := range cCtx.StringSlice(flags.ArtifactLocationFlag.Name) {
		locations = append(locations, interfaces.ArtifactBackendLocation(loc))
	}
	return artifacts.NewFactory(logger).CreateMultiBackend(locations)
}

func newReleaseHost(cCtx *cli.Context, logger *slog.Logger) (interfaces.ReleaseHost, error) {
	owner, repo, ok := strings.Cut(cCtx.String(flags.ReleaseRepoFlag.Name), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, cli.Exit("release-repo must be owner/repo", 1)
	}
	return releases.NewGitHubReleases(owner, repo, cCtx.String(flags.ReleaseTokenFlag.Name), logger), nil
}

func writeJSONFile(path string, v any) error {
	doc, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(doc, '\n'), 0o644)
}

func readJSONFile(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
