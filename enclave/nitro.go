// Package enclave adapts the nitro-cli enclave image conversion tool. It
// turns a digest-pinned container image into an attestable enclave image
// file and extracts the measurement registers from the tool's output.
package enclave

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/ruteri/enclave-build-pipeline/interfaces"
)

// NitroCLI drives enclave image conversion through the nitro-cli binary.
// It implements interfaces.EnclaveConverter.
type NitroCLI struct {
	cliPath string
	workDir string
	log     *slog.Logger
}

// NewNitroCLI creates a conversion adapter. cliPath defaults to
// "nitro-cli" on PATH when empty; workDir defaults to the system temp
// directory.
func NewNitroCLI(cliPath, workDir string, log *slog.Logger) *NitroCLI {
	if cliPath == "" {
		cliPath = "nitro-cli"
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &NitroCLI{cliPath: cliPath, workDir: workDir, log: log}
}

// buildOutput is the measurement-bearing JSON the conversion tool prints
// on success.
type buildOutput struct {
	Measurements map[string]string `json:"Measurements"`
}

// Convert produces the enclave image file and measurement set for a
// digest-pinned image. Conversion failures carry the tool's stderr
// verbatim so malformed images and unsupported base layers can be
// diagnosed from the error alone.
func (n *NitroCLI) Convert(ctx context.Context, ref interfaces.ImageRef, params interfaces.EnclaveParams) ([]byte, interfaces.MeasurementSet, []byte, error) {
	if err := ref.Validate(); err != nil {
		return nil, interfaces.MeasurementSet{}, nil, fmt.Errorf("%w: %v", interfaces.ErrStageExecution, err)
	}

	outDir, err := os.MkdirTemp(n.workDir, "enclave-convert-")
	if err != nil {
		return nil, interfaces.MeasurementSet{}, nil, fmt.Errorf("%w: %v", interfaces.ErrStageExecution, err)
	}
	defer os.RemoveAll(outDir)

	outFile := filepath.Join(outDir, "app.eif")
	args := []string{
		"build-enclave",
		"--docker-uri", ref.String(),
		"--output-file", outFile,
	}
	if params.DebugMode {
		args = append(args, "--debug-mode")
	}

	n.log.Info("Converting image to enclave image",
		slog.String("ref", ref.String()),
		slog.Bool("debug_mode", params.DebugMode))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, n.cliPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	convLog := append(stdout.Bytes(), stderr.Bytes()...)
	if runErr != nil {
		return nil, interfaces.MeasurementSet{}, convLog,
			fmt.Errorf("%w: enclave conversion: %v: %s", interfaces.ErrStageExecution, runErr, stderr.String())
	}

	measurements, err := ParseMeasurements(stdout.Bytes())
	if err != nil {
		return nil, interfaces.MeasurementSet{}, convLog,
			fmt.Errorf("%w: %v", interfaces.ErrStageExecution, err)
	}

	eif, err := os.ReadFile(outFile)
	if err != nil {
		return nil, interfaces.MeasurementSet{}, convLog,
			fmt.Errorf("%w: conversion reported success but produced no image: %v", interfaces.ErrStageExecution, err)
	}

	n.log.Info("Enclave image built",
		slog.String("ref", ref.String()),
		slog.Int("size", len(eif)),
		slog.String(interfaces.RegisterImage, measurements.PCR0))

	return eif, measurements, convLog, nil
}

// ParseMeasurements extracts the three-register measurement set from the
// conversion tool's JSON output. A missing register is an error; the
// measurement set is published verbatim and must be complete.
func ParseMeasurements(output []byte) (interfaces.MeasurementSet, error) {
	// The tool may print progress lines before the JSON document. Scan
	// for the first '{' and decode from there.
	idx := bytes.IndexByte(output, '{')
	if idx < 0 {
		return interfaces.MeasurementSet{}, fmt.Errorf("conversion output carries no measurement document")
	}

	var parsed buildOutput
	if err := json.Unmarshal(output[idx:], &parsed); err != nil {
		return interfaces.MeasurementSet{}, fmt.Errorf("failed to decode measurement output: %w", err)
	}
	if parsed.Measurements == nil {
		return interfaces.MeasurementSet{}, fmt.Errorf("conversion output carries no measurements")
	}

	return interfaces.NewMeasurementSet(parsed.Measurements)
}
