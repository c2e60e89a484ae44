package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/enclave-build-pipeline/interfaces"
)

// StageTwo drives enclave image conversion and measurement extraction. It
// runs in an environment with enclave build capability, separate from
// stage one; its only input is the durable stage one result.
type StageTwo struct {
	puller    interfaces.ImagePuller
	converter interfaces.EnclaveConverter
	log       *slog.Logger
}

// NewStageTwo creates the stage two coordinator.
func NewStageTwo(puller interfaces.ImagePuller, converter interfaces.EnclaveConverter, log *slog.Logger) *StageTwo {
	return &StageTwo{puller: puller, converter: converter, log: log}
}

// Convert pulls the image by digest and converts it to an enclave image,
// returning the artifact bytes, the measurement set, and the raw
// conversion log. The pull always carries the exact digest from the stage
// one result, never a tag, so a reassigned tag between stages cannot
// change what this stage operates on.
func (s *StageTwo) Convert(ctx context.Context, result interfaces.StageOneResult, params interfaces.EnclaveParams) ([]byte, interfaces.MeasurementSet, []byte, error) {
	if err := result.Validate(); err != nil {
		return nil, interfaces.MeasurementSet{}, nil, fmt.Errorf("%w: %v", interfaces.ErrStageExecution, err)
	}

	pullLog, err := s.puller.Pull(ctx, result.Image)
	if err != nil {
		s.log.Error("Image pull failed",
			slog.String("image", result.Image.String()),
			"err", err)
		return nil, interfaces.MeasurementSet{}, pullLog, err
	}

	eif, measurements, convLog, err := s.converter.Convert(ctx, result.Image, params)
	convLog = append(pullLog, convLog...)
	if err != nil {
		s.log.Error("Enclave conversion failed",
			slog.String("image", result.Image.String()),
			"err", err)
		return nil, interfaces.MeasurementSet{}, convLog, err
	}

	s.log.Info("Stage two complete",
		slog.String("image", result.Image.String()),
		slog.Bool("debug_mode", params.DebugMode),
		slog.String(interfaces.RegisterImage, measurements.PCR0),
		slog.String(interfaces.RegisterKernel, measurements.PCR1),
		slog.String(interfaces.RegisterApplication, measurements.PCR2))

	return eif, measurements, convLog, nil
}

// VerifyMeasurements compares a freshly produced measurement set against
// an expected one for the same image digest and enclave parameters. A
// mismatch breaks the attestation-trust property the pipeline exists to
// guarantee and is reported as a determinism violation, distinct from
// ordinary stage failures and never retryable.
func VerifyMeasurements(expected, actual interfaces.MeasurementSet) error {
	diff := expected.Diff(actual)
	if len(diff) == 0 {
		return nil
	}
	return fmt.Errorf("%w: registers %s differ for identical inputs",
		interfaces.ErrDeterminismViolation, strings.Join(diff, ", "))
}
