package interfaces

import (
	"fmt"
	"regexp"
	"strings"
)

// Measurement register names. The three registers cover the enclave image,
// the kernel and bootstrap layers, and the application layer.
const (
	RegisterImage       = "PCR0"
	RegisterKernel      = "PCR1"
	RegisterApplication = "PCR2"
)

// RegisterNames lists the expected registers in canonical order.
var RegisterNames = []string{RegisterImage, RegisterKernel, RegisterApplication}

var hexHashRegex = regexp.MustCompile(`^[0-9a-f]+$`)

// MeasurementSet maps the three platform configuration registers to their
// hash values. For a fixed image digest and fixed enclave parameters the
// set is deterministic; the same inputs always produce identical values.
type MeasurementSet struct {
	PCR0 string `json:"PCR0"`
	PCR1 string `json:"PCR1"`
	PCR2 string `json:"PCR2"`
}

// NewMeasurementSet builds a measurement set from a register map, such as
// the conversion tool's measurement output. Hash values are normalized to
// lowercase hex. All three expected registers must be present.
func NewMeasurementSet(registers map[string]string) (MeasurementSet, error) {
	var ms MeasurementSet
	for _, name := range RegisterNames {
		value, ok := registers[name]
		if !ok || value == "" {
			return MeasurementSet{}, fmt.Errorf("measurement output is missing register %s", name)
		}

		value = strings.ToLower(value)
		if !hexHashRegex.MatchString(value) {
			return MeasurementSet{}, fmt.Errorf("register %s value %q is not a hex hash", name, value)
		}

		switch name {
		case RegisterImage:
			ms.PCR0 = value
		case RegisterKernel:
			ms.PCR1 = value
		case RegisterApplication:
			ms.PCR2 = value
		}
	}
	return ms, nil
}

// Registers returns the set as a register map in canonical order-independent
// form, for serialization into the measurement output file.
func (ms MeasurementSet) Registers() map[string]string {
	return map[string]string{
		RegisterImage:       ms.PCR0,
		RegisterKernel:      ms.PCR1,
		RegisterApplication: ms.PCR2,
	}
}

// Equal compares two measurement sets register by register.
func (ms MeasurementSet) Equal(other MeasurementSet) bool {
	return ms == other
}

// Diff returns the names of registers whose values differ, in canonical
// order. An empty slice means the sets are identical.
func (ms MeasurementSet) Diff(other MeasurementSet) []string {
	var diff []string
	a, b := ms.Registers(), other.Registers()
	for _, name := range RegisterNames {
		if a[name] != b[name] {
			diff = append(diff, name)
		}
	}
	return diff
}

// Validate checks that all three registers carry lowercase hex values.
func (ms MeasurementSet) Validate() error {
	_, err := NewMeasurementSet(ms.Registers())
	return err
}
