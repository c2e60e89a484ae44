package enclave

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ruteri/enclave-build-pipeline/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func measurementJSON() string {
	return fmt.Sprintf(`{
  "Measurements": {
    "HashAlgorithm": "Sha384 { ... }",
    "PCR0": %q,
    "PCR1": %q,
    "PCR2": %q
  }
}`, strings.Repeat("ab", 48), strings.Repeat("cd", 48), strings.Repeat("ef", 48))
}

func TestParseMeasurements(t *testing.T) {
	ms, err := ParseMeasurements([]byte(measurementJSON()))
	require.NoError(t, err)

	assert.Equal(t, strings.Repeat("ab", 48), ms.PCR0)
	assert.Equal(t, strings.Repeat("cd", 48), ms.PCR1)
	assert.Equal(t, strings.Repeat("ef", 48), ms.PCR2)
}

func TestParseMeasurementsSkipsProgressLines(t *testing.T) {
	// The tool prints progress lines before the JSON document.
	output := "Start building the Enclave Image...\nEnclave Image successfully created.\n" + measurementJSON()

	ms, err := ParseMeasurements([]byte(output))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("ab", 48), ms.PCR0)
}

func TestParseMeasurementsMissingRegister(t *testing.T) {
	output := fmt.Sprintf(`{"Measurements": {"PCR0": %q, "PCR1": %q}}`,
		strings.Repeat("ab", 48), strings.Repeat("cd", 48))

	_, err := ParseMeasurements([]byte(output))
	require.Error(t, err)
	assert.Contains(t, err.Error(), interfaces.RegisterApplication)
}

func TestParseMeasurementsErrors(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{name: "no json document", output: "only progress output\n"},
		{name: "empty output", output: ""},
		{name: "malformed json", output: `{"Measurements": `},
		{name: "no measurements key", output: `{"Other": true}`},
		{name: "non-hex register", output: `{"Measurements": {"PCR0": "xyz", "PCR1": "ab", "PCR2": "cd"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMeasurements([]byte(tt.output))
			assert.Error(t, err)
		})
	}
}
