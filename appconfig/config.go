// Package appconfig parses and validates submitted application build
// configurations. Validation aggregates every violation in one pass so a
// submitter sees the full report at once instead of one error per
// round-trip.
package appconfig

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the expected configuration file name inside each
// application directory.
const ConfigFileName = "enclave.yaml"

// Config is the raw submitted application declaration, decoded from YAML
// before semantic validation.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Repo    string `yaml:"repo"`
	Branch  string `yaml:"branch"`

	// Commit optionally pins the exact commit to build. When unset the
	// branch head is resolved at request-resolution time.
	Commit string `yaml:"commit"`

	Build        BuildConfig        `yaml:"build"`
	Enclave      EnclaveConfig      `yaml:"enclave"`
	Reproducible ReproducibleConfig `yaml:"reproducible"`
	Metadata     MetadataConfig     `yaml:"metadata"`
}

// BuildConfig holds the image build parameters.
type BuildConfig struct {
	// Directory is the build context directory, relative to the
	// repository root. Defaults to the repository root.
	Directory string `yaml:"directory"`

	// Dockerfile is the build file name within the context directory.
	Dockerfile string `yaml:"dockerfile"`

	// Args are ordered name/value build arguments.
	Args []BuildArgConfig `yaml:"args"`
}

// BuildArgConfig is a single declared build argument.
type BuildArgConfig struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// EnclaveConfig holds the enclave conversion parameters.
type EnclaveConfig struct {
	DebugMode bool `yaml:"debug_mode"`
}

// ReproducibleConfig holds the reproducibility parameters.
type ReproducibleConfig struct {
	Enabled bool `yaml:"enabled"`

	// SourceDateEpoch optionally fixes the build timestamp. When unset
	// the resolved commit's authored time is used.
	SourceDateEpoch *int64 `yaml:"source_date_epoch"`
}

// MetadataConfig is free-form, non-semantic metadata.
type MetadataConfig struct {
	Description string `yaml:"description"`
	Maintainer  string `yaml:"maintainer"`
	License     string `yaml:"license"`
}

// knownTopLevelKeys are the keys the schema understands. Unknown top-level
// keys are warned about, not rejected.
var knownTopLevelKeys = map[string]struct{}{
	"name": {}, "version": {}, "repo": {}, "branch": {}, "commit": {},
	"build": {}, "enclave": {}, "reproducible": {}, "metadata": {},
}

// Parse decodes a raw configuration document. It returns the decoded
// config, warnings for unknown top-level keys, and an error for documents
// that do not decode against the schema at all.
func Parse(raw []byte) (Config, []string, error) {
	var keys map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &keys); err != nil {
		return Config{}, nil, fmt.Errorf("configuration is not a valid YAML mapping: %w", err)
	}

	var warnings []string
	for key := range keys {
		if _, known := knownTopLevelKeys[key]; !known {
			warnings = append(warnings, fmt.Sprintf("unknown top-level key %q ignored", key))
		}
	}
	sort.Strings(warnings)

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, warnings, fmt.Errorf("configuration does not match the schema: %w", err)
	}

	applyDefaults(&cfg)
	return cfg, warnings, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Build.Directory == "" {
		cfg.Build.Directory = "."
	}
	if cfg.Build.Dockerfile == "" {
		cfg.Build.Dockerfile = "Dockerfile"
	}
}
