package appconfig

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"github.com/ruteri/enclave-build-pipeline/interfaces"
)

// Rule identifies which validation rule a violation belongs to. Each rule
// is independently reportable so a submitter can see every problem at once.
type Rule string

const (
	// RuleSchema covers structural problems: missing required fields or
	// documents that do not decode.
	RuleSchema Rule = "schema"

	// RuleNameDirectory requires the configured name to equal the
	// containing directory name.
	RuleNameDirectory Rule = "name-directory"

	// RuleNameGrammar requires the name to match the identifier grammar.
	RuleNameGrammar Rule = "name-grammar"

	// RuleVersionGrammar requires the version to be a semantic version.
	RuleVersionGrammar Rule = "version-grammar"

	// RuleRepoGrammar requires the repository URL to point at the public
	// hosting service.
	RuleRepoGrammar Rule = "repo-grammar"

	// RuleCommitGrammar requires a commit pin, when present, to be a full
	// hex hash.
	RuleCommitGrammar Rule = "commit-grammar"

	// RuleRepoReachability requires the repository to answer with a
	// direct 200. The probe is inherently flaky, so it is skippable via
	// SkipReachability.
	RuleRepoReachability Rule = "repo-reachability"
)

// ValidationError is a single independently reportable violation.
type ValidationError struct {
	Rule    Rule
	Field   string
	Message string
}

// Error renders the violation for human submitters.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Field, e.Rule, e.Message)
}

// ValidatedConfig is a configuration that passed every check. It is
// immutable for the duration of a pipeline run; a later submission with a
// new version supersedes it rather than mutating it.
type ValidatedConfig struct {
	Name    interfaces.AppName
	Version interfaces.AppVersion
	Config  Config

	// Warnings carries non-fatal schema notices such as unknown
	// top-level keys.
	Warnings []string
}

// Validator checks submitted configurations against the schema and the
// semantic rules.
type Validator struct {
	resolver         interfaces.SourceResolver
	skipReachability bool
	log              *slog.Logger
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// SkipReachability disables the network reachability probe. The probe is
// non-deterministic, so batch tooling may opt out explicitly.
func SkipReachability() ValidatorOption {
	return func(v *Validator) { v.skipReachability = true }
}

// NewValidator creates a validator. The resolver is used only for the
// reachability probe and may be nil when SkipReachability is set.
func NewValidator(resolver interfaces.SourceResolver, log *slog.Logger, opts ...ValidatorOption) *Validator {
	v := &Validator{resolver: resolver, log: log}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks a raw configuration document against the schema and all
// semantic rules. Every rule runs even after earlier failures; the result
// aggregates all violations. A nil slice means the configuration is valid
// and the returned ValidatedConfig is usable.
func (v *Validator) Validate(ctx context.Context, raw []byte, directoryName string) (*ValidatedConfig, []ValidationError) {
	cfg, warnings, err := Parse(raw)
	if err != nil {
		return nil, []ValidationError{{Rule: RuleSchema, Field: "(document)", Message: err.Error()}}
	}

	var errs []ValidationError

	for _, missing := range missingRequiredFields(cfg) {
		errs = append(errs, ValidationError{
			Rule:    RuleSchema,
			Field:   missing,
			Message: "required field is missing",
		})
	}

	if cfg.Name != "" {
		if err := interfaces.AppName(cfg.Name).Validate(); err != nil {
			errs = append(errs, ValidationError{Rule: RuleNameGrammar, Field: "name", Message: err.Error()})
		}
		if cfg.Name != directoryName {
			errs = append(errs, ValidationError{
				Rule:    RuleNameDirectory,
				Field:   "name",
				Message: fmt.Sprintf("name %q does not match directory %q", cfg.Name, directoryName),
			})
		}
	}

	if cfg.Version != "" {
		if err := interfaces.AppVersion(cfg.Version).Validate(); err != nil {
			errs = append(errs, ValidationError{Rule: RuleVersionGrammar, Field: "version", Message: err.Error()})
		}
	}

	repoGrammarOK := false
	if cfg.Repo != "" {
		if err := interfaces.ValidateRepoURL(cfg.Repo); err != nil {
			errs = append(errs, ValidationError{Rule: RuleRepoGrammar, Field: "repo", Message: err.Error()})
		} else {
			repoGrammarOK = true
		}
	}

	if cfg.Commit != "" {
		if err := interfaces.ValidateCommitHash(cfg.Commit); err != nil {
			errs = append(errs, ValidationError{Rule: RuleCommitGrammar, Field: "commit", Message: err.Error()})
		}
	}

	// The reachability probe only makes sense against a well-formed URL.
	if repoGrammarOK && !v.skipReachability {
		if err := v.resolver.Reachable(ctx, cfg.Repo); err != nil {
			errs = append(errs, ValidationError{Rule: RuleRepoReachability, Field: "repo", Message: err.Error()})
		}
	}

	if len(errs) > 0 {
		if v.log != nil {
			v.log.Info("Configuration rejected",
				slog.String("directory", directoryName),
				slog.Int("violations", len(errs)))
		}
		return nil, errs
	}

	return &ValidatedConfig{
		Name:     interfaces.AppName(cfg.Name),
		Version:  interfaces.AppVersion(cfg.Version),
		Config:   cfg,
		Warnings: warnings,
	}, nil
}

// CombineErrors folds a validation report into a single error wrapping
// interfaces.ErrConfiguration, for callers that propagate rather than
// render the report.
func CombineErrors(errs []ValidationError) error {
	if len(errs) == 0 {
		return nil
	}

	var combined *multierror.Error
	for _, e := range errs {
		combined = multierror.Append(combined, e)
	}
	return fmt.Errorf("%w: %s", interfaces.ErrConfiguration, combined.Error())
}

func missingRequiredFields(cfg Config) []string {
	var missing []string
	if cfg.Name == "" {
		missing = append(missing, "name")
	}
	if cfg.Version == "" {
		missing = append(missing, "version")
	}
	if cfg.Repo == "" {
		missing = append(missing, "repo")
	}
	if cfg.Branch == "" {
		missing = append(missing, "branch")
	}
	return missing
}
