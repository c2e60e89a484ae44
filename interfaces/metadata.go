package interfaces

import (
	"encoding/json"
	"fmt"

	"github.com/opencontainers/go-digest"
)

// BuildMetadata is the published build metadata record. It binds the
// released artifacts to the exact inputs that produced them.
type BuildMetadata struct {
	AppName         AppName         `json:"app_name"`
	Version         AppVersion      `json:"version"`
	Commit          string          `json:"commit"`
	CommitSource    CommitSource    `json:"commit_source"`
	SourceDateEpoch int64           `json:"source_date_epoch"`
	TimestampSource TimestampSource `json:"timestamp_source"`
	ImageDigest     digest.Digest   `json:"image_digest"`
	DebugMode       bool            `json:"debug_mode"`

	// BuildLogRef points at the raw build log within the published
	// namespace.
	BuildLogRef string `json:"build_log_ref"`
}

// BuildMetadataFrom derives the metadata record from a stage one result.
func BuildMetadataFrom(result StageOneResult) BuildMetadata {
	req := result.Request
	key := ArtifactKey{App: req.AppName, Version: req.Version}
	return BuildMetadata{
		AppName:         req.AppName,
		Version:         req.Version,
		Commit:          req.Commit,
		CommitSource:    req.CommitSource,
		SourceDateEpoch: req.SourceDateEpoch,
		TimestampSource: req.TimestampSource,
		ImageDigest:     result.Image.Digest,
		DebugMode:       req.DebugMode,
		BuildLogRef:     key.Path(BuildLogFile),
	}
}

// Marshal serializes the record for publication.
func (m BuildMetadata) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal build metadata: %w", err)
	}
	return append(data, '\n'), nil
}

// PublishResult reports the outcome of a publication attempt.
type PublishResult struct {
	// Tag is the external release tag.
	Tag string `json:"tag"`

	// Files lists the published artifact paths.
	Files []string `json:"files"`

	// AlreadyPublished is true when the key had identical content
	// published before and the attempt was a verified no-op.
	AlreadyPublished bool `json:"already_published"`
}
