package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/enclave-build-pipeline/interfaces"
)

// Publisher persists release artifacts under the versioned namespace and
// creates the external release record. Publication is idempotent and
// exactly-once per (app name, version): an identical republish is a
// verified no-op, a different one is a conflict, and nothing is ever
// silently overwritten.
type Publisher struct {
	store    interfaces.ArtifactBackend
	releases interfaces.ReleaseHost
	log      *slog.Logger
}

// NewPublisher creates an artifact publisher.
func NewPublisher(store interfaces.ArtifactBackend, releases interfaces.ReleaseHost, log *slog.Logger) *Publisher {
	return &Publisher{store: store, releases: releases, log: log}
}

// Publish writes the enclave image, measurement set, metadata record, and
// raw build log under <app>/<version>/ and creates the release record.
//
// The enclave image is written last and doubles as the publication
// marker, so a run that died mid-write is completed by a retry rather
// than rejected. If the release record creation failed after the storage
// writes succeeded, retrying reaches the identical-content path and only
// the missing release record is created.
func (p *Publisher) Publish(ctx context.Context, eif []byte, measurements interfaces.MeasurementSet, metadata interfaces.BuildMetadata, buildLog []byte) (interfaces.PublishResult, error) {
	key := interfaces.ArtifactKey{App: metadata.AppName, Version: metadata.Version}
	if err := key.Validate(); err != nil {
		return interfaces.PublishResult{}, err
	}
	if err := measurements.Validate(); err != nil {
		return interfaces.PublishResult{}, err
	}

	published, err := p.store.Exists(ctx, key, interfaces.EnclaveImageFile)
	if err != nil {
		return interfaces.PublishResult{}, fmt.Errorf("failed to check existing publication: %w", err)
	}

	alreadyPublished := false
	if published {
		if err := p.verifyIdentical(ctx, key, eif, measurements); err != nil {
			return interfaces.PublishResult{}, err
		}
		alreadyPublished = true
		p.log.Info("Version already published with identical content",
			slog.String("app", key.App.String()),
			slog.String("version", key.Version.String()))
	} else {
		if err := p.writeArtifacts(ctx, key, eif, measurements, metadata, buildLog); err != nil {
			return interfaces.PublishResult{}, err
		}
	}

	measurementsDoc, err := marshalMeasurements(measurements)
	if err != nil {
		return interfaces.PublishResult{}, err
	}
	metadataDoc, err := metadata.Marshal()
	if err != nil {
		return interfaces.PublishResult{}, err
	}

	if err := p.ensureRelease(ctx, key, eif, measurementsDoc, metadataDoc); err != nil {
		return interfaces.PublishResult{}, err
	}

	return interfaces.PublishResult{
		Tag: key.ReleaseTag(),
		Files: []string{
			key.Path(interfaces.EnclaveImageFile),
			key.Path(interfaces.MeasurementsFile),
			key.Path(interfaces.MetadataFile),
			key.Path(interfaces.BuildLogFile),
		},
		AlreadyPublished: alreadyPublished,
	}, nil
}

// verifyIdentical compares the new artifacts against the published ones.
// Any difference is a publish conflict reporting the mismatched fields; a
// content change requires a new version number.
func (p *Publisher) verifyIdentical(ctx context.Context, key interfaces.ArtifactKey, eif []byte, measurements interfaces.MeasurementSet) error {
	var mismatches []string

	existingEIF, err := p.store.Fetch(ctx, key, interfaces.EnclaveImageFile)
	if err != nil {
		return fmt.Errorf("failed to fetch published enclave image: %w", err)
	}
	if sha256.Sum256(existingEIF) != sha256.Sum256(eif) {
		mismatches = append(mismatches, "artifact checksum")
	}

	existingDoc, err := p.store.Fetch(ctx, key, interfaces.MeasurementsFile)
	if err != nil {
		return fmt.Errorf("failed to fetch published measurements: %w", err)
	}
	var existing interfaces.MeasurementSet
	if err := json.Unmarshal(existingDoc, &existing); err != nil {
		return fmt.Errorf("published measurements are unreadable: %w", err)
	}
	for _, register := range existing.Diff(measurements) {
		mismatches = append(mismatches, "measurement "+register)
	}

	if len(mismatches) > 0 {
		return fmt.Errorf("%w: %s/%s: %s", interfaces.ErrPublishConflict,
			key.App, key.Version, strings.Join(mismatches, ", "))
	}
	return nil
}

func (p *Publisher) writeArtifacts(ctx context.Context, key interfaces.ArtifactKey, eif []byte, measurements interfaces.MeasurementSet, metadata interfaces.BuildMetadata, buildLog []byte) error {
	measurementsDoc, err := marshalMeasurements(measurements)
	if err != nil {
		return err
	}
	metadataDoc, err := metadata.Marshal()
	if err != nil {
		return err
	}

	// The enclave image goes last: its presence marks the publication as
	// complete for the existence check above.
	writes := []struct {
		file string
		data []byte
	}{
		{interfaces.BuildLogFile, buildLog},
		{interfaces.MeasurementsFile, measurementsDoc},
		{interfaces.MetadataFile, metadataDoc},
		{interfaces.EnclaveImageFile, eif},
	}

	for _, w := range writes {
		if err := p.store.Store(ctx, key, w.file, w.data); err != nil {
			return fmt.Errorf("failed to store %s: %w", key.Path(w.file), err)
		}
	}

	p.log.Info("Stored release artifacts",
		slog.String("app", key.App.String()),
		slog.String("version", key.Version.String()),
		slog.Int("eif_size", len(eif)))

	return nil
}

func (p *Publisher) ensureRelease(ctx context.Context, key interfaces.ArtifactKey, eif, measurementsDoc, metadataDoc []byte) error {
	tag := key.ReleaseTag()

	exists, err := p.releases.ReleaseExists(ctx, tag)
	if err != nil {
		return fmt.Errorf("failed to check release %s: %w", tag, err)
	}
	if exists {
		return nil
	}

	files := []interfaces.ReleaseFile{
		{Name: interfaces.EnclaveImageFile, Data: eif},
		{Name: interfaces.MeasurementsFile, Data: measurementsDoc},
		{Name: interfaces.MetadataFile, Data: metadataDoc},
	}
	if err := p.releases.CreateRelease(ctx, tag, files); err != nil {
		return fmt.Errorf("failed to create release %s: %w", tag, err)
	}
	return nil
}

func marshalMeasurements(measurements interfaces.MeasurementSet) ([]byte, error) {
	doc, err := json.MarshalIndent(measurements, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal measurements: %w", err)
	}
	return append(doc, '\n'), nil
}
