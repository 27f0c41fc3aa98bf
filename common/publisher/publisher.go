package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opendata-etl/publisher/common/fingerprint"
	"github.com/opendata-etl/publisher/common/logger"
)

// Outcome is the result of a publish attempt
type Outcome string

const (
	// Published means the full upload -> publish -> refresh cycle ran
	Published Outcome = "published"
	// SkippedNoChange means the artifact's fingerprint matched the record
	SkippedNoChange Outcome = "skipped; no change"
	// SkippedEmbargo means the release time has not passed yet
	SkippedEmbargo Outcome = "skipped; embargo pending"
)

// ChangeDetector answers whether an artifact changed and records new state
type ChangeDetector interface {
	HasChanged(ctx context.Context, path string, method fingerprint.Method, refresh bool) (bool, error)
	Update(ctx context.Context, path string, method fingerprint.Method) error
}

// Mirror ships a local file into a remote directory
type Mirror interface {
	Upload(ctx context.Context, localPath, remoteDir string) error
}

// Portal republishes a dataset identified by its public id
type Portal interface {
	Publish(ctx context.Context, publicID string, unpublishFirst bool) error
}

// Request describes one publish-if-changed cycle. A single artifact may
// back several portal datasets, so DatasetIDs takes one or many ids behind
// the same façade.
type Request struct {
	ArtifactPath string
	RemoteDir    string
	DatasetIDs   []string
	// Method defaults to fingerprint.MethodContent
	Method fingerprint.Method
	// Embargo, when set, blocks publication until the instant has passed.
	// It is re-evaluated each run and never persisted.
	Embargo time.Time
	// UnpublishFirst forces the unpublish-then-publish path on the portal
	UnpublishFirst bool
}

// Publisher is the façade every ETL job calls after producing an artifact:
// mirror the file and republish the matching portal datasets, but only if
// the file actually changed, and record the new fingerprint on success.
type Publisher struct {
	detector ChangeDetector
	mirror   Mirror
	portal   Portal
	log      *logger.Logger
	now      func() time.Time
}

// New creates a new publisher
func New(detector ChangeDetector, mirror Mirror, portal Portal, log *logger.Logger) *Publisher {
	return &Publisher{
		detector: detector,
		mirror:   mirror,
		portal:   portal,
		log:      log,
		now:      time.Now,
	}
}

// Publish runs one publish-if-changed cycle.
//
// The fingerprint is refreshed strictly after the last dataset publish has
// completed. Any failure before that leaves the record untouched, so the
// next scheduled run repeats the whole cycle; upload and publish are both
// idempotent on the remote side.
func (p *Publisher) Publish(ctx context.Context, req Request) (Outcome, error) {
	if req.ArtifactPath == "" {
		return "", fmt.Errorf("artifact path is required")
	}
	if len(req.DatasetIDs) == 0 {
		return "", fmt.Errorf("at least one dataset id is required")
	}

	method := req.Method
	if method == "" {
		method = fingerprint.MethodContent
	}

	log := p.log.WithArtifact(req.ArtifactPath).WithFields(map[string]any{
		"run_id": uuid.New().String(),
	})

	if !req.Embargo.IsZero() && p.now().Before(req.Embargo) {
		log.Info("embargo pending, skipping publication",
			"embargo", req.Embargo.Format(time.RFC3339),
		)
		return SkippedEmbargo, nil
	}

	changed, err := p.detector.HasChanged(ctx, req.ArtifactPath, method, false)
	if err != nil {
		return "", err
	}
	if !changed {
		log.Info("artifact unchanged since last publish, nothing to do")
		return SkippedNoChange, nil
	}

	if err := p.mirror.Upload(ctx, req.ArtifactPath, req.RemoteDir); err != nil {
		return "", fmt.Errorf("upload %s: %w", req.ArtifactPath, err)
	}

	// One failing dataset must not block the others; collect and re-raise
	// an aggregate after attempting all of them.
	var failures []error
	for _, id := range req.DatasetIDs {
		if err := p.portal.Publish(ctx, id, req.UnpublishFirst); err != nil {
			log.Error("dataset publish failed", "dataset_id", id, "error", err)
			failures = append(failures, fmt.Errorf("publish dataset %s: %w", id, err))
		}
	}
	if len(failures) > 0 {
		return "", errors.Join(failures...)
	}

	if err := p.detector.Update(ctx, req.ArtifactPath, method); err != nil {
		return "", fmt.Errorf("record fingerprint after publish: %w", err)
	}

	log.Info("publication cycle complete", "datasets", req.DatasetIDs)
	return Published, nil
}
