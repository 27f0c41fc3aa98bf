package fingerprint

import (
	"context"
	"fmt"

	"github.com/opendata-etl/publisher/common/logger"
)

// Detector answers "has this artifact changed since the last successful
// publish?" over any Records backend
type Detector struct {
	records Records
	log     *logger.Logger
}

// NewDetector creates a new change detector
func NewDetector(records Records, log *logger.Logger) *Detector {
	return &Detector{
		records: records,
		log:     log,
	}
}

// HasChanged compares the artifact's current fingerprint against the stored
// record. An artifact with no record counts as changed (first sight). When
// refresh is true and the artifact did change, the record is updated before
// returning.
func (d *Detector) HasChanged(ctx context.Context, path string, method Method, refresh bool) (bool, error) {
	current, err := Compute(path, method)
	if err != nil {
		return false, err
	}

	stored, ok, err := d.records.Read(ctx, path, method)
	if err != nil {
		return false, fmt.Errorf("read fingerprint: %w", err)
	}

	changed := !ok || !stored.Equal(current)

	if !ok {
		d.log.Debug("no fingerprint on record, treating as changed",
			"artifact", path,
			"method", method,
		)
	}

	if refresh && changed {
		if _, err := d.records.Write(ctx, path, method); err != nil {
			return false, fmt.Errorf("refresh fingerprint: %w", err)
		}
	}

	return changed, nil
}

// Update unconditionally records the artifact's current fingerprint. The
// orchestrator calls this after a successful publish cycle; it is the
// commit record of the pipeline.
func (d *Detector) Update(ctx context.Context, path string, method Method) error {
	record, err := d.records.Write(ctx, path, method)
	if err != nil {
		return err
	}

	d.log.Info("fingerprint updated",
		"artifact", path,
		"method", method,
		"checksum", record.Checksum,
		"mtime", record.ModTimeUTC,
	)

	return nil
}
