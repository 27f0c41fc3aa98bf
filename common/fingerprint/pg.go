package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/opendata-etl/publisher/common/db"
)

// PGRecords stores fingerprint records in Postgres. Used by fleets whose
// jobs run on more than one host but must share a single registry; the
// semantics are identical to FileRecords.
type PGRecords struct {
	db *db.DB
}

// NewPGRecords creates a Postgres-backed record store
func NewPGRecords(database *db.DB) *PGRecords {
	return &PGRecords{db: database}
}

// EnsureSchema creates the fingerprint table if it does not exist
func EnsureSchema(ctx context.Context, database *db.DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS fingerprint (
			path_key      TEXT NOT NULL,
			method        TEXT NOT NULL,
			artifact_path TEXT NOT NULL,
			checksum      TEXT,
			mtime_epoch   BIGINT,
			mtime_utc     TEXT,
			recorded_at   TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (path_key, method)
		)
	`

	if _, err := database.Exec(ctx, query); err != nil {
		return fmt.Errorf("create fingerprint table: %w", err)
	}

	return nil
}

// Write computes the artifact's current fingerprint and upserts its row
func (s *PGRecords) Write(ctx context.Context, path string, method Method) (*Record, error) {
	record, err := Compute(path, method)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO fingerprint (path_key, method, artifact_path, checksum, mtime_epoch, mtime_utc, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (path_key, method) DO UPDATE
		SET artifact_path = EXCLUDED.artifact_path,
		    checksum = EXCLUDED.checksum,
		    mtime_epoch = EXCLUDED.mtime_epoch,
		    mtime_utc = EXCLUDED.mtime_utc,
		    recorded_at = EXCLUDED.recorded_at
	`

	_, err = s.db.Exec(
		ctx,
		query,
		PathKey(path),
		string(method),
		record.Path,
		record.Checksum,
		record.ModTimeEpoch,
		record.ModTimeUTC,
		time.Now(),
	)

	if err != nil {
		return nil, fmt.Errorf("failed to write fingerprint: %w", err)
	}

	return record, nil
}

// Read returns the stored record, or ok=false if no row exists
func (s *PGRecords) Read(ctx context.Context, path string, method Method) (*Record, bool, error) {
	query := `
		SELECT artifact_path, checksum, mtime_epoch, mtime_utc
		FROM fingerprint
		WHERE path_key = $1 AND method = $2
	`

	record := &Record{Method: method}
	err := s.db.QueryRow(ctx, query, PathKey(path), string(method)).Scan(
		&record.Path,
		&record.Checksum,
		&record.ModTimeEpoch,
		&record.ModTimeUTC,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read fingerprint: %w", err)
	}

	return record, true, nil
}

var _ Records = (*PGRecords)(nil)
