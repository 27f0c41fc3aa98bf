package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Method selects how an artifact's state is summarized
type Method string

const (
	// MethodContent fingerprints the artifact's bytes with a checksum
	MethodContent Method = "content"
	// MethodModTime fingerprints the artifact's filesystem mtime
	MethodModTime Method = "modtime"
)

// Sidecar filename suffixes, one per method so the two never share storage
const (
	suffixContent = ".sha256"
	suffixModTime = ".mtime"
)

// Common errors returned by the fingerprint package
var (
	// ErrArtifactMissing is returned when the tracked file does not exist
	ErrArtifactMissing = errors.New("artifact does not exist")
	// ErrUnknownMethod is returned for a method this package does not know
	ErrUnknownMethod = errors.New("unknown fingerprint method")
)

// Record is the persisted summary of an artifact's state at the time of
// its last successful publish
type Record struct {
	Method Method
	// Path is the artifact path the record was taken from
	Path string
	// Checksum is set for MethodContent (hex encoded)
	Checksum string
	// ModTimeEpoch and ModTimeUTC are set for MethodModTime.
	// ModTimeUTC is the same instant rendered as ISO-8601 at second
	// resolution in UTC.
	ModTimeEpoch int64
	ModTimeUTC   string
}

// Records is the storage backend for fingerprint records. FileRecords keeps
// sidecar files on the local filesystem; PGRecords keeps rows in Postgres
// for fleets that share one registry across hosts.
type Records interface {
	// Read returns the stored record for (path, method), or ok=false if
	// none exists. Absence is not an error.
	Read(ctx context.Context, path string, method Method) (*Record, bool, error)

	// Write computes the artifact's current fingerprint and persists it,
	// replacing any previous record for (path, method).
	Write(ctx context.Context, path string, method Method) (*Record, error)
}

// Compute takes the artifact's current fingerprint without persisting it.
// Returns ErrArtifactMissing if the artifact does not exist.
func Compute(path string, method Method) (*Record, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactMissing, path)
		}
		return nil, fmt.Errorf("stat artifact: %w", err)
	}

	switch method {
	case MethodContent:
		sum, err := checksumFile(path)
		if err != nil {
			return nil, err
		}
		return &Record{Method: method, Path: path, Checksum: sum}, nil
	case MethodModTime:
		mtime := info.ModTime().UTC().Truncate(time.Second)
		return &Record{
			Method:       method,
			Path:         path,
			ModTimeEpoch: mtime.Unix(),
			ModTimeUTC:   mtime.Format(time.RFC3339),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

// Equal reports whether two records describe the same artifact state.
// Content records compare checksum strings; mtime records compare the
// epoch field, so a bare mtime tick counts as a change.
func (r *Record) Equal(other *Record) bool {
	if r.Method != other.Method {
		return false
	}
	switch r.Method {
	case MethodContent:
		return r.Checksum == other.Checksum
	case MethodModTime:
		return r.ModTimeEpoch == other.ModTimeEpoch
	default:
		return false
	}
}

// PathKey returns the collision-resistant lookup key for an artifact path:
// the hex SHA-256 of the absolute path string. Deterministic across
// processes and machines.
func PathKey(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])
}

func suffix(method Method) (string, error) {
	switch method {
	case MethodContent:
		return suffixContent, nil
	case MethodModTime:
		return suffixModTime, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrArtifactMissing, path)
		}
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
