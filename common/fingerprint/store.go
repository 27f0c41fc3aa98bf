package fingerprint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FileRecords stores one sidecar file per (artifact, method) pair under a
// configured directory. The sidecar formats are a documented external
// interface: any process on the same host may read them on the next run.
//
//	content: "<artifact_path> <hex checksum>"
//	modtime: "<epoch>,<iso8601_seconds_utc>,<artifact_path>"
type FileRecords struct {
	dir string
}

// NewFileRecords creates a sidecar store rooted at dir. The directory is
// created lazily on first write.
func NewFileRecords(dir string) *FileRecords {
	return &FileRecords{dir: dir}
}

// Locate returns the sidecar path for (path, method). Pure: it touches
// neither the artifact nor the store.
func (s *FileRecords) Locate(path string, method Method) (string, error) {
	sfx, err := suffix(method)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, PathKey(path)+sfx), nil
}

// Write computes the artifact's current fingerprint and persists the sidecar
func (s *FileRecords) Write(ctx context.Context, path string, method Method) (*Record, error) {
	record, err := Compute(path, method)
	if err != nil {
		return nil, err
	}

	sidecar, err := s.Locate(path, method)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create fingerprint dir: %w", err)
	}

	if err := os.WriteFile(sidecar, []byte(encode(record)), 0o644); err != nil {
		return nil, fmt.Errorf("write sidecar: %w", err)
	}

	return record, nil
}

// Read returns the stored record, or ok=false if no sidecar exists
func (s *FileRecords) Read(ctx context.Context, path string, method Method) (*Record, bool, error) {
	sidecar, err := s.Locate(path, method)
	if err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(sidecar)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read sidecar: %w", err)
	}

	record, err := decode(strings.TrimRight(string(data), "\n"), method)
	if err != nil {
		return nil, false, fmt.Errorf("parse sidecar %s: %w", sidecar, err)
	}

	return record, true, nil
}

func encode(r *Record) string {
	switch r.Method {
	case MethodModTime:
		return fmt.Sprintf("%d,%s,%s\n", r.ModTimeEpoch, r.ModTimeUTC, r.Path)
	default:
		return fmt.Sprintf("%s %s\n", r.Path, r.Checksum)
	}
}

func decode(line string, method Method) (*Record, error) {
	switch method {
	case MethodContent:
		// The path may contain spaces, the checksum never does
		idx := strings.LastIndex(line, " ")
		if idx < 0 {
			return nil, fmt.Errorf("malformed content sidecar line")
		}
		return &Record{
			Method:   method,
			Path:     line[:idx],
			Checksum: line[idx+1:],
		}, nil
	case MethodModTime:
		parts := strings.SplitN(line, ",", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed modtime sidecar line")
		}
		epoch, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed epoch field: %w", err)
		}
		return &Record{
			Method:       method,
			Path:         parts[2],
			ModTimeEpoch: epoch,
			ModTimeUTC:   parts[1],
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

// compile-time interface check
var _ Records = (*FileRecords)(nil)
