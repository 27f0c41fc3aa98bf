package publisher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opendata-etl/publisher/common/fingerprint"
	"github.com/opendata-etl/publisher/common/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingDetector wraps the real detector and records Update calls, so
// tests can assert on the order of observable side effects
type recordingDetector struct {
	inner *fingerprint.Detector
	ops   *[]string
}

func (d *recordingDetector) HasChanged(ctx context.Context, path string, method fingerprint.Method, refresh bool) (bool, error) {
	return d.inner.HasChanged(ctx, path, method, refresh)
}

func (d *recordingDetector) Update(ctx context.Context, path string, method fingerprint.Method) error {
	if err := d.inner.Update(ctx, path, method); err != nil {
		return err
	}
	*d.ops = append(*d.ops, "refresh")
	return nil
}

type fakeMirror struct {
	ops *[]string
	err error
}

func (m *fakeMirror) Upload(ctx context.Context, localPath, remoteDir string) error {
	if m.err != nil {
		return m.err
	}
	*m.ops = append(*m.ops, "upload "+remoteDir+"/"+filepath.Base(localPath))
	return nil
}

type fakePortal struct {
	ops  *[]string
	errs map[string]error
}

func (p *fakePortal) Publish(ctx context.Context, publicID string, unpublishFirst bool) error {
	if err := p.errs[publicID]; err != nil {
		return err
	}
	*p.ops = append(*p.ops, "publish "+publicID)
	return nil
}

type testEnv struct {
	publisher *Publisher
	mirror    *fakeMirror
	portal    *fakePortal
	detector  *fingerprint.Detector
	records   *fingerprint.FileRecords
	ops       []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := logger.New("error", "text")
	env := &testEnv{}
	env.records = fingerprint.NewFileRecords(filepath.Join(t.TempDir(), "fingerprints"))
	env.detector = fingerprint.NewDetector(env.records, log)
	env.mirror = &fakeMirror{ops: &env.ops}
	env.portal = &fakePortal{ops: &env.ops, errs: map[string]error{}}

	recorder := &recordingDetector{inner: env.detector, ops: &env.ops}
	env.publisher = New(recorder, env.mirror, env.portal, log)

	return env
}

func writeArtifact(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestPublishNewArtifact(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	artifact := writeArtifact(t, t.TempDir(), "out.csv", "a,b,c\n1,2,3\n")

	outcome, err := env.publisher.Publish(ctx, Request{
		ArtifactPath: artifact,
		RemoteDir:    "etl/demo",
		DatasetIDs:   []string{"100123"},
	})
	require.NoError(t, err)
	assert.Equal(t, Published, outcome)

	// Commit order: upload, then publish, then fingerprint refresh
	assert.Equal(t, []string{
		"upload etl/demo/out.csv",
		"publish 100123",
		"refresh",
	}, env.ops)

	_, ok, err := env.records.Read(ctx, artifact, fingerprint.MethodContent)
	require.NoError(t, err)
	assert.True(t, ok, "a sidecar must exist after a successful publish")
}

func TestPublishUnchangedIsANoop(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	artifact := writeArtifact(t, t.TempDir(), "out.csv", "a,b,c\n1,2,3\n")

	req := Request{ArtifactPath: artifact, RemoteDir: "etl/demo", DatasetIDs: []string{"100123"}}

	_, err := env.publisher.Publish(ctx, req)
	require.NoError(t, err)

	env.ops = nil
	outcome, err := env.publisher.Publish(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, SkippedNoChange, outcome)
	assert.Empty(t, env.ops, "a no-op run performs neither upload nor portal command")
}

func TestPublishModifiedArtifact(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	dir := t.TempDir()
	artifact := writeArtifact(t, dir, "out.csv", "a,b,c\n1,2,3\n")

	req := Request{ArtifactPath: artifact, RemoteDir: "etl/demo", DatasetIDs: []string{"100123"}}

	_, err := env.publisher.Publish(ctx, req)
	require.NoError(t, err)

	writeArtifact(t, dir, "out.csv", "a,b,c\n1,2,4\n")

	env.ops = nil
	outcome, err := env.publisher.Publish(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, Published, outcome)
	assert.Equal(t, []string{"upload etl/demo/out.csv", "publish 100123", "refresh"}, env.ops)

	record, ok, err := env.records.Read(ctx, artifact, fingerprint.MethodContent)
	require.NoError(t, err)
	require.True(t, ok)
	current, err := fingerprint.Compute(artifact, fingerprint.MethodContent)
	require.NoError(t, err)
	assert.Equal(t, current.Checksum, record.Checksum, "the sidecar carries the new checksum")
}

func TestPortalFailureLeavesFingerprintUntouched(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	artifact := writeArtifact(t, t.TempDir(), "out.csv", "a,b,c\n1,2,3\n")

	req := Request{ArtifactPath: artifact, RemoteDir: "etl/demo", DatasetIDs: []string{"100123"}}

	env.portal.errs["100123"] = errors.New("portal returned 500")
	_, err := env.publisher.Publish(ctx, req)
	require.Error(t, err)

	// Upload happened, fingerprint did not move
	assert.Equal(t, []string{"upload etl/demo/out.csv"}, env.ops)
	_, ok, err := env.records.Read(ctx, artifact, fingerprint.MethodContent)
	require.NoError(t, err)
	assert.False(t, ok)

	// A follow-up run with the portal healthy completes the full cycle
	env.ops = nil
	delete(env.portal.errs, "100123")
	outcome, err := env.publisher.Publish(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, Published, outcome)
	assert.Equal(t, []string{"upload etl/demo/out.csv", "publish 100123", "refresh"}, env.ops)
}

func TestUploadFailureAborts(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	artifact := writeArtifact(t, t.TempDir(), "out.csv", "a,b,c\n")

	env.mirror.err = errors.New("connection reset")
	_, err := env.publisher.Publish(ctx, Request{
		ArtifactPath: artifact,
		RemoteDir:    "etl/demo",
		DatasetIDs:   []string{"100123"},
	})
	require.Error(t, err)
	assert.Empty(t, env.ops, "no portal command after a failed upload")

	_, ok, readErr := env.records.Read(ctx, artifact, fingerprint.MethodContent)
	require.NoError(t, readErr)
	assert.False(t, ok)
}

func TestEmbargoGating(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	artifact := writeArtifact(t, t.TempDir(), "out.csv", "a,b,c\n")

	release := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	req := Request{
		ArtifactPath: artifact,
		RemoteDir:    "etl/demo",
		DatasetIDs:   []string{"100123"},
		Embargo:      release,
	}

	// Before the release instant: nothing happens
	env.publisher.now = func() time.Time { return release.Add(-time.Minute) }
	outcome, err := env.publisher.Publish(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, SkippedEmbargo, outcome)
	assert.Empty(t, env.ops)

	// At the release instant: behaves like the embargo-free variant
	env.publisher.now = func() time.Time { return release }
	outcome, err = env.publisher.Publish(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, Published, outcome)
}

func TestBatchToleratesIndividualFailures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	artifact := writeArtifact(t, t.TempDir(), "out.csv", "a,b,c\n")

	env.portal.errs["100456"] = errors.New("dataset stuck")
	_, err := env.publisher.Publish(ctx, Request{
		ArtifactPath: artifact,
		RemoteDir:    "etl/demo",
		DatasetIDs:   []string{"100123", "100456", "100789"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "100456")

	// The failing dataset did not block the others
	assert.Equal(t, []string{
		"upload etl/demo/out.csv",
		"publish 100123",
		"publish 100789",
	}, env.ops)

	// And the aggregate failure kept the fingerprint untouched for retry
	_, ok, readErr := env.records.Read(ctx, artifact, fingerprint.MethodContent)
	require.NoError(t, readErr)
	assert.False(t, ok)
}

func TestPublishMissingArtifact(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.publisher.Publish(context.Background(), Request{
		ArtifactPath: "/nonexistent/out.csv",
		RemoteDir:    "etl/demo",
		DatasetIDs:   []string{"100123"},
	})
	assert.ErrorIs(t, err, fingerprint.ErrArtifactMissing)
}

func TestPublishValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.publisher.Publish(ctx, Request{RemoteDir: "etl/demo", DatasetIDs: []string{"100123"}})
	assert.Error(t, err)

	_, err = env.publisher.Publish(ctx, Request{ArtifactPath: "/tmp/out.csv", RemoteDir: "etl/demo"})
	assert.Error(t, err)
}

func TestModTimeMethodDrivesFullCycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	artifact := writeArtifact(t, t.TempDir(), "out.csv", "a,b,c\n")

	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(artifact, base, base))

	req := Request{
		ArtifactPath: artifact,
		RemoteDir:    "etl/demo",
		DatasetIDs:   []string{"100123"},
		Method:       fingerprint.MethodModTime,
	}

	_, err := env.publisher.Publish(ctx, req)
	require.NoError(t, err)

	// Externally produced file: mtime advances, bytes identical
	touched := base.Add(time.Hour)
	require.NoError(t, os.Chtimes(artifact, touched, touched))

	env.ops = nil
	outcome, err := env.publisher.Publish(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, Published, outcome)
	assert.Equal(t, []string{"upload etl/demo/out.csv", "publish 100123", "refresh"}, env.ops)
}
