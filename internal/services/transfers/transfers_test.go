package transferservice

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nverdin/camera_archive/internal/config"
	"github.com/nverdin/camera_archive/internal/domain/errs"
	"github.com/nverdin/camera_archive/internal/domain/models"
)

type fakeLedger struct {
	mu    sync.Mutex
	byID  map[string]*models.Transfer
	byRec map[string]string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		byID:  make(map[string]*models.Transfer),
		byRec: make(map[string]string),
	}
}

func (l *fakeLedger) Create(tr models.Transfer) (models.Transfer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id, ok := l.byRec[tr.RecordingID]; ok {
		return *l.byID[id], nil
	}

	tr.Status = models.TransferStatusPending
	tr.CreatedAt = time.Now()
	tr.UpdatedAt = time.Now()

	l.byID[tr.TransferID] = &tr
	l.byRec[tr.RecordingID] = tr.TransferID

	return tr, nil
}

func (l *fakeLedger) Transfer(transferID string) (models.Transfer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tr, ok := l.byID[transferID]
	if !ok {
		return models.Transfer{}, errs.ErrTransferNotFound
	}

	return *tr, nil
}

func (l *fakeLedger) ByRecording(recordingID string) (models.Transfer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, ok := l.byRec[recordingID]
	if !ok {
		return models.Transfer{}, errs.ErrTransferNotFound
	}

	return *l.byID[id], nil
}

func (l *fakeLedger) Claim(transferID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tr, ok := l.byID[transferID]
	if !ok {
		return errs.ErrTransferNotFound
	}

	if tr.Status != models.TransferStatusPending && tr.Status != models.TransferStatusFailed {
		return errs.ErrTransferClaimed
	}

	tr.Status = models.TransferStatusUploading
	tr.UploadStartedAt = sql.NullTime{Time: time.Now(), Valid: true}
	tr.UpdatedAt = time.Now()

	return nil
}

func (l *fakeLedger) Complete(transferID, remotePath string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tr, ok := l.byID[transferID]
	if !ok || tr.Status != models.TransferStatusUploading {
		return errs.ErrTransferNotFound
	}

	tr.Status = models.TransferStatusCompleted
	tr.RemotePath = remotePath
	tr.ErrorMessage = ""
	tr.UploadCompletedAt = sql.NullTime{Time: time.Now(), Valid: true}
	tr.UpdatedAt = time.Now()

	return nil
}

func (l *fakeLedger) Fail(transferID, errorMessage string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tr, ok := l.byID[transferID]
	if !ok || tr.Status != models.TransferStatusUploading {
		return errs.ErrTransferNotFound
	}

	tr.Status = models.TransferStatusFailed
	tr.ErrorMessage = errorMessage
	tr.RetryCount++
	tr.UpdatedAt = time.Now()

	return nil
}

func (l *fakeLedger) ScheduleCleanup(transferID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tr, ok := l.byID[transferID]
	if !ok {
		return errs.ErrTransferNotFound
	}

	if tr.Status != models.TransferStatusCompleted {
		return errs.ErrTransferClaimed
	}

	tr.Status = models.TransferStatusCleanupPending
	tr.CleanupScheduledAt = sql.NullTime{Time: time.Now(), Valid: true}
	tr.UpdatedAt = time.Now()

	return nil
}

func (l *fakeLedger) CompleteCleanup(transferID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tr, ok := l.byID[transferID]
	if !ok || tr.Status != models.TransferStatusCleanupPending {
		return errs.ErrTransferNotFound
	}

	tr.Status = models.TransferStatusCleanupCompleted
	tr.CleanupCompletedAt = sql.NullTime{Time: time.Now(), Valid: true}
	tr.UpdatedAt = time.Now()

	return nil
}

func (l *fakeLedger) DueForCleanup(grace time.Duration, limit int) ([]models.Transfer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var trs []models.Transfer
	for _, tr := range l.byID {
		if tr.Status == models.TransferStatusCleanupPending ||
			(tr.Status == models.TransferStatusCompleted &&
				tr.UploadCompletedAt.Valid &&
				time.Since(tr.UploadCompletedAt.Time) >= grace) {
			trs = append(trs, *tr)
		}
		if len(trs) == limit {
			break
		}
	}

	return trs, nil
}

func (l *fakeLedger) CompletedNotCleaned(limit int) ([]models.Transfer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var trs []models.Transfer
	for _, tr := range l.byID {
		if tr.Status == models.TransferStatusCompleted ||
			tr.Status == models.TransferStatusCleanupPending {
			trs = append(trs, *tr)
		}
		if len(trs) == limit {
			break
		}
	}

	return trs, nil
}

func (l *fakeLedger) StaleUploading(staleAfter time.Duration) ([]models.Transfer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var trs []models.Transfer
	for _, tr := range l.byID {
		if tr.Status == models.TransferStatusUploading &&
			tr.UploadStartedAt.Valid &&
			time.Since(tr.UploadStartedAt.Time) >= staleAfter {
			trs = append(trs, *tr)
		}
	}

	return trs, nil
}

func (l *fakeLedger) RetryableFailed(maxRetries, limit int) ([]models.Transfer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var trs []models.Transfer
	for _, tr := range l.byID {
		if tr.Status == models.TransferStatusFailed && tr.RetryCount < maxRetries {
			trs = append(trs, *tr)
		}
		if len(trs) == limit {
			break
		}
	}

	return trs, nil
}

func (l *fakeLedger) set(tr models.Transfer) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := tr
	l.byID[tr.TransferID] = &cp
	l.byRec[tr.RecordingID] = tr.TransferID
}

type fakeRecordings struct {
	mu        sync.Mutex
	local     []models.Recording
	remoteIDs map[string]string
}

func newFakeRecordings() *fakeRecordings {
	return &fakeRecordings{remoteIDs: make(map[string]string)}
}

func (r *fakeRecordings) Recording(recordingID string) (models.Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.local {
		if rec.RecordingID == recordingID {
			return rec, nil
		}
	}

	return models.Recording{}, errs.ErrRecordingNotFound
}

func (r *fakeRecordings) MarkRemote(recordingID, remoteKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.remoteIDs[recordingID] = remoteKey

	return nil
}

func (r *fakeRecordings) LocalCompleted(maxAge time.Duration, limit int) ([]models.Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.local) > limit {
		return r.local[:limit], nil
	}

	return r.local, nil
}

type fakeBackend struct {
	mu       sync.Mutex
	objects  map[string][]byte
	uploads  int
	failKeys map[string]error
	vanish   map[string]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		objects:  make(map[string][]byte),
		failKeys: make(map[string]error),
		vanish:   make(map[string]bool),
	}
}

func (b *fakeBackend) Upload(ctx context.Context, localPath, key, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err, ok := b.failKeys[key]; ok {
		return err
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}

	b.uploads++
	b.objects[key] = data

	return nil
}

func (b *fakeBackend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.vanish[key] {
		return false, nil
	}

	_, ok := b.objects[key]

	return ok, nil
}

func (b *fakeBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.objects, key)

	return nil
}

func (b *fakeBackend) URL(ctx context.Context, key string, signed bool, expiry time.Duration) (string, error) {
	return "fake://" + key, nil
}

func (b *fakeBackend) uploadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.uploads
}

func testConfig() config.Transfers {
	return config.Transfers{
		GracePeriod:    time.Hour,
		MaxRetries:     3,
		RetryBackoff:   time.Minute,
		StaleAfter:     30 * time.Minute,
		UploadTimeout:  time.Minute,
		SweepInterval:  5 * time.Minute,
		SweepBatchSize: 10,
		SweepWorkers:   2,
		SweepMaxAge:    24 * time.Hour,
		TempSuffix:     ".part",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeRecordingFile(t *testing.T, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("matroska bytes"), 0o644))

	return path
}

func newService(ledger *fakeLedger, recs *fakeRecordings, backend *fakeBackend) *TransferService {
	return New(discardLogger(), ledger, recs, backend, testConfig())
}

func TestSubmitUploadsAndCompletes(t *testing.T) {
	ledger := newFakeLedger()
	recs := newFakeRecordings()
	backend := newFakeBackend()
	svc := newService(ledger, recs, backend)

	path := writeRecordingFile(t, t.TempDir(), "rec1.mkv")
	rec := models.Recording{RecordingID: "rec1", CameraID: "cam1", FilePath: path, FileSize: 14}
	recs.local = append(recs.local, rec)

	require.NoError(t, svc.Submit(context.Background(), rec))

	tr, err := ledger.ByRecording("rec1")
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusCompleted, tr.Status)
	assert.True(t, tr.UploadCompletedAt.Valid)
	assert.Equal(t, 1, backend.uploadCount())
	assert.Equal(t, tr.RemotePath, recs.remoteIDs["rec1"])
}

func TestSubmitTwiceReusesEntry(t *testing.T) {
	ledger := newFakeLedger()
	recs := newFakeRecordings()
	backend := newFakeBackend()
	svc := newService(ledger, recs, backend)

	path := writeRecordingFile(t, t.TempDir(), "rec1.mkv")
	rec := models.Recording{RecordingID: "rec1", CameraID: "cam1", FilePath: path}
	recs.local = append(recs.local, rec)

	require.NoError(t, svc.Submit(context.Background(), rec))
	require.NoError(t, svc.Submit(context.Background(), rec))

	// Second submission finds the completed entry and must not re-upload.
	assert.Equal(t, 1, backend.uploadCount())
	assert.Len(t, ledger.byID, 1)
}

func TestUploadAlreadyCompletedIsSkipped(t *testing.T) {
	ledger := newFakeLedger()
	backend := newFakeBackend()
	svc := newService(ledger, newFakeRecordings(), backend)

	ledger.set(models.Transfer{
		TransferID:  "t1",
		RecordingID: "rec1",
		Status:      models.TransferStatusCompleted,
	})

	outcome, err := svc.Upload(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Equal(t, 0, backend.uploadCount())
}

func TestUploadSkipsTempFile(t *testing.T) {
	ledger := newFakeLedger()
	backend := newFakeBackend()
	svc := newService(ledger, newFakeRecordings(), backend)

	ledger.set(models.Transfer{
		TransferID:  "t1",
		RecordingID: "rec1",
		LocalPath:   "/videos/cam1/rec1.mkv.part",
		Status:      models.TransferStatusPending,
	})

	outcome, err := svc.Upload(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Equal(t, 0, backend.uploadCount())
}

func TestUploadSourceMissingIsTerminal(t *testing.T) {
	ledger := newFakeLedger()
	backend := newFakeBackend()
	svc := newService(ledger, newFakeRecordings(), backend)

	ledger.set(models.Transfer{
		TransferID:  "t1",
		RecordingID: "rec1",
		LocalPath:   filepath.Join(t.TempDir(), "gone.mkv"),
		Status:      models.TransferStatusPending,
	})

	outcome, err := svc.Upload(context.Background(), "t1")
	assert.Equal(t, OutcomeFailed, outcome)
	assert.ErrorIs(t, err, errs.ErrSourceMissing)

	tr, err := ledger.Transfer("t1")
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusFailed, tr.Status)
	assert.Equal(t, errs.ErrSourceMissing.Error(), tr.ErrorMessage)
}

func TestUploadLostClaimIsSkipped(t *testing.T) {
	ledger := newFakeLedger()
	backend := newFakeBackend()
	svc := newService(ledger, newFakeRecordings(), backend)

	path := writeRecordingFile(t, t.TempDir(), "rec1.mkv")

	// Another worker already holds the claim.
	ledger.set(models.Transfer{
		TransferID:  "t1",
		RecordingID: "rec1",
		LocalPath:   path,
		Status:      models.TransferStatusUploading,
	})

	outcome, err := svc.Upload(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Equal(t, 0, backend.uploadCount())
}

func TestUploadBackendFailureIncrementsRetry(t *testing.T) {
	ledger := newFakeLedger()
	backend := newFakeBackend()
	svc := newService(ledger, newFakeRecordings(), backend)

	path := writeRecordingFile(t, t.TempDir(), "rec1.mkv")
	key := "recordings/cam1/rec1/rec1.mkv"
	backend.failKeys[key] = errors.New("connection reset")

	ledger.set(models.Transfer{
		TransferID:  "t1",
		RecordingID: "rec1",
		LocalPath:   path,
		RemotePath:  key,
		Status:      models.TransferStatusPending,
	})

	outcome, err := svc.Upload(context.Background(), "t1")
	assert.Equal(t, OutcomeFailed, outcome)
	require.Error(t, err)

	tr, err := ledger.Transfer("t1")
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusFailed, tr.Status)
	assert.Equal(t, 1, tr.RetryCount)
	assert.Equal(t, errs.ErrTransientNetwork.Error(), tr.ErrorMessage)
}

func TestUploadVerificationMismatchKeepsLocalFile(t *testing.T) {
	ledger := newFakeLedger()
	backend := newFakeBackend()
	svc := newService(ledger, newFakeRecordings(), backend)

	path := writeRecordingFile(t, t.TempDir(), "rec1.mkv")
	key := "recordings/cam1/rec1/rec1.mkv"
	backend.vanish[key] = true

	ledger.set(models.Transfer{
		TransferID:  "t1",
		RecordingID: "rec1",
		LocalPath:   path,
		RemotePath:  key,
		Status:      models.TransferStatusPending,
	})

	outcome, err := svc.Upload(context.Background(), "t1")
	assert.Equal(t, OutcomeFailed, outcome)
	assert.ErrorIs(t, err, errs.ErrVerificationMismatch)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)

	tr, err := ledger.Transfer("t1")
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusFailed, tr.Status)
}

func TestSyncSweepOneFailureDoesNotAbortBatch(t *testing.T) {
	ledger := newFakeLedger()
	recs := newFakeRecordings()
	backend := newFakeBackend()
	svc := newService(ledger, recs, backend)

	dir := t.TempDir()
	for _, id := range []string{"rec1", "rec2", "rec3", "rec4", "rec5"} {
		path := writeRecordingFile(t, dir, id+".mkv")
		recs.local = append(recs.local, models.Recording{
			RecordingID: id,
			CameraID:    "cam1",
			FilePath:    path,
		})
	}

	backend.failKeys["recordings/cam1/rec3/rec3.mkv"] = errors.New("connection reset")

	report, err := svc.SyncSweep(context.Background(), SyncParams{})
	require.NoError(t, err)
	assert.Equal(t, 4, report.Synced)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Detail, "rec3")
}

func TestSyncSweepDryRunHasNoSideEffects(t *testing.T) {
	ledger := newFakeLedger()
	recs := newFakeRecordings()
	backend := newFakeBackend()
	svc := newService(ledger, recs, backend)

	path := writeRecordingFile(t, t.TempDir(), "rec1.mkv")
	recs.local = append(recs.local, models.Recording{
		RecordingID: "rec1",
		CameraID:    "cam1",
		FilePath:    path,
	})

	report, err := svc.SyncSweep(context.Background(), SyncParams{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 0, backend.uploadCount())
	assert.Empty(t, ledger.byID)
}

func TestSyncSweepSkipsMissingSource(t *testing.T) {
	ledger := newFakeLedger()
	recs := newFakeRecordings()
	backend := newFakeBackend()
	svc := newService(ledger, recs, backend)

	recs.local = append(recs.local, models.Recording{
		RecordingID: "rec1",
		CameraID:    "cam1",
		FilePath:    filepath.Join(t.TempDir(), "gone.mkv"),
	})

	report, err := svc.SyncSweep(context.Background(), SyncParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, ledger.byID)
}

func TestSyncSweepRespectsRetryBackoff(t *testing.T) {
	ledger := newFakeLedger()
	recs := newFakeRecordings()
	backend := newFakeBackend()
	svc := newService(ledger, recs, backend)

	path := writeRecordingFile(t, t.TempDir(), "rec1.mkv")
	recs.local = append(recs.local, models.Recording{
		RecordingID: "rec1",
		CameraID:    "cam1",
		FilePath:    path,
	})

	ledger.set(models.Transfer{
		TransferID:  "t1",
		RecordingID: "rec1",
		LocalPath:   path,
		RemotePath:  "recordings/cam1/rec1/rec1.mkv",
		Status:      models.TransferStatusFailed,
		RetryCount:  1,
		UpdatedAt:   time.Now(),
	})

	// Failed a moment ago with backoff 2m: not eligible yet.
	report, err := svc.SyncSweep(context.Background(), SyncParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, backend.uploadCount())

	// Backdate past the backoff window: eligible again.
	ledger.set(models.Transfer{
		TransferID:  "t1",
		RecordingID: "rec1",
		LocalPath:   path,
		RemotePath:  "recordings/cam1/rec1/rec1.mkv",
		Status:      models.TransferStatusFailed,
		RetryCount:  1,
		UpdatedAt:   time.Now().Add(-5 * time.Minute),
	})

	report, err = svc.SyncSweep(context.Background(), SyncParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 1, backend.uploadCount())
}

func TestSyncSweepExhaustedRetriesAreSkipped(t *testing.T) {
	ledger := newFakeLedger()
	recs := newFakeRecordings()
	backend := newFakeBackend()
	svc := newService(ledger, recs, backend)

	path := writeRecordingFile(t, t.TempDir(), "rec1.mkv")
	recs.local = append(recs.local, models.Recording{
		RecordingID: "rec1",
		CameraID:    "cam1",
		FilePath:    path,
	})

	ledger.set(models.Transfer{
		TransferID:  "t1",
		RecordingID: "rec1",
		LocalPath:   path,
		Status:      models.TransferStatusFailed,
		RetryCount:  3,
		UpdatedAt:   time.Now().Add(-24 * time.Hour),
	})

	report, err := svc.SyncSweep(context.Background(), SyncParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, backend.uploadCount())
}

func TestSyncSweepForceIgnoresBackoff(t *testing.T) {
	ledger := newFakeLedger()
	recs := newFakeRecordings()
	backend := newFakeBackend()
	svc := newService(ledger, recs, backend)

	path := writeRecordingFile(t, t.TempDir(), "rec1.mkv")
	recs.local = append(recs.local, models.Recording{
		RecordingID: "rec1",
		CameraID:    "cam1",
		FilePath:    path,
	})

	// Exhausted budget, failed seconds ago: only force may retry this.
	ledger.set(models.Transfer{
		TransferID:  "t1",
		RecordingID: "rec1",
		LocalPath:   path,
		RemotePath:  "recordings/cam1/rec1/rec1.mkv",
		Status:      models.TransferStatusFailed,
		RetryCount:  5,
		UpdatedAt:   time.Now(),
	})

	report, err := svc.SyncSweep(context.Background(), SyncParams{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 1, backend.uploadCount())
}

func TestSyncSweepRepairsRemotePointer(t *testing.T) {
	ledger := newFakeLedger()
	recs := newFakeRecordings()
	backend := newFakeBackend()
	svc := newService(ledger, recs, backend)

	path := writeRecordingFile(t, t.TempDir(), "rec1.mkv")
	recs.local = append(recs.local, models.Recording{
		RecordingID: "rec1",
		CameraID:    "cam1",
		FilePath:    path,
	})

	// Upload finished but the process died before the recording row was
	// flipped to remote.
	ledger.set(models.Transfer{
		TransferID:        "t1",
		RecordingID:       "rec1",
		LocalPath:         path,
		RemotePath:        "recordings/cam1/rec1/rec1.mkv",
		Status:            models.TransferStatusCompleted,
		UploadCompletedAt: sql.NullTime{Time: time.Now(), Valid: true},
	})

	report, err := svc.SyncSweep(context.Background(), SyncParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 0, backend.uploadCount())
	assert.Equal(t, "recordings/cam1/rec1/rec1.mkv", recs.remoteIDs["rec1"])
}

func TestSyncSweepRetriesAgedOutFailures(t *testing.T) {
	ledger := newFakeLedger()
	recs := newFakeRecordings()
	backend := newFakeBackend()
	svc := newService(ledger, recs, backend)

	path := writeRecordingFile(t, t.TempDir(), "rec1.mkv")

	// The recording aged out of the local-completed window, so only the
	// ledger still knows about this failure.
	ledger.set(models.Transfer{
		TransferID:  "t1",
		RecordingID: "rec1",
		LocalPath:   path,
		RemotePath:  "recordings/cam1/rec1/rec1.mkv",
		Status:      models.TransferStatusFailed,
		RetryCount:  1,
		UpdatedAt:   time.Now().Add(-time.Hour),
	})

	report, err := svc.SyncSweep(context.Background(), SyncParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Synced)
	assert.Equal(t, 1, backend.uploadCount())

	tr, err := ledger.Transfer("t1")
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusCompleted, tr.Status)
}

func TestCleanupRespectsGracePeriod(t *testing.T) {
	ledger := newFakeLedger()
	backend := newFakeBackend()
	svc := newService(ledger, newFakeRecordings(), backend)

	path := writeRecordingFile(t, t.TempDir(), "rec1.mkv")

	ledger.set(models.Transfer{
		TransferID:        "t1",
		RecordingID:       "rec1",
		LocalPath:         path,
		Status:            models.TransferStatusCompleted,
		UploadCompletedAt: sql.NullTime{Time: time.Now(), Valid: true},
	})

	report, err := svc.CleanupSweep(context.Background(), CleanupParams{TransferID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Cleaned)
	assert.Equal(t, 1, report.Skipped)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestCleanupPastGraceReleasesFile(t *testing.T) {
	ledger := newFakeLedger()
	backend := newFakeBackend()
	svc := newService(ledger, newFakeRecordings(), backend)

	path := writeRecordingFile(t, t.TempDir(), "rec1.mkv")

	ledger.set(models.Transfer{
		TransferID:        "t1",
		RecordingID:       "rec1",
		LocalPath:         path,
		Status:            models.TransferStatusCompleted,
		UploadCompletedAt: sql.NullTime{Time: time.Now().Add(-2 * time.Hour), Valid: true},
	})

	report, err := svc.CleanupSweep(context.Background(), CleanupParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cleaned)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	tr, err := ledger.Transfer("t1")
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusCleanupCompleted, tr.Status)
	assert.True(t, tr.CleanupCompletedAt.Valid)
}

func TestCleanupForceBypassesGrace(t *testing.T) {
	ledger := newFakeLedger()
	backend := newFakeBackend()
	svc := newService(ledger, newFakeRecordings(), backend)

	path := writeRecordingFile(t, t.TempDir(), "rec1.mkv")

	ledger.set(models.Transfer{
		TransferID:        "t1",
		RecordingID:       "rec1",
		LocalPath:         path,
		Status:            models.TransferStatusCompleted,
		UploadCompletedAt: sql.NullTime{Time: time.Now(), Valid: true},
	})

	report, err := svc.CleanupSweep(context.Background(), CleanupParams{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cleaned)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCleanupDryRunKeepsFile(t *testing.T) {
	ledger := newFakeLedger()
	backend := newFakeBackend()
	svc := newService(ledger, newFakeRecordings(), backend)

	path := writeRecordingFile(t, t.TempDir(), "rec1.mkv")

	ledger.set(models.Transfer{
		TransferID:        "t1",
		RecordingID:       "rec1",
		LocalPath:         path,
		Status:            models.TransferStatusCompleted,
		UploadCompletedAt: sql.NullTime{Time: time.Now().Add(-2 * time.Hour), Valid: true},
	})

	report, err := svc.CleanupSweep(context.Background(), CleanupParams{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cleaned)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)

	tr, err := ledger.Transfer("t1")
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusCompleted, tr.Status)
}

func TestCleanupNeverTouchesNonCompleted(t *testing.T) {
	ledger := newFakeLedger()
	backend := newFakeBackend()
	svc := newService(ledger, newFakeRecordings(), backend)

	path := writeRecordingFile(t, t.TempDir(), "rec1.mkv")

	for _, status := range []string{
		models.TransferStatusPending,
		models.TransferStatusUploading,
		models.TransferStatusFailed,
	} {
		ledger.set(models.Transfer{
			TransferID:  "t1",
			RecordingID: "rec1",
			LocalPath:   path,
			Status:      status,
		})

		report, err := svc.CleanupSweep(context.Background(), CleanupParams{TransferID: "t1", Force: true})
		require.NoError(t, err)
		assert.Equal(t, 0, report.Cleaned, "status %s", status)

		_, statErr := os.Stat(path)
		assert.NoError(t, statErr, "status %s", status)
	}
}

func TestCleanupMissingFileStillAdvances(t *testing.T) {
	ledger := newFakeLedger()
	backend := newFakeBackend()
	svc := newService(ledger, newFakeRecordings(), backend)

	ledger.set(models.Transfer{
		TransferID:        "t1",
		RecordingID:       "rec1",
		LocalPath:         filepath.Join(t.TempDir(), "gone.mkv"),
		Status:            models.TransferStatusCompleted,
		UploadCompletedAt: sql.NullTime{Time: time.Now().Add(-2 * time.Hour), Valid: true},
	})

	report, err := svc.CleanupSweep(context.Background(), CleanupParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)

	tr, err := ledger.Transfer("t1")
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusCleanupCompleted, tr.Status)
}

func TestCleanupResumesStrandedEntry(t *testing.T) {
	ledger := newFakeLedger()
	backend := newFakeBackend()
	svc := newService(ledger, newFakeRecordings(), backend)

	path := writeRecordingFile(t, t.TempDir(), "rec1.mkv")

	// Crashed between schedule and delete. The upload finished inside the
	// grace period, which must not matter: the decision is already made.
	ledger.set(models.Transfer{
		TransferID:         "t1",
		RecordingID:        "rec1",
		LocalPath:          path,
		Status:             models.TransferStatusCleanupPending,
		UploadCompletedAt:  sql.NullTime{Time: time.Now(), Valid: true},
		CleanupScheduledAt: sql.NullTime{Time: time.Now(), Valid: true},
	})

	report, err := svc.CleanupSweep(context.Background(), CleanupParams{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cleaned)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	tr, err := ledger.Transfer("t1")
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusCleanupCompleted, tr.Status)
	assert.True(t, tr.CleanupCompletedAt.Valid)
}

func TestCleanupUnknownTransfer(t *testing.T) {
	svc := newService(newFakeLedger(), newFakeRecordings(), newFakeBackend())

	_, err := svc.CleanupSweep(context.Background(), CleanupParams{TransferID: "nope"})
	assert.ErrorIs(t, err, errs.ErrTransferNotFound)
}

func TestReclaimStale(t *testing.T) {
	ledger := newFakeLedger()
	svc := newService(ledger, newFakeRecordings(), newFakeBackend())

	ledger.set(models.Transfer{
		TransferID:      "stale",
		RecordingID:     "rec1",
		Status:          models.TransferStatusUploading,
		UploadStartedAt: sql.NullTime{Time: time.Now().Add(-time.Hour), Valid: true},
	})
	ledger.set(models.Transfer{
		TransferID:      "fresh",
		RecordingID:     "rec2",
		Status:          models.TransferStatusUploading,
		UploadStartedAt: sql.NullTime{Time: time.Now(), Valid: true},
	})

	reclaimed, err := svc.ReclaimStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	tr, err := ledger.Transfer("stale")
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusFailed, tr.Status)

	tr, err = ledger.Transfer("fresh")
	require.NoError(t, err)
	assert.Equal(t, models.TransferStatusUploading, tr.Status)
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify(context.DeadlineExceeded), errs.ErrTransientNetwork)
	assert.ErrorIs(t, classify(errors.New("operation error S3: AccessDenied: access denied")), errs.ErrRemoteRejected)
	assert.ErrorIs(t, classify(errors.New("InvalidAccessKeyId: key does not exist")), errs.ErrRemoteRejected)
	assert.ErrorIs(t, classify(errors.New("connection reset by peer")), errs.ErrTransientNetwork)
}
