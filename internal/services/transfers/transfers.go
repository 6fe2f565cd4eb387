package transferservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/nverdin/camera_archive/internal/config"
	"github.com/nverdin/camera_archive/internal/domain/errs"
	"github.com/nverdin/camera_archive/internal/domain/models"
	"github.com/nverdin/camera_archive/internal/lib/sl"
	"github.com/nverdin/camera_archive/internal/videostorage"
)

const contentType = "video/x-matroska"

type TransferService struct {
	log        *slog.Logger
	ledger     TransferLedger
	recordings RecordingProvider
	backend    Backend
	cfg        config.Transfers
}

type TransferLedger interface {
	Create(tr models.Transfer) (models.Transfer, error)
	Transfer(transferID string) (models.Transfer, error)
	ByRecording(recordingID string) (models.Transfer, error)
	Claim(transferID string) error
	Complete(transferID, remotePath string) error
	Fail(transferID, errorMessage string) error
	ScheduleCleanup(transferID string) error
	CompleteCleanup(transferID string) error
	DueForCleanup(grace time.Duration, limit int) ([]models.Transfer, error)
	CompletedNotCleaned(limit int) ([]models.Transfer, error)
	StaleUploading(staleAfter time.Duration) ([]models.Transfer, error)
	RetryableFailed(maxRetries, limit int) ([]models.Transfer, error)
}

type RecordingProvider interface {
	Recording(recordingID string) (models.Recording, error)
	MarkRemote(recordingID, remoteKey string) error
	LocalCompleted(maxAge time.Duration, limit int) ([]models.Recording, error)
}

// Backend matches videostorage.Backend; declared here so tests can fake it.
type Backend interface {
	Upload(ctx context.Context, localPath, key, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	URL(ctx context.Context, key string, signed bool, expiry time.Duration) (string, error)
}

// Outcome of one sweep item.
type Outcome int

const (
	OutcomeSynced Outcome = iota
	OutcomeSkipped
	OutcomeFailed
)

type SyncReport struct {
	Synced  int    `json:"synced"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
	Detail  string `json:"detail,omitempty"`
}

type CleanupReport struct {
	Cleaned int    `json:"cleaned"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
	Detail  string `json:"detail,omitempty"`
}

type SyncParams struct {
	BatchSize int
	MaxAge    time.Duration
	DryRun    bool
	Force     bool
}

type CleanupParams struct {
	DryRun     bool
	Force      bool
	TransferID string
}

func New(log *slog.Logger, ledger TransferLedger, recordings RecordingProvider, backend Backend, cfg config.Transfers) *TransferService {
	return &TransferService{
		log:        log,
		ledger:     ledger,
		recordings: recordings,
		backend:    backend,
		cfg:        cfg,
	}
}

// Submit creates the ledger entry for a completed local recording and kicks
// off the first upload attempt. Re-submission reuses the existing entry.
func (s *TransferService) Submit(ctx context.Context, rec models.Recording) error {
	const op = "service.transfers.Submit"

	log := s.log.With(
		slog.String("op", op),
		slog.String("recording_id", rec.RecordingID),
	)

	tr := models.Transfer{
		TransferID:  uuid.NewString(),
		RecordingID: rec.RecordingID,
		LocalPath:   rec.FilePath,
		RemotePath:  videostorage.RemoteKey(rec.CameraID, rec.RecordingID, rec.FilePath),
		FileSize:    rec.FileSize,
	}

	tr, err := s.ledger.Create(tr)
	if err != nil {
		log.Error("failed to create ledger entry", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("transfer submitted", slog.String("transfer_id", tr.TransferID))

	if _, err := s.Upload(ctx, tr.TransferID); err != nil {
		// The entry stays pending or failed; the sync sweep retries it.
		log.Warn("initial upload attempt failed", sl.Err(err))
	}

	return nil
}

// Upload drives one ledger entry through claim, upload, verification and
// completion. Safe to call twice for the same entry: a lost claim is a no-op
// and a re-upload overwrites the same remote key.
func (s *TransferService) Upload(ctx context.Context, transferID string) (Outcome, error) {
	const op = "service.transfers.Upload"

	log := s.log.With(
		slog.String("op", op),
		slog.String("transfer_id", transferID),
	)

	tr, err := s.ledger.Transfer(transferID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("%s: %w", op, err)
	}

	switch tr.Status {
	case models.TransferStatusCompleted,
		models.TransferStatusCleanupPending,
		models.TransferStatusCleanupCompleted:
		// Already durable; second call must not create a duplicate object.
		return OutcomeSkipped, nil
	}

	if strings.HasSuffix(tr.LocalPath, s.cfg.TempSuffix) {
		log.Info("skipping temp file", slog.String("path", tr.LocalPath))

		return OutcomeSkipped, nil
	}

	if _, err := os.Stat(tr.LocalPath); err != nil {
		// Terminal: nothing to upload. The sweep will not retry an entry
		// whose source is gone.
		log.Error("local source missing", slog.String("path", tr.LocalPath))

		if err := s.ledger.Claim(transferID); err == nil {
			if err := s.ledger.Fail(transferID, errs.ErrSourceMissing.Error()); err != nil {
				log.Error("failed to mark transfer failed", sl.Err(err))
			}
		}

		return OutcomeFailed, fmt.Errorf("%s: %w", op, errs.ErrSourceMissing)
	}

	if err := s.ledger.Claim(transferID); err != nil {
		if errors.Is(err, errs.ErrTransferClaimed) {
			// Another worker owns it. Success-elsewhere, not an error.
			log.Info("transfer claimed elsewhere")

			return OutcomeSkipped, nil
		}

		return OutcomeFailed, fmt.Errorf("%s: %w", op, err)
	}

	uploadCtx, cancel := context.WithTimeout(ctx, s.cfg.UploadTimeout)
	defer cancel()

	if err := s.backend.Upload(uploadCtx, tr.LocalPath, tr.RemotePath, contentType); err != nil {
		log.Error("upload failed", sl.Err(err))

		if err := s.ledger.Fail(transferID, classify(err).Error()); err != nil {
			log.Error("failed to mark transfer failed", sl.Err(err))
		}

		return OutcomeFailed, fmt.Errorf("%s: %w", op, err)
	}

	exists, err := s.backend.Exists(uploadCtx, tr.RemotePath)
	if err != nil || !exists {
		// Never touch the local file on a verification mismatch.
		log.Error("remote verification failed", slog.Bool("exists", exists))

		if err := s.ledger.Fail(transferID, errs.ErrVerificationMismatch.Error()); err != nil {
			log.Error("failed to mark transfer failed", sl.Err(err))
		}

		return OutcomeFailed, fmt.Errorf("%s: %w", op, errs.ErrVerificationMismatch)
	}

	if err := s.ledger.Complete(transferID, tr.RemotePath); err != nil {
		return OutcomeFailed, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.recordings.MarkRemote(tr.RecordingID, tr.RemotePath); err != nil {
		log.Error("failed to mark recording remote", sl.Err(err))
	}

	log.Info("transfer completed", slog.String("remote_path", tr.RemotePath))

	return OutcomeSynced, nil
}

// SyncSweep finds completed local recordings, makes sure each has a ledger
// entry, and drives eligible entries through Upload with bounded parallelism.
// One failing item never aborts the batch.
func (s *TransferService) SyncSweep(ctx context.Context, params SyncParams) (SyncReport, error) {
	const op = "service.transfers.SyncSweep"

	log := s.log.With(slog.String("op", op))

	if params.BatchSize <= 0 {
		params.BatchSize = s.cfg.SweepBatchSize
	}
	if params.MaxAge <= 0 {
		params.MaxAge = s.cfg.SweepMaxAge
	}

	recs, err := s.recordings.LocalCompleted(params.MaxAge, params.BatchSize)
	if err != nil {
		return SyncReport{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("sync sweep started",
		slog.Int("candidates", len(recs)),
		slog.Bool("dry_run", params.DryRun),
	)

	var (
		mu     sync.Mutex
		report SyncReport
		merr   *multierror.Error
	)

	workers := s.cfg.SweepWorkers
	if workers <= 0 {
		workers = 1
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, rec := range recs {
		rec := rec

		wg.Add(1)
		sem <- struct{}{}

		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, err := s.syncOne(ctx, rec, params)

			mu.Lock()
			defer mu.Unlock()

			switch outcome {
			case OutcomeSynced:
				report.Synced++
			case OutcomeSkipped:
				report.Skipped++
			case OutcomeFailed:
				report.Failed++
				merr = multierror.Append(merr, fmt.Errorf("recording %s: %w", rec.RecordingID, err))
			}
		}()
	}

	wg.Wait()

	// Failed entries whose recording has aged out of the local-completed
	// window never show up above; the ledger is the only place left to find
	// them, so they get a second pass here.
	seen := make(map[string]struct{}, len(recs))
	for _, rec := range recs {
		seen[rec.RecordingID] = struct{}{}
	}

	failed, err := s.ledger.RetryableFailed(s.cfg.MaxRetries, params.BatchSize)
	if err != nil {
		return report, fmt.Errorf("%s: %w", op, err)
	}

	for _, tr := range failed {
		if _, ok := seen[tr.RecordingID]; ok {
			continue
		}

		if !params.Force && !s.retryEligible(tr) {
			report.Skipped++

			continue
		}

		if params.DryRun {
			report.Synced++

			continue
		}

		outcome, uerr := s.Upload(ctx, tr.TransferID)
		switch outcome {
		case OutcomeSynced:
			report.Synced++
		case OutcomeSkipped:
			report.Skipped++
		case OutcomeFailed:
			report.Failed++
			merr = multierror.Append(merr, fmt.Errorf("transfer %s: %w", tr.TransferID, uerr))
		}
	}

	if merr != nil {
		report.Detail = merr.Error()
	}

	log.Info("sync sweep finished",
		slog.Int("synced", report.Synced),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
	)

	return report, nil
}

func (s *TransferService) syncOne(ctx context.Context, rec models.Recording, params SyncParams) (Outcome, error) {
	if strings.HasSuffix(rec.FilePath, s.cfg.TempSuffix) || rec.FilePath == "" {
		return OutcomeSkipped, nil
	}

	// Missing at sync time is a benign skip: no ledger entry is created and
	// the recording row is left untouched.
	if _, err := os.Stat(rec.FilePath); err != nil {
		return OutcomeSkipped, nil
	}

	tr, err := s.ledger.ByRecording(rec.RecordingID)
	if err != nil {
		if !errors.Is(err, errs.ErrTransferNotFound) {
			return OutcomeFailed, err
		}

		if params.DryRun {
			return OutcomeSynced, nil
		}

		tr, err = s.ledger.Create(models.Transfer{
			TransferID:  uuid.NewString(),
			RecordingID: rec.RecordingID,
			LocalPath:   rec.FilePath,
			RemotePath:  videostorage.RemoteKey(rec.CameraID, rec.RecordingID, rec.FilePath),
			FileSize:    rec.FileSize,
		})
		if err != nil {
			return OutcomeFailed, err
		}
	}

	switch tr.Status {
	case models.TransferStatusCompleted,
		models.TransferStatusCleanupPending,
		models.TransferStatusCleanupCompleted:
		// Upload is durable but the recording row still says local: the
		// process died between Complete and MarkRemote. Repair the pointer.
		if params.DryRun {
			return OutcomeSynced, nil
		}

		if err := s.recordings.MarkRemote(tr.RecordingID, tr.RemotePath); err != nil {
			return OutcomeFailed, err
		}

		return OutcomeSynced, nil
	}

	// force retries failed entries immediately, ignoring backoff and the
	// retry budget. Deliberate operator action only.
	if !params.Force && !s.retryEligible(tr) {
		return OutcomeSkipped, nil
	}

	if params.DryRun {
		return OutcomeSynced, nil
	}

	return s.Upload(ctx, tr.TransferID)
}

// retryEligible applies the retry budget and exponential backoff to failed
// entries. Pending entries are always eligible.
func (s *TransferService) retryEligible(tr models.Transfer) bool {
	switch tr.Status {
	case models.TransferStatusPending:
		return true
	case models.TransferStatusFailed:
		if tr.RetryCount >= s.cfg.MaxRetries {
			return false
		}

		backoff := s.cfg.RetryBackoff * time.Duration(1<<uint(tr.RetryCount))

		return time.Since(tr.UpdatedAt) >= backoff
	default:
		return false
	}
}

// CleanupSweep releases local disk space for transfers whose upload completed
// before the durability grace period. force bypasses the age guard; dry_run
// reports what would happen without side effects.
func (s *TransferService) CleanupSweep(ctx context.Context, params CleanupParams) (CleanupReport, error) {
	const op = "service.transfers.CleanupSweep"

	log := s.log.With(slog.String("op", op))

	var (
		trs []models.Transfer
		err error
	)

	switch {
	case params.TransferID != "":
		tr, terr := s.ledger.Transfer(params.TransferID)
		if terr != nil {
			return CleanupReport{}, fmt.Errorf("%s: %w", op, terr)
		}
		trs = []models.Transfer{tr}
	case params.Force:
		trs, err = s.ledger.CompletedNotCleaned(s.cfg.SweepBatchSize)
	default:
		trs, err = s.ledger.DueForCleanup(s.cfg.GracePeriod, s.cfg.SweepBatchSize)
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("%s: %w", op, err)
	}

	if len(trs) == 0 {
		return CleanupReport{}, nil
	}

	log.Info("cleanup sweep started",
		slog.Int("candidates", len(trs)),
		slog.Bool("dry_run", params.DryRun),
		slog.Bool("force", params.Force),
	)

	var (
		report CleanupReport
		merr   *multierror.Error
	)

	for _, tr := range trs {
		outcome, err := s.cleanupOne(ctx, tr, params)

		switch outcome {
		case OutcomeSynced:
			report.Cleaned++
		case OutcomeSkipped:
			report.Skipped++
		case OutcomeFailed:
			report.Failed++
			merr = multierror.Append(merr, fmt.Errorf("transfer %s: %w", tr.TransferID, err))
		}
	}

	if merr != nil {
		report.Detail = merr.Error()
	}

	log.Info("cleanup sweep finished",
		slog.Int("cleaned", report.Cleaned),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
	)

	return report, nil
}

func (s *TransferService) cleanupOne(_ context.Context, tr models.Transfer, params CleanupParams) (Outcome, error) {
	log := s.log.With(slog.String("transfer_id", tr.TransferID))

	switch tr.Status {
	case models.TransferStatusCompleted:
		// The local copy is never released before the upload is confirmed
		// durable, and never inside the grace period without force.
		if !tr.UploadCompletedAt.Valid {
			return OutcomeSkipped, nil
		}

		if !params.Force && time.Since(tr.UploadCompletedAt.Time) < s.cfg.GracePeriod {
			return OutcomeSkipped, nil
		}

		if params.DryRun {
			return OutcomeSynced, nil
		}

		if err := s.ledger.ScheduleCleanup(tr.TransferID); err != nil {
			if errors.Is(err, errs.ErrTransferClaimed) {
				return OutcomeSkipped, nil
			}

			return OutcomeFailed, err
		}
	case models.TransferStatusCleanupPending:
		// Stranded by a crash between schedule and delete. The decision is
		// already persisted, so finish it without re-checking the grace.
		if params.DryRun {
			return OutcomeSynced, nil
		}
	default:
		return OutcomeSkipped, nil
	}

	if _, err := os.Stat(tr.LocalPath); err != nil {
		// The ledger says the upload completed, so a missing local file is
		// an integrity signal worth surfacing, but the remote copy is
		// durable: the entry still advances.
		log.Warn("local file already absent at cleanup",
			slog.String("path", tr.LocalPath),
		)

		if err := s.ledger.CompleteCleanup(tr.TransferID); err != nil {
			return OutcomeFailed, err
		}

		return OutcomeSkipped, nil
	}

	if err := os.Remove(tr.LocalPath); err != nil {
		return OutcomeFailed, fmt.Errorf("delete local file: %w", err)
	}

	if err := s.ledger.CompleteCleanup(tr.TransferID); err != nil {
		return OutcomeFailed, err
	}

	log.Info("local copy released", slog.String("path", tr.LocalPath))

	return OutcomeSynced, nil
}

// ReclaimStale fails entries stuck in uploading past the staleness threshold,
// typically after a crash. Re-upload is an idempotent overwrite, so handing
// them back to the retry path is safe.
func (s *TransferService) ReclaimStale(ctx context.Context) (int, error) {
	const op = "service.transfers.ReclaimStale"

	log := s.log.With(slog.String("op", op))

	trs, err := s.ledger.StaleUploading(s.cfg.StaleAfter)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	reclaimed := 0
	for _, tr := range trs {
		if err := s.ledger.Fail(tr.TransferID, "stale upload reclaimed"); err != nil {
			log.Error("failed to reclaim stale transfer",
				slog.String("transfer_id", tr.TransferID),
				sl.Err(err),
			)

			continue
		}

		reclaimed++
	}

	if reclaimed > 0 {
		log.Info("stale transfers reclaimed", slog.Int("count", reclaimed))
	}

	return reclaimed, nil
}

func (s *TransferService) Transfer(transferID string) (models.Transfer, error) {
	const op = "service.transfers.Transfer"

	tr, err := s.ledger.Transfer(transferID)
	if err != nil {
		return models.Transfer{}, fmt.Errorf("%s: %w", op, err)
	}

	return tr, nil
}

// classify maps raw upload failures onto the error taxonomy.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.ErrTransientNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "access denied"),
		strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "invalidaccesskeyid"),
		strings.Contains(msg, "signaturedoesnotmatch"):
		return errs.ErrRemoteRejected
	default:
		return errs.ErrTransientNetwork
	}
}
