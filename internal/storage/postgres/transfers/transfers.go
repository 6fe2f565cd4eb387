package transferstorage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/nverdin/camera_archive/internal/domain/errs"
	"github.com/nverdin/camera_archive/internal/domain/models"
	"github.com/nverdin/camera_archive/internal/storage/postgres"
)

type TransferStorage struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *TransferStorage {
	return &TransferStorage{
		db: db,
	}
}

// Create inserts a pending ledger entry for a recording. A recording has at
// most one ledger entry; re-submission returns the existing entry instead of
// duplicating it.
func (s *TransferStorage) Create(tr models.Transfer) (models.Transfer, error) {
	const op = "storage.postgres.transfers.Create"

	query := fmt.Sprintf(`
		INSERT INTO %s (transfer_id, recording_id, local_path, remote_path, file_size, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (recording_id) DO NOTHING`, postgres.TransfersTable)

	result, err := s.db.Exec(query, tr.TransferID, tr.RecordingID, tr.LocalPath,
		tr.RemotePath, tr.FileSize, models.TransferStatusPending)
	if err != nil {
		return models.Transfer{}, fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return models.Transfer{}, fmt.Errorf("%s: %w", op, err)
	}

	if rowsAffected == 0 {
		return s.ByRecording(tr.RecordingID)
	}

	return s.Transfer(tr.TransferID)
}

func (s *TransferStorage) Transfer(transferID string) (models.Transfer, error) {
	const op = "storage.postgres.transfers.Transfer"

	var tr models.Transfer

	query := fmt.Sprintf(`SELECT * FROM %s WHERE transfer_id = $1`, postgres.TransfersTable)

	if err := s.db.Get(&tr, query, transferID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Transfer{}, fmt.Errorf("%s: %w", op, errs.ErrTransferNotFound)
		}
		return models.Transfer{}, fmt.Errorf("%s: %w", op, err)
	}

	return tr, nil
}

func (s *TransferStorage) ByRecording(recordingID string) (models.Transfer, error) {
	const op = "storage.postgres.transfers.ByRecording"

	var tr models.Transfer

	query := fmt.Sprintf(`SELECT * FROM %s WHERE recording_id = $1`, postgres.TransfersTable)

	if err := s.db.Get(&tr, query, recordingID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Transfer{}, fmt.Errorf("%s: %w", op, errs.ErrTransferNotFound)
		}
		return models.Transfer{}, fmt.Errorf("%s: %w", op, err)
	}

	return tr, nil
}

// Claim moves an entry from pending or failed into uploading. The guarded
// UPDATE is the claim step: a second worker loses the race and gets
// ErrTransferClaimed, never a double upload.
func (s *TransferStorage) Claim(transferID string) error {
	const op = "storage.postgres.transfers.Claim"

	query := fmt.Sprintf(`UPDATE %s SET status = $1, upload_started_at = now(), updated_at = now()
		WHERE transfer_id = $2 AND status IN ($3, $4)`, postgres.TransfersTable)

	result, err := s.db.Exec(query, models.TransferStatusUploading, transferID,
		models.TransferStatusPending, models.TransferStatusFailed)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, errs.ErrTransferClaimed)
	}

	return nil
}

func (s *TransferStorage) Complete(transferID, remotePath string) error {
	const op = "storage.postgres.transfers.Complete"

	query := fmt.Sprintf(`UPDATE %s SET status = $1, remote_path = $2, error_message = '',
		upload_completed_at = now(), updated_at = now()
		WHERE transfer_id = $3 AND status = $4`, postgres.TransfersTable)

	result, err := s.db.Exec(query, models.TransferStatusCompleted, remotePath,
		transferID, models.TransferStatusUploading)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, errs.ErrTransferNotFound)
	}

	return nil
}

func (s *TransferStorage) Fail(transferID, errorMessage string) error {
	const op = "storage.postgres.transfers.Fail"

	query := fmt.Sprintf(`UPDATE %s SET status = $1, error_message = $2,
		retry_count = retry_count + 1, updated_at = now()
		WHERE transfer_id = $3 AND status = $4`, postgres.TransfersTable)

	result, err := s.db.Exec(query, models.TransferStatusFailed, errorMessage,
		transferID, models.TransferStatusUploading)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, errs.ErrTransferNotFound)
	}

	return nil
}

// ScheduleCleanup moves a completed entry into cleanup_pending. One-way.
func (s *TransferStorage) ScheduleCleanup(transferID string) error {
	const op = "storage.postgres.transfers.ScheduleCleanup"

	query := fmt.Sprintf(`UPDATE %s SET status = $1, cleanup_scheduled_at = now(), updated_at = now()
		WHERE transfer_id = $2 AND status = $3`, postgres.TransfersTable)

	result, err := s.db.Exec(query, models.TransferStatusCleanupPending,
		transferID, models.TransferStatusCompleted)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, errs.ErrTransferClaimed)
	}

	return nil
}

func (s *TransferStorage) CompleteCleanup(transferID string) error {
	const op = "storage.postgres.transfers.CompleteCleanup"

	query := fmt.Sprintf(`UPDATE %s SET status = $1, cleanup_completed_at = now(), updated_at = now()
		WHERE transfer_id = $2 AND status = $3`, postgres.TransfersTable)

	result, err := s.db.Exec(query, models.TransferStatusCleanupCompleted,
		transferID, models.TransferStatusCleanupPending)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, errs.ErrTransferNotFound)
	}

	return nil
}

// DueForCleanup returns completed entries whose upload finished before the
// durability grace period, local copy not yet released. Entries stranded in
// cleanup_pending by a crash are included regardless of age: the cleanup
// decision is already persisted and only needs finishing.
func (s *TransferStorage) DueForCleanup(grace time.Duration, limit int) ([]models.Transfer, error) {
	const op = "storage.postgres.transfers.DueForCleanup"

	var trs []models.Transfer

	query := fmt.Sprintf(`SELECT * FROM %s
		WHERE cleanup_completed_at IS NULL
			AND (
				(status = $1
					AND upload_completed_at IS NOT NULL
					AND upload_completed_at < now() - $2::interval)
				OR status = $3
			)
		ORDER BY upload_completed_at
		LIMIT $4`, postgres.TransfersTable)

	interval := fmt.Sprintf("%d seconds", int(grace.Seconds()))

	if err := s.db.Select(&trs, query, models.TransferStatusCompleted, interval,
		models.TransferStatusCleanupPending, limit); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return trs, nil
}

// CompletedNotCleaned returns completed and cleanup_pending entries regardless
// of age, for forced cleanup sweeps.
func (s *TransferStorage) CompletedNotCleaned(limit int) ([]models.Transfer, error) {
	const op = "storage.postgres.transfers.CompletedNotCleaned"

	var trs []models.Transfer

	query := fmt.Sprintf(`SELECT * FROM %s
		WHERE status IN ($1, $2) AND cleanup_completed_at IS NULL
		ORDER BY upload_completed_at
		LIMIT $3`, postgres.TransfersTable)

	if err := s.db.Select(&trs, query, models.TransferStatusCompleted,
		models.TransferStatusCleanupPending, limit); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return trs, nil
}

// StaleUploading returns entries stuck in uploading past the staleness
// threshold, typically left behind by a crashed process.
func (s *TransferStorage) StaleUploading(staleAfter time.Duration) ([]models.Transfer, error) {
	const op = "storage.postgres.transfers.StaleUploading"

	var trs []models.Transfer

	query := fmt.Sprintf(`SELECT * FROM %s
		WHERE status = $1 AND upload_started_at < now() - $2::interval
		ORDER BY upload_started_at`, postgres.TransfersTable)

	interval := fmt.Sprintf("%d seconds", int(staleAfter.Seconds()))

	if err := s.db.Select(&trs, query, models.TransferStatusUploading, interval); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return trs, nil
}

// RetryableFailed returns failed entries still inside the retry budget.
func (s *TransferStorage) RetryableFailed(maxRetries, limit int) ([]models.Transfer, error) {
	const op = "storage.postgres.transfers.RetryableFailed"

	var trs []models.Transfer

	query := fmt.Sprintf(`SELECT * FROM %s
		WHERE status = $1 AND retry_count < $2
		ORDER BY updated_at
		LIMIT $3`, postgres.TransfersTable)

	if err := s.db.Select(&trs, query, models.TransferStatusFailed, maxRetries, limit); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return trs, nil
}
