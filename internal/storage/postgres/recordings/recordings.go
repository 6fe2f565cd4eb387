package recordingstorage

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

type RecordingStorage struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *RecordingStorage {
	return &RecordingStorage{
		db: db,
	}
}

// Start inserts a recording row in status "recording" only if the camera has
// no other active recording. The check and the insert are a single statement,
// so concurrent starters race on the database, not on an in-memory lock.
func (s *RecordingStorage) Start(rec models.Recording) error {
	const op = "storage.postgres.recordings.Start"

	query := fmt.Sprintf(`
		INSERT INTO %s (recording_id, camera_id, name, file_path, status, storage_type, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM %s WHERE camera_id = $2 AND status = $5
		)`, postgres.RecordingsTable, postgres.RecordingsTable)

	result, err := s.db.Exec(query, rec.RecordingID, rec.CameraID, rec.Name, rec.FilePath,
		models.RecordingStatusRecording, models.StorageTypeLocal, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, errs.ErrCameraBusy)
	}

	return nil
}

// Finalize moves an active recording to "completed" once the writer is closed,
// the temp file is renamed into place and the file size is known.
func (s *RecordingStorage) Finalize(recordingID, filePath string, fileSize int64) error {
	const op = "storage.postgres.recordings.Finalize"

	query := fmt.Sprintf(`UPDATE %s SET status = $1, file_path = $2, file_size = $3
		WHERE recording_id = $4 AND status = $5`, postgres.RecordingsTable)

	result, err := s.db.Exec(query, models.RecordingStatusCompleted, filePath, fileSize,
		recordingID, models.RecordingStatusRecording)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, errs.ErrRecordingNotActive)
	}

	return nil
}

// MarkFailed records a failed capture. The partial file path stays on the row
// so an operator can inspect whatever was written.
func (s *RecordingStorage) MarkFailed(recordingID, errorDetail string) error {
	const op = "storage.postgres.recordings.MarkFailed"

	query := fmt.Sprintf(`UPDATE %s SET status = $1, error_detail = $2
		WHERE recording_id = $3`, postgres.RecordingsTable)

	result, err := s.db.Exec(query, models.RecordingStatusFailed, errorDetail, recordingID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, errs.ErrRecordingNotFound)
	}

	return nil
}

// MarkRemote flips the authoritative location to the remote key after the
// ledger entry for this recording reached a terminal success state.
func (s *RecordingStorage) MarkRemote(recordingID, remoteKey string) error {
	const op = "storage.postgres.recordings.MarkRemote"

	query := fmt.Sprintf(`UPDATE %s SET storage_type = $1, file_path = $2
		WHERE recording_id = $3 AND status = $4`, postgres.RecordingsTable)

	result, err := s.db.Exec(query, models.StorageTypeRemote, remoteKey,
		recordingID, models.RecordingStatusCompleted)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, errs.ErrRecordingNotFound)
	}

	return nil
}

func (s *RecordingStorage) Recording(recordingID string) (models.Recording, error) {
	const op = "storage.postgres.recordings.Recording"

	var rec models.Recording

	query := fmt.Sprintf(`SELECT * FROM %s WHERE recording_id = $1`, postgres.RecordingsTable)

	if err := s.db.Get(&rec, query, recordingID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Recording{}, fmt.Errorf("%s: %w", op, errs.ErrRecordingNotFound)
		}
		return models.Recording{}, fmt.Errorf("%s: %w", op, err)
	}

	return rec, nil
}

func (s *RecordingStorage) CameraRecordings(cameraID string, limit, offset int) ([]models.Recording, error) {
	const op = "storage.postgres.recordings.CameraRecordings"

	var recs []models.Recording

	query := fmt.Sprintf(`SELECT * FROM %s WHERE camera_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, postgres.RecordingsTable)

	if err := s.db.Select(&recs, query, cameraID, limit, offset); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return recs, nil
}

// LocalCompleted selects completed recordings still living on local disk,
// skipping rows with empty paths and files newer than the age window. The
// sync sweep feeds on this.
func (s *RecordingStorage) LocalCompleted(maxAge time.Duration, limit int) ([]models.Recording, error) {
	const op = "storage.postgres.recordings.LocalCompleted"

	var recs []models.Recording

	query := fmt.Sprintf(`SELECT * FROM %s
		WHERE status = $1 AND storage_type = $2 AND file_path <> ''
			AND created_at > now() - $3::interval
		ORDER BY created_at
		LIMIT $4`, postgres.RecordingsTable)

	interval := fmt.Sprintf("%d seconds", int(maxAge.Seconds()))

	if err := s.db.Select(&recs, query, models.RecordingStatusCompleted, models.StorageTypeLocal, interval, limit); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return recs, nil
}
