package models

import (
	"database/sql"
	"time"
)

const (
	TransferStatusPending          = "pending"
	TransferStatusUploading        = "uploading"
	TransferStatusCompleted        = "completed"
	TransferStatusFailed           = "failed"
	TransferStatusCleanupPending   = "cleanup_pending"
	TransferStatusCleanupCompleted = "cleanup_completed"
)

// Transfer is the durable ledger entry tracking migration of one recording
// from local disk to remote storage. Status only moves forward, except
// failed -> uploading on retry.
type Transfer struct {
	TransferID         string       `json:"transfer_id" db:"transfer_id"`
	RecordingID        string       `json:"recording_id" db:"recording_id"`
	LocalPath          string       `json:"local_path" db:"local_path"`
	RemotePath         string       `json:"remote_path" db:"remote_path"`
	FileSize           int64        `json:"file_size" db:"file_size"`
	Status             string       `json:"status" db:"status"`
	ErrorMessage       string       `json:"error_message,omitempty" db:"error_message"`
	RetryCount         int          `json:"retry_count" db:"retry_count"`
	CreatedAt          time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at" db:"updated_at"`
	UploadStartedAt    sql.NullTime `json:"upload_started_at" db:"upload_started_at"`
	UploadCompletedAt  sql.NullTime `json:"upload_completed_at" db:"upload_completed_at"`
	CleanupScheduledAt sql.NullTime `json:"cleanup_scheduled_at" db:"cleanup_scheduled_at"`
	CleanupCompletedAt sql.NullTime `json:"cleanup_completed_at" db:"cleanup_completed_at"`
}
