package models

import "time"

const (
	RecordingStatusRecording = "recording"
	RecordingStatusCompleted = "completed"
	RecordingStatusFailed    = "failed"

	StorageTypeLocal  = "local"
	StorageTypeRemote = "remote"
)

type Recording struct {
	RecordingID string    `json:"recording_id" db:"recording_id"`
	CameraID    string    `json:"camera_id" db:"camera_id"`
	Name        string    `json:"name" db:"name"`
	FilePath    string    `json:"file_path" db:"file_path"`
	FileSize    int64     `json:"file_size" db:"file_size"`
	Status      string    `json:"status" db:"status"`
	StorageType string    `json:"storage_type" db:"storage_type"`
	ErrorDetail string    `json:"error_detail,omitempty" db:"error_detail"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
