package models

import "time"

const (
	CameraStatusUnknown = "unknown"
	CameraStatusActive  = "active"
	CameraStatusError   = "error"
	CameraStatusOffline = "offline"
)

type Camera struct {
	CameraID string    `json:"camera_id" db:"camera_id"`
	Address  string    `json:"address" db:"address"`
	Login    string    `json:"-" db:"login"`
	Password string    `json:"-" db:"password"`
	Location string    `json:"location" db:"location"`
	IsPublic bool      `json:"is_public" db:"is_public"`
	IsActive bool      `json:"is_active" db:"is_active"`
	Status   string    `json:"status" db:"status"`
	LastSeen time.Time `json:"last_seen" db:"last_seen"`
}
