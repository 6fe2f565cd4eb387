package camerastorage

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

type CameraStorage struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *CameraStorage {
	return &CameraStorage{
		db: db,
	}
}

func (s *CameraStorage) Save(cam models.Camera) (models.Camera, error) {
	const op = "storage.postgres.cameras.Save"

	query := fmt.Sprintf(`INSERT INTO %s (camera_id, address, login, password, location, is_public, is_active, status, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING *`, postgres.CamerasTable)

	err := s.db.QueryRowx(query, cam.CameraID, cam.Address, cam.Login, cam.Password,
		cam.Location, cam.IsPublic, cam.IsActive, cam.Status, cam.LastSeen).StructScan(&cam)
	if err != nil {
		return cam, fmt.Errorf("%s: %w", op, err)
	}

	return cam, nil
}

func (s *CameraStorage) Camera(cameraID string) (models.Camera, error) {
	const op = "storage.postgres.cameras.Camera"

	var cam models.Camera

	query := fmt.Sprintf(`SELECT * FROM %s WHERE camera_id = $1`, postgres.CamerasTable)

	if err := s.db.Get(&cam, query, cameraID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Camera{}, fmt.Errorf("%s: %w", op, errs.ErrCameraNotFound)
		}
		return models.Camera{}, fmt.Errorf("%s: %w", op, err)
	}

	return cam, nil
}

func (s *CameraStorage) Cameras() ([]models.Camera, error) {
	const op = "storage.postgres.cameras.Cameras"

	var cams []models.Camera

	query := fmt.Sprintf(`SELECT * FROM %s ORDER BY camera_id`, postgres.CamerasTable)

	if err := s.db.Select(&cams, query); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return cams, nil
}

func (s *CameraStorage) UpdateStatus(cameraID, status string, seenAt time.Time) error {
	const op = "storage.postgres.cameras.UpdateStatus"

	query := fmt.Sprintf(`UPDATE %s SET status = $1, last_seen = $2 WHERE camera_id = $3`, postgres.CamerasTable)

	result, err := s.db.Exec(query, status, seenAt, cameraID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, errs.ErrCameraNotFound)
	}

	return nil
}

// Disable soft-disables a camera. Cameras are never deleted while recordings
// reference them.
func (s *CameraStorage) Disable(cameraID string) error {
	const op = "storage.postgres.cameras.Disable"

	query := fmt.Sprintf(`UPDATE %s SET is_active = false WHERE camera_id = $1`, postgres.CamerasTable)

	result, err := s.db.Exec(query, cameraID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, errs.ErrCameraNotFound)
	}

	return nil
}
