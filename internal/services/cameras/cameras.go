package cameraservice

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lithammer/shortuuid/v3"

	"github.com/nverdin/camera_archive/internal/config"
	"github.com/nverdin/camera_archive/internal/domain/models"
	"github.com/nverdin/camera_archive/internal/lib/sl"
	streamservice "github.com/nverdin/camera_archive/internal/services/stream"
)

type CameraService struct {
	log         *slog.Logger
	videosPath  string
	streamCfg   config.Stream
	cameraSaver CameraSaver
}

type CameraSaver interface {
	Save(cam models.Camera) (models.Camera, error)
	Camera(cameraID string) (models.Camera, error)
	Cameras() ([]models.Camera, error)
	UpdateStatus(cameraID, status string, seenAt time.Time) error
	Disable(cameraID string) error
}

func New(log *slog.Logger, videosPath string, streamCfg config.Stream, cameraSaver CameraSaver) *CameraService {
	return &CameraService{
		log:         log,
		videosPath:  videosPath,
		streamCfg:   streamCfg,
		cameraSaver: cameraSaver,
	}
}

func (s *CameraService) SaveCamera(address, login, password, location string, isPublic bool) (models.Camera, error) {
	const op = "service.cameras.SaveCamera"

	log := s.log.With(
		slog.String("op", op),
		slog.String("address", address),
	)

	log.Info("save camera")

	cam := models.Camera{
		CameraID: shortuuid.New(),
		Address:  address,
		Login:    login,
		Password: password,
		Location: location,
		IsPublic: isPublic,
		IsActive: true,
		Status:   models.CameraStatusUnknown,
		LastSeen: time.Now(),
	}

	cam, err := s.cameraSaver.Save(cam)
	if err != nil {
		log.Error("failed to save camera", sl.Err(err))

		return models.Camera{}, fmt.Errorf("%s: %w", op, err)
	}

	dirPath := filepath.Join(s.videosPath, cam.CameraID)
	if err := os.MkdirAll(dirPath, os.ModePerm); err != nil {
		log.Error("failed to create directory", sl.Err(err))

		return models.Camera{}, fmt.Errorf("%s: %w", op, err)
	}

	return cam, nil
}

func (s *CameraService) Camera(cameraID string) (models.Camera, error) {
	const op = "service.cameras.Camera"

	cam, err := s.cameraSaver.Camera(cameraID)
	if err != nil {
		return models.Camera{}, fmt.Errorf("%s: %w", op, err)
	}

	return cam, nil
}

func (s *CameraService) Cameras() ([]models.Camera, error) {
	const op = "service.cameras.Cameras"

	cams, err := s.cameraSaver.Cameras()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return cams, nil
}

// Disable soft-disables a camera; recordings keep referencing it.
func (s *CameraService) Disable(cameraID string) error {
	const op = "service.cameras.Disable"

	if err := s.cameraSaver.Disable(cameraID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// TestConnection probes the camera over RTSP. Probe only, nothing persisted.
func (s *CameraService) TestConnection(address string) error {
	const op = "service.cameras.TestConnection"

	log := s.log.With(
		slog.String("op", op),
		slog.String("address", address),
	)

	log.Info("test camera connection")

	if err := streamservice.Probe(s.log, address, s.streamCfg.ConnectTimeout); err != nil {
		log.Error("camera connection test failed", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
