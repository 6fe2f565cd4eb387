package videostorage

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/nverdin/camera_archive/internal/config"
	"github.com/nverdin/camera_archive/internal/videostorage/local"
	"github.com/nverdin/camera_archive/internal/videostorage/s3"
)

// Backend is the uniform contract over remote object storage. The
// implementation is selected once at startup from configuration.
type Backend interface {
	Upload(ctx context.Context, localPath, key, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	URL(ctx context.Context, key string, signed bool, expiry time.Duration) (string, error)
}

func New(ctx context.Context, cfg config.Storage) (Backend, error) {
	const op = "videostorage.New"

	switch cfg.Mode {
	case "s3":
		backend, err := s3.New(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return backend, nil
	case "local":
		backend, err := local.New(cfg.LocalRoot)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("%s: unknown storage mode %q", op, cfg.Mode)
	}
}

// RemoteKey builds the object key for a recording:
// recordings/<camera_id>/<recording_id>/<filename>.
func RemoteKey(cameraID, recordingID, filename string) string {
	return path.Join("recordings", cameraID, recordingID, path.Base(filename))
}
