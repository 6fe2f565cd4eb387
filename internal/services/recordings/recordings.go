package recordingservice

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nverdin/camera_archive/internal/config"
	"github.com/nverdin/camera_archive/internal/domain/errs"
	"github.com/nverdin/camera_archive/internal/domain/models"
	"github.com/nverdin/camera_archive/internal/lib/sl"
	codecservice "github.com/nverdin/camera_archive/internal/services/codec"
	streamservice "github.com/nverdin/camera_archive/internal/services/stream"
)

type RecordingService struct {
	log        *slog.Logger
	cameras    CameraProvider
	recordings RecordingSaver
	codecs     *codecservice.Selector
	transfers  TransferSubmitter
	streamCfg  config.Stream
	videosPath string
	tempSuffix string

	mu     sync.Mutex
	active map[string]*capture
}

type CameraProvider interface {
	Camera(cameraID string) (models.Camera, error)
	UpdateStatus(cameraID, status string, seenAt time.Time) error
}

type RecordingSaver interface {
	Start(rec models.Recording) error
	Finalize(recordingID, filePath string, fileSize int64) error
	MarkFailed(recordingID, errorDetail string) error
	Recording(recordingID string) (models.Recording, error)
	CameraRecordings(cameraID string, limit, offset int) ([]models.Recording, error)
}

type TransferSubmitter interface {
	Submit(ctx context.Context, rec models.Recording) error
}

type capture struct {
	cancel  context.CancelFunc
	stopped chan struct{}
}

// Capture profiles by requested quality. The encoder probe cache is keyed by
// these, so unknown qualities fall back to "medium".
var qualityProfiles = map[string]codecservice.Profile{
	"low":    {Width: 640, Height: 480, FPS: 15},
	"medium": {Width: 1280, Height: 720, FPS: 25},
	"high":   {Width: 1920, Height: 1080, FPS: 30},
}

func New(
	log *slog.Logger,
	cameras CameraProvider,
	recordings RecordingSaver,
	codecs *codecservice.Selector,
	transfers TransferSubmitter,
	streamCfg config.Stream,
	videosPath string,
	tempSuffix string,
) *RecordingService {
	return &RecordingService{
		log:        log,
		cameras:    cameras,
		recordings: recordings,
		codecs:     codecs,
		transfers:  transfers,
		streamCfg:  streamCfg,
		videosPath: videosPath,
		tempSuffix: tempSuffix,
		active:     make(map[string]*capture),
	}
}

// Start claims the camera, connects the stream, validates an encoder and
// launches the capture loop. It returns as soon as the loop is running; the
// recording finishes on duration expiry or an explicit Stop.
func (s *RecordingService) Start(ctx context.Context, cameraID string, duration time.Duration, quality string) (string, error) {
	const op = "service.recordings.Start"

	log := s.log.With(
		slog.String("op", op),
		slog.String("camera_id", cameraID),
	)

	camera, err := s.cameras.Camera(cameraID)
	if err != nil {
		log.Error("failed to get camera", sl.Err(err))

		return "", fmt.Errorf("%s: %w", op, err)
	}

	if !camera.IsActive {
		log.Error("camera is disabled")

		return "", fmt.Errorf("%s: %w", op, errs.ErrCameraIsNotAvailable)
	}

	recordingID := uuid.NewString()
	name := fmt.Sprintf("%s_%s", recordingID, time.Now().Format("2006-01-02_15-04-05"))
	finalPath := filepath.Join(s.videosPath, cameraID, name+".mkv")
	tempPath := finalPath + s.tempSuffix

	rec := models.Recording{
		RecordingID: recordingID,
		CameraID:    cameraID,
		Name:        name,
		FilePath:    tempPath,
		CreatedAt:   time.Now(),
	}

	// The conditional insert is the busy check: one active recording per
	// camera, enforced in the database, not here.
	if err := s.recordings.Start(rec); err != nil {
		log.Error("failed to claim recording", sl.Err(err))

		return "", fmt.Errorf("%s: %w", op, err)
	}

	log.Info("recording claimed", slog.String("recording_id", recordingID))

	session := streamservice.New(s.log, s.streamCfg, camera)
	if err := session.Connect(); err != nil {
		s.failRecording(recordingID, "stream connect failed: "+err.Error())
		s.markCameraStatus(cameraID, models.CameraStatusOffline)

		return "", fmt.Errorf("%s: %w", op, err)
	}

	s.markCameraStatus(cameraID, models.CameraStatusActive)

	candidate, err := s.codecs.Pick(ctx, profileFor(quality))
	if err != nil {
		session.Close()
		s.failRecording(recordingID, "no working encoder: "+err.Error())

		return "", fmt.Errorf("%s: %w", op, err)
	}

	captureCtx, cancel := context.WithCancel(context.Background())

	// The encoder outlives the capture context: a stop must still let the
	// process drain stdin and flush the container before it exits. Abort
	// paths kill it explicitly.
	writer, err := candidate.Open(context.Background(), tempPath)
	if err != nil {
		cancel()
		session.Close()
		s.failRecording(recordingID, "failed to open encoder: "+err.Error())

		return "", fmt.Errorf("%s: %w", op, err)
	}

	c := &capture{
		cancel:  cancel,
		stopped: make(chan struct{}),
	}

	s.mu.Lock()
	s.active[recordingID] = c
	s.mu.Unlock()

	go s.capture(captureCtx, c, recordingID, tempPath, finalPath, duration, session, writer)

	log.Info("recording started",
		slog.String("recording_id", recordingID),
		slog.String("encoder", candidate.Name),
		slog.String("duration", duration.String()),
	)

	return recordingID, nil
}

// Stop requests early termination and waits for the capture loop to finalize.
func (s *RecordingService) Stop(recordingID string) error {
	const op = "service.recordings.Stop"

	log := s.log.With(
		slog.String("op", op),
		slog.String("recording_id", recordingID),
	)

	s.mu.Lock()
	c, ok := s.active[recordingID]
	s.mu.Unlock()

	if !ok {
		log.Error("recording is not active")

		return fmt.Errorf("%s: %w", op, errs.ErrRecordingNotActive)
	}

	c.cancel()
	<-c.stopped

	log.Info("recording stopped")

	return nil
}

// StopAll terminates every active capture. Each one finalizes its file before
// returning, so recordings survive a clean shutdown as completed local files.
func (s *RecordingService) StopAll() {
	s.mu.Lock()
	active := make([]*capture, 0, len(s.active))
	for _, c := range s.active {
		active = append(active, c)
	}
	s.mu.Unlock()

	for _, c := range active {
		c.cancel()
		<-c.stopped
	}
}

func (s *RecordingService) Recording(recordingID string) (models.Recording, error) {
	const op = "service.recordings.Recording"

	rec, err := s.recordings.Recording(recordingID)
	if err != nil {
		return models.Recording{}, fmt.Errorf("%s: %w", op, err)
	}

	return rec, nil
}

func (s *RecordingService) CameraRecordings(cameraID string, limit, offset int) ([]models.Recording, error) {
	const op = "service.recordings.CameraRecordings"

	recs, err := s.recordings.CameraRecordings(cameraID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return recs, nil
}

// capture is the only writer of the recording file. Frames flow from the
// session into the encoder until the duration expires, a stop is requested or
// the session turns unhealthy.
func (s *RecordingService) capture(
	ctx context.Context,
	c *capture,
	recordingID, tempPath, finalPath string,
	duration time.Duration,
	session *streamservice.Session,
	writer *codecservice.Writer,
) {
	const op = "service.recordings.capture"

	log := s.log.With(
		slog.String("op", op),
		slog.String("recording_id", recordingID),
	)

	defer func() {
		c.cancel()

		s.mu.Lock()
		delete(s.active, recordingID)
		s.mu.Unlock()
		close(c.stopped)
	}()

	timer := time.NewTimer(duration)
	defer timer.Stop()

	frameCount := 0

	for {
		select {
		case <-ctx.Done():
			log.Info("stop requested", slog.Int("frames", frameCount))
			s.finalize(recordingID, tempPath, finalPath, session, writer)

			return
		case <-timer.C:
			log.Info("duration expired", slog.Int("frames", frameCount))
			s.finalize(recordingID, tempPath, finalPath, session, writer)

			return
		default:
		}

		frame, err := session.ReadFrame()
		if err != nil {
			log.Error("stream unhealthy, aborting recording", sl.Err(err))

			session.Close()
			writer.Abort()
			s.failRecording(recordingID, "stream unhealthy: "+err.Error())

			return
		}

		if len(frame.NALUs) == 0 {
			continue
		}

		if err := writer.WriteNALUs(frame.NALUs); err != nil {
			log.Error("write failed, aborting recording", sl.Err(err))

			session.Close()
			writer.Abort()
			s.failRecording(recordingID, "write failed: "+err.Error())

			return
		}

		frameCount++
	}
}

// finalize closes the writer, verifies the file on disk, renames it into place
// and hands the recording to the transfer pipeline. The recording is never
// marked completed before the file is confirmed closed and non-empty.
func (s *RecordingService) finalize(recordingID, tempPath, finalPath string, session *streamservice.Session, writer *codecservice.Writer) {
	const op = "service.recordings.finalize"

	log := s.log.With(
		slog.String("op", op),
		slog.String("recording_id", recordingID),
	)

	session.Close()

	if err := writer.Close(); err != nil {
		log.Error("failed to close writer", sl.Err(err))

		s.failRecording(recordingID, "failed to close writer: "+err.Error())

		return
	}

	info, err := os.Stat(tempPath)
	if err != nil || info.Size() == 0 {
		log.Error("recording file empty or missing", slog.String("path", tempPath))

		s.failRecording(recordingID, errs.ErrEmptyRecordingFile.Error())

		return
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		log.Error("failed to rename recording file", sl.Err(err))

		s.failRecording(recordingID, "failed to rename recording file: "+err.Error())

		return
	}

	if err := s.recordings.Finalize(recordingID, finalPath, info.Size()); err != nil {
		log.Error("failed to finalize recording", sl.Err(err))

		return
	}

	log.Info("recording completed",
		slog.String("path", finalPath),
		slog.Int64("size", info.Size()),
	)

	rec, err := s.recordings.Recording(recordingID)
	if err != nil {
		log.Error("failed to reload recording", sl.Err(err))

		return
	}

	// Handoff to the uploader is fire-and-forget; capture must never stall
	// on network I/O.
	go func() {
		if err := s.transfers.Submit(context.Background(), rec); err != nil {
			log.Error("failed to submit transfer", sl.Err(err))
		}
	}()
}

func (s *RecordingService) failRecording(recordingID, detail string) {
	if err := s.recordings.MarkFailed(recordingID, detail); err != nil {
		s.log.Error("failed to mark recording failed",
			slog.String("recording_id", recordingID),
			sl.Err(err),
		)
	}
}

func (s *RecordingService) markCameraStatus(cameraID, status string) {
	if err := s.cameras.UpdateStatus(cameraID, status, time.Now()); err != nil {
		s.log.Error("failed to update camera status",
			slog.String("camera_id", cameraID),
			sl.Err(err),
		)
	}
}

func profileFor(quality string) codecservice.Profile {
	if profile, ok := qualityProfiles[quality]; ok {
		return profile
	}

	return qualityProfiles["medium"]
}
