package streamservice

import (
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/aler9/gortsplib"
	"github.com/aler9/gortsplib/pkg/rtpcodecs/rtph264"
	rtspurl "github.com/aler9/gortsplib/pkg/url"

	"github.com/nverdin/camera_archive/internal/config"
	"github.com/nverdin/camera_archive/internal/domain/errs"
	"github.com/nverdin/camera_archive/internal/domain/models"
	"github.com/nverdin/camera_archive/internal/lib/sl"
)

// Frame is one decoded H264 access unit.
type Frame struct {
	NALUs [][]byte
	PTS   time.Duration
}

// Session owns one live RTSP connection to one camera. It never reconnects on
// its own; an unhealthy session must be closed and re-connected by its owner.
type Session struct {
	log    *slog.Logger
	cfg    config.Stream
	camera models.Camera

	client *gortsplib.Client
	frames chan Frame

	mu       sync.Mutex
	closed   bool
	failures int
}

func New(log *slog.Logger, cfg config.Stream, camera models.Camera) *Session {
	return &Session{
		log:    log,
		cfg:    cfg,
		camera: camera,
		frames: make(chan Frame, 64),
	}
}

// Connect dials the camera, finds the H264 track and starts the decode pump.
func (s *Session) Connect() error {
	const op = "service.stream.Connect"

	log := s.log.With(
		slog.String("op", op),
		slog.String("camera_id", s.camera.CameraID),
	)

	u, err := rtspurl.Parse(streamAddress(s.camera))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	client := &gortsplib.Client{
		ReadTimeout:  s.cfg.ConnectTimeout,
		WriteTimeout: s.cfg.ConnectTimeout,
	}

	if err := client.Start(u.Scheme, u.Host); err != nil {
		return fmt.Errorf("%s: %w: %w", op, errs.ErrCameraIsNotAvailable, err)
	}

	tracks, baseURL, _, err := client.Describe(u)
	if err != nil {
		client.Close()

		return fmt.Errorf("%s: %w: %w", op, errs.ErrCameraIsNotAvailable, err)
	}

	h264TrackID := -1
	for i, track := range tracks {
		if _, ok := track.(*gortsplib.TrackH264); ok {
			h264TrackID = i
			break
		}
	}

	if h264TrackID == -1 {
		client.Close()

		return fmt.Errorf("%s: %w", op, errs.ErrUnsupportedFormat)
	}

	rtpDec := &rtph264.Decoder{}
	rtpDec.Init()

	client.OnPacketRTP = func(ctx *gortsplib.ClientOnPacketRTPCtx) {
		if ctx.TrackID != h264TrackID {
			return
		}

		// Access units span multiple RTP packets; the decoder buffers
		// fragments until one is complete.
		nalus, pts, err := rtpDec.Decode(ctx.Packet)
		if err != nil {
			return
		}

		select {
		case s.frames <- Frame{NALUs: nalus, PTS: pts}:
		default:
			// Reader is behind; dropping is better than blocking the pump.
		}
	}

	if err := client.SetupAndPlay(tracks, baseURL); err != nil {
		client.Close()

		return fmt.Errorf("%s: %w: %w", op, errs.ErrCameraIsNotAvailable, err)
	}

	s.client = client

	log.Info("stream connected", slog.Int("tracks", len(tracks)))

	return nil
}

// ReadFrame returns the next frame, waiting at most the configured read
// timeout. Consecutive misses beyond the threshold flip the session to
// unhealthy; the counter resets on every successful read.
func (s *Session) ReadFrame() (Frame, error) {
	const op = "service.stream.ReadFrame"

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return Frame{}, fmt.Errorf("%s: %w", op, errs.ErrSessionUnhealthy)
	}
	s.mu.Unlock()

	timer := time.NewTimer(s.cfg.ReadTimeout)
	defer timer.Stop()

	select {
	case frame := <-s.frames:
		s.mu.Lock()
		s.failures = 0
		s.mu.Unlock()

		return frame, nil
	case <-timer.C:
		s.mu.Lock()
		s.failures++
		failures := s.failures
		s.mu.Unlock()

		if failures >= s.cfg.MaxReadFailures {
			s.log.Error("stream unhealthy",
				slog.String("camera_id", s.camera.CameraID),
				slog.Int("consecutive_failures", failures),
			)

			return Frame{}, fmt.Errorf("%s: %w", op, errs.ErrSessionUnhealthy)
		}

		return Frame{}, nil
	}
}

// Close releases the connection. Idempotent, safe after failure.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	if s.client != nil {
		s.client.Close()
	}
}

// Probe checks that a camera answers RTSP OPTIONS. Connection test only, no
// session state and no persistence.
func Probe(log *slog.Logger, address string, timeout time.Duration) error {
	const op = "service.stream.Probe"

	u, err := rtspurl.Parse(address)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	client := gortsplib.Client{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}

	if err := client.Start(u.Scheme, u.Host); err != nil {
		log.Error("camera probe failed", sl.Err(err))

		return fmt.Errorf("%s: %w", op, errs.ErrCameraIsNotAvailable)
	}
	defer client.Close()

	if _, err := client.Options(u); err != nil {
		log.Error("camera probe failed", sl.Err(err))

		return fmt.Errorf("%s: %w", op, errs.ErrCameraIsNotAvailable)
	}

	return nil
}

func streamAddress(camera models.Camera) string {
	if camera.Login == "" {
		return camera.Address
	}

	u, err := url.Parse(camera.Address)
	if err != nil {
		return camera.Address
	}

	u.User = url.UserPassword(camera.Login, camera.Password)

	return u.String()
}
