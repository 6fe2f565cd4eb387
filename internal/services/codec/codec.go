package codecservice

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/nverdin/camera_archive/internal/domain/errs"
	"github.com/nverdin/camera_archive/internal/lib/sl"
)

// Profile identifies one resolution/framerate combination. Probe results are
// cached per profile: a codec's validity for a profile does not change at
// runtime, so there is no TTL, only explicit invalidation.
type Profile struct {
	Width  int
	Height int
	FPS    int
}

func (p Profile) String() string {
	return fmt.Sprintf("%dx%d@%d", p.Width, p.Height, p.FPS)
}

// Candidate is one known-working encoder pipeline. Probe must produce a real
// output file for the profile; Record must accept an H264 byte stream on stdin
// and mux it into path.
type Candidate struct {
	Name   string
	Probe  func(ctx context.Context, profile Profile, path string) *exec.Cmd
	Record func(ctx context.Context, path string) *exec.Cmd
}

// DefaultCandidates is the ranked list used in production: stream-copy first,
// re-encode as fallback.
func DefaultCandidates() []Candidate {
	return []Candidate{
		{
			Name: "ffmpeg-copy",
			Probe: func(ctx context.Context, p Profile, path string) *exec.Cmd {
				return exec.CommandContext(ctx, "ffmpeg",
					"-hide_banner", "-loglevel", "error",
					"-f", "lavfi", "-i", fmt.Sprintf("testsrc=size=%dx%d:rate=%d", p.Width, p.Height, p.FPS),
					"-t", "1", "-c:v", "libx264", "-y", path,
				)
			},
			Record: func(ctx context.Context, path string) *exec.Cmd {
				return exec.CommandContext(ctx, "ffmpeg",
					"-hide_banner", "-loglevel", "error",
					"-f", "h264", "-i", "pipe:0",
					"-c:v", "copy", "-y", path,
				)
			},
		},
		{
			Name: "gst-x264",
			Probe: func(ctx context.Context, p Profile, path string) *exec.Cmd {
				// Argv element by element: a split on spaces would break on
				// paths containing them.
				return exec.CommandContext(ctx, "gst-launch-1.0",
					"videotestsrc", fmt.Sprintf("num-buffers=%d", p.FPS),
					"!", fmt.Sprintf("video/x-raw,width=%d,height=%d,framerate=%d/1", p.Width, p.Height, p.FPS),
					"!", "x264enc",
					"!", "matroskamux",
					"!", "filesink", "location="+path,
				)
			},
			Record: func(ctx context.Context, path string) *exec.Cmd {
				return exec.CommandContext(ctx, "gst-launch-1.0", "-e",
					"fdsrc", "fd=0",
					"!", "h264parse",
					"!", "matroskamux",
					"!", "filesink", "location="+path,
				)
			},
		},
	}
}

// Selector probes candidates on first use for a profile and caches the first
// success.
type Selector struct {
	log        *slog.Logger
	candidates []Candidate
	probeDir   string

	mu    sync.RWMutex
	cache map[Profile]int
}

func New(log *slog.Logger, candidates []Candidate, probeDir string) *Selector {
	return &Selector{
		log:        log,
		candidates: candidates,
		probeDir:   probeDir,
		cache:      make(map[Profile]int),
	}
}

// Pick returns the first candidate that validates for the profile, probing on
// cache miss.
func (s *Selector) Pick(ctx context.Context, profile Profile) (Candidate, error) {
	const op = "service.codec.Pick"

	s.mu.RLock()
	idx, ok := s.cache[profile]
	s.mu.RUnlock()

	if ok {
		return s.candidates[idx], nil
	}

	log := s.log.With(
		slog.String("op", op),
		slog.String("profile", profile.String()),
	)

	for i, candidate := range s.candidates {
		if err := s.probe(ctx, candidate, profile); err != nil {
			log.Warn("encoder probe failed",
				slog.String("candidate", candidate.Name),
				sl.Err(err),
			)

			continue
		}

		log.Info("encoder validated", slog.String("candidate", candidate.Name))

		s.mu.Lock()
		s.cache[profile] = i
		s.mu.Unlock()

		return candidate, nil
	}

	return Candidate{}, fmt.Errorf("%s: %w", op, errs.ErrNoCodecAvailable)
}

// probe runs the candidate against a throwaway file and reads the result back.
func (s *Selector) probe(ctx context.Context, candidate Candidate, profile Profile) error {
	const op = "service.codec.probe"

	if err := os.MkdirAll(s.probeDir, os.ModePerm); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	path := filepath.Join(s.probeDir, fmt.Sprintf("probe_%s_%s.mkv", candidate.Name, profile))
	defer os.Remove(path)

	cmd := candidate.Probe(ctx, profile, path)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if info.Size() == 0 {
		return fmt.Errorf("%s: probe produced an empty file", op)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer file.Close()

	header := make([]byte, 4)
	if _, err := file.Read(header); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Invalidate clears the probe cache. Operator command; the next Pick re-probes.
func (s *Selector) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache = make(map[Profile]int)
}

// Warmup probes the given profiles ahead of time so the first recording does
// not pay the probe cost.
func (s *Selector) Warmup(ctx context.Context, profiles []Profile) {
	for _, profile := range profiles {
		if _, err := s.Pick(ctx, profile); err != nil {
			s.log.Warn("codec warmup failed",
				slog.String("profile", profile.String()),
				sl.Err(err),
			)
		}
	}
}

// Writer is the open write sink of a running encoder process. Frames go to the
// encoder's stdin as an annex-B byte stream.
type Writer struct {
	cmd   *exec.Cmd
	stdin interface {
		Write(p []byte) (int, error)
		Close() error
	}
}

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// Open starts the candidate's record pipeline writing into path.
func (c Candidate) Open(ctx context.Context, path string) (*Writer, error) {
	const op = "service.codec.Open"

	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cmd := c.Record(ctx, path)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Writer{cmd: cmd, stdin: stdin}, nil
}

// WriteNALUs appends one access unit to the stream.
func (w *Writer) WriteNALUs(nalus [][]byte) error {
	const op = "service.codec.WriteNALUs"

	for _, nalu := range nalus {
		if _, err := w.stdin.Write(startCode); err != nil {
			return fmt.Errorf("%s: %w: %w", op, errs.ErrWriteFailure, err)
		}
		if _, err := w.stdin.Write(nalu); err != nil {
			return fmt.Errorf("%s: %w: %w", op, errs.ErrWriteFailure, err)
		}
	}

	return nil
}

// Close flushes the encoder by closing stdin and waiting for the process to
// finish the container.
func (w *Writer) Close() error {
	const op = "service.codec.Close"

	if err := w.stdin.Close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := w.cmd.Wait(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Abort kills the encoder without waiting for a flush. For failure paths only;
// the output file is already known to be unusable.
func (w *Writer) Abort() {
	w.stdin.Close()

	if w.cmd.Process != nil {
		w.cmd.Process.Kill()
	}

	w.cmd.Wait()
}
