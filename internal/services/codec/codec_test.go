package codecservice

import (
	"context"
	"io"
	"log/slog"
	"os/exec"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nverdin/camera_archive/internal/domain/errs"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func workingCandidate(name string, probes *atomic.Int32) Candidate {
	return Candidate{
		Name: name,
		Probe: func(ctx context.Context, p Profile, path string) *exec.Cmd {
			probes.Add(1)

			return exec.CommandContext(ctx, "/bin/sh", "-c", "printf 'mkv.' > "+path)
		},
		Record: func(ctx context.Context, path string) *exec.Cmd {
			return exec.CommandContext(ctx, "/bin/sh", "-c", "cat > "+path)
		},
	}
}

func brokenCandidate(name string) Candidate {
	return Candidate{
		Name: name,
		Probe: func(ctx context.Context, p Profile, path string) *exec.Cmd {
			return exec.CommandContext(ctx, "/bin/sh", "-c", "exit 1")
		},
		Record: func(ctx context.Context, path string) *exec.Cmd {
			return exec.CommandContext(ctx, "/bin/sh", "-c", "exit 1")
		},
	}
}

func emptyOutputCandidate(name string) Candidate {
	return Candidate{
		Name: name,
		Probe: func(ctx context.Context, p Profile, path string) *exec.Cmd {
			return exec.CommandContext(ctx, "/bin/sh", "-c", ": > "+path)
		},
	}
}

func TestPickFallsBackToNextCandidate(t *testing.T) {
	var probes atomic.Int32

	selector := New(discardLogger(), []Candidate{
		brokenCandidate("broken"),
		workingCandidate("working", &probes),
	}, t.TempDir())

	candidate, err := selector.Pick(context.Background(), Profile{Width: 1280, Height: 720, FPS: 25})
	require.NoError(t, err)
	assert.Equal(t, "working", candidate.Name)
}

func TestPickCachesPerProfile(t *testing.T) {
	var probes atomic.Int32

	selector := New(discardLogger(), []Candidate{
		workingCandidate("working", &probes),
	}, t.TempDir())

	profile := Profile{Width: 1280, Height: 720, FPS: 25}

	_, err := selector.Pick(context.Background(), profile)
	require.NoError(t, err)
	_, err = selector.Pick(context.Background(), profile)
	require.NoError(t, err)

	assert.Equal(t, int32(1), probes.Load())

	// A different profile is a cache miss.
	_, err = selector.Pick(context.Background(), Profile{Width: 640, Height: 480, FPS: 15})
	require.NoError(t, err)
	assert.Equal(t, int32(2), probes.Load())
}

func TestInvalidateForcesReprobe(t *testing.T) {
	var probes atomic.Int32

	selector := New(discardLogger(), []Candidate{
		workingCandidate("working", &probes),
	}, t.TempDir())

	profile := Profile{Width: 1280, Height: 720, FPS: 25}

	_, err := selector.Pick(context.Background(), profile)
	require.NoError(t, err)

	selector.Invalidate()

	_, err = selector.Pick(context.Background(), profile)
	require.NoError(t, err)

	assert.Equal(t, int32(2), probes.Load())
}

func TestPickNoCandidateAvailable(t *testing.T) {
	selector := New(discardLogger(), []Candidate{
		brokenCandidate("broken"),
		emptyOutputCandidate("empty"),
	}, t.TempDir())

	_, err := selector.Pick(context.Background(), Profile{Width: 1280, Height: 720, FPS: 25})
	assert.ErrorIs(t, err, errs.ErrNoCodecAvailable)
}

func TestWarmupFillsCache(t *testing.T) {
	var probes atomic.Int32

	selector := New(discardLogger(), []Candidate{
		workingCandidate("working", &probes),
	}, t.TempDir())

	profiles := []Profile{
		{Width: 640, Height: 480, FPS: 15},
		{Width: 1280, Height: 720, FPS: 25},
	}

	selector.Warmup(context.Background(), profiles)
	assert.Equal(t, int32(2), probes.Load())

	for _, profile := range profiles {
		_, err := selector.Pick(context.Background(), profile)
		require.NoError(t, err)
	}

	// All hits after warmup.
	assert.Equal(t, int32(2), probes.Load())
}

func TestGstPipelineKeepsPathIntact(t *testing.T) {
	var gst Candidate
	for _, c := range DefaultCandidates() {
		if c.Name == "gst-x264" {
			gst = c
		}
	}
	require.NotEmpty(t, gst.Name)

	path := "/videos/cam 1/rec 1.mkv"

	cmd := gst.Record(context.Background(), path)
	assert.Contains(t, cmd.Args, "location="+path)

	cmd = gst.Probe(context.Background(), Profile{Width: 640, Height: 480, FPS: 15}, path)
	assert.Contains(t, cmd.Args, "location="+path)
}

func TestProfileString(t *testing.T) {
	assert.Equal(t, "1920x1080@30", Profile{Width: 1920, Height: 1080, FPS: 30}.String())
}
