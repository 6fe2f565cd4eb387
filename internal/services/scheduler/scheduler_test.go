package schedulerservice

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nverdin/camera_archive/internal/domain/errs"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegisterIntervalFires(t *testing.T) {
	s := New(discardLogger())
	defer s.Stop()

	var runs atomic.Int32

	s.RegisterInterval("tick", 10*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
	})

	assert.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestRegisterReplacesExistingJob(t *testing.T) {
	s := New(discardLogger())
	defer s.Stop()

	var first, second atomic.Int32

	s.RegisterInterval("job", 10*time.Millisecond, func(ctx context.Context) {
		first.Add(1)
	})

	s.RegisterInterval("job", 10*time.Millisecond, func(ctx context.Context) {
		second.Add(1)
	})

	firstAfterReplace := first.Load()

	assert.Eventually(t, func() bool {
		return second.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	// The replaced job must not keep running alongside the new one.
	assert.Equal(t, firstAfterReplace, first.Load())
}

func TestRegisterRetiresOnZeroTime(t *testing.T) {
	s := New(discardLogger())
	defer s.Stop()

	var runs atomic.Int32

	s.Register("once", func(now time.Time) time.Time {
		if runs.Load() > 0 {
			return time.Time{}
		}

		return now.Add(time.Millisecond)
	}, func(ctx context.Context) {
		runs.Add(1)
	})

	assert.Eventually(t, func() bool {
		return runs.Load() == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestDeregisterStopsJob(t *testing.T) {
	s := New(discardLogger())
	defer s.Stop()

	var runs atomic.Int32

	s.RegisterInterval("job", 10*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
	})

	s.Deregister("job")
	after := runs.Load()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

type fakeStarter struct {
	starts atomic.Int32
}

func (f *fakeStarter) Start(ctx context.Context, cameraID string, duration time.Duration, quality string) (string, error) {
	f.starts.Add(1)

	return "rec", nil
}

func TestRegisterScheduleEntryValidation(t *testing.T) {
	s := New(discardLogger())
	defer s.Stop()

	starter := &fakeStarter{}

	err := s.RegisterScheduleEntry("s1", "cam1", []string{"noday"}, "09:00", time.Hour, "", starter)
	assert.ErrorIs(t, err, errs.ErrInvalidStartTime)

	err = s.RegisterScheduleEntry("s1", "cam1", []string{"monday"}, "9 o'clock", time.Hour, "", starter)
	assert.ErrorIs(t, err, errs.ErrInvalidStartTime)

	err = s.RegisterScheduleEntry("s1", "cam1", []string{"monday", "Friday"}, "09:00", time.Hour, "", starter)
	require.NoError(t, err)
}

func TestNextOccurrence(t *testing.T) {
	// A Wednesday, 10:30 local.
	now := time.Date(2026, 9, 2, 10, 30, 0, 0, time.UTC)

	days := map[time.Weekday]bool{time.Wednesday: true}

	// Later the same day.
	at := nextOccurrence(now, days, 18, 0)
	assert.Equal(t, time.Date(2026, 9, 2, 18, 0, 0, 0, time.UTC), at)

	// Earlier today rolls to next week.
	at = nextOccurrence(now, days, 9, 0)
	assert.Equal(t, time.Date(2026, 9, 9, 9, 0, 0, 0, time.UTC), at)

	// Another weekday picks the nearest match.
	at = nextOccurrence(now, map[time.Weekday]bool{time.Friday: true}, 9, 0)
	assert.Equal(t, time.Date(2026, 9, 4, 9, 0, 0, 0, time.UTC), at)

	// No days configured never fires.
	at = nextOccurrence(now, map[time.Weekday]bool{}, 9, 0)
	assert.True(t, at.IsZero())
}
