package schedulerservice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nverdin/camera_archive/internal/domain/errs"
	"github.com/nverdin/camera_archive/internal/lib/sl"
)

// Scheduler runs recurring jobs keyed by stable id. Re-registering an id
// replaces the existing job instead of duplicating it. A failed run is logged
// and never cancels future occurrences.
type Scheduler struct {
	log *slog.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

type job struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

type Starter interface {
	Start(ctx context.Context, cameraID string, duration time.Duration, quality string) (string, error)
}

func New(log *slog.Logger) *Scheduler {
	return &Scheduler{
		log:  log,
		jobs: make(map[string]*job),
	}
}

// Register installs a job that waits for next(now), runs fn, and repeats.
// next returning the zero time retires the job.
func (s *Scheduler) Register(id string, next func(time.Time) time.Time, fn func(context.Context)) {
	const op = "service.scheduler.Register"

	log := s.log.With(
		slog.String("op", op),
		slog.String("job_id", id),
	)

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		id:     id,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	if old, ok := s.jobs[id]; ok {
		old.cancel()
		<-old.done

		log.Info("job replaced")
	}
	s.jobs[id] = j
	s.mu.Unlock()

	go func() {
		defer close(j.done)

		for {
			at := next(time.Now())
			if at.IsZero() {
				log.Info("job retired")

				return
			}

			timer := time.NewTimer(time.Until(at))

			select {
			case <-ctx.Done():
				timer.Stop()

				return
			case <-timer.C:
			}

			fn(ctx)
		}
	}()

	log.Info("job registered")
}

// RegisterInterval installs a maintenance job firing every interval. Sweeps
// tolerate running with zero work items, so the job just runs on the tick.
func (s *Scheduler) RegisterInterval(id string, every time.Duration, fn func(context.Context)) {
	s.Register(id, func(now time.Time) time.Time {
		return now.Add(every)
	}, fn)
}

// RegisterScheduleEntry installs a recurring recording window for a camera.
// The job id is (camera_id, schedule_id), so re-registering a schedule
// replaces the job.
func (s *Scheduler) RegisterScheduleEntry(
	scheduleID, cameraID string,
	weekdays []string,
	startTime string,
	duration time.Duration,
	quality string,
	starter Starter,
) error {
	const op = "service.scheduler.RegisterScheduleEntry"

	log := s.log.With(
		slog.String("op", op),
		slog.String("camera_id", cameraID),
		slog.String("schedule_id", scheduleID),
	)

	days, err := parseWeekdays(weekdays)
	if err != nil {
		log.Error("invalid schedule", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	hour, minute, err := parseClock(startTime)
	if err != nil {
		log.Error("invalid schedule", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	id := cameraID + "/" + scheduleID

	s.Register(id, func(now time.Time) time.Time {
		return nextOccurrence(now, days, hour, minute)
	}, func(ctx context.Context) {
		if _, err := starter.Start(ctx, cameraID, duration, quality); err != nil {
			// Camera unreachable now does not cancel the series.
			log.Error("scheduled start failed", sl.Err(err))
		}
	})

	return nil
}

// Deregister removes a job if present.
func (s *Scheduler) Deregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[id]; ok {
		j.cancel()
		<-j.done
		delete(s.jobs, id)
	}
}

// Stop cancels every job and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, j := range s.jobs {
		j.cancel()
		<-j.done
		delete(s.jobs, id)
	}
}

func parseWeekdays(names []string) (map[time.Weekday]bool, error) {
	known := map[string]time.Weekday{
		"sunday":    time.Sunday,
		"monday":    time.Monday,
		"tuesday":   time.Tuesday,
		"wednesday": time.Wednesday,
		"thursday":  time.Thursday,
		"friday":    time.Friday,
		"saturday":  time.Saturday,
	}

	days := make(map[time.Weekday]bool, len(names))
	for _, name := range names {
		day, ok := known[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q: %w", name, errs.ErrInvalidStartTime)
		}
		days[day] = true
	}

	return days, nil
}

func parseClock(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start_time %q: %w", value, errs.ErrInvalidStartTime)
	}

	return t.Hour(), t.Minute(), nil
}

func nextOccurrence(now time.Time, days map[time.Weekday]bool, hour, minute int) time.Time {
	for offset := 0; offset < 8; offset++ {
		day := now.AddDate(0, 0, offset)
		at := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())

		if days[at.Weekday()] && at.After(now) {
			return at
		}
	}

	return time.Time{}
}
