package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jobrunner/spacefetch/internal/domain"
	"github.com/jobrunner/spacefetch/internal/ports/input"
)

// ErrRateLimited is returned when the sync API rate limit is exceeded.
var ErrRateLimited = errors.New("rate limit exceeded")

// DefaultTriggerCooldown is the minimum gap between manual triggers.
const DefaultTriggerCooldown = 30 * time.Second

// WindowFunc computes the date window of a cycle started at now.
type WindowFunc func(now time.Time) (domain.DateWindow, error)

// FixedStart returns a window from start up to the cycle's day.
func FixedStart(start time.Time) WindowFunc {
	return func(now time.Time) (domain.DateWindow, error) {
		return domain.NewDateWindow(start, now)
	}
}

// Trailing returns a window from days days before the cycle's day up to it.
func Trailing(days int) WindowFunc {
	return func(now time.Time) (domain.DateWindow, error) {
		return domain.NewDateWindow(now.AddDate(0, 0, -days), now)
	}
}

// Scheduler runs the configured datasets every interval.
type Scheduler struct {
	pipeline *Pipeline
	datasets []string
	window   WindowFunc
	interval time.Duration
	logger   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// Lifecycle management
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Rate limiting for API triggers
	cooldown    time.Duration
	lastTrigger time.Time
	apiMutex    sync.Mutex

	// Track next scheduled cycle for reporting
	nextCycle time.Time
	cycleMu   sync.RWMutex
}

// NewScheduler creates a new scheduler. An empty dataset list runs every
// registered dataset.
func NewScheduler(pipeline *Pipeline, datasets []string, window WindowFunc, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		pipeline: pipeline,
		datasets: datasets,
		window:   window,
		interval: interval,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
		cooldown: DefaultTriggerCooldown,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start runs the polling loop in the background until Stop or ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("starting scheduler", "interval", s.interval, "datasets", s.targets())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(ctx)
	}()
}

// Stop gracefully stops the scheduler and waits for the running cycle.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Run cycles until ctx is done. A cycle runs immediately on entry.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		s.RunCycle(ctx)
		s.setNextCycle(s.now().Add(s.interval))
		if err := s.sleep(ctx, s.interval); err != nil {
			s.logger.Info("scheduler stopped", "reason", err)
			return
		}
	}
}

// RunCycle runs every dataset once. Failures are logged and never escape.
func (s *Scheduler) RunCycle(ctx context.Context) {
	window, err := s.window(s.now())
	if err != nil {
		s.logger.Error("cannot compute window", "error", err)
		return
	}
	for _, id := range s.targets() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.runOne(ctx, id, window); err != nil {
			s.logger.Error("scheduled run failed", "dataset", id, "error", err)
		}
	}
}

func (s *Scheduler) runOne(ctx context.Context, id string, window domain.DateWindow) (domain.Summary, error) {
	return s.pipeline.Run(ctx, id, window)
}

// TriggerSync runs one dataset now, at most once per cooldown.
func (s *Scheduler) TriggerSync(ctx context.Context, datasetID string) (input.SyncResult, error) {
	if _, err := s.pipeline.Registry().Get(datasetID); err != nil {
		return input.SyncResult{}, err
	}

	s.apiMutex.Lock()
	now := s.now()
	if !s.lastTrigger.IsZero() && now.Sub(s.lastTrigger) < s.cooldown {
		s.apiMutex.Unlock()
		return input.SyncResult{}, ErrRateLimited
	}
	s.lastTrigger = now
	s.apiMutex.Unlock()

	window, err := s.window(now)
	if err != nil {
		return input.SyncResult{}, err
	}
	summary, err := s.runOne(ctx, datasetID, window)
	if err != nil {
		return input.SyncResult{Summary: summary}, err
	}
	return input.SyncResult{Summary: summary, NextScheduledAt: s.NextScheduled()}, nil
}

func (s *Scheduler) targets() []string {
	if len(s.datasets) > 0 {
		return s.datasets
	}
	return s.pipeline.Registry().IDs()
}

func (s *Scheduler) setNextCycle(t time.Time) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	s.nextCycle = t
}

// NextScheduled returns the start of the next cycle.
func (s *Scheduler) NextScheduled() time.Time {
	s.cycleMu.RLock()
	defer s.cycleMu.RUnlock()
	return s.nextCycle
}

// Interval returns the polling interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}
