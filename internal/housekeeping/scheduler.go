// Package housekeeping runs periodic cleanup of expiring daemon state.
package housekeeping

import (
	"context"
	"sync"
	"time"

	"github.com/teemow/oxd/internal/instrumentation"
	"github.com/teemow/oxd/internal/logging"
)

// Sweeper removes entries that expired before now and returns how many it
// removed.
type Sweeper interface {
	Sweep(now time.Time) int
}

// SweeperFunc adapts a function to a Sweeper.
type SweeperFunc func(now time.Time) int

// Sweep calls f(now).
func (f SweeperFunc) Sweep(now time.Time) int {
	return f(now)
}

type entry struct {
	name    string
	sweeper Sweeper
}

// Scheduler runs registered sweepers on one goroutine at a fixed interval.
// Sweepers never run concurrently with each other.
type Scheduler struct {
	interval time.Duration
	logger   logging.Logger
	metrics  *instrumentation.Metrics
	now      func() time.Time

	mu       sync.Mutex
	sweepers []entry
}

// NewScheduler creates a Scheduler. metrics may be nil.
func NewScheduler(interval time.Duration, logger logging.Logger, metrics *instrumentation.Metrics) *Scheduler {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Scheduler{
		interval: interval,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Register adds a sweeper. The name is used as metric label.
func (s *Scheduler) Register(name string, sw Sweeper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepers = append(s.sweepers, entry{name: name, sweeper: sw})
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info("housekeeping disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("housekeeping started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("housekeeping stopped")
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs every registered sweeper once and returns the number of
// removed entries.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	s.mu.Lock()
	sweepers := make([]entry, len(s.sweepers))
	copy(sweepers, s.sweepers)
	s.mu.Unlock()

	now := s.now()
	total := 0
	for _, e := range sweepers {
		removed := s.sweep(e, now)
		if removed > 0 {
			s.metrics.RecordHousekeepingSweep(ctx, e.name, removed)
			s.logger.With("store", e.name).Debug("swept expired entries", "removed", removed)
		}
		total += removed
	}
	return total
}

// sweep keeps one failing sweeper from stopping the scheduler.
func (s *Scheduler) sweep(e entry, now time.Time) (removed int) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.With("store", e.name).Error("sweeper panicked", "panic", r)
			removed = 0
		}
	}()
	return e.sweeper.Sweep(now)
}
