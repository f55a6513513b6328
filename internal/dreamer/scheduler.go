package dreamer

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler fires consolidation triggers on a fixed interval.
//
// The scheduler only triggers; the Dreamer's Run loop decides when the
// pass actually happens. A tick that lands while a pass is running and a
// trigger is already pending is dropped by design.
//
// Thread safety: all public methods are safe for concurrent use.
type Scheduler struct {
	interval time.Duration
	dreamer  *Dreamer

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}

	logger *zap.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the trigger interval. Defaults to one hour.
func WithInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.interval = interval
	}
}

// NewScheduler creates a scheduler. It does not start automatically;
// call Start to begin firing triggers.
func NewScheduler(dreamer *Dreamer, logger *zap.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if dreamer == nil {
		return nil, fmt.Errorf("dreamer cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		interval: time.Hour,
		dreamer:  dreamer,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", s.interval)
	}
	return s, nil
}

// Start begins the background trigger loop. Starting an already running
// scheduler is an error.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.stopCh = make(chan struct{})
	s.running = true

	s.logger.Info("consolidation scheduler started",
		zap.Duration("interval", s.interval),
	)
	go s.run(s.stopCh)
	return nil
}

// Stop halts the trigger loop. Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	s.logger.Info("consolidation scheduler stopped")
}

func (s *Scheduler) run(stopCh chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.logger.Debug("scheduled consolidation trigger")
			s.dreamer.Trigger()
		case <-stopCh:
			return
		}
	}
}
