package fieldsync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Skrufy/ConstructionManager-sub008/logging"
)

// DefaultSyncInterval is the periodic trigger used when no interval is
// configured.
const DefaultSyncInterval = 30 * time.Second

// Scheduler drives the engine opportunistically: on a fixed interval and
// immediately when the host signals that connectivity returned. It probes the
// pending count before driving so an empty queue causes no network traffic.
type Scheduler struct {
	engine    *Engine
	interval  time.Duration
	reconnect <-chan struct{}
	strategy  Strategy
	logger    *logging.Logger

	mu      sync.Mutex
	driving bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerStrategy sets the conflict strategy for scheduled cycles.
func WithSchedulerStrategy(s Strategy) SchedulerOption {
	return func(sc *Scheduler) { sc.strategy = s }
}

// WithSchedulerLogger sets a custom logger.
func WithSchedulerLogger(l *logging.Logger) SchedulerOption {
	return func(sc *Scheduler) { sc.logger = l }
}

// NewScheduler creates a scheduler for the engine. reconnect may be nil when
// the host has no connectivity signal; the interval trigger still runs.
func NewScheduler(engine *Engine, interval time.Duration, reconnect <-chan struct{}, opts ...SchedulerOption) *Scheduler {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	s := &Scheduler{
		engine:    engine,
		interval:  interval,
		reconnect: reconnect,
		strategy:  StrategyServerWins,
		logger:    logging.WithComponent(logging.Component("scheduler")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the scheduling loop and returns its disposer. The disposer
// cancels the interval ticker, detaches the reconnect listener, and waits for
// the loop goroutine; it does not abort a drive cycle already in progress.
// Calling it more than once is safe.
func (s *Scheduler) Start(ctx context.Context) (stop func()) {
	stopCh := make(chan struct{})
	var once sync.Once
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				s.drive(ctx, "interval")
			case _, open := <-s.reconnect:
				if !open {
					// Host closed the signal channel; keep the ticker alive.
					s.reconnect = nil
					continue
				}
				s.drive(ctx, "reconnect")
			}
		}
	}()

	s.logger.InfoContext(ctx, "auto-sync started", slog.Duration("interval", s.interval))

	return func() {
		once.Do(func() {
			close(stopCh)
			wg.Wait()
			s.logger.Info("auto-sync stopped")
		})
	}
}

// drive runs one cycle unless another scheduled cycle is still in flight or
// the queue is empty.
func (s *Scheduler) drive(ctx context.Context, trigger string) {
	s.mu.Lock()
	if s.driving {
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "cycle already in progress, skipping", slog.String("trigger", trigger))
		return
	}
	s.driving = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.driving = false
		s.mu.Unlock()
	}()

	count, err := s.engine.PendingCount(ctx)
	if err != nil {
		s.logger.LogError(ctx, err, "pending count probe failed")
		return
	}
	if count.Total == 0 {
		return
	}

	results, err := s.engine.RunSyncCycle(ctx, s.strategy)
	if err != nil {
		s.logger.LogError(ctx, err, "scheduled cycle failed", slog.String("trigger", trigger))
		return
	}

	succeeded, failed := 0, 0
	for _, r := range results {
		if r.Success {
			succeeded++
		} else {
			failed++
		}
	}
	s.logger.InfoContext(ctx, "scheduled cycle finished",
		slog.String("trigger", trigger),
		slog.Int("succeeded", succeeded),
		slog.Int("failed", failed),
	)
}
