package fieldsync

import (
	"context"
	"sync"
	"time"

	"github.com/Skrufy/ConstructionManager-sub008/logging"
)

// Engine is the application-facing facade over queue, driver, and scheduler.
// Drive cycles are serialized: a second RunSyncCycle waits for the previous
// one to settle, so the driver is never run concurrently for the same queue.
type Engine struct {
	queue  *Queue
	driver *Driver
	logger *logging.Logger

	cycleMu   sync.Mutex
	recovered bool

	mu       sync.Mutex
	lastSync *time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	backoff BackoffConfig
	metrics MetricsCollector
	logger  *logging.Logger
}

// WithEngineBackoff sets the retry policy for the engine's driver.
func WithEngineBackoff(cfg BackoffConfig) EngineOption {
	return func(c *engineConfig) { c.backoff = cfg }
}

// WithEngineMetrics sets the metrics collector.
func WithEngineMetrics(m MetricsCollector) EngineOption {
	return func(c *engineConfig) { c.metrics = m }
}

// WithEngineLogger sets the logger shared by the engine's components.
func WithEngineLogger(l *logging.Logger) EngineOption {
	return func(c *engineConfig) { c.logger = l }
}

// NewEngine wires a queue over the given store handle to a driver over the
// given remote client.
func NewEngine(store ItemStore, remote RemoteClient, opts ...EngineOption) *Engine {
	cfg := &engineConfig{
		backoff: DefaultBackoffConfig(),
		metrics: &NoOpMetricsCollector{},
		logger:  logging.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	queue := NewQueue(store, WithQueueLogger(cfg.logger.WithComponent(logging.Component("queue"))))
	driver := NewDriver(queue, remote,
		WithBackoff(cfg.backoff),
		WithMetrics(cfg.metrics),
		WithDriverLogger(cfg.logger.WithComponent(logging.Component("driver"))),
	)

	return &Engine{
		queue:  queue,
		driver: driver,
		logger: cfg.logger.WithComponent(logging.Component("engine")),
	}
}

// Enqueue records a mutation for later synchronization.
func (e *Engine) Enqueue(ctx context.Context, entityType EntityType, action Action, payload map[string]any) (int64, error) {
	return e.queue.Enqueue(ctx, entityType, action, payload)
}

// RunSyncCycle performs one drive cycle with the given conflict strategy and
// returns per-item results.
func (e *Engine) RunSyncCycle(ctx context.Context, strategy Strategy) ([]ItemResult, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	// Items a previous process left in syncing re-enter the backlog before
	// the first cycle touches the queue. Kept under cycleMu so recovery can
	// never race a live cycle's advisory locks.
	if !e.recovered {
		if _, err := e.queue.RecoverStale(ctx); err != nil {
			return nil, err
		}
		e.recovered = true
	}

	results, err := e.driver.RunCycle(ctx, strategy)
	if err != nil {
		return results, err
	}

	now := time.Now()
	e.mu.Lock()
	e.lastSync = &now
	e.mu.Unlock()
	return results, nil
}

// StartAutoSync launches opportunistic synchronization: a periodic trigger
// plus an immediate cycle on every reconnect signal. The returned disposer
// stops both.
func (e *Engine) StartAutoSync(ctx context.Context, interval time.Duration, reconnect <-chan struct{}) (stop func()) {
	scheduler := NewScheduler(e, interval, reconnect,
		WithSchedulerLogger(e.logger.WithComponent(logging.Component("scheduler"))),
	)
	return scheduler.Start(ctx)
}

// PendingCount reports pending mutations per entity type and in total.
func (e *Engine) PendingCount(ctx context.Context) (PendingCount, error) {
	return e.queue.PendingCount(ctx)
}

// StatusSummary reports queue health plus the time of the last completed
// drive cycle.
func (e *Engine) StatusSummary(ctx context.Context) (StatusSummary, error) {
	summary, err := e.queue.StatusSummary(ctx)
	if err != nil {
		return StatusSummary{}, err
	}

	e.mu.Lock()
	if e.lastSync != nil {
		t := *e.lastSync
		summary.LastSync = &t
	}
	e.mu.Unlock()
	return summary, nil
}

// RetryFailed resets failed items for another round of cycles. Exposed for
// the application's manual-retry action.
func (e *Engine) RetryFailed(ctx context.Context) (int, error) {
	return e.queue.RetryFailed(ctx)
}

// Queue exposes the underlying queue for callers that need direct
// inspection, e.g. surfacing manually-conflicted items.
func (e *Engine) Queue() *Queue {
	return e.queue
}
