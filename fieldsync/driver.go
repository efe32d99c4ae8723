package fieldsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	syncErrors "github.com/Skrufy/ConstructionManager-sub008/errors"
	"github.com/Skrufy/ConstructionManager-sub008/logging"
)

// manualConflictReason marks an item parked for operator review. The driver
// recognizes it on later cycles and leaves the item alone until RetryFailed
// clears it.
const manualConflictReason = "manual resolution required"

// Driver pulls due items from the queue in FIFO order, invokes the remote
// API, interprets conflict responses, and settles item state. Transient
// failures are retried with backoff inside the same call; one bad item never
// blocks the rest of the queue.
type Driver struct {
	queue   *Queue
	remote  RemoteClient
	backoff BackoffConfig
	logger  *logging.Logger
	metrics MetricsCollector

	// sleep is injectable so tests do not wait out real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error

	// inflight is the explicit per-item lock table backing the advisory
	// syncing status, so overlapping cycles in the same process cannot both
	// pick up an item between the scan and the status write.
	mu       sync.Mutex
	inflight map[int64]struct{}
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithBackoff sets the retry policy.
func WithBackoff(cfg BackoffConfig) DriverOption {
	return func(d *Driver) { d.backoff = cfg.normalized() }
}

// WithDriverLogger sets a custom logger.
func WithDriverLogger(l *logging.Logger) DriverOption {
	return func(d *Driver) { d.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) DriverOption {
	return func(d *Driver) { d.metrics = m }
}

// withSleeper overrides the backoff sleeper, for tests.
func withSleeper(sleep func(ctx context.Context, d time.Duration) error) DriverOption {
	return func(d *Driver) { d.sleep = sleep }
}

// NewDriver creates a sync driver over a queue and a remote client.
func NewDriver(queue *Queue, remote RemoteClient, opts ...DriverOption) *Driver {
	d := &Driver{
		queue:    queue,
		remote:   remote,
		backoff:  DefaultBackoffConfig(),
		logger:   logging.WithComponent(logging.Component("driver")),
		metrics:  &NoOpMetricsCollector{},
		sleep:    sleepContext,
		inflight: make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RunCycle performs one pass over all due queue items and returns one result
// per attempted item. Items already syncing (from an overlapping cycle) are
// skipped without a result. The error return covers only queue scan failures;
// per-item failures are reported in the results.
func (d *Driver) RunCycle(ctx context.Context, strategy Strategy) ([]ItemResult, error) {
	start := time.Now()
	cycleID := uuid.NewString()
	log := d.logger.With(slog.String("cycle_id", cycleID))

	items, err := d.queue.ListPending(ctx)
	if err != nil {
		return nil, syncErrors.NewWithComponent(syncErrors.OpDriveCycle, "driver", err)
	}

	defer func() {
		d.metrics.RecordCycleDuration(time.Since(start))
	}()

	if len(items) == 0 {
		return nil, nil
	}

	log.DebugContext(ctx, "drive cycle started",
		slog.Int("due_items", len(items)),
		slog.String("strategy", string(strategy)),
	)

	results := make([]ItemResult, 0, len(items))
	conflictsResolved := 0
	for _, item := range items {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		// Advisory lock: an item another cycle is pushing right now is not
		// touched again until that cycle settles it.
		if item.Status == StatusSyncing {
			continue
		}
		if !d.acquire(item.ID) {
			continue
		}

		res, attempted := d.processItem(ctx, item, strategy, log)
		d.release(item.ID)
		if !attempted {
			continue
		}
		results = append(results, res)
		if res.Conflicted && res.Success {
			conflictsResolved++
		}
	}

	if conflictsResolved > 0 {
		d.metrics.RecordConflicts(conflictsResolved)
	}

	log.DebugContext(ctx, "drive cycle finished",
		slog.Int("results", len(results)),
		slog.Duration("duration", time.Since(start)),
	)
	return results, nil
}

func (d *Driver) processItem(ctx context.Context, item *QueueItem, strategy Strategy, log *logging.Logger) (ItemResult, bool) {
	result := ItemResult{
		ItemID:     item.ID,
		EntityType: item.EntityType,
		Action:     item.Action,
		RetryCount: item.RetryCount,
	}

	// A spent retry budget is a permanent failure; no network I/O.
	if item.RetryCount >= d.backoff.MaxRetries {
		exhausted := syncErrors.NewExhaustedError(syncErrors.OpDriveCycle,
			fmt.Errorf("retry budget exhausted after %d attempts: %s", item.RetryCount, item.Error))
		result.Error = exhausted.Error()
		d.metrics.RecordItemOutcome(item.EntityType, "exhausted")
		return result, true
	}

	// An item parked for manual conflict resolution stays parked until the
	// operator resets it; re-pushing it would just re-conflict. No network I/O.
	if item.Status == StatusFailed && item.Error == manualConflictReason {
		result.Error = item.Error
		d.metrics.RecordItemOutcome(item.EntityType, "manual")
		return result, true
	}

	current, ok, err := d.queue.MarkSyncing(ctx, item.ID)
	if err != nil {
		result.Error = err.Error()
		return result, true
	}
	if !ok {
		// Lost the race against another cycle; that cycle owns the item now.
		return result, false
	}

	return d.syncItem(ctx, current, strategy, log), true
}

// syncItem pushes one mutation, retrying transient failures with backoff
// within this call, up to the configured budget.
func (d *Driver) syncItem(ctx context.Context, item *QueueItem, strategy Strategy, log *logging.Logger) ItemResult {
	result := ItemResult{
		ItemID:     item.ID,
		EntityType: item.EntityType,
		Action:     item.Action,
		RetryCount: item.RetryCount,
	}
	retriesSpent := 0
	defer func() {
		if retriesSpent > 0 {
			d.metrics.RecordRetries(retriesSpent)
		}
	}()

	for {
		err := d.call(ctx, item)
		if err == nil {
			return d.settleSuccess(ctx, item, result, "success", log)
		}

		var conflictErr *RemoteConflictError
		if errors.As(err, &conflictErr) {
			result.Conflicted = true
			result.Strategy = strategy

			resolution := Resolve(ConflictDescriptor{
				LocalData:       item.Payload,
				ServerData:      conflictErr.Data,
				LocalTimestamp:  item.CreatedAt,
				ServerTimestamp: conflictErr.UpdatedAt,
			}, strategy)

			if !resolution.Resolved {
				// Not a transient failure: the human decides, the retry
				// counter stays untouched.
				if markErr := d.queue.MarkFailed(ctx, item.ID, item.RetryCount, manualConflictReason); markErr != nil {
					d.logger.LogError(ctx, markErr, "failed to persist manual-conflict state", slog.Int64("item_id", item.ID))
				}
				result.Error = manualConflictReason
				d.metrics.RecordItemOutcome(item.EntityType, "manual")
				return result
			}

			log.InfoContext(ctx, "conflict resolved, retrying with winning payload",
				slog.Int64("item_id", item.ID),
				slog.String("strategy", string(resolution.Strategy)),
			)

			// One immediate retry with the winning payload, always as an
			// update of existing server state.
			err = d.remote.Update(ctx, item.EntityType, resolution.Data)
			if err == nil {
				return d.settleSuccess(ctx, item, result, "success", log)
			}
		}

		retryable := syncErrors.Classify(err)
		item.RetryCount++
		result.RetryCount = item.RetryCount

		if !retryable || item.RetryCount >= d.backoff.MaxRetries {
			if markErr := d.queue.MarkFailed(ctx, item.ID, item.RetryCount, err.Error()); markErr != nil {
				d.logger.LogError(ctx, markErr, "failed to persist failure state", slog.Int64("item_id", item.ID))
			}
			result.Error = err.Error()
			d.metrics.RecordItemOutcome(item.EntityType, "failed")
			log.WarnContext(ctx, "mutation failed",
				slog.Int64("item_id", item.ID),
				slog.Int("retry_count", item.RetryCount),
				slog.Bool("retryable", retryable),
				slog.String("error", err.Error()),
			)
			return result
		}

		delay := Delay(item.RetryCount-1, d.backoff)
		if hint := retryAfterHint(err); hint > delay {
			delay = hint
		}
		retriesSpent++

		log.DebugContext(ctx, "transient failure, backing off",
			slog.Int64("item_id", item.ID),
			slog.Int("retry_count", item.RetryCount),
			slog.Duration("delay", delay),
		)

		if sleepErr := d.sleep(ctx, delay); sleepErr != nil {
			if markErr := d.queue.MarkFailed(ctx, item.ID, item.RetryCount, err.Error()); markErr != nil {
				d.logger.LogError(ctx, markErr, "failed to persist failure state", slog.Int64("item_id", item.ID))
			}
			result.Error = err.Error()
			d.metrics.RecordItemOutcome(item.EntityType, "failed")
			return result
		}
	}
}

func (d *Driver) settleSuccess(ctx context.Context, item *QueueItem, result ItemResult, outcome string, log *logging.Logger) ItemResult {
	if err := d.queue.Remove(ctx, item.ID); err != nil {
		// The remote effect is applied but the tombstone failed; surfacing
		// the storage error keeps the item visible rather than lost.
		result.Error = err.Error()
		d.logger.LogError(ctx, err, "confirmed mutation could not be removed from queue", slog.Int64("item_id", item.ID))
		return result
	}
	result.Success = true
	d.metrics.RecordItemOutcome(item.EntityType, outcome)
	log.DebugContext(ctx, "mutation confirmed",
		slog.Int64("item_id", item.ID),
		slog.String("entity_type", string(item.EntityType)),
		slog.String("action", string(item.Action)),
	)
	return result
}

// call maps the item's action onto the remote API verb.
func (d *Driver) call(ctx context.Context, item *QueueItem) error {
	switch item.Action {
	case ActionCreate:
		return d.remote.Create(ctx, item.EntityType, item.Payload)
	case ActionUpdate:
		return d.remote.Update(ctx, item.EntityType, item.Payload)
	case ActionDelete:
		return d.remote.Delete(ctx, item.EntityType, item.Payload)
	default:
		return syncErrors.NewValidationError(syncErrors.OpRemoteCall, fmt.Errorf("unknown action %q", item.Action))
	}
}

func (d *Driver) acquire(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inflight[id]; busy {
		return false
	}
	d.inflight[id] = struct{}{}
	return true
}

func (d *Driver) release(id int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.inflight, id)
}

// retryAfterHint extracts the server's Retry-After hint from a rate-limited
// error, if present.
func retryAfterHint(err error) time.Duration {
	var syncErr *syncErrors.SyncError
	if errors.As(err, &syncErr) {
		return syncErr.RetryAfter
	}
	return 0
}

// sleepContext waits for the delay or context cancellation, whichever first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
