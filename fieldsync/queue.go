package fieldsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	syncErrors "github.com/Skrufy/ConstructionManager-sub008/errors"
	"github.com/Skrufy/ConstructionManager-sub008/logging"
)

// ErrItemNotFound is returned by stores and the queue for unknown item keys.
var ErrItemNotFound = errors.New("queue item not found")

// Queue is the ordered, persisted backlog of not-yet-confirmed mutations.
// It is a logical view over one named collection of the durable local store
// and is the sole writer of item state transitions.
type Queue struct {
	store  ItemStore
	logger *logging.Logger
	now    func() time.Time
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueLogger sets a custom logger.
func WithQueueLogger(l *logging.Logger) QueueOption {
	return func(q *Queue) { q.logger = l }
}

// withQueueClock overrides the clock, for tests.
func withQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

// NewQueue creates a queue over the given store handle.
func NewQueue(store ItemStore, opts ...QueueOption) *Queue {
	q := &Queue{
		store:  store,
		logger: logging.WithComponent(logging.Component("queue")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue inserts a new pending mutation and returns its store-assigned id.
// A store failure here means local persistence is unusable, which is fatal
// for the engine rather than a sync failure to retry.
func (q *Queue) Enqueue(ctx context.Context, entityType EntityType, action Action, payload map[string]any) (int64, error) {
	if !validEntityType(entityType) {
		return 0, syncErrors.NewValidationError(syncErrors.OpEnqueue, fmt.Errorf("unknown entity type %q", entityType))
	}
	if !validAction(action) {
		return 0, syncErrors.NewValidationError(syncErrors.OpEnqueue, fmt.Errorf("unknown action %q", action))
	}

	item := &QueueItem{
		EntityType: entityType,
		Action:     action,
		Payload:    clonePayload(payload),
		Status:     StatusPending,
		RetryCount: 0,
		CreatedAt:  q.now(),
	}

	id, err := q.store.Add(ctx, item)
	if err != nil {
		return 0, syncErrors.NewStorageError(syncErrors.OpEnqueue, err)
	}

	q.logger.DebugContext(ctx, "mutation enqueued",
		slog.Int64("item_id", id),
		slog.String("entity_type", string(entityType)),
		slog.String("action", string(action)),
	)
	return id, nil
}

// ListPending returns all items awaiting synchronization (pending or failed),
// ordered by CreatedAt ascending so the oldest unresolved mutation is always
// retried first and dependent writes are not reordered. Items currently
// syncing are included so overlapping cycles can observe and skip them.
func (q *Queue) ListPending(ctx context.Context) ([]*QueueItem, error) {
	all, err := q.store.GetAll(ctx)
	if err != nil {
		return nil, syncErrors.NewStorageError(syncErrors.OpListPending, err)
	}

	items := make([]*QueueItem, 0, len(all))
	for _, it := range all {
		if it.Status == StatusPending || it.Status == StatusFailed || it.Status == StatusSyncing {
			items = append(items, it)
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

// MarkSyncing transitions an item to syncing and stamps LastAttempt. It is
// idempotent-guarded: if the item is already syncing the call returns
// ok=false and the caller must skip the item for this cycle.
func (q *Queue) MarkSyncing(ctx context.Context, id int64) (*QueueItem, bool, error) {
	item, err := q.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return nil, false, nil
		}
		return nil, false, syncErrors.NewStorageError(syncErrors.OpMarkStatus, err)
	}

	if item.Status == StatusSyncing {
		return nil, false, nil
	}

	now := q.now()
	item.Status = StatusSyncing
	item.LastAttempt = &now
	if err := q.store.Put(ctx, item); err != nil {
		return nil, false, syncErrors.NewStorageError(syncErrors.OpMarkStatus, err)
	}
	return item.Clone(), true, nil
}

// MarkFailed records a failed attempt: status, retry counter, and the last
// error message. RetryCount only ever increases.
func (q *Queue) MarkFailed(ctx context.Context, id int64, retryCount int, cause string) error {
	item, err := q.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return ErrItemNotFound
		}
		return syncErrors.NewStorageError(syncErrors.OpMarkStatus, err)
	}

	item.Status = StatusFailed
	if retryCount > item.RetryCount {
		item.RetryCount = retryCount
	}
	item.Error = cause
	if err := q.store.Put(ctx, item); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpMarkStatus, err)
	}
	return nil
}

// Remove deletes an item whose remote effect has been confirmed applied.
// This is the only path off the queue besides operator intervention.
func (q *Queue) Remove(ctx context.Context, id int64) error {
	if err := q.store.Delete(ctx, id); err != nil {
		return syncErrors.NewStorageError(syncErrors.OpRemove, err)
	}
	return nil
}

// RecoverStale resets items stranded in syncing back to pending. The syncing
// status is an advisory lock held by a live drive cycle; after a process
// restart no cycle owns any item, so every persisted syncing row belongs to a
// cycle that died mid-push and must re-enter the backlog. Callers run this
// before the first cycle, never alongside one.
func (q *Queue) RecoverStale(ctx context.Context) (int, error) {
	all, err := q.store.GetAll(ctx)
	if err != nil {
		return 0, syncErrors.NewStorageError(syncErrors.OpListPending, err)
	}

	count := 0
	for _, item := range all {
		if item.Status != StatusSyncing {
			continue
		}
		item.Status = StatusPending
		if err := q.store.Put(ctx, item); err != nil {
			return count, syncErrors.NewStorageError(syncErrors.OpMarkStatus, err)
		}
		count++
	}

	if count > 0 {
		q.logger.InfoContext(ctx, "stale syncing items recovered", slog.Int("count", count))
	}
	return count, nil
}

// RetryFailed resets every failed item back to pending with a fresh retry
// budget. This is the operator's manual-retry action; it is never invoked
// automatically.
func (q *Queue) RetryFailed(ctx context.Context) (int, error) {
	all, err := q.store.GetAll(ctx)
	if err != nil {
		return 0, syncErrors.NewStorageError(syncErrors.OpListPending, err)
	}

	count := 0
	for _, item := range all {
		if item.Status != StatusFailed {
			continue
		}
		item.Status = StatusPending
		item.RetryCount = 0
		item.Error = ""
		if err := q.store.Put(ctx, item); err != nil {
			return count, syncErrors.NewStorageError(syncErrors.OpMarkStatus, err)
		}
		count++
	}

	if count > 0 {
		q.logger.InfoContext(ctx, "failed items reset for retry", slog.Int("count", count))
	}
	return count, nil
}

// PendingCount reports how many mutations await confirmation, per entity type
// and in total. The scheduler uses this as a cheap probe before driving.
func (q *Queue) PendingCount(ctx context.Context) (PendingCount, error) {
	all, err := q.store.GetAll(ctx)
	if err != nil {
		return PendingCount{}, syncErrors.NewStorageError(syncErrors.OpListPending, err)
	}

	count := PendingCount{ByType: make(map[EntityType]int)}
	for _, item := range all {
		count.ByType[item.EntityType]++
		count.Total++
	}
	return count, nil
}

// StatusSummary tallies items by lifecycle state.
func (q *Queue) StatusSummary(ctx context.Context) (StatusSummary, error) {
	all, err := q.store.GetAll(ctx)
	if err != nil {
		return StatusSummary{}, syncErrors.NewStorageError(syncErrors.OpListPending, err)
	}

	var summary StatusSummary
	for _, item := range all {
		switch item.Status {
		case StatusPending:
			summary.Pending++
		case StatusSyncing:
			summary.Syncing++
		case StatusFailed:
			summary.Failed++
		}
	}
	return summary, nil
}
