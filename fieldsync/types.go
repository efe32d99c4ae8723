// Package fieldsync implements the offline mutation queue and synchronization
// engine for field crews working without reliable connectivity. Mutations
// recorded offline are persisted in a durable queue and reconciled with the
// remote construction API once a connection is available, with conflict
// resolution, idempotent retry, and FIFO ordering guarantees.
package fieldsync

import (
	"context"
	"time"
)

// EntityType identifies the kind of business entity a queued mutation targets.
// The engine treats payloads as opaque; the type only selects the remote
// endpoint and groups pending counts.
type EntityType string

const (
	EntityDailyLog    EntityType = "daily-log"
	EntityTimeEntry   EntityType = "time-entry"
	EntityPhoto       EntityType = "photo"
	EntityMaterialLog EntityType = "material-log"
)

// KnownEntityTypes lists every entity type the engine accepts.
var KnownEntityTypes = []EntityType{
	EntityDailyLog,
	EntityTimeEntry,
	EntityPhoto,
	EntityMaterialLog,
}

// Action is the remote effect a queue item represents.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Status is the lifecycle state of a queue item.
type Status string

const (
	// StatusPending marks an item waiting for its first or next sync attempt.
	StatusPending Status = "pending"

	// StatusSyncing marks an item currently being pushed by a drive cycle.
	// It acts as an advisory lock: overlapping cycles skip syncing items.
	StatusSyncing Status = "syncing"

	// StatusFailed marks an item whose last attempt failed. Failed items are
	// retried on later cycles until their retry budget is exhausted, after
	// which they stay failed for operator intervention.
	StatusFailed Status = "failed"
)

// QueueItem is one pending remote mutation. Items are owned exclusively by
// the Queue; the driver mutates state only through queue transitions.
type QueueItem struct {
	// ID is assigned by the local store on insertion.
	ID int64 `json:"id"`

	EntityType EntityType     `json:"entityType"`
	Action     Action         `json:"action"`
	Payload    map[string]any `json:"payload"`

	Status     Status `json:"status"`
	RetryCount int    `json:"retryCount"`

	// CreatedAt is the local enqueue time. It never changes after insertion
	// and is the basis for FIFO ordering.
	CreatedAt time.Time `json:"createdAt"`

	// LastAttempt is the time of the most recent sync attempt, nil before the
	// first attempt.
	LastAttempt *time.Time `json:"lastAttempt,omitempty"`

	// Error holds the last failure message.
	Error string `json:"error,omitempty"`
}

// Clone returns a deep enough copy for handing items across goroutines.
func (it *QueueItem) Clone() *QueueItem {
	cp := *it
	if it.LastAttempt != nil {
		t := *it.LastAttempt
		cp.LastAttempt = &t
	}
	if it.Payload != nil {
		cp.Payload = clonePayload(it.Payload)
	}
	return &cp
}

// ItemStore is the durable local store the queue persists into. One store
// instance corresponds to one named collection of queue items. All operations
// are atomic and crash-durable once they return success.
//
// Implementations live in storage/sqlite (production) and storage/memory
// (tests and demos). A store handle is passed to the queue at construction so
// test doubles and multiple independent queues can coexist in-process.
type ItemStore interface {
	// Add inserts a new item and returns the store-assigned key.
	Add(ctx context.Context, item *QueueItem) (int64, error)

	// Get returns the item with the given key, or ErrItemNotFound.
	Get(ctx context.Context, id int64) (*QueueItem, error)

	// GetAll returns every item in the collection in unspecified order.
	GetAll(ctx context.Context) ([]*QueueItem, error)

	// Put upserts an item by its key.
	Put(ctx context.Context, item *QueueItem) error

	// Delete removes the item with the given key. Deleting a missing item is
	// not an error.
	Delete(ctx context.Context, id int64) error

	// Clear removes every item in the collection.
	Clear(ctx context.Context) error

	// Close releases store resources.
	Close() error
}

// ItemResult is the per-item outcome of one drive cycle, aggregated and
// returned to the caller so the application can present a sync summary.
type ItemResult struct {
	ItemID     int64      `json:"itemId"`
	EntityType EntityType `json:"entityType"`
	Action     Action     `json:"action"`
	Success    bool       `json:"success"`

	// Conflicted is true when the remote API reported a version conflict for
	// this item during the cycle, whether or not it was resolved.
	Conflicted bool `json:"conflicted,omitempty"`

	// Strategy is the resolution strategy applied when Conflicted is true.
	Strategy Strategy `json:"strategy,omitempty"`

	// RetryCount is the item's retry counter after the cycle.
	RetryCount int `json:"retryCount"`

	// Error holds the failure message when Success is false.
	Error string `json:"error,omitempty"`
}

// PendingCount is a cheap census of not-yet-confirmed mutations.
type PendingCount struct {
	ByType map[EntityType]int `json:"byType"`
	Total  int                `json:"total"`
}

// StatusSummary describes queue health for the UI.
type StatusSummary struct {
	Pending  int        `json:"pending"`
	Syncing  int        `json:"syncing"`
	Failed   int        `json:"failed"`
	LastSync *time.Time `json:"lastSync,omitempty"`
}

// RemoteClient is the remote construction API as seen by the sync driver:
// one HTTP-shaped endpoint per entity type. Create maps to POST, Update to
// PUT, Delete to DELETE. A version conflict is reported as a
// *RemoteConflictError carrying the server's copy.
type RemoteClient interface {
	Create(ctx context.Context, entityType EntityType, payload map[string]any) error
	Update(ctx context.Context, entityType EntityType, payload map[string]any) error
	Delete(ctx context.Context, entityType EntityType, payload map[string]any) error
}

// RemoteConflictError is returned by a RemoteClient when the server rejects a
// mutation with 409 semantics. Data and UpdatedAt come from the response body.
type RemoteConflictError struct {
	Data      map[string]any
	UpdatedAt time.Time
}

func (e *RemoteConflictError) Error() string {
	return "remote version conflict: server copy is newer"
}

func validEntityType(t EntityType) bool {
	for _, known := range KnownEntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

func validAction(a Action) bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}
