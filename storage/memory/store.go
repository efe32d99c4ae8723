// Package memory provides an in-memory implementation of the queue's
// durable store interface, for tests and offline demos. It honors the same
// per-operation atomicity contract but is not crash-durable.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Skrufy/ConstructionManager-sub008/fieldsync"
)

// Store is an in-memory queue item collection.
type Store struct {
	mu     sync.RWMutex
	items  map[int64]*fieldsync.QueueItem
	nextID int64
	closed bool
}

// Compile-time check that Store satisfies the ItemStore interface
var _ fieldsync.ItemStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		items:  make(map[int64]*fieldsync.QueueItem),
		nextID: 1,
	}
}

// Add inserts an item and assigns it the next sequential key.
func (s *Store) Add(ctx context.Context, item *fieldsync.QueueItem) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	id := s.nextID
	s.nextID++

	stored := item.Clone()
	stored.ID = id
	s.items[id] = stored
	item.ID = id
	return id, nil
}

// Get returns a copy of the item with the given key.
func (s *Store) Get(ctx context.Context, id int64) (*fieldsync.QueueItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	item, ok := s.items[id]
	if !ok {
		return nil, fieldsync.ErrItemNotFound
	}
	return item.Clone(), nil
}

// GetAll returns copies of every item, ordered by key for determinism.
func (s *Store) GetAll(ctx context.Context) ([]*fieldsync.QueueItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	ids := make([]int64, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*fieldsync.QueueItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.items[id].Clone())
	}
	return out, nil
}

// Put upserts an item by its key.
func (s *Store) Put(ctx context.Context, item *fieldsync.QueueItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	if item.ID == 0 {
		item.ID = s.nextID
		s.nextID++
	}
	s.items[item.ID] = item.Clone()
	return nil
}

// Delete removes an item; missing keys are not an error.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	delete(s.items, id)
	return nil
}

// Clear removes all items.
func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	s.items = make(map[int64]*fieldsync.QueueItem)
	return nil
}

// Close marks the store closed; further operations fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len reports the number of stored items, for tests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
