package fieldsync

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is a minimal in-memory ItemStore for driver and queue tests.
// The production-shaped implementations live in storage/memory and
// storage/sqlite; this one stays here to keep the package tests self-contained.
type memStore struct {
	mu     sync.Mutex
	items  map[int64]*QueueItem
	nextID int64
	failOn map[string]error // operation name -> injected error
}

func newMemStore() *memStore {
	return &memStore{
		items:  make(map[int64]*QueueItem),
		nextID: 1,
		failOn: make(map[string]error),
	}
}

func (s *memStore) Add(ctx context.Context, item *QueueItem) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn["add"]; err != nil {
		return 0, err
	}
	id := s.nextID
	s.nextID++
	stored := item.Clone()
	stored.ID = id
	s.items[id] = stored
	item.ID = id
	return id, nil
}

func (s *memStore) Get(ctx context.Context, id int64) (*QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn["get"]; err != nil {
		return nil, err
	}
	item, ok := s.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	return item.Clone(), nil
}

func (s *memStore) GetAll(ctx context.Context) ([]*QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn["getall"]; err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*QueueItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.items[id].Clone())
	}
	return out, nil
}

func (s *memStore) Put(ctx context.Context, item *QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn["put"]; err != nil {
		return err
	}
	s.items[item.ID] = item.Clone()
	return nil
}

func (s *memStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn["delete"]; err != nil {
		return err
	}
	delete(s.items, id)
	return nil
}

func (s *memStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[int64]*QueueItem)
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *memStore) get(id int64) *QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.items[id]; ok {
		return item.Clone()
	}
	return nil
}

// remoteCall records one invocation of the stub remote.
type remoteCall struct {
	Method     string
	EntityType EntityType
	Payload    map[string]any
}

// stubRemote is a scriptable RemoteClient.
type stubRemote struct {
	mu    sync.Mutex
	calls []remoteCall

	// createFn/updateFn/deleteFn script responses; nil means success.
	createFn func(call int) error
	updateFn func(call int) error
	deleteFn func(call int) error

	createCalls int
	updateCalls int
	deleteCalls int

	// gate, when set, blocks every call until the channel is closed.
	gate chan struct{}
}

func (r *stubRemote) record(method string, entityType EntityType, payload map[string]any) {
	r.mu.Lock()
	r.calls = append(r.calls, remoteCall{Method: method, EntityType: entityType, Payload: payload})
	r.mu.Unlock()
}

func (r *stubRemote) wait() {
	r.mu.Lock()
	gate := r.gate
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

func (r *stubRemote) Create(ctx context.Context, entityType EntityType, payload map[string]any) error {
	r.record("create", entityType, payload)
	r.wait()
	r.mu.Lock()
	n := r.createCalls
	r.createCalls++
	fn := r.createFn
	r.mu.Unlock()
	if fn != nil {
		return fn(n)
	}
	return nil
}

func (r *stubRemote) Update(ctx context.Context, entityType EntityType, payload map[string]any) error {
	r.record("update", entityType, payload)
	r.wait()
	r.mu.Lock()
	n := r.updateCalls
	r.updateCalls++
	fn := r.updateFn
	r.mu.Unlock()
	if fn != nil {
		return fn(n)
	}
	return nil
}

func (r *stubRemote) Delete(ctx context.Context, entityType EntityType, payload map[string]any) error {
	r.record("delete", entityType, payload)
	r.wait()
	r.mu.Lock()
	n := r.deleteCalls
	r.deleteCalls++
	fn := r.deleteFn
	r.mu.Unlock()
	if fn != nil {
		return fn(n)
	}
	return nil
}

func (r *stubRemote) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *stubRemote) callLog() []remoteCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]remoteCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// sleepRecorder replaces real backoff waits with an instant return while
// keeping a log of the requested delays.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return nil
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}
