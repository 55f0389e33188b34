package cache

import (
	"container/list"
	"context"
	"path"
	"sync"
	"time"

	"github.com/strataquant/dslengine/errs"
)

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process LRU tier. Least recently used entries are evicted
// once capacity is reached; expired entries are dropped lazily on access.
type Memory struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element
	now      func() time.Time

	hits      int64
	misses    int64
	evictions int64
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory builds an LRU tier holding at most capacity entries.
func NewMemory(capacity int, opts ...MemoryOption) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	m := &Memory{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[key]
	if !ok {
		m.misses++
		return nil, false, nil
	}
	entry := el.Value.(*memoryEntry)
	if m.expired(entry) {
		m.remove(el)
		m.misses++
		return nil, false, nil
	}
	m.order.MoveToFront(el)
	m.hits++
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = m.now().Add(ttl)
	}
	if el, ok := m.items[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.value = stored
		entry.expiresAt = expiresAt
		m.order.MoveToFront(el)
		return nil
	}
	el := m.order.PushFront(&memoryEntry{key: key, value: stored, expiresAt: expiresAt})
	m.items[key] = el
	for m.order.Len() > m.capacity {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.remove(oldest)
		m.evictions++
	}
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok {
		m.remove(el)
	}
	return nil
}

// Exists implements Store.
func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := m.Get(ctx, key)
	return ok, err
}

// DeletePattern implements Store.
func (m *Memory) DeletePattern(_ context.Context, pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, errs.New("cache", errs.CodeInvalid,
			errs.WithMessage("bad pattern "+pattern), errs.WithCause(err))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, el := range m.items {
		if ok, _ := path.Match(pattern, key); ok {
			m.remove(el)
			removed++
		}
	}
	return removed, nil
}

// Close implements Store.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order.Init()
	m.items = make(map[string]*list.Element)
	return nil
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// Stats returns hit, miss, and eviction counters.
func (m *Memory) Stats() (hits, misses, evictions int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits, m.misses, m.evictions
}

func (m *Memory) expired(e *memoryEntry) bool {
	return !e.expiresAt.IsZero() && m.now().After(e.expiresAt)
}

func (m *Memory) remove(el *list.Element) {
	entry := el.Value.(*memoryEntry)
	m.order.Remove(el)
	delete(m.items, entry.key)
}
