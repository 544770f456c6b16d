package coord

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	value     string
	set       map[string]struct{}
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is an in-process Store. It backs single-process deployments
// and tests; it gives no cross-process guarantees.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*memoryItem
	now   func() time.Time

	subMu sync.RWMutex
	subs  map[string]map[chan []byte]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*memoryItem),
		now:   time.Now,
		subs:  make(map[string]map[chan []byte]struct{}),
	}
}

// SetClock replaces the time source used for TTL expiry.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// getLocked returns a live item, dropping it if expired.
func (m *MemoryStore) getLocked(key string) (*memoryItem, bool) {
	item, ok := m.items[key]
	if !ok {
		return nil, false
	}
	if !item.expiresAt.IsZero() && !m.now().Before(item.expiresAt) {
		delete(m.items, key)
		return nil, false
	}
	return item, true
}

func (m *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.getLocked(key)
	if !ok || item.set != nil {
		return "", false, nil
	}
	return item.value, true, nil
}

func (m *MemoryStore) SetEX(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = &memoryItem{value: value, expiresAt: m.expiry(ttl)}
	return nil
}

func (m *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.getLocked(key); ok {
		return false, nil
	}
	m.items[key] = &memoryItem{value: value, expiresAt: m.expiry(ttl)}
	return true, nil
}

func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.getLocked(key)
	return ok, nil
}

func (m *MemoryStore) Del(ctx context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, key := range keys {
		if _, ok := m.getLocked(key); ok {
			delete(m.items, key)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.getLocked(key)
	if !ok || item.set != nil || item.value != value {
		return false, nil
	}
	delete(m.items, key)
	return true, nil
}

func (m *MemoryStore) SAdd(ctx context.Context, key, member string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.getLocked(key)
	if !ok || item.set == nil {
		item = &memoryItem{set: make(map[string]struct{})}
		m.items[key] = item
	}
	item.set[member] = struct{}{}
	item.expiresAt = m.expiry(ttl)
	return nil
}

func (m *MemoryStore) SRem(ctx context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.getLocked(key)
	if !ok || item.set == nil {
		return nil
	}
	delete(item.set, member)
	if len(item.set) == 0 {
		delete(m.items, key)
	}
	return nil
}

func (m *MemoryStore) SCard(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.getLocked(key)
	if !ok || item.set == nil {
		return 0, nil
	}
	return int64(len(item.set)), nil
}

func (m *MemoryStore) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.getLocked(key)
	if !ok || item.set == nil {
		return []string{}, nil
	}
	members := make([]string, 0, len(item.set))
	for member := range item.set {
		members = append(members, member)
	}
	return members, nil
}

func (m *MemoryStore) Publish(ctx context.Context, channel string, payload []byte) error {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subs[channel] {
		msg := make([]byte, len(payload))
		copy(msg, payload)
		select {
		case ch <- msg:
		default:
			// Slow subscriber, drop like a saturated pub/sub client would.
		}
	}
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error) {
	ch := make(chan []byte, 256)

	m.subMu.Lock()
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[chan []byte]struct{})
	}
	m.subs[channel][ch] = struct{}{}
	m.subMu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	closeFn := func() error {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs[channel], ch)
			m.subMu.Unlock()
			close(ch)
			close(done)
		})
		return nil
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = closeFn()
		case <-done:
		}
	}()

	return ch, closeFn, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
