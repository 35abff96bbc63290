package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultRefreshInitialBackoff = 500 * time.Millisecond
	defaultRefreshMaxBackoff     = 10 * time.Minute
)

type ExponentialBackoffScheduler struct {
	Initial time.Duration
	Max     time.Duration
}

func (s ExponentialBackoffScheduler) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := s.Initial
	if initial <= 0 {
		initial = defaultRefreshInitialBackoff
	}
	max := s.Max
	if max <= 0 {
		max = defaultRefreshMaxBackoff
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// MemoryRefreshLocker is a process-local RefreshLocker. Locks expire after
// their TTL so a crashed holder cannot wedge a key.
type MemoryRefreshLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
	nowFn func() time.Time
}

func NewMemoryRefreshLocker() *MemoryRefreshLocker {
	return &MemoryRefreshLocker{
		locks: make(map[string]time.Time),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

func (l *MemoryRefreshLocker) Acquire(_ context.Context, key string, ttl time.Duration) (LockHandle, error) {
	if l == nil {
		return nil, fmt.Errorf("core: refresh locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("core: lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultRefreshLockTTL
	}

	now := l.nowFn()
	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.locks[key]; ok && now.Before(until) {
		return nil, fmt.Errorf("core: refresh lock already held for %q", key)
	}
	l.locks[key] = now.Add(ttl)
	return &memoryLockHandle{locker: l, key: key}, nil
}

type memoryLockHandle struct {
	locker *MemoryRefreshLocker
	key    string
	once   sync.Once
}

func (h *memoryLockHandle) Unlock(_ context.Context) error {
	if h == nil || h.locker == nil {
		return nil
	}
	h.once.Do(func() {
		h.locker.mu.Lock()
		delete(h.locker.locks, h.key)
		h.locker.mu.Unlock()
	})
	return nil
}

// keyMutex is a context-aware mutex per key. Slots are dropped once nobody
// holds or waits for them.
type keyMutex struct {
	mu    sync.Mutex
	slots map[string]*keySlot
}

type keySlot struct {
	ch   chan struct{}
	refs int
}

func newKeyMutex() *keyMutex {
	return &keyMutex{slots: make(map[string]*keySlot)}
}

func (m *keyMutex) lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	slot, ok := m.slots[key]
	if !ok {
		slot = &keySlot{ch: make(chan struct{}, 1)}
		m.slots[key] = slot
	}
	slot.refs++
	m.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			m.release(key, slot)
		})
	}, nil
}

func (m *keyMutex) release(key string, slot *keySlot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(m.slots, key)
	}
}

var (
	_ RefreshLocker           = (*MemoryRefreshLocker)(nil)
	_ RefreshBackoffScheduler = ExponentialBackoffScheduler{}
)
