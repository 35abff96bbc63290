package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultReplayLedgerTTL        = defaultStateTTL
	defaultReplayLedgerMaxEntries = 8192
)

// ErrReplayLedgerFull is returned by Claim when every slot holds a nonce that
// has not expired yet. Nothing is evicted early, so a consumed state can never
// be accepted again.
var ErrReplayLedgerFull = errors.New("core: replay ledger is full")

// MemoryReplayLedger records consumed state nonces until their TTL passes.
type MemoryReplayLedger struct {
	mu         sync.Mutex
	defaultTTL time.Duration
	maxEntries int
	entries    map[string]time.Time
	Now        func() time.Time
}

func NewMemoryReplayLedger(defaultTTL time.Duration) *MemoryReplayLedger {
	return NewMemoryReplayLedgerWithLimits(defaultTTL, defaultReplayLedgerMaxEntries)
}

func NewMemoryReplayLedgerWithLimits(defaultTTL time.Duration, maxEntries int) *MemoryReplayLedger {
	if defaultTTL <= 0 {
		defaultTTL = defaultReplayLedgerTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultReplayLedgerMaxEntries
	}
	return &MemoryReplayLedger{
		defaultTTL: defaultTTL,
		maxEntries: maxEntries,
		entries:    map[string]time.Time{},
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// Claim reports true the first time key is seen within its TTL.
func (l *MemoryReplayLedger) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if l == nil {
		return false, fmt.Errorf("core: replay ledger is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("core: replay key is required")
	}
	if ttl <= 0 {
		ttl = l.defaultTTL
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(now)
	if _, seen := l.entries[key]; seen {
		return false, nil
	}
	if len(l.entries) >= l.maxEntries {
		return false, ErrReplayLedgerFull
	}
	l.entries[key] = now.Add(ttl)
	return true, nil
}

func (l *MemoryReplayLedger) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *MemoryReplayLedger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *MemoryReplayLedger) pruneLocked(now time.Time) {
	for key, expiresAt := range l.entries {
		if !now.Before(expiresAt) {
			delete(l.entries, key)
		}
	}
}

var _ ReplayLedger = (*MemoryReplayLedger)(nil)
