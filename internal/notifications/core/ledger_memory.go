package core

import (
	"context"
	"sort"
	"sync"

	"avisos/internal/types"
)

// MemoryLedger is a process-local Ledger. It loses its contents on restart
// and is meant for local runs and tests.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[types.LedgerKey]types.LedgerEntry
	clock   types.Clock
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger(clock types.Clock) *MemoryLedger {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &MemoryLedger{entries: make(map[types.LedgerKey]types.LedgerEntry), clock: clock}
}

// Lookup implements Ledger.
func (l *MemoryLedger) Lookup(_ context.Context, key types.LedgerKey) (types.LedgerEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if e, ok := l.entries[key]; ok {
		return e, nil
	}
	return types.LedgerEntry{LedgerKey: key, Status: types.LedgerAbsent}, nil
}

// Record implements Ledger.
func (l *MemoryLedger) Record(_ context.Context, entry types.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.entries[entry.LedgerKey]; ok && cur.Status == types.LedgerSent {
		return nil
	}
	entry.UpdatedAt = l.clock.Now()
	l.entries[entry.LedgerKey] = entry
	return nil
}

// ListAttention implements Ledger.
func (l *MemoryLedger) ListAttention(_ context.Context, limit int) ([]types.LedgerEntry, error) {
	l.mu.RLock()
	out := make([]types.LedgerEntry, 0)
	for _, e := range l.entries {
		if e.Status == types.LedgerFailed && e.Permanent {
			out = append(out, e)
		}
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].LedgerKey.String() < out[j].LedgerKey.String()
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of entries.
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

var _ Ledger = (*MemoryLedger)(nil)
