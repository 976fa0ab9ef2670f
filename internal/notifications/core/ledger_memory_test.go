package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avisos/internal/types"
)

func TestMemoryLedger_SentIsTerminal(t *testing.T) {
	l := NewMemoryLedger(fixedClock{now})
	key := types.LedgerKey{Kind: types.KindWelcome, EntityID: "t1", PeriodKey: "welcome"}
	ctx := context.Background()

	got, err := l.Lookup(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, types.LedgerAbsent, got.Status)

	require.NoError(t, l.Record(ctx, types.LedgerEntry{LedgerKey: key, Status: types.LedgerSent, Attempts: 1}))
	require.NoError(t, l.Record(ctx, types.LedgerEntry{LedgerKey: key, Status: types.LedgerFailed, Attempts: 2}))

	got, _ = l.Lookup(ctx, key)
	assert.Equal(t, types.LedgerSent, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, now, got.UpdatedAt)
}

func TestMemoryLedger_ListAttention(t *testing.T) {
	l := NewMemoryLedger(nil)
	ctx := context.Background()
	for i, permanent := range []bool{true, false, true} {
		key := types.LedgerKey{Kind: types.KindRentDue, EntityID: string(rune('a' + i)), PeriodKey: "rent-due:2025-04"}
		require.NoError(t, l.Record(ctx, types.LedgerEntry{LedgerKey: key, Status: types.LedgerFailed, Permanent: permanent}))
	}

	all, err := l.ListAttention(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, _ := l.ListAttention(ctx, 1)
	assert.Len(t, one, 1)
}
