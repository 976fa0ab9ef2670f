package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"avisos/internal/types"
)

var ledgerKey = types.LedgerKey{Kind: types.KindBirthday, EntityID: "t1", PeriodKey: "birthday:2025"}

func TestLedgerRepository_Lookup_Absent(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLedgerRepository(db)
	ctx := context.Background()

	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"birthday", "t1", "birthday:2025"}).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	e, err := repo.Lookup(ctx, ledgerKey)
	require.NoError(t, err)
	assert.Equal(t, types.LedgerAbsent, e.Status)
	assert.Equal(t, ledgerKey, e.LedgerKey)
	db.AssertExpectations(t)
}

func TestLedgerRepository_Lookup_Found(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLedgerRepository(db)
	ctx := context.Background()

	updated := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	reason := "421 try later"
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*string) = "tenant"
			*dest[1].(*string) = "failed"
			*dest[2].(*int) = 2
			*dest[3].(*bool) = false
			*dest[5].(**string) = &reason
			*dest[6].(*time.Time) = updated
			return nil
		}})

	e, err := repo.Lookup(ctx, ledgerKey)
	require.NoError(t, err)
	assert.Equal(t, types.LedgerFailed, e.Status)
	assert.Equal(t, types.EntityTenant, e.EntityType)
	assert.Equal(t, 2, e.Attempts)
	assert.Equal(t, reason, e.ErrorReason)
	assert.Equal(t, updated, e.UpdatedAt)
	assert.Nil(t, e.SentAt)
}

func TestLedgerRepository_Lookup_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLedgerRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection reset")})

	_, err := repo.Lookup(context.Background(), ledgerKey)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestLedgerRepository_Record_NeverOverwritesSent(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLedgerRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "ON CONFLICT (kind, entity_id, period_key) DO UPDATE") &&
			strings.Contains(sql, "WHERE notification_ledger.status <> 'sent'")
	}), mock.MatchedBy(func(args []any) bool {
		return len(args) == 9 && args[4] == "failed" && args[5] == 3 && args[6] == true &&
			args[8] != nil && *args[8].(*string) == "timeout"
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Record(ctx, types.LedgerEntry{
		LedgerKey:   ledgerKey,
		EntityType:  types.EntityTenant,
		Status:      types.LedgerFailed,
		Attempts:    3,
		Permanent:   true,
		ErrorReason: "timeout",
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestLedgerRepository_Record_SentPassesNilReason(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLedgerRepository(db)
	sentAt := time.Now().UTC()

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		r, ok := args[8].(*string)
		return ok && r == nil && args[7].(*time.Time).Equal(sentAt)
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Record(context.Background(), types.LedgerEntry{
		LedgerKey: ledgerKey, EntityType: types.EntityTenant, Status: types.LedgerSent, Attempts: 1, SentAt: &sentAt,
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestLedgerRepository_Record_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLedgerRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("deadlock detected"))

	err := repo.Record(context.Background(), types.LedgerEntry{LedgerKey: ledgerKey, Status: types.LedgerSent})
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestLedgerRepository_ListAttention(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLedgerRepository(db)
	updated := time.Date(2025, 3, 16, 9, 0, 0, 0, time.UTC)
	reason := "550 mailbox unavailable"

	rows := newMockRows([][]any{
		{"rent-due", "c9", "rent-due:2025-03", "contract", "failed", 1, true, nil, &reason, updated},
	})
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), []any{10}).Return(rows, nil)

	got, err := repo.ListAttention(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.KindRentDue, got[0].Kind)
	assert.Equal(t, "c9", got[0].EntityID)
	assert.True(t, got[0].Permanent)
	assert.Equal(t, reason, got[0].ErrorReason)
	assert.True(t, rows.closed)
}

func TestLedgerRepository_ListAttention_DefaultLimit(t *testing.T) {
	db := new(mockDBTX)
	repo := NewLedgerRepository(db)

	db.On("Query", mock.Anything, mock.AnythingOfType("string"), []any{50}).Return(newMockRows(nil), nil)

	got, err := repo.ListAttention(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
	db.AssertExpectations(t)
}
