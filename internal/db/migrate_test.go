package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func checksumOf(t *testing.T, name string) string {
	t.Helper()
	body, err := migrationFS.ReadFile("migrations/" + name)
	require.NoError(t, err)
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func TestMigrator_AppliesPendingOnly(t *testing.T) {
	db := new(mockDBTX)
	ctx := context.Background()

	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "CREATE TABLE IF NOT EXISTS schema_migrations")
	}), mock.Anything).Return(pgconn.NewCommandTag("CREATE TABLE"), nil).Once()

	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows([][]any{{"0001_notification_ledger.sql", checksumOf(t, "0001_notification_ledger.sql")}}), nil)

	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "CREATE TABLE IF NOT EXISTS job_locks")
	}), mock.Anything).Return(pgconn.NewCommandTag("CREATE TABLE"), nil).Once()

	db.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.HasPrefix(sql, "INSERT INTO schema_migrations")
	}), mock.MatchedBy(func(args []any) bool {
		return args[0] == "0002_scheduler.sql"
	})).Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Once()

	ran, err := NewMigrator(db, nil).Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ran)
	db.AssertExpectations(t)
}

func TestMigrator_ChecksumMismatch(t *testing.T) {
	db := new(mockDBTX)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("CREATE TABLE"), nil).Once()
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows([][]any{{"0001_notification_ledger.sql", "stale"}}), nil)

	ran, err := NewMigrator(db, nil).Up(context.Background())
	require.Error(t, err)
	assert.Zero(t, ran)
	assert.Contains(t, err.Error(), "different checksum")
}

func TestMigrator_ApplyError(t *testing.T) {
	db := new(mockDBTX)

	db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return strings.Contains(sql, "schema_migrations (")
	}), mock.Anything).Return(pgconn.NewCommandTag("CREATE TABLE"), nil).Once()
	db.On("Query", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(newMockRows(nil), nil)
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("permission denied")).Once()

	ran, err := NewMigrator(db, nil).Up(context.Background())
	require.Error(t, err)
	assert.Zero(t, ran)
	assert.Contains(t, err.Error(), "0001_notification_ledger.sql")
}
