package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"avisos/internal/notifications/core"
	"avisos/internal/types"
)

// LedgerRepository is the Postgres notification ledger. Rows are keyed by
// (kind, entity_id, period_key); a sent row is terminal.
type LedgerRepository struct {
	db DBTX
}

// NewLedgerRepository creates a new LedgerRepository backed by the given
// database connection (pool or transaction).
func NewLedgerRepository(db DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Lookup returns the entry for key, or an absent entry when no row exists.
func (r *LedgerRepository) Lookup(ctx context.Context, key types.LedgerKey) (types.LedgerEntry, error) {
	e := types.LedgerEntry{LedgerKey: key}
	var (
		entityType, status string
		reason             *string
	)
	err := r.db.QueryRow(ctx,
		`SELECT entity_type, status, attempts, permanent, sent_at, error_reason, updated_at
		 FROM notification_ledger
		 WHERE kind = $1 AND entity_id = $2 AND period_key = $3`,
		string(key.Kind),
		key.EntityID,
		key.PeriodKey,
	).Scan(&entityType, &status, &e.Attempts, &e.Permanent, &e.SentAt, &reason, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		e.Status = types.LedgerAbsent
		return e, nil
	}
	if err != nil {
		return types.LedgerEntry{}, types.NewAppError(types.ErrCodeInternalDB, "failed to look up ledger entry", err)
	}
	e.EntityType = types.EntityType(entityType)
	e.Status = types.LedgerStatus(status)
	if reason != nil {
		e.ErrorReason = *reason
	}
	return e, nil
}

// Record upserts the entry. The WHERE clause on the conflict branch keeps a
// sent row untouched, so a late failure can never overwrite a delivery.
func (r *LedgerRepository) Record(ctx context.Context, e types.LedgerEntry) error {
	var reason *string
	if e.ErrorReason != "" {
		reason = &e.ErrorReason
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO notification_ledger
		 (kind, entity_id, period_key, entity_type, status, attempts, permanent, sent_at, error_reason, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		 ON CONFLICT (kind, entity_id, period_key) DO UPDATE SET
		   status = EXCLUDED.status,
		   attempts = EXCLUDED.attempts,
		   permanent = EXCLUDED.permanent,
		   sent_at = EXCLUDED.sent_at,
		   error_reason = EXCLUDED.error_reason,
		   updated_at = EXCLUDED.updated_at
		 WHERE notification_ledger.status <> 'sent'`,
		string(e.Kind),
		e.EntityID,
		e.PeriodKey,
		string(e.EntityType),
		string(e.Status),
		e.Attempts,
		e.Permanent,
		e.SentAt,
		reason,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record ledger entry", err)
	}
	return nil
}

// ListAttention returns permanently failed entries, newest first.
func (r *LedgerRepository) ListAttention(ctx context.Context, limit int) ([]types.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT kind, entity_id, period_key, entity_type, status, attempts, permanent,
		        sent_at, error_reason, updated_at
		 FROM notification_ledger
		 WHERE status = 'failed' AND permanent
		 ORDER BY updated_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query attention entries", err)
	}
	defer rows.Close()

	out := make([]types.LedgerEntry, 0)
	for rows.Next() {
		var (
			e                        types.LedgerEntry
			kind, entityType, status string
			reason                   *string
		)
		if err := rows.Scan(
			&kind,
			&e.EntityID,
			&e.PeriodKey,
			&entityType,
			&status,
			&e.Attempts,
			&e.Permanent,
			&e.SentAt,
			&reason,
			&e.UpdatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan attention entry", err)
		}
		e.Kind = types.NotificationKind(kind)
		e.EntityType = types.EntityType(entityType)
		e.Status = types.LedgerStatus(status)
		if reason != nil {
			e.ErrorReason = *reason
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating attention entries", err)
	}
	return out, nil
}

// Ping checks the ledger table is reachable.
func (r *LedgerRepository) Ping(ctx context.Context) error {
	var one int
	if err := r.db.QueryRow(ctx, `SELECT 1 FROM notification_ledger LIMIT 1`).Scan(&one); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return types.NewAppError(types.ErrCodeInternalDB, "ledger unreachable", err)
	}
	return nil
}

var _ core.Ledger = (*LedgerRepository)(nil)
