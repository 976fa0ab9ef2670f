package db

import (
	"context"
	"encoding/json"
	"time"

	"avisos/internal/types"
)

// ============================================================
// JobLockRepository
// ============================================================

// JobLockRepository provides a cross-instance run lock via the job_locks
// table. A lock is acquired with INSERT ... ON CONFLICT DO UPDATE so that
// only one instance runs a given job at a time, and an expired lock left by
// a crashed instance is reclaimed.
type JobLockRepository struct {
	db DBTX
}

// NewJobLockRepository creates a new JobLockRepository backed by the given
// database connection (pool or transaction).
func NewJobLockRepository(db DBTX) *JobLockRepository {
	return &JobLockRepository{db: db}
}

// Acquire attempts to insert a lock row. Returns true if acquired, false if
// another worker holds an unexpired lock.
//
// SQL pattern:
//
//	INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
//	VALUES ($1, $2, $3, $4)
//	ON CONFLICT (id) DO UPDATE
//	  SET worker_id = EXCLUDED.worker_id, ...
//	  WHERE job_locks.expires_at < $3
//
// locked_at and expires_at are computed in Go to avoid PostgreSQL interval
// parsing of Go duration strings.
func (r *JobLockRepository) Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	tag, err := r.db.Exec(ctx,
		`INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE job_locks.expires_at < $3`,
		lockID,
		workerID,
		now,
		expiresAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lock", err)
	}

	// 1 row: inserted or expired lock reclaimed. 0 rows: held elsewhere.
	return tag.RowsAffected() > 0, nil
}

// Release deletes the lock row if workerID still owns it. Releasing a lock
// that expired and was taken over is a no-op.
func (r *JobLockRepository) Release(ctx context.Context, lockID string, workerID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM job_locks WHERE id = $1 AND worker_id = $2`,
		lockID,
		workerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release job lock", err)
	}
	return nil
}

// ============================================================
// JobHistoryRepository
// ============================================================

// JobHistoryRepository persists run reports in the job_history table so the
// last outcome of each job survives restarts.
type JobHistoryRepository struct {
	db DBTX
}

// NewJobHistoryRepository creates a new JobHistoryRepository backed by the
// given database connection (pool or transaction).
func NewJobHistoryRepository(db DBTX) *JobHistoryRepository {
	return &JobHistoryRepository{db: db}
}

// Save inserts one finished run. The full report is stored as JSONB; the
// counters are duplicated into columns for ad-hoc queries.
func (r *JobHistoryRepository) Save(ctx context.Context, report types.RunReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode run report", err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO job_history
		 (job_id, trigger, status, started_at, finished_at, candidates, sent, failed, report)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		report.JobID,
		string(report.Trigger),
		string(report.Status),
		report.StartedAt,
		report.FinishedAt,
		report.Candidates,
		report.Sent,
		report.Failed,
		body,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save job history entry", err)
	}
	return nil
}

// LatestRuns returns the most recent report per (job, trigger).
func (r *JobHistoryRepository) LatestRuns(ctx context.Context) ([]types.RunReport, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT ON (job_id, trigger) report
		 FROM job_history
		 ORDER BY job_id, trigger, finished_at DESC`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query job history", err)
	}
	defer rows.Close()

	var out []types.RunReport
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan job history entry", err)
		}
		var report types.RunReport
		if err := json.Unmarshal(body, &report); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to decode run report", err)
		}
		out = append(out, report)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating job history", err)
	}
	return out, nil
}
