// Package locks provides the cross-instance run lock used by the scheduler
// so that two replicas never run the same job at the same time.
package locks

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"avisos/internal/types"
)

// KeyPrefix namespaces run lock keys.
const KeyPrefix = "avisos:run:"

// WorkerID identifies this process as a lock owner.
func WorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "instance"
	}
	return host + "-" + uuid.NewString()[:8]
}

// ============================================================
// Redis
// ============================================================

// redisClient is the subset of *redis.Client the lock needs.
type redisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// releaseScript deletes the key only when it still holds our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// RedisLock acquires with SET NX PX and releases with a compare-and-delete
// script, so an expired lock taken over by another worker is left alone.
type RedisLock struct {
	client   redisClient
	workerID string
}

// NewRedisLock wraps a go-redis client.
func NewRedisLock(client redisClient, workerID string) *RedisLock {
	return &RedisLock{client: client, workerID: workerID}
}

// NewRedisClient parses a redis:// URL and verifies connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable, "invalid redis url", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable, "redis unreachable", err)
	}
	return client, nil
}

// TryAcquire takes the lock for jobID for at most ttl.
func (l *RedisLock) TryAcquire(ctx context.Context, jobID string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, KeyPrefix+jobID, l.workerID, ttl).Result()
	if err != nil {
		return false, types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to acquire run lock", err)
	}
	return ok, nil
}

// Release gives the lock back if this worker still owns it.
func (l *RedisLock) Release(ctx context.Context, jobID string) error {
	if err := l.client.Eval(ctx, releaseScript, []string{KeyPrefix + jobID}, l.workerID).Err(); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to release run lock", err)
	}
	return nil
}

// ============================================================
// Postgres
// ============================================================

// lockStore is satisfied by db.JobLockRepository.
type lockStore interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID string, workerID string) error
}

// PostgresLock adapts the job_locks table to the run lock contract.
type PostgresLock struct {
	store    lockStore
	workerID string
}

// NewPostgresLock wraps a job lock store.
func NewPostgresLock(store lockStore, workerID string) *PostgresLock {
	return &PostgresLock{store: store, workerID: workerID}
}

// TryAcquire takes the lock for jobID for at most ttl.
func (l *PostgresLock) TryAcquire(ctx context.Context, jobID string, ttl time.Duration) (bool, error) {
	return l.store.Acquire(ctx, KeyPrefix+jobID, l.workerID, ttl)
}

// Release gives the lock back if this worker still owns it.
func (l *PostgresLock) Release(ctx context.Context, jobID string) error {
	return l.store.Release(ctx, KeyPrefix+jobID, l.workerID)
}
