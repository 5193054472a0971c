// Package queue implements deferred delivery on Redis: job payloads in a
// hash, due times in a sorted set, and a polling worker that hands due
// jobs to the coordinator.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pushline/go-push-delivery/pkg/push"
)

const (
	jobsKey = "push:queue:jobs"
	dueKey  = "push:queue:due"
)

// Job is one deferred notification.
type Job struct {
	ID           string            `json:"id"`
	Notification push.Notification `json:"notification"`
	EnqueuedAt   time.Time         `json:"enqueued_at"`
	DueAt        time.Time         `json:"due_at"`
}

// RedisQueue implements push.Queue.
type RedisQueue struct {
	rdb    *redis.Client
	now    func() time.Time
	logger *slog.Logger
}

func NewRedisQueue(rdb *redis.Client, logger *slog.Logger) *RedisQueue {
	return &RedisQueue{
		rdb:    rdb,
		now:    time.Now,
		logger: logger.With("component", "RedisQueue"),
	}
}

// Enqueue stores the job and scores it by its due time in milliseconds.
func (q *RedisQueue) Enqueue(ctx context.Context, n push.Notification, delay time.Duration) (string, error) {
	job := Job{
		ID:           uuid.NewString(),
		Notification: n,
		EnqueuedAt:   q.now().UTC(),
		DueAt:        q.now().Add(delay).UTC(),
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal queue job: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, jobsKey, job.ID, payload)
	pipe.ZAdd(ctx, dueKey, redis.Z{
		Score:  float64(job.DueAt.UnixMilli()),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	return job.ID, nil
}

// Cancel removes a scheduled-but-not-yet-due job. Returns false when the
// job is unknown or was already dequeued.
func (q *RedisQueue) Cancel(ctx context.Context, jobID string) (bool, error) {
	removed, err := q.rdb.ZRem(ctx, dueKey, jobID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	if removed == 0 {
		return false, nil
	}
	if err := q.rdb.HDel(ctx, jobsKey, jobID).Err(); err != nil {
		q.logger.Warn("Cancelled job payload not cleaned up", "job_id", jobID, "err", err)
	}
	return true, nil
}

// PopDue claims up to limit jobs whose due time has passed. A job is only
// returned if its ZREM succeeds, so a concurrent Cancel (or a second
// worker) can never double-claim it.
func (q *RedisQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	ids, err := q.rdb.ZRangeByScore(ctx, dueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read due jobs: %w", err)
	}

	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		claimed, err := q.rdb.ZRem(ctx, dueKey, id).Result()
		if err != nil {
			return jobs, fmt.Errorf("failed to claim job %s: %w", id, err)
		}
		if claimed == 0 {
			continue // cancelled or claimed elsewhere in the meantime
		}

		payload, err := q.rdb.HGet(ctx, jobsKey, id).Bytes()
		if err != nil {
			q.logger.Warn("Claimed job has no payload", "job_id", id, "err", err)
			continue
		}
		_ = q.rdb.HDel(ctx, jobsKey, id).Err()

		var job Job
		if err := json.Unmarshal(payload, &job); err != nil {
			q.logger.Warn("Dropping corrupt queue job", "job_id", id, "err", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
