// Package redis provides a scheduler.Store backed by Redis so that delayed
// jobs survive restarts and are shared by every worker process.
//
// Layout: one hash per job, a "scheduled" sorted set scored by run-at, an
// "active" sorted set scored by last heartbeat, and "completed"/"failed"
// sorted sets scored by finish time.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dukex/journeys/pkg/models"
	"github.com/dukex/journeys/pkg/scheduler"
	goredis "github.com/redis/go-redis/v9"
)

var _ scheduler.Store = (*Store)(nil)

const keyPrefix = "journeys:scheduler:"

func jobKey(id string) string { return keyPrefix + "job:" + id }

const (
	scheduledKey = keyPrefix + "scheduled"
	activeKey    = keyPrefix + "active"
	completedKey = keyPrefix + "completed"
	failedKey    = keyPrefix + "failed"
	pausedKey    = keyPrefix + "paused"
)

// claimScript pops the earliest due job and marks it active in one step so
// two workers never claim the same job.
var claimScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
	return false
end
local id = ids[1]
redis.call('ZREM', KEYS[1], id)
redis.call('ZADD', KEYS[2], ARGV[1], id)
redis.call('HSET', ARGV[2] .. id, 'state', 'active', 'heartbeat_at', ARGV[1])
return id
`)

var heartbeatScript = goredis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
redis.call('HSET', KEYS[2], 'heartbeat_at', ARGV[2])
return 1
`)

// reapScript moves active jobs with a heartbeat older than ARGV[1] back to
// the scheduled set, due at ARGV[2].
var reapScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('ZADD', KEYS[2], ARGV[2], id)
	redis.call('HSET', ARGV[3] .. id, 'state', 'scheduled', 'run_at', ARGV[2], 'heartbeat_at', 0)
end
return #ids
`)

var removeScript = goredis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('DEL', KEYS[2])
return 1
`)

type Store struct {
	client *goredis.Client
}

func New(client *goredis.Client) *Store {
	return &Store{client: client}
}

// NewFromURL connects to a redis:// or rediss:// URL and pings the server.
func NewFromURL(ctx context.Context, url string) (*Store, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := goredis.NewClient(opts)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return New(client), nil
}

func (s *Store) Enqueue(ctx context.Context, job *scheduler.Job) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(job.ID), map[string]any{
		"payload":    payload,
		"state":      string(scheduler.JobStateScheduled),
		"attempts":   job.Attempts,
		"run_at":     job.RunAt.UnixMilli(),
		"created_at": job.CreatedAt.UnixMilli(),
	})
	pipe.ZAdd(ctx, scheduledKey, goredis.Z{Score: float64(job.RunAt.UnixMilli()), Member: job.ID})

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	return nil
}

func (s *Store) Claim(ctx context.Context, now time.Time) (*scheduler.Job, error) {
	id, err := claimScript.Run(ctx, s.client,
		[]string{scheduledKey, activeKey},
		now.UnixMilli(), keyPrefix+"job:",
	).Text()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return s.get(ctx, id)
}

func (s *Store) get(ctx context.Context, id string) (*scheduler.Job, error) {
	fields, err := s.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}

	if len(fields) == 0 {
		return nil, scheduler.ErrJobNotFound
	}

	job := &scheduler.Job{
		ID:        id,
		State:     scheduler.JobState(fields["state"]),
		LastError: fields["last_error"],
	}

	err = json.Unmarshal([]byte(fields["payload"]), &job.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal job payload: %w", err)
	}

	job.Attempts, _ = strconv.Atoi(fields["attempts"])
	job.RunAt = parseMillis(fields["run_at"])
	job.CreatedAt = parseMillis(fields["created_at"])
	job.FinishedAt = parseMillis(fields["finished_at"])
	job.HeartbeatAt = parseMillis(fields["heartbeat_at"])

	return job, nil
}

func parseMillis(value string) time.Time {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}

	return time.UnixMilli(ms).UTC()
}

func (s *Store) exists(ctx context.Context, id string) error {
	n, err := s.client.Exists(ctx, jobKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to check job %s: %w", id, err)
	}

	if n == 0 {
		return scheduler.ErrJobNotFound
	}

	return nil
}

func (s *Store) Heartbeat(ctx context.Context, id string, at time.Time) error {
	err := heartbeatScript.Run(ctx, s.client, []string{activeKey, jobKey(id)}, id, at.UnixMilli()).Err()
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}

	return nil
}

func (s *Store) ReapStale(ctx context.Context, staleBefore, now time.Time) (int64, error) {
	reaped, err := reapScript.Run(ctx, s.client,
		[]string{activeKey, scheduledKey},
		staleBefore.UnixMilli(), now.UnixMilli(), keyPrefix+"job:",
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to reap stale jobs: %w", err)
	}

	return reaped, nil
}

func (s *Store) Complete(ctx context.Context, id string, at time.Time) error {
	err := s.exists(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, activeKey, id)
	pipe.HSet(ctx, jobKey(id), "state", string(scheduler.JobStateCompleted), "finished_at", at.UnixMilli(), "heartbeat_at", 0)
	pipe.ZAdd(ctx, completedKey, goredis.Z{Score: float64(at.UnixMilli()), Member: id})

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	return nil
}

func (s *Store) Retry(ctx context.Context, id string, runAt time.Time, attempts int, lastErr string) error {
	err := s.exists(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, activeKey, id)
	pipe.HSet(ctx, jobKey(id),
		"state", string(scheduler.JobStateScheduled),
		"run_at", runAt.UnixMilli(),
		"heartbeat_at", 0,
		"attempts", attempts,
		"last_error", lastErr,
	)
	pipe.ZAdd(ctx, scheduledKey, goredis.Z{Score: float64(runAt.UnixMilli()), Member: id})

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to retry job: %w", err)
	}

	return nil
}

func (s *Store) Fail(ctx context.Context, id string, at time.Time, attempts int, lastErr string) error {
	err := s.exists(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, activeKey, id)
	pipe.HSet(ctx, jobKey(id),
		"state", string(scheduler.JobStateFailed),
		"finished_at", at.UnixMilli(),
		"heartbeat_at", 0,
		"attempts", attempts,
		"last_error", lastErr,
	)
	pipe.ZAdd(ctx, failedKey, goredis.Z{Score: float64(at.UnixMilli()), Member: id})

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}

	return nil
}

func (s *Store) Remove(ctx context.Context, id string) error {
	removed, err := removeScript.Run(ctx, s.client, []string{scheduledKey, jobKey(id)}, id).Int()
	if err != nil {
		return fmt.Errorf("failed to remove job: %w", err)
	}

	if removed == 0 {
		return scheduler.ErrJobNotFound
	}

	return nil
}

func (s *Store) Stats(ctx context.Context, now time.Time) (models.SchedulerStats, error) {
	nowScore := strconv.FormatInt(now.UnixMilli(), 10)

	pipe := s.client.Pipeline()
	waiting := pipe.ZCount(ctx, scheduledKey, "-inf", nowScore)
	delayed := pipe.ZCount(ctx, scheduledKey, "("+nowScore, "+inf")
	active := pipe.ZCard(ctx, activeKey)
	completed := pipe.ZCard(ctx, completedKey)
	failed := pipe.ZCard(ctx, failedKey)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return models.SchedulerStats{}, fmt.Errorf("failed to read scheduler stats: %w", err)
	}

	return models.SchedulerStats{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Delayed:   delayed.Val(),
	}, nil
}

func (s *Store) Prune(ctx context.Context, state scheduler.JobState, olderThan time.Time) (int64, error) {
	var setKey string

	switch state {
	case scheduler.JobStateCompleted:
		setKey = completedKey
	case scheduler.JobStateFailed:
		setKey = failedKey
	default:
		return 0, fmt.Errorf("cannot prune jobs in state %q", state)
	}

	maxScore := "(" + strconv.FormatInt(olderThan.UnixMilli(), 10)

	ids, err := s.client.ZRangeByScore(ctx, setKey, &goredis.ZRangeBy{Min: "-inf", Max: maxScore}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list %s jobs: %w", state, err)
	}

	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids))
	members := make([]any, 0, len(ids))

	for _, id := range ids {
		keys = append(keys, jobKey(id))
		members = append(members, id)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.ZRem(ctx, setKey, members...)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to prune %s jobs: %w", state, err)
	}

	return int64(len(ids)), nil
}

func (s *Store) SetPaused(ctx context.Context, paused bool) error {
	var err error

	if paused {
		err = s.client.Set(ctx, pausedKey, "1", 0).Err()
	} else {
		err = s.client.Del(ctx, pausedKey).Err()
	}

	if err != nil {
		return fmt.Errorf("failed to update pause flag: %w", err)
	}

	return nil
}

func (s *Store) Paused(ctx context.Context) (bool, error) {
	n, err := s.client.Exists(ctx, pausedKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read pause flag: %w", err)
	}

	return n > 0, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
