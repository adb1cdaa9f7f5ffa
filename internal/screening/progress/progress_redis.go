package progress

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"pipscreen/internal/screening/models"
	id "pipscreen/pkg/domain"
	"pipscreen/pkg/platform/sentinel"
)

const progressKeyPrefix = "pipscreen:bulk:progress:"

const (
	fieldOrganisation = "organisation_id"
	fieldTotal        = "total"
	fieldProcessed    = "processed"
	fieldStage        = "stage"
	fieldUpdatedAt    = "updated_at"
)

// advanceScript adds to processed, capped at total, and refreshes the TTL.
// Unknown jobs return -1.
var advanceScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
local total = tonumber(redis.call("HGET", KEYS[1], "total") or "0")
local processed = tonumber(redis.call("HGET", KEYS[1], "processed") or "0") + tonumber(ARGV[1])
if processed > total then
  processed = total
end
redis.call("HSET", KEYS[1], "processed", processed, "updated_at", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return processed
`)

// RedisTracker shares progress between server instances, so a poll may land
// on a different instance from the upload.
type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisTracker{client: client, ttl: ttl}
}

func key(jobID string) string { return progressKeyPrefix + jobID }

func (t *RedisTracker) Start(ctx context.Context, p models.Progress) error {
	k := key(p.JobID)
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k,
			fieldOrganisation, p.OrganisationID.String(),
			fieldTotal, p.Total,
			fieldProcessed, p.Processed,
			fieldStage, string(p.Stage),
			fieldUpdatedAt, time.Now().UTC().Format(time.RFC3339Nano),
		)
		pipe.Expire(ctx, k, t.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("start progress: %w", err)
	}
	return nil
}

func (t *RedisTracker) Advance(ctx context.Context, jobID string, n int) error {
	res, err := advanceScript.Run(ctx, t.client, []string{key(jobID)},
		n, time.Now().UTC().Format(time.RFC3339Nano), t.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("advance progress: %w", err)
	}
	if res < 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// SetStage moves the job to stage unless it already reached a terminal one.
func (t *RedisTracker) SetStage(ctx context.Context, jobID string, stage models.Stage) error {
	k := key(jobID)
	current, err := t.client.HGet(ctx, k, fieldStage).Result()
	if errors.Is(err, redis.Nil) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("set progress stage: %w", err)
	}
	if models.Stage(current).IsTerminal() {
		return nil
	}
	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, fieldStage, string(stage), fieldUpdatedAt, time.Now().UTC().Format(time.RFC3339Nano))
		pipe.Expire(ctx, k, t.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set progress stage: %w", err)
	}
	return nil
}

func (t *RedisTracker) Get(ctx context.Context, jobID string) (*models.Progress, error) {
	vals, err := t.client.HGetAll(ctx, key(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	if len(vals) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return decode(jobID, vals)
}

func decode(jobID string, vals map[string]string) (*models.Progress, error) {
	p := &models.Progress{JobID: jobID, Stage: models.Stage(vals[fieldStage])}
	var err error
	if raw := vals[fieldOrganisation]; raw != "" {
		if p.OrganisationID, err = id.ParseOrganisationID(raw); err != nil {
			return nil, fmt.Errorf("decode progress organisation: %w", err)
		}
	}
	if p.Total, err = strconv.Atoi(vals[fieldTotal]); err != nil {
		return nil, fmt.Errorf("decode progress total: %w", err)
	}
	if p.Processed, err = strconv.Atoi(vals[fieldProcessed]); err != nil {
		return nil, fmt.Errorf("decode progress processed: %w", err)
	}
	if raw := vals[fieldUpdatedAt]; raw != "" {
		if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return nil, fmt.Errorf("decode progress timestamp: %w", err)
		}
	}
	return p, nil
}
