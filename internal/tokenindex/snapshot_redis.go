package tokenindex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	snapshotKeyPrefix = "pipscreen:tokenindex:"
	snapshotChunk     = 1000
)

// RedisSnapshot shares the last built token set between server instances so
// only one of them pays for a corpus scan after a restart.
type RedisSnapshot struct {
	client *redis.Client
	ttl    time.Duration
	key    string
}

type RedisSnapshotOption func(*RedisSnapshot)

// WithSnapshotTTL bounds how long a snapshot outlives its last rebuild.
func WithSnapshotTTL(ttl time.Duration) RedisSnapshotOption {
	return func(r *RedisSnapshot) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithSnapshotNamespace separates snapshots of different deployments sharing
// one Redis.
func WithSnapshotNamespace(ns string) RedisSnapshotOption {
	return func(r *RedisSnapshot) {
		if ns != "" {
			r.key = snapshotKeyPrefix + ns
		}
	}
}

func NewRedisSnapshot(client *redis.Client, opts ...RedisSnapshotOption) *RedisSnapshot {
	r := &RedisSnapshot{client: client, ttl: time.Hour, key: snapshotKeyPrefix + "default"}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *RedisSnapshot) wordsKey() string { return r.key + ":words" }
func (r *RedisSnapshot) metaKey() string  { return r.key + ":built_at" }

// Load returns the stored words and their build time. ok is false when no
// snapshot exists.
func (r *RedisSnapshot) Load(ctx context.Context) (words []string, builtAt time.Time, ok bool, err error) {
	raw, err := r.client.Get(ctx, r.metaKey()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("load snapshot metadata: %w", err)
	}
	builtAt, err = time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("parse snapshot time: %w", err)
	}
	words, err = r.client.SMembers(ctx, r.wordsKey()).Result()
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("load snapshot words: %w", err)
	}
	return words, builtAt, true, nil
}

// Save replaces the snapshot atomically.
func (r *RedisSnapshot) Save(ctx context.Context, words []string, builtAt time.Time) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.wordsKey())
		for start := 0; start < len(words); start += snapshotChunk {
			end := min(start+snapshotChunk, len(words))
			members := make([]any, 0, end-start)
			for _, w := range words[start:end] {
				members = append(members, w)
			}
			pipe.SAdd(ctx, r.wordsKey(), members...)
		}
		pipe.Expire(ctx, r.wordsKey(), r.ttl)
		pipe.Set(ctx, r.metaKey(), builtAt.UTC().Format(time.RFC3339Nano), r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Delete drops the snapshot so the next reader rebuilds from the corpus.
func (r *RedisSnapshot) Delete(ctx context.Context) error {
	if err := r.client.Del(ctx, r.metaKey(), r.wordsKey()).Err(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}
