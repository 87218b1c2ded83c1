package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "learn:"
	scanBatch        = 200
)

// envelope is the stored form of a value. FetchedAt travels with it so a
// reader computes staleness from the original fetch, not the copy.
type envelope struct {
	FetchedAt time.Time       `json:"fetched_at"`
	Value     json.RawMessage `json:"value"`
}

// RemoteStore stores JSON values in Redis for use as a shared cache tier.
type RemoteStore struct {
	client redis.Cmdable
	prefix string
}

// NewRemoteStore creates a store over client. An empty prefix uses "learn:".
func NewRemoteStore(client redis.Cmdable, prefix string) *RemoteStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RemoteStore{client: client, prefix: prefix}
}

// Get decodes the value at key into dst.
func (s *RemoteStore) Get(ctx context.Context, key string, dst any) (time.Time, bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get %s: %w", key, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return time.Time{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	if err := json.Unmarshal(env.Value, dst); err != nil {
		return time.Time{}, false, fmt.Errorf("decode %s value: %w", key, err)
	}
	return env.FetchedAt, true, nil
}

// Set stores value at key. The key expires ttl after fetchedAt.
func (s *RemoteStore) Set(ctx context.Context, key string, value any, fetchedAt time.Time, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s value: %w", key, err)
	}
	data, err := json.Marshal(envelope{FetchedAt: fetchedAt, Value: raw})
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	remaining := ttl - time.Since(fetchedAt)
	if remaining <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.prefix+key, data, remaining).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys.
func (s *RemoteStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.prefix + k
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("delete %d keys: %w", len(keys), err)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix. Keys are found with
// SCAN, so keys written while it runs may survive.
func (s *RemoteStore) DeletePrefix(ctx context.Context, prefix string) error {
	iter := s.client.Scan(ctx, 0, s.prefix+prefix+"*", scanBatch).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("delete prefix %s: %w", prefix, err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan prefix %s: %w", prefix, err)
	}
	if len(batch) > 0 {
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("delete prefix %s: %w", prefix, err)
		}
	}
	return nil
}
