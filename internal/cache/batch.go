package cache

import (
	"context"
	"slices"
	"strings"

	"github.com/p-n-ai/pai-courses/internal/dedup"
)

// BatchLoader fetches fresh values for several ids in one call. Ids missing
// from the result are cached as the zero value.
type BatchLoader[T any] func(ctx context.Context, ids []string) (map[string]T, error)

// GetMany is Get for several ids. Fresh and stale entries follow the same
// rules as Get, with stale ones revalidated one id at a time. Missing and
// expired ids are fetched together in one deduplicated call.
func (c *Cache[T]) GetMany(ctx context.Context, ids []string, load BatchLoader[T]) (map[string]T, error) {
	out := make(map[string]T, len(ids))
	var missing []string

	now := c.now()
	for _, id := range ids {
		c.mu.Lock()
		e, ok := c.entries[id]
		switch {
		case ok && now.Before(e.StaleAt):
			out[id] = e.Value
			c.mu.Unlock()
		case ok && now.Before(e.ExpireAt):
			out[id] = e.Value
			start := !e.Revalidating
			e.Revalidating = true
			gen := c.gen[id]
			c.mu.Unlock()
			if start {
				c.revalidate(ctx, id, gen, single(id, load))
			}
		default:
			if ok {
				delete(c.entries, id)
			}
			c.mu.Unlock()
			if !slices.Contains(missing, id) {
				missing = append(missing, id)
			}
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	missing = c.fromRemote(ctx, missing, out)
	if len(missing) == 0 {
		return out, nil
	}

	slices.Sort(missing)
	key := dedup.Key{Resource: c.resource, ID: strings.Join(missing, ",")}
	loaded, err := c.batch.Do(ctx, key, func(ctx context.Context) (map[string]T, error) {
		gens := make(map[string]uint64, len(missing))
		for _, id := range missing {
			gens[id] = c.generation(id)
		}
		vals, err := load(ctx, missing)
		if err != nil {
			return nil, err
		}
		fetchedAt := c.now()
		for _, id := range missing {
			v := vals[id]
			if c.store(id, v, fetchedAt, gens[id]) {
				c.writeRemote(ctx, id, v, fetchedAt)
			}
		}
		return vals, nil
	})
	if err != nil {
		return nil, err
	}
	for _, id := range missing {
		out[id] = loaded[id]
	}
	return out, nil
}

// fromRemote fills out from the shared tier and returns the ids it could not serve.
func (c *Cache[T]) fromRemote(ctx context.Context, ids []string, out map[string]T) []string {
	if c.remote == nil {
		return ids
	}
	var rest []string
	for _, id := range ids {
		gen := c.generation(id)
		var v T
		fetchedAt, found, err := c.remote.Get(ctx, c.remoteKey(id), &v)
		if err != nil {
			c.log.Warn("remote cache read failed", "id", id, "error", err)
		}
		if err != nil || !found || !c.now().Before(fetchedAt.Add(c.policy.HardExpireAfter)) {
			rest = append(rest, id)
			continue
		}
		c.store(id, v, fetchedAt, gen)
		out[id] = v
	}
	return rest
}

func single[T any](id string, load BatchLoader[T]) Loader[T] {
	return func(ctx context.Context) (T, error) {
		vals, err := load(ctx, []string{id})
		if err != nil {
			var zero T
			return zero, err
		}
		return vals[id], nil
	}
}
