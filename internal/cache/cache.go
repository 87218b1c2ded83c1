// Package cache implements a stale-while-revalidate cache with request
// deduplication and an optional shared second tier.
package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/p-n-ai/pai-courses/internal/dedup"
)

// Entry is a cached value with its freshness boundaries.
type Entry[T any] struct {
	Value        T
	FetchedAt    time.Time
	StaleAt      time.Time
	ExpireAt     time.Time
	Revalidating bool
}

// Remote is a shared second tier (e.g. Redis). Errors are logged and
// otherwise ignored: the remote tier never fails a Get.
type Remote interface {
	Get(ctx context.Context, key string, dst any) (fetchedAt time.Time, found bool, err error)
	Set(ctx context.Context, key string, value any, fetchedAt time.Time, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// PrefixDeleter is implemented by remote tiers that can drop every key
// under a prefix.
type PrefixDeleter interface {
	DeletePrefix(ctx context.Context, prefix string) error
}

// Loader fetches a fresh value.
type Loader[T any] func(ctx context.Context) (T, error)

// Option configures a Cache.
type Option func(*options)

type options struct {
	now    func() time.Time
	remote Remote
	log    *slog.Logger
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRemote adds a shared second tier.
func WithRemote(r Remote) Option {
	return func(o *options) { o.remote = r }
}

// WithLogger sets the logger for background failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Cache holds values of one resource type.
type Cache[T any] struct {
	resource string
	policy   Policy
	now      func() time.Time
	remote   Remote
	log      *slog.Logger
	group    *dedup.Group[T]
	batch    *dedup.Group[map[string]T]

	mu      sync.Mutex
	entries map[string]*Entry[T]
	gen     map[string]uint64

	bg sync.WaitGroup
}

// New creates a cache for resource with the given policy.
func New[T any](resource string, policy Policy, opts ...Option) *Cache[T] {
	o := options{now: time.Now, log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[T]{
		resource: resource,
		policy:   policy.normalized(),
		now:      o.now,
		remote:   o.remote,
		log:      o.log.With("cache", resource),
		group:    dedup.NewGroup[T](),
		batch:    dedup.NewGroup[map[string]T](),
		entries:  make(map[string]*Entry[T]),
		gen:      make(map[string]uint64),
	}
}

// Resource returns the resource name.
func (c *Cache[T]) Resource() string { return c.resource }

// Policy returns the effective policy.
func (c *Cache[T]) Policy() Policy { return c.policy }

// Get returns the value for id. A fresh entry is returned without I/O; a
// stale one is returned immediately while one background revalidation runs;
// a missing or expired one blocks on a deduplicated load.
func (c *Cache[T]) Get(ctx context.Context, id string, load Loader[T]) (T, error) {
	now := c.now()

	c.mu.Lock()
	e, ok := c.entries[id]
	if ok && now.Before(e.StaleAt) {
		v := e.Value
		c.mu.Unlock()
		return v, nil
	}
	if ok && now.Before(e.ExpireAt) {
		v := e.Value
		start := !e.Revalidating
		e.Revalidating = true
		gen := c.gen[id]
		c.mu.Unlock()

		if start {
			c.revalidate(ctx, id, gen, load)
		}
		return v, nil
	}
	if ok {
		delete(c.entries, id)
	}
	c.mu.Unlock()

	return c.group.Do(ctx, c.key(id), func(ctx context.Context) (T, error) {
		return c.fill(ctx, id, load)
	})
}

// fill performs a blocking load, consulting the remote tier first.
func (c *Cache[T]) fill(ctx context.Context, id string, load Loader[T]) (T, error) {
	gen := c.generation(id)

	if c.remote != nil {
		var v T
		fetchedAt, found, err := c.remote.Get(ctx, c.remoteKey(id), &v)
		switch {
		case err != nil:
			c.log.Warn("remote cache read failed", "id", id, "error", err)
		case found && c.now().Before(fetchedAt.Add(c.policy.HardExpireAfter)):
			c.store(id, v, fetchedAt, gen)
			return v, nil
		}
	}

	v, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	fetchedAt := c.now()
	if c.store(id, v, fetchedAt, gen) {
		c.writeRemote(ctx, id, v, fetchedAt)
	}
	return v, nil
}

func (c *Cache[T]) revalidate(ctx context.Context, id string, gen uint64, load Loader[T]) {
	c.bg.Add(1)
	ch := c.group.DoChan(ctx, c.key(id), func(ctx context.Context) (T, error) {
		v, err := load(ctx)
		if err != nil {
			var zero T
			return zero, err
		}
		fetchedAt := c.now()
		if c.store(id, v, fetchedAt, gen) {
			c.writeRemote(ctx, id, v, fetchedAt)
		}
		return v, nil
	})

	go func() {
		defer c.bg.Done()
		res := <-ch
		if res.Err == nil {
			return
		}
		c.log.Warn("background revalidation failed, serving last good value", "id", id, "error", res.Err)
		c.mu.Lock()
		if e, ok := c.entries[id]; ok && c.gen[id] == gen {
			e.Revalidating = false
		}
		c.mu.Unlock()
	}()
}

// store replaces the entry unless id was invalidated since gen was read.
func (c *Cache[T]) store(id string, v T, fetchedAt time.Time, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[id] != gen {
		return false
	}
	c.entries[id] = &Entry[T]{
		Value:     v,
		FetchedAt: fetchedAt,
		StaleAt:   fetchedAt.Add(c.policy.StaleAfter),
		ExpireAt:  fetchedAt.Add(c.policy.HardExpireAfter),
	}
	return true
}

// Set stores v as freshly fetched now.
func (c *Cache[T]) Set(ctx context.Context, id string, v T) {
	fetchedAt := c.now()
	if c.store(id, v, fetchedAt, c.generation(id)) {
		c.writeRemote(ctx, id, v, fetchedAt)
	}
}

// Peek returns a copy of the entry for id without loading or refreshing.
func (c *Cache[T]) Peek(id string) (Entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return Entry[T]{}, false
	}
	return *e, true
}

// Invalidate removes id from both tiers. The next Get blocks on a fresh
// load, and loads already in flight no longer populate the cache.
func (c *Cache[T]) Invalidate(ctx context.Context, ids ...string) {
	if len(ids) == 0 {
		return
	}
	c.mu.Lock()
	for _, id := range ids {
		delete(c.entries, id)
		c.gen[id]++
		c.group.Forget(c.key(id))
	}
	c.mu.Unlock()

	if c.remote != nil {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = c.remoteKey(id)
		}
		if err := c.remote.Delete(ctx, keys...); err != nil {
			c.log.Warn("remote cache delete failed", "ids", ids, "error", err)
		}
	}
}

// InvalidatePrefix removes every local entry whose id starts with prefix,
// and the matching remote keys when the remote tier supports it.
func (c *Cache[T]) InvalidatePrefix(ctx context.Context, prefix string) {
	c.mu.Lock()
	var ids []string
	for id := range c.entries {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()
	c.Invalidate(ctx, ids...)

	if pd, ok := c.remote.(PrefixDeleter); ok {
		if err := pd.DeletePrefix(ctx, c.remoteKey(prefix)); err != nil {
			c.log.Warn("remote cache prefix delete failed", "prefix", prefix, "error", err)
		}
	}
}

// Len returns the number of local entries.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Wait blocks until background revalidations started so far have finished.
func (c *Cache[T]) Wait() {
	c.bg.Wait()
}

func (c *Cache[T]) generation(id string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[id]
}

func (c *Cache[T]) writeRemote(ctx context.Context, id string, v T, fetchedAt time.Time) {
	if c.remote == nil {
		return
	}
	if err := c.remote.Set(ctx, c.remoteKey(id), v, fetchedAt, c.policy.HardExpireAfter); err != nil {
		c.log.Warn("remote cache write failed", "id", id, "error", err)
	}
}

func (c *Cache[T]) key(id string) dedup.Key {
	return dedup.Key{Resource: c.resource, ID: id}
}

func (c *Cache[T]) remoteKey(id string) string {
	return c.resource + ":" + id
}
