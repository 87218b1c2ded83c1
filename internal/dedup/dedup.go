// Package dedup collapses concurrent requests for the same resource into a
// single underlying call.
package dedup

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Key identifies a resource, e.g. {"course", "c-1"}.
type Key struct {
	Resource string
	ID       string
}

func (k Key) String() string {
	return k.Resource + ":" + k.ID
}

// Group holds at most one in-flight call per Key. Callers that arrive while
// a call is running share its result, success or failure. The key is
// released as soon as the call returns, so a failed call can be retried by
// the next caller.
type Group[T any] struct {
	sf singleflight.Group

	mu       sync.Mutex
	inFlight map[Key]struct{}
}

// NewGroup creates an empty Group.
func NewGroup[T any]() *Group[T] {
	return &Group[T]{inFlight: make(map[Key]struct{})}
}

// Do runs fn for key unless a call is already in flight, in which case it
// waits for that call. fn runs with a context detached from the caller's
// cancellation so a caller that gives up does not abort the shared call;
// such a caller returns ctx.Err() immediately.
func (g *Group[T]) Do(ctx context.Context, key Key, fn func(context.Context) (T, error)) (T, error) {
	select {
	case res := <-g.DoChan(ctx, key, fn):
		return res.Val, res.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result is delivered by DoChan.
type Result[T any] struct {
	Val    T
	Err    error
	Shared bool
}

// DoChan is like Do but returns a channel that receives the result once.
func (g *Group[T]) DoChan(ctx context.Context, key Key, fn func(context.Context) (T, error)) <-chan Result[T] {
	detached := context.WithoutCancel(ctx)
	ch := g.sf.DoChan(key.String(), func() (any, error) {
		g.mu.Lock()
		g.inFlight[key] = struct{}{}
		g.mu.Unlock()
		defer func() {
			g.mu.Lock()
			delete(g.inFlight, key)
			g.mu.Unlock()
		}()

		return fn(detached)
	})

	out := make(chan Result[T], 1)
	go func() {
		res := <-ch
		var val T
		if res.Val != nil {
			v, ok := res.Val.(T)
			if !ok && res.Err == nil {
				res.Err = fmt.Errorf("dedup %s: unexpected result type %T", key, res.Val)
			}
			val = v
		}
		out <- Result[T]{Val: val, Err: res.Err, Shared: res.Shared}
	}()
	return out
}

// Forget drops key so the next call starts a fresh operation even if one is
// still running.
func (g *Group[T]) Forget(key Key) {
	g.sf.Forget(key.String())
}

// InFlight reports whether a call for key is running.
func (g *Group[T]) InFlight(key Key) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inFlight[key]
	return ok
}

// Len returns the number of in-flight calls.
func (g *Group[T]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inFlight)
}
