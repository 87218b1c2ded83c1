package dedup_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/p-n-ai/pai-courses/internal/dedup"
)

// runConcurrent starts k callers of g.Do on key and returns their results once
// all have finished. fn is held until every caller has been started.
func runConcurrent(t *testing.T, g *dedup.Group[string], key dedup.Key, k int, fn func(context.Context) (string, error)) ([]string, []error) {
	t.Helper()

	release := make(chan struct{})
	held := func(ctx context.Context) (string, error) {
		<-release
		return fn(ctx)
	}

	vals := make([]string, k)
	errs := make([]error, k)
	var started, done sync.WaitGroup
	started.Add(k)
	done.Add(k)
	for i := range k {
		go func() {
			defer done.Done()
			started.Done()
			vals[i], errs[i] = g.Do(context.Background(), key, held)
		}()
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()
	return vals, errs
}

func TestGroup_Do_SharesSuccess(t *testing.T) {
	g := dedup.NewGroup[string]()
	key := dedup.Key{Resource: "course", ID: "c1"}
	var calls atomic.Int32

	vals, errs := runConcurrent(t, g, key, 10, func(context.Context) (string, error) {
		calls.Add(1)
		return "course-c1", nil
	})

	if got := calls.Load(); got != 1 {
		t.Errorf("underlying calls = %d, want 1", got)
	}
	for i := range vals {
		if errs[i] != nil {
			t.Errorf("caller %d error = %v", i, errs[i])
		}
		if vals[i] != "course-c1" {
			t.Errorf("caller %d value = %q, want course-c1", i, vals[i])
		}
	}
}

func TestGroup_Do_SharesFailureThenReleases(t *testing.T) {
	g := dedup.NewGroup[string]()
	key := dedup.Key{Resource: "course", ID: "c1"}
	boom := errors.New("boom")
	var calls atomic.Int32

	_, errs := runConcurrent(t, g, key, 5, func(context.Context) (string, error) {
		calls.Add(1)
		return "", boom
	})

	if got := calls.Load(); got != 1 {
		t.Errorf("underlying calls = %d, want 1", got)
	}
	for i, err := range errs {
		if !errors.Is(err, boom) {
			t.Errorf("caller %d error = %v, want boom", i, err)
		}
	}
	if g.InFlight(key) {
		t.Error("key still in flight after failure")
	}

	// Next caller retries with a fresh call.
	v, err := g.Do(context.Background(), key, func(context.Context) (string, error) {
		calls.Add(1)
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("retry Do() = %q, %v, want ok", v, err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("underlying calls = %d, want 2", got)
	}
}

func TestGroup_Do_DistinctKeys(t *testing.T) {
	g := dedup.NewGroup[string]()
	var calls atomic.Int32
	fn := func(context.Context) (string, error) {
		calls.Add(1)
		return "v", nil
	}

	var wg sync.WaitGroup
	for _, key := range []dedup.Key{
		{Resource: "course", ID: "a"},
		{Resource: "course", ID: "b"},
		{Resource: "modules", ID: "a"},
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.Do(context.Background(), key, fn)
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 3 {
		t.Errorf("underlying calls = %d, want 3", got)
	}
}

func TestGroup_Do_CallerCancelDoesNotAbortSharedCall(t *testing.T) {
	g := dedup.NewGroup[string]()
	key := dedup.Key{Resource: "lesson_content", ID: "l1"}
	release := make(chan struct{})
	fnErr := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	callerDone := make(chan error, 1)
	go func() {
		_, err := g.Do(ctx, key, func(fctx context.Context) (string, error) {
			<-release
			fnErr <- fctx.Err()
			return "content", nil
		})
		callerDone <- err
	}()

	// Wait for the call to be registered before cancelling.
	deadline := time.Now().Add(time.Second)
	for !g.InFlight(key) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-callerDone; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller error = %v, want context.Canceled", err)
	}

	joined := make(chan string, 1)
	go func() {
		v, _ := g.Do(context.Background(), key, func(context.Context) (string, error) {
			return "fresh", nil
		})
		joined <- v
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)

	if v := <-joined; v != "content" {
		t.Errorf("second caller value = %q, want content from the shared call", v)
	}
	if err := <-fnErr; err != nil {
		t.Errorf("shared call context error = %v, want nil", err)
	}
}

func TestGroup_Len(t *testing.T) {
	g := dedup.NewGroup[int]()
	if g.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", g.Len())
	}
	_, err := g.Do(context.Background(), dedup.Key{Resource: "r", ID: "1"}, func(context.Context) (int, error) {
		return 1, nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if g.Len() != 0 {
		t.Errorf("Len() after settle = %d, want 0", g.Len())
	}
}
