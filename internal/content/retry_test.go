package content_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/p-n-ai/pai-courses/internal/content"
)

func fastRetry(retries int) content.RetryConfig {
	return content.RetryConfig{Retries: retries, Delay: time.Millisecond, CallTimeout: time.Second}
}

func TestRetryingRepository(t *testing.T) {
	reset := content.Transient(errors.New("connection reset"))

	tests := []struct {
		name      string
		retries   int
		failures  []error
		wantErr   error
		wantCalls int
	}{
		{"success first try", 1, nil, nil, 1},
		{"transient retried once", 1, []error{reset}, nil, 2},
		{"transient exhausts budget", 1, []error{reset, reset}, content.ErrTransient, 2},
		{"validation not retried", 1, []error{content.ErrValidation}, content.ErrValidation, 1},
		{"not found not retried", 3, []error{content.ErrNotFound}, content.ErrNotFound, 1},
		{"zero retries", 0, []error{reset}, content.ErrTransient, 1},
		{"negative retries", -1, []error{reset}, content.ErrTransient, 1},
		{"larger budget", 3, []error{reset, reset, reset}, nil, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := seed(t)
			mem.FailNext(content.OpFetchCourseBasicInfo, tt.failures...)
			repo := content.NewRetryingRepository(mem, fastRetry(tt.retries))

			c, err := repo.FetchCourseBasicInfo(context.Background(), "c1")
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("FetchCourseBasicInfo() error = %v", err)
				}
				if c.ID != "c1" {
					t.Errorf("course = %+v", c)
				}
			} else if !errors.Is(err, tt.wantErr) {
				t.Fatalf("FetchCourseBasicInfo() error = %v, want %v", err, tt.wantErr)
			}
			if got := mem.Calls(content.OpFetchCourseBasicInfo); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestRetryingRepository_CallTimeoutIsTransient(t *testing.T) {
	mem := seed(t)
	mem.SetHook(func(ctx context.Context, op string) {
		if op == content.OpFetchModules {
			<-ctx.Done()
		}
	})
	repo := content.NewRetryingRepository(mem, content.RetryConfig{
		Retries:     1,
		Delay:       time.Millisecond,
		CallTimeout: 20 * time.Millisecond,
	})

	_, err := repo.FetchModules(context.Background(), "c1")
	if !errors.Is(err, content.ErrTransient) {
		t.Fatalf("error = %v, want ErrTransient", err)
	}
	if got := mem.Calls(content.OpFetchModules); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestRetryingRepository_CallerCancelNotRetried(t *testing.T) {
	mem := seed(t)
	repo := content.NewRetryingRepository(mem, fastRetry(3))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.FetchEnrollment(ctx, "c1", "u1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if errors.Is(err, content.ErrTransient) {
		t.Error("caller cancellation must not be classified transient")
	}
}

func TestRetryingRepository_Writes(t *testing.T) {
	mem := seed(t)
	mem.FailNext(content.OpUpsertCompletion, content.Transient(errors.New("broken pipe")))
	repo := content.NewRetryingRepository(mem, fastRetry(1))
	ctx := context.Background()

	rec := content.CompletionRecord{UserID: "u1", LessonID: "l1", CourseID: "c1"}
	if err := repo.UpsertCompletion(ctx, rec); err != nil {
		t.Fatalf("UpsertCompletion() error = %v", err)
	}
	if len(mem.Completions("u1")) != 1 {
		t.Fatal("completion not stored after retry")
	}
	if err := repo.DeleteCompletion(ctx, "l1", "u1"); err != nil {
		t.Fatalf("DeleteCompletion() error = %v", err)
	}
	if len(mem.Completions("u1")) != 0 {
		t.Error("completion not deleted")
	}
}

func TestIsRetryable(t *testing.T) {
	if content.IsRetryable(content.ErrNotFound) {
		t.Error("ErrNotFound should not be retryable")
	}
	wrapped := content.Transient(errors.New("eof"))
	if !content.IsRetryable(wrapped) {
		t.Error("Transient() error should be retryable")
	}
	if content.Transient(nil) != nil {
		t.Error("Transient(nil) should be nil")
	}
}
