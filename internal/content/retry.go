package content

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultRetryDelay  = 200 * time.Millisecond
	defaultCallTimeout = 10 * time.Second
)

// RetryConfig bounds how RetryingRepository retries transient failures.
type RetryConfig struct {
	Retries     int           // extra attempts after the first; 0 or less disables retrying
	Delay       time.Duration // constant delay between attempts (default 200ms)
	CallTimeout time.Duration // per-attempt timeout (default 10s)
}

// RetryingRepository wraps a Repository, giving every call a timeout and
// retrying failures classified as ErrTransient. Other errors are returned
// after the first attempt.
type RetryingRepository struct {
	next    Repository
	retries int
	delay   time.Duration
	timeout time.Duration
}

var _ Repository = (*RetryingRepository)(nil)

// NewRetryingRepository wraps next with cfg. Zero durations use defaults.
// Retries is taken as given, so the zero value means a single attempt.
func NewRetryingRepository(next Repository, cfg RetryConfig) *RetryingRepository {
	r := &RetryingRepository{
		next:    next,
		retries: cfg.Retries,
		delay:   cfg.Delay,
		timeout: cfg.CallTimeout,
	}
	if r.retries < 0 {
		r.retries = 0
	}
	if r.delay <= 0 {
		r.delay = defaultRetryDelay
	}
	if r.timeout <= 0 {
		r.timeout = defaultCallTimeout
	}
	return r
}

func withRetry[T any](ctx context.Context, r *RetryingRepository, op string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.delay), uint64(r.retries)),
		ctx,
	)

	err := backoff.RetryNotify(func() error {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		v, err := fn(callCtx)
		if err != nil {
			err = classifyContextErr(err)
			if !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}, policy, func(err error, wait time.Duration) {
		slog.Warn("repository call failed, retrying", "op", op, "error", err, "wait", wait)
	})
	return out, err
}

func (r *RetryingRepository) FetchCourseBasicInfo(ctx context.Context, courseID string) (Course, error) {
	return withRetry(ctx, r, OpFetchCourseBasicInfo, func(ctx context.Context) (Course, error) {
		return r.next.FetchCourseBasicInfo(ctx, courseID)
	})
}

func (r *RetryingRepository) FetchModules(ctx context.Context, courseID string) ([]Module, error) {
	return withRetry(ctx, r, OpFetchModules, func(ctx context.Context) ([]Module, error) {
		return r.next.FetchModules(ctx, courseID)
	})
}

func (r *RetryingRepository) FetchLessonsBatch(ctx context.Context, moduleIDs []string) (map[string][]Lesson, error) {
	return withRetry(ctx, r, OpFetchLessonsBatch, func(ctx context.Context) (map[string][]Lesson, error) {
		return r.next.FetchLessonsBatch(ctx, moduleIDs)
	})
}

func (r *RetryingRepository) FetchLessonContent(ctx context.Context, lessonID string) (LessonContent, error) {
	return withRetry(ctx, r, OpFetchLessonContent, func(ctx context.Context) (LessonContent, error) {
		return r.next.FetchLessonContent(ctx, lessonID)
	})
}

func (r *RetryingRepository) FetchEnrollment(ctx context.Context, courseID, userID string) (Enrollment, error) {
	return withRetry(ctx, r, OpFetchEnrollment, func(ctx context.Context) (Enrollment, error) {
		return r.next.FetchEnrollment(ctx, courseID, userID)
	})
}

func (r *RetryingRepository) FetchCompletionMap(ctx context.Context, courseID, userID string) (map[string]bool, error) {
	return withRetry(ctx, r, OpFetchCompletionMap, func(ctx context.Context) (map[string]bool, error) {
		return r.next.FetchCompletionMap(ctx, courseID, userID)
	})
}

func (r *RetryingRepository) UpsertCompletion(ctx context.Context, rec CompletionRecord) error {
	_, err := withRetry(ctx, r, OpUpsertCompletion, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.next.UpsertCompletion(ctx, rec)
	})
	return err
}

func (r *RetryingRepository) DeleteCompletion(ctx context.Context, lessonID, userID string) error {
	_, err := withRetry(ctx, r, OpDeleteCompletion, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.next.DeleteCompletion(ctx, lessonID, userID)
	})
	return err
}
