// Package content defines the course hierarchy and the repository that reads
// and writes it against the remote data service.
package content

import "context"

// Repository is the remote data service seen by the loading engine.
// Implementations perform no local caching.
type Repository interface {
	// FetchCourseBasicInfo returns the course without its modules.
	FetchCourseBasicInfo(ctx context.Context, courseID string) (Course, error)
	// FetchModules returns the course modules ordered by OrderIndex, with
	// lesson references but no lesson metadata.
	FetchModules(ctx context.Context, courseID string) ([]Module, error)
	// FetchLessonsBatch returns lesson metadata (no content) for each module id.
	FetchLessonsBatch(ctx context.Context, moduleIDs []string) (map[string][]Lesson, error)
	FetchLessonContent(ctx context.Context, lessonID string) (LessonContent, error)
	FetchEnrollment(ctx context.Context, courseID, userID string) (Enrollment, error)
	FetchCompletionMap(ctx context.Context, courseID, userID string) (map[string]bool, error)
	// UpsertCompletion is idempotent by (UserID, LessonID).
	UpsertCompletion(ctx context.Context, rec CompletionRecord) error
	DeleteCompletion(ctx context.Context, lessonID, userID string) error
}
