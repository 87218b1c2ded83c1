package content_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/p-n-ai/pai-courses/internal/content"
)

func seed(t *testing.T) *content.MemoryRepository {
	t.Helper()
	repo := content.NewMemoryRepository()
	repo.PutCourse(content.Course{ID: "c1", Title: "Algebra", Status: content.CoursePublished})
	repo.PutModule(content.Module{ID: "m2", CourseID: "c1", Title: "Equations", OrderIndex: 2})
	repo.PutModule(content.Module{ID: "m1", CourseID: "c1", Title: "Numbers", OrderIndex: 1})
	repo.PutLesson(content.Lesson{ID: "l2", ModuleID: "m1", Title: "Fractions", Type: content.LessonText, OrderIndex: 2},
		content.LessonContent{Body: []byte(`{"markdown":"1/2"}`)})
	repo.PutLesson(content.Lesson{ID: "l1", ModuleID: "m1", Title: "Integers", Type: content.LessonVideo, OrderIndex: 1},
		content.LessonContent{Body: []byte(`{"url":"https://example.com/v.mp4"}`)})
	repo.PutLesson(content.Lesson{ID: "l3", ModuleID: "m2", Title: "Linear", Type: content.LessonQuiz, OrderIndex: 1},
		content.LessonContent{})
	repo.PutEnrollment(content.Enrollment{UserID: "u1", CourseID: "c1", Progress: 10, Status: "active"})
	return repo
}

func TestMemoryRepository_FetchModules(t *testing.T) {
	repo := seed(t)
	ctx := context.Background()

	modules, err := repo.FetchModules(ctx, "c1")
	if err != nil {
		t.Fatalf("FetchModules() error = %v", err)
	}
	if len(modules) != 2 || modules[0].ID != "m1" || modules[1].ID != "m2" {
		t.Fatalf("FetchModules() order = %+v, want m1, m2", modules)
	}
	if !slices.Equal(modules[0].LessonIDs, []string{"l1", "l2"}) {
		t.Errorf("m1 LessonIDs = %v, want [l1 l2]", modules[0].LessonIDs)
	}
	if modules[0].Lessons != nil {
		t.Error("FetchModules() must not carry lesson metadata")
	}

	if _, err := repo.FetchModules(ctx, "missing"); !errors.Is(err, content.ErrNotFound) {
		t.Errorf("FetchModules(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryRepository_FetchLessonsBatch(t *testing.T) {
	repo := seed(t)

	got, err := repo.FetchLessonsBatch(context.Background(), []string{"m1", "m2", "empty"})
	if err != nil {
		t.Fatalf("FetchLessonsBatch() error = %v", err)
	}
	if len(got["m1"]) != 2 || got["m1"][0].ID != "l1" {
		t.Errorf("m1 lessons = %+v", got["m1"])
	}
	if len(got["empty"]) != 0 {
		t.Errorf("empty module lessons = %+v", got["empty"])
	}
	for _, l := range got["m1"] {
		if l.Content != nil || l.State != content.NotLoaded {
			t.Errorf("lesson %s should be metadata only", l.ID)
		}
	}
	if repo.Calls(content.OpFetchLessonsBatch) != 1 {
		t.Errorf("batch calls = %d, want 1", repo.Calls(content.OpFetchLessonsBatch))
	}
}

func TestMemoryRepository_FetchLessonContent(t *testing.T) {
	repo := seed(t)

	c, err := repo.FetchLessonContent(context.Background(), "l2")
	if err != nil {
		t.Fatalf("FetchLessonContent() error = %v", err)
	}
	if c.CourseID != "c1" || c.ModuleID != "m1" || c.Type != content.LessonText {
		t.Errorf("content = %+v", c)
	}
	if string(c.Body) != `{"markdown":"1/2"}` {
		t.Errorf("Body = %s", c.Body)
	}

	if _, err := repo.FetchLessonContent(context.Background(), "nope"); !errors.Is(err, content.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestMemoryRepository_Enrollment(t *testing.T) {
	repo := seed(t)
	ctx := context.Background()

	e, err := repo.FetchEnrollment(ctx, "c1", "u1")
	if err != nil {
		t.Fatalf("FetchEnrollment() error = %v", err)
	}
	if e.ID == "" || e.Progress != 10 {
		t.Errorf("enrollment = %+v", e)
	}
	if _, err := repo.FetchEnrollment(ctx, "c1", "u2"); !errors.Is(err, content.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestMemoryRepository_UpsertCompletion(t *testing.T) {
	repo := seed(t)
	ctx := context.Background()
	score := 80

	rec := content.CompletionRecord{UserID: "u1", LessonID: "l1", CourseID: "c1", Score: &score}
	if err := repo.UpsertCompletion(ctx, rec); err != nil {
		t.Fatalf("UpsertCompletion() error = %v", err)
	}
	first := repo.Completions("u1")[0].ID

	score2 := 95
	rec.Score = &score2
	if err := repo.UpsertCompletion(ctx, rec); err != nil {
		t.Fatalf("UpsertCompletion() error = %v", err)
	}

	recs := repo.Completions("u1")
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].ID != first {
		t.Errorf("record id changed from %s to %s", first, recs[0].ID)
	}
	if *recs[0].Score != 95 {
		t.Errorf("Score = %d, want 95", *recs[0].Score)
	}

	m, _ := repo.FetchCompletionMap(ctx, "c1", "u1")
	if !m["l1"] || len(m) != 1 {
		t.Errorf("completion map = %v", m)
	}

	if err := repo.DeleteCompletion(ctx, "l1", "u1"); err != nil {
		t.Fatalf("DeleteCompletion() error = %v", err)
	}
	if len(repo.Completions("u1")) != 0 {
		t.Error("record should be deleted")
	}
}

func TestMemoryRepository_UpsertCompletion_Validation(t *testing.T) {
	repo := seed(t)
	bad := 101

	tests := []struct {
		name string
		rec  content.CompletionRecord
	}{
		{"missing user", content.CompletionRecord{LessonID: "l1", CourseID: "c1"}},
		{"missing lesson", content.CompletionRecord{UserID: "u1", CourseID: "c1"}},
		{"missing course", content.CompletionRecord{UserID: "u1", LessonID: "l1"}},
		{"score out of range", content.CompletionRecord{UserID: "u1", LessonID: "l1", CourseID: "c1", Score: &bad}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.UpsertCompletion(context.Background(), tt.rec)
			if !errors.Is(err, content.ErrValidation) {
				t.Errorf("error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestMemoryRepository_FailNext(t *testing.T) {
	repo := seed(t)
	ctx := context.Background()
	repo.FailNext(content.OpFetchCourseBasicInfo, content.ErrUnauthorized)

	if _, err := repo.FetchCourseBasicInfo(ctx, "c1"); !errors.Is(err, content.ErrUnauthorized) {
		t.Fatalf("first call error = %v, want ErrUnauthorized", err)
	}
	if _, err := repo.FetchCourseBasicInfo(ctx, "c1"); err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if got := repo.Calls(content.OpFetchCourseBasicInfo); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestMemoryRepository_CancelledContext(t *testing.T) {
	repo := seed(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := repo.FetchCourseBasicInfo(ctx, "c1"); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
