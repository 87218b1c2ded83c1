package content

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Operation names used by MemoryRepository call accounting.
const (
	OpFetchCourseBasicInfo = "FetchCourseBasicInfo"
	OpFetchModules         = "FetchModules"
	OpFetchLessonsBatch    = "FetchLessonsBatch"
	OpFetchLessonContent   = "FetchLessonContent"
	OpFetchEnrollment      = "FetchEnrollment"
	OpFetchCompletionMap   = "FetchCompletionMap"
	OpUpsertCompletion     = "UpsertCompletion"
	OpDeleteCompletion     = "DeleteCompletion"
)

type storedLesson struct {
	meta    Lesson
	content LessonContent
}

// MemoryRepository is an in-memory Repository. It backs the memory content
// backend and doubles as the repository in tests: it counts calls per
// operation and can inject failures.
type MemoryRepository struct {
	mu          sync.RWMutex
	courses     map[string]Course
	modules     map[string]Module // module id -> module (LessonIDs derived)
	lessons     map[string]storedLesson
	enrollments map[string]Enrollment       // courseID:userID
	completions map[string]CompletionRecord // userID:lessonID

	calls    map[string]int
	failures map[string][]error
	hook     func(ctx context.Context, op string)
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		courses:     make(map[string]Course),
		modules:     make(map[string]Module),
		lessons:     make(map[string]storedLesson),
		enrollments: make(map[string]Enrollment),
		completions: make(map[string]CompletionRecord),
		calls:       make(map[string]int),
		failures:    make(map[string][]error),
	}
}

// PutCourse stores or replaces a course.
func (r *MemoryRepository) PutCourse(c Course) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.courses[c.ID] = c
}

// PutModule stores or replaces a module. Lessons on m are ignored; use PutLesson.
func (r *MemoryRepository) PutModule(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m.Lessons = nil
	m.LessonIDs = nil
	r.modules[m.ID] = m
}

// PutLesson stores a lesson and its full content.
func (r *MemoryRepository) PutLesson(l Lesson, c LessonContent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.State = NotLoaded
	l.Content = nil
	c.LessonID = l.ID
	c.ModuleID = l.ModuleID
	if c.Type == "" {
		c.Type = l.Type
	}
	if m, ok := r.modules[l.ModuleID]; ok && c.CourseID == "" {
		c.CourseID = m.CourseID
	}
	r.lessons[l.ID] = storedLesson{meta: l, content: c}
}

// PutEnrollment stores or replaces an enrollment.
func (r *MemoryRepository) PutEnrollment(e Enrollment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	r.enrollments[e.CourseID+":"+e.UserID] = e
}

// Calls returns how many times op has been invoked.
func (r *MemoryRepository) Calls(op string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.calls[op]
}

// FailNext queues errors returned by the next calls to op, in order.
func (r *MemoryRepository) FailNext(op string, errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[op] = append(r.failures[op], errs...)
}

// SetHook installs a function run at the start of every call, outside the
// repository lock. Tests use it to hold calls in flight.
func (r *MemoryRepository) SetHook(hook func(ctx context.Context, op string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = hook
}

// Completions returns all stored completion records for a user.
func (r *MemoryRepository) Completions(userID string) []CompletionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []CompletionRecord
	for _, rec := range r.completions {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b CompletionRecord) int {
		return cmp.Compare(a.LessonID, b.LessonID)
	})
	return out
}

func (r *MemoryRepository) begin(ctx context.Context, op string) error {
	r.mu.Lock()
	r.calls[op]++
	hook := r.hook
	var err error
	if queued := r.failures[op]; len(queued) > 0 {
		err = queued[0]
		r.failures[op] = queued[1:]
	}
	r.mu.Unlock()

	if hook != nil {
		hook(ctx, op)
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (r *MemoryRepository) FetchCourseBasicInfo(ctx context.Context, courseID string) (Course, error) {
	if err := r.begin(ctx, OpFetchCourseBasicInfo); err != nil {
		return Course{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.courses[courseID]
	if !ok {
		return Course{}, notFoundf("course %s", courseID)
	}
	return c, nil
}

func (r *MemoryRepository) FetchModules(ctx context.Context, courseID string) ([]Module, error) {
	if err := r.begin(ctx, OpFetchModules); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.courses[courseID]; !ok {
		return nil, notFoundf("course %s", courseID)
	}
	modules := []Module{}
	for _, m := range r.modules {
		if m.CourseID != courseID {
			continue
		}
		m.LessonIDs = r.lessonIDsLocked(m.ID)
		modules = append(modules, m)
	}
	slices.SortFunc(modules, func(a, b Module) int {
		if a.OrderIndex != b.OrderIndex {
			return a.OrderIndex - b.OrderIndex
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return modules, nil
}

func (r *MemoryRepository) FetchLessonsBatch(ctx context.Context, moduleIDs []string) (map[string][]Lesson, error) {
	if err := r.begin(ctx, OpFetchLessonsBatch); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]Lesson, len(moduleIDs))
	for _, id := range moduleIDs {
		out[id] = r.lessonsLocked(id)
	}
	return out, nil
}

func (r *MemoryRepository) FetchLessonContent(ctx context.Context, lessonID string) (LessonContent, error) {
	if err := r.begin(ctx, OpFetchLessonContent); err != nil {
		return LessonContent{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.lessons[lessonID]
	if !ok {
		return LessonContent{}, notFoundf("lesson %s", lessonID)
	}
	c := l.content
	c.Body = slices.Clone(c.Body)
	return c, nil
}

func (r *MemoryRepository) FetchEnrollment(ctx context.Context, courseID, userID string) (Enrollment, error) {
	if err := r.begin(ctx, OpFetchEnrollment); err != nil {
		return Enrollment{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.enrollments[courseID+":"+userID]
	if !ok {
		return Enrollment{}, notFoundf("enrollment for user %s in course %s", userID, courseID)
	}
	return e, nil
}

func (r *MemoryRepository) FetchCompletionMap(ctx context.Context, courseID, userID string) (map[string]bool, error) {
	if err := r.begin(ctx, OpFetchCompletionMap); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]bool)
	for _, rec := range r.completions {
		if rec.UserID == userID && rec.CourseID == courseID {
			out[rec.LessonID] = true
		}
	}
	return out, nil
}

func (r *MemoryRepository) UpsertCompletion(ctx context.Context, rec CompletionRecord) error {
	if err := r.begin(ctx, OpUpsertCompletion); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := rec.UserID + ":" + rec.LessonID
	if existing, ok := r.completions[key]; ok {
		rec.ID = existing.ID
	} else if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now()
	}
	rec.Result = slices.Clone(rec.Result)
	r.completions[key] = rec
	return nil
}

func (r *MemoryRepository) DeleteCompletion(ctx context.Context, lessonID, userID string) error {
	if err := r.begin(ctx, OpDeleteCompletion); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.completions, userID+":"+lessonID)
	return nil
}

func (r *MemoryRepository) lessonsLocked(moduleID string) []Lesson {
	lessons := []Lesson{}
	for _, l := range r.lessons {
		if l.meta.ModuleID == moduleID {
			lessons = append(lessons, l.meta)
		}
	}
	slices.SortFunc(lessons, func(a, b Lesson) int {
		if a.OrderIndex != b.OrderIndex {
			return a.OrderIndex - b.OrderIndex
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return lessons
}

func (r *MemoryRepository) lessonIDsLocked(moduleID string) []string {
	lessons := r.lessonsLocked(moduleID)
	ids := make([]string, len(lessons))
	for i, l := range lessons {
		ids[i] = l.ID
	}
	return ids
}
