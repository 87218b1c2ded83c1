// Package learning coordinates course loading for a learner: cached course
// and module reads, planned lesson metadata, on-demand lesson content,
// enrollment and completion state, and quiz submission.
package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/p-n-ai/pai-courses/internal/auth"
	"github.com/p-n-ai/pai-courses/internal/completion"
	"github.com/p-n-ai/pai-courses/internal/content"
	"github.com/p-n-ai/pai-courses/internal/planner"
	"github.com/p-n-ai/pai-courses/internal/quiz"
)

const tracerName = "github.com/p-n-ai/pai-courses/internal/learning"

// LoadRequest describes a navigation event. Mode defaults to learning.
type LoadRequest struct {
	CourseID      string
	Mode          planner.Mode
	FocusModuleID string
	FocusLessonID string
}

// CourseView is what LoadCourse returns. Modules are in course order;
// those listed in Planned carry their lesson metadata.
type CourseView struct {
	Course     content.Course      `json:"course"`
	Modules    []content.Module    `json:"modules"`
	Planned    []string            `json:"planned_module_ids"`
	Mode       planner.Mode        `json:"mode"`
	Enrollment *content.Enrollment `json:"enrollment"`
	Completed  map[string]bool     `json:"completed"`
}

// Option configures a Service.
type Option func(*Service)

// WithUserSource replaces the default context-based user lookup.
func WithUserSource(u auth.UserSource) Option {
	return func(s *Service) { s.users = u }
}

// WithTracerProvider sets where spans go. The global provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(tracerName) }
}

// Service is the entry point used by transports.
type Service struct {
	repo    content.Repository
	caches  *Caches
	tracker *completion.Tracker
	users   auth.UserSource
	tracer  trace.Tracer

	mu      sync.Mutex
	loading map[string]int // lesson id -> content loads in flight
}

// NewService creates a Service. The tracker should write through the same repository.
func NewService(repo content.Repository, caches *Caches, tracker *completion.Tracker, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		caches:  caches,
		tracker: tracker,
		users:   auth.ContextSource{},
		tracer:  otel.Tracer(tracerName),
		loading: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadCourse loads a course for display. Course info, modules and the
// planned lesson batch load in that order; enrollment and completions load
// alongside them. A missing enrollment is not an error.
func (s *Service) LoadCourse(ctx context.Context, req LoadRequest) (view CourseView, err error) {
	ctx, span := s.tracer.Start(ctx, "learning.LoadCourse", trace.WithAttributes(
		attribute.String("course.id", req.CourseID),
		attribute.String("learning.mode", string(req.Mode)),
	))
	defer func() { endSpan(span, err) }()

	mode, err := planner.ParseMode(string(req.Mode))
	if err != nil {
		return CourseView{}, fmt.Errorf("%w: %w", content.ErrValidation, err)
	}
	if req.CourseID == "" {
		return CourseView{}, fmt.Errorf("%w: course id is required", content.ErrValidation)
	}

	var (
		enrollment *content.Enrollment
		completed  map[string]bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e, err := s.enrollment(gctx, req.CourseID)
		enrollment = e
		return err
	})
	g.Go(func() error {
		m, err := s.tracker.Ensure(gctx, req.CourseID)
		completed = m
		return err
	})

	course, modules, planned, lessons, err := s.loadStructure(ctx, req, mode)
	if werr := g.Wait(); err == nil {
		err = werr
	}
	if err != nil {
		return CourseView{}, fmt.Errorf("load course %s: %w", req.CourseID, err)
	}

	course.Metadata = maps.Clone(course.Metadata)
	view = CourseView{
		Course:     course,
		Modules:    make([]content.Module, len(modules)),
		Planned:    []string{},
		Mode:       mode,
		Enrollment: enrollment,
		Completed:  completed,
	}
	for i, m := range modules {
		m.LessonIDs = slices.Clone(m.LessonIDs)
		m.Lessons = nil
		if planned.Has(m.ID) {
			m.Lessons = s.decorate(lessons[m.ID])
			view.Planned = append(view.Planned, m.ID)
		}
		view.Modules[i] = m
	}
	span.SetAttributes(attribute.Int("learning.planned_modules", len(view.Planned)))
	return view, nil
}

func (s *Service) loadStructure(ctx context.Context, req LoadRequest, mode planner.Mode) (content.Course, []content.Module, planner.Set, map[string][]content.Lesson, error) {
	course, err := s.caches.Course.Get(ctx, req.CourseID, func(ctx context.Context) (content.Course, error) {
		return s.repo.FetchCourseBasicInfo(ctx, req.CourseID)
	})
	if err != nil {
		return content.Course{}, nil, nil, nil, err
	}

	modules, err := s.caches.Modules.Get(ctx, req.CourseID, func(ctx context.Context) ([]content.Module, error) {
		return s.repo.FetchModules(ctx, req.CourseID)
	})
	if err != nil {
		return content.Course{}, nil, nil, nil, err
	}

	summaries := make([]planner.ModuleSummary, len(modules))
	for i, m := range modules {
		summaries[i] = planner.ModuleSummary{ID: m.ID, LessonIDs: m.LessonIDs}
	}
	planned := planner.Plan(summaries, mode, planner.Focus{ModuleID: req.FocusModuleID, LessonID: req.FocusLessonID})

	ids := make([]string, 0, len(planned))
	for _, m := range modules {
		if planned.Has(m.ID) {
			ids = append(ids, m.ID)
		}
	}
	lessons := map[string][]content.Lesson{}
	if len(ids) > 0 {
		lessons, err = s.caches.Lessons.GetMany(ctx, ids, s.repo.FetchLessonsBatch)
		if err != nil {
			return content.Course{}, nil, nil, nil, err
		}
	}
	return course, modules, planned, lessons, nil
}

// LoadLessonContent returns the full content of a lesson for learning.
func (s *Service) LoadLessonContent(ctx context.Context, lessonID string) (content.LessonContent, error) {
	return s.LoadLessonContentFor(ctx, lessonID, planner.Learning)
}

// LoadLessonContentFor returns the full content of a lesson. Editing reads
// use a shorter-lived cache so authors see their changes sooner.
func (s *Service) LoadLessonContentFor(ctx context.Context, lessonID string, mode planner.Mode) (c content.LessonContent, err error) {
	ctx, span := s.tracer.Start(ctx, "learning.LoadLessonContent", trace.WithAttributes(
		attribute.String("lesson.id", lessonID),
		attribute.String("learning.mode", string(mode)),
	))
	defer func() { endSpan(span, err) }()

	if mode == "" {
		mode = planner.Learning
	}
	contents := s.caches.LessonContent
	if mode == planner.Editing {
		contents = s.caches.EditingContent
	}

	s.beginLoading(lessonID)
	defer s.endLoading(lessonID)
	c, err = contents.Get(ctx, lessonID, func(ctx context.Context) (content.LessonContent, error) {
		return s.repo.FetchLessonContent(ctx, lessonID)
	})
	if err != nil {
		return content.LessonContent{}, fmt.Errorf("load lesson %s: %w", lessonID, err)
	}
	return c, nil
}

// Refresh drops every cached entry of the course, including the completion
// map, and loads it again.
func (s *Service) Refresh(ctx context.Context, req LoadRequest) (view CourseView, err error) {
	ctx, span := s.tracer.Start(ctx, "learning.Refresh", trace.WithAttributes(
		attribute.String("course.id", req.CourseID),
	))
	defer func() { endSpan(span, err) }()

	s.invalidateCourse(ctx, req.CourseID)
	return s.LoadCourse(ctx, req)
}

// MarkLessonComplete records a completion through the tracker.
func (s *Service) MarkLessonComplete(ctx context.Context, req completion.MarkRequest) (err error) {
	ctx, span := s.tracer.Start(ctx, "learning.MarkLessonComplete", trace.WithAttributes(
		attribute.String("course.id", req.CourseID),
		attribute.String("lesson.id", req.LessonID),
	))
	defer func() { endSpan(span, err) }()

	if req.LessonID == "" || req.CourseID == "" {
		return fmt.Errorf("%w: lesson id and course id are required", content.ErrValidation)
	}
	if err := s.tracker.MarkComplete(ctx, req); err != nil {
		return err
	}
	s.invalidateEnrollment(ctx, req.CourseID)
	return nil
}

// UnmarkLessonComplete clears a completion through the tracker.
func (s *Service) UnmarkLessonComplete(ctx context.Context, lessonID, courseID string) (err error) {
	ctx, span := s.tracer.Start(ctx, "learning.UnmarkLessonComplete", trace.WithAttributes(
		attribute.String("course.id", courseID),
		attribute.String("lesson.id", lessonID),
	))
	defer func() { endSpan(span, err) }()

	if lessonID == "" || courseID == "" {
		return fmt.Errorf("%w: lesson id and course id are required", content.ErrValidation)
	}
	if err := s.tracker.UnmarkComplete(ctx, lessonID, courseID); err != nil {
		return err
	}
	s.invalidateEnrollment(ctx, courseID)
	return nil
}

// SubmitQuiz grades answers for a quiz lesson and records the completion
// with the score and the graded result.
func (s *Service) SubmitQuiz(ctx context.Context, lessonID string, answers quiz.Answers) (result quiz.Result, err error) {
	ctx, span := s.tracer.Start(ctx, "learning.SubmitQuiz", trace.WithAttributes(
		attribute.String("lesson.id", lessonID),
	))
	defer func() { endSpan(span, err) }()

	lc, err := s.LoadLessonContent(ctx, lessonID)
	if err != nil {
		return quiz.Result{}, err
	}
	if lc.Quiz == nil {
		return quiz.Result{}, fmt.Errorf("%w: lesson %s is not a quiz", content.ErrValidation, lessonID)
	}
	if err := quiz.Validate(lc.Quiz.Questions, answers); err != nil {
		return quiz.Result{}, fmt.Errorf("submit quiz %s: %w", lessonID, err)
	}

	result = quiz.Score(lc.Quiz.Questions, answers)
	span.SetAttributes(attribute.Int("quiz.score", result.Score))

	payload, err := json.Marshal(result)
	if err != nil {
		return quiz.Result{}, fmt.Errorf("encode quiz result: %w", err)
	}
	var enrollmentID string
	if e, err := s.enrollment(ctx, lc.CourseID); err != nil {
		return quiz.Result{}, err
	} else if e != nil {
		enrollmentID = e.ID
	}

	score := result.Score
	if err := s.MarkLessonComplete(ctx, completion.MarkRequest{
		LessonID:     lessonID,
		CourseID:     lc.CourseID,
		EnrollmentID: enrollmentID,
		Score:        &score,
		Result:       payload,
	}); err != nil {
		return quiz.Result{}, err
	}
	return result, nil
}

// Subscribe exposes the tracker's change feed for the caller's course map.
func (s *Service) Subscribe(ctx context.Context, courseID string) (<-chan completion.Change, func()) {
	return s.tracker.Subscribe(ctx, courseID)
}

// LessonState reports the content state of a lesson. A lesson is Loaded
// while either content cache holds it, so eviction resets it to NotLoaded.
func (s *Service) LessonState(lessonID string) content.ContentState {
	if _, ok := s.cachedContent(lessonID); ok {
		return content.Loaded
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading[lessonID] > 0 {
		return content.Loading
	}
	return content.NotLoaded
}

func (s *Service) enrollment(ctx context.Context, courseID string) (*content.Enrollment, error) {
	user, ok := s.users.CurrentUser(ctx)
	if !ok {
		return nil, nil
	}
	e, err := s.caches.Enrollment.Get(ctx, enrollmentKey(courseID, user), func(ctx context.Context) (content.Enrollment, error) {
		return s.repo.FetchEnrollment(ctx, courseID, user)
	})
	if errors.Is(err, content.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	return &e, nil
}

func (s *Service) invalidateEnrollment(ctx context.Context, courseID string) {
	if user, ok := s.users.CurrentUser(ctx); ok {
		s.caches.Enrollment.Invalidate(ctx, enrollmentKey(courseID, user))
	}
}

func (s *Service) invalidateCourse(ctx context.Context, courseID string) {
	var moduleIDs, lessonIDs []string
	if e, ok := s.caches.Modules.Peek(courseID); ok {
		for _, m := range e.Value {
			moduleIDs = append(moduleIDs, m.ID)
			lessonIDs = append(lessonIDs, m.LessonIDs...)
		}
	}

	s.caches.Course.Invalidate(ctx, courseID)
	s.caches.Modules.Invalidate(ctx, courseID)
	s.caches.Lessons.Invalidate(ctx, moduleIDs...)
	s.caches.LessonContent.Invalidate(ctx, lessonIDs...)
	s.caches.EditingContent.Invalidate(ctx, lessonIDs...)
	s.invalidateEnrollment(ctx, courseID)
	s.caches.Enrollment.InvalidatePrefix(ctx, enrollmentKey(courseID, ""))
	s.tracker.Evict(courseID)
}

// decorate copies lessons, attaching content state and any cached content.
func (s *Service) decorate(lessons []content.Lesson) []content.Lesson {
	out := make([]content.Lesson, len(lessons))
	for i, l := range lessons {
		l.Content = nil
		if c, ok := s.cachedContent(l.ID); ok {
			l.State = content.Loaded
			l.Content = &c
		} else {
			l.State = s.LessonState(l.ID)
		}
		out[i] = l
	}
	return out
}

func (s *Service) cachedContent(lessonID string) (content.LessonContent, bool) {
	if e, ok := s.caches.LessonContent.Peek(lessonID); ok {
		return e.Value, true
	}
	if e, ok := s.caches.EditingContent.Peek(lessonID); ok {
		return e.Value, true
	}
	return content.LessonContent{}, false
}

func (s *Service) beginLoading(lessonID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading[lessonID]++
}

func (s *Service) endLoading(lessonID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading[lessonID]--; s.loading[lessonID] <= 0 {
		delete(s.loading, lessonID)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
