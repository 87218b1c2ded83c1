// Package curriculum loads a course catalog from YAML files and seeds a
// content repository with it.
package curriculum

import (
	"cmp"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/p-n-ai/pai-courses/internal/content"
	"github.com/p-n-ai/pai-courses/internal/quiz"
)

// Seeder receives catalog content. content.MemoryRepository implements it.
type Seeder interface {
	PutCourse(c content.Course)
	PutModule(m content.Module)
	PutLesson(l content.Lesson, c content.LessonContent)
	PutEnrollment(e content.Enrollment)
}

// Loader loads and caches catalog courses from the filesystem.
type Loader struct {
	rootDir string
	courses map[string]Course
	bodies  map[string]json.RawMessage // lesson id -> content body
	mu      sync.RWMutex
}

// NewLoader creates a loader and loads every course under rootDir. Files
// that fail to parse or validate are skipped with a warning; a course id
// defined twice is an error.
func NewLoader(rootDir string) (*Loader, error) {
	l := &Loader{
		rootDir: rootDir,
		courses: make(map[string]Course),
		bodies:  make(map[string]json.RawMessage),
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading catalog: %w", err)
	}

	slog.Info("catalog loaded", "courses", len(l.courses), "lessons", len(l.bodies))
	return l, nil
}

// GetCourse returns a course by ID.
func (l *Loader) GetCourse(id string) (Course, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.courses[id]
	return c, ok
}

// AllCourses returns all loaded courses ordered by id.
func (l *Loader) AllCourses() []Course {
	l.mu.RLock()
	defer l.mu.RUnlock()
	courses := make([]Course, 0, len(l.courses))
	for _, c := range l.courses {
		courses = append(courses, c)
	}
	slices.SortFunc(courses, func(a, b Course) int { return cmp.Compare(a.ID, b.ID) })
	return courses
}

// Seed writes every course into s.
func (l *Loader) Seed(s Seeder) {
	for _, c := range l.AllCourses() {
		s.PutCourse(content.Course{
			ID:          c.ID,
			Title:       c.Title,
			Status:      content.CourseStatus(c.Status),
			AuthorID:    c.AuthorID,
			Description: c.Description,
			Metadata:    c.Metadata,
		})

		for _, m := range c.Modules {
			s.PutModule(content.Module{ID: m.ID, CourseID: c.ID, Title: m.Title, OrderIndex: m.OrderIndex})
			for _, lesson := range m.Lessons {
				lc := content.LessonContent{CourseID: c.ID, Body: l.body(lesson.ID)}
				if lesson.Quiz != nil {
					lc.Quiz = &content.QuizContent{
						Questions:    lesson.Quiz.Questions,
						PassingScore: lesson.Quiz.PassingScore,
					}
				}
				s.PutLesson(content.Lesson{
					ID:         lesson.ID,
					ModuleID:   m.ID,
					Title:      lesson.Title,
					Type:       content.LessonType(lesson.Type),
					OrderIndex: lesson.OrderIndex,
				}, lc)
			}
		}

		for _, e := range c.Enrollments {
			s.PutEnrollment(content.Enrollment{
				ID:       e.ID,
				UserID:   e.UserID,
				CourseID: c.ID,
				Progress: e.Progress,
				Status:   e.Status,
			})
		}
	}
}

func (l *Loader) body(lessonID string) json.RawMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.bodies[lessonID]
}

func (l *Loader) loadAll() error {
	return filepath.WalkDir(l.rootDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			return l.loadCourse(path)
		}
		return nil
	})
}

func (l *Loader) loadCourse(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		slog.Warn("skipping invalid course YAML", "path", path, "error", err)
		return nil
	}
	if m, ok := doc.(map[string]any); !ok || m["id"] == nil || m["modules"] == nil {
		return nil // Not a course file
	}
	if err := validateDocument(doc); err != nil {
		slog.Warn("skipping course that fails validation", "path", path, "error", err)
		return nil
	}

	var course Course
	if err := yaml.Unmarshal(data, &course); err != nil {
		slog.Warn("skipping invalid course YAML", "path", path, "error", err)
		return nil
	}
	if course.Status == "" {
		course.Status = string(content.CourseDraft)
	}

	bodies, err := l.prepare(&course, filepath.Dir(path))
	if err != nil {
		slog.Warn("skipping course with invalid content", "path", path, "course_id", course.ID, "error", err)
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.courses[course.ID]; dup {
		return fmt.Errorf("course %s defined twice (%s)", course.ID, path)
	}
	l.courses[course.ID] = course
	for id, b := range bodies {
		l.bodies[id] = b
	}
	return nil
}

// prepare fills default order indexes, reads body files and checks quizzes.
func (l *Loader) prepare(c *Course, dir string) (map[string]json.RawMessage, error) {
	bodies := make(map[string]json.RawMessage)
	for i := range c.Modules {
		m := &c.Modules[i]
		if m.OrderIndex == 0 {
			m.OrderIndex = i + 1
		}
		for j := range m.Lessons {
			lesson := &m.Lessons[j]
			if lesson.OrderIndex == 0 {
				lesson.OrderIndex = j + 1
			}
			if _, dup := bodies[lesson.ID]; dup {
				return nil, fmt.Errorf("lesson %s defined twice", lesson.ID)
			}

			body, err := lessonBody(lesson, dir)
			if err != nil {
				return nil, err
			}
			bodies[lesson.ID] = body

			if lesson.Quiz != nil {
				if err := checkQuiz(lesson.ID, lesson.Quiz.Questions); err != nil {
					return nil, err
				}
			}
		}
	}
	return bodies, nil
}

func lessonBody(lesson *Lesson, dir string) (json.RawMessage, error) {
	if lesson.BodyFile != "" {
		data, err := os.ReadFile(filepath.Join(dir, lesson.BodyFile))
		if err != nil {
			return nil, fmt.Errorf("read body of lesson %s: %w", lesson.ID, err)
		}
		return json.Marshal(map[string]string{"markdown": string(data)})
	}
	if lesson.Body == nil {
		return nil, nil
	}
	body, err := json.Marshal(lesson.Body)
	if err != nil {
		return nil, fmt.Errorf("encode body of lesson %s: %w", lesson.ID, err)
	}
	return body, nil
}

func checkQuiz(lessonID string, questions []quiz.Question) error {
	for _, q := range questions {
		if q.Kind == quiz.Single && len(q.Correct) != 1 {
			return fmt.Errorf("lesson %s question %s: single choice needs exactly one correct option", lessonID, q.ID)
		}
		for _, id := range q.Correct {
			if !slices.ContainsFunc(q.Options, func(o quiz.Option) bool { return o.ID == id }) {
				return fmt.Errorf("lesson %s question %s: correct option %s is not an option", lessonID, q.ID, id)
			}
		}
	}
	return nil
}
