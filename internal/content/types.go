package content

import (
	"encoding/json"
	"time"

	"github.com/p-n-ai/pai-courses/internal/quiz"
)

// CourseStatus is the publication state of a course.
type CourseStatus string

const (
	CourseDraft     CourseStatus = "draft"
	CoursePublished CourseStatus = "published"
	CourseArchived  CourseStatus = "archived"
)

// Valid reports whether s is a known course status.
func (s CourseStatus) Valid() bool {
	switch s {
	case CourseDraft, CoursePublished, CourseArchived:
		return true
	}
	return false
}

// LessonType names the renderer a lesson needs. Unknown types are carried through unchanged.
type LessonType string

const (
	LessonText       LessonType = "text"
	LessonVideo      LessonType = "video"
	LessonQuiz       LessonType = "quiz"
	LessonResource   LessonType = "resource"
	LessonAssignment LessonType = "assignment"
	LessonDragSort   LessonType = "drag_sort"
	LessonHotspot    LessonType = "hotspot"
	LessonFrame      LessonType = "frame"
)

// ContentState tracks how much of a lesson has been fetched.
type ContentState int

const (
	NotLoaded ContentState = iota
	Loading
	Loaded
)

func (s ContentState) String() string {
	switch s {
	case NotLoaded:
		return "not_loaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state by name.
func (s ContentState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the names produced by MarshalJSON.
func (s *ContentState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "loading":
		*s = Loading
	case "loaded":
		*s = Loaded
	default:
		*s = NotLoaded
	}
	return nil
}

// Course is the top of the content hierarchy.
type Course struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Status      CourseStatus      `json:"status"`
	AuthorID    string            `json:"author_id"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Module is an ordered group of lessons within a course.
// LessonIDs holds the ordered lesson references; Lessons is only filled
// for modules that were loaded in detail.
type Module struct {
	ID         string   `json:"id"`
	CourseID   string   `json:"course_id"`
	Title      string   `json:"title"`
	OrderIndex int      `json:"order_index"`
	LessonIDs  []string `json:"lesson_ids"`
	Lessons    []Lesson `json:"lessons,omitempty"`
}

// Lesson is a single unit of learning. Content is nil until State is Loaded.
type Lesson struct {
	ID         string         `json:"id"`
	ModuleID   string         `json:"module_id"`
	Title      string         `json:"title"`
	Type       LessonType     `json:"type"`
	OrderIndex int            `json:"order_index"`
	State      ContentState   `json:"state"`
	Content    *LessonContent `json:"content,omitempty"`
}

// LessonContent is the full payload of a lesson, fetched on demand.
type LessonContent struct {
	LessonID string          `json:"lesson_id"`
	ModuleID string          `json:"module_id"`
	CourseID string          `json:"course_id"`
	Type     LessonType      `json:"type"`
	Body     json.RawMessage `json:"body,omitempty"`
	Quiz     *QuizContent    `json:"quiz,omitempty"`
}

// QuizContent carries the questions of a quiz lesson.
type QuizContent struct {
	Questions    []quiz.Question `json:"questions"`
	PassingScore int             `json:"passing_score,omitempty"`
}

// Enrollment links a user to a course.
type Enrollment struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	CourseID string `json:"course_id"`
	Progress int    `json:"progress"`
	Status   string `json:"status"`
}

// CompletionRecord marks a lesson as finished by a user. There is at most
// one record per (UserID, LessonID).
type CompletionRecord struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	LessonID     string          `json:"lesson_id"`
	CourseID     string          `json:"course_id"`
	EnrollmentID string          `json:"enrollment_id"`
	CompletedAt  time.Time       `json:"completed_at"`
	Score        *int            `json:"score,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// Validate checks the fields an upsert needs.
func (r CompletionRecord) Validate() error {
	switch {
	case r.UserID == "":
		return validationf("completion user_id is required")
	case r.LessonID == "":
		return validationf("completion lesson_id is required")
	case r.CourseID == "":
		return validationf("completion course_id is required")
	}
	if r.Score != nil && (*r.Score < 0 || *r.Score > 100) {
		return validationf("completion score %d out of range 0-100", *r.Score)
	}
	return nil
}
