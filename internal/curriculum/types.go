package curriculum

import "github.com/p-n-ai/pai-courses/internal/quiz"

// Course is one course file of the catalog.
type Course struct {
	ID          string            `yaml:"id"`
	Title       string            `yaml:"title"`
	Status      string            `yaml:"status"`
	AuthorID    string            `yaml:"author_id"`
	Description string            `yaml:"description"`
	Metadata    map[string]string `yaml:"metadata"`
	Modules     []Module          `yaml:"modules"`
	Enrollments []Enrollment      `yaml:"enrollments"`
}

// Module groups lessons. OrderIndex defaults to the position in the file.
type Module struct {
	ID         string   `yaml:"id"`
	Title      string   `yaml:"title"`
	OrderIndex int      `yaml:"order_index"`
	Lessons    []Lesson `yaml:"lessons"`
}

// Lesson carries its content inline (Body, Quiz) or in a markdown file
// next to the course file (BodyFile).
type Lesson struct {
	ID         string    `yaml:"id"`
	Title      string    `yaml:"title"`
	Type       string    `yaml:"type"`
	OrderIndex int       `yaml:"order_index"`
	Body       any       `yaml:"body"`
	BodyFile   string    `yaml:"body_file"`
	Quiz       *QuizSpec `yaml:"quiz"`
}

// QuizSpec is the quiz part of a lesson.
type QuizSpec struct {
	PassingScore int             `yaml:"passing_score"`
	Questions    []quiz.Question `yaml:"questions"`
}

// Enrollment seeds a learner into the course.
type Enrollment struct {
	ID       string `yaml:"id"`
	UserID   string `yaml:"user_id"`
	Progress int    `yaml:"progress"`
	Status   string `yaml:"status"`
}
