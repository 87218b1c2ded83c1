package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// PostgresRepository is a PostgreSQL-backed Repository. Metadata reads
// select only the columns they need; lesson bodies are read one lesson at a time.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repository over pool.
func NewPostgresRepository(pool *pgxpool.Pool) (*PostgresRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) FetchCourseBasicInfo(ctx context.Context, courseID string) (Course, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var c Course
	var status string
	var description *string
	var metadata []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, status, author_id, description, metadata
		 FROM courses
		 WHERE id = $1`,
		courseID,
	).Scan(&c.ID, &c.Title, &status, &c.AuthorID, &description, &metadata)
	if err != nil {
		return Course{}, classifyPgError(fmt.Sprintf("course %s", courseID), err)
	}

	c.Status = CourseStatus(status)
	if description != nil {
		c.Description = *description
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return Course{}, fmt.Errorf("decode course metadata: %w", err)
		}
	}
	return c, nil
}

func (r *PostgresRepository) FetchModules(ctx context.Context, courseID string) ([]Module, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.course_id, m.title, m.order_index,
		        COALESCE(array_agg(l.id ORDER BY l.order_index, l.id) FILTER (WHERE l.id IS NOT NULL), '{}')
		 FROM modules m
		 LEFT JOIN lessons l ON l.module_id = m.id
		 WHERE m.course_id = $1
		 GROUP BY m.id
		 ORDER BY m.order_index ASC, m.id ASC`,
		courseID,
	)
	if err != nil {
		return nil, classifyPgError("query modules", err)
	}
	defer rows.Close()

	modules := []Module{}
	for rows.Next() {
		var m Module
		if err := rows.Scan(&m.ID, &m.CourseID, &m.Title, &m.OrderIndex, &m.LessonIDs); err != nil {
			return nil, fmt.Errorf("scan module: %w", err)
		}
		modules = append(modules, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError("iterate modules", err)
	}

	if len(modules) == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM courses WHERE id = $1)`,
			courseID,
		).Scan(&exists); err != nil {
			return nil, classifyPgError("check course", err)
		}
		if !exists {
			return nil, notFoundf("course %s", courseID)
		}
	}
	return modules, nil
}

func (r *PostgresRepository) FetchLessonsBatch(ctx context.Context, moduleIDs []string) (map[string][]Lesson, error) {
	out := make(map[string][]Lesson, len(moduleIDs))
	if len(moduleIDs) == 0 {
		return out, nil
	}
	for _, id := range moduleIDs {
		out[id] = []Lesson{}
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT id, module_id, title, type, order_index
		 FROM lessons
		 WHERE module_id = ANY($1)
		 ORDER BY module_id, order_index ASC, id ASC`,
		moduleIDs,
	)
	if err != nil {
		return nil, classifyPgError("query lessons", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l Lesson
		var lessonType string
		if err := rows.Scan(&l.ID, &l.ModuleID, &l.Title, &lessonType, &l.OrderIndex); err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		l.Type = LessonType(lessonType)
		out[l.ModuleID] = append(out[l.ModuleID], l)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError("iterate lessons", err)
	}
	return out, nil
}

func (r *PostgresRepository) FetchLessonContent(ctx context.Context, lessonID string) (LessonContent, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var c LessonContent
	var lessonType string
	var body, quizData []byte
	err := r.pool.QueryRow(ctx,
		`SELECT l.id, l.module_id, m.course_id, l.type, l.body, l.quiz
		 FROM lessons l
		 JOIN modules m ON m.id = l.module_id
		 WHERE l.id = $1`,
		lessonID,
	).Scan(&c.LessonID, &c.ModuleID, &c.CourseID, &lessonType, &body, &quizData)
	if err != nil {
		return LessonContent{}, classifyPgError(fmt.Sprintf("lesson %s", lessonID), err)
	}

	c.Type = LessonType(lessonType)
	if len(body) > 0 {
		c.Body = json.RawMessage(body)
	}
	if len(quizData) > 0 {
		var q QuizContent
		if err := json.Unmarshal(quizData, &q); err != nil {
			return LessonContent{}, fmt.Errorf("decode quiz for lesson %s: %w", lessonID, err)
		}
		c.Quiz = &q
	}
	return c, nil
}

func (r *PostgresRepository) FetchEnrollment(ctx context.Context, courseID, userID string) (Enrollment, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var e Enrollment
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, course_id, progress, status
		 FROM enrollments
		 WHERE course_id = $1 AND user_id = $2
		 LIMIT 1`,
		courseID,
		userID,
	).Scan(&e.ID, &e.UserID, &e.CourseID, &e.Progress, &e.Status)
	if err != nil {
		return Enrollment{}, classifyPgError(fmt.Sprintf("enrollment for user %s in course %s", userID, courseID), err)
	}
	return e, nil
}

func (r *PostgresRepository) FetchCompletionMap(ctx context.Context, courseID, userID string) (map[string]bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT lesson_id
		 FROM lesson_completions
		 WHERE course_id = $1 AND user_id = $2`,
		courseID,
		userID,
	)
	if err != nil {
		return nil, classifyPgError("query completions", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var lessonID string
		if err := rows.Scan(&lessonID); err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		out[lessonID] = true
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError("iterate completions", err)
	}
	return out, nil
}

func (r *PostgresRepository) UpsertCompletion(ctx context.Context, rec CompletionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	completedAt := rec.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	var result any
	if len(rec.Result) > 0 {
		result = string(rec.Result)
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO lesson_completions (id, user_id, lesson_id, course_id, enrollment_id, completed_at, score, result)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		 ON CONFLICT (user_id, lesson_id) DO UPDATE
		 SET course_id = EXCLUDED.course_id,
		     enrollment_id = EXCLUDED.enrollment_id,
		     completed_at = EXCLUDED.completed_at,
		     score = EXCLUDED.score,
		     result = EXCLUDED.result`,
		id,
		rec.UserID,
		rec.LessonID,
		rec.CourseID,
		nullIfEmpty(rec.EnrollmentID),
		completedAt,
		rec.Score,
		result,
	)
	if err != nil {
		return classifyPgError("upsert completion", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteCompletion(ctx context.Context, lessonID, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if _, err := r.pool.Exec(ctx,
		`DELETE FROM lesson_completions WHERE user_id = $1 AND lesson_id = $2`,
		userID,
		lessonID,
	); err != nil {
		return classifyPgError("delete completion", err)
	}
	return nil
}

// classifyPgError maps driver errors onto the repository error taxonomy.
func classifyPgError(what string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFoundf("%s", what)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "42501" || strings.HasPrefix(pgErr.Code, "28"):
			return fmt.Errorf("%s: %w: %w", what, ErrUnauthorized, err)
		case strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23"):
			return fmt.Errorf("%s: %w: %w", what, ErrValidation, err)
		case strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "40") ||
			strings.HasPrefix(pgErr.Code, "53") || strings.HasPrefix(pgErr.Code, "57P"):
			return fmt.Errorf("%s: %w", what, Transient(err))
		}
		return fmt.Errorf("%s: %w", what, err)
	}

	var netErr net.Error
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) || errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w", what, Transient(err))
	}
	return fmt.Errorf("%s: %w", what, classifyContextErr(err))
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
