package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

const migrationLockID int64 = 7_301_122

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS courses (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		status      TEXT NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'published', 'archived')),
		author_id   TEXT NOT NULL DEFAULT '',
		description TEXT,
		metadata    JSONB,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS modules (
		id          TEXT PRIMARY KEY,
		course_id   TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
		title       TEXT NOT NULL,
		order_index INT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS modules_course_idx ON modules (course_id, order_index)`,
	`CREATE TABLE IF NOT EXISTS lessons (
		id          TEXT PRIMARY KEY,
		module_id   TEXT NOT NULL REFERENCES modules(id) ON DELETE CASCADE,
		title       TEXT NOT NULL,
		type        TEXT NOT NULL,
		order_index INT NOT NULL DEFAULT 0,
		body        JSONB,
		quiz        JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS lessons_module_idx ON lessons (module_id, order_index)`,
	`CREATE TABLE IF NOT EXISTS enrollments (
		id        TEXT PRIMARY KEY,
		user_id   TEXT NOT NULL,
		course_id TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
		progress  INT NOT NULL DEFAULT 0 CHECK (progress BETWEEN 0 AND 100),
		status    TEXT NOT NULL DEFAULT 'active',
		UNIQUE (user_id, course_id)
	)`,
	`CREATE TABLE IF NOT EXISTS lesson_completions (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		lesson_id     TEXT NOT NULL REFERENCES lessons(id) ON DELETE CASCADE,
		course_id     TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
		enrollment_id TEXT REFERENCES enrollments(id) ON DELETE SET NULL,
		completed_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		score         INT CHECK (score BETWEEN 0 AND 100),
		result        JSONB,
		UNIQUE (user_id, lesson_id)
	)`,
	`CREATE INDEX IF NOT EXISTS lesson_completions_course_user_idx ON lesson_completions (course_id, user_id)`,
}

// Migrate creates the content schema if it does not exist.
func (db *DB) Migrate(ctx context.Context) error {
	err := db.InTx(ctx, func(tx pgx.Tx) error {
		// Replicas starting together apply the schema one at a time.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		for i, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply schema statement %d: %w", i+1, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	slog.Info("database schema ready", "statements", len(schema))
	return nil
}
