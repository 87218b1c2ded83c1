package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/p-n-ai/pai-courses/internal/content"
	"github.com/p-n-ai/pai-courses/internal/platform/config"
)

func TestHealthEndpoints(t *testing.T) {
	mux := newMux(nil)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "healthz returns 200",
			path:       "/healthz",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ok"}`,
		},
		{
			name:       "readyz returns 200",
			path:       "/readyz",
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ready"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()

			mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestReadyz_FailingCheck(t *testing.T) {
	mux := newMux(nil,
		readinessCheck{name: "database", ping: func(context.Context) error { return nil }},
		readinessCheck{name: "cache", ping: func(context.Context) error { return errors.New("connection refused") }},
	)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if want := `{"status":"unavailable","check":"cache"}`; rec.Body.String() != want {
		t.Errorf("body = %q, want %q", rec.Body.String(), want)
	}
}

func TestOpenRepository_MemoryCatalog(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "course.yaml"), []byte(`
id: geo-1
title: Geometry
status: published
modules:
  - id: angles
    title: Angles
    lessons:
      - id: angles-intro
        title: Intro
        type: text
        body:
          markdown: "An angle is formed by two rays."
`), 0o644)

	cfg := &config.Config{Content: config.ContentConfig{Backend: config.BackendMemory, CatalogPath: dir}}
	repo, closeRepo, ping, err := openRepository(t.Context(), cfg)
	if err != nil {
		t.Fatalf("openRepository() error = %v", err)
	}
	defer closeRepo()
	if ping != nil {
		t.Error("memory backend should have no readiness check")
	}

	course, err := repo.FetchCourseBasicInfo(t.Context(), "geo-1")
	if err != nil || course.Title != "Geometry" {
		t.Errorf("course = %+v, %v", course, err)
	}
}

func TestOpenRepository_MissingCatalog(t *testing.T) {
	cfg := &config.Config{Content: config.ContentConfig{Backend: config.BackendMemory, CatalogPath: filepath.Join(t.TempDir(), "missing")}}
	if _, _, _, err := openRepository(t.Context(), cfg); err == nil {
		t.Error("openRepository() should fail for a missing catalog directory")
	}
}

func TestNewRetryingRepository_FromEnv(t *testing.T) {
	tests := []struct {
		name      string
		retries   string
		wantErr   bool
		wantCalls int
	}{
		{"default retries once", "", false, 2},
		{"zero disables retrying", "0", true, 1},
		{"explicit budget", "2", false, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LEARN_REPOSITORY_RETRIES", tt.retries)
			t.Setenv("LEARN_REPOSITORY_RETRY_DELAY", "1ms")
			cfg, err := config.Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if err := cfg.Validate(); err != nil {
				t.Fatalf("Validate() error = %v", err)
			}

			mem := content.NewMemoryRepository()
			mem.PutCourse(content.Course{ID: "c1", Title: "Algebra", Status: content.CoursePublished})
			mem.FailNext(content.OpFetchCourseBasicInfo, content.Transient(errors.New("connection reset")))

			repo := newRetryingRepository(mem, cfg.Repository)
			_, err = repo.FetchCourseBasicInfo(t.Context(), "c1")
			if (err != nil) != tt.wantErr {
				t.Errorf("FetchCourseBasicInfo() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := mem.Calls(content.OpFetchCourseBasicInfo); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}
