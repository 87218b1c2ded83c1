// Package httpapi exposes learning.Service over JSON HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-courses/internal/auth"
	"github.com/p-n-ai/pai-courses/internal/completion"
	"github.com/p-n-ai/pai-courses/internal/content"
	"github.com/p-n-ai/pai-courses/internal/learning"
	"github.com/p-n-ai/pai-courses/internal/planner"
	"github.com/p-n-ai/pai-courses/internal/quiz"
)

const (
	defaultUserHeader = "X-User-ID"
	requestIDHeader   = "X-Request-ID"
	maxBodyBytes      = 1 << 20
)

// Option configures a Handler.
type Option func(*Handler)

// WithUserHeader sets the header an upstream gateway uses for the user id.
func WithUserHeader(name string) Option {
	return func(h *Handler) {
		if name != "" {
			h.userHeader = name
		}
	}
}

// WithLogger sets the logger for request failures.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// Handler serves the course API.
type Handler struct {
	svc        *learning.Service
	userHeader string
	log        *slog.Logger
}

// New creates a Handler over svc.
func New(svc *learning.Service, opts ...Option) *Handler {
	h := &Handler{
		svc:        svc,
		userHeader: defaultUserHeader,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds the API routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /v1/courses/{courseID}", h.wrap(h.getCourse))
	mux.Handle("POST /v1/courses/{courseID}/refresh", h.wrap(h.refreshCourse))
	mux.Handle("GET /v1/courses/{courseID}/completions/ws", h.wrap(h.completionFeed))
	mux.Handle("GET /v1/lessons/{lessonID}/content", h.wrap(h.getLessonContent))
	mux.Handle("PUT /v1/lessons/{lessonID}/completion", h.wrap(h.markComplete))
	mux.Handle("DELETE /v1/lessons/{lessonID}/completion", h.wrap(h.unmarkComplete))
	mux.Handle("POST /v1/lessons/{lessonID}/quiz", h.wrap(h.submitQuiz))
}

// wrap attaches the caller's user id and a request id to the request context.
func (h *Handler) wrap(fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)

		ctx := auth.WithUser(r.Context(), r.Header.Get(h.userHeader))
		ctx = context.WithValue(ctx, requestIDKey{}, reqID)
		fn(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loadRequest(r *http.Request) learning.LoadRequest {
	q := r.URL.Query()
	return learning.LoadRequest{
		CourseID:      r.PathValue("courseID"),
		Mode:          planner.Mode(q.Get("mode")),
		FocusModuleID: q.Get("module"),
		FocusLessonID: q.Get("lesson"),
	}
}

func (h *Handler) getCourse(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.LoadCourse(r.Context(), loadRequest(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) refreshCourse(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Refresh(r.Context(), loadRequest(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) getLessonContent(w http.ResponseWriter, r *http.Request) {
	mode, err := planner.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	c, err := h.svc.LoadLessonContentFor(r.Context(), r.PathValue("lessonID"), mode)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type markBody struct {
	CourseID     string          `json:"course_id"`
	EnrollmentID string          `json:"enrollment_id"`
	Score        *int            `json:"score"`
	Result       json.RawMessage `json:"result"`
}

func (h *Handler) markComplete(w http.ResponseWriter, r *http.Request) {
	if !requireUser(r) {
		h.writeError(w, r, content.ErrUnauthorized)
		return
	}
	var body markBody
	if err := decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	err := h.svc.MarkLessonComplete(r.Context(), completion.MarkRequest{
		LessonID:     r.PathValue("lessonID"),
		CourseID:     body.CourseID,
		EnrollmentID: body.EnrollmentID,
		Score:        body.Score,
		Result:       body.Result,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) unmarkComplete(w http.ResponseWriter, r *http.Request) {
	if !requireUser(r) {
		h.writeError(w, r, content.ErrUnauthorized)
		return
	}
	err := h.svc.UnmarkLessonComplete(r.Context(), r.PathValue("lessonID"), r.URL.Query().Get("course_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type quizBody struct {
	Answers quiz.Answers `json:"answers"`
}

func (h *Handler) submitQuiz(w http.ResponseWriter, r *http.Request) {
	var body quizBody
	if err := decodeBody(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.svc.SubmitQuiz(r.Context(), r.PathValue("lessonID"), body.Answers)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func requireUser(r *http.Request) bool {
	_, ok := auth.FromContext(r.Context())
	return ok
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Join(content.ErrValidation, err)
	}
	return nil
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, content.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, content.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, content.ErrValidation),
		errors.Is(err, planner.ErrUnknownMode),
		errors.Is(err, quiz.ErrIncompleteSubmission),
		errors.Is(err, quiz.ErrUnknownQuestion),
		errors.Is(err, quiz.ErrTooManySelections):
		return http.StatusUnprocessableEntity
	case errors.Is(err, content.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestID(r.Context()),
			"status", status,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}
