package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/p-n-ai/pai-courses/internal/cache"
	"github.com/p-n-ai/pai-courses/internal/completion"
	"github.com/p-n-ai/pai-courses/internal/content"
	"github.com/p-n-ai/pai-courses/internal/curriculum"
	"github.com/p-n-ai/pai-courses/internal/httpapi"
	"github.com/p-n-ai/pai-courses/internal/learning"
	platformcache "github.com/p-n-ai/pai-courses/internal/platform/cache"
	"github.com/p-n-ai/pai-courses/internal/platform/config"
	"github.com/p-n-ai/pai-courses/internal/platform/database"
	"github.com/p-n-ai/pai-courses/internal/platform/logging"
	"github.com/p-n-ai/pai-courses/internal/platform/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.Log)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	var checks []readinessCheck

	repo, closeRepo, dbCheck, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRepo()
	if dbCheck != nil {
		checks = append(checks, readinessCheck{name: "database", ping: dbCheck})
	}

	cacheOpts := []cache.Option{cache.WithLogger(slog.Default())}
	if cfg.Cache.Enabled {
		rc, err := platformcache.New(ctx, cfg.Cache)
		if err != nil {
			return fmt.Errorf("connect cache: %w", err)
		}
		defer rc.Close()
		cacheOpts = append(cacheOpts, cache.WithRemote(rc.Remote()))
		checks = append(checks, readinessCheck{name: "cache", ping: rc.HealthCheck})
	}

	retrying := newRetryingRepository(repo, cfg.Repository)
	caches := learning.NewCaches(cfg.Cache.Policies, cacheOpts...)
	defer caches.Wait()
	tracker := completion.NewTracker(retrying,
		completion.WithMaxAge(cfg.Cache.Policies[cache.ResourceCompletion].StaleAfter),
	)
	svc := learning.NewService(retrying, caches, tracker)
	api := httpapi.New(svc, httpapi.WithUserHeader(cfg.Server.UserHeader), httpapi.WithLogger(slog.Default()))

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(newMux(api, checks...), "pai-courses"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr, "backend", cfg.Content.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	return nil
}

// openRepository builds the configured content backend. The returned ping
// is nil when the backend has nothing to check.
func openRepository(ctx context.Context, cfg *config.Config) (content.Repository, func(), func(context.Context) error, error) {
	switch cfg.Content.Backend {
	case config.BackendPostgres:
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect database: %w", err)
		}
		if cfg.Database.Migrate {
			if err := db.Migrate(ctx); err != nil {
				db.Close()
				return nil, nil, nil, err
			}
		}
		repo, err := content.NewPostgresRepository(db.Pool)
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return repo, db.Close, db.HealthCheck, nil

	default:
		if _, err := os.Stat(cfg.Content.CatalogPath); err != nil {
			return nil, nil, nil, fmt.Errorf("open catalog: %w", err)
		}
		loader, err := curriculum.NewLoader(cfg.Content.CatalogPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load catalog: %w", err)
		}
		repo := content.NewMemoryRepository()
		loader.Seed(repo)
		return repo, func() {}, nil, nil
	}
}

func newRetryingRepository(repo content.Repository, cfg config.RepositoryConfig) *content.RetryingRepository {
	return content.NewRetryingRepository(repo, content.RetryConfig{
		Retries:     cfg.Retries,
		Delay:       cfg.RetryDelay,
		CallTimeout: cfg.CallTimeout,
	})
}

type readinessCheck struct {
	name string
	ping func(context.Context) error
}

// newMux creates the HTTP router with health check endpoints and, when api
// is non-nil, the course API.
func newMux(api *httpapi.Handler, checks ...readinessCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", handleReadyz(checks))
	if api != nil {
		api.Register(mux)
	}
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func handleReadyz(checks []readinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		for _, c := range checks {
			if err := c.ping(ctx); err != nil {
				slog.Warn("readiness check failed", "check", c.name, "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprintf(w, `{"status":"unavailable","check":%q}`, c.name)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}
}
