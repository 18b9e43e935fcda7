// Package internal provides the main application initialization and runtime logic.
package internal

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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/lumen/internal/api"
	"github.com/starford/lumen/internal/graph"
	"github.com/starford/lumen/internal/ingest"
	"github.com/starford/lumen/internal/mcpserver"
	"github.com/starford/lumen/internal/quiz"
	"github.com/starford/lumen/internal/sse"
	"github.com/starford/lumen/internal/storage"
	"github.com/starford/lumen/internal/store"
	"github.com/starford/lumen/internal/store/memstore"
	"github.com/starford/lumen/internal/store/sqlite"
	"github.com/starford/lumen/internal/studyservice"
)

// runtime holds the wired components shared by every command.
type runtime struct {
	cfg     *Config
	logger  *slog.Logger
	version string
	repo    store.Repository
	broker  *sse.Broker
	library *ingest.Service
	graph   *graph.Service
	study   *studyservice.Service
}

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev", logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// start opens storage and wires the services. close releases them.
func start(app *application) (*runtime, error) {
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("library_path", cfg.Library.Path),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure library directory exists.
	if err := os.MkdirAll(cfg.Library.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create library dir: %w", err)
	}
	files, err := storage.NewFS(cfg.Library.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	repo, err := openRepository(cfg.Storage)
	if err != nil {
		return nil, err
	}

	broker := sse.NewBroker(2 * time.Second)

	rt := &runtime{cfg: cfg, logger: logger, version: app.version, repo: repo, broker: broker}
	rt.library = ingest.NewService(files, repo,
		ingest.WithLogger(logger),
		ingest.WithEventCallback(broker.PublishLibraryEvent),
	)
	rt.graph = graph.NewService(repo, graph.WithOnChange(broker.PublishGraphChange))
	rt.study = studyservice.New(repo, rt.graph,
		studyservice.WithLogger(logger),
		studyservice.WithDefaults(studyservice.Defaults{
			QuestionCount:    cfg.Study.DefaultQuestionCount,
			TimeLimitSeconds: cfg.Study.DefaultTimeLimitSeconds,
			SuggestionLimit:  cfg.Study.SuggestionLimit,
		}),
		studyservice.WithEvents(func(event string, st quiz.State) {
			broker.Publish(sse.Event{Type: event, Session: st.SessionID, Data: st})
		}),
	)
	return rt, nil
}

func openRepository(cfg StorageConfig) (store.Repository, error) {
	switch cfg.Driver {
	case DriverMemory:
		return memstore.New(), nil
	default:
		db, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
		return db, nil
	}
}

func (rt *runtime) close() {
	rt.study.Close()
	rt.broker.Close()
	if err := rt.repo.Close(); err != nil {
		rt.logger.Error("close repository", slog.String("error", err.Error()))
	}
}

func (rt *runtime) sync(ctx context.Context) (ingest.Stats, error) {
	stats, err := rt.library.Sync(ctx)
	if err != nil {
		return stats, err
	}
	rt.logger.Info("library synced",
		slog.Int("indexed", stats.Indexed),
		slog.Int("skipped", stats.Skipped),
		slog.Int("removed", stats.Removed),
		slog.Int("failed", stats.Failed))
	return stats, nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	rt, err := start(app)
	if err != nil {
		return err
	}
	defer rt.close()
	cfg := rt.cfg
	logger := rt.logger

	// Run initial sync.
	if _, err := rt.sync(ctx); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	apiRouter := api.NewRouter(api.Services{
		Repo:       rt.repo,
		Study:      rt.study,
		Graph:      rt.graph,
		Library:    rt.library,
		Layout:     cfg.Layout,
		StaleAfter: cfg.Study.StaleSessionAfter,
	}, api.RouterOptions{
		AuthEnabled: cfg.Auth.AuthEnabled(),
		Token:       cfg.Auth.Token,
		Limiter:     api.NewRateLimiter(cfg.App.HTTP.RateLimit.RequestsPerSecond, cfg.App.HTTP.RateLimit.Burst),
		Events:      rt.broker,
	})

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := rt.repo.ListSubjects(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Start library watcher; events reach SSE clients through the ingest callback.
	if cfg.Library.Watch {
		g.Go(func() error {
			if err := rt.library.Watch(gCtx); err != nil {
				logger.Error("watcher failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools over stdio until stdin closes.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	rt, err := start(app)
	if err != nil {
		return err
	}
	defer rt.close()

	if _, err := rt.sync(ctx); err != nil {
		rt.logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	srv := mcpserver.New(mcpserver.Deps{
		Repo:    rt.repo,
		Graph:   rt.graph,
		Study:   rt.study,
		Library: rt.library,
		Layout:  rt.cfg.Layout,
	}, rt.version)
	rt.logger.Info("MCP server starting on stdio")
	return srv.ServeStdio()
}

// RunSync indexes the library once and returns the counts.
func RunSync(ctx context.Context, opts ...Option) (ingest.Stats, error) {
	app, err := newApplication(opts)
	if err != nil {
		return ingest.Stats{}, err
	}
	rt, err := start(app)
	if err != nil {
		return ingest.Stats{}, err
	}
	defer rt.close()
	return rt.sync(ctx)
}
