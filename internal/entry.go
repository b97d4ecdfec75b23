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

	"github.com/feetfirst/historyhub/internal/api"
	"github.com/feetfirst/historyhub/internal/cache"
	"github.com/feetfirst/historyhub/internal/mcpserver"
	"github.com/feetfirst/historyhub/internal/noteservice"
	"github.com/feetfirst/historyhub/internal/sse"
	"github.com/feetfirst/historyhub/internal/storage"
	"github.com/feetfirst/historyhub/internal/upstream"
	pkgconfig "github.com/feetfirst/historyhub/pkg/config"
)

// timelineThrottle bounds how often timeline.updated is sent per customer.
const timelineThrottle = 2 * time.Second

// runtime holds the components shared by the HTTP and MCP entry points.
type runtime struct {
	cfg      *Config
	logger   *slog.Logger
	level    *slog.LevelVar
	db       *cache.DB
	broker   *sse.Broker
	svc      *noteservice.Service
	pathConf string
}

func newRuntime(app *application) (*runtime, error) {
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	out := app.logOutput
	if out == nil {
		out = os.Stdout
	}
	level := new(slog.LevelVar)
	level.Set(cfg.App.LogLevel)
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	loc, err := cfg.App.Location()
	if err != nil {
		return nil, err
	}

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("upstream", cfg.Upstream.BaseURL),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("export_path", cfg.Export.Path),
		slog.String("timezone", loc.String()),
		slog.String("delete_mode", cfg.Notes.DeleteMode),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, err := storage.NewFS(cfg.Export.Path)
	if err != nil {
		return nil, fmt.Errorf("init export storage: %w", err)
	}

	db, err := cache.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}

	client := upstream.New(cfg.Upstream.BaseURL, cfg.Upstream.Token, cfg.Upstream.Timeout, logger, upstream.WithLocation(loc))
	broker := sse.NewBroker(timelineThrottle)

	svc, err := noteservice.NewService(client, db, store, broker, noteservice.Config{
		Location:   loc,
		PageLimit:  cfg.Notes.PageLimit,
		DeleteMode: cfg.Notes.DeleteMode,
	}, logger)
	if err != nil {
		broker.Close()
		db.Close()
		return nil, fmt.Errorf("init note service: %w", err)
	}

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		level:    level,
		db:       db,
		broker:   broker,
		svc:      svc,
		pathConf: app.configPath,
	}, nil
}

func (rt *runtime) close() {
	rt.broker.Close()
	if err := rt.db.Close(); err != nil {
		rt.logger.Warn("cache close failed", slog.String("error", err.Error()))
	}
}

// reload re-reads the config file and applies the settings that can change
// at runtime. Everything else needs a restart.
func (rt *runtime) reload() {
	fresh := NewDefaultConfig()
	if err := pkgconfig.Load(rt.pathConf, fresh); err != nil {
		rt.logger.Warn("config reload rejected", slog.String("error", err.Error()))
		return
	}
	if rt.level.Level() != fresh.App.LogLevel {
		rt.level.Set(fresh.App.LogLevel)
		rt.logger.Info("log level changed", slog.String("log_level", fresh.App.LogLevel.String()))
	}
	if err := rt.svc.SetDeleteMode(fresh.Notes.DeleteMode); err != nil {
		rt.logger.Warn("delete mode not applied", slog.String("error", err.Error()))
	}
}

func (rt *runtime) watchConfig(ctx context.Context) error {
	if rt.pathConf == "" {
		return nil
	}
	if err := pkgconfig.Watch(ctx, rt.pathConf, pkgconfig.DefaultDebounce, rt.logger, rt.reload); err != nil {
		rt.logger.Warn("config watcher unavailable", slog.String("error", err.Error()))
	}
	return nil
}

// handler builds the root router: health probes plus the API under /api.
func (rt *runtime) handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := rt.db.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", api.NewRouter(rt.svc, rt.cfg.Auth.AuthEnabled(), rt.cfg.Auth.Token, rt.broker))
	return r
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}

	rt, err := newRuntime(app)
	if err != nil {
		return err
	}
	defer rt.close()
	logger := rt.logger
	addr := rt.cfg.App.HTTP.Address()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           rt.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", addr))

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rt.watchConfig(gCtx)
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

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

// errShutdown cancels the group once the server has been shut down so the
// config watcher stops too.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools on stdin/stdout until the client disconnects.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(app)
	}

	rt, err := newRuntime(app)
	if err != nil {
		return err
	}
	defer rt.close()

	version := app.version
	if version == "" {
		version = "dev"
	}
	srv := mcpserver.New(rt.svc, version)

	g, gCtx := errgroup.WithContext(ctx)
	watchCtx, stopWatch := context.WithCancel(gCtx)
	g.Go(func() error {
		return rt.watchConfig(watchCtx)
	})
	g.Go(func() error {
		defer stopWatch()
		rt.logger.Info("MCP server listening on stdio")
		return srv.ServeStdio()
	})
	return g.Wait()
}
