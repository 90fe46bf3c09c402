package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	efhttp "github.com/Strob0t/EvalForge/internal/adapter/http"
	efnats "github.com/Strob0t/EvalForge/internal/adapter/nats"
	efotel "github.com/Strob0t/EvalForge/internal/adapter/otel"
	"github.com/Strob0t/EvalForge/internal/adapter/postgres"
	"github.com/Strob0t/EvalForge/internal/adapter/ristretto"
	"github.com/Strob0t/EvalForge/internal/adapter/ws"
	"github.com/Strob0t/EvalForge/internal/config"
	"github.com/Strob0t/EvalForge/internal/logger"
	"github.com/Strob0t/EvalForge/internal/middleware"
	"github.com/Strob0t/EvalForge/internal/port/messagequeue"
	"github.com/Strob0t/EvalForge/internal/service"
)

func main() {
	// The admin subcommand runs one-shot against the same config and store.
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			slog.Error("admin command failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"auth_enabled", cfg.Auth.Enabled,
		"nats_enabled", cfg.NATS.Enabled,
	)

	ctx := context.Background()

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	if cfg.OTel.Enabled {
		shutdownOTel, err := efotel.Setup(ctx, cfg.Logging.Service, cfg.OTel.Endpoint)
		if err != nil {
			return fmt.Errorf("otel: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownOTel(shutdownCtx); err != nil {
				slog.Warn("otel shutdown failed", "error", err)
			}
		}()
		slog.Info("otel exporters started", "endpoint", cfg.OTel.Endpoint)
	}

	var metrics *efotel.Metrics
	if cfg.OTel.Enabled {
		metrics, err = efotel.NewMetrics()
		if err != nil {
			return fmt.Errorf("otel metrics: %w", err)
		}
	}

	l1, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l1.Close()

	var queue messagequeue.Queue
	if cfg.NATS.Enabled {
		q, err := efnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := q.Drain(); err != nil {
				slog.Warn("nats drain failed", "error", err)
			}
		}()
		queue = q
	}

	// --- Services ---

	hub := ws.NewHub()
	feed := service.NewLiveFeed(hub, queue, uuid.NewString(), log)
	cancelFeed, err := feed.Start(ctx)
	if err != nil {
		return fmt.Errorf("live feed: %w", err)
	}
	defer cancelFeed()

	store := postgres.NewStore(pool)
	ttls := service.CacheTTLs{Summary: cfg.Cache.SummaryTTL, Settings: cfg.Cache.SettingTTL}
	settingsSvc := service.NewSettingsService(store, l1, cfg.Cache.SettingTTL, log)
	authSvc := service.NewAuthService(store, cfg.Auth, log)
	ingestSvc := service.NewIngestService(store, feed, metrics, cfg.Server.PublicBaseURL, log)
	visibilitySvc := service.NewVisibilityService(store, settingsSvc, l1, ttls, log)
	workflowSvc := service.NewWorkflowService(store, feed, log)
	adminSvc := service.NewAdminService(store, log)

	// --- HTTP ---

	handlers := &efhttp.Handlers{
		Ingest:     ingestSvc,
		Visibility: visibilitySvc,
		Workflow:   workflowSvc,
		Admin:      adminSvc,
		Auth:       authSvc,
		Settings:   settingsSvc,
		DB:         pool,
	}

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(time.Minute, 10*time.Minute)
	defer stopCleanup()

	r := chi.NewRouter()
	r.Use(efhttp.SecurityHeaders)
	r.Use(efhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(efhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if cfg.OTel.Enabled {
		r.Use(efotel.HTTPMiddleware(cfg.Logging.Service))
	}
	r.Use(limiter.Handler)
	r.Use(middleware.Auth(authSvc, cfg.Auth.Enabled))

	efhttp.MountRoutes(r, handlers, hub)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
