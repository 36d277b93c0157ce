// Package server wires repositories, services and handlers into the HTTP router.
//
// DEPENDENCY INJECTION FLOW:
//
//	main.go creates: config, logger, storage.Store, mailer.Mailer
//	Server.New creates: sqlite.DB → services → handlers → routes
//
// Keeping the composition root here (not in main) lets tests start the full
// API with httptest.NewServer(srv.Handler()).
package server

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
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/melotech/melotech/internal/auth"
	"github.com/melotech/melotech/internal/handler"
	"github.com/melotech/melotech/internal/mailer"
	"github.com/melotech/melotech/internal/metrics"
	"github.com/melotech/melotech/internal/middleware"
	"github.com/melotech/melotech/internal/realtime"
	sqliteRepo "github.com/melotech/melotech/internal/repository/sqlite"
	"github.com/melotech/melotech/internal/service"
	"github.com/melotech/melotech/internal/storage"
	"github.com/melotech/melotech/internal/webhook"
)

// Config holds what the router needs beyond its collaborators.
type Config struct {
	Port           int
	Version        string
	DBPath         string
	JWTSecret      string
	WebhookSecret  string
	AllowedOrigins []string
	Features       []string

	// AdminEmail and AdminPassword bootstrap the first admin account.
	AdminEmail    string
	AdminPassword string
}

// Server owns the database, the realtime hub and the change dispatcher.
type Server struct {
	router     *chi.Mux
	config     Config
	logger     *slog.Logger
	db         *sqliteRepo.DB
	hub        *realtime.Hub
	dispatcher *webhook.Dispatcher
	registry   *prometheus.Registry
}

// New opens the database, bootstraps the admin account and builds the routes.
func New(cfg Config, logger *slog.Logger, store storage.Store, mail mailer.Mailer) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating token service: %w", err)
	}

	// A registry per server keeps tests free of duplicate-registration panics.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	hub := realtime.NewHub(logger, m, cfg.AllowedOrigins)
	statusNotifier := webhook.NewStatusNotifier(db, mail, m, logger)
	relay := webhook.NewRealtimeRelay(hub, m, logger)
	dispatcher := webhook.NewDispatcher(logger, statusNotifier, relay)

	authService := service.NewAuthService(db, db, db, tokens, auth.NewPasswordService(), logger)
	submissionService := service.NewSubmissionService(db, db, dispatcher, logger)

	if err := authService.BootstrapAdmin(context.Background(), cfg.AdminEmail, cfg.AdminPassword); err != nil {
		db.Close()
		return nil, err
	}

	s := &Server{
		router:     chi.NewRouter(),
		config:     cfg,
		logger:     logger,
		db:         db,
		hub:        hub,
		dispatcher: dispatcher,
		registry:   registry,
	}

	s.setupRoutes(routeDeps{
		tokens:   tokens,
		metrics:  m,
		auth:     handler.NewAuthHandler(authService, logger),
		tables:   handler.NewTableHandler(submissionService, logger),
		storage:  handler.NewStorageHandler(store, m, logger),
		webhooks: handler.NewWebhookHandler(cfg.WebhookSecret, logger),
		realtime: handler.NewRealtimeHandler(hub, submissionService, logger),
		health:   handler.NewHealthHandler(db, hub, cfg.Version, cfg.Features),
		status:   statusNotifier,
		relay:    relay,
	})
	return s, nil
}

type routeDeps struct {
	tokens   *auth.TokenService
	metrics  *metrics.Metrics
	auth     *handler.AuthHandler
	tables   *handler.TableHandler
	storage  *handler.StorageHandler
	webhooks *handler.WebhookHandler
	realtime *handler.RealtimeHandler
	health   *handler.HealthHandler
	status   webhook.Processor
	relay    webhook.Processor
}

// setupRoutes configures middleware and routes.
//
// ROUTE STRUCTURE:
// GET    /health
// GET    /metrics
// POST   /auth/v1/token                         password / refresh_token grants
// POST   /auth/v1/signup
// POST   /auth/v1/logout                        [auth]
// GET    /auth/v1/user                          [auth]
// GET    /rest/v1/users?authid=                 [auth]
// PATCH  /rest/v1/users?authid=                 [auth]
// GET    /rest/v1/submissions?userid=&id=       [auth]
// POST   /rest/v1/submissions                   [auth]
// PATCH  /rest/v1/submissions?id=[&userid=]     [auth]
// GET    /rest/v1/submissions_with_owner        [auth, admin]
// PUT    /storage/v1/object/{bucket}/*          [auth]
// POST   /storage/v1/object/sign/{bucket}/*     [auth]
// GET    /storage/v1/object/sign/{bucket}/*?token=
// GET    /storage/v1/object/public/{bucket}/*
// POST   /webhook/submission-status-update      [X-Signature]
// POST   /webhook/submission-update             [X-Signature]
// GET    /ws/admin                              [auth, admin]
// GET    /ws/artist/{userID}                    [auth, owner]
func (s *Server) setupRoutes(d routeDeps) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger, d.metrics))
	s.router.Use(chimiddleware.Recoverer)

	requireAuth := auth.RequireAuth(d.tokens)

	s.router.Get("/health", d.health.HandleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.router.Route("/auth/v1", func(r chi.Router) {
		r.Post("/token", d.auth.HandleToken)
		r.Post("/signup", d.auth.HandleSignUp)
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/logout", d.auth.HandleLogout)
			r.Get("/user", d.auth.HandleUser)
		})
	})

	s.router.Route("/rest/v1", func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/users", d.tables.HandleListUsers)
		r.Patch("/users", d.tables.HandleUpdateUser)
		r.Get("/submissions", d.tables.HandleListSubmissions)
		r.Post("/submissions", d.tables.HandleCreateSubmission)
		r.Patch("/submissions", d.tables.HandleUpdateSubmission)
		r.Get("/submissions_with_owner", d.tables.HandleListWithOwner)
	})

	s.router.Route("/storage/v1/object", func(r chi.Router) {
		r.Get("/sign/{bucket}/*", d.storage.HandleSignedRead)
		r.Get("/public/{bucket}/*", d.storage.HandlePublicRead)
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/sign/{bucket}/*", d.storage.HandleSign)
			r.Put("/{bucket}/*", d.storage.HandleUpload)
		})
	})

	s.router.Route("/webhook", func(r chi.Router) {
		r.Post("/submission-status-update", d.webhooks.Handle(d.status))
		r.Post("/submission-update", d.webhooks.Handle(d.relay))
	})

	s.router.Route("/ws", func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/admin", d.realtime.HandleAdmin)
		r.Get("/artist/{userID}", d.realtime.HandleArtist)
	})
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub is used by tests to wait for websocket registrations.
func (s *Server) Hub() *realtime.Hub {
	return s.hub
}

// Close waits for in-flight change events and closes the database.
func (s *Server) Close() error {
	s.dispatcher.Wait()
	return s.db.Close()
}

// Start serves until SIGINT/SIGTERM, then shuts down gracefully.
//
// No Read/WriteTimeout: uploads can be large and websocket connections are
// long-lived. ReadHeaderTimeout still bounds slow clients.
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("version", s.config.Version),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}
