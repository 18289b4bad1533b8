// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects storage, services,
// handlers, middleware and routes, and decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → Server.New() creates:
//	  sqlite.DB ─┬─ UserDB   ─┐
//	             ├─ FollowDB ─┼─→ Identity/Graph/Post/Feed services → handlers
//	             └─ PostDB   ─┘
//	  Redis (optional) → auth.RedisLedger, else auth.MemoryLedger
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/sakif/microblog/internal/auth"
	"github.com/sakif/microblog/internal/config"
	"github.com/sakif/microblog/internal/handler"
	"github.com/sakif/microblog/internal/metrics"
	"github.com/sakif/microblog/internal/middleware"
	sqliteRepo "github.com/sakif/microblog/internal/repository/sqlite"
	"github.com/sakif/microblog/internal/service"
	"github.com/sakif/microblog/pkg/redis"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and, when configured, the Redis
// client. Close releases both; Start calls it on the way out.
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	redis   *goredis.Client // nil when REDIS_ADDR is unset
	metrics *metrics.Metrics
}

// New creates a Server from cfg. It opens the database, connects to Redis
// if configured, and builds every route.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	// === CREATE DATABASE ===
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		db:      db,
		metrics: metrics.New(),
	}

	// === RESET LEDGER ===
	// Redis makes reset tokens single-use across every server instance.
	// Without it, one process remembers them in memory.
	var ledger auth.ResetLedger = auth.NewMemoryLedger(nil)
	if cfg.RedisAddr != "" {
		client, err := redis.NewClient(ctx, redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			TLS:      cfg.RedisTLS,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		s.redis = client
		ledger = auth.NewRedisLedger(client, nil)
		logger.Info("reset ledger: redis", slog.String("addr", cfg.RedisAddr))
	} else {
		logger.Info("reset ledger: in-memory (set REDIS_ADDR to share across instances)")
	}

	if err := s.setupRoutes(ledger); err != nil {
		s.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz                          → liveness + database check
// GET    /metrics                          → Prometheus scrape endpoint
// POST   /auth/register|login|logout       → accounts and sessions
// POST   /auth/reset/request, /auth/reset  → password reset
// GET    /auth/github/login|callback       → GitHub OAuth (only when configured)
// GET    /api/users/{username}[/...]       → public profiles, lists, posts
// GET    /api/posts/{id}                   → one post
// *      /api/me, /api/feed[/export], POST /api/posts, follow/unfollow → signed-in only
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns unique ID to each request (for tracing)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Metrics: counts requests per route pattern
// 4. Logger: logs each request with timing info
// 5. Recoverer: catches panics and returns 500 instead of crashing
func (s *Server) setupRoutes(ledger auth.ResetLedger) error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(s.metrics.Middleware)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	// === AUTH PRIMITIVES ===
	tokens, err := auth.NewTokenService(s.config.JWTSecret, auth.WithSessionTTL(s.config.SessionTTL))
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}

	var github *auth.GitHubProvider
	if s.config.GitHubEnabled() {
		github = auth.NewGitHubProvider(s.config.GitHubClientID, s.config.GitHubClientSecret, s.config.GitHubCallbackURL)
	}

	// === SERVICES ===
	// Each service gets the repository interfaces it needs, never the
	// concrete *sqlite.DB.
	opts := []service.Option{
		service.WithMetrics(s.metrics),
		service.WithResetTokenTTL(s.config.ResetTokenTTL),
	}
	identity := service.NewIdentityService(s.db.Users(), auth.NewPasswordService(), tokens, ledger, s.logger, opts...)
	graph := service.NewGraphService(s.db.Follows(), s.db.Users(), s.logger, opts...)
	posts := service.NewPostService(s.db.Posts(), s.logger, opts...)
	feed := service.NewFeedService(s.db.Follows(), s.db.Posts(), s.logger, opts...)

	// === HANDLERS ===
	authHandler := handler.NewAuthHandler(identity, github, handler.LogResetSender{Logger: s.logger}, handler.AuthConfig{
		SessionTTL:    tokens.SessionTTL(),
		ResetURLBase:  s.config.ResetURLBase,
		SecureCookies: s.config.IsProduction(),
	}, s.logger)
	userHandler := handler.NewUserHandler(identity, graph, posts, s.logger)
	postHandler := handler.NewPostHandler(posts, s.logger)
	feedHandler := handler.NewFeedHandler(feed, s.logger)

	// Every authenticated request counts as activity.
	touch := func(ctx context.Context, userID string) {
		if err := identity.TouchLastSeen(ctx, userID); err != nil {
			s.logger.Warn("updating last seen failed",
				slog.String("userID", userID),
				slog.String("error", err.Error()),
			)
		}
	}

	// === OPERATIONAL ROUTES ===
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())

	// === AUTH ROUTES ===
	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.HandleRegister)
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/logout", authHandler.HandleLogout)
		r.Post("/reset/request", authHandler.HandleResetRequest)
		r.Post("/reset", authHandler.HandleReset)

		if github != nil {
			r.Get("/github/login", authHandler.HandleGitHubLogin)
			r.Get("/github/callback", authHandler.HandleGitHubCallback)
		}
	})

	// === API ROUTES ===
	s.router.Route("/api", func(r chi.Router) {
		// Public, but personalised when a session is present.
		r.Group(func(r chi.Router) {
			r.Use(auth.OptionalAuth(tokens))
			r.Get("/users/{username}", userHandler.HandleProfile)
			r.Get("/users/{username}/followers", userHandler.HandleFollowers)
			r.Get("/users/{username}/following", userHandler.HandleFollowing)
			r.Get("/users/{username}/posts", userHandler.HandlePosts)
			r.Get("/users/{username}/posts/export", userHandler.HandleExport)
			r.Get("/posts/{id}", postHandler.HandleGet)
		})

		// Signed-in only.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens, touch))
			r.Get("/me", userHandler.HandleMe)
			r.Put("/me", userHandler.HandleUpdateMe)
			r.Delete("/me", userHandler.HandleDeleteMe)
			r.Post("/users/{username}/follow", userHandler.HandleFollow)
			r.Delete("/users/{username}/follow", userHandler.HandleUnfollow)
			r.Post("/posts", postHandler.HandleCreate)
			r.Get("/feed", feedHandler.HandleFeed)
			r.Get("/feed/export", feedHandler.HandleExport)
		})
	})

	return nil
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Redis    string `json:"redis,omitempty"`
}

// handleHealth reports 200 when every backing store answers, 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK

	if err := s.db.Ping(); err != nil {
		resp.Status, resp.Database = "degraded", "unreachable"
		status = http.StatusServiceUnavailable
		s.logger.Warn("health: database ping failed", slog.String("error", err.Error()))
	}
	if s.redis != nil {
		resp.Redis = "ok"
		if err := s.redis.Ping(r.Context()).Err(); err != nil {
			resp.Status, resp.Redis = "degraded", "unreachable"
			status = http.StatusServiceUnavailable
			s.logger.Warn("health: redis ping failed", slog.String("error", err.Error()))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database and Redis connections.
func (s *Server) Close() error {
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}

// Start runs the server until SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves HTTP until ctx is cancelled.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Close the database (flushes WAL, releases file lock) and Redis
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // exports stream for a while
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.String("environment", s.config.Environment),
			slog.Bool("github", s.config.GitHubEnabled()),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

// Migrate opens the database at path, which runs every migration, and
// closes it again.
func Migrate(path string) error {
	db, err := sqliteRepo.New(path)
	if err != nil {
		return err
	}
	return db.Close()
}

// EnsureDBDir creates the directory that will hold the database file.
func EnsureDBDir(path string) error {
	if path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating database directory %s: %w", dir, err)
	}
	return nil
}
