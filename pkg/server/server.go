package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/l3v3l/core/internal/config"
	"github.com/l3v3l/core/pkg/database/pool"
	"github.com/l3v3l/core/pkg/handlers/health"
	"github.com/l3v3l/core/pkg/handlers/scheduler"
	"github.com/l3v3l/core/pkg/jobs"
	"github.com/l3v3l/core/pkg/logger"
	"github.com/l3v3l/core/pkg/middleware"
	"github.com/l3v3l/core/pkg/services"
	"github.com/l3v3l/core/pkg/templates"
)

// Server represents the API server
type Server struct {
	router   *http.ServeMux
	httpSrv  *http.Server
	port     string
	logger   *logger.Logger
	dbPool   *pgxpool.Pool
	loop     *jobs.Scheduler
	handlers struct {
		health    *health.Handler
		scheduler *scheduler.Handler
	}
}

// New creates a new server instance. The scheduling loop is embedded so a
// single process serves the admin API and executes due jobs.
func New(cfg *config.Config, log *logger.Logger) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dbPool, err := pool.New(ctx, cfg.DatabaseURL(), pool.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := jobs.NewPostgresStore(dbPool)

	templateRegistry := templates.NewRegistry()
	if err := registerTemplates(templateRegistry, store); err != nil {
		dbPool.Close()
		return nil, err
	}

	registry := jobs.NewRegistry(store, templateRegistry)
	notifier := services.NewBreakerNotifier(services.NewLogNotifier())
	executor := jobs.NewExecutor(store, templateRegistry, registry, notifier)
	loop := jobs.NewScheduler(registry, executor, jobs.SchedulerConfig{
		PollInterval: time.Duration(cfg.Scheduler.PollIntervalSeconds) * time.Second,
		Workers:      cfg.Scheduler.Workers,
		OrphanGrace:  time.Duration(cfg.Scheduler.OrphanGraceSeconds) * time.Second,
	})

	server := &Server{
		router: http.NewServeMux(),
		port:   cfg.Server.Port,
		logger: log,
		dbPool: dbPool,
		loop:   loop,
	}

	server.handlers.health = health.NewHandler(log)
	server.handlers.scheduler = scheduler.NewHandler(registry, executor, templateRegistry, loop, store, log)

	server.setupRoutes()

	log.Info().
		Str("action", "db_connected").
		Msg("Database connection pool established")

	return server, nil
}

func registerTemplates(registry *templates.Registry, store jobs.Store) error {
	all := []templates.Template{
		templates.NewNoopTemplate(),
		templates.NewExecutionCleanupTemplate(store),
		templates.NewWebhookTemplate(nil),
	}
	for _, tmpl := range all {
		if err := registry.Register(tmpl); err != nil {
			return fmt.Errorf("failed to register template %s: %w", tmpl.Type(), err)
		}
	}
	return nil
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", middleware.CORS(s.handlers.health.HealthCheck))

	// Prometheus metrics
	s.router.Handle("/metrics", promhttp.Handler())

	// Simple root endpoint
	s.router.HandleFunc("/", middleware.CORS(func(w http.ResponseWriter, r *http.Request) {
		if _, err := fmt.Fprintf(w, "L3V3L Scheduler Service - OK"); err != nil {
			http.Error(w, "Failed to write response", http.StatusInternalServerError)
		}
	}))

	// Scheduler admin endpoints
	sched := s.handlers.scheduler
	s.router.HandleFunc("POST /api/admin/scheduler/jobs", middleware.CORS(sched.CreateJob))
	s.router.HandleFunc("GET /api/admin/scheduler/jobs", middleware.CORS(sched.ListJobs))
	s.router.HandleFunc("GET /api/admin/scheduler/jobs/{id}", middleware.CORS(sched.GetJob))
	s.router.HandleFunc("PUT /api/admin/scheduler/jobs/{id}", middleware.CORS(sched.UpdateJob))
	s.router.HandleFunc("DELETE /api/admin/scheduler/jobs/{id}", middleware.CORS(sched.DeleteJob))
	s.router.HandleFunc("POST /api/admin/scheduler/jobs/{id}/run", middleware.CORS(sched.RunJob))
	s.router.HandleFunc("GET /api/admin/scheduler/jobs/{id}/executions", middleware.CORS(sched.ListJobExecutions))
	s.router.HandleFunc("GET /api/admin/scheduler/executions", middleware.CORS(sched.ListExecutions))
	s.router.HandleFunc("GET /api/admin/scheduler/executions/{id}", middleware.CORS(sched.GetExecution))
	s.router.HandleFunc("DELETE /api/admin/scheduler/executions/{id}", middleware.CORS(sched.DeleteExecution))
	s.router.HandleFunc("GET /api/admin/scheduler/templates", middleware.CORS(sched.ListTemplates))
	s.router.HandleFunc("GET /api/admin/scheduler/templates/{type}", middleware.CORS(sched.GetTemplate))
	s.router.HandleFunc("GET /api/admin/scheduler/status", middleware.CORS(sched.Status))
}

// Start starts the scheduling loop and the HTTP server
func (s *Server) Start() error {
	s.loop.Start(context.Background())

	s.logger.Info().
		Str("action", "server_start").
		Str("port", s.port).
		Msg("Starting API server with embedded scheduler")

	s.httpSrv = &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start on port %s: %w", s.port, err)
	}

	return nil
}

// Close gracefully shuts down the server, the scheduling loop and the
// database connections
func (s *Server) Close() {
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("HTTP server shutdown failed")
		}
	}

	s.loop.Stop()
	s.logger.Info().Msg("Scheduler loop stopped")

	if s.dbPool != nil {
		s.dbPool.Close()
		s.logger.Info().Msg("Database connection pool closed")
	}
}
