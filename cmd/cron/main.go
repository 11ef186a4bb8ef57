package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/l3v3l/core/internal/config"
	"github.com/l3v3l/core/pkg/database/pool"
	"github.com/l3v3l/core/pkg/jobs"
	"github.com/l3v3l/core/pkg/logger"
	"github.com/l3v3l/core/pkg/models"
	"github.com/l3v3l/core/pkg/services"
	"github.com/l3v3l/core/pkg/templates"
)

func main() {
	// Parse command line flags
	var (
		jobID = flag.String("job", "", "Job definition ID to run once")
		once  = flag.Bool("once", false, "Run the given job once and exit")
	)
	flag.Parse()

	logger.SetupLogger()
	log := logger.New("scheduler-service")

	cfg := config.Load()

	// Connect to database
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, err := pool.New(ctx, cfg.DatabaseURL(), pool.DefaultConfig())
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	store := jobs.NewPostgresStore(db)

	// Register the built-in job templates
	templateRegistry := templates.NewRegistry()
	builtins := []templates.Template{
		templates.NewNoopTemplate(),
		templates.NewExecutionCleanupTemplate(store),
		templates.NewWebhookTemplate(nil),
	}
	for _, tmpl := range builtins {
		if err := templateRegistry.Register(tmpl); err != nil {
			log.Fatal().Err(err).Str("template", tmpl.Type()).Msg("Failed to register template")
		}
	}

	registry := jobs.NewRegistry(store, templateRegistry)
	notifier := services.NewBreakerNotifier(services.NewLogNotifier())
	executor := jobs.NewExecutor(store, templateRegistry, registry, notifier)

	// Handle single job execution
	if *once && *jobID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 24*time.Hour)
		defer cancel()

		record, err := executor.ExecuteJobByID(ctx, *jobID, models.TriggeredByManual)
		if err != nil {
			log.Fatal().Err(err).Str("job_id", *jobID).Msg("Failed to execute job")
		}
		log.Info().
			Str("job_id", *jobID).
			Str("execution_id", record.ID).
			Str("status", string(record.Status)).
			Float64("duration_seconds", record.DurationSeconds).
			Msg("Job execution finished")
		if record.Status != models.StatusSuccess {
			os.Exit(1)
		}
		return
	}

	scheduler := jobs.NewScheduler(registry, executor, jobs.SchedulerConfig{
		PollInterval: time.Duration(cfg.Scheduler.PollIntervalSeconds) * time.Second,
		Workers:      cfg.Scheduler.Workers,
		OrphanGrace:  time.Duration(cfg.Scheduler.OrphanGraceSeconds) * time.Second,
	})

	scheduler.Start(context.Background())
	log.Info().
		Int("workers", scheduler.Workers()).
		Int("poll_interval_seconds", cfg.Scheduler.PollIntervalSeconds).
		Msg("Scheduler service started")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down scheduler service")
	scheduler.Stop()
	log.Info().Msg("Scheduler service stopped")
}
