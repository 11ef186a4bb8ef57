package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/l3v3l/core/pkg/logger"
	"github.com/l3v3l/core/pkg/metrics"
	"github.com/l3v3l/core/pkg/models"
)

// SchedulerConfig controls the polling loop and its worker pool
type SchedulerConfig struct {
	// PollInterval is the cadence of the due-job query
	PollInterval time.Duration

	// Workers bounds concurrent executions; a burst of simultaneously due
	// jobs can never exceed this
	Workers int

	// OrphanGrace is added to a job's timeout before a stale running
	// record is treated as orphaned at startup
	OrphanGrace time.Duration
}

// DefaultSchedulerConfig returns the production defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval: 30 * time.Second,
		Workers:      4,
		OrphanGrace:  5 * time.Minute,
	}
}

// Scheduler is the driving loop: on a fixed cadence it queries the registry
// for due jobs and hands each to the executor through a bounded worker
// pool. It keeps polling regardless of any job's outcome. One instance is
// constructed at startup with an explicit Start/Stop lifecycle; multi-node
// exclusivity is out of scope.
type Scheduler struct {
	registry *Registry
	executor *Executor
	config   SchedulerConfig
	logger   *logger.Logger

	queue   chan *models.JobDefinition
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewScheduler creates a scheduler loop
func NewScheduler(registry *Registry, executor *Executor, config SchedulerConfig) *Scheduler {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultSchedulerConfig().PollInterval
	}
	if config.Workers <= 0 {
		config.Workers = DefaultSchedulerConfig().Workers
	}

	return &Scheduler{
		registry: registry,
		executor: executor,
		config:   config,
		logger:   logger.New("scheduler-loop"),
		queue:    make(chan *models.JobDefinition, config.Workers*2),
	}
}

// Start reconciles orphaned executions, launches the worker pool, and
// begins polling. It returns immediately; Stop shuts the loop down.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)

	if reconciled, err := s.executor.ReconcileOrphans(ctx, s.config.OrphanGrace); err != nil {
		s.logger.Error().
			Err(err).
			Str("action", "orphan_reconcile_failed").
			Msg("Failed to reconcile orphaned executions")
	} else if reconciled > 0 {
		s.logger.Warn().
			Str("action", "orphans_reconciled").
			Int("count", reconciled).
			Msg("Finalized orphaned executions from previous process")
	}

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	s.wg.Add(1)
	go s.poll(ctx)

	s.logger.Info().
		Str("action", "start").
		Dur("poll_interval", s.config.PollInterval).
		Int("workers", s.config.Workers).
		Msg("Scheduler loop started")
}

// Stop cancels polling and waits for in-flight executions to finish
func (s *Scheduler) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	s.logger.Info().
		Str("action", "stop_initiated").
		Msg("Stopping scheduler loop")

	s.cancel()
	s.wg.Wait()

	s.logger.Info().
		Str("action", "stopped").
		Msg("Scheduler loop stopped")
}

// Running reports whether the loop is active
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Workers returns the configured pool size
func (s *Scheduler) Workers() int {
	return s.config.Workers
}

func (s *Scheduler) poll(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	// First poll happens immediately so due jobs do not wait a full tick
	s.dispatchDue(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

// dispatchDue queries due jobs and enqueues them without waiting for prior
// jobs to finish. When the queue is full the job is skipped; it stays due
// and is picked up on a later poll.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	metrics.SchedulerPollsTotal.Inc()

	due, err := s.registry.JobsReadyToRun(ctx)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("action", "poll_failed").
			Msg("Failed to query due jobs")
		return
	}
	if len(due) == 0 {
		return
	}

	s.logger.Debug().
		Str("action", "poll").
		Int("due_jobs", len(due)).
		Msg("Dispatching due jobs")

	for _, job := range due {
		select {
		case s.queue <- job:
		case <-ctx.Done():
			return
		default:
			metrics.SchedulerDispatchesSkipped.Inc()
			s.logger.Warn().
				Str("action", "dispatch_skipped").
				Str("job_id", job.ID).
				Str("job_name", job.Name).
				Msg("Worker queue full; job stays due for next poll")
		}
	}
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue:
			rec, err := s.executor.ExecuteJob(ctx, job, models.TriggeredByScheduler)
			switch {
			case errors.Is(err, ErrAlreadyRunning):
				s.logger.Debug().
					Str("action", "overlap_skipped").
					Str("job_name", job.Name).
					Int("worker", id).
					Msg("Skipping job; previous execution still holds the lease")
			case err != nil:
				// Execution-time template failures are absorbed into the
				// record; an error here means the engine itself could not
				// persist or lease. The loop keeps going either way.
				s.logger.Error().
					Err(err).
					Str("action", "execute_failed").
					Str("job_name", job.Name).
					Int("worker", id).
					Msg("Job execution failed before finalization")
			default:
				s.logger.Debug().
					Str("action", "execute_complete").
					Str("job_name", job.Name).
					Str("status", string(rec.Status)).
					Int("worker", id).
					Msg("Job execution finished")
			}
		}
	}
}
