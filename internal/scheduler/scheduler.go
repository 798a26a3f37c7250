// Package scheduler runs the periodic cache refreshes.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the cron expressions, with a leading seconds field
type Config struct {
	OverviewCron string        `yaml:"overview_cron"`
	UniverseCron string        `yaml:"universe_cron"`
	TaskTimeout  time.Duration `yaml:"task_timeout"`
}

func DefaultConfig() Config {
	return Config{
		OverviewCron: "0 */15 * * * *",
		UniverseCron: "0 30 5 * * *", // before the premarket
		TaskTimeout:  5 * time.Minute,
	}
}

// Task is one refresh job
type Task func(ctx context.Context) error

// Scheduler manages all cron tasks.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	timeout time.Duration
	tasks   map[string]Task
	logger  zerolog.Logger
}

// NewScheduler creates a new Scheduler. Tasks run under ctx.
func NewScheduler(ctx context.Context, timeout time.Duration) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		ctx:     ctx,
		timeout: timeout,
		tasks:   make(map[string]Task),
		logger:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Register adds a named task on a cron schedule
func (s *Scheduler) Register(name, spec string, task Task) error {
	if _, err := s.cron.AddFunc(spec, func() { s.run(name, task) }); err != nil {
		return fmt.Errorf("register %s task: %w", name, err)
	}
	s.tasks[name] = task
	return nil
}

// RegisterAll registers the overview and universe refreshes
func (s *Scheduler) RegisterAll(cfg Config, overview, universe Task) error {
	if err := s.Register("overview", cfg.OverviewCron, overview); err != nil {
		return err
	}
	return s.Register("universe", cfg.UniverseCron, universe)
}

// RunNow executes a registered task immediately (warm-up on start)
func (s *Scheduler) RunNow(name string) error {
	task, ok := s.tasks[name]
	if !ok {
		return fmt.Errorf("unknown task: %s", name)
	}
	return s.run(name, task)
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("tasks", len(s.tasks)).Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for running tasks.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) run(name string, task Task) error {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	err := task(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("task", name).Msg("task failed")
		return err
	}
	s.logger.Info().Str("task", name).Dur("took", time.Since(start)).Msg("task complete")
	return nil
}
