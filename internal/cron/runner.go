// Package cron drives the recurring reminder work: the dispatch cycle
// every minute and the nightly missed-dose sweep.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/davmgs/meditrack/internal/config"
	"github.com/davmgs/meditrack/internal/reminder"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner schedules the dispatcher's cycle and sweep.
type Runner struct {
	dispatcher *reminder.Dispatcher
	logger     *zap.Logger
	cycleSpec  string
	sweepSpec  string
	cron       *cron.Cron
	ctx        context.Context
	cancel     context.CancelFunc
	running    bool
	mu         sync.RWMutex
}

// NewRunner creates a new cron runner.
func NewRunner(cfg config.RemindersConfig, dispatcher *reminder.Dispatcher, logger *zap.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())

	cycleSpec := cfg.CycleSpec
	if cycleSpec == "" {
		cycleSpec = "* * * * *"
	}
	sweepSpec := cfg.SweepSpec
	if sweepSpec == "" {
		sweepSpec = "30 0 * * *"
	}

	return &Runner{
		dispatcher: dispatcher,
		logger:     logger,
		cycleSpec:  cycleSpec,
		sweepSpec:  sweepSpec,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start registers the jobs and starts the scheduler.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("cron runner already running")
	}

	c := cron.New()

	if _, err := c.AddFunc(r.cycleSpec, r.runCycle); err != nil {
		return fmt.Errorf("invalid cycle spec %q: %w", r.cycleSpec, err)
	}
	if _, err := c.AddFunc(r.sweepSpec, r.runSweep); err != nil {
		return fmt.Errorf("invalid sweep spec %q: %w", r.sweepSpec, err)
	}

	c.Start()
	r.cron = c
	r.running = true

	r.logger.Info("Cron runner started",
		zap.String("cycle_spec", r.cycleSpec),
		zap.String("sweep_spec", r.sweepSpec),
	)
	return nil
}

// Stop stops the scheduler and waits for in-flight jobs.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	r.cancel()
	<-c.Stop().Done()
	r.logger.Info("Cron runner stopped")
}

// IsRunning returns whether the runner is active
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

func (r *Runner) runCycle() {
	ctx, cancel := context.WithTimeout(r.ctx, 50*time.Second)
	defer cancel()

	processed, err := r.dispatcher.RunCycle(ctx, time.Now())
	if err != nil {
		r.logger.Error("Dispatch cycle failed", zap.Error(err))
		return
	}
	if processed > 0 {
		r.logger.Info("Dispatch cycle completed", zap.Int("processed", processed))
	}
}

func (r *Runner) runSweep() {
	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Minute)
	defer cancel()

	count, err := r.dispatcher.BackfillMissed(ctx, time.Now())
	if err != nil {
		r.logger.Error("Missed-dose sweep failed", zap.Error(err))
		return
	}
	r.logger.Info("Missed-dose sweep completed", zap.Int("backfilled", count))
}
