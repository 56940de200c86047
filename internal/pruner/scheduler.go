// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package pruner

import (
	"context"
	"fmt"
	"sync"
	"time"

	clog "github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"github.com/zjgordon/labportal/internal/logging"
)

// DefaultSchedule runs the prune daily at 03:00.
const DefaultSchedule = "0 3 * * *"

const reclaimSpec = "@every 1m"

// Reclaimer fails running actions whose agent never reported back.
type Reclaimer interface {
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ScheduleConfig configures a Scheduler.
type ScheduleConfig struct {
	// Schedule is a standard five-field cron expression.
	Schedule string
	Options  Options
	// ReclaimAfter enables the stale-running sweep when positive.
	ReclaimAfter time.Duration
	// JobTimeout bounds each scheduled run.
	JobTimeout time.Duration
	// SkipPrune registers only the reclaim job.
	SkipPrune bool
}

// Scheduler runs Prune on a cron schedule and, when configured, the stale
// running action sweep once a minute.
type Scheduler struct {
	cron      *cron.Cron
	pruner    *Pruner
	reclaimer Reclaimer
	cfg       ScheduleConfig
	log       *clog.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler validates cfg and registers the jobs. Nothing runs until
// Start is called.
func NewScheduler(p *Pruner, reclaimer Reclaimer, cfg ScheduleConfig) (*Scheduler, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Minute
	}
	s := &Scheduler{
		cron:      cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		pruner:    p,
		reclaimer: reclaimer,
		cfg:       cfg,
		log:       logging.With("scheduler"),
	}
	if !cfg.SkipPrune {
		if _, err := s.cron.AddFunc(cfg.Schedule, s.runPrune); err != nil {
			return nil, fmt.Errorf("invalid prune schedule %q: %w", cfg.Schedule, err)
		}
	}
	if cfg.ReclaimAfter > 0 && reclaimer != nil {
		if _, err := s.cron.AddFunc(reclaimSpec, s.runReclaim); err != nil {
			return nil, fmt.Errorf("register reclaim job: %w", err)
		}
	}
	return s, nil
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.log.Info("scheduler started", "prune", s.cfg.Schedule, "reclaimAfter", s.cfg.ReclaimAfter)
}

// Stop halts the schedule and returns a context that is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return s.cron.Stop()
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) runPrune() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()
	res, err := s.pruner.Prune(ctx, s.cfg.Options)
	if err != nil {
		s.log.Error("scheduled prune failed", "err", err)
		return
	}
	for _, e := range res.Errors {
		s.log.Warn("scheduled prune batch error", "err", e)
	}
}

func (s *Scheduler) runReclaim() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.reclaimer.ReclaimStale(ctx, s.cfg.ReclaimAfter); err != nil {
		s.log.Error("stale action sweep failed", "err", err)
	}
}
