package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/fenlis/stockdb/internal/ingest"
)

// Scheduler runs the ingestion pipeline on a cron schedule. Runs never
// overlap: if the previous run is still going when the schedule fires,
// the new trigger is dropped.
type Scheduler struct {
	cron     *cron.Cron
	pipeline *ingest.Pipeline
	ctx      context.Context

	mu      sync.Mutex
	running bool
}

func New(ctx context.Context, pipeline *ingest.Pipeline) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		pipeline: pipeline,
		ctx:      ctx,
	}
}

// Register adds the ingestion run under the given cron expression.
func (s *Scheduler) Register(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		return fmt.Errorf("register ingestion schedule %q: %w", spec, err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started")
}

// Stop stops the scheduler and waits for a running job to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}

func (s *Scheduler) runOnce() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		slog.Warn("previous ingestion run still in progress, skipping trigger")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if _, err := s.pipeline.Run(s.ctx); err != nil && s.ctx.Err() == nil {
		slog.Error("scheduled ingestion run failed", "error", err)
	}
}
