/*
scheduler.go - Automated depreciation scheduler

PURPOSE:
  Periodically runs the depreciation batch so every asset with a period due
  gets its ledger entry without anyone calling POST /api/depreciation/run.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start, then on every tick
  - Manual runs (RunNow) and ticks share one mutex, so two batches never
    overlap; the batch itself is idempotent per (asset, period) anyway
  - Keeps the last summary for GET /api/depreciation/runs/last

CONFIGURATION:
  - Interval: How often to run (config scheduler.interval, default 1h)
  - Enabled:  Whether the ticker runs at all (manual runs always work)

USAGE:
  s := NewDepreciationScheduler(runner, time.Hour, logger)
  s.Start()
  // ... later
  s.Stop()

SEE ALSO:
  - depreciation/scheduler.go: the batch itself
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/asset-engine/depreciation"
)

// DepreciationScheduler runs the depreciation batch on a ticker.
type DepreciationScheduler struct {
	Runner   *depreciation.Scheduler
	Interval time.Duration
	Enabled  bool
	Logger   *slog.Logger
	Now      func() time.Time // as-of clock for ticks; defaults to time.Now

	runMu sync.Mutex // one batch at a time

	mu     sync.Mutex
	last   *depreciation.Summary
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDepreciationScheduler creates an enabled scheduler.
func NewDepreciationScheduler(runner *depreciation.Scheduler, interval time.Duration, logger *slog.Logger) *DepreciationScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DepreciationScheduler{
		Runner:   runner,
		Interval: interval,
		Enabled:  true,
		Logger:   logger,
	}
}

// Start begins the scheduler.
func (s *DepreciationScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("depreciation scheduler disabled, not starting")
		return
	}
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)

	s.Logger.Info("depreciation scheduler started", "interval", s.Interval)
}

// Stop cancels a batch in flight and waits for the goroutine to exit.
func (s *DepreciationScheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.wg.Wait()
		s.Logger.Info("depreciation scheduler stopped")
	}
}

func (s *DepreciationScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run immediately on start
	s.tick(ctx)

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *DepreciationScheduler) tick(ctx context.Context) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	if _, err := s.RunNow(ctx, now().UTC()); err != nil && ctx.Err() == nil {
		s.Logger.Error("depreciation run failed", "err", err)
	}
}

// RunNow runs one batch as of asOf and records its summary.
func (s *DepreciationScheduler) RunNow(ctx context.Context, asOf time.Time) (depreciation.Summary, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	summary, err := s.Runner.Run(ctx, asOf)
	if err != nil {
		return summary, err
	}

	s.mu.Lock()
	s.last = &summary
	s.mu.Unlock()

	if summary.Posted > 0 || summary.Failed > 0 {
		s.Logger.Info("depreciation run completed",
			"as_of", summary.AsOf,
			"processed", summary.Processed,
			"posted", summary.Posted,
			"failed", summary.Failed,
			"fully_depreciated", summary.FullyDepreciated,
			"total", summary.TotalDepreciation.String())
	}
	return summary, nil
}

// LastRun returns the summary of the most recent successful batch.
func (s *DepreciationScheduler) LastRun() (depreciation.Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return depreciation.Summary{}, false
	}
	return *s.last, true
}

// NextRunTime returns when the next scheduled run will roughly occur.
func (s *DepreciationScheduler) NextRunTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return time.Now().Add(s.Interval)
	}
	return s.last.FinishedAt.Add(s.Interval)
}
