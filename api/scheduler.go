/*
scheduler.go - Overdue reconciliation scheduler

PURPOSE:
  Periodically flags Adjusted requests whose approval is older than the
  reconciliation threshold. Finance is expected to reconcile a budget cut
  within a few days; anything older gets a reconciliation_overdue audit
  entry and a warning log line.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each request is flagged at most once per approval
  - Never changes request status

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - After:         Overdue threshold (default: 72 hours)
  - Enabled:       Whether scheduler is active (default: true)

USAGE:
  scheduler := NewOverdueReconciliationScheduler(service, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: FlagOverdueReconciliations endpoint (manual check)
  - workflow/service.go: FlagOverdueReconciliations
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/procurement-engine/generic"
	"github.com/warp/procurement-engine/workflow"
)

// OverdueReconciliationScheduler flags stale Adjusted requests.
type OverdueReconciliationScheduler struct {
	Service       *workflow.Service
	Logger        *slog.Logger
	CheckInterval time.Duration
	After         time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewOverdueReconciliationScheduler creates a new scheduler.
func NewOverdueReconciliationScheduler(svc *workflow.Service, logger *slog.Logger) *OverdueReconciliationScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OverdueReconciliationScheduler{
		Service:       svc,
		Logger:        logger.With(slog.String("component", "scheduler")),
		CheckInterval: 1 * time.Hour,
		After:         72 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (s *OverdueReconciliationScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.Logger.Info("started", slog.Duration("interval", s.CheckInterval), slog.Duration("after", s.After))
}

// Stop stops the scheduler and waits for an in-flight check.
func (s *OverdueReconciliationScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info("stopped")
}

// Run starts the scheduler and blocks until ctx is done.
func (s *OverdueReconciliationScheduler) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *OverdueReconciliationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.check()

	for {
		select {
		case <-ticker.C:
			s.check()
		case <-stop:
			return
		}
	}
}

func (s *OverdueReconciliationScheduler) check() {
	if _, err := s.RunNow(context.Background()); err != nil {
		s.Logger.Error("overdue check failed", slog.Any("error", err))
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (s *OverdueReconciliationScheduler) RunNow(ctx context.Context) ([]generic.RequestID, error) {
	flagged, err := s.Service.FlagOverdueReconciliations(ctx, s.After)
	if err != nil {
		return nil, err
	}
	if len(flagged) > 0 {
		s.Logger.Info("check completed", slog.Int("flagged", len(flagged)))
	}
	return flagged, nil
}
