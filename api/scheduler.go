/*
scheduler.go - Automated monthly rollover scheduler

PURPOSE:
  Periodically sweeps monthly-mode groups whose active period has run
  past its end date, closes the stale period, and opens the next
  calendar month with balance carry-forward.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Detects active periods where today is past the period end
  - Skips locked periods: a lock means someone is reconciling by hand
  - Close, new period, and carry-forward rows commit in one transaction

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewRolloverScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RestartPeriod endpoint (manual rollover)
  - engine/lifecycle.go: Period state machine
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mealsphere/settlement-engine/engine"
)

// rolloverActor stamps scheduler-created rows so the audit trail
// distinguishes them from member actions.
const rolloverActor engine.UserID = "system"

// RolloverScheduler closes expired monthly periods and opens the next
// month automatically.
type RolloverScheduler struct {
	Store         engine.TxStore
	Invalidate    engine.Invalidator
	Rate          engine.RateOptions
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewRolloverScheduler creates a scheduler sharing the handler's store
// and cache invalidator.
func NewRolloverScheduler(h *Handler) *RolloverScheduler {
	return &RolloverScheduler{
		Store:         h.Store,
		Invalidate:    h.Invalidate,
		Rate:          h.Rate,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (rs *RolloverScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		slog.Info("rollover scheduler disabled, not starting")
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run()

	slog.Info("rollover scheduler started", "interval", rs.CheckInterval)
}

// Stop stops the scheduler.
func (rs *RolloverScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		slog.Info("rollover scheduler stopped")
	}
}

func (rs *RolloverScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.checkAndProcess()

	for {
		select {
		case <-rs.ticker.C:
			rs.checkAndProcess()
		case <-rs.stop:
			return
		}
	}
}

func (rs *RolloverScheduler) checkAndProcess() {
	ctx := context.Background()
	today := engine.Today()

	groups, err := rs.Store.ListGroups(ctx)
	if err != nil {
		slog.Error("rollover sweep failed to list groups", "error", err)
		return
	}

	processed := 0
	for _, g := range groups {
		if g.PeriodMode != engine.PeriodModeMonthly {
			continue
		}
		p, err := rs.Store.ActivePeriod(ctx, g.ID)
		if err != nil {
			slog.Error("rollover sweep failed to load active period", "error", err, "group", g.ID)
			continue
		}
		if p == nil || p.End == nil || p.Locked {
			continue
		}
		if !today.After(*p.End) {
			continue
		}

		if err := rs.rollOver(ctx, &g, p); err != nil {
			slog.Error("rollover failed", "error", err, "group", g.ID, "period", p.ID)
			continue
		}
		processed++
	}

	if processed > 0 {
		slog.Info("rollover sweep completed", "rolled", processed)
	}
}

// rollOver closes the expired period and opens the current calendar
// month, carrying each member's closing balance forward.
func (rs *RolloverScheduler) rollOver(ctx context.Context, g *engine.Group, old *engine.Period) error {
	agg := engine.NewSettlementAggregator(rs.Store, rs.Rate)
	summary, err := agg.Settle(ctx, old.ID)
	if err != nil {
		return fmt.Errorf("failed to settle expiring period: %w", err)
	}

	start, end := engine.MonthWindow(engine.Today())
	next := engine.Period{
		ID:        engine.PeriodID(uuid.New().String()),
		GroupID:   g.ID,
		Name:      start.Time.Format("January 2006"),
		Start:     start,
		End:       &end,
		Status:    engine.PeriodActive,
		CreatedBy: rolloverActor,
		CreatedAt: time.Now().UTC(),
	}

	closed := *old
	closed.Status = engine.PeriodEnded

	err = rs.Store.WithTx(ctx, func(s engine.Store) error {
		if err := s.UpdatePeriod(ctx, closed); err != nil {
			return err
		}
		if err := s.CreatePeriod(ctx, next); err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, row := range summary.Rows {
			if row.Balance.IsZero() {
				continue
			}
			tx := engine.Transaction{
				ID:           engine.TransactionID(uuid.New().String()),
				GroupID:      next.GroupID,
				PeriodID:     next.ID,
				CreatedBy:    rolloverActor,
				TargetUserID: row.UserID,
				Type:         engine.TxAdjustment,
				Amount:       row.Balance,
				Date:         next.Start,
				Note:         fmt.Sprintf("carried forward from %s", old.Name),
				CreatedAt:    now,
			}
			if err := s.AppendTransaction(ctx, tx); err != nil {
				return err
			}
			h := engine.TransactionHistory{
				ID:            uuid.New().String(),
				TransactionID: tx.ID,
				GroupID:       tx.GroupID,
				PeriodID:      tx.PeriodID,
				TargetUserID:  tx.TargetUserID,
				Action:        engine.HistoryCreated,
				Amount:        tx.Amount,
				ChangedBy:     rolloverActor,
				ChangedAt:     now,
			}
			if err := s.AppendHistory(ctx, h); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := rs.Invalidate.Group(ctx, g.ID); err != nil {
		slog.Warn("cache invalidation failed after rollover", "group", g.ID, "error", err)
	}
	slog.Info("rolled period over", "group", g.ID, "old", old.ID, "new", next.ID)
	return nil
}

// RunNow triggers an immediate sweep (for testing/admin).
func (rs *RolloverScheduler) RunNow() {
	rs.checkAndProcess()
}
