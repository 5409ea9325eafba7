/*
scheduler_test.go - Tests for the automated monthly rollover
*/
package api

import (
	"context"
	"testing"
	"time"

	"github.com/mealsphere/settlement-engine/cache"
	"github.com/mealsphere/settlement-engine/engine"
	"github.com/mealsphere/settlement-engine/engine/store"
)

// seedExpiredMonthlyGroup plants a monthly group whose active period
// ended well in the past, with enough ledger activity for amy to owe
// money: 5 meals at rate 100, 300 paid.
func seedExpiredMonthlyGroup(t *testing.T, s *store.Memory, groupID engine.GroupID, locked bool) engine.PeriodID {
	t.Helper()
	ctx := context.Background()

	if err := s.SaveGroup(ctx, engine.Group{
		ID:         groupID,
		Name:       "Flat " + string(groupID),
		PeriodMode: engine.PeriodModeMonthly,
		CreatedBy:  "amy",
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed group: %v", err)
	}
	for _, m := range []engine.Membership{
		{GroupID: groupID, UserID: "amy", Role: engine.RoleAdmin, Active: true},
		{GroupID: groupID, UserID: "bob", Role: engine.RoleMember, Active: true},
	} {
		if err := s.SaveMembership(ctx, m); err != nil {
			t.Fatalf("seed membership: %v", err)
		}
	}

	start := engine.NewDate(2025, time.March, 1)
	end := engine.NewDate(2025, time.March, 31)
	periodID := engine.PeriodID("old-" + string(groupID))
	if err := s.CreatePeriod(ctx, engine.Period{
		ID:        periodID,
		GroupID:   groupID,
		Name:      "March 2025",
		Start:     start,
		End:       &end,
		Status:    engine.PeriodActive,
		Locked:    locked,
		CreatedBy: "amy",
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed period: %v", err)
	}

	for i := 1; i <= 5; i++ {
		if err := s.AddMeal(ctx, engine.Meal{
			ID:       "meal-" + string(groupID) + string(rune('0'+i)),
			GroupID:  groupID,
			PeriodID: periodID,
			UserID:   "amy",
			Date:     engine.NewDate(2025, time.March, i),
			Slot:     engine.SlotDinner,
		}); err != nil {
			t.Fatalf("seed meal: %v", err)
		}
	}
	if err := s.AddExpense(ctx, engine.Expense{
		ID:       "exp-" + string(groupID),
		GroupID:  groupID,
		PeriodID: periodID,
		UserID:   "amy",
		Kind:     engine.ExpenseExtra,
		Amount:   engine.NewAmount(500),
		Date:     start,
	}); err != nil {
		t.Fatalf("seed expense: %v", err)
	}
	if err := s.AppendTransaction(ctx, engine.Transaction{
		ID:           engine.TransactionID("pay-" + string(groupID)),
		GroupID:      groupID,
		PeriodID:     periodID,
		CreatedBy:    "amy",
		TargetUserID: "amy",
		Type:         engine.TxPayment,
		Amount:       engine.NewAmount(300),
		Date:         start,
	}); err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return periodID
}

func TestRollover_ClosesExpiredPeriodAndCarriesForward(t *testing.T) {
	// GIVEN: A monthly group whose active period ended last year, with
	//        amy 200 short (5 meals at rate 100, 300 paid)
	// WHEN: The scheduler sweeps
	// THEN: The old period is ended, a fresh period covers the current
	//       month, and amy's -200 follows her into it

	s := store.NewMemory()
	oldID := seedExpiredMonthlyGroup(t, s, "g1", false)
	h := NewHandler(s, cache.NewMemory())
	rs := NewRolloverScheduler(h)

	rs.RunNow()

	ctx := context.Background()
	old, err := s.GetPeriod(ctx, oldID)
	if err != nil || old == nil {
		t.Fatalf("load old period: %v", err)
	}
	if old.Status != engine.PeriodEnded {
		t.Errorf("expected old period ended, got %s", old.Status)
	}

	next, err := s.ActivePeriod(ctx, "g1")
	if err != nil {
		t.Fatalf("load next period: %v", err)
	}
	if next == nil {
		t.Fatal("expected a new active period")
	}
	if next.ID == oldID {
		t.Fatal("old period still active")
	}
	if next.CreatedBy != rolloverActor {
		t.Errorf("expected system-created period, got %s", next.CreatedBy)
	}
	wantStart, wantEnd := engine.MonthWindow(engine.Today())
	if !next.Start.Equal(wantStart) || next.End == nil || !next.End.Equal(wantEnd) {
		t.Errorf("expected current month window, got %s..%v", next.Start, next.End)
	}

	txs, err := s.TransactionsInPeriod(ctx, next.ID)
	if err != nil {
		t.Fatalf("load transactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected 1 carried-forward row, got %d", len(txs))
	}
	tx := txs[0]
	if tx.TargetUserID != "amy" || tx.Type != engine.TxAdjustment || !tx.Amount.Equal(engine.NewAmount(-200)) {
		t.Errorf("unexpected carry-forward: %+v", tx)
	}
	if tx.CreatedBy != rolloverActor {
		t.Errorf("expected system actor, got %s", tx.CreatedBy)
	}

	entries, err := s.HistoryForUser(ctx, next.ID, "amy")
	if err != nil {
		t.Fatalf("load history: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != engine.HistoryCreated {
		t.Errorf("expected one created audit row, got %+v", entries)
	}
}

func TestRollover_SkipsLockedPeriods(t *testing.T) {
	// GIVEN: An expired period someone locked for manual reconciliation
	// WHEN: The scheduler sweeps
	// THEN: The period is left alone

	s := store.NewMemory()
	oldID := seedExpiredMonthlyGroup(t, s, "g1", true)
	rs := NewRolloverScheduler(NewHandler(s, cache.NewMemory()))

	rs.RunNow()

	p, err := s.GetPeriod(context.Background(), oldID)
	if err != nil || p == nil {
		t.Fatalf("load period: %v", err)
	}
	if p.Status != engine.PeriodActive {
		t.Errorf("locked period was rolled over: %s", p.Status)
	}
}

func TestRollover_SkipsCustomModeGroups(t *testing.T) {
	// Custom-mode groups end their periods by hand.

	s := store.NewMemory()
	ctx := context.Background()
	if err := s.SaveGroup(ctx, engine.Group{ID: "g2", Name: "Trip", PeriodMode: engine.PeriodModeCustom, CreatedBy: "amy", Active: true}); err != nil {
		t.Fatalf("seed group: %v", err)
	}
	if err := s.SaveMembership(ctx, engine.Membership{GroupID: "g2", UserID: "amy", Role: engine.RoleAdmin, Active: true}); err != nil {
		t.Fatalf("seed membership: %v", err)
	}
	end := engine.NewDate(2025, time.March, 31)
	if err := s.CreatePeriod(ctx, engine.Period{
		ID: "trip-1", GroupID: "g2", Name: "trip", Start: engine.NewDate(2025, time.March, 1), End: &end,
		Status: engine.PeriodActive, CreatedBy: "amy",
	}); err != nil {
		t.Fatalf("seed period: %v", err)
	}
	rs := NewRolloverScheduler(NewHandler(s, cache.NewMemory()))

	rs.RunNow()

	p, err := s.GetPeriod(ctx, "trip-1")
	if err != nil || p == nil {
		t.Fatalf("load period: %v", err)
	}
	if p.Status != engine.PeriodActive {
		t.Errorf("custom-mode period was rolled over: %s", p.Status)
	}
}

func TestRollover_SkipsCurrentPeriods(t *testing.T) {
	// A period whose window still includes today stays open.

	s := store.NewMemory()
	ctx := context.Background()
	if err := s.SaveGroup(ctx, engine.Group{ID: "g3", Name: "Flat", PeriodMode: engine.PeriodModeMonthly, CreatedBy: "amy", Active: true}); err != nil {
		t.Fatalf("seed group: %v", err)
	}
	if err := s.SaveMembership(ctx, engine.Membership{GroupID: "g3", UserID: "amy", Role: engine.RoleAdmin, Active: true}); err != nil {
		t.Fatalf("seed membership: %v", err)
	}
	start, end := engine.MonthWindow(engine.Today())
	if err := s.CreatePeriod(ctx, engine.Period{
		ID: "cur-1", GroupID: "g3", Name: "current", Start: start, End: &end,
		Status: engine.PeriodActive, CreatedBy: "amy",
	}); err != nil {
		t.Fatalf("seed period: %v", err)
	}
	rs := NewRolloverScheduler(NewHandler(s, cache.NewMemory()))

	rs.RunNow()

	p, err := s.ActivePeriod(ctx, "g3")
	if err != nil {
		t.Fatalf("load active period: %v", err)
	}
	if p == nil || p.ID != "cur-1" {
		t.Errorf("current period was replaced: %+v", p)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	// Start and Stop must not race or leak the goroutine.

	s := store.NewMemory()
	rs := NewRolloverScheduler(NewHandler(s, cache.NewMemory()))
	rs.CheckInterval = 10 * time.Millisecond

	rs.Start()
	time.Sleep(30 * time.Millisecond)
	rs.Stop()
}
