package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mealsphere/settlement-engine/engine"
	"github.com/mealsphere/settlement-engine/engine/store"
)

// newMonthlyGroup seeds a monthly-mode group with an admin and no period.
func newMonthlyGroup(t *testing.T) (context.Context, *store.Memory, *engine.Lifecycle) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()

	g := engine.Group{
		ID:         testGroup,
		Name:       "Flat 1",
		PeriodMode: engine.PeriodModeMonthly,
		CreatedBy:  admin,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.SaveGroup(ctx, g); err != nil {
		t.Fatalf("save group: %v", err)
	}
	for user, role := range map[engine.UserID]engine.Role{admin: engine.RoleAdmin, alice: engine.RoleMember} {
		m := engine.Membership{GroupID: testGroup, UserID: user, Role: role, Active: true, JoinedAt: g.CreatedAt}
		if err := s.SaveMembership(ctx, m); err != nil {
			t.Fatalf("save membership: %v", err)
		}
	}
	return ctx, s, engine.NewLifecycle(s, engine.MembershipRoles{Store: s})
}

// =============================================================================
// CREATE
// =============================================================================

func TestLifecycle_CreatePeriod_MonthlyWindow(t *testing.T) {
	// GIVEN: A monthly-mode group and no explicit window
	// WHEN: Creating a period
	// THEN: The window is the current calendar month and the name is
	//       derived from it

	ctx, _, lc := newMonthlyGroup(t)

	p, err := lc.CreatePeriod(ctx, testGroup, admin, "", nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	wantStart, wantEnd := engine.MonthWindow(engine.Today())
	if !p.Start.Equal(wantStart) {
		t.Errorf("expected start %s, got %s", wantStart, p.Start)
	}
	if p.End == nil || !p.End.Equal(wantEnd) {
		t.Errorf("expected end %s, got %v", wantEnd, p.End)
	}
	if p.Name == "" {
		t.Error("expected a derived period name")
	}
	if p.Status != engine.PeriodActive {
		t.Errorf("new period must be active, got %s", p.Status)
	}
}

func TestLifecycle_SecondActivePeriodRejected(t *testing.T) {
	// GIVEN: A group with an active period
	// WHEN: Creating another period
	// THEN: Conflict; the caller must end the current period first

	ctx, _, lc := newMonthlyGroup(t)
	if _, err := lc.CreatePeriod(ctx, testGroup, admin, "", nil, nil); err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err := lc.CreatePeriod(ctx, testGroup, admin, "", nil, nil)

	if !errors.Is(err, engine.ErrActivePeriodExists) {
		t.Errorf("expected active-period conflict, got %v", err)
	}
	if !engine.IsConflict(err) {
		t.Errorf("conflict classifier missed %v", err)
	}
}

func TestLifecycle_MemberCannotManagePeriods(t *testing.T) {
	ctx, _, lc := newMonthlyGroup(t)

	_, err := lc.CreatePeriod(ctx, testGroup, alice, "", nil, nil)

	if !errors.Is(err, engine.ErrForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
}

func TestLifecycle_CreatePeriod_EndBeforeStartRejected(t *testing.T) {
	ctx, _, lc := newMonthlyGroup(t)
	start := engine.NewDate(2025, time.March, 10)
	end := engine.NewDate(2025, time.March, 1)

	_, err := lc.CreatePeriod(ctx, testGroup, admin, "bad", &start, &end)

	if !errors.Is(err, engine.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestLifecycle_CreatePeriod_UnknownGroup(t *testing.T) {
	ctx, _, lc := newMonthlyGroup(t)

	_, err := lc.CreatePeriod(ctx, engine.GroupID("ghost"), admin, "", nil, nil)

	if !errors.Is(err, engine.ErrGroupNotFound) {
		t.Errorf("expected group not found, got %v", err)
	}
}

// =============================================================================
// LOCK / UNLOCK / END / ARCHIVE
// =============================================================================

func TestLifecycle_LockThenUnlockToActive(t *testing.T) {
	ctx, _, lc := newMonthlyGroup(t)
	p, err := lc.CreatePeriod(ctx, testGroup, admin, "", nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	locked, err := lc.Lock(ctx, p.ID, admin)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !locked.Locked {
		t.Error("period not locked")
	}

	unlocked, err := lc.Unlock(ctx, p.ID, admin, engine.PeriodActive)
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if unlocked.Locked || unlocked.Status != engine.PeriodActive {
		t.Errorf("expected unlocked active period, got %+v", unlocked)
	}
}

func TestLifecycle_UnlockStraightToEnded(t *testing.T) {
	// GIVEN: A locked active period
	// WHEN: Unlocking with the ended status
	// THEN: The period ends in one step with an end date set

	ctx, _, lc := newMonthlyGroup(t)
	p, err := lc.CreatePeriod(ctx, testGroup, admin, "", nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := lc.Lock(ctx, p.ID, admin); err != nil {
		t.Fatalf("lock: %v", err)
	}

	ended, err := lc.Unlock(ctx, p.ID, admin, engine.PeriodEnded)
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}

	if ended.Status != engine.PeriodEnded || ended.Locked {
		t.Errorf("expected ended unlocked period, got %+v", ended)
	}
	if ended.End == nil {
		t.Error("ended period must carry an end date")
	}
}

func TestLifecycle_UnlockWithoutLockRejected(t *testing.T) {
	ctx, _, lc := newMonthlyGroup(t)
	p, err := lc.CreatePeriod(ctx, testGroup, admin, "", nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = lc.Unlock(ctx, p.ID, admin, engine.PeriodActive)

	if !errors.Is(err, engine.ErrInvalidTransition) {
		t.Errorf("expected invalid transition, got %v", err)
	}
}

func TestLifecycle_EndWithExplicitDate(t *testing.T) {
	ctx, _, lc := newMonthlyGroup(t)
	start := engine.NewDate(2025, time.March, 1)
	p, err := lc.CreatePeriod(ctx, testGroup, admin, "March", &start, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	endDate := engine.NewDate(2025, time.March, 20)
	ended, err := lc.End(ctx, p.ID, admin, &endDate)
	if err != nil {
		t.Fatalf("end: %v", err)
	}

	if ended.Status != engine.PeriodEnded || ended.End == nil || !ended.End.Equal(endDate) {
		t.Errorf("expected period ended on %s, got %+v", endDate, ended)
	}
}

func TestLifecycle_EndBeforeStartRejected(t *testing.T) {
	ctx, _, lc := newMonthlyGroup(t)
	start := engine.NewDate(2025, time.March, 10)
	p, err := lc.CreatePeriod(ctx, testGroup, admin, "March", &start, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	endDate := engine.NewDate(2025, time.March, 1)
	_, err = lc.End(ctx, p.ID, admin, &endDate)

	if !errors.Is(err, engine.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestLifecycle_ArchiveRequiresEnded(t *testing.T) {
	ctx, _, lc := newMonthlyGroup(t)
	p, err := lc.CreatePeriod(ctx, testGroup, admin, "", nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := lc.Archive(ctx, p.ID, admin); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Errorf("archiving an active period: expected invalid transition, got %v", err)
	}

	if _, err := lc.End(ctx, p.ID, admin, nil); err != nil {
		t.Fatalf("end: %v", err)
	}
	archived, err := lc.Archive(ctx, p.ID, admin)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if archived.Status != engine.PeriodArchived {
		t.Errorf("expected archived, got %s", archived.Status)
	}
}

// =============================================================================
// RESTART
// =============================================================================

func TestLifecycle_RestartActivePeriodRejected(t *testing.T) {
	ctx, _, lc := newMonthlyGroup(t)
	p, err := lc.CreatePeriod(ctx, testGroup, admin, "", nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = lc.Restart(ctx, p.ID, admin, false)

	if !errors.Is(err, engine.ErrInvalidTransition) {
		t.Errorf("expected invalid transition, got %v", err)
	}
}

func TestLifecycle_Restart_CarriesForwardBalances(t *testing.T) {
	// GIVEN: An ended period where alice still owes 300
	// WHEN: Restarting with carry-forward
	// THEN: The new active period opens with a -300 adjustment targeting
	//       alice, mirrored into history

	f := newFixture(t)
	f.mustMeals(t, alice, 3)
	f.mustExpense(t, admin, engine.ExpenseExtra, 300) // rate 100, alice owes 300
	if _, err := f.lifecycle.End(f.ctx, f.period.ID, admin, nil); err != nil {
		t.Fatalf("end: %v", err)
	}

	next, err := f.lifecycle.Restart(f.ctx, f.period.ID, admin, true)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}

	if next.Status != engine.PeriodActive {
		t.Fatalf("restarted period must be active, got %s", next.Status)
	}
	if next.ID == f.period.ID {
		t.Fatal("restart must create a new period row")
	}

	txs, err := f.store.TransactionsInPeriod(f.ctx, next.ID)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("expected 1 carry-forward transaction, got %d", len(txs))
	}
	cf := txs[0]
	if cf.TargetUserID != alice || cf.Type != engine.TxAdjustment || !cf.Amount.Equal(amt(-300)) {
		t.Errorf("unexpected carry-forward: %+v", cf)
	}

	entries, err := f.store.HistoryForUser(f.ctx, next.ID, alice)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != engine.HistoryCreated {
		t.Errorf("carry-forward not mirrored into history: %+v", entries)
	}
}

func TestLifecycle_Restart_NoCarryForwardOpensClean(t *testing.T) {
	f := newFixture(t)
	f.mustMeals(t, alice, 3)
	f.mustExpense(t, admin, engine.ExpenseExtra, 300)
	if _, err := f.lifecycle.End(f.ctx, f.period.ID, admin, nil); err != nil {
		t.Fatalf("end: %v", err)
	}

	next, err := f.lifecycle.Restart(f.ctx, f.period.ID, admin, false)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}

	txs, err := f.store.TransactionsInPeriod(f.ctx, next.ID)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != 0 {
		t.Errorf("expected a clean period, got %d transactions", len(txs))
	}
}

func TestLifecycle_Restart_ZeroBalancesSkipped(t *testing.T) {
	// GIVEN: An ended period where everyone settled exactly
	// WHEN: Restarting with carry-forward
	// THEN: No adjustment rows are written

	f := newFixture(t)
	f.mustMeals(t, alice, 3)
	f.mustExpense(t, admin, engine.ExpenseExtra, 300)
	f.mustPay(t, alice, 300)
	if _, err := f.lifecycle.End(f.ctx, f.period.ID, admin, nil); err != nil {
		t.Fatalf("end: %v", err)
	}

	next, err := f.lifecycle.Restart(f.ctx, f.period.ID, admin, true)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}

	txs, err := f.store.TransactionsInPeriod(f.ctx, next.ID)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != 0 {
		t.Errorf("expected no carry-forward for settled members, got %d", len(txs))
	}
}
