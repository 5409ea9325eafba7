package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/mealsphere/settlement-engine/engine"
	"github.com/mealsphere/settlement-engine/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	testGroup = engine.GroupID("flat-1")
	admin     = engine.UserID("admin")
	alice     = engine.UserID("alice")
	bob       = engine.UserID("bob")
	carol     = engine.UserID("carol")
)

func amt(v float64) engine.Amount { return engine.NewAmount(v) }

func day(n int) engine.Date { return engine.NewDate(2025, time.March, n) }

// fixture wires a memory store with a seeded group, memberships, and an
// active custom-window period.
type fixture struct {
	ctx       context.Context
	store     *store.Memory
	roles     engine.MembershipRoles
	ledger    *engine.Ledger
	lifecycle *engine.Lifecycle
	period    *engine.Period
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()

	g := engine.Group{
		ID:          testGroup,
		Name:        "Flat 1",
		PeriodMode:  engine.PeriodModeCustom,
		MemberCount: 4,
		CreatedBy:   admin,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.SaveGroup(ctx, g); err != nil {
		t.Fatalf("save group: %v", err)
	}

	memberships := map[engine.UserID]engine.Role{
		admin: engine.RoleAdmin,
		alice: engine.RoleMember,
		bob:   engine.RoleMember,
		carol: engine.RoleMember,
	}
	for user, role := range memberships {
		m := engine.Membership{GroupID: testGroup, UserID: user, Role: role, Active: true, JoinedAt: g.CreatedAt}
		if err := s.SaveMembership(ctx, m); err != nil {
			t.Fatalf("save membership %s: %v", user, err)
		}
	}

	roles := engine.MembershipRoles{Store: s}
	lc := engine.NewLifecycle(s, roles)
	start := day(1)
	end := day(31)
	p, err := lc.CreatePeriod(ctx, testGroup, admin, "March 2025", &start, &end)
	if err != nil {
		t.Fatalf("create period: %v", err)
	}

	return &fixture{
		ctx:       ctx,
		store:     s,
		roles:     roles,
		ledger:    engine.NewLedger(s),
		lifecycle: lc,
		period:    p,
	}
}

// mustMeals records n dinner meals for the user on consecutive days.
func (f *fixture) mustMeals(t *testing.T, user engine.UserID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := f.ledger.AddMeal(f.ctx, f.period.ID, user, day(i+1), engine.SlotDinner); err != nil {
			t.Fatalf("add meal for %s: %v", user, err)
		}
	}
}

func (f *fixture) mustExpense(t *testing.T, user engine.UserID, kind engine.ExpenseKind, v float64) {
	t.Helper()
	if _, err := f.ledger.AddExpense(f.ctx, f.period.ID, user, kind, amt(v), day(1), "test expense"); err != nil {
		t.Fatalf("add expense: %v", err)
	}
}

func (f *fixture) mustPay(t *testing.T, user engine.UserID, v float64) {
	t.Helper()
	if _, err := f.ledger.AppendTransaction(f.ctx, f.roles, f.period.ID, user, user, engine.TxPayment, amt(v), day(10), "payment"); err != nil {
		t.Fatalf("append payment for %s: %v", user, err)
	}
}

func (f *fixture) settle(t *testing.T) *engine.SettlementSummary {
	t.Helper()
	agg := engine.NewSettlementAggregator(f.store, engine.RateOptions{})
	summary, err := agg.Settle(f.ctx, f.period.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	return summary
}

func (f *fixture) row(t *testing.T, summary *engine.SettlementSummary, user engine.UserID) engine.SettlementRow {
	t.Helper()
	for _, r := range summary.Rows {
		if r.UserID == user {
			return r
		}
	}
	t.Fatalf("no settlement row for %s", user)
	return engine.SettlementRow{}
}
