package engine_test

import (
	"testing"

	"github.com/mealsphere/settlement-engine/engine"
)

// =============================================================================
// SETTLEMENT SUMMARY TESTS
// =============================================================================

func TestSettlement_EveryMemberGetsARow(t *testing.T) {
	// GIVEN: A group of four where only alice logged any activity
	// WHEN: Settling the period
	// THEN: All four members appear, the idle ones with zero rows

	f := newFixture(t)
	f.mustMeals(t, alice, 5)
	f.mustExpense(t, alice, engine.ExpenseExtra, 500)

	summary := f.settle(t)

	if len(summary.Rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(summary.Rows))
	}
	idle := f.row(t, summary, carol)
	if idle.MealCount != 0 || !idle.Cost.IsZero() || !idle.Paid.IsZero() {
		t.Errorf("expected zero row for idle member, got %+v", idle)
	}
	if idle.Status != engine.StatusPaid {
		t.Errorf("zero balance must be Paid, got %s", idle.Status)
	}
}

func TestSettlement_RowsSortedByUserID(t *testing.T) {
	// GIVEN: Members with mixed activity
	// WHEN: Settling the period
	// THEN: Rows come back in user-ID order, stable across runs

	f := newFixture(t)
	f.mustMeals(t, carol, 2)
	f.mustMeals(t, alice, 1)

	summary := f.settle(t)

	for i := 1; i < len(summary.Rows); i++ {
		if summary.Rows[i-1].UserID >= summary.Rows[i].UserID {
			t.Fatalf("rows not sorted: %s before %s", summary.Rows[i-1].UserID, summary.Rows[i].UserID)
		}
	}
}

func TestSettlement_ExactPaymentIsPaid(t *testing.T) {
	// GIVEN: Alice ate 5 of 10 meals at rate 100 and paid exactly 500
	// WHEN: Settling the period
	// THEN: Her balance is exactly zero and her status is Paid

	f := newFixture(t)
	f.mustMeals(t, alice, 5)
	f.mustMeals(t, bob, 5)
	f.mustExpense(t, admin, engine.ExpenseExtra, 1000) // rate 100
	f.mustPay(t, alice, 500)

	row := f.row(t, f.settle(t), alice)

	if !row.Balance.IsZero() {
		t.Errorf("expected zero balance, got %s", row.Balance)
	}
	if row.Status != engine.StatusPaid {
		t.Errorf("zero balance must be Paid, got %s", row.Status)
	}
}

func TestSettlement_UnderpaidIsDue(t *testing.T) {
	// GIVEN: Bob owes 500 and paid 200
	// WHEN: Settling the period
	// THEN: His balance is -300 and his status is Due

	f := newFixture(t)
	f.mustMeals(t, alice, 5)
	f.mustMeals(t, bob, 5)
	f.mustExpense(t, admin, engine.ExpenseExtra, 1000)
	f.mustPay(t, bob, 200)

	row := f.row(t, f.settle(t), bob)

	if !row.Balance.Equal(amt(-300)) {
		t.Errorf("expected balance -300, got %s", row.Balance)
	}
	if row.Status != engine.StatusDue {
		t.Errorf("negative balance must be Due, got %s", row.Status)
	}
}

func TestSettlement_OverpaidIsPaid(t *testing.T) {
	// GIVEN: Alice owes 500 and paid 700
	// WHEN: Settling the period
	// THEN: Her balance is +200 and her status is Paid

	f := newFixture(t)
	f.mustMeals(t, alice, 5)
	f.mustMeals(t, bob, 5)
	f.mustExpense(t, admin, engine.ExpenseExtra, 1000)
	f.mustPay(t, alice, 700)

	row := f.row(t, f.settle(t), alice)

	if !row.Balance.Equal(amt(200)) {
		t.Errorf("expected balance 200, got %s", row.Balance)
	}
	if row.Status != engine.StatusPaid {
		t.Errorf("positive balance must be Paid, got %s", row.Status)
	}
}

func TestSettlement_CarriesRateReport(t *testing.T) {
	// GIVEN: 10 meals and 1000 in extras
	// WHEN: Settling the period
	// THEN: The summary embeds the rate report the rows were priced with

	f := newFixture(t)
	f.mustMeals(t, alice, 4)
	f.mustMeals(t, bob, 6)
	f.mustExpense(t, admin, engine.ExpenseExtra, 1000)

	summary := f.settle(t)

	if !summary.Rate.Rate.Equal(amt(100)) {
		t.Errorf("expected rate 100, got %s", summary.Rate.Rate)
	}
	if summary.Rate.TotalMeals != 10 {
		t.Errorf("expected 10 meals in rate report, got %d", summary.Rate.TotalMeals)
	}
}

// =============================================================================
// MEMBER BALANCE TESTS
// =============================================================================

func TestBalance_NoActivity_AllZero(t *testing.T) {
	// GIVEN: A fresh period with no ledger rows
	// WHEN: Computing a member's balance
	// THEN: Everything is zero

	f := newFixture(t)
	calc := engine.BalanceCalculator{Ledger: f.ledger}

	mb, err := calc.Balance(f.ctx, f.period.ID, alice)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}

	if !mb.Balance.IsZero() || !mb.Paid.IsZero() || !mb.MealCost.IsZero() || !mb.Available.IsZero() {
		t.Errorf("expected all-zero balance, got %+v", mb)
	}
	if mb.MealCount != 0 {
		t.Errorf("expected 0 meals, got %d", mb.MealCount)
	}
}

func TestBalance_MealsAndPayment(t *testing.T) {
	// GIVEN: Alice ate 5 of 10 meals at rate 100 and paid 300
	// WHEN: Computing her balance
	// THEN: Cost 500, paid 300, available -200

	f := newFixture(t)
	f.mustMeals(t, alice, 5)
	f.mustMeals(t, bob, 5)
	f.mustExpense(t, admin, engine.ExpenseExtra, 1000)
	f.mustPay(t, alice, 300)

	calc := engine.BalanceCalculator{Ledger: f.ledger}
	mb, err := calc.Balance(f.ctx, f.period.ID, alice)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}

	if mb.MealCount != 5 {
		t.Errorf("expected 5 meals, got %d", mb.MealCount)
	}
	if !mb.MealCost.Equal(amt(500)) {
		t.Errorf("expected cost 500, got %s", mb.MealCost)
	}
	if !mb.Paid.Equal(amt(300)) {
		t.Errorf("expected paid 300, got %s", mb.Paid)
	}
	if !mb.Available.Equal(amt(-200)) {
		t.Errorf("expected available -200, got %s", mb.Available)
	}
}

func TestBalance_GuestMealsCountTowardCost(t *testing.T) {
	// GIVEN: Alice ate 2 meals and brought 3 guest portions; 5 meals
	//        total at rate 100
	// WHEN: Computing her balance
	// THEN: Her meal count is 5 and her cost 500

	f := newFixture(t)
	f.mustMeals(t, alice, 2)
	if _, err := f.ledger.AddGuestMeal(f.ctx, f.period.ID, alice, day(3), engine.SlotDinner, 3); err != nil {
		t.Fatalf("add guest meal: %v", err)
	}
	f.mustExpense(t, admin, engine.ExpenseExtra, 500)

	calc := engine.BalanceCalculator{Ledger: f.ledger}
	mb, err := calc.Balance(f.ctx, f.period.ID, alice)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}

	if mb.MealCount != 5 {
		t.Errorf("expected 5 meals incl. guests, got %d", mb.MealCount)
	}
	if !mb.MealCost.Equal(amt(500)) {
		t.Errorf("expected cost 500, got %s", mb.MealCost)
	}
}

func TestBalance_AdjustmentsMoveBalanceButNotPaid(t *testing.T) {
	// GIVEN: An admin charge of -400 against bob and a bob payment of 100
	// WHEN: Computing bob's balance
	// THEN: Balance sums both (-300); Paid counts only the payment

	f := newFixture(t)
	if _, err := f.ledger.AppendTransaction(f.ctx, f.roles, f.period.ID, admin, bob, engine.TxCharge, amt(-400), day(2), "damage"); err != nil {
		t.Fatalf("append charge: %v", err)
	}
	f.mustPay(t, bob, 100)

	calc := engine.BalanceCalculator{Ledger: f.ledger}
	mb, err := calc.Balance(f.ctx, f.period.ID, bob)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}

	if !mb.Balance.Equal(amt(-300)) {
		t.Errorf("expected balance -300, got %s", mb.Balance)
	}
	if !mb.Paid.Equal(amt(100)) {
		t.Errorf("expected paid 100, got %s", mb.Paid)
	}
}
