package engine_test

import (
	"testing"

	"github.com/mealsphere/settlement-engine/engine"
)

func TestMealRate_ZeroMeals_RateIsZero(t *testing.T) {
	// GIVEN: Expenses recorded but no meals
	// WHEN: Deriving the rate
	// THEN: Rate is zero, never NaN or infinity

	totals := engine.LedgerTotals{
		MealCount:        0,
		OtherExpenses:    amt(1500),
		ShoppingExpenses: amt(200),
	}

	report := engine.MealRate(totals, engine.RateOptions{})

	if !report.Rate.IsZero() {
		t.Errorf("expected zero rate with zero meals, got %s", report.Rate)
	}
	if !report.OtherExpenses.Equal(amt(1500)) {
		t.Errorf("expected expenses reported unchanged, got %s", report.OtherExpenses)
	}
}

func TestMealRate_DividesExpensesByMeals(t *testing.T) {
	// GIVEN: 600 in expenses across 20 meals
	// WHEN: Deriving the rate
	// THEN: Rate is 30 per meal

	totals := engine.LedgerTotals{
		MealCount:        20,
		OtherExpenses:    amt(600),
		ShoppingExpenses: engine.ZeroAmount(),
	}

	report := engine.MealRate(totals, engine.RateOptions{})

	if !report.Rate.Equal(amt(30)) {
		t.Errorf("expected rate 30, got %s", report.Rate)
	}
	if report.TotalMeals != 20 {
		t.Errorf("expected 20 meals, got %d", report.TotalMeals)
	}
}

func TestMealRate_ShoppingExcludedByDefault(t *testing.T) {
	// GIVEN: 600 extras and 400 shopping across 20 meals
	// WHEN: Deriving the rate with default options
	// THEN: Only extras feed the rate; shopping is reported separately

	totals := engine.LedgerTotals{
		MealCount:        20,
		OtherExpenses:    amt(600),
		ShoppingExpenses: amt(400),
	}

	report := engine.MealRate(totals, engine.RateOptions{})

	if !report.Rate.Equal(amt(30)) {
		t.Errorf("expected rate 30 (shopping excluded), got %s", report.Rate)
	}
	if !report.ShoppingExpenses.Equal(amt(400)) {
		t.Errorf("expected shopping reported as 400, got %s", report.ShoppingExpenses)
	}
}

func TestMealRate_IncludeShoppingFoldsItIn(t *testing.T) {
	// GIVEN: 600 extras and 400 shopping across 20 meals
	// WHEN: Deriving the rate with IncludeShopping
	// THEN: Rate is (600+400)/20 = 50

	totals := engine.LedgerTotals{
		MealCount:        20,
		OtherExpenses:    amt(600),
		ShoppingExpenses: amt(400),
	}

	report := engine.MealRate(totals, engine.RateOptions{IncludeShopping: true})

	if !report.Rate.Equal(amt(50)) {
		t.Errorf("expected rate 50 (shopping included), got %s", report.Rate)
	}
}

func TestMealRate_FractionalRateKeepsPrecision(t *testing.T) {
	// GIVEN: 100 in expenses across 3 meals
	// WHEN: Deriving the rate
	// THEN: Rate times meal count recovers the expenses within decimal
	//       precision, with no float drift

	totals := engine.LedgerTotals{
		MealCount:        3,
		OtherExpenses:    amt(100),
		ShoppingExpenses: engine.ZeroAmount(),
	}

	report := engine.MealRate(totals, engine.RateOptions{})

	recovered := report.Rate.Mul(engine.NewAmountFromInt(3).Value)
	diff := recovered.Sub(amt(100))
	if diff.IsNegative() {
		diff = diff.Neg()
	}
	if !diff.Sub(amt(0.0001)).IsNegative() {
		t.Errorf("rate*meals drifted from expenses: got %s", recovered)
	}
}
