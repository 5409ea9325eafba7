/*
rate.go - Meal rate derivation

PURPOSE:
  Derives the per-meal cost rate for a period:

      mealRate = totalExpenses / totalMeals

  totalMeals counts meal rows plus guest meal portions. With zero meals
  the rate is zero; a zero divisor must never leak a NaN or infinity
  into downstream balances.

SHOPPING EXPENSES:
  Shopping-run costs are tracked but excluded from the rate by default;
  they are reported separately so the group can see both figures. Set
  IncludeShopping to fold them back in (the legacy behavior).
*/
package engine

// RateOptions controls which expense classes feed the meal rate.
type RateOptions struct {
	IncludeShopping bool
}

// MealRateReport is the rate plus the inputs it was derived from.
type MealRateReport struct {
	Rate             Amount
	TotalMeals       int
	OtherExpenses    Amount
	ShoppingExpenses Amount
}

// MealRate computes the per-meal rate from period totals. Pure function
// of ledger state; safe to memoize per (group, period).
func MealRate(totals LedgerTotals, opts RateOptions) MealRateReport {
	report := MealRateReport{
		Rate:             ZeroAmount(),
		TotalMeals:       totals.MealCount,
		OtherExpenses:    totals.OtherExpenses,
		ShoppingExpenses: totals.ShoppingExpenses,
	}

	if totals.MealCount == 0 {
		return report
	}

	expenses := totals.OtherExpenses
	if opts.IncludeShopping {
		expenses = expenses.Add(totals.ShoppingExpenses)
	}
	report.Rate = expenses.Div(NewAmountFromInt(totals.MealCount).Value)
	return report
}
