/*
balance.go - Member balance from the transaction log

PURPOSE:
  A member's period balance is the signed sum of every transaction
  targeting them in that period. The calculator is agnostic about sign
  conventions: payments carry positive amounts, charges negative, and it
  sums whatever is there.

GUARANTEE:
  Recomputing from the transaction log always matches any cached value.
  The cache layer is a pure optimization, never a source of truth.
*/
package engine

import "context"

// MemberBalance is one member's position within a period.
type MemberBalance struct {
	UserID   UserID
	PeriodID PeriodID

	// Signed sum of all transactions targeting the user.
	Balance Amount

	// Payment-type transactions only.
	Paid Amount

	// Meal rows + guest meal portions the user consumed.
	MealCount int

	// MealCount * mealRate.
	MealCost Amount

	// Balance - MealCost.
	Available Amount
}

// BalanceCalculator computes member balances from ledger activity.
type BalanceCalculator struct {
	Ledger *Ledger
	Rate   RateOptions
}

// Balance computes one member's position for a period. Loads the full
// period activity; when computing for many members at once, use the
// settlement aggregator instead.
func (bc *BalanceCalculator) Balance(ctx context.Context, periodID PeriodID, userID UserID) (MemberBalance, error) {
	act, err := bc.Ledger.Activity(ctx, periodID)
	if err != nil {
		return MemberBalance{}, err
	}
	return memberBalance(periodID, userID, act, bc.Rate), nil
}

// memberBalance derives a single member's position from already-loaded
// activity. Pure.
func memberBalance(periodID PeriodID, userID UserID, act PeriodActivity, opts RateOptions) MemberBalance {
	rate := MealRate(act.Totals, opts)

	balance, ok := act.TxSumByUser[userID]
	if !ok {
		balance = ZeroAmount()
	}
	paid, ok := act.PaidByUser[userID]
	if !ok {
		paid = ZeroAmount()
	}

	mealCount := act.MealsByUser[userID]
	mealCost := rate.Rate.Mul(NewAmountFromInt(mealCount).Value)

	return MemberBalance{
		UserID:    userID,
		PeriodID:  periodID,
		Balance:   balance,
		Paid:      paid,
		MealCount: mealCount,
		MealCost:  mealCost,
		Available: balance.Sub(mealCost),
	}
}
