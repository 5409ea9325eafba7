/*
settlement.go - Per-member settlement summary

PURPOSE:
  Combines the rate and balance calculators into one row per current
  group member: meals consumed, cost owed, amount paid, net balance, and
  a Paid/Due status.

COMPLETENESS:
  Every current member gets a row, including members with zero meals and
  zero transactions in the period.

STATUS TIE-BREAK:
  A net balance of exactly zero is "Paid". Only strictly negative
  balances are "Due".

PERFORMANCE:
  Built from one batched read per entity type via Ledger.Activity plus
  one member-list read. No per-member queries.
*/
package engine

import (
	"context"
	"sort"
)

type SettlementStatus string

const (
	StatusPaid SettlementStatus = "Paid"
	StatusDue  SettlementStatus = "Due"
)

// SettlementRow is one member's line in the period settlement.
type SettlementRow struct {
	UserID    UserID
	MealCount int
	Cost      Amount // MealCount * mealRate
	Paid      Amount
	Balance   Amount // signed tx sum - Cost
	Status    SettlementStatus
}

// SettlementSummary is the full per-member breakdown for a group+period.
type SettlementSummary struct {
	GroupID  GroupID
	PeriodID PeriodID
	Rate     MealRateReport
	Rows     []SettlementRow
}

// SettlementAggregator produces period settlements.
type SettlementAggregator struct {
	Store  Store
	Ledger *Ledger
	Rate   RateOptions
}

func NewSettlementAggregator(store TxStore, opts RateOptions) *SettlementAggregator {
	return &SettlementAggregator{Store: store, Ledger: NewLedger(store), Rate: opts}
}

// Settle computes the settlement summary for a period. Rows are sorted
// by user ID for stable output.
func (sa *SettlementAggregator) Settle(ctx context.Context, periodID PeriodID) (*SettlementSummary, error) {
	p, err := sa.Store.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPeriodNotFound
	}

	members, err := sa.Store.ListMembers(ctx, p.GroupID)
	if err != nil {
		return nil, err
	}

	act, err := sa.Ledger.Activity(ctx, periodID)
	if err != nil {
		return nil, err
	}

	summary := &SettlementSummary{
		GroupID:  p.GroupID,
		PeriodID: p.ID,
		Rate:     MealRate(act.Totals, sa.Rate),
		Rows:     make([]SettlementRow, 0, len(members)),
	}

	for _, m := range members {
		mb := memberBalance(periodID, m.UserID, act, sa.Rate)

		status := StatusPaid
		if mb.Available.IsNegative() {
			status = StatusDue
		}

		summary.Rows = append(summary.Rows, SettlementRow{
			UserID:    m.UserID,
			MealCount: mb.MealCount,
			Cost:      mb.MealCost,
			Paid:      mb.Paid,
			Balance:   mb.Available,
			Status:    status,
		})
	}

	sort.Slice(summary.Rows, func(i, j int) bool {
		return summary.Rows[i].UserID < summary.Rows[j].UserID
	})

	return summary, nil
}
