/*
ledger.go - Period-scoped ledger reader and guarded writer

PURPOSE:
  The Ledger wraps the store with the two behaviors every caller needs:

  READING: aggregation over the period's meals, guest meals, expenses,
  and transactions. Each read is one batched query per entity type; the
  per-user grouping happens in memory. Downstream calculators (rate,
  balance, settlement) consume these aggregates, never the store.

  WRITING: the lock guard. Once a period is locked or leaves the active
  state, no new ledger entity may be attached. Every write re-reads the
  period and fails closed with a conflict error.

CORRECTIONS:
  Transactions are never edited in place. Reversing one appends a new
  transaction with the opposite sign plus a history row; both remain
  visible to recomputation, so cached balances can always be rebuilt.

ATOMICITY:
  A transaction and its audit row commit in one store transaction. A
  ledger row without its history entry must never be observable.

SEE ALSO:
  - rate.go: Consumes LedgerTotals
  - settlement.go: Consumes PeriodActivity
  - store.go: Underlying persistence contract
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// AGGREGATES
// =============================================================================

// LedgerTotals are the period-wide sums the rate calculator consumes.
type LedgerTotals struct {
	MealCount        int    // meal rows + guest meal counts
	OtherExpenses    Amount // extras
	ShoppingExpenses Amount // shopping runs, reported separately
}

// PeriodActivity is the batched, per-user view of a period's ledger.
// Built from exactly one read per entity type.
type PeriodActivity struct {
	Totals       LedgerTotals
	MealsByUser  map[UserID]int
	PaidByUser   map[UserID]Amount // payment-type transactions only
	TxSumByUser  map[UserID]Amount // signed sum of all transactions
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store TxStore
}

func NewLedger(store TxStore) *Ledger {
	return &Ledger{Store: store}
}

// Activity loads the period's full ledger in four batched reads and
// groups it per user.
func (l *Ledger) Activity(ctx context.Context, periodID PeriodID) (PeriodActivity, error) {
	act := PeriodActivity{
		Totals: LedgerTotals{
			OtherExpenses:    ZeroAmount(),
			ShoppingExpenses: ZeroAmount(),
		},
		MealsByUser: make(map[UserID]int),
		PaidByUser:  make(map[UserID]Amount),
		TxSumByUser: make(map[UserID]Amount),
	}

	meals, err := l.Store.MealsInPeriod(ctx, periodID)
	if err != nil {
		return act, fmt.Errorf("load meals: %w", err)
	}
	for _, m := range meals {
		act.Totals.MealCount++
		act.MealsByUser[m.UserID]++
	}

	guestMeals, err := l.Store.GuestMealsInPeriod(ctx, periodID)
	if err != nil {
		return act, fmt.Errorf("load guest meals: %w", err)
	}
	for _, gm := range guestMeals {
		act.Totals.MealCount += gm.Count
		act.MealsByUser[gm.UserID] += gm.Count
	}

	expenses, err := l.Store.ExpensesInPeriod(ctx, periodID)
	if err != nil {
		return act, fmt.Errorf("load expenses: %w", err)
	}
	for _, e := range expenses {
		switch e.Kind {
		case ExpenseShopping:
			act.Totals.ShoppingExpenses = act.Totals.ShoppingExpenses.Add(e.Amount)
		default:
			act.Totals.OtherExpenses = act.Totals.OtherExpenses.Add(e.Amount)
		}
	}

	txs, err := l.Store.TransactionsInPeriod(ctx, periodID)
	if err != nil {
		return act, fmt.Errorf("load transactions: %w", err)
	}
	for _, tx := range txs {
		sum, ok := act.TxSumByUser[tx.TargetUserID]
		if !ok {
			sum = ZeroAmount()
		}
		act.TxSumByUser[tx.TargetUserID] = sum.Add(tx.Amount)

		if tx.Type == TxPayment {
			paid, ok := act.PaidByUser[tx.TargetUserID]
			if !ok {
				paid = ZeroAmount()
			}
			act.PaidByUser[tx.TargetUserID] = paid.Add(tx.Amount)
		}
	}

	return act, nil
}

// Totals loads just the period-wide sums.
func (l *Ledger) Totals(ctx context.Context, periodID PeriodID) (LedgerTotals, error) {
	act, err := l.Activity(ctx, periodID)
	if err != nil {
		return LedgerTotals{}, err
	}
	return act.Totals, nil
}

// =============================================================================
// GUARDED WRITES
// =============================================================================

// writablePeriod loads the period and rejects writes when it is locked
// or no longer active.
func (l *Ledger) writablePeriod(ctx context.Context, periodID PeriodID) (*Period, error) {
	p, err := l.Store.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPeriodNotFound
	}
	if p.Locked {
		return nil, &ConflictError{GroupID: p.GroupID, PeriodID: p.ID, Rule: ErrPeriodLocked}
	}
	if p.Status != PeriodActive {
		return nil, &ConflictError{GroupID: p.GroupID, PeriodID: p.ID, Rule: ErrPeriodNotActive}
	}
	return p, nil
}

// AddMeal records a member's meal-slot claim.
func (l *Ledger) AddMeal(ctx context.Context, periodID PeriodID, userID UserID, date Date, slot MealSlot) (*Meal, error) {
	if !slot.Valid() {
		return nil, &ValidationError{Field: "slot", Reason: "must be breakfast, lunch, or dinner"}
	}
	p, err := l.writablePeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}

	m := Meal{
		ID:        uuid.New().String(),
		GroupID:   p.GroupID,
		PeriodID:  p.ID,
		UserID:    userID,
		Date:      date,
		Slot:      slot,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.Store.AddMeal(ctx, m); err != nil {
		return nil, err
	}
	return &m, nil
}

// AddGuestMeal records guest portions on a date/slot.
func (l *Ledger) AddGuestMeal(ctx context.Context, periodID PeriodID, userID UserID, date Date, slot MealSlot, count int) (*GuestMeal, error) {
	if !slot.Valid() {
		return nil, &ValidationError{Field: "slot", Reason: "must be breakfast, lunch, or dinner"}
	}
	if count <= 0 {
		return nil, &ValidationError{Field: "count", Reason: "must be positive"}
	}
	p, err := l.writablePeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}

	gm := GuestMeal{
		ID:        uuid.New().String(),
		GroupID:   p.GroupID,
		PeriodID:  p.ID,
		UserID:    userID,
		Date:      date,
		Slot:      slot,
		Count:     count,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.Store.AddGuestMeal(ctx, gm); err != nil {
		return nil, err
	}
	return &gm, nil
}

// AddExpense records a cost entry.
func (l *Ledger) AddExpense(ctx context.Context, periodID PeriodID, userID UserID, kind ExpenseKind, amount Amount, date Date, description string) (*Expense, error) {
	if amount.IsNegative() || amount.IsZero() {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	p, err := l.writablePeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}

	e := Expense{
		ID:          uuid.New().String(),
		GroupID:     p.GroupID,
		PeriodID:    p.ID,
		UserID:      userID,
		Kind:        kind,
		Amount:      amount,
		Date:        date,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := l.Store.AddExpense(ctx, e); err != nil {
		return nil, err
	}
	return &e, nil
}

// AppendTransaction records a signed movement targeting a member,
// capability-gated by the creator's role, and mirrors it into the
// history log.
func (l *Ledger) AppendTransaction(ctx context.Context, roles RoleLookup, periodID PeriodID, createdBy, target UserID, txType TransactionType, amount Amount, date Date, note string) (*Transaction, error) {
	if amount.IsZero() {
		return nil, &ValidationError{Field: "amount", Reason: "must be non-zero"}
	}
	p, err := l.writablePeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}

	role, err := roles.RoleOf(ctx, p.GroupID, createdBy)
	if err != nil {
		return nil, err
	}
	if !Allowed(role, txType) {
		return nil, &ForbiddenError{UserID: createdBy, Role: role, Operation: fmt.Sprintf("create %s transaction", txType)}
	}

	tx := Transaction{
		ID:           TransactionID(uuid.New().String()),
		GroupID:      p.GroupID,
		PeriodID:     p.ID,
		CreatedBy:    createdBy,
		TargetUserID: target,
		Type:         txType,
		Amount:       amount,
		Date:         date,
		Note:         note,
		CreatedAt:    time.Now().UTC(),
	}
	h := historyRow(tx, HistoryCreated, createdBy, tx.CreatedAt)

	err = l.Store.WithTx(ctx, func(s Store) error {
		if err := s.AppendTransaction(ctx, tx); err != nil {
			return err
		}
		return s.AppendHistory(ctx, h)
	})
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// ReverseTransaction appends an opposite-sign transaction and a history
// row marking the original as reversed. The original stays in the log.
func (l *Ledger) ReverseTransaction(ctx context.Context, roles RoleLookup, txID TransactionID, changedBy UserID, note string) (*Transaction, error) {
	orig, err := l.Store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if orig == nil {
		return nil, ErrTransactionNotFound
	}

	p, err := l.writablePeriod(ctx, orig.PeriodID)
	if err != nil {
		return nil, err
	}
	role, err := roles.RoleOf(ctx, p.GroupID, changedBy)
	if err != nil {
		return nil, err
	}
	if !Allowed(role, TxAdjustment) {
		return nil, &ForbiddenError{UserID: changedBy, Role: role, Operation: "reverse transaction"}
	}

	rev := Transaction{
		ID:           TransactionID(uuid.New().String()),
		GroupID:      p.GroupID,
		PeriodID:     p.ID,
		CreatedBy:    changedBy,
		TargetUserID: orig.TargetUserID,
		Type:         TxAdjustment,
		Amount:       orig.Amount.Neg(),
		Date:         Today(),
		Note:         note,
		CreatedAt:    time.Now().UTC(),
	}
	created := historyRow(rev, HistoryCreated, changedBy, rev.CreatedAt)
	reversed := historyRow(*orig, HistoryReversed, changedBy, rev.CreatedAt)

	err = l.Store.WithTx(ctx, func(s Store) error {
		if err := s.AppendTransaction(ctx, rev); err != nil {
			return err
		}
		if err := s.AppendHistory(ctx, created); err != nil {
			return err
		}
		return s.AppendHistory(ctx, reversed)
	})
	if err != nil {
		return nil, err
	}
	return &rev, nil
}

// historyRow builds the audit entry mirroring a transaction.
func historyRow(tx Transaction, action HistoryAction, changedBy UserID, at time.Time) TransactionHistory {
	return TransactionHistory{
		ID:            uuid.New().String(),
		TransactionID: tx.ID,
		GroupID:       tx.GroupID,
		PeriodID:      tx.PeriodID,
		TargetUserID:  tx.TargetUserID,
		Action:        action,
		Amount:        tx.Amount,
		ChangedBy:     changedBy,
		ChangedAt:     at,
	}
}

// RecordPayment stores a member-facing payment record.
func (l *Ledger) RecordPayment(ctx context.Context, periodID PeriodID, userID UserID, method string, amount Amount, date Date) (*Payment, error) {
	if amount.IsNegative() || amount.IsZero() {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	p, err := l.writablePeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}

	pay := Payment{
		ID:        uuid.New().String(),
		GroupID:   p.GroupID,
		PeriodID:  p.ID,
		UserID:    userID,
		Method:    method,
		Status:    PaymentConfirmed,
		Amount:    amount,
		Date:      date,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.Store.SavePayment(ctx, pay); err != nil {
		return nil, err
	}
	return &pay, nil
}
