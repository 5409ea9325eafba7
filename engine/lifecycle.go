/*
lifecycle.go - Period lifecycle controller

PURPOSE:
  The state machine governing period creation, locking, ending,
  archiving, and restart:

      (none) ──create──▶ active ──end──▶ ended ──archive──▶ archived
                            ▲                │
                            └───restart──────┘ (new row, optionally
                                 archived too ─┘  seeded from the old one)

  Lock is an orthogonal flag on an active period that freezes its
  ledger; unlock clears it and lets the caller choose the resulting
  status.

GUARDS:
  Every mutation is authorization-gated by the caller's group role
  (admin/manager/moderator). Creating a period while one is active is
  rejected with a conflict error surfaced to the caller, never queued.
  Unauthorized attempts fail closed.

RESTART:
  Restart clones the old period's window shape into a fresh active
  period. With carry-forward enabled, each member's closing balance is
  written into the new period as an opening adjustment transaction, all
  inside one store transaction.

SEE ALSO:
  - period.go: State machine predicate
  - roles.go: CanManagePeriods
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Lifecycle runs period lifecycle mutations.
type Lifecycle struct {
	Store TxStore
	Roles RoleLookup
	Rate  RateOptions
}

func NewLifecycle(store TxStore, roles RoleLookup) *Lifecycle {
	return &Lifecycle{Store: store, Roles: roles}
}

// requireManager resolves the caller's role and fails closed unless it
// may manage periods.
func (lc *Lifecycle) requireManager(ctx context.Context, groupID GroupID, caller UserID, op string) error {
	role, err := lc.Roles.RoleOf(ctx, groupID, caller)
	if err != nil {
		return err
	}
	if !CanManagePeriods(role) {
		return &ForbiddenError{UserID: caller, Role: role, Operation: op}
	}
	return nil
}

// CreatePeriod opens a new active period for the group. For monthly
// groups with no explicit window, the current calendar month is used.
func (lc *Lifecycle) CreatePeriod(ctx context.Context, groupID GroupID, caller UserID, name string, start, end *Date) (*Period, error) {
	g, err := lc.Store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, ErrGroupNotFound
	}
	if err := lc.requireManager(ctx, groupID, caller, "create period"); err != nil {
		return nil, err
	}

	// Check-then-act here is a convenience for a precise error message;
	// the store's uniqueness constraint is what actually closes the race.
	active, err := lc.Store.ActivePeriod(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, &ConflictError{GroupID: groupID, PeriodID: active.ID, Rule: ErrActivePeriodExists}
	}

	p := Period{
		ID:        PeriodID(uuid.New().String()),
		GroupID:   groupID,
		Name:      name,
		Status:    PeriodActive,
		CreatedBy: caller,
		CreatedAt: time.Now().UTC(),
	}

	switch {
	case start != nil:
		p.Start = *start
		p.End = end
	case g.PeriodMode == PeriodModeMonthly:
		s, e := MonthWindow(Today())
		p.Start = s
		p.End = &e
		if p.Name == "" {
			p.Name = s.Time.Format("January 2006")
		}
	default:
		p.Start = Today()
	}

	if p.End != nil && p.End.Before(p.Start) {
		return nil, &ValidationError{Field: "end", Reason: "before start"}
	}

	if err := lc.Store.CreatePeriod(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Lock freezes the period's ledger. New ledger writes are rejected
// until unlock.
func (lc *Lifecycle) Lock(ctx context.Context, periodID PeriodID, caller UserID) (*Period, error) {
	p, err := lc.managedPeriod(ctx, periodID, caller, "lock period")
	if err != nil {
		return nil, err
	}
	if p.Status != PeriodActive {
		return nil, &ConflictError{GroupID: p.GroupID, PeriodID: p.ID, Rule: ErrInvalidTransition}
	}
	p.Locked = true
	if err := lc.Store.UpdatePeriod(ctx, *p); err != nil {
		return nil, err
	}
	return p, nil
}

// Unlock clears the lock flag. The caller chooses the resulting status:
// PeriodActive to resume, or PeriodEnded to close immediately.
func (lc *Lifecycle) Unlock(ctx context.Context, periodID PeriodID, caller UserID, resulting PeriodStatus) (*Period, error) {
	p, err := lc.managedPeriod(ctx, periodID, caller, "unlock period")
	if err != nil {
		return nil, err
	}
	if !p.Locked {
		return nil, &ConflictError{GroupID: p.GroupID, PeriodID: p.ID, Rule: ErrInvalidTransition}
	}
	if resulting != PeriodActive && resulting != PeriodEnded {
		return nil, &ValidationError{Field: "status", Reason: "must be active or ended"}
	}

	p.Locked = false
	if resulting == PeriodEnded && p.Status == PeriodActive {
		now := Today()
		p.Status = PeriodEnded
		if p.End == nil {
			p.End = &now
		}
	}
	if err := lc.Store.UpdatePeriod(ctx, *p); err != nil {
		return nil, err
	}
	return p, nil
}

// End closes an active period. The stored end date is the explicit one
// when given, otherwise today.
func (lc *Lifecycle) End(ctx context.Context, periodID PeriodID, caller UserID, endDate *Date) (*Period, error) {
	p, err := lc.managedPeriod(ctx, periodID, caller, "end period")
	if err != nil {
		return nil, err
	}
	if !canTransition(p.Status, PeriodEnded) {
		return nil, &ConflictError{GroupID: p.GroupID, PeriodID: p.ID, Rule: ErrInvalidTransition}
	}

	when := Today()
	if endDate != nil {
		when = *endDate
	}
	if when.Before(p.Start) {
		return nil, &ValidationError{Field: "end", Reason: "before start"}
	}

	p.Status = PeriodEnded
	p.End = &when
	p.Locked = false
	if err := lc.Store.UpdatePeriod(ctx, *p); err != nil {
		return nil, err
	}
	return p, nil
}

// Archive moves an ended period into its terminal, read-mostly state.
func (lc *Lifecycle) Archive(ctx context.Context, periodID PeriodID, caller UserID) (*Period, error) {
	p, err := lc.managedPeriod(ctx, periodID, caller, "archive period")
	if err != nil {
		return nil, err
	}
	if !canTransition(p.Status, PeriodArchived) {
		return nil, &ConflictError{GroupID: p.GroupID, PeriodID: p.ID, Rule: ErrInvalidTransition}
	}
	p.Status = PeriodArchived
	if err := lc.Store.UpdatePeriod(ctx, *p); err != nil {
		return nil, err
	}
	return p, nil
}

// Restart spawns a fresh active period from an ended or archived one.
// With carryForward, each member's closing balance becomes an opening
// adjustment transaction in the new period; period row and carry-forward
// rows commit atomically.
func (lc *Lifecycle) Restart(ctx context.Context, periodID PeriodID, caller UserID, carryForward bool) (*Period, error) {
	old, err := lc.managedPeriod(ctx, periodID, caller, "restart period")
	if err != nil {
		return nil, err
	}
	if old.Status == PeriodActive {
		return nil, &ConflictError{GroupID: old.GroupID, PeriodID: old.ID, Rule: ErrInvalidTransition}
	}

	active, err := lc.Store.ActivePeriod(ctx, old.GroupID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, &ConflictError{GroupID: old.GroupID, PeriodID: active.ID, Rule: ErrActivePeriodExists}
	}

	var closing []MemberBalance
	if carryForward {
		agg := NewSettlementAggregator(lc.Store, lc.Rate)
		summary, err := agg.Settle(ctx, old.ID)
		if err != nil {
			return nil, err
		}
		for _, row := range summary.Rows {
			if row.Balance.IsZero() {
				continue
			}
			closing = append(closing, MemberBalance{UserID: row.UserID, Available: row.Balance})
		}
	}

	next := Period{
		ID:        PeriodID(uuid.New().String()),
		GroupID:   old.GroupID,
		Name:      fmt.Sprintf("%s (restarted)", old.Name),
		Start:     Today(),
		Status:    PeriodActive,
		CreatedBy: caller,
		CreatedAt: time.Now().UTC(),
	}
	if old.End != nil {
		// Keep the old window length as the new period's template.
		e := next.Start.AddDays(DaysBetween(old.Start, *old.End))
		next.End = &e
	}

	err = lc.Store.WithTx(ctx, func(s Store) error {
		if err := s.CreatePeriod(ctx, next); err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, cb := range closing {
			tx := Transaction{
				ID:           TransactionID(uuid.New().String()),
				GroupID:      next.GroupID,
				PeriodID:     next.ID,
				CreatedBy:    caller,
				TargetUserID: cb.UserID,
				Type:         TxAdjustment,
				Amount:       cb.Available,
				Date:         next.Start,
				Note:         fmt.Sprintf("carried forward from %s", old.Name),
				CreatedAt:    now,
			}
			if err := s.AppendTransaction(ctx, tx); err != nil {
				return err
			}
			h := TransactionHistory{
				ID:            uuid.New().String(),
				TransactionID: tx.ID,
				GroupID:       tx.GroupID,
				PeriodID:      tx.PeriodID,
				TargetUserID:  tx.TargetUserID,
				Action:        HistoryCreated,
				Amount:        tx.Amount,
				ChangedBy:     caller,
				ChangedAt:     now,
			}
			if err := s.AppendHistory(ctx, h); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &next, nil
}

// managedPeriod loads the period and checks the caller's role.
func (lc *Lifecycle) managedPeriod(ctx context.Context, periodID PeriodID, caller UserID, op string) (*Period, error) {
	p, err := lc.Store.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPeriodNotFound
	}
	if err := lc.requireManager(ctx, p.GroupID, caller, op); err != nil {
		return nil, err
	}
	return p, nil
}
