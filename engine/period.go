package engine

import "time"

// =============================================================================
// PERIOD - Bounded accounting interval for a group
// =============================================================================

type PeriodStatus string

const (
	PeriodActive   PeriodStatus = "active"
	PeriodEnded    PeriodStatus = "ended"
	PeriodArchived PeriodStatus = "archived"
)

// Period is a bounded accounting interval owned by a group. All ledger
// entities (meals, guest meals, expenses, transactions, payments) are
// exclusively owned by their period.
//
// INVARIANT: at most one period per group may be active at any time.
// The lifecycle controller checks this before creation and the store
// backs it with a uniqueness constraint scoped to (group_id, active).
type Period struct {
	ID        PeriodID
	GroupID   GroupID
	Name      string
	Start     Date
	End       *Date // nil while open
	Status    PeriodStatus
	Locked    bool
	CreatedBy UserID
	CreatedAt time.Time
}

// Window returns the effective date range for ledger scoping. An open
// period's window runs through today.
func (p Period) Window() (from, to Date) {
	from = p.Start
	if p.End != nil {
		return from, *p.End
	}
	return from, Today()
}

// Contains reports whether the date falls inside the period's window.
func (p Period) Contains(d Date) bool {
	from, to := p.Window()
	return d.AfterOrEqual(from) && d.BeforeOrEqual(to)
}

// Writable reports whether new ledger entities may be attached. Locked
// and non-active periods are read-only.
func (p Period) Writable() bool {
	return p.Status == PeriodActive && !p.Locked
}

// canTransition encodes the lifecycle state machine:
//
//	active → ended → archived
//
// Lock/unlock are orthogonal to status and handled separately; restart
// creates a new row rather than transitioning the old one.
func canTransition(from, to PeriodStatus) bool {
	switch from {
	case PeriodActive:
		return to == PeriodEnded
	case PeriodEnded:
		return to == PeriodArchived
	default:
		return false
	}
}
