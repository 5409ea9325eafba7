/*
store.go - Persistence interfaces for the settlement engine

PURPOSE:
  Defines the interface between the domain logic and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory
  storage. The engine never touches SQL directly.

KEY INTERFACES:
  GroupStore:  Groups and memberships
  PeriodStore: Billing periods (enforces the single-active invariant)
  LedgerStore: Ledger entities, with one batched read per entity type
  Store:       All of the above
  TxStore:     Store with multi-statement transaction support

READ CONTRACT:
  The *InPeriod methods return every row for the period in one query.
  The settlement aggregator relies on this: it must never fan out to
  per-member queries (the N+1 trap the original system avoided).

WRITE CONTRACT:
  Transactions and history rows are append-only at this layer; there are
  no update or delete methods for them. Corrections append a new typed
  transaction plus a history row.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite
  - engine/store: In-memory for tests and development

SEE ALSO:
  - ledger.go: Higher-level reader/writer using Store
  - lifecycle.go: Period mutations via PeriodStore
*/
package engine

import "context"

// =============================================================================
// GROUP STORE
// =============================================================================

type GroupStore interface {
	SaveGroup(ctx context.Context, g Group) error

	// GetGroup returns nil, nil when the group does not exist.
	GetGroup(ctx context.Context, id GroupID) (*Group, error)

	// DeleteGroup removes the group and cascades to all owned periods
	// and their ledger entities.
	DeleteGroup(ctx context.Context, id GroupID) error

	// ListGroups returns every active group. The rollover scheduler
	// sweeps this list.
	ListGroups(ctx context.Context) ([]Group, error)

	SaveMembership(ctx context.Context, m Membership) error
	GetMembership(ctx context.Context, groupID GroupID, userID UserID) (*Membership, error)

	// ListMembers returns the group's current active members.
	ListMembers(ctx context.Context, groupID GroupID) ([]Membership, error)
}

// =============================================================================
// PERIOD STORE
// =============================================================================

type PeriodStore interface {
	// CreatePeriod inserts a new period. Returns ErrActivePeriodExists
	// when the group already has an active period; backed by a store
	// uniqueness constraint, not just a pre-insert check.
	CreatePeriod(ctx context.Context, p Period) error

	GetPeriod(ctx context.Context, id PeriodID) (*Period, error)

	// UpdatePeriod persists status, end date, and lock flag changes.
	UpdatePeriod(ctx context.Context, p Period) error

	ListPeriods(ctx context.Context, groupID GroupID) ([]Period, error)

	// ActivePeriod returns the group's active period, or nil when none.
	ActivePeriod(ctx context.Context, groupID GroupID) (*Period, error)
}

// =============================================================================
// LEDGER STORE
// =============================================================================

type LedgerStore interface {
	AddMeal(ctx context.Context, m Meal) error
	AddGuestMeal(ctx context.Context, gm GuestMeal) error
	AddExpense(ctx context.Context, e Expense) error
	AppendTransaction(ctx context.Context, tx Transaction) error
	AppendHistory(ctx context.Context, h TransactionHistory) error
	SavePayment(ctx context.Context, p Payment) error

	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// Batched period-scoped reads. One query per entity type.
	MealsInPeriod(ctx context.Context, periodID PeriodID) ([]Meal, error)
	GuestMealsInPeriod(ctx context.Context, periodID PeriodID) ([]GuestMeal, error)
	ExpensesInPeriod(ctx context.Context, periodID PeriodID) ([]Expense, error)
	TransactionsInPeriod(ctx context.Context, periodID PeriodID) ([]Transaction, error)
	PaymentsInPeriod(ctx context.Context, periodID PeriodID) ([]Payment, error)

	HistoryForUser(ctx context.Context, periodID PeriodID, userID UserID) ([]TransactionHistory, error)
}

// =============================================================================
// COMBINED INTERFACES
// =============================================================================

type Store interface {
	GroupStore
	PeriodStore
	LedgerStore
}

// TxStore wraps Store with multi-statement transaction support. Use it
// when two writes must succeed or fail together (e.g. create membership
// + increment member count, restart with balance carry-forward).
type TxStore interface {
	Store

	// WithTx executes fn within a store-level transaction. If fn returns
	// an error the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// ROLE LOOKUP - External authorization capability
// =============================================================================

// RoleLookup resolves a caller's role within a group. The lifecycle
// controller consumes this; it does not implement role storage itself.
type RoleLookup interface {
	RoleOf(ctx context.Context, groupID GroupID, userID UserID) (Role, error)
}

// MembershipRoles adapts a GroupStore into a RoleLookup.
type MembershipRoles struct {
	Store GroupStore
}

func (mr MembershipRoles) RoleOf(ctx context.Context, groupID GroupID, userID UserID) (Role, error) {
	m, err := mr.Store.GetMembership(ctx, groupID, userID)
	if err != nil {
		return "", err
	}
	if m == nil || !m.Active {
		return "", ErrMemberNotFound
	}
	return m.Role, nil
}
