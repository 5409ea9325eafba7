/*
Package engine provides the core settlement engine for shared-living groups.

PURPOSE:
  This package contains the domain types and algorithms for meal-based
  cost sharing: roommates in a group log meals and expenses within a
  billing period, and the engine derives the per-meal rate, each member's
  balance, and a per-member settlement summary.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A monetary quantity backed by decimal.Decimal
  - Transaction: A signed monetary movement targeting a member
  - Meal/GuestMeal/Expense: Ledger entities owned by a Period
  - Group/Membership: The shared-living unit and its members

DESIGN PRINCIPLES:
  1. Derivation: Balances are always recomputable from the transaction log
  2. Precision: decimal.Decimal everywhere, no float money
  3. Type Safety: Distinct ID types for groups, periods, users
  4. Auditability: Transaction mutations append history, never rewrite

SEE ALSO:
  - period.go: Billing period entity and window calculation
  - rate.go: Meal rate derivation
  - settlement.go: Per-member settlement rows
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Monetary quantity
// =============================================================================

type Amount struct {
	Value decimal.Decimal
}

func NewAmount(value float64) Amount   { return Amount{Value: decimal.NewFromFloat(value)} }
func NewAmountFromInt(value int) Amount { return Amount{Value: decimal.NewFromInt(int64(value))} }
func ZeroAmount() Amount               { return Amount{Value: decimal.Zero} }

func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, err
	}
	return Amount{Value: d}, nil
}

func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s)} }
func (a Amount) Div(s decimal.Decimal) Amount { return Amount{Value: a.Value.Div(s)} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg()} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }
func (a Amount) String() string               { return a.Value.String() }

// Float64 returns the amount as a float64 for display purposes only.
// Never feed the result back into balance arithmetic.
func (a Amount) Float64() float64 {
	f, _ := a.Value.Float64()
	return f
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type GroupID string
type PeriodID string
type UserID string
type TransactionID string

// =============================================================================
// GROUP & MEMBERSHIP
// =============================================================================

// PeriodMode controls how new periods derive their date window.
type PeriodMode string

const (
	PeriodModeMonthly PeriodMode = "monthly" // calendar month windows
	PeriodModeCustom  PeriodMode = "custom"  // explicit start/end
)

// Group is a shared-living unit whose members jointly track meals and
// expenses. Groups are soft-deactivated rather than deleted in most
// flows; explicit deletion cascades to all owned periods and their
// ledger entities.
type Group struct {
	ID           GroupID
	Name         string
	Private      bool
	PasswordHash string // bcrypt, empty for public groups
	MaxMembers   int
	MemberCount  int
	PeriodMode   PeriodMode
	CreatedBy    UserID
	Active       bool
	CreatedAt    time.Time
}

// Membership links a user to a group with a role. The role drives
// period lifecycle authorization and the transaction capability table.
type Membership struct {
	GroupID  GroupID
	UserID   UserID
	Role     Role
	Active   bool
	JoinedAt time.Time
}

// =============================================================================
// MEAL ENTITIES
// =============================================================================

type MealSlot string

const (
	SlotBreakfast MealSlot = "breakfast"
	SlotLunch     MealSlot = "lunch"
	SlotDinner    MealSlot = "dinner"
)

func (s MealSlot) Valid() bool {
	return s == SlotBreakfast || s == SlotLunch || s == SlotDinner
}

// Meal is one member's single-meal-slot claim on a date. Binary: a
// member either has the slot on that date or not.
type Meal struct {
	ID        string
	GroupID   GroupID
	PeriodID  PeriodID
	UserID    UserID
	Date      Date
	Slot      MealSlot
	CreatedAt time.Time
}

// GuestMeal is a count of guest portions a member adds on a date/slot.
type GuestMeal struct {
	ID        string
	GroupID   GroupID
	PeriodID  PeriodID
	UserID    UserID
	Date      Date
	Slot      MealSlot
	Count     int
	CreatedAt time.Time
}

// =============================================================================
// EXPENSES
// =============================================================================

type ExpenseKind string

const (
	ExpenseExtra    ExpenseKind = "extra"    // groceries bought outside shopping runs, gas, etc.
	ExpenseShopping ExpenseKind = "shopping" // shopping-run items
)

// Expense is a cost record scoped to a group and period. Shopping
// expenses are reported separately from extras and, by default, do not
// feed the meal rate (see RateOptions).
type Expense struct {
	ID          string
	GroupID     GroupID
	PeriodID    PeriodID
	UserID      UserID
	Kind        ExpenseKind
	Amount      Amount
	Date        Date
	Description string
	CreatedAt   time.Time
}

// =============================================================================
// TRANSACTION - Signed monetary movement between members
// =============================================================================

type TransactionType string

const (
	TxPayment    TransactionType = "payment"    // money received from a member (credit)
	TxAdjustment TransactionType = "adjustment" // manual correction, carry-forward
	TxCharge     TransactionType = "charge"     // debit levied against a member
	TxRefund     TransactionType = "refund"     // money returned to a member
)

// Transaction is a signed movement targeting a member within a
// group+period. The sum of transactions targeting a user in a period is
// that user's period balance. Transactions are never edited in place;
// every change appends a TransactionHistory row.
type Transaction struct {
	ID           TransactionID
	GroupID      GroupID
	PeriodID     PeriodID
	CreatedBy    UserID
	TargetUserID UserID
	Type         TransactionType
	Amount       Amount // signed
	Date         Date
	Note         string
	CreatedAt    time.Time
}

// HistoryAction describes what happened to a transaction.
type HistoryAction string

const (
	HistoryCreated  HistoryAction = "created"
	HistoryEdited   HistoryAction = "edited"
	HistoryDeleted  HistoryAction = "deleted"
	HistoryReversed HistoryAction = "reversed"
)

// TransactionHistory is an append-only audit record mirroring every
// transaction mutation. Never updated, only appended.
type TransactionHistory struct {
	ID            string
	TransactionID TransactionID
	GroupID       GroupID
	PeriodID      PeriodID
	TargetUserID  UserID
	Action        HistoryAction
	Amount        Amount
	ChangedBy     UserID
	ChangedAt     time.Time
}

// =============================================================================
// PAYMENT - Member-facing record of money received
// =============================================================================

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentRejected  PaymentStatus = "rejected"
)

// Payment is the display/reporting record of money received. It is
// related to but distinct from the Transaction that moves the balance.
type Payment struct {
	ID        string
	GroupID   GroupID
	PeriodID  PeriodID
	UserID    UserID
	Method    string // "cash", "bkash", "bank", ...
	Status    PaymentStatus
	Amount    Amount
	Date      Date
	CreatedAt time.Time
}
