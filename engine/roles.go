/*
roles.go - Group roles and the transaction capability table

PURPOSE:
  The engine consumes a role lookup (group membership role) as an
  external capability; it does not store roles itself. This file defines
  the role set and the pure capability functions the lifecycle controller
  and transaction writers dispatch on.

CAPABILITY TABLE:
  Allowed(role, txType) is a pure function over the full role x type
  matrix, replacing inline role conditionals at call sites. The matrix
  is tested exhaustively in roles_test.go.
*/
package engine

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleManager   Role = "manager"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
	RoleGuest     Role = "guest"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleModerator, RoleMember, RoleGuest:
		return true
	}
	return false
}

// CanManagePeriods reports whether the role may run period lifecycle
// mutations (create, lock, unlock, end, archive, restart).
func CanManagePeriods(r Role) bool {
	switch r {
	case RoleAdmin, RoleManager, RoleModerator:
		return true
	}
	return false
}

// CanManageGroup reports whether the role may mutate or delete the group.
func CanManageGroup(r Role) bool {
	return r == RoleAdmin || r == RoleModerator
}

// Allowed reports whether the role may create a transaction of the given
// type. Any non-guest role can record a payment for any member;
// adjustments, charges, and refunds require a privileged role.
func Allowed(r Role, t TransactionType) bool {
	switch t {
	case TxPayment:
		return r != RoleGuest
	case TxAdjustment, TxCharge, TxRefund:
		return CanManagePeriods(r)
	}
	return false
}
