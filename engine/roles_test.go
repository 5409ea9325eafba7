package engine_test

import (
	"testing"

	"github.com/mealsphere/settlement-engine/engine"
)

var allRoles = []engine.Role{
	engine.RoleAdmin,
	engine.RoleManager,
	engine.RoleModerator,
	engine.RoleMember,
	engine.RoleGuest,
}

func TestAllowed_FullCapabilityMatrix(t *testing.T) {
	// GIVEN: Every role x transaction type combination
	// WHEN: Checking the capability table
	// THEN: Payments are open to everyone but guests; adjustments,
	//       charges, and refunds need a period-managing role

	privileged := map[engine.Role]bool{
		engine.RoleAdmin:     true,
		engine.RoleManager:   true,
		engine.RoleModerator: true,
	}

	for _, role := range allRoles {
		for _, txType := range []engine.TransactionType{
			engine.TxPayment, engine.TxAdjustment, engine.TxCharge, engine.TxRefund,
		} {
			want := privileged[role]
			if txType == engine.TxPayment {
				want = role != engine.RoleGuest
			}
			if got := engine.Allowed(role, txType); got != want {
				t.Errorf("Allowed(%s, %s) = %v, want %v", role, txType, got, want)
			}
		}
	}
}

func TestAllowed_UnknownTypeDeniedForEveryRole(t *testing.T) {
	for _, role := range allRoles {
		if engine.Allowed(role, engine.TransactionType("bogus")) {
			t.Errorf("unknown transaction type allowed for %s", role)
		}
	}
}

func TestCanManagePeriods(t *testing.T) {
	want := map[engine.Role]bool{
		engine.RoleAdmin:     true,
		engine.RoleManager:   true,
		engine.RoleModerator: true,
		engine.RoleMember:    false,
		engine.RoleGuest:     false,
	}
	for role, expected := range want {
		if got := engine.CanManagePeriods(role); got != expected {
			t.Errorf("CanManagePeriods(%s) = %v, want %v", role, got, expected)
		}
	}
}

func TestCanManageGroup(t *testing.T) {
	want := map[engine.Role]bool{
		engine.RoleAdmin:     true,
		engine.RoleManager:   false,
		engine.RoleModerator: true,
		engine.RoleMember:    false,
		engine.RoleGuest:     false,
	}
	for role, expected := range want {
		if got := engine.CanManageGroup(role); got != expected {
			t.Errorf("CanManageGroup(%s) = %v, want %v", role, got, expected)
		}
	}
}

func TestRoleValid(t *testing.T) {
	for _, role := range allRoles {
		if !role.Valid() {
			t.Errorf("%s should be valid", role)
		}
	}
	if engine.Role("owner").Valid() {
		t.Error("unknown role should be invalid")
	}
}
