/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	data for testing and demos. Each scenario creates a fresh group with
	members, a period, and ledger activity demonstrating specific
	features.

AVAILABLE SCENARIOS:

	shared-flat:    Three roommates, one month of meals and expenses
	settled-month:  An ended month where everyone paid up
	carry-forward:  An ended month with dues, restarted with carry-forward

HOW SCENARIOS WORK:
 1. Create a fresh group (no reset; existing data is untouched)
 2. Add members with roles
 3. Open a period
 4. Log meals, expenses, and transactions
 5. Optionally end/restart the period

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "shared-flat"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, h)
 3. Add case to LoadScenario handler

SEE ALSO:
  - handlers.go: Production endpoints the scenarios exercise
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mealsphere/settlement-engine/engine"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioDTO describes one loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects the scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// LoadScenarioResponse reports the entities the loader created.
type LoadScenarioResponse struct {
	ScenarioID string   `json:"scenario_id"`
	GroupID    string   `json:"group_id"`
	PeriodID   string   `json:"period_id"`
	Members    []string `json:"members"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "shared-flat",
		Name:        "Shared Flat",
		Description: "Three roommates, one month of meals and expenses",
	},
	{
		ID:          "settled-month",
		Name:        "Settled Month",
		Description: "An ended month where everyone paid exactly what they owed",
	},
	{
		ID:          "carry-forward",
		Name:        "Carry-Forward",
		Description: "An ended month with outstanding dues, restarted with balance carry-forward",
	},
}

// =============================================================================
// SCENARIO ENDPOINTS
// =============================================================================

// ListScenarios returns the available demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario seeds the store with the selected scenario's data.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var (
		resp *LoadScenarioResponse
		err  error
	)
	switch req.ScenarioID {
	case "shared-flat":
		resp, err = h.loadSharedFlatScenario(ctx)
	case "settled-month":
		resp, err = h.loadSettledMonthScenario(ctx)
	case "carry-forward":
		resp, err = h.loadCarryForwardScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// seedGroup creates a fresh demo group with the given members. The first
// member is the admin.
func (h *Handler) seedGroup(ctx context.Context, name string, members []engine.UserID) (*engine.Group, error) {
	now := time.Now().UTC()
	g := engine.Group{
		ID:          engine.GroupID("demo-" + uuid.New().String()[:8]),
		Name:        name,
		PeriodMode:  engine.PeriodModeMonthly,
		MemberCount: len(members),
		CreatedBy:   members[0],
		Active:      true,
		CreatedAt:   now,
	}
	err := h.Store.WithTx(ctx, func(s engine.Store) error {
		if err := s.SaveGroup(ctx, g); err != nil {
			return err
		}
		for i, u := range members {
			role := engine.RoleMember
			if i == 0 {
				role = engine.RoleAdmin
			}
			m := engine.Membership{GroupID: g.ID, UserID: u, Role: role, Active: true, JoinedAt: now}
			if err := s.SaveMembership(ctx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// loadSharedFlatScenario builds an active month with uneven meal counts
// and a shared grocery budget, so the rate and settlement endpoints have
// something interesting to show.
func (h *Handler) loadSharedFlatScenario(ctx context.Context) (*LoadScenarioResponse, error) {
	members := []engine.UserID{"alice", "bob", "carol"}
	g, err := h.seedGroup(ctx, "Shared Flat (demo)", members)
	if err != nil {
		return nil, err
	}

	p, err := h.Lifecycle.CreatePeriod(ctx, g.ID, "alice", "", nil, nil)
	if err != nil {
		return nil, err
	}

	// Uneven meal counts: alice 10, bob 6, carol 4
	counts := map[engine.UserID]int{"alice": 10, "bob": 6, "carol": 4}
	for user, n := range counts {
		for i := 0; i < n; i++ {
			day := p.Start.AddDays(i)
			if _, err := h.Ledger.AddMeal(ctx, p.ID, user, day, engine.SlotDinner); err != nil {
				return nil, err
			}
		}
	}

	if _, err := h.Ledger.AddExpense(ctx, p.ID, "alice", engine.ExpenseExtra, engine.NewAmount(3000), p.Start, "monthly groceries"); err != nil {
		return nil, err
	}
	if _, err := h.Ledger.AddExpense(ctx, p.ID, "bob", engine.ExpenseShopping, engine.NewAmount(450), p.Start.AddDays(3), "shopping run: utensils"); err != nil {
		return nil, err
	}

	// Alice has already paid part of her share
	if _, err := h.Ledger.AppendTransaction(ctx, h.Roles, p.ID, "alice", "alice", engine.TxPayment, engine.NewAmount(1000), p.Start.AddDays(5), "advance"); err != nil {
		return nil, err
	}

	return &LoadScenarioResponse{
		ScenarioID: "shared-flat",
		GroupID:    string(g.ID),
		PeriodID:   string(p.ID),
		Members:    userIDs(members),
	}, nil
}

// loadSettledMonthScenario builds an ended month where every member's
// payments exactly cover their meal cost, so the settlement shows all
// rows as paid.
func (h *Handler) loadSettledMonthScenario(ctx context.Context) (*LoadScenarioResponse, error) {
	members := []engine.UserID{"dan", "erin"}
	g, err := h.seedGroup(ctx, "Settled Month (demo)", members)
	if err != nil {
		return nil, err
	}

	p, err := h.Lifecycle.CreatePeriod(ctx, g.ID, "dan", "", nil, nil)
	if err != nil {
		return nil, err
	}

	// 5 meals each, 1000 total expenses: rate 100, cost 500 per member
	for _, user := range members {
		for i := 0; i < 5; i++ {
			if _, err := h.Ledger.AddMeal(ctx, p.ID, user, p.Start.AddDays(i), engine.SlotLunch); err != nil {
				return nil, err
			}
		}
	}
	if _, err := h.Ledger.AddExpense(ctx, p.ID, "dan", engine.ExpenseExtra, engine.NewAmount(1000), p.Start, "groceries"); err != nil {
		return nil, err
	}
	for _, user := range members {
		if _, err := h.Ledger.AppendTransaction(ctx, h.Roles, p.ID, user, user, engine.TxPayment, engine.NewAmount(500), p.Start.AddDays(6), "full share"); err != nil {
			return nil, err
		}
	}

	if _, err := h.Lifecycle.End(ctx, p.ID, "dan", nil); err != nil {
		return nil, err
	}

	return &LoadScenarioResponse{
		ScenarioID: "settled-month",
		GroupID:    string(g.ID),
		PeriodID:   string(p.ID),
		Members:    userIDs(members),
	}, nil
}

// loadCarryForwardScenario builds an ended month with unpaid dues, then
// restarts it with carry-forward so the new period opens with each
// member's debt as an adjustment.
func (h *Handler) loadCarryForwardScenario(ctx context.Context) (*LoadScenarioResponse, error) {
	members := []engine.UserID{"frank", "grace"}
	g, err := h.seedGroup(ctx, "Carry-Forward (demo)", members)
	if err != nil {
		return nil, err
	}

	p, err := h.Lifecycle.CreatePeriod(ctx, g.ID, "frank", "", nil, nil)
	if err != nil {
		return nil, err
	}

	for _, user := range members {
		for i := 0; i < 4; i++ {
			if _, err := h.Ledger.AddMeal(ctx, p.ID, user, p.Start.AddDays(i), engine.SlotDinner); err != nil {
				return nil, err
			}
		}
	}
	if _, err := h.Ledger.AddExpense(ctx, p.ID, "frank", engine.ExpenseExtra, engine.NewAmount(800), p.Start, "groceries"); err != nil {
		return nil, err
	}
	// Grace paid half her share; frank paid nothing
	if _, err := h.Ledger.AppendTransaction(ctx, h.Roles, p.ID, "grace", "grace", engine.TxPayment, engine.NewAmount(200), p.Start.AddDays(5), "partial"); err != nil {
		return nil, err
	}

	if _, err := h.Lifecycle.End(ctx, p.ID, "frank", nil); err != nil {
		return nil, err
	}
	next, err := h.Lifecycle.Restart(ctx, p.ID, "frank", true)
	if err != nil {
		return nil, err
	}

	return &LoadScenarioResponse{
		ScenarioID: "carry-forward",
		GroupID:    string(g.ID),
		PeriodID:   string(next.ID),
		Members:    userIDs(members),
	}, nil
}

func userIDs(members []engine.UserID) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = string(m)
	}
	return out
}
