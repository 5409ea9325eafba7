// Package store provides an in-memory Store implementation for tests
// and development. It mirrors the constraints the SQLite store enforces
// at the schema level: the single-active-period rule and group cascade
// deletes.
package store

import (
	"context"
	"sync"

	"github.com/mealsphere/settlement-engine/engine"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	groups       map[engine.GroupID]engine.Group
	memberships  map[engine.GroupID]map[engine.UserID]engine.Membership
	periods      map[engine.PeriodID]engine.Period
	meals        map[engine.PeriodID][]engine.Meal
	guestMeals   map[engine.PeriodID][]engine.GuestMeal
	expenses     map[engine.PeriodID][]engine.Expense
	transactions map[engine.PeriodID][]engine.Transaction
	history      map[engine.PeriodID][]engine.TransactionHistory
	payments     map[engine.PeriodID][]engine.Payment
}

func NewMemory() *Memory {
	return &Memory{
		groups:       make(map[engine.GroupID]engine.Group),
		memberships:  make(map[engine.GroupID]map[engine.UserID]engine.Membership),
		periods:      make(map[engine.PeriodID]engine.Period),
		meals:        make(map[engine.PeriodID][]engine.Meal),
		guestMeals:   make(map[engine.PeriodID][]engine.GuestMeal),
		expenses:     make(map[engine.PeriodID][]engine.Expense),
		transactions: make(map[engine.PeriodID][]engine.Transaction),
		history:      make(map[engine.PeriodID][]engine.TransactionHistory),
		payments:     make(map[engine.PeriodID][]engine.Payment),
	}
}

// =============================================================================
// GROUP STORE
// =============================================================================

func (m *Memory) SaveGroup(_ context.Context, g engine.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[g.ID] = g
	return nil
}

func (m *Memory) GetGroup(_ context.Context, id engine.GroupID) (*engine.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

// DeleteGroup removes the group, its periods, and every ledger row the
// periods own.
func (m *Memory) DeleteGroup(_ context.Context, id engine.GroupID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.groups, id)
	delete(m.memberships, id)
	for pid, p := range m.periods {
		if p.GroupID != id {
			continue
		}
		delete(m.periods, pid)
		delete(m.meals, pid)
		delete(m.guestMeals, pid)
		delete(m.expenses, pid)
		delete(m.transactions, pid)
		delete(m.history, pid)
		delete(m.payments, pid)
	}
	return nil
}

func (m *Memory) ListGroups(_ context.Context) ([]engine.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var groups []engine.Group
	for _, g := range m.groups {
		if g.Active {
			groups = append(groups, g)
		}
	}
	return groups, nil
}

func (m *Memory) SaveMembership(_ context.Context, mem engine.Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byUser, ok := m.memberships[mem.GroupID]
	if !ok {
		byUser = make(map[engine.UserID]engine.Membership)
		m.memberships[mem.GroupID] = byUser
	}
	byUser[mem.UserID] = mem
	return nil
}

func (m *Memory) GetMembership(_ context.Context, groupID engine.GroupID, userID engine.UserID) (*engine.Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.memberships[groupID][userID]
	if !ok {
		return nil, nil
	}
	return &mem, nil
}

func (m *Memory) ListMembers(_ context.Context, groupID engine.GroupID) ([]engine.Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var members []engine.Membership
	for _, mem := range m.memberships[groupID] {
		if mem.Active {
			members = append(members, mem)
		}
	}
	return members, nil
}

// =============================================================================
// PERIOD STORE
// =============================================================================

func (m *Memory) CreatePeriod(_ context.Context, p engine.Period) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Same rule the SQLite store enforces with a partial unique index.
	if p.Status == engine.PeriodActive {
		for _, existing := range m.periods {
			if existing.GroupID == p.GroupID && existing.Status == engine.PeriodActive {
				return engine.ErrActivePeriodExists
			}
		}
	}
	m.periods[p.ID] = p
	return nil
}

func (m *Memory) GetPeriod(_ context.Context, id engine.PeriodID) (*engine.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.periods[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) UpdatePeriod(_ context.Context, p engine.Period) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.periods[p.ID]; !ok {
		return engine.ErrPeriodNotFound
	}
	m.periods[p.ID] = p
	return nil
}

func (m *Memory) ListPeriods(_ context.Context, groupID engine.GroupID) ([]engine.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var periods []engine.Period
	for _, p := range m.periods {
		if p.GroupID == groupID {
			periods = append(periods, p)
		}
	}
	return periods, nil
}

func (m *Memory) ActivePeriod(_ context.Context, groupID engine.GroupID) (*engine.Period, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.periods {
		if p.GroupID == groupID && p.Status == engine.PeriodActive {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (m *Memory) AddMeal(_ context.Context, meal engine.Meal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Same rule the SQLite store enforces with UNIQUE(period_id, user_id, date, slot).
	for _, existing := range m.meals[meal.PeriodID] {
		if existing.UserID == meal.UserID && existing.Date.Equal(meal.Date) && existing.Slot == meal.Slot {
			return engine.ErrDuplicateMeal
		}
	}
	m.meals[meal.PeriodID] = append(m.meals[meal.PeriodID], meal)
	return nil
}

func (m *Memory) AddGuestMeal(_ context.Context, gm engine.GuestMeal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guestMeals[gm.PeriodID] = append(m.guestMeals[gm.PeriodID], gm)
	return nil
}

func (m *Memory) AddExpense(_ context.Context, e engine.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expenses[e.PeriodID] = append(m.expenses[e.PeriodID], e)
	return nil
}

func (m *Memory) AppendTransaction(_ context.Context, tx engine.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[tx.PeriodID] = append(m.transactions[tx.PeriodID], tx)
	return nil
}

func (m *Memory) AppendHistory(_ context.Context, h engine.TransactionHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[h.PeriodID] = append(m.history[h.PeriodID], h)
	return nil
}

func (m *Memory) SavePayment(_ context.Context, p engine.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.PeriodID] = append(m.payments[p.PeriodID], p)
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id engine.TransactionID) (*engine.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, txs := range m.transactions {
		for _, tx := range txs {
			if tx.ID == id {
				cp := tx
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (m *Memory) MealsInPeriod(_ context.Context, periodID engine.PeriodID) ([]engine.Meal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]engine.Meal(nil), m.meals[periodID]...), nil
}

func (m *Memory) GuestMealsInPeriod(_ context.Context, periodID engine.PeriodID) ([]engine.GuestMeal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]engine.GuestMeal(nil), m.guestMeals[periodID]...), nil
}

func (m *Memory) ExpensesInPeriod(_ context.Context, periodID engine.PeriodID) ([]engine.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]engine.Expense(nil), m.expenses[periodID]...), nil
}

func (m *Memory) TransactionsInPeriod(_ context.Context, periodID engine.PeriodID) ([]engine.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]engine.Transaction(nil), m.transactions[periodID]...), nil
}

func (m *Memory) PaymentsInPeriod(_ context.Context, periodID engine.PeriodID) ([]engine.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]engine.Payment(nil), m.payments[periodID]...), nil
}

func (m *Memory) HistoryForUser(_ context.Context, periodID engine.PeriodID, userID engine.UserID) ([]engine.TransactionHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.TransactionHistory
	for _, h := range m.history[periodID] {
		if h.TargetUserID == userID {
			out = append(out, h)
		}
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx simulates a store transaction with a snapshot + rollback on
// error. Callers get the Memory itself as the transactional view; the
// outer lock is not held, so fn may call Store methods freely.
func (m *Memory) WithTx(_ context.Context, fn func(engine.Store) error) error {
	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	groups       map[engine.GroupID]engine.Group
	memberships  map[engine.GroupID]map[engine.UserID]engine.Membership
	periods      map[engine.PeriodID]engine.Period
	meals        map[engine.PeriodID][]engine.Meal
	guestMeals   map[engine.PeriodID][]engine.GuestMeal
	expenses     map[engine.PeriodID][]engine.Expense
	transactions map[engine.PeriodID][]engine.Transaction
	history      map[engine.PeriodID][]engine.TransactionHistory
	payments     map[engine.PeriodID][]engine.Payment
}

func (m *Memory) snapshot() memorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := memorySnapshot{
		groups:       make(map[engine.GroupID]engine.Group, len(m.groups)),
		memberships:  make(map[engine.GroupID]map[engine.UserID]engine.Membership, len(m.memberships)),
		periods:      make(map[engine.PeriodID]engine.Period, len(m.periods)),
		meals:        copySlices(m.meals),
		guestMeals:   copySlices(m.guestMeals),
		expenses:     copySlices(m.expenses),
		transactions: copySlices(m.transactions),
		history:      copySlices(m.history),
		payments:     copySlices(m.payments),
	}
	for k, v := range m.groups {
		s.groups[k] = v
	}
	for k, v := range m.periods {
		s.periods[k] = v
	}
	for g, byUser := range m.memberships {
		cp := make(map[engine.UserID]engine.Membership, len(byUser))
		for u, mem := range byUser {
			cp[u] = mem
		}
		s.memberships[g] = cp
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups = s.groups
	m.memberships = s.memberships
	m.periods = s.periods
	m.meals = s.meals
	m.guestMeals = s.guestMeals
	m.expenses = s.expenses
	m.transactions = s.transactions
	m.history = s.history
	m.payments = s.payments
}

func copySlices[K comparable, V any](src map[K][]V) map[K][]V {
	dst := make(map[K][]V, len(src))
	for k, v := range src {
		dst[k] = append([]V(nil), v...)
	}
	return dst
}
