/*
handlers.go - HTTP API handlers for the settlement engine

PURPOSE:
  Exposes the settlement engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Groups:
    POST   /api/groups                        Create group
    GET    /api/groups/{id}                   Get group details
    DELETE /api/groups/{id}                   Delete group (cascades)
    POST   /api/groups/{id}/join              Join group
    GET    /api/groups/{id}/members           List members
    PUT    /api/groups/{id}/members/{user}    Change a member's role

  Periods:
    POST   /api/groups/{id}/periods           Open new period
    GET    /api/groups/{id}/periods           List periods
    GET    /api/groups/{id}/periods/current   Active period
    POST   /api/periods/{id}/lock|unlock|end|archive|restart

  Ledger:
    POST   /api/periods/{id}/meals            Meal-slot claim
    POST   /api/periods/{id}/guest-meals      Guest portions
    POST   /api/periods/{id}/expenses         Cost entry
    POST   /api/periods/{id}/transactions     Signed movement
    POST   /api/periods/{id}/payments         Payment record
    POST   /api/transactions/{id}/reverse     Reversal

  Derived (cached):
    GET    /api/periods/{id}/rate             Meal rate
    GET    /api/periods/{id}/settlement       Per-member settlement
    GET    /api/periods/{id}/balance/{user}   Member balance

CACHING:
  Derived reads check the cache first and memoize misses with a TTL
  picked by period status. Every write invalidates the affected
  period's keys before reporting success.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 403: Caller's role lacks the capability
  - 404: Entity not found
  - 409: Lifecycle conflict (active period exists, locked, ...)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mealsphere/settlement-engine/engine"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      engine.TxStore
	Ledger     *engine.Ledger
	Lifecycle  *engine.Lifecycle
	Roles      engine.RoleLookup
	Cache      engine.Cache
	Invalidate engine.Invalidator
	Rate       engine.RateOptions
}

// NewHandler creates a new handler with the given store and cache.
// cache may be nil; derived reads then recompute every time.
func NewHandler(store engine.TxStore, cache engine.Cache) *Handler {
	roles := engine.MembershipRoles{Store: store}
	return &Handler{
		Store:      store,
		Ledger:     engine.NewLedger(store),
		Lifecycle:  engine.NewLifecycle(store, roles),
		Roles:      roles,
		Cache:      cache,
		Invalidate: engine.Invalidator{Cache: cache},
	}
}

// callerID extracts the caller's user ID from the X-User-ID header.
func callerID(r *http.Request) (engine.UserID, bool) {
	id := r.Header.Get("X-User-ID")
	return engine.UserID(id), id != ""
}

// =============================================================================
// GROUP ENDPOINTS
// =============================================================================

// CreateGroup creates a group; the caller becomes its admin.
// POST /api/groups
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-User-ID header", nil)
		return
	}

	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Group name is required", nil)
		return
	}
	if req.Private && req.Password == "" {
		writeError(w, http.StatusBadRequest, "Private groups need a password", nil)
		return
	}

	var hash string
	if req.Private {
		hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to hash password", err)
			return
		}
		hash = string(hashed)
	}

	mode := engine.PeriodMode(req.PeriodMode)
	if mode == "" {
		mode = engine.PeriodModeMonthly
	}
	if mode != engine.PeriodModeMonthly && mode != engine.PeriodModeCustom {
		writeError(w, http.StatusBadRequest, "period_mode must be monthly or custom", nil)
		return
	}

	g := engine.Group{
		ID:           engine.GroupID(uuid.New().String()),
		Name:         req.Name,
		Private:      req.Private,
		PasswordHash: hash,
		MaxMembers:   req.MaxMembers,
		MemberCount:  1,
		PeriodMode:   mode,
		CreatedBy:    caller,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}

	// Group row and admin membership commit together.
	err := h.Store.WithTx(ctx, func(s engine.Store) error {
		if err := s.SaveGroup(ctx, g); err != nil {
			return err
		}
		return s.SaveMembership(ctx, engine.Membership{
			GroupID:  g.ID,
			UserID:   caller,
			Role:     engine.RoleAdmin,
			Active:   true,
			JoinedAt: g.CreatedAt,
		})
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create group", err)
		return
	}

	writeJSON(w, http.StatusCreated, toGroupDTO(&g))
}

// GetGroup returns one group.
// GET /api/groups/{id}
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := engine.GroupID(chi.URLParam(r, "id"))

	g, err := h.Store.GetGroup(ctx, groupID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get group", err)
		return
	}
	if g == nil {
		writeError(w, http.StatusNotFound, "Group not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toGroupDTO(g))
}

// DeleteGroup removes the group and everything it owns.
// DELETE /api/groups/{id}
func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := engine.GroupID(chi.URLParam(r, "id"))
	caller, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-User-ID header", nil)
		return
	}

	g, err := h.Store.GetGroup(ctx, groupID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get group", err)
		return
	}
	if g == nil {
		writeError(w, http.StatusNotFound, "Group not found", nil)
		return
	}

	role, err := h.Roles.RoleOf(ctx, groupID, caller)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if !engine.CanManageGroup(role) {
		h.writeDomainError(w, &engine.ForbiddenError{UserID: caller, Role: role, Operation: "delete group"})
		return
	}

	if err := h.Store.DeleteGroup(ctx, groupID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete group", err)
		return
	}
	h.invalidateGroup(ctx, groupID)

	w.WriteHeader(http.StatusNoContent)
}

// JoinGroup adds the caller as a member, checking capacity and, for
// private groups, the password.
// POST /api/groups/{id}/join
func (h *Handler) JoinGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := engine.GroupID(chi.URLParam(r, "id"))
	caller, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-User-ID header", nil)
		return
	}

	var req JoinGroupRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	g, err := h.Store.GetGroup(ctx, groupID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get group", err)
		return
	}
	if g == nil || !g.Active {
		writeError(w, http.StatusNotFound, "Group not found", nil)
		return
	}

	existing, err := h.Store.GetMembership(ctx, groupID, caller)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to check membership", err)
		return
	}
	if existing != nil && existing.Active {
		writeJSON(w, http.StatusOK, MemberDTO{
			UserID:   string(existing.UserID),
			Role:     string(existing.Role),
			JoinedAt: existing.JoinedAt.Format(timestampFormat),
		})
		return
	}

	if g.MaxMembers > 0 && g.MemberCount >= g.MaxMembers {
		h.writeDomainError(w, engine.ErrGroupFull)
		return
	}
	if g.Private {
		if err := bcrypt.CompareHashAndPassword([]byte(g.PasswordHash), []byte(req.Password)); err != nil {
			h.writeDomainError(w, engine.ErrWrongPassword)
			return
		}
	}

	m := engine.Membership{
		GroupID:  groupID,
		UserID:   caller,
		Role:     engine.RoleMember,
		Active:   true,
		JoinedAt: time.Now().UTC(),
	}

	// Membership row and the member counter move together.
	err = h.Store.WithTx(ctx, func(s engine.Store) error {
		if err := s.SaveMembership(ctx, m); err != nil {
			return err
		}
		g.MemberCount++
		return s.SaveGroup(ctx, *g)
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to join group", err)
		return
	}
	h.invalidateGroup(ctx, groupID)

	writeJSON(w, http.StatusCreated, MemberDTO{
		UserID:   string(m.UserID),
		Role:     string(m.Role),
		JoinedAt: m.JoinedAt.Format(timestampFormat),
	})
}

// ListMembers returns the group's active members.
// GET /api/groups/{id}/members
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := engine.GroupID(chi.URLParam(r, "id"))

	members, err := h.Store.ListMembers(ctx, groupID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list members", err)
		return
	}

	dtos := make([]MemberDTO, 0, len(members))
	for _, m := range members {
		dtos = append(dtos, MemberDTO{
			UserID:   string(m.UserID),
			Role:     string(m.Role),
			JoinedAt: m.JoinedAt.Format(timestampFormat),
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpdateMember changes a member's role.
// PUT /api/groups/{id}/members/{user}
func (h *Handler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := engine.GroupID(chi.URLParam(r, "id"))
	target := engine.UserID(chi.URLParam(r, "user"))
	caller, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-User-ID header", nil)
		return
	}

	var req UpdateMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	role := engine.Role(req.Role)
	if !role.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid role", nil)
		return
	}

	callerRole, err := h.Roles.RoleOf(ctx, groupID, caller)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if !engine.CanManageGroup(callerRole) {
		h.writeDomainError(w, &engine.ForbiddenError{UserID: caller, Role: callerRole, Operation: "change member role"})
		return
	}

	m, err := h.Store.GetMembership(ctx, groupID, target)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get membership", err)
		return
	}
	if m == nil || !m.Active {
		writeError(w, http.StatusNotFound, "Member not found", nil)
		return
	}

	m.Role = role
	if err := h.Store.SaveMembership(ctx, *m); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update member", err)
		return
	}

	writeJSON(w, http.StatusOK, MemberDTO{
		UserID:   string(m.UserID),
		Role:     string(m.Role),
		JoinedAt: m.JoinedAt.Format(timestampFormat),
	})
}

// =============================================================================
// PERIOD LIFECYCLE ENDPOINTS
// =============================================================================

// CreatePeriod opens a new active period for the group.
// POST /api/groups/{id}/periods
func (h *Handler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := engine.GroupID(chi.URLParam(r, "id"))
	caller, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-User-ID header", nil)
		return
	}

	var req CreatePeriodRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	var start, end *engine.Date
	if req.Start != "" {
		d, err := engine.ParseDate(req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start format (use YYYY-MM-DD)", err)
			return
		}
		start = &d
	}
	if req.End != "" {
		d, err := engine.ParseDate(req.End)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end format (use YYYY-MM-DD)", err)
			return
		}
		end = &d
	}

	p, err := h.Lifecycle.CreatePeriod(ctx, groupID, caller, req.Name, start, end)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.invalidateGroup(ctx, groupID)

	writeJSON(w, http.StatusCreated, toPeriodDTO(p))
}

// ListPeriods returns the group's periods, newest first.
// GET /api/groups/{id}/periods
func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := engine.GroupID(chi.URLParam(r, "id"))

	periods, err := h.Store.ListPeriods(ctx, groupID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list periods", err)
		return
	}

	dtos := make([]PeriodDTO, 0, len(periods))
	for i := range periods {
		dtos = append(dtos, toPeriodDTO(&periods[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CurrentPeriod returns the group's active period, or null.
// GET /api/groups/{id}/periods/current
func (h *Handler) CurrentPeriod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	groupID := engine.GroupID(chi.URLParam(r, "id"))

	p, err := h.Store.ActivePeriod(ctx, groupID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get active period", err)
		return
	}
	if p == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(p))
}

// GetPeriod returns one period.
// GET /api/periods/{id}
func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	periodID := engine.PeriodID(chi.URLParam(r, "id"))

	p, err := h.Store.GetPeriod(ctx, periodID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get period", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Period not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTO(p))
}

// LockPeriod freezes the period's ledger.
// POST /api/periods/{id}/lock
func (h *Handler) LockPeriod(w http.ResponseWriter, r *http.Request) {
	h.lifecycleMutation(w, r, func(ctx context.Context, periodID engine.PeriodID, caller engine.UserID) (*engine.Period, error) {
		return h.Lifecycle.Lock(ctx, periodID, caller)
	})
}

// UnlockPeriod clears the lock; the body picks the resulting status.
// POST /api/periods/{id}/unlock
func (h *Handler) UnlockPeriod(w http.ResponseWriter, r *http.Request) {
	var req UnlockPeriodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	h.lifecycleMutation(w, r, func(ctx context.Context, periodID engine.PeriodID, caller engine.UserID) (*engine.Period, error) {
		return h.Lifecycle.Unlock(ctx, periodID, caller, engine.PeriodStatus(req.Status))
	})
}

// EndPeriod closes an active period.
// POST /api/periods/{id}/end
func (h *Handler) EndPeriod(w http.ResponseWriter, r *http.Request) {
	var req EndPeriodRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	var endDate *engine.Date
	if req.End != "" {
		d, err := engine.ParseDate(req.End)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid end format (use YYYY-MM-DD)", err)
			return
		}
		endDate = &d
	}
	h.lifecycleMutation(w, r, func(ctx context.Context, periodID engine.PeriodID, caller engine.UserID) (*engine.Period, error) {
		return h.Lifecycle.End(ctx, periodID, caller, endDate)
	})
}

// ArchivePeriod moves an ended period to its terminal state.
// POST /api/periods/{id}/archive
func (h *Handler) ArchivePeriod(w http.ResponseWriter, r *http.Request) {
	h.lifecycleMutation(w, r, func(ctx context.Context, periodID engine.PeriodID, caller engine.UserID) (*engine.Period, error) {
		return h.Lifecycle.Archive(ctx, periodID, caller)
	})
}

// RestartPeriod spawns a fresh period, optionally carrying balances
// forward.
// POST /api/periods/{id}/restart
func (h *Handler) RestartPeriod(w http.ResponseWriter, r *http.Request) {
	var req RestartPeriodRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	h.lifecycleMutation(w, r, func(ctx context.Context, periodID engine.PeriodID, caller engine.UserID) (*engine.Period, error) {
		return h.Lifecycle.Restart(ctx, periodID, caller, req.CarryForward)
	})
}

// lifecycleMutation runs a period lifecycle operation and invalidates
// the group's cached entries on success.
func (h *Handler) lifecycleMutation(w http.ResponseWriter, r *http.Request, fn func(context.Context, engine.PeriodID, engine.UserID) (*engine.Period, error)) {
	ctx := r.Context()
	periodID := engine.PeriodID(chi.URLParam(r, "id"))
	caller, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-User-ID header", nil)
		return
	}

	p, err := fn(ctx, periodID, caller)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.invalidateGroup(ctx, p.GroupID)

	writeJSON(w, http.StatusOK, toPeriodDTO(p))
}

// =============================================================================
// LEDGER WRITE ENDPOINTS
// =============================================================================

// AddMeal records a meal-slot claim.
// POST /api/periods/{id}/meals
func (h *Handler) AddMeal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	periodID := engine.PeriodID(chi.URLParam(r, "id"))
	caller, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-User-ID header", nil)
		return
	}

	var req AddMealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := engine.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	userID := caller
	if req.UserID != "" {
		userID = engine.UserID(req.UserID)
	}

	m, err := h.Ledger.AddMeal(ctx, periodID, userID, date, engine.MealSlot(req.Slot))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.invalidatePeriod(ctx, m.GroupID, m.PeriodID)

	writeJSON(w, http.StatusCreated, map[string]string{"id": m.ID})
}

// AddGuestMeal records guest portions.
// POST /api/periods/{id}/guest-meals
func (h *Handler) AddGuestMeal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	periodID := engine.PeriodID(chi.URLParam(r, "id"))
	caller, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-User-ID header", nil)
		return
	}

	var req AddGuestMealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := engine.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	userID := caller
	if req.UserID != "" {
		userID = engine.UserID(req.UserID)
	}

	gm, err := h.Ledger.AddGuestMeal(ctx, periodID, userID, date, engine.MealSlot(req.Slot), req.Count)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.invalidatePeriod(ctx, gm.GroupID, gm.PeriodID)

	writeJSON(w, http.StatusCreated, map[string]string{"id": gm.ID})
}

// AddExpense records a cost entry.
// POST /api/periods/{id}/expenses
func (h *Handler) AddExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	periodID := engine.PeriodID(chi.URLParam(r, "id"))
	caller, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-User-ID header", nil)
		return
	}

	var req AddExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := engine.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	date, err := engine.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	kind := engine.ExpenseKind(req.Kind)
	if kind != engine.ExpenseExtra && kind != engine.ExpenseShopping {
		writeError(w, http.StatusBadRequest, "kind must be extra or shopping", nil)
		return
	}

	e, err := h.Ledger.AddExpense(ctx, periodID, caller, kind, amount, date, req.Description)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.invalidatePeriod(ctx, e.GroupID, e.PeriodID)

	writeJSON(w, http.StatusCreated, map[string]string{"id": e.ID})
}

// CreateTransaction appends a signed movement, capability-gated by the
// caller's role.
// POST /api/periods/{id}/transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	periodID := engine.PeriodID(chi.URLParam(r, "id"))
	caller, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-User-ID header", nil)
		return
	}

	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := engine.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	date := engine.Today()
	if req.Date != "" {
		date, err = engine.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
	}

	tx, err := h.Ledger.AppendTransaction(ctx, h.Roles, periodID, caller,
		engine.UserID(req.TargetUserID), engine.TransactionType(req.Type), amount, date, req.Note)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.invalidatePeriod(ctx, tx.GroupID, tx.PeriodID)

	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// ReverseTransaction appends an opposite-sign adjustment; the original
// stays in the log.
// POST /api/transactions/{id}/reverse
func (h *Handler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := engine.TransactionID(chi.URLParam(r, "id"))
	caller, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-User-ID header", nil)
		return
	}

	var req ReverseTransactionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	rev, err := h.Ledger.ReverseTransaction(ctx, h.Roles, txID, caller, req.Note)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.invalidatePeriod(ctx, rev.GroupID, rev.PeriodID)

	writeJSON(w, http.StatusCreated, toTransactionDTO(rev))
}

// RecordPayment stores a member-facing payment record.
// POST /api/periods/{id}/payments
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	periodID := engine.PeriodID(chi.URLParam(r, "id"))
	caller, ok := callerID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Missing X-User-ID header", nil)
		return
	}

	var req RecordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := engine.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	date := engine.Today()
	if req.Date != "" {
		date, err = engine.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
	}
	userID := caller
	if req.UserID != "" {
		userID = engine.UserID(req.UserID)
	}

	pay, err := h.Ledger.RecordPayment(ctx, periodID, userID, req.Method, amount, date)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.invalidatePeriod(ctx, pay.GroupID, pay.PeriodID)

	writeJSON(w, http.StatusCreated, toPaymentDTO(*pay))
}

// =============================================================================
// DERIVED READ ENDPOINTS (cached)
// =============================================================================

// GetRate returns the period's meal rate.
// GET /api/periods/{id}/rate
func (h *Handler) GetRate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	periodID := engine.PeriodID(chi.URLParam(r, "id"))

	p, err := h.Store.GetPeriod(ctx, periodID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get period", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Period not found", nil)
		return
	}

	key := engine.PeriodKey(p.GroupID, p.ID, "rate")
	if h.serveCached(ctx, w, key, "rate") {
		return
	}

	totals, err := h.Ledger.Totals(ctx, periodID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute rate", err)
		return
	}
	h.writeAndCache(ctx, w, key, toRateDTO(engine.MealRate(totals, h.Rate)), engine.TTLFor(p))
}

// GetSettlement returns the per-member settlement summary.
// GET /api/periods/{id}/settlement
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	periodID := engine.PeriodID(chi.URLParam(r, "id"))

	p, err := h.Store.GetPeriod(ctx, periodID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get period", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Period not found", nil)
		return
	}

	key := engine.PeriodKey(p.GroupID, p.ID, "settlement")
	if h.serveCached(ctx, w, key, "settlement") {
		return
	}

	start := time.Now()
	agg := engine.NewSettlementAggregator(h.Store, h.Rate)
	summary, err := agg.Settle(ctx, periodID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	observeSettlement(start)

	h.writeAndCache(ctx, w, key, toSettlementDTO(summary), engine.TTLFor(p))
}

// GetBalance returns one member's position in the period.
// GET /api/periods/{id}/balance/{user}
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	periodID := engine.PeriodID(chi.URLParam(r, "id"))
	userID := engine.UserID(chi.URLParam(r, "user"))

	p, err := h.Store.GetPeriod(ctx, periodID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get period", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Period not found", nil)
		return
	}

	key := engine.UserKey(p.GroupID, p.ID, userID, "balance")
	if h.serveCached(ctx, w, key, "balance") {
		return
	}

	calc := engine.BalanceCalculator{Ledger: h.Ledger, Rate: h.Rate}
	mb, err := calc.Balance(ctx, periodID, userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeAndCache(ctx, w, key, toBalanceDTO(mb), engine.TTLFor(p))
}

// ListTransactions returns every transaction in the period.
// GET /api/periods/{id}/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	periodID := engine.PeriodID(chi.URLParam(r, "id"))

	txs, err := h.Store.TransactionsInPeriod(ctx, periodID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}

	dtos := make([]TransactionDTO, 0, len(txs))
	for i := range txs {
		dtos = append(dtos, toTransactionDTO(&txs[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetHistory returns the audit trail for one member's transactions.
// GET /api/periods/{id}/transactions/{user}/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	periodID := engine.PeriodID(chi.URLParam(r, "id"))
	userID := engine.UserID(chi.URLParam(r, "user"))

	entries, err := h.Store.HistoryForUser(ctx, periodID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load history", err)
		return
	}

	dtos := make([]HistoryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toHistoryDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListPayments returns the period's payment records.
// GET /api/periods/{id}/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	periodID := engine.PeriodID(chi.URLParam(r, "id"))

	payments, err := h.Store.PaymentsInPeriod(ctx, periodID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payments", err)
		return
	}

	dtos := make([]PaymentDTO, 0, len(payments))
	for _, p := range payments {
		dtos = append(dtos, toPaymentDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CACHE HELPERS
// =============================================================================

// serveCached writes the cached body if present. Cache errors are
// treated as misses; the cache never breaks a read.
func (h *Handler) serveCached(ctx context.Context, w http.ResponseWriter, key, kind string) bool {
	if h.Cache == nil {
		return false
	}
	body, ok, err := h.Cache.Get(ctx, key)
	hit := err == nil && ok
	recordCacheLookup(kind, hit)
	if !hit {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
	return true
}

// writeAndCache responds with data and memoizes the encoded body.
func (h *Handler) writeAndCache(ctx context.Context, w http.ResponseWriter, key string, data any, ttl time.Duration) {
	body, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode response", err)
		return
	}
	if h.Cache != nil {
		h.Cache.Set(ctx, key, body, ttl)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// =============================================================================
// CACHE INVALIDATION
// =============================================================================

// invalidateGroup drops the group's cached entries. Invalidation failure
// never fails the write; readers are stale at most until the TTL.
func (h *Handler) invalidateGroup(ctx context.Context, groupID engine.GroupID) {
	if err := h.Invalidate.Group(ctx, groupID); err != nil {
		slog.Warn("cache invalidation failed", "group", groupID, "error", err)
	}
}

func (h *Handler) invalidatePeriod(ctx context.Context, groupID engine.GroupID, periodID engine.PeriodID) {
	if err := h.Invalidate.Period(ctx, groupID, periodID); err != nil {
		slog.Warn("cache invalidation failed", "group", groupID, "period", periodID, "error", err)
	}
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// writeDomainError classifies engine errors into HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case engine.IsForbidden(err):
		writeError(w, http.StatusForbidden, "Forbidden", err)
	case engine.IsConflict(err):
		writeError(w, http.StatusConflict, "Conflict", err)
	case errors.Is(err, engine.ErrValidation):
		writeError(w, http.StatusBadRequest, "Invalid input", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
