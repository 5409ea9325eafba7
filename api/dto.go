/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Sent as decimal strings ("512.50"), never JSON numbers. Clients that
  parse them into floats do so at their own risk; the server never will.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/mealsphere/settlement-engine/engine"
)

// =============================================================================
// GROUPS & MEMBERS
// =============================================================================

// GroupDTO represents a group in API responses. The password hash never
// leaves the server.
type GroupDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Private     bool   `json:"private"`
	MaxMembers  int    `json:"max_members"`
	MemberCount int    `json:"member_count"`
	PeriodMode  string `json:"period_mode"`
	CreatedBy   string `json:"created_by"`
	Active      bool   `json:"active"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// CreateGroupRequest is the request to create a group. The creator
// becomes the group's admin.
type CreateGroupRequest struct {
	Name       string `json:"name"`
	Private    bool   `json:"private"`
	Password   string `json:"password,omitempty"`
	MaxMembers int    `json:"max_members"`
	PeriodMode string `json:"period_mode,omitempty"`
}

// JoinGroupRequest is the request to join a group.
type JoinGroupRequest struct {
	Password string `json:"password,omitempty"`
}

// MemberDTO represents a group membership in API responses.
type MemberDTO struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	JoinedAt string `json:"joined_at,omitempty"`
}

// UpdateMemberRequest changes a member's role.
type UpdateMemberRequest struct {
	Role string `json:"role"`
}

// =============================================================================
// PERIODS
// =============================================================================

// PeriodDTO represents a billing period in API responses.
type PeriodDTO struct {
	ID        string `json:"id"`
	GroupID   string `json:"group_id"`
	Name      string `json:"name"`
	Start     string `json:"start"`
	End       string `json:"end,omitempty"`
	Status    string `json:"status"`
	Locked    bool   `json:"locked"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CreatePeriodRequest opens a new period. Start/end are optional for
// monthly groups; the current calendar month is used.
type CreatePeriodRequest struct {
	Name  string `json:"name,omitempty"`
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// EndPeriodRequest closes a period, optionally with an explicit end date.
type EndPeriodRequest struct {
	End string `json:"end,omitempty"`
}

// UnlockPeriodRequest clears a period's lock; status picks the
// resulting state ("active" or "ended").
type UnlockPeriodRequest struct {
	Status string `json:"status"`
}

// RestartPeriodRequest spawns a fresh period from an ended one.
type RestartPeriodRequest struct {
	CarryForward bool `json:"carry_forward"`
}

// =============================================================================
// LEDGER WRITES
// =============================================================================

// AddMealRequest records a meal-slot claim.
type AddMealRequest struct {
	UserID string `json:"user_id,omitempty"` // defaults to the caller
	Date   string `json:"date"`
	Slot   string `json:"slot"`
}

// AddGuestMealRequest records guest portions.
type AddGuestMealRequest struct {
	UserID string `json:"user_id,omitempty"`
	Date   string `json:"date"`
	Slot   string `json:"slot"`
	Count  int    `json:"count"`
}

// AddExpenseRequest records a cost entry.
type AddExpenseRequest struct {
	Kind        string `json:"kind"` // "extra" or "shopping"
	Amount      string `json:"amount"`
	Date        string `json:"date"`
	Description string `json:"description,omitempty"`
}

// CreateTransactionRequest appends a signed monetary movement.
type CreateTransactionRequest struct {
	TargetUserID string `json:"target_user_id"`
	Type         string `json:"type"` // payment | adjustment | charge | refund
	Amount       string `json:"amount"`
	Date         string `json:"date,omitempty"`
	Note         string `json:"note,omitempty"`
}

// ReverseTransactionRequest annotates a reversal.
type ReverseTransactionRequest struct {
	Note string `json:"note,omitempty"`
}

// RecordPaymentRequest stores a member-facing payment record.
type RecordPaymentRequest struct {
	UserID string `json:"user_id,omitempty"`
	Method string `json:"method"`
	Amount string `json:"amount"`
	Date   string `json:"date,omitempty"`
}

// =============================================================================
// LEDGER READS
// =============================================================================

// TransactionDTO represents a transaction in API responses.
type TransactionDTO struct {
	ID           string `json:"id"`
	PeriodID     string `json:"period_id"`
	CreatedBy    string `json:"created_by"`
	TargetUserID string `json:"target_user_id"`
	Type         string `json:"type"`
	Amount       string `json:"amount"`
	Date         string `json:"date"`
	Note         string `json:"note,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// HistoryDTO represents a transaction history entry.
type HistoryDTO struct {
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id"`
	Action        string `json:"action"`
	Amount        string `json:"amount"`
	ChangedBy     string `json:"changed_by"`
	ChangedAt     string `json:"changed_at"`
}

// RateDTO is the meal rate plus the inputs it was derived from.
type RateDTO struct {
	Rate             string `json:"rate"`
	TotalMeals       int    `json:"total_meals"`
	OtherExpenses    string `json:"other_expenses"`
	ShoppingExpenses string `json:"shopping_expenses"`
}

// BalanceDTO is one member's position within a period.
type BalanceDTO struct {
	UserID    string `json:"user_id"`
	PeriodID  string `json:"period_id"`
	Balance   string `json:"balance"`
	Paid      string `json:"paid"`
	MealCount int    `json:"meal_count"`
	MealCost  string `json:"meal_cost"`
	Available string `json:"available"`
}

// SettlementRowDTO is one member's line in the period settlement.
type SettlementRowDTO struct {
	UserID    string `json:"user_id"`
	MealCount int    `json:"meal_count"`
	Cost      string `json:"cost"`
	Paid      string `json:"paid"`
	Balance   string `json:"balance"`
	Status    string `json:"status"`
}

// SettlementDTO is the full per-member breakdown for a group+period.
type SettlementDTO struct {
	GroupID  string             `json:"group_id"`
	PeriodID string             `json:"period_id"`
	Rate     RateDTO            `json:"rate"`
	Rows     []SettlementRowDTO `json:"rows"`
}

// PaymentDTO represents a payment record.
type PaymentDTO struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Method string `json:"method"`
	Status string `json:"status"`
	Amount string `json:"amount"`
	Date   string `json:"date"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// DOMAIN -> DTO CONVERTERS
// =============================================================================

func toGroupDTO(g *engine.Group) GroupDTO {
	return GroupDTO{
		ID:          string(g.ID),
		Name:        g.Name,
		Private:     g.Private,
		MaxMembers:  g.MaxMembers,
		MemberCount: g.MemberCount,
		PeriodMode:  string(g.PeriodMode),
		CreatedBy:   string(g.CreatedBy),
		Active:      g.Active,
		CreatedAt:   g.CreatedAt.Format(timestampFormat),
	}
}

func toPeriodDTO(p *engine.Period) PeriodDTO {
	dto := PeriodDTO{
		ID:        string(p.ID),
		GroupID:   string(p.GroupID),
		Name:      p.Name,
		Start:     p.Start.String(),
		Status:    string(p.Status),
		Locked:    p.Locked,
		CreatedBy: string(p.CreatedBy),
		CreatedAt: p.CreatedAt.Format(timestampFormat),
	}
	if p.End != nil {
		dto.End = p.End.String()
	}
	return dto
}

func toTransactionDTO(tx *engine.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:           string(tx.ID),
		PeriodID:     string(tx.PeriodID),
		CreatedBy:    string(tx.CreatedBy),
		TargetUserID: string(tx.TargetUserID),
		Type:         string(tx.Type),
		Amount:       tx.Amount.String(),
		Date:         tx.Date.String(),
		Note:         tx.Note,
		CreatedAt:    tx.CreatedAt.Format(timestampFormat),
	}
}

func toHistoryDTO(h engine.TransactionHistory) HistoryDTO {
	return HistoryDTO{
		ID:            h.ID,
		TransactionID: string(h.TransactionID),
		Action:        string(h.Action),
		Amount:        h.Amount.String(),
		ChangedBy:     string(h.ChangedBy),
		ChangedAt:     h.ChangedAt.Format(timestampFormat),
	}
}

func toPaymentDTO(p engine.Payment) PaymentDTO {
	return PaymentDTO{
		ID:     p.ID,
		UserID: string(p.UserID),
		Method: p.Method,
		Status: string(p.Status),
		Amount: p.Amount.String(),
		Date:   p.Date.String(),
	}
}

func toRateDTO(r engine.MealRateReport) RateDTO {
	return RateDTO{
		Rate:             r.Rate.String(),
		TotalMeals:       r.TotalMeals,
		OtherExpenses:    r.OtherExpenses.String(),
		ShoppingExpenses: r.ShoppingExpenses.String(),
	}
}

func toBalanceDTO(mb engine.MemberBalance) BalanceDTO {
	return BalanceDTO{
		UserID:    string(mb.UserID),
		PeriodID:  string(mb.PeriodID),
		Balance:   mb.Balance.String(),
		Paid:      mb.Paid.String(),
		MealCount: mb.MealCount,
		MealCost:  mb.MealCost.String(),
		Available: mb.Available.String(),
	}
}

func toSettlementDTO(s *engine.SettlementSummary) SettlementDTO {
	dto := SettlementDTO{
		GroupID:  string(s.GroupID),
		PeriodID: string(s.PeriodID),
		Rate:     toRateDTO(s.Rate),
		Rows:     make([]SettlementRowDTO, 0, len(s.Rows)),
	}
	for _, row := range s.Rows {
		dto.Rows = append(dto.Rows, SettlementRowDTO{
			UserID:    string(row.UserID),
			MealCount: row.MealCount,
			Cost:      row.Cost.String(),
			Paid:      row.Paid.String(),
			Balance:   row.Balance.String(),
			Status:    string(row.Status),
		})
	}
	return dto
}

const timestampFormat = "2006-01-02T15:04:05Z07:00"
