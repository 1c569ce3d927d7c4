/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Purchase requests:
    RequestDTO, ItemDTO, ReconciliationDTO, AuditEntryDTO

  Transitions:
    ApproveRequest, RejectRequest, ReconcileRequest, RollbackRequest,
    EditRequest (with AdjustmentDTO, DistributionDTO)

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

MONEY:
  Amounts are decimal strings ("17000.00") plus a *_display field
  formatted for the configured locale ("USD 17,000.00"). Quantities in
  request bodies are decimals so 2.5 can be rejected as InvalidQuantity
  instead of failing JSON decoding.

VALIDATION:
  Shape rules (required fields, nesting) are validate tags checked by
  go-playground/validator before the body reaches the workflow. Business
  rules (quantity ranges, reasons, sums) stay in the procurement engine
  so they come back as typed ValidationErrors.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/request.go: RequestJSON create body
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/procurement-engine/generic"
	"github.com/warp/procurement-engine/procurement"
	"golang.org/x/text/language"
)

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// RequestDTO represents a purchase request in API responses.
type RequestDTO struct {
	ID                 string    `json:"id"`
	Number             string    `json:"number,omitempty"`
	Requester          string    `json:"requester"`
	Status             string    `json:"status"`
	Items              []ItemDTO `json:"items"`
	Currency           string    `json:"currency"`
	TotalAmount        string    `json:"total_amount"`
	TotalAmountDisplay string    `json:"total_amount_display"`

	ApprovedBy      *string `json:"approved_by,omitempty"`
	ApprovedAt      *string `json:"approved_at,omitempty"`
	FinanceRemarks  *string `json:"finance_remarks,omitempty"`
	RejectedBy      *string `json:"rejected_by,omitempty"`
	RejectedAt      *string `json:"rejected_at,omitempty"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
	ClosedBy        *string `json:"closed_by,omitempty"`
	ClosedAt        *string `json:"closed_at,omitempty"`

	Version          int      `json:"version"`
	CreatedAt        string   `json:"created_at"`
	UpdatedAt        string   `json:"updated_at"`
	AvailableActions []string `json:"available_actions"`

	Reconciliation *ReconciliationDTO `json:"reconciliation,omitempty"`
	Warnings       []string           `json:"warnings,omitempty"`
}

// ItemDTO represents one line item.
type ItemDTO struct {
	ID                string `json:"id"`
	Description       string `json:"description"`
	Unit              string `json:"unit"`
	RequestedQuantity int    `json:"requested_quantity"`
	AdjustedQuantity  *int   `json:"adjusted_quantity,omitempty"`
	AdjustmentReason  string `json:"adjustment_reason,omitempty"`
	EffectiveQuantity int    `json:"effective_quantity"`
	UnitCost          string `json:"unit_cost"`
	LineTotal         string `json:"line_total"`
	LineTotalDisplay  string `json:"line_total_display"`
	RefundQuantity    *int   `json:"refund_quantity,omitempty"`
	ReplaceQuantity   *int   `json:"replace_quantity,omitempty"`
	NoActionQuantity  *int   `json:"no_action_quantity,omitempty"`
}

// ReconciliationDTO carries the derived refund and replacement values.
type ReconciliationDTO struct {
	TotalRefund         string `json:"total_refund"`
	TotalRefundDisplay  string `json:"total_refund_display"`
	TotalReplace        string `json:"total_replace"`
	TotalReplaceDisplay string `json:"total_replace_display"`
	NoOp                bool   `json:"no_op"`
}

// AuditEntryDTO represents one audit trail entry.
type AuditEntryDTO struct {
	ID         string         `json:"id"`
	At         string         `json:"at"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	RequestID  string         `json:"request_id"`
	FromStatus string         `json:"from_status,omitempty"`
	ToStatus   string         `json:"to_status,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Kind    string   `json:"kind,omitempty"`
	Details any      `json:"details,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// =============================================================================
// REQUEST BODY TYPES
// =============================================================================

// AdjustmentDTO changes one item's approved quantity.
type AdjustmentDTO struct {
	ItemID           string          `json:"item_id" validate:"required"`
	AdjustedQuantity decimal.Decimal `json:"adjusted_quantity"`
	AdjustmentReason string          `json:"adjustment_reason" validate:"max=500"`
}

// DistributionDTO splits one item's base quantity. Omitted buckets are 0.
type DistributionDTO struct {
	ItemID           string          `json:"item_id" validate:"required"`
	RefundQuantity   decimal.Decimal `json:"refund_quantity"`
	ReplaceQuantity  decimal.Decimal `json:"replace_quantity"`
	NoActionQuantity decimal.Decimal `json:"no_action_quantity"`
}

// ApproveRequest is the body of POST /api/requests/{id}/approve.
type ApproveRequest struct {
	ExpectedStatus string          `json:"expected_status" validate:"required"`
	Actor          string          `json:"actor" validate:"required,max=128"`
	Adjustments    []AdjustmentDTO `json:"adjustments" validate:"omitempty,dive"`
	FinanceRemarks *string         `json:"finance_remarks" validate:"omitempty,max=1000"`
}

// EditRequest is the body of POST /api/requests/{id}/edit.
type EditRequest ApproveRequest

// RejectRequest is the body of POST /api/requests/{id}/reject.
// Reason length is checked by the engine so it reports InvalidRejectionReason.
type RejectRequest struct {
	ExpectedStatus string `json:"expected_status" validate:"required"`
	Actor          string `json:"actor" validate:"required,max=128"`
	Reason         string `json:"reason"`
}

// ReconcileRequest is the body of POST /api/requests/{id}/reconcile.
type ReconcileRequest struct {
	ExpectedStatus string            `json:"expected_status" validate:"required"`
	Actor          string            `json:"actor" validate:"required,max=128"`
	Distributions  []DistributionDTO `json:"distributions" validate:"omitempty,dive"`
}

// RollbackRequest is the body of POST /api/requests/{id}/rollback.
type RollbackRequest struct {
	ExpectedStatus string `json:"expected_status" validate:"required"`
	Actor          string `json:"actor" validate:"required,max=128"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// CONVERSION
// =============================================================================

func toAdjustments(dtos []AdjustmentDTO) []procurement.ItemAdjustment {
	out := make([]procurement.ItemAdjustment, len(dtos))
	for i, d := range dtos {
		out[i] = procurement.ItemAdjustment{
			ItemID:           generic.ItemID(d.ItemID),
			AdjustedQuantity: d.AdjustedQuantity,
			AdjustmentReason: d.AdjustmentReason,
		}
	}
	return out
}

func toDistributions(dtos []DistributionDTO) []procurement.ItemDistribution {
	out := make([]procurement.ItemDistribution, len(dtos))
	for i, d := range dtos {
		out[i] = procurement.ItemDistribution{
			ItemID:           generic.ItemID(d.ItemID),
			RefundQuantity:   d.RefundQuantity,
			ReplaceQuantity:  d.ReplaceQuantity,
			NoActionQuantity: d.NoActionQuantity,
		}
	}
	return out
}

// money formats amounts for one currency and locale.
type money struct {
	currency string
	tag      language.Tag
}

func (m money) display(d decimal.Decimal) string {
	return generic.FormatMoney(d, m.currency, m.tag)
}

func (m money) toRequestDTO(req generic.PurchaseRequest) RequestDTO {
	dto := RequestDTO{
		ID:                 string(req.ID),
		Number:             req.Number,
		Requester:          req.Requester,
		Status:             req.Status.String(),
		Items:              make([]ItemDTO, len(req.Items)),
		Currency:           m.currency,
		TotalAmount:        generic.RoundMoney(req.TotalAmount).StringFixed(generic.MoneyScale),
		TotalAmountDisplay: m.display(req.TotalAmount),
		ApprovedBy:         req.ApprovedBy,
		ApprovedAt:         formatTimePtr(req.ApprovedAt),
		FinanceRemarks:     req.FinanceRemarks,
		RejectedBy:         req.RejectedBy,
		RejectedAt:         formatTimePtr(req.RejectedAt),
		RejectionReason:    req.RejectionReason,
		ClosedBy:           req.ClosedBy,
		ClosedAt:           formatTimePtr(req.ClosedAt),
		Version:            req.Version,
		CreatedAt:          req.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          req.UpdatedAt.Format(time.RFC3339),
		AvailableActions:   []string{},
	}
	for i, it := range req.Items {
		dto.Items[i] = ItemDTO{
			ID:                string(it.ID),
			Description:       it.Description,
			Unit:              it.Unit,
			RequestedQuantity: it.RequestedQuantity,
			AdjustedQuantity:  it.AdjustedQuantity,
			AdjustmentReason:  it.AdjustmentReason,
			EffectiveQuantity: it.EffectiveQuantity(),
			UnitCost:          it.UnitCost.String(),
			LineTotal:         generic.RoundMoney(it.LineTotal).StringFixed(generic.MoneyScale),
			LineTotalDisplay:  m.display(it.LineTotal),
			RefundQuantity:    it.RefundQuantity,
			ReplaceQuantity:   it.ReplaceQuantity,
			NoActionQuantity:  it.NoActionQuantity,
		}
	}
	for _, a := range procurement.AvailableActions(req.Status) {
		dto.AvailableActions = append(dto.AvailableActions, a.String())
	}
	if req.Status == generic.StatusClosed {
		dto.Reconciliation = m.toReconciliationDTO(procurement.Summarize(req.Items))
	}
	return dto
}

func (m money) toReconciliationDTO(s procurement.ReconciliationSummary) *ReconciliationDTO {
	return &ReconciliationDTO{
		TotalRefund:         generic.RoundMoney(s.TotalRefund).StringFixed(generic.MoneyScale),
		TotalRefundDisplay:  m.display(s.TotalRefund),
		TotalReplace:        generic.RoundMoney(s.TotalReplace).StringFixed(generic.MoneyScale),
		TotalReplaceDisplay: m.display(s.TotalReplace),
		NoOp:                s.NoOp,
	}
}

func toAuditEntryDTO(e generic.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:         e.ID,
		At:         e.At.Format(time.RFC3339),
		ActorID:    e.ActorID,
		Action:     string(e.Action),
		RequestID:  string(e.RequestID),
		FromStatus: e.FromStatus.String(),
		ToStatus:   e.ToStatus.String(),
		Payload:    e.Payload,
	}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
