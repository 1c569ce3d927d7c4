/*
request.go - Purchase request data model

PURPOSE:
  Defines the PurchaseRequest aggregate and its items, the closed set of
  statuses a request can be in, and the deep-copy helper that lets every
  transition work on its own snapshot.

REQUEST FLOW:
  ┌──────────────────────────────────────────────────────────────────┐
  │                                                                  │
  │              approve (no change)        rollback                 │
  │   Pending ───────────────────────▶ Approved ──────▶ Pending      │
  │      │                                                           │
  │      │ approve (quantities changed)          reconcile           │
  │      ├──────────────────────────▶ Adjusted ──────────▶ Closed    │
  │      │                                                           │
  │      │ reject                                                    │
  │      └──────────────────────────▶ Rejected ──rollback─▶ Pending  │
  │                                                                  │
  └──────────────────────────────────────────────────────────────────┘

  Approved and Adjusted also accept "edit" (remarks / quantities) without
  leaving their status. Closed is terminal.

OWNERSHIP:
  Requests are values. Transition functions call Clone() before changing
  anything, so the caller's copy is never mutated.

SEE ALSO:
  - procurement/machine.go: Transition rules
  - store.go: Persistence
*/
package generic

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusAdjusted Status = "adjusted"
	StatusClosed   Status = "closed"
)

// AllStatuses lists every status in workflow order.
var AllStatuses = []Status{StatusPending, StatusApproved, StatusAdjusted, StatusRejected, StatusClosed}

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusAdjusted, StatusClosed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool { return s == StatusClosed }

// ParseStatus accepts any casing, e.g. "Adjusted" or "adjusted".
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
	}
	return st, nil
}

// =============================================================================
// ITEM
// =============================================================================

// Item is one line of a purchase request.
type Item struct {
	ID          ItemID
	Description string
	Unit        string

	// RequestedQuantity and UnitCost are fixed at creation.
	RequestedQuantity int
	UnitCost          decimal.Decimal

	// Set only when approval changed the quantity.
	AdjustedQuantity *int
	AdjustmentReason string

	// Derived: EffectiveQuantity × UnitCost.
	LineTotal decimal.Decimal

	// Populated by reconciliation only.
	RefundQuantity   *int
	ReplaceQuantity  *int
	NoActionQuantity *int
}

// EffectiveQuantity is the adjusted quantity when present, else the requested one.
// It is also the base quantity reconciliation must sum to.
func (i Item) EffectiveQuantity() int {
	if i.AdjustedQuantity != nil {
		return *i.AdjustedQuantity
	}
	return i.RequestedQuantity
}

func (i Item) IsAdjusted() bool {
	return i.AdjustedQuantity != nil && *i.AdjustedQuantity != i.RequestedQuantity
}

func (i Item) IsReconciled() bool {
	return i.RefundQuantity != nil && i.ReplaceQuantity != nil && i.NoActionQuantity != nil
}

// ClearReconciliation drops refund/replace/no-action figures.
func (i *Item) ClearReconciliation() {
	i.RefundQuantity = nil
	i.ReplaceQuantity = nil
	i.NoActionQuantity = nil
}

func (i Item) clone() Item {
	c := i
	c.AdjustedQuantity = cloneInt(i.AdjustedQuantity)
	c.RefundQuantity = cloneInt(i.RefundQuantity)
	c.ReplaceQuantity = cloneInt(i.ReplaceQuantity)
	c.NoActionQuantity = cloneInt(i.NoActionQuantity)
	return c
}

// =============================================================================
// PURCHASE REQUEST
// =============================================================================

type PurchaseRequest struct {
	ID        RequestID
	Number    string // human reference, e.g. PR-2025-0001
	Requester string

	Status Status
	Items  []Item

	// Always Σ Items[i].LineTotal after a successful transition.
	TotalAmount decimal.Decimal

	// Approval tracking
	ApprovedBy     *string
	ApprovedAt     *time.Time
	FinanceRemarks *string

	// Rejection tracking
	RejectedBy      *string
	RejectedAt      *time.Time
	RejectionReason *string

	// Reconciliation tracking
	ClosedBy *string
	ClosedAt *time.Time

	// Incremented by every successful transition.
	Version int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy that shares no pointers or slices with r.
func (r PurchaseRequest) Clone() PurchaseRequest {
	c := r
	if r.Items != nil {
		c.Items = make([]Item, len(r.Items))
		for i, it := range r.Items {
			c.Items[i] = it.clone()
		}
	}
	c.ApprovedBy = cloneString(r.ApprovedBy)
	c.ApprovedAt = cloneTime(r.ApprovedAt)
	c.FinanceRemarks = cloneString(r.FinanceRemarks)
	c.RejectedBy = cloneString(r.RejectedBy)
	c.RejectedAt = cloneTime(r.RejectedAt)
	c.RejectionReason = cloneString(r.RejectionReason)
	c.ClosedBy = cloneString(r.ClosedBy)
	c.ClosedAt = cloneTime(r.ClosedAt)
	return c
}

// ItemIndex returns the position of the item with the given ID, or -1.
func (r PurchaseRequest) ItemIndex(id ItemID) int {
	for i, it := range r.Items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// HasAdjustments reports whether any item quantity differs from what was requested.
func (r PurchaseRequest) HasAdjustments() bool {
	for _, it := range r.Items {
		if it.IsAdjusted() {
			return true
		}
	}
	return false
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// IntPtr and StringPtr help build optional fields in literals.
func IntPtr(v int) *int          { return &v }
func StringPtr(v string) *string { return &v }
