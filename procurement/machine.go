/*
machine.go - Approval state machine

PURPOSE:
  Decides which status transitions are legal, runs the matching validator,
  recomputes totals and stamps actor/timestamp metadata. Every method takes
  a request by value and returns a new one; on error the input is untouched.

TRANSITIONS:
  From                         Action      To
  ───────────────────────────  ──────────  ─────────────────────────────
  Pending                      approve     Approved (no quantity changed)
  Pending                      approve     Adjusted (any quantity changed)
  Pending                      reject      Rejected
  Approved, Adjusted, Rejected rollback    Pending
  Adjusted                     reconcile   Closed
  Approved, Adjusted           edit        (unchanged)

  Anything else is InvalidTransition. Closed accepts nothing.

OPTIMISTIC CONCURRENCY:
  Every call names the status the caller last saw. If the request has moved
  on, the call fails with StaleState before any rule is evaluated.

EXAMPLE:
  m := procurement.NewMachine(generic.SystemClock{})
  next, err := m.Approve(req, generic.StatusPending, []procurement.ItemAdjustment{
      {ItemID: "item-1", AdjustedQuantity: decimal.NewFromInt(15), AdjustmentReason: "Budget cut"},
  }, nil, "finance-1")
  // next.Status == generic.StatusAdjusted

SEE ALSO:
  - adjustment.go: Item Adjustment Validator
  - reconcile.go: Refund/Replacement Reconciler
  - totals.go: Request Total Aggregator
*/
package procurement

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/warp/procurement-engine/generic"
)

// Rejection reasons are measured in characters after trimming.
const (
	MinRejectionReasonLength = 10
	MaxRejectionReasonLength = 500
)

// =============================================================================
// TRANSITION TABLE
// =============================================================================

// CanTransition reports whether action is legal from status. Every status has
// an explicit case.
func CanTransition(from generic.Status, action Action) bool {
	switch from {
	case generic.StatusPending:
		return action == ActionApprove || action == ActionReject
	case generic.StatusApproved:
		return action == ActionRollback || action == ActionEdit
	case generic.StatusAdjusted:
		return action == ActionRollback || action == ActionEdit || action == ActionReconcile
	case generic.StatusRejected:
		return action == ActionRollback
	case generic.StatusClosed:
		return false
	}
	return false
}

// AvailableActions lists the actions legal from status, in display order.
func AvailableActions(from generic.Status) []Action {
	var out []Action
	for _, a := range []Action{ActionApprove, ActionReject, ActionEdit, ActionReconcile, ActionRollback} {
		if CanTransition(from, a) {
			out = append(out, a)
		}
	}
	return out
}

// =============================================================================
// MACHINE
// =============================================================================

// Machine applies transitions. A nil Clock means wall-clock UTC.
type Machine struct {
	Clock generic.Clock
}

func NewMachine(clock generic.Clock) *Machine {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	return &Machine{Clock: clock}
}

// Apply dispatches a Command to the matching transition.
func (m *Machine) Apply(req generic.PurchaseRequest, cmd Command) (Outcome, error) {
	var (
		next    generic.PurchaseRequest
		summary *ReconciliationSummary
		err     error
	)
	switch cmd.Action {
	case ActionApprove:
		next, err = m.Approve(req, cmd.Expected, cmd.Adjustments, cmd.FinanceRemarks, cmd.Actor)
	case ActionReject:
		next, err = m.Reject(req, cmd.Expected, cmd.Reason, cmd.Actor)
	case ActionReconcile:
		var s ReconciliationSummary
		next, s, err = m.Reconcile(req, cmd.Expected, cmd.Distributions, cmd.Actor)
		summary = &s
	case ActionRollback:
		next, err = m.Rollback(req, cmd.Expected, cmd.Actor)
	case ActionEdit:
		next, err = m.Edit(req, cmd.Expected, cmd.Adjustments, cmd.FinanceRemarks, cmd.Actor)
	default:
		return Outcome{}, fmt.Errorf("%w: unknown action %q", generic.ErrInvalidInput, cmd.Action)
	}
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Request: next, From: req.Status, Action: cmd.Action, Reconciliation: summary}, nil
}

// Approve moves a Pending request to Approved, or to Adjusted when any
// adjustment changes a quantity.
func (m *Machine) Approve(req generic.PurchaseRequest, expected generic.Status, adjustments []ItemAdjustment, remarks *string, actor string) (generic.PurchaseRequest, error) {
	if err := m.guard(req, expected, ActionApprove, actor); err != nil {
		return generic.PurchaseRequest{}, err
	}

	items, err := ApplyAdjustments(req.Items, adjustments)
	if err != nil {
		return generic.PurchaseRequest{}, err
	}

	next := req.Clone()
	next.Items = items
	next = Recalculate(next)

	now := m.now()
	next.Status = generic.StatusApproved
	if next.HasAdjustments() {
		next.Status = generic.StatusAdjusted
	}
	next.ApprovedBy = generic.StringPtr(actor)
	next.ApprovedAt = &now
	if remarks != nil {
		next.FinanceRemarks = generic.StringPtr(*remarks)
	}
	return stamp(next, now), nil
}

// Reject moves a Pending request to Rejected.
func (m *Machine) Reject(req generic.PurchaseRequest, expected generic.Status, reason string, actor string) (generic.PurchaseRequest, error) {
	if err := m.guard(req, expected, ActionReject, actor); err != nil {
		return generic.PurchaseRequest{}, err
	}

	trimmed, err := ValidateRejectionReason(reason)
	if err != nil {
		return generic.PurchaseRequest{}, err
	}

	now := m.now()
	next := Recalculate(req)
	next.Status = generic.StatusRejected
	next.RejectedBy = generic.StringPtr(actor)
	next.RejectedAt = &now
	next.RejectionReason = generic.StringPtr(trimmed)
	return stamp(next, now), nil
}

// Reconcile closes an Adjusted request once every item's distribution sums
// to its base quantity. Refunds do not reduce TotalAmount.
func (m *Machine) Reconcile(req generic.PurchaseRequest, expected generic.Status, distributions []ItemDistribution, actor string) (generic.PurchaseRequest, ReconciliationSummary, error) {
	if err := m.guard(req, expected, ActionReconcile, actor); err != nil {
		return generic.PurchaseRequest{}, ReconciliationSummary{}, err
	}

	items, summary, err := ApplyDistributions(req.Items, distributions)
	if err != nil {
		return generic.PurchaseRequest{}, ReconciliationSummary{}, err
	}

	now := m.now()
	next := req.Clone()
	next.Items = items
	next = Recalculate(next)
	next.Status = generic.StatusClosed
	next.ClosedBy = generic.StringPtr(actor)
	next.ClosedAt = &now
	return stamp(next, now), summary, nil
}

// Rollback returns an Approved, Adjusted or Rejected request to Pending and
// clears everything that only meant something in the state being left:
// approval and rejection metadata, finance remarks, item adjustments and
// reconciliation figures. Rolling back a Pending request is rejected.
func (m *Machine) Rollback(req generic.PurchaseRequest, expected generic.Status, actor string) (generic.PurchaseRequest, error) {
	if err := m.guard(req, expected, ActionRollback, actor); err != nil {
		return generic.PurchaseRequest{}, err
	}

	next := req.Clone()
	for i := range next.Items {
		next.Items[i].AdjustedQuantity = nil
		next.Items[i].AdjustmentReason = ""
		next.Items[i].ClearReconciliation()
	}
	next = Recalculate(next)

	next.Status = generic.StatusPending
	next.ApprovedBy = nil
	next.ApprovedAt = nil
	next.FinanceRemarks = nil
	next.RejectedBy = nil
	next.RejectedAt = nil
	next.RejectionReason = nil
	next.ClosedBy = nil
	next.ClosedAt = nil
	return stamp(next, m.now()), nil
}

// Edit changes finance remarks and/or quantities of an Approved or Adjusted
// request without changing its status or its approval stamp.
func (m *Machine) Edit(req generic.PurchaseRequest, expected generic.Status, adjustments []ItemAdjustment, remarks *string, actor string) (generic.PurchaseRequest, error) {
	if err := m.guard(req, expected, ActionEdit, actor); err != nil {
		return generic.PurchaseRequest{}, err
	}
	if len(adjustments) == 0 && remarks == nil {
		return generic.PurchaseRequest{}, fmt.Errorf("%w: edit needs adjustments or finance remarks", generic.ErrInvalidInput)
	}

	items, err := ApplyAdjustments(req.Items, adjustments)
	if err != nil {
		return generic.PurchaseRequest{}, err
	}

	next := req.Clone()
	next.Items = items
	next = Recalculate(next)
	if remarks != nil {
		next.FinanceRemarks = generic.StringPtr(*remarks)
	}
	return stamp(next, m.now()), nil
}

// =============================================================================
// GUARDS
// =============================================================================

// guard checks, in order: call shape, caller's view of the status, legality.
func (m *Machine) guard(req generic.PurchaseRequest, expected generic.Status, action Action, actor string) error {
	if strings.TrimSpace(actor) == "" {
		return fmt.Errorf("%w: actor is required", generic.ErrInvalidInput)
	}
	if !expected.IsValid() {
		return fmt.Errorf("%w: expected status %q is not a status", generic.ErrInvalidInput, expected)
	}
	if !req.Status.IsValid() {
		return fmt.Errorf("%w: request %s has unknown status %q", generic.ErrInvalidInput, req.ID, req.Status)
	}
	if req.Status != expected {
		return generic.NewValidationError(generic.KindStaleState,
			"request is %s, expected %s; reload and try again", req.Status, expected)
	}
	if !CanTransition(req.Status, action) {
		return generic.NewValidationError(generic.KindInvalidTransition,
			"cannot %s a request that is %s", action, req.Status)
	}
	return nil
}

// ValidateRejectionReason trims the reason and checks its length.
func ValidateRejectionReason(reason string) (string, error) {
	trimmed := strings.TrimSpace(reason)
	n := utf8.RuneCountInString(trimmed)
	if n < MinRejectionReasonLength || n > MaxRejectionReasonLength {
		return "", generic.NewValidationError(generic.KindInvalidRejectionReason,
			"rejection reason must be %d-%d characters, got %d",
			MinRejectionReasonLength, MaxRejectionReasonLength, n)
	}
	return trimmed, nil
}

func (m *Machine) now() time.Time {
	if m.Clock == nil {
		return time.Now().UTC()
	}
	return m.Clock.Now()
}

// stamp bumps the version and modification time of a transitioned request.
func stamp(req generic.PurchaseRequest, now time.Time) generic.PurchaseRequest {
	req.Version++
	req.UpdatedAt = now
	return req
}
