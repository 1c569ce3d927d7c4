// Package procurement implements the purchase-request approval engine: the
// status state machine, the item adjustment validator, the refund/replacement
// reconciler and the total aggregator. Everything here is pure; requests go
// in by value and new values come out.
package procurement

import (
	"github.com/shopspring/decimal"
	"github.com/warp/procurement-engine/generic"
)

// =============================================================================
// ACTIONS
// =============================================================================

type Action string

const (
	ActionApprove   Action = "approve"
	ActionReject    Action = "reject"
	ActionReconcile Action = "reconcile"
	ActionRollback  Action = "rollback"
	ActionEdit      Action = "edit"
)

func (a Action) String() string { return string(a) }

// =============================================================================
// INPUTS
// =============================================================================

// ItemAdjustment proposes a new quantity for one item. Quantities are decimals
// so that fractional input is reported rather than truncated.
type ItemAdjustment struct {
	ItemID           generic.ItemID
	AdjustedQuantity decimal.Decimal
	AdjustmentReason string
}

// ItemDistribution splits an item's base quantity into buckets.
type ItemDistribution struct {
	ItemID           generic.ItemID
	RefundQuantity   decimal.Decimal
	ReplaceQuantity  decimal.Decimal
	NoActionQuantity decimal.Decimal
}

// Command is a single transition request for Machine.Apply. Only the fields
// relevant to Action are read.
type Command struct {
	Action   Action
	Expected generic.Status // status the caller believes the request is in
	Actor    string

	Adjustments    []ItemAdjustment   // approve, edit
	FinanceRemarks *string            // approve, edit; nil keeps the current value
	Reason         string             // reject
	Distributions  []ItemDistribution // reconcile
}

// =============================================================================
// OUTPUTS
// =============================================================================

// ReconciliationSummary holds the money figures derived from a distribution.
// They are informational: TotalAmount is never reduced by a refund.
type ReconciliationSummary struct {
	TotalRefund  decimal.Decimal
	TotalReplace decimal.Decimal

	// NoOp is true when every unit went to no-action. Valid, but callers
	// usually want to warn about it.
	NoOp bool
}

// Outcome is the result of a successful transition.
type Outcome struct {
	Request generic.PurchaseRequest
	From    generic.Status
	Action  Action

	// Set for reconcile only.
	Reconciliation *ReconciliationSummary
}
