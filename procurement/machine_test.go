package procurement_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/procurement-engine/generic"
	"github.com/warp/procurement-engine/procurement"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)

func newTestMachine() *procurement.Machine {
	return procurement.NewMachine(generic.NewFixedClock(testNow))
}

// laptopRequest is a single-item Pending request: 20 × 850.
func laptopRequest() generic.PurchaseRequest {
	req := generic.PurchaseRequest{
		ID:        "pr-001",
		Number:    "PR-2025-0001",
		Requester: "alice",
		Status:    generic.StatusPending,
		Items: []generic.Item{
			{ID: "item-1", Description: "Laptop", Unit: "pcs", RequestedQuantity: 20, UnitCost: decimal.NewFromInt(850)},
		},
		Version:   1,
		CreatedAt: testNow.Add(-24 * time.Hour),
	}
	return procurement.Recalculate(req)
}

func twoItemRequest() generic.PurchaseRequest {
	req := generic.PurchaseRequest{
		ID:     "pr-002",
		Status: generic.StatusPending,
		Items: []generic.Item{
			{ID: "paper", RequestedQuantity: 10, UnitCost: decimal.RequireFromString("4.25")},
			{ID: "toner", RequestedQuantity: 3, UnitCost: decimal.RequireFromString("79.90")},
		},
		Version: 1,
	}
	return procurement.Recalculate(req)
}

func adjust(itemID string, qty int64, reason string) procurement.ItemAdjustment {
	return procurement.ItemAdjustment{
		ItemID:           generic.ItemID(itemID),
		AdjustedQuantity: decimal.NewFromInt(qty),
		AdjustmentReason: reason,
	}
}

func distribute(itemID string, refund, replace, noAction int64) procurement.ItemDistribution {
	return procurement.ItemDistribution{
		ItemID:           generic.ItemID(itemID),
		RefundQuantity:   decimal.NewFromInt(refund),
		ReplaceQuantity:  decimal.NewFromInt(replace),
		NoActionQuantity: decimal.NewFromInt(noAction),
	}
}

func requireKind(t *testing.T, err error, kind generic.ErrorKind) *generic.ValidationError {
	t.Helper()
	require.Error(t, err)
	var verr *generic.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, kind, verr.Kind)
	return verr
}

// adjustedLaptop is the request after approving 15 of 20 with a reason.
func adjustedLaptop(t *testing.T, m *procurement.Machine) generic.PurchaseRequest {
	t.Helper()
	next, err := m.Approve(laptopRequest(), generic.StatusPending,
		[]procurement.ItemAdjustment{adjust("item-1", 15, "Budget cut")}, nil, "finance-1")
	require.NoError(t, err)
	return next
}

// =============================================================================
// APPROVAL
// =============================================================================

func TestApprove_UnchangedQuantity_Approved(t *testing.T) {
	// GIVEN: 20 laptops at 850
	// WHEN: Finance approves with the same quantity
	// THEN: Approved, total 17000, no reason needed
	m := newTestMachine()

	next, err := m.Approve(laptopRequest(), generic.StatusPending,
		[]procurement.ItemAdjustment{adjust("item-1", 20, "")}, nil, "finance-1")

	require.NoError(t, err)
	assert.Equal(t, generic.StatusApproved, next.Status)
	assert.True(t, next.TotalAmount.Equal(decimal.NewFromInt(17000)), "total %s", next.TotalAmount)
	assert.Nil(t, next.Items[0].AdjustedQuantity)
	require.NotNil(t, next.ApprovedBy)
	assert.Equal(t, "finance-1", *next.ApprovedBy)
	require.NotNil(t, next.ApprovedAt)
	assert.Equal(t, testNow, *next.ApprovedAt)
	assert.Equal(t, 2, next.Version)
	assert.Equal(t, testNow, next.UpdatedAt)
}

func TestApprove_NoAdjustments_Approved(t *testing.T) {
	m := newTestMachine()

	next, err := m.Approve(laptopRequest(), generic.StatusPending, nil, generic.StringPtr("ok for Q1"), "finance-1")

	require.NoError(t, err)
	assert.Equal(t, generic.StatusApproved, next.Status)
	require.NotNil(t, next.FinanceRemarks)
	assert.Equal(t, "ok for Q1", *next.FinanceRemarks)
}

func TestApprove_ChangedQuantityWithoutReason_MissingAdjustmentReason(t *testing.T) {
	// GIVEN: 20 laptops
	// WHEN: Approving 15 with no reason
	// THEN: MissingAdjustmentReason, request unchanged
	m := newTestMachine()
	req := laptopRequest()
	before := req.Clone()

	_, err := m.Approve(req, generic.StatusPending,
		[]procurement.ItemAdjustment{adjust("item-1", 15, "   ")}, nil, "finance-1")

	verr := requireKind(t, err, generic.KindMissingAdjustmentReason)
	assert.Equal(t, generic.ItemID("item-1"), verr.ItemID)
	assert.Equal(t, 1, verr.Position)
	assert.ErrorIs(t, err, generic.ErrMissingAdjustmentReason)
	assert.Equal(t, before, req)
}

func TestApprove_ChangedQuantityWithReason_Adjusted(t *testing.T) {
	// GIVEN: 20 laptops at 850
	// WHEN: Approving 15 with "Budget cut"
	// THEN: Adjusted, line total and total both 12750
	m := newTestMachine()

	next := adjustedLaptop(t, m)

	assert.Equal(t, generic.StatusAdjusted, next.Status)
	require.NotNil(t, next.Items[0].AdjustedQuantity)
	assert.Equal(t, 15, *next.Items[0].AdjustedQuantity)
	assert.Equal(t, "Budget cut", next.Items[0].AdjustmentReason)
	assert.True(t, next.Items[0].LineTotal.Equal(decimal.NewFromInt(12750)))
	assert.True(t, next.TotalAmount.Equal(decimal.NewFromInt(12750)))
	assert.Equal(t, 20, next.Items[0].RequestedQuantity)
}

func TestApprove_OneOfTwoItemsChanged_Adjusted(t *testing.T) {
	m := newTestMachine()

	next, err := m.Approve(twoItemRequest(), generic.StatusPending, []procurement.ItemAdjustment{
		adjust("paper", 10, ""),
		adjust("toner", 2, "one cartridge in stock"),
	}, nil, "finance-1")

	require.NoError(t, err)
	assert.Equal(t, generic.StatusAdjusted, next.Status)
	// 10 × 4.25 + 2 × 79.90
	assert.True(t, next.TotalAmount.Equal(decimal.RequireFromString("202.30")), "total %s", next.TotalAmount)
}

func TestApprove_FirstFailingItemIsReported(t *testing.T) {
	// GIVEN: Two items, both with invalid adjustments
	// WHEN: Approving
	// THEN: The error names item #1 only
	m := newTestMachine()

	_, err := m.Approve(twoItemRequest(), generic.StatusPending, []procurement.ItemAdjustment{
		adjust("toner", -1, "typo"),
		adjust("paper", 5, ""),
	}, nil, "finance-1")

	verr := requireKind(t, err, generic.KindMissingAdjustmentReason)
	assert.Equal(t, 1, verr.Position)
	assert.Contains(t, verr.Result().Errors[0], "Item #1")
}

func TestApprove_NonIntegerQuantity_InvalidQuantity(t *testing.T) {
	m := newTestMachine()

	_, err := m.Approve(laptopRequest(), generic.StatusPending, []procurement.ItemAdjustment{
		{ItemID: "item-1", AdjustedQuantity: decimal.RequireFromString("12.5"), AdjustmentReason: "half"},
	}, nil, "finance-1")

	requireKind(t, err, generic.KindInvalidQuantity)
}

func TestApprove_ZeroQuantityWithReason_Adjusted(t *testing.T) {
	m := newTestMachine()

	next, err := m.Approve(laptopRequest(), generic.StatusPending,
		[]procurement.ItemAdjustment{adjust("item-1", 0, "cancelled by department")}, nil, "finance-1")

	require.NoError(t, err)
	assert.Equal(t, generic.StatusAdjusted, next.Status)
	assert.True(t, next.TotalAmount.IsZero())
}

func TestApprove_UnknownItem_InvalidInput(t *testing.T) {
	m := newTestMachine()

	_, err := m.Approve(laptopRequest(), generic.StatusPending,
		[]procurement.ItemAdjustment{adjust("nope", 1, "x")}, nil, "finance-1")

	require.ErrorIs(t, err, generic.ErrInvalidInput)
	_, isValidation := generic.KindOf(err)
	assert.False(t, isValidation)
}

func TestApprove_EmptyActor_InvalidInput(t *testing.T) {
	m := newTestMachine()

	_, err := m.Approve(laptopRequest(), generic.StatusPending, nil, nil, " ")

	require.ErrorIs(t, err, generic.ErrInvalidInput)
}

// =============================================================================
// REJECTION
// =============================================================================

func TestReject_ShortReason_InvalidRejectionReason(t *testing.T) {
	m := newTestMachine()
	req := laptopRequest()

	_, err := m.Reject(req, generic.StatusPending, "no", "finance-1")

	requireKind(t, err, generic.KindInvalidRejectionReason)
	assert.Equal(t, generic.StatusPending, req.Status)
}

func TestReject_ValidReason_Rejected(t *testing.T) {
	m := newTestMachine()

	next, err := m.Reject(laptopRequest(), generic.StatusPending,
		"  Budget allocation exceeded this quarter  ", "finance-1")

	require.NoError(t, err)
	assert.Equal(t, generic.StatusRejected, next.Status)
	require.NotNil(t, next.RejectionReason)
	assert.Equal(t, "Budget allocation exceeded this quarter", *next.RejectionReason)
	require.NotNil(t, next.RejectedBy)
	assert.Equal(t, "finance-1", *next.RejectedBy)
	require.NotNil(t, next.RejectedAt)
	assert.Nil(t, next.ApprovedBy)
}

func TestReject_ReasonLengthBoundaries(t *testing.T) {
	tests := []struct {
		name   string
		reason string
		valid  bool
	}{
		{"nine chars", "123456789", false},
		{"ten chars", "1234567890", true},
		{"padded nine", "   123456789   ", false},
		{"five hundred", string(make500('x')), true},
		{"five hundred one", string(make500('x')) + "x", false},
		{"blank", "            ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := procurement.ValidateRejectionReason(tt.reason)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				requireKind(t, err, generic.KindInvalidRejectionReason)
			}
		})
	}
}

func make500(r rune) []rune {
	out := make([]rune, 500)
	for i := range out {
		out[i] = r
	}
	return out
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestReconcile_SumMatchesBase_Closed(t *testing.T) {
	// GIVEN: Adjusted to 15 @ 850
	// WHEN: Reconciling 5 refund / 0 replace / 10 no-action
	// THEN: Closed, total refund 4250, total amount unchanged
	m := newTestMachine()
	adjusted := adjustedLaptop(t, m)

	closed, summary, err := m.Reconcile(adjusted, generic.StatusAdjusted,
		[]procurement.ItemDistribution{distribute("item-1", 5, 0, 10)}, "finance-2")

	require.NoError(t, err)
	assert.Equal(t, generic.StatusClosed, closed.Status)
	assert.True(t, summary.TotalRefund.Equal(decimal.NewFromInt(4250)))
	assert.True(t, summary.TotalReplace.IsZero())
	assert.False(t, summary.NoOp)
	assert.True(t, closed.TotalAmount.Equal(adjusted.TotalAmount))
	assert.Equal(t, 5, *closed.Items[0].RefundQuantity)
	assert.Equal(t, 0, *closed.Items[0].ReplaceQuantity)
	assert.Equal(t, 10, *closed.Items[0].NoActionQuantity)
	require.NotNil(t, closed.ClosedBy)
	assert.Equal(t, "finance-2", *closed.ClosedBy)
	assert.Equal(t, adjusted.ApprovedBy, closed.ApprovedBy)
}

func TestReconcile_SumMismatch_StaysAdjusted(t *testing.T) {
	m := newTestMachine()
	adjusted := adjustedLaptop(t, m)
	before := adjusted.Clone()

	_, _, err := m.Reconcile(adjusted, generic.StatusAdjusted,
		[]procurement.ItemDistribution{distribute("item-1", 5, 0, 5)}, "finance-2")

	verr := requireKind(t, err, generic.KindReconciliationMismatch)
	assert.Equal(t, "Item #1: sum must equal 15, got 10", verr.Messages[0])
	assert.Equal(t, before, adjusted)
	assert.Equal(t, generic.StatusAdjusted, adjusted.Status)
}

func TestReconcile_AllNoAction_FlaggedNoOp(t *testing.T) {
	m := newTestMachine()
	adjusted := adjustedLaptop(t, m)

	closed, summary, err := m.Reconcile(adjusted, generic.StatusAdjusted,
		[]procurement.ItemDistribution{distribute("item-1", 0, 0, 15)}, "finance-2")

	require.NoError(t, err)
	assert.Equal(t, generic.StatusClosed, closed.Status)
	assert.True(t, summary.NoOp)
}

func TestReconcile_FromApproved_InvalidTransition(t *testing.T) {
	m := newTestMachine()
	approved, err := m.Approve(laptopRequest(), generic.StatusPending, nil, nil, "finance-1")
	require.NoError(t, err)

	_, _, err = m.Reconcile(approved, generic.StatusApproved,
		[]procurement.ItemDistribution{distribute("item-1", 20, 0, 0)}, "finance-2")

	verr := requireKind(t, err, generic.KindInvalidTransition)
	assert.Contains(t, verr.Messages[0], "reconcile")
	assert.Contains(t, verr.Messages[0], "approved")
}

// =============================================================================
// ROLLBACK
// =============================================================================

func TestRollback_FromAdjusted_ClearsEverything(t *testing.T) {
	// GIVEN: An adjusted request
	// WHEN: Rolling back
	// THEN: Pending, adjustments and approval data cleared, total back to 17000
	m := newTestMachine()
	adjusted := adjustedLaptop(t, m)

	pending, err := m.Rollback(adjusted, generic.StatusAdjusted, "finance-1")

	require.NoError(t, err)
	assert.Equal(t, generic.StatusPending, pending.Status)
	assert.Nil(t, pending.ApprovedBy)
	assert.Nil(t, pending.ApprovedAt)
	assert.Nil(t, pending.FinanceRemarks)
	assert.Nil(t, pending.Items[0].AdjustedQuantity)
	assert.Empty(t, pending.Items[0].AdjustmentReason)
	assert.True(t, pending.TotalAmount.Equal(decimal.NewFromInt(17000)))
	assert.Equal(t, adjusted.Version+1, pending.Version)
}

func TestRollback_FromRejected_ClearsRejection(t *testing.T) {
	m := newTestMachine()
	rejected, err := m.Reject(laptopRequest(), generic.StatusPending, "Budget allocation exceeded", "finance-1")
	require.NoError(t, err)

	pending, err := m.Rollback(rejected, generic.StatusRejected, "finance-1")

	require.NoError(t, err)
	assert.Equal(t, generic.StatusPending, pending.Status)
	assert.Nil(t, pending.RejectedBy)
	assert.Nil(t, pending.RejectedAt)
	assert.Nil(t, pending.RejectionReason)
}

func TestRollback_OnPending_InvalidTransition(t *testing.T) {
	// Rolling back twice: the second call is rejected, not a no-op.
	m := newTestMachine()
	adjusted := adjustedLaptop(t, m)
	pending, err := m.Rollback(adjusted, generic.StatusAdjusted, "finance-1")
	require.NoError(t, err)

	_, err = m.Rollback(pending, generic.StatusPending, "finance-1")

	requireKind(t, err, generic.KindInvalidTransition)
}

func TestRollback_FromClosed_InvalidTransition(t *testing.T) {
	m := newTestMachine()
	closed, _, err := m.Reconcile(adjustedLaptop(t, m), generic.StatusAdjusted,
		[]procurement.ItemDistribution{distribute("item-1", 5, 5, 5)}, "finance-2")
	require.NoError(t, err)

	_, err = m.Rollback(closed, generic.StatusClosed, "finance-1")

	requireKind(t, err, generic.KindInvalidTransition)
}

// =============================================================================
// EDIT
// =============================================================================

func TestEdit_RemarksOnly_KeepsStatusAndApproval(t *testing.T) {
	m := newTestMachine()
	approved, err := m.Approve(laptopRequest(), generic.StatusPending, nil, nil, "finance-1")
	require.NoError(t, err)

	edited, err := m.Edit(approved, generic.StatusApproved, nil, generic.StringPtr("PO raised"), "finance-2")

	require.NoError(t, err)
	assert.Equal(t, generic.StatusApproved, edited.Status)
	assert.Equal(t, "PO raised", *edited.FinanceRemarks)
	assert.Equal(t, "finance-1", *edited.ApprovedBy)
	assert.Equal(t, approved.Version+1, edited.Version)
}

func TestEdit_ChangeQuantity_RecomputesTotal(t *testing.T) {
	m := newTestMachine()
	adjusted := adjustedLaptop(t, m)

	edited, err := m.Edit(adjusted, generic.StatusAdjusted,
		[]procurement.ItemAdjustment{adjust("item-1", 12, "Further cut")}, nil, "finance-1")

	require.NoError(t, err)
	assert.Equal(t, generic.StatusAdjusted, edited.Status)
	assert.True(t, edited.TotalAmount.Equal(decimal.NewFromInt(10200)))
}

func TestEdit_MissingReason_Rejected(t *testing.T) {
	m := newTestMachine()
	adjusted := adjustedLaptop(t, m)

	_, err := m.Edit(adjusted, generic.StatusAdjusted,
		[]procurement.ItemAdjustment{adjust("item-1", 12, "")}, nil, "finance-1")

	requireKind(t, err, generic.KindMissingAdjustmentReason)
}

func TestEdit_NothingToChange_InvalidInput(t *testing.T) {
	m := newTestMachine()
	adjusted := adjustedLaptop(t, m)

	_, err := m.Edit(adjusted, generic.StatusAdjusted, nil, nil, "finance-1")

	require.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestEdit_OnPending_InvalidTransition(t *testing.T) {
	m := newTestMachine()

	_, err := m.Edit(laptopRequest(), generic.StatusPending, nil, generic.StringPtr("x"), "finance-1")

	requireKind(t, err, generic.KindInvalidTransition)
}

// =============================================================================
// STALE STATE
// =============================================================================

func TestStaleState_ExpectedStatusMismatch(t *testing.T) {
	// GIVEN: A request another approver already adjusted
	// WHEN: A second approver, still seeing Pending, tries to reject it
	// THEN: StaleState, checked before transition legality
	m := newTestMachine()
	adjusted := adjustedLaptop(t, m)

	_, err := m.Reject(adjusted, generic.StatusPending, "Budget allocation exceeded", "finance-2")

	requireKind(t, err, generic.KindStaleState)
	assert.True(t, generic.IsRetryable(err))
}

// =============================================================================
// TRANSITION TABLE
// =============================================================================

func TestCanTransition_Table(t *testing.T) {
	allowed := map[generic.Status][]procurement.Action{
		generic.StatusPending:  {procurement.ActionApprove, procurement.ActionReject},
		generic.StatusApproved: {procurement.ActionEdit, procurement.ActionRollback},
		generic.StatusAdjusted: {procurement.ActionEdit, procurement.ActionReconcile, procurement.ActionRollback},
		generic.StatusRejected: {procurement.ActionRollback},
		generic.StatusClosed:   nil,
	}
	all := []procurement.Action{
		procurement.ActionApprove, procurement.ActionReject, procurement.ActionReconcile,
		procurement.ActionRollback, procurement.ActionEdit,
	}

	for _, status := range generic.AllStatuses {
		for _, action := range all {
			want := false
			for _, a := range allowed[status] {
				if a == action {
					want = true
				}
			}
			assert.Equal(t, want, procurement.CanTransition(status, action), "%s from %s", action, status)
		}
	}
}

func TestClosed_ReachableOnlyByReconcile(t *testing.T) {
	m := newTestMachine()
	req := laptopRequest()

	cmds := []procurement.Command{
		{Action: procurement.ActionApprove, Expected: generic.StatusPending, Actor: "a"},
		{Action: procurement.ActionEdit, Expected: generic.StatusApproved, Actor: "a", FinanceRemarks: generic.StringPtr("r")},
		{Action: procurement.ActionRollback, Expected: generic.StatusApproved, Actor: "a"},
		{Action: procurement.ActionReject, Expected: generic.StatusPending, Actor: "a", Reason: "not this quarter"},
		{Action: procurement.ActionRollback, Expected: generic.StatusRejected, Actor: "a"},
	}
	for _, cmd := range cmds {
		out, err := m.Apply(req, cmd)
		require.NoError(t, err, "%s", cmd.Action)
		assert.NotEqual(t, generic.StatusClosed, out.Request.Status)
		assert.Equal(t, req.Status, out.From)
		assert.Nil(t, out.Reconciliation)
		req = out.Request
	}
}

func TestApply_Reconcile_ReturnsSummary(t *testing.T) {
	m := newTestMachine()

	out, err := m.Apply(adjustedLaptop(t, m), procurement.Command{
		Action:        procurement.ActionReconcile,
		Expected:      generic.StatusAdjusted,
		Actor:         "finance-2",
		Distributions: []procurement.ItemDistribution{distribute("item-1", 0, 3, 12)},
	})

	require.NoError(t, err)
	require.NotNil(t, out.Reconciliation)
	assert.True(t, out.Reconciliation.TotalReplace.Equal(decimal.NewFromInt(2550)))
	assert.Equal(t, generic.StatusAdjusted, out.From)
}

func TestApply_UnknownAction_InvalidInput(t *testing.T) {
	m := newTestMachine()

	_, err := m.Apply(laptopRequest(), procurement.Command{Action: "archive", Expected: generic.StatusPending, Actor: "a"})

	require.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestAvailableActions(t *testing.T) {
	assert.Equal(t, []procurement.Action{procurement.ActionApprove, procurement.ActionReject},
		procurement.AvailableActions(generic.StatusPending))
	assert.Empty(t, procurement.AvailableActions(generic.StatusClosed))
}

func TestZeroValueMachine_UsesWallClock(t *testing.T) {
	// GIVEN: A machine built without NewMachine
	m := &procurement.Machine{}

	// WHEN: Approving and then rejecting another request
	next, err := m.Approve(laptopRequest(), generic.StatusPending, nil, nil, "finance-1")
	require.NoError(t, err)
	rejected, err := m.Reject(twoItemRequest(), generic.StatusPending, "Supplier blacklisted", "finance-1")
	require.NoError(t, err)

	// THEN: Both are stamped with the current time
	require.NotNil(t, next.ApprovedAt)
	assert.WithinDuration(t, time.Now(), *next.ApprovedAt, time.Minute)
	require.NotNil(t, rejected.RejectedAt)
	assert.WithinDuration(t, time.Now(), *rejected.RejectedAt, time.Minute)
}

func TestReconcile_RecomputesStaleTotals(t *testing.T) {
	// GIVEN: An adjusted request whose stored totals were zeroed
	m := newTestMachine()
	req := adjustedLaptop(t, m)
	req.Items[0].LineTotal = decimal.Zero
	req.TotalAmount = decimal.Zero

	// WHEN: Reconciled
	next, _, err := m.Reconcile(req, generic.StatusAdjusted,
		[]procurement.ItemDistribution{distribute("item-1", 5, 0, 10)}, "finance-2")

	// THEN: Totals match effective quantity × unit cost again
	require.NoError(t, err)
	assert.True(t, next.Items[0].LineTotal.Equal(decimal.NewFromInt(12750)))
	assert.True(t, next.TotalAmount.Equal(decimal.NewFromInt(12750)))
}

func TestReconcile_NoDistributions_CountsAsZero(t *testing.T) {
	m := newTestMachine()
	req := adjustedLaptop(t, m)

	_, _, err := m.Reconcile(req, generic.StatusAdjusted, nil, "finance-2")

	verr := requireKind(t, err, generic.KindReconciliationMismatch)
	assert.Equal(t, "Item #1: sum must equal 15, got 0", verr.Messages[0])
	assert.NotErrorIs(t, err, generic.ErrInvalidInput)
}
