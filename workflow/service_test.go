package workflow_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/procurement-engine/generic"
	"github.com/warp/procurement-engine/generic/store"
	"github.com/warp/procurement-engine/procurement"
	"github.com/warp/procurement-engine/workflow"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestService(t *testing.T) (*workflow.Service, *store.Memory, *generic.FixedClock) {
	t.Helper()
	mem := store.NewMemory()
	clock := generic.NewFixedClock(time.Date(2025, time.April, 1, 8, 0, 0, 0, time.UTC))
	svc := workflow.NewService(mem, clock, slog.New(slog.NewTextHandler(io.Discard, nil)))
	n := 0
	svc.NewID = func() string { n++; return fmt.Sprintf("audit-%d", n) }
	return svc, mem, clock
}

func createLaptops(t *testing.T, svc *workflow.Service) generic.PurchaseRequest {
	t.Helper()
	req, err := svc.Create(context.Background(), generic.PurchaseRequest{
		ID:        "pr-100",
		Requester: "alice",
		Items: []generic.Item{
			{ID: "laptop", Description: "Laptop", RequestedQuantity: 20, UnitCost: decimal.NewFromInt(850)},
		},
	}, "")
	require.NoError(t, err)
	return req
}

func cut(qty int64, reason string) []procurement.ItemAdjustment {
	return []procurement.ItemAdjustment{{ItemID: "laptop", AdjustedQuantity: decimal.NewFromInt(qty), AdjustmentReason: reason}}
}

// =============================================================================
// TESTS
// =============================================================================

func TestService_Create_ComputesTotalsAndAudits(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	req := createLaptops(t, svc)

	assert.Equal(t, generic.StatusPending, req.Status)
	assert.Equal(t, 1, req.Version)
	assert.True(t, req.TotalAmount.Equal(decimal.NewFromInt(17000)))

	history, err := svc.History(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, generic.AuditRequestCreated, history[0].Action)
	assert.Equal(t, "alice", history[0].ActorID)
}

func TestService_Create_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, generic.PurchaseRequest{ID: "x"}, "alice")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	createLaptops(t, svc)
	_, err = svc.Create(ctx, generic.PurchaseRequest{ID: "pr-100", Items: []generic.Item{{ID: "a", RequestedQuantity: 1}}}, "alice")
	assert.ErrorIs(t, err, generic.ErrDuplicateRequest)
}

func TestService_FullLifecycle(t *testing.T) {
	// GIVEN: A pending request for 20 laptops
	// WHEN: Adjusted to 15, then reconciled 5/0/10
	// THEN: Closed, refund 4250, every step audited with from/to status
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	req := createLaptops(t, svc)

	adjusted, err := svc.Approve(ctx, req.ID, generic.StatusPending, cut(15, "Budget cut"), generic.StringPtr("Q2 budget"), "finance-1")
	require.NoError(t, err)
	assert.Equal(t, generic.StatusAdjusted, adjusted.Status)

	out, err := svc.Reconcile(ctx, req.ID, generic.StatusAdjusted, []procurement.ItemDistribution{{
		ItemID: "laptop", RefundQuantity: decimal.NewFromInt(5), ReplaceQuantity: decimal.Zero, NoActionQuantity: decimal.NewFromInt(10),
	}}, "finance-2")
	require.NoError(t, err)
	assert.Equal(t, generic.StatusClosed, out.Request.Status)
	assert.True(t, out.Reconciliation.TotalRefund.Equal(decimal.NewFromInt(4250)))

	stored, err := svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.StatusClosed, stored.Status)
	assert.Equal(t, 3, stored.Version)

	history, err := svc.History(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, generic.AuditRequestAdjusted, history[1].Action)
	assert.Equal(t, generic.StatusPending, history[1].FromStatus)
	assert.Equal(t, generic.StatusAdjusted, history[1].ToStatus)
	assert.Equal(t, generic.AuditRequestReconciled, history[2].Action)
	assert.Equal(t, "4250", history[2].Payload["total_refund"])
}

func TestService_FailedTransition_WritesNothing(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	req := createLaptops(t, svc)

	_, err := svc.Approve(ctx, req.ID, generic.StatusPending, cut(15, ""), nil, "finance-1")
	require.ErrorIs(t, err, generic.ErrMissingAdjustmentReason)

	stored, err := mem.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req, stored)

	history, err := svc.History(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestService_StaleExpectedStatus(t *testing.T) {
	// GIVEN: Two approvers looking at the same Pending request
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	req := createLaptops(t, svc)

	// WHEN: The first rejects, the second then tries to approve
	_, err := svc.Reject(ctx, req.ID, generic.StatusPending, "Supplier blacklisted", "finance-1")
	require.NoError(t, err)
	_, err = svc.Approve(ctx, req.ID, generic.StatusPending, nil, nil, "finance-2")

	// THEN: The second gets StaleState
	require.ErrorIs(t, err, generic.ErrStaleState)
	assert.True(t, generic.IsRetryable(err))
}

func TestService_RollbackAndEdit(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	req := createLaptops(t, svc)

	approved, err := svc.Approve(ctx, req.ID, generic.StatusPending, nil, nil, "finance-1")
	require.NoError(t, err)
	assert.Equal(t, generic.StatusApproved, approved.Status)

	edited, err := svc.Edit(ctx, req.ID, generic.StatusApproved, nil, generic.StringPtr("PO 4471"), "finance-1")
	require.NoError(t, err)
	assert.Equal(t, "PO 4471", *edited.FinanceRemarks)

	pending, err := svc.Rollback(ctx, req.ID, generic.StatusApproved, "finance-1")
	require.NoError(t, err)
	assert.Equal(t, generic.StatusPending, pending.Status)
	assert.Nil(t, pending.FinanceRemarks)

	_, err = svc.Rollback(ctx, req.ID, generic.StatusPending, "finance-1")
	assert.ErrorIs(t, err, generic.ErrInvalidTransition)
}

func TestService_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Approve(context.Background(), "missing", generic.StatusPending, nil, nil, "finance-1")

	assert.True(t, generic.IsNotFound(err))
}

func TestService_FlagOverdueReconciliations(t *testing.T) {
	// GIVEN: An adjusted request approved now
	svc, _, clock := newTestService(t)
	ctx := context.Background()
	req := createLaptops(t, svc)
	_, err := svc.Approve(ctx, req.ID, generic.StatusPending, cut(10, "Budget cut"), nil, "finance-1")
	require.NoError(t, err)

	// WHEN: Checking before the threshold
	flagged, err := svc.FlagOverdueReconciliations(ctx, 72*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, flagged)

	// WHEN: Checking after the threshold, twice
	clock.Advance(73 * time.Hour)
	flagged, err = svc.FlagOverdueReconciliations(ctx, 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []generic.RequestID{req.ID}, flagged)

	flagged, err = svc.FlagOverdueReconciliations(ctx, 72*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, flagged, "flagged once per approval")

	// THEN: Status is untouched
	stored, err := svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.StatusAdjusted, stored.Status)
}
