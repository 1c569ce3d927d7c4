/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with purchase
	requests in every interesting state. Each scenario goes through the
	workflow service, so the audit trail looks exactly like real usage.

AVAILABLE SCENARIOS:

	new-request:            One pending request for 20 laptops
	budget-cut:             Approved with 20 -> 15, awaiting reconciliation
	refund-closed:          Budget cut reconciled 5 refund / 10 no-action
	supplier-rejected:      Rejected with a reason
	overdue-reconciliation: Adjusted four days ago and never reconciled
	all-states:             One request per status

HOW SCENARIOS WORK:
 1. Reset store (clear requests and audit log)
 2. Create requests from JSON via the factory
 3. Drive transitions through the workflow service

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "budget-cut"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Request handlers
  - factory/request.go: Request JSON definitions
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/procurement-engine/generic"
	"github.com/warp/procurement-engine/procurement"
	"github.com/warp/procurement-engine/workflow"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "new-request",
		Name:        "New Request",
		Description: "One pending request for 20 laptops at 850.00",
	},
	{
		ID:          "budget-cut",
		Name:        "Budget Cut",
		Description: "Finance approved 15 of 20 laptops; awaiting reconciliation",
	},
	{
		ID:          "refund-closed",
		Name:        "Refund Closed",
		Description: "Budget cut reconciled: 5 refunded, 10 no action",
	},
	{
		ID:          "supplier-rejected",
		Name:        "Supplier Rejected",
		Description: "Office furniture rejected because the supplier is blacklisted",
	},
	{
		ID:          "overdue-reconciliation",
		Name:        "Overdue Reconciliation",
		Description: "Adjusted four days ago and never reconciled",
	},
	{
		ID:          "all-states",
		Name:        "All States",
		Description: "One request in each of pending, approved, adjusted, rejected and closed",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	loader, ok := h.scenarioLoaders()[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Service.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""

	if err := loader(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

func (h *Handler) scenarioLoaders() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"new-request":            h.loadNewRequestScenario,
		"budget-cut":             h.loadBudgetCutScenario,
		"refund-closed":          h.loadRefundClosedScenario,
		"supplier-rejected":      h.loadSupplierRejectedScenario,
		"overdue-reconciliation": h.loadOverdueReconciliationScenario,
		"all-states":             h.loadAllStatesScenario,
	}
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

const laptopsJSON = `{
	"id": "pr-laptops",
	"number": "PR-2025-0001",
	"requester": "alice",
	"items": [
		{"id": "laptop", "description": "14in developer laptop", "unit": "pcs", "requested_quantity": 20, "unit_cost": "850.00"}
	]
}`

const furnitureJSON = `{
	"id": "pr-furniture",
	"number": "PR-2025-0002",
	"requester": "bob",
	"items": [
		{"id": "desk", "description": "Standing desk", "unit": "pcs", "requested_quantity": 6, "unit_cost": "420.00"},
		{"id": "chair", "description": "Ergonomic chair", "unit": "pcs", "requested_quantity": 6, "unit_cost": "310.00"}
	]
}`

const suppliesJSON = `{
	"id": "pr-supplies",
	"number": "PR-2025-0003",
	"requester": "carol",
	"items": [
		{"id": "paper", "description": "A4 paper", "unit": "box", "requested_quantity": 10, "unit_cost": "4.25"},
		{"id": "toner", "description": "Toner cartridge", "unit": "pcs", "requested_quantity": 3, "unit_cost": "79.90"}
	]
}`

func (h *Handler) loadNewRequestScenario(ctx context.Context) error {
	_, err := h.createFromJSON(ctx, laptopsJSON)
	return err
}

func (h *Handler) loadBudgetCutScenario(ctx context.Context) error {
	req, err := h.createFromJSON(ctx, laptopsJSON)
	if err != nil {
		return err
	}
	return budgetCut(ctx, h.Service, req.ID)
}

func (h *Handler) loadRefundClosedScenario(ctx context.Context) error {
	req, err := h.createFromJSON(ctx, laptopsJSON)
	if err != nil {
		return err
	}
	if err := budgetCut(ctx, h.Service, req.ID); err != nil {
		return err
	}
	_, err = h.Service.Reconcile(ctx, req.ID, generic.StatusAdjusted, []procurement.ItemDistribution{
		distribution("laptop", 5, 0, 10),
	}, "finance-bob")
	return err
}

func (h *Handler) loadSupplierRejectedScenario(ctx context.Context) error {
	req, err := h.createFromJSON(ctx, furnitureJSON)
	if err != nil {
		return err
	}
	_, err = h.Service.Reject(ctx, req.ID, generic.StatusPending, "Supplier blacklisted by compliance", "finance-ann")
	return err
}

// The approval is made four days in the past so the overdue check picks it up.
func (h *Handler) loadOverdueReconciliationScenario(ctx context.Context) error {
	past := generic.NewFixedClock(h.Service.Clock.Now().Add(-96 * time.Hour))
	backdated := workflow.NewService(h.Service.Store, past, h.Logger)

	req, err := h.Factory.ParseRequest(suppliesJSON)
	if err != nil {
		return err
	}
	if _, err := backdated.Create(ctx, req, req.Requester); err != nil {
		return err
	}
	_, err = backdated.Approve(ctx, req.ID, generic.StatusPending, []procurement.ItemAdjustment{
		{ItemID: "toner", AdjustedQuantity: decimal.NewFromInt(2), AdjustmentReason: "One cartridge in stock"},
	}, nil, "finance-ann")
	return err
}

func (h *Handler) loadAllStatesScenario(ctx context.Context) error {
	if err := h.loadRefundClosedScenario(ctx); err != nil {
		return err
	}
	if err := h.loadSupplierRejectedScenario(ctx); err != nil {
		return err
	}
	if err := h.loadOverdueReconciliationScenario(ctx); err != nil {
		return err
	}

	approved, err := h.createFromJSON(ctx, `{
		"id": "pr-monitors",
		"number": "PR-2025-0004",
		"requester": "dave",
		"items": [{"id": "monitor", "description": "27in monitor", "requested_quantity": 4, "unit_cost": "289.99"}]
	}`)
	if err != nil {
		return err
	}
	if _, err := h.Service.Approve(ctx, approved.ID, generic.StatusPending, nil, generic.StringPtr("PO 4471"), "finance-ann"); err != nil {
		return err
	}

	_, err = h.createFromJSON(ctx, `{
		"id": "pr-headsets",
		"number": "PR-2025-0005",
		"requester": "erin",
		"items": [{"id": "headset", "description": "Noise-cancelling headset", "requested_quantity": 12, "unit_cost": "149.00"}]
	}`)
	return err
}

func (h *Handler) createFromJSON(ctx context.Context, js string) (generic.PurchaseRequest, error) {
	req, err := h.Factory.ParseRequest(js)
	if err != nil {
		return generic.PurchaseRequest{}, err
	}
	return h.Service.Create(ctx, req, req.Requester)
}

func budgetCut(ctx context.Context, svc *workflow.Service, id generic.RequestID) error {
	_, err := svc.Approve(ctx, id, generic.StatusPending, []procurement.ItemAdjustment{
		{ItemID: "laptop", AdjustedQuantity: decimal.NewFromInt(15), AdjustmentReason: "Budget cut for Q2"},
	}, generic.StringPtr("Approved within revised budget"), "finance-ann")
	return err
}

func distribution(id string, refund, replace, noAction int64) procurement.ItemDistribution {
	return procurement.ItemDistribution{
		ItemID:           generic.ItemID(id),
		RefundQuantity:   decimal.NewFromInt(refund),
		ReplaceQuantity:  decimal.NewFromInt(replace),
		NoActionQuantity: decimal.NewFromInt(noAction),
	}
}
