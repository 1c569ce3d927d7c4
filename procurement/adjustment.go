package procurement

import (
	"fmt"
	"strings"

	"github.com/warp/procurement-engine/generic"
)

// =============================================================================
// ITEM ADJUSTMENT VALIDATOR
// =============================================================================

// ApplyAdjustments validates adjustments against items and returns a new item
// list with them applied. Items without an adjustment are copied unchanged.
//
// Rules, checked item by item in request order; the first failure wins:
//   - quantity must be a whole number >= 0 (InvalidQuantity)
//   - a changed quantity needs a non-blank reason (MissingAdjustmentReason)
//   - an unchanged quantity clears any previous adjustment
//
// Unknown or repeated item IDs are input errors, not validation failures.
// Line totals are not recomputed here; see Recalculate.
func ApplyAdjustments(items []generic.Item, adjustments []ItemAdjustment) ([]generic.Item, error) {
	byItem, err := indexAdjustments(items, adjustments)
	if err != nil {
		return nil, err
	}

	out := cloneItems(items)
	for i := range out {
		adj, ok := byItem[out[i].ID]
		if !ok {
			continue
		}
		if err := applyAdjustment(&out[i], i+1, adj); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ValidateAdjustments runs ApplyAdjustments for its verdict only.
func ValidateAdjustments(items []generic.Item, adjustments []ItemAdjustment) generic.ValidationResult {
	_, err := ApplyAdjustments(items, adjustments)
	return generic.ResultOf(err)
}

func applyAdjustment(item *generic.Item, position int, adj ItemAdjustment) error {
	if adj.AdjustedQuantity.IsNegative() {
		return generic.NewItemError(generic.KindInvalidQuantity, position, item.ID,
			"quantity cannot be negative, got %s", adj.AdjustedQuantity)
	}
	qty, ok := generic.QuantityFromDecimal(adj.AdjustedQuantity)
	if !ok {
		return generic.NewItemError(generic.KindInvalidQuantity, position, item.ID,
			"quantity must be a whole number, got %s", adj.AdjustedQuantity)
	}

	if qty == item.RequestedQuantity {
		item.AdjustedQuantity = nil
		item.AdjustmentReason = ""
		return nil
	}

	reason := strings.TrimSpace(adj.AdjustmentReason)
	if reason == "" {
		return generic.NewItemError(generic.KindMissingAdjustmentReason, position, item.ID,
			"a reason is required when changing quantity from %d to %d", item.RequestedQuantity, qty)
	}
	item.AdjustedQuantity = generic.IntPtr(qty)
	item.AdjustmentReason = reason
	return nil
}

func indexAdjustments(items []generic.Item, adjustments []ItemAdjustment) (map[generic.ItemID]ItemAdjustment, error) {
	known := make(map[generic.ItemID]bool, len(items))
	for _, it := range items {
		known[it.ID] = true
	}
	byItem := make(map[generic.ItemID]ItemAdjustment, len(adjustments))
	for _, adj := range adjustments {
		if !known[adj.ItemID] {
			return nil, fmt.Errorf("%w: adjustment for unknown item %q", generic.ErrInvalidInput, adj.ItemID)
		}
		if _, dup := byItem[adj.ItemID]; dup {
			return nil, fmt.Errorf("%w: more than one adjustment for item %q", generic.ErrInvalidInput, adj.ItemID)
		}
		byItem[adj.ItemID] = adj
	}
	return byItem, nil
}

func cloneItems(items []generic.Item) []generic.Item {
	return generic.PurchaseRequest{Items: items}.Clone().Items
}
