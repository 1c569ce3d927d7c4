package procurement

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/procurement-engine/generic"
)

// =============================================================================
// REFUND / REPLACEMENT RECONCILER
// =============================================================================

// ApplyDistributions validates a distribution for every item and returns the items
// with refund/replace/no-action quantities filled in, plus the derived money
// totals.
//
// For each item, base = adjusted quantity if set, else requested quantity:
//   - every bucket must be a whole number in [0, base]   (InvalidQuantity)
//   - refund + replace + no-action must equal base       (ReconciliationMismatch)
//
// An item with no distribution counts as 0/0/0, so it only passes when its
// base is 0. Unknown or repeated item IDs are input errors. Nothing is
// returned unless every item passes.
func ApplyDistributions(items []generic.Item, distributions []ItemDistribution) ([]generic.Item, ReconciliationSummary, error) {
	byItem, err := indexDistributions(items, distributions)
	if err != nil {
		return nil, ReconciliationSummary{}, err
	}

	out := cloneItems(items)
	for i := range out {
		d := byItem[out[i].ID] // zero value when absent
		refund, replace, noAction, err := checkDistribution(out[i], i+1, d)
		if err != nil {
			return nil, ReconciliationSummary{}, err
		}
		out[i].RefundQuantity = generic.IntPtr(refund)
		out[i].ReplaceQuantity = generic.IntPtr(replace)
		out[i].NoActionQuantity = generic.IntPtr(noAction)
	}
	return out, Summarize(out), nil
}

// ValidateDistributions runs ApplyDistributions for its verdict only.
func ValidateDistributions(items []generic.Item, distributions []ItemDistribution) generic.ValidationResult {
	_, _, err := ApplyDistributions(items, distributions)
	return generic.ResultOf(err)
}

// Summarize derives refund and replacement totals from reconciled items.
// Items without reconciliation figures contribute nothing.
func Summarize(items []generic.Item) ReconciliationSummary {
	s := ReconciliationSummary{TotalRefund: decimal.Zero, TotalReplace: decimal.Zero, NoOp: true}
	for _, it := range items {
		if it.RefundQuantity != nil {
			s.TotalRefund = s.TotalRefund.Add(generic.LineAmount(*it.RefundQuantity, it.UnitCost))
			if *it.RefundQuantity > 0 {
				s.NoOp = false
			}
		}
		if it.ReplaceQuantity != nil {
			s.TotalReplace = s.TotalReplace.Add(generic.LineAmount(*it.ReplaceQuantity, it.UnitCost))
			if *it.ReplaceQuantity > 0 {
				s.NoOp = false
			}
		}
	}
	return s
}

func checkDistribution(item generic.Item, position int, d ItemDistribution) (int, int, int, error) {
	base := item.EffectiveQuantity()

	buckets := []struct {
		name  string
		value decimal.Decimal
	}{
		{"refund", d.RefundQuantity},
		{"replace", d.ReplaceQuantity},
		{"no-action", d.NoActionQuantity},
	}
	var got [3]int
	for i, b := range buckets {
		q, ok := generic.QuantityFromDecimal(b.value)
		if !ok || q > base {
			return 0, 0, 0, generic.NewItemError(generic.KindInvalidQuantity, position, item.ID,
				"%s quantity must be a whole number between 0 and %d, got %s", b.name, base, b.value)
		}
		got[i] = q
	}

	if sum := got[0] + got[1] + got[2]; sum != base {
		return 0, 0, 0, generic.NewItemError(generic.KindReconciliationMismatch, position, item.ID,
			"sum must equal %d, got %d", base, sum)
	}
	return got[0], got[1], got[2], nil
}

func indexDistributions(items []generic.Item, distributions []ItemDistribution) (map[generic.ItemID]ItemDistribution, error) {
	known := make(map[generic.ItemID]bool, len(items))
	for _, it := range items {
		known[it.ID] = true
	}
	byItem := make(map[generic.ItemID]ItemDistribution, len(distributions))
	for _, d := range distributions {
		if !known[d.ItemID] {
			return nil, fmt.Errorf("%w: distribution for unknown item %q", generic.ErrInvalidInput, d.ItemID)
		}
		if _, dup := byItem[d.ItemID]; dup {
			return nil, fmt.Errorf("%w: more than one distribution for item %q", generic.ErrInvalidInput, d.ItemID)
		}
		byItem[d.ItemID] = d
	}
	return byItem, nil
}
