package procurement

import (
	"github.com/shopspring/decimal"
	"github.com/warp/procurement-engine/generic"
)

// =============================================================================
// REQUEST TOTAL AGGREGATOR
// =============================================================================

// LineTotal is (adjusted ?? requested) × unit cost.
func LineTotal(item generic.Item) decimal.Decimal {
	return generic.LineAmount(item.EffectiveQuantity(), item.UnitCost)
}

// TotalAmount sums line totals. Zero items give zero.
func TotalAmount(items []generic.Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(LineTotal(it))
	}
	return total
}

// Recalculate returns a copy of req with every LineTotal and the TotalAmount
// recomputed from quantities and unit costs.
func Recalculate(req generic.PurchaseRequest) generic.PurchaseRequest {
	out := req.Clone()
	for i := range out.Items {
		out.Items[i].LineTotal = LineTotal(out.Items[i])
	}
	out.TotalAmount = TotalAmount(out.Items)
	return out
}
