/*
Package generic provides the shared vocabulary of the procurement engine.

PURPOSE:
  This package contains the plain data types, money helpers, error taxonomy
  and storage interfaces that every other package speaks. It holds no
  workflow rules of its own; those live in package procurement.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal amounts (never float64)
  - Quantity: whole-number item counts, accepted as decimals at the edges
    so that "2.5 boxes" can be rejected instead of silently truncated
  - FormatMoney: locale-aware display strings via golang.org/x/text

DESIGN PRINCIPLES:
  1. Precision: all arithmetic on money uses decimal.Decimal
  2. Exactness: line totals are kept exact; rounding happens on display
  3. Type Safety: RequestID and ItemID are distinct string types

USAGE:
  cost := generic.MustParseDecimal("850")
  line := generic.LineAmount(20, cost) // 17000
  fmt.Println(generic.FormatMoney(line, "USD", language.English))

SEE ALSO:
  - request.go: PurchaseRequest and Item
  - errors.go: ValidationError and error kinds
  - store.go: Persistence interfaces
*/
package generic

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type RequestID string
type ItemID string

// =============================================================================
// MONEY
// =============================================================================

// MoneyScale is the number of decimal places used when presenting money.
const MoneyScale int32 = 2

// DefaultCurrency is used when no currency is configured.
const DefaultCurrency = "USD"

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// RoundMoney rounds half away from zero to MoneyScale places.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(MoneyScale) }

// LineAmount is quantity × unit cost, unrounded.
func LineAmount(quantity int, unitCost decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(quantity)).Mul(unitCost)
}

// SumAmounts adds a list of amounts. An empty list sums to zero.
func SumAmounts(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// FormatMoney renders an amount as "<CUR> 1,234.50" using the number
// conventions of the given language.
func FormatMoney(amount decimal.Decimal, currency string, tag language.Tag) string {
	if currency == "" {
		currency = DefaultCurrency
	}
	p := message.NewPrinter(tag)

	// Digits come from the decimal; x/text only supplies grouping and the
	// decimal separator.
	rounded := RoundMoney(amount)
	whole, frac, _ := strings.Cut(rounded.Abs().StringFixed(MoneyScale), ".")

	intPart := rounded.Abs().Truncate(0).BigInt()
	grouped := whole
	if intPart.IsInt64() {
		grouped = p.Sprint(number.Decimal(intPart.Int64()))
	}

	sign := ""
	if rounded.IsNegative() {
		sign = "-"
	}
	return strings.ToUpper(currency) + " " + sign + grouped + decimalSeparator(p) + frac
}

// decimalSeparator reports the separator the printer's locale puts before
// fractional digits.
func decimalSeparator(p *message.Printer) string {
	s := p.Sprint(number.Decimal(0.5, number.Scale(1)))
	return strings.TrimSuffix(strings.TrimPrefix(s, "0"), "5")
}

// =============================================================================
// QUANTITIES
// =============================================================================

// MaxQuantity bounds any single item quantity the engine accepts.
const MaxQuantity = math.MaxInt32

// IsWholeNumber reports whether d has no fractional part.
func IsWholeNumber(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(0))
}

// QuantityFromDecimal converts a whole, non-negative, in-range decimal to int.
// The bool is false when the value cannot be used as an item quantity.
func QuantityFromDecimal(d decimal.Decimal) (int, bool) {
	if d.IsNegative() || !IsWholeNumber(d) || d.GreaterThan(decimal.NewFromInt(MaxQuantity)) {
		return 0, false
	}
	return int(d.IntPart()), true
}

// ParseQuantity parses a textual quantity such as "15" or "15.0".
func ParseQuantity(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: quantity %q is not a number", ErrInvalidInput, s)
	}
	return d, nil
}
