package generic_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/procurement-engine/generic"
	"golang.org/x/text/language"
)

func TestQuantityFromDecimal(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"0", 0, true},
		{"15", 15, true},
		{"15.000", 15, true},
		{"15.5", 0, false},
		{"-1", 0, false},
		{"99999999999", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := generic.QuantityFromDecimal(decimal.RequireFromString(tt.in))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseQuantity_NotANumber(t *testing.T) {
	_, err := generic.ParseQuantity("ten")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	d, err := generic.ParseQuantity(" 12 ")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.NewFromInt(12)))
}

func TestFormatMoney_GroupsThousands(t *testing.T) {
	s := generic.FormatMoney(decimal.NewFromInt(17000), "usd", language.English)

	assert.Contains(t, s, "USD ")
	assert.Contains(t, s, "17,000")
}

func TestRoundMoney_HalfAwayFromZero(t *testing.T) {
	assert.Equal(t, "0.13", generic.RoundMoney(decimal.RequireFromString("0.125")).String())
	assert.Equal(t, "-0.13", generic.RoundMoney(decimal.RequireFromString("-0.125")).String())
}

func TestParseStatus(t *testing.T) {
	st, err := generic.ParseStatus("Adjusted")
	require.NoError(t, err)
	assert.Equal(t, generic.StatusAdjusted, st)

	_, err = generic.ParseStatus("archived")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestClone_SharesNothing(t *testing.T) {
	// GIVEN: A request with pointer fields set
	orig := generic.PurchaseRequest{
		ID:             "pr-1",
		FinanceRemarks: generic.StringPtr("orig"),
		Items: []generic.Item{
			{ID: "a", RequestedQuantity: 3, AdjustedQuantity: generic.IntPtr(2), RefundQuantity: generic.IntPtr(1)},
		},
	}

	// WHEN: Mutating the clone
	c := orig.Clone()
	*c.FinanceRemarks = "changed"
	*c.Items[0].AdjustedQuantity = 0
	*c.Items[0].RefundQuantity = 0
	c.Items[0].Description = "changed"

	// THEN: The original is untouched
	assert.Equal(t, "orig", *orig.FinanceRemarks)
	assert.Equal(t, 2, *orig.Items[0].AdjustedQuantity)
	assert.Equal(t, 1, *orig.Items[0].RefundQuantity)
	assert.Empty(t, orig.Items[0].Description)
}

func TestItem_EffectiveQuantity(t *testing.T) {
	it := generic.Item{RequestedQuantity: 20}
	assert.Equal(t, 20, it.EffectiveQuantity())
	assert.False(t, it.IsAdjusted())

	it.AdjustedQuantity = generic.IntPtr(15)
	assert.Equal(t, 15, it.EffectiveQuantity())
	assert.True(t, it.IsAdjusted())
}

func TestValidationError_Matching(t *testing.T) {
	err := fmt.Errorf("approve: %w",
		generic.NewItemError(generic.KindReconciliationMismatch, 3, "x", "sum must equal %d, got %d", 5, 4))

	assert.ErrorIs(t, err, generic.ErrReconciliationMismatch)
	assert.False(t, errors.Is(err, generic.ErrStaleState))

	kind, ok := generic.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, generic.KindReconciliationMismatch, kind)

	res := generic.ResultOf(err)
	assert.False(t, res.IsValid)
	assert.Equal(t, []string{"Item #3: sum must equal 5, got 4"}, res.Errors)

	assert.True(t, generic.IsClientError(err))
	assert.True(t, generic.ResultOf(nil).IsValid)
}

func TestErrorHelpers(t *testing.T) {
	stale := generic.NewValidationError(generic.KindStaleState, "moved")
	assert.True(t, generic.IsRetryable(stale))
	assert.True(t, generic.IsConflict(stale))
	assert.True(t, generic.IsRetryable(fmt.Errorf("save: %w", generic.ErrConcurrentModification)))
	assert.True(t, generic.IsNotFound(fmt.Errorf("get: %w", generic.ErrRequestNotFound)))
	assert.False(t, generic.IsClientError(errors.New("disk full")))
}

func TestFormatMoney_KeepsEveryDigitOfLargeAmounts(t *testing.T) {
	amount := decimal.RequireFromString("123456789012345.67")

	s := generic.FormatMoney(amount, "USD", language.English)

	assert.Equal(t, "USD 123,456,789,012,345.67", s)
}

func TestFormatMoney_LocaleSeparators(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		tag    language.Tag
		want   string
	}{
		{"english", "1234.5", language.English, "USD 1,234.50"},
		{"german", "1234.5", language.German, "USD 1.234,50"},
		{"negative", "-0.125", language.English, "USD -0.13"},
		{"small", "7", language.English, "USD 7.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := generic.FormatMoney(decimal.RequireFromString(tt.amount), "usd", tt.tag)
			assert.Equal(t, tt.want, got)
		})
	}
}
