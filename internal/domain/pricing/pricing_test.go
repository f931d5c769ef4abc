package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/beanhouse/internal/domain/errs"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func ptr(v decimal.Decimal) *decimal.Decimal { return &v }

func TestCalculator_Quote(t *testing.T) {
	calc := NewCalculator(DefaultConfig())

	tests := []struct {
		name         string
		lines        []Line
		override     *decimal.Decimal
		wantSubtotal decimal.Decimal
		wantShipping decimal.Decimal
	}{
		{
			name:         "below threshold pays flat fee",
			lines:        []Line{{ProductID: "latte", Price: d("100000"), Quantity: 2}},
			wantSubtotal: d("200000"),
			wantShipping: d("30000"),
		},
		{
			name:         "exactly at threshold still pays",
			lines:        []Line{{ProductID: "beans", Price: d("300000"), Quantity: 1}},
			wantSubtotal: d("300000"),
			wantShipping: d("30000"),
		},
		{
			name:         "above threshold ships free",
			lines:        []Line{{ProductID: "beans", Price: d("150000"), Quantity: 3}},
			wantSubtotal: d("450000"),
			wantShipping: decimal.Zero,
		},
		{
			name:         "override replaces computed fee",
			lines:        []Line{{ProductID: "latte", Price: d("50000"), Quantity: 1}},
			override:     ptr(d("15000")),
			wantSubtotal: d("50000"),
			wantShipping: d("15000"),
		},
		{
			name:         "zero override is honoured",
			lines:        []Line{{ProductID: "latte", Price: d("50000"), Quantity: 1}},
			override:     ptr(decimal.Zero),
			wantSubtotal: d("50000"),
			wantShipping: decimal.Zero,
		},
		{
			name: "invalid quantity defaults to one, negative price to zero",
			lines: []Line{
				{ProductID: "mocha", Price: d("40000"), Quantity: 0},
				{ProductID: "broken", Price: d("-10"), Quantity: 5},
			},
			wantSubtotal: d("40000"),
			wantShipping: d("30000"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := calc.Quote(tt.lines, tt.override)
			require.NoError(t, err)
			assert.True(t, tt.wantSubtotal.Equal(q.Subtotal), "subtotal %s", q.Subtotal)
			assert.True(t, tt.wantShipping.Equal(q.ShippingFee), "shipping %s", q.ShippingFee)
			assert.False(t, q.Subtotal.IsNegative())
		})
	}
}

func TestCalculator_QuoteEmptyCart(t *testing.T) {
	_, err := NewCalculator(DefaultConfig()).Quote(nil, nil)

	var ve *errs.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "items", ve.Field)
}

func TestCalculator_QuoteNegativeOverride(t *testing.T) {
	_, err := NewCalculator(DefaultConfig()).Quote(
		[]Line{{ProductID: "latte", Price: d("1"), Quantity: 1}},
		ptr(d("-1")),
	)

	var ve *errs.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "shippingFee", ve.Field)
}

func TestSubtotal_SumsLines(t *testing.T) {
	lines := []Line{
		{Price: d("12500"), Quantity: 3},
		{Price: d("0"), Quantity: 7},
		{Price: d("99999"), Quantity: 1},
	}
	assert.True(t, d("137499").Equal(Subtotal(lines)))
}

func TestTotal(t *testing.T) {
	tests := []struct {
		subtotal, shipping, discount, want string
	}{
		{"200000", "30000", "0", "230000"},
		{"200000", "30000", "23000", "207000"},
		{"200000", "0", "200000", "0"},
		{"1000", "30000", "999999", "0"},
	}
	for _, tt := range tests {
		got := Total(d(tt.subtotal), d(tt.shipping), d(tt.discount))
		assert.True(t, d(tt.want).Equal(got), "total(%s,%s,%s) = %s", tt.subtotal, tt.shipping, tt.discount, got)
	}
}
