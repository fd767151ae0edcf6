package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDiscountSignSemantics(t *testing.T) {
	cases := []struct {
		name     string
		discount string
		subtotal string
		amount   string
		total    string
	}{
		{"flat", "-500", "2000", "500", "1500"},
		{"percent", "10", "2000", "200", "1800"},
		{"none", "0", "2000", "0", "2000"},
		{"full percent", "100", "2000", "2000", "0"},
		{"flat exceeds subtotal", "-2500", "2000", "2000", "0"},
		{"fractional percent", "12.5", "99.99", "12.50", "87.49"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := NewDiscount(dec(tc.discount))
			require.NoError(t, err)
			amount, total := d.Apply(dec(tc.subtotal))
			assert.True(t, amount.Equal(dec(tc.amount)), "amount %s", amount)
			assert.True(t, total.Equal(dec(tc.total)), "total %s", total)
		})
	}
}

func TestDiscountAbovePercentRejected(t *testing.T) {
	_, err := NewDiscount(dec("100.01"))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestIsFlat(t *testing.T) {
	flat, err := NewDiscount(dec("-1"))
	require.NoError(t, err)
	assert.True(t, flat.IsFlat())
	pct, err := NewDiscount(dec("1"))
	require.NoError(t, err)
	assert.False(t, pct.IsFlat())
}

func TestLineTotal(t *testing.T) {
	assert.True(t, LineTotal(3, dec("2.50")).Equal(dec("7.5")))
}
