package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundHalfUp(t *testing.T) {
	assert.Equal(t, "10.13", Format(Round(decimal.RequireFromString("10.125"))))
	assert.Equal(t, "10.12", Format(Round(decimal.RequireFromString("10.124"))))
	assert.Equal(t, "0.00", Format(Round(decimal.Zero)))
}

func TestLineTotal(t *testing.T) {
	price := MustParse("19.99")
	assert.Equal(t, "59.97", Format(LineTotal(price, 3)))
	assert.True(t, LineTotal(price, 0).IsZero())
}

func TestSumIsExact(t *testing.T) {
	// 0.1 + 0.2 must be exactly 0.30, unlike binary floating point.
	got := Sum(MustParse("0.10"), MustParse("0.20"))
	assert.True(t, got.Equal(MustParse("0.30")))
}

func TestNonNegative(t *testing.T) {
	_, err := NonNegative(decimal.NewFromInt(-1))
	require.ErrorIs(t, err, ErrNegative)

	d, err := NonNegative(decimal.RequireFromString("5.555"))
	require.NoError(t, err)
	assert.Equal(t, "5.56", Format(d))
}

func TestParse(t *testing.T) {
	d, err := Parse("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	_, err = Parse("abc")
	require.Error(t, err)
}
