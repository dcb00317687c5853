package bitcoin_test

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklayer/custody-service/internal/adapters/bitcoin"
)

func TestAmountFromBTCIsExactToTheSatoshi(t *testing.T) {
	cases := []struct {
		value float64
		want  string
	}{
		{0.1, "0.1"},
		{0.00000001, "0.00000001"},
		{1234.56789012, "1234.56789012"},
		{21000000, "21000000"},
		// 20999999.97690000 exceeds float64's exact integer range in
		// satoshis; rounding to the satoshi keeps it right.
		{20999999.9769, "20999999.9769"},
	}

	for _, tc := range cases {
		got, err := bitcoin.AmountFromBTC(tc.value)
		require.NoError(t, err)
		assert.True(t, got.Equal(decimal.RequireFromString(tc.want)),
			"AmountFromBTC(%v) = %s, want %s", tc.value, got, tc.want)
	}
}

func TestAmountFromBTCRejectsNonFinite(t *testing.T) {
	_, err := bitcoin.AmountFromBTC(math.NaN())
	assert.Error(t, err)

	_, err = bitcoin.AmountFromBTC(math.Inf(1))
	assert.Error(t, err)
}
