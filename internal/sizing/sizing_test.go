package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSize_CapNeverExceeded(t *testing.T) {
	equity := 10000.0
	params := Params{MaxPositionSizePct: 10}
	maxNotional := equity * params.MaxPositionSizePct / 100

	for i := 0; i <= 20; i++ {
		confidence := float64(i) / 20
		decision, err := Size("AAPL", "buy", equity, 150.0, confidence, params)
		require.NoError(t, err, "confidence %f", confidence)
		assert.LessOrEqual(t, decision.Notional, maxNotional,
			"confidence %f produced notional above the cap", confidence)
	}
}

func TestSize_HighConfidenceExample(t *testing.T) {
	// equity=$10,000, confidence=0.85, cap=10% -> notional at most $1,000.
	decision, err := Size("AAPL", "buy", 10000, 150.0, 0.85, Params{MaxPositionSizePct: 10})
	require.NoError(t, err)

	assert.LessOrEqual(t, decision.Notional, 1000.0)
	assert.Greater(t, decision.Quantity, 0.0)
	assert.Equal(t, 0.85, decision.Confidence)
}

func TestSize_QuantityFlooredToIncrement(t *testing.T) {
	// Equity trades in whole shares.
	decision, err := Size("AAPL", "buy", 10000, 333.0, 0.9, Params{MaxPositionSizePct: 10})
	require.NoError(t, err)
	assert.Equal(t, 3.0, decision.Quantity)
	assert.Equal(t, 999.0, decision.Notional)

	// Crypto trades in fractional quantities, four decimal places.
	decision, err = Size("BTC/USD", "buy", 10000, 60000.0, 0.9, Params{MaxPositionSizePct: 10})
	require.NoError(t, err)
	assert.Equal(t, 0.0166, decision.Quantity)
}

func TestSize_LowConfidenceIsZero(t *testing.T) {
	// At confidence 0.4 the Kelly fraction goes to zero: no trade.
	decision, err := Size("AAPL", "buy", 10000, 150.0, 0.4, Params{MaxPositionSizePct: 10})
	require.NoError(t, err)
	assert.Equal(t, 0.0, decision.Quantity)
	assert.Equal(t, 0.0, decision.Notional)
}

func TestSize_TinyAccountRoundsToZeroShares(t *testing.T) {
	decision, err := Size("AAPL", "buy", 100, 500.0, 0.95, Params{MaxPositionSizePct: 10})
	require.NoError(t, err)
	assert.Equal(t, 0.0, decision.Quantity)
}

func TestSize_InvalidInputs(t *testing.T) {
	tests := []struct {
		name       string
		equity     float64
		price      float64
		confidence float64
	}{
		{"negative confidence", 10000, 150, -0.1},
		{"confidence above one", 10000, 150, 1.1},
		{"zero equity", 0, 150, 0.8},
		{"negative equity", -5000, 150, 0.8},
		{"zero price", 10000, 0, 0.8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Size("AAPL", "buy", tt.equity, tt.price, tt.confidence, Params{MaxPositionSizePct: 10})
			assert.ErrorIs(t, err, ErrInvalidSignal)
		})
	}
}
