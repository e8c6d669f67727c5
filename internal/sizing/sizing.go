// Package sizing computes trade sizes from account equity and signal
// confidence. Sizing is a pure computation with no shared state, so it is
// safe to call concurrently without synchronization.
package sizing

import (
	"errors"

	"github.com/shopspring/decimal"

	"tradebot/internal/types"
)

// ErrInvalidSignal rejects a sizing request with out-of-range inputs before
// any side effect can occur.
var ErrInvalidSignal = errors.New("invalid trade signal")

const (
	// rewardRiskRatio is the assumed reward:risk used by the Kelly fraction.
	rewardRiskRatio = 1.5

	// maxKellyFraction caps the Kelly output at quarter Kelly.
	maxKellyFraction = 0.25

	// cryptoQtyPlaces is the quantity precision for fractional crypto fills.
	cryptoQtyPlaces = 4
)

// Params holds the configured sizing caps.
type Params struct {
	MaxPositionSizePct float64
}

// Size computes a position size for a signal using Kelly-criterion scaling
// with hard safety caps. The resulting notional never exceeds
// equity * MaxPositionSizePct/100 regardless of confidence. Quantity is the
// notional divided by the reference price, floored to the instrument's
// minimum increment: whole shares for equities, four decimal places for
// crypto pairs. A quantity of zero means the signal was too weak or the
// account too small to trade; callers skip such decisions.
func Size(symbol, side string, equity, price, confidence float64, p Params) (*types.SizingDecision, error) {
	if confidence < 0 || confidence > 1 {
		return nil, ErrInvalidSignal
	}
	if equity <= 0 || price <= 0 {
		return nil, ErrInvalidSignal
	}

	// Kelly criterion f = (b*p - q) / b with confidence as win probability.
	winProb := confidence
	lossProb := 1 - winProb
	kelly := (rewardRiskRatio*winProb - lossProb) / rewardRiskRatio
	if kelly < 0 {
		kelly = 0
	}
	if kelly > maxKellyFraction {
		kelly = maxKellyFraction
	}

	fraction := kelly
	if cap := p.MaxPositionSizePct / 100; fraction > cap {
		fraction = cap
	}

	notional := decimal.NewFromFloat(equity).Mul(decimal.NewFromFloat(fraction))

	qty := notional.Div(decimal.NewFromFloat(price))
	if types.IsCrypto(symbol) {
		qty = qty.RoundDown(cryptoQtyPlaces)
	} else {
		qty = qty.Floor()
	}

	actualNotional := qty.Mul(decimal.NewFromFloat(price))

	return &types.SizingDecision{
		Symbol:     symbol,
		Side:       side,
		Quantity:   qty.InexactFloat64(),
		Notional:   actualNotional.InexactFloat64(),
		Confidence: confidence,
	}, nil
}
