// Package orders composes bracket orders from sizing decisions. Building an
// order is a pure computation; nothing is submitted here.
package orders

import (
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradebot/internal/types"
)

// ErrInvalidOrder rejects a build request whose quantity or computed leg
// prices are not positive.
var ErrInvalidOrder = errors.New("invalid order")

// pricePlaces is the exchange tick precision the legs are rounded to.
const pricePlaces = 2

// Build composes a bracket order: a market entry with dependent stop-loss
// and take-profit legs. For a long entry the stop sits below and the target
// above; a short entry mirrors both. All legs carry one client-assigned
// correlation ID so partial fills or cancellations can be reconciled as a
// single unit. Crypto pairs get GTC orders since they trade around the
// clock; equities get day orders.
func Build(symbol, side string, quantity, entryPrice, stopLossPct, takeProfitPct float64) (*types.BracketOrder, error) {
	if quantity <= 0 || entryPrice <= 0 {
		return nil, ErrInvalidOrder
	}

	entry := decimal.NewFromFloat(entryPrice)
	stopFrac := decimal.NewFromFloat(stopLossPct / 100)
	targetFrac := decimal.NewFromFloat(takeProfitPct / 100)
	one := decimal.NewFromInt(1)

	var stop, target decimal.Decimal
	switch side {
	case types.SideBuy:
		stop = entry.Mul(one.Sub(stopFrac))
		target = entry.Mul(one.Add(targetFrac))
	case types.SideSell:
		stop = entry.Mul(one.Add(stopFrac))
		target = entry.Mul(one.Sub(targetFrac))
	default:
		return nil, ErrInvalidOrder
	}

	stop = stop.Round(pricePlaces)
	target = target.Round(pricePlaces)
	if !stop.IsPositive() || !target.IsPositive() {
		return nil, ErrInvalidOrder
	}

	tif := types.TimeInForceDay
	if types.IsCrypto(symbol) {
		tif = types.TimeInForceGTC
	}

	return &types.BracketOrder{
		CorrelationID: uuid.New().String(),
		Symbol:        symbol,
		Side:          side,
		Quantity:      quantity,
		EntryPrice:    entryPrice,
		StopPrice:     stop.InexactFloat64(),
		TargetPrice:   target.InexactFloat64(),
		TimeInForce:   tif,
	}, nil
}
