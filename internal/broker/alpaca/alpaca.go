// Package alpaca adapts the Alpaca trading API to the engine's Brokerage
// interface. Credentials are taken from the standard APCA_* environment
// variables, which the config loader validates at startup.
package alpaca

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"tradebot/internal/broker"
	"tradebot/internal/types"
)

// Broker implements broker.Brokerage against a live or paper Alpaca account.
type Broker struct {
	tradeClient *alpaca.Client
	mdClient    *marketdata.Client
}

var _ broker.Brokerage = (*Broker)(nil)

// New returns a Broker configured from the APCA_* environment.
func New() *Broker {
	return &Broker{
		tradeClient: alpaca.NewClient(alpaca.ClientOpts{}),
		mdClient:    marketdata.NewClient(marketdata.ClientOpts{}),
	}
}

// call runs a blocking SDK call and races it against the context deadline.
// The SDK itself does not take a context, so an abandoned call may finish in
// the background; the caller still gets a prompt, typed failure.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v: v, err: err}
	}()

	var zero T
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, broker.ErrTimeout
		}
		return zero, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return zero, fmt.Errorf("%w: %v", broker.ErrRejected, r.err)
		}
		return r.v, nil
	}
}

func (b *Broker) GetAccount(ctx context.Context) (*types.AccountSnapshot, error) {
	acct, err := call(ctx, b.tradeClient.GetAccount)
	if err != nil {
		return nil, err
	}
	return &types.AccountSnapshot{
		Equity:      acct.Equity.InexactFloat64(),
		Cash:        acct.Cash.InexactFloat64(),
		BuyingPower: acct.BuyingPower.InexactFloat64(),
		AsOf:        time.Now(),
	}, nil
}

func (b *Broker) GetPositions(ctx context.Context) ([]types.Position, error) {
	alpacaPositions, err := call(ctx, b.tradeClient.GetPositions)
	if err != nil {
		return nil, err
	}

	positions := make([]types.Position, 0, len(alpacaPositions))
	for _, p := range alpacaPositions {
		positions = append(positions, mapPosition(&p))
	}
	return positions, nil
}

func (b *Broker) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	trade, err := call(ctx, func() (*marketdata.Trade, error) {
		return b.mdClient.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
	})
	if err != nil {
		return 0, err
	}
	if trade == nil {
		return 0, fmt.Errorf("%w: no trade data for %s", broker.ErrRejected, symbol)
	}
	return trade.Price, nil
}

func (b *Broker) SubmitBracketOrder(ctx context.Context, order *types.BracketOrder) (string, error) {
	qty := decimal.NewFromFloat(order.Quantity)
	stopPrice := decimal.NewFromFloat(order.StopPrice)
	targetPrice := decimal.NewFromFloat(order.TargetPrice)

	tif := alpaca.Day
	if order.TimeInForce == types.TimeInForceGTC {
		tif = alpaca.GTC
	}

	req := alpaca.PlaceOrderRequest{
		Symbol:        order.Symbol,
		Qty:           &qty,
		Side:          alpaca.Side(order.Side),
		Type:          alpaca.Market,
		TimeInForce:   tif,
		ClientOrderID: order.CorrelationID,
		OrderClass:    alpaca.Bracket,
		TakeProfit:    &alpaca.TakeProfit{LimitPrice: &targetPrice},
		StopLoss:      &alpaca.StopLoss{StopPrice: &stopPrice},
	}

	submitted, err := call(ctx, func() (*alpaca.Order, error) {
		return b.tradeClient.PlaceOrder(req)
	})
	if err != nil {
		return "", err
	}
	return submitted.ID, nil
}

func (b *Broker) ClosePosition(ctx context.Context, symbol string) (*types.Fill, error) {
	// Snapshot the position before closing so the fill can report the
	// realized P&L and exit price even though the close is a market order.
	position, err := call(ctx, func() (*alpaca.Position, error) {
		return b.tradeClient.GetPosition(symbol)
	})
	if err != nil {
		return nil, err
	}
	snapshot := mapPosition(position)

	if _, err := call(ctx, func() (*alpaca.Order, error) {
		return b.tradeClient.ClosePosition(symbol, alpaca.ClosePositionRequest{})
	}); err != nil {
		return nil, err
	}

	return &types.Fill{
		Symbol:     symbol,
		Qty:        snapshot.Qty,
		Price:      snapshot.CurrentPrice,
		RealizedPL: snapshot.UnrealizedPL,
		FilledAt:   time.Now(),
	}, nil
}

// mapPosition converts an Alpaca position, dereferencing the SDK's optional
// decimal fields.
func mapPosition(p *alpaca.Position) types.Position {
	deref := func(d *decimal.Decimal) float64 {
		if d == nil {
			return 0
		}
		return d.InexactFloat64()
	}

	return types.Position{
		Symbol:          p.Symbol,
		Qty:             p.Qty.InexactFloat64(),
		AvgEntryPrice:   p.AvgEntryPrice.InexactFloat64(),
		CurrentPrice:    deref(p.CurrentPrice),
		MarketValue:     deref(p.MarketValue),
		UnrealizedPL:    deref(p.UnrealizedPL),
		UnrealizedPLPct: deref(p.UnrealizedPLPC) * 100,
	}
}
