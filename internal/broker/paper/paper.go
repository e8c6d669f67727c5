// Package paper provides an in-process brokerage simulation used by tests
// and the flow simulation. It fills bracket entries instantly at the quoted
// price with a small random variance and keeps account and position state in
// memory.
package paper

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"tradebot/internal/broker"
	"tradebot/internal/types"
)

// Config tunes the simulated brokerage.
type Config struct {
	StartingCash float64
	SuccessRate  float64 // 0-1, probability a submission is accepted
	MinLatency   time.Duration
	MaxLatency   time.Duration
}

// DefaultConfig accepts every order with a little simulated latency.
func DefaultConfig(startingCash float64) Config {
	return Config{
		StartingCash: startingCash,
		SuccessRate:  1.0,
		MinLatency:   time.Millisecond,
		MaxLatency:   5 * time.Millisecond,
	}
}

type position struct {
	symbol   string
	qty      float64
	avgEntry float64
}

// Broker is a mutex-guarded simulated brokerage.
type Broker struct {
	cfg Config

	mu        sync.Mutex
	cash      float64
	positions map[string]*position
	prices    map[string]float64
}

var _ broker.Brokerage = (*Broker)(nil)

func New(cfg Config) *Broker {
	return &Broker{
		cfg:       cfg,
		cash:      cfg.StartingCash,
		positions: make(map[string]*position),
		prices:    make(map[string]float64),
	}
}

// SetPrice publishes a market price for a symbol. Marks for held positions
// move with it, so tests can drive unrealized P&L.
func (b *Broker) SetPrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[symbol] = price
}

// sleepLatency simulates network latency, honoring the context deadline.
func (b *Broker) sleepLatency(ctx context.Context) error {
	latency := b.cfg.MinLatency
	if spread := b.cfg.MaxLatency - b.cfg.MinLatency; spread > 0 {
		latency += time.Duration(rand.Int63n(int64(spread) + 1))
	}
	select {
	case <-ctx.Done():
		return broker.ErrTimeout
	case <-time.After(latency):
		return nil
	}
}

func (b *Broker) GetAccount(ctx context.Context) (*types.AccountSnapshot, error) {
	if err := b.sleepLatency(ctx); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	equity := b.cash
	for _, p := range b.positions {
		equity += p.qty * b.markLocked(p.symbol, p.avgEntry)
	}

	return &types.AccountSnapshot{
		Equity:      equity,
		Cash:        b.cash,
		BuyingPower: b.cash,
		AsOf:        time.Now(),
	}, nil
}

func (b *Broker) GetPositions(ctx context.Context) ([]types.Position, error) {
	if err := b.sleepLatency(ctx); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	positions := make([]types.Position, 0, len(b.positions))
	for _, p := range b.positions {
		mark := b.markLocked(p.symbol, p.avgEntry)
		marketValue := p.qty * mark
		costBasis := p.qty * p.avgEntry
		pl := marketValue - costBasis
		plPct := 0.0
		if costBasis != 0 {
			plPct = pl / costBasis * 100
		}
		positions = append(positions, types.Position{
			Symbol:          p.symbol,
			Qty:             p.qty,
			AvgEntryPrice:   p.avgEntry,
			CurrentPrice:    mark,
			MarketValue:     marketValue,
			UnrealizedPL:    pl,
			UnrealizedPLPct: plPct,
		})
	}
	return positions, nil
}

func (b *Broker) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	if err := b.sleepLatency(ctx); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	price, ok := b.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: no market data for %s", broker.ErrRejected, symbol)
	}
	return price, nil
}

func (b *Broker) SubmitBracketOrder(ctx context.Context, order *types.BracketOrder) (string, error) {
	if err := b.sleepLatency(ctx); err != nil {
		return "", err
	}

	if rand.Float64() > b.cfg.SuccessRate {
		return "", fmt.Errorf("%w: simulated venue rejection for %s", broker.ErrRejected, order.Symbol)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Fill at the requested entry with a small variance, as a live market
	// order would slip.
	fillPrice := order.EntryPrice * (1 + (rand.Float64()*0.002 - 0.001))
	notional := order.Quantity * fillPrice

	signedQty := order.Quantity
	if order.Side == types.SideSell {
		signedQty = -order.Quantity
	}

	if order.Side == types.SideBuy && notional > b.cash {
		return "", fmt.Errorf("%w: insufficient cash for %s", broker.ErrRejected, order.Symbol)
	}

	p, exists := b.positions[order.Symbol]
	if !exists {
		b.positions[order.Symbol] = &position{
			symbol:   order.Symbol,
			qty:      signedQty,
			avgEntry: fillPrice,
		}
	} else {
		total := p.qty + signedQty
		if total != 0 {
			p.avgEntry = (p.qty*p.avgEntry + signedQty*fillPrice) / total
		}
		p.qty = total
		if p.qty == 0 {
			delete(b.positions, order.Symbol)
		}
	}
	b.cash -= signedQty * fillPrice

	orderID := uuid.New().String()
	log.Debug().
		Str("order_id", orderID).
		Str("correlation_id", order.CorrelationID).
		Str("symbol", order.Symbol).
		Float64("fill_price", fillPrice).
		Msg("paper broker accepted bracket order")
	return orderID, nil
}

func (b *Broker) ClosePosition(ctx context.Context, symbol string) (*types.Fill, error) {
	if err := b.sleepLatency(ctx); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	p, exists := b.positions[symbol]
	if !exists {
		return nil, fmt.Errorf("%w: no open position in %s", broker.ErrRejected, symbol)
	}

	mark := b.markLocked(symbol, p.avgEntry)
	realized := p.qty * (mark - p.avgEntry)
	qty := p.qty

	b.cash += p.qty * mark
	delete(b.positions, symbol)

	return &types.Fill{
		Symbol:     symbol,
		Qty:        qty,
		Price:      mark,
		RealizedPL: realized,
		FilledAt:   time.Now(),
	}, nil
}

// markLocked returns the current mark for a symbol, falling back to the
// given price when no quote has been published. Callers hold b.mu.
func (b *Broker) markLocked(symbol string, fallback float64) float64 {
	if price, ok := b.prices[symbol]; ok {
		return price
	}
	return fallback
}
