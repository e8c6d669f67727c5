// Package execution owns the engine's running/stopped state and orchestrates
// every trade attempt: sizing, risk approval, order submission and history
// recording, serialized per symbol.
package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tradebot/internal/broker"
	"tradebot/internal/history"
	"tradebot/internal/orders"
	"tradebot/internal/risk"
	"tradebot/internal/sizing"
	"tradebot/internal/types"
)

// State is the engine's process-wide run state.
type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
)

// ErrEngineStopped rejects autonomous trades while the engine is stopped.
// Manual trades are an explicit override path and are not blocked by it.
var ErrEngineStopped = errors.New("autonomous trading is stopped")

// Trade result statuses.
const (
	ResultExecuted = "executed"
	ResultSkipped  = "skipped"
)

// TradeRequest is one trade signal to act on.
type TradeRequest struct {
	Symbol     string  `json:"symbol" binding:"required"`
	Side       string  `json:"side" binding:"required"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	Source     string  `json:"-"`
}

// TradeResult reports the outcome of an executed or skipped trade attempt.
type TradeResult struct {
	Status   string                `json:"status"`
	Message  string                `json:"message,omitempty"`
	OrderID  string                `json:"order_id,omitempty"`
	Decision *types.SizingDecision `json:"decision,omitempty"`
	Trade    *history.TradeRecord  `json:"trade,omitempty"`
}

// Config carries the execution-relevant slice of the startup configuration.
type Config struct {
	MaxPositionSizePct float64
	MaxStopLossPct     float64
	TakeProfitPct      float64
	BrokerTimeout      time.Duration
}

// Controller is the top-level execution state machine. EngineState is
// guarded by one mutex; trade execution is additionally serialized per
// symbol so two concurrent attempts on the same symbol can never both pass
// the risk gate on the same stale exposure figures. Different symbols
// execute in parallel.
type Controller struct {
	cfg     Config
	broker  broker.Brokerage
	risk    *risk.Manager
	history *history.Service

	mu    sync.Mutex
	state State

	symMu   sync.Mutex
	symbols map[string]*sync.Mutex

	now func() time.Time
}

func NewController(cfg Config, b broker.Brokerage, riskManager *risk.Manager, historyService *history.Service) *Controller {
	return &Controller{
		cfg:     cfg,
		broker:  b,
		risk:    riskManager,
		history: historyService,
		state:   StateStopped,
		symbols: make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// Start enables autonomous trading. Idempotent: starting a running engine is
// a no-op returning the current state.
func (c *Controller) Start() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		c.state = StateRunning
		log.Info().Msg("autonomous trading started")
	}
	return c.state
}

// Stop disables autonomous trading. Idempotent. Stopping never cancels
// in-flight or resting orders: an accepted order is irrevocable from the
// engine's perspective, and emergency liquidation is the only path that
// actively closes positions.
func (c *Controller) Stop() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateStopped {
		c.state = StateStopped
		log.Info().Msg("autonomous trading stopped")
	}
	return c.state
}

// State returns the current engine state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ExecuteTrade runs one signal through the full pipeline: engine-state
// check, per-symbol lock, account snapshot, sizing, risk gate, order build,
// submission and history record. Denials and rejections leave no side
// effects; a record is appended only after the brokerage accepts the order.
func (c *Controller) ExecuteTrade(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	side, err := normalizeSide(req.Side)
	if err != nil {
		return nil, err
	}
	if side == "" {
		return &TradeResult{Status: ResultSkipped, Message: "hold signal, no action taken"}, nil
	}

	if req.Source == types.SourceAutonomous && c.State() != StateRunning {
		return nil, ErrEngineStopped
	}

	logger := log.With().
		Str("symbol", req.Symbol).
		Str("side", side).
		Float64("confidence", req.Confidence).
		Str("source", req.Source).
		Logger()

	lock := c.symbolLock(req.Symbol)
	lock.Lock()
	defer lock.Unlock()

	account, err := c.getAccount(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch account snapshot")
		return nil, err
	}

	price, err := c.getLatestPrice(ctx, req.Symbol)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch reference price")
		return nil, err
	}

	decision, err := sizing.Size(req.Symbol, side, account.Equity, price, req.Confidence,
		sizing.Params{MaxPositionSizePct: c.cfg.MaxPositionSizePct})
	if err != nil {
		return nil, err
	}
	if decision.Quantity <= 0 {
		logger.Info().Msg("position size too small, trade skipped")
		return &TradeResult{Status: ResultSkipped, Message: "position size too small", Decision: decision}, nil
	}

	// Refresh exposure and gate under the symbol lock: a concurrent trade
	// on the same symbol cannot be approved and submitted between this
	// check and our submission.
	positions, err := c.getPositions(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch positions")
		return nil, err
	}
	now := c.now()
	c.risk.SyncPortfolio(account.Equity, totalExposure(positions), len(positions), now)

	if err := c.risk.Approve(risk.ApprovalRequest{
		Symbol:   req.Symbol,
		Side:     side,
		Quantity: decision.Quantity,
		Notional: decision.Notional,
		Equity:   account.Equity,
	}, now); err != nil {
		logger.Warn().Err(err).Msg("trade denied by risk manager")
		return nil, err
	}

	order, err := orders.Build(req.Symbol, side, decision.Quantity, price,
		c.cfg.MaxStopLossPct, c.cfg.TakeProfitPct)
	if err != nil {
		return nil, err
	}

	orderID, err := c.submitOrder(ctx, order)
	if err != nil {
		logger.Error().Err(err).Msg("order submission failed, no record created")
		return nil, err
	}

	record, err := c.history.LogOpen(history.OpenTradeParams{
		OrderID:       orderID,
		CorrelationID: order.CorrelationID,
		Symbol:        req.Symbol,
		Side:          side,
		Quantity:      decision.Quantity,
		EntryPrice:    price,
		StopPrice:     order.StopPrice,
		TargetPrice:   order.TargetPrice,
		Notional:      decision.Notional,
		Confidence:    req.Confidence,
		Reason:        req.Reason,
		Source:        req.Source,
		OpenedAt:      now,
	})
	if err != nil {
		// The order is live at the brokerage; surface the bookkeeping
		// failure rather than pretending the trade did not happen.
		logger.Error().Err(err).Str("order_id", orderID).Msg("order accepted but history write failed")
		return nil, fmt.Errorf("order %s accepted but not recorded: %w", orderID, err)
	}

	logger.Info().
		Str("order_id", orderID).
		Float64("quantity", decision.Quantity).
		Float64("entry_price", price).
		Float64("stop_price", order.StopPrice).
		Msg("trade executed")

	return &TradeResult{
		Status:   ResultExecuted,
		OrderID:  orderID,
		Decision: decision,
		Trade:    record,
	}, nil
}

// symbolLock returns the mutex serializing execution for a symbol,
// creating it on first use.
func (c *Controller) symbolLock(symbol string) *sync.Mutex {
	c.symMu.Lock()
	defer c.symMu.Unlock()
	lock, ok := c.symbols[symbol]
	if !ok {
		lock = &sync.Mutex{}
		c.symbols[symbol] = lock
	}
	return lock
}

func (c *Controller) getAccount(ctx context.Context) (*types.AccountSnapshot, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.BrokerTimeout)
	defer cancel()
	return c.broker.GetAccount(callCtx)
}

func (c *Controller) getPositions(ctx context.Context) ([]types.Position, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.BrokerTimeout)
	defer cancel()
	return c.broker.GetPositions(callCtx)
}

func (c *Controller) getLatestPrice(ctx context.Context, symbol string) (float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.BrokerTimeout)
	defer cancel()
	return c.broker.GetLatestPrice(callCtx, symbol)
}

func (c *Controller) submitOrder(ctx context.Context, order *types.BracketOrder) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.BrokerTimeout)
	defer cancel()
	return c.broker.SubmitBracketOrder(callCtx, order)
}

// normalizeSide maps signal spellings to order sides. An empty return with
// nil error means a hold signal.
func normalizeSide(side string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(side)) {
	case "buy":
		return types.SideBuy, nil
	case "sell":
		return types.SideSell, nil
	case "hold":
		return "", nil
	default:
		return "", fmt.Errorf("%w: unknown side %q", sizing.ErrInvalidSignal, side)
	}
}

// totalExposure sums the absolute market value of open positions.
func totalExposure(positions []types.Position) float64 {
	var total float64
	for _, p := range positions {
		mv := p.MarketValue
		if mv < 0 {
			mv = -mv
		}
		total += mv
	}
	return total
}
