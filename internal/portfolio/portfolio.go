// Package portfolio reads through to the brokerage for live account and
// position state, derives risk metrics, and executes position-close
// operations.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tradebot/internal/broker"
	"tradebot/internal/history"
	"tradebot/internal/risk"
	"tradebot/internal/types"
)

// ErrNoSuchPosition is returned when a close is requested for a symbol the
// brokerage holds no position in.
var ErrNoSuchPosition = errors.New("no open position for symbol")

// Status is the live portfolio view: the account snapshot, the brokerage's
// positions, derived risk metrics and the engine's open trade records.
type Status struct {
	Account     *types.AccountSnapshot `json:"account"`
	Positions   []types.Position       `json:"positions"`
	RiskMetrics types.RiskMetrics      `json:"risk_metrics"`
	OpenTrades  []history.TradeRecord  `json:"open_trades"`
}

// Performance bundles history-derived analytics.
type Performance struct {
	Metrics      *history.PerformanceMetrics `json:"metrics"`
	DailySummary *history.DailySummary       `json:"daily_summary"`
}

// ClosedTrade reports one completed position close.
type ClosedTrade struct {
	Symbol     string  `json:"symbol"`
	Qty        float64 `json:"qty"`
	ExitPrice  float64 `json:"exit_price"`
	RealizedPL float64 `json:"realized_pnl"`
}

// CloseResult is one entry of a best-effort liquidation: either a closed
// trade or the error that prevented it.
type CloseResult struct {
	Symbol string       `json:"symbol"`
	Closed *ClosedTrade `json:"closed,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// Service is the portfolio tracker.
type Service struct {
	broker  broker.Brokerage
	risk    *risk.Manager
	history *history.Service
	timeout time.Duration
	now     func() time.Time
}

func NewService(b broker.Brokerage, riskManager *risk.Manager, historyService *history.Service, brokerTimeout time.Duration) *Service {
	return &Service{
		broker:  b,
		risk:    riskManager,
		history: historyService,
		timeout: brokerTimeout,
		now:     time.Now,
	}
}

// Status fetches the live account and positions, syncs the risk state with
// them, and returns the combined view. The sync is where day rollover and
// externally-caused losses are detected, so every status query doubles as a
// breaker evaluation.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	account, err := s.getAccount(ctx)
	if err != nil {
		return nil, err
	}
	positions, err := s.getPositions(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	s.risk.SyncPortfolio(account.Equity, exposure(positions), len(positions), now)

	openTrades, err := s.history.OpenTrades()
	if err != nil {
		return nil, err
	}

	return &Status{
		Account:     account,
		Positions:   positions,
		RiskMetrics: s.risk.Metrics(now),
		OpenTrades:  openTrades,
	}, nil
}

// Performance returns history-derived performance metrics and today's
// summary.
func (s *Service) Performance() (*Performance, error) {
	metrics, err := s.history.PerformanceMetrics()
	if err != nil {
		return nil, err
	}
	summary, err := s.history.DailySummary(s.now())
	if err != nil {
		return nil, err
	}
	return &Performance{Metrics: metrics, DailySummary: summary}, nil
}

// History returns every persisted trade record.
func (s *Service) History() ([]history.TradeRecord, error) {
	return s.history.AllTrades()
}

// ClosePosition fully offsets the named position with a market order,
// records the realized P&L against the risk state, and closes the matching
// trade record.
func (s *Service) ClosePosition(ctx context.Context, symbol string) (*ClosedTrade, error) {
	positions, err := s.getPositions(ctx)
	if err != nil {
		return nil, err
	}

	found := false
	for _, p := range positions {
		if p.Symbol == symbol {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchPosition, symbol)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	fill, err := s.broker.ClosePosition(callCtx, symbol)
	if err != nil {
		return nil, err
	}

	now := s.now()
	s.risk.RecordClose(fill.RealizedPL, now)
	if err := s.syncRisk(ctx); err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("risk sync after close failed")
	}

	if _, err := s.history.CloseTrade(symbol, fill.Price, fill.RealizedPL, now); err != nil {
		if errors.Is(err, history.ErrNoOpenTrade) {
			// The position was opened outside the engine; the close still
			// happened at the brokerage and the P&L is still booked.
			log.Warn().Str("symbol", symbol).Msg("closed position had no open trade record")
		} else {
			return nil, err
		}
	}

	return &ClosedTrade{
		Symbol:     symbol,
		Qty:        fill.Qty,
		ExitPrice:  fill.Price,
		RealizedPL: fill.RealizedPL,
	}, nil
}

// CloseAll liquidates every open position best-effort: one close per
// position, all awaited regardless of individual failure. The result list
// shows exactly which liquidations succeeded; a failure closing one position
// never aborts the others and is never swallowed.
func (s *Service) CloseAll(ctx context.Context) ([]CloseResult, error) {
	positions, err := s.getPositions(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]CloseResult, len(positions))
	var wg sync.WaitGroup
	for i, p := range positions {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			closed, err := s.ClosePosition(ctx, symbol)
			if err != nil {
				results[i] = CloseResult{Symbol: symbol, Error: err.Error()}
				return
			}
			results[i] = CloseResult{Symbol: symbol, Closed: closed}
		}(i, p.Symbol)
	}
	wg.Wait()

	log.Info().Int("positions", len(results)).Msg("emergency liquidation completed")
	return results, nil
}

// syncRisk refreshes the risk state from a live account snapshot. Close
// events and the background worker both route through here, so the breaker
// is evaluated against current equity, never an accumulator.
func (s *Service) syncRisk(ctx context.Context) error {
	account, err := s.getAccount(ctx)
	if err != nil {
		return err
	}
	positions, err := s.getPositions(ctx)
	if err != nil {
		return err
	}
	s.risk.SyncPortfolio(account.Equity, exposure(positions), len(positions), s.now())
	return nil
}

func (s *Service) getAccount(ctx context.Context) (*types.AccountSnapshot, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.broker.GetAccount(callCtx)
}

func (s *Service) getPositions(ctx context.Context) ([]types.Position, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.broker.GetPositions(callCtx)
}

// exposure sums the absolute market value of all open positions.
func exposure(positions []types.Position) float64 {
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
