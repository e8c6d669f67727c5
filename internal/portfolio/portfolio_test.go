package portfolio

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tradebot/internal/broker"
	"tradebot/internal/history"
	"tradebot/internal/risk"
	"tradebot/internal/types"
)

// stubBroker is an in-memory brokerage for portfolio tests. Closes remove
// the position and return the configured fill; symbols listed in failures
// reject instead.
type stubBroker struct {
	mu        sync.Mutex
	equity    float64
	positions []types.Position
	fills     map[string]*types.Fill
	failures  map[string]bool
}

func (s *stubBroker) setEquity(equity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.equity = equity
}

func (s *stubBroker) GetAccount(ctx context.Context) (*types.AccountSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &types.AccountSnapshot{Equity: s.equity, Cash: s.equity, BuyingPower: s.equity, AsOf: time.Now()}, nil
}

func (s *stubBroker) GetPositions(ctx context.Context) ([]types.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Position, len(s.positions))
	copy(out, s.positions)
	return out, nil
}

func (s *stubBroker) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	return 0, fmt.Errorf("%w: quotes not supported", broker.ErrRejected)
}

func (s *stubBroker) SubmitBracketOrder(ctx context.Context, order *types.BracketOrder) (string, error) {
	return "", fmt.Errorf("%w: submissions not supported", broker.ErrRejected)
}

func (s *stubBroker) ClosePosition(ctx context.Context, symbol string) (*types.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures[symbol] {
		return nil, fmt.Errorf("%w: close rejected for %s", broker.ErrRejected, symbol)
	}
	fill, ok := s.fills[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: no position for %s", broker.ErrRejected, symbol)
	}
	for i, p := range s.positions {
		if p.Symbol == symbol {
			s.positions = append(s.positions[:i], s.positions[i+1:]...)
			break
		}
	}
	return fill, nil
}

func newTestService(t *testing.T, stub *stubBroker) (*Service, *risk.Manager, *history.Service) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "portfolio.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&history.TradeRecord{}))
	historyService := history.NewService(db)

	riskManager := risk.NewManager(risk.Config{
		InitialCapital:     stub.equity,
		MaxDailyLossPct:    2.0,
		MaxPositionSizePct: 5.0,
	}, 0, time.Now())

	return NewService(stub, riskManager, historyService, time.Second), riskManager, historyService
}

func openTestTrade(t *testing.T, historyService *history.Service, symbol string, entry float64) {
	t.Helper()
	_, err := historyService.LogOpen(history.OpenTradeParams{
		OrderID:       "order-" + symbol,
		CorrelationID: "corr-" + symbol,
		Symbol:        symbol,
		Side:          types.SideBuy,
		Quantity:      10,
		EntryPrice:    entry,
		Notional:      entry * 10,
		Confidence:    0.8,
		Source:        types.SourceManual,
		OpenedAt:      time.Now(),
	})
	require.NoError(t, err)
}

func TestStatusReflectsBrokerageState(t *testing.T) {
	stub := &stubBroker{
		equity: 10100,
		positions: []types.Position{
			{Symbol: "AAPL", Qty: 10, AvgEntryPrice: 145, CurrentPrice: 150, MarketValue: 1500},
			{Symbol: "MSFT", Qty: 2, AvgEntryPrice: 490, CurrentPrice: 500, MarketValue: 1000},
		},
	}
	service, _, historyService := newTestService(t, stub)
	openTestTrade(t, historyService, "AAPL", 145)

	status, err := service.Status(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10100.0, status.Account.Equity)
	assert.Len(t, status.Positions, 2)
	assert.Equal(t, 10100.0, status.RiskMetrics.CurrentCapital)
	assert.InDelta(t, 2500.0/10100*100, status.RiskMetrics.ExposurePct, 0.001)
	assert.Equal(t, 2, status.RiskMetrics.OpenPositions)
	assert.True(t, status.RiskMetrics.CanTrade)
	require.Len(t, status.OpenTrades, 1)
	assert.Equal(t, "AAPL", status.OpenTrades[0].Symbol)
}

func TestClosePositionRoundTrip(t *testing.T) {
	stub := &stubBroker{
		equity: 10000,
		positions: []types.Position{
			{Symbol: "AAPL", Qty: 10, AvgEntryPrice: 100, CurrentPrice: 105, MarketValue: 1050},
		},
		fills: map[string]*types.Fill{
			"AAPL": {Symbol: "AAPL", Qty: 10, Price: 105, RealizedPL: 50, FilledAt: time.Now()},
		},
	}
	service, _, historyService := newTestService(t, stub)
	openTestTrade(t, historyService, "AAPL", 100)

	closed, err := service.ClosePosition(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", closed.Symbol)
	assert.Equal(t, 105.0, closed.ExitPrice)
	assert.Equal(t, 50.0, closed.RealizedPL)

	trades, err := historyService.ClosedTrades()
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, history.StatusClosed, trades[0].Status)
	require.NotNil(t, trades[0].RealizedPL)
	assert.Equal(t, 50.0, *trades[0].RealizedPL)

	open, err := historyService.OpenTrades()
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestClosePositionUnknownSymbol(t *testing.T) {
	stub := &stubBroker{equity: 10000}
	service, _, _ := newTestService(t, stub)

	_, err := service.ClosePosition(context.Background(), "TSLA")
	require.ErrorIs(t, err, ErrNoSuchPosition)
}

func TestClosePositionWithoutTradeRecord(t *testing.T) {
	// A position opened outside the engine has no trade record; the close
	// must still succeed and book the P&L.
	stub := &stubBroker{
		equity: 10000,
		positions: []types.Position{
			{Symbol: "NVDA", Qty: 5, AvgEntryPrice: 130, CurrentPrice: 140, MarketValue: 700},
		},
		fills: map[string]*types.Fill{
			"NVDA": {Symbol: "NVDA", Qty: 5, Price: 140, RealizedPL: 50, FilledAt: time.Now()},
		},
	}
	service, _, _ := newTestService(t, stub)

	closed, err := service.ClosePosition(context.Background(), "NVDA")
	require.NoError(t, err)
	assert.Equal(t, 50.0, closed.RealizedPL)
}

func TestCloseTripsBreakerOnLargeLoss(t *testing.T) {
	stub := &stubBroker{
		equity: 10000,
		positions: []types.Position{
			{Symbol: "TSLA", Qty: 2, AvgEntryPrice: 400, CurrentPrice: 275, MarketValue: 550},
		},
		fills: map[string]*types.Fill{
			"TSLA": {Symbol: "TSLA", Qty: 2, Price: 275, RealizedPL: -250, FilledAt: time.Now()},
		},
	}
	service, riskManager, historyService := newTestService(t, stub)
	openTestTrade(t, historyService, "TSLA", 400)

	require.True(t, riskManager.CanTrade())

	_, err := service.ClosePosition(context.Background(), "TSLA")
	require.NoError(t, err)

	// A 250 loss on 10000 is past the 2% daily cap.
	assert.False(t, riskManager.CanTrade())
}

func TestCloseAfterMarkdownDoesNotDoubleCount(t *testing.T) {
	// A loss first shows up as a markdown in equity, then again as the
	// realized P&L of the close. It is one loss: a 1.5% day must not read
	// as 3% and trip the 2% breaker.
	stub := &stubBroker{
		equity: 10000,
		positions: []types.Position{
			{Symbol: "AAPL", Qty: 10, AvgEntryPrice: 100, CurrentPrice: 85, MarketValue: 850},
		},
		fills: map[string]*types.Fill{
			"AAPL": {Symbol: "AAPL", Qty: 10, Price: 85, RealizedPL: -150, FilledAt: time.Now()},
		},
	}
	service, riskManager, historyService := newTestService(t, stub)
	openTestTrade(t, historyService, "AAPL", 100)

	_, err := service.Status(context.Background())
	require.NoError(t, err)

	stub.setEquity(9850)
	_, err = service.Status(context.Background())
	require.NoError(t, err)
	require.True(t, riskManager.CanTrade())

	_, err = service.ClosePosition(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.True(t, riskManager.CanTrade())
	metrics := riskManager.Metrics(time.Now())
	assert.InDelta(t, -150, metrics.DailyPnL, 0.01)
	assert.InDelta(t, 1.5, metrics.DailyLossPct, 0.01)
}

func TestCloseAllIsBestEffort(t *testing.T) {
	stub := &stubBroker{
		equity: 10000,
		positions: []types.Position{
			{Symbol: "AAPL", Qty: 10, AvgEntryPrice: 100, CurrentPrice: 105, MarketValue: 1050},
			{Symbol: "MSFT", Qty: 2, AvgEntryPrice: 490, CurrentPrice: 500, MarketValue: 1000},
		},
		fills: map[string]*types.Fill{
			"AAPL": {Symbol: "AAPL", Qty: 10, Price: 105, RealizedPL: 50, FilledAt: time.Now()},
		},
		failures: map[string]bool{"MSFT": true},
	}
	service, _, historyService := newTestService(t, stub)
	openTestTrade(t, historyService, "AAPL", 100)
	openTestTrade(t, historyService, "MSFT", 490)

	results, err := service.CloseAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	byName := make(map[string]CloseResult, len(results))
	for _, r := range results {
		byName[r.Symbol] = r
	}

	require.NotNil(t, byName["AAPL"].Closed)
	assert.Equal(t, 50.0, byName["AAPL"].Closed.RealizedPL)
	assert.Empty(t, byName["AAPL"].Error)

	assert.Nil(t, byName["MSFT"].Closed)
	assert.Contains(t, byName["MSFT"].Error, "close rejected")

	// The failed close leaves its trade record open.
	open, err := historyService.OpenTrades()
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "MSFT", open[0].Symbol)
}
