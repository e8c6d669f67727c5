package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "history.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&TradeRecord{}))
	return NewService(db)
}

func logTestOpen(t *testing.T, s *Service, symbol string, notional float64, openedAt time.Time) *TradeRecord {
	t.Helper()
	record, err := s.LogOpen(OpenTradeParams{
		OrderID:       "order-" + symbol,
		CorrelationID: "corr-" + symbol,
		Symbol:        symbol,
		Side:          "buy",
		Quantity:      10,
		EntryPrice:    notional / 10,
		Notional:      notional,
		Confidence:    0.8,
		Reason:        "momentum breakout",
		Source:        "manual",
		OpenedAt:      openedAt,
	})
	require.NoError(t, err)
	return record
}

func TestTradeRecordRoundTrip(t *testing.T) {
	s := newTestService(t)
	now := time.Now()

	opened := logTestOpen(t, s, "AAPL", 1000, now)
	assert.Equal(t, StatusOpen, opened.Status)
	assert.Nil(t, opened.ExitPrice)
	assert.Nil(t, opened.RealizedPL)

	closed, err := s.CloseTrade("AAPL", 110.0, 100.0, now.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, StatusClosed, closed.Status)
	assert.Equal(t, opened.TradeID, closed.TradeID)
	require.NotNil(t, closed.ExitPrice)
	assert.Equal(t, 110.0, *closed.ExitPrice)
	require.NotNil(t, closed.RealizedPL)
	assert.Equal(t, 100.0, *closed.RealizedPL)
	require.NotNil(t, closed.RealizedPLPct)
	assert.InDelta(t, 10.0, *closed.RealizedPLPct, 0.001)
	require.NotNil(t, closed.ClosedAt)

	// The record appears exactly once in history.
	all, err := s.AllTrades()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, StatusClosed, all[0].Status)
}

func TestCloseTrade_NoOpenRecord(t *testing.T) {
	s := newTestService(t)

	_, err := s.CloseTrade("TSLA", 200.0, 50.0, time.Now())
	assert.ErrorIs(t, err, ErrNoOpenTrade)
}

func TestCloseTrade_PicksMostRecentOpen(t *testing.T) {
	s := newTestService(t)
	now := time.Now()

	logTestOpen(t, s, "AAPL", 1000, now.Add(-2*time.Hour))
	second := logTestOpen(t, s, "AAPL", 2000, now.Add(-time.Hour))

	closed, err := s.CloseTrade("AAPL", 210.0, 80.0, now)
	require.NoError(t, err)
	assert.Equal(t, second.TradeID, closed.TradeID)

	open, err := s.OpenTrades()
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestRealizedPnLSince(t *testing.T) {
	s := newTestService(t)
	now := time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)
	dayStart := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	logTestOpen(t, s, "AAPL", 1000, now.Add(-48*time.Hour))
	_, err := s.CloseTrade("AAPL", 90.0, -100.0, now.Add(-36*time.Hour))
	require.NoError(t, err)

	logTestOpen(t, s, "TSLA", 1000, now.Add(-2*time.Hour))
	_, err = s.CloseTrade("TSLA", 95.0, -50.0, now.Add(-time.Hour))
	require.NoError(t, err)

	logTestOpen(t, s, "NVDA", 1000, now.Add(-time.Hour))
	_, err = s.CloseTrade("NVDA", 105.0, 30.0, now)
	require.NoError(t, err)

	total, err := s.RealizedPnLSince(dayStart)
	require.NoError(t, err)
	assert.InDelta(t, -20.0, total, 0.001)
}

func TestPerformanceMetrics(t *testing.T) {
	s := newTestService(t)
	now := time.Now()

	fills := []struct {
		symbol string
		pnl    float64
	}{
		{"AAPL", 200},
		{"TSLA", 100},
		{"NVDA", -50},
	}
	for i, f := range fills {
		logTestOpen(t, s, f.symbol, 1000, now.Add(time.Duration(i)*time.Minute))
		_, err := s.CloseTrade(f.symbol, 100, f.pnl, now.Add(time.Duration(i)*time.Minute+time.Second))
		require.NoError(t, err)
	}

	metrics, err := s.PerformanceMetrics()
	require.NoError(t, err)

	assert.Equal(t, 3, metrics.TotalTrades)
	assert.Equal(t, 2, metrics.WinningTrades)
	assert.Equal(t, 1, metrics.LosingTrades)
	assert.InDelta(t, 66.67, metrics.WinRate, 0.01)
	assert.InDelta(t, 250, metrics.TotalPnL, 0.001)
	assert.InDelta(t, 150, metrics.AvgWin, 0.001)
	assert.InDelta(t, 50, metrics.AvgLoss, 0.001)
	assert.InDelta(t, 6.0, metrics.ProfitFactor, 0.001)
	assert.InDelta(t, 200, metrics.BestTrade, 0.001)
	assert.InDelta(t, -50, metrics.WorstTrade, 0.001)
}

func TestPerformanceMetrics_Empty(t *testing.T) {
	s := newTestService(t)

	metrics, err := s.PerformanceMetrics()
	require.NoError(t, err)
	assert.Equal(t, 0, metrics.TotalTrades)
	assert.Equal(t, 0.0, metrics.TotalPnL)
}

func TestDailySummary(t *testing.T) {
	s := newTestService(t)
	now := time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)

	// Yesterday's trade stays out of today's summary.
	logTestOpen(t, s, "MSFT", 1000, now.Add(-30*time.Hour))

	logTestOpen(t, s, "AAPL", 1000, now.Add(-2*time.Hour))
	logTestOpen(t, s, "TSLA", 1000, now.Add(-time.Hour))
	_, err := s.CloseTrade("TSLA", 105, 50.0, now)
	require.NoError(t, err)

	summary, err := s.DailySummary(now)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TradesExecuted)
	assert.Equal(t, 1, summary.TradesClosed)
	assert.InDelta(t, 50.0, summary.DailyPnL, 0.001)
}
