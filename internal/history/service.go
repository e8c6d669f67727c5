// Package history is the append-only trade history log. It owns closed
// trade records, feeds daily-loss recomputation after restarts, and derives
// the performance metrics exposed by the portfolio API.
package history

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ErrNoOpenTrade is returned when a close is requested for a symbol with no
// matching OPEN record, for example a position opened outside the engine.
var ErrNoOpenTrade = errors.New("no open trade for symbol")

// Service provides trade history operations backed by the database.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{db: NewDatabase(gormDB)}
}

// OpenTradeParams describes a broker-accepted order to be recorded.
type OpenTradeParams struct {
	OrderID       string
	CorrelationID string
	Symbol        string
	Side          string
	Quantity      float64
	EntryPrice    float64
	StopPrice     float64
	TargetPrice   float64
	Notional      float64
	Confidence    float64
	Reason        string
	Source        string
	OpenedAt      time.Time
}

// LogOpen appends an OPEN trade record. It is called only after the
// brokerage has accepted the order; rejected submissions leave no record.
func (s *Service) LogOpen(params OpenTradeParams) (*TradeRecord, error) {
	record := &TradeRecord{
		TradeID:       uuid.New().String(),
		OrderID:       params.OrderID,
		CorrelationID: params.CorrelationID,
		Symbol:        params.Symbol,
		Side:          params.Side,
		Quantity:      params.Quantity,
		EntryPrice:    params.EntryPrice,
		StopPrice:     params.StopPrice,
		TargetPrice:   params.TargetPrice,
		Notional:      params.Notional,
		Confidence:    params.Confidence,
		Reason:        params.Reason,
		Source:        params.Source,
		Status:        StatusOpen,
		OpenedAt:      params.OpenedAt,
	}

	if err := s.db.CreateTrade(record); err != nil {
		return nil, fmt.Errorf("failed to log open trade: %w", err)
	}

	log.Info().
		Str("trade_id", record.TradeID).
		Str("symbol", record.Symbol).
		Str("side", record.Side).
		Float64("quantity", record.Quantity).
		Float64("entry_price", record.EntryPrice).
		Msg("trade logged")
	return record, nil
}

// CloseTrade transitions the most recent OPEN record for the symbol to
// CLOSED, recording the exit price and realized P&L. The transition happens
// exactly once per record; the record is immutable afterward.
func (s *Service) CloseTrade(symbol string, exitPrice, pnl float64, closedAt time.Time) (*TradeRecord, error) {
	record, err := s.db.LatestOpenBySymbol(symbol)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoOpenTrade, symbol)
	}

	pnlPct := 0.0
	if record.Notional != 0 {
		pnlPct = pnl / record.Notional * 100
	}

	record.Status = StatusClosed
	record.ExitPrice = &exitPrice
	record.RealizedPL = &pnl
	record.RealizedPLPct = &pnlPct
	record.ClosedAt = &closedAt

	if err := s.db.UpdateTrade(record); err != nil {
		return nil, fmt.Errorf("failed to close trade: %w", err)
	}

	log.Info().
		Str("trade_id", record.TradeID).
		Str("symbol", symbol).
		Float64("realized_pnl", pnl).
		Float64("realized_pnl_pct", pnlPct).
		Msg("trade closed")
	return record, nil
}

func (s *Service) OpenTrades() ([]TradeRecord, error) {
	return s.db.ListByStatus(StatusOpen)
}

func (s *Service) ClosedTrades() ([]TradeRecord, error) {
	return s.db.ListByStatus(StatusClosed)
}

func (s *Service) AllTrades() ([]TradeRecord, error) {
	return s.db.ListAll()
}

// RealizedPnLSince recomputes realized P&L booked since the given boundary.
// Used to seed the risk manager's daily accumulator after a restart.
func (s *Service) RealizedPnLSince(since time.Time) (float64, error) {
	return s.db.SumRealizedSince(since)
}

// PerformanceMetrics computes summary statistics over all closed trades.
func (s *Service) PerformanceMetrics() (*PerformanceMetrics, error) {
	closed, err := s.ClosedTrades()
	if err != nil {
		return nil, err
	}

	metrics := &PerformanceMetrics{}
	if len(closed) == 0 {
		return metrics, nil
	}

	var totalPnL, grossProfit, grossLoss float64
	var returns []float64
	best := math.Inf(-1)
	worst := math.Inf(1)

	for _, trade := range closed {
		pnl := *trade.RealizedPL
		totalPnL += pnl
		if pnl > 0 {
			metrics.WinningTrades++
			grossProfit += pnl
		} else {
			metrics.LosingTrades++
			grossLoss += -pnl
		}
		if pnl > best {
			best = pnl
		}
		if pnl < worst {
			worst = pnl
		}
		if trade.RealizedPLPct != nil {
			returns = append(returns, *trade.RealizedPLPct)
		}
	}

	metrics.TotalTrades = len(closed)
	metrics.WinRate = float64(metrics.WinningTrades) / float64(metrics.TotalTrades) * 100
	metrics.TotalPnL = totalPnL
	if metrics.WinningTrades > 0 {
		metrics.AvgWin = grossProfit / float64(metrics.WinningTrades)
	}
	if metrics.LosingTrades > 0 {
		metrics.AvgLoss = grossLoss / float64(metrics.LosingTrades)
	}
	if grossLoss > 0 {
		metrics.ProfitFactor = grossProfit / grossLoss
	}
	metrics.SharpeRatio = sharpe(returns)
	metrics.BestTrade = best
	metrics.WorstTrade = worst
	return metrics, nil
}

// DailySummary reports activity for the trading day containing now.
func (s *Service) DailySummary(now time.Time) (*DailySummary, error) {
	year, month, day := now.Date()
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, now.Location())

	trades, err := s.db.ListOpenedSince(dayStart)
	if err != nil {
		return nil, err
	}

	summary := &DailySummary{
		Date:   dayStart.Format("2006-01-02"),
		Trades: trades,
	}
	summary.TradesExecuted = len(trades)
	for _, trade := range trades {
		if trade.Status == StatusClosed && trade.RealizedPL != nil {
			summary.TradesClosed++
			summary.DailyPnL += *trade.RealizedPL
		}
	}
	return summary, nil
}

// sharpe computes a simplified Sharpe ratio over per-trade percentage
// returns, assuming a zero risk-free rate.
func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(returns)))
	if stdDev == 0 {
		return 0
	}
	return mean / stdDev
}
