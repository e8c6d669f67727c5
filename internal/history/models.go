package history

import (
	"time"

	"gorm.io/gorm"
)

// Trade record statuses.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// TradeRecord is the persisted, auditable record of a trade. A record is
// created OPEN when the brokerage accepts an order and transitions to CLOSED
// exactly once, by the close operation that matches it; it is immutable
// afterward. This log is the sole owner of closed records and the source for
// daily-loss recomputation after a restart.
type TradeRecord struct {
	gorm.Model    `json:"-"`
	TradeID       string     `gorm:"uniqueIndex" json:"trade_id"`
	OrderID       string     `json:"order_id"`
	CorrelationID string     `json:"correlation_id"`
	Symbol        string     `gorm:"index" json:"symbol"`
	Side          string     `json:"side"`
	Quantity      float64    `json:"quantity"`
	EntryPrice    float64    `json:"entry_price"`
	StopPrice     float64    `json:"stop_price"`
	TargetPrice   float64    `json:"target_price"`
	Notional      float64    `json:"notional"`
	Confidence    float64    `json:"confidence"`
	Reason        string     `json:"reason"`
	Source        string     `json:"source"`
	Status        string     `gorm:"index" json:"status"` // OPEN or CLOSED
	ExitPrice     *float64   `json:"exit_price,omitempty"`
	RealizedPL    *float64   `json:"realized_pnl,omitempty"`
	RealizedPLPct *float64   `json:"realized_pnl_pct,omitempty"`
	OpenedAt      time.Time  `json:"opened_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

// PerformanceMetrics summarizes all closed trades.
type PerformanceMetrics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`
	ProfitFactor  float64 `json:"profit_factor"`
	SharpeRatio   float64 `json:"sharpe_ratio"`
	BestTrade     float64 `json:"best_trade"`
	WorstTrade    float64 `json:"worst_trade"`
}

// DailySummary reports today's trading activity.
type DailySummary struct {
	Date           string        `json:"date"`
	TradesExecuted int           `json:"trades_executed"`
	TradesClosed   int           `json:"trades_closed"`
	DailyPnL       float64       `json:"daily_pnl"`
	Trades         []TradeRecord `json:"trades"`
}
