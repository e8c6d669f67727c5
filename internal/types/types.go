package types

import "time"

// Order sides accepted by the engine.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Signal sources carried through trade execution. Autonomous signals are
// blocked while the engine is stopped; manual signals are the explicit
// override path and pass the engine-state check.
const (
	SourceManual     = "manual"
	SourceAutonomous = "autonomous"
)

// Time-in-force values for submitted orders.
const (
	TimeInForceDay = "day"
	TimeInForceGTC = "gtc"
)

// AccountSnapshot is a point-in-time view of the brokerage account.
// It is fetched fresh on every request cycle and never cached: the brokerage
// is eventually consistent, so a snapshot is always treated as possibly stale.
type AccountSnapshot struct {
	Equity      float64   `json:"equity"`
	Cash        float64   `json:"cash"`
	BuyingPower float64   `json:"buying_power"`
	AsOf        time.Time `json:"as_of"`
}

// Position is a read-through view of a position owned by the brokerage.
type Position struct {
	Symbol          string  `json:"symbol"`
	Qty             float64 `json:"qty"`
	AvgEntryPrice   float64 `json:"entry_price"`
	CurrentPrice    float64 `json:"current_price"`
	MarketValue     float64 `json:"market_value"`
	UnrealizedPL    float64 `json:"pnl"`
	UnrealizedPLPct float64 `json:"pnl_pct"`
}

// SizingDecision is the output of the position sizer. It lives for a single
// trade-execution attempt and is never persisted.
type SizingDecision struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity"`
	Notional   float64 `json:"notional"`
	Confidence float64 `json:"confidence"`
}

// BracketOrder is an entry order with dependent stop-loss and take-profit
// legs. The three legs share one client-assigned correlation ID so partial
// fills or cancellations can be reconciled as a single unit. The order is
// submitted to the brokerage as one logical unit: if the brokerage rejects
// the bundle, no legs remain live.
type BracketOrder struct {
	CorrelationID string  `json:"correlation_id"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Quantity      float64 `json:"quantity"`
	EntryPrice    float64 `json:"entry_price"`
	StopPrice     float64 `json:"stop_price"`
	TargetPrice   float64 `json:"target_price"`
	TimeInForce   string  `json:"time_in_force"`
}

// Fill reports the outcome of a position close at the brokerage.
type Fill struct {
	Symbol     string    `json:"symbol"`
	Qty        float64   `json:"qty"`
	Price      float64   `json:"price"`
	RealizedPL float64   `json:"realized_pnl"`
	FilledAt   time.Time `json:"filled_at"`
}

// RiskMetrics is the derived risk view exposed on status queries.
type RiskMetrics struct {
	CurrentCapital float64 `json:"current_capital"`
	DailyPnL       float64 `json:"daily_pnl"`
	DailyLossPct   float64 `json:"daily_loss_pct"`
	DailyLossLimit float64 `json:"daily_loss_limit"`
	ExposurePct    float64 `json:"portfolio_exposure_pct"`
	OpenPositions  int     `json:"open_positions"`
	CanTrade       bool    `json:"can_trade"`
}

// IsCrypto reports whether a symbol names a crypto pair (e.g. "BTC/USD").
// Crypto trades in fractional quantities and uses GTC orders; everything
// else is treated as a whole-share equity.
func IsCrypto(symbol string) bool {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '/' {
			return true
		}
	}
	return false
}
