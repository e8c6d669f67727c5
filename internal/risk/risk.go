// Package risk is the stateful gatekeeper for trade execution. It tracks the
// daily realized P&L against a trading-day boundary, latches a circuit
// breaker when the daily loss cap is crossed, and approves or denies
// proposed trades against the configured exposure limits.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tradebot/internal/types"
)

// Denial reasons carried by DeniedError.
const (
	ReasonDailyLossLimit    = "daily_loss_limit"
	ReasonPositionSizeLimit = "position_size_limit"
	ReasonExposureLimit     = "exposure_limit"
)

// DeniedError is returned when the gate rejects a proposed trade. It carries
// a machine-readable reason so callers and dashboards can tell a tripped
// breaker from a cap violation.
type DeniedError struct {
	Reason string
	Detail string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("trade denied (%s): %s", e.Reason, e.Detail)
}

// Config holds the immutable risk parameters loaded at startup.
type Config struct {
	InitialCapital     float64
	MaxDailyLossPct    float64
	MaxPositionSizePct float64
}

// ApprovalRequest describes a proposed trade for the gate.
type ApprovalRequest struct {
	Symbol   string
	Side     string
	Quantity float64
	Notional float64
	Equity   float64
}

// Manager owns the RiskState. All reads and writes go through a single
// mutex so no caller can observe the breaker flag torn from the loss
// accumulation it depends on.
type Manager struct {
	cfg Config

	mu            sync.Mutex
	day           time.Time // trading-day boundary, truncated to a date
	dayStart      float64   // equity at the start of the trading day
	dailyPnL      float64
	tripped       bool
	synced        bool // dayStart anchored to a live equity reading
	exposure      float64
	openPositions int
}

// NewManager creates a risk manager for the current trading day.
// realizedToday is the realized P&L already booked today, recomputed from
// the trade history log, so a restart cannot forget a tripped breaker.
func NewManager(cfg Config, realizedToday float64, now time.Time) *Manager {
	m := &Manager{
		cfg:      cfg,
		day:      dateOf(now),
		dayStart: cfg.InitialCapital,
		dailyPnL: realizedToday,
	}
	m.evaluateLocked()
	return m
}

// SyncPortfolio refreshes the risk state from a live account snapshot. This
// runs on every status query and before every gate decision, so losses
// caused by external fills trip the breaker even when they never passed
// through the engine's own trade path. The first sync of a trading day
// anchors the day-start equity.
func (m *Manager) SyncPortfolio(equity, exposureNotional float64, openPositions int, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked(now)

	if !m.synced {
		m.dayStart = equity - m.dailyPnL
		m.synced = true
	}
	m.dailyPnL = equity - m.dayStart
	m.exposure = exposureNotional
	m.openPositions = openPositions

	m.evaluateLocked()
}

// RecordClose books realized P&L from a closed trade. Once a sync has
// anchored day-start equity, daily P&L tracks equity directly and already
// contains every realized amount (the close itself leaves equity
// unchanged), so the accumulator applies only before the first sync of the
// day.
func (m *Manager) RecordClose(pnl float64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked(now)
	if m.synced {
		return
	}
	m.dailyPnL += pnl
	m.evaluateLocked()
}

// Approve gates a proposed trade. It returns nil to allow, or a *DeniedError
// naming the violated limit. Denials have no side effects.
func (m *Manager) Approve(req ApprovalRequest, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked(now)

	if m.tripped {
		return &DeniedError{
			Reason: ReasonDailyLossLimit,
			Detail: fmt.Sprintf("daily loss %.2f%% reached the %.2f%% cap", m.lossPctLocked(), m.cfg.MaxDailyLossPct),
		}
	}

	maxNotional := req.Equity * m.cfg.MaxPositionSizePct / 100
	if req.Notional > maxNotional {
		return &DeniedError{
			Reason: ReasonPositionSizeLimit,
			Detail: fmt.Sprintf("notional %.2f exceeds %.2f%% of equity (%.2f)", req.Notional, m.cfg.MaxPositionSizePct, maxNotional),
		}
	}

	if m.exposure+req.Notional > req.Equity {
		return &DeniedError{
			Reason: ReasonExposureLimit,
			Detail: fmt.Sprintf("aggregate exposure %.2f would exceed equity %.2f", m.exposure+req.Notional, req.Equity),
		}
	}

	return nil
}

// CanTrade reports whether the circuit breaker currently allows trading.
func (m *Manager) CanTrade() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.tripped
}

// Metrics returns the derived risk view for status queries.
func (m *Manager) Metrics(now time.Time) types.RiskMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rolloverLocked(now)

	capital := m.dayStart + m.dailyPnL
	exposurePct := 0.0
	if capital > 0 {
		exposurePct = m.exposure / capital * 100
	}

	return types.RiskMetrics{
		CurrentCapital: capital,
		DailyPnL:       m.dailyPnL,
		DailyLossPct:   m.lossPctLocked(),
		DailyLossLimit: m.cfg.MaxDailyLossPct,
		ExposurePct:    exposurePct,
		OpenPositions:  m.openPositions,
		CanTrade:       !m.tripped,
	}
}

// rolloverLocked resets the daily accounting when the trading day changes.
// This is the only transition that clears a tripped breaker.
func (m *Manager) rolloverLocked(now time.Time) {
	today := dateOf(now)
	if !today.After(m.day) {
		return
	}

	log.Info().
		Time("previous_day", m.day).
		Float64("previous_daily_pnl", m.dailyPnL).
		Bool("breaker_was_tripped", m.tripped).
		Msg("trading day rollover, daily limits reset")

	m.day = today
	m.dayStart = m.dayStart + m.dailyPnL
	m.dailyPnL = 0
	m.tripped = false
	m.synced = false
}

// evaluateLocked latches the breaker once the daily loss crosses the cap.
// The flag is never cleared here: only rolloverLocked resets it.
func (m *Manager) evaluateLocked() {
	if m.tripped {
		return
	}
	if m.lossPctLocked() >= m.cfg.MaxDailyLossPct {
		m.tripped = true
		log.Warn().
			Float64("daily_pnl", m.dailyPnL).
			Float64("daily_loss_pct", m.lossPctLocked()).
			Float64("daily_loss_limit", m.cfg.MaxDailyLossPct).
			Msg("daily loss limit reached, circuit breaker tripped")
	}
}

func (m *Manager) lossPctLocked() float64 {
	if m.dayStart <= 0 {
		return 0
	}
	return -m.dailyPnL / m.dayStart * 100
}

func dateOf(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
