package portfolio

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// SyncWorker periodically refreshes the risk state from the live account so
// day rollover and externally-caused losses are detected even when no client
// is querying status.
type SyncWorker struct {
	portfolio *Service
	interval  time.Duration
}

func NewSyncWorker(portfolio *Service, interval time.Duration) *SyncWorker {
	return &SyncWorker{
		portfolio: portfolio,
		interval:  interval,
	}
}

// Start runs the sync loop until the context is cancelled.
func (w *SyncWorker) Start(ctx context.Context) {
	logger := log.With().Str("component", "risk_sync_worker").Logger()
	logger.Info().Dur("interval", w.interval).Msg("starting risk sync worker")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down risk sync worker")
			return
		case <-ticker.C:
			if err := w.portfolio.syncRisk(ctx); err != nil {
				logger.Error().Err(err).Msg("risk sync failed")
			}
		}
	}
}
