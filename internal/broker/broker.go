package broker

import (
	"context"
	"errors"

	"tradebot/internal/types"
)

var (
	// ErrRejected is returned when the brokerage refuses an order or a close
	// request. The engine never retries a rejected submission on its own:
	// a duplicate order is worse than a missed one.
	ErrRejected = errors.New("broker rejected request")

	// ErrTimeout is returned when a brokerage call exceeds its deadline.
	// Callers see a typed failure instead of a hung request.
	ErrTimeout = errors.New("broker request timed out")
)

// Brokerage is the single external trading collaborator. Implementations are
// assumed rate-limited and eventually consistent: the engine re-reads account
// and position state on every cycle rather than trusting its own view.
// Every call honors the context deadline and returns ErrTimeout on expiry.
type Brokerage interface {
	// GetAccount returns a fresh account snapshot.
	GetAccount(ctx context.Context) (*types.AccountSnapshot, error)

	// GetPositions lists all open positions held at the brokerage.
	GetPositions(ctx context.Context) ([]types.Position, error)

	// GetLatestPrice returns the current reference price for a symbol.
	GetLatestPrice(ctx context.Context, symbol string) (float64, error)

	// SubmitBracketOrder submits the entry, stop-loss and take-profit legs as
	// one logical unit and returns the brokerage order ID. A rejected bundle
	// leaves no partial legs live.
	SubmitBracketOrder(ctx context.Context, order *types.BracketOrder) (string, error)

	// ClosePosition submits a market order fully offsetting the named
	// position and returns the resulting fill.
	ClosePosition(ctx context.Context, symbol string) (*types.Fill, error)
}
