package interfaces

import (
	"context"
	"sync"

	"broker-observer/src/models"
)

// -----------------------------------------------------------------------------
// IBrokerSession is one (broker, account) credential/connection unit.
// -----------------------------------------------------------------------------

type IBrokerSession interface {

	// Broker returns the broker name ("kite", "shoonya", "neo").
	Broker() string

	// -----------------------------------------------------------------------------

	// AccountID returns the case-normalized account identifier.
	AccountID() string

	// -----------------------------------------------------------------------------

	// Tag returns the canonical "{broker}:{account}" field key.
	Tag() string

	// -----------------------------------------------------------------------------

	// TokenValid reports the current credential validity.
	TokenValid() bool

	// -----------------------------------------------------------------------------

	// MarginBook fetches and normalizes the account's margin state.
	// Returns (nil, nil) when the upstream has no data or the token is
	// currently invalid.
	MarginBook(ctx context.Context) (*models.MMarginBook, error)

	// -----------------------------------------------------------------------------

	// PositionBook fetches, enriches and summarizes the account's positions.
	// Returns (nil, nil) when the upstream has no data or the token is
	// currently invalid.
	PositionBook(ctx context.Context) (*models.MPositionSummary, error)

	// -----------------------------------------------------------------------------

	// StartValidation launches the token validity supervision loop.
	// ctx: cancellation stops the loop
	// wg: signals when the loop has fully stopped
	StartValidation(ctx context.Context, wg *sync.WaitGroup) error

	// -----------------------------------------------------------------------------

	// StopValidation stops the supervision loop and waits for it to exit.
	// Clears validity so the next start forces revalidation.
	StopValidation()
}
