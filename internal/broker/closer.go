package broker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"pairbot/internal/errors"
	"pairbot/internal/logging"
	"pairbot/pkg/utils"
)

// CloseResult is the outcome of a close attempt sequence. Callers get a
// result, never a panic or a raw error for exhaustion, so monitor and
// recovery can make policy decisions instead of crashing.
type CloseResult struct {
	Ticket   int64
	Symbol   string
	Success  bool
	Attempts int
	Err      error // *errors.CloseExhaustedError when exhausted
}

// Closer is the shared close-retry policy used by both the position
// monitor and the recovery coordinator.
type Closer struct {
	connector Connector
	logger    zerolog.Logger
}

// NewCloser creates a Closer over the given connector.
func NewCloser(connector Connector, logger zerolog.Logger) *Closer {
	return &Closer{
		connector: connector,
		logger:    logging.WithComponent(logger, "closer"),
	}
}

// AttemptClose issues a close request for the ticket, retrying up to
// maxRetries times with doubling backoff. A timed-out request counts as a
// failed attempt.
func (c *Closer) AttemptClose(ctx context.Context, ticket int64, symbol string, maxRetries int, backoff time.Duration) CloseResult {
	attempts := 0

	cfg := utils.RetryConfig{
		MaxAttempts:   maxRetries,
		InitialDelay:  backoff,
		MaxDelay:      backoff * 8,
		BackoffFactor: 2.0,
		OnRetry: func(attempt int, err error) {
			c.logger.Warn().
				Int64("ticket", ticket).
				Str("symbol", symbol).
				Int("attempt", attempt).
				Err(err).
				Msg("Close attempt failed, retrying")
		},
	}

	err := utils.Retry(ctx, cfg, func() error {
		attempts++
		return c.connector.ClosePosition(ctx, ticket)
	})

	logging.LogClose(c.logger, ticket, symbol, attempts, err)

	if err != nil {
		exhausted := errors.NewCloseExhaustedError(ticket, symbol, attempts, err)
		return CloseResult{Ticket: ticket, Symbol: symbol, Attempts: attempts, Err: exhausted}
	}
	return CloseResult{Ticket: ticket, Symbol: symbol, Success: true, Attempts: attempts}
}
