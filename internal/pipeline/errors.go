package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrOutage marks a phase failure caused by an external service staying down
// through the retry budget. The command layer maps it to its own exit code so
// schedulers can tell "dependency down, try later" from "pipeline bug".
var ErrOutage = errors.New("external service unavailable")

// withRetry runs fn up to attempts times with doubling backoff, starting at
// baseDelay. The last error is returned once the budget is spent.
func withRetry(ctx context.Context, attempts int, baseDelay time.Duration, log zerolog.Logger, what string, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	delay := baseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		log.Warn().Err(err).Str("op", what).Int("attempt", attempt).Dur("backoff", delay).Msg("retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", what, attempts, err)
}
