package util

import (
	"time"

	"github.com/G-Research/minionfleet/internal/common/fleetcontext"
)

// RetryUntilSuccess calls performAction until it succeeds or ctx is done, pausing between attempts.
// onError is called with every failure. Returns the context error if ctx ended first.
func RetryUntilSuccess(ctx *fleetcontext.Context, pause time.Duration, performAction func() error, onError func(error)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		err := performAction()
		if err == nil {
			return nil
		}
		onError(err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}
}
