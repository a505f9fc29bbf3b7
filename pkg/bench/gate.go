// Package bench implements the throughput benchmark servers: a UDP
// responder that counts received bytes and a TCP sender that streams a
// fixed byte ramp. Both run on a core.Facility.
package bench

import (
	"context"
	"fmt"

	"github.com/irctrakz/netbench/pkg/core"
	"github.com/irctrakz/netbench/pkg/logging"
)

// WaitForStack blocks until the facility reports StatusRunning. A fatal
// facility status aborts immediately with core.ErrAborted; every other
// status yields and polls again. There is no timeout.
func WaitForStack(ctx context.Context, fac core.Facility, yield core.YieldFunc) error {
	if yield == nil {
		yield = core.DefaultYield
	}
	done := ctx.Done()
	for {
		switch fac.Status() {
		case core.StatusRunning:
			return nil
		case core.StatusFatalError:
			logging.Errorf("A fatal error occurred in the network stack")
			return fmt.Errorf("wait for network stack: %w", core.ErrAborted)
		}

		select {
		case <-done:
			return ctx.Err()
		default:
		}
		yield()
	}
}
