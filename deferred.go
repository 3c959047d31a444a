package alloy

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

func msToDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

// runDeferredImport executes d.Import with exponential backoff: the
// attempt index starts at 0; on failure, retry while the index is below
// the configured attempts-after-first, sleeping backoff × factor^index
// between attempts (0 means immediate); otherwise fail wrapping the last
// cause.
//
// Built on github.com/cenkalti/backoff/v5 rather than a hand-rolled sleep
// loop. RandomizationFactor is pinned to 0 so the schedule is exactly the
// deterministic d, d·f, d·f², … sequence callers can count on, not
// backoff's usual jittered one.
func runDeferredImport(ctx context.Context, d *DeferredImport) (any, error) {
	policy := d.Retry.normalized()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialBackoff
	bo.Multiplier = policy.Factor
	bo.RandomizationFactor = 0

	maxTries := uint(policy.AttemptsAfterFirst + 1)

	return backoff.Retry(ctx, func() (any, error) {
		v, err := d.Import()
		if err != nil {
			return nil, err
		}
		return unwrapFactoryBox(v), nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(maxTries))
}
