package scheduler

import (
	"context"
	"sync"
	"time"
)

// UnitOutcome is the reported result of one unit of work (one book's
// ingestion, one subscription's evaluation) in a pass. Every failure stays
// attributable to its unit ID.
type UnitOutcome struct {
	ID  string
	Err error
}

// runPool processes units with bounded concurrency and a per-unit deadline.
// Units are independent: one failing or timing out never prevents the rest
// of the pass from being processed.
func runPool[T any](
	ctx context.Context,
	units []T,
	concurrency int,
	timeout time.Duration,
	id func(T) string,
	fn func(ctx context.Context, unit T) error,
) []UnitOutcome {
	if concurrency < 1 {
		concurrency = 1
	}

	outcomes := make([]UnitOutcome, len(units))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i := range units {
		if ctx.Err() != nil {
			// Shutting down; report the remainder as cancelled.
			for j := i; j < len(units); j++ {
				outcomes[j] = UnitOutcome{ID: id(units[j]), Err: ctx.Err()}
			}
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, unit T) {
			defer wg.Done()
			defer func() { <-sem }()

			unitCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			outcomes[i] = UnitOutcome{ID: id(unit), Err: fn(unitCtx, unit)}
		}(i, units[i])
	}

	wg.Wait()
	return outcomes
}
