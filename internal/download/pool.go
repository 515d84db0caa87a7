package download

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// poolResult is one settled item from managePool.
type poolResult[Out any] struct {
	out Out
	err error
}

// managePool is the single bounded-concurrency scheduler engine spec §4.6
// and §9 require. Its one caller is Manager.StartDownload's cache-or-network
// pipeline; there is no separate cache-only iterator, and
// Manager.GetCachedTiles answers with one Store.Exists query without going
// through this pool.
//
// It launches process(ctx, item) for each item, never running more than
// concurrency at once (enforced by errgroup.Group.SetLimit, the idiomatic
// x/sync replacement for a hand-rolled semaphore channel), and yields
// settled results to the returned channel in completion order, not
// submission order. A process error does not stop the pool: it is carried
// in the result's err field for the caller to record and continue past.
func managePool[In, Out any](ctx context.Context, items []In, concurrency int, process func(context.Context, In) (Out, error)) <-chan poolResult[Out] {
	if concurrency < 1 {
		concurrency = 1
	}

	results := make(chan poolResult[Out])
	go func() {
		defer close(results)

		var g errgroup.Group
		g.SetLimit(concurrency)

	submit:
		for _, item := range items {
			select {
			case <-ctx.Done():
				break submit
			default:
			}

			item := item
			g.Go(func() error {
				out, err := process(ctx, item)
				select {
				case results <- poolResult[Out]{out: out, err: err}:
				case <-ctx.Done():
				}
				return nil
			})
		}
		g.Wait()
	}()
	return results
}
