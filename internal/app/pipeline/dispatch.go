package pipeline

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/AegisIsolate/internal/domain"
	"github.com/ghalamif/AegisIsolate/internal/ports"
)

// RunDispatch submits classified errors from in on a fixed set of workers.
// Errors for one unit always land on the same worker, so they are submitted
// in arrival order. It returns when in is closed and drained, or when ctx is
// cancelled.
func RunDispatch(ctx context.Context, in <-chan *domain.ClassifiedError, sub ports.Submitter, workers int, obs ports.Observability) error {
	if workers <= 0 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	shards := make([]chan *domain.ClassifiedError, workers)
	for i := range shards {
		shards[i] = make(chan *domain.ClassifiedError, 64)
	}

	g.Go(func() error {
		defer func() {
			for _, ch := range shards {
				close(ch)
			}
		}()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case e, ok := <-in:
				if !ok {
					return nil
				}
				select {
				case shards[shardFor(e, workers)] <- e:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		}
	})

	for i := range shards {
		ch := shards[i]
		g.Go(func() error {
			for e := range ch {
				outcome, err := sub.Submit(e)
				obs.IncCounter(ports.MetricDispatched, 1)
				if err != nil {
					continue
				}
				if outcome == domain.OutcomeIsolated || outcome == domain.OutcomeIsolationFailed {
					obs.LogInfo("dispatch_offline_attempted",
						ports.F("unit", e.UnitID),
						ports.F("outcome", outcome.String()))
				}
			}
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func shardFor(e *domain.ClassifiedError, workers int) int {
	if e == nil || e.UnitID < 0 {
		return 0
	}
	return e.UnitID % workers
}
