package phases

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/existential-birds/daydream-sub000/internal/driver"
)

// fixParallelLimit bounds concurrent fix turns (§4.5, §5).
const fixParallelLimit = 4

// FixResult is one item's outcome from FixParallel. Items run with no
// ordering between them (§5), but the returned slice is indexed by
// input position: results[i] belongs to items[i].
type FixResult struct {
	Item  FeedbackItem
	OK    bool
	Error string
}

// FixParallel drives all items concurrently under a bounded-4 capacity
// limiter. Each item's failure is captured independently and never
// aborts the group (§4.5 fixParallel, §7 PerItemFixFailure).
func FixParallel(ctx context.Context, newDriverFor func(item FeedbackItem) *driver.Driver, deps Deps, items []FeedbackItem) []FixResult {
	results := make([]FixResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fixParallelLimit)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			d := newDriverFor(item)
			err := Fix(gctx, d, deps, item)
			if err != nil {
				results[i] = FixResult{Item: item, OK: false, Error: err.Error()}
			} else {
				results[i] = FixResult{Item: item, OK: true}
			}
			// Per-item failures are captured above and never returned
			// here, so one item's failure never cancels its siblings.
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// SuccessfulItems returns the subset of results that succeeded, in the
// order FixParallel reported them — used by respondPrFeedback (§4.5).
func SuccessfulItems(results []FixResult) []FeedbackItem {
	var ok []FeedbackItem
	for _, r := range results {
		if r.OK {
			ok = append(ok, r.Item)
		}
	}
	return ok
}

// AllFailed reports whether every item in results failed — the runner
// treats this as fatal (no commit) per §7.
func AllFailed(results []FixResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.OK {
			return false
		}
	}
	return true
}
