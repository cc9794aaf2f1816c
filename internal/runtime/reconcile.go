package runtime

import (
	"context"
	"slices"

	"github.com/drblury/datumflow/internal/runtime/datum"
)

// takeBatch blocks for the next eligible entry and gathers every other entry
// sharing its effective time. Twins from the two ingress paths always share
// an effective time, so grouping by it is what makes duplicate detection
// reliable. An empty batch means the idle timeout elapsed.
func (q *DatumQueue) takeBatch(ctx context.Context) ([]entry, error) {
	first, ok, err := q.queue.Take(ctx, q.opts.TakeTimeout)
	if err != nil || !ok {
		return nil, err
	}

	batch := []entry{first}
	sameTime := func(e entry) bool { return e.at.Equal(first.at) }
	for {
		next, ok := q.queue.TryTakeIf(sameTime)
		if !ok {
			break
		}
		batch = append(batch, next)
	}
	if len(batch) > 1 {
		slices.SortStableFunc(batch, compareEntries)
	}
	return batch, nil
}

// isDuplicate reports whether batch[i] is a captured twin of a persisted
// entry earlier in the sorted batch. The scan stops at the first entry of a
// different source, since the batch is sorted by source.
func isDuplicate(batch []entry, i int) bool {
	e := batch[i]
	if e.persist {
		return false
	}
	for j := i - 1; j >= 0; j-- {
		prev := batch[j]
		if prev.persist && datum.Same(prev.d, e.d) {
			return true
		}
		if prev.d.SourceID() != e.d.SourceID() {
			return false
		}
	}
	return false
}
