package queue

import (
	"sort"

	"github.com/yoonka/acdctl/internal/domain"
)

// askable is the per-queue input to the ranking algorithm: a queue's
// registry entry plus the bindable call call_queue.ask() returned for it.
type askable struct {
	entry     domain.QueueEntry
	call      domain.QueuedCall
	callCount int
	weight    int
}

// rank implements spec.md §4.5's six-step ranking algorithm exactly:
//  1. only queues with a bindable call are included (the caller filters
//     these in before calling rank, since asking is itself an RPC)
//  2. w = weight * call_count
//  3. stable sort by enqueue_time ascending
//  4. stable sort by priority ascending
//  5. stable sort by w descending
//  6. final weight = w + L - c (1-based position)
//
// The items are first ordered by queue name, then sort.SliceStable is
// applied three times in the order the spec lists, so each later sort's
// ties are broken by the previous sort's order — this is what makes the
// whole sequence behave as a single multi-key sort. The name ordering makes
// the output independent of input order when all three keys tie.
func rank(items []askable) []domain.BindableQueue {
	L := len(items)
	if L == 0 {
		return nil
	}

	w := make([]int, L)
	for i, it := range items {
		w[i] = it.weight * it.callCount
	}

	order := make([]int, L)
	for i := range order {
		order[i] = i
	}

	sort.SliceStable(order, func(i, j int) bool {
		return items[order[i]].entry.Name < items[order[j]].entry.Name
	})
	sort.SliceStable(order, func(i, j int) bool {
		return items[order[i]].call.EnqueueTime.Before(items[order[j]].call.EnqueueTime)
	})
	sort.SliceStable(order, func(i, j int) bool {
		return items[order[i]].call.Priority < items[order[j]].call.Priority
	})
	sort.SliceStable(order, func(i, j int) bool {
		return w[order[i]] > w[order[j]]
	})

	out := make([]domain.BindableQueue, L)
	for c, idx := range order {
		it := items[idx]
		finalWeight := w[idx] + L - (c + 1)
		out[c] = domain.BindableQueue{
			Name:            it.entry.Name,
			Handle:          it.entry.Handle,
			Call:            it.call,
			EffectiveWeight: finalWeight,
		}
	}

	return out
}
