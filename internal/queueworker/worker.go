// Package queueworker implements the per-queue process of spec.md §3/§4.5:
// an ordered set of queued calls, a weight, and a recipe, queried by the
// queue manager for bindable-call ranking. One goroutine per queue, message
// passing via a typed inbox, following the same actor shape as
// internal/connection.
package queueworker

import (
	"sort"
	"time"

	"github.com/yoonka/acdctl/internal/domain"
)

type opKind int

const (
	opEnqueue opKind = iota
	opAsk
	opDequeue
	opCallCount
	opSnapshot
	opStop
)

type operation struct {
	kind  opKind
	call  domain.QueuedCall
	reply chan opResult
}

type opResult struct {
	call  domain.QueuedCall
	ok    bool
	count int
	calls []domain.QueuedCall
}

// Worker is one queue's live process: an ordered set of queued calls plus
// the weight/recipe the queue manager restarts it with.
type Worker struct {
	name   string
	recipe string
	weight int

	ops  chan operation
	done chan struct{}
}

// New starts a queue worker goroutine. weight must be >= 1 per spec.md §4.5;
// callers passing a non-positive weight get 1.
func New(name, recipe string, weight int) *Worker {
	if weight < 1 {
		weight = 1
	}

	w := &Worker{
		name:   name,
		recipe: recipe,
		weight: weight,
		ops:    make(chan operation),
		done:   make(chan struct{}),
	}

	go w.run()

	return w
}

// Name returns the queue's name.
func (w *Worker) Name() string { return w.name }

// Recipe returns the queue's configured recipe.
func (w *Worker) Recipe() string { return w.recipe }

// Weight returns the queue's configured weight (>= 1).
func (w *Worker) Weight() int { return w.weight }

// Dead reports the worker's death, letting the queue manager detect a
// crashed queue worker and restart it from persisted config (spec.md §4.5,
// §7: "Queue workers ARE restarted by the queue manager using persisted
// config").
func (w *Worker) Dead() <-chan struct{} { return w.done }

// Stop terminates the worker's goroutine. Queued calls are discarded; the
// queue manager is responsible for persisted-config-driven restart, not
// call recovery (spec.md §7: "a crashed channel loses its call" — the same
// holds for calls still waiting in a dead queue worker).
func (w *Worker) Stop() {
	select {
	case <-w.done:
	default:
		w.ops <- operation{kind: opStop}
	}
}

// Enqueue adds a call to the queue, per spec.md §3's
// queued_call(priority, enqueue_time, call_id, call_handle).
func (w *Worker) Enqueue(priority int, callID, callHandle string) {
	reply := make(chan opResult, 1)
	select {
	case w.ops <- operation{kind: opEnqueue, call: domain.QueuedCall{
		Priority:    priority,
		EnqueueTime: time.Now(),
		CallID:      callID,
		CallHandle:  callHandle,
	}, reply: reply}:
		<-reply
	case <-w.done:
	}
}

// Ask returns the best bindable call in the queue without removing it, per
// spec.md §4.5's call_queue.ask(). The best call is the one with the
// lowest priority value, ties broken by earliest enqueue time — the same
// key order the ranking algorithm later sorts by.
func (w *Worker) Ask() (domain.QueuedCall, bool) {
	reply := make(chan opResult, 1)
	select {
	case w.ops <- operation{kind: opAsk, reply: reply}:
		res := <-reply
		return res.call, res.ok
	case <-w.done:
		return domain.QueuedCall{}, false
	}
}

// Dequeue removes and returns the best bindable call, for when a dispatcher
// actually binds it to an agent rather than just asking.
func (w *Worker) Dequeue() (domain.QueuedCall, bool) {
	reply := make(chan opResult, 1)
	select {
	case w.ops <- operation{kind: opDequeue, reply: reply}:
		res := <-reply
		return res.call, res.ok
	case <-w.done:
		return domain.QueuedCall{}, false
	}
}

// CallCount returns the number of calls currently waiting, used in the
// w = weight x call_count term of spec.md §4.5's ranking algorithm.
func (w *Worker) CallCount() int {
	reply := make(chan opResult, 1)
	select {
	case w.ops <- operation{kind: opCallCount, reply: reply}:
		return (<-reply).count
	case <-w.done:
		return 0
	}
}

// Snapshot returns every queued call, ordered by (priority, enqueue_time).
func (w *Worker) Snapshot() []domain.QueuedCall {
	reply := make(chan opResult, 1)
	select {
	case w.ops <- operation{kind: opSnapshot, reply: reply}:
		return (<-reply).calls
	case <-w.done:
		return nil
	}
}

func (w *Worker) run() {
	calls := make([]domain.QueuedCall, 0)

	defer close(w.done)

	for op := range w.ops {
		switch op.kind {
		case opStop:
			return

		case opEnqueue:
			calls = append(calls, op.call)
			sortCalls(calls)
			op.reply <- opResult{ok: true}

		case opAsk:
			if len(calls) == 0 {
				op.reply <- opResult{ok: false}
				continue
			}
			op.reply <- opResult{call: calls[0], ok: true}

		case opDequeue:
			if len(calls) == 0 {
				op.reply <- opResult{ok: false}
				continue
			}
			best := calls[0]
			calls = calls[1:]
			op.reply <- opResult{call: best, ok: true}

		case opCallCount:
			op.reply <- opResult{count: len(calls)}

		case opSnapshot:
			out := make([]domain.QueuedCall, len(calls))
			copy(out, calls)
			op.reply <- opResult{calls: out}
		}
	}
}

// sortCalls keeps the queue ordered by (priority asc, enqueue_time asc),
// matching the key order the queue manager's ranking algorithm applies.
func sortCalls(calls []domain.QueuedCall) {
	sort.SliceStable(calls, func(i, j int) bool {
		if calls[i].Priority != calls[j].Priority {
			return calls[i].Priority < calls[j].Priority
		}
		return calls[i].EnqueueTime.Before(calls[j].EnqueueTime)
	})
}
