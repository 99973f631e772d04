// Package connection implements the per-agent-session Connection Worker of
// spec.md §4.3: a single goroutine with a typed inbox, a poll queue, and a
// forwarding surface to the agent FSM. Modeled on the teacher's
// background-goroutine-with-ticker shape (internal/container/ttl.go) for
// the idle-timeout watchdog, and on internal/agent/grpc_client.go's
// context.WithTimeout+select single-shot-wait technique for poll.
package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrFunctionNotExists maps to the FUNCTION_NOEXISTS errcode in spec.md §6:
// the api verb is not on the allowlist.
var ErrFunctionNotExists = errors.New("connection: function does not exist")

// PollOutcome distinguishes a delivered event from a worker kill, per
// spec.md §4.3.
type PollOutcome int

const (
	PollEvent PollOutcome = iota
	PollKilled
)

// PollResult is what a poll call resolves to.
type PollResult struct {
	Outcome PollOutcome
	Body    any
	Headers map[string]string
}

// allowedVerbs is the explicit allowlist gating the api(verb, ...)
// fallthrough, per spec.md §9's open question: no reflection-based
// dispatch, an explicit set of permitted names instead.
var allowedVerbs = map[string]bool{
	"dial":                   true,
	"hangup":                 true,
	"ack":                    true,
	"err":                    true,
	"oncall":                 true,
	"wrapup":                 true,
	"stop":                   true,
	"state":                  true,
	"warm_transfer":          true,
	"warm_transfer_complete": true,
	"warm_transfer_cancel":   true,
	"queue_transfer":         true,
	"agent_transfer":         true,
	"set_release":            true,
	"go_available":           true,
	"init_outbound":          true,
	"media_push":             true,
	"supervisor":             true,
}

// ApiFunc handles one whitelisted verb forwarded from the dispatcher,
// typically delegating into the agent FSM.
type ApiFunc func(ctx context.Context, verb string, payload any) (any, error)

type pollRequest struct {
	ctx   context.Context
	reply chan PollResult
}

// Worker is a Connection Worker: one per logged-in agent session.
type Worker struct {
	id     string
	logger *slog.Logger

	events chan any // pending events, delivered in FIFO order to the next poll

	pollReq   chan pollRequest
	keepAlive chan struct{}
	apiReq    chan apiRequest
	kill      chan struct{}
	done      chan struct{}

	alive atomic.Bool

	idleTimeout time.Duration
	apiFunc     ApiFunc

	onDeath func()
}

type apiRequest struct {
	ctx     context.Context
	verb    string
	payload any
	reply   chan apiResponse
}

type apiResponse struct {
	result any
	err    error
}

// New starts a Connection Worker goroutine and returns its handle. onDeath
// is invoked exactly once, after the worker's loop exits, so the session
// table can reap the entry (spec.md §4.1's failure semantics).
func New(id string, idleTimeout time.Duration, apiFunc ApiFunc, onDeath func(), logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}

	w := &Worker{
		id:          id,
		logger:      logger,
		events:      make(chan any, 64),
		pollReq:     make(chan pollRequest),
		keepAlive:   make(chan struct{}, 1),
		apiReq:      make(chan apiRequest),
		kill:        make(chan struct{}),
		done:        make(chan struct{}),
		idleTimeout: idleTimeout,
		apiFunc:     apiFunc,
		onDeath:     onDeath,
	}
	w.alive.Store(true)

	go w.run()

	return w
}

// ID implements domain.ConnectionRef.
func (w *Worker) ID() string { return w.id }

// Alive implements domain.ConnectionRef.
func (w *Worker) Alive() bool { return w.alive.Load() }

// Kill terminates the worker; any outstanding poll is delivered a kill
// reply immediately (spec.md §4.3).
func (w *Worker) Kill() {
	select {
	case <-w.done:
	default:
		close(w.kill)
	}
}

// KeepAlive resets the idle timer. Called on every HTTP request carrying a
// valid cookie, per spec.md §4.3.
func (w *Worker) KeepAlive() {
	select {
	case w.keepAlive <- struct{}{}:
	default:
	}
}

// Enqueue delivers an event to be surfaced by the next poll call.
func (w *Worker) Enqueue(event any) {
	select {
	case w.events <- event:
	default:
		w.logger.Warn("connection: event dropped, inbox full", "worker_id", w.id)
	}
}

// Poll suspends until an event is available or ctx is cancelled (HTTP 408
// for a timeout, left to the caller), or the worker is killed. At most one
// poller is registered at a time; a new poll supersedes the previous one,
// which receives a synthetic kill reply (spec.md §4.3 / §9).
func (w *Worker) Poll(ctx context.Context) PollResult {
	reply := make(chan PollResult, 1)

	select {
	case w.pollReq <- pollRequest{ctx: ctx, reply: reply}:
	case <-w.done:
		return PollResult{Outcome: PollKilled}
	case <-ctx.Done():
		return PollResult{Outcome: PollKilled}
	}

	select {
	case res := <-reply:
		return res
	case <-ctx.Done():
		return PollResult{Outcome: PollKilled}
	}
}

// Api forwards a whitelisted verb to the agent FSM via apiFunc. Unknown
// verbs return ErrFunctionNotExists without reaching apiFunc.
func (w *Worker) Api(ctx context.Context, verb string, payload any) (any, error) {
	if !allowedVerbs[verb] {
		return nil, ErrFunctionNotExists
	}

	reply := make(chan apiResponse, 1)
	select {
	case w.apiReq <- apiRequest{ctx: ctx, verb: verb, payload: payload, reply: reply}:
	case <-w.done:
		return nil, errors.New("connection: worker dead")
	}

	select {
	case res := <-reply:
		return res.result, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *Worker) run() {
	defer func() {
		w.alive.Store(false)
		close(w.done)
		if w.onDeath != nil {
			w.onDeath()
		}
	}()

	var pending *pollRequest
	timer := time.NewTimer(w.idleTimeout)
	defer timer.Stop()

	for {
		// eventsCh is only armed once a poller is registered, so an
		// Enqueue arriving while one is waiting wakes this select
		// immediately instead of sitting in the buffer until some other
		// case happens to fire (spec.md §4.3's suspend-until-delivered
		// contract).
		var eventsCh chan any
		if pending != nil {
			eventsCh = w.events
		}

		select {
		case <-w.kill:
			if pending != nil {
				pending.reply <- PollResult{Outcome: PollKilled}
				pending = nil
			}
			return

		case <-timer.C:
			w.logger.Info("connection: idle timeout, self-terminating", "worker_id", w.id)
			if pending != nil {
				pending.reply <- PollResult{Outcome: PollKilled}
			}
			return

		case <-w.keepAlive:
			if !timer.Stop() {
				<-drainTimer(timer)
			}
			timer.Reset(w.idleTimeout)

		case req := <-w.pollReq:
			if pending != nil {
				// A new poll supersedes the previous one.
				pending.reply <- PollResult{Outcome: PollKilled}
			}
			pending = &req
			w.tryDeliver(&pending)

		case ev := <-eventsCh:
			pending.reply <- PollResult{Outcome: PollEvent, Body: ev}
			pending = nil

		case req := <-w.apiReq:
			result, err := w.dispatch(req)
			req.reply <- apiResponse{result: result, err: err}
		}
	}
}

func (w *Worker) tryDeliver(pending **pollRequest) {
	select {
	case ev := <-w.events:
		(*pending).reply <- PollResult{Outcome: PollEvent, Body: ev}
		*pending = nil
	default:
	}
}

func (w *Worker) dispatch(req apiRequest) (any, error) {
	if w.apiFunc == nil {
		return nil, ErrFunctionNotExists
	}
	return w.apiFunc(req.ctx, req.verb, req.payload)
}

func drainTimer(t *time.Timer) <-chan time.Time {
	ch := make(chan time.Time, 1)
	select {
	case v := <-t.C:
		ch <- v
	default:
	}
	return ch
}
