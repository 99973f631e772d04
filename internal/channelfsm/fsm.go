// Package channelfsm implements the Agent Channel FSM, the central state
// machine of spec.md §4.4: one instance per media interaction, governing
// ring → precall → oncall → wrapup (with deprecated warm-transfer states
// retained as pass-throughs) and the linked endpoint lifecycle.
//
// Encoded as a tagged state enum plus a total transition function, modeled
// on the teacher's internal/terminal/osc133_parser.go OSC133State machine —
// the pack's only hand-rolled FSM over a small discrete state set.
package channelfsm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yoonka/acdctl/internal/cdr"
	"github.com/yoonka/acdctl/internal/domain"
	"github.com/yoonka/acdctl/internal/endpoint"
	"github.com/yoonka/acdctl/internal/events"
)

// ErrInvalidTransition is returned (and the channel's state left unchanged)
// when an event is not permitted from the current state.
var ErrInvalidTransition = errors.New("channelfsm: invalid transition")

// EventSource distinguishes who raised an event, since some transitions'
// side effects depend on it (spec.md §4.4's oncall→wrapup row).
type EventSource string

const (
	SourceConnection EventSource = "connection"
	SourceEndpoint   EventSource = "endpoint"
	SourceTimer      EventSource = "timer"
)

// EventKind enumerates the inputs the transition table accepts.
type EventKind string

const (
	EventRinging        EventKind = "ringing"
	EventOncall         EventKind = "oncall"
	EventStop           EventKind = "stop"
	EventWrapup         EventKind = "wrapup"
	EventEndpointExit   EventKind = "endpoint_exit"
	EventEndWrapupTimer EventKind = "end_wrapup"
	EventWarmComplete   EventKind = "warm_transfer_complete"
	EventWarmCancel     EventKind = "warm_transfer_cancel"
)

// Event is one input to the transition function.
type Event struct {
	Kind       EventKind
	CallID     string // for ringing(call)/oncall(call) matching
	Source     EventSource
	ExitReason error // set for EventEndpointExit
}

// ConnectionNotifier is the Connection Worker side of the channel↔
// connection boundary (spec.md §4.4's "notify connection").
type ConnectionNotifier interface {
	NotifyChannelAssigned(channelID string, call domain.Call)
	NotifyStateChange(channelID string, state domain.ChannelState)
}

// Channel is one Agent Channel FSM instance.
type Channel struct {
	mu sync.Mutex

	id       string
	agent    domain.AgentSnapshot
	call     domain.Call
	client   domain.Client
	state    domain.ChannelState
	ringPath domain.RingPath

	driver   endpoint.Driver
	epMgr    *endpoint.Manager
	descriptor endpoint.Descriptor

	events   *events.Manager
	notifier ConnectionNotifier
	sink     cdr.Sink

	wrapupTimer *time.Timer
	terminated  bool
}

// New constructs a channel per spec.md §4.4's entry action:
//  1. registers the channel property
//  2. emits initiated_channel
//  3. if initialState is prering, starts the endpoint; start failure
//     terminates the channel with {error, …}
//  4. notifies the connection of the initial channel assignment
func New(
	agent domain.AgentSnapshot,
	call domain.Call,
	descriptor endpoint.Descriptor,
	initialState domain.ChannelState,
	evMgr *events.Manager,
	epMgr *endpoint.Manager,
	notifier ConnectionNotifier,
	sink cdr.Sink,
	client domain.Client,
) (*Channel, error) {
	c := &Channel{
		id:         uuid.NewString(),
		agent:      agent,
		call:       call,
		client:     client,
		state:      initialState,
		ringPath:   call.RingPath,
		epMgr:      epMgr,
		descriptor: descriptor,
		events:     evMgr,
		notifier:   notifier,
		sink:       sink,
	}

	c.publishProperty()
	evMgr.EmitInitiated(events.InitiatedEvent{ChannelID: c.id, At: now(), Call: call})

	if initialState == domain.StatePrering {
		driver, err := epMgr.Start(context.Background(), descriptor)
		if err != nil {
			c.terminate(fmt.Errorf("endpoint start failed: %w", err))
			return c, err
		}
		c.driver = driver
		go c.watchEndpoint(driver)
	}

	if notifier != nil {
		notifier.NotifyChannelAssigned(c.id, call)
	}

	return c, nil
}

// watchEndpoint forwards an unexpected driver exit into the FSM as
// EventEndpointExit, per spec.md §4.4 ("the FSM is linked to the
// endpoint; an endpoint exit during oncall transitions to wrapup").
// Exits driven by the FSM itself (Stop/Hangup on a normal transition)
// still surface here, but Handle is idempotent against an
// already-terminated channel.
func (c *Channel) watchEndpoint(driver endpoint.Driver) {
	ev, ok := <-driver.Exited()
	if !ok {
		return
	}
	_ = c.Handle(Event{Kind: EventEndpointExit, Source: SourceEndpoint, ExitReason: ev.Reason})
}

// ID returns the channel's opaque identifier.
func (c *Channel) ID() string { return c.id }

// State returns the channel's current state.
func (c *Channel) State() domain.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Handle applies one event to the FSM. Unknown or disallowed events return
// ErrInvalidTransition and leave the state unchanged, per spec.md §4.4 and
// §9 ("unknown events must return invalid without side effects").
func (c *Channel) Handle(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terminated {
		return ErrInvalidTransition
	}

	switch c.state {
	case domain.StatePrering:
		return c.fromPrering(ev)
	case domain.StateRinging:
		return c.fromRinging(ev)
	case domain.StatePrecall:
		return c.fromPrecall(ev)
	case domain.StateOncall:
		return c.fromOncall(ev)
	case domain.StateWarmTransferHold, domain.StateWarmTransferThirdParty:
		return c.fromWarmTransfer(ev)
	case domain.StateWrapup:
		return c.fromWrapup(ev)
	default:
		return ErrInvalidTransition
	}
}

func (c *Channel) fromPrering(ev Event) error {
	if ev.Kind != EventRinging {
		return ErrInvalidTransition
	}
	if ev.CallID != "" && ev.CallID != c.call.ID {
		return ErrInvalidTransition
	}
	c.moveTo(domain.StateRinging)
	c.notifyConnection()
	return nil
}

func (c *Channel) fromRinging(ev Event) error {
	switch ev.Kind {
	case EventOncall:
		if ev.CallID != "" && ev.CallID != c.call.ID {
			return ErrInvalidTransition
		}
		c.moveTo(domain.StateOncall)
		c.mediaOncall()
		if c.ringPath == domain.RingInband && c.call.MediaPath == domain.RingOutband {
			c.freeEndpoint()
		}
		c.notifyConnection()
		return nil
	case EventStop:
		c.endpointHangup()
		c.terminateLocked(nil)
		return nil
	default:
		return ErrInvalidTransition
	}
}

func (c *Channel) fromPrecall(ev Event) error {
	if ev.Kind != EventOncall {
		return ErrInvalidTransition
	}
	matchesCall := ev.CallID == "" || ev.CallID == c.call.ID
	matchesClient := ev.CallID == c.call.Client
	if !matchesCall && !matchesClient {
		return ErrInvalidTransition
	}
	c.moveTo(domain.StateOncall)
	c.mediaOncall()
	c.notifyConnection()
	return nil
}

func (c *Channel) fromOncall(ev Event) error {
	switch ev.Kind {
	case EventWrapup:
		c.moveTo(domain.StateWrapup)
		if ev.Source == SourceConnection {
			c.mediaWrapup()
		} else {
			c.tryWrapup()
		}
		c.armAutoWrapup()
		return nil
	case EventEndpointExit:
		c.moveTo(domain.StateWrapup)
		c.tryWrapup()
		c.armAutoWrapup()
		return nil
	default:
		return ErrInvalidTransition
	}
}

func (c *Channel) fromWarmTransfer(ev Event) error {
	switch ev.Kind {
	case EventWarmComplete, EventWarmCancel:
		c.moveTo(domain.StateOncall)
		c.notifyConnection()
		return nil
	default:
		return ErrInvalidTransition
	}
}

func (c *Channel) fromWrapup(ev Event) error {
	switch ev.Kind {
	case EventStop, EventEndWrapupTimer:
		c.terminateLocked(nil)
		return nil
	case EventEndpointExit:
		// ignored while in wrapup, per spec.md §4.4.
		return nil
	default:
		return ErrInvalidTransition
	}
}

func (c *Channel) moveTo(newState domain.ChannelState) {
	old := c.state
	c.state = newState
	c.call.RecordState(string(newState), now())
	c.publishProperty()

	if c.notifier != nil {
		c.notifier.NotifyStateChange(c.id, newState)
	}

	c.events.EmitStateUpdate(events.StateUpdate{
		ChannelID: c.id,
		AgentID:   c.agent.Login,
		At:        now(),
		NewState:  newState,
		OldState:  old,
		Prop:      c.property(),
	})
}

func (c *Channel) publishProperty() {
	c.events.PublishProperty(c.id, c.property())
}

func (c *Channel) property() domain.ChannelProperty {
	return domain.ChannelProperty{
		Login:    c.agent.Login,
		Profile:  c.agent.Profile,
		Type:     c.call.Type,
		Client:   c.call.Client,
		CallerID: c.call.CallerID,
		State:    c.state,
	}
}

func (c *Channel) notifyConnection() {
	if c.notifier != nil {
		c.notifier.NotifyStateChange(c.id, c.state)
	}
}

func (c *Channel) mediaOncall() {
	if c.driver == nil {
		return
	}
	_ = c.driver.Oncall(context.Background(), c.call)
}

func (c *Channel) mediaWrapup() {
	if c.driver == nil {
		return
	}
	_ = c.driver.Wrapup(context.Background())
}

// tryWrapup attempts a graceful media wrapup but does not fail the
// transition if the driver is gone or refuses — the channel is already
// committed to wrapup.
func (c *Channel) tryWrapup() {
	if c.driver == nil {
		return
	}
	_ = c.driver.Wrapup(context.Background())
}

func (c *Channel) freeEndpoint() {
	if c.driver == nil {
		return
	}
	_ = c.driver.Stop(context.Background())
	c.driver = nil
}

func (c *Channel) endpointHangup() {
	if c.driver == nil {
		return
	}
	_ = c.driver.Hangup(context.Background())
}

// armAutoWrapup starts the end_wrapup timer when the client's config
// enables it, per spec.md §4.4.
func (c *Channel) armAutoWrapup() {
	if c.client.AutoendWrapup <= 0 {
		return
	}
	d := time.Duration(c.client.AutoendWrapup) * time.Second
	c.wrapupTimer = time.AfterFunc(d, func() {
		_ = c.Handle(Event{Kind: EventEndWrapupTimer, Source: SourceTimer})
	})
}

func (c *Channel) terminateLocked(err error) {
	if c.wrapupTimer != nil {
		c.wrapupTimer.Stop()
	}

	fromWrapup := c.state == domain.StateWrapup
	c.state = domain.StateTerminated
	c.terminated = true
	c.events.RemoveProperty(c.id)

	c.events.EmitTerminated(events.TerminatedEvent{
		ChannelID: c.id,
		At:        now(),
		Agent:     c.agent,
		FinalCall: c.call,
	})

	if fromWrapup && c.sink != nil {
		c.sink.RecordEnd(c.call, domain.StateWrapup)
	}

	_ = err
}

// terminate is the unlocked entry point used from New before the FSM has
// been handed out to any caller that could be holding the mutex.
func (c *Channel) terminate(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminateLocked(err)
}

var nowFunc = time.Now

func now() time.Time { return nowFunc() }
