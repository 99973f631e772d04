// Package events provides the cluster-local channel property registry and
// the broadcast fan-out used by the Agent Channel FSM (spec.md §4.4).
// Modeled on the teacher's terminal.SessionManager registry-of-live-handles
// pattern (internal/terminal/manager.go), generalized from "one active
// websocket per user+session" to "N subscribers per channel property key."
package events

import (
	"sync"
	"time"

	"github.com/yoonka/acdctl/internal/domain"
)

// StateUpdate is broadcast to subscribers on every channel transition, per
// spec.md §4.4: channel_state_update(pid, agent_pid, now, new_state,
// old_state, prop).
type StateUpdate struct {
	ChannelID string
	AgentID   string
	At        time.Time
	NewState  domain.ChannelState
	OldState  domain.ChannelState
	Prop      domain.ChannelProperty
}

// InitiatedEvent is emitted once, at channel construction.
type InitiatedEvent struct {
	ChannelID string
	At        time.Time
	Call      domain.Call
}

// TerminatedEvent is emitted once, at channel termination.
type TerminatedEvent struct {
	ChannelID string
	At        time.Time
	Agent     domain.AgentSnapshot
	FinalCall domain.Call
}

// Subscriber receives channel lifecycle events. Delivery to a given
// subscriber preserves the order emitted by the emitting channel; no
// cross-channel ordering is guaranteed (spec.md §5).
type Subscriber interface {
	OnInitiated(InitiatedEvent)
	OnStateUpdate(StateUpdate)
	OnTerminated(TerminatedEvent)
}

// Manager is the cluster-local property registry plus subscriber fan-out.
// The owning channel is the sole writer; subscribers are readers.
type Manager struct {
	mu          sync.RWMutex
	properties  map[string]domain.ChannelProperty
	subscribers []Subscriber
}

// New creates an empty event manager.
func New() *Manager {
	return &Manager{properties: make(map[string]domain.ChannelProperty)}
}

// Subscribe registers a subscriber for every future event on this manager.
func (m *Manager) Subscribe(s Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, s)
}

// PublishProperty registers or updates a channel's property entry.
func (m *Manager) PublishProperty(channelID string, prop domain.ChannelProperty) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.properties[channelID] = prop
}

// Property returns the current published property for a channel, if any.
func (m *Manager) Property(channelID string) (domain.ChannelProperty, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.properties[channelID]
	return p, ok
}

// RemoveProperty drops a channel's property entry on termination.
func (m *Manager) RemoveProperty(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.properties, channelID)
}

func (m *Manager) snapshot() []Subscriber {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Subscriber, len(m.subscribers))
	copy(out, m.subscribers)
	return out
}

// EmitInitiated broadcasts InitiatedEvent to every subscriber, in order.
func (m *Manager) EmitInitiated(e InitiatedEvent) {
	for _, s := range m.snapshot() {
		s.OnInitiated(e)
	}
}

// EmitStateUpdate broadcasts StateUpdate to every subscriber, in order.
func (m *Manager) EmitStateUpdate(e StateUpdate) {
	for _, s := range m.snapshot() {
		s.OnStateUpdate(e)
	}
}

// EmitTerminated broadcasts TerminatedEvent to every subscriber, in order.
func (m *Manager) EmitTerminated(e TerminatedEvent) {
	for _, s := range m.snapshot() {
		s.OnTerminated(e)
	}
}
