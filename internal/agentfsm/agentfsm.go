// Package agentfsm tracks per-agent availability state and the set of
// channels an agent owns (spec.md §2's "Agent FSM: per-agent process
// tracking availability state and owned channels"). Supplemented per
// SPEC_FULL.md since spec.md names this component but does not give it
// its own §4 subsection.
package agentfsm

import (
	"sync"

	"github.com/yoonka/acdctl/internal/channelfsm"
	"github.com/yoonka/acdctl/internal/domain"
)

// Availability is the agent's current availability state.
type Availability string

const (
	Available Availability = "available"
	Released  Availability = "released"
	Busy      Availability = "busy"
)

// FSM is one agent's availability tracker plus its owned channel set. A
// channel holds a reference to its owning agent FSM and is linked to it
// such that the agent FSM's death terminates the channel (spec.md §5).
type FSM struct {
	mu sync.Mutex

	agent       domain.Agent
	state       Availability
	releaseOpt  string
	channels    map[string]*channelfsm.Channel
	deathHooks  []func()
}

// New creates an agent FSM in the available state.
func New(agent domain.Agent) *FSM {
	return &FSM{
		agent:    agent,
		state:    Available,
		channels: make(map[string]*channelfsm.Channel),
	}
}

// Snapshot returns an immutable view of the agent's current state.
func (f *FSM) Snapshot() domain.AgentSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.AgentSnapshot{
		Login:       f.agent.Login,
		Profile:     f.agent.Profile,
		State:       string(f.state),
		StateData:   f.releaseOpt,
		SecurityLvl: f.agent.SecurityLevel,
		DefaultRing: f.agent.DefaultRing,
	}
}

// AddChannel registers a channel as owned by this agent.
func (f *FSM) AddChannel(ch *channelfsm.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[ch.ID()] = ch
	f.state = Busy
}

// RemoveChannel drops a terminated channel from the owned set. When no
// channels remain, the agent reverts to its pre-channel availability
// (available, unless it had explicitly released).
func (f *FSM) RemoveChannel(channelID string, wasReleased bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.channels, channelID)
	if len(f.channels) == 0 {
		if wasReleased {
			f.state = Released
		} else {
			f.state = Available
		}
	}
}

// Channels returns every channel currently owned by this agent.
func (f *FSM) Channels() []*channelfsm.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*channelfsm.Channel, 0, len(f.channels))
	for _, ch := range f.channels {
		out = append(out, ch)
	}
	return out
}

// Release moves the agent to released with the given release option
// (supplemented per SPEC_FULL.md's set_release operation).
func (f *FSM) Release(releaseOpt string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = Released
	f.releaseOpt = releaseOpt
}

// GoAvailable clears a release and returns the agent to available.
func (f *FSM) GoAvailable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = Available
	f.releaseOpt = ""
}

// OnDeath registers a hook invoked when the agent FSM dies (logout / lost
// connection), used to terminate owned channels per spec.md §5's linked
// lifetime.
func (f *FSM) OnDeath(hook func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deathHooks = append(f.deathHooks, hook)
}

// Die runs every registered death hook exactly once.
func (f *FSM) Die() {
	f.mu.Lock()
	hooks := f.deathHooks
	f.deathHooks = nil
	f.mu.Unlock()

	for _, h := range hooks {
		h()
	}
}
