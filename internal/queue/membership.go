package queue

import (
	"log/slog"

	"github.com/hashicorp/serf/serf"
)

// MemberEventKind mirrors serf.EventType's member-change subset consumed by
// the queue manager (spec.md §4.5's "node down" cluster event).
type MemberEventKind int

const (
	MemberJoin MemberEventKind = iota
	MemberLeave
	MemberFailed
)

// MemberEvent is a single cluster membership change.
type MemberEvent struct {
	Kind   MemberEventKind
	NodeID string
}

// Membership is the cluster-membership boundary: a stream of join/leave/
// failed events used to detect node-down conditions and drop that node's
// queue-registry entries.
type Membership interface {
	Events() <-chan MemberEvent
	Leave() error
}

// serfMembership implements Membership with hashicorp/serf's gossip
// protocol, grounded on the moby-moby example repo's dependency on
// hashicorp/memberlist+hashicorp/serf for swarm-style cluster membership —
// the pack's only gossip-membership library.
type serfMembership struct {
	s      *serf.Serf
	events chan MemberEvent
	raw    chan serf.Event
	logger *slog.Logger
}

// NewSerfMembership starts a serf agent bound to bindAddr, joining the
// given seed addresses if any are provided.
func NewSerfMembership(nodeID, bindAddr string, seeds []string, logger *slog.Logger) (Membership, error) {
	if logger == nil {
		logger = slog.Default()
	}

	raw := make(chan serf.Event, 64)

	conf := serf.DefaultConfig()
	conf.NodeName = nodeID
	conf.MemberlistConfig.BindAddr = bindAddr
	conf.EventCh = raw

	s, err := serf.Create(conf)
	if err != nil {
		return nil, err
	}

	if len(seeds) > 0 {
		if _, err := s.Join(seeds, true); err != nil {
			logger.Warn("queue: serf join failed, continuing standalone", "error", err)
		}
	}

	m := &serfMembership{
		s:      s,
		events: make(chan MemberEvent, 64),
		raw:    raw,
		logger: logger,
	}

	go m.pump()

	return m, nil
}

func (m *serfMembership) pump() {
	for ev := range m.raw {
		memberEv, ok := ev.(serf.MemberEvent)
		if !ok {
			continue
		}

		var kind MemberEventKind
		switch memberEv.EventType() {
		case serf.EventMemberJoin:
			kind = MemberJoin
		case serf.EventMemberLeave:
			kind = MemberLeave
		case serf.EventMemberFailed:
			kind = MemberFailed
		default:
			continue
		}

		for _, member := range memberEv.Members {
			select {
			case m.events <- MemberEvent{Kind: kind, NodeID: member.Name}:
			default:
				m.logger.Warn("queue: membership event dropped, channel full")
			}
		}
	}
}

func (m *serfMembership) Events() <-chan MemberEvent { return m.events }

func (m *serfMembership) Leave() error {
	return m.s.Leave()
}

// staticMembership is a no-op Membership for single-node deployments and
// tests: it never emits events.
type staticMembership struct {
	events chan MemberEvent
}

// NewStaticMembership returns a Membership that never reports node changes.
func NewStaticMembership() Membership {
	return &staticMembership{events: make(chan MemberEvent)}
}

func (s *staticMembership) Events() <-chan MemberEvent { return s.events }
func (s *staticMembership) Leave() error                { return nil }
