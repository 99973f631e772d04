// Package domain holds the core data types shared across the control plane:
// sessions, agents, channels, calls, and the queue registry.
package domain

import "time"

// Session is the cookie-keyed row the session table manages. Connection is
// nil until the login handshake binds a live worker to the session.
type Session struct {
	ID         string
	Salt       string
	Connection ConnectionRef
}

// ConnectionRef is an opaque handle to a live Connection Worker. It is
// implemented by *connection.Worker; domain only needs identity and
// liveness, not the worker's internals.
type ConnectionRef interface {
	ID() string
	Alive() bool
}

// RingPath is whether a ring signal (or media stream) flows through the
// application (inband) or directly to a phone (outband).
type RingPath string

const (
	RingInband  RingPath = "inband"
	RingOutband RingPath = "outband"
)

// EndpointKind enumerates the phone driver types a channel can bind.
type EndpointKind string

const (
	EndpointSIPRegistration EndpointKind = "sip_registration"
	EndpointSIP             EndpointKind = "sip"
	EndpointIAX2            EndpointKind = "iax2"
	EndpointH323            EndpointKind = "h323"
	EndpointPSTN            EndpointKind = "pstn"
)

// EndpointOptions is the resolved result of the login opts' endpoint fields,
// per spec.md §4.2.1.
type EndpointOptions struct {
	Kind           EndpointKind
	Data           string
	UseOutbandRing bool
}

// AgentSnapshot is the immutable view of an agent record returned by
// check_cookie / dump_agent.
type AgentSnapshot struct {
	Login        string
	Profile      string
	State        string
	StateData    string
	StateTime    time.Time
	Timestamp    time.Time
	MediaLoad    int
	SecurityLvl  int
	DefaultRing  RingPath
}
