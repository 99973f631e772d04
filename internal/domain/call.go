package domain

import "time"

// CallType enumerates the media types a Call can carry.
type CallType string

const (
	CallVoice     CallType = "voice"
	CallChat      CallType = "chat"
	CallEmail     CallType = "email"
	CallVoicemail CallType = "voicemail"
)

// StateChange records one channel state transition against a call's
// history, per spec.md §3.
type StateChange struct {
	State     string
	At        time.Time
}

// Call is the interaction a channel mediates.
type Call struct {
	ID           string
	Type         CallType
	Client       string
	CallerID     string
	RingPath     RingPath
	MediaPath    RingPath
	Source       string // media gateway handle, opaque to the core
	StateChanges []StateChange
}

// RecordState appends a state change to the call's history. Never mutates
// prior entries; callers own ordering.
func (c *Call) RecordState(state string, at time.Time) {
	c.StateChanges = append(c.StateChanges, StateChange{State: state, At: at})
}
