// Package cdr defines the boundary to the call detail record sink
// (spec.md §1 names CDR persistence out of scope). It ships an in-memory
// reference sink so channel termination is exercisable in tests.
package cdr

import (
	"sync"

	"github.com/yoonka/acdctl/internal/domain"
)

// Sink receives end-of-call notifications emitted when a channel
// terminates from wrapup, per spec.md §4.4.
type Sink interface {
	RecordEnd(call domain.Call, finalState domain.ChannelState)
}

// InMemory is a reference Sink that retains every recorded call, for tests
// and local development.
type InMemory struct {
	mu    sync.Mutex
	calls []domain.Call
}

// NewInMemory creates an empty in-memory CDR sink.
func NewInMemory() *InMemory {
	return &InMemory{}
}

// RecordEnd implements Sink.
func (s *InMemory) RecordEnd(call domain.Call, _ domain.ChannelState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

// Calls returns every call recorded so far, for test assertions.
func (s *InMemory) Calls() []domain.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Call, len(s.calls))
	copy(out, s.calls)
	return out
}
