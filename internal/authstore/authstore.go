// Package authstore defines the boundary to the on-disk authentication
// store (spec.md §1 names this an external collaborator, interface only).
// It ships an in-memory reference implementation so the login handshake in
// internal/dispatcher is fully exercisable in tests without a real
// credential database.
package authstore

import (
	"context"
	"errors"
	"sync"

	"github.com/yoonka/acdctl/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

// ErrAuthFailed maps to the AUTH_FAILED errcode in spec.md §6.
var ErrAuthFailed = errors.New("authstore: authentication failed")

// Store authenticates a (username, plaintext password) pair and returns
// the agent record on success.
type Store interface {
	Authenticate(ctx context.Context, username, password string) (domain.Agent, error)
}

// InMemory is a reference Store backed by a map, for tests and local
// development. Passwords are hashed with bcrypt, the pack's standard
// credential-hashing library, even though this implementation's storage
// itself is not the production authentication store.
type InMemory struct {
	mu     sync.RWMutex
	agents map[string]domain.Agent
}

// NewInMemory creates an empty in-memory authentication store.
func NewInMemory() *InMemory {
	return &InMemory{agents: make(map[string]domain.Agent)}
}

// AddAgent registers an agent with a plaintext password, hashing it with
// bcrypt before storing.
func (s *InMemory) AddAgent(agent domain.Agent, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	agent.PasswordHash = string(hash)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.Login] = agent
	return nil
}

// Authenticate implements Store.
func (s *InMemory) Authenticate(_ context.Context, username, password string) (domain.Agent, error) {
	s.mu.RLock()
	agent, ok := s.agents[username]
	s.mu.RUnlock()

	if !ok {
		return domain.Agent{}, ErrAuthFailed
	}
	if err := bcrypt.CompareHashAndPassword([]byte(agent.PasswordHash), []byte(password)); err != nil {
		return domain.Agent{}, ErrAuthFailed
	}
	return agent, nil
}
