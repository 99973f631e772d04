// Package endpoint manages phone driver lifecycle for the Agent Channel
// FSM (spec.md §4.4). An endpoint is either the sentinel "inband" or a
// handle to a spawned phone driver; when non-sentinel the owning channel
// holds it for a linked lifetime. Adapted from the teacher's Docker
// container-manager interface shape (EnsureContainer/StopContainer/
// IsRunning), repurposed from container lifecycle to phone-driver
// lifecycle — see DESIGN.md.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yoonka/acdctl/internal/domain"
)

// Inband is the sentinel endpoint value meaning "no spawned driver; ring
// path flows through the application."
const Inband = "inband"

// ErrStartFailed is returned when a descriptor-based spawn exhausts its
// retry budget.
var ErrStartFailed = errors.New("endpoint: start failed")

// Descriptor names a phone driver to spawn: {module, func, extra_args} in
// spec.md §4.4's terms.
type Descriptor struct {
	Kind  domain.EndpointKind
	Data  string
	Extra map[string]string
}

// ExitEvent is delivered when a live driver exits, carrying the reason so
// the channel FSM can distinguish a normal hangup from a crash.
type ExitEvent struct {
	Reason error
}

// Driver is a live phone driver handle. The channel FSM is linked to it:
// an unexpected exit is delivered on Exited(), and Stop is idempotent.
type Driver interface {
	ID() string
	Oncall(ctx context.Context, call domain.Call) error
	Wrapup(ctx context.Context) error
	Hangup(ctx context.Context) error
	Stop(ctx context.Context) error
	Exited() <-chan ExitEvent
}

// Spawner constructs a live Driver from a descriptor. Production wiring
// plugs in the real SIP/IAX2/H323/PSTN drivers; tests substitute a fake.
type Spawner interface {
	Spawn(ctx context.Context, d Descriptor) (Driver, error)
}

// Manager spawns endpoints with retry-with-backoff on start failure,
// following the teacher's container-create retry technique
// (internal/container/ttl.go's exponential backoff).
type Manager struct {
	spawner      Spawner
	retryAttempts int
	retryDelay    time.Duration
	logger        *slog.Logger
}

// NewManager creates an endpoint manager over the given spawner.
func NewManager(spawner Spawner, retryAttempts int, retryDelay time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if retryAttempts <= 0 {
		retryAttempts = 1
	}
	return &Manager{spawner: spawner, retryAttempts: retryAttempts, retryDelay: retryDelay, logger: logger}
}

// Start spawns a driver from a descriptor, retrying transient failures.
func (m *Manager) Start(ctx context.Context, d Descriptor) (Driver, error) {
	var lastErr error
	delay := m.retryDelay

	for attempt := 0; attempt < m.retryAttempts; attempt++ {
		driver, err := m.spawner.Spawn(ctx, d)
		if err == nil {
			return driver, nil
		}
		lastErr = err
		m.logger.Warn("endpoint start attempt failed",
			"kind", d.Kind, "attempt", attempt+1, "error", err)

		if attempt < m.retryAttempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrStartFailed, lastErr)
}
