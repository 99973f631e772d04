// Package configstore defines the boundary to the tenant/client and
// queue/skill configuration store (spec.md §1 names the tenant/client
// config store an external collaborator; spec.md §3 names the queue/skill
// configuration table as in-scope persisted state). It ships a
// sqlite-backed reference implementation.
package configstore

import (
	"context"

	"github.com/yoonka/acdctl/internal/domain"
)

// QueueConfig is the persisted recipe/weight pair the queue manager
// restarts a dead queue worker from, per spec.md §4.5.
type QueueConfig struct {
	Name   string
	Recipe string
	Weight int
}

// Store is the read-mostly configuration boundary consulted for queue
// recipes/weights, brand/client listings, and release options.
type Store interface {
	// Queues lists every configured queue name (get_queue_list).
	Queues(ctx context.Context) ([]string, error)

	// QueueConfig returns the recipe/weight for a queue, used to restart a
	// dead queue worker. ok is false if the configuration has been removed.
	QueueConfig(ctx context.Context, name string) (cfg QueueConfig, ok bool, err error)

	// UpsertQueueConfig persists a queue's recipe/weight, called by
	// add_queue when it creates a new worker.
	UpsertQueueConfig(ctx context.Context, cfg QueueConfig) error

	// Clients lists brand/tenant configuration (get_brand_list).
	Clients(ctx context.Context) ([]domain.Client, error)

	// Client looks up one client's configuration, consulted for
	// autoend_wrapup at channel construction.
	Client(ctx context.Context, id string) (domain.Client, bool, error)

	// ReleaseOptions lists the available release reasons (get_release_opts).
	ReleaseOptions(ctx context.Context) ([]domain.ReleaseOption, error)

	// Close releases the store's resources.
	Close() error
}
