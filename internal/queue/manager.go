// Package queue implements the Queue Manager of spec.md §4.5: a
// cluster-replicated, leader-elected directory `name -> queue worker
// handle`, plus the bindable-queue ranking algorithm the dispatcher
// consults during routing.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/yoonka/acdctl/internal/configstore"
	"github.com/yoonka/acdctl/internal/domain"
	"github.com/yoonka/acdctl/internal/queueworker"
)

// ErrNotLeader is returned by leader-only operations when this node is a
// follower and has no LeaderClient configured to forward the request.
var ErrNotLeader = errors.New("queue: this node is not the leader and has no leader client")

// LeaderClient is how a follower reaches the current leader for
// leader-authoritative operations (get_queue, queues, registration of a
// newly created local queue). A real implementation would be a thin RPC
// client; Manager does not assume a particular transport.
type LeaderClient interface {
	GetQueue(ctx context.Context, name string) (domain.QueueEntry, bool, error)
	Queues(ctx context.Context) ([]domain.QueueEntry, error)
	RegisterQueue(ctx context.Context, entry domain.QueueEntry) error
}

// Manager is one node's view of the replicated queue registry.
type Manager struct {
	nodeID string
	logger *slog.Logger

	elector    Elector
	membership Membership
	store      configstore.Store
	leaderCli  LeaderClient // nil when this node is (or might become) leader

	mu      sync.RWMutex
	workers map[string]*queueworker.Worker   // queue name -> local process handle
	entries map[string]domain.QueueEntry     // authoritative registry when leader; cache otherwise

	stop chan struct{}
}

// New constructs a Manager. Pass NewLocalElector()/NewStaticMembership()
// for single-node deployments or tests.
func New(nodeID string, elector Elector, membership Membership, store configstore.Store, leaderCli LeaderClient, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		nodeID:     nodeID,
		logger:     logger,
		elector:    elector,
		membership: membership,
		store:      store,
		leaderCli:  leaderCli,
		workers:    make(map[string]*queueworker.Worker),
		entries:    make(map[string]domain.QueueEntry),
		stop:       make(chan struct{}),
	}
	go m.watchCluster()
	return m
}

// Close stops the manager's background cluster watcher and every local
// queue worker.
func (m *Manager) Close() {
	close(m.stop)

	m.mu.Lock()
	for _, w := range m.workers {
		w.Stop()
	}
	m.mu.Unlock()
}

func (m *Manager) isLeader() bool { return m.elector.IsLeader() }

func (m *Manager) handle(name string) string {
	return fmt.Sprintf("%s@%s", name, m.nodeID)
}

// AddQueue implements spec.md §4.5's add_queue: local check, then leader
// check, then create-and-register.
func (m *Manager) AddQueue(ctx context.Context, name, recipe string, weight int) (domain.QueueEntry, bool, error) {
	m.mu.RLock()
	if entry, ok := m.entries[name]; ok {
		m.mu.RUnlock()
		return entry, true, nil
	}
	m.mu.RUnlock()

	if existing, ok, err := m.GetQueue(ctx, name); err != nil {
		return domain.QueueEntry{}, false, err
	} else if ok {
		m.mu.Lock()
		m.entries[name] = existing
		m.mu.Unlock()
		return existing, true, nil
	}

	worker := queueworker.New(name, recipe, weight)
	entry := domain.QueueEntry{Name: name, Handle: m.handle(name), NodeID: m.nodeID}

	m.mu.Lock()
	m.workers[name] = worker
	m.entries[name] = entry
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.UpsertQueueConfig(ctx, configstore.QueueConfig{Name: name, Recipe: recipe, Weight: weight}); err != nil {
			m.logger.Warn("queue: failed to persist queue config", "queue", name, "error", err)
		}
	}

	if m.isLeader() {
		// Already authoritative: nothing further to notify.
	} else if m.leaderCli != nil {
		if err := m.leaderCli.RegisterQueue(ctx, entry); err != nil {
			m.logger.Warn("queue: failed to notify leader of new queue", "queue", name, "error", err)
		}
	}

	go m.supervise(name, worker, recipe, weight)

	return entry, false, nil
}

// GetQueue implements spec.md §4.5's leader-authoritative get_queue.
func (m *Manager) GetQueue(ctx context.Context, name string) (domain.QueueEntry, bool, error) {
	if m.isLeader() {
		m.mu.RLock()
		entry, ok := m.entries[name]
		m.mu.RUnlock()
		return entry, ok, nil
	}
	if m.leaderCli == nil {
		return domain.QueueEntry{}, false, ErrNotLeader
	}
	return m.leaderCli.GetQueue(ctx, name)
}

// QueryQueue implements spec.md §4.5's local-first query_queue.
func (m *Manager) QueryQueue(ctx context.Context, name string) bool {
	m.mu.RLock()
	_, ok := m.entries[name]
	m.mu.RUnlock()
	if ok {
		return true
	}
	_, ok, _ = m.GetQueue(ctx, name)
	return ok
}

// Queues implements spec.md §4.5's leader-authoritative queues() listing.
func (m *Manager) Queues(ctx context.Context) ([]domain.QueueEntry, error) {
	if m.isLeader() {
		m.mu.RLock()
		defer m.mu.RUnlock()
		out := make([]domain.QueueEntry, 0, len(m.entries))
		for _, e := range m.entries {
			out = append(out, e)
		}
		return out, nil
	}
	if m.leaderCli == nil {
		return nil, ErrNotLeader
	}
	return m.leaderCli.Queues(ctx)
}

// RegisterQueue lets a follower's locally-created entry be adopted by the
// leader; it is the leader-side counterpart of LeaderClient.RegisterQueue.
func (m *Manager) RegisterQueue(ctx context.Context, entry domain.QueueEntry) error {
	m.mu.Lock()
	m.entries[entry.Name] = entry
	m.mu.Unlock()
	return nil
}

// GetBestBindableQueues implements spec.md §4.5's get_best_bindable_queues:
// ask every locally-hosted queue worker for its best call and rank the
// results. Only local queue workers can be asked directly; a full
// multi-node implementation would fan this out to each node hosting a
// worker and merge, which is out of scope for a single collection pass.
func (m *Manager) GetBestBindableQueues(ctx context.Context) []domain.BindableQueue {
	m.mu.RLock()
	items := make([]askable, 0, len(m.workers))
	for name, w := range m.workers {
		call, ok := w.Ask()
		if !ok {
			continue
		}
		entry := m.entries[name]
		items = append(items, askable{
			entry:     entry,
			call:      call,
			callCount: w.CallCount(),
			weight:    w.Weight(),
		})
	}
	m.mu.RUnlock()

	return rank(items)
}

// supervise restarts a queue worker from persisted config when it dies,
// or drops the registry entry if the configuration has been removed,
// per spec.md §4.5's "Queue worker death" cluster event.
func (m *Manager) supervise(name string, w *queueworker.Worker, recipe string, weight int) {
	<-w.Dead()

	select {
	case <-m.stop:
		return
	default:
	}

	if m.store == nil {
		return
	}

	cfg, ok, err := m.store.QueueConfig(context.Background(), name)
	if err != nil {
		m.logger.Warn("queue: failed to read queue config after worker death", "queue", name, "error", err)
		return
	}
	if !ok {
		m.logger.Info("queue: config gone, dropping dead queue worker", "queue", name)
		m.mu.Lock()
		delete(m.workers, name)
		delete(m.entries, name)
		m.mu.Unlock()
		return
	}

	m.logger.Info("queue: restarting dead queue worker", "queue", name)
	newWorker := queueworker.New(name, cfg.Recipe, cfg.Weight)

	m.mu.Lock()
	m.workers[name] = newWorker
	m.mu.Unlock()

	go m.supervise(name, newWorker, cfg.Recipe, cfg.Weight)
}

// watchCluster reacts to leadership transitions and membership changes,
// per spec.md §4.5's cluster-events list.
func (m *Manager) watchCluster() {
	for {
		select {
		case <-m.stop:
			return

		case becameLeader, ok := <-m.elector.Leadership():
			if !ok {
				return
			}
			if becameLeader {
				m.onLeaderElected()
			} else {
				m.onSurrendered()
			}

		case ev, ok := <-m.membership.Events():
			if !ok {
				return
			}
			if ev.Kind == MemberFailed || ev.Kind == MemberLeave {
				m.onNodeDown(ev.NodeID)
			}
		}
	}
}

func (m *Manager) onLeaderElected() {
	m.logger.Info("queue: this node elected leader", "node_id", m.nodeID)
	// Local entries are already authoritative in m.entries for queues this
	// node created; nothing further to republish to itself.
}

// onSurrendered drops entries whose handle lives on a non-local node and
// re-publishes local entries to the new leader, per spec.md §4.5.
func (m *Manager) onSurrendered() {
	m.logger.Info("queue: surrendered leadership", "node_id", m.nodeID)

	m.mu.Lock()
	for name, entry := range m.entries {
		if entry.NodeID != m.nodeID {
			delete(m.entries, name)
		}
	}
	local := make([]domain.QueueEntry, 0, len(m.entries))
	for _, entry := range m.entries {
		local = append(local, entry)
	}
	m.mu.Unlock()

	if m.leaderCli == nil {
		return
	}
	for _, entry := range local {
		if err := m.leaderCli.RegisterQueue(context.Background(), entry); err != nil {
			m.logger.Warn("queue: failed to republish entry to new leader", "queue", entry.Name, "error", err)
		}
	}
}

// onNodeDown removes registry entries hosted on the downed node. It does
// not touch the config store.
func (m *Manager) onNodeDown(nodeID string) {
	m.logger.Info("queue: node down", "node_id", nodeID)

	m.mu.Lock()
	for name, entry := range m.entries {
		if entry.NodeID == nodeID {
			delete(m.entries, name)
		}
	}
	m.mu.Unlock()
}

// OnInconsistentDatabase asserts local master for the queue-config tables,
// per spec.md §4.5's "inconsistent-database event" handler. The concrete
// assertion is store-specific; SQLite-backed stores have nothing further
// to do since there is only one writer per process.
func (m *Manager) OnInconsistentDatabase() {
	m.logger.Warn("queue: inconsistent database reported, asserting local master", "node_id", m.nodeID)
}
