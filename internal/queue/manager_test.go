package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yoonka/acdctl/internal/configstore"
	"github.com/yoonka/acdctl/internal/domain"
)

type fakeStore struct {
	mu      sync.Mutex
	configs map[string]configstore.QueueConfig
}

func newFakeStore() *fakeStore {
	return &fakeStore{configs: make(map[string]configstore.QueueConfig)}
}

func (s *fakeStore) Queues(ctx context.Context) ([]string, error) { return nil, nil }

func (s *fakeStore) QueueConfig(ctx context.Context, name string) (configstore.QueueConfig, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[name]
	return cfg, ok, nil
}

func (s *fakeStore) UpsertQueueConfig(ctx context.Context, cfg configstore.QueueConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.Name] = cfg
	return nil
}

func (s *fakeStore) Clients(ctx context.Context) ([]domain.Client, error) { return nil, nil }
func (s *fakeStore) Client(ctx context.Context, id string) (domain.Client, bool, error) {
	return domain.Client{}, false, nil
}
func (s *fakeStore) ReleaseOptions(ctx context.Context) ([]domain.ReleaseOption, error) {
	return nil, nil
}
func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) removeConfig(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.configs, name)
}

func newTestManager(t *testing.T) (*Manager, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	m := New("node-1", NewLocalElector(), NewStaticMembership(), store, nil, nil)
	t.Cleanup(m.Close)
	return m, store
}

// fakeMembership is a Membership whose Events() channel the test can push
// onto directly, standing in for a real serf cluster losing a node.
type fakeMembership struct {
	events chan MemberEvent
}

func newFakeMembership() *fakeMembership {
	return &fakeMembership{events: make(chan MemberEvent, 4)}
}

func (f *fakeMembership) Events() <-chan MemberEvent { return f.events }
func (f *fakeMembership) Leave() error                { return nil }

// SendEvent injects a membership change as if it had been gossiped in by
// serf, for tests exercising Manager.watchCluster's node-down handling.
func (f *fakeMembership) SendEvent(ev MemberEvent) {
	f.events <- ev
}

func TestAddQueueCreatesThenReturnsExisting(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	entry1, existed1, err := m.AddQueue(ctx, "sales", "default", 3)
	if err != nil {
		t.Fatalf("AddQueue: %v", err)
	}
	if existed1 {
		t.Fatal("expected first AddQueue to report not-existed")
	}

	entry2, existed2, err := m.AddQueue(ctx, "sales", "default", 3)
	if err != nil {
		t.Fatalf("AddQueue second call: %v", err)
	}
	if !existed2 {
		t.Fatal("expected second AddQueue to report existed")
	}
	if entry1.Handle != entry2.Handle {
		t.Fatalf("expected same handle, got %s vs %s", entry1.Handle, entry2.Handle)
	}
}

func TestGetQueueAndQueryQueue(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if m.QueryQueue(ctx, "support") {
		t.Fatal("expected query_queue false before add_queue")
	}

	if _, _, err := m.AddQueue(ctx, "support", "default", 1); err != nil {
		t.Fatalf("AddQueue: %v", err)
	}

	if !m.QueryQueue(ctx, "support") {
		t.Fatal("expected query_queue true after add_queue")
	}

	entry, ok, err := m.GetQueue(ctx, "support")
	if err != nil || !ok {
		t.Fatalf("GetQueue: entry=%+v ok=%v err=%v", entry, ok, err)
	}
}

func TestQueuesListsAllRegisteredEntries(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		if _, _, err := m.AddQueue(ctx, name, "default", 1); err != nil {
			t.Fatalf("AddQueue(%s): %v", name, err)
		}
	}

	entries, err := m.Queues(ctx)
	if err != nil {
		t.Fatalf("Queues: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 queues, got %d", len(entries))
	}
}

func TestGetBestBindableQueuesRanksLocalWorkers(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	entryHigh, _, err := m.AddQueue(ctx, "urgent", "default", 1)
	if err != nil {
		t.Fatalf("AddQueue: %v", err)
	}
	entryLow, _, err := m.AddQueue(ctx, "casual", "default", 1)
	if err != nil {
		t.Fatalf("AddQueue: %v", err)
	}

	m.mu.RLock()
	urgentWorker := m.workers["urgent"]
	casualWorker := m.workers["casual"]
	m.mu.RUnlock()

	urgentWorker.Enqueue(1, "call-urgent", "h-urgent")
	casualWorker.Enqueue(9, "call-casual", "h-casual")

	out := m.GetBestBindableQueues(ctx)
	if len(out) != 2 {
		t.Fatalf("expected 2 bindable queues, got %d", len(out))
	}
	if out[0].Name != entryHigh.Name {
		t.Fatalf("expected %s ranked first, got %s", entryHigh.Name, out[0].Name)
	}
	if out[1].Name != entryLow.Name {
		t.Fatalf("expected %s ranked second, got %s", entryLow.Name, out[1].Name)
	}
}

func TestGetBestBindableQueuesExcludesEmptyQueues(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, _, err := m.AddQueue(ctx, "empty", "default", 1); err != nil {
		t.Fatalf("AddQueue: %v", err)
	}

	out := m.GetBestBindableQueues(ctx)
	if len(out) != 0 {
		t.Fatalf("expected no bindable queues for an empty queue, got %d", len(out))
	}
}

func TestQueueWorkerDeathRestartsFromConfig(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	if _, _, err := m.AddQueue(ctx, "restartable", "default", 2); err != nil {
		t.Fatalf("AddQueue: %v", err)
	}

	m.mu.RLock()
	worker := m.workers["restartable"]
	m.mu.RUnlock()

	worker.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.RLock()
		current := m.workers["restartable"]
		m.mu.RUnlock()
		if current != worker {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	m.mu.RLock()
	restarted := m.workers["restartable"]
	m.mu.RUnlock()

	if restarted == worker {
		t.Fatal("expected queue worker to be replaced after death")
	}
	if restarted.Weight() != 2 {
		t.Fatalf("expected restarted worker to keep configured weight, got %d", restarted.Weight())
	}

	_ = store
}

func TestQueueWorkerDeathWithoutConfigDropsEntry(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	if _, _, err := m.AddQueue(ctx, "orphan", "default", 1); err != nil {
		t.Fatalf("AddQueue: %v", err)
	}
	store.removeConfig("orphan")

	m.mu.RLock()
	worker := m.workers["orphan"]
	m.mu.RUnlock()

	worker.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.RLock()
		_, stillThere := m.entries["orphan"]
		m.mu.RUnlock()
		if !stillThere {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	m.mu.RLock()
	_, stillThere := m.entries["orphan"]
	m.mu.RUnlock()
	if stillThere {
		t.Fatal("expected dropped entry once its config was removed")
	}
}

// TestNodeDownDropsRemoteEntriesAndConverges models spec scenario 6:
// node-1 is leader, hosts "alpha" locally and has adopted "beta" (owned by
// node-2, reached via RegisterQueue as node-2 would on creation). When
// node-2 fails, the registry must converge to only node-1's own entries.
func TestNodeDownDropsRemoteEntriesAndConverges(t *testing.T) {
	store := newFakeStore()
	membership := newFakeMembership()
	m := New("node-1", NewLocalElector(), membership, store, nil, nil)
	t.Cleanup(m.Close)
	ctx := context.Background()

	if _, _, err := m.AddQueue(ctx, "alpha", "default", 1); err != nil {
		t.Fatalf("AddQueue: %v", err)
	}
	if err := m.RegisterQueue(ctx, domain.QueueEntry{Name: "beta", Handle: "beta@node-2", NodeID: "node-2"}); err != nil {
		t.Fatalf("RegisterQueue: %v", err)
	}

	entries, err := m.Queues(ctx)
	if err != nil {
		t.Fatalf("Queues: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 queues before failover, got %d", len(entries))
	}

	membership.SendEvent(MemberEvent{Kind: MemberFailed, NodeID: "node-2"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.RLock()
		_, betaStillThere := m.entries["beta"]
		m.mu.RUnlock()
		if !betaStillThere {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	converged, err := m.Queues(ctx)
	if err != nil {
		t.Fatalf("Queues after failover: %v", err)
	}
	if len(converged) != 1 || converged[0].Name != "alpha" {
		t.Fatalf("expected only node-1's own entry to survive node-2's failure, got %+v", converged)
	}
}
