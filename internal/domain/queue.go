package domain

import "time"

// QueueEntry is one row of the replicated queue registry: a queue name and
// the node-local handle of the worker owning it.
type QueueEntry struct {
	Name    string
	Handle  string // opaque worker reference (node-qualified)
	NodeID  string
}

// QueuedCall is one call waiting in a queue worker, ranked by priority then
// enqueue time, per spec.md §3.
type QueuedCall struct {
	Priority    int
	EnqueueTime time.Time
	CallID      string
	CallHandle  string
}

// BindableQueue is one row of get_best_bindable_queues' output: the queue,
// its best bindable call, and the weight the ranking algorithm computed.
type BindableQueue struct {
	Name           string
	Handle         string
	Call           QueuedCall
	EffectiveWeight int
}

// ClusterNode is a member of the queue-manager cluster's membership view.
type ClusterNode struct {
	ID    string
	Addr  string
	Alive bool
}
