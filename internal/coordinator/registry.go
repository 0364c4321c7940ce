package coordinator

import (
	"sync"
	"time"
)

// Registry is the authoritative, concurrency-safe table of known nodes.
// All mutations serialize on a single lock; readers receive value copies so a
// Node record can never be observed mid-update.
type Registry struct {
	mu    sync.RWMutex
	store NodeStore
}

// NewRegistry constructs a registry backed by a default in-memory store.
func NewRegistry() *Registry {
	return NewRegistryWithStore(NewInMemoryNodeStore())
}

// NewRegistryWithStore constructs a registry that uses the given NodeStore.
// Useful for testing or for plugging in a different persistence backend.
func NewRegistryWithStore(store NodeStore) *Registry {
	return &Registry{store: store}
}

// Register upserts a node. New nodes start healthy and keep their
// registration position on re-registration; counters and health state of an
// existing node survive, only the base URL is refreshed.
func (r *Registry) Register(id NodeID, baseURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.store.GetNode(id); ok {
		existing.BaseURL = baseURL
		return
	}

	r.store.SetNode(&Node{
		ID:       id,
		BaseURL:  baseURL,
		Healthy:  true,
		regIndex: r.store.Len(),
	})
}

// Get returns a copy of the node with the given ID.
func (r *Registry) Get(id NodeID) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.store.GetNode(id)
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// ListHealthy returns copies of all healthy nodes in registration order.
func (r *Registry) ListHealthy() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Node
	for _, n := range r.store.ListNodes() {
		if n.Healthy {
			out = append(out, *n)
		}
	}
	return out
}

// Snapshot returns copies of all nodes in registration order.
func (r *Registry) Snapshot() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := r.store.ListNodes()
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, *n)
	}
	return out
}

// HealthyCount returns the number of currently healthy nodes.
func (r *Registry) HealthyCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, node := range r.store.ListNodes() {
		if node.Healthy {
			n++
		}
	}
	return n
}

// RecordProbeResult applies one health probe outcome. Success resets the
// failure counter and may merge self-reported stats; failure increments it.
// The healthy flag is derived from the counter here and nowhere else, so
// healthy == (ConsecutiveFailures < maxConsecutiveFailures) always holds.
func (r *Registry) RecordProbeResult(id NodeID, success bool, stats *NodeStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.store.GetNode(id)
	if !ok {
		return ErrUnknownNode
	}

	n.LastCheckedAt = time.Now().UTC()

	if success {
		n.ConsecutiveFailures = 0
		if stats != nil {
			applyStats(n, *stats)
		}
	} else {
		n.ConsecutiveFailures++
	}
	n.Healthy = n.ConsecutiveFailures < maxConsecutiveFailures

	return nil
}

// RecordReport merges a node's authenticated self-report into the registry.
func (r *Registry) RecordReport(id NodeID, stats NodeStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.store.GetNode(id)
	if !ok {
		return ErrUnknownNode
	}

	applyStats(n, stats)
	n.LastReportedAt = time.Now().UTC()
	return nil
}

func applyStats(n *Node, stats NodeStats) {
	n.BytesOut = stats.BytesOut
	n.RequestCount = stats.Requests
	n.StreamsServed = stats.StreamsServed
}
