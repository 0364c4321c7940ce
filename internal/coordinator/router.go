package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSessionTTL is how long an idle sticky mapping survives before the
// periodic sweep drops it.
const DefaultSessionTTL = 6 * time.Hour

// sessionSweepInterval is the period of the sticky-session expiry sweep.
const sessionSweepInterval = 10 * time.Minute

type stickySession struct {
	nodeID   NodeID
	lastUsed time.Time
}

// Router maps stream IDs to nodes. A stream sticks to the node chosen on its
// first route until that node becomes unhealthy or the mapping idles out;
// new streams go to the healthy node with the least cumulative bytes served.
type Router struct {
	registry *Registry
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[StreamID]*stickySession
	ttl      time.Duration
	now      func() time.Time
}

// NewRouter returns a Router over the given registry. If ttl <= 0,
// DefaultSessionTTL is used.
func NewRouter(registry *Registry, ttl time.Duration, log *slog.Logger) *Router {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Router{
		registry: registry,
		log:      log,
		sessions: make(map[StreamID]*stickySession),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Route returns the node serving streamID. An existing mapping to a healthy
// node is reused; a mapping to an unhealthy node is discarded and the stream
// re-routed. New mappings pick the healthy node with the smallest BytesOut,
// ties broken by registration order. Returns ErrNoHealthyNodes when the
// fleet is exhausted.
func (r *Router) Route(streamID StreamID) (Node, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[streamID]; ok {
		if node, found := r.registry.Get(s.nodeID); found && node.Healthy {
			s.lastUsed = r.now()
			return node, nil
		}
		delete(r.sessions, streamID)
	}

	healthy := r.registry.ListHealthy()
	if len(healthy) == 0 {
		return Node{}, ErrNoHealthyNodes
	}

	// ListHealthy is in registration order, so strict < keeps the first
	// registered node on ties.
	best := healthy[0]
	for _, n := range healthy[1:] {
		if n.BytesOut < best.BytesOut {
			best = n
		}
	}

	r.sessions[streamID] = &stickySession{nodeID: best.ID, lastUsed: r.now()}
	r.log.Debug("stream routed",
		slog.String("stream_id", string(streamID)),
		slog.String("node_id", string(best.ID)),
		slog.Uint64("bytes_out", best.BytesOut))

	return best, nil
}

// SessionCount returns the number of live sticky mappings. Used for metrics.
func (r *Router) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Run sweeps expired sticky mappings until ctx is canceled.
func (r *Router) Run(ctx context.Context) error {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.sweep(); n > 0 {
				r.log.Info("sticky sessions expired", slog.Int("count", n))
			}
		}
	}
}

// sweep removes mappings idle longer than the TTL and returns how many were
// dropped. Entries are expired individually, never wholesale.
func (r *Router) sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.ttl)
	dropped := 0
	for id, s := range r.sessions {
		if s.lastUsed.Before(cutoff) {
			delete(r.sessions, id)
			dropped++
		}
	}
	return dropped
}
