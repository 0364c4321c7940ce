package coordinator

// NodeStore is the persistence abstraction for node records.
// Implementations can be in-memory, file-based, or remote. The Registry uses
// NodeStore for all reads and writes and layers its own locking on top, so
// implementations do not need to be concurrency-safe themselves.
type NodeStore interface {
	GetNode(id NodeID) (*Node, bool)
	SetNode(n *Node)
	// ListNodes returns all nodes in registration order.
	ListNodes() []*Node
	Len() int
}

// InMemoryNodeStore is an in-memory implementation of NodeStore that
// preserves registration order.
type InMemoryNodeStore struct {
	nodes map[NodeID]*Node
	order []NodeID
}

// NewInMemoryNodeStore returns a new empty in-memory node store.
func NewInMemoryNodeStore() *InMemoryNodeStore {
	return &InMemoryNodeStore{
		nodes: make(map[NodeID]*Node),
	}
}

// GetNode implements NodeStore.GetNode.
func (s *InMemoryNodeStore) GetNode(id NodeID) (*Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// SetNode implements NodeStore.SetNode. A node ID seen for the first time is
// appended to the registration order; replacing an existing node keeps its
// original position.
func (s *InMemoryNodeStore) SetNode(n *Node) {
	if _, ok := s.nodes[n.ID]; !ok {
		s.order = append(s.order, n.ID)
	}
	s.nodes[n.ID] = n
}

// ListNodes implements NodeStore.ListNodes.
func (s *InMemoryNodeStore) ListNodes() []*Node {
	out := make([]*Node, 0, len(s.order))
	for _, id := range s.order {
		if n, ok := s.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Len implements NodeStore.Len.
func (s *InMemoryNodeStore) Len() int {
	return len(s.nodes)
}
