package coordinator

import (
	"errors"
	"testing"
)

func TestRegistry_Register_upsert(t *testing.T) {
	reg := NewRegistry()
	reg.Register("n1", "http://a:9000")
	reg.Register("n1", "http://b:9000")

	n, ok := reg.Get("n1")
	if !ok {
		t.Fatal("Get: node not found after register")
	}
	if n.BaseURL != "http://b:9000" {
		t.Errorf("re-register should refresh base URL, got %s", n.BaseURL)
	}
	if len(reg.Snapshot()) != 1 {
		t.Errorf("expected 1 node after upsert, got %d", len(reg.Snapshot()))
	}
}

func TestRegistry_Register_preserves_state(t *testing.T) {
	reg := NewRegistry()
	reg.Register("n1", "http://a:9000")
	if err := reg.RecordReport("n1", NodeStats{BytesOut: 100, Requests: 5, StreamsServed: 2}); err != nil {
		t.Fatal(err)
	}
	_ = reg.RecordProbeResult("n1", false, nil)

	reg.Register("n1", "http://a:9001")

	n, _ := reg.Get("n1")
	if n.BytesOut != 100 || n.RequestCount != 5 {
		t.Errorf("counters should survive re-registration, got %+v", n)
	}
	if n.ConsecutiveFailures != 1 {
		t.Errorf("failure count should survive re-registration, got %d", n.ConsecutiveFailures)
	}
}

func TestRegistry_health_transitions(t *testing.T) {
	reg := NewRegistry()
	reg.Register("n1", "http://a:9000")

	// Two failures: still healthy.
	_ = reg.RecordProbeResult("n1", false, nil)
	_ = reg.RecordProbeResult("n1", false, nil)
	if n, _ := reg.Get("n1"); !n.Healthy {
		t.Error("node should stay healthy below 3 consecutive failures")
	}

	// Third failure flips the node unhealthy.
	_ = reg.RecordProbeResult("n1", false, nil)
	n, _ := reg.Get("n1")
	if n.Healthy {
		t.Error("node should be unhealthy at 3 consecutive failures")
	}
	if n.ConsecutiveFailures != 3 {
		t.Errorf("expected 3 failures, got %d", n.ConsecutiveFailures)
	}
	if n.LastCheckedAt.IsZero() {
		t.Error("LastCheckedAt should be set")
	}

	// One success restores health and resets the counter.
	_ = reg.RecordProbeResult("n1", true, nil)
	n, _ = reg.Get("n1")
	if !n.Healthy || n.ConsecutiveFailures != 0 {
		t.Errorf("success should restore health and reset counter, got %+v", n)
	}
}

func TestRegistry_RecordProbeResult_unknown_node(t *testing.T) {
	reg := NewRegistry()
	if err := reg.RecordProbeResult("missing", true, nil); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("expected ErrUnknownNode, got %v", err)
	}
}

func TestRegistry_RecordProbeResult_merges_stats(t *testing.T) {
	reg := NewRegistry()
	reg.Register("n1", "http://a:9000")

	_ = reg.RecordProbeResult("n1", true, &NodeStats{BytesOut: 42, Requests: 7, StreamsServed: 3})

	n, _ := reg.Get("n1")
	if n.BytesOut != 42 || n.RequestCount != 7 || n.StreamsServed != 3 {
		t.Errorf("probe stats not merged: %+v", n)
	}
}

func TestRegistry_RecordReport(t *testing.T) {
	reg := NewRegistry()
	reg.Register("n1", "http://a:9000")

	t.Run("unknown_node", func(t *testing.T) {
		if err := reg.RecordReport("missing", NodeStats{}); !errors.Is(err, ErrUnknownNode) {
			t.Errorf("expected ErrUnknownNode, got %v", err)
		}
	})

	t.Run("merges_and_timestamps", func(t *testing.T) {
		if err := reg.RecordReport("n1", NodeStats{BytesOut: 9000}); err != nil {
			t.Fatal(err)
		}
		n, _ := reg.Get("n1")
		if n.BytesOut != 9000 {
			t.Errorf("expected bytes_out 9000, got %d", n.BytesOut)
		}
		if n.LastReportedAt.IsZero() {
			t.Error("LastReportedAt should be set")
		}
	})
}

func TestRegistry_ListHealthy_order_and_filter(t *testing.T) {
	reg := NewRegistry()
	reg.Register("a", "http://a:9000")
	reg.Register("b", "http://b:9000")
	reg.Register("c", "http://c:9000")

	for i := 0; i < maxConsecutiveFailures; i++ {
		_ = reg.RecordProbeResult("b", false, nil)
	}

	healthy := reg.ListHealthy()
	if len(healthy) != 2 {
		t.Fatalf("expected 2 healthy nodes, got %d", len(healthy))
	}
	if healthy[0].ID != "a" || healthy[1].ID != "c" {
		t.Errorf("expected registration order [a c], got [%s %s]", healthy[0].ID, healthy[1].ID)
	}
}

func TestRegistry_snapshots_are_copies(t *testing.T) {
	reg := NewRegistry()
	reg.Register("a", "http://a:9000")

	snap := reg.Snapshot()
	snap[0].BytesOut = 999999

	n, _ := reg.Get("a")
	if n.BytesOut != 0 {
		t.Error("mutating a snapshot must not affect registry state")
	}
}

func TestNewRegistryWithStore(t *testing.T) {
	store := NewInMemoryNodeStore()
	reg := NewRegistryWithStore(store)
	reg.Register("n1", "http://a:9000")

	if _, ok := store.GetNode("n1"); !ok {
		t.Error("injected store should contain node after Register")
	}
}
