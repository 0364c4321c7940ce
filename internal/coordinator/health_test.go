package coordinator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestMonitor_probe_success_merges_stats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Errorf("probe hit %s, want /healthz", r.URL.Path)
		}
		w.Write([]byte(`{"bytes_out":1234,"requests":56,"streams_served":7}`))
	}))
	defer srv.Close()

	reg := NewRegistry()
	reg.Register("n1", srv.URL)
	mon := NewMonitor(reg, time.Minute, time.Second, newTestLogger(), nil)

	mon.probeAll(context.Background())

	n, _ := reg.Get("n1")
	if !n.Healthy || n.ConsecutiveFailures != 0 {
		t.Errorf("probed node should be healthy, got %+v", n)
	}
	if n.BytesOut != 1234 || n.RequestCount != 56 || n.StreamsServed != 7 {
		t.Errorf("stats body should be merged, got %+v", n)
	}
	if n.LastCheckedAt.IsZero() {
		t.Error("LastCheckedAt should be set")
	}
}

func TestMonitor_probe_success_without_stats_body(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	reg := NewRegistry()
	reg.Register("n1", srv.URL)
	_ = reg.RecordReport("n1", NodeStats{BytesOut: 500})

	mon := NewMonitor(reg, time.Minute, time.Second, newTestLogger(), nil)
	mon.probeAll(context.Background())

	n, _ := reg.Get("n1")
	if !n.Healthy {
		t.Error("non-JSON body is still a passing probe")
	}
	if n.BytesOut != 500 {
		t.Errorf("counters must survive a statless probe, got %d", n.BytesOut)
	}
}

func TestMonitor_probe_failures_flip_node_unhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	reg := NewRegistry()
	reg.Register("n1", srv.URL)
	mon := NewMonitor(reg, time.Minute, time.Second, newTestLogger(), nil)

	for i := 0; i < maxConsecutiveFailures-1; i++ {
		mon.probeAll(context.Background())
	}
	if n, _ := reg.Get("n1"); !n.Healthy {
		t.Fatal("node should stay healthy below the failure threshold")
	}

	mon.probeAll(context.Background())
	if n, _ := reg.Get("n1"); n.Healthy {
		t.Error("node should be unhealthy at the failure threshold")
	}
}

func TestMonitor_unreachable_node_counts_as_failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	reg := NewRegistry()
	reg.Register("n1", url)
	mon := NewMonitor(reg, time.Minute, time.Second, newTestLogger(), nil)

	mon.probeAll(context.Background())

	n, _ := reg.Get("n1")
	if n.ConsecutiveFailures != 1 {
		t.Errorf("transport error should count as one failure, got %d", n.ConsecutiveFailures)
	}
}

func TestMonitor_recovery_resets_counter(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	reg := NewRegistry()
	reg.Register("n1", srv.URL)
	mon := NewMonitor(reg, time.Minute, time.Second, newTestLogger(), nil)

	for i := 0; i < maxConsecutiveFailures; i++ {
		mon.probeAll(context.Background())
	}
	if n, _ := reg.Get("n1"); n.Healthy {
		t.Fatal("setup: node should be unhealthy")
	}

	healthy.Store(true)
	mon.probeAll(context.Background())

	n, _ := reg.Get("n1")
	if !n.Healthy || n.ConsecutiveFailures != 0 {
		t.Errorf("one passing probe should restore the node, got %+v", n)
	}
}

func TestMonitor_probes_nodes_concurrently(t *testing.T) {
	// Two slow nodes; a serial monitor would need 2x the delay.
	const delay = 200 * time.Millisecond
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
	})
	srv1 := httptest.NewServer(handler)
	defer srv1.Close()
	srv2 := httptest.NewServer(handler)
	defer srv2.Close()

	reg := NewRegistry()
	reg.Register("n1", srv1.URL)
	reg.Register("n2", srv2.URL)
	mon := NewMonitor(reg, time.Minute, time.Second, newTestLogger(), nil)

	start := time.Now()
	mon.probeAll(context.Background())
	if elapsed := time.Since(start); elapsed > 2*delay-50*time.Millisecond {
		t.Errorf("probes appear serialized, took %v", elapsed)
	}
}

func TestMonitor_Run_stops_on_cancel(t *testing.T) {
	reg := NewRegistry()
	mon := NewMonitor(reg, 10*time.Millisecond, time.Second, newTestLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = mon.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
