package coordinator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"stream-coordinator/internal/platform/metrics"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultProbeInterval is the period of the health probe loop.
	DefaultProbeInterval = 30 * time.Second

	// DefaultProbeTimeout bounds each individual node probe.
	DefaultProbeTimeout = 10 * time.Second

	// maxProbeBody caps how much of a probe response body is read.
	maxProbeBody = 64 << 10
)

// Monitor periodically probes every registered node and feeds the outcomes
// into the registry. Probes for different nodes run concurrently so one slow
// node never delays the others.
type Monitor struct {
	registry *Registry
	client   *http.Client
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewMonitor returns a Monitor over the given registry. Metrics may be nil
// to disable metric recording (e.g. in tests). Non-positive interval or
// timeout fall back to the defaults.
func NewMonitor(registry *Registry, interval, timeout time.Duration, log *slog.Logger, m *metrics.Metrics) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Monitor{
		registry: registry,
		client:   &http.Client{Timeout: timeout},
		interval: interval,
		timeout:  timeout,
		log:      log,
		metrics:  m,
	}
}

// Run probes the fleet once immediately, then on every tick until ctx is
// canceled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probeAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

// probeAll probes every registered node concurrently and waits for all
// probes to settle.
func (m *Monitor) probeAll(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, node := range m.registry.Snapshot() {
		node := node
		g.Go(func() error {
			m.probe(gctx, node)
			return nil
		})
	}
	_ = g.Wait()
}

// probe issues one bounded health check against a node and records the
// outcome. A non-2xx status, timeout, or transport error all count as a
// failure.
func (m *Monitor) probe(ctx context.Context, node Node) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, node.BaseURL+"/healthz", nil)
	if err != nil {
		m.recordFailure(node, err)
		return
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.recordFailure(node, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.recordFailure(node, &probeStatusError{status: resp.StatusCode})
		return
	}

	// The stats body is optional; merge it opportunistically when present
	// and well formed.
	var stats *NodeStats
	var body NodeStats
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProbeBody)).Decode(&body); err == nil {
		stats = &body
	}

	if err := m.registry.RecordProbeResult(node.ID, true, stats); err != nil {
		m.log.Warn("probe result dropped", slog.String("node_id", string(node.ID)), slog.String("error", err.Error()))
		return
	}

	if !node.Healthy {
		m.log.Info("node back online", slog.String("node_id", string(node.ID)))
	}
}

func (m *Monitor) recordFailure(node Node, cause error) {
	if m.metrics != nil {
		m.metrics.IncProbeFailures()
	}

	if err := m.registry.RecordProbeResult(node.ID, false, nil); err != nil {
		return
	}

	// Log the unhealthy transition once, at the failure threshold.
	if node.ConsecutiveFailures == maxConsecutiveFailures-1 {
		m.log.Warn("node marked unhealthy",
			slog.String("node_id", string(node.ID)),
			slog.Int("consecutive_failures", node.ConsecutiveFailures+1),
			slog.String("error", cause.Error()))
	} else {
		m.log.Debug("node probe failed",
			slog.String("node_id", string(node.ID)),
			slog.String("error", cause.Error()))
	}
}

type probeStatusError struct {
	status int
}

func (e *probeStatusError) Error() string {
	return "health probe returned status " + http.StatusText(e.status)
}
