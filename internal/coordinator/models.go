package coordinator

import (
	"errors"
	"time"
)

// NodeID uniquely identifies a registered edge node.
type NodeID string

// StreamID identifies a logical playback session.
type StreamID string

// maxConsecutiveFailures is the probe failure count at which a node is
// considered unhealthy. The next successful probe restores it.
const maxConsecutiveFailures = 3

// Node is the registry's record of one edge node. Callers always receive
// value copies; the registry owns the canonical record.
type Node struct {
	ID      NodeID
	BaseURL string

	Healthy             bool
	ConsecutiveFailures int
	LastCheckedAt       time.Time

	BytesOut       uint64
	RequestCount   uint64
	StreamsServed  uint64
	LastReportedAt time.Time

	// regIndex orders nodes by registration for deterministic tie-breaks.
	regIndex int
}

// NodeStats is the fixed schema nodes self-report. Missing fields decode to
// zero rather than being read permissively.
type NodeStats struct {
	BytesOut      uint64 `json:"bytes_out"`
	Requests      uint64 `json:"requests"`
	StreamsServed uint64 `json:"streams_served"`
}

// RegisterRequest is the input JSON for POST /nodes/register.
type RegisterRequest struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// RegisterResponse acknowledges a node registration.
type RegisterResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ReportRequest is the authenticated body of POST /nodes/report.
type ReportRequest struct {
	NodeID string    `json:"node_id"`
	Stats  NodeStats `json:"stats"`
}

// NodeStatus is one node's entry in the fleet status snapshot.
type NodeStatus struct {
	ID                  NodeID    `json:"id"`
	URL                 string    `json:"url"`
	Healthy             bool      `json:"healthy"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastCheckedAt       time.Time `json:"last_checked_at"`
	BytesOut            uint64    `json:"bytes_out"`
	Requests            uint64    `json:"requests"`
	StreamsServed       uint64    `json:"streams_served"`
	LastReportedAt      time.Time `json:"last_reported_at"`
}

// FleetStatus is the aggregated view served by GET /nodes/status.
type FleetStatus struct {
	Nodes   []NodeStatus `json:"nodes"`
	Healthy int          `json:"healthy"`
}

// RouteResponse is the routing decision served by GET /route/{stream_id}.
type RouteResponse struct {
	NodeID     NodeID     `json:"node_id"`
	NodeURL    string     `json:"node_url"`
	Token      string     `json:"token"`
	StreamType StreamType `json:"stream_type,omitempty"`
}

var (
	// ErrNoHealthyNodes is returned when routing finds the fleet exhausted.
	ErrNoHealthyNodes = errors.New("no healthy nodes available")

	// ErrUnknownNode is returned for operations on an unregistered node ID.
	ErrUnknownNode = errors.New("unknown node")

	// ErrTokenInvalid covers malformed tokens and digest mismatches.
	ErrTokenInvalid = errors.New("invalid token")

	// ErrTokenExpired is returned for structurally valid tokens outside the
	// accepted time window.
	ErrTokenExpired = errors.New("token outside validity window")
)
