package coordinator

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"stream-coordinator/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// maxManifestBytes caps how much playlist text is buffered for rewriting.
const maxManifestBytes = 4 << 20

// Handler exposes coordinator HTTP endpoints using go-chi.
type Handler struct {
	registry *Registry
	router   *Router
	tokens   *TokenService
	prober   *Prober
	fetcher  *Fetcher
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewHandler returns a Handler over the given collaborators. Metrics may be
// nil to disable metric recording (e.g. in tests).
func NewHandler(registry *Registry, router *Router, tokens *TokenService, prober *Prober, fetcher *Fetcher, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		registry: registry,
		router:   router,
		tokens:   tokens,
		prober:   prober,
		fetcher:  fetcher,
		log:      log,
		metrics:  m,
	}
}

// RegisterNode handles POST /nodes/register.
// Body: { "id": "edge-1", "url": "http://edge-1:9000" }. A blank id gets a
// server-assigned UUID.
func (h *Handler) RegisterNode(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid register body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !validNodeURL(req.URL) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	h.registry.Register(NodeID(id), strings.TrimRight(req.URL, "/"))

	h.log.Info("node registered",
		slog.String("node_id", id),
		slog.String("url", req.URL))
	writeJSON(w, http.StatusOK, RegisterResponse{ID: id, Status: "registered"})
}

// ReportStats handles POST /nodes/report. The bearer token is verified
// before the registry is touched; a bad token never affects node health
// accounting.
func (h *Handler) ReportStats(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if err := h.tokens.Verify(token); err != nil {
		h.log.Debug("report rejected", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var req ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NodeID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.registry.RecordReport(NodeID(req.NodeID), req.Stats); err != nil {
		if errors.Is(err, ErrUnknownNode) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.log.Error("record report failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if h.metrics != nil {
		h.metrics.IncReports()
	}
	w.WriteHeader(http.StatusNoContent)
}

// FleetStatus handles GET /nodes/status.
func (h *Handler) FleetStatus(w http.ResponseWriter, r *http.Request) {
	nodes := h.registry.Snapshot()

	status := FleetStatus{Nodes: make([]NodeStatus, 0, len(nodes))}
	for _, n := range nodes {
		if n.Healthy {
			status.Healthy++
		}
		status.Nodes = append(status.Nodes, NodeStatus{
			ID:                  n.ID,
			URL:                 n.BaseURL,
			Healthy:             n.Healthy,
			ConsecutiveFailures: n.ConsecutiveFailures,
			LastCheckedAt:       n.LastCheckedAt,
			BytesOut:            n.BytesOut,
			Requests:            n.RequestCount,
			StreamsServed:       n.StreamsServed,
			LastReportedAt:      n.LastReportedAt,
		})
	}

	writeJSON(w, http.StatusOK, status)
}

// RouteStream handles GET /route/{stream_id}?src=<upstream>. It returns the
// sticky routing decision, a fresh channel token, and the stream type when a
// source URL is supplied.
func (h *Handler) RouteStream(w http.ResponseWriter, r *http.Request) {
	streamID := StreamID(chi.URLParam(r, "stream_id"))
	if streamID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	node, err := h.router.Route(streamID)
	if err != nil {
		if h.metrics != nil {
			h.metrics.IncRouteFailures()
		}
		if errors.Is(err, ErrNoHealthyNodes) {
			h.log.Warn("routing failed, fleet exhausted", slog.String("stream_id", string(streamID)))
			writeJSONError(w, http.StatusServiceUnavailable, "no healthy nodes")
			return
		}
		h.log.Error("routing failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	resp := RouteResponse{
		NodeID:  node.ID,
		NodeURL: node.BaseURL,
		Token:   h.tokens.Mint(),
	}
	if src := r.URL.Query().Get("src"); src != "" {
		resp.StreamType = h.prober.Classify(r.Context(), src)
	}

	if h.metrics != nil {
		h.metrics.IncRoutes()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ProxyStream handles GET /proxy?src=<upstream>[&cdn=<host>][&hevc=allow|strip].
// Manifest responses are rewritten and served uncacheable; anything else
// streams through with its original content type and a short cache window.
func (h *Handler) ProxyStream(w http.ResponseWriter, r *http.Request) {
	src := r.URL.Query().Get("src")
	if !validUpstreamURL(src) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	resp, err := h.fetcher.Fetch(r.Context(), src)
	if err != nil {
		h.log.Warn("upstream fetch failed", slog.String("src", src), slog.String("error", err.Error()))
		writeJSONError(w, http.StatusBadGateway, "upstream fetch failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		h.log.Warn("upstream status propagated",
			slog.String("src", src),
			slog.Int("status", resp.StatusCode))
		w.WriteHeader(resp.StatusCode)
		return
	}

	// Peek at the start of the body so playlists served with a generic
	// content type are still recognized.
	head, err := io.ReadAll(io.LimitReader(resp.Body, probeRangeBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "upstream read failed")
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if looksLikeManifest(contentType, resp.Request.URL, head) {
		h.serveManifest(w, r, resp, head)
		return
	}

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Cache-Control", "public, max-age=30")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(head); err != nil {
		return
	}
	_, _ = io.Copy(w, resp.Body)
}

// serveManifest buffers, rewrites, and serves playlist text.
func (h *Handler) serveManifest(w http.ResponseWriter, r *http.Request, resp *http.Response, head []byte) {
	rest, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "upstream read failed")
		return
	}
	manifest := string(head) + string(rest)

	rewritten := RewriteManifest(manifest, resp.Request.URL, RewriteOptions{
		ProxyURL:  h.proxyURLBuilder(r),
		CDNHost:   r.URL.Query().Get("cdn"),
		StripHEVC: stripHEVCPreference(r),
	})

	if h.metrics != nil {
		h.metrics.IncManifestsRewritten()
	}

	w.Header().Set("Content-Type", PlaylistContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(rewritten))
}

// proxyURLBuilder returns the rewriter callback that points nested playlists
// back at this endpoint, carrying the request's cdn and hevc settings along.
func (h *Handler) proxyURLBuilder(r *http.Request) func(string) string {
	cdn := r.URL.Query().Get("cdn")
	hevc := r.URL.Query().Get("hevc")
	return func(absolute string) string {
		q := url.Values{}
		q.Set("src", absolute)
		if cdn != "" {
			q.Set("cdn", cdn)
		}
		if hevc != "" {
			q.Set("hevc", hevc)
		}
		return "/proxy?" + q.Encode()
	}
}

// Healthz handles GET /healthz for the coordinator itself.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// stripHEVCPreference decides HEVC filtering for a request. An explicit hevc
// query param wins; otherwise Safari clients keep HEVC (native HLS support)
// and everything else gets it stripped.
func stripHEVCPreference(r *http.Request) bool {
	switch r.URL.Query().Get("hevc") {
	case "allow":
		return false
	case "strip":
		return true
	}
	return !isSafariUA(r.UserAgent())
}

// isSafariUA reports whether a User-Agent string is genuine Safari.
// Chrome-family browsers also advertise "Safari" and must not match.
func isSafariUA(ua string) bool {
	return strings.Contains(ua, "Safari/") &&
		!strings.Contains(ua, "Chrome/") &&
		!strings.Contains(ua, "Chromium/") &&
		!strings.Contains(ua, "Android")
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

func validNodeURL(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}

func validUpstreamURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
