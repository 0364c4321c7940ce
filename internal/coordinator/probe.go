package coordinator

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// StreamType classifies an upstream URL's playback handling.
type StreamType string

const (
	// StreamTypeHLS marks playlist-based streams.
	StreamTypeHLS StreamType = "hls"

	// StreamTypeProgressive marks progressive-file streams.
	StreamTypeProgressive StreamType = "mp4"
)

const (
	// DefaultProbeCacheTTL bounds how long a classification is memoized.
	DefaultProbeCacheTTL = 6 * time.Hour

	// probeRangeBytes is the sampled prefix size for content sniffing.
	probeRangeBytes = 512

	// progressiveScanBytes is how far into the sample a progressive
	// container signature is searched for.
	progressiveScanBytes = 128
)

type probeCacheEntry struct {
	streamType StreamType
	probedAt   time.Time
}

// Prober classifies upstream URLs as playlist-based or progressive. Obvious
// URLs are decided from the path alone; ambiguous ones cost one ranged GET,
// memoized per URL. Classification never fails: probe errors default to
// progressive and are cached like any other result.
type Prober struct {
	client *retryablehttp.Client
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]probeCacheEntry
}

// NewProber returns a Prober using the given upstream client. If ttl <= 0,
// DefaultProbeCacheTTL is used.
func NewProber(client *retryablehttp.Client, ttl time.Duration) *Prober {
	if ttl <= 0 {
		ttl = DefaultProbeCacheTTL
	}
	return &Prober{
		client: client,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]probeCacheEntry),
	}
}

// Classify returns the stream type for rawURL.
func (p *Prober) Classify(ctx context.Context, rawURL string) StreamType {
	if t, ok := classifyByPath(rawURL); ok {
		return t
	}
	if t, ok := p.cached(rawURL); ok {
		return t
	}
	t := p.probe(ctx, rawURL)
	p.store(rawURL, t)
	return t
}

// classifyByPath is the cheap path: filename and path-segment heuristics
// that need no network round trip.
func classifyByPath(rawURL string) (StreamType, bool) {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Path
	}
	switch {
	case strings.HasSuffix(path, ".m3u8") || strings.Contains(path, "/hls/"):
		return StreamTypeHLS, true
	case strings.HasSuffix(path, ".mp4"):
		return StreamTypeProgressive, true
	}
	return "", false
}

func (p *Prober) cached(rawURL string) (StreamType, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.cache[rawURL]
	if !ok || p.now().Sub(entry.probedAt) > p.ttl {
		return "", false
	}
	return entry.streamType, true
}

func (p *Prober) store(rawURL string, t StreamType) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache[rawURL] = probeCacheEntry{streamType: t, probedAt: p.now()}
}

// probe issues a single ranged GET and sniffs the response. Header first,
// then the playlist signature at the start of the body, then a progressive
// container signature near the front; anything inconclusive, including probe
// failure, is progressive.
func (p *Prober) probe(ctx context.Context, rawURL string) StreamType {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return StreamTypeProgressive
	}
	req.Header.Set("Range", "bytes=0-511")

	resp, err := p.client.Do(req)
	if err != nil {
		return StreamTypeProgressive
	}
	defer resp.Body.Close()

	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "mpegurl") {
		return StreamTypeHLS
	}

	sample, err := io.ReadAll(io.LimitReader(resp.Body, probeRangeBytes))
	if err != nil {
		return StreamTypeProgressive
	}

	if bytes.HasPrefix(bytes.TrimLeft(sample, " \t\r\n"), []byte("#EXTM3U")) {
		return StreamTypeHLS
	}

	head := sample
	if len(head) > progressiveScanBytes {
		head = head[:progressiveScanBytes]
	}
	if bytes.Contains(head, []byte("ftyp")) {
		return StreamTypeProgressive
	}

	return StreamTypeProgressive
}
