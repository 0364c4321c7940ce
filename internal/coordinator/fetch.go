package coordinator

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// DefaultUpstreamTimeout bounds each upstream fetch (manifests, probes,
// passthrough bodies).
const DefaultUpstreamTimeout = 15 * time.Second

// NewUpstreamClient builds the retryable HTTP client used for all upstream
// traffic. Retries apply only to connect/timeout-class errors; HTTP error
// statuses are surfaced to the caller untouched so failure classes propagate
// instead of being retried into a generic error.
func NewUpstreamClient(timeout time.Duration, retryMax int) *retryablehttp.Client {
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.HTTPClient.Timeout = timeout
	client.Logger = nil
	client.CheckRetry = transportOnlyRetryPolicy
	return client
}

// transportOnlyRetryPolicy retries when no response was received at all and
// the context is still live. Any received response, error status included,
// is forwarded as-is.
func transportOnlyRetryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if resp != nil {
		return false, nil
	}
	if err != nil {
		return true, nil
	}
	return false, nil
}

// Fetcher retrieves upstream playlists and media resources.
type Fetcher struct {
	client *retryablehttp.Client
}

// NewFetcher returns a Fetcher using the given upstream client.
func NewFetcher(client *retryablehttp.Client) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch GETs the given URL. The caller owns the response body. Redirects are
// followed; resp.Request.URL is the final fetch-resolved URL and is the base
// for any relative references in the body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return f.client.Do(req)
}
