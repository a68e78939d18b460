package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultUserAgent = "gpuindex-ingest/1.0"
	maxPayloadBytes  = 16 << 20
)

// HTTPJSONOptions configures an HTTPJSONSource
type HTTPJSONOptions struct {
	Provider          string
	URL               string
	Headers           map[string]string
	RequestsPerMinute int // 0 disables client-side limiting
	Client            *http.Client
}

// HTTPJSONSource reads a provider price feed that serves offers as JSON.
// Either {"offers":[...],"withdrawn":[...]} or a bare array is accepted.
type HTTPJSONSource struct {
	provider string
	url      string
	headers  map[string]string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewHTTPJSONSource creates a JSON feed source
func NewHTTPJSONSource(opts HTTPJSONOptions) (*HTTPJSONSource, error) {
	if strings.TrimSpace(opts.Provider) == "" {
		return nil, errors.New("provider is required")
	}
	u, err := url.Parse(strings.TrimSpace(opts.URL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q", opts.URL)
	}

	client := opts.Client
	if client == nil {
		// the executor bounds each fetch with its own deadline
		client = &http.Client{}
	}

	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}

	return &HTTPJSONSource{
		provider: opts.Provider,
		url:      u.String(),
		headers:  opts.Headers,
		client:   client,
		limiter:  limiter,
	}, nil
}

// Slug returns the provider slug
func (s *HTTPJSONSource) Slug() string {
	return s.provider
}

// Fetch downloads and decodes the feed
func (s *HTTPJSONSource) Fetch(ctx context.Context) (*Batch, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
			}
			// no token before the deadline
			return nil, &RateLimitError{}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("request %s: %w", s.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{
			Status:     resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http status %d from %s", resp.StatusCode, s.provider)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("read %s payload: %w", s.provider, err)
	}

	batch, err := ParseRawOffers(body)
	if err != nil {
		return nil, err
	}
	for i := range batch.Offers {
		if batch.Offers[i].Provider == "" {
			batch.Offers[i].Provider = s.provider
		}
	}
	return batch, nil
}

// parseRetryAfter accepts delta-seconds; HTTP-date values are ignored
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
