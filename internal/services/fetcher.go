package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/codyseavey/mtg-finder/internal/metrics"
)

const (
	defaultFetchTimeout = 20 * time.Second
	maxResponseBytes    = 16 << 20
)

// Fetcher is the HTTP GET primitive shared by every upstream client.
// It paces requests with a token bucket and retries with the injected policy.
type Fetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	policy    RetryPolicy
	userAgent string
	upstream  string
	log       zerolog.Logger
}

// FetcherOptions configures a Fetcher
type FetcherOptions struct {
	Upstream          string // label used in metrics and logs
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	UserAgent         string
	Policy            RetryPolicy
}

// NewFetcher creates a Fetcher. RequestsPerSecond <= 0 disables pacing.
func NewFetcher(opts FetcherOptions, log zerolog.Logger) *Fetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(limit, burst),
		policy:    opts.Policy,
		userAgent: opts.UserAgent,
		upstream:  opts.Upstream,
		log:       log.With().Str("upstream", opts.Upstream).Logger(),
	}
}

// Get fetches url and returns the body of a 200 response, retrying transient failures.
// A 404 returns a *NotFoundError without retrying.
func (f *Fetcher) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	var body []byte
	attempt := 0
	err := f.policy.Do(ctx, f.log, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			metrics.FetchRetriesTotal.WithLabelValues(f.upstream).Inc()
		}
		b, err := f.getOnce(ctx, url, headers)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) getOnce(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, Permanent(fmt.Errorf("failed waiting for rate limiter: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read response from %s: %w", url, err)
		}
		return b, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.RateLimitSignalsTotal.WithLabelValues(f.upstream).Inc()
		return nil, &RateLimitSignal{URL: url, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode == http.StatusNotFound:
		return nil, Permanent(&NotFoundError{Resource: "page", Key: url})
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	default:
		return nil, Permanent(fmt.Errorf("%s returned status %d", url, resp.StatusCode))
	}
}

// parseRetryAfter understands both delta-seconds and HTTP-date forms
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// isCancellation reports whether err came from the run's context ending
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
