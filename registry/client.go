package registry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const maxBodyBytes = 64 << 20 // hard cap on any response body

// TransportError is the terminal failure of a rate-limited request: either a
// non-2xx status that survived all retries, or a network-level error.
type TransportError struct {
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: %v", e.Err)
	}
	return fmt.Sprintf("transport: http status %d", e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }

// retryableStatus reports the transient statuses worth another attempt.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// ClientOptions configures the rate-limited transport.
type ClientOptions struct {
	Delay     time.Duration // unconditional pause before every request
	RetryMax  int           // extra attempts after the first
	Timeout   time.Duration // per-request timeout
	UserAgent string
}

// Client issues rate-limited HTTP requests with bounded retry.
//
// The limiter is fixed-interval with burst 1, so every call waits the
// configured delay before going out regardless of the previous outcome, and
// at most one request is ever in flight through a single Client. Transient
// statuses and network errors are retried with exponential backoff; the final
// failure surfaces as a TransportError carrying the last status and body.
// The Client knows nothing about payload semantics.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	retryMax  int
	userAgent string
}

// NewClient builds a Client. A zero Delay disables pacing (tests); a zero
// Timeout falls back to 30s.
func NewClient(opts ClientOptions) *Client {
	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}
	to := opts.Timeout
	if to <= 0 {
		to = 30 * time.Second
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "filings-ingest/1.0"
	}
	if opts.RetryMax < 0 {
		opts.RetryMax = 0
	}
	limiter := rate.NewLimiter(limit, 1)
	if opts.Delay > 0 {
		// Drain the initial token so the very first request waits the full
		// interval too; the delay is unconditional.
		limiter.ReserveN(time.Now(), 1)
	}
	return &Client{
		http:      &http.Client{Timeout: to},
		limiter:   limiter,
		retryMax:  opts.RetryMax,
		userAgent: ua,
	}
}

// Do sends one request and returns the body and status of the final attempt.
// body may be nil for GET. contentType is only set when body is non-nil.
func (c *Client) Do(ctx context.Context, method, url, contentType string, body []byte) ([]byte, int, error) {
	var lastBody []byte
	var lastCode int
	var lastErr error

	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, &TransportError{Err: err}
		}

		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rdr)
		if err != nil {
			return nil, 0, &TransportError{Err: err}
		}
		req.Header.Set("User-Agent", c.userAgent)
		if body != nil {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastBody, lastCode, lastErr = nil, 0, err
			if attempt < c.retryMax {
				c.sleepBackoff(ctx, attempt)
				continue
			}
			break
		}

		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		code := resp.StatusCode
		lastBody, lastCode, lastErr = b, code, nil

		if code >= 200 && code < 300 {
			return b, code, nil
		}
		if retryableStatus(code) && attempt < c.retryMax {
			c.sleepBackoff(ctx, attempt)
			continue
		}
		break
	}

	if lastErr != nil {
		return nil, 0, &TransportError{Err: lastErr}
	}
	return nil, lastCode, &TransportError{Status: lastCode, Body: string(lastBody)}
}

// sleepBackoff waits 250ms * 2^attempt plus jitter, honoring ctx.
func (c *Client) sleepBackoff(ctx context.Context, attempt int) {
	d := 250 * time.Millisecond << uint(attempt)
	if d > 15*time.Second {
		d = 15 * time.Second
	}
	d += time.Duration(rand.Intn(151)) * time.Millisecond
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
