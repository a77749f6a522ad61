// Package httpx sends the JSON requests of the CFO client. Requests run once
// unless reads are given a retry policy; mutations always run once.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"cloudia/internal/logger"
)

// HTTPError is a non-2xx answer. The CFO client looks into Body for the
// {success,errorMsg} envelope before falling back to the status.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("httpx: %s %s: status %d: %s", e.Method, e.URL, e.StatusCode, Snippet(e.Body, 900))
}

// Snippet trims b and cuts it to at most max bytes without splitting a rune.
func Snippet(b []byte, max int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// RetryConfig is the retry policy of one request.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Retry5xx retries every 5xx status.
	Retry5xx bool
	// RetryStatuses are retried on top of 5xx (429, 408...).
	RetryStatuses map[int]bool
}

var transientStatuses = map[int]bool{
	http.StatusTooManyRequests:    true,
	http.StatusRequestTimeout:     true,
	http.StatusTooEarly:           true,
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
	http.StatusGatewayTimeout:     true,
}

// ReadRetryConfig is the policy of GET requests when retries are turned on
// with CLOUDIA_HTTP_MAX_ATTEMPTS. Someone is waiting at the terminal, so
// delays stay short. maxAttempts <= 1 is NoRetry.
func ReadRetryConfig(maxAttempts int) RetryConfig {
	if maxAttempts <= 1 {
		return NoRetry()
	}
	return RetryConfig{
		MaxAttempts:   maxAttempts,
		BaseDelay:     400 * time.Millisecond,
		MaxDelay:      8 * time.Second,
		Retry5xx:      true,
		RetryStatuses: transientStatuses,
	}
}

// NoRetry runs the request exactly once. It is the default for every
// request, and POST, PUT and DELETE always use it.
func NoRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 1}
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 400 * time.Millisecond
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	return c
}

func (c RetryConfig) retryStatus(code int) bool {
	return c.RetryStatuses[code] || (c.Retry5xx && code >= 500 && code <= 599)
}

// delay is the wait before attempt+1: Retry-After when the server sent one,
// otherwise exponential backoff capped at MaxDelay plus up to half a base of
// jitter.
func (c RetryConfig) delay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	d := c.MaxDelay
	if attempt < 20 {
		d = min(c.BaseDelay<<(attempt-1), c.MaxDelay)
	}
	return d + rand.N(c.BaseDelay/2+1)
}

// NewJSONRequest builds a request carrying body as JSON (nil for none) with
// headers plus Accept and Content-Type.
func NewJSONRequest(ctx context.Context, method, url string, body any, headers http.Header) (*http.Request, error) {
	var rd io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		enc := json.NewEncoder(buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(body); err != nil {
			return nil, fmt.Errorf("httpx: encode body: %w", err)
		}
		rd = buf
	}
	r, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("httpx: new request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	r.Header.Set("Accept", "application/json")
	return r, nil
}

// DoWithRetry sends the request built by build until it succeeds, fails for
// good or runs out of attempts. build is called once per attempt so bodies
// are fresh. The body is always read in full, errors included.
func DoWithRetry(ctx context.Context, client *http.Client, build func(context.Context) (*http.Request, error), cfg RetryConfig) (*http.Response, []byte, error) {
	cfg = cfg.withDefaults()
	for attempt := 1; ; attempt++ {
		req, err := build(ctx)
		if err != nil {
			return nil, nil, err
		}

		resp, body, err := roundTrip(client, req)
		var retry bool
		var wait time.Duration
		switch {
		case err != nil:
			retry = transient(ctx, err)
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, body, nil
		default:
			err = &HTTPError{
				Method:     req.Method,
				URL:        req.URL.Redacted(),
				StatusCode: resp.StatusCode,
				Header:     resp.Header.Clone(),
				Body:       body,
			}
			retry = cfg.retryStatus(resp.StatusCode)
			wait = ParseRetryAfter(resp)
		}
		if !retry || attempt >= cfg.MaxAttempts {
			return resp, body, err
		}

		d := cfg.delay(attempt, wait)
		logger.Debug("%s %s: attempt %d/%d failed (%v), retrying in %s", req.Method, req.URL.Path, attempt, cfg.MaxAttempts, err, d.Round(time.Millisecond))
		if err := sleep(ctx, d); err != nil {
			return nil, nil, err
		}
	}
}

func roundTrip(client *http.Client, req *http.Request) (*http.Response, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return resp, body, err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// transient reports whether err may go away on a second try. Nothing is
// transient once ctx is done.
func transient(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// ParseRetryAfter reads Retry-After as seconds or as an HTTP date. Missing,
// invalid or past values are 0.
func ParseRetryAfter(resp *http.Response) time.Duration {
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(max(secs, 0)) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(time.Until(t), 0)
	}
	return 0
}
