// Package coinglass is a thin client for the CoinGlass REST API.
//
// Every call goes through Request, which never returns a Go error for remote
// failures: HTTP errors, timeouts and malformed payloads are folded into a
// Result with Success=false. Typed helpers turn a failed Result into *APIError.
package coinglass

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/glasswatch/internal/metrics"
)

const (
	maxBodyBytes  = 8 << 20
	maxRetryAfter = 2 * time.Minute
)

// Options configure a Client.
type Options struct {
	BaseURL        string
	APIKey         string
	CallsPerMinute int
	Timeout        time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
}

// Result is the outcome of one logical request, after retries.
type Result struct {
	Success    bool
	Data       json.RawMessage
	Error      string
	Kind       ErrorKind
	StatusCode int
	Endpoint   string
}

// Err converts a failed Result into *APIError.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return &APIError{Endpoint: r.Endpoint, Kind: r.Kind, StatusCode: r.StatusCode, Message: r.Error}
}

// Decode unmarshals Data into v, or returns the failure as an error.
func (r Result) Decode(v any) error {
	if err := r.Err(); err != nil {
		return err
	}
	if len(r.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return &APIError{Endpoint: r.Endpoint, Kind: KindDecode, Message: err.Error()}
	}
	return nil
}

// Client issues throttled, retried GET requests against CoinGlass.
type Client struct {
	opts     Options
	interval time.Duration

	httpMu     sync.Mutex
	httpClient *http.Client

	throttleMu sync.Mutex
	nextSlot   time.Time

	usageMu sync.RWMutex
	usage   Usage
}

// New creates a CoinGlass client
func New(opts Options) *Client {
	if opts.CallsPerMinute <= 0 {
		opts.CallsPerMinute = 30
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 5 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &Client{
		opts:       opts,
		interval:   time.Minute / time.Duration(opts.CallsPerMinute),
		httpClient: newHTTPClient(opts.Timeout),
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &http.Client{Timeout: timeout, Transport: transport}
}

// Usage returns the API key usage reported by the last response.
func (c *Client) Usage() Usage {
	c.usageMu.RLock()
	defer c.usageMu.RUnlock()
	return c.usage
}

// Request performs a GET on endpoint with params.
func (c *Client) Request(ctx context.Context, endpoint string, params url.Values) Result {
	res := c.request(ctx, endpoint, params)
	res.Endpoint = endpoint

	outcome := "ok"
	if !res.Success {
		outcome = string(res.Kind)
		log.Debug().
			Str("endpoint", endpoint).
			Str("kind", string(res.Kind)).
			Int("status", res.StatusCode).
			Str("error", res.Error).
			Msg("CoinGlass request failed")
	}
	metrics.UpstreamRequests.WithLabelValues(endpoint, outcome).Inc()
	return res
}

func (c *Client) request(ctx context.Context, endpoint string, params url.Values) Result {
	for attempt := 0; ; attempt++ {
		if err := c.throttle(ctx); err != nil {
			return failure(KindTransport, 0, err.Error())
		}

		resp, err := c.do(ctx, endpoint, params)
		if err != nil {
			if ctx.Err() != nil {
				return failure(KindTransport, 0, ctx.Err().Error())
			}
			if isTransient(err) && attempt < c.opts.MaxRetries {
				log.Warn().Err(err).Str("endpoint", endpoint).Int("attempt", attempt+1).Msg("🔁 Transient CoinGlass error, reconnecting")
				c.resetTransport()
				if err := sleep(ctx, c.opts.RetryBackoff); err != nil {
					return failure(KindTransport, 0, err.Error())
				}
				continue
			}
			if isTimeout(err) {
				return failure(KindTransport, 0, "request timed out")
			}
			return failure(KindTransport, 0, err.Error())
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		c.recordUsage(resp.Header)

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			if attempt < c.opts.MaxRetries {
				wait := retryAfter(resp.Header, c.opts.RetryBackoff)
				log.Warn().Str("endpoint", endpoint).Dur("retry_after", wait).Msg("⏳ CoinGlass rate limited")
				if err := sleep(ctx, wait); err != nil {
					return failure(KindRateLimited, resp.StatusCode, err.Error())
				}
				continue
			}
			return failure(KindRateLimited, resp.StatusCode, "rate limit exceeded")
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return failure(KindUnauthorized, resp.StatusCode, "invalid or missing API key")
		case resp.StatusCode >= 500:
			return failure(KindUpstream, resp.StatusCode, http.StatusText(resp.StatusCode))
		case resp.StatusCode >= 400:
			return failure(KindAPI, resp.StatusCode, snippet(body))
		}

		if readErr != nil {
			return failure(KindTransport, resp.StatusCode, readErr.Error())
		}
		res := parseBody(body)
		res.StatusCode = resp.StatusCode
		return res
	}
}

func (c *Client) do(ctx context.Context, endpoint string, params url.Values) (*http.Response, error) {
	u := c.opts.BaseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("CG-API-KEY", c.opts.APIKey)
	}

	c.httpMu.Lock()
	client := c.httpClient
	c.httpMu.Unlock()
	return client.Do(req)
}

// throttle sleeps until the next allowed call slot.
func (c *Client) throttle(ctx context.Context) error {
	c.throttleMu.Lock()
	now := time.Now()
	slot := c.nextSlot
	if slot.Before(now) {
		slot = now
	}
	c.nextSlot = slot.Add(c.interval)
	c.throttleMu.Unlock()

	return sleep(ctx, time.Until(slot))
}

// resetTransport drops pooled connections and builds a fresh transport.
func (c *Client) resetTransport() {
	c.httpMu.Lock()
	defer c.httpMu.Unlock()
	c.httpClient.CloseIdleConnections()
	c.httpClient = newHTTPClient(c.opts.Timeout)
}

func (c *Client) recordUsage(h http.Header) {
	used, errU := strconv.Atoi(h.Get("API-KEY-USE-LIMIT"))
	maxLimit, errM := strconv.Atoi(h.Get("API-KEY-MAX-LIMIT"))
	if errU != nil && errM != nil {
		return
	}
	c.usageMu.Lock()
	defer c.usageMu.Unlock()
	if errU == nil {
		c.usage.Used = used
	}
	if errM == nil {
		c.usage.Max = maxLimit
	}
	c.usage.UpdatedAt = time.Now()
}

// parseBody accepts the {code, msg, data} envelope or a bare list.
func parseBody(body []byte) Result {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return failure(KindDecode, 0, "empty response body")
	}
	if trimmed[0] == '[' {
		return Result{Success: true, Data: json.RawMessage(trimmed)}
	}

	var env struct {
		Code    json.RawMessage `json:"code"`
		Msg     string          `json:"msg"`
		Success *bool           `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return failure(KindDecode, 0, "malformed JSON: "+err.Error())
	}

	code := strings.Trim(string(env.Code), `"`)
	if (code != "" && code != "0") || (env.Success != nil && !*env.Success) {
		msg := env.Msg
		if msg == "" {
			msg = "code " + code
		}
		return failure(KindAPI, 0, msg)
	}
	return Result{Success: true, Data: env.Data}
}

func failure(kind ErrorKind, status int, msg string) Result {
	return Result{Success: false, Kind: kind, StatusCode: status, Error: msg}
}

func retryAfter(h http.Header, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return fallback
	}
	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(v); err == nil {
		d = time.Until(t)
	} else {
		return fallback
	}
	if d < 0 {
		d = 0
	}
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isTransient(err error) bool {
	if isTimeout(err) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var recErr tls.RecordHeaderError
	if errors.As(err, &recErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		return "bad request"
	}
	return fmt.Sprintf("bad request: %s", s)
}
