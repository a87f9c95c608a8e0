// Package upstream is the HTTP client every catalog adapter and extractor
// goes through: per-call timeout, optional circuit breaker, transparent
// gzip/brotli bodies and status errors tagged as upstream failures.
package upstream

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/example/anime-mapper/services/mapper/internal/domain"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// ErrTooLarge reports a body over Client.MaxBody.
var ErrTooLarge = errors.New("response too large")

// Observer is told the outcome of every request; used for metrics.
type Observer func(name string, status int, err error, elapsed time.Duration)

type Client struct {
	Name       string
	HTTPClient *http.Client
	UserAgent  string
	MaxBody    int64
	CB         *gobreaker.CircuitBreaker
	Log        *zap.Logger
	Observe    Observer
}

// Option configures the Client.
type Option func(*Client)

func WithCircuitBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(c *Client) { c.CB = cb }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.Log = log }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.UserAgent = ua
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.HTTPClient.Timeout = d
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.HTTPClient = hc
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.Observe = o }
}

func New(name string, opts ...Option) *Client {
	c := &Client{
		Name:       name,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		UserAgent:  DefaultUserAgent,
		MaxBody:    4 << 20,
		Log:        zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// StatusError is a non-2xx response.
type StatusError struct {
	Name   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d body=%q", e.Name, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return domain.ErrUpstream }

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// Get fetches rawURL with the given extra headers.
func (c *Client) Get(ctx context.Context, rawURL string, hdr map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", c.Name, domain.ErrInvalidRequest, err)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	return c.Do(req)
}

// Do executes req through the breaker. Body is returned only for 2xx.
func (c *Client) Do(req *http.Request) ([]byte, error) {
	if c.CB == nil {
		return c.do(req)
	}
	out, err := c.CB.Execute(func() (interface{}, error) {
		return c.do(req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s: %w: %w", c.Name, domain.ErrUpstream, err)
		}
		return nil, err
	}
	return out.([]byte), nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	}
	req.Header.Set("Accept-Encoding", "gzip, br")

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.observe(0, err, start)
		c.Log.Debug("upstream request failed", zap.String("upstream", c.Name), zap.String("url", req.URL.Redacted()), zap.Error(err))
		return nil, fmt.Errorf("%s: %w: %w", c.Name, domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	reader, err := decodeBody(resp)
	if err != nil {
		c.observe(resp.StatusCode, err, start)
		return nil, fmt.Errorf("%s: %w: %w", c.Name, domain.ErrUpstream, err)
	}
	b, err := io.ReadAll(io.LimitReader(reader, c.MaxBody+1))
	if err != nil {
		c.observe(resp.StatusCode, err, start)
		return nil, fmt.Errorf("%s: %w: %w", c.Name, domain.ErrUpstream, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Name: c.Name, Status: resp.StatusCode, Body: string(b[:min(len(b), 200)])}
		c.observe(resp.StatusCode, serr, start)
		return nil, serr
	}
	if int64(len(b)) > c.MaxBody {
		err := fmt.Errorf("%s: %w: %w (limit %d bytes)", c.Name, domain.ErrUpstream, ErrTooLarge, c.MaxBody)
		c.observe(resp.StatusCode, err, start)
		return nil, err
	}
	c.observe(resp.StatusCode, nil, start)
	return b, nil
}

func (c *Client) observe(status int, err error, start time.Time) {
	if c.Observe != nil {
		c.Observe(c.Name, status, err, time.Since(start))
	}
}

func decodeBody(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

// GetJSON fetches rawURL and decodes the body into T.
func GetJSON[T any](ctx context.Context, c *Client, rawURL string, hdr map[string]string) (*T, error) {
	if hdr == nil {
		hdr = map[string]string{}
	}
	if _, ok := hdr["Accept"]; !ok {
		hdr["Accept"] = "application/json, text/plain, */*"
	}
	b, err := c.Get(ctx, rawURL, hdr)
	if err != nil {
		return nil, err
	}
	return Decode[T](c.Name, b)
}

// PostJSON sends body as JSON and decodes the response into T.
func PostJSON[T any](ctx context.Context, c *Client, rawURL string, body any, hdr map[string]string) (*T, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: encode: %w", c.Name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", c.Name, domain.ErrInvalidRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	b, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	return Decode[T](c.Name, b)
}

// Decode unmarshals b, tagging failures as upstream errors.
func Decode[T any](name string, b []byte) (*T, error) {
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%s: decode error: %w: %w body=%q", name, domain.ErrUpstream, err, string(b[:min(len(b), 200)]))
	}
	return &out, nil
}
