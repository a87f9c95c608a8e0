// Package decoder talks to the external encode/decode service that undoes
// catalog token and embed payload obfuscation.
package decoder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/anime-mapper/services/mapper/internal/domain"
	"github.com/example/anime-mapper/services/mapper/internal/upstream"
)

const (
	DefaultBaseURL      = "https://enc-dec.app/api"
	DefaultMegaCloudURL = "https://script.google.com/macros/s/AKfycbxHbYHbrGMXYD2-bC-C43D3njIbU-wGiYQuJL61H4vyy6YVXkybMNNEPJNPPuZrD1gRVA/exec"
)

// Decoder is the port the catalog adapters and extractors depend on.
type Decoder interface {
	Encode(ctx context.Context, text string) (string, error)
	Decode(ctx context.Context, text string) (json.RawMessage, error)
	DecodeMega(ctx context.Context, text, agent string) (json.RawMessage, error)
	DecryptMegaCloud(ctx context.Context, encrypted, nonce, secret string) (string, error)
}

type Client struct {
	BaseURL      string
	MegaCloudURL string
	HTTP         *upstream.Client
	Log          *zap.Logger

	// Retries is the number of extra attempts after a failure.
	Retries int
	// Backoff returns the wait before the given retry attempt (1-based).
	Backoff func(attempt int) time.Duration
}

// Option configures the Client.
type Option func(*Client)

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.Log = log }
}

func WithMegaCloudURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.MegaCloudURL = u
		}
	}
}

func WithBackoff(f func(attempt int) time.Duration) Option {
	return func(c *Client) { c.Backoff = f }
}

func New(baseURL string, hc *upstream.Client, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = upstream.New("decoder")
	}
	c := &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		MegaCloudURL: DefaultMegaCloudURL,
		HTTP:         hc,
		Log:          zap.NewNop(),
		Retries:      2,
		Backoff:      LinearBackoff(500 * time.Millisecond),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// LinearBackoff waits step × attempt.
func LinearBackoff(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration { return step * time.Duration(attempt) }
}

type resultResponse struct {
	Status int             `json:"status"`
	Result json.RawMessage `json:"result"`
}

// Encode returns the token the catalog expects in its "_" query param.
func (c *Client) Encode(ctx context.Context, text string) (string, error) {
	u := c.BaseURL + "/enc-kai?text=" + url.QueryEscape(text)
	res, err := withRetry(ctx, c, "encode", func(ctx context.Context) (*resultResponse, error) {
		return upstream.GetJSON[resultResponse](ctx, c.HTTP, u, nil)
	})
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(res.Result, &s); err != nil || s == "" {
		return "", fmt.Errorf("decoder: encode: %w: empty result", domain.ErrUpstream)
	}
	return s, nil
}

// Decode reverses a catalog-encrypted payload into its JSON form.
func (c *Client) Decode(ctx context.Context, text string) (json.RawMessage, error) {
	res, err := withRetry(ctx, c, "decode", func(ctx context.Context) (*resultResponse, error) {
		return upstream.PostJSON[resultResponse](ctx, c.HTTP, c.BaseURL+"/dec-kai", map[string]string{"text": text}, nil)
	})
	if err != nil {
		return nil, err
	}
	return unwrapResult(res.Result), nil
}

// DecodeMega decrypts a MegaUp media payload. agent must match the
// User-Agent used to fetch it.
func (c *Client) DecodeMega(ctx context.Context, text, agent string) (json.RawMessage, error) {
	body := map[string]string{"text": text, "agent": agent}
	res, err := withRetry(ctx, c, "decode-mega", func(ctx context.Context) (*resultResponse, error) {
		return upstream.PostJSON[resultResponse](ctx, c.HTTP, c.BaseURL+"/dec-mega", body, nil)
	})
	if err != nil {
		return nil, err
	}
	return unwrapResult(res.Result), nil
}

var fileField = regexp.MustCompile(`"file":"(.*?)"`)

// DecryptMegaCloud submits an encrypted MegaCloud source list and returns
// the first file URL found in the decrypted text.
func (c *Client) DecryptMegaCloud(ctx context.Context, encrypted, nonce, secret string) (string, error) {
	q := url.Values{}
	q.Set("encrypted_data", encrypted)
	q.Set("nonce", nonce)
	q.Set("secret", secret)
	q.Set("_k", nonce)
	u := c.MegaCloudURL + "?" + q.Encode()

	text, err := withRetry(ctx, c, "megacloud", func(ctx context.Context) (string, error) {
		b, err := c.HTTP.Get(ctx, u, map[string]string{"Accept": "*/*"})
		return string(b), err
	})
	if err != nil {
		return "", err
	}
	m := fileField.FindStringSubmatch(text)
	if m == nil {
		return "", fmt.Errorf("decoder: megacloud: %w: no file in decrypted payload", domain.ErrExtractionFailed)
	}
	return strings.ReplaceAll(m[1], `\/`, "/"), nil
}

// unwrapResult accepts both an embedded object and a JSON string holding
// one.
func unwrapResult(raw json.RawMessage) json.RawMessage {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && strings.HasPrefix(strings.TrimSpace(s), "{") {
		return json.RawMessage(s)
	}
	return raw
}

func withRetry[T any](ctx context.Context, c *Client, op string, call func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 0; attempt <= c.Retries; attempt++ {
		if attempt > 0 {
			delay := c.Backoff(attempt)
			c.Log.Debug("retrying decode", zap.String("op", op), zap.Int("attempt", attempt), zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return zero, fmt.Errorf("decoder: %s: %w", op, ctx.Err())
			case <-time.After(delay):
			}
		}
		out, err := call(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		c.Log.Warn("decode call failed", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
	}
	return zero, fmt.Errorf("decoder: %s: %w", op, lastErr)
}
