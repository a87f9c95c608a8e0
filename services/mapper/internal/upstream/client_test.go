package upstream

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/example/anime-mapper/services/mapper/internal/domain"
)

type payload struct {
	Name string `json:"name"`
}

func TestGetJSON_Plain(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"ok"}`))
	}))
	defer srv.Close()

	c := New("test", WithUserAgent("mapper-test/1.0"))
	out, err := GetJSON[payload](context.Background(), c, srv.URL, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Name != "ok" {
		t.Fatalf("expected ok, got %q", out.Name)
	}
	if gotUA != "mapper-test/1.0" {
		t.Fatalf("expected custom UA, got %q", gotUA)
	}
}

func TestGet_DecodesGzipAndBrotli(t *testing.T) {
	body := []byte("<html>hello</html>")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		switch r.URL.Path {
		case "/gz":
			zw := gzip.NewWriter(&buf)
			_, _ = zw.Write(body)
			_ = zw.Close()
			w.Header().Set("Content-Encoding", "gzip")
		case "/br":
			bw := brotli.NewWriter(&buf)
			_, _ = bw.Write(body)
			_ = bw.Close()
			w.Header().Set("Content-Encoding", "br")
		}
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	c := New("test")
	for _, path := range []string{"/gz", "/br"} {
		got, err := c.Get(context.Background(), srv.URL+path, nil)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", path, err)
		}
		if !bytes.Equal(got, body) {
			t.Fatalf("%s: got %q", path, got)
		}
	}
}

func TestGet_NonOKIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("blocked"))
	}))
	defer srv.Close()

	_, err := New("test").Get(context.Background(), srv.URL, nil)
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if StatusOf(err) != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", StatusOf(err))
	}
}

func TestGet_OversizedBodyFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("a"), 64))
	}))
	defer srv.Close()

	c := New("test")
	c.MaxBody = 64
	if b, err := c.Get(context.Background(), srv.URL, nil); err != nil || len(b) != 64 {
		t.Fatalf("body at the limit: len=%d err=%v", len(b), err)
	}

	c.MaxBody = 63
	_, err := c.Get(context.Background(), srv.URL, nil)
	if !errors.Is(err, ErrTooLarge) || !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestGet_TransportErrorKeepsDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New("test").Get(ctx, srv.URL, nil)
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline to be reachable, got %v", err)
	}
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cb := NewBreaker("test", BreakerSettings{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureThreshold: 2}, nil)
	c := New("test", WithCircuitBreaker(cb))
	for i := 0; i < 4; i++ {
		_, _ = c.Get(context.Background(), srv.URL, nil)
	}
	if hits != 2 {
		t.Fatalf("expected breaker to stop calls after 2 failures, got %d hits", hits)
	}
	_, err := c.Get(context.Background(), srv.URL, nil)
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("open breaker should surface as upstream error, got %v", err)
	}
}

func TestNewBreaker_Disabled(t *testing.T) {
	if NewBreaker("x", BreakerSettings{}, nil) != nil {
		t.Fatal("expected nil breaker when threshold is zero")
	}
}

func TestObserver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var seen int
	c := New("obs", WithObserver(func(name string, status int, err error, _ time.Duration) {
		if name == "obs" && err == nil {
			seen = status
		}
	}))
	if _, err := c.Get(context.Background(), srv.URL, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != http.StatusNoContent {
		t.Fatalf("expected observer to see 204, got %d", seen)
	}
}
