package run

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestRun_ExitCodes(t *testing.T) {
	r := New(nil)

	if code := r.run(context.Background(), func(context.Context) error { return nil }); code != 0 {
		t.Fatalf("nil error: expected 0, got %d", code)
	}
	if code := r.run(context.Background(), func(context.Context) error { return http.ErrServerClosed }); code != 0 {
		t.Fatalf("server closed: expected 0, got %d", code)
	}
	if code := r.run(context.Background(), func(context.Context) error { return errors.New("boom") }); code != 1 {
		t.Fatalf("failure: expected 1, got %d", code)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	r := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code := r.run(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return errors.New("late")
	})
	if code != 0 {
		t.Fatalf("expected 0 on signal, got %d", code)
	}
}

func TestGraceful_HasDeadline(t *testing.T) {
	r := New(nil)
	r.ShutdownTimeout = time.Second

	var sawDeadline bool
	r.Graceful(func(ctx context.Context) error {
		_, sawDeadline = ctx.Deadline()
		return nil
	})
	if !sawDeadline {
		t.Fatal("expected shutdown context to carry a deadline")
	}
}
