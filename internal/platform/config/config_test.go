package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SERVICE_NAME", "")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServiceName != "anime-mapper" {
		t.Fatalf("expected default service name, got %q", cfg.ServiceName)
	}
	if cfg.HTTP.Addr != ":3000" {
		t.Fatalf("expected :3000, got %q", cfg.HTTP.Addr)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected info, got %q", cfg.LogLevel)
	}
}

func TestLoad_PortFallback(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("PORT", "8081")

	cfg, _ := Load()
	if cfg.HTTP.Addr != ":8081" {
		t.Fatalf("expected :8081, got %q", cfg.HTTP.Addr)
	}
}

func TestLoad_HTTPAddrWins(t *testing.T) {
	t.Setenv("HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("PORT", "8081")

	cfg, _ := Load()
	if cfg.HTTP.Addr != "127.0.0.1:9000" {
		t.Fatalf("expected HTTP_ADDR to win, got %q", cfg.HTTP.Addr)
	}
}
