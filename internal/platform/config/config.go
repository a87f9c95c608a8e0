package config

import (
	"os"
	"strings"
)

type HTTPConfig struct {
	Addr string
}

type AppConfig struct {
	ServiceName string
	LogLevel    string
	HTTP        HTTPConfig
}

// Load reads the settings shared by every binary. PORT is honoured when
// HTTP_ADDR is unset so the service runs unchanged on PaaS hosts.
func Load() (AppConfig, error) {
	cfg := AppConfig{
		ServiceName: strings.TrimSpace(os.Getenv("SERVICE_NAME")),
		LogLevel:    strings.TrimSpace(os.Getenv("LOG_LEVEL")),
		HTTP: HTTPConfig{
			Addr: strings.TrimSpace(os.Getenv("HTTP_ADDR")),
		},
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "anime-mapper"
	}
	if cfg.HTTP.Addr == "" {
		if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
			cfg.HTTP.Addr = ":" + port
		} else {
			cfg.HTTP.Addr = ":3000"
		}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}
