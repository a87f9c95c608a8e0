package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AniListBaseURL   string
	AniZipBaseURL    string
	AnimePaheBaseURL string
	AnimeKaiBaseURL  string
	HiAnimeBaseURL   string
	DecoderBaseURL   string
	MegaCloudURL     string
	MegaCloudKeysURL string

	// Upstream HTTP settings.
	HTTPTimeout time.Duration
	UserAgent   string

	// Circuit-breaker settings, one breaker per upstream.
	CBMaxRequests      uint32
	CBInterval         time.Duration
	CBTimeout          time.Duration
	CBFailureThreshold uint32

	MapCacheTTL     time.Duration
	SourcesCacheTTL time.Duration
	// RedisURL selects the shared cache; empty keeps responses in memory.
	RedisURL string
	// NATSURL enables cache invalidation and analytics; empty disables both.
	NATSURL         string
	AnalyticsStream string

	RateLimitRPS   float64
	RateLimitBurst int

	RenderEnabled   bool
	ChromePath      string
	RenderWindow    time.Duration
	ChromeNoSandbox bool

	RequestTimeout time.Duration

	HLSProxyBase     string
	HLSSigningSecret string
	HLSSignedTTL     time.Duration
}

func Load() (Config, error) {
	return Config{
		AniListBaseURL:   env("ANILIST_BASE_URL"),
		AniZipBaseURL:    env("ANIZIP_BASE_URL"),
		AnimePaheBaseURL: env("ANIMEPAHE_BASE_URL"),
		AnimeKaiBaseURL:  env("ANIMEKAI_BASE_URL"),
		HiAnimeBaseURL:   env("HIANIME_BASE_URL"),
		DecoderBaseURL:   env("DECODER_BASE_URL"),
		MegaCloudURL:     env("MEGACLOUD_DECRYPT_URL"),
		MegaCloudKeysURL: env("MEGACLOUD_KEYS_URL"),

		HTTPTimeout: envDuration("UPSTREAM_TIMEOUT", 10*time.Second),
		UserAgent:   env("UPSTREAM_USER_AGENT"),

		CBMaxRequests:      uint32(envInt("CB_MAX_REQUESTS", 5)),
		CBInterval:         envDuration("CB_INTERVAL", 60*time.Second),
		CBTimeout:          envDuration("CB_TIMEOUT", 30*time.Second),
		CBFailureThreshold: uint32(envInt("CB_FAILURE_THRESHOLD", 5)),

		MapCacheTTL:     envDuration("CACHE_MAP_TTL", 5*time.Minute),
		SourcesCacheTTL: envDuration("CACHE_SOURCES_TTL", 15*time.Minute),
		RedisURL:        env("REDIS_URL"),
		NATSURL:         env("NATS_URL"),
		AnalyticsStream: env("ANALYTICS_STREAM"),

		RateLimitRPS:   envFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 20),

		RenderEnabled:   envBool("RENDER_ENABLED", false),
		ChromePath:      env("CHROME_PATH"),
		RenderWindow:    envDuration("RENDER_WINDOW", 15*time.Second),
		ChromeNoSandbox: envBool("CHROME_NO_SANDBOX", false),

		RequestTimeout: envDuration("REQUEST_TIMEOUT", 45*time.Second),

		HLSProxyBase:     env("HLS_PROXY_BASE"),
		HLSSigningSecret: env("HLS_SIGNING_SECRET"),
		HLSSignedTTL:     envDuration("HLS_SIGNED_TTL", 6*time.Hour),
	}, nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envInt(key string, def int) int {
	v := env(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := env(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	v := env(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func envBool(key string, def bool) bool {
	v := env(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
