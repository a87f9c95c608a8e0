// Package app wires the mapper's clients, pipelines and HTTP surface from
// configuration. The HTTP server and the operator CLI share it.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/anime-mapper/internal/platform/analytics"
	"github.com/example/anime-mapper/internal/platform/httpserver"
	"github.com/example/anime-mapper/internal/platform/natsconn"
	"github.com/example/anime-mapper/internal/platform/signing"
	"github.com/example/anime-mapper/services/mapper/internal/anilist"
	"github.com/example/anime-mapper/services/mapper/internal/anizip"
	"github.com/example/anime-mapper/services/mapper/internal/cache"
	"github.com/example/anime-mapper/services/mapper/internal/catalog"
	"github.com/example/anime-mapper/services/mapper/internal/catalog/animekai"
	"github.com/example/anime-mapper/services/mapper/internal/catalog/animepahe"
	"github.com/example/anime-mapper/services/mapper/internal/catalog/hianime"
	"github.com/example/anime-mapper/services/mapper/internal/config"
	"github.com/example/anime-mapper/services/mapper/internal/decoder"
	"github.com/example/anime-mapper/services/mapper/internal/episodes"
	"github.com/example/anime-mapper/services/mapper/internal/handlers"
	"github.com/example/anime-mapper/services/mapper/internal/hlsproxy"
	"github.com/example/anime-mapper/services/mapper/internal/mapping"
	"github.com/example/anime-mapper/services/mapper/internal/metrics"
	"github.com/example/anime-mapper/services/mapper/internal/ratelimit"
	"github.com/example/anime-mapper/services/mapper/internal/render"
	"github.com/example/anime-mapper/services/mapper/internal/sources"
	"github.com/example/anime-mapper/services/mapper/internal/upstream"
)

type App struct {
	Cfg     config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics

	Mapping   *mapping.Service
	Pipelines map[string]*sources.Pipeline
	HiAnime   *hianime.Client
	Cache     cache.Store
	NATS      *nats.Conn
	Analytics *analytics.Publisher

	closers []func() error
}

// New builds every component. NATS and Redis are optional and only dialed
// when configured.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Cfg: cfg, Log: log, Metrics: metrics.New()}

	if cfg.NATSURL != "" {
		nc, err := natsconn.Connect(natsconn.Options{URL: cfg.NATSURL, Name: "anime-mapper", Logger: log})
		if err != nil {
			return nil, err
		}
		a.NATS = nc
		a.closers = append(a.closers, func() error { return nc.Drain() })
		a.Analytics, err = newAnalytics(nc, cfg.AnalyticsStream, log)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	if cfg.RedisURL != "" {
		rs, err := cache.NewRedisStore(cfg.RedisURL, "")
		if err != nil {
			a.Close()
			return nil, err
		}
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = rs.Ping(pctx)
		cancel()
		if err != nil {
			_ = rs.Close()
			a.Close()
			return nil, err
		}
		a.Cache = rs
		a.closers = append(a.closers, rs.Close)
	} else {
		ms := cache.NewMemoryStore(a.NATS, cache.InvalidateSubject, log)
		a.Cache = ms
		a.closers = append(a.closers, ms.Close)
	}

	dec := decoder.New(cfg.DecoderBaseURL, a.upstream("decoder"), decoder.WithLogger(log), decoder.WithMegaCloudURL(cfg.MegaCloudURL))
	pahe := animepahe.New(cfg.AnimePaheBaseURL, a.upstream(catalog.AnimePahe), animepahe.WithLogger(log))
	kai := animekai.New(cfg.AnimeKaiBaseURL, a.upstream(catalog.AnimeKai), dec, animekai.WithLogger(log))
	a.HiAnime = hianime.New(cfg.HiAnimeBaseURL, a.upstream(catalog.HiAnime), hianime.WithLogger(log))

	ix := episodes.New(anizip.New(cfg.AniZipBaseURL, a.upstream("anizip")), log)
	a.Mapping = mapping.New(
		anilist.New(cfg.AniListBaseURL, a.upstream("anilist")),
		ix,
		[]catalog.Adapter{pahe, kai, a.HiAnime},
		mapping.WithLogger(log),
		mapping.WithAnalytics(a.Analytics),
		mapping.WithRecorder(a.Metrics.Resolution),
	)

	renderer := a.renderer()
	embeds := a.upstream("embed")
	megacloud := sources.NewMegaCloud(embeds, dec, cfg.MegaCloudKeysURL, log)
	megaup := sources.NewMegaUp(embeds, dec)
	opts := []sources.Option{
		sources.WithLogger(log),
		sources.WithRenderer(renderer),
		sources.WithRecorder(a.recordSource),
	}
	a.Pipelines = map[string]*sources.Pipeline{
		catalog.AnimePahe: sources.New(pahe, nil, opts...),
		catalog.AnimeKai:  sources.New(kai, []sources.Extractor{megaup}, opts...),
		catalog.HiAnime:   sources.New(a.HiAnime, []sources.Extractor{megacloud}, opts...),
	}
	return a, nil
}

func (a *App) upstream(name string) *upstream.Client {
	cfg := a.Cfg
	cb := upstream.NewBreaker(name, upstream.BreakerSettings{
		MaxRequests:      cfg.CBMaxRequests,
		Interval:         cfg.CBInterval,
		Timeout:          cfg.CBTimeout,
		FailureThreshold: cfg.CBFailureThreshold,
	}, a.Log)
	opts := []upstream.Option{
		upstream.WithLogger(a.Log),
		upstream.WithTimeout(cfg.HTTPTimeout),
		upstream.WithUserAgent(cfg.UserAgent),
		upstream.WithObserver(a.Metrics.ObserveUpstream),
	}
	if cb != nil {
		opts = append(opts, upstream.WithCircuitBreaker(cb))
	}
	return upstream.New(name, opts...)
}

func (a *App) renderer() render.Renderer {
	if !a.Cfg.RenderEnabled {
		return render.Nop{}
	}
	ua := a.Cfg.UserAgent
	if ua == "" {
		ua = upstream.DefaultUserAgent
	}
	engine := render.Chrome{ExecPath: a.Cfg.ChromePath, UserAgent: ua, NoSandbox: a.Cfg.ChromeNoSandbox}
	return render.NewBrowser(engine, a.Cfg.RenderWindow, a.Log)
}

func (a *App) recordSource(catalogName, outcome string) {
	a.Metrics.SourceOutcome(catalogName, outcome)
	a.Analytics.Publish(analytics.SubjectSourceResolved, "source_resolved", catalogName, map[string]any{
		"catalog": catalogName,
		"outcome": outcome,
	})
}

// Router builds the HTTP surface: base middlewares and health endpoints,
// metrics, rate limiting and the mapper routes.
func (a *App) Router() chi.Router {
	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{ReadyFunc: a.Ready})
	r.Method(http.MethodGet, "/metrics", a.Metrics.Handler())

	h := &handlers.Handlers{
		Mapper:  a.Mapping,
		Sources: make(map[string]handlers.Resolver, len(a.Pipelines)),
		Servers: a.HiAnime,
		Proxy:   handlers.NewProxy(a.Cfg.HLSProxyBase, a.Cfg.HLSSigningSecret, a.Cfg.HLSSignedTTL),
		Timeout: a.Cfg.RequestTimeout,
		Log:     a.Log,
	}
	for name, p := range a.Pipelines {
		h.Sources[name] = p
	}

	lim := ratelimit.New(a.Cfg.RateLimitRPS, a.Cfg.RateLimitBurst)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RealIP)
		r.Use(a.Metrics.Middleware)
		if a.Cfg.HLSSigningSecret != "" {
			// Players fetch every segment through here, so it is not rate limited.
			r.Handle("/hls", hlsproxy.New(signing.New(a.Cfg.HLSSigningSecret), nil, a.Log))
		}
		r.Group(func(r chi.Router) {
			r.Use(lim.Middleware)
			h.Routes(r, a.Cache, handlers.CacheTTLs{Map: a.Cfg.MapCacheTTL, Sources: a.Cfg.SourcesCacheTTL})
		})
	})
	return r
}

// Ready reports whether the optional backends are reachable.
func (a *App) Ready() error {
	if a.NATS != nil && !a.NATS.IsConnected() {
		return errors.New("nats not connected")
	}
	if rs, ok := a.Cache.(*cache.RedisStore); ok {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := rs.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
