// Package handlers is the HTTP surface of the mapper: catalog mappings and
// stream source resolution per catalog.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/anime-mapper/internal/platform/api"
	"github.com/example/anime-mapper/internal/platform/httpserver"
	"github.com/example/anime-mapper/services/mapper/internal/cache"
	"github.com/example/anime-mapper/services/mapper/internal/catalog"
	"github.com/example/anime-mapper/services/mapper/internal/domain"
	"github.com/example/anime-mapper/services/mapper/internal/mapping"
	"github.com/example/anime-mapper/services/mapper/internal/sources"
)

const DefaultRequestTimeout = 45 * time.Second

// Mapper resolves an AniList id on a catalog.
type Mapper interface {
	Map(ctx context.Context, catalogName string, anilistID int) (mapping.Mapping, error)
}

// Resolver turns an episode token into a stream descriptor.
type Resolver interface {
	Resolve(ctx context.Context, req sources.Request) (domain.StreamDescriptor, error)
}

// ServerLister lists the playback servers of an episode.
type ServerLister interface {
	ListServers(ctx context.Context, episodeToken string) ([]domain.Server, error)
}

type Handlers struct {
	Mapper  Mapper
	Sources map[string]Resolver
	Servers ServerLister
	Proxy   *Proxy
	Timeout time.Duration
	Log     *zap.Logger
}

// CacheTTLs are the response cache lifetimes per route family.
type CacheTTLs struct {
	Map     time.Duration
	Sources time.Duration
}

// Routes registers every mapper route on r. store may be nil.
func (h *Handlers) Routes(r chi.Router, store cache.Store, ttl CacheTTLs) {
	if h.Log == nil {
		h.Log = zap.NewNop()
	}
	mapCache := cache.Middleware(store, ttl.Map, h.Log)
	srcCache := cache.Middleware(store, ttl.Sources, h.Log)

	r.Get("/", h.Info)

	r.Route("/animepahe", func(r chi.Router) {
		r.With(mapCache).Get("/map/{anilistId}", h.MapCatalog(catalog.AnimePahe))
		r.With(srcCache).Get("/sources/{session}/{episodeId}", h.PaheSources)
		r.With(srcCache).Get("/sources/{id}", h.PaheSources)
		r.With(srcCache).Get("/hls/{anilistId}/{episode}", h.PaheEpisode)
	})
	r.Route("/hianime", func(r chi.Router) {
		r.With(srcCache).Get("/servers/{animeId}", h.HiAnimeServers)
		r.With(srcCache).Get("/sources/{animeId}", h.HiAnimeSources)
		r.With(mapCache).Get("/{anilistId}", h.HiAnimeMap)
	})
	r.Route("/animekai", func(r chi.Router) {
		r.With(mapCache).Get("/map/{anilistId}", h.MapCatalog(catalog.AnimeKai))
		r.With(srcCache).Get("/sources/{episodeId}", h.KaiSources)
	})
}

var routeList = []string{
	"GET /animepahe/map/{anilistId}",
	"GET /animepahe/sources/{session}/{episodeId}",
	"GET /animepahe/sources/{id}",
	"GET /animepahe/hls/{anilistId}/{episode}",
	"GET /hianime/{anilistId}",
	"GET /hianime/servers/{animeId}?ep=",
	"GET /hianime/sources/{animeId}?ep=&server=&category=",
	"GET /animekai/map/{anilistId}",
	"GET /animekai/sources/{episodeId}?server=&dub=",
}

func (h *Handlers) Info(w http.ResponseWriter, _ *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"service": "anime-mapper",
		"routes":  routeList,
	})
}

// withTimeout bounds one request.
func (h *Handlers) withTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	d := h.Timeout
	if d <= 0 {
		d = DefaultRequestTimeout
	}
	return context.WithTimeout(r.Context(), d)
}

func anilistID(w http.ResponseWriter, r *http.Request, rid string) (int, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "anilistId"))
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		api.BadRequest(w, "INVALID_ANILIST_ID", "AniList id must be a positive integer", rid, map[string]any{"anilistId": raw})
		return 0, false
	}
	return id, true
}

// writeError maps a resolution failure onto the error envelope.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	rid := httpserver.RequestIDFromContext(r.Context())
	details := map[string]any{}
	var se *domain.StageError
	if errors.As(err, &se) {
		if se.Catalog != "" {
			details["catalog"] = se.Catalog
		}
		details["stage"] = string(se.Stage)
	}
	if len(details) == 0 {
		details = nil
	}

	h.Log.Error("request failed", zap.String("path", r.URL.Path), zap.String("request_id", rid), zap.Error(err))

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		api.GatewayTimeout(w, "TIMEOUT", "Upstream resolution timed out", rid)
	case errors.Is(err, domain.ErrExtractionFailed):
		if details == nil {
			details = map[string]any{}
		}
		details["hint"] = domain.RefererHint
		api.BadGateway(w, "EXTRACTION_FAILED", err.Error(), rid, details)
	case errors.Is(err, domain.ErrInvalidRequest):
		api.BadRequest(w, "INVALID_REQUEST", err.Error(), rid, details)
	case errors.Is(err, domain.ErrNotFound):
		api.NotFound(w, "NOT_FOUND", err.Error(), rid)
	case errors.Is(err, domain.ErrUpstream):
		api.BadGateway(w, "UPSTREAM_ERROR", err.Error(), rid, details)
	default:
		api.Internal(w, rid)
	}
}
