package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/anime-mapper/internal/platform/api"
	"github.com/example/anime-mapper/internal/platform/httpserver"
	"github.com/example/anime-mapper/services/mapper/internal/catalog"
	"github.com/example/anime-mapper/services/mapper/internal/catalog/hianime"
	"github.com/example/anime-mapper/services/mapper/internal/domain"
	"github.com/example/anime-mapper/services/mapper/internal/sources"
)

func (h *Handlers) resolve(w http.ResponseWriter, r *http.Request, catalogName string, req sources.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	p, ok := h.Sources[catalogName]
	if !ok {
		api.NotFound(w, "CATALOG_DISABLED", catalogName+" sources are not configured", rid)
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	d, err := p.Resolve(ctx, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.sign(&d)
	api.WriteJSON(w, http.StatusOK, d)
}

func (h *Handlers) sign(d *domain.StreamDescriptor) {
	if h.Proxy == nil {
		return
	}
	u, err := h.Proxy.Sign(*d)
	if err != nil {
		h.Log.Warn("hls proxy signing failed", zap.Error(err))
		return
	}
	d.ProxyURL = u
}

func trackParam(r *http.Request) domain.Track {
	return domain.ParseTrack(r.URL.Query().Get("category"))
}

// PaheSources serves /sources/{session}/{episodeId} and the single-segment
// form, where the token arrives path-escaped ("a%2Fb").
func (h *Handlers) PaheSources(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	token := chi.URLParam(r, "id")
	if session := chi.URLParam(r, "session"); session != "" {
		token = session + "/" + chi.URLParam(r, "episodeId")
	} else if un, err := url.PathUnescape(token); err == nil {
		token = un
	}
	if !strings.Contains(token, "/") {
		api.BadRequest(w, "INVALID_EPISODE_ID", "Episode id must be session/episodeSession", rid, map[string]any{"id": token})
		return
	}
	q := r.URL.Query()
	h.resolve(w, r, catalog.AnimePahe, sources.Request{Token: token, Server: q.Get("server"), Track: trackParam(r)})
}

type episodeSourcesResponse struct {
	Episode int                     `json:"episode"`
	Sources domain.StreamDescriptor `json:"sources"`
	Image   string                  `json:"image,omitempty"`
}

// PaheEpisode maps the AniList id, picks the episode by number and resolves
// its sources.
func (h *Handlers) PaheEpisode(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	id, ok := anilistID(w, r, rid)
	if !ok {
		return
	}
	raw := chi.URLParam(r, "episode")
	num, err := strconv.Atoi(raw)
	if err != nil || num <= 0 {
		api.BadRequest(w, "INVALID_EPISODE", "Episode must be a positive integer", rid, map[string]any{"episode": raw})
		return
	}
	p, ok := h.Sources[catalog.AnimePahe]
	if !ok {
		api.NotFound(w, "CATALOG_DISABLED", "animepahe sources are not configured", rid)
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	m, err := h.Mapper.Map(ctx, catalog.AnimePahe, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if m.Entry == nil {
		api.NotFound(w, "NO_MATCH", fmt.Sprintf("No animepahe entry for AniList id %d", id), rid)
		return
	}
	ep, ok := m.Episode(num)
	if !ok {
		api.NotFound(w, "EPISODE_NOT_FOUND", fmt.Sprintf("Episode %d not found", num), rid)
		return
	}
	q := r.URL.Query()
	d, err := p.Resolve(ctx, sources.Request{Token: ep.Token, Server: q.Get("server"), Track: trackParam(r)})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.sign(&d)
	api.WriteJSON(w, http.StatusOK, episodeSourcesResponse{Episode: num, Sources: d, Image: ep.Snapshot})
}

func hianimeToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	rid := httpserver.RequestIDFromContext(r.Context())
	animeID := strings.TrimSpace(chi.URLParam(r, "animeId"))
	ep := strings.TrimSpace(r.URL.Query().Get("ep"))
	if animeID == "" || ep == "" {
		api.BadRequest(w, "INVALID_EPISODE_ID", "animeId and ep are required", rid, map[string]any{"animeId": animeID, "ep": ep})
		return "", false
	}
	return animeID + "?ep=" + ep, true
}

type serversResponse struct {
	EpisodeID string          `json:"episodeId"`
	Sub       []domain.Server `json:"sub"`
	Dub       []domain.Server `json:"dub"`
	Raw       []domain.Server `json:"raw"`
}

func (h *Handlers) HiAnimeServers(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	token, ok := hianimeToken(w, r)
	if !ok {
		return
	}
	if h.Servers == nil {
		api.NotFound(w, "CATALOG_DISABLED", "hianime sources are not configured", rid)
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	list, err := h.Servers.ListServers(ctx, token)
	if err != nil {
		h.writeError(w, r, domain.Wrap(catalog.HiAnime, domain.StageSession, domain.ErrUpstream, err))
		return
	}
	out := serversResponse{EpisodeID: token, Sub: []domain.Server{}, Dub: []domain.Server{}, Raw: []domain.Server{}}
	for _, s := range list {
		switch s.Track {
		case domain.TrackDub:
			out.Dub = append(out.Dub, s)
		case domain.TrackRaw:
			out.Raw = append(out.Raw, s)
		default:
			out.Sub = append(out.Sub, s)
		}
	}
	api.WriteJSON(w, http.StatusOK, out)
}

func (h *Handlers) HiAnimeSources(w http.ResponseWriter, r *http.Request) {
	token, ok := hianimeToken(w, r)
	if !ok {
		return
	}
	server := r.URL.Query().Get("server")
	if server == "" {
		server = hianime.DefaultServer
	}
	h.resolve(w, r, catalog.HiAnime, sources.Request{Token: token, Server: server, Track: trackParam(r)})
}

func (h *Handlers) KaiSources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	track := domain.TrackSub
	if dub, _ := strconv.ParseBool(q.Get("dub")); dub {
		track = domain.TrackDub
	}
	h.resolve(w, r, catalog.AnimeKai, sources.Request{Token: chi.URLParam(r, "episodeId"), Server: q.Get("server"), Track: track})
}
