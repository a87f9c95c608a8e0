package handlers

import (
	"net/http"

	"github.com/example/anime-mapper/internal/platform/api"
	"github.com/example/anime-mapper/internal/platform/httpserver"
	"github.com/example/anime-mapper/services/mapper/internal/catalog"
	"github.com/example/anime-mapper/services/mapper/internal/domain"
)

// MapCatalog serves the mapping of one AniList id on catalogName. A
// missing match is a 200 with a null catalog entry.
func (h *Handlers) MapCatalog(catalogName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := httpserver.RequestIDFromContext(r.Context())
		id, ok := anilistID(w, r, rid)
		if !ok {
			return
		}
		ctx, cancel := h.withTimeout(r)
		defer cancel()

		m, err := h.Mapper.Map(ctx, catalogName, id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, m)
	}
}

type hianimeResponse struct {
	AniListID     int                    `json:"anilistId"`
	HiAnimeID     *string                `json:"hianimeId"`
	Title         string                 `json:"title"`
	TotalEpisodes int                    `json:"totalEpisodes"`
	Episodes      []domain.EpisodeRecord `json:"episodes"`
}

func (h *Handlers) HiAnimeMap(w http.ResponseWriter, r *http.Request) {
	rid := httpserver.RequestIDFromContext(r.Context())
	id, ok := anilistID(w, r, rid)
	if !ok {
		return
	}
	ctx, cancel := h.withTimeout(r)
	defer cancel()

	m, err := h.Mapper.Map(ctx, catalog.HiAnime, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := hianimeResponse{AniListID: m.AniListID, Title: m.Title, Episodes: []domain.EpisodeRecord{}}
	if m.Entry != nil {
		hid := m.Entry.ID
		out.HiAnimeID = &hid
		out.Title = m.Entry.Title
		out.TotalEpisodes = m.Entry.TotalEpisodes
		out.Episodes = m.Entry.Episodes
	}
	api.WriteJSON(w, http.StatusOK, out)
}
