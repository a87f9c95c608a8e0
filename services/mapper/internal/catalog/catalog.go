// Package catalog defines the contract every target catalog adapter
// implements. The adapters own request shaping and markup parsing; callers
// only see domain values.
package catalog

import (
	"context"
	"strings"

	"github.com/example/anime-mapper/services/mapper/internal/domain"
)

// Adapter is the search/details/episodes capability set of a catalog.
type Adapter interface {
	Name() string
	Search(ctx context.Context, title string) ([]domain.ProviderCandidate, error)
	FetchDetails(ctx context.Context, candidateID string) (domain.Details, error)
	// FetchEpisodes returns one page (1-based) of the episode listing.
	FetchEpisodes(ctx context.Context, candidateID string, page int) (domain.EpisodePage, error)
}

// SourceProvider is the catalog half of source resolution: episode token to
// servers, and server to embed.
type SourceProvider interface {
	Name() string
	ListServers(ctx context.Context, episodeToken string) ([]domain.Server, error)
	ResolveEmbed(ctx context.Context, episodeToken string, srv domain.Server) (domain.Embed, error)
}

// Catalog names.
const (
	AnimePahe = "animepahe"
	AnimeKai  = "animekai"
	HiAnime   = "hianime"
)

// ClassifyType maps a catalog's format label to a content type.
func ClassifyType(label string) domain.ContentType {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "tv", "tv series", "series", "tv_short":
		return domain.TypeSeries
	case "movie":
		return domain.TypeMovie
	case "":
		return ""
	default:
		return domain.TypeOther
	}
}
