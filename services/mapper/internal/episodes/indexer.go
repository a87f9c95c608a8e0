// Package episodes turns a catalog's paginated episode listing into one
// ascending, duplicate-free list and merges per-episode enrichment.
package episodes

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/example/anime-mapper/services/mapper/internal/anizip"
	"github.com/example/anime-mapper/services/mapper/internal/catalog"
	"github.com/example/anime-mapper/services/mapper/internal/domain"
)

// DefaultMaxPages bounds the listing walk against catalogs that never stop
// reporting a next page.
const DefaultMaxPages = 200

// Listing is the aggregated episode listing of a candidate.
type Listing struct {
	Episodes []domain.EpisodeRecord `json:"episodes"`
	// Details is the last detail block any page carried.
	Details *domain.Details `json:"details,omitempty"`
	Total   int             `json:"totalEpisodes"`
}

type Indexer struct {
	Enricher anizip.Provider
	MaxPages int
	Log      *zap.Logger
}

func New(enricher anizip.Provider, log *zap.Logger) *Indexer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Indexer{Enricher: enricher, MaxPages: DefaultMaxPages, Log: log}
}

// List walks the pages of candidateID until the adapter reports no next
// page, then deduplicates by number (first occurrence wins) and sorts.
func (ix *Indexer) List(ctx context.Context, a catalog.Adapter, candidateID string) (Listing, error) {
	var (
		out Listing
		all []domain.EpisodeRecord
	)
	maxPages := ix.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return Listing{}, domain.Wrap(a.Name(), domain.StageEpisodes, domain.ErrUpstream, err)
		}
		p, err := a.FetchEpisodes(ctx, candidateID, page)
		if err != nil {
			return Listing{}, domain.Wrap(a.Name(), domain.StageEpisodes, domain.ErrUpstream, err)
		}
		all = append(all, p.Episodes...)
		if p.Details != nil {
			out.Details = p.Details
		}
		if !p.HasNext {
			break
		}
		if page >= maxPages {
			ix.Log.Warn("episode listing truncated", zap.String("catalog", a.Name()), zap.String("candidate", candidateID), zap.Int("pages", page))
			break
		}
	}
	out.Episodes = Normalize(all)
	out.Total = len(out.Episodes)
	ix.Log.Debug("episode listing built", zap.String("catalog", a.Name()), zap.String("candidate", candidateID), zap.Int("episodes", out.Total))
	return out, nil
}

// Normalize drops repeated episode numbers, keeping the first, and sorts
// ascending. The result does not depend on page order beyond which
// duplicate is kept.
func Normalize(in []domain.EpisodeRecord) []domain.EpisodeRecord {
	seen := make(map[int]struct{}, len(in))
	out := make([]domain.EpisodeRecord, 0, len(in))
	for _, ep := range in {
		if _, dup := seen[ep.Number]; dup {
			continue
		}
		seen[ep.Number] = struct{}{}
		out = append(out, ep)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Enrich merges secondary metadata by episode number. Failure to fetch it
// is logged and the records are returned untouched.
func (ix *Indexer) Enrich(ctx context.Context, canonicalID int, eps []domain.EpisodeRecord) []domain.EpisodeRecord {
	if ix.Enricher == nil || len(eps) == 0 {
		return eps
	}
	extra, err := ix.Enricher.Episodes(ctx, canonicalID)
	if err != nil {
		ix.Log.Warn("episode enrichment unavailable", zap.Int("anilist_id", canonicalID), zap.Error(err))
		return eps
	}
	for i := range eps {
		e, ok := extra[eps[i].Number]
		if !ok {
			continue
		}
		if e.Title != "" {
			eps[i].Title = e.Title
		}
		enr := e.Enrichment
		eps[i].Enrichment = &enr
	}
	return eps
}
