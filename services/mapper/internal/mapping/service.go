package mapping

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/example/anime-mapper/internal/platform/analytics"
	"github.com/example/anime-mapper/services/mapper/internal/anilist"
	"github.com/example/anime-mapper/services/mapper/internal/catalog"
	"github.com/example/anime-mapper/services/mapper/internal/domain"
	"github.com/example/anime-mapper/services/mapper/internal/episodes"
	"github.com/example/anime-mapper/services/mapper/internal/matching"
	"github.com/example/anime-mapper/services/mapper/internal/titles"
)

// Resolution outcomes passed to the recorder.
const (
	OutcomeMatched = "matched"
	OutcomeNoMatch = "no_match"
	OutcomeFailed  = "error"
)

type Service struct {
	Meta    anilist.Provider
	Indexer *episodes.Indexer
	Log     *zap.Logger

	adapters map[string]catalog.Adapter
	th       matching.Thresholds
	resolver *matching.Resolver
	kai      *matching.Resolver
	series   *matching.SeriesResolver
	events   *analytics.Publisher
	record   func(catalogName, outcome string)
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.Log = log }
}

// WithThresholds replaces the matching constants of every resolver.
func WithThresholds(th matching.Thresholds) Option {
	return func(s *Service) { s.th = th }
}

func WithAnalytics(p *analytics.Publisher) Option {
	return func(s *Service) { s.events = p }
}

func WithRecorder(f func(catalogName, outcome string)) Option {
	return func(s *Service) { s.record = f }
}

// KaiResolver is the default pipeline with an episode-count rule ahead of
// the positional fallback.
func KaiResolver(th matching.Thresholds) *matching.Resolver {
	return matching.New(th).WithRuleBefore("fallback-first", matching.EpisodeCountRule())
}

func New(meta anilist.Provider, ix *episodes.Indexer, adapters []catalog.Adapter, opts ...Option) *Service {
	s := &Service{
		Meta:     meta,
		Indexer:  ix,
		Log:      zap.NewNop(),
		adapters: make(map[string]catalog.Adapter, len(adapters)),
		th:       matching.DefaultThresholds(),
	}
	for _, a := range adapters {
		s.adapters[a.Name()] = a
	}
	for _, o := range opts {
		o(s)
	}
	s.resolver = matching.New(s.th)
	s.kai = KaiResolver(s.th)
	s.series = matching.NewSeries(s.th, s.Log)
	if s.Indexer == nil {
		s.Indexer = episodes.New(nil, s.Log)
	}
	return s
}

// Adapter returns the adapter registered under name.
func (s *Service) Adapter(name string) (catalog.Adapter, bool) {
	a, ok := s.adapters[name]
	return a, ok
}

// Map resolves anilistID on the named catalog.
func (s *Service) Map(ctx context.Context, catalogName string, anilistID int) (Mapping, error) {
	a, ok := s.adapters[catalogName]
	if !ok {
		return Mapping{}, fmt.Errorf("mapping: unknown catalog %q: %w", catalogName, domain.ErrInvalidRequest)
	}
	if anilistID <= 0 {
		return Mapping{}, fmt.Errorf("mapping: anilist id %d: %w", anilistID, domain.ErrInvalidRequest)
	}
	log := s.Log.With(zap.String("catalog", catalogName), zap.Int("anilist_id", anilistID))

	media, err := s.Meta.FetchCanonical(ctx, anilistID)
	if err != nil {
		s.outcome(catalogName, OutcomeFailed)
		return Mapping{}, domain.Wrap("anilist", domain.StageMetadata, domain.ErrUpstream, err)
	}

	var (
		match domain.MatchScore
		title string
	)
	switch catalogName {
	case catalog.AnimePahe:
		title, match, err = s.matchPahe(ctx, a, media)
	case catalog.HiAnime:
		title = media.SearchTitle("english")
		match, err = s.series.Resolve(ctx, media, a)
	default:
		title = media.SearchTitle("english")
		match, err = s.matchWith(ctx, a, s.kai, media, title)
	}
	if err != nil {
		s.outcome(catalogName, OutcomeFailed)
		return Mapping{}, domain.Wrap(catalogName, domain.StageSearch, domain.ErrUpstream, err)
	}

	out := Mapping{AniListID: media.ID, Title: title, Catalog: catalogName}
	if !match.Found() {
		log.Info("no catalog match", zap.String("title", title))
		s.outcome(catalogName, OutcomeNoMatch)
		return out, nil
	}
	log.Info("catalog match",
		zap.String("candidate", match.Candidate.ProviderID),
		zap.String("matched_by", string(match.MatchedBy)),
		zap.Float64("score", match.Score))

	entry := newEntry(match)
	listing, err := s.Indexer.List(ctx, a, listingKey(catalogName, match.Candidate))
	if err != nil {
		s.outcome(catalogName, OutcomeFailed)
		return Mapping{}, err
	}
	eps := listing.Episodes
	if catalogName != catalog.AnimePahe {
		eps = s.Indexer.Enrich(ctx, media.ID, eps)
	}
	entry.Episodes = eps
	entry.TotalEpisodes = len(eps)
	entry.Details = listing.Details
	out.Entry = entry

	s.outcome(catalogName, OutcomeMatched)
	s.events.Publish(analytics.SubjectMapperResolved, "mapping_resolved", strconv.Itoa(media.ID), map[string]any{
		"catalog":      catalogName,
		"candidate_id": match.Candidate.ProviderID,
		"matched_by":   string(match.MatchedBy),
		"score":        match.Score,
		"episodes":     entry.TotalEpisodes,
	})
	return out, nil
}

func (s *Service) outcome(catalogName, outcome string) {
	if s.record != nil {
		s.record(catalogName, outcome)
	}
}

// listingKey is what the adapter's episode listing is keyed on. AnimePahe
// lists by anime session.
func listingKey(catalogName string, c domain.ProviderCandidate) string {
	if catalogName == catalog.AnimePahe && c.Session != "" {
		return c.Session
	}
	return c.ProviderID
}

func (s *Service) matchWith(ctx context.Context, a catalog.Adapter, r *matching.Resolver, media domain.CanonicalMedia, title string) (domain.MatchScore, error) {
	if title == "" {
		return domain.NoMatch, nil
	}
	cands, err := a.Search(ctx, title)
	if err != nil {
		return domain.NoMatch, err
	}
	return r.Resolve(media, cands), nil
}

// matchPahe searches the romaji title first and, when that finds nothing,
// retries once with the english title stripped of year groups.
func (s *Service) matchPahe(ctx context.Context, a catalog.Adapter, media domain.CanonicalMedia) (string, domain.MatchScore, error) {
	title := media.SearchTitle("romaji")
	if title == "" {
		return "", domain.NoMatch, nil
	}
	cands, err := a.Search(ctx, title)
	if err != nil {
		return title, domain.NoMatch, err
	}
	if len(cands) == 0 {
		generic := titles.StripYear(media.SearchTitle("english"))
		if generic == "" || generic == title {
			return title, domain.NoMatch, nil
		}
		s.Log.Debug("retrying search with generic title", zap.String("title", generic))
		if cands, err = a.Search(ctx, generic); err != nil {
			return generic, domain.NoMatch, err
		}
		title = generic
	}
	return title, s.resolver.Resolve(media, cands), nil
}
