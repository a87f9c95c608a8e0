package matching

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"go.uber.org/zap"

	"github.com/example/anime-mapper/services/mapper/internal/domain"
	"github.com/example/anime-mapper/services/mapper/internal/titles"
)

// Searcher is the search half of a catalog adapter.
type Searcher interface {
	Search(ctx context.Context, title string) ([]domain.ProviderCandidate, error)
}

// SeriesResolver is the episode-aware resolver. It searches with each
// canonical title in turn and scores candidates with synonym-expanded word
// matching, a Sørensen–Dice blend and episode/format boosts.
type SeriesResolver struct {
	Thresholds Thresholds
	Log        *zap.Logger
	dice       *metrics.SorensenDice
}

func NewSeries(th Thresholds, log *zap.Logger) *SeriesResolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &SeriesResolver{Thresholds: th, Log: log, dice: metrics.NewSorensenDice()}
}

type scored struct {
	cand  domain.ProviderCandidate
	score float64
}

// Resolve returns domain.NoMatch when nothing clears the thresholds. Search
// failures are returned as-is.
func (r *SeriesResolver) Resolve(ctx context.Context, media domain.CanonicalMedia, s Searcher) (domain.MatchScore, error) {
	th := r.Thresholds
	mainTitle := media.SearchTitle("english")
	year := titles.ParenYear(mainTitle)

	var (
		best       scored
		alternates []scored
	)
	for _, q := range SearchTitles(media) {
		cands, err := s.Search(ctx, q)
		if err != nil {
			return domain.NoMatch, err
		}
		for _, c := range cands {
			if c.ProviderID == "" {
				continue
			}
			sc := r.Score(q, c, media, year)
			if sc > th.AlternateMin {
				alternates = append(alternates, scored{c, sc})
			}
			if sc > best.score {
				best = scored{c, sc}
			}
		}
		r.Log.Debug("series search", zap.String("query", q), zap.Int("candidates", len(cands)), zap.Float64("best", best.score))
		if best.score > th.EarlyStop {
			return domain.MatchScore{Candidate: best.cand, Score: best.score, MatchedBy: domain.MatchedBySimilarity}, nil
		}
	}

	if len(alternates) > 0 {
		return r.pickAlternate(media, alternates), nil
	}
	if best.score > th.BestMin {
		return domain.MatchScore{Candidate: best.cand, Score: best.score, MatchedBy: domain.MatchedBySimilarity}, nil
	}
	return domain.NoMatch, nil
}

func (r *SeriesResolver) pickAlternate(media domain.CanonicalMedia, alts []scored) domain.MatchScore {
	sort.SliceStable(alts, func(i, j int) bool { return alts[i].score > alts[j].score })

	if media.Episodes > 0 {
		for _, a := range alts {
			if a.cand.Type == domain.TypeSeries && a.cand.Episodes == media.Episodes {
				return domain.MatchScore{Candidate: a.cand, Score: a.score, MatchedBy: domain.MatchedByEpisodeHint}
			}
		}
	}

	overall := alts[0]
	for _, a := range alts {
		if a.cand.Type != domain.TypeSeries {
			continue
		}
		if overall.score-a.score < r.Thresholds.SeriesMargin {
			return domain.MatchScore{Candidate: a.cand, Score: a.score, MatchedBy: domain.MatchedBySimilarity}
		}
		break
	}
	return domain.MatchScore{Candidate: overall.cand, Score: overall.score, MatchedBy: domain.MatchedBySimilarity}
}

// Score rates candidate c found by searching for query. year is the raw
// "(YYYY)" year of the canonical title, or "".
func (r *SeriesResolver) Score(query string, c domain.ProviderCandidate, media domain.CanonicalMedia, year string) float64 {
	th := r.Thresholds
	score := r.TitleScore(query, c.Title)

	if c.Type == domain.TypeSeries && media.Episodes > th.SeriesMinEpisodes {
		score += th.SeriesBoost
	}
	if media.Episodes > 0 && c.Episodes == media.Episodes {
		score += th.EpisodeBoost
	}
	if year != "" && c.AlternateTitle != "" && strings.Contains(c.AlternateTitle, year) {
		score += th.YearBoost
	}
	if c.Type == domain.TypeMovie && media.Episodes > 1 {
		score -= th.MoviePenalty
	}
	return score
}

// TitleScore blends the variation-aware word match ratio with Sørensen–Dice
// similarity of the normalized titles.
func (r *SeriesResolver) TitleScore(query, title string) float64 {
	nq, nt := titles.Normalize(query), titles.Normalize(title)
	if nq == nt {
		return 1
	}
	qWords, tWords := strings.Fields(nq), strings.Fields(nt)
	if len(qWords) == 0 {
		return 0
	}

	tVars := make([][]string, len(tWords))
	for j, w := range tWords {
		tVars[j] = titles.Variations(w)
	}

	matches, partial := 0, 0.0
	for _, qw := range qWords {
		bestWord := wordMatch(titles.Variations(qw), tVars)
		if bestWord == 1 {
			matches++
		} else if bestWord > 0 {
			partial += bestWord
		}
	}
	wordScore := (float64(matches) + partial*r.Thresholds.PartialWeight) / float64(len(qWords))
	dice := strutil.Similarity(nq, nt, r.dice)
	return wordScore*r.Thresholds.WordWeight + dice*r.Thresholds.DiceWeight
}

func wordMatch(qVars []string, tVars [][]string) float64 {
	best := 0.0
	for _, tv := range tVars {
		for _, a := range qVars {
			for _, b := range tv {
				if a == b {
					return 1
				}
				if strings.Contains(a, b) || strings.Contains(b, a) {
					short, long := len(a), len(b)
					if short > long {
						short, long = long, short
					}
					if ratio := float64(short) / float64(long); ratio > best {
						best = ratio
					}
				}
			}
		}
	}
	return best
}

// SearchTitles lists the queries tried in order: english, romaji, then
// synonyms, skipping blanks, duplicates and titles written in Han script.
func SearchTitles(media domain.CanonicalMedia) []string {
	raw := append([]string{media.Titles.English, media.Titles.Romaji}, media.Synonyms...)
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, t := range raw {
		t = strings.TrimSpace(t)
		if t == "" || hasHan(t) {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func hasHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}
