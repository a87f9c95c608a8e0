// Package matching picks the catalog candidate that corresponds to a
// canonical media record.
package matching

import (
	"strconv"
	"strings"

	"github.com/example/anime-mapper/services/mapper/internal/domain"
	"github.com/example/anime-mapper/services/mapper/internal/titles"
)

// Input is the state shared by the rules of one resolution.
type Input struct {
	Media      domain.CanonicalMedia
	Candidates []domain.ProviderCandidate

	// Titles are the normalized canonical titles.
	Titles []string
	// Year is the canonical release year, 0 when unknown.
	Year int
	// YearFiltered holds the candidates released in Year.
	YearFiltered []domain.ProviderCandidate

	th Thresholds
}

// Rule is one step of the pipeline. Apply reports whether it produced the
// final answer.
type Rule struct {
	Name  string
	Apply func(in *Input) (domain.MatchScore, bool)
}

// Resolver evaluates Rules in order; the first rule that applies wins.
type Resolver struct {
	Rules      []Rule
	Thresholds Thresholds
}

// New returns a Resolver with the default rule order.
func New(th Thresholds) *Resolver {
	return &Resolver{Rules: DefaultRules(), Thresholds: th}
}

// NewDefault is New(DefaultThresholds()).
func NewDefault() *Resolver {
	return New(DefaultThresholds())
}

// DefaultRules are native id, year-gated exact, year-gated similarity,
// unfiltered exact, unfiltered similarity and positional fallback.
func DefaultRules() []Rule {
	return []Rule{
		NativeIDRule(),
		YearExactRule(),
		YearSimilarityRule(),
		ExactTitleRule(),
		SimilarityRule(),
		FallbackRule(),
	}
}

// WithRuleBefore returns a copy of r with rule inserted ahead of the rule
// named before. Unknown names append.
func (r *Resolver) WithRuleBefore(before string, rule Rule) *Resolver {
	rules := make([]Rule, 0, len(r.Rules)+1)
	inserted := false
	for _, existing := range r.Rules {
		if !inserted && existing.Name == before {
			rules = append(rules, rule)
			inserted = true
		}
		rules = append(rules, existing)
	}
	if !inserted {
		rules = append(rules, rule)
	}
	return &Resolver{Rules: rules, Thresholds: r.Thresholds}
}

// Resolve returns the best candidate or domain.NoMatch. It never fails.
func (r *Resolver) Resolve(media domain.CanonicalMedia, candidates []domain.ProviderCandidate) domain.MatchScore {
	if len(candidates) == 0 {
		return domain.NoMatch
	}
	in := r.prepare(media, candidates)
	for _, rule := range r.Rules {
		if m, ok := rule.Apply(in); ok {
			return m
		}
	}
	return domain.NoMatch
}

func (r *Resolver) prepare(media domain.CanonicalMedia, candidates []domain.ProviderCandidate) *Input {
	in := &Input{Media: media, Candidates: candidates, th: r.Thresholds}
	for _, t := range media.TitleList() {
		if n := titles.Normalize(t); n != "" {
			in.Titles = append(in.Titles, n)
		}
	}
	in.Year = media.ReleaseYear()
	if in.Year == 0 {
		for _, t := range []string{media.Titles.UserPreferred, media.Titles.English, media.Titles.Romaji} {
			if y := titles.ExtractYear(t); y > 0 {
				in.Year = y
				break
			}
		}
	}
	if in.Year > 0 {
		for _, c := range candidates {
			if candidateYear(c) == in.Year {
				in.YearFiltered = append(in.YearFiltered, c)
			}
		}
	}
	return in
}

func candidateYear(c domain.ProviderCandidate) int {
	if c.Year > 0 {
		return c.Year
	}
	return titles.ExtractYear(c.Title)
}

// candidateTitles returns the normalized titles a candidate can be matched
// on.
func candidateTitles(c domain.ProviderCandidate) []string {
	out := make([]string, 0, 2)
	for _, t := range []string{c.Title, c.AlternateTitle} {
		if n := titles.Normalize(t); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func found(c domain.ProviderCandidate, score float64, by domain.MatchedBy) (domain.MatchScore, bool) {
	return domain.MatchScore{Candidate: c, Score: score, MatchedBy: by}, true
}

// NativeIDRule picks a candidate whose catalog-native id equals the
// canonical id.
func NativeIDRule() Rule {
	return Rule{Name: "native-id", Apply: func(in *Input) (domain.MatchScore, bool) {
		want := strconv.Itoa(in.Media.ID)
		for _, c := range in.Candidates {
			if c.NativeID != "" && c.NativeID == want {
				return found(c, 1, domain.MatchedByNativeID)
			}
		}
		return domain.NoMatch, false
	}}
}

// YearExactRule returns the first same-year candidate whose title equals a
// canonical title or contains it (or is contained by it) with the shorter
// side longer than ContainMinLen.
func YearExactRule() Rule {
	return Rule{Name: "year-exact", Apply: func(in *Input) (domain.MatchScore, bool) {
		for _, c := range in.YearFiltered {
			for _, ct := range candidateTitles(c) {
				for _, t := range in.Titles {
					if ct == t ||
						(strings.Contains(ct, t) && len(t) > in.th.ContainMinLen) ||
						(strings.Contains(t, ct) && len(ct) > in.th.ContainMinLen) {
						return found(c, 1, domain.MatchedByExactTitle)
					}
				}
			}
		}
		return domain.NoMatch, false
	}}
}

// YearSimilarityRule accepts the first same-year candidate above
// YearSimilarity, else the first same-year candidate.
func YearSimilarityRule() Rule {
	return Rule{Name: "year-similarity", Apply: func(in *Input) (domain.MatchScore, bool) {
		if len(in.YearFiltered) == 0 {
			return domain.NoMatch, false
		}
		for _, c := range in.YearFiltered {
			for _, ct := range candidateTitles(c) {
				for _, t := range in.Titles {
					if s := titles.Similarity(t, ct); s > in.th.YearSimilarity {
						return found(c, s, domain.MatchedBySimilarity)
					}
				}
			}
		}
		return found(in.YearFiltered[0], 0, domain.MatchedByYear)
	}}
}

// ExactTitleRule scans every candidate for an exact normalized title.
func ExactTitleRule() Rule {
	return Rule{Name: "exact-title", Apply: func(in *Input) (domain.MatchScore, bool) {
		for _, c := range in.Candidates {
			for _, ct := range candidateTitles(c) {
				for _, t := range in.Titles {
					if ct == t {
						return found(c, 1, domain.MatchedByExactTitle)
					}
				}
			}
		}
		return domain.NoMatch, false
	}}
}

// SimilarityRule picks the highest-scoring candidate if it beats
// Similarity. Ties keep the earlier candidate.
func SimilarityRule() Rule {
	return Rule{Name: "similarity", Apply: func(in *Input) (domain.MatchScore, bool) {
		best, bestIdx := 0.0, -1
		for i, c := range in.Candidates {
			for _, ct := range candidateTitles(c) {
				for _, t := range in.Titles {
					if s := titles.Similarity(t, ct); s > best {
						best, bestIdx = s, i
					}
				}
			}
		}
		if bestIdx >= 0 && best > in.th.Similarity {
			return found(in.Candidates[bestIdx], best, domain.MatchedBySimilarity)
		}
		return domain.NoMatch, false
	}}
}

// EpisodeCountRule accepts a candidate with the canonical episode count
// whose title contains, or is contained by, a canonical title.
func EpisodeCountRule() Rule {
	return Rule{Name: "episode-count", Apply: func(in *Input) (domain.MatchScore, bool) {
		want := in.Media.Episodes
		if want <= 0 {
			return domain.NoMatch, false
		}
		for _, c := range in.Candidates {
			if c.Episodes != want {
				continue
			}
			for _, ct := range candidateTitles(c) {
				for _, t := range in.Titles {
					if strings.Contains(ct, t) || strings.Contains(t, ct) {
						return found(c, titles.Similarity(t, ct), domain.MatchedByEpisodeHint)
					}
				}
			}
		}
		return domain.NoMatch, false
	}}
}

// FallbackRule returns the first candidate.
func FallbackRule() Rule {
	return Rule{Name: "fallback-first", Apply: func(in *Input) (domain.MatchScore, bool) {
		if len(in.Candidates) == 0 {
			return domain.NoMatch, false
		}
		return found(in.Candidates[0], 0, domain.MatchedByFallback)
	}}
}
