// Package domain holds the value types shared by the matching, indexing and
// source-resolution packages. Nothing here performs I/O.
package domain

// Titles are the title variants of a canonical media record.
type Titles struct {
	Romaji        string `json:"romaji,omitempty"`
	English       string `json:"english,omitempty"`
	Native        string `json:"native,omitempty"`
	UserPreferred string `json:"userPreferred,omitempty"`
}

// CanonicalMedia is the reference-catalog record used as ground truth for
// matching. It is immutable once fetched.
type CanonicalMedia struct {
	ID         int      `json:"id"`
	Titles     Titles   `json:"title"`
	Episodes   int      `json:"episodes,omitempty"`
	Year       int      `json:"year,omitempty"`
	SeasonYear int      `json:"seasonYear,omitempty"`
	Format     string   `json:"format,omitempty"`
	Status     string   `json:"status,omitempty"`
	Genres     []string `json:"genres,omitempty"`
	IsAdult    bool     `json:"isAdult,omitempty"`
	Synonyms   []string `json:"synonyms,omitempty"`
}

// ReleaseYear is the start year, else the season year, else 0.
func (m CanonicalMedia) ReleaseYear() int {
	if m.Year > 0 {
		return m.Year
	}
	return m.SeasonYear
}

// TitleList returns romaji, english and user-preferred titles, skipping
// blanks and duplicates.
func (m CanonicalMedia) TitleList() []string {
	return uniqueNonEmpty(m.Titles.Romaji, m.Titles.English, m.Titles.UserPreferred)
}

// SearchTitle picks the title to query catalogs with, honoring the given
// order of preference: "romaji" or "english".
func (m CanonicalMedia) SearchTitle(prefer string) string {
	var order []string
	if prefer == "english" {
		order = []string{m.Titles.English, m.Titles.Romaji, m.Titles.UserPreferred}
	} else {
		order = []string{m.Titles.Romaji, m.Titles.English, m.Titles.UserPreferred}
	}
	for _, t := range order {
		if t != "" {
			return t
		}
	}
	return ""
}

func uniqueNonEmpty(in ...string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// ContentType classifies a candidate.
type ContentType string

const (
	TypeSeries ContentType = "series"
	TypeMovie  ContentType = "movie"
	TypeOther  ContentType = "other"
)

// ProviderCandidate is one search result from a catalog adapter.
type ProviderCandidate struct {
	ProviderID     string      `json:"id"`
	NativeID       string      `json:"-"`
	Title          string      `json:"title"`
	AlternateTitle string      `json:"alternateTitle,omitempty"`
	Year           int         `json:"year,omitempty"`
	Episodes       int         `json:"episodes,omitempty"`
	Type           ContentType `json:"type,omitempty"`
	RawType        string      `json:"rawType,omitempty"`
	Session        string      `json:"session,omitempty"`
	Poster         string      `json:"poster,omitempty"`
	URL            string      `json:"url,omitempty"`
	Status         string      `json:"status,omitempty"`
	Season         string      `json:"season,omitempty"`
	Score          float64     `json:"score,omitempty"`
}

// MatchedBy names the rule that produced a match.
type MatchedBy string

const (
	MatchedByNativeID    MatchedBy = "native-id"
	MatchedByExactTitle  MatchedBy = "exact-title"
	MatchedByYear        MatchedBy = "year-filtered"
	MatchedBySimilarity  MatchedBy = "similarity"
	MatchedByFallback    MatchedBy = "fallback-first"
	MatchedByEpisodeHint MatchedBy = "episode-count"
)

// MatchScore is the outcome of identity resolution. The zero value is
// NoMatch.
type MatchScore struct {
	Candidate ProviderCandidate `json:"candidate"`
	Score     float64           `json:"score"`
	MatchedBy MatchedBy         `json:"matchedBy"`
}

// NoMatch means no candidate cleared the resolver. It is a result, not an
// error.
var NoMatch = MatchScore{}

func (m MatchScore) Found() bool { return m.MatchedBy != "" }
