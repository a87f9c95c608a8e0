// Package mapping orchestrates one AniList id against one catalog: fetch
// the canonical record, search, resolve identity, index episodes and, where
// the catalog benefits, merge enrichment.
package mapping

import (
	"encoding/json"

	"github.com/example/anime-mapper/services/mapper/internal/domain"
)

// Entry is the matched catalog record with its episode listing.
type Entry struct {
	ID             string                 `json:"id"`
	Title          string                 `json:"title"`
	AlternateTitle string                 `json:"japaneseTitle,omitempty"`
	Type           string                 `json:"type,omitempty"`
	Status         string                 `json:"status,omitempty"`
	Season         string                 `json:"season,omitempty"`
	Year           int                    `json:"year,omitempty"`
	Score          float64                `json:"score,omitempty"`
	Poster         string                 `json:"posterImage,omitempty"`
	Session        string                 `json:"session,omitempty"`
	URL            string                 `json:"url,omitempty"`
	MatchedBy      domain.MatchedBy       `json:"matchedBy"`
	Confidence     float64                `json:"confidence"`
	Details        *domain.Details        `json:"details,omitempty"`
	TotalEpisodes  int                    `json:"totalEpisodes"`
	Episodes       []domain.EpisodeRecord `json:"episodes"`
}

// Mapping is the result for one catalog. Entry is nil when nothing matched.
type Mapping struct {
	AniListID int
	Title     string
	Catalog   string
	Entry     *Entry
}

// MarshalJSON keys the entry by catalog name, e.g. {"id":21,"animepahe":{…}}.
func (m Mapping) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"id":      m.AniListID,
		m.Catalog: m.Entry,
	}
	if m.Title != "" {
		out["title"] = m.Title
	}
	return json.Marshal(out)
}

// Episode finds an episode by number.
func (m Mapping) Episode(number int) (domain.EpisodeRecord, bool) {
	if m.Entry == nil {
		return domain.EpisodeRecord{}, false
	}
	for _, ep := range m.Entry.Episodes {
		if ep.Number == number {
			return ep, true
		}
	}
	return domain.EpisodeRecord{}, false
}

func newEntry(ms domain.MatchScore) *Entry {
	c := ms.Candidate
	return &Entry{
		ID:             c.ProviderID,
		Title:          c.Title,
		AlternateTitle: c.AlternateTitle,
		Type:           c.RawType,
		Status:         c.Status,
		Season:         c.Season,
		Year:           c.Year,
		Score:          c.Score,
		Poster:         c.Poster,
		Session:        c.Session,
		URL:            c.URL,
		MatchedBy:      ms.MatchedBy,
		Confidence:     ms.Score,
		Episodes:       []domain.EpisodeRecord{},
	}
}
