package domain

// Enrichment is per-episode metadata from the secondary source.
type Enrichment struct {
	Image    string  `json:"image,omitempty"`
	Overview string  `json:"overview,omitempty"`
	AirDate  string  `json:"airDate,omitempty"`
	Runtime  int     `json:"runtime,omitempty"`
	Rating   float64 `json:"rating,omitempty"`
}

// EpisodeRecord is one catalog episode. Within an indexer result Number is
// strictly ascending and never duplicated.
type EpisodeRecord struct {
	Token      string      `json:"episodeId"`
	Number     int         `json:"number"`
	Title      string      `json:"title,omitempty"`
	Snapshot   string      `json:"snapshot,omitempty"`
	IsFiller   bool        `json:"isFiller,omitempty"`
	Enrichment *Enrichment `json:"enrichment,omitempty"`
}

// Details is the catalog-side description of a matched candidate.
type Details struct {
	Title    string   `json:"title,omitempty"`
	Episodes int      `json:"episodes,omitempty"`
	Genres   []string `json:"genres,omitempty"`
	Status   string   `json:"status,omitempty"`
	Season   string   `json:"season,omitempty"`
	Year     int      `json:"year,omitempty"`
	Type     string   `json:"type,omitempty"`
	Score    float64  `json:"score,omitempty"`
	Adult    bool     `json:"adult,omitempty"`
	HasSub   bool     `json:"hasSub,omitempty"`
	HasDub   bool     `json:"hasDub,omitempty"`
	// AnimeID is the catalog's internal numeric id when it differs from the
	// candidate id (AnimePahe detail pages, AnimeKai ajax calls).
	AnimeID string `json:"animeId,omitempty"`
}

// IsZero reports whether no detail field was populated.
func (d Details) IsZero() bool {
	return d.Title == "" && d.Episodes == 0 && len(d.Genres) == 0 && d.Status == "" &&
		d.Season == "" && d.Year == 0 && d.Type == "" && d.Score == 0 && d.AnimeID == ""
}

// EpisodePage is one page of an adapter's episode listing. Details is only
// set on pages that carry it; some catalogs expose it on the last page only.
type EpisodePage struct {
	Episodes []EpisodeRecord
	HasNext  bool
	Total    int
	Details  *Details
}
