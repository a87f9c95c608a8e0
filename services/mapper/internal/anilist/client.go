package anilist

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/example/anime-mapper/services/mapper/internal/domain"
	"github.com/example/anime-mapper/services/mapper/internal/upstream"
)

const DefaultBaseURL = "https://graphql.anilist.co"

const mediaQuery = `query ($id: Int) {
  Media(id: $id, type: ANIME) {
    id
    title { romaji english native userPreferred }
    episodes
    status
    season
    seasonYear
    startDate { year month day }
    genres
    synonyms
    isAdult
    format
  }
}`

type Client struct {
	BaseURL string
	HTTP    *upstream.Client
}

func New(baseURL string, hc *upstream.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = upstream.New("anilist")
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: hc}
}

type mediaResponse struct {
	Data struct {
		Media *struct {
			ID    int `json:"id"`
			Title struct {
				Romaji        string `json:"romaji"`
				English       string `json:"english"`
				Native        string `json:"native"`
				UserPreferred string `json:"userPreferred"`
			} `json:"title"`
			Episodes   int    `json:"episodes"`
			Status     string `json:"status"`
			Season     string `json:"season"`
			SeasonYear int    `json:"seasonYear"`
			StartDate  struct {
				Year int `json:"year"`
			} `json:"startDate"`
			Genres   []string `json:"genres"`
			Synonyms []string `json:"synonyms"`
			IsAdult  bool     `json:"isAdult"`
			Format   string   `json:"format"`
		} `json:"Media"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
		Status  int    `json:"status"`
	} `json:"errors"`
}

// FetchCanonical loads the AniList record for id. A missing record is
// domain.ErrNotFound.
func (c *Client) FetchCanonical(ctx context.Context, id int) (domain.CanonicalMedia, error) {
	if id <= 0 {
		return domain.CanonicalMedia{}, fmt.Errorf("anilist: id %d: %w", id, domain.ErrInvalidRequest)
	}
	body := map[string]any{"query": mediaQuery, "variables": map[string]any{"id": id}}
	res, err := upstream.PostJSON[mediaResponse](ctx, c.HTTP, c.BaseURL, body, nil)
	if err != nil {
		if upstream.StatusOf(err) == http.StatusNotFound {
			return domain.CanonicalMedia{}, fmt.Errorf("anilist: media %d: %w", id, domain.ErrNotFound)
		}
		return domain.CanonicalMedia{}, err
	}
	if res.Data.Media == nil {
		for _, e := range res.Errors {
			if e.Status != 0 && e.Status != http.StatusNotFound {
				return domain.CanonicalMedia{}, fmt.Errorf("anilist: %s: %w", e.Message, domain.ErrUpstream)
			}
		}
		return domain.CanonicalMedia{}, fmt.Errorf("anilist: media %d: %w", id, domain.ErrNotFound)
	}

	m := res.Data.Media
	return domain.CanonicalMedia{
		ID: m.ID,
		Titles: domain.Titles{
			Romaji:        m.Title.Romaji,
			English:       m.Title.English,
			Native:        m.Title.Native,
			UserPreferred: m.Title.UserPreferred,
		},
		Episodes:   m.Episodes,
		Year:       m.StartDate.Year,
		SeasonYear: m.SeasonYear,
		Format:     m.Format,
		Status:     m.Status,
		Genres:     m.Genres,
		IsAdult:    m.IsAdult,
		Synonyms:   m.Synonyms,
	}, nil
}

// IsNotFound reports whether err means the media does not exist.
func IsNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }
