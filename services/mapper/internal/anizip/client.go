// Package anizip fetches per-episode metadata from ani.zip, keyed by
// episode number.
package anizip

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/example/anime-mapper/services/mapper/internal/domain"
	"github.com/example/anime-mapper/services/mapper/internal/upstream"
)

const DefaultBaseURL = "https://api.ani.zip/mappings"

// Episode is the enrichment for one episode number.
type Episode struct {
	Title string
	domain.Enrichment
}

// Provider is the port the episode indexer depends on.
type Provider interface {
	Episodes(ctx context.Context, anilistID int) (map[int]Episode, error)
}

type Client struct {
	BaseURL string
	HTTP    *upstream.Client
}

func New(baseURL string, hc *upstream.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = upstream.New("anizip")
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: hc}
}

type mappingsResponse struct {
	Episodes map[string]struct {
		Title struct {
			En string `json:"en"`
		} `json:"title"`
		Image    string          `json:"image"`
		Overview string          `json:"overview"`
		AirDate  string          `json:"airDate"`
		Runtime  json.RawMessage `json:"runtime"`
		Rating   json.RawMessage `json:"rating"`
	} `json:"episodes"`
}

func (c *Client) Episodes(ctx context.Context, anilistID int) (map[int]Episode, error) {
	u := c.BaseURL + "?anilist_id=" + strconv.Itoa(anilistID)
	res, err := upstream.GetJSON[mappingsResponse](ctx, c.HTTP, u, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[int]Episode, len(res.Episodes))
	for key, ep := range res.Episodes {
		n, err := strconv.Atoi(key)
		if err != nil || n <= 0 {
			// specials are keyed "S1", "S2"...
			continue
		}
		out[n] = Episode{
			Title: ep.Title.En,
			Enrichment: domain.Enrichment{
				Image:    ep.Image,
				Overview: ep.Overview,
				AirDate:  ep.AirDate,
				Runtime:  int(math.Round(parseNumber(ep.Runtime))),
				Rating:   parseNumber(ep.Rating),
			},
		}
	}
	return out, nil
}

// parseNumber accepts a number or a numeric string; anything else is 0.
func parseNumber(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return 0
}
