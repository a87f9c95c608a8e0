package animekai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/example/anime-mapper/services/mapper/internal/domain"
)

var langGroups = []struct {
	id    string
	track domain.Track
}{
	{"sub", domain.TrackSub},
	{"softsub", domain.TrackSub},
	{"dub", domain.TrackDub},
}

func episodeToken(token string) (string, error) {
	_, t, ok := strings.Cut(token, "$token=")
	if !ok || t == "" {
		return "", fmt.Errorf("animekai: episode token %q: %w", token, domain.ErrInvalidRequest)
	}
	return t, nil
}

// ListServers lists hard-sub, soft-sub and dub servers of an episode.
func (c *Client) ListServers(ctx context.Context, token string) ([]domain.Server, error) {
	t, err := episodeToken(token)
	if err != nil {
		return nil, err
	}
	html, err := c.ajax(ctx, "/ajax/links/list", "token", t)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("animekai: parse server list: %w", err)
	}
	var out []domain.Server
	for _, g := range langGroups {
		doc.Find(fmt.Sprintf(`.server-items.lang-group[data-id=%q] .server`, g.id)).Each(func(_ int, s *goquery.Selection) {
			lid := strings.TrimSpace(s.AttrOr("data-lid", ""))
			if lid == "" {
				return
			}
			out = append(out, domain.Server{
				ID:    lid,
				Name:  strings.ToLower(strings.TrimSpace(s.Text())),
				Track: g.track,
			})
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("animekai: no servers for %s: %w", token, domain.ErrNotFound)
	}
	return out, nil
}

type linkView struct {
	URL  string `json:"url"`
	Skip struct {
		Intro []int `json:"intro"`
		Outro []int `json:"outro"`
	} `json:"skip"`
}

// ResolveEmbed fetches the encrypted link of srv and decodes it.
func (c *Client) ResolveEmbed(ctx context.Context, _ string, srv domain.Server) (domain.Embed, error) {
	enc, err := c.ajax(ctx, "/ajax/links/view", "id", srv.ID)
	if err != nil {
		return domain.Embed{}, err
	}
	raw, err := c.Codec.Decode(ctx, enc)
	if err != nil {
		return domain.Embed{}, err
	}
	var view linkView
	if err := json.Unmarshal(raw, &view); err != nil {
		return domain.Embed{}, fmt.Errorf("animekai: decoded link: %w: %w", domain.ErrUpstream, err)
	}
	if view.URL == "" {
		return domain.Embed{}, fmt.Errorf("animekai: empty link for server %s: %w", srv.Name, domain.ErrNotFound)
	}
	return domain.Embed{URL: view.URL, Referer: c.BaseURL + "/"}, nil
}
