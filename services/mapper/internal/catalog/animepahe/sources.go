package animepahe

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/example/anime-mapper/services/mapper/internal/domain"
)

// ListServers reads the resolution buttons of the play page for a
// "<anime session>/<episode session>" token. Each button is one kwik embed.
func (c *Client) ListServers(ctx context.Context, token string) ([]domain.Server, error) {
	anime, episode, ok := strings.Cut(strings.Trim(token, "/"), "/")
	if !ok || anime == "" || episode == "" {
		return nil, fmt.Errorf("animepahe: episode token %q: %w", token, domain.ErrInvalidRequest)
	}
	b, err := c.HTTP.Get(ctx, c.BaseURL+"/play/"+anime+"/"+episode, c.headers())
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("animepahe: parse play page: %w", err)
	}

	var out []domain.Server
	doc.Find("#resolutionMenu > button").Each(func(_ int, s *goquery.Selection) {
		src := strings.TrimSpace(s.AttrOr("data-src", ""))
		if src == "" {
			return
		}
		quality := strings.TrimSpace(s.AttrOr("data-resolution", ""))
		if quality != "" && !strings.HasSuffix(quality, "p") {
			quality += "p"
		}
		name := strings.ToLower(strings.TrimSpace(s.AttrOr("data-fansub", "")))
		if name == "" {
			name = "kwik"
		}
		track := domain.TrackSub
		if strings.EqualFold(s.AttrOr("data-audio", ""), "eng") {
			track = domain.TrackDub
		}
		out = append(out, domain.Server{ID: src, Name: name, Track: track, Quality: quality})
	})
	if len(out) == 0 {
		return nil, fmt.Errorf("animepahe: no play buttons for %s: %w", token, domain.ErrNotFound)
	}
	return out, nil
}

// ResolveEmbed is direct: the button already carries the kwik URL.
func (c *Client) ResolveEmbed(_ context.Context, _ string, srv domain.Server) (domain.Embed, error) {
	if srv.ID == "" {
		return domain.Embed{}, fmt.Errorf("animepahe: server without embed: %w", domain.ErrInvalidRequest)
	}
	return domain.Embed{URL: srv.ID, Referer: KwikReferer}, nil
}

// Variants lists every play button as an alternative embed.
func (c *Client) Variants(servers []domain.Server) []domain.Variant {
	out := make([]domain.Variant, 0, len(servers))
	for _, s := range servers {
		out = append(out, domain.Variant{URL: s.ID, Quality: s.Quality, Track: s.Track, Referer: KwikReferer})
	}
	return out
}
