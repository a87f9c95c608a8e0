package hianime

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/example/anime-mapper/services/mapper/internal/domain"
	"github.com/example/anime-mapper/services/mapper/internal/upstream"
)

// DefaultServer is used when the caller names none.
const DefaultServer = "vidstreaming"

var serverBlocks = []struct {
	selector string
	track    domain.Track
}{
	{".ps_-block.ps_-block-sub.servers-sub .ps__-list .server-item", domain.TrackSub},
	{".ps_-block.ps_-block-sub.servers-dub .ps__-list .server-item", domain.TrackDub},
	{".ps_-block.ps_-block-sub.servers-raw .ps__-list .server-item", domain.TrackRaw},
}

func episodeID(token string) (string, error) {
	_, ep, ok := strings.Cut(token, "?ep=")
	if !ok || strings.TrimSpace(ep) == "" {
		return "", fmt.Errorf("hianime: episode token %q: %w", token, domain.ErrInvalidRequest)
	}
	return ep, nil
}

// ListServers lists the sub, dub and raw servers of an episode token.
func (c *Client) ListServers(ctx context.Context, token string) ([]domain.Server, error) {
	ep, err := episodeID(token)
	if err != nil {
		return nil, err
	}
	doc, res, err := c.fragment(ctx, c.BaseURL+"/ajax/v2/episode/servers?episodeId="+url.QueryEscape(ep), c.ajaxHeaders(token))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(res.HTML) == "" {
		return nil, fmt.Errorf("hianime: no server data for %s: %w", token, domain.ErrNotFound)
	}

	var out []domain.Server
	for _, b := range serverBlocks {
		doc.Find(b.selector).Each(func(_ int, s *goquery.Selection) {
			id := strings.TrimSpace(s.AttrOr("data-server-id", ""))
			if id == "" {
				return
			}
			out = append(out, domain.Server{
				ID:    id,
				Name:  strings.ToLower(strings.TrimSpace(s.Find("a").Text())),
				Track: b.track,
			})
		})
	}
	return out, nil
}

type sourcesResponse struct {
	Type   string `json:"type"`
	Link   string `json:"link"`
	Server int    `json:"server"`
}

// ResolveEmbed asks the sources endpoint for the player link of srv.
func (c *Client) ResolveEmbed(ctx context.Context, token string, srv domain.Server) (domain.Embed, error) {
	ep, err := episodeID(token)
	if err != nil {
		return domain.Embed{}, err
	}
	u := fmt.Sprintf("%s/ajax/v2/episode/sources?id=%s&server=%s", c.BaseURL, url.QueryEscape(ep), url.QueryEscape(srv.ID))
	res, err := upstream.GetJSON[sourcesResponse](ctx, c.HTTP, u, c.ajaxHeaders(token))
	if err != nil {
		return domain.Embed{}, err
	}
	if res.Link == "" {
		return domain.Embed{}, fmt.Errorf("hianime: empty link for server %s: %w", srv.Name, domain.ErrNotFound)
	}
	return domain.Embed{URL: res.Link, Referer: res.Link}, nil
}
