// Package hianime adapts HiAnime: HTML search, AJAX episode and server
// listings that wrap HTML fragments in JSON, and a sources endpoint that
// returns the embed link.
package hianime

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/example/anime-mapper/services/mapper/internal/catalog"
	"github.com/example/anime-mapper/services/mapper/internal/domain"
	"github.com/example/anime-mapper/services/mapper/internal/upstream"
)

const DefaultBaseURL = "https://hianimez.to"

type Client struct {
	BaseURL string
	HTTP    *upstream.Client
	Log     *zap.Logger
}

// Option configures the Client.
type Option func(*Client)

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.Log = log }
}

func New(baseURL string, hc *upstream.Client, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = upstream.New(catalog.HiAnime)
	}
	c := &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: hc, Log: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Name() string { return catalog.HiAnime }

type htmlResponse struct {
	Status     bool   `json:"status"`
	HTML       string `json:"html"`
	TotalItems int    `json:"totalItems"`
}

func (c *Client) ajaxHeaders(referer string) map[string]string {
	return map[string]string{
		"X-Requested-With": "XMLHttpRequest",
		"Referer":          c.BaseURL + "/watch/" + referer,
	}
}

func (c *Client) document(ctx context.Context, rawURL string, hdr map[string]string) (*goquery.Document, error) {
	b, err := c.HTTP.Get(ctx, rawURL, hdr)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("hianime: parse %s: %w", rawURL, err)
	}
	return doc, nil
}

func (c *Client) fragment(ctx context.Context, rawURL string, hdr map[string]string) (*goquery.Document, *htmlResponse, error) {
	res, err := upstream.GetJSON[htmlResponse](ctx, c.HTTP, rawURL, hdr)
	if err != nil {
		return nil, nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.HTML))
	if err != nil {
		return nil, nil, fmt.Errorf("hianime: parse fragment: %w", err)
	}
	return doc, res, nil
}

// Search scrapes the first result page. Candidate ids are the catalog slugs,
// e.g. "one-piece-100".
func (c *Client) Search(ctx context.Context, title string) ([]domain.ProviderCandidate, error) {
	doc, err := c.document(ctx, c.BaseURL+"/search?keyword="+url.QueryEscape(title), nil)
	if err != nil {
		return nil, err
	}
	var out []domain.ProviderCandidate
	doc.Find(".film_list-wrap > .flw-item").Each(func(_ int, item *goquery.Selection) {
		link := item.Find(".film-detail .film-name a").First()
		href, _ := link.Attr("href")
		slug := slugFromHref(href)
		if slug == "" {
			return
		}
		rawType := strings.TrimSpace(item.Find(".fd-infor .fdi-item").First().Text())
		out = append(out, domain.ProviderCandidate{
			ProviderID:     slug,
			Title:          strings.TrimSpace(link.Text()),
			AlternateTitle: strings.TrimSpace(link.AttrOr("data-jname", "")),
			Episodes:       leadingInt(item.Find(".tick-item.tick-eps").Text()),
			Type:           catalog.ClassifyType(rawType),
			RawType:        rawType,
			Poster:         item.Find(".film-poster img").AttrOr("data-src", ""),
			URL:            c.BaseURL + "/" + slug,
		})
	})
	return out, nil
}

func slugFromHref(href string) string {
	href, _, _ = strings.Cut(href, "?")
	href = strings.TrimRight(href, "/")
	if i := strings.LastIndex(href, "/"); i >= 0 {
		href = href[i+1:]
	}
	return href
}

func leadingInt(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, _ := strconv.Atoi(s[:end])
	return n
}

// numericID is the trailing "-<n>" of a slug, which the AJAX endpoints key on.
func numericID(slug string) string {
	if i := strings.LastIndex(slug, "-"); i >= 0 {
		return slug[i+1:]
	}
	return slug
}

// FetchDetails scrapes the anime page of slug.
func (c *Client) FetchDetails(ctx context.Context, slug string) (domain.Details, error) {
	if slug == "" {
		return domain.Details{}, fmt.Errorf("hianime: empty anime id: %w", domain.ErrInvalidRequest)
	}
	doc, err := c.document(ctx, c.BaseURL+"/"+url.PathEscape(slug), nil)
	if err != nil {
		return domain.Details{}, err
	}
	d := domain.Details{AnimeID: slug}
	d.Title = strings.TrimSpace(doc.Find(".anisc-detail .film-name").First().Text())
	stats := doc.Find(".anisc-detail .film-stats")
	d.HasSub = stats.Find(".tick-sub").Length() > 0
	d.HasDub = stats.Find(".tick-dub").Length() > 0
	d.Episodes = leadingInt(stats.Find(".tick-sub").Text())
	d.Type = strings.TrimSpace(stats.Find(".item").First().Text())
	doc.Find(".anisc-info .item").Each(func(_ int, s *goquery.Selection) {
		head := strings.TrimSpace(s.Find(".item-head").Text())
		value := strings.TrimSpace(s.Find(".name").Text())
		switch head {
		case "Status:":
			d.Status = value
		case "Premiered:":
			season, year, _ := strings.Cut(value, " ")
			d.Season = season
			d.Year, _ = strconv.Atoi(year)
		case "MAL Score:":
			d.Score, _ = strconv.ParseFloat(value, 64)
		case "Genres:":
			s.Find("a").Each(func(_ int, a *goquery.Selection) {
				d.Genres = append(d.Genres, strings.TrimSpace(a.Text()))
			})
		}
	})
	return d, nil
}

// FetchEpisodes returns the whole listing as one page. Episode tokens take
// the form "<slug>?ep=<episode id>".
func (c *Client) FetchEpisodes(ctx context.Context, slug string, _ int) (domain.EpisodePage, error) {
	if slug == "" {
		return domain.EpisodePage{}, fmt.Errorf("hianime: empty anime id: %w", domain.ErrInvalidRequest)
	}
	doc, _, err := c.fragment(ctx, c.BaseURL+"/ajax/v2/episode/list/"+numericID(slug), c.ajaxHeaders(slug))
	if err != nil {
		return domain.EpisodePage{}, err
	}
	var page domain.EpisodePage
	doc.Find("#detail-ss-list div.ss-list a").Each(func(i int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		_, epID, ok := strings.Cut(href, "?ep=")
		if !ok || epID == "" {
			return
		}
		n, err := strconv.Atoi(a.AttrOr("data-number", ""))
		if err != nil || n < 1 {
			n = i + 1
		}
		page.Episodes = append(page.Episodes, domain.EpisodeRecord{
			Token:    slug + "?ep=" + epID,
			Number:   n,
			Title:    strings.TrimSpace(a.AttrOr("title", "")),
			IsFiller: a.HasClass("ssl-item-filler"),
		})
	})
	page.Total = len(page.Episodes)
	return page, nil
}
