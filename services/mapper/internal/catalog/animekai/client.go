// Package animekai adapts AnimeKai. Every AJAX call carries a "_" token
// minted by the external encoder, and link payloads come back encrypted.
package animekai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/example/anime-mapper/services/mapper/internal/catalog"
	"github.com/example/anime-mapper/services/mapper/internal/domain"
	"github.com/example/anime-mapper/services/mapper/internal/upstream"
)

const DefaultBaseURL = "https://animekai.to"

// Codec is the slice of the external decoder this adapter needs.
type Codec interface {
	Encode(ctx context.Context, text string) (string, error)
	Decode(ctx context.Context, text string) (json.RawMessage, error)
}

type Client struct {
	BaseURL string
	HTTP    *upstream.Client
	Codec   Codec
	Log     *zap.Logger
}

// Option configures the Client.
type Option func(*Client)

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.Log = log }
}

func New(baseURL string, hc *upstream.Client, codec Codec, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = upstream.New(catalog.AnimeKai)
	}
	c := &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: hc, Codec: codec, Log: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Name() string { return catalog.AnimeKai }

func (c *Client) headers() map[string]string {
	return map[string]string{
		"Referer":          c.BaseURL + "/",
		"X-Requested-With": "XMLHttpRequest",
	}
}

type resultResponse struct {
	Status int    `json:"status"`
	Result string `json:"result"`
}

func (c *Client) document(ctx context.Context, rawURL string) (*goquery.Document, error) {
	b, err := c.HTTP.Get(ctx, rawURL, map[string]string{"Referer": c.BaseURL + "/"})
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("animekai: parse %s: %w", rawURL, err)
	}
	return doc, nil
}

// ajax calls path with key=value plus the minted "_" token for value.
func (c *Client) ajax(ctx context.Context, path, key, value string) (string, error) {
	if c.Codec == nil {
		return "", fmt.Errorf("animekai: no decoder configured: %w", domain.ErrUpstream)
	}
	enc, err := c.Codec.Encode(ctx, value)
	if err != nil {
		return "", err
	}
	u := fmt.Sprintf("%s%s?%s=%s&_=%s", c.BaseURL, path, key, url.QueryEscape(value), url.QueryEscape(enc))
	res, err := upstream.GetJSON[resultResponse](ctx, c.HTTP, u, c.headers())
	if err != nil {
		return "", err
	}
	return res.Result, nil
}

var (
	numberPattern = regexp.MustCompile(`\d+`)
	scorePattern  = regexp.MustCompile(`\d+(\.\d+)?`)
)

func firstInt(s string) int {
	n, _ := strconv.Atoi(numberPattern.FindString(s))
	return n
}

// Search scrapes the browser page. Candidate ids are watch slugs.
func (c *Client) Search(ctx context.Context, title string) ([]domain.ProviderCandidate, error) {
	doc, err := c.document(ctx, c.BaseURL+"/browser?keyword="+url.QueryEscape(title))
	if err != nil {
		return nil, err
	}
	var out []domain.ProviderCandidate
	doc.Find(".aitem").Each(func(_ int, item *goquery.Selection) {
		href := item.Find("div.inner > a").First().AttrOr("href", "")
		slug := strings.Trim(strings.TrimPrefix(href, "/watch/"), "/")
		if slug == "" {
			return
		}
		name := item.Find("a.title").First()
		info := item.Find(".info")
		episodes := max(firstInt(info.Find("span.sub").Text()), firstInt(info.Find("span.dub").Text()))
		rawType := strings.TrimSpace(info.Find("span").Last().Find("b").Text())
		out = append(out, domain.ProviderCandidate{
			ProviderID:     slug,
			Title:          strings.TrimSpace(name.Text()),
			AlternateTitle: strings.TrimSpace(name.AttrOr("data-jp", "")),
			Episodes:       episodes,
			Type:           catalog.ClassifyType(rawType),
			RawType:        rawType,
			Poster:         item.Find("img").AttrOr("data-src", ""),
			URL:            c.BaseURL + "/watch/" + slug,
		})
	})
	return out, nil
}

// FetchDetails scrapes /watch/<slug>. AnimeID is the internal ani id the
// episode endpoint keys on.
func (c *Client) FetchDetails(ctx context.Context, slug string) (domain.Details, error) {
	if slug == "" {
		return domain.Details{}, fmt.Errorf("animekai: empty anime id: %w", domain.ErrInvalidRequest)
	}
	doc, err := c.document(ctx, c.BaseURL+"/watch/"+url.PathEscape(slug))
	if err != nil {
		return domain.Details{}, err
	}
	d := domain.Details{
		Title:   strings.TrimSpace(doc.Find(".entity-scroll > .title").First().Text()),
		AnimeID: strings.TrimSpace(doc.Find("#anime-rating").AttrOr("data-id", "")),
	}
	info := doc.Find(".entity-scroll > .info")
	d.HasSub = info.Find(".sub").Length() > 0
	d.HasDub = info.Find(".dub").Length() > 0
	d.Episodes = max(firstInt(info.Find(".sub").Text()), firstInt(info.Find(".dub").Text()))
	d.Type = strings.TrimSpace(info.Find("span").Last().Text())
	switch strings.TrimSpace(info.Find(".rating").Text()) {
	case "R+", "Rx":
		d.Adult = true
	}

	doc.Find(".entity-scroll > .detail > div").Each(func(_ int, s *goquery.Selection) {
		text := strings.Join(strings.Fields(s.Text()), " ")
		switch {
		case strings.HasPrefix(text, "Genres:"):
			s.Find("span a").Each(func(_ int, a *goquery.Selection) {
				d.Genres = append(d.Genres, strings.TrimSpace(a.Text()))
			})
		case strings.HasPrefix(text, "Status:"):
			d.Status = strings.TrimSpace(strings.TrimPrefix(text, "Status:"))
		case strings.HasPrefix(text, "Premiered:"):
			season, year, _ := strings.Cut(strings.TrimSpace(strings.TrimPrefix(text, "Premiered:")), " ")
			d.Season = season
			d.Year, _ = strconv.Atoi(year)
		case strings.HasPrefix(text, "MAL:"):
			d.Score, _ = strconv.ParseFloat(scorePattern.FindString(text), 64)
		case strings.HasPrefix(text, "Episodes:") && d.Episodes == 0:
			d.Episodes = firstInt(text)
		}
	})
	if d.AnimeID == "" {
		return d, fmt.Errorf("animekai: no ani id on %s: %w", slug, domain.ErrNotFound)
	}
	return d, nil
}

// FetchEpisodes returns the whole listing as one page together with the
// detail block. Tokens take the form "<slug>$ep=<n>$token=<token>".
func (c *Client) FetchEpisodes(ctx context.Context, slug string, _ int) (domain.EpisodePage, error) {
	details, err := c.FetchDetails(ctx, slug)
	if err != nil {
		return domain.EpisodePage{}, err
	}
	html, err := c.ajax(ctx, "/ajax/episodes/list", "ani_id", details.AnimeID)
	if err != nil {
		return domain.EpisodePage{}, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return domain.EpisodePage{}, fmt.Errorf("animekai: parse episode list: %w", err)
	}

	page := domain.EpisodePage{Details: &details}
	doc.Find("div.eplist > ul > li > a").Each(func(_ int, a *goquery.Selection) {
		num, err := strconv.Atoi(a.AttrOr("num", ""))
		token := a.AttrOr("token", "")
		if err != nil || num < 1 || token == "" {
			return
		}
		title := strings.TrimSpace(a.Find("span").First().Text())
		if title == "" {
			title = fmt.Sprintf("Episode %d", num)
		}
		page.Episodes = append(page.Episodes, domain.EpisodeRecord{
			Token:    fmt.Sprintf("%s$ep=%d$token=%s", slug, num, token),
			Number:   num,
			Title:    title,
			IsFiller: a.HasClass("filler"),
		})
	})
	page.Total = len(page.Episodes)
	return page, nil
}
