// Package animepahe adapts AnimePahe: a JSON search API, a paginated
// release listing, an HTML detail page and kwik play buttons.
package animepahe

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
	"github.com/example/anime-mapper/services/mapper/internal/titles"
	"github.com/example/anime-mapper/services/mapper/internal/upstream"
)

const (
	DefaultBaseURL = "https://animepahe.si"
	// KwikReferer must accompany requests for kwik-hosted streams.
	KwikReferer = "https://kwik.cx/"

	ddgCookie = "__ddg1_=;__ddg2_=;"
)

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
		hc = upstream.New(catalog.AnimePahe)
	}
	c := &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: hc, Log: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Name() string { return catalog.AnimePahe }

func (c *Client) headers() map[string]string {
	return map[string]string{"Cookie": ddgCookie, "Referer": c.BaseURL + "/"}
}

type searchItem struct {
	ID       int     `json:"id"`
	Title    string  `json:"title"`
	Type     string  `json:"type"`
	Episodes int     `json:"episodes"`
	Status   string  `json:"status"`
	Season   string  `json:"season"`
	Year     int     `json:"year"`
	Score    float64 `json:"score"`
	Poster   string  `json:"poster"`
	Session  string  `json:"session"`
}

type searchResponse struct {
	Total int          `json:"total"`
	Data  []searchItem `json:"data"`
}

func (c *Client) search(ctx context.Context, q string, limit int) ([]searchItem, error) {
	u := c.BaseURL + "/api?m=search&q=" + url.QueryEscape(q)
	if limit > 0 {
		u += "&l=" + strconv.Itoa(limit)
	}
	res, err := upstream.GetJSON[searchResponse](ctx, c.HTTP, u, c.headers())
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// Search returns up to eight candidates. Candidate ids take the form
// "<native id>-<title>".
func (c *Client) Search(ctx context.Context, title string) ([]domain.ProviderCandidate, error) {
	items, err := c.search(ctx, title, 8)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ProviderCandidate, 0, len(items))
	for _, it := range items {
		rawType := it.Type
		if rawType == "" {
			rawType = "TV"
		}
		out = append(out, domain.ProviderCandidate{
			ProviderID: fmt.Sprintf("%d-%s", it.ID, it.Title),
			NativeID:   strconv.Itoa(it.ID),
			Title:      it.Title,
			Year:       it.Year,
			Episodes:   it.Episodes,
			Type:       catalog.ClassifyType(rawType),
			RawType:    rawType,
			Session:    it.Session,
			Poster:     it.Poster,
			Status:     it.Status,
			Season:     it.Season,
			Score:      it.Score,
		})
	}
	return out, nil
}

// SplitCandidateID splits "<native id>-<title>".
func SplitCandidateID(id string) (nativeID, title string) {
	nativeID, title, _ = strings.Cut(id, "-")
	return nativeID, title
}

var candidateIDPattern = regexp.MustCompile(`^\d+-`)

// ResolveSession finds the release-listing session for title. A native id
// match wins; otherwise titles are scored (exact 1, containment 0.8 × length
// ratio, else shared words over the longer word count) and the best above
// 0.5 is taken, else the first result.
func (c *Client) ResolveSession(ctx context.Context, title, nativeID string) (string, error) {
	items, err := c.search(ctx, title, 0)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", fmt.Errorf("animepahe: no results for %q: %w", title, domain.ErrNotFound)
	}
	if nativeID != "" {
		for _, it := range items {
			if strconv.Itoa(it.ID) == nativeID {
				return it.Session, nil
			}
		}
	}

	want := titles.Normalize(title)
	best, bestScore := -1, 0.0
	for i, it := range items {
		if s := sessionScore(want, titles.Normalize(it.Title)); s > bestScore {
			best, bestScore = i, s
		}
	}
	if best >= 0 && bestScore > 0.5 {
		return items[best].Session, nil
	}
	return items[0].Session, nil
}

func sessionScore(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		short, long := len(a), len(b)
		if short > long {
			short, long = long, short
		}
		return 0.8 * float64(short) / float64(long)
	}
	wa, wb := strings.Split(a, " "), strings.Split(b, " ")
	inB := make(map[string]struct{}, len(wb))
	for _, w := range wb {
		inB[w] = struct{}{}
	}
	common := 0
	for _, w := range wa {
		if _, ok := inB[w]; ok {
			common++
		}
	}
	return float64(common) / float64(max(len(wa), len(wb)))
}

// listingKey turns a candidate id into a release session; anything else is
// taken to be a session already.
func (c *Client) listingKey(ctx context.Context, id string) (string, error) {
	if !candidateIDPattern.MatchString(id) {
		return id, nil
	}
	native, title := SplitCandidateID(id)
	return c.ResolveSession(ctx, title, native)
}

type releaseItem struct {
	ID       int         `json:"id"`
	AnimeID  int         `json:"anime_id"`
	Episode  json.Number `json:"episode"`
	Title    string      `json:"title"`
	Snapshot string      `json:"snapshot"`
	Session  string      `json:"session"`
	Filler   int         `json:"filler"`
}

type releaseResponse struct {
	Total       int           `json:"total"`
	CurrentPage int           `json:"current_page"`
	LastPage    int           `json:"last_page"`
	Data        []releaseItem `json:"data"`
}

// FetchEpisodes returns one release page for a session (or a candidate id,
// resolved to its session first). The last page also carries the detail
// block scraped from the anime page.
func (c *Client) FetchEpisodes(ctx context.Context, id string, page int) (domain.EpisodePage, error) {
	if page < 1 {
		page = 1
	}
	session, err := c.listingKey(ctx, id)
	if err != nil {
		return domain.EpisodePage{}, err
	}
	u := fmt.Sprintf("%s/api?m=release&id=%s&sort=episode_desc&page=%d", c.BaseURL, url.QueryEscape(session), page)
	res, err := upstream.GetJSON[releaseResponse](ctx, c.HTTP, u, c.headers())
	if err != nil {
		return domain.EpisodePage{}, err
	}

	out := domain.EpisodePage{Total: res.Total, HasNext: res.CurrentPage < res.LastPage}
	for _, it := range res.Data {
		n, ok := episodeNumber(it.Episode)
		if !ok {
			continue
		}
		out.Episodes = append(out.Episodes, domain.EpisodeRecord{
			Token:    session + "/" + it.Session,
			Number:   n,
			Title:    fmt.Sprintf("Episode %d", n),
			Snapshot: it.Snapshot,
			IsFiller: it.Filler == 1,
		})
	}

	if !out.HasNext && len(res.Data) > 0 {
		details, err := c.FetchDetails(ctx, strconv.Itoa(res.Data[0].AnimeID))
		if err != nil {
			c.Log.Warn("animepahe detail page unavailable", zap.Int("anime_id", res.Data[0].AnimeID), zap.Error(err))
		} else {
			out.Details = &details
		}
	}
	return out, nil
}

// episodeNumber accepts whole numbers only; recap halves like 7.5 are not
// addressable by number.
func episodeNumber(n json.Number) (int, bool) {
	f, err := n.Float64()
	if err != nil || f < 1 || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

var (
	seasonPattern = regexp.MustCompile(`Season:\s+(\w+)\s+(\d{4})`)
	scorePattern  = regexp.MustCompile(`Score:\s+([\d.]+)`)
	countPattern  = regexp.MustCompile(`Episodes:\s+(\d+)`)
)

// FetchDetails scrapes /a/<anime id>. A candidate id is accepted too.
func (c *Client) FetchDetails(ctx context.Context, id string) (domain.Details, error) {
	native, _ := SplitCandidateID(id)
	if native == "" {
		return domain.Details{}, fmt.Errorf("animepahe: empty anime id: %w", domain.ErrInvalidRequest)
	}
	b, err := c.HTTP.Get(ctx, c.BaseURL+"/a/"+url.PathEscape(native), c.headers())
	if err != nil {
		return domain.Details{}, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(b))
	if err != nil {
		return domain.Details{}, fmt.Errorf("animepahe: parse detail page: %w", err)
	}

	d := domain.Details{AnimeID: native, Type: "TV", Status: "Unknown", Season: "Unknown"}
	d.Title = strings.TrimSpace(doc.Find(".title-wrapper span").First().Text())
	doc.Find(".anime-info p").Each(func(_ int, s *goquery.Selection) {
		text := strings.Join(strings.Fields(s.Text()), " ")
		switch {
		case strings.HasPrefix(text, "Type:"):
			d.Type = strings.TrimSpace(strings.TrimPrefix(text, "Type:"))
		case strings.HasPrefix(text, "Status:"):
			d.Status = strings.TrimSpace(strings.TrimPrefix(text, "Status:"))
		case strings.HasPrefix(text, "Season:"):
			if m := seasonPattern.FindStringSubmatch(text); m != nil {
				d.Season = m[1]
				d.Year, _ = strconv.Atoi(m[2])
			}
		case strings.HasPrefix(text, "Score:"):
			if m := scorePattern.FindStringSubmatch(text); m != nil {
				d.Score, _ = strconv.ParseFloat(m[1], 64)
			}
		case strings.HasPrefix(text, "Episodes:"):
			if m := countPattern.FindStringSubmatch(text); m != nil {
				d.Episodes, _ = strconv.Atoi(m[1])
			}
		}
	})
	doc.Find(".anime-genre ul li").Each(func(_ int, s *goquery.Selection) {
		if g := strings.TrimSpace(s.Text()); g != "" {
			d.Genres = append(d.Genres, g)
		}
	})
	return d, nil
}
