package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/example/anime-mapper/services/mapper/internal/domain"
	"github.com/example/anime-mapper/services/mapper/internal/upstream"
)

// MegaDecoder is the decoder call MegaUp needs.
type MegaDecoder interface {
	DecodeMega(ctx context.Context, text, agent string) (json.RawMessage, error)
}

// MegaUp extracts AnimeKai's MegaUp embeds: the /e/ player path has a
// /media/ twin returning an encrypted payload the decoder opens.
type MegaUp struct {
	HTTP      *upstream.Client
	Decoder   MegaDecoder
	UserAgent string
}

func NewMegaUp(hc *upstream.Client, dec MegaDecoder) *MegaUp {
	ua := upstream.DefaultUserAgent
	if hc != nil && hc.UserAgent != "" {
		ua = hc.UserAgent
	}
	return &MegaUp{HTTP: hc, Decoder: dec, UserAgent: ua}
}

func (m *MegaUp) Name() string { return "megaup" }

func (m *MegaUp) Match(u *url.URL) bool {
	return strings.Contains(strings.ToLower(u.Hostname()), "megaup")
}

type megaUpMedia struct {
	Status int    `json:"status"`
	Result string `json:"result"`
}

type megaUpSources struct {
	Sources []struct {
		File string `json:"file"`
	} `json:"sources"`
	Tracks []struct {
		File  string `json:"file"`
		Label string `json:"label"`
		Kind  string `json:"kind"`
	} `json:"tracks"`
	Download string `json:"download"`
}

func (m *MegaUp) Extract(ctx context.Context, embed domain.Embed) (domain.StreamDescriptor, error) {
	u, err := url.Parse(embed.URL)
	if err != nil {
		return domain.StreamDescriptor{}, fmt.Errorf("megaup: %w: %w", domain.ErrInvalidRequest, err)
	}
	origin := u.Scheme + "://" + u.Host + "/"
	media := strings.Replace(embed.URL, "/e/", "/media/", 1)

	res, err := upstream.GetJSON[megaUpMedia](ctx, m.HTTP, media, map[string]string{
		"Referer":    embed.URL,
		"User-Agent": m.UserAgent,
	})
	if err != nil {
		return domain.StreamDescriptor{}, err
	}
	if res.Result == "" {
		return domain.StreamDescriptor{}, fmt.Errorf("megaup: empty media payload: %w", domain.ErrExtractionFailed)
	}
	raw, err := m.Decoder.DecodeMega(ctx, res.Result, m.UserAgent)
	if err != nil {
		return domain.StreamDescriptor{}, err
	}
	var src megaUpSources
	if err := json.Unmarshal(raw, &src); err != nil {
		return domain.StreamDescriptor{}, fmt.Errorf("megaup: decoded payload: %w: %w", domain.ErrExtractionFailed, err)
	}
	if len(src.Sources) == 0 || src.Sources[0].File == "" {
		return domain.StreamDescriptor{}, fmt.Errorf("megaup: no sources: %w", domain.ErrExtractionFailed)
	}

	desc := domain.StreamDescriptor{
		SourceURL:   src.Sources[0].File,
		IsSegmented: IsSegmented(src.Sources[0].File),
		Headers:     map[string]string{"Referer": origin, "User-Agent": m.UserAgent},
		Subtitles:   []domain.Subtitle{},
	}
	for _, s := range src.Sources[1:] {
		if s.File != "" {
			desc.Variants = append(desc.Variants, domain.Variant{URL: s.File, Referer: origin})
		}
	}
	if src.Download != "" {
		desc.Variants = append(desc.Variants, domain.Variant{URL: src.Download, Quality: "download", Referer: origin})
	}
	for _, t := range src.Tracks {
		if t.File == "" || t.Kind == "thumbnails" {
			continue
		}
		desc.Subtitles = append(desc.Subtitles, domain.Subtitle{URL: t.File, Label: t.Label})
	}
	return desc, nil
}
