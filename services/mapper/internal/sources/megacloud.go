package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/example/anime-mapper/services/mapper/internal/domain"
	"github.com/example/anime-mapper/services/mapper/internal/upstream"
)

const (
	// MobileUserAgent is what the MegaCloud player expects.
	MobileUserAgent = "Mozilla/5.0 (Linux; Android 10; K) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Mobile Safari/537.36"

	DefaultMegaCloudKeysURL = "https://raw.githubusercontent.com/yogesh-hacker/MegacloudKeys/refs/heads/main/keys.json"
)

var (
	nonce48   = regexp.MustCompile(`\b[a-zA-Z0-9]{48}\b`)
	nonce3x16 = regexp.MustCompile(`\b([a-zA-Z0-9]{16})\b[\s\S]*?\b([a-zA-Z0-9]{16})\b[\s\S]*?\b([a-zA-Z0-9]{16})\b`)
)

// MegaCloudDecrypter is the decoder call MegaCloud needs.
type MegaCloudDecrypter interface {
	DecryptMegaCloud(ctx context.Context, encrypted, nonce, secret string) (string, error)
}

// MegaCloud extracts HiAnime's MegaCloud embeds: player id and nonce from
// the embed page, key from the public keys file, then getSources, decrypted
// through the decoder when the payload is not plaintext.
type MegaCloud struct {
	HTTP    *upstream.Client
	Decrypt MegaCloudDecrypter
	KeysURL string
	Log     *zap.Logger
}

func NewMegaCloud(hc *upstream.Client, dec MegaCloudDecrypter, keysURL string, log *zap.Logger) *MegaCloud {
	if keysURL == "" {
		keysURL = DefaultMegaCloudKeysURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MegaCloud{HTTP: hc, Decrypt: dec, KeysURL: keysURL, Log: log}
}

func (m *MegaCloud) Name() string { return "megacloud" }

func (m *MegaCloud) Match(u *url.URL) bool {
	return strings.Contains(strings.ToLower(u.Hostname()), "megacloud")
}

type megaTrack struct {
	File    string `json:"file"`
	Label   string `json:"label"`
	Kind    string `json:"kind"`
	Default bool   `json:"default"`
}

type getSourcesResponse struct {
	Sources   json.RawMessage `json:"sources"`
	Tracks    []megaTrack     `json:"tracks"`
	Encrypted bool            `json:"encrypted"`
}

type megaKeys struct {
	Mega string `json:"mega"`
}

// Nonce finds the player nonce: one 48-character token, else three
// 16-character tokens joined.
func Nonce(html string) string {
	if m := nonce48.FindString(html); m != "" {
		return m
	}
	if m := nonce3x16.FindStringSubmatch(html); m != nil {
		return m[1] + m[2] + m[3]
	}
	return ""
}

func (m *MegaCloud) Extract(ctx context.Context, embed domain.Embed) (domain.StreamDescriptor, error) {
	u, err := url.Parse(embed.URL)
	if err != nil {
		return domain.StreamDescriptor{}, fmt.Errorf("megacloud: %w: %w", domain.ErrInvalidRequest, err)
	}
	origin := u.Scheme + "://" + u.Host

	page, err := m.HTTP.Get(ctx, embed.URL, map[string]string{
		"Accept":           "*/*",
		"X-Requested-With": "XMLHttpRequest",
		"Referer":          origin,
		"User-Agent":       MobileUserAgent,
	})
	if err != nil {
		return domain.StreamDescriptor{}, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return domain.StreamDescriptor{}, fmt.Errorf("megacloud: parse embed: %w", err)
	}
	fileID := strings.TrimSpace(doc.Find("#megacloud-player").AttrOr("data-id", ""))
	if fileID == "" {
		return domain.StreamDescriptor{}, fmt.Errorf("megacloud: missing file id: %w", domain.ErrExtractionFailed)
	}
	nonce := Nonce(string(page))
	if nonce == "" {
		return domain.StreamDescriptor{}, fmt.Errorf("megacloud: no nonce: %w", domain.ErrExtractionFailed)
	}

	srcURL := fmt.Sprintf("%s/embed-2/v3/e-1/getSources?id=%s&_k=%s", origin, url.QueryEscape(fileID), url.QueryEscape(nonce))
	res, err := upstream.GetJSON[getSourcesResponse](ctx, m.HTTP, srcURL, map[string]string{
		"Referer":    origin,
		"User-Agent": MobileUserAgent,
	})
	if err != nil {
		return domain.StreamDescriptor{}, err
	}

	file, err := m.file(ctx, res.Sources, nonce)
	if err != nil {
		return domain.StreamDescriptor{}, err
	}

	desc := domain.StreamDescriptor{
		SourceURL:   file,
		IsSegmented: IsSegmented(file),
		Headers:     map[string]string{"Referer": origin, "User-Agent": MobileUserAgent},
		Subtitles:   []domain.Subtitle{},
	}
	for _, t := range res.Tracks {
		if t.File == "" || (t.Kind != "" && t.Kind != "captions" && t.Kind != "subtitles") {
			continue
		}
		desc.Subtitles = append(desc.Subtitles, domain.Subtitle{URL: t.File, Label: t.Label})
	}
	return desc, nil
}

// file reads plaintext sources or decrypts the string payload.
func (m *MegaCloud) file(ctx context.Context, raw json.RawMessage, nonce string) (string, error) {
	var plain []struct {
		File string `json:"file"`
	}
	if err := json.Unmarshal(raw, &plain); err == nil {
		if len(plain) > 0 && plain[0].File != "" {
			return plain[0].File, nil
		}
		return "", fmt.Errorf("megacloud: empty sources: %w", domain.ErrExtractionFailed)
	}

	var encrypted string
	if err := json.Unmarshal(raw, &encrypted); err != nil || encrypted == "" {
		return "", fmt.Errorf("megacloud: unexpected sources payload: %w", domain.ErrExtractionFailed)
	}
	if m.Decrypt == nil {
		return "", fmt.Errorf("megacloud: encrypted sources and no decoder: %w", domain.ErrExtractionFailed)
	}
	keys, err := upstream.GetJSON[megaKeys](ctx, m.HTTP, m.KeysURL, map[string]string{"User-Agent": MobileUserAgent})
	if err != nil {
		return "", err
	}
	m.Log.Debug("megacloud sources encrypted, decoding")
	return m.Decrypt.DecryptMegaCloud(ctx, encrypted, nonce, keys.Mega)
}
