package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/example/anime-mapper/internal/platform/signing"
	"github.com/example/anime-mapper/services/mapper/internal/domain"
)

const proxySubject = "anime-mapper"

// Proxy signs segmented stream URLs for an external HLS proxy, carrying the
// headers the origin requires.
type Proxy struct {
	Base   string
	Signer *signing.Signer
	TTL    time.Duration
	now    func() time.Time
}

// NewProxy returns nil unless both base and secret are set.
func NewProxy(base, secret string, ttl time.Duration) *Proxy {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" || strings.TrimSpace(secret) == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Proxy{Base: base, Signer: signing.New(secret), TTL: ttl, now: time.Now}
}

// Sign returns the proxy URL for d, or "" for non-segmented sources.
func (p *Proxy) Sign(d domain.StreamDescriptor) (string, error) {
	if !d.IsSegmented {
		return "", nil
	}
	if d.SourceURL == "" {
		return "", errors.New("handlers: proxy: empty source url")
	}
	signed := p.Signer.SignWithHeaders(d.SourceURL, proxySubject, p.now().Add(p.TTL), d.Headers)
	return signing.BuildSignedURL(p.Base+"/hls", signed)
}
