// Package hlsproxy replays signed upstream HLS playlists and segments with
// the headers their origin requires, rewriting playlists so every child
// request comes back through the proxy.
package hlsproxy

import (
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/anime-mapper/internal/platform/signing"
	"github.com/example/anime-mapper/services/mapper/internal/upstream"
)

const maxPlaylist = 2 << 20

// passHeaders are copied from the upstream response for non-playlist bodies.
var passHeaders = []string{"Content-Type", "Content-Length", "Content-Range", "Accept-Ranges", "Cache-Control", "Last-Modified", "ETag"}

type Handler struct {
	Signer    *signing.Signer
	HTTP      *http.Client
	UserAgent string
	Log       *zap.Logger
}

func New(signer *signing.Signer, hc *http.Client, log *zap.Logger) *Handler {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Signer: signer, HTTP: hc, UserAgent: upstream.DefaultUserAgent, Log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	rawURL, uid, exp, sig, err := signing.ExtractSigned(q)
	if err != nil || !h.Signer.Verify(rawURL, uid, exp, sig) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	hdrs := signing.ExtractHeaders(q)

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, rawURL, nil)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("User-Agent", h.UserAgent)
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}
	for k, v := range hdrs {
		req.Header.Set(k, v)
	}

	resp, err := h.HTTP.Do(req)
	if err != nil {
		h.Log.Warn("hls upstream failed", zap.String("url", rawURL), zap.Error(err))
		http.Error(w, "upstream", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if !isPlaylist(rawURL, resp.Header.Get("Content-Type")) {
		for _, k := range passHeaders {
			if v := resp.Header.Get(k); v != "" {
				w.Header().Set(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
		return
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylist))
	if err != nil {
		http.Error(w, "upstream", http.StatusBadGateway)
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(data)
		return
	}
	self := selfURL(r)
	expiry := time.Unix(exp, 0)
	body, err := Rewrite(string(data), rawURL, func(target string) (string, error) {
		return signing.BuildSignedURL(self, h.Signer.SignWithHeaders(target, uid, expiry, hdrs))
	})
	if err != nil {
		http.Error(w, "bad playlist", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

func isPlaylist(rawURL, contentType string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "mpegurl") {
		return true
	}
	path := rawURL
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return strings.HasSuffix(strings.ToLower(path), ".m3u8")
}

// selfURL is the externally visible URL of the proxy endpoint.
func selfURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = strings.TrimSpace(strings.Split(p, ",")[0])
	}
	return scheme + "://" + r.Host + r.URL.Path
}
