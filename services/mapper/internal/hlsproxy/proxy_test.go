package hlsproxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/example/anime-mapper/internal/platform/signing"
)

const (
	testSecret = "test-signing-secret-32-bytes-ok!"
	testBase   = "https://cdn.example.com/stream/episode1/index.m3u8"
)

func identity(target string) (string, error) { return "P(" + target + ")", nil }

// ─── Rewrite ───

func TestRewrite_CommentsAndBlankLinesKept(t *testing.T) {
	body := "#EXTM3U\n#EXT-X-VERSION:3\n\n#EXT-X-ENDLIST"
	got, err := Rewrite(body, testBase, identity)
	if err != nil || got != body {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestRewrite_ResolvesSegments(t *testing.T) {
	body := "#EXTM3U\nseg0.ts\n/abs/seg1.ts\nhttps://other.cdn.net/seg2.ts"
	got, err := Rewrite(body, testBase, identity)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	lines := strings.Split(got, "\n")
	want := []string{
		"#EXTM3U",
		"P(https://cdn.example.com/stream/episode1/seg0.ts)",
		"P(https://cdn.example.com/abs/seg1.ts)",
		"P(https://other.cdn.net/seg2.ts)",
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestRewrite_URIAttribute(t *testing.T) {
	body := `#EXT-X-KEY:METHOD=AES-128,URI="key.bin",IV=0x1`
	got, err := Rewrite(body, testBase, identity)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	want := `#EXT-X-KEY:METHOD=AES-128,URI="P(https://cdn.example.com/stream/episode1/key.bin)",IV=0x1`
	if got != want {
		t.Fatalf("got %q", got)
	}
}

// ─── Handler ───

func signedPath(t *testing.T, s *signing.Signer, target string, hdrs map[string]string) string {
	t.Helper()
	u, err := signing.BuildSignedURL("/hls", s.SignWithHeaders(target, "anime-mapper", time.Now().Add(time.Hour), hdrs))
	if err != nil {
		t.Fatalf("BuildSignedURL: %v", err)
	}
	return u
}

func TestHandler_PlaylistRewrittenWithHeaders(t *testing.T) {
	var gotReferer string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = io.WriteString(w, "#EXTM3U\nseg0.ts")
	}))
	defer origin.Close()

	s := signing.New(testSecret)
	h := New(s, origin.Client(), nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, signedPath(t, s, origin.URL+"/v/master.m3u8", map[string]string{"Referer": "https://kwik.cx/"}), nil)
	req.Host = "mapper.local"
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if gotReferer != "https://kwik.cx/" {
		t.Fatalf("referer = %q", gotReferer)
	}
	lines := strings.Split(rec.Body.String(), "\n")
	child, err := url.Parse(lines[1])
	if err != nil {
		t.Fatalf("parse child: %v", err)
	}
	if child.Host != "mapper.local" || child.Path != "/hls" {
		t.Fatalf("child = %s", lines[1])
	}
	rawURL, uid, exp, sig, err := signing.ExtractSigned(child.Query())
	if err != nil || !s.Verify(rawURL, uid, exp, sig) {
		t.Fatalf("child signature invalid: %v", err)
	}
	if rawURL != origin.URL+"/v/seg0.ts" {
		t.Fatalf("child target = %q", rawURL)
	}
	if signing.ExtractHeaders(child.Query())["Referer"] != "https://kwik.cx/" {
		t.Fatal("child must carry the origin headers")
	}
}

func TestHandler_SegmentPassThrough(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "bytes=0-3" {
			t.Errorf("range = %q", r.Header.Get("Range"))
		}
		w.Header().Set("Content-Type", "video/mp2t")
		w.Header().Set("Set-Cookie", "secret=1")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = io.WriteString(w, "abcd")
	}))
	defer origin.Close()

	s := signing.New(testSecret)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, signedPath(t, s, origin.URL+"/seg0.ts", nil), nil)
	req.Header.Set("Range", "bytes=0-3")
	New(s, origin.Client(), nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent || rec.Body.String() != "abcd" {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body)
	}
	if rec.Header().Get("Content-Type") != "video/mp2t" || rec.Header().Get("Set-Cookie") != "" {
		t.Fatalf("headers = %v", rec.Header())
	}
}

func TestHandler_RejectsBadSignature(t *testing.T) {
	s := signing.New(testSecret)
	path := signedPath(t, signing.New("another-secret"), "https://cdn.example.com/x.m3u8", nil)

	rec := httptest.NewRecorder()
	New(s, nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	New(s, nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hls", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("unsigned status = %d", rec.Code)
	}
}

func TestIsPlaylist(t *testing.T) {
	cases := []struct {
		url, ct string
		want    bool
	}{
		{"https://x/a.m3u8?t=1", "", true},
		{"https://x/a.ts", "application/x-mpegURL", true},
		{"https://x/a.ts", "video/mp2t", false},
	}
	for _, c := range cases {
		if got := isPlaylist(c.url, c.ct); got != c.want {
			t.Fatalf("isPlaylist(%q, %q) = %v", c.url, c.ct, got)
		}
	}
}
