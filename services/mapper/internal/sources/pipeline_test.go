package sources

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/anime-mapper/services/mapper/internal/domain"
	"github.com/example/anime-mapper/services/mapper/internal/render"
)

type stubProvider struct {
	servers  []domain.Server
	embed    domain.Embed
	listErr  error
	resolved domain.Server
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) ListServers(context.Context, string) ([]domain.Server, error) {
	return s.servers, s.listErr
}

func (s *stubProvider) ResolveEmbed(_ context.Context, _ string, srv domain.Server) (domain.Embed, error) {
	s.resolved = srv
	return s.embed, nil
}

type variantProvider struct{ stubProvider }

func (v *variantProvider) Variants(servers []domain.Server) []domain.Variant {
	out := make([]domain.Variant, 0, len(servers))
	for _, s := range servers {
		out = append(out, domain.Variant{URL: s.ID, Quality: s.Quality})
	}
	return out
}

type stubExtractor struct {
	host  string
	desc  domain.StreamDescriptor
	err   error
	calls int
}

func (s *stubExtractor) Name() string { return "stub-extractor" }

func (s *stubExtractor) Match(u *url.URL) bool { return u.Hostname() == s.host }

func (s *stubExtractor) Extract(context.Context, domain.Embed) (domain.StreamDescriptor, error) {
	s.calls++
	return s.desc, s.err
}

type stubRenderer struct {
	capture render.Capture
	err     error
	calls   int
}

func (s *stubRenderer) Render(context.Context, string, map[string]string) (render.Capture, error) {
	s.calls++
	return s.capture, s.err
}

var subServers = []domain.Server{
	{ID: "4", Name: "hd-1", Track: domain.TrackSub},
	{ID: "1", Name: "hd-2", Track: domain.TrackSub},
	{ID: "4", Name: "hd-1", Track: domain.TrackDub},
}

// ─── direct & selection ───

func TestResolve_UnknownHostReturnsDirect(t *testing.T) {
	p := &stubProvider{servers: subServers, embed: domain.Embed{URL: "https://cdn.other.example/hls/ep1.m3u8", Referer: "https://other.example/"}}
	ex := &stubExtractor{host: "megacloud.blog"}
	rd := &stubRenderer{}
	var outcomes []string

	got, err := New(p, []Extractor{ex}, WithRenderer(rd), WithRecorder(func(_, o string) { outcomes = append(outcomes, o) })).
		Resolve(context.Background(), Request{Token: "x?ep=1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex.calls != 0 || rd.calls != 0 {
		t.Fatalf("expected no decode or fallback, got extractor=%d render=%d", ex.calls, rd.calls)
	}
	if got.SourceURL != p.embed.URL || !got.IsSegmented {
		t.Fatalf("unexpected descriptor: %+v", got)
	}
	if got.Headers["Referer"] != "https://other.example/" {
		t.Fatalf("expected embed referer header, got %v", got.Headers)
	}
	if got.Subtitles == nil {
		t.Fatal("expected non-nil subtitles")
	}
	if len(outcomes) != 1 || outcomes[0] != OutcomeDirect {
		t.Fatalf("unexpected outcomes: %v", outcomes)
	}
}

func TestResolve_ServerSelection(t *testing.T) {
	p := &stubProvider{servers: subServers, embed: domain.Embed{URL: "https://x.example/e/1"}}
	pl := New(p, nil)

	if _, err := pl.Resolve(context.Background(), Request{Token: "t", Server: "HD-2", Track: domain.TrackSub}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.resolved.ID != "1" {
		t.Fatalf("expected case-insensitive name match, got %+v", p.resolved)
	}
	if _, err := pl.Resolve(context.Background(), Request{Token: "t", Server: "vidstreaming"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.resolved.Name != "hd-1" || p.resolved.Track != domain.TrackSub {
		t.Fatalf("expected first sub server, got %+v", p.resolved)
	}
}

func TestResolve_TrackFallback(t *testing.T) {
	p := &stubProvider{
		servers: []domain.Server{{ID: "9", Name: "hd-1", Track: domain.TrackRaw}},
		embed:   domain.Embed{URL: "https://x.example/e/1"},
	}
	got, err := New(p, nil).Resolve(context.Background(), Request{Token: "t", Track: domain.TrackDub})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Track != domain.TrackRaw {
		t.Fatalf("expected raw fallback, got %q", got.Track)
	}
}

func TestSelectTrack_PreferenceOrder(t *testing.T) {
	servers := []domain.Server{{Track: domain.TrackRaw}, {Track: domain.TrackDub}}
	if tr, _ := SelectTrack(servers, ""); tr != domain.TrackDub {
		t.Fatalf("expected dub before raw, got %q", tr)
	}
	if tr, pool := SelectTrack(nil, domain.TrackSub); tr != "" || pool != nil {
		t.Fatalf("expected nothing, got %q %v", tr, pool)
	}
}

func TestResolve_Errors(t *testing.T) {
	_, err := New(&stubProvider{}, nil).Resolve(context.Background(), Request{})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected invalid request for empty token, got %v", err)
	}
	_, err = New(&stubProvider{}, nil).Resolve(context.Background(), Request{Token: "t"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found with no servers, got %v", err)
	}
	cause := errors.New("connection reset")
	_, err = New(&stubProvider{listErr: cause}, nil).Resolve(context.Background(), Request{Token: "t"})
	if !errors.Is(err, domain.ErrUpstream) || !errors.Is(err, cause) {
		t.Fatalf("expected upstream wrapping the cause, got %v", err)
	}
}

// ─── extraction ───

func TestResolve_ExtractorSuccess(t *testing.T) {
	p := &stubProvider{servers: subServers, embed: domain.Embed{URL: "https://megacloud.blog/embed-2/v3/e-1/abc"}}
	ex := &stubExtractor{host: "megacloud.blog", desc: domain.StreamDescriptor{
		SourceURL:   "https://cdn.example/master.m3u8",
		IsSegmented: true,
		Subtitles: []domain.Subtitle{
			{URL: "https://cdn.example/subs/eng-2.vtt"},
			{URL: "https://cdn.example/subs/xyz.vtt"},
			{URL: "https://cdn.example/subs/spa.vtt", Label: "Español"},
		},
	}}
	got, err := New(p, []Extractor{ex}).Resolve(context.Background(), Request{Token: "t"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Embed != p.embed.URL || got.Server != "hd-1" {
		t.Fatalf("unexpected descriptor: %+v", got)
	}
	labels := []string{got.Subtitles[0].Label, got.Subtitles[1].Label, got.Subtitles[2].Label}
	if strings.Join(labels, ",") != "English,XYZ,Español" {
		t.Fatalf("unexpected labels: %v", labels)
	}
}

func TestResolve_RenderFallback(t *testing.T) {
	p := &stubProvider{servers: subServers, embed: domain.Embed{URL: "https://megacloud.blog/e/1", Referer: "https://megacloud.blog/"}}
	ex := &stubExtractor{host: "megacloud.blog", err: errors.New("nonce missing")}
	rd := &stubRenderer{capture: render.Capture{Streams: []string{"https://cdn.example/a.m3u8"}, Subtitles: []string{"https://cdn.example/en.vtt"}}}

	got, err := New(p, []Extractor{ex}, WithRenderer(rd)).Resolve(context.Background(), Request{Token: "t"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.SourceURL != "https://cdn.example/a.m3u8" || !got.IsSegmented || got.Subtitles[0].Label != "English" {
		t.Fatalf("unexpected descriptor: %+v", got)
	}
}

func TestResolve_ExtractionFailed(t *testing.T) {
	p := &stubProvider{servers: subServers, embed: domain.Embed{URL: "https://megacloud.blog/e/1"}}
	ex := &stubExtractor{host: "megacloud.blog", err: errors.New("nonce missing")}
	rd := &stubRenderer{err: errors.New("chrome crashed")}

	_, err := New(p, []Extractor{ex}, WithRenderer(rd)).Resolve(context.Background(), Request{Token: "t"})
	if !errors.Is(err, domain.ErrExtractionFailed) {
		t.Fatalf("expected extraction failed, got %v", err)
	}
	var se *domain.StageError
	if !errors.As(err, &se) || se.Stage != domain.StageObfuscated || se.Catalog != "stub" {
		t.Fatalf("expected stage error, got %v", err)
	}
}

type countingSession struct {
	closed atomic.Int32
}

func (s *countingSession) Observe(func(string)) {}

func (s *countingSession) Navigate(context.Context, string, map[string]string) error { return nil }

func (s *countingSession) Click(context.Context, string) error { return nil }

func (s *countingSession) Close() error {
	s.closed.Add(1)
	return nil
}

type countingEngine struct{ sess *countingSession }

func (e countingEngine) Open(context.Context) (render.Session, error) { return e.sess, nil }

func TestResolve_RenderWindowElapses(t *testing.T) {
	sess := &countingSession{}
	browser := render.NewBrowser(countingEngine{sess: sess}, 40*time.Millisecond, nil)
	p := &stubProvider{servers: subServers, embed: domain.Embed{URL: "https://megacloud.blog/e/1"}}
	ex := &stubExtractor{host: "megacloud.blog", err: errors.New("nonce missing")}

	_, err := New(p, []Extractor{ex}, WithRenderer(browser)).Resolve(context.Background(), Request{Token: "t"})
	if !errors.Is(err, domain.ErrExtractionFailed) {
		t.Fatalf("expected extraction failed, got %v", err)
	}
	if sess.closed.Load() != 1 {
		t.Fatalf("expected browser session released, got %d closes", sess.closed.Load())
	}
}

func TestResolve_Variants(t *testing.T) {
	p := &variantProvider{stubProvider{
		servers: []domain.Server{
			{ID: "https://kwik.cx/e/a360", Name: "kwik", Track: domain.TrackSub, Quality: "360p"},
			{ID: "https://kwik.cx/e/a1080", Name: "kwik", Track: domain.TrackSub, Quality: "1080p"},
		},
		embed: domain.Embed{URL: "https://kwik.cx/e/a1080", Referer: "https://kwik.cx/"},
	}}
	got, err := New(p, nil).Resolve(context.Background(), Request{Token: "t", Server: "1080p"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.resolved.Quality != "1080p" {
		t.Fatalf("expected quality selection, got %+v", p.resolved)
	}
	if len(got.Variants) != 2 || got.Variants[0].Quality != "360p" {
		t.Fatalf("unexpected variants: %+v", got.Variants)
	}
	if got.IsSegmented {
		t.Fatal("kwik embed is not a playlist")
	}
}

// ─── captions ───

func TestLanguage(t *testing.T) {
	cases := map[string]string{"eng": "English", "PT": "Portuguese", "zz": "ZZ", "": ""}
	for in, want := range cases {
		if got := Language(in); got != want {
			t.Fatalf("Language(%q) = %q, want %q", in, got, want)
		}
	}
}
