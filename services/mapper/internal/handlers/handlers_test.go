package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/anime-mapper/internal/platform/api"
	"github.com/example/anime-mapper/internal/platform/httpserver"
	"github.com/example/anime-mapper/internal/platform/signing"
	"github.com/example/anime-mapper/services/mapper/internal/cache"
	"github.com/example/anime-mapper/services/mapper/internal/catalog"
	"github.com/example/anime-mapper/services/mapper/internal/catalog/hianime"
	"github.com/example/anime-mapper/services/mapper/internal/domain"
	"github.com/example/anime-mapper/services/mapper/internal/mapping"
	"github.com/example/anime-mapper/services/mapper/internal/sources"
)

// ─── stubs ───

type stubMapper struct {
	m     mapping.Mapping
	err   error
	calls int
}

func (s *stubMapper) Map(_ context.Context, catalogName string, id int) (mapping.Mapping, error) {
	s.calls++
	if s.err != nil {
		return mapping.Mapping{}, s.err
	}
	m := s.m
	m.AniListID = id
	m.Catalog = catalogName
	return m, nil
}

type stubResolver struct {
	d    domain.StreamDescriptor
	err  error
	reqs []sources.Request
}

func (s *stubResolver) Resolve(_ context.Context, req sources.Request) (domain.StreamDescriptor, error) {
	s.reqs = append(s.reqs, req)
	return s.d, s.err
}

type stubServers []domain.Server

func (s stubServers) ListServers(context.Context, string) ([]domain.Server, error) {
	return s, nil
}

func newRouter(h *Handlers, store cache.Store) http.Handler {
	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{CORSOrigins: []string{"*"}})
	h.Routes(r, store, CacheTTLs{Map: time.Minute, Sources: time.Minute})
	return r
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) api.APIError {
	t.Helper()
	var body api.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return body.Error
}

func matched() mapping.Mapping {
	return mapping.Mapping{
		Title: "Sousou no Frieren",
		Entry: &mapping.Entry{
			ID:            "5300-Sousou no Frieren",
			Title:         "Sousou no Frieren",
			Session:       "sess",
			TotalEpisodes: 2,
			Episodes: []domain.EpisodeRecord{
				{Number: 1, Token: "sess/ep1", Snapshot: "https://i/1.jpg"},
				{Number: 2, Token: "sess/ep2"},
			},
		},
	}
}

// ─── mappings ───

func TestMapCatalog(t *testing.T) {
	m := &stubMapper{m: matched()}
	rt := newRouter(&Handlers{Mapper: m}, nil)

	rec := get(t, rt, "/animepahe/map/154587")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(body["id"]) != "154587" {
		t.Fatalf("id = %s", body["id"])
	}
	if !strings.Contains(string(body["animepahe"]), `"session":"sess"`) {
		t.Fatalf("animepahe = %s", body["animepahe"])
	}
}

func TestMapCatalog_InvalidID(t *testing.T) {
	m := &stubMapper{}
	rt := newRouter(&Handlers{Mapper: m}, nil)

	rec := get(t, rt, "/animekai/map/abc")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != "INVALID_ANILIST_ID" || e.RequestID == "" {
		t.Fatalf("error = %+v", e)
	}
	if m.calls != 0 {
		t.Fatal("mapper must not be called")
	}
}

func TestHiAnimeMap_NoMatch(t *testing.T) {
	m := &stubMapper{m: mapping.Mapping{Title: "Unknown Show"}}
	rt := newRouter(&Handlers{Mapper: m}, nil)

	rec := get(t, rt, "/hianime/21")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"hianimeId":null`) || !strings.Contains(body, `"anilistId":21`) || !strings.Contains(body, `"episodes":[]`) {
		t.Fatalf("body = %s", body)
	}
}

func TestMapCatalog_Cached(t *testing.T) {
	m := &stubMapper{m: matched()}
	rt := newRouter(&Handlers{Mapper: m}, cache.NewMemoryStore(nil, "", nil))

	first := get(t, rt, "/animekai/map/1")
	second := get(t, rt, "/animekai/map/1")
	if first.Header().Get("X-Cache") != "MISS" || second.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("X-Cache = %q, %q", first.Header().Get("X-Cache"), second.Header().Get("X-Cache"))
	}
	if m.calls != 1 {
		t.Fatalf("mapper calls = %d", m.calls)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatal("cached body differs")
	}
}

// ─── errors ───

func TestWriteError_Kinds(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", domain.Wrap("anilist", domain.StageMetadata, domain.ErrNotFound, errors.New("media null")), http.StatusNotFound, "NOT_FOUND"},
		{"invalid", domain.ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST"},
		{"upstream", domain.Wrap(catalog.AnimeKai, domain.StageSearch, domain.ErrUpstream, errors.New("503")), http.StatusBadGateway, "UPSTREAM_ERROR"},
		{"extraction", &domain.StageError{Catalog: catalog.HiAnime, Stage: domain.StageObfuscated, Kind: domain.ErrExtractionFailed}, http.StatusBadGateway, "EXTRACTION_FAILED"},
		{"extraction over invalid embed", &domain.StageError{Catalog: catalog.HiAnime, Stage: domain.StageObfuscated, Kind: domain.ErrExtractionFailed, Err: fmt.Errorf("megacloud: %w: bad url", domain.ErrInvalidRequest)}, http.StatusBadGateway, "EXTRACTION_FAILED"},
		{"timeout", domain.Wrap(catalog.HiAnime, domain.StageEpisodes, domain.ErrUpstream, context.DeadlineExceeded), http.StatusGatewayTimeout, "TIMEOUT"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rt := newRouter(&Handlers{Mapper: &stubMapper{err: tc.err}}, nil)
			rec := get(t, rt, "/animekai/map/5")
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			if e := decodeError(t, rec); e.Code != tc.code {
				t.Fatalf("code = %q, want %q", e.Code, tc.code)
			}
		})
	}
}

func TestWriteError_ExtractionHint(t *testing.T) {
	res := &stubResolver{err: &domain.StageError{Catalog: catalog.AnimeKai, Stage: domain.StageObfuscated, Kind: domain.ErrExtractionFailed}}
	rt := newRouter(&Handlers{Sources: map[string]Resolver{catalog.AnimeKai: res}}, nil)

	rec := get(t, rt, "/animekai/sources/tok")
	e := decodeError(t, rec)
	if e.Details["hint"] != domain.RefererHint || e.Details["stage"] != string(domain.StageObfuscated) {
		t.Fatalf("details = %+v", e.Details)
	}
}

// ─── sources ───

func TestPaheSources_TokenForms(t *testing.T) {
	res := &stubResolver{d: domain.StreamDescriptor{SourceURL: "https://cdn/x.m3u8", IsSegmented: true}}
	rt := newRouter(&Handlers{Sources: map[string]Resolver{catalog.AnimePahe: res}}, nil)

	if rec := get(t, rt, "/animepahe/sources/sess/ep1?server=1080p"); rec.Code != http.StatusOK {
		t.Fatalf("two segment status = %d: %s", rec.Code, rec.Body)
	}
	if rec := get(t, rt, "/animepahe/sources/sess%2Fep2"); rec.Code != http.StatusOK {
		t.Fatalf("escaped status = %d: %s", rec.Code, rec.Body)
	}
	if rec := get(t, rt, "/animepahe/sources/nosession"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bare status = %d", rec.Code)
	}
	if len(res.reqs) != 2 {
		t.Fatalf("requests = %+v", res.reqs)
	}
	if res.reqs[0].Token != "sess/ep1" || res.reqs[0].Server != "1080p" {
		t.Fatalf("first = %+v", res.reqs[0])
	}
	if res.reqs[1].Token != "sess/ep2" {
		t.Fatalf("second = %+v", res.reqs[1])
	}
}

func TestPaheEpisode(t *testing.T) {
	res := &stubResolver{d: domain.StreamDescriptor{SourceURL: "https://cdn/1.m3u8", IsSegmented: true}}
	rt := newRouter(&Handlers{Mapper: &stubMapper{m: matched()}, Sources: map[string]Resolver{catalog.AnimePahe: res}}, nil)

	rec := get(t, rt, "/animepahe/hls/154587/1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var body episodeSourcesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Image != "https://i/1.jpg" || body.Sources.SourceURL != "https://cdn/1.m3u8" {
		t.Fatalf("body = %+v", body)
	}
	if res.reqs[0].Token != "sess/ep1" {
		t.Fatalf("token = %q", res.reqs[0].Token)
	}

	if rec := get(t, rt, "/animepahe/hls/154587/9"); rec.Code != http.StatusNotFound {
		t.Fatalf("missing episode status = %d", rec.Code)
	}
}

func TestHiAnimeServers(t *testing.T) {
	srv := stubServers{
		{ID: "4", Name: "vidstreaming", Track: domain.TrackSub},
		{ID: "1", Name: "megacloud", Track: domain.TrackDub},
		{ID: "9", Name: "vidstreaming", Track: domain.TrackRaw},
	}
	rt := newRouter(&Handlers{Servers: srv}, nil)

	rec := get(t, rt, "/hianime/servers/frieren-18542?ep=107257")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var body serversResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.EpisodeID != "frieren-18542?ep=107257" || len(body.Sub) != 1 || len(body.Dub) != 1 || len(body.Raw) != 1 {
		t.Fatalf("body = %+v", body)
	}

	if rec := get(t, rt, "/hianime/servers/frieren-18542"); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing ep status = %d", rec.Code)
	}
}

func TestHiAnimeSources_Defaults(t *testing.T) {
	res := &stubResolver{d: domain.StreamDescriptor{SourceURL: "https://cdn/master.m3u8"}}
	rt := newRouter(&Handlers{Sources: map[string]Resolver{catalog.HiAnime: res}}, nil)

	if rec := get(t, rt, "/hianime/sources/frieren-18542?ep=107257&category=dub"); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	req := res.reqs[0]
	if req.Token != "frieren-18542?ep=107257" || req.Server != hianime.DefaultServer || req.Track != domain.TrackDub {
		t.Fatalf("request = %+v", req)
	}
}

func TestKaiSources_DubFlag(t *testing.T) {
	res := &stubResolver{}
	rt := newRouter(&Handlers{Sources: map[string]Resolver{catalog.AnimeKai: res}}, nil)

	get(t, rt, "/animekai/sources/dandadan$ep=1$token=abc?dub=true&server=Server%201")
	get(t, rt, "/animekai/sources/dandadan$ep=1$token=abc")
	if len(res.reqs) != 2 {
		t.Fatalf("requests = %+v", res.reqs)
	}
	if res.reqs[0].Track != domain.TrackDub || res.reqs[0].Server != "Server 1" || res.reqs[0].Token != "dandadan$ep=1$token=abc" {
		t.Fatalf("dub request = %+v", res.reqs[0])
	}
	if res.reqs[1].Track != domain.TrackSub {
		t.Fatalf("default track = %q", res.reqs[1].Track)
	}
}

func TestSources_CatalogDisabled(t *testing.T) {
	rt := newRouter(&Handlers{}, nil)
	if rec := get(t, rt, "/animekai/sources/tok"); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

// ─── proxy ───

func TestProxy_Sign(t *testing.T) {
	if NewProxy("", "secret", 0) != nil || NewProxy("https://proxy", "", 0) != nil {
		t.Fatal("proxy requires base and secret")
	}
	p := NewProxy("https://proxy/", "test-signing-secret-32-bytes-ok!", time.Hour)

	out, err := p.Sign(domain.StreamDescriptor{SourceURL: "https://mp4.example/x.mp4"})
	if err != nil || out != "" {
		t.Fatalf("non-segmented = %q, %v", out, err)
	}

	out, err = p.Sign(domain.StreamDescriptor{
		SourceURL:   "https://cdn.example/master.m3u8",
		IsSegmented: true,
		Headers:     map[string]string{"Referer": "https://kwik.cx/"},
	})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	u, err := url.Parse(out)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Host != "proxy" || u.Path != "/hls" {
		t.Fatalf("url = %s", out)
	}
	rawURL, uid, exp, sig, err := signing.ExtractSigned(u.Query())
	if err != nil {
		t.Fatalf("ExtractSigned: %v", err)
	}
	if !p.Signer.Verify(rawURL, uid, exp, sig) {
		t.Fatal("signature must verify")
	}
	if signing.ExtractHeaders(u.Query())["Referer"] != "https://kwik.cx/" {
		t.Fatal("referer header not carried")
	}
}

func TestResolve_AttachesProxyURL(t *testing.T) {
	res := &stubResolver{d: domain.StreamDescriptor{SourceURL: "https://cdn/x.m3u8", IsSegmented: true}}
	h := &Handlers{
		Sources: map[string]Resolver{catalog.AnimeKai: res},
		Proxy:   NewProxy("https://proxy", "test-signing-secret-32-bytes-ok!", time.Hour),
	}
	rec := get(t, newRouter(h, nil), "/animekai/sources/tok")
	var d domain.StreamDescriptor
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(d.ProxyURL, "https://proxy/hls?") {
		t.Fatalf("proxyUrl = %q", d.ProxyURL)
	}
}
