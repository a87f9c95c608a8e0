package animekai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/anime-mapper/services/mapper/internal/domain"
	"github.com/example/anime-mapper/services/mapper/internal/upstream"
)

type stubCodec struct {
	encoded []string
}

func (s *stubCodec) Encode(_ context.Context, text string) (string, error) {
	s.encoded = append(s.encoded, text)
	return "enc(" + text + ")", nil
}

func (s *stubCodec) Decode(_ context.Context, text string) (json.RawMessage, error) {
	if text != "ENCRYPTED" {
		return nil, errors.New("unexpected payload " + text)
	}
	return json.RawMessage(`{"url":"https://megaup.cc/e/abc123","skip":{"intro":[0,90],"outro":[1300,1420]}}`), nil
}

const browserPage = `<html><body>
<div class="aitem"><div class="inner">
  <a href="/watch/frieren-beyond-journeys-end-x3z9"><img data-src="https://img/f.jpg"></a>
  <a class="title" data-jp="Sousou no Frieren">Frieren: Beyond Journey's End</a>
  <div class="info"><span class="sub"><svg></svg>28</span><span class="dub"><svg></svg>28</span><span><b>TV</b></span></div>
</div></div>
<div class="aitem"><div class="inner"><a href="/watch/"></a></div></div>
</body></html>`

const watchPage = `<html><body>
<div class="rate-box" id="anime-rating" data-id="c4S88Q"></div>
<div class="entity-scroll">
  <h1 class="title">Frieren: Beyond Journey's End</h1>
  <div class="info"><span class="rating">PG-13</span><span class="sub">28</span><span class="dub">28</span><span><b>TV</b></span></div>
  <div class="detail">
    <div>Genres: <span><a>Adventure</a>, <a>Drama</a></span></div>
    <div>Status: <span>Completed</span></div>
    <div>Premiered: <span>Fall 2023</span></div>
    <div>MAL: <span>9.3 by 300k reviews</span></div>
  </div>
</div></body></html>`

const episodeList = `<div class="eplist"><ul>
<li><a num="2" token="tok2" class="filler"><span>It Didn't Have to Be Magic</span></a></li>
<li><a num="1" token="tok1"><span>The Journey's End</span></a></li>
<li><a num="x" token="bad"></a></li>
</ul></div>`

const linkList = `<div class="server-items lang-group" data-id="sub"><span class="server" data-lid="lid-sub-1">Server 1</span></div>
<div class="server-items lang-group" data-id="softsub"><span class="server" data-lid="lid-soft-1">Server 1</span></div>
<div class="server-items lang-group" data-id="dub"><span class="server" data-lid="lid-dub-1">Server 1</span><span class="server" data-lid="lid-dub-2">Server 2</span></div>`

func writeResult(w http.ResponseWriter, result string) {
	_ = json.NewEncoder(w).Encode(map[string]any{"status": 200, "result": result})
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch r.URL.Path {
		case "/browser":
			_, _ = w.Write([]byte(browserPage))
		case "/watch/frieren-beyond-journeys-end-x3z9":
			_, _ = w.Write([]byte(watchPage))
		case "/ajax/episodes/list":
			if q.Get("ani_id") != "c4S88Q" || q.Get("_") != "enc(c4S88Q)" {
				t.Errorf("unexpected query %q", r.URL.RawQuery)
			}
			writeResult(w, episodeList)
		case "/ajax/links/list":
			if q.Get("token") != "tok1" || q.Get("_") != "enc(tok1)" {
				t.Errorf("unexpected query %q", r.URL.RawQuery)
			}
			writeResult(w, linkList)
		case "/ajax/links/view":
			if q.Get("id") != "lid-dub-2" {
				t.Errorf("unexpected link id %q", q.Get("id"))
			}
			writeResult(w, "ENCRYPTED")
		default:
			http.NotFound(w, r)
		}
	}))
}

// ─── search & details ───

func TestSearch(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	got, err := New(srv.URL, upstream.New("animekai"), &stubCodec{}).Search(context.Background(), "Frieren")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected the empty slug to be skipped, got %+v", got)
	}
	c := got[0]
	if c.ProviderID != "frieren-beyond-journeys-end-x3z9" || c.AlternateTitle != "Sousou no Frieren" {
		t.Fatalf("unexpected candidate: %+v", c)
	}
	if c.Episodes != 28 || c.Type != domain.TypeSeries {
		t.Fatalf("unexpected candidate fields: %+v", c)
	}
}

func TestFetchDetails(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	d, err := New(srv.URL, upstream.New("animekai"), &stubCodec{}).FetchDetails(context.Background(), "frieren-beyond-journeys-end-x3z9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.AnimeID != "c4S88Q" || !d.HasSub || !d.HasDub || d.Episodes != 28 {
		t.Fatalf("unexpected details: %+v", d)
	}
	if d.Status != "Completed" || d.Season != "Fall" || d.Year != 2023 || d.Score != 9.3 {
		t.Fatalf("unexpected details: %+v", d)
	}
	if strings.Join(d.Genres, ",") != "Adventure,Drama" {
		t.Fatalf("unexpected genres: %v", d.Genres)
	}
}

// ─── episodes ───

func TestFetchEpisodes(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	codec := &stubCodec{}

	page, err := New(srv.URL, upstream.New("animekai"), codec).FetchEpisodes(context.Background(), "frieren-beyond-journeys-end-x3z9", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Details == nil || page.HasNext {
		t.Fatalf("expected a single page with details, got %+v", page)
	}
	if len(page.Episodes) != 2 {
		t.Fatalf("expected bad entries skipped, got %+v", page.Episodes)
	}
	ep := page.Episodes[1]
	if ep.Token != "frieren-beyond-journeys-end-x3z9$ep=1$token=tok1" || ep.Number != 1 {
		t.Fatalf("unexpected episode: %+v", ep)
	}
	if !page.Episodes[0].IsFiller {
		t.Fatal("expected filler flag")
	}
	if len(codec.encoded) != 1 || codec.encoded[0] != "c4S88Q" {
		t.Fatalf("expected ani id to be encoded, got %v", codec.encoded)
	}
}

// ─── servers & embed ───

func TestListServersAndEmbed(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	c := New(srv.URL, upstream.New("animekai"), &stubCodec{})
	token := "frieren-beyond-journeys-end-x3z9$ep=1$token=tok1"

	servers, err := c.ListServers(context.Background(), token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(servers) != 4 {
		t.Fatalf("expected 4 servers, got %+v", servers)
	}
	if servers[1].Track != domain.TrackSub || servers[3].Track != domain.TrackDub || servers[3].Name != "server 2" {
		t.Fatalf("unexpected servers: %+v", servers)
	}

	emb, err := c.ResolveEmbed(context.Background(), token, servers[3])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emb.URL != "https://megaup.cc/e/abc123" {
		t.Fatalf("unexpected embed: %+v", emb)
	}
}

func TestListServers_InvalidToken(t *testing.T) {
	_, err := New("http://127.0.0.1:0", upstream.New("animekai"), &stubCodec{}).ListServers(context.Background(), "frieren$ep=1")
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}
