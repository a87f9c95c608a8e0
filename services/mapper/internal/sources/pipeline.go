// Package sources turns an episode token into a playable stream. Each
// request walks a fixed state sequence; every transition is logged.
package sources

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/example/anime-mapper/services/mapper/internal/catalog"
	"github.com/example/anime-mapper/services/mapper/internal/domain"
	"github.com/example/anime-mapper/services/mapper/internal/render"
)

// State is a pipeline position.
type State string

const (
	StateTokenAcquired      State = "token-acquired"
	StateSessionDecoded     State = "session-decoded"
	StateEmbedResolved      State = "embed-resolved"
	StateObfuscationDecoded State = "obfuscation-decoded"
	StateStreamExtracted    State = "stream-extracted"
	StateFailed             State = "failed"
)

// Outcomes passed to the recorder.
const (
	OutcomeExtracted = "extracted"
	OutcomeDirect    = "direct"
	OutcomeRendered  = "rendered"
	OutcomeFailed    = "failed"
)

// Request selects an episode, a server and a track.
type Request struct {
	Token  string
	Server string
	Track  domain.Track
}

// Extractor undoes one embed host's obfuscation.
type Extractor interface {
	Name() string
	Match(u *url.URL) bool
	Extract(ctx context.Context, embed domain.Embed) (domain.StreamDescriptor, error)
}

// VariantSource is implemented by catalogs whose server list is itself a set
// of alternative embeds.
type VariantSource interface {
	Variants(servers []domain.Server) []domain.Variant
}

type Pipeline struct {
	Provider   catalog.SourceProvider
	Extractors []Extractor
	Renderer   render.Renderer
	Log        *zap.Logger
	// Record is told the terminal outcome of every request.
	Record func(catalogName, outcome string)
}

// Option configures the Pipeline.
type Option func(*Pipeline)

func WithLogger(log *zap.Logger) Option {
	return func(p *Pipeline) { p.Log = log }
}

func WithRenderer(r render.Renderer) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.Renderer = r
		}
	}
}

func WithRecorder(f func(catalogName, outcome string)) Option {
	return func(p *Pipeline) { p.Record = f }
}

func New(provider catalog.SourceProvider, extractors []Extractor, opts ...Option) *Pipeline {
	p := &Pipeline{
		Provider:   provider,
		Extractors: extractors,
		Renderer:   render.Nop{},
		Log:        zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type run struct {
	log   *zap.Logger
	state State
}

func (r *run) to(next State, fields ...zap.Field) {
	r.log.Debug("source pipeline transition", append([]zap.Field{zap.String("from", string(r.state)), zap.String("to", string(next))}, fields...)...)
	r.state = next
}

func (p *Pipeline) record(outcome string) {
	if p.Record != nil {
		p.Record(p.Provider.Name(), outcome)
	}
}

func (p *Pipeline) fail(r *run, stage domain.Stage, kind, err error) error {
	r.to(StateFailed, zap.Error(err))
	p.record(OutcomeFailed)
	return domain.Wrap(p.Provider.Name(), stage, kind, err)
}

// Resolve runs the pipeline for req.
func (p *Pipeline) Resolve(ctx context.Context, req Request) (domain.StreamDescriptor, error) {
	r := &run{log: p.Log.With(zap.String("catalog", p.Provider.Name()), zap.String("token", req.Token)), state: StateTokenAcquired}
	if strings.TrimSpace(req.Token) == "" {
		return domain.StreamDescriptor{}, p.fail(r, domain.StageToken, domain.ErrInvalidRequest, errors.New("empty episode token"))
	}

	servers, err := p.Provider.ListServers(ctx, req.Token)
	if err != nil {
		return domain.StreamDescriptor{}, p.fail(r, domain.StageSession, domain.ErrUpstream, err)
	}
	track, pool := SelectTrack(servers, req.Track)
	if len(pool) == 0 {
		return domain.StreamDescriptor{}, p.fail(r, domain.StageSession, domain.ErrNotFound, fmt.Errorf("no servers for %s", req.Token))
	}
	if req.Track != "" && track != req.Track {
		r.log.Info("requested track unavailable, falling back", zap.String("requested", string(req.Track)), zap.String("track", string(track)))
	}
	srv := SelectServer(pool, req.Server)
	r.to(StateSessionDecoded, zap.String("server", srv.Name), zap.String("track", string(track)))

	embed, err := p.Provider.ResolveEmbed(ctx, req.Token, srv)
	if err != nil {
		return domain.StreamDescriptor{}, p.fail(r, domain.StageEmbed, domain.ErrUpstream, err)
	}
	if vs, ok := p.Provider.(VariantSource); ok && len(embed.Variants) == 0 {
		embed.Variants = vs.Variants(servers)
	}
	r.to(StateEmbedResolved, zap.String("embed", embed.URL))

	desc, outcome, err := p.extract(ctx, r, embed)
	if err != nil {
		return domain.StreamDescriptor{}, err
	}

	desc.Server = srv.Name
	desc.Track = track
	desc.Embed = embed.URL
	if len(desc.Variants) == 0 {
		desc.Variants = embed.Variants
	}
	desc.Subtitles = LabelSubtitles(desc.Subtitles)
	r.to(StateStreamExtracted, zap.String("outcome", outcome))
	p.record(outcome)
	return desc, nil
}

func (p *Pipeline) extract(ctx context.Context, r *run, embed domain.Embed) (domain.StreamDescriptor, string, error) {
	u, err := url.Parse(embed.URL)
	if err != nil || u.Host == "" {
		return domain.StreamDescriptor{}, "", p.fail(r, domain.StageEmbed, domain.ErrUpstream, fmt.Errorf("bad embed url %q", embed.URL))
	}

	ex := p.extractorFor(u)
	if ex == nil {
		return Direct(embed), OutcomeDirect, nil
	}

	desc, err := ex.Extract(ctx, embed)
	if err == nil && desc.SourceURL != "" {
		r.to(StateObfuscationDecoded, zap.String("extractor", ex.Name()))
		return desc, OutcomeExtracted, nil
	}
	cause := err
	if cause == nil {
		cause = errors.New("extractor returned no url")
	}
	r.log.Warn("static extraction failed, trying render fallback", zap.String("extractor", ex.Name()), zap.Error(cause))

	capture, rerr := p.Renderer.Render(ctx, embed.URL, refererHeaders(embed))
	if rerr != nil {
		r.log.Warn("render fallback failed", zap.Error(rerr))
	}
	if !capture.Empty() {
		r.to(StateObfuscationDecoded, zap.String("extractor", "render"))
		return fromCapture(embed, capture), OutcomeRendered, nil
	}

	r.to(StateFailed, zap.Error(cause))
	p.record(OutcomeFailed)
	return domain.StreamDescriptor{}, "", &domain.StageError{
		Catalog: p.Provider.Name(),
		Stage:   domain.StageObfuscated,
		Kind:    domain.ErrExtractionFailed,
		Err:     cause,
	}
}

func (p *Pipeline) extractorFor(u *url.URL) Extractor {
	for _, ex := range p.Extractors {
		if ex.Match(u) {
			return ex
		}
	}
	return nil
}

// SelectTrack returns the servers of want, else of the first track in
// domain.TrackPreference that has any.
func SelectTrack(servers []domain.Server, want domain.Track) (domain.Track, []domain.Server) {
	order := domain.TrackPreference
	if want != "" {
		order = append([]domain.Track{want}, order...)
	}
	for _, t := range order {
		var pool []domain.Server
		for _, s := range servers {
			if s.Track == t {
				pool = append(pool, s)
			}
		}
		if len(pool) > 0 {
			return t, pool
		}
	}
	return "", nil
}

// SelectServer matches name against server names and qualities, case
// insensitively; no match means the first server.
func SelectServer(pool []domain.Server, name string) domain.Server {
	name = strings.TrimSpace(name)
	if name != "" {
		for _, s := range pool {
			if strings.EqualFold(s.Name, name) || (s.Quality != "" && strings.EqualFold(s.Quality, name)) {
				return s
			}
		}
	}
	return pool[0]
}

// Direct passes an embed through untouched, for hosts no extractor knows.
func Direct(embed domain.Embed) domain.StreamDescriptor {
	return domain.StreamDescriptor{
		SourceURL:   embed.URL,
		IsSegmented: IsSegmented(embed.URL),
		Headers:     refererHeaders(embed),
		Subtitles:   []domain.Subtitle{},
	}
}

func fromCapture(embed domain.Embed, c render.Capture) domain.StreamDescriptor {
	desc := domain.StreamDescriptor{
		SourceURL:   c.Streams[0],
		IsSegmented: true,
		Headers:     refererHeaders(embed),
		Subtitles:   make([]domain.Subtitle, 0, len(c.Subtitles)),
	}
	for _, s := range c.Subtitles {
		desc.Subtitles = append(desc.Subtitles, domain.Subtitle{URL: s})
	}
	return desc
}

func refererHeaders(embed domain.Embed) map[string]string {
	h := map[string]string{}
	for k, v := range embed.Headers {
		h[k] = v
	}
	if embed.Referer != "" {
		h["Referer"] = embed.Referer
	}
	return h
}

// IsSegmented reports whether raw points at an HLS playlist.
func IsSegmented(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".m3u8")
}
