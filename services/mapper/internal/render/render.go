// Package render is the last-resort source capture: load an embed page in a
// real browser, press play and watch the network for stream and caption
// requests.
package render

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrUnavailable is returned when no browser engine is configured.
var ErrUnavailable = errors.New("render: no engine")

// Capture is what the page requested during the window.
type Capture struct {
	Streams   []string
	Subtitles []string
}

// Empty reports whether nothing playable was observed.
func (c Capture) Empty() bool { return len(c.Streams) == 0 }

// Renderer is the optional fallback the source pipeline is given.
type Renderer interface {
	Render(ctx context.Context, embedURL string, headers map[string]string) (Capture, error)
}

// Nop is the renderer for deployments without a browser.
type Nop struct{}

func (Nop) Render(context.Context, string, map[string]string) (Capture, error) {
	return Capture{}, nil
}

// Engine starts browser sessions.
type Engine interface {
	Open(ctx context.Context) (Session, error)
}

// Session is one browser instance. Close must release it whatever state it
// is in.
type Session interface {
	// Observe registers fn for the URL of every outgoing request.
	Observe(fn func(url string))
	Navigate(ctx context.Context, url string, headers map[string]string) error
	Click(ctx context.Context, selector string) error
	Close() error
}

// PlaySelectors are tried in order to start playback.
var PlaySelectors = []string{
	".jw-icon-playback",
	".jw-display-icon-container",
	".vjs-big-play-button",
	".plyr__control--overlaid",
	"button[aria-label='Play']",
	"#megacloud-player",
	"video",
}

type Browser struct {
	Engine       Engine
	Window       time.Duration
	ClickTimeout time.Duration
	Selectors    []string
	Log          *zap.Logger
}

func NewBrowser(engine Engine, window time.Duration, log *zap.Logger) *Browser {
	if window <= 0 {
		window = 15 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Browser{
		Engine:       engine,
		Window:       window,
		ClickTimeout: 2 * time.Second,
		Selectors:    PlaySelectors,
		Log:          log,
	}
}

type collector struct {
	mu        sync.Mutex
	streams   []string
	subtitles []string
	seen      map[string]struct{}
	found     chan struct{}
	once      sync.Once
}

func (c *collector) observe(raw string) {
	kind := classify(raw)
	if kind == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[raw]; ok {
		return
	}
	c.seen[raw] = struct{}{}
	switch kind {
	case "stream":
		c.streams = append(c.streams, raw)
		c.once.Do(func() { close(c.found) })
	case "caption":
		c.subtitles = append(c.subtitles, raw)
	}
}

func (c *collector) capture() Capture {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Capture{
		Streams:   append([]string(nil), c.streams...),
		Subtitles: append([]string(nil), c.subtitles...),
	}
}

func classify(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	p := strings.ToLower(u.Path)
	switch {
	case strings.HasSuffix(p, ".m3u8"):
		return "stream"
	case strings.HasSuffix(p, ".vtt") && !strings.Contains(p, "thumbnail"):
		return "caption"
	}
	return ""
}

// Render opens a session, loads embedURL and waits up to Window for a
// stream request. The session is closed on every return path.
func (b *Browser) Render(ctx context.Context, embedURL string, headers map[string]string) (_ Capture, err error) {
	if b.Engine == nil {
		return Capture{}, ErrUnavailable
	}
	wctx, cancel := context.WithTimeout(ctx, b.Window)
	defer cancel()

	sess, err := b.Engine.Open(wctx)
	if err != nil {
		return Capture{}, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			b.Log.Warn("render session close failed", zap.Error(cerr))
			if err == nil {
				err = cerr
			}
		}
	}()

	col := &collector{seen: map[string]struct{}{}, found: make(chan struct{})}
	sess.Observe(col.observe)

	if err := sess.Navigate(wctx, embedURL, headers); err != nil {
		if wctx.Err() != nil {
			return col.capture(), nil
		}
		return Capture{}, err
	}

	for _, sel := range b.Selectors {
		select {
		case <-col.found:
			return col.capture(), nil
		case <-wctx.Done():
			return col.capture(), nil
		default:
		}
		cctx, ccancel := context.WithTimeout(wctx, b.ClickTimeout)
		if err := sess.Click(cctx, sel); err != nil {
			b.Log.Debug("play control not clickable", zap.String("selector", sel), zap.Error(err))
		}
		ccancel()
	}

	select {
	case <-col.found:
	case <-wctx.Done():
		b.Log.Debug("render window elapsed", zap.String("embed", embedURL), zap.Duration("window", b.Window))
	}
	return col.capture(), nil
}
