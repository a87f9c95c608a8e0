package render

import (
	"context"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Chrome launches a headless Chrome per session through chromedp.
type Chrome struct {
	ExecPath  string
	UserAgent string
	NoSandbox bool
}

func (c Chrome) Open(ctx context.Context) (Session, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("mute-audio", true), chromedp.Flag("autoplay-policy", "no-user-gesture-required"))
	if c.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.ExecPath))
	}
	if c.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.UserAgent))
	}
	if c.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, err
	}
	return &chromeSession{ctx: tabCtx, cancelTab: cancelTab, cancelAlloc: cancelAlloc}, nil
}

type chromeSession struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

func (s *chromeSession) Observe(fn func(string)) {
	chromedp.ListenTarget(s.ctx, func(ev interface{}) {
		if e, ok := ev.(*network.EventRequestWillBeSent); ok && e.Request != nil {
			fn(e.Request.URL)
		}
	})
}

// bounded ties an action to both the tab and the caller's deadline.
func (s *chromeSession) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	var (
		actx   context.Context
		cancel context.CancelFunc
	)
	if dl, ok := ctx.Deadline(); ok {
		actx, cancel = context.WithDeadline(s.ctx, dl)
	} else {
		actx, cancel = context.WithCancel(s.ctx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return actx, func() {
		stop()
		cancel()
	}
}

func (s *chromeSession) Navigate(ctx context.Context, url string, headers map[string]string) error {
	actx, cancel := s.bounded(ctx)
	defer cancel()
	actions := []chromedp.Action{}
	if len(headers) > 0 {
		h := network.Headers{}
		for k, v := range headers {
			h[k] = v
		}
		actions = append(actions, network.SetExtraHTTPHeaders(h))
	}
	actions = append(actions, chromedp.Navigate(url))
	return chromedp.Run(actx, actions...)
}

func (s *chromeSession) Click(ctx context.Context, selector string) error {
	actx, cancel := s.bounded(ctx)
	defer cancel()
	return chromedp.Run(actx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

// Close cancels the tab, then the allocator, which waits for the browser
// process to exit.
func (s *chromeSession) Close() error {
	s.cancelTab()
	s.cancelAlloc()
	return nil
}
