package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// images, stylesheets and fonts are never needed to read the calendar
var defaultBlockedURLs = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg",
	"*.css", "*.woff", "*.woff2", "*.ttf", "*.otf",
}

type ChromeOptions struct {
	// ExecPath is the chrome binary, chromedp looks one up when empty.
	ExecPath  string
	Headless  bool
	UserAgent string
	// BlockedURLs are url patterns that are never fetched, nil uses the
	// default list of static assets.
	BlockedURLs []string
}

// ChromeLauncher drives a real chrome through the devtools protocol,
// one browser process per launched page.
type ChromeLauncher struct {
	opts ChromeOptions
}

func NewChromeLauncher(opts ChromeOptions) ChromeLauncher {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.BlockedURLs == nil {
		opts.BlockedURLs = defaultBlockedURLs
	}
	return ChromeLauncher{opts: opts}
}

func (l ChromeLauncher) Launch(ctx context.Context) (Page, error) {
	allocatorOptions := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(l.opts.UserAgent),
	)
	if l.opts.ExecPath != "" {
		allocatorOptions = append(allocatorOptions, chromedp.ExecPath(l.opts.ExecPath))
	}

	// the browser outlives the launch call, it is torn down by Close
	allocatorCtx, cancelAllocator := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocatorOptions...)
	browserCtx, cancelBrowser := chromedp.NewContext(
		allocatorCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			slog.Debug(fmt.Sprintf(format, args...), "component", "chromedp")
		}),
	)

	err := chromedp.Run(browserCtx,
		network.Enable(),
		network.SetBlockedURLS(l.opts.BlockedURLs),
	)
	if err != nil {
		cancelBrowser()
		cancelAllocator()
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	slog.DebugContext(ctx, "chrome launched", "headless", l.opts.Headless)
	return &chromePage{
		ctx: browserCtx,
		close: func() {
			cancelBrowser()
			cancelAllocator()
		},
	}, nil
}

type chromePage struct {
	// ctx carries the chromedp target, every action derives from it
	ctx   context.Context
	close func()
}

// run executes actions against the tab while honoring both the caller's
// ctx and an optional timeout.
func (p *chromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

func (p *chromePage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	return p.run(ctx, timeout, chromedp.Navigate(url))
}

func (p *chromePage) WaitForSelector(ctx context.Context, selector string, state WaitState, timeout time.Duration) error {
	var action chromedp.Action
	switch state {
	case Attached:
		action = chromedp.WaitReady(selector, chromedp.ByQuery)
	case Visible:
		action = chromedp.WaitVisible(selector, chromedp.ByQuery)
	case Hidden:
		action = chromedp.ActionFunc(func(ctx context.Context) error {
			var nodes []*cdp.Node
			err := chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)).Do(ctx)
			if err != nil || len(nodes) == 0 {
				return err
			}
			return chromedp.WaitNotVisible(selector, chromedp.ByQuery).Do(ctx)
		})
	case Detached:
		action = chromedp.WaitNotPresent(selector, chromedp.ByQuery)
	default:
		return fmt.Errorf("browser: unknown wait state %d", state)
	}
	return p.run(ctx, timeout, action)
}

func (p *chromePage) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	var nodes []*cdp.Node
	err := p.run(ctx, 0, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		return nil, err
	}
	elements := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		elements = append(elements, &chromeElement{page: p, node: n})
	}
	return elements, nil
}

func (p *chromePage) Content(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (p *chromePage) URL() string {
	var location string
	err := p.run(context.Background(), time.Second*5, chromedp.Location(&location))
	if err != nil {
		return ""
	}
	return location
}

func (p *chromePage) Wait(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, d)
}

func (p *chromePage) Close() error {
	p.close()
	return nil
}

type chromeElement struct {
	page *chromePage
	node *cdp.Node
}

func (e *chromeElement) ids() []cdp.NodeID {
	return []cdp.NodeID{e.node.NodeID}
}

func (e *chromeElement) TextContent(ctx context.Context) (string, error) {
	var text string
	err := e.page.run(ctx, 0, chromedp.TextContent(e.ids(), &text, chromedp.ByNodeID))
	return text, err
}

func (e *chromeElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := e.page.run(ctx, 0, chromedp.AttributeValue(e.ids(), name, &value, &ok, chromedp.ByNodeID))
	return value, ok, err
}

func (e *chromeElement) IsEnabled(ctx context.Context) (bool, error) {
	var disabled bool
	err := e.page.run(ctx, 0, chromedp.JavascriptAttribute(e.ids(), "disabled", &disabled, chromedp.ByNodeID))
	if err != nil {
		return false, err
	}
	return !disabled, nil
}

func (e *chromeElement) Click(ctx context.Context) error {
	return e.page.run(ctx, 0, chromedp.MouseClickNode(e.node))
}
