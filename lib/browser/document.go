package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// navigateFunc and clickFunc produce the next document, from a url or
// from the element that was clicked.
type (
	navigateFunc func(ctx context.Context, target string, timeout time.Duration) (*goquery.Document, *url.URL, error)
	clickFunc    func(ctx context.Context, current *url.URL, target *goquery.Selection) (*goquery.Document, *url.URL, error)
)

// documentPage is a Page over parsed, script-less html. The document
// only changes on Navigate or Click, so waits are evaluated once against
// the current document instead of polling.
type documentPage struct {
	navigate navigateFunc
	click    clickFunc
	onClose  func() error

	mu         sync.Mutex
	doc        *goquery.Document
	location   *url.URL
	generation int
	closed     bool
}

func (p *documentPage) snapshot() (*goquery.Document, *url.URL, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, nil, 0, fmt.Errorf("browser: page is closed")
	}
	return p.doc, p.location, p.generation, nil
}

func (p *documentPage) replace(doc *goquery.Document, location *url.URL) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doc = doc
	p.location = location
	p.generation++
}

func (p *documentPage) Navigate(ctx context.Context, target string, timeout time.Duration) error {
	if _, _, _, err := p.snapshot(); err != nil {
		return err
	}
	doc, location, err := p.navigate(ctx, target, timeout)
	if err != nil {
		return err
	}
	p.replace(doc, location)
	return nil
}

func (p *documentPage) WaitForSelector(ctx context.Context, selector string, state WaitState, timeout time.Duration) error {
	doc, _, _, err := p.snapshot()
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrTimeout
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	matches := doc.Find(selector)
	visible := false
	matches.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		visible = isRendered(s)
		return !visible
	})

	satisfied := false
	switch state {
	case Attached:
		satisfied = matches.Length() > 0
	case Visible:
		satisfied = visible
	case Hidden:
		satisfied = !visible
	case Detached:
		satisfied = matches.Length() == 0
	}
	if !satisfied {
		return ErrTimeout
	}
	return nil
}

func (p *documentPage) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	doc, _, generation, err := p.snapshot()
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	elements := []Element{}
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		elements = append(elements, &documentElement{
			page:       p,
			sel:        s,
			generation: generation,
		})
	})
	return elements, nil
}

func (p *documentPage) Content(ctx context.Context) (string, error) {
	doc, _, _, err := p.snapshot()
	if err != nil {
		return "", err
	}
	if doc == nil {
		return "", nil
	}
	return goquery.OuterHtml(doc.Selection)
}

func (p *documentPage) URL() string {
	_, location, _, err := p.snapshot()
	if err != nil || location == nil {
		return ""
	}
	return location.String()
}

func (p *documentPage) Wait(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, d)
}

func (p *documentPage) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.onClose != nil {
		return p.onClose()
	}
	return nil
}

type documentElement struct {
	page       *documentPage
	sel        *goquery.Selection
	generation int
}

func (e *documentElement) check() error {
	_, _, generation, err := e.page.snapshot()
	if err != nil {
		return err
	}
	if generation != e.generation {
		return ErrDetached
	}
	return nil
}

func (e *documentElement) TextContent(ctx context.Context) (string, error) {
	if err := e.check(); err != nil {
		return "", err
	}
	return e.sel.Text(), nil
}

func (e *documentElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	if err := e.check(); err != nil {
		return "", false, err
	}
	value, ok := e.sel.Attr(name)
	return value, ok, nil
}

func (e *documentElement) IsEnabled(ctx context.Context) (bool, error) {
	if err := e.check(); err != nil {
		return false, err
	}
	if _, disabled := e.sel.Attr("disabled"); disabled {
		return false, nil
	}
	if e.sel.ParentsFiltered("fieldset[disabled]").Length() > 0 {
		return false, nil
	}
	return true, nil
}

func (e *documentElement) Click(ctx context.Context) error {
	if err := e.check(); err != nil {
		return err
	}
	if enabled, _ := e.IsEnabled(ctx); !enabled {
		return ErrNotClickable
	}
	_, location, _, err := e.page.snapshot()
	if err != nil {
		return err
	}
	doc, next, err := e.page.click(ctx, location, e.sel)
	if err != nil {
		return err
	}
	e.page.replace(doc, next)
	return nil
}

func isRendered(s *goquery.Selection) bool {
	if strings.EqualFold(s.AttrOr("type", ""), "hidden") && goquery.NodeName(s) == "input" {
		return false
	}
	for node := s; node.Length() > 0; node = node.Parent() {
		if _, hidden := node.Attr("hidden"); hidden {
			return false
		}
		style := strings.ToLower(strings.ReplaceAll(node.AttrOr("style", ""), " ", ""))
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}
