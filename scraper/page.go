package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/labelscan/harvest"
)

// Page is a browser tab driven through rod. It implements harvest.Page.
type Page struct {
	rod     *rod.Page
	title   string
	fetcher *httpFetcher

	uaOnce sync.Once
	ua     string
}

func newPage(p *rod.Page, title string) *Page {
	return &Page{rod: p, title: title, fetcher: newHTTPFetcher(0)}
}

// Title returns the tab title at selection or after the last navigation.
func (p *Page) Title() string { return p.title }

func (p *Page) refreshTitle() {
	if info, err := p.rod.Info(); err == nil {
		p.title = info.Title
	}
}

// URL returns the current document URL.
func (p *Page) URL(ctx context.Context) (string, error) {
	info, err := p.rod.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

// HTML returns the rendered document.
func (p *Page) HTML(ctx context.Context) (string, error) {
	return p.rod.Context(ctx).HTML()
}

// ScrollHeight returns document.body.scrollHeight.
func (p *Page) ScrollHeight(ctx context.Context) (int, error) {
	res, err := p.rod.Context(ctx).Eval(`() => document.body.scrollHeight`)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

// ScrollBy dispatches a mouse wheel event of dy pixels.
func (p *Page) ScrollBy(ctx context.Context, dy float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.rod.Mouse.Scroll(0, dy, 1)
}

// Elements returns every element matching selector in document order.
func (p *Page) Elements(ctx context.Context, selector string) ([]harvest.Element, error) {
	els, err := p.rod.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	out := make([]harvest.Element, len(els))
	for i, el := range els {
		out[i] = &Element{rod: el}
	}
	return out, nil
}

// Fetch downloads url with the tab's cookies, user agent and URL as referer.
func (p *Page) Fetch(ctx context.Context, url string, maxBytes int64) ([]byte, error) {
	cookies, err := p.rod.Context(ctx).Cookies([]string{url})
	if err != nil {
		return nil, fmt.Errorf("read session cookies: %w", err)
	}
	referer, _ := p.URL(ctx)

	return p.fetcher.fetch(ctx, FetchRequest{
		URL:       url,
		Referer:   referer,
		UserAgent: p.userAgent(ctx),
		Cookies:   toHTTPCookies(cookies),
		MaxBytes:  maxBytes,
	})
}

// userAgent reads navigator.userAgent once per page.
func (p *Page) userAgent(ctx context.Context) string {
	p.uaOnce.Do(func() {
		if res, err := p.rod.Context(ctx).Eval(`() => navigator.userAgent`); err == nil {
			p.ua = res.Value.Str()
		}
	})
	return p.ua
}

func toHTTPCookies(cookies []*proto.NetworkCookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			hc.Expires = c.Expires.Time()
		}
		out = append(out, hc)
	}
	return out
}

// Element is a DOM element driven through rod. It implements harvest.Element.
type Element struct {
	rod *rod.Element
}

// Key returns the backend node ID, stable across queries for the same node.
func (e *Element) Key(ctx context.Context) string {
	node, err := e.rod.Context(ctx).Describe(0, false)
	if err != nil || node == nil {
		return ""
	}
	return strconv.Itoa(int(node.BackendNodeID))
}

// Box returns the rendered bounding box, or nil when not laid out.
func (e *Element) Box(ctx context.Context) (*harvest.Box, error) {
	shape, err := e.rod.Context(ctx).Shape()
	if err != nil {
		return nil, err
	}
	r := shape.Box()
	if r == nil {
		return nil, nil
	}
	return &harvest.Box{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}, nil
}

// Attribute returns the attribute value and whether it is present.
func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.rod.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

// ScrollIntoView scrolls the element into the visible area.
func (e *Element) ScrollIntoView(ctx context.Context) error {
	return e.rod.Context(ctx).ScrollIntoView()
}

// Screenshot captures the element's region: PNG for quality 0, JPEG
// otherwise.
func (e *Element) Screenshot(ctx context.Context, quality int) ([]byte, error) {
	format := proto.PageCaptureScreenshotFormatPng
	if quality > 0 {
		format = proto.PageCaptureScreenshotFormatJpeg
	}
	return e.rod.Context(ctx).Screenshot(format, quality)
}

var (
	_ harvest.Page    = (*Page)(nil)
	_ harvest.Element = (*Element)(nil)
	_ settler         = (*Page)(nil)
)

// waitStable lets lazy content settle before the DOM is read. Callers bound
// ctx; WaitDOMStable itself never gives up on a page that keeps mutating.
func (p *Page) waitStable(ctx context.Context) {
	_ = p.rod.Context(ctx).WaitDOMStable(300*time.Millisecond, 0.1)
}
