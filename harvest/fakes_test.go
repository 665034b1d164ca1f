package harvest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"sync"
	"testing"
)

// fakePage is an in-memory Page. Heights are returned in order; the last
// value repeats once the list is exhausted.
type fakePage struct {
	mu sync.Mutex

	url      string
	heights  []int
	measured int
	scrolled []float64

	byQuery  map[string][]Element
	queryErr map[string]error
	queried  []string

	bodies   map[string][]byte
	fetched  []string
	fetchErr error
}

func newFakePage() *fakePage {
	return &fakePage{
		url:      "https://www.coupang.com/vp/products/1",
		heights:  []int{1000},
		byQuery:  map[string][]Element{},
		queryErr: map[string]error{},
		bodies:   map[string][]byte{},
	}
}

func (p *fakePage) URL(context.Context) (string, error) { return p.url, nil }

func (p *fakePage) ScrollHeight(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	i := min(p.measured, len(p.heights)-1)
	p.measured++
	return p.heights[i], nil
}

func (p *fakePage) ScrollBy(ctx context.Context, dy float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolled = append(p.scrolled, dy)
	return nil
}

func (p *fakePage) Elements(_ context.Context, selector string) ([]Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queried = append(p.queried, selector)
	if err := p.queryErr[selector]; err != nil {
		return nil, err
	}
	return p.byQuery[selector], nil
}

func (p *fakePage) Fetch(_ context.Context, url string, maxBytes int64) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetched = append(p.fetched, url)
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	body, ok := p.bodies[url]
	if !ok {
		return nil, fmt.Errorf("GET %s: 404", url)
	}
	if maxBytes > 0 && int64(len(body)) > maxBytes {
		return nil, errors.New("body too large")
	}
	return body, nil
}

// fakeElement is an in-memory Element.
type fakeElement struct {
	key    string
	box    *Box
	boxErr error
	attrs  map[string]string

	shot    []byte
	shotErr error
	shots   int
}

func (e *fakeElement) Key(context.Context) string { return e.key }

func (e *fakeElement) Box(context.Context) (*Box, error) { return e.box, e.boxErr }

func (e *fakeElement) Attribute(_ context.Context, name string) (string, bool, error) {
	v, ok := e.attrs[name]
	return v, ok, nil
}

func (e *fakeElement) ScrollIntoView(ctx context.Context) error { return ctx.Err() }

func (e *fakeElement) Screenshot(context.Context, int) ([]byte, error) {
	e.shots++
	return e.shot, e.shotErr
}

// img builds a large image element with a src attribute.
func img(key, src string) *fakeElement {
	return &fakeElement{
		key:   key,
		box:   &Box{Width: 780, Height: 1200},
		attrs: map[string]string{"src": src},
	}
}

// small builds an element below the default size thresholds.
func small(key string) *fakeElement {
	return &fakeElement{
		key:   key,
		box:   &Box{Width: 120, Height: 120},
		attrs: map[string]string{"src": "https://image.coupangcdn.com/icon.png"},
	}
}

func elements(els ...*fakeElement) []Element {
	out := make([]Element, len(els))
	for i, e := range els {
		out[i] = e
	}
	return out
}

// pngBytes encodes a w×h PNG whose content is derived from seed, so
// different seeds produce perceptually different images.
func pngBytes(t testing.TB, seed, w, h int) []byte {
	t.Helper()
	m := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// Bands of varying width per seed give distinct gradients.
			v := uint8(((x*(seed+1) + y*seed*3) * 37) % 256)
			m.SetGray(x, y, color.Gray{Y: v})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, m); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// textPanel encodes a white 300x400 PNG with rows of black strokes laid out
// from seed, resembling a rendered block of label text.
func textPanel(t testing.TB, seed uint64) []byte {
	t.Helper()
	r := rand.New(rand.NewPCG(seed, seed*31+7))
	m := image.NewGray(image.Rect(0, 0, 300, 400))
	for i := range m.Pix {
		m.Pix[i] = 0xFF
	}
	for y := 20; y < 380; y += 24 {
		x := 16 + r.IntN(40)
		end := x + 80 + r.IntN(180)
		for x < end && x < 284 {
			w := 3 + r.IntN(9)
			for yy := y; yy < y+10; yy++ {
				for xx := x; xx < min(x+w, 284); xx++ {
					m.SetGray(xx, yy, color.Gray{})
				}
			}
			x += w + 2 + r.IntN(6)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, m); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
