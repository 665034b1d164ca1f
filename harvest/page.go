// Package harvest implements the dynamic content harvesting pipeline: scroll
// an infinite-scroll page until it stops growing, pick the images that look
// like product-detail panels, acquire their pixels and bound the result.
//
// The package is browser-agnostic. It drives a Page and its Elements; the
// rod-backed implementation lives in package scraper.
package harvest

import (
	"context"
	"crypto/sha256"
	"image"
	"time"
)

// Page is the subset of a browser tab the pipeline drives.
type Page interface {
	// URL returns the current document URL.
	URL(ctx context.Context) (string, error)

	// ScrollHeight returns the total page height in CSS pixels.
	ScrollHeight(ctx context.Context) (int, error)

	// ScrollBy scrolls the viewport down by dy pixels.
	ScrollBy(ctx context.Context, dy float64) error

	// Elements returns every element matching the CSS selector, in
	// document order. No match is not an error.
	Elements(ctx context.Context, selector string) ([]Element, error)

	// Fetch retrieves url through the page's authenticated network
	// context. Bodies larger than maxBytes are rejected.
	Fetch(ctx context.Context, url string, maxBytes int64) ([]byte, error)
}

// Element is one DOM element returned by Page.Elements.
type Element interface {
	// Key identifies the underlying DOM node, so the same node matched by
	// two queries is recognised. An empty key never matches another.
	Key(ctx context.Context) string

	// Box returns the rendered bounding box, or nil when the element is
	// not laid out.
	Box(ctx context.Context) (*Box, error)

	// Attribute returns the attribute value and whether it is present.
	Attribute(ctx context.Context, name string) (string, bool, error)

	// ScrollIntoView scrolls the element into the visible area.
	ScrollIntoView(ctx context.Context) error

	// Screenshot captures exactly the element's rendered region. Quality
	// 0 captures PNG, anything else JPEG at that quality.
	Screenshot(ctx context.Context, quality int) ([]byte, error)
}

// Box is a rendered bounding box in device pixels.
type Box struct {
	X, Y          float64
	Width, Height float64
}

// Candidate is an image element that passed the size filter.
type Candidate struct {
	Element Element
	Box     Box

	// Query is the selector query that found the element.
	Query string

	// Index is the 1-based ordinal of the candidate in selection order.
	Index int
}

// Image is an acquired, decoded product-detail image. It is read-only once
// created and may be shared with the extraction capability.
type Image struct {
	// Index is the ordinal of the candidate the image was acquired from.
	Index int

	Image    image.Image
	Data     []byte
	MIMEType string

	// Source is the fetched URL; empty for screenshots.
	Source   string
	Strategy string

	Width, Height int

	// Hash is the 64-bit perceptual difference hash.
	Hash uint64

	// Digest is the SHA-256 of Data.
	Digest [sha256.Size]byte
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
