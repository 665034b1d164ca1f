package harvest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"
	"time"

	"github.com/use-agent/labelscan/imagehash"
	"github.com/use-agent/labelscan/models"
	_ "golang.org/x/image/webp"
)

// Strategy obtains the encoded bytes of one candidate's pixels.
type Strategy interface {
	// Name returns the strategy identifier ("fetch" or "screenshot").
	Name() string

	// Capture returns the encoded image and, when fetched, its source URL.
	Capture(ctx context.Context, page Page, c Candidate) (data []byte, source string, err error)
}

// SourceFetch downloads the element's declared source through the page's
// authenticated network context.
type SourceFetch struct {
	// MaxBytes caps the downloaded body.
	MaxBytes int64
}

func (SourceFetch) Name() string { return "fetch" }

func (s SourceFetch) Capture(ctx context.Context, page Page, c Candidate) ([]byte, string, error) {
	raw, err := declaredSource(ctx, c.Element)
	if err != nil {
		return nil, "", err
	}

	base, err := page.URL(ctx)
	if err != nil {
		base = ""
	}
	src, err := NormalizeSource(raw, base)
	if err != nil {
		return nil, "", err
	}

	if strings.HasPrefix(src, "data:") {
		data, err := decodeDataURI(src)
		return data, "", err
	}

	data, err := page.Fetch(ctx, src, s.MaxBytes)
	if err != nil {
		return nil, src, err
	}
	return data, src, nil
}

// declaredSource reads src, preferring data-src when src is empty or an
// inline lazy-load placeholder.
func declaredSource(ctx context.Context, el Element) (string, error) {
	src, _, err := el.Attribute(ctx, "src")
	if err != nil {
		return "", fmt.Errorf("read src: %w", err)
	}
	src = strings.TrimSpace(src)
	if src == "" || strings.HasPrefix(src, "data:") {
		if lazy, ok, err := el.Attribute(ctx, "data-src"); err == nil && ok && strings.TrimSpace(lazy) != "" {
			return strings.TrimSpace(lazy), nil
		}
	}
	if src == "" {
		return "", errNoSource
	}
	return src, nil
}

// Screenshot renders the element itself.
type Screenshot struct {
	// SettleDelay is the pause between scrolling the element into view
	// and capturing it.
	SettleDelay time.Duration

	// Quality is the JPEG quality; 0 captures PNG.
	Quality int
}

func (Screenshot) Name() string { return "screenshot" }

func (s Screenshot) Capture(ctx context.Context, _ Page, c Candidate) ([]byte, string, error) {
	if err := c.Element.ScrollIntoView(ctx); err != nil {
		return nil, "", fmt.Errorf("scroll into view: %w", err)
	}
	if err := sleep(ctx, s.SettleDelay); err != nil {
		return nil, "", err
	}
	data, err := c.Element.Screenshot(ctx, s.Quality)
	if err != nil {
		return nil, "", fmt.Errorf("element screenshot: %w", err)
	}
	return data, "", nil
}

// NewStrategy returns the strategy for an acquisition mode.
func NewStrategy(mode string, maxBytes int64, settle time.Duration, quality int) (Strategy, error) {
	switch mode {
	case "fetch":
		return SourceFetch{MaxBytes: maxBytes}, nil
	case "screenshot":
		return Screenshot{SettleDelay: settle, Quality: quality}, nil
	default:
		return nil, models.NewScanError(models.ErrCodeInvalidInput,
			fmt.Sprintf("unknown acquisition mode %q", mode), nil)
	}
}

// AcquireOptions controls AcquireAll.
type AcquireOptions struct {
	// Timeout bounds each candidate's acquisition. 0 means no bound.
	Timeout time.Duration
}

// Outcome is the per-candidate acquisition result: exactly one of Image
// and Err is set.
type Outcome struct {
	Index int
	Image *Image
	Err   error
}

// AcquireAll acquires every candidate sequentially, in order.
//
// A failure is recorded in that candidate's Outcome and logged; it never
// affects the other candidates and is not retried. The returned error is
// non-nil only when ctx is cancelled, in which case the outcomes gathered
// so far are returned with it.
func AcquireAll(ctx context.Context, page Page, candidates []Candidate, strategy Strategy, opts AcquireOptions) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(candidates))

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		img, err := acquireOne(ctx, page, c, strategy, opts.Timeout)
		if err != nil {
			if ctx.Err() != nil {
				return outcomes, ctx.Err()
			}
			Logger(ctx).Warn("image acquisition failed, skipping",
				"index", c.Index,
				"strategy", strategy.Name(),
				"error", err,
			)
			outcomes = append(outcomes, Outcome{Index: c.Index, Err: err})
			continue
		}

		Logger(ctx).Debug("image acquired",
			"index", c.Index,
			"width", img.Width,
			"height", img.Height,
			"mime", img.MIMEType,
		)
		outcomes = append(outcomes, Outcome{Index: c.Index, Image: img})
	}
	return outcomes, nil
}

func acquireOne(ctx context.Context, page Page, c Candidate, strategy Strategy, timeout time.Duration) (*Image, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	data, source, err := strategy.Capture(ctx, page, c)
	if err != nil {
		return nil, models.NewScanError(models.ErrCodeAcquisition,
			fmt.Sprintf("candidate %d: capture failed", c.Index), err)
	}

	img, mime, err := decodeImage(data)
	if err != nil {
		return nil, models.NewScanError(models.ErrCodeAcquisition,
			fmt.Sprintf("candidate %d: decode failed", c.Index), err)
	}
	// The extraction capability takes PNG, JPEG and WebP. GIFs are sent as
	// their first frame.
	if mime == "image/gif" {
		if data, err = encodePNG(img); err != nil {
			return nil, models.NewScanError(models.ErrCodeAcquisition,
				fmt.Sprintf("candidate %d: gif re-encode failed", c.Index), err)
		}
		mime = "image/png"
	}

	b := img.Bounds()
	return &Image{
		Index:    c.Index,
		Image:    img,
		Data:     data,
		MIMEType: mime,
		Source:   source,
		Strategy: strategy.Name(),
		Width:    b.Dx(),
		Height:   b.Dy(),
		Hash:     imagehash.Difference(img),
		Digest:   sha256.Sum256(data),
	}, nil
}

// decodeImage decodes PNG, JPEG, GIF or WebP bytes.
func decodeImage(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty image body")
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}
	return img, "image/" + format, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
