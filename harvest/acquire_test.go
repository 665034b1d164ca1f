package harvest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"image"
	"image/color/palette"
	"image/gif"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/labelscan/models"
)

func candidatesOf(els ...*fakeElement) []Candidate {
	out := make([]Candidate, len(els))
	for i, e := range els {
		out[i] = Candidate{Element: e, Box: *e.box, Query: "img", Index: i + 1}
	}
	return out
}

func TestSourceFetch_NormalizesAndFetches(t *testing.T) {
	page := newFakePage()
	body := pngBytes(t, 1, 32, 24)
	page.bodies["https://thumbnail.coupangcdn.com/a.png"] = body
	page.bodies["https://www.coupang.com/vp/products/detail/b.png"] = body

	outcomes, err := AcquireAll(context.Background(), page, candidatesOf(
		img("a", "//thumbnail.coupangcdn.com/a.png"),
		img("b", "detail/b.png"),
	), SourceFetch{MaxBytes: 1 << 20}, AcquireOptions{})
	require.NoError(t, err)

	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		require.NoError(t, o.Err)
		assert.Equal(t, "image/png", o.Image.MIMEType)
		assert.Equal(t, 32, o.Image.Width)
		assert.Equal(t, 24, o.Image.Height)
		assert.Equal(t, "fetch", o.Image.Strategy)
	}
	assert.Equal(t, "https://thumbnail.coupangcdn.com/a.png", outcomes[0].Image.Source)
	assert.Equal(t, []string{
		"https://thumbnail.coupangcdn.com/a.png",
		"https://www.coupang.com/vp/products/detail/b.png",
	}, page.fetched)
}

func TestSourceFetch_LazySource(t *testing.T) {
	page := newFakePage()
	page.bodies["https://cdn.example.com/real.png"] = pngBytes(t, 2, 16, 16)

	el := img("lazy", "data:image/gif;base64,R0lGODlhAQABAAAAACw=")
	el.attrs["data-src"] = "https://cdn.example.com/real.png"

	outcomes, err := AcquireAll(context.Background(), page, candidatesOf(el), SourceFetch{}, AcquireOptions{})
	require.NoError(t, err)
	require.NoError(t, outcomes[0].Err)
	assert.Equal(t, "https://cdn.example.com/real.png", outcomes[0].Image.Source)
}

func TestSourceFetch_InlineDataURI(t *testing.T) {
	page := newFakePage()
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngBytes(t, 3, 10, 10))

	outcomes, err := AcquireAll(context.Background(), page, candidatesOf(img("inline", uri)), SourceFetch{}, AcquireOptions{})
	require.NoError(t, err)
	require.NoError(t, outcomes[0].Err)
	assert.Empty(t, page.fetched, "data URIs are decoded without a request")
	assert.Equal(t, 10, outcomes[0].Image.Width)
}

func TestSourceFetch_MissingSource(t *testing.T) {
	el := img("empty", "")

	outcomes, err := AcquireAll(context.Background(), newFakePage(), candidatesOf(el), SourceFetch{}, AcquireOptions{})
	require.NoError(t, err)
	require.Error(t, outcomes[0].Err)
	assert.True(t, models.HasCode(outcomes[0].Err, models.ErrCodeAcquisition))
	assert.ErrorIs(t, outcomes[0].Err, errNoSource)
}

func TestScreenshot_CapturesElement(t *testing.T) {
	el := img("shot", "")
	el.shot = pngBytes(t, 4, 40, 30)

	outcomes, err := AcquireAll(context.Background(), newFakePage(), candidatesOf(el),
		Screenshot{SettleDelay: time.Millisecond}, AcquireOptions{})
	require.NoError(t, err)
	require.NoError(t, outcomes[0].Err)

	assert.Equal(t, 1, el.shots)
	assert.Equal(t, "screenshot", outcomes[0].Image.Strategy)
	assert.Empty(t, outcomes[0].Image.Source)
	assert.Equal(t, 40, outcomes[0].Image.Width)
}

func TestAcquireAll_ReencodesGIF(t *testing.T) {
	frame := image.NewPaletted(image.Rect(0, 0, 32, 16), palette.Plan9)
	for i := range frame.Pix {
		frame.Pix[i] = uint8(i % len(palette.Plan9))
	}
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, frame, nil))

	el := img("anim", "")
	el.shot = buf.Bytes()

	outcomes, err := AcquireAll(context.Background(), newFakePage(), candidatesOf(el), Screenshot{}, AcquireOptions{})
	require.NoError(t, err)
	require.NoError(t, outcomes[0].Err)

	got := outcomes[0].Image
	assert.Equal(t, "image/png", got.MIMEType)
	assert.Equal(t, sha256.Sum256(got.Data), got.Digest)
	decoded, err := png.Decode(bytes.NewReader(got.Data))
	require.NoError(t, err)
	assert.Equal(t, 32, decoded.Bounds().Dx())
}

func TestAcquireAll_FailureIsIsolated(t *testing.T) {
	els := make([]*fakeElement, 6)
	for i := range els {
		els[i] = img("", "")
		els[i].shot = pngBytes(t, i, 20, 20)
	}
	els[3].shot = []byte("not an image")
	els[4].shotErr = errors.New("node is detached")

	outcomes, err := AcquireAll(context.Background(), newFakePage(), candidatesOf(els...), Screenshot{}, AcquireOptions{})
	require.NoError(t, err)
	require.Len(t, outcomes, 6)

	for i, o := range outcomes {
		assert.Equal(t, i+1, o.Index)
		if i == 3 || i == 4 {
			assert.Nil(t, o.Image)
			assert.True(t, models.HasCode(o.Err, models.ErrCodeAcquisition))
			continue
		}
		assert.NoError(t, o.Err)
		assert.NotNil(t, o.Image)
	}
}

func TestAcquireAll_CancelledReturnsPartialOutcomes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := img("", "")
	first.shot = pngBytes(t, 1, 8, 8)
	second := img("", "")
	second.shot = pngBytes(t, 2, 8, 8)

	strategy := cancelAfter{Strategy: Screenshot{}, n: 1, cancel: cancel}
	outcomes, err := AcquireAll(ctx, newFakePage(), candidatesOf(first, second), &strategy, AcquireOptions{})

	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, outcomes, 1)
	assert.NoError(t, outcomes[0].Err)
}

// cancelAfter cancels the context once n captures have completed.
type cancelAfter struct {
	Strategy
	n      int
	calls  int
	cancel context.CancelFunc
}

func (c *cancelAfter) Capture(ctx context.Context, page Page, cand Candidate) ([]byte, string, error) {
	data, src, err := c.Strategy.Capture(ctx, page, cand)
	c.calls++
	if c.calls == c.n {
		c.cancel()
	}
	return data, src, err
}

func TestNewStrategy(t *testing.T) {
	s, err := NewStrategy("fetch", 1024, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, SourceFetch{MaxBytes: 1024}, s)

	s, err = NewStrategy("screenshot", 0, time.Second, 90)
	require.NoError(t, err)
	assert.Equal(t, Screenshot{SettleDelay: time.Second, Quality: 90}, s)

	_, err = NewStrategy("telepathy", 0, 0, 0)
	assert.True(t, models.HasCode(err, models.ErrCodeInvalidInput))
}
