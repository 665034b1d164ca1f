package harvest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/labelscan/models"
)

func testOptions() Options {
	return Options{
		Scroll:        ScrollOptions{Step: 5000, MaxSteps: 60},
		Select:        defaultSelect(),
		DedupDistance: -1,
		MaxImages:     15,
	}
}

// detailPage builds a page whose generic query returns n large images,
// each served as a distinct PNG.
func detailPage(t *testing.T, n int) *fakePage {
	t.Helper()
	page := newFakePage()
	page.heights = []int{1000, 2500, 2500}
	var els []*fakeElement
	for i := range n {
		src := fmt.Sprintf("https://thumbnail.coupangcdn.com/detail/%02d.png", i+1)
		page.bodies[src] = pngBytes(t, i+1, 24, 24)
		els = append(els, img(fmt.Sprintf("node-%d", i+1), src))
	}
	page.byQuery["img"] = elements(els...)
	return page
}

func TestHarvester_Run(t *testing.T) {
	page := detailPage(t, 5)

	report, err := New(testOptions(), SourceFetch{}).Run(context.Background(), page)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Scroll.Steps)
	assert.True(t, report.Scroll.Converged)
	assert.Equal(t, 3, report.Selection.StopQuery)
	assert.Equal(t, "fetch", report.Strategy)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, indexes(report.Images))
	assert.Equal(t, 5, report.Acquired())
	assert.Empty(t, report.Failures())
}

func TestHarvester_BoundsResult(t *testing.T) {
	page := detailPage(t, 12)
	opts := testOptions()
	opts.Select.Confidence = 20
	opts.MaxImages = 10

	report, err := New(opts, SourceFetch{}).Run(context.Background(), page)
	require.NoError(t, err)

	assert.Equal(t, 12, report.Acquired())
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, indexes(report.Images))
}

func TestHarvester_SkipsFailedCandidate(t *testing.T) {
	page := detailPage(t, 6)
	page.bodies["https://thumbnail.coupangcdn.com/detail/04.png"] = []byte("<html>not found</html>")
	opts := testOptions()
	opts.Select.Confidence = 10

	report, err := New(opts, SourceFetch{}).Run(context.Background(), page)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 5, 6}, indexes(report.Images))
	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, 4, failures[0].Index)
	assert.True(t, models.HasCode(failures[0].Err, models.ErrCodeAcquisition))
}

func TestHarvester_DropsDuplicates(t *testing.T) {
	page := detailPage(t, 3)
	page.bodies["https://thumbnail.coupangcdn.com/detail/03.png"] = page.bodies["https://thumbnail.coupangcdn.com/detail/01.png"]

	report, err := New(testOptions(), SourceFetch{}).Run(context.Background(), page)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, []int{1, 2}, indexes(report.Images))
}

func TestHarvester_KeepsDistinctTextPanels(t *testing.T) {
	page := newFakePage()
	var els []*fakeElement
	for i := range 12 {
		src := fmt.Sprintf("https://thumbnail.coupangcdn.com/detail/label-%02d.png", i+1)
		page.bodies[src] = textPanel(t, uint64(i+1))
		els = append(els, img(fmt.Sprintf("panel-%d", i+1), src))
	}
	page.byQuery["img"] = elements(els...)
	opts := testOptions()
	opts.Select.Confidence = 20

	report, err := New(opts, SourceFetch{}).Run(context.Background(), page)
	require.NoError(t, err)

	assert.Zero(t, report.Duplicates)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, indexes(report.Images))
}

func TestHarvester_NoCandidates(t *testing.T) {
	page := newFakePage()
	page.byQuery["img"] = elements(small("icon"))

	_, err := New(testOptions(), SourceFetch{}).Run(context.Background(), page)
	assert.True(t, models.HasCode(err, models.ErrCodeNoImages))
}

func TestHarvester_NothingAcquired(t *testing.T) {
	page := newFakePage()
	page.byQuery["img"] = elements(img("a", "https://cdn.example.com/missing.png"))

	_, err := New(testOptions(), SourceFetch{}).Run(context.Background(), page)
	assert.True(t, models.HasCode(err, models.ErrCodeNoImages))
}

func TestHarvester_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(testOptions(), SourceFetch{}).Run(ctx, detailPage(t, 2))
	assert.True(t, models.HasCode(err, models.ErrCodeTimeout))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHarvester_CarriesRunID(t *testing.T) {
	ctx := WithRunID(context.Background(), "run-123")

	report, err := New(testOptions(), SourceFetch{}).Run(ctx, detailPage(t, 1))
	require.NoError(t, err)
	assert.Equal(t, "run-123", report.RunID)
}
