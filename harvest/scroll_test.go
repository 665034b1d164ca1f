package harvest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrollUntilStable_StopsWhenHeightStopsGrowing(t *testing.T) {
	page := newFakePage()
	page.heights = []int{1000, 2500, 2500}

	res, err := ScrollUntilStable(context.Background(), page, ScrollOptions{Step: 5000, MaxSteps: 60})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, 3, res.Measurements)
	assert.Equal(t, 2500, res.FinalHeight)
	assert.True(t, res.Converged)
	assert.Equal(t, StopConverged, res.StopReason)
	assert.Equal(t, []float64{5000, 5000}, page.scrolled)
}

func TestScrollUntilStable_StaticPage(t *testing.T) {
	page := newFakePage()
	page.heights = []int{800}

	res, err := ScrollUntilStable(context.Background(), page, ScrollOptions{Step: 5000, MaxSteps: 60})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Steps)
	assert.Equal(t, 2, res.Measurements)
	assert.True(t, res.Converged)
}

func TestScrollUntilStable_ShrinkingHeightConverges(t *testing.T) {
	page := newFakePage()
	page.heights = []int{1000, 3000, 2900}

	res, err := ScrollUntilStable(context.Background(), page, ScrollOptions{Step: 5000})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Steps)
	assert.True(t, res.Converged)
	assert.Equal(t, 3000, res.FinalHeight, "the recorded height keeps its maximum")
}

func TestScrollUntilStable_MaxStepsIsPartialCompletion(t *testing.T) {
	page := newFakePage()
	page.heights = []int{1000, 2000, 3000, 4000, 5000, 6000, 7000}

	res, err := ScrollUntilStable(context.Background(), page, ScrollOptions{Step: 5000, MaxSteps: 3})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Steps)
	assert.False(t, res.Converged)
	assert.Equal(t, StopMaxSteps, res.StopReason)
	assert.Equal(t, 4000, res.FinalHeight)
}

func TestScrollUntilStable_DeadlineIsPartialCompletion(t *testing.T) {
	page := newFakePage()
	page.heights = make([]int, 1000)
	for i := range page.heights {
		page.heights[i] = (i + 1) * 1000
	}

	res, err := ScrollUntilStable(context.Background(), page, ScrollOptions{
		Step:        5000,
		Wait:        10 * time.Millisecond,
		MaxDuration: 60 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.False(t, res.Converged)
	assert.Equal(t, StopDeadline, res.StopReason)
	assert.Less(t, res.Steps, 1000)
}

func TestScrollUntilStable_CallerCancellationIsAnError(t *testing.T) {
	page := newFakePage()
	page.heights = []int{1000, 2000, 3000}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ScrollUntilStable(ctx, page, ScrollOptions{Step: 5000, MaxDuration: time.Minute})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
