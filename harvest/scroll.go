package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Scroll stop reasons.
const (
	StopConverged = "converged"
	StopMaxSteps  = "max_steps"
	StopDeadline  = "deadline"
)

// ScrollOptions controls ScrollUntilStable.
type ScrollOptions struct {
	// Step is the scroll distance per iteration.
	Step float64

	// Wait is the pause after each scroll that lets lazy content load.
	Wait time.Duration

	// MaxSteps bounds the number of scroll iterations. 0 means unbounded.
	MaxSteps int

	// MaxDuration bounds the wall-clock time of the loop. 0 means unbounded.
	MaxDuration time.Duration
}

// ScrollResult describes how the scroll loop ended.
type ScrollResult struct {
	Steps        int
	Measurements int
	FinalHeight  int

	// Converged is true when two consecutive measurements showed no
	// growth. False means a bound stopped the loop (partial completion).
	Converged  bool
	StopReason string
	Elapsed    time.Duration
}

// ScrollUntilStable scrolls the page until its height stops growing.
//
// Each iteration scrolls by Step, waits Wait and re-measures the height.
// The loop ends when a measurement is not larger than the previous one, so
// a page that stabilises after N scrolls costs exactly N+1 measurements.
// Reaching MaxSteps or MaxDuration is not an error; the result reports
// Converged=false instead. Cancellation of ctx is returned as an error.
func ScrollUntilStable(ctx context.Context, page Page, opts ScrollOptions) (*ScrollResult, error) {
	start := time.Now()
	res := &ScrollResult{}
	defer func() { res.Elapsed = time.Since(start) }()

	loopCtx := ctx
	if opts.MaxDuration > 0 {
		var cancel context.CancelFunc
		loopCtx, cancel = context.WithTimeout(ctx, opts.MaxDuration)
		defer cancel()
	}

	// deadlineHit reports whether err came from the loop's own wall-clock
	// bound rather than from the caller's context.
	deadlineHit := func(err error) bool {
		return ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded)
	}

	height, err := page.ScrollHeight(loopCtx)
	if err != nil {
		if deadlineHit(err) {
			res.StopReason = StopDeadline
			return res, nil
		}
		return res, fmt.Errorf("harvest: measure page height: %w", err)
	}
	res.Measurements = 1
	res.FinalHeight = height

	for {
		if opts.MaxSteps > 0 && res.Steps >= opts.MaxSteps {
			res.StopReason = StopMaxSteps
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if loopCtx.Err() != nil {
			res.StopReason = StopDeadline
			break
		}

		if err := page.ScrollBy(loopCtx, opts.Step); err != nil {
			if deadlineHit(err) {
				res.StopReason = StopDeadline
				break
			}
			return res, fmt.Errorf("harvest: scroll step %d: %w", res.Steps+1, err)
		}
		res.Steps++

		if err := sleep(loopCtx, opts.Wait); err != nil {
			if deadlineHit(err) {
				res.StopReason = StopDeadline
				break
			}
			return res, err
		}

		next, err := page.ScrollHeight(loopCtx)
		if err != nil {
			if deadlineHit(err) {
				res.StopReason = StopDeadline
				break
			}
			return res, fmt.Errorf("harvest: measure page height: %w", err)
		}
		res.Measurements++

		// Pages only grow while content loads; a smaller reading counts as
		// no growth and the recorded height keeps its maximum.
		if next <= height {
			res.Converged = true
			res.StopReason = StopConverged
			break
		}
		Logger(ctx).Debug("page grew", "step", res.Steps, "from", height, "to", next)
		height = next
		res.FinalHeight = height
	}

	if !res.Converged {
		Logger(ctx).Warn("scroll loop stopped before the page stabilised",
			"reason", res.StopReason,
			"steps", res.Steps,
			"height", res.FinalHeight,
		)
	}
	return res, nil
}
