package harvest

import (
	"context"
	"time"

	"github.com/use-agent/labelscan/models"
)

// Options configures every stage of a Harvester.
type Options struct {
	Scroll  ScrollOptions
	Select  SelectOptions
	Acquire AcquireOptions

	// DedupDistance is passed to Dedup.
	DedupDistance int

	// MaxImages is passed to Bound.
	MaxImages int
}

// Report is everything one harvest run produced.
type Report struct {
	RunID     string
	Scroll    *ScrollResult
	Selection *Selection
	Outcomes  []Outcome
	Strategy  string

	// Duplicates is the number of acquired images dropped by Dedup.
	Duplicates int

	// Images is the deduplicated, bounded list for the extraction capability.
	Images []*Image

	Elapsed time.Duration
}

// Failures returns the outcomes that did not produce an image.
func (r *Report) Failures() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Acquired returns the number of successfully acquired images before
// deduplication and bounding.
func (r *Report) Acquired() int {
	return len(r.Outcomes) - len(r.Failures())
}

// Harvester runs the pipeline: scroll → select → acquire → dedup → bound.
// It is stateless between runs and may be reused.
type Harvester struct {
	opts     Options
	strategy Strategy
}

// New creates a Harvester using the given acquisition strategy.
func New(opts Options, strategy Strategy) *Harvester {
	return &Harvester{opts: opts, strategy: strategy}
}

// Strategy returns the configured acquisition strategy.
func (h *Harvester) Strategy() Strategy { return h.strategy }

// Run harvests the page. Steps run strictly one after another.
//
// Per-candidate failures are absorbed into the report. Cancellation, a
// broken page, or ending up with no image at all is returned as an error
// and no partial report is produced.
func (h *Harvester) Run(ctx context.Context, page Page) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: RunID(ctx), Strategy: h.strategy.Name()}

	// ── 1. Scroll to the end of the infinite-scroll page ────────────
	scroll, err := ScrollUntilStable(ctx, page, h.opts.Scroll)
	if err != nil {
		return nil, categorizeError(err, "scrolling the page failed")
	}
	report.Scroll = scroll
	Logger(ctx).Info("scroll finished",
		"steps", scroll.Steps,
		"height", scroll.FinalHeight,
		"converged", scroll.Converged,
	)

	// ── 2. Select candidate elements ────────────────────────────────
	selection, err := SelectCandidates(ctx, page, h.opts.Select)
	if err != nil {
		return nil, categorizeError(err, "candidate selection failed")
	}
	report.Selection = selection
	Logger(ctx).Info("candidates selected",
		"count", len(selection.Candidates),
		"stop_query", selection.StopQuery,
	)
	if len(selection.Candidates) == 0 {
		return nil, models.NewScanError(models.ErrCodeNoImages,
			"no image on the page passed the size filter", nil)
	}

	// ── 3. Acquire pixels, one candidate at a time ──────────────────
	outcomes, err := AcquireAll(ctx, page, selection.Candidates, h.strategy, h.opts.Acquire)
	if err != nil {
		return nil, categorizeError(err, "image acquisition interrupted")
	}
	report.Outcomes = outcomes

	images := make([]*Image, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Image != nil {
			images = append(images, o.Image)
		}
	}
	if len(images) == 0 {
		return nil, models.NewScanError(models.ErrCodeNoImages,
			"no candidate image could be acquired", nil)
	}

	// ── 4. Deduplicate and bound ────────────────────────────────────
	images, report.Duplicates = Dedup(images, h.opts.DedupDistance)
	report.Images = Bound(images, h.opts.MaxImages)
	report.Elapsed = time.Since(start)

	Logger(ctx).Info("harvest complete",
		"acquired", report.Acquired(),
		"failed", len(report.Failures()),
		"duplicates", report.Duplicates,
		"images", len(report.Images),
		"elapsed", report.Elapsed,
	)
	return report, nil
}
