package harvest

import (
	"context"
)

// SelectOptions controls SelectCandidates.
type SelectOptions struct {
	// Queries are CSS selectors tried in order, most specific first and the
	// generic "any image" query last.
	Queries []string

	// MinWidth and MinHeight are exclusive lower bounds on the rendered box.
	MinWidth  float64
	MinHeight float64

	// Confidence is the accumulated candidate count at which no further
	// query is evaluated.
	Confidence int

	// MaxCandidates caps the returned list. 0 means no cap.
	MaxCandidates int

	// SkipAdHosts drops elements whose src is on a known ad domain.
	SkipAdHosts bool
}

// Selection is the outcome of SelectCandidates.
type Selection struct {
	Candidates []Candidate

	// StopQuery is the index of the last query evaluated, or -1 when no
	// query ran.
	StopQuery int

	// QueryCounts holds the number of candidates each evaluated query added.
	QueryCounts []int
}

// SelectCandidates scans the page for image elements that look like
// informational product-detail panels.
//
// Queries are evaluated one at a time. Elements whose box cannot be read
// or is not strictly larger than the thresholds are skipped, as are nodes
// already accepted by an earlier query. Once the accumulated count reaches
// Confidence the remaining, noisier queries are not evaluated. A query or
// element failure is logged and never aborts the scan; only cancellation
// of ctx is returned as an error.
func SelectCandidates(ctx context.Context, page Page, opts SelectOptions) (*Selection, error) {
	sel := &Selection{StopQuery: -1}
	seen := make(map[string]struct{})

	for qi, query := range opts.Queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sel.StopQuery = qi

		elements, err := page.Elements(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			Logger(ctx).Debug("selector query failed, treating as no match", "query", query, "error", err)
			elements = nil
		}

		added := 0
		for _, el := range elements {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			box, err := el.Box(ctx)
			if err != nil || box == nil {
				continue
			}
			if box.Width <= opts.MinWidth || box.Height <= opts.MinHeight {
				continue
			}
			if opts.SkipAdHosts && servedByAdHost(ctx, el) {
				Logger(ctx).Debug("skipping ad-hosted image", "query", query)
				continue
			}
			if key := el.Key(ctx); key != "" {
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
			}

			sel.Candidates = append(sel.Candidates, Candidate{
				Element: el,
				Box:     *box,
				Query:   query,
				Index:   len(sel.Candidates) + 1,
			})
			added++
		}
		sel.QueryCounts = append(sel.QueryCounts, added)

		Logger(ctx).Debug("selector query evaluated",
			"query", query,
			"matched", len(elements),
			"accepted", added,
			"total", len(sel.Candidates),
		)

		if opts.Confidence > 0 && len(sel.Candidates) >= opts.Confidence {
			break
		}
	}

	if opts.MaxCandidates > 0 && len(sel.Candidates) > opts.MaxCandidates {
		sel.Candidates = sel.Candidates[:opts.MaxCandidates]
	}
	return sel, nil
}
