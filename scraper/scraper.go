package scraper

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/use-agent/labelscan/cache"
	"github.com/use-agent/labelscan/config"
	"github.com/use-agent/labelscan/harvest"
	"github.com/use-agent/labelscan/llm"
	"github.com/use-agent/labelscan/metrics"
	"github.com/use-agent/labelscan/models"
	"github.com/use-agent/labelscan/notice"
	"golang.org/x/sync/semaphore"
)

// Analyzer is the extraction capability. *llm.Client satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, images []*harvest.Image, notice string) (*llm.Result, error)
	Model() string
	Prompt() string
}

// tab is the page surface the orchestrator needs on top of harvest.Page.
type tab interface {
	harvest.Page
	Title() string
	HTML(ctx context.Context) (string, error)
}

// settler is implemented by tabs that can wait for in-flight rendering to
// finish. It returns when the DOM is quiet or ctx is done.
type settler interface {
	waitStable(ctx context.Context)
}

// session is a browser connection; rodSession is the production one.
type session interface {
	SelectPage(ctx context.Context, markers []string, bringToFront bool) (tab, error)
	Navigate(ctx context.Context, t tab, url string, opts NavigateOptions) error
	Detach() error
}

type attachFunc func(ctx context.Context, debugURL string) (session, error)

// rodSession adapts *Session to the session interface.
type rodSession struct{ *Session }

func (r rodSession) SelectPage(ctx context.Context, markers []string, bringToFront bool) (tab, error) {
	p, err := r.Session.SelectPage(ctx, markers, bringToFront)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r rodSession) Navigate(ctx context.Context, t tab, url string, opts NavigateOptions) error {
	p, ok := t.(*Page)
	if !ok {
		return fmt.Errorf("navigate: unexpected page type %T", t)
	}
	return Navigate(ctx, p, url, opts)
}

func attachRod(ctx context.Context, debugURL string) (session, error) {
	s, err := Attach(ctx, debugURL)
	if err != nil {
		return nil, err
	}
	return rodSession{s}, nil
}

// Scraper runs scans against the user's running browser. Every scan drives
// the same selected tab, so concurrent Scan calls queue and run one at a
// time; a call that cannot start before its timeout fails with SCAN_TIMEOUT.
type Scraper struct {
	cfg       *config.Config
	analyzer  Analyzer
	cache     *cache.Cache
	notices   *notice.Extractor
	metrics   *metrics.Metrics
	attach    attachFunc
	busy      *semaphore.Weighted
	startTime time.Time

	// settleTimeout bounds the wait for the DOM to go quiet before the
	// product notice is read.
	settleTimeout time.Duration
}

// New creates a Scraper. analyzer, c and m may be nil: scans then skip
// analysis, caching and metrics respectively.
func New(cfg *config.Config, analyzer Analyzer, c *cache.Cache, m *metrics.Metrics) *Scraper {
	return &Scraper{
		cfg:       cfg,
		analyzer:  analyzer,
		cache:     c,
		notices:   notice.NewExtractor(),
		metrics:   m,
		attach:    attachRod,
		busy:      semaphore.NewWeighted(1),
		startTime: time.Now(),

		settleTimeout: 3 * time.Second,
	}
}

// Uptime returns the time since the Scraper was created.
func (s *Scraper) Uptime() time.Duration { return time.Since(s.startTime) }

// DebugURL returns the configured remote-debugging endpoint.
func (s *Scraper) DebugURL() string { return s.cfg.Browser.DebugURL }

// Ping reports whether the browser endpoint answers.
func (s *Scraper) Ping() error { return Ping(s.cfg.Browser.DebugURL) }

// Scan is the top-level orchestrator:
//
//  1. Resolve per-request options over the configuration
//  2. Attach to the running browser (always detached on return)
//  3. Select the target tab, optionally navigate (failure is a warning)
//  4. Harvest: scroll, select, acquire, dedup, bound
//  5. Render the product notice section (best-effort)
//  6. Analyse, consulting the report cache when the request allows
//
// Fatal failures are returned as *models.ScanError. An extraction failure
// is not fatal: the report text becomes "analysis failed: <reason>".
func (s *Scraper) Scan(ctx context.Context, req *models.ScanRequest) (*models.ScanResponse, error) {
	start := time.Now()
	runID := uuid.NewString()
	ctx = harvest.WithRunID(ctx, runID)
	log := harvest.Logger(ctx)

	resp, err := s.scan(ctx, req, runID, log)
	code := "ok"
	if err != nil {
		code = errorCode(err)
		log.Error("scan failed", "code", code, "error", err)
	}
	s.metrics.ObserveScan(code, time.Since(start))
	if resp != nil {
		resp.Timing.TotalMs = time.Since(start).Milliseconds()
	}
	return resp, err
}

func (s *Scraper) scan(ctx context.Context, req *models.ScanRequest, runID string, log *slog.Logger) (*models.ScanResponse, error) {
	start := time.Now()

	// ── 1. Options ──────────────────────────────────────────────────
	mode := s.cfg.Acquire.Mode
	if req.Mode != "" {
		mode = req.Mode
	}
	strategy, err := harvest.NewStrategy(mode, s.cfg.Acquire.MaxBytes, s.cfg.Acquire.SettleDelay, s.cfg.Acquire.ScreenshotQuality)
	if err != nil {
		return nil, err
	}
	opts := s.harvestOptions(req)

	timeout := s.cfg.ScanTimeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.busy.Acquire(ctx, 1); err != nil {
		return nil, categorizeError(err, "timed out waiting for a running scan to finish")
	}
	defer s.busy.Release(1)

	// ── 2. Attach ───────────────────────────────────────────────────
	sess, err := s.attach(ctx, s.cfg.Browser.DebugURL)
	if err != nil {
		return nil, categorizeError(err, "failed to attach to the browser")
	}
	defer func() {
		if err := sess.Detach(); err != nil {
			log.Warn("detach failed", "error", err)
		}
	}()

	// ── 3. Target tab ───────────────────────────────────────────────
	markers := s.cfg.Browser.TitleMarkers
	if len(req.TitleMarkers) > 0 {
		markers = req.TitleMarkers
	}
	page, err := sess.SelectPage(ctx, markers, s.cfg.Browser.BringToFront)
	if err != nil {
		return nil, categorizeError(err, "failed to select a tab")
	}

	resp := &models.ScanResponse{RunID: runID}
	if req.URL != "" {
		navErr := sess.Navigate(ctx, page, req.URL, NavigateOptions{
			Timeout: s.cfg.Browser.NavigationTimeout,
			Retries: s.cfg.Browser.NavigationRetries,
			Stealth: s.cfg.Browser.Stealth,
		})
		if navErr != nil {
			if ctx.Err() != nil {
				return nil, categorizeError(navErr, "navigation interrupted")
			}
			log.Warn("navigation failed, harvesting the loaded page", "url", req.URL, "error", navErr)
			resp.Warnings = append(resp.Warnings, navErr.Error())
		}
	}

	// ── 4. Harvest ──────────────────────────────────────────────────
	report, err := harvest.New(opts, strategy).Run(ctx, page)
	if err != nil {
		return nil, categorizeError(err, "harvest failed")
	}
	s.metrics.ObserveHarvest(report.Strategy, report.Scroll.Steps, len(report.Selection.Candidates),
		report.Acquired(), len(report.Failures()), report.Duplicates)

	pageURL, _ := page.URL(ctx)
	resp.Page = models.PageInfo{Title: page.Title(), URL: pageURL}
	resp.Harvest = summarize(report)

	// ── 5. Product notice ───────────────────────────────────────────
	if s.cfg.Notice.Selector != "" {
		if st, ok := page.(settler); ok {
			settleCtx, settleCancel := context.WithTimeout(ctx, s.settleTimeout)
			st.waitStable(settleCtx)
			settleCancel()
		}
		text, err := s.noticeText(ctx, page, pageURL)
		if err != nil {
			log.Warn("product notice extraction failed", "error", err)
			resp.Warnings = append(resp.Warnings, "product notice unavailable: "+err.Error())
		}
		resp.Notice = text
	}
	resp.Success = true
	resp.Timing.HarvestMs = time.Since(start).Milliseconds()

	// ── 6. Analysis ─────────────────────────────────────────────────
	if req.SkipAnalysis {
		return resp, nil
	}
	if s.analyzer == nil {
		resp.Warnings = append(resp.Warnings, "analysis skipped: no extraction capability configured")
		return resp, nil
	}
	s.analyze(ctx, req, report.Images, resp, log)
	return resp, nil
}

func (s *Scraper) harvestOptions(req *models.ScanRequest) harvest.Options {
	maxImages := s.cfg.Result.MaxImages
	if req.MaxImages > 0 {
		maxImages = req.MaxImages
	}
	return harvest.Options{
		Scroll: harvest.ScrollOptions{
			Step:        s.cfg.Scroll.Step,
			Wait:        s.cfg.Scroll.Wait,
			MaxSteps:    s.cfg.Scroll.MaxSteps,
			MaxDuration: s.cfg.Scroll.MaxDuration,
		},
		Select: harvest.SelectOptions{
			Queries:       s.cfg.Selector.Queries,
			MinWidth:      s.cfg.Selector.MinWidth,
			MinHeight:     s.cfg.Selector.MinHeight,
			Confidence:    s.cfg.Selector.Confidence,
			MaxCandidates: s.cfg.Selector.MaxCandidates,
			SkipAdHosts:   s.cfg.Selector.SkipAdHosts,
		},
		Acquire:       harvest.AcquireOptions{Timeout: s.cfg.Acquire.Timeout},
		DedupDistance: s.cfg.Result.DedupDistance,
		MaxImages:     maxImages,
	}
}

func (s *Scraper) noticeText(ctx context.Context, page tab, pageURL string) (string, error) {
	html, err := page.HTML(ctx)
	if err != nil {
		return "", err
	}
	return s.notices.Extract(html, s.cfg.Notice.Selector, pageURL, s.cfg.Notice.MaxTokens)
}

// analyze fills the report fields of resp. Failures never fail the scan.
func (s *Scraper) analyze(ctx context.Context, req *models.ScanRequest, images []*harvest.Image, resp *models.ScanResponse, log *slog.Logger) {
	start := time.Now()
	defer func() { resp.Timing.AnalysisMs = time.Since(start).Milliseconds() }()

	var key string
	if s.cache != nil && req.MaxAge > 0 {
		digests := make([][sha256.Size]byte, len(images))
		for i, img := range images {
			digests[i] = img.Digest
		}
		key = cache.Key(s.analyzer.Model(), s.analyzer.Prompt(), resp.Notice, digests)
		if hit, ok := s.cache.Get(key, req.MaxAge); ok {
			s.metrics.ObserveCache(true)
			resp.Report = hit.Report
			resp.LLMUsage = hit.Usage
			resp.CacheStatus = "hit"
			log.Info("analysis served from cache")
			return
		}
		s.metrics.ObserveCache(false)
		resp.CacheStatus = "miss"
	}

	result, err := s.analyzer.Analyze(ctx, images, resp.Notice)
	if err != nil {
		se := asExtractionError(err)
		s.metrics.ObserveAnalysis(se.Code, time.Since(start), 0, 0)
		log.Warn("analysis failed", "code", se.Code, "error", err)
		resp.Report = "analysis failed: " + se.Message
		resp.AnalysisError = se.ToDetail()
		return
	}

	var promptTokens, completionTokens int
	if result.Usage != nil {
		promptTokens, completionTokens = result.Usage.PromptTokens, result.Usage.CompletionTokens
	}
	s.metrics.ObserveAnalysis("ok", time.Since(start), promptTokens, completionTokens)

	resp.Report = result.Text
	resp.LLMUsage = result.Usage
	if key != "" {
		s.cache.Set(key, &cache.Analysis{Report: result.Text, Usage: result.Usage, Model: result.Model})
	}
}

// summarize converts a harvest report into its API representation.
func summarize(r *harvest.Report) models.HarvestSummary {
	sum := models.HarvestSummary{
		ScrollSteps:     r.Scroll.Steps,
		PageHeight:      r.Scroll.FinalHeight,
		ScrollConverged: r.Scroll.Converged,
		ScrollStop:      r.Scroll.StopReason,
		StopQuery:       r.Selection.StopQuery,
		QueryCounts:     r.Selection.QueryCounts,
		Candidates:      len(r.Selection.Candidates),
		Acquired:        r.Acquired(),
		Duplicates:      r.Duplicates,
		Strategy:        r.Strategy,
		Images:          make([]models.ImageInfo, 0, len(r.Images)),
	}
	for _, img := range r.Images {
		sum.Images = append(sum.Images, models.ImageInfo{
			Index:    img.Index,
			Source:   img.Source,
			Width:    img.Width,
			Height:   img.Height,
			MIMEType: img.MIMEType,
			Hash:     fmt.Sprintf("%016x", img.Hash),
		})
	}
	for _, f := range r.Failures() {
		sum.Failures = append(sum.Failures, models.FailureInfo{Index: f.Index, Reason: f.Err.Error()})
	}
	return sum
}

func asExtractionError(err error) *models.ScanError {
	var se *models.ScanError
	if errors.As(err, &se) {
		return se
	}
	return models.NewScanError(models.ErrCodeExtraction, err.Error(), err)
}

// errorCode returns the ScanError code of err, or INTERNAL_ERROR.
func errorCode(err error) string {
	var se *models.ScanError
	if errors.As(err, &se) {
		return se.Code
	}
	return models.ErrCodeInternal
}

// categorizeError wraps raw errors into typed ScanErrors so the API layer
// can map them to appropriate HTTP status codes.
func categorizeError(err error, msg string) *models.ScanError {
	var se *models.ScanError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScanError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScanError(models.ErrCodeTimeout, "scan canceled", err)
	default:
		return models.NewScanError(models.ErrCodeInternal, msg, err)
	}
}
