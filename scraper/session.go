package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/labelscan/harvest"
	"github.com/use-agent/labelscan/models"
	"github.com/ysmood/gson"
)

// Session is a connection to a browser the user already runs. The session
// does not own the browser: Detach closes the connection and leaves every
// tab and the browser process alone.
type Session struct {
	browser  *rod.Browser
	ws       *cdp.WebSocket
	debugURL string
}

// Attach connects to the remote-debugging endpoint at debugURL, e.g.
// "http://localhost:9222". An unreachable endpoint is a CONNECTION_FAILED
// error; there is no retry.
func Attach(ctx context.Context, debugURL string) (*Session, error) {
	wsURL, err := resolveURL(debugURL)
	if err != nil {
		return nil, models.NewScanError(models.ErrCodeConnection,
			fmt.Sprintf("browser debugging endpoint %s is not reachable", debugURL), err)
	}

	ws := &cdp.WebSocket{}
	if err := ws.Connect(ctx, wsURL, nil); err != nil {
		return nil, models.NewScanError(models.ErrCodeConnection,
			"failed to open the browser websocket", err)
	}

	browser := rod.New().Context(ctx).Client(cdp.New().Start(ws))
	if err := browser.Connect(); err != nil {
		_ = ws.Close()
		return nil, models.NewScanError(models.ErrCodeConnection,
			"failed to connect to the browser", err)
	}
	harvest.Logger(ctx).Debug("attached to browser", "debug_url", debugURL)

	return &Session{browser: browser, ws: ws, debugURL: debugURL}, nil
}

// resolveURL turns an http endpoint into the browser's websocket URL.
// launcher.ResolveURL panics on some malformed responses.
func resolveURL(debugURL string) (wsURL string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("resolve %s: %v", debugURL, r)
		}
	}()
	return launcher.ResolveURL(debugURL)
}

// Ping reports whether a browser answers at debugURL.
func Ping(debugURL string) error {
	_, err := resolveURL(debugURL)
	return err
}

// Detach closes the websocket. The browser keeps running.
func (s *Session) Detach() error {
	if s == nil || s.ws == nil {
		return nil
	}
	err := s.ws.Close()
	s.ws = nil
	slog.Debug("detached from browser", "debug_url", s.debugURL)
	return err
}

// SelectPage picks the tab to harvest: the first tab whose title contains
// any of markers, otherwise the first open tab. With no tab at all it
// returns NO_TARGET_PAGE. When bringToFront is set the chosen tab is
// activated; failure to do so is logged and ignored.
func (s *Session) SelectPage(ctx context.Context, markers []string, bringToFront bool) (*Page, error) {
	pages, err := s.browser.Context(ctx).Pages()
	if err != nil {
		return nil, models.NewScanError(models.ErrCodeConnection, "failed to list browser tabs", err)
	}

	titles := make([]string, len(pages))
	for i, p := range pages {
		if info, err := p.Info(); err == nil {
			titles[i] = info.Title
		}
	}

	idx := chooseTarget(titles, markers)
	if idx < 0 {
		return nil, models.NewScanError(models.ErrCodeNoTargetPage, "the browser has no open tab", nil)
	}
	chosen := pages[idx]
	harvest.Logger(ctx).Info("target tab selected", "title", titles[idx], "tabs", len(pages))

	if bringToFront {
		if _, err := chosen.Activate(); err != nil {
			harvest.Logger(ctx).Warn("failed to bring tab to front, continuing", "error", err)
		}
	}
	return newPage(chosen, titles[idx]), nil
}

// chooseTarget returns the index of the first title containing any marker,
// 0 when none does, and -1 when there is no tab.
func chooseTarget(titles, markers []string) int {
	if len(titles) == 0 {
		return -1
	}
	for i, title := range titles {
		for _, m := range markers {
			if m != "" && strings.Contains(title, m) {
				return i
			}
		}
	}
	return 0
}

// NavigateOptions controls Navigate.
type NavigateOptions struct {
	// Timeout bounds each attempt.
	Timeout time.Duration

	// Retries is the number of retries after the first attempt.
	Retries int

	// Stealth injects anti-detection JS for documents loaded afterwards.
	Stealth bool
}

// Navigate loads url in the page, retrying with exponential backoff, and
// waits for the DOM to settle. The final failure is returned as a
// NAVIGATION_FAILED error that callers treat as a warning.
func Navigate(ctx context.Context, page *Page, url string, opts NavigateOptions) error {
	p := page.rod

	if opts.Stealth {
		if _, err := p.EvalOnNewDocument(stealth.JS); err != nil {
			harvest.Logger(ctx).Warn("stealth injection failed, proceeding without stealth", "error", err)
		}
	}

	// The current document is the natural referer of a user-driven navigation.
	if info, err := p.Info(); err == nil && strings.HasPrefix(info.URL, "http") {
		_ = proto.NetworkSetExtraHTTPHeaders{
			Headers: toHeadersMap(map[string]string{"Referer": info.URL}),
		}.Call(p)
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(max(opts.Retries, 0))),
		ctx,
	)
	attempt := 0
	operation := func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		defer cancel()

		if err := p.Context(attemptCtx).Navigate(url); err != nil {
			return err
		}
		if err := p.Context(attemptCtx).WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
			harvest.Logger(ctx).Debug("WaitDOMStable did not converge, proceeding with current DOM", "error", err)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		harvest.Logger(ctx).Warn("navigation failed, retrying", "url", url, "attempt", attempt, "retry_in", wait, "error", err)
	}

	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return models.NewScanError(models.ErrCodeTimeout, "scan canceled", err)
		}
		return models.NewScanError(models.ErrCodeNavigation,
			fmt.Sprintf("navigation to %s failed after %d attempts", url, attempt), err)
	}
	page.refreshTitle()
	return nil
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
