package scraper

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	tls2 "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
	"golang.org/x/net/publicsuffix"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// errTooLarge is returned when a body exceeds the configured cap.
var errTooLarge = errors.New("httpfetch: body exceeds size limit")

// FetchRequest describes one image download made on behalf of a page.
type FetchRequest struct {
	URL       string
	Referer   string
	UserAgent string
	Cookies   []*http.Cookie
	MaxBytes  int64
}

// httpFetcher downloads resources with a Chrome TLS fingerprint (utls), so
// image CDNs see the same client the user's browser is.
type httpFetcher struct {
	transport http.RoundTripper
	timeout   time.Duration
}

// newHTTPFetcher creates a fetcher using the Chrome-fingerprinted transport.
func newHTTPFetcher(timeout time.Duration) *httpFetcher {
	return &httpFetcher{transport: &chromeTransport{}, timeout: timeout}
}

// fetch downloads req.URL with the page's cookies, user agent and referer.
// Redirects keep the session cookies through a public-suffix-aware jar.
func (f *httpFetcher) fetch(ctx context.Context, req FetchRequest) ([]byte, error) {
	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: parse url: %w", err)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("httpfetch: cookie jar: %w", err)
	}
	if len(req.Cookies) > 0 {
		jar.SetCookies(target, req.Cookies)
	}

	client := &http.Client{Transport: f.transport, Jar: jar, Timeout: f.timeout}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: build request: %w", err)
	}
	ua := req.UserAgent
	if ua == "" {
		ua = chromeUA
	}
	httpReq.Header.Set("User-Agent", ua)
	httpReq.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7")
	if req.Referer != "" {
		httpReq.Header.Set("Referer", req.Referer)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("httpfetch: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("httpfetch: HTTP %d for %s", resp.StatusCode, req.URL)
	}

	limit := req.MaxBytes
	if limit <= 0 {
		limit = 10 * 1024 * 1024
	}
	if resp.ContentLength > limit {
		return nil, errTooLarge
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("httpfetch: read body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, errTooLarge
	}
	return body, nil
}

// chromeTransport opens one connection per request. TLS connections use a
// Chrome ClientHello; the protocol negotiated through ALPN decides whether
// the request is sent over HTTP/2 or HTTP/1.1.
type chromeTransport struct{}

func (t *chromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	addr := canonicalAddr(req.URL)

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	conn := rawConn
	proto := "http/1.1"
	if req.URL.Scheme == "https" {
		tlsConn, err := dialTLSChrome(ctx, rawConn, req.URL.Hostname())
		if err != nil {
			rawConn.Close()
			return nil, err
		}
		conn = tlsConn
		if p := tlsConn.ConnectionState().NegotiatedProtocol; p != "" {
			proto = p
		}
	}

	if proto == "h2" {
		cc, err := (&http2.Transport{}).NewClientConn(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		resp, err := cc.RoundTrip(req)
		if err != nil {
			cc.Close()
			return nil, err
		}
		resp.Body = &closeWithConn{ReadCloser: resp.Body, close: cc.Close}
		return resp, nil
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, err
	}
	resp.Body = &closeWithConn{ReadCloser: resp.Body, close: conn.Close}
	return resp, nil
}

// dialTLSChrome performs a TLS handshake on rawConn using a Chrome fingerprint.
func dialTLSChrome(ctx context.Context, rawConn net.Conn, host string) (*tls2.UConn, error) {
	tlsConn := tls2.UClient(rawConn, &tls2.Config{
		ServerName:         host,
		InsecureSkipVerify: false,
	}, tls2.HelloChrome_Auto)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

// canonicalAddr returns host:port for u, defaulting the port by scheme.
func canonicalAddr(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = "80"
		if strings.EqualFold(u.Scheme, "https") {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// closeWithConn closes the underlying connection with the body.
type closeWithConn struct {
	io.ReadCloser
	close func() error
}

func (c *closeWithConn) Close() error {
	err := c.ReadCloser.Close()
	if cerr := c.close(); err == nil {
		err = cerr
	}
	return err
}
