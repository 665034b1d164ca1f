package harvest

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var errNoSource = errors.New("element has no image source")

// NormalizeSource turns a declared image source into an absolute URL.
// Protocol-relative sources get https, relative ones are resolved against
// base, and data URIs are returned untouched.
func NormalizeSource(raw, base string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errNoSource
	}
	if strings.HasPrefix(raw, "data:") {
		return raw, nil
	}
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse source %q: %w", raw, err)
	}
	if u.IsAbs() {
		return u.String(), nil
	}

	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return "", fmt.Errorf("relative source %q without an absolute page URL", raw)
	}
	return b.ResolveReference(u).String(), nil
}

// decodeDataURI returns the payload of a data: URI.
func decodeDataURI(uri string) ([]byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, fmt.Errorf("not a data URI")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("malformed data URI")
	}
	if strings.HasSuffix(meta, ";base64") {
		return base64.StdEncoding.DecodeString(payload)
	}
	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("unescape data URI: %w", err)
	}
	return []byte(decoded), nil
}
