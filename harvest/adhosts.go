package harvest

import (
	"context"
	"net/url"
	"strings"
)

// adDomains is a set of well-known ad and tracking domains to block
// when SkipAdHosts is enabled.
var adDomains = map[string]struct{}{
	"doubleclick.net":        {},
	"googlesyndication.com":  {},
	"googleadservices.com":   {},
	"google-analytics.com":   {},
	"googletagmanager.com":   {},
	"googletagservices.com":  {},
	"facebook.net":           {},
	"connect.facebook.net":   {},
	"facebook.com":           {},
	"fbcdn.net":              {},
	"adnxs.com":              {},
	"adsrvr.org":             {},
	"amazon-adsystem.com":    {},
	"criteo.com":             {},
	"criteo.net":             {},
	"outbrain.com":           {},
	"taboola.com":            {},
	"moatads.com":            {},
	"pubmatic.com":           {},
	"rubiconproject.com":     {},
	"scorecardresearch.com":  {},
	"quantserve.com":         {},
	"hotjar.com":             {},
	"mixpanel.com":           {},
	"segment.io":             {},
	"segment.com":            {},
	"analytics.twitter.com":  {},
	"ads-twitter.com":        {},
	"static.ads-twitter.com": {},
	"chartbeat.com":          {},
	"chartbeat.net":          {},
	"optimizely.com":         {},
	"zedo.com":               {},
	"media.net":              {},
	"contextweb.com":         {},
	"bidswitch.net":          {},
	"openx.net":              {},
	"casalemedia.com":        {},
	"demdex.net":             {},
	"krxd.net":               {},
	"bluekai.com":            {},
	"exelator.com":           {},
	"turn.com":               {},
	"mathtag.com":            {},
	"serving-sys.com":        {},
	"eyeota.net":             {},
	"agkn.com":               {},
	"rlcdn.com":              {},
	"sharethis.com":          {},
	"addthis.com":            {},
	"consensu.org":           {},
}

// isAdDomain checks if a hostname (or any parent domain) is in the ad blocklist.
func isAdDomain(host string) bool {
	host = strings.ToLower(host)
	// Check exact match first.
	if _, ok := adDomains[host]; ok {
		return true
	}
	// Check parent domains (e.g., "pagead2.googlesyndication.com" → "googlesyndication.com").
	for {
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			break
		}
		host = host[idx+1:]
		if _, ok := adDomains[host]; ok {
			return true
		}
	}
	return false
}

// servedByAdHost reports whether the element's declared source lives on an
// ad or tracking domain. Elements without a parsable source are not ads.
func servedByAdHost(ctx context.Context, el Element) bool {
	src, ok, err := el.Attribute(ctx, "src")
	if err != nil || !ok {
		return false
	}
	if strings.HasPrefix(src, "//") {
		src = "https:" + src
	}
	u, err := url.Parse(src)
	if err != nil || u.Host == "" {
		return false
	}
	return isAdDomain(u.Hostname())
}
