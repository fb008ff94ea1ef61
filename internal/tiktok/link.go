package tiktok

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// ErrNoVideoID means the text did not contain a recognizable video link.
// This is a user-input outcome, not a system fault.
var ErrNoVideoID = errors.New("no video id found in link")

// Resolver follows short-link redirects to the canonical URL.
// The fetch client implements it; tests use stubs.
type Resolver interface {
	ResolveRedirect(ctx context.Context, shortURL string) (string, error)
}

// Link patterns, most specific first. The first match wins.
var linkPatterns = []*regexp.Regexp{
	// Canonical: tiktok.com/@handle/video/<id>
	regexp.MustCompile(`tiktok\.com/@[\w.\-]+/video/(\d{6,})`),
	// Any path with a /video/<id> segment (mobile, embeds, regional mirrors).
	regexp.MustCompile(`/video/(\d{6,})`),
}

// Short-link path: a single alphanumeric segment, e.g. vm.tiktok.com/ZSJxxxx/.
var shortCodeRe = regexp.MustCompile(`^/([A-Za-z0-9]+)/?$`)

var shortHosts = map[string]bool{
	"vm.tiktok.com": true,
	"vt.tiktok.com": true,
}

// IsVideoLink reports whether the text plausibly contains a TikTok link.
// Used as a cheap pre-filter before the full extraction path.
func IsVideoLink(text string) bool {
	return strings.Contains(text, "tiktok.com")
}

// ExtractVideoID parses a user-supplied link into the canonical video id.
//
// Short links (vm/vt.tiktok.com) are resolved through the resolver first;
// if resolution fails the short link's own path segment is matched as a
// lower-confidence fallback rather than failing outright.
func ExtractVideoID(ctx context.Context, rawURL string, resolver Resolver) (string, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return "", ErrNoVideoID
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrNoVideoID
	}

	host := strings.ToLower(u.Hostname())
	if shortHosts[host] {
		if resolver != nil {
			if final, err := resolver.ResolveRedirect(ctx, raw); err == nil {
				if id, ok := matchLong(final); ok {
					return id, nil
				}
			}
		}
		// Resolution failed or the final URL was unrecognizable; fall back to
		// the short code itself.
		if m := shortCodeRe.FindStringSubmatch(u.Path); m != nil {
			return m[1], nil
		}
		return "", ErrNoVideoID
	}

	if id, ok := matchLong(raw); ok {
		return id, nil
	}
	return "", ErrNoVideoID
}

func matchLong(s string) (string, bool) {
	// Strip the query so tracking params never leak into the id.
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	for _, re := range linkPatterns {
		if m := re.FindStringSubmatch(s); m != nil {
			return m[1], true
		}
	}
	return "", false
}
