package telemetry

import (
	"net/url"
	"strings"
	"unicode"
)

// UnknownRoute is the label used when a URL cannot be parsed.
const UnknownRoute = "unknown"

// RouteNormalizer maps request URLs to low-cardinality route labels.
//
// Relative URLs are resolved against the page origin, absolute URLs to other
// origins are accepted as-is. Numeric path segments are erased so that
// /users/42 and /users/7 share the label /users.
type RouteNormalizer struct {
	origin *url.URL
}

var defaultNormalizer = NewRouteNormalizer(defaultPageOrigin)

// NewRouteNormalizer creates a normalizer resolving relative URLs against
// origin. An unparsable origin falls back to http://localhost.
func NewRouteNormalizer(origin string) *RouteNormalizer {
	base, err := url.Parse(origin)
	if err != nil || base.Scheme == "" || base.Host == "" {
		base = &url.URL{Scheme: "http", Host: "localhost"}
	}
	return &RouteNormalizer{origin: base}
}

// NormalizeRoute normalizes rawURL against the default page origin.
func NormalizeRoute(rawURL string) string {
	return defaultNormalizer.Normalize(rawURL)
}

// Normalize returns the route label for rawURL, or UnknownRoute when rawURL
// is malformed. It never panics and performs no I/O.
func (n *RouteNormalizer) Normalize(rawURL string) string {
	if hasSpaceOrControl(rawURL) {
		return UnknownRoute
	}
	ref, err := url.Parse(rawURL)
	if err != nil {
		return UnknownRoute
	}

	origin := defaultNormalizer.origin
	if n != nil && n.origin != nil {
		origin = n.origin
	}
	// ResolveReference also removes dot segments from absolute URLs.
	return cleanPath(origin.ResolveReference(ref).EscapedPath())
}

// cleanPath drops empty and all-digit segments and joins the rest.
func cleanPath(p string) string {
	segments := strings.Split(p, "/")
	kept := segments[:0]
	for _, seg := range segments {
		if seg == "" || isDigits(seg) {
			continue
		}
		kept = append(kept, seg)
	}
	return "/" + strings.Join(kept, "/")
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

func hasSpaceOrControl(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) >= 0
}
