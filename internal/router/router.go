// Package router matches an inbound request to a configured route and
// builds the outbound request plan: target URL, header set, and the
// API-key-pool override carried on the query string.
package router

import (
	"net/url"
	"strings"

	"github.com/wudi/keygate/internal/config"
)

// Matcher holds the enabled routes for one listener in declaration order
// and finds the first one that matches a given request.
type Matcher struct {
	routes []config.Route
}

// NewMatcher builds a Matcher over routes, preserving declaration order:
// the first matching route wins, same as the teacher's route table walk.
func NewMatcher(routes []config.Route) *Matcher {
	return &Matcher{routes: routes}
}

// Match returns the first route whose method and path pattern match, and
// false if none do.
func (m *Matcher) Match(path, method string) (config.Route, bool) {
	for _, r := range m.routes {
		if routeMatches(r, path, method) {
			return r, true
		}
	}
	return config.Route{}, false
}

func routeMatches(r config.Route, path, method string) bool {
	if len(r.Methods) > 0 {
		matched := false
		for _, m := range r.Methods {
			if strings.EqualFold(m, method) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return pathMatches(r.PathPattern, path)
}

// pathMatches implements the three pattern shapes a route's path can take:
// a "/*" wildcard prefix, a trailing-slash prefix, or a plain prefix match
// (an exact hit, or a hit followed by "/" and more path).
func pathMatches(pattern, path string) bool {
	if strings.HasSuffix(pattern, "/*") {
		prefix := pattern[:len(pattern)-2]
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
	if strings.HasSuffix(pattern, "/") {
		base := pattern[:len(pattern)-1]
		return path == base || path == pattern || strings.HasPrefix(path, pattern)
	}
	return path == pattern || strings.HasPrefix(path, pattern+"/")
}

// StripPathPrefix removes the matched prefix from path according to the
// route's pattern shape, collapsing to "/" when nothing remains.
func StripPathPrefix(pattern, path string) string {
	if strings.HasSuffix(pattern, "/*") {
		prefix := pattern[:len(pattern)-2]
		if remainder, ok := cutPrefix(path, prefix); ok {
			if remainder == "" || remainder == "/" {
				return "/"
			}
			return remainder
		}
		return path
	}
	if strings.HasSuffix(pattern, "/") {
		prefix := pattern[:len(pattern)-1]
		if remainder, ok := cutPrefix(path, prefix); ok {
			if remainder == "" {
				return "/"
			}
			return remainder
		}
		return path
	}
	if remainder, ok := cutPrefix(path, pattern); ok {
		if remainder == "" {
			return "/"
		}
		return remainder
	}
	return path
}

func cutPrefix(s, prefix string) (string, bool) {
	if !strings.HasPrefix(s, prefix) {
		return s, false
	}
	return s[len(prefix):], true
}

// TargetURL builds the absolute upstream URL for a request, applying
// strip-prefix rewriting and appending the already-filtered query string
// (without the api_key_pool override, and without a leading '?').
func TargetURL(r config.Route, path, filteredQuery string) string {
	targetPath := path
	if r.StripPrefix {
		targetPath = StripPathPrefix(r.PathPattern, path)
	}

	base := strings.TrimRight(r.Target, "/")
	if !strings.HasPrefix(targetPath, "/") {
		targetPath = "/" + targetPath
	}

	if filteredQuery == "" {
		return base + targetPath
	}
	return base + targetPath + "?" + filteredQuery
}

// hopByHopHeaders are stripped from the inbound request before it is
// forwarded; upstream response headers are not filtered. Host is included even though RFC 7230 doesn't
// classify it as hop-by-hop, because the proxy always replaces it with
// the upstream target's authority.
var hopByHopHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"host":                {},
}

// IsHopByHopHeader reports whether name (case-insensitive) must not be
// forwarded as-is between the client and the upstream.
func IsHopByHopHeader(name string) bool {
	_, ok := hopByHopHeaders[strings.ToLower(name)]
	return ok
}

// ExtractHost returns the host[:port] authority of an absolute URL.
func ExtractHost(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", false
	}
	return u.Host, true
}

const apiKeyPoolParam = "api_key_pool"

// ExtractAPIKeyPool scans a raw query string for an api_key_pool
// parameter, URL-decodes its value, and returns it along with the query
// string filtered of every api_key_pool occurrence (query-parameter
// order otherwise preserved). When more than one api_key_pool parameter
// is present, the last one wins. Value-less parameters ("flag" with no
// "=") are preserved in the filtered query unless their bare name is
// itself "api_key_pool".
func ExtractAPIKeyPool(rawQuery string) (pool string, filteredQuery string) {
	if rawQuery == "" {
		return "", ""
	}

	var filtered []string
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, value, hasValue := strings.Cut(pair, "=")
		if hasValue && key == apiKeyPoolParam {
			if decoded, err := url.QueryUnescape(value); err == nil {
				pool = decoded
			} else {
				pool = value
			}
			continue
		}
		if !hasValue && pair == apiKeyPoolParam {
			continue
		}
		filtered = append(filtered, pair)
	}

	return pool, strings.Join(filtered, "&")
}
