// Package urls resolves and normalizes post URLs.
package urls

import (
	"fmt"
	"net/url"
	"strings"
)

// Key returns the deduplication key for an absolute URL: scheme and host
// lowercased, http folded into https, a leading "www." removed, default ports
// and the fragment dropped, and a trailing slash trimmed from non-root paths.
// Path and query keep their case.
func Key(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", raw)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "http" {
		scheme = "https"
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		host = host + ":" + port
	}

	path := u.EscapedPath()
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "/" {
		path = ""
	}

	key := scheme + "://" + host + path
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key, nil
}

// Resolve joins ref against pageURL. Absolute URLs and in-page anchors are
// returned untouched.
func Resolve(pageURL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || IsAbsolute(ref) || strings.HasPrefix(ref, "#") {
		return ref
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(r).String()
}

// IsAbsolute reports whether raw starts with an http or https scheme.
func IsAbsolute(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
