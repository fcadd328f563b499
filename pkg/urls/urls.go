// Package urls provides utility functions for working with URLs.
package urls

import (
	"net/url"
	"strings"
)

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"
)

// IsURLValid reports whether raw is an absolute http or https URL.
func IsURLValid(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))

	return err == nil && u.Host != "" && (u.Scheme == schemeHTTP || u.Scheme == schemeHTTPS)
}

// Host returns the lowercased hostname of any absolute URL.
// Partial input such as "youtu" or "https://" reports false.
func Host(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Hostname() == "" {
		return "", false
	}

	return strings.ToLower(u.Hostname()), true
}

// FixURL prepends https scheme to URL.
// Example: youtube.com/watch?v=x => https://youtube.com/watch?v=x
func FixURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, "://") {
		return raw
	}

	return schemeHTTPS + "://" + raw
}

// Normalize trims spaces, parses and returns the URL in string format.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	return u.String()
}
