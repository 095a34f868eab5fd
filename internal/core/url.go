package core

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL so the same page never produces two rows.
// It lowercases the scheme and host, removes default ports, drops fragments,
// sorts query parameters and trims a trailing slash from the path.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q has no scheme or host", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")

	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// HostOf returns the lowercased host of a URL, or "" when it cannot be
// parsed. Used for person identity scoping; never fails on junk input.
func HostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
