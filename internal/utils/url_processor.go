package utils

import (
	"net"
	"net/url"
	"regexp"
	"strings"
)

var hostnameRegex = regexp.MustCompile(`^(?i)[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?(?:\.[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?)+$`)

// NormalizeHost lowercases a host and strips whitespace, a trailing dot and any wildcard prefix
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(host, ".")

	for strings.HasPrefix(host, "*.") {
		host = strings.TrimPrefix(host, "*.")
	}

	return host
}

// ExtractHost returns the normalized hostname of a URL or a bare host[:port][/path]
func ExtractHost(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if strings.Contains(raw, "://") {
		if parsed, err := url.Parse(raw); err == nil && parsed.Hostname() != "" {
			return NormalizeHost(parsed.Hostname())
		}
	}

	return NormalizeHost(extractHostManually(raw))
}

// IsIPAddress checks if a string is an IP address
func IsIPAddress(hostname string) bool {
	return net.ParseIP(hostname) != nil
}

// IsValidHostname reports whether host is a dotted DNS name safe to hand to a subprocess
func IsValidHostname(host string) bool {
	if len(host) == 0 || len(host) > 253 {
		return false
	}
	if IsIPAddress(host) {
		return false
	}
	return hostnameRegex.MatchString(host)
}

// extractHostManually strips scheme, path and port when URL parsing is not possible
func extractHostManually(raw string) string {
	raw = strings.TrimPrefix(raw, "http://")
	raw = strings.TrimPrefix(raw, "https://")

	if idx := strings.IndexAny(raw, "/?#"); idx != -1 {
		raw = raw[:idx]
	}

	if idx := strings.LastIndex(raw, ":"); idx != -1 && !strings.Contains(raw[:idx], ":") {
		raw = raw[:idx]
	}

	return raw
}
