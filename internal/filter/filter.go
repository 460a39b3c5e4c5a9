// Package filter drops DNS infrastructure noise from tool output.
package filter

import (
	"regexp"
	"strings"

	"github.com/subarg/internal/utils"
)

// noisePatterns match mail, nameserver and CDN/provider hostnames
var noisePatterns = compile(
	`^ns-\d+\.`,
	`^mx\d*\.`,
	`^mail\.`,
	`^smtp\.`,
	`^pop\.`,
	`^imap\.`,
	`^relay\.`,
	`^autodiscover\.`,
	`\.awsdns-`,
	`\.cloudflare\.`,
	`\.googleusercontent\.`,
	`\.googlehosted\.`,
	`\.akamai\.`,
	`\.akamaiedge\.`,
	`\.edgekey\.`,
	`\.fastly\.`,
	`\.cloudfront\.`,
)

var nameserverLabel = regexp.MustCompile(`^ns\d*$`)

// ProviderSuffixes are DNS hosting domains whose records never belong to a target
var ProviderSuffixes = []string{
	".awsdns.org",
	".awsdns.co.uk",
	".awsdns.com",
	".awsdns.net",
	".cloudflare.com",
	".akamai.net",
	".akamaiedge.net",
	".google.com",
	".googlehosted.com",
}

func compile(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(`(?i)`+p))
	}
	return compiled
}

// Filter returns the normalized hosts from results that belong to target, in input order
func Filter(results []string, target string) []string {
	target = utils.NormalizeHost(target)

	var kept []string
	for _, raw := range results {
		host := utils.NormalizeHost(raw)
		if keep(host, target) {
			kept = append(kept, host)
		}
	}
	return kept
}

// Keep reports whether host survives the noise filter for target
func Keep(host, target string) bool {
	return keep(utils.NormalizeHost(host), utils.NormalizeHost(target))
}

func keep(host, target string) bool {
	if host == "" || target == "" {
		return false
	}
	if !strings.Contains(host, target) || host == target {
		return false
	}

	for _, pattern := range noisePatterns {
		if pattern.MatchString(host) {
			return false
		}
	}

	firstLabel, _, _ := strings.Cut(host, ".")
	if nameserverLabel.MatchString(firstLabel) {
		return false
	}

	for _, suffix := range ProviderSuffixes {
		if strings.HasSuffix(host, suffix) {
			return false
		}
	}

	return strings.HasSuffix(host, "."+target)
}
