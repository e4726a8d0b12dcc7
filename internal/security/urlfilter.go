package security

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

// ErrURLBlocked is returned when a URL is denied by the filter.
var ErrURLBlocked = errors.New("URL blocked by filter")

// URLFilterConfig holds the configuration for URL filtering.
type URLFilterConfig struct {
	// AllowDomains restricts fetches to these domains and their subdomains.
	// If empty, any public host is allowed.
	AllowDomains []string `yaml:"allow_domains"`

	// DenyDomains is the list of explicitly denied domains. Deny takes
	// precedence over allow.
	DenyDomains []string `yaml:"deny_domains"`
}

// URLFilter performs the static part of outbound URL checking: scheme,
// hostname presence, literal reserved addresses and domain lists. DNS-time
// checks happen in the fetcher.
type URLFilter struct {
	allow []string
	deny  []string
}

// NewURLFilter creates a URL filter from the given config.
func NewURLFilter(cfg URLFilterConfig) *URLFilter {
	return &URLFilter{
		allow: normalizeDomains(cfg.AllowDomains),
		deny:  normalizeDomains(cfg.DenyDomains),
	}
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(d)), ".")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

// Check validates that the URL is allowed by the filter.
// Returns nil if allowed, an error wrapping ErrURLBlocked otherwise.
func (f *URLFilter) Check(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %w", ErrURLBlocked, err)
	}
	if !strings.EqualFold(parsed.Scheme, "https") {
		return fmt.Errorf("%w: scheme %q (https required)", ErrURLBlocked, parsed.Scheme)
	}
	if parsed.User != nil {
		return fmt.Errorf("%w: credentials in URL", ErrURLBlocked)
	}

	host := strings.TrimSuffix(strings.ToLower(parsed.Hostname()), ".")
	if host == "" {
		return fmt.Errorf("%w: empty hostname", ErrURLBlocked)
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%w: %s (loopback name)", ErrURLBlocked, host)
	}
	if addr, err := netip.ParseAddr(host); err == nil && IsReservedAddr(addr) {
		return fmt.Errorf("%w: %s (reserved address)", ErrURLBlocked, host)
	}

	for _, d := range f.deny {
		if matchDomain(host, d) {
			return fmt.Errorf("%w: %s (denied)", ErrURLBlocked, host)
		}
	}

	if len(f.allow) == 0 {
		return nil
	}
	for _, a := range f.allow {
		if matchDomain(host, a) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s (not in allow list)", ErrURLBlocked, host)
}

// IsConfigured returns true if any allow or deny domains are configured.
func (f *URLFilter) IsConfigured() bool {
	return len(f.allow) > 0 || len(f.deny) > 0
}

// matchDomain checks if host matches domain or is a subdomain of it.
// "api.example.com" matches "example.com".
// "notexample.com" does NOT match "example.com".
func matchDomain(host, domain string) bool {
	if host == domain {
		return true
	}
	return strings.HasSuffix(host, "."+domain)
}
