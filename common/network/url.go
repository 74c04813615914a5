// Package network validates caller-supplied URLs before the service fetches
// or forwards them. Image URLs in vision requests reach provider backends
// verbatim, so hosts resolving to private or local addresses are rejected.
package network

import (
	"context"
	"net"
	"net/url"
	"strings"

	"github.com/Laisky/errors/v2"
)

// ValidateExternalURL parses raw, checks the scheme and host, resolves DNS
// under ctx and rejects anything that maps to a non-public address.
func ValidateExternalURL(ctx context.Context, raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("url is empty")
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, errors.Wrap(err, "parse url")
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return nil, errors.Errorf("unsupported url scheme: %s", parsed.Scheme)
	}
	if parsed.User != nil {
		return nil, errors.New("url must not include user info")
	}

	host := parsed.Hostname()
	if host == "" {
		return nil, errors.New("url host is empty")
	}
	if isLocalHostname(host) {
		return nil, errors.Errorf("url host is not allowed: %s", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		if IsForbiddenIP(ip) {
			return nil, errors.Errorf("url host resolves to a private or local address: %s", host)
		}
		return parsed, nil
	}

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve host: %s", host)
	}
	if len(ips) == 0 {
		return nil, errors.Errorf("no IPs found for host: %s", host)
	}
	for _, addr := range ips {
		if IsForbiddenIP(addr.IP) {
			return nil, errors.Errorf("url host resolves to a private or local address: %s", host)
		}
	}
	return parsed, nil
}

// ValidateImageURLs runs ValidateExternalURL over every referenced image.
func ValidateImageURLs(ctx context.Context, urls []string) error {
	for _, raw := range urls {
		if _, err := ValidateExternalURL(ctx, raw); err != nil {
			return errors.Wrapf(err, "image url %q", raw)
		}
	}
	return nil
}

// IsForbiddenIP reports whether ip is loopback, private, link-local,
// multicast, unspecified, or carrier-grade NAT.
func IsForbiddenIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() || ip.IsInterfaceLocalMulticast() {
		return true
	}
	// 100.64.0.0/10
	if v4 := ip.To4(); v4 != nil && v4[0] == 100 && v4[1]&0xC0 == 0x40 {
		return true
	}
	return false
}

func isLocalHostname(host string) bool {
	lower := strings.ToLower(strings.TrimSuffix(host, "."))
	return lower == "localhost" || strings.HasSuffix(lower, ".localhost")
}
