// Package cdnfilter classifies remote transport peers as trusted reverse-
// proxy egress (Cloudflare) vs. direct, and extracts the real client IP
// from the CF-Connecting-IP header when the peer is trusted.
package cdnfilter

import (
	"errors"
	"net/http"
	"net/netip"
)

// ErrUntrustedPeer is returned when cloudflare protection is enabled but the
// transport peer is not in the trusted CIDR set.
var ErrUntrustedPeer = errors.New("cdnfilter: peer is not a trusted reverse-proxy egress")

// ErrMissingClientIP is returned when the trusted peer did not forward a
// parseable client IP header.
var ErrMissingClientIP = errors.New("cdnfilter: missing or unparseable client IP header")

// cloudflareRanges is the compile-time list of Cloudflare's published IPv4
// and IPv6 egress ranges (ips.cloudflare.com), used to recognize trusted
// reverse-proxy peers when cloudflare_protection is enabled.
var cloudflareRanges = mustParsePrefixes([]string{
	"173.245.48.0/20",
	"103.21.244.0/22",
	"103.22.200.0/22",
	"103.31.4.0/22",
	"141.101.64.0/18",
	"108.162.192.0/18",
	"190.93.240.0/20",
	"188.114.96.0/20",
	"197.234.240.0/22",
	"198.41.128.0/17",
	"162.158.0.0/15",
	"104.16.0.0/13",
	"104.24.0.0/14",
	"172.64.0.0/13",
	"131.0.72.0/22",
	"2400:cb00::/32",
	"2606:4700::/32",
	"2803:f800::/32",
	"2405:b500::/32",
	"2405:8100::/32",
	"2a06:98c0::/29",
	"2c0f:f248::/32",
})

func mustParsePrefixes(cidrs []string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			panic("cdnfilter: invalid compiled-in CIDR " + c + ": " + err.Error())
		}
		out = append(out, p)
	}
	return out
}

// IsAllowed reports whether peer is within the trusted CDN egress ranges.
func IsAllowed(peer netip.Addr) bool {
	for _, p := range cloudflareRanges {
		if p.Contains(peer) {
			return true
		}
	}
	return false
}

// ResolveClientIP determines the "user IP" for rate-limit and challenge-
// store purposes. When cfEnabled is false (or running in a debug build),
// the transport peer IP is used directly. When true, the transport peer
// must be a trusted CDN egress address and must supply a parseable
// CF-Connecting-IP header.
func ResolveClientIP(r *http.Request, transportPeer netip.Addr, cfEnabled bool) (netip.Addr, error) {
	if !cfEnabled {
		return transportPeer, nil
	}

	if !IsAllowed(transportPeer) {
		return netip.Addr{}, ErrUntrustedPeer
	}

	header := r.Header.Get("CF-Connecting-IP")
	if header == "" {
		return netip.Addr{}, ErrMissingClientIP
	}

	addr, err := netip.ParseAddr(header)
	if err != nil {
		return netip.Addr{}, ErrMissingClientIP
	}

	return addr, nil
}
