// Package urlguard implements the SSRF guard: a pure function deciding
// whether a candidate URL is safe to actively probe. It is used by both the
// gateway (to reject requests up front) and the probe (to fail closed even
// if a caller bypasses the gateway).
package urlguard

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// RejectReason is the closed set of reasons Validate can reject a URL for.
type RejectReason string

const (
	ReasonUnparseable     RejectReason = "url is not parseable or uses an unsupported scheme"
	ReasonNumericHost     RejectReason = "hostname is a numeric-encoded address, a common SSRF bypass"
	ReasonLoopbackHost    RejectReason = "hostname resolves to localhost / loopback"
	ReasonPrivateRange    RejectReason = "address falls within a private IPv4 range"
	ReasonAnyAddressRange RejectReason = "address falls within the any-address range"
	ReasonLinkLocalRange  RejectReason = "address falls within a link-local range"
)

// Verdict is the result of validating a URL.
type Verdict struct {
	OK     bool
	Reason RejectReason
}

var exactLoopbackHosts = map[string]struct{}{
	"localhost":             {},
	"localhost.":            {},
	"localhost.localdomain": {},
	"::1":                   {},
	"[::1]":                 {},
	"0:0:0:0:0:0:0:1":       {},
}

var privateIPv4Blocks = mustParseCIDRs(
	"0.0.0.0/8",
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
)

var privateIPv6Blocks = mustParseCIDRs(
	"::1/128",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("urlguard: invalid CIDR literal " + c)
		}
		nets = append(nets, n)
	}
	return nets
}

// Validate applies the SSRF rejection rules in the documented order and
// returns the first one that fires, or OK if the URL passes all of them.
func Validate(rawURL string) Verdict {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Hostname() == "" {
		return Verdict{OK: false, Reason: ReasonUnparseable}
	}

	host := parsed.Hostname()
	lowerHost := strings.ToLower(host)

	if isNumericEncodedHost(lowerHost) {
		return Verdict{OK: false, Reason: ReasonNumericHost}
	}

	if _, exact := exactLoopbackHosts[lowerHost]; exact {
		return Verdict{OK: false, Reason: ReasonLoopbackHost}
	}

	if ip := net.ParseIP(host); ip != nil {
		if v := validateIP(ip); !v.OK {
			return v
		}
	}

	return Verdict{OK: true}
}

// validateIP applies the IPv4/IPv6 range checks (rules 4-6). net.IP.To4
// already unwraps IPv4-mapped IPv6 addresses (::ffff:a.b.c.d) into their
// 4-byte form, so rule 6 falls out of the IPv4 branch for free.
func validateIP(ip net.IP) Verdict {
	if ip4 := ip.To4(); ip4 != nil {
		return checkIPv4Ranges(ip4)
	}

	for _, block := range privateIPv6Blocks {
		if block.Contains(ip) {
			return Verdict{OK: false, Reason: ReasonLoopbackHostOrLinkLocal(block)}
		}
	}
	return Verdict{OK: true}
}

// ReasonLoopbackHostOrLinkLocal classifies which IPv6 reject reason applies
// based on which block matched.
func ReasonLoopbackHostOrLinkLocal(block *net.IPNet) RejectReason {
	if block.IP.Equal(net.ParseIP("::1")) {
		return ReasonLoopbackHost
	}
	return ReasonLinkLocalRange
}

func checkIPv4Ranges(ip4 net.IP) Verdict {
	for _, block := range privateIPv4Blocks {
		if block.Contains(ip4) {
			if block.IP.Equal(net.IPv4(0, 0, 0, 0).To4()) {
				return Verdict{OK: false, Reason: ReasonAnyAddressRange}
			}
			if block.IP.Equal(net.IPv4(127, 0, 0, 0).To4()) {
				return Verdict{OK: false, Reason: ReasonLoopbackHost}
			}
			return Verdict{OK: false, Reason: ReasonPrivateRange}
		}
	}
	return Verdict{OK: true}
}

// isNumericEncodedHost reports whether host is wholly decimal digits or a
// 0x-prefixed hex literal — both of which some resolvers still interpret as
// an IP address despite not looking like a dotted-quad, a classic SSRF
// bypass technique. A leading-zero octal form (e.g. "0177") is also an
// SSRF bypass, but it is already all-decimal-digits, so it falls out of
// the decimal check below without a separate case.
func isNumericEncodedHost(host string) bool {
	if host == "" {
		return false
	}
	if strings.HasPrefix(host, "0x") || strings.HasPrefix(host, "0X") {
		_, err := strconv.ParseUint(host[2:], 16, 64)
		return err == nil && len(host) > 2
	}
	return isAllDigits(host)
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ClassifyRejection maps a RejectReason onto the probe/gateway
// CompareErrorCode split: SSRF-flavored reasons map to ssrf_blocked, all
// others to invalid_url.
func ClassifyRejection(reason RejectReason) string {
	s := strings.ToLower(string(reason))
	for _, marker := range []string{"localhost", "loopback", "private", "link-local", "blocked", "any-address", "ipv6-mapped"} {
		if strings.Contains(s, marker) {
			return "ssrf_blocked"
		}
	}
	return "invalid_url"
}
