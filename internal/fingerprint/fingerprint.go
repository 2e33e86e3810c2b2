// Package fingerprint derives a coarse, non-reidentifying summary of a client:
// a SHA-256 of its user agent and a network prefix hint of its address.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

const (
	HeaderForwardedFor = "X-Forwarded-For"
	HeaderRealIP       = "X-Real-IP"

	ipv4PrefixBits = 24
	ipv6PrefixBits = 64
	ipv6KeepGroups = 4
)

// Client is what the HTTP layer hands over about the caller.
type Client struct {
	UserAgent    string
	ForwardedFor string
	RealIP       string
	PeerAddr     string
}

type Fingerprint struct {
	UserAgentHash string
	// IPHint is empty when no address could be determined.
	IPHint string
}

func FromRequest(r *http.Request) Client {
	return Client{
		UserAgent:    r.UserAgent(),
		ForwardedFor: r.Header.Get(HeaderForwardedFor),
		RealIP:       r.Header.Get(HeaderRealIP),
		PeerAddr:     r.RemoteAddr,
	}
}

func Of(c Client) Fingerprint {
	return Fingerprint{
		UserAgentHash: SHA256Hex(c.UserAgent),
		IPHint:        IPHint(ClientIP(c)),
	}
}

// ClientIP picks the first forwarded-for hop, then the real-ip header, then the peer.
func ClientIP(c Client) string {
	if c.ForwardedFor != "" {
		first, _, _ := strings.Cut(c.ForwardedFor, ",")
		if first = strings.TrimSpace(first); first != "" {
			return stripPort(first)
		}
	}
	if ip := strings.TrimSpace(c.RealIP); ip != "" {
		return stripPort(ip)
	}
	return stripPort(strings.TrimSpace(c.PeerAddr))
}

// stripPort drops a trailing port from host:port or [v6]:port; bare addresses pass through.
func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// IPHint coarsens ip to a /24 (IPv4) or /64 (IPv6) prefix.
func IPHint(ip string) string {
	if ip == "" {
		return ""
	}

	if addr, err := netip.ParseAddr(strings.Trim(ip, "[]")); err == nil {
		addr = addr.Unmap().WithZone("")
		bits := ipv6PrefixBits
		if addr.Is4() {
			bits = ipv4PrefixBits
		}
		prefix, err := addr.Prefix(bits)
		if err == nil {
			return prefix.String()
		}
	}

	return coarsenUnparsed(ip)
}

// coarsenUnparsed handles strings that look like addresses but do not parse.
func coarsenUnparsed(ip string) string {
	switch {
	case strings.Contains(ip, "."):
		parts := strings.Split(ip, ".")
		if len(parts) == 4 {
			return parts[0] + "." + parts[1] + "." + parts[2] + ".0/24"
		}
		return ip
	case strings.Contains(ip, ":"):
		parts := strings.Split(ip, ":")
		if len(parts) > ipv6KeepGroups {
			parts = parts[:ipv6KeepGroups]
		}
		return strings.Join(parts, ":") + "::/64"
	default:
		return ip
	}
}

func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
