package security

import (
	"net/netip"
)

// reservedPrefixes lists address ranges an outbound fetch must never reach:
// loopback, RFC 1918 private space, carrier-grade NAT, link-local (cloud
// metadata lives at 169.254.169.254), IPv6 unique-local, link-local and
// multicast, the unspecified "this network" block, and the NAT64 and 6to4
// ranges that embed an IPv4 address.
var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("64:ff9b::/96"),
	netip.MustParsePrefix("64:ff9b:1::/48"),
	netip.MustParsePrefix("2002::/16"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("ff00::/8"),
}

// IsReservedAddr reports whether addr belongs to a loopback, private,
// link-local, multicast or otherwise non-public range. IPv4-mapped IPv6
// addresses are checked as their IPv4 form. The zero Addr and any address
// carrying a zone are reserved.
func IsReservedAddr(addr netip.Addr) bool {
	if !addr.IsValid() || addr.Zone() != "" {
		return true
	}
	addr = addr.Unmap()
	for _, p := range reservedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
