// Package clientkey normalizes client addresses into rate limit keys.
package clientkey

import (
	"net/netip"
	"strconv"
	"strings"
)

const (
	// DefaultIPv6Prefix groups addresses by the /56 a typical ISP hands to one customer.
	DefaultIPv6Prefix = 56

	// NoMask disables masking.
	NoMask = -1
)

// MaskIPv6 zeroes every bit of an IPv6 address past prefixLen and returns
// the eight groups in uncompressed form followed by the prefix length,
// e.g. "2001:db8:1234:5600:0:0:0:0/56".
//
// IPv4 addresses, IPv4-mapped IPv6 addresses (returned unmapped) and
// input that is not an IP address are returned unchanged. A negative
// prefixLen disables masking. Lengths above 128 are clamped.
func MaskIPv6(ip string, prefixLen int) string {
	if prefixLen < 0 {
		return ip
	}

	addr, err := netip.ParseAddr(strings.Trim(ip, "[]"))
	if err != nil {
		return ip
	}

	if addr.Is4() {
		return ip
	}

	if addr.Is4In6() {
		return addr.Unmap().String()
	}

	bits := min(prefixLen, 128)

	prefix, err := addr.WithZone("").Prefix(bits)
	if err != nil {
		return ip
	}

	b := prefix.Addr().As16()

	var sb strings.Builder

	for i := 0; i < 16; i += 2 {
		if i > 0 {
			sb.WriteByte(':')
		}

		sb.WriteString(strconv.FormatUint(uint64(b[i])<<8|uint64(b[i+1]), 16))
	}

	sb.WriteByte('/')
	sb.WriteString(strconv.Itoa(bits))

	return sb.String()
}
