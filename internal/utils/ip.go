package utils

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// AllowList is a parsed set of CIDR blocks.
type AllowList struct {
	prefixes []netip.Prefix
}

// ParseAllowList fails on the first malformed CIDR.
func ParseAllowList(cidrs []string) (AllowList, error) {
	var list AllowList
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return AllowList{}, fmt.Errorf("utils: allow list entry %q: %w", raw, err)
		}
		list.prefixes = append(list.prefixes, prefix.Masked())
	}
	return list, nil
}

// Allows reports whether ip (optionally host:port) falls in any block.
func (l AllowList) Allows(ip string) bool {
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range l.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
