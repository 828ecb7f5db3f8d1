package utils

import (
	"net"
	"strings"
)

var tunnelHints = []string{"tun", "tap", "wg", "ppp", "warp"}

// ShouldForceRelay reports whether this host looks like it sits behind a
// VPN tunnel or carrier-grade NAT, where direct candidates rarely work.
func ShouldForceRelay() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	_, cgnat, _ := net.ParseCIDR("100.64.0.0/10")
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if looksLikeTunnel(iface.Name) {
			return true
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if n, ok := addr.(*net.IPNet); ok && cgnat.Contains(n.IP) {
				return true
			}
		}
	}
	return false
}

func looksLikeTunnel(name string) bool {
	name = strings.ToLower(name)
	for _, hint := range tunnelHints {
		if strings.Contains(name, hint) {
			return true
		}
	}
	return false
}
