package nat

import (
	"net"
)

// LocalIPv4 returns the first non-loopback IPv4 address of an active
// interface, falling back to the loopback address.
func LocalIPv4() net.IP {
	interfaces, err := net.Interfaces()
	if err != nil {
		return net.IPv4(127, 0, 0, 1).To4()
	}

	var addrs []net.Addr
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		ifaceAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		addrs = append(addrs, ifaceAddrs...)
	}

	return firstExternalIPv4(addrs)
}

// firstExternalIPv4 picks the first non-loopback IPv4 from addrs.
func firstExternalIPv4(addrs []net.Addr) net.IP {
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		default:
			continue
		}
		if ip4 := ip.To4(); ip4 != nil && !ip4.IsLoopback() {
			return ip4
		}
	}
	return net.IPv4(127, 0, 0, 1).To4()
}

// HasExternalIPv4 reports whether any active interface carries a
// non-loopback IPv4 address.
func HasExternalIPv4() bool {
	return !LocalIPv4().IsLoopback()
}
