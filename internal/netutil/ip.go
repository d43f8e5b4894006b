package netutil

import (
	"net"
	"net/http"
	"strings"
)

func ExtractClientIp(r *http.Request) net.IP {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		parts := strings.SplitSeq(xff, ",")
		for p := range parts {
			ip := net.ParseIP(strings.TrimSpace(p))
			if ip != nil {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

// LocalIP returns this host's outbound-facing IPv4 address — the address
// Sonos speakers on the same LAN can reach for the HTTP stream endpoint
// and DIDL-Lite resource URLs. Dialing a UDP socket never sends a packet;
// it just asks the kernel to pick the interface/source address that would
// carry traffic to the given destination, the standard trick for finding
// "our" LAN IP without hardcoding an interface name.
func LocalIP() (net.IP, error) {
	conn, err := net.Dial("udp4", "239.255.255.250:1900")
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	addr := conn.LocalAddr().(*net.UDPAddr)
	return addr.IP, nil
}
