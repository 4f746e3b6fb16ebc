package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// ProxyList is a parsed set of trusted proxy networks.
type ProxyList []*net.IPNet

// ParseProxies parses CIDRs, accepting bare IPs as single-host networks.
// Invalid entries are logged and skipped.
func ParseProxies(cidrs []string) ProxyList {
	var nets ProxyList
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}

		_, network, err := net.ParseCIDR(cidr)
		if err == nil {
			nets = append(nets, network)
			continue
		}
		ip := net.ParseIP(cidr)
		if ip == nil {
			slog.Warn("realip: invalid trusted proxy CIDR, skipping", "cidr", cidr, "error", err)
			continue
		}
		bits := 128
		if ip.To4() != nil {
			ip, bits = ip.To4(), 32
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// Contains reports whether addr (host:port or a bare IP) is in the list.
func (p ProxyList) Contains(addr string) bool {
	ip := extractIP(addr)
	if ip == nil {
		return false
	}
	for _, network := range p {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// TrustedRealIP replaces RemoteAddr with the client IP from X-Real-IP or
// the first X-Forwarded-For hop, but only for requests arriving from a
// trusted proxy. Anyone else could spoof those headers to dodge rate limits.
func TrustedRealIP(proxies ProxyList) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if proxies.Contains(r.RemoteAddr) {
				if ip := forwardedIP(r); ip != nil {
					r.RemoteAddr = ip.String()
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func forwardedIP(r *http.Request) net.IP {
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return net.ParseIP(strings.TrimSpace(rip))
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return nil
	}
	first, _, _ := strings.Cut(xff, ",")
	return net.ParseIP(strings.TrimSpace(first))
}

func extractIP(addr string) net.IP {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return net.ParseIP(host)
	}
	return net.ParseIP(addr)
}
