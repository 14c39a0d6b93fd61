package edge

import (
	"net"
	"net/http"
	"strings"
)

// TrustedRealIP rewrites r.RemoteAddr from X-Forwarded-For/X-Real-IP/
// True-Client-IP, but only when the immediate TCP peer is inside one of
// trustedProxies. It changes r.RemoteAddr only: the request headers are
// left as sent, and ClientIdentity still prefers the x-client-id and
// X-Forwarded-For headers over RemoteAddr.
//
// Generalized beyond rate-limiting alone: every consumer of
// r.RemoteAddr in this package, including RateLimiter's ClientIdentity,
// sees the rewritten address.
func TrustedRealIP(trustedProxies []string) func(http.Handler) http.Handler {
	var trustedNets []*net.IPNet
	for _, entry := range trustedProxies {
		s := strings.TrimSpace(entry)
		if s == "" {
			continue
		}
		if strings.Contains(s, "/") {
			if _, n, err := net.ParseCIDR(s); err == nil {
				trustedNets = append(trustedNets, n)
			}
			continue
		}
		if ip := net.ParseIP(s); ip != nil {
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			trustedNets = append(trustedNets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(trustedNets) > 0 {
				if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
					if peerIP := net.ParseIP(host); peerIP != nil && peerTrusted(peerIP, trustedNets) {
						if real := realIPFromHeaders(r); real != "" {
							r.RemoteAddr = real
						}
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func peerTrusted(peerIP net.IP, trustedNets []*net.IPNet) bool {
	for _, n := range trustedNets {
		if n.Contains(peerIP) {
			return true
		}
	}
	return false
}

func realIPFromHeaders(r *http.Request) string {
	for _, header := range []string{"True-Client-IP", "X-Real-IP"} {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			if ip := net.ParseIP(v); ip != nil {
				return ip.String()
			}
		}
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	return ""
}
