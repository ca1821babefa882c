package webhook

import (
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// ipSet matches exact addresses and CIDR ranges.
type ipSet struct {
	addrs map[string]struct{}
	nets  []*net.IPNet
}

func newIPSet(entries []string) ipSet {
	set := ipSet{addrs: make(map[string]struct{}, len(entries))}
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, n, err := net.ParseCIDR(entry)
			if err != nil {
				log.Warnf("[Webhook] ignoring invalid CIDR %q: %v", entry, err)
				continue
			}
			set.nets = append(set.nets, n)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			set.addrs[ip.String()] = struct{}{}
			continue
		}
		log.Warnf("[Webhook] ignoring invalid IP %q", entry)
	}
	return set
}

func (s ipSet) empty() bool {
	return len(s.addrs) == 0 && len(s.nets) == 0
}

func (s ipSet) contains(addr string) bool {
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil {
		return false
	}
	if _, ok := s.addrs[ip.String()]; ok {
		return true
	}
	for _, n := range s.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP extracts the caller's address. Proxy headers are only honoured
// when trustProxy is set, otherwise callers could spoof their way past the
// rate limiter and allowlist.
func ClientIP(c *fiber.Ctx, trustProxy bool) string {
	if trustProxy {
		// X-Real-Ip is a single IP set by the reverse proxy
		if ip := strings.TrimSpace(c.Get("X-Real-Ip")); ip != "" {
			return ip
		}
		// X-Forwarded-For can be a comma-separated chain; first entry is the client
		if xff := c.Get("X-Forwarded-For"); xff != "" {
			if i := strings.IndexByte(xff, ','); i > 0 {
				return strings.TrimSpace(xff[:i])
			}
			return strings.TrimSpace(xff)
		}
	}
	return c.IP()
}
