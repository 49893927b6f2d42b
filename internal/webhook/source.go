// internal/webhook/source.go
package webhook

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	apperrors "github-agent-sync/internal/errors"
)

const hookshotUserAgent = "GitHub-Hookshot/"

// SourceFilter is the coarse "did this come from GitHub" check run before signatures.
type SourceFilter struct {
	VerifyUserAgent bool
	Allowed         []netip.Prefix
}

// Check returns a 403 RejectionError when the request fails the filter.
// RemoteAddr is expected to already carry the real client IP.
func (f SourceFilter) Check(r *http.Request) error {
	if f.VerifyUserAgent && !strings.HasPrefix(r.UserAgent(), hookshotUserAgent) {
		return apperrors.Reject(http.StatusForbidden, "forbidden_source", "Unexpected user agent", nil)
	}
	if len(f.Allowed) == 0 {
		return nil
	}
	addr, ok := ClientAddr(r.RemoteAddr)
	if !ok {
		return apperrors.Reject(http.StatusForbidden, "forbidden_source", "Unknown client address", nil)
	}
	for _, p := range f.Allowed {
		if p.Contains(addr) {
			return nil
		}
	}
	return apperrors.Reject(http.StatusForbidden, "forbidden_source", "Client address not allowed", nil)
}

// ClientAddr parses the IP out of a RemoteAddr style "host:port" or bare host.
func ClientAddr(remote string) (netip.Addr, bool) {
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}
