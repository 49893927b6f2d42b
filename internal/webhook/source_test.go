package webhook

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github-agent-sync/internal/errors"
)

func TestSourceFilter_Check(t *testing.T) {
	allowed := []netip.Prefix{netip.MustParsePrefix("140.82.112.0/20")}

	testCases := []struct {
		name    string
		filter  SourceFilter
		ua      string
		remote  string
		allowed bool
	}{
		{"disabled", SourceFilter{}, "curl/8.0", "10.0.0.1:1234", true},
		{"hookshot ua", SourceFilter{VerifyUserAgent: true}, "GitHub-Hookshot/abc123", "10.0.0.1:1234", true},
		{"foreign ua", SourceFilter{VerifyUserAgent: true}, "curl/8.0", "10.0.0.1:1234", false},
		{"empty ua", SourceFilter{VerifyUserAgent: true}, "", "10.0.0.1:1234", false},
		{"ip in range", SourceFilter{Allowed: allowed}, "", "140.82.115.9:443", true},
		{"ip out of range", SourceFilter{Allowed: allowed}, "", "10.0.0.1:1234", false},
		{"bare ip", SourceFilter{Allowed: allowed}, "", "140.82.112.1", true},
		{"mapped v4", SourceFilter{Allowed: allowed}, "", "[::ffff:140.82.112.1]:80", true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/webhooks", nil)
			r.Header.Set("User-Agent", tc.ua)
			r.RemoteAddr = tc.remote

			err := tc.filter.Check(r)
			if tc.allowed {
				assert.NoError(t, err)
				return
			}
			var rej *apperrors.RejectionError
			if assert.True(t, errors.As(err, &rej)) {
				assert.Equal(t, http.StatusForbidden, rej.Status)
				assert.Equal(t, "forbidden_source", rej.Code)
			}
		})
	}
}
