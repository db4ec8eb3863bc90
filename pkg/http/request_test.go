package http_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	pkghttp "github.com/bastionsec/bastion/pkg/http"
)

func TestExtractClientIP_DirectConnection_IgnoresHeaders(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.10:54321"

	// Attacker tries to spoof their IP via X-Forwarded-For
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")
	req.Header.Set("X-Real-IP", "192.168.1.1")

	config := &pkghttp.IPConfig{
		TrustedProxies: []string{"10.0.0.0/8", "127.0.0.1/32"},
	}

	ip := pkghttp.ExtractClientIP(req, config)

	assert.Equal(t, "203.0.113.10", ip, "should use RemoteAddr when not from trusted proxy")
}

func TestExtractClientIP_TrustedProxy_UsesXForwardedFor(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.5:54321"

	req.Header.Set("X-Forwarded-For", "203.0.113.42, 10.0.0.5")

	config := &pkghttp.IPConfig{
		TrustedProxies: []string{"10.0.0.0/8"},
	}

	ip := pkghttp.ExtractClientIP(req, config)

	assert.Equal(t, "203.0.113.42", ip, "should use first X-Forwarded-For entry from trusted proxy")
}

func TestExtractClientIP_NoConfig_DefaultsSecurely(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.10:54321"

	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	req.Header.Set("X-Real-IP", "192.168.1.1")

	ip := pkghttp.ExtractClientIP(req, nil)

	assert.Equal(t, "203.0.113.10", ip, "should ignore forwarding headers with no trusted proxies")
}

func TestExtractClientIP_InvalidCIDR_IgnoresProxyCheck(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.10:54321"

	req.Header.Set("X-Forwarded-For", "1.2.3.4")

	config := &pkghttp.IPConfig{
		TrustedProxies: []string{"invalid-cidr-range"},
	}

	ip := pkghttp.ExtractClientIP(req, config)

	assert.Equal(t, "203.0.113.10", ip, "should fall back to RemoteAddr when CIDR ranges are invalid")
}

func TestExtractClientIP_LocalhostBypass_Prevention(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.10:54321"

	// Attacker claims to be localhost to dodge source tracking
	req.Header.Set("X-Forwarded-For", "127.0.0.1, 203.0.113.10")

	config := &pkghttp.IPConfig{
		TrustedProxies: []string{"10.0.0.0/8"},
	}

	ip := pkghttp.ExtractClientIP(req, config)

	assert.Equal(t, "203.0.113.10", ip)
}

func TestSourceKey_IPv4_Verbatim(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.10:54321"

	assert.Equal(t, "203.0.113.10", pkghttp.SourceKey(req, nil))
}

func TestSourceKey_IPv6_CollapsedToPrefix(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "[2001:db8:aaaa:bbbb:1:2:3:4]:54321"

	assert.Equal(t, "2001:db8:aaaa:bbbb::/64", pkghttp.SourceKey(req, nil))
}

func TestSourceKey_IPv6_SamePrefixSameKey(t *testing.T) {
	reqA := httptest.NewRequest("GET", "/", nil)
	reqA.RemoteAddr = "[2001:db8:aaaa:bbbb::1]:1000"
	reqB := httptest.NewRequest("GET", "/", nil)
	reqB.RemoteAddr = "[2001:db8:aaaa:bbbb:ffff::9]:2000"

	assert.Equal(t, pkghttp.SourceKey(reqA, nil), pkghttp.SourceKey(reqB, nil),
		"addresses in the same /64 must map to the same source key")
}
