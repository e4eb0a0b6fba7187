package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrustedProxies(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.0.2.10 ", "", "::1/128"})
	require.NoError(t, err)

	assert.True(t, proxies.Trusted("10.20.30.40"))
	assert.True(t, proxies.Trusted("192.0.2.10"))
	assert.False(t, proxies.Trusted("192.0.2.11"))
	assert.True(t, proxies.Trusted("::1"))
	assert.True(t, proxies.Trusted("::ffff:10.0.0.1"), "mapped addresses match their IPv4 network")
	assert.False(t, proxies.Trusted("not-an-ip"))

	_, err = ParseTrustedProxies([]string{"10.0.0.0/33"})
	assert.Error(t, err)
	_, err = ParseTrustedProxies([]string{"proxy.internal"})
	assert.Error(t, err)

	var none *TrustedProxies
	assert.False(t, none.Trusted("127.0.0.1"))
}

func TestTrustedProxiesResolve(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		expected   string
	}{
		{name: "untrusted peer ignores forwarded for", remoteAddr: "198.51.100.4:5000", headers: map[string]string{"X-Forwarded-For": "203.0.113.5"}, expected: "198.51.100.4"},
		{name: "untrusted peer ignores real ip", remoteAddr: "198.51.100.4:5000", headers: map[string]string{"X-Real-IP": "203.0.113.5"}, expected: "198.51.100.4"},
		{name: "trusted peer single hop", remoteAddr: "10.0.0.1:80", headers: map[string]string{"X-Forwarded-For": "203.0.113.5"}, expected: "203.0.113.5"},
		{name: "spoofed leftmost hop is skipped", remoteAddr: "10.0.0.1:80", headers: map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.5"}, expected: "203.0.113.5"},
		{name: "trusted hops are walked past", remoteAddr: "10.0.0.1:80", headers: map[string]string{"X-Forwarded-For": "203.0.113.5, 10.1.1.1"}, expected: "203.0.113.5"},
		{name: "garbage hop stops the walk", remoteAddr: "10.0.0.1:80", headers: map[string]string{"X-Forwarded-For": "junk", "X-Real-IP": "203.0.113.8"}, expected: "203.0.113.8"},
		{name: "trusted peer real ip", remoteAddr: "10.0.0.1:80", headers: map[string]string{"X-Real-IP": "198.51.100.7"}, expected: "198.51.100.7"},
		{name: "trusted peer without headers", remoteAddr: "10.0.0.1:80", expected: "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, proxies.Resolve(req))
		})
	}
}

func TestRealIPFeedsGuard(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)

	var seen []string
	h := RealIP(proxies)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, ClientIP(r))
	}))

	for _, xff := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "198.51.100.4:5000"
		req.Header.Set("X-Forwarded-For", xff)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:80"
	req.Header.Set("X-Forwarded-For", "203.0.113.3")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, []string{"198.51.100.4", "198.51.100.4", "203.0.113.3"}, seen,
		"rotating the header from an untrusted peer does not change the counted address")
}
