package ratelimit

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"remote addr", "192.168.1.1:12345", nil, "192.168.1.1"},
		{"forwarded for takes first", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"}, "203.0.113.50"},
		{"forwarded for beats real ip", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "203.0.113.50", "X-Real-IP": "198.51.100.7"}, "203.0.113.50"},
		{"real ip", "10.0.0.1:1", map[string]string{"X-Real-IP": "198.51.100.7"}, "198.51.100.7"},
		{"empty forwarded entry falls through", "10.0.0.1:1", map[string]string{"X-Forwarded-For": " , 70.41.3.18"}, "10.0.0.1"},
		{"remote addr without port", "192.168.1.1", nil, "192.168.1.1"},
		{"nothing usable", "", nil, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}

func TestDefaultKeyGenerator(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "1.2.3.4:80"
	req.Header.Set("User-Agent", "ua")

	key, err := DefaultKeyGenerator(req)
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("1.2.3.4:ua")), key)
}

func TestDefaultKeyGenerator_Truncates(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.50:443"
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	key, err := DefaultKeyGenerator(req)
	require.NoError(t, err)
	assert.Len(t, key, 32)

	full := base64.StdEncoding.EncodeToString([]byte("203.0.113.50:Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"))
	assert.Equal(t, full[:32], key)
}

func TestDefaultKeyGenerator_UnknownFallbacks(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ""
	req.Header.Del("User-Agent")

	key, err := DefaultKeyGenerator(req)
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("unknown:unknown")), key)
}

func TestDefaultKeyGenerator_SharedPrefixCollides(t *testing.T) {
	// Keys only cover the first 24 bytes of "ip:userAgent".
	a := httptest.NewRequest(http.MethodGet, "/", nil)
	a.RemoteAddr = "10.0.0.1:1"
	a.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0)")

	b := httptest.NewRequest(http.MethodGet, "/", nil)
	b.RemoteAddr = "10.0.0.1:1"
	b.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 11.0)")

	ka, err := DefaultKeyGenerator(a)
	require.NoError(t, err)
	kb, err := DefaultKeyGenerator(b)
	require.NoError(t, err)
	assert.Equal(t, ka, kb)
}

func TestIPKeyGenerator(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:5000"

	key, err := IPKeyGenerator(req)
	require.NoError(t, err)
	assert.Equal(t, "ip:10.0.0.9", key)
}

func TestHeaderKeyGenerator(t *testing.T) {
	gen := HeaderKeyGenerator("X-API-Key")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:5000"

	key, err := gen(req)
	require.NoError(t, err)
	assert.Equal(t, "ip:10.0.0.9", key)

	req.Header.Set("X-API-Key", "tenant-42")
	key, err = gen(req)
	require.NoError(t, err)
	assert.Equal(t, "header:X-API-Key:tenant-42", key)
}
