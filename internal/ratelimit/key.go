package ratelimit

import (
	"encoding/base64"
	"net"
	"net/http"
	"strings"
)

// KeyGenerator derives the bucket key for a request.
type KeyGenerator func(r *http.Request) (string, error)

const (
	unknownValue = "unknown"
	maxKeyLength = 32
)

// DefaultKeyGenerator buckets callers by client IP and User-Agent. The
// base64 encoding of "ip:userAgent" is truncated to 32 characters, so
// distinct clients may collide and either part is trivially spoofable.
// It is a best-effort bucketing heuristic, not a client identity.
func DefaultKeyGenerator(r *http.Request) (string, error) {
	ua := r.Header.Get("User-Agent")
	if ua == "" {
		ua = unknownValue
	}

	key := base64.StdEncoding.EncodeToString([]byte(ClientIP(r) + ":" + ua))
	if len(key) > maxKeyLength {
		key = key[:maxKeyLength]
	}
	return key, nil
}

// IPKeyGenerator buckets callers by client IP only.
func IPKeyGenerator(r *http.Request) (string, error) {
	return "ip:" + ClientIP(r), nil
}

// HeaderKeyGenerator returns a KeyGenerator that buckets callers by the value
// of the named header, falling back to the client IP when it is absent.
func HeaderKeyGenerator(header string) KeyGenerator {
	return func(r *http.Request) (string, error) {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return "header:" + header + ":" + v, nil
		}
		return IPKeyGenerator(r)
	}
}

// ClientIP extracts the client address from proxy headers or the connection,
// returning "unknown" when nothing usable is present.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	if r.RemoteAddr != "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		if host != "" {
			return host
		}
	}

	return unknownValue
}
