package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"

	"github.com/gorilla/mux"

	"ratelimiter/internal/models"
	"ratelimiter/internal/ratelimit"
	"ratelimiter/internal/version"
)

// Proxy forwards gateway routes to the upstream application, each route
// guarded by the limiter of its profile.
type Proxy struct {
	upstream *url.URL
	routes   []proxyRoute
}

type proxyRoute struct {
	prefix  string
	profile string
	handler http.Handler
}

// NewProxy builds a reverse proxy for every configured route. When enforce
// is false requests are forwarded without rate limiting.
func NewProxy(cfg models.ProxyConfig, limiters *ratelimit.Registry, enforce bool, ver version.Info) (*Proxy, error) {
	upstream, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid upstream URL: %q", cfg.Upstream)
	}

	rp := newReverseProxy(upstream, ver)

	p := &Proxy{upstream: upstream}
	for _, route := range cfg.Routes {
		var handler http.Handler = rp
		if enforce {
			limiter, err := limiters.Get(route.Profile)
			if err != nil {
				return nil, fmt.Errorf("route %s: %w", route.Prefix, err)
			}
			handler = ratelimit.Middleware(limiter)(rp)
		}
		p.routes = append(p.routes, proxyRoute{
			prefix:  route.Prefix,
			profile: route.Profile,
			handler: handler,
		})
	}

	// Longest prefix wins, since routes are matched in registration order.
	sort.SliceStable(p.routes, func(i, j int) bool {
		return len(p.routes[i].prefix) > len(p.routes[j].prefix)
	})

	return p, nil
}

// Mount registers the gateway routes. It must be called after SetupRoutes
// so the service's own endpoints take precedence.
func (p *Proxy) Mount(router *mux.Router) {
	for _, route := range p.routes {
		router.PathPrefix(route.prefix).Handler(route.handler)
		slog.Info("Gateway route mounted",
			"prefix", route.prefix,
			"profile", route.profile,
			"upstream", p.upstream.String())
	}
}

func newReverseProxy(upstream *url.URL, ver version.Info) *httputil.ReverseProxy {
	via := "1.1 " + ver.UserAgent()

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			// Keep the client's forwarding chain; SetXForwarded appends to it.
			if prior, ok := pr.In.Header["X-Forwarded-For"]; ok {
				pr.Out.Header["X-Forwarded-For"] = append([]string(nil), prior...)
			}
			pr.SetURL(upstream)
			pr.SetXForwarded()
			pr.Out.Header.Add("Via", via)
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Error("Upstream request failed",
				"path", r.URL.Path,
				"upstream", upstream.String(),
				"error", err)
			writeError(w, http.StatusBadGateway, models.ErrorCodeBadGateway, "Upstream service unavailable")
		},
	}
}
