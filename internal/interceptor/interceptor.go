// Package interceptor applies a response cache to existing HTTP pipelines:
// the transport of an *http.Client or the hooks of a goproxy server.
//
// Only GET requests are served from and written to the cache, and only 200
// responses are stored. Requests can opt out or override the TTL either through
// their context (WithoutCache, WithTTL) or, when they cross the proxy, through
// the X-Api-Cache and X-Api-Cache-Ttl headers.
package interceptor

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"

	"github.com/iTrooz/apicache/internal/cache"
	"github.com/iTrooz/apicache/internal/cache/httpcache"
)

const (
	// HeaderBypass disables caching for a request when set to "off".
	HeaderBypass = "X-Api-Cache"
	// HeaderTTL overrides the TTL of a request, as a Go duration.
	HeaderTTL = "X-Api-Cache-Ttl"
)

type ctxKey int

const (
	noCacheKey ctxKey = iota
	ttlKey
)

// WithoutCache returns a context whose requests bypass the cache.
func WithoutCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, noCacheKey, true)
}

// WithTTL returns a context whose responses are cached for ttl.
func WithTTL(ctx context.Context, ttl time.Duration) context.Context {
	return context.WithValue(ctx, ttlKey, ttl)
}

// Filter reports whether a request may use the cache at all.
type Filter func(*http.Request) bool

// Adapter connects a cache to HTTP pipelines.
type Adapter struct {
	cache  *httpcache.HTTPCache
	filter Filter
	log    logrus.FieldLogger

	mu      sync.Mutex
	proxies map[*goproxy.ProxyHttpServer]struct{}
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithFilter restricts caching to requests accepted by f.
func WithFilter(f Filter) Option {
	return func(a *Adapter) {
		a.filter = f
	}
}

// WithLogger sets the logger. Defaults to the logrus standard logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(a *Adapter) {
		if log != nil {
			a.log = log
		}
	}
}

// New creates an adapter storing responses in c.
func New(c cache.Cache, opts ...Option) *Adapter {
	a := &Adapter{
		cache:   httpcache.New(c),
		log:     logrus.StandardLogger(),
		proxies: make(map[*goproxy.ProxyHttpServer]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// policy decides whether req uses the cache, and with which TTL override.
// Zero means the cache default.
func (a *Adapter) policy(req *http.Request) (time.Duration, bool) {
	// net/http sends an empty method as GET
	if method := req.Method; method != "" && method != http.MethodGet {
		return 0, false
	}
	if disabled, _ := req.Context().Value(noCacheKey).(bool); disabled {
		return 0, false
	}
	if strings.EqualFold(req.Header.Get(HeaderBypass), "off") {
		return 0, false
	}
	if a.filter != nil && !a.filter(req) {
		return 0, false
	}

	if ttl, ok := req.Context().Value(ttlKey).(time.Duration); ok {
		return ttl, true
	}
	if raw := req.Header.Get(HeaderTTL); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			a.log.Warnf("Ignoring invalid %s header %q: %v", HeaderTTL, raw, err)
			return 0, true
		}
		return ttl, true
	}
	return 0, true
}

// lookup returns the cached response for req, or nil.
func (a *Adapter) lookup(req *http.Request) *http.Response {
	resp, err := a.cache.GetReq(req)
	if err != nil {
		a.log.Errorf("Failed to get cached data for %s: %v", req.URL, err)
		return nil
	}
	if resp == nil {
		a.log.Debugf("No cached data found for %s", req.URL)
		return nil
	}
	a.log.Debugf("Serving from cache: %s", req.URL)
	return resp
}

// store writes resp to the cache if it is a 200. resp.Body stays readable.
func (a *Adapter) store(req *http.Request, resp *http.Response, ttl time.Duration) {
	if resp.StatusCode != http.StatusOK {
		return
	}
	if err := a.cache.SetReq(req, resp, ttl); err != nil {
		a.log.Errorf("Failed to cache response for %s: %v", req.URL, err)
		return
	}
	a.log.Debugf("Cached response: %s", req.URL)
}

func hasControlHeaders(h http.Header) bool {
	return h.Get(HeaderBypass) != "" || h.Get(HeaderTTL) != ""
}

func stripControlHeaders(h http.Header) {
	h.Del(HeaderBypass)
	h.Del(HeaderTTL)
}
