package interceptor

import (
	"net/http"

	"github.com/iTrooz/apicache/internal/cache/httpcache"
)

// Transport is an http.RoundTripper that answers GET requests from the cache.
type Transport struct {
	adapter *Adapter
	base    http.RoundTripper
}

// Transport returns a RoundTripper wrapping base. A nil base uses http.DefaultTransport.
func (a *Adapter) Transport(base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{adapter: a, base: base}
}

// Install wraps the transport of client. It reports false and changes
// nothing when client is nil or already intercepted.
func (a *Adapter) Install(client *http.Client) bool {
	if client == nil {
		a.log.Warn("Invalid HTTP client provided to cache interceptor, caching disabled")
		return false
	}
	if _, ok := client.Transport.(*Transport); ok {
		a.log.Warn("Cache interceptor already installed on this client")
		return false
	}
	client.Transport = a.Transport(client.Transport)
	return true
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ttl, cacheable := t.adapter.policy(req)

	if cacheable {
		if resp := t.adapter.lookup(req); resp != nil {
			return resp, nil
		}
	}

	outReq := req
	if hasControlHeaders(req.Header) {
		outReq = req.Clone(req.Context())
		stripControlHeaders(outReq.Header)
	}

	resp, err := t.base.RoundTrip(outReq)
	if err != nil || !cacheable {
		return resp, err
	}

	t.adapter.store(req, resp, ttl)
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	resp.Header.Set(httpcache.HeaderCache, httpcache.CacheMiss)
	return resp, nil
}
