package interceptor

import (
	"net/http"
	"time"

	"github.com/elazarl/goproxy"

	"github.com/iTrooz/apicache/internal/cache/httpcache"
)

// proxyState carries the request-phase decision to the response phase.
type proxyState struct {
	cacheable bool
	hit       bool
	ttl       time.Duration
}

// InstallProxy registers the cache hooks on p. It reports false and changes
// nothing when p is nil or already intercepted by this adapter.
func (a *Adapter) InstallProxy(p *goproxy.ProxyHttpServer) bool {
	if p == nil {
		a.log.Warn("Invalid proxy provided to cache interceptor, caching disabled")
		return false
	}

	a.mu.Lock()
	if _, ok := a.proxies[p]; ok {
		a.mu.Unlock()
		a.log.Warn("Cache interceptor already installed on this proxy")
		return false
	}
	a.proxies[p] = struct{}{}
	a.mu.Unlock()

	p.OnRequest().DoFunc(a.onProxyRequest)
	p.OnResponse().DoFunc(a.onProxyResponse)
	return true
}

func (a *Adapter) onProxyRequest(req *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	ttl, cacheable := a.policy(req)
	stripControlHeaders(req.Header)

	state := &proxyState{cacheable: cacheable, ttl: ttl}
	ctx.UserData = state
	if !cacheable {
		return req, nil
	}

	if resp := a.lookup(req); resp != nil {
		state.hit = true
		return req, resp
	}
	return req, nil
}

func (a *Adapter) onProxyResponse(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	state, ok := ctx.UserData.(*proxyState)
	if !ok || resp == nil || ctx.Req == nil || !state.cacheable || state.hit {
		return resp
	}

	a.store(ctx.Req, resp, state.ttl)
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	resp.Header.Set(httpcache.HeaderCache, httpcache.CacheMiss)
	return resp
}
