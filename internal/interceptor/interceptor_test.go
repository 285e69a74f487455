package interceptor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iTrooz/apicache/internal/cache"
	"github.com/iTrooz/apicache/internal/cache/httpcache"
)

type upstream struct {
	*httptest.Server
	hits    atomic.Int32
	headers atomic.Value
}

// fixtureUpstream answers every request with a JSON echo of its path.
// Paths under /missing/ return 404.
func fixtureUpstream(t *testing.T) *upstream {
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		u.headers.Store(r.Header.Clone())
		w.Header().Set("Content-Type", "application/json")
		if strings.HasPrefix(r.URL.Path, "/missing/") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"not found"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"path":"` + r.URL.Path + `","method":"` + r.Method + `"}`))
	}))
	t.Cleanup(u.Close)
	return u
}

func newTestAdapter(store cache.Cache, opts ...Option) (*Adapter, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return New(store, append([]Option{WithLogger(logger)}, opts...)...), hook
}

func newTestStore(opts ...cache.Option) *cache.Store {
	logger, _ := test.NewNullLogger()
	return cache.NewStore(append([]cache.Option{cache.WithLogger(logger)}, opts...)...)
}

func do(t *testing.T, client *http.Client, req *http.Request) (*http.Response, string) {
	t.Helper()
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func get(t *testing.T, client *http.Client, ctx context.Context, target string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	require.NoError(t, err)
	return do(t, client, req)
}

func TestTransportCachesGet(t *testing.T) {
	up := fixtureUpstream(t)
	adapter, _ := newTestAdapter(newTestStore())
	client := &http.Client{}
	require.True(t, adapter.Install(client))

	resp, body := get(t, client, context.Background(), up.URL+"/trials/7/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, httpcache.CacheMiss, resp.Header.Get(httpcache.HeaderCache))
	assert.Contains(t, body, `"path":"/trials/7/"`)

	resp, body = get(t, client, context.Background(), up.URL+"/trials/7/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, httpcache.CacheHit, resp.Header.Get(httpcache.HeaderCache))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Contains(t, body, `"path":"/trials/7/"`)

	assert.Equal(t, int32(1), up.hits.Load(), "second request should not reach upstream")
}

func TestTransportQueryOrder(t *testing.T) {
	up := fixtureUpstream(t)
	adapter, _ := newTestAdapter(newTestStore())
	client := &http.Client{}
	adapter.Install(client)

	get(t, client, context.Background(), up.URL+"/trials/?page=1&industry=saas")
	resp, _ := get(t, client, context.Background(), up.URL+"/trials/?industry=saas&page=1")

	assert.Equal(t, httpcache.CacheHit, resp.Header.Get(httpcache.HeaderCache))
	assert.Equal(t, int32(1), up.hits.Load())
}

func TestTransportEmptyMethodIsGet(t *testing.T) {
	up := fixtureUpstream(t)
	store := newTestStore()
	adapter, _ := newTestAdapter(store)
	client := &http.Client{}
	adapter.Install(client)

	target, err := url.Parse(up.URL + "/trials/7/")
	require.NoError(t, err)

	resp, _ := do(t, client, &http.Request{URL: target, Header: http.Header{}})
	assert.Equal(t, httpcache.CacheMiss, resp.Header.Get(httpcache.HeaderCache))

	resp, body := do(t, client, &http.Request{URL: target, Header: http.Header{}})
	assert.Equal(t, httpcache.CacheHit, resp.Header.Get(httpcache.HeaderCache))
	assert.Contains(t, body, `"method":"GET"`)

	assert.Equal(t, int32(1), up.hits.Load())
	assert.Equal(t, 1, store.Len())
}

func TestTransportPostPassThrough(t *testing.T) {
	up := fixtureUpstream(t)
	store := newTestStore()
	adapter, _ := newTestAdapter(store)
	client := &http.Client{}
	adapter.Install(client)

	for i := 0; i < 2; i++ {
		req, err := http.NewRequest(http.MethodPost, up.URL+"/trials/7/favorite/", strings.NewReader(`{}`))
		require.NoError(t, err)
		resp, _ := do(t, client, req)
		assert.Empty(t, resp.Header.Get(httpcache.HeaderCache))
	}

	assert.Equal(t, int32(2), up.hits.Load())
	assert.Equal(t, 0, store.Len(), "POST responses must never be stored")
}

func TestTransportNon200NotCached(t *testing.T) {
	up := fixtureUpstream(t)
	store := newTestStore()
	adapter, _ := newTestAdapter(store)
	client := &http.Client{}
	adapter.Install(client)

	resp, _ := get(t, client, context.Background(), up.URL+"/missing/1/")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = get(t, client, context.Background(), up.URL+"/missing/1/")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	assert.Equal(t, int32(2), up.hits.Load())
	assert.Equal(t, 0, store.Len())
}

func TestTransportWithoutCache(t *testing.T) {
	up := fixtureUpstream(t)
	store := newTestStore()
	adapter, _ := newTestAdapter(store)
	client := &http.Client{}
	adapter.Install(client)

	ctx := WithoutCache(context.Background())
	get(t, client, ctx, up.URL+"/auth/me/")
	resp, _ := get(t, client, ctx, up.URL+"/auth/me/")

	assert.Empty(t, resp.Header.Get(httpcache.HeaderCache))
	assert.Equal(t, int32(2), up.hits.Load())
	assert.Equal(t, 0, store.Len())
}

func TestTransportBypassHeader(t *testing.T) {
	up := fixtureUpstream(t)
	store := newTestStore()
	adapter, _ := newTestAdapter(store)
	client := &http.Client{}
	adapter.Install(client)

	req, err := http.NewRequest(http.MethodGet, up.URL+"/auth/me/", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderBypass, "off")
	do(t, client, req)

	assert.Equal(t, 0, store.Len())
	sent := up.headers.Load().(http.Header)
	assert.Empty(t, sent.Get(HeaderBypass), "control headers must not reach upstream")
	assert.Equal(t, "off", req.Header.Get(HeaderBypass), "caller's request must not be modified")
}

func TestTransportTTLOverride(t *testing.T) {
	up := fixtureUpstream(t)
	now := time.Now()
	var offset atomic.Int64
	store := newTestStore(cache.WithClock(func() time.Time {
		return now.Add(time.Duration(offset.Load()))
	}))
	adapter, _ := newTestAdapter(store)
	client := &http.Client{}
	adapter.Install(client)

	ctx := WithTTL(context.Background(), 100*time.Millisecond)
	get(t, client, ctx, up.URL+"/trials/")

	offset.Store(int64(50 * time.Millisecond))
	resp, _ := get(t, client, ctx, up.URL+"/trials/")
	assert.Equal(t, httpcache.CacheHit, resp.Header.Get(httpcache.HeaderCache))

	offset.Store(int64(150 * time.Millisecond))
	resp, _ = get(t, client, ctx, up.URL+"/trials/")
	assert.Equal(t, httpcache.CacheMiss, resp.Header.Get(httpcache.HeaderCache))
	assert.Equal(t, int32(2), up.hits.Load())
}

func TestTransportInvalidTTLHeader(t *testing.T) {
	up := fixtureUpstream(t)
	store := newTestStore()
	adapter, hook := newTestAdapter(store)
	client := &http.Client{}
	adapter.Install(client)

	req, err := http.NewRequest(http.MethodGet, up.URL+"/trials/", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderTTL, "soon")
	do(t, client, req)

	assert.Equal(t, 1, store.Len(), "invalid TTL falls back to the default")
	require.NotNil(t, hook.LastEntry())
	found := false
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			found = true
		}
	}
	assert.True(t, found, "invalid TTL header should be logged")
}

func TestTransportFilter(t *testing.T) {
	up := fixtureUpstream(t)
	store := newTestStore()
	adapter, _ := newTestAdapter(store, WithFilter(func(r *http.Request) bool {
		return !strings.HasPrefix(r.URL.Path, "/auth/")
	}))
	client := &http.Client{}
	adapter.Install(client)

	get(t, client, context.Background(), up.URL+"/auth/me/")
	get(t, client, context.Background(), up.URL+"/trials/")

	assert.Equal(t, 1, store.Len())
}

func TestTransportInvalidation(t *testing.T) {
	up := fixtureUpstream(t)
	store := newTestStore()
	adapter, _ := newTestAdapter(store)
	client := &http.Client{}
	adapter.Install(client)

	get(t, client, context.Background(), up.URL+"/trials/7/")
	store.InvalidateTrial(7)
	resp, _ := get(t, client, context.Background(), up.URL+"/trials/7/")

	assert.Equal(t, httpcache.CacheMiss, resp.Header.Get(httpcache.HeaderCache))
	assert.Equal(t, int32(2), up.hits.Load())
}

func TestInstallNilClient(t *testing.T) {
	adapter, hook := newTestAdapter(newTestStore())

	assert.NotPanics(t, func() {
		assert.False(t, adapter.Install(nil))
	})
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestInstallTwice(t *testing.T) {
	adapter, hook := newTestAdapter(newTestStore())
	client := &http.Client{}

	assert.True(t, adapter.Install(client))
	first := client.Transport
	assert.False(t, adapter.Install(client))
	assert.Same(t, first, client.Transport, "second install must not wrap again")
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	other, _ := newTestAdapter(newTestStore())
	assert.False(t, other.Install(client))
}

func newProxyClient(t *testing.T, p *goproxy.ProxyHttpServer) *http.Client {
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)

	proxyURL, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return &http.Client{
		Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		Timeout:   10 * time.Second,
	}
}

func TestInstallProxy(t *testing.T) {
	up := fixtureUpstream(t)
	store := newTestStore()
	adapter, _ := newTestAdapter(store)

	p := goproxy.NewProxyHttpServer()
	require.True(t, adapter.InstallProxy(p))
	client := newProxyClient(t, p)

	t.Run("first request - cache miss", func(t *testing.T) {
		resp, body := get(t, client, context.Background(), up.URL+"/trials/")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, httpcache.CacheMiss, resp.Header.Get(httpcache.HeaderCache))
		assert.Contains(t, body, `"path":"/trials/"`)
	})

	t.Run("second request - cache hit", func(t *testing.T) {
		resp, body := get(t, client, context.Background(), up.URL+"/trials/")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, httpcache.CacheHit, resp.Header.Get(httpcache.HeaderCache))
		assert.Contains(t, body, `"path":"/trials/"`)
	})

	t.Run("post passes through", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, up.URL+"/trials/create/", strings.NewReader(`{}`))
		require.NoError(t, err)
		resp, _ := do(t, client, req)
		assert.Empty(t, resp.Header.Get(httpcache.HeaderCache))
	})

	t.Run("bypass header is stripped", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, up.URL+"/auth/me/", nil)
		require.NoError(t, err)
		req.Header.Set(HeaderBypass, "off")
		resp, _ := do(t, client, req)
		assert.Empty(t, resp.Header.Get(httpcache.HeaderCache))
		sent := up.headers.Load().(http.Header)
		assert.Empty(t, sent.Get(HeaderBypass))
	})

	assert.Equal(t, int32(3), up.hits.Load())
	assert.Equal(t, 1, store.Len())
}

func TestInstallProxyGuards(t *testing.T) {
	adapter, hook := newTestAdapter(newTestStore())

	assert.False(t, adapter.InstallProxy(nil))
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	p := goproxy.NewProxyHttpServer()
	assert.True(t, adapter.InstallProxy(p))
	assert.False(t, adapter.InstallProxy(p))
}
