// Package httpcache stores HTTP responses in a cache.Cache.
package httpcache

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/iTrooz/apicache/internal/cache"
)

const (
	// HeaderCache marks whether a response was served from the cache.
	HeaderCache = "X-Cache"
	CacheHit    = "HIT"
	CacheMiss   = "MISS"
)

type HTTPCache struct {
	cache cache.Cache
}

func New(cache cache.Cache) *HTTPCache {
	return &HTTPCache{
		cache: cache,
	}
}

// GenerateKey returns the fingerprint of a request: host and path, then the
// canonicalized query parameters.
func (d *HTTPCache) GenerateKey(request *http.Request) string {
	host := strings.TrimSuffix(strings.TrimSuffix(request.URL.Host, ":80"), ":443")
	return cache.ComputeKey(host+request.URL.Path, cache.ParamsFromQuery(request.URL.Query()))
}

// SetReq stores resp under the key of request. The response body stays readable.
func (d *HTTPCache) SetReq(request *http.Request, resp *http.Response, ttl time.Duration) error {
	return d.SetKey(d.GenerateKey(request), resp, ttl)
}

func (d *HTTPCache) SetKey(requestKey string, resp *http.Response, ttl time.Duration) error {
	data, err := Serialize(resp)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	d.cache.Set(requestKey, data, ttl)
	return nil
}

// GetReq returns the cached response for req, or nil on a miss.
// Hits carry a 200 status and the X-Cache: HIT header.
func (d *HTTPCache) GetReq(req *http.Request) (*http.Response, error) {
	requestKey := d.GenerateKey(req)

	resp, err := d.GetKey(requestKey, req)
	if err != nil {
		// Unreadable entries are dropped so the next request refills them
		d.cache.Delete(requestKey)
		return nil, err
	}
	// Handle no cache hit
	if resp == nil {
		return nil, nil
	}

	resp.StatusCode = http.StatusOK
	resp.Status = "200 OK"
	resp.Header.Set(HeaderCache, CacheHit)
	return resp, nil
}

func (d *HTTPCache) GetKey(requestKey string, req *http.Request) (*http.Response, error) {
	data, ok := d.cache.Get(requestKey)
	if !ok {
		return nil, nil // Cache miss
	}

	resp, err := Deserialize(data, req)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}
	return resp, nil
}
