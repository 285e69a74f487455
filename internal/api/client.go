// Package api is a client for the trial marketplace REST API.
//
// Reads are served through a shared cache.Store, so concurrent identical reads
// cost one request. Mutations are never cached and invalidate the entries they
// make stale.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iTrooz/apicache/internal/cache"
	"github.com/iTrooz/apicache/internal/interceptor"
)

const defaultTimeout = 30 * time.Second

// Client talks to the marketplace API.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	store   *cache.Store
	log     logrus.FieldLogger

	mu    sync.RWMutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithLogger sets the logger. Defaults to the logrus standard logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(cl *Client) {
		if log != nil {
			cl.log = log
		}
	}
}

// New creates a client for the API rooted at baseURL, e.g. "https://example.com/api".
func New(baseURL string, store *cache.Store, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")

	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: defaultTimeout},
		store:   store,
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetToken sets the bearer token sent with every request. An empty token sends none.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// InvalidateUserCache drops the cached data of user id.
func (c *Client) InvalidateUserCache(id int64) {
	c.store.InvalidateUser(id)
}

// InvalidateTrialCache drops the cached data of trial id and the trial lists.
func (c *Client) InvalidateTrialCache(id int64) {
	c.store.InvalidateTrial(id)
}

// Invalidate drops every cached response.
func (c *Client) Invalidate() {
	c.store.Invalidate("")
}

// get decodes the JSON document at path into out, reading through the cache.
func (c *Client) get(ctx context.Context, path string, params map[string]any, out any) error {
	data, err := c.store.GetOrFetch(ctx, path, func(ctx context.Context) ([]byte, error) {
		return c.do(ctx, http.MethodGet, path, params, nil)
	}, cache.FetchOptions{Params: params})
	if err != nil {
		return err
	}
	return decode(data, out)
}

// send issues a mutation and decodes the response into out, if non-nil.
func (c *Client) send(ctx context.Context, method, path string, body, out any) error {
	data, err := c.do(ctx, method, path, nil, body)
	if err != nil {
		return err
	}
	return decode(data, out)
}

func (c *Client) do(ctx context.Context, method, path string, params map[string]any, body any) ([]byte, error) {
	target := c.baseURL.JoinPath(path)
	// JoinPath drops the trailing slash the API routes rely on
	if strings.HasSuffix(path, "/") && !strings.HasSuffix(target.Path, "/") {
		target.Path += "/"
	}
	if len(params) > 0 {
		target.RawQuery = encodeQuery(params)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	// Responses are cached by the store, not by an interceptor on c.http
	req, err := http.NewRequestWithContext(interceptor.WithoutCache(ctx), method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// The session is gone; nothing cached under it may leak into the next one
		c.log.Warnf("%s %s: unauthorized, clearing cache", method, path)
		c.Invalidate()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: data}
	}

	c.log.Debugf("%s %s -> %d", method, path, resp.StatusCode)
	return data, nil
}

func encodeQuery(params map[string]any) string {
	values := url.Values{}
	for name, v := range params {
		switch val := v.(type) {
		case []any:
			for _, item := range val {
				values.Add(name, fmt.Sprint(item))
			}
		case []string:
			for _, item := range val {
				values.Add(name, item)
			}
		default:
			values.Set(name, fmt.Sprint(val))
		}
	}
	return values.Encode()
}

func decode(data []byte, out any) error {
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
