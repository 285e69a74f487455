package cache

import (
	"bytes"
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultMaxSize is the number of entries a Store holds when no size is configured.
	DefaultMaxSize = 500
	// DefaultTTL is the lifetime of an entry stored without an explicit TTL.
	DefaultTTL = 5 * time.Minute
)

// Store is a bounded, TTL-expiring in-memory cache with request coalescing.
// When full, the least recently inserted entry is evicted first.
//
// Store is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // keys, oldest insertion at the front

	pending  singleflight.Group
	inflight map[string]*flight // fetches that may still store their result

	maxSize    int
	defaultTTL time.Duration
	now        func() time.Time
	scopes     Scopes
	metrics    *Metrics
	log        logrus.FieldLogger
}

type entry struct {
	data   []byte
	expiry time.Time
	elem   *list.Element
}

// flight is a running fetch. An invalidation matching its key marks it
// abandoned, and its result is then returned to its callers but not stored.
type flight struct {
	abandoned bool
}

// Option configures a Store.
type Option func(*Store)

// WithMaxSize sets the maximum number of entries. Values <= 0 are ignored.
func WithMaxSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxSize = n
		}
	}
}

// WithDefaultTTL sets the TTL used when Set is called without one.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithScopes sets the templates used by InvalidateUser and InvalidateTrial.
func WithScopes(scopes Scopes) Option {
	return func(s *Store) {
		s.scopes = scopes
	}
}

// WithMetrics reports cache activity to m.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithLogger sets the logger. Defaults to the logrus standard logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries:    make(map[string]*entry),
		inflight:   make(map[string]*flight),
		order:      list.New(),
		maxSize:    DefaultMaxSize,
		defaultTTL: DefaultTTL,
		now:        time.Now,
		scopes:     DefaultScopes(),
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a copy of the payload stored under key.
// Expired entries are removed and reported as missing.
func (s *Store) Get(key string) ([]byte, bool) {
	data, ok := s.lookup(key)
	if ok {
		s.metrics.hit()
	} else {
		s.metrics.miss()
	}
	return data, ok
}

func (s *Store) lookup(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(key)
}

func (s *Store) lookupLocked(key string) ([]byte, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if s.now().After(e.expiry) {
		s.removeLocked(key, e)
		return nil, false
	}
	return bytes.Clone(e.data), true
}

// Set stores a copy of data under key. A ttl <= 0 uses the default TTL.
// Overwriting a key resets its expiry but keeps its insertion position.
func (s *Store) Set(key string, data []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, data, ttl)
}

func (s *Store) setLocked(key string, data []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	expiry := s.now().Add(ttl)
	if e, ok := s.entries[key]; ok {
		e.data = bytes.Clone(data)
		e.expiry = expiry
		return
	}

	for len(s.entries) >= s.maxSize {
		s.evictOldestLocked()
	}
	s.entries[key] = &entry{
		data:   bytes.Clone(data),
		expiry: expiry,
		elem:   s.order.PushBack(key),
	}
	s.metrics.setEntries(len(s.entries))
}

// Delete removes key. Idempotent.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		s.removeLocked(key, e)
	}
}

// Len returns the number of stored entries, expired ones included until they are looked up.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Keys returns the stored keys in insertion order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(string))
	}
	return keys
}

// Fetcher retrieves a payload on a cache miss.
type Fetcher func(ctx context.Context) ([]byte, error)

// FetchOptions tunes GetOrFetch.
type FetchOptions struct {
	// TTL of the stored result. Zero uses the store default.
	TTL time.Duration
	// Params are part of the cache key.
	Params map[string]any
}

// GetOrFetch returns the payload cached for path and opts.Params, calling fetch on a miss.
//
// Concurrent calls for the same key share a single fetch and all observe its
// result. A failed fetch is not cached and its error is returned unchanged to
// every caller. The fetch is not cancelled when the caller's context is, since
// other callers may be waiting on it.
//
// An invalidation matching the key while the fetch runs detaches it: its
// result is not stored, and later callers start a new fetch instead of
// joining it.
func (s *Store) GetOrFetch(ctx context.Context, path string, fetch Fetcher, opts FetchOptions) ([]byte, error) {
	key := ComputeKey(path, opts.Params)
	if data, ok := s.Get(key); ok {
		return data, nil
	}

	fetchCtx := context.WithoutCancel(ctx)
	v, err, shared := s.pending.Do(key, func() (any, error) {
		return s.fetchAndStore(fetchCtx, key, fetch, opts.TTL)
	})
	if shared {
		s.metrics.coalesce()
	}
	if err != nil {
		s.log.WithField("key", key).Debugf("Fetch failed: %v", err)
		return nil, err
	}
	return bytes.Clone(v.([]byte)), nil
}

func (s *Store) fetchAndStore(ctx context.Context, key string, fetch Fetcher, ttl time.Duration) ([]byte, error) {
	s.mu.Lock()
	// Another caller may have filled the key between our miss and Do.
	if data, ok := s.lookupLocked(key); ok {
		s.mu.Unlock()
		return data, nil
	}
	f := &flight{}
	s.inflight[key] = f
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.inflight[key] == f {
			delete(s.inflight, key)
		}
		s.mu.Unlock()
	}()

	data, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if f.abandoned {
		s.log.WithField("key", key).Debug("Discarding fetch result invalidated while in flight")
		return data, nil
	}
	s.setLocked(key, data, ttl)
	return data, nil
}

// abandonFlightsLocked detaches the running fetches whose key matches pattern.
// An empty pattern matches every key.
func (s *Store) abandonFlightsLocked(pattern string) {
	for key, f := range s.inflight {
		if pattern != "" && !containsSegment(key, pattern) {
			continue
		}
		f.abandoned = true
		delete(s.inflight, key)
		s.pending.Forget(key)
	}
}

func (s *Store) evictOldestLocked() {
	front := s.order.Front()
	if front == nil {
		return
	}
	key := front.Value.(string)
	s.removeLocked(key, s.entries[key])
	s.metrics.evict()
	s.log.WithField("key", key).Debug("Evicted oldest cache entry")
}

func (s *Store) removeLocked(key string, e *entry) {
	s.order.Remove(e.elem)
	delete(s.entries, key)
	s.metrics.setEntries(len(s.entries))
}
