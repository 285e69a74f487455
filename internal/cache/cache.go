// Handles in-memory caching of API responses
package cache

import "time"

// Cache interface for caching operations
type Cache interface {
	// retrieves cached data if it exists and is not expired.
	// returns nil, false when not found or expired
	Get(key string) ([]byte, bool)
	// stores data under key for ttl. A ttl <= 0 uses the cache default
	Set(key string, value []byte, ttl time.Duration)
	// removes a single key
	Delete(key string)
	// removes every key containing pattern, or everything when pattern is empty
	Invalidate(pattern string) int
}

var _ Cache = (*Store)(nil)
