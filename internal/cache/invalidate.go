package cache

import (
	"strconv"
	"strings"
)

// idPlaceholder is replaced by the resource ID in scope templates.
const idPlaceholder = "{id}"

// Scopes lists the key patterns removed when a resource changes.
// Templates may contain {id}; templates without it cover collections.
type Scopes struct {
	User  []string
	Trial []string
}

// DefaultScopes returns the scopes matching the marketplace REST paths.
func DefaultScopes() Scopes {
	return Scopes{
		User: []string{
			"user:{id}",
			"/users/{id}/",
			"/auth/me/",
		},
		Trial: []string{
			"trial:{id}",
			"/trials/{id}/",
			"trials:",
			"/trials/:",
			"/trials/favorites/",
			"/trials/company/",
			"/trials/admin/",
		},
	}
}

// Invalidate removes every entry whose key contains pattern as a delimited
// segment, and returns how many were removed. An empty pattern clears the store.
//
// A pattern that starts or ends with a letter or digit only matches where the
// neighbouring key byte is not one, so "trial:7" leaves "trial:70" alone.
func (s *Store) Invalidate(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.abandonFlightsLocked(pattern)
	if pattern == "" {
		n := len(s.entries)
		s.entries = make(map[string]*entry)
		s.order.Init()
		s.metrics.setEntries(0)
		s.metrics.invalidate("all", n)
		s.log.Debugf("Cleared %d cache entries", n)
		return n
	}

	n := 0
	for el := s.order.Front(); el != nil; {
		next := el.Next()
		key := el.Value.(string)
		if containsSegment(key, pattern) {
			s.removeLocked(key, s.entries[key])
			n++
		}
		el = next
	}
	s.metrics.invalidate("pattern", n)
	if n > 0 {
		s.log.WithField("pattern", pattern).Debugf("Invalidated %d cache entries", n)
	}
	return n
}

// InvalidateUser removes the entries of user id.
func (s *Store) InvalidateUser(id int64) int {
	return s.invalidateScope(s.scopes.User, id)
}

// InvalidateTrial removes the entries of trial id and the trial collections.
func (s *Store) InvalidateTrial(id int64) int {
	return s.invalidateScope(s.scopes.Trial, id)
}

func (s *Store) invalidateScope(templates []string, id int64) int {
	n := 0
	for _, pattern := range ExpandScope(templates, strconv.FormatInt(id, 10)) {
		n += s.Invalidate(pattern)
	}
	return n
}

// ExpandScope substitutes id into templates. With an empty id, only the
// templates without a placeholder are kept.
func ExpandScope(templates []string, id string) []string {
	patterns := make([]string, 0, len(templates))
	for _, tmpl := range templates {
		if !strings.Contains(tmpl, idPlaceholder) {
			patterns = append(patterns, tmpl)
			continue
		}
		if id == "" {
			continue
		}
		patterns = append(patterns, strings.ReplaceAll(tmpl, idPlaceholder, id))
	}
	return patterns
}

func containsSegment(key, pattern string) bool {
	checkStart := isWordByte(pattern[0])
	checkEnd := isWordByte(pattern[len(pattern)-1])

	for offset := 0; offset < len(key); {
		i := strings.Index(key[offset:], pattern)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(pattern)

		startOK := !checkStart || start == 0 || !isWordByte(key[start-1])
		endOK := !checkEnd || end == len(key) || !isWordByte(key[end])
		if startOK && endOK {
			return true
		}
		offset = start + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
