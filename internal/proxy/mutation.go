package proxy

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"

	"github.com/iTrooz/apicache/internal/cache"
	"github.com/iTrooz/apicache/internal/config"
)

// MutationRule invalidates part of the cache after a matching request succeeds
type MutationRule struct {
	methods  []string
	path     *regexp.Regexp
	scope    string
	patterns []string
}

// NewMutationRule compiles a configured mutation rule
func NewMutationRule(cfg config.MutationRule) (*MutationRule, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	path, err := regexp.Compile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid path pattern: %w", err)
	}
	return &MutationRule{
		methods:  cfg.Methods,
		path:     path,
		scope:    cfg.Scope,
		patterns: cfg.Patterns,
	}, nil
}

// Match reports whether requ triggers this rule, and the resource ID captured
// by the path's "id" group, if any
func (r *MutationRule) Match(requ *http.Request) (string, bool) {
	if !matchesMethod(r.methods, requ.Method) {
		return "", false
	}

	m := r.path.FindStringSubmatch(requ.URL.Path)
	if m == nil {
		return "", false
	}
	if i := r.path.SubexpIndex("id"); i >= 0 {
		return m[i], true
	}
	return "", true
}

// Apply invalidates the rule's scope and returns the number of removed entries
func (r *MutationRule) Apply(store *cache.Store, scopes cache.Scopes, id string) int {
	switch r.scope {
	case config.ScopeAll:
		return store.Invalidate("")
	case config.ScopeUser:
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			return store.InvalidateUser(n)
		}
		return invalidateAll(store, cache.ExpandScope(scopes.User, ""))
	case config.ScopeTrial:
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			return store.InvalidateTrial(n)
		}
		return invalidateAll(store, cache.ExpandScope(scopes.Trial, ""))
	default:
		return invalidateAll(store, cache.ExpandScope(r.patterns, id))
	}
}

func invalidateAll(store *cache.Store, patterns []string) int {
	n := 0
	for _, pattern := range patterns {
		n += store.Invalidate(pattern)
	}
	return n
}

// onMutationResponse runs the mutation rules once a non-GET request succeeded
func (s *Server) onMutationResponse(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	requ := ctx.Req
	if resp == nil || requ == nil || requ.Method == http.MethodGet || !isSuccess(resp) {
		return resp
	}

	for _, rule := range s.mutations {
		id, ok := rule.Match(requ)
		if !ok {
			continue
		}
		n := rule.Apply(s.store, s.config.Scopes(), id)
		logrus.WithFields(logrus.Fields{
			"method": requ.Method,
			"path":   requ.URL.Path,
			"scope":  rule.scope,
		}).Infof("Invalidated %d cache entries", n)
	}
	return resp
}
