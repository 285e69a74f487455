package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"

	"github.com/iTrooz/apicache/internal/cache"
)

// Invalidation scopes a mutation rule can target
const (
	ScopeUser    = "user"
	ScopeTrial   = "trial"
	ScopeAll     = "all"
	ScopePattern = "pattern"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `koanf:"server" yaml:"server"`
	Cache        CacheConfig        `koanf:"cache" yaml:"cache"`
	Rules        RulesConfig        `koanf:"rules" yaml:"rules"`
	Invalidation InvalidationConfig `koanf:"invalidation" yaml:"invalidation"`
	Log          LogConfig          `koanf:"log" yaml:"log"`
	Metrics      MetricsConfig      `koanf:"metrics" yaml:"metrics"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port int `koanf:"port" yaml:"port"`
}

// CacheConfig contains cache-related configuration
type CacheConfig struct {
	TTL     string `koanf:"ttl" yaml:"ttl"`
	MaxSize int    `koanf:"max_size" yaml:"max_size"`
}

// RulesConfig selects which requests may be cached
type RulesConfig struct {
	Mode  string      `koanf:"mode" yaml:"mode"` // "whitelist" or "blacklist"
	Rules []CacheRule `koanf:"rules" yaml:"rules"`
}

// CacheRule defines a caching rule
type CacheRule struct {
	BaseURI string   `koanf:"base_uri" yaml:"base_uri"`
	Methods []string `koanf:"methods" yaml:"methods"`
}

// InvalidationConfig lists the cache scopes and the mutations that clear them
type InvalidationConfig struct {
	UserScope  []string       `koanf:"user_scope" yaml:"user_scope"`
	TrialScope []string       `koanf:"trial_scope" yaml:"trial_scope"`
	Mutations  []MutationRule `koanf:"mutations" yaml:"mutations"`
}

// MutationRule invalidates a scope after a successful matching request.
// Path is a regular expression on the URL path; a group named "id" selects
// the resource ID for user and trial scopes.
type MutationRule struct {
	Methods  []string `koanf:"methods" yaml:"methods"`
	Path     string   `koanf:"path" yaml:"path"`
	Scope    string   `koanf:"scope" yaml:"scope"`
	Patterns []string `koanf:"patterns" yaml:"patterns,omitempty"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"` // "text" or "json"
}

// MetricsConfig contains the prometheus endpoint configuration
type MetricsConfig struct {
	Addr      string `koanf:"addr" yaml:"addr"` // empty disables the endpoint
	Namespace string `koanf:"namespace" yaml:"namespace"`
}

// Default returns the configuration used for every key the file leaves out
func Default() *Config {
	scopes := cache.DefaultScopes()
	return &Config{
		Server: ServerConfig{Port: 8080},
		Cache: CacheConfig{
			TTL:     cache.DefaultTTL.String(),
			MaxSize: cache.DefaultMaxSize,
		},
		Rules: RulesConfig{Mode: "blacklist"},
		Invalidation: InvalidationConfig{
			UserScope:  scopes.User,
			TrialScope: scopes.Trial,
			Mutations:  DefaultMutations(),
		},
		Log:     LogConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Addr: ":9090", Namespace: "apicache"},
	}
}

// DefaultMutations returns the rules matching the marketplace API mutations
func DefaultMutations() []MutationRule {
	return []MutationRule{
		{Methods: []string{"POST"}, Path: `/trials/(?P<id>\d+)/(favorite|approve|toggle-featured)/$`, Scope: ScopeTrial},
		{Methods: []string{"POST"}, Path: `/trials/create/$`, Scope: ScopeTrial},
		{Methods: []string{"POST"}, Path: `/trials/industries/follow/$`, Scope: ScopePattern, Patterns: []string{"/trials/industries/user/"}},
		{Methods: []string{"POST", "PUT", "PATCH"}, Path: `/users/(?P<id>\d+)/$`, Scope: ScopeUser},
		{Methods: []string{"POST"}, Path: `/companies/profile/$`, Scope: ScopePattern, Patterns: []string{"/companies/profile/", "/auth/me/"}},
		{Methods: []string{"POST", "DELETE"}, Path: `/subscriptions/`, Scope: ScopePattern, Patterns: []string{"/subscriptions/"}},
		{Methods: []string{"POST"}, Path: `/notifications/\d+/read/$`, Scope: ScopePattern, Patterns: []string{"/notifications/"}},
		{Methods: []string{"POST"}, Path: `/auth/(login|logout)/$`, Scope: ScopeAll},
	}
}

// Load loads configuration from a YAML file on top of the defaults.
// An empty path loads the defaults only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading default config: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config Config
	if err := k.UnmarshalWithConf("", &config, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &config, nil
}

// GetCacheTTL parses and returns the cache TTL duration
func (c *Config) GetCacheTTL() (time.Duration, error) {
	return time.ParseDuration(c.Cache.TTL)
}

// Scopes returns the invalidation scopes for the cache store
func (c *Config) Scopes() cache.Scopes {
	return cache.Scopes{
		User:  c.Invalidation.UserScope,
		Trial: c.Invalidation.TrialScope,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Cache.TTL == "" {
		return fmt.Errorf("cache TTL is required")
	}

	ttl, err := c.GetCacheTTL()
	if err != nil {
		return fmt.Errorf("invalid cache TTL format: %w", err)
	}
	if ttl <= 0 {
		return fmt.Errorf("cache TTL must be positive, got: %s", c.Cache.TTL)
	}

	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("cache max_size must be positive, got: %d", c.Cache.MaxSize)
	}

	if c.Rules.Mode != "whitelist" && c.Rules.Mode != "blacklist" {
		return fmt.Errorf("rules mode must be 'whitelist' or 'blacklist', got: %s", c.Rules.Mode)
	}

	for i, rule := range c.Invalidation.Mutations {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("invalid mutation rule %d: %w", i, err)
		}
	}

	for _, pattern := range append(c.Invalidation.UserScope, c.Invalidation.TrialScope...) {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("invalidation scopes must not contain empty patterns")
		}
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log format must be 'text' or 'json', got: %s", c.Log.Format)
	}

	return nil
}

// Validate validates a mutation rule
func (r *MutationRule) Validate() error {
	if r.Path == "" {
		return fmt.Errorf("path is required")
	}
	if _, err := regexp.Compile(r.Path); err != nil {
		return fmt.Errorf("invalid path pattern: %w", err)
	}
	if len(r.Methods) == 0 {
		return fmt.Errorf("at least one method is required")
	}

	switch r.Scope {
	case ScopeUser, ScopeTrial, ScopeAll:
	case ScopePattern:
		if len(r.Patterns) == 0 {
			return fmt.Errorf("pattern scope requires patterns")
		}
		for _, p := range r.Patterns {
			if p == "" {
				return fmt.Errorf("patterns must not be empty")
			}
		}
	default:
		return fmt.Errorf("unknown scope: %s", r.Scope)
	}
	return nil
}
