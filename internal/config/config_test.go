package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/iTrooz/apicache/internal/cache"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "test_config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))
	return configFile
}

func TestLoad(t *testing.T) {
	configFile := writeConfig(t, `
server:
  port: 9999
cache:
  ttl: "30m"
  max_size: 50
rules:
  mode: "whitelist"
  rules:
    - base_uri: "https://api.example.com"
      methods: ["GET"]
invalidation:
  mutations:
    - methods: ["POST"]
      path: '/offers/(?P<id>\d+)/claim/$'
      scope: trial
log:
  level: debug
`)

	config, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 9999, config.Server.Port)
	assert.Equal(t, "30m", config.Cache.TTL)
	assert.Equal(t, 50, config.Cache.MaxSize)
	assert.Equal(t, "whitelist", config.Rules.Mode)
	require.Len(t, config.Rules.Rules, 1)
	assert.Equal(t, "https://api.example.com", config.Rules.Rules[0].BaseURI)
	assert.Equal(t, []string{"GET"}, config.Rules.Rules[0].Methods)

	require.Len(t, config.Invalidation.Mutations, 1, "file mutations replace the defaults")
	assert.Equal(t, ScopeTrial, config.Invalidation.Mutations[0].Scope)

	// Keys left out of the file keep their defaults
	assert.Equal(t, cache.DefaultScopes().Trial, config.Invalidation.TrialScope)
	assert.Equal(t, "debug", config.Log.Level)
	assert.Equal(t, "text", config.Log.Format)
	assert.Equal(t, "apicache", config.Metrics.Namespace)

	assert.NoError(t, config.Validate())
}

func TestLoadDefaults(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, cache.DefaultMaxSize, config.Cache.MaxSize)
	assert.Equal(t, "blacklist", config.Rules.Mode)
	assert.Len(t, config.Invalidation.Mutations, len(DefaultMutations()))
	assert.Equal(t, cache.DefaultScopes(), config.Scopes())
	assert.NoError(t, config.Validate())

	ttl, err := config.GetCacheTTL()
	require.NoError(t, err)
	assert.Equal(t, cache.DefaultTTL, ttl)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRoundTrip(t *testing.T) {
	// The YAML printed by `apicache config` must load back to the same config
	out, err := yaml.Marshal(Default())
	require.NoError(t, err)

	config, err := Load(writeConfig(t, string(out)))
	require.NoError(t, err)

	want := Default()
	assert.Equal(t, want.Server, config.Server)
	assert.Equal(t, want.Cache, config.Cache)
	assert.Equal(t, want.Rules.Mode, config.Rules.Mode)
	assert.Equal(t, want.Invalidation.Mutations, config.Invalidation.Mutations)
	assert.Equal(t, want.Scopes(), config.Scopes())
	assert.Equal(t, want.Log, config.Log)
	assert.Equal(t, want.Metrics, config.Metrics)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = -1 },
			wantErr: true,
		},
		{
			name:    "invalid TTL",
			mutate:  func(c *Config) { c.Cache.TTL = "invalid" },
			wantErr: true,
		},
		{
			name:    "negative TTL",
			mutate:  func(c *Config) { c.Cache.TTL = "-1m" },
			wantErr: true,
		},
		{
			name:    "zero max size",
			mutate:  func(c *Config) { c.Cache.MaxSize = 0 },
			wantErr: true,
		},
		{
			name:    "invalid mode",
			mutate:  func(c *Config) { c.Rules.Mode = "invalid" },
			wantErr: true,
		},
		{
			name: "invalid mutation path",
			mutate: func(c *Config) {
				c.Invalidation.Mutations = []MutationRule{{Methods: []string{"POST"}, Path: "(", Scope: ScopeAll}}
			},
			wantErr: true,
		},
		{
			name: "unknown mutation scope",
			mutate: func(c *Config) {
				c.Invalidation.Mutations = []MutationRule{{Methods: []string{"POST"}, Path: "/x", Scope: "company"}}
			},
			wantErr: true,
		},
		{
			name: "pattern scope without patterns",
			mutate: func(c *Config) {
				c.Invalidation.Mutations = []MutationRule{{Methods: []string{"POST"}, Path: "/x", Scope: ScopePattern}}
			},
			wantErr: true,
		},
		{
			name:    "empty scope pattern",
			mutate:  func(c *Config) { c.Invalidation.UserScope = []string{""} },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: true,
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGetCacheTTL(t *testing.T) {
	config := Config{
		Cache: CacheConfig{TTL: "1h30m"},
	}

	ttl, err := config.GetCacheTTL()
	require.NoError(t, err)
	assert.Equal(t, time.Hour+30*time.Minute, ttl)
}
