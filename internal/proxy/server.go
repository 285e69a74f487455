package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/elazarl/goproxy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/iTrooz/apicache/internal/cache"
	"github.com/iTrooz/apicache/internal/config"
	"github.com/iTrooz/apicache/internal/interceptor"
)

const shutdownTimeout = 5 * time.Second

// Server represents the caching proxy server
type Server struct {
	config    *config.Config
	store     *cache.Store
	adapter   *interceptor.Adapter
	proxy     *goproxy.ProxyHttpServer
	registry  *prometheus.Registry
	rules     []Rule
	mutations []*MutationRule
}

// New creates a new proxy server
func New(cfg *config.Config) (*Server, error) {
	cacheTTL, err := cfg.GetCacheTTL()
	if err != nil {
		return nil, fmt.Errorf("invalid cache TTL: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	s := &Server{
		config:   cfg,
		registry: registry,
		store: cache.NewStore(
			cache.WithMaxSize(cfg.Cache.MaxSize),
			cache.WithDefaultTTL(cacheTTL),
			cache.WithScopes(cfg.Scopes()),
			cache.WithMetrics(cache.NewMetrics(registry, cfg.Metrics.Namespace)),
		),
	}

	for _, rule := range cfg.Rules.Rules {
		s.rules = append(s.rules, &ConfigRule{CacheRule: rule})
	}
	for i, rule := range cfg.Invalidation.Mutations {
		mutation, err := NewMutationRule(rule)
		if err != nil {
			return nil, fmt.Errorf("invalid mutation rule %d: %w", i, err)
		}
		s.mutations = append(s.mutations, mutation)
	}

	s.proxy = goproxy.NewProxyHttpServer()
	s.proxy.Logger = logrus.StandardLogger()

	s.adapter = interceptor.New(s.store, interceptor.WithFilter(s.shouldBeCached))
	s.adapter.InstallProxy(s.proxy)
	s.proxy.OnResponse().DoFunc(s.onMutationResponse)

	return s, nil
}

// GetProxy returns the proxy handler (exported for testing)
func (s *Server) GetProxy() *goproxy.ProxyHttpServer {
	return s.proxy
}

// Store returns the response cache of the proxy
func (s *Server) Store() *cache.Store {
	return s.store
}

// MetricsHandler serves the prometheus metrics of the proxy
func (s *Server) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// Start serves the proxy, and the metrics endpoint if configured, until ctx is done
func (s *Server) Start(ctx context.Context) error {
	servers := []*http.Server{{
		Addr:    fmt.Sprintf(":%d", s.config.Server.Port),
		Handler: s.proxy,
	}}
	if s.config.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.MetricsHandler())
		servers = append(servers, &http.Server{Addr: s.config.Metrics.Addr, Handler: mux})
	}

	logrus.Infof("Starting caching proxy on port %d", s.config.Server.Port)
	logrus.Infof("Cache TTL: %s, max entries: %d", s.config.Cache.TTL, s.config.Cache.MaxSize)
	logrus.Infof("Rules mode: %s", s.config.Rules.Mode)
	if s.config.Metrics.Addr != "" {
		logrus.Infof("Metrics on %s/metrics", s.config.Metrics.Addr)
	}

	errs := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("server on %s failed: %w", srv.Addr, err)
			}
		}(srv)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logrus.Errorf("Failed to shut down server on %s: %v", srv.Addr, err)
		}
	}
	return runErr
}
