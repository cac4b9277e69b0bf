// Package app assembles the lookup stack from a Config. Both the HTTP service
// and the terminal program build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-know/internal/cache"
	"github.com/kjstillabower/weather-know/internal/circuitbreaker"
	"github.com/kjstillabower/weather-know/internal/client"
	"github.com/kjstillabower/weather-know/internal/config"
	"github.com/kjstillabower/weather-know/internal/fetch"
	"github.com/kjstillabower/weather-know/internal/observability"
	"github.com/kjstillabower/weather-know/internal/publish"
)

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Config      *config.Config
	Client      *client.OpenWeatherClient
	Breaker     *circuitbreaker.CircuitBreaker // nil when disabled
	Store       cache.Store
	Publisher   publish.Publisher
	Coordinator *fetch.Coordinator

	logger  *zap.Logger
	ping    func(ctx context.Context) error
	closers []func() error
}

// New wires client, store, publishers and coordinator for cfg.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, logger: logger}

	wc, err := client.NewOpenWeatherClientWithRetry(
		cfg.WeatherAPIKey,
		cfg.WeatherAPIURL,
		cfg.WeatherAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		return nil, fmt.Errorf("weather client: %w", err)
	}
	a.Client = wc

	if cfg.CircuitBreakerEnabled {
		a.Breaker = NewBreaker(cfg)
		wc.SetCircuitBreaker(a.Breaker)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitFailures),
			zap.Duration("timeout", cfg.CircuitOpenTimeout))
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Store = store

	pub, err := a.openPublisher(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Publisher = pub

	opts := fetch.Options{
		Freshness:      cfg.Freshness,
		NormalizeKeys:  cfg.NormalizeKeys,
		Publisher:      pub,
		PublishTimeout: cfg.PublishTimeout,
		Logger:         logger,
	}
	if cfg.CoalesceEnabled {
		opts.CoalesceTimeout = cfg.CoalesceTimeout
	}
	a.Coordinator = fetch.NewCoordinator(wc, store, opts)

	if len(cfg.TrackedCities) > 0 {
		observability.SetTrackedCities(cfg.TrackedCities)
	}
	return a, nil
}

// NewBreaker builds the weather API breaker and exports its state.
func NewBreaker(cfg *config.Config) *circuitbreaker.CircuitBreaker {
	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitFailures,
		SuccessThreshold: cfg.CircuitSuccesses,
		Timeout:          cfg.CircuitOpenTimeout,
		IsFailure:        client.IsUpstreamFault,
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.CircuitBreakerTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
			observability.CircuitBreakerState.Set(observability.CircuitBreakerStateValue(int(to)))
		},
	})
	observability.CircuitBreakerState.Set(0)
	return cb
}

// openStore connects the configured backend.
func (a *App) openStore(ctx context.Context) (cache.Store, error) {
	cfg := a.Config
	switch cfg.CacheBackend {
	case config.BackendSQLite:
		s, err := cache.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite cache: %w", err)
		}
		a.track(s.Ping, s.Close)
		a.logger.Info("cache backend: sqlite", zap.String("path", cfg.SQLitePath))
		return s, nil
	case config.BackendPostgres:
		s, err := cache.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres cache: %w", err)
		}
		a.track(s.Ping, s.Close)
		a.logger.Info("cache backend: postgres")
		return s, nil
	case config.BackendMemcached:
		s, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.CacheRetention)
		if err != nil {
			return nil, fmt.Errorf("memcached cache: %w", err)
		}
		a.track(s.Ping, s.Close)
		a.logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
		return s, nil
	case config.BackendRedis:
		s, err := cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheRetention)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		a.track(s.Ping, s.Close)
		a.logger.Info("cache backend: redis", zap.String("addr", cfg.RedisAddr))
		return s, nil
	default:
		a.logger.Info("cache backend: in_memory")
		return cache.NewInMemoryCache(), nil
	}
}

// openPublisher connects every configured broker. No broker yields publish.Nop.
func (a *App) openPublisher(ctx context.Context) (publish.Publisher, error) {
	cfg := a.Config
	var pubs publish.Multi
	if cfg.MQTTBroker != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		p, err := publish.NewMQTTPublisher(connectCtx, publish.MQTTConfig{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
		}, a.logger)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("mqtt publisher: %w", err)
		}
		pubs = append(pubs, p)
		a.logger.Info("publishing fetch events to mqtt", zap.String("broker", cfg.MQTTBroker))
	}
	if len(cfg.KafkaBrokers) > 0 {
		p, err := publish.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, a.logger)
		if err != nil {
			_ = pubs.Close()
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		pubs = append(pubs, p)
		a.logger.Info("publishing fetch events to kafka", zap.String("topic", cfg.KafkaTopic))
	}
	switch len(pubs) {
	case 0:
		return publish.Nop{}, nil
	case 1:
		a.closers = append(a.closers, pubs[0].Close)
		return pubs[0], nil
	default:
		a.closers = append(a.closers, pubs.Close)
		return pubs, nil
	}
}

func (a *App) track(ping func(context.Context) error, closeFn func() error) {
	a.ping = ping
	a.closers = append(a.closers, closeFn)
}

// CachePing checks store reachability; nil for stores without a connection.
func (a *App) CachePing() func(ctx context.Context) error {
	return a.ping
}

// Start runs cache warming and retention pruning in the background until ctx is done.
func (a *App) Start(ctx context.Context) {
	cfg := a.Config
	if cfg.WarmEnabled && len(cfg.TrackedCities) > 0 {
		warmer := cache.NewWarmer(a.Coordinator, a.logger)
		go func() {
			err := warmer.WarmPeriodic(ctx, cfg.TrackedCities, cfg.WarmInterval)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("periodic cache warming stopped", zap.Error(err))
			}
		}()
	}
	if p, ok := a.Store.(cache.Pruner); ok && cfg.CacheRetention > 0 && cfg.CachePruneInterval > 0 {
		go func() {
			err := cache.RunPruner(ctx, p, cfg.CacheRetention, cfg.CachePruneInterval, a.logger)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("cache pruner stopped", zap.Error(err))
			}
		}()
	}
}

// Close waits for pending fetch events, then releases publishers and store
// connections.
func (a *App) Close() error {
	if a.Coordinator != nil {
		a.Coordinator.Drain()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
