package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-know/internal/cache"
	"github.com/kjstillabower/weather-know/internal/client"
	"github.com/kjstillabower/weather-know/internal/forecast"
	"github.com/kjstillabower/weather-know/internal/models"
	"github.com/kjstillabower/weather-know/internal/observability"
)

// DefaultFreshness is how long a stored entry is served without refetching.
const DefaultFreshness = 30 * time.Minute

// DefaultPublishTimeout bounds delivery of one fetch event.
const DefaultPublishTimeout = 5 * time.Second

// Publisher receives an event after every successful upstream fetch.
type Publisher interface {
	Publish(ctx context.Context, ev models.FetchEvent) error
}

// Options configures a Coordinator. Zero values select defaults.
type Options struct {
	// Freshness is the validity window of a stored entry.
	Freshness time.Duration
	// NormalizeKeys trims and lowercases the city before deriving the key.
	NormalizeKeys bool
	// CoalesceTimeout enables request coalescing when positive.
	CoalesceTimeout time.Duration
	Publisher       Publisher
	// PublishTimeout bounds each background publish.
	PublishTimeout time.Duration
	Logger         *zap.Logger
	Now            func() time.Time
}

// Result is a successful lookup. Data holds the provider's weather document,
// or the JSON array of forecast items kept by the reducer, as received.
type Result struct {
	Kind      models.Kind
	City      string
	Key       string
	Data      json.RawMessage
	Cached    bool
	FetchedAt time.Time
}

// Weather decodes Data as a current-weather snapshot.
func (r Result) Weather() (models.WeatherSnapshot, error) {
	var w models.WeatherSnapshot
	if r.Kind != models.KindWeather {
		return w, fmt.Errorf("result is %s, not weather", r.Kind)
	}
	err := json.Unmarshal(r.Data, &w)
	return w, err
}

// Forecast decodes Data as a daily forecast.
func (r Result) Forecast() ([]models.ForecastEntry, error) {
	if r.Kind != models.KindForecast {
		return nil, fmt.Errorf("result is %s, not forecast", r.Kind)
	}
	var f []models.ForecastEntry
	err := json.Unmarshal(r.Data, &f)
	return f, err
}

// Coordinator serves lookups from the entry store when fresh and from the
// weather API otherwise.
type Coordinator struct {
	client          client.WeatherClient
	store           cache.Store
	freshness       time.Duration
	normalize       bool
	publisher       Publisher
	publishTimeout  time.Duration
	publishing      sync.WaitGroup
	logger          *zap.Logger
	now             func() time.Time
	stampedeTracker *stampedeTracker
	coalescer       *requestCoalescer // nil if disabled
}

// NewCoordinator creates a Coordinator over the given client and store.
func NewCoordinator(c client.WeatherClient, store cache.Store, opts Options) *Coordinator {
	co := &Coordinator{
		client:          c,
		store:           store,
		freshness:       opts.Freshness,
		normalize:       opts.NormalizeKeys,
		publisher:       opts.Publisher,
		publishTimeout:  opts.PublishTimeout,
		logger:          opts.Logger,
		now:             opts.Now,
		stampedeTracker: newStampedeTracker(),
	}
	if co.freshness <= 0 {
		co.freshness = DefaultFreshness
	}
	if co.publishTimeout <= 0 {
		co.publishTimeout = DefaultPublishTimeout
	}
	if co.logger == nil {
		co.logger = zap.NewNop()
	}
	if co.now == nil {
		co.now = time.Now
	}
	if opts.CoalesceTimeout > 0 {
		co.coalescer = newRequestCoalescer(opts.CoalesceTimeout)
	}
	return co
}

// CacheKey derives the store key for kind and city. With normalize the city is
// trimmed and lowercased; otherwise it is used verbatim.
func CacheKey(kind models.Kind, city string, normalize bool) string {
	if normalize {
		city = normalizeCity(city)
	}
	return string(kind) + "_" + city
}

func normalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

// Fetch returns the result for kind and city. A stored entry younger than the
// freshness window is returned without network access. Errors are always *Error.
func (c *Coordinator) Fetch(ctx context.Context, kind models.Kind, city string) (Result, error) {
	return c.fetch(ctx, kind, city, false)
}

// Prefetch refreshes the stored entry for kind and city from the API,
// ignoring any fresh entry. Used by the cache warmer.
func (c *Coordinator) Prefetch(ctx context.Context, kind models.Kind, city string) error {
	_, err := c.fetch(ctx, kind, city, true)
	return err
}

func (c *Coordinator) fetch(ctx context.Context, kind models.Kind, city string, force bool) (Result, error) {
	logger := observability.LoggerFrom(ctx, c.logger)
	start := time.Now()

	if kind != models.KindWeather && kind != models.KindForecast {
		return Result{}, c.fail(logger, kind, city, fmt.Errorf("%w: unknown kind %q", client.ErrInvalidInput, kind))
	}
	if strings.TrimSpace(city) == "" {
		return Result{}, c.fail(logger, kind, city, fmt.Errorf("%w: empty city", client.ErrInvalidInput))
	}

	display := strings.TrimSpace(city)
	query := city
	if c.normalize {
		query = normalizeCity(city)
	}
	key := CacheKey(kind, city, c.normalize)
	observability.RecordLookup(string(kind), query)

	if !force {
		if res, ok := c.lookup(ctx, logger, kind, display, key); ok {
			logger.Debug("lookup served",
				zap.String("key", key),
				zap.Bool("cached", true),
				zap.Duration("duration", time.Since(start)))
			return res, nil
		}
	}

	concurrentMisses := c.stampedeTracker.RecordMiss(key)
	defer c.stampedeTracker.Resolve(key)
	if concurrentMisses > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(string(kind)).Inc()
	}
	logger.Debug("cache miss, fetching upstream", zap.String("key", key))

	var (
		entry  models.CacheEntry
		err    error
		shared bool
	)
	if c.coalescer != nil {
		entry, shared, err = c.coalescer.GetOrDo(ctx, key, func(sharedCtx context.Context) (models.CacheEntry, error) {
			return c.fetchUpstream(sharedCtx, logger, kind, query, key)
		})
		if shared && err == nil {
			observability.RequestCoalescingHitsTotal.WithLabelValues(string(kind)).Inc()
		}
	} else {
		entry, err = c.fetchUpstream(ctx, logger, kind, query, key)
	}
	if err != nil {
		return Result{}, c.fail(logger, kind, city, err)
	}

	logger.Debug("lookup served",
		zap.String("key", key),
		zap.Bool("cached", false),
		zap.Bool("coalesced", shared),
		zap.Duration("duration", time.Since(start)))
	return Result{
		Kind:      kind,
		City:      display,
		Key:       key,
		Data:      entry.Data,
		FetchedAt: time.UnixMilli(entry.Timestamp),
	}, nil
}

// lookup returns the stored entry for key if it is still fresh. Store errors
// count as a miss.
func (c *Coordinator) lookup(ctx context.Context, logger *zap.Logger, kind models.Kind, city, key string) (Result, bool) {
	getStart := time.Now()
	entry, ok, err := c.store.Get(ctx, key)
	getDuration := time.Since(getStart).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
		logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		observability.CacheMissesTotal.WithLabelValues(string(kind)).Inc()
		return Result{}, false
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
	if !ok || !c.fresh(entry) {
		observability.CacheMissesTotal.WithLabelValues(string(kind)).Inc()
		return Result{}, false
	}
	observability.CacheHitsTotal.WithLabelValues(string(kind)).Inc()
	return Result{
		Kind:      kind,
		City:      city,
		Key:       key,
		Data:      entry.Data,
		Cached:    true,
		FetchedAt: time.UnixMilli(entry.Timestamp),
	}, true
}

func (c *Coordinator) fresh(e models.CacheEntry) bool {
	return c.now().UnixMilli()-e.Timestamp < c.freshness.Milliseconds()
}

// fetchUpstream calls the API, reduces forecasts, stores the entry and
// publishes the fetch event in the background. Provider JSON is stored as
// received. Store and publish failures are logged only.
func (c *Coordinator) fetchUpstream(ctx context.Context, logger *zap.Logger, kind models.Kind, city, key string) (models.CacheEntry, error) {
	var payload interface{}
	switch kind {
	case models.KindWeather:
		raw, err := c.client.GetCurrentWeather(ctx, city)
		if err != nil {
			return models.CacheEntry{}, err
		}
		payload = raw
	case models.KindForecast:
		items, err := c.client.GetForecast(ctx, city)
		if err != nil {
			return models.CacheEntry{}, err
		}
		days, err := forecast.Reduce(items)
		if err != nil {
			return models.CacheEntry{}, fmt.Errorf("%w: %w", client.ErrMalformedResponse, err)
		}
		payload = days
	}

	now := c.now()
	entry, err := models.NewCacheEntry(payload, now)
	if err != nil {
		return models.CacheEntry{}, fmt.Errorf("%w: encode %s: %w", client.ErrMalformedResponse, key, err)
	}

	setStart := time.Now()
	if setErr := c.store.Set(ctx, key, entry); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(setErr))
	} else {
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
	}

	c.publish(ctx, logger, models.FetchEvent{
		Kind:      kind,
		City:      city,
		Key:       key,
		FetchedAt: now,
		Data:      entry.Data,
	})
	return entry, nil
}

// publish delivers ev without holding up the lookup. The publish context keeps
// ctx's values but not its cancellation.
func (c *Coordinator) publish(ctx context.Context, logger *zap.Logger, ev models.FetchEvent) {
	if c.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.publishTimeout)
	c.publishing.Add(1)
	go func() {
		defer c.publishing.Done()
		defer cancel()
		if err := c.publisher.Publish(pubCtx, ev); err != nil {
			logger.Warn("publish fetch event failed", zap.String("key", ev.Key), zap.Error(err))
		}
	}()
}

// Drain blocks until every background publish has finished. Call before
// closing the publisher.
func (c *Coordinator) Drain() {
	c.publishing.Wait()
}

func (c *Coordinator) fail(logger *zap.Logger, kind models.Kind, city string, err error) *Error {
	fe := newError(err)
	observability.FetchErrorsTotal.WithLabelValues(string(kind), string(fe.Kind)).Inc()
	switch fe.Kind {
	case client.ErrorKindNotFound, client.ErrorKindRateLimited, client.ErrorKindInvalidInput, client.ErrorKindCanceled:
		logger.Info("lookup failed", zap.String("kind", string(kind)), zap.String("city", city), zap.String("error_kind", string(fe.Kind)), zap.Error(err))
	default:
		logger.Error("lookup failed", zap.String("kind", string(kind)), zap.String("city", city), zap.String("error_kind", string(fe.Kind)), zap.Error(err))
	}
	return fe
}

// categorizeCacheError returns a stable label for cache error metrics.
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}
