package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-know/internal/models"
	"github.com/kjstillabower/weather-know/internal/observability"
)

// Prefetcher refreshes the stored entry for one kind and city. Implemented by
// the fetch coordinator; declared here to avoid an import cycle.
type Prefetcher interface {
	Prefetch(ctx context.Context, kind models.Kind, city string) error
}

// Warmer keeps entries for a fixed list of cities fresh by prefetching both
// kinds.
type Warmer struct {
	prefetcher Prefetcher
	logger     *zap.Logger
}

// NewWarmer creates a Warmer. logger may be nil.
func NewWarmer(p Prefetcher, logger *zap.Logger) *Warmer {
	return &Warmer{prefetcher: p, logger: logger}
}

// Warm prefetches weather and forecast for each city concurrently.
// Returns the joined errors of all failed prefetches.
func (w *Warmer) Warm(ctx context.Context, cities []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming cache", zap.Int("cities", len(cities)))
	}

	kinds := []models.Kind{models.KindWeather, models.KindForecast}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, city := range cities {
		for _, kind := range kinds {
			wg.Add(1)
			go func(kind models.Kind, city string) {
				defer wg.Done()
				if err := w.prefetcher.Prefetch(ctx, kind, city); err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("warm %s %s: %w", kind, city, err))
					mu.Unlock()
				}
			}(kind, city)
		}
	}
	wg.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("cache warming complete",
			zap.Int("cities", len(cities)),
			zap.Int("errors", len(errs)),
			zap.Float64("duration_seconds", duration))
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return errors.Join(errs...)
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval until ctx is done.
func (w *Warmer) WarmPeriodic(ctx context.Context, cities []string, interval time.Duration) error {
	if err := w.Warm(ctx, cities); err != nil && w.logger != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, cities); err != nil && w.logger != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}

// PruneOnce deletes entries older than retention and records the count.
func PruneOnce(ctx context.Context, p Pruner, retention time.Duration, now time.Time) (int64, error) {
	n, err := p.Prune(ctx, now.Add(-retention))
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("prune", "error").Inc()
		return 0, err
	}
	observability.CachePrunedTotal.Add(float64(n))
	return n, nil
}

// RunPruner prunes entries older than retention every interval until ctx is done.
func RunPruner(ctx context.Context, p Pruner, retention, interval time.Duration, logger *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			n, err := PruneOnce(ctx, p, retention, now)
			if logger == nil {
				continue
			}
			if err != nil {
				logger.Warn("cache prune failed", zap.Error(err))
			} else if n > 0 {
				logger.Debug("cache pruned", zap.Int64("removed", n))
			}
		}
	}
}
