package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-display/internal/models"
	"github.com/kjstillabower/weather-display/internal/observability"
)

// ForecastFetcher is implemented by the location service. Declared here to avoid an import cycle.
type ForecastFetcher interface {
	Forecast(ctx context.Context, name string) (models.ForecastBundle, error)
}

// Warmer prefetches forecasts for every saved location so the location panels render from cache.
type Warmer struct {
	fetcher ForecastFetcher
	logger  *zap.Logger
}

func NewWarmer(fetcher ForecastFetcher, logger *zap.Logger) *Warmer {
	return &Warmer{fetcher: fetcher, logger: observability.Component(logger, "cache_warmer")}
}

// Warm fetches each location concurrently and returns the bundles that were fetched
// successfully, keyed by name. The fetcher populates the cache; failures are left out of the
// map and joined into the returned error.
func (w *Warmer) Warm(ctx context.Context, names []string) (map[string]models.ForecastBundle, error) {
	fetched := make(map[string]models.ForecastBundle, len(names))
	if len(names) == 0 {
		return fetched, nil
	}
	start := time.Now()
	observability.CacheWarmingTotal.Inc()

	var wg sync.WaitGroup
	var mu sync.Mutex
	errCh := make(chan error, len(names))
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			b, err := w.fetcher.Forecast(ctx, name)
			if err != nil {
				errCh <- fmt.Errorf("warm %s: %w", name, err)
				return
			}
			mu.Lock()
			fetched[name] = b
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Debug("cache warming complete",
		zap.Int("locations", len(names)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))

	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fetched, errors.Join(errs...)
	}
	return fetched, nil
}
