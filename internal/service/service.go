// Package service is the location service: the location list, the selection pointer and
// forecast retrieval for the selected or any named location.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-display/internal/cache"
	"github.com/kjstillabower/weather-display/internal/client"
	"github.com/kjstillabower/weather-display/internal/models"
	"github.com/kjstillabower/weather-display/internal/observability"
	"github.com/kjstillabower/weather-display/internal/store"
	"github.com/kjstillabower/weather-display/internal/traffic"
	"github.com/kjstillabower/weather-display/internal/validation"
)

// LocationService orchestrates the store, the forecast gateway and the forecast cache.
// Read paths degrade to empty or placeholder values; write paths return typed errors.
type LocationService struct {
	store     store.LocationStore
	forecast  client.ForecastClient
	searcher  client.CitySearcher
	cache     cache.Cache
	ttl       time.Duration
	coalescer *requestCoalescer
	logger    *zap.Logger
}

// NewLocationService wires the service. searcher and c may be nil: search then fails with
// ErrSearchDisabled and every forecast goes upstream.
func NewLocationService(st store.LocationStore, fc client.ForecastClient, searcher client.CitySearcher, c cache.Cache, ttl time.Duration, logger *zap.Logger) *LocationService {
	return &LocationService{
		store:     st,
		forecast:  fc,
		searcher:  searcher,
		cache:     c,
		ttl:       ttl,
		coalescer: newRequestCoalescer(),
		logger:    observability.Component(logger, "location_service"),
	}
}

// ErrSearchDisabled is returned by SearchCities when no geocoding client is configured.
var ErrSearchDisabled = errors.New("city search disabled")

// loggerFromContext prefers the request-scoped logger carrying the correlation id.
func (s *LocationService) loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return s.logger
}

// ListLocations returns all locations ordered by name. A store fault yields an empty list.
func (s *LocationService) ListLocations(ctx context.Context) []models.Location {
	locs, err := s.store.ListLocations(ctx)
	if err != nil {
		s.loggerFromContext(ctx).Warn("listing locations failed, showing none", zap.Error(err))
		return []models.Location{}
	}
	return locs
}

// LocationNames returns the names from ListLocations in the same order.
func (s *LocationService) LocationNames(ctx context.Context) []string {
	locs := s.ListLocations(ctx)
	names := make([]string, 0, len(locs))
	for _, l := range locs {
		names = append(names, l.Name)
	}
	return names
}

// AddLocation validates the form and stores the location under the part of the name before
// the first comma. The selection pointer is not touched.
func (s *LocationService) AddLocation(ctx context.Context, in validation.LocationInput) (models.Location, error) {
	v, err := validation.ValidateLocation(in)
	if err != nil {
		return models.Location{}, err
	}
	if err := s.store.AddLocation(ctx, v.Name, v.Latitude, v.Longitude); err != nil {
		return models.Location{}, err
	}
	return models.Location{Name: v.Name, Latitude: v.Latitude, Longitude: v.Longitude}, nil
}

// RemoveLocation deletes name. The store clears the selection in the same transaction when it pointed at name.
func (s *LocationService) RemoveLocation(ctx context.Context, name string) error {
	return s.store.DeleteLocation(ctx, name)
}

// RenameLocation replaces oldName with the validated form. A selection on oldName follows the rename.
func (s *LocationService) RenameLocation(ctx context.Context, oldName string, in validation.LocationInput) (models.Location, error) {
	v, err := validation.ValidateLocation(in)
	if err != nil {
		return models.Location{}, err
	}
	if err := s.store.UpdateLocation(ctx, oldName, v.Name, v.Latitude, v.Longitude); err != nil {
		return models.Location{}, err
	}
	return models.Location{Name: v.Name, Latitude: v.Latitude, Longitude: v.Longitude}, nil
}

// Select persists name as the selection. Names without a stored location are accepted.
func (s *LocationService) Select(ctx context.Context, name string) error {
	return s.store.SetLastSelected(ctx, name)
}

// LastSelected returns the stored selection. A store fault reads as no selection.
func (s *LocationService) LastSelected(ctx context.Context) (string, bool) {
	name, ok, err := s.store.LastSelected(ctx)
	if err != nil {
		s.loggerFromContext(ctx).Warn("reading selection failed", zap.Error(err))
		return "", false
	}
	return name, ok
}

// ResolveSelection picks the location to display: the stored selection when it names a stored
// location, otherwise the first location by name, which is then persisted. ok is false when
// there are no locations.
func (s *LocationService) ResolveSelection(ctx context.Context) (string, bool) {
	logger := s.loggerFromContext(ctx)

	if name, ok := s.LastSelected(ctx); ok {
		exists, err := s.store.Exists(ctx, name)
		if err != nil {
			logger.Warn("checking selection failed", zap.String("name", name), zap.Error(err))
		}
		if exists {
			return name, true
		}
		logger.Info("stored selection has no location", zap.String("name", name))
	}

	locs := s.ListLocations(ctx)
	if len(locs) == 0 {
		return "", false
	}
	first := locs[0].Name
	if err := s.Select(ctx, first); err != nil {
		logger.Warn("persisting fallback selection failed", zap.String("name", first), zap.Error(err))
	}
	return first, true
}

// Forecast returns the bundle for a stored location. On any failure it returns the placeholder
// bundle together with the error (store.ErrNotFound, store.ErrStoreFault or client.ErrUnavailable)
// so callers choose whether to surface it.
func (s *LocationService) Forecast(ctx context.Context, name string) (models.ForecastBundle, error) {
	loc, err := s.store.GetLocation(ctx, name)
	if err != nil {
		return client.PlaceholderBundle(), err
	}
	return s.ForecastAt(ctx, loc.Latitude, loc.Longitude)
}

// ForecastAt serves from cache when possible and otherwise fetches upstream, sharing the
// fetch with concurrent callers for the same coordinates. Only successful bundles are cached.
func (s *LocationService) ForecastAt(ctx context.Context, lat, lon float64) (models.ForecastBundle, error) {
	logger := s.loggerFromContext(ctx)
	key := cache.Key(lat, lon)

	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			logger.Warn("forecast cache read failed", zap.String("key", key), zap.Error(err))
			observability.CacheMissesTotal.Inc()
		case ok:
			observability.CacheHitsTotal.Inc()
			logger.Debug("forecast cache hit", zap.String("key", key))
			return cached, nil
		default:
			observability.CacheMissesTotal.Inc()
		}
	}

	start := time.Now()
	bundle, shared, err := s.coalescer.Do(ctx, key, func(fetchCtx context.Context) (models.ForecastBundle, error) {
		b, err := s.forecast.Fetch(fetchCtx, lat, lon)
		if err != nil {
			traffic.RecordError()
			return b, err
		}
		traffic.RecordSuccess()
		if s.cache != nil {
			if err := s.cache.Set(fetchCtx, key, b, s.ttl); err != nil {
				logger.Warn("forecast cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
		return b, nil
	})
	if err != nil {
		logger.Warn("forecast unavailable, using placeholder",
			zap.String("key", key),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err))
		if !errors.Is(err, client.ErrUnavailable) {
			err = fmt.Errorf("%w: %w", client.ErrUnavailable, err)
		}
		return client.PlaceholderBundle(), err
	}

	logger.Debug("forecast fetched", zap.String("key", key), zap.Bool("shared", shared), zap.Duration("duration", time.Since(start)))
	return bundle, nil
}

// ForecastForSelection resolves the selection and fetches its forecast. The name is empty
// and the bundle is the placeholder when there are no locations.
func (s *LocationService) ForecastForSelection(ctx context.Context) (string, models.ForecastBundle) {
	name, ok := s.ResolveSelection(ctx)
	if !ok {
		return "", client.PlaceholderBundle()
	}
	bundle, _ := s.Forecast(ctx, name)
	return name, bundle
}

// SearchCities looks up candidate locations for the add form. A blank query returns no results.
func (s *LocationService) SearchCities(ctx context.Context, query string) ([]models.GeoResult, error) {
	q, err := validation.ValidateQuery(query)
	if err != nil {
		return nil, err
	}
	if q == "" {
		return []models.GeoResult{}, nil
	}
	if s.searcher == nil {
		return nil, ErrSearchDisabled
	}
	return s.searcher.Search(ctx, q)
}

// Ping checks the store. Used by health checks.
func (s *LocationService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
