// Package app holds the presentation state: which location is shown, its latest forecast and
// the dashboard view model built from them. State changes run on the UI dispatcher.
package app

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-display/internal/client"
	"github.com/kjstillabower/weather-display/internal/models"
	"github.com/kjstillabower/weather-display/internal/observability"
	"github.com/kjstillabower/weather-display/internal/store"
	"github.com/kjstillabower/weather-display/internal/validation"
)

// LocationService is the part of *service.LocationService the presentation layer drives.
type LocationService interface {
	ListLocations(ctx context.Context) []models.Location
	AddLocation(ctx context.Context, in validation.LocationInput) (models.Location, error)
	RemoveLocation(ctx context.Context, name string) error
	RenameLocation(ctx context.Context, oldName string, in validation.LocationInput) (models.Location, error)
	Select(ctx context.Context, name string) error
	ResolveSelection(ctx context.Context) (string, bool)
	Forecast(ctx context.Context, name string) (models.ForecastBundle, error)
}

// SnapshotWriter is satisfied by *snapshot.Shared.
type SnapshotWriter interface {
	Update(city string, temperature float64, description string, humidity, windSpeed float64, icon string) error
}

// Dispatcher runs fn on the UI goroutine. Satisfied by *ui.Dispatcher.
type Dispatcher interface {
	Do(ctx context.Context, fn func()) error
}

// Prefetcher loads forecasts for many locations at once and returns the ones it got.
// Satisfied by *cache.Warmer.
type Prefetcher interface {
	Warm(ctx context.Context, names []string) (map[string]models.ForecastBundle, error)
}

// App is the presentation state. currentLocation, weather and lastRefresh are only touched
// inside functions run by the dispatcher.
type App struct {
	service  LocationService
	snapshot SnapshotWriter
	ui       Dispatcher
	warmer   Prefetcher
	logger   *zap.Logger
	now      func() time.Time

	currentLocation string
	weather         models.ForecastBundle
	lastRefresh     time.Time
}

// New returns an App showing the empty state. warmer may be nil.
func New(svc LocationService, snap SnapshotWriter, ui Dispatcher, warmer Prefetcher, logger *zap.Logger) *App {
	return &App{
		service:  svc,
		snapshot: snap,
		ui:       ui,
		warmer:   warmer,
		logger:   observability.Component(logger, "app"),
		now:      time.Now,
		weather:  client.PlaceholderBundle(),
	}
}

// Init resolves the selection and loads its forecast. With no locations the app stays empty.
func (a *App) Init(ctx context.Context) error {
	name, ok := a.service.ResolveSelection(ctx)
	if !ok {
		a.logger.Info("no locations, showing empty state")
		return a.showEmpty(ctx)
	}
	return a.load(ctx, name)
}

// LoadWeather fetches the forecast for name off the UI thread, pushes the widget snapshot and
// hands the bundle to the UI thread. A failed fetch stores the placeholder; the fetch error is
// returned for the caller to log or count.
func (a *App) LoadWeather(ctx context.Context, name string) error {
	bundle, fetchErr := a.service.Forecast(ctx, name)
	if fetchErr != nil {
		a.logger.Warn("forecast failed, showing placeholder", zap.String("location", name), zap.Error(fetchErr))
	} else {
		a.pushSnapshot(name, bundle)
	}

	err := a.ui.Do(ctx, func() {
		a.currentLocation = name
		a.weather = bundle
		a.lastRefresh = a.now()
	})
	if err != nil {
		return err
	}
	return fetchErr
}

// load is LoadWeather for callers that only care whether the hand-off happened.
func (a *App) load(ctx context.Context, name string) error {
	err := a.LoadWeather(ctx, name)
	if err == nil || isFetchError(err) {
		return nil
	}
	return err
}

func isFetchError(err error) bool {
	return errors.Is(err, client.ErrUnavailable) ||
		errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrStoreFault)
}

// pushSnapshot mirrors a successful reading for the widget. A failed placeholder never
// overwrites the last good snapshot.
func (a *App) pushSnapshot(name string, bundle models.ForecastBundle) {
	cur := bundle.Current
	err := a.snapshot.Update(
		name,
		math.Round(cur.Temperature2m),
		Description(cur.WeatherCode),
		cur.RelativeHumidity2m,
		cur.WindSpeed10m,
		Emoji(cur.WeatherCode),
	)
	if err != nil {
		a.logger.Warn("snapshot write failed", zap.String("location", name), zap.Error(err))
	}
}

func (a *App) showEmpty(ctx context.Context) error {
	return a.ui.Do(ctx, func() {
		a.currentLocation = ""
		a.weather = client.PlaceholderBundle()
		a.lastRefresh = time.Time{}
	})
}

// CurrentLocation returns the location shown, or "" in the empty state.
func (a *App) CurrentLocation(ctx context.Context) (string, error) {
	var name string
	err := a.ui.Do(ctx, func() { name = a.currentLocation })
	return name, err
}

// Refresh reloads the current location. In the empty state it re-resolves the selection in
// case locations were added since.
func (a *App) Refresh(ctx context.Context) error {
	name, err := a.CurrentLocation(ctx)
	if err != nil {
		return err
	}
	if name == "" {
		return a.Init(ctx)
	}
	return a.LoadWeather(ctx, name)
}

// Select persists name as the selection and shows it.
func (a *App) Select(ctx context.Context, name string) error {
	if err := a.service.Select(ctx, name); err != nil {
		return err
	}
	return a.load(ctx, name)
}

// AddLocation stores a new location. It becomes the selection when nothing was shown before.
func (a *App) AddLocation(ctx context.Context, in validation.LocationInput) (models.Location, error) {
	loc, err := a.service.AddLocation(ctx, in)
	if err != nil {
		return models.Location{}, err
	}
	current, err := a.CurrentLocation(ctx)
	if err != nil {
		return loc, err
	}
	if current == "" {
		if err := a.Select(ctx, loc.Name); err != nil {
			return loc, err
		}
	}
	return loc, nil
}

// DeleteLocation removes name and reselects: the stored selection if it survived, else the
// first remaining location, else the empty state.
func (a *App) DeleteLocation(ctx context.Context, name string) error {
	if err := a.service.RemoveLocation(ctx, name); err != nil {
		return err
	}
	next, ok := a.service.ResolveSelection(ctx)
	if !ok {
		return a.showEmpty(ctx)
	}
	return a.load(ctx, next)
}

// RenameLocation replaces oldName. When oldName is shown the view follows the new name.
func (a *App) RenameLocation(ctx context.Context, oldName string, in validation.LocationInput) (models.Location, error) {
	loc, err := a.service.RenameLocation(ctx, oldName, in)
	if err != nil {
		return models.Location{}, err
	}
	current, err := a.CurrentLocation(ctx)
	if err != nil {
		return loc, err
	}
	if current == oldName {
		if err := a.load(ctx, loc.Name); err != nil {
			return loc, err
		}
	}
	return loc, nil
}
