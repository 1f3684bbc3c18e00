package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-display/internal/client"
	"github.com/kjstillabower/weather-display/internal/models"
)

const (
	maxHours = 24

	emptyTitle   = "No cities added"
	emptyMessage = "Add your first city to see the weather"

	noTime = "--:--"
)

// View is the dashboard view model. Exactly one of three shapes is filled: the empty state
// (Empty), a build failure (Error) or the selected location's forecast.
type View struct {
	Empty       bool     `json:"empty"`
	Title       string   `json:"title,omitempty"`
	Message     string   `json:"message,omitempty"`
	Error       string   `json:"error,omitempty"`
	Location    string   `json:"location,omitempty"`
	Available   bool     `json:"available"`
	LastRefresh string   `json:"lastRefresh,omitempty"`
	Current     *Current `json:"current,omitempty"`
	Hourly      []Hour   `json:"hourly,omitempty"`
	Panels      []Panel  `json:"panels,omitempty"`
}

// Current summarizes the selected location.
type Current struct {
	Temperature   int     `json:"temperature"`
	FeelsLike     int     `json:"feelsLike"`
	Description   string  `json:"description"`
	Icon          string  `json:"icon"`
	Humidity      float64 `json:"humidity"`
	WindSpeed     float64 `json:"windSpeed"`
	WindDirection float64 `json:"windDirection"`
	Pressure      float64 `json:"pressure"`
	Precipitation float64 `json:"precipitation"`
	UVIndex       float64 `json:"uvIndex"`
	UVLevel       string  `json:"uvLevel"`
	Sunrise       string  `json:"sunrise"`
	Sunset        string  `json:"sunset"`
	Max           int     `json:"max"`
	Min           int     `json:"min"`
}

// Hour is one slot of the hourly strip.
type Hour struct {
	Label                    string  `json:"label"`
	Temperature              int     `json:"temperature"`
	PrecipitationProbability float64 `json:"precipitationProbability"`
	Icon                     string  `json:"icon"`
}

// Panel is one entry of the location list.
type Panel struct {
	Name        string `json:"name"`
	Temperature int    `json:"temperature"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Selected    bool   `json:"selected"`
	Available   bool   `json:"available"`
}

// Dashboard builds the view for the current state. The only error is a stopped dispatcher.
func (a *App) Dashboard(ctx context.Context) (View, error) {
	var (
		name        string
		bundle      models.ForecastBundle
		lastRefresh time.Time
	)
	err := a.ui.Do(ctx, func() {
		name = a.currentLocation
		bundle = a.weather
		lastRefresh = a.lastRefresh
	})
	if err != nil {
		return View{}, err
	}
	if name == "" {
		return View{Empty: true, Title: emptyTitle, Message: emptyMessage}, nil
	}
	return a.buildView(ctx, name, bundle, lastRefresh), nil
}

// buildView turns a panic from malformed forecast data into an error view.
func (a *App) buildView(ctx context.Context, name string, bundle models.ForecastBundle, lastRefresh time.Time) (v View) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("building dashboard failed", zap.String("location", name), zap.Any("panic", r))
			v = View{Location: name, Error: fmt.Sprintf("Error loading the app: %v", r)}
		}
	}()

	v = View{
		Location:  name,
		Available: bundle.Success,
		Current:   currentView(bundle),
		Hourly:    hourlyView(bundle.Hourly),
		Panels:    a.panels(ctx, name),
	}
	if !lastRefresh.IsZero() {
		v.LastRefresh = lastRefresh.Format("15:04")
	}
	return v
}

func currentView(b models.ForecastBundle) *Current {
	cur, daily := b.Current, b.Daily
	desc := Description(cur.WeatherCode)
	if !b.Success {
		desc = NoData
	}
	uv := first(daily.UVIndexMax)
	return &Current{
		Temperature:   round(cur.Temperature2m),
		FeelsLike:     round(cur.ApparentTemperature),
		Description:   desc,
		Icon:          Icon(cur.WeatherCode, cur.IsDay == 1),
		Humidity:      cur.RelativeHumidity2m,
		WindSpeed:     cur.WindSpeed10m,
		WindDirection: cur.WindDirection10m,
		Pressure:      cur.PressureMSL,
		Precipitation: cur.Precipitation,
		UVIndex:       uv,
		UVLevel:       UVLevel(uv),
		Sunrise:       formatClock(firstString(daily.Sunrise)),
		Sunset:        formatClock(firstString(daily.Sunset)),
		Max:           round(first(daily.Temperature2mMax)),
		Min:           round(first(daily.Temperature2mMin)),
	}
}

func hourlyView(h models.HourlyForecast) []Hour {
	n := min(maxHours, len(h.Time), len(h.Temperature2m))
	hours := make([]Hour, 0, n)
	for i := 0; i < n; i++ {
		code := 1
		if i < len(h.WeatherCode) {
			code = h.WeatherCode[i]
		}
		var pop float64
		if i < len(h.PrecipitationProbability) {
			pop = h.PrecipitationProbability[i]
		}
		hours = append(hours, Hour{
			Label:                    formatHour(h.Time[i]),
			Temperature:              round(h.Temperature2m[i]),
			PrecipitationProbability: pop,
			Icon:                     Icon(code, true),
		})
	}
	return hours
}

// panels fetches every location once. With a prefetcher the fetches run concurrently and a
// location it could not load is shown unavailable without asking upstream again.
func (a *App) panels(ctx context.Context, selected string) []Panel {
	locs := a.service.ListLocations(ctx)
	if len(locs) == 0 {
		return nil
	}
	names := make([]string, 0, len(locs))
	for _, l := range locs {
		names = append(names, l.Name)
	}

	var warmed map[string]models.ForecastBundle
	if a.warmer != nil {
		var err error
		warmed, err = a.warmer.Warm(ctx, names)
		if err != nil {
			a.logger.Debug("panel prefetch incomplete", zap.Error(err))
		}
	}

	panels := make([]Panel, 0, len(names))
	for _, name := range names {
		var b models.ForecastBundle
		var ok bool
		if a.warmer != nil {
			b, ok = warmed[name]
		} else {
			var err error
			b, err = a.service.Forecast(ctx, name)
			ok = err == nil
		}
		ok = ok && b.Success
		if !ok {
			b = client.PlaceholderBundle()
		}
		desc := Description(b.Current.WeatherCode)
		if !ok {
			desc = NoData
		}
		panels = append(panels, Panel{
			Name:        name,
			Temperature: round(b.Current.Temperature2m),
			Description: desc,
			Icon:        Icon(b.Current.WeatherCode, b.Current.IsDay == 1),
			Selected:    name == selected,
			Available:   ok,
		})
	}
	return panels
}

func round(f float64) int {
	return int(math.Round(f))
}

func first(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	return s[0]
}

func firstString(s []string) string {
	if len(s) == 0 {
		return noTime
	}
	return s[0]
}

// Open-Meteo local times carry no zone or seconds.
var timeLayouts = []string{"2006-01-02T15:04", time.RFC3339, "2006-01-02T15:04:05"}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// formatHour renders "3 PM". Unparseable input is returned unchanged.
func formatHour(s string) string {
	t, ok := parseTime(s)
	if !ok {
		return s
	}
	return t.Format("3 PM")
}

// formatClock renders "15:04". Unparseable input, including the "--:--" placeholder, is
// returned unchanged.
func formatClock(s string) string {
	if s == "" {
		return noTime
	}
	t, ok := parseTime(s)
	if !ok {
		return s
	}
	return t.Format("15:04")
}
