package client

import "github.com/kjstillabower/weather-display/internal/models"

// PlaceholderBundle is shown when no forecast could be fetched. Success is false, current
// readings are zero with is_day=1, hourly series are empty, and each daily series holds one
// zero entry so "today" lookups never index out of range.
func PlaceholderBundle() models.ForecastBundle {
	return models.ForecastBundle{
		Current: models.CurrentWeather{IsDay: 1},
		Hourly: models.HourlyForecast{
			Time:          []string{},
			Temperature2m: []float64{},
			WeatherCode:   []int{},
		},
		Daily: models.DailyForecast{
			WeatherCode:      []int{0},
			Temperature2mMax: []float64{0},
			Temperature2mMin: []float64{0},
			Sunrise:          []string{"--:--"},
			Sunset:           []string{"--:--"},
			UVIndexMax:       []float64{0},
		},
		Success: false,
	}
}
