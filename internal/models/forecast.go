package models

// ForecastBundle holds the current, hourly and daily groups returned by the forecast API.
// Fields mirror the upstream names; nothing beyond JSON shape is validated.
type ForecastBundle struct {
	Current CurrentWeather `json:"current"`
	Hourly  HourlyForecast `json:"hourly"`
	Daily   DailyForecast  `json:"daily"`
	Success bool           `json:"success"`
}

type CurrentWeather struct {
	Time                string  `json:"time,omitempty"`
	Temperature2m       float64 `json:"temperature_2m"`
	RelativeHumidity2m  float64 `json:"relative_humidity_2m"`
	ApparentTemperature float64 `json:"apparent_temperature"`
	Precipitation       float64 `json:"precipitation"`
	Rain                float64 `json:"rain"`
	PressureMSL         float64 `json:"pressure_msl"`
	SurfacePressure     float64 `json:"surface_pressure"`
	WindSpeed10m        float64 `json:"wind_speed_10m"`
	WindDirection10m    float64 `json:"wind_direction_10m"`
	IsDay               int     `json:"is_day"`
	WeatherCode         int     `json:"weather_code"`
}

type HourlyForecast struct {
	Time                     []string  `json:"time"`
	Temperature2m            []float64 `json:"temperature_2m"`
	RelativeHumidity2m       []float64 `json:"relative_humidity_2m,omitempty"`
	PrecipitationProbability []float64 `json:"precipitation_probability,omitempty"`
	WeatherCode              []int     `json:"weather_code"`
}

type DailyForecast struct {
	Time             []string  `json:"time,omitempty"`
	WeatherCode      []int     `json:"weather_code"`
	Temperature2mMax []float64 `json:"temperature_2m_max"`
	Temperature2mMin []float64 `json:"temperature_2m_min"`
	Sunrise          []string  `json:"sunrise"`
	Sunset           []string  `json:"sunset"`
	UVIndexMax       []float64 `json:"uv_index_max"`
	PrecipitationSum []float64 `json:"precipitation_sum,omitempty"`
}
