package app

import "strings"

var descriptions = map[int]string{
	0:  "Clear sky",
	1:  "Mainly clear",
	2:  "Partly cloudy",
	3:  "Overcast",
	45: "Fog",
	48: "Depositing rime fog",
	51: "Light drizzle",
	53: "Moderate drizzle",
	55: "Dense drizzle",
	61: "Light rain",
	63: "Moderate rain",
	65: "Heavy rain",
	80: "Light showers",
	81: "Moderate showers",
	82: "Violent showers",
	95: "Thunderstorm",
	96: "Thunderstorm with hail",
	99: "Thunderstorm with heavy hail",
}

// NoData describes a placeholder bundle and any weather code without a description.
const NoData = "No data"

// Description returns the English text for a WMO weather code.
func Description(code int) string {
	if d, ok := descriptions[code]; ok {
		return d
	}
	return NoData
}

var icons = map[int]string{
	0:  "wi-day-sunny",
	1:  "wi-day-sunny-overcast",
	2:  "wi-day-cloudy",
	3:  "wi-cloudy",
	45: "wi-fog",
	48: "wi-fog",
	51: "wi-day-sprinkle",
	53: "wi-day-sprinkle",
	55: "wi-day-sprinkle",
	61: "wi-day-rain",
	63: "wi-day-rain",
	65: "wi-day-rain",
	80: "wi-day-rain",
	81: "wi-day-rain",
	82: "wi-day-rain",
	95: "wi-day-thunderstorm",
	96: "wi-day-thunderstorm",
	99: "wi-day-thunderstorm",
}

// Icon returns the svg asset name for a weather code. Night swaps the day variant where one exists.
func Icon(code int, isDay bool) string {
	name, ok := icons[code]
	if !ok {
		name = "wi-day-sunny"
	}
	if !isDay {
		name = strings.Replace(name, "day", "night", 1)
	}
	return name + ".svg"
}

var emoji = map[int]string{
	0:  "☀️",
	1:  "⛅",
	2:  "🌤️",
	3:  "☁️",
	45: "🌫️",
	61: "🌧️",
	63: "🌧️",
	95: "⛈️",
}

// Emoji returns the widget icon for a weather code.
func Emoji(code int) string {
	if e, ok := emoji[code]; ok {
		return e
	}
	return "🌈"
}

// UVLevel buckets the daily UV index maximum.
func UVLevel(uv float64) string {
	switch {
	case uv < 3:
		return "Low"
	case uv < 6:
		return "Moderate"
	default:
		return "High"
	}
}
