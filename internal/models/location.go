package models

import "time"

// Location is a named geographic point managed by the user.
type Location struct {
	Name      string    `json:"name" db:"name"`
	Latitude  float64   `json:"lat" db:"latitude"`
	Longitude float64   `json:"lon" db:"longitude"`
	CreatedAt time.Time `json:"createdAt,omitempty" db:"-"`
}

// GeoResult is a single match from the geocoding search endpoint.
type GeoResult struct {
	Name       string  `json:"name"`
	Country    string  `json:"country"`
	Admin1     string  `json:"admin1"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Population int     `json:"population"`
}
