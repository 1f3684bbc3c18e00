package models

// Snapshot is the summarized latest observation mirrored for the home-screen widget.
// The JSON shape is shared with out-of-process readers; keep keys stable.
type Snapshot struct {
	City        string  `json:"city"`
	Temperature float64 `json:"temperature"`
	Description string  `json:"description"`
	Humidity    float64 `json:"humidity"`
	WindSpeed   float64 `json:"wind_speed"`
	Icon        string  `json:"icon"`
	LastUpdate  string  `json:"last_update"`
}
