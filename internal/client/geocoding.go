package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/weather-display/internal/circuitbreaker"
	"github.com/kjstillabower/weather-display/internal/models"
)

// CitySearcher looks up candidate locations by name.
type CitySearcher interface {
	Search(ctx context.Context, query string) ([]models.GeoResult, error)
}

// GeocodingClient queries the Open-Meteo geocoding search endpoint.
type GeocodingClient struct {
	apiURL   string
	count    int
	language string
	up       *upstream
}

func NewGeocodingClient(apiURL string, timeout time.Duration, count int, language string) *GeocodingClient {
	if count <= 0 {
		count = 10
	}
	return &GeocodingClient{
		apiURL:   apiURL,
		count:    count,
		language: language,
		up:       newUpstream("geocoding", timeout, 1, 0, 0),
	}
}

// SetCircuitBreaker routes searches through cb. Nil disables the breaker.
func (c *GeocodingClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.up.breaker = cb
}

type geocodingResponse struct {
	Results []models.GeoResult `json:"results"`
}

// Search returns matches for query. A blank query returns no results without a request;
// a query with no matches returns an empty slice.
func (c *GeocodingClient) Search(ctx context.Context, query string) ([]models.GeoResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.GeoResult{}, nil
	}

	base, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid geocoding URL: %v", ErrUnavailable, err)
	}
	params := url.Values{}
	params.Set("name", query)
	params.Set("count", strconv.Itoa(c.count))
	if c.language != "" {
		params.Set("language", c.language)
	}
	params.Set("format", "json")
	base.RawQuery = params.Encode()

	var resp geocodingResponse
	if err := c.up.getJSON(ctx, base.String(), &resp); err != nil {
		return nil, err
	}
	if resp.Results == nil {
		return []models.GeoResult{}, nil
	}
	return resp.Results, nil
}
