//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/kjstillabower/weather-display/internal/cache"
	"github.com/kjstillabower/weather-display/internal/client"
	"github.com/kjstillabower/weather-display/internal/service"
	"github.com/kjstillabower/weather-display/internal/store"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	ForecastURL   string
	GeocodingURL  string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test unless INTEGRATION_NETWORK=1, since the Open-Meteo APIs are public and need no key.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	if os.Getenv("INTEGRATION_NETWORK") != "1" {
		t.Skip("INTEGRATION_NETWORK not set, skipping integration test")
	}

	forecastURL := os.Getenv("FORECAST_API_URL")
	if forecastURL == "" {
		forecastURL = "https://api.open-meteo.com/v1/forecast"
	}
	geocodingURL := os.Getenv("GEOCODING_API_URL")
	if geocodingURL == "" {
		geocodingURL = "https://geocoding-api.open-meteo.com/v1/search"
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}

	return IntegrationTestConfig{
		ForecastURL:   forecastURL,
		GeocodingURL:  geocodingURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// SetupIntegrationService wires a LocationService against the live APIs and a SQLite store in
// a temp dir. Falls back to the in-memory cache when memcached is requested but unreachable.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.LocationService, *store.SQLiteStore) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	st, err := store.Open(filepath.Join(t.TempDir(), "weather_app.db"), logger)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	var cacheSvc cache.Cache = cache.NewInMemoryCache()
	if cfg.CacheBackend == "memcached" {
		mc := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err := mc.Ping(); err == nil {
			cacheSvc = mc
			t.Cleanup(func() { _ = mc.Close() })
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("Memcached not available (%v), using in-memory cache", err)
		}
	}

	forecast := client.NewOpenMeteoClientWithRetry(cfg.ForecastURL, 10*time.Second, 1, 2, 200*time.Millisecond, 2*time.Second)
	geocoder := client.NewGeocodingClient(cfg.GeocodingURL, 10*time.Second, 10, "es")
	return service.NewLocationService(st, forecast, geocoder, cacheSvc, 5*time.Minute, logger), st
}
