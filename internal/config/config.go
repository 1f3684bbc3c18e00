package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration loaded from .env, YAML and environment.
type Config struct {
	ServerAddr         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	RequestTimeout     time.Duration

	StorePath string

	ForecastAPIURL     string
	ForecastAPITimeout time.Duration
	ForecastDays       int

	GeocodingAPIURL     string
	GeocodingAPITimeout time.Duration
	GeocodingCount      int
	GeocodingLanguage   string

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	CacheBackend          string // "in_memory" or "memcached"
	CacheTTL              time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	AutoRefreshInterval time.Duration
	PullThreshold       float64
	PullDelay           time.Duration
	PullIndicatorMax    float64

	WidgetEnabled  bool
	WidgetInterval time.Duration
	SnapshotPath   string

	DegradedWindow     time.Duration
	DegradedMinSamples int
	DegradedErrorPct   int

	ShutdownTimeout time.Duration
}

type fileConfig struct {
	Server struct {
		Host         string `yaml:"host"`
		Port         string `yaml:"port"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
	} `yaml:"server"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`

	ForecastAPI struct {
		URL          string `yaml:"url"`
		Timeout      string `yaml:"timeout"`
		ForecastDays int    `yaml:"forecast_days"`
	} `yaml:"forecast_api"`

	GeocodingAPI struct {
		URL      string `yaml:"url"`
		Timeout  string `yaml:"timeout"`
		Count    int    `yaml:"count"`
		Language string `yaml:"language"`
	} `yaml:"geocoding_api"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	CircuitBreaker struct {
		Enabled          *bool  `yaml:"enabled"`
		FailureThreshold int    `yaml:"failure_threshold"`
		SuccessThreshold int    `yaml:"success_threshold"`
		Timeout          string `yaml:"timeout"`
	} `yaml:"circuit_breaker"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Refresh struct {
		AutoInterval  string  `yaml:"auto_interval"`
		PullThreshold float64 `yaml:"pull_threshold"`
		PullDelay     string  `yaml:"pull_delay"`
		IndicatorMax  float64 `yaml:"indicator_max"`
	} `yaml:"refresh"`

	Widget struct {
		Enabled  *bool  `yaml:"enabled"`
		Interval string `yaml:"interval"`
	} `yaml:"widget"`

	Snapshot struct {
		Path string `yaml:"path"`
	} `yaml:"snapshot"`

	Health struct {
		DegradedWindow     string `yaml:"degraded_window"`
		DegradedMinSamples int    `yaml:"degraded_min_samples"`
		DegradedErrorPct   int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

// Load reads .env (optional), then config/{ENV_NAME}.yaml relative to the working directory.
// When ENV_NAME is unset and config/dev.yaml is absent, built-in defaults apply.
// Environment variables override file values for paths, cache backend and port.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env, explicit := os.LookupEnv("ENV_NAME")
	if env == "" {
		env, explicit = "dev", false
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}

	var fc fileConfig
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case os.IsNotExist(err) && !explicit:
		// defaults only
	case os.IsNotExist(err):
		return nil, fmt.Errorf("config file not found: %s", configPath)
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := fromFile(fc)
	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromFile(fc fileConfig) *Config {
	cfg := &Config{}

	host := strings.TrimSpace(fc.Server.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := strings.TrimSpace(fc.Server.Port)
	if port == "" {
		port = "8080"
	}
	cfg.ServerAddr = host + ":" + port
	cfg.ServerReadTimeout = parseDuration(fc.Server.ReadTimeout, 10*time.Second)
	cfg.ServerWriteTimeout = parseDuration(fc.Server.WriteTimeout, 10*time.Second)
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)

	cfg.StorePath = fc.Store.Path
	if cfg.StorePath == "" {
		cfg.StorePath = "weather_app.db"
	}

	cfg.ForecastAPIURL = fc.ForecastAPI.URL
	if cfg.ForecastAPIURL == "" {
		cfg.ForecastAPIURL = "https://api.open-meteo.com/v1/forecast"
	}
	cfg.ForecastAPITimeout = parseDurationOrZero(fc.ForecastAPI.Timeout, 10*time.Second)
	cfg.ForecastDays = fc.ForecastAPI.ForecastDays
	if cfg.ForecastDays <= 0 {
		cfg.ForecastDays = 1
	}

	cfg.GeocodingAPIURL = fc.GeocodingAPI.URL
	if cfg.GeocodingAPIURL == "" {
		cfg.GeocodingAPIURL = "https://geocoding-api.open-meteo.com/v1/search"
	}
	cfg.GeocodingAPITimeout = parseDuration(fc.GeocodingAPI.Timeout, 10*time.Second)
	cfg.GeocodingCount = fc.GeocodingAPI.Count
	if cfg.GeocodingCount <= 0 {
		cfg.GeocodingCount = 10
	}
	cfg.GeocodingLanguage = strings.TrimSpace(fc.GeocodingAPI.Language)
	if cfg.GeocodingLanguage == "" {
		cfg.GeocodingLanguage = "es"
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 2
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 200*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}

	cfg.CircuitBreakerEnabled = true
	if fc.CircuitBreaker.Enabled != nil {
		cfg.CircuitBreakerEnabled = *fc.CircuitBreaker.Enabled
	}
	cfg.CircuitBreakerFailureThreshold = fc.CircuitBreaker.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = fc.CircuitBreaker.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 1
	}
	cfg.CircuitBreakerTimeout = parseDuration(fc.CircuitBreaker.Timeout, 30*time.Second)

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 5*time.Minute)
	cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.AutoRefreshInterval = parseDuration(fc.Refresh.AutoInterval, 30*time.Minute)
	cfg.PullThreshold = fc.Refresh.PullThreshold
	if cfg.PullThreshold <= 0 {
		cfg.PullThreshold = 100
	}
	cfg.PullDelay = parseDurationOrZero(fc.Refresh.PullDelay, time.Second)
	cfg.PullIndicatorMax = fc.Refresh.IndicatorMax
	if cfg.PullIndicatorMax <= 0 {
		cfg.PullIndicatorMax = 60
	}

	cfg.WidgetEnabled = true
	if fc.Widget.Enabled != nil {
		cfg.WidgetEnabled = *fc.Widget.Enabled
	}
	cfg.WidgetInterval = parseDuration(fc.Widget.Interval, 30*time.Second)
	cfg.SnapshotPath = fc.Snapshot.Path
	if cfg.SnapshotPath == "" {
		cfg.SnapshotPath = filepath.Join("weather_widget_data", "current_weather.json")
	}

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 5*time.Minute)
	cfg.DegradedMinSamples = fc.Health.DegradedMinSamples
	if cfg.DegradedMinSamples <= 0 {
		cfg.DegradedMinSamples = 4
	}
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 5*time.Second)
	return cfg
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("WEATHER_DB_PATH")); v != "" {
		cfg.StorePath = v
	}
	if v := strings.TrimSpace(os.Getenv("SNAPSHOT_PATH")); v != "" {
		cfg.SnapshotPath = v
	}
	if v := strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND"))); v != "" {
		cfg.CacheBackend = v
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	if v := strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")); v != "" {
		cfg.MemcachedAddrs = v
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	if v := strings.TrimSpace(os.Getenv("SERVER_PORT")); v != "" {
		host := cfg.ServerAddr[:strings.LastIndex(cfg.ServerAddr, ":")]
		cfg.ServerAddr = host + ":" + v
	}
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero and negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate checks loaded values. RequestTimeout is raised above ForecastAPITimeout when needed.
func validate(cfg *Config) error {
	if cfg.ForecastAPITimeout <= 0 {
		return fmt.Errorf("forecast_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.ForecastAPITimeout {
		cfg.RequestTimeout = cfg.ForecastAPITimeout + 5*time.Second
	}
	if cfg.PullDelay < 0 {
		return fmt.Errorf("refresh.pull_delay must not be negative")
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	return nil
}
