package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-display/internal/app"
	"github.com/kjstillabower/weather-display/internal/cache"
	"github.com/kjstillabower/weather-display/internal/circuitbreaker"
	"github.com/kjstillabower/weather-display/internal/client"
	"github.com/kjstillabower/weather-display/internal/config"
	httphandler "github.com/kjstillabower/weather-display/internal/http"
	"github.com/kjstillabower/weather-display/internal/lifecycle"
	"github.com/kjstillabower/weather-display/internal/observability"
	"github.com/kjstillabower/weather-display/internal/refresh"
	"github.com/kjstillabower/weather-display/internal/service"
	"github.com/kjstillabower/weather-display/internal/snapshot"
	"github.com/kjstillabower/weather-display/internal/store"
	"github.com/kjstillabower/weather-display/internal/ui"
	"github.com/kjstillabower/weather-display/internal/widget"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	lifecycle.SetPhase(lifecycle.PhaseStarting)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	st, err := store.Open(cfg.StorePath, logger)
	if err != nil {
		logger.Fatal("store", zap.Error(err), zap.String("path", cfg.StorePath))
	}

	forecastClient := client.NewOpenMeteoClientWithRetry(
		cfg.ForecastAPIURL,
		cfg.ForecastAPITimeout,
		cfg.ForecastDays,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	geocoder := client.NewGeocodingClient(cfg.GeocodingAPIURL, cfg.GeocodingAPITimeout, cfg.GeocodingCount, cfg.GeocodingLanguage)

	if cfg.CircuitBreakerEnabled {
		forecastClient.SetCircuitBreaker(newBreaker(cfg, "forecast_api"))
		geocoder.SetCircuitBreaker(newBreaker(cfg, "geocoding_api"))
		logger.Info("circuit breakers enabled", zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold), zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	var cacheSvc cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err := mc.Ping(); err != nil {
			logger.Warn("memcached not reachable at startup; forecasts will be fetched directly", zap.Error(err))
		}
		memcacheCloser = mc
		cacheSvc = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		cacheSvc = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	locationService := service.NewLocationService(st, forecastClient, geocoder, cacheSvc, cfg.CacheTTL, logger)

	shared, err := snapshot.New(cfg.SnapshotPath, logger, nil)
	if err != nil {
		logger.Fatal("snapshot", zap.Error(err), zap.String("path", cfg.SnapshotPath))
	}

	dispatcher := ui.NewDispatcher(0, logger)
	uiCtx, uiCancel := context.WithCancel(context.Background())
	defer uiCancel()
	go dispatcher.Run(uiCtx)

	application := app.New(locationService, shared, dispatcher, cache.NewWarmer(locationService, logger), logger)
	initCtx, initCancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	if err := application.Init(initCtx); err != nil {
		logger.Error("initial load failed", zap.Error(err))
	}
	initCancel()

	puller := refresh.NewPuller(refresh.PullConfig{
		Threshold:    cfg.PullThreshold,
		IndicatorMax: cfg.PullIndicatorMax,
		Delay:        cfg.PullDelay,
	}, application.Refresh, dispatcher, nil, logger)

	autoRefresher := refresh.NewAutoRefresher(cfg.AutoRefreshInterval, application.Refresh, logger)
	autoRefresher.Start(context.Background())

	mirror := widget.New(shared, cfg.WidgetInterval, logger)
	if cfg.WidgetEnabled {
		if err := mirror.Start(); err != nil {
			logger.Error("widget mirror", zap.Error(err))
		}
	}

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:     cfg.DegradedWindow,
		DegradedMinSamples: cfg.DegradedMinSamples,
		DegradedErrorPct:   cfg.DegradedErrorPct,
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(application, locationService, shared, puller, dispatcher, healthConfig, logger)
	router := httphandler.NewRouter(handler, logger, limiter, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", cfg.ServerAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()
	lifecycle.SetPhase(lifecycle.PhaseRunning)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	if err := httphandler.WaitForInFlight(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := autoRefresher.Stop(cfg.ShutdownTimeout); errors.Is(err, lifecycle.ErrStopTimeout) {
		logger.Warn("auto refresh did not stop in time", zap.Duration("timeout", cfg.ShutdownTimeout))
	}
	if err := mirror.Stop(cfg.ShutdownTimeout); errors.Is(err, lifecycle.ErrStopTimeout) {
		logger.Warn("widget mirror did not stop in time", zap.Duration("timeout", cfg.ShutdownTimeout))
	}
	if err := puller.Stop(cfg.ShutdownTimeout); errors.Is(err, lifecycle.ErrStopTimeout) {
		logger.Warn("pull refresh did not finish in time", zap.Duration("timeout", cfg.ShutdownTimeout))
	}
	dispatcher.Stop()

	if err := st.Close(); err != nil {
		logger.Error("store close", zap.Error(err))
	}
	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newBreaker(cfg *config.Config, component string) *circuitbreaker.CircuitBreaker {
	observability.CircuitBreakerState.WithLabelValues(component).Set(float64(circuitbreaker.StateClosed))
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
		Component:        component,
		OnStateChange: func(component string, from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(component, from.String(), to.String(), int(to))
		},
	})
}
