package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/weather-display/internal/circuitbreaker"
	"github.com/kjstillabower/weather-display/internal/models"
	"github.com/kjstillabower/weather-display/internal/observability"
)

// ForecastClient fetches the forecast bundle for a coordinate pair.
type ForecastClient interface {
	Fetch(ctx context.Context, lat, lon float64) (models.ForecastBundle, error)
}

// ErrUnavailable covers every way a fetch can fail. Callers that only need to know whether
// to fall back to the placeholder check errors.Is(err, ErrUnavailable).
var ErrUnavailable = errors.New("forecast unavailable")

var (
	ErrRateLimited      = fmt.Errorf("%w: rate limited", ErrUnavailable)
	ErrUpstreamFailure  = fmt.Errorf("%w: upstream failure", ErrUnavailable)
	ErrUpstreamRejected = fmt.Errorf("%w: upstream rejected request", ErrUnavailable)
	ErrCircuitOpen      = fmt.Errorf("%w: circuit open", ErrUnavailable)
	ErrInvalidResponse  = fmt.Errorf("%w: invalid response", ErrUnavailable)
)

const (
	currentFields = "temperature_2m,relative_humidity_2m,apparent_temperature,precipitation,rain,pressure_msl,surface_pressure,wind_speed_10m,wind_direction_10m,is_day,weather_code"
	hourlyFields  = "temperature_2m,relative_humidity_2m,precipitation_probability,weather_code"
	dailyFields   = "weather_code,temperature_2m_max,temperature_2m_min,sunrise,sunset,uv_index_max,precipitation_sum"
)

// OpenMeteoClient is the Open-Meteo forecast gateway.
type OpenMeteoClient struct {
	apiURL       string
	forecastDays int
	up           *upstream
}

// NewOpenMeteoClient returns a client with two attempts per fetch.
func NewOpenMeteoClient(apiURL string, timeout time.Duration, forecastDays int) *OpenMeteoClient {
	return NewOpenMeteoClientWithRetry(apiURL, timeout, forecastDays, 2, 200*time.Millisecond, 2*time.Second)
}

func NewOpenMeteoClientWithRetry(apiURL string, timeout time.Duration, forecastDays, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) *OpenMeteoClient {
	if forecastDays <= 0 {
		forecastDays = 1
	}
	return &OpenMeteoClient{
		apiURL:       apiURL,
		forecastDays: forecastDays,
		up:           newUpstream("forecast", timeout, retryAttempts, retryBaseDelay, retryMaxDelay),
	}
}

// SetCircuitBreaker routes every attempt through cb. Nil disables the breaker.
func (c *OpenMeteoClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.up.breaker = cb
}

type forecastResponse struct {
	Current models.CurrentWeather `json:"current"`
	Hourly  models.HourlyForecast `json:"hourly"`
	Daily   models.DailyForecast  `json:"daily"`
}

// Fetch returns the bundle with Success=true, or an error wrapping ErrUnavailable.
// Groups missing from the response decode as zero values.
func (c *OpenMeteoClient) Fetch(ctx context.Context, lat, lon float64) (models.ForecastBundle, error) {
	u, err := c.buildURL(lat, lon)
	if err != nil {
		return models.ForecastBundle{}, err
	}

	var resp forecastResponse
	if err := c.up.getJSON(ctx, u, &resp); err != nil {
		return models.ForecastBundle{}, err
	}
	return models.ForecastBundle{
		Current: resp.Current,
		Hourly:  resp.Hourly,
		Daily:   resp.Daily,
		Success: true,
	}, nil
}

func (c *OpenMeteoClient) buildURL(lat, lon float64) (string, error) {
	base, err := url.Parse(c.apiURL)
	if err != nil {
		return "", fmt.Errorf("%w: invalid API URL: %v", ErrUnavailable, err)
	}
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("current", currentFields)
	params.Set("hourly", hourlyFields)
	params.Set("daily", dailyFields)
	params.Set("timezone", "auto")
	params.Set("forecast_days", strconv.Itoa(c.forecastDays))
	base.RawQuery = params.Encode()
	return base.String(), nil
}

// upstream performs GET+JSON calls with retry, backoff and an optional breaker.
// The per-attempt deadline comes from the request context, not the http.Client.
type upstream struct {
	endpoint       string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
}

func newUpstream(endpoint string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) *upstream {
	if retryAttempts < 1 {
		retryAttempts = 1
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &upstream{
		endpoint:       endpoint,
		timeout:        timeout,
		client:         &http.Client{},
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
	}
}

func (u *upstream) getJSON(ctx context.Context, rawURL string, out any) error {
	var lastErr error

	for attempt := 0; attempt < u.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.ForecastAPIRetriesTotal.WithLabelValues(u.endpoint).Inc()
			select {
			case <-ctx.Done():
				return u.fail(fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err()))
			case <-time.After(u.calculateBackoff(attempt)):
			}
		}

		err := u.attempt(ctx, rawURL, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(ctx, err) {
			return u.fail(err)
		}
	}

	return u.fail(fmt.Errorf("exhausted retries: %w", lastErr))
}

func (u *upstream) attempt(ctx context.Context, rawURL string, out any) error {
	if u.breaker == nil {
		return u.call(ctx, rawURL, out)
	}
	err := u.breaker.Call(ctx, func() error { return u.call(ctx, rawURL, out) })
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return fmt.Errorf("%w: %s", ErrCircuitOpen, u.endpoint)
	}
	return err
}

func (u *upstream) fail(err error) error {
	observability.ForecastAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
	return err
}

func (u *upstream) call(ctx context.Context, rawURL string, out any) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		observability.ForecastAPICallsTotal.WithLabelValues(u.endpoint, "error").Inc()
		observability.ForecastAPIDuration.WithLabelValues(u.endpoint, "error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("%w: http request failed: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.ForecastAPICallsTotal.WithLabelValues(u.endpoint, status).Inc()
	observability.ForecastAPIDuration.WithLabelValues(u.endpoint, status).Observe(time.Since(start).Seconds())

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response body: %w", ErrUnavailable, err)
	}
	if err := handleErrorResponse(resp.StatusCode, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: parse response: %v", ErrInvalidResponse, err)
	}
	return nil
}

// handleErrorResponse maps non-2xx statuses. Open-Meteo explains 4xx in {"error":true,"reason":"..."}.
func handleErrorResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", ErrRateLimited, statusCode)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, statusCode)
	}
	var apiErr struct {
		Reason string `json:"reason"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Reason != "" {
		return fmt.Errorf("%w: HTTP %d: %s", ErrUpstreamRejected, statusCode, apiErr.Reason)
	}
	return fmt.Errorf("%w: HTTP %d", ErrUpstreamRejected, statusCode)
}

// isRetryable reports whether another attempt may succeed. A cancelled caller context never retries.
func isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

func (u *upstream) calculateBackoff(attempt int) time.Duration {
	delay := float64(u.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(u.retryMaxDelay) {
		delay = float64(u.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
