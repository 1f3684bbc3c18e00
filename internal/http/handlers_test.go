package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-display/internal/app"
	"github.com/kjstillabower/weather-display/internal/cache"
	"github.com/kjstillabower/weather-display/internal/client"
	"github.com/kjstillabower/weather-display/internal/lifecycle"
	"github.com/kjstillabower/weather-display/internal/models"
	"github.com/kjstillabower/weather-display/internal/refresh"
	"github.com/kjstillabower/weather-display/internal/service"
	"github.com/kjstillabower/weather-display/internal/snapshot"
	"github.com/kjstillabower/weather-display/internal/store"
	"github.com/kjstillabower/weather-display/internal/traffic"
	"github.com/kjstillabower/weather-display/internal/ui"
)

type mockForecastClient struct {
	mu    sync.Mutex
	err   error
	calls atomic.Int32
}

func (m *mockForecastClient) Fetch(ctx context.Context, lat, lon float64) (models.ForecastBundle, error) {
	m.calls.Add(1)
	m.mu.Lock()
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return models.ForecastBundle{}, err
	}
	return models.ForecastBundle{
		Current: models.CurrentWeather{Temperature2m: lat, RelativeHumidity2m: 40, WindSpeed10m: 8, IsDay: 1, WeatherCode: 2},
		Hourly:  models.HourlyForecast{Time: []string{"2024-05-01T15:00"}, Temperature2m: []float64{lat}, WeatherCode: []int{2}},
		Daily: models.DailyForecast{
			Temperature2mMax: []float64{lat + 5}, Temperature2mMin: []float64{lat - 5},
			Sunrise: []string{"2024-05-01T06:00"}, Sunset: []string{"2024-05-01T21:00"}, UVIndexMax: []float64{1},
		},
		Success: true,
	}, nil
}

func (m *mockForecastClient) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

type mockSearcher struct {
	results []models.GeoResult
	err     error
}

func (m *mockSearcher) Search(ctx context.Context, q string) ([]models.GeoResult, error) {
	return m.results, m.err
}

type testEnv struct {
	router   *mux.Router
	handler  *Handler
	store    *store.SQLiteStore
	forecast *mockForecastClient
	searcher *mockSearcher
	app      *app.App
	shared   *snapshot.Shared
	puller   *refresh.Puller
}

func newTestEnv(t *testing.T, logger *zap.Logger, healthConfig *HealthConfig) *testEnv {
	t.Helper()
	if logger == nil {
		logger = zap.NewNop()
	}
	traffic.Reset()
	lifecycle.SetShuttingDown(false)

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "weather_app.db"), logger)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	fc := &mockForecastClient{}
	searcher := &mockSearcher{}
	svc := service.NewLocationService(st, fc, searcher, cache.NewInMemoryCache(), time.Minute, logger)

	shared, err := snapshot.New(filepath.Join(dir, "widget", "current_weather.json"), logger, nil)
	if err != nil {
		t.Fatalf("snapshot.New() error = %v", err)
	}

	dispatcher := ui.NewDispatcher(16, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go dispatcher.Run(ctx)
	t.Cleanup(cancel)

	a := app.New(svc, shared, dispatcher, cache.NewWarmer(svc, logger), logger)
	if err := a.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	puller := refresh.NewPuller(refresh.PullConfig{Threshold: 100, IndicatorMax: 60}, a.Refresh, dispatcher, nil, logger)

	h := NewHandler(a, svc, shared, puller, dispatcher, healthConfig, logger)
	return &testEnv{
		router:   NewRouter(h, logger, nil, 5*time.Second),
		handler:  h,
		store:    st,
		forecast: fc,
		searcher: searcher,
		app:      a,
		shared:   shared,
		puller:   puller,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

func TestHandler_AddLocation_AcceptsStringsAndNumbers(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(t, "POST", "/locations", `{"name":"Sevilla, Andalucía","latitude":"37.38","longitude":"-5.98"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", w.Code, w.Body.String())
	}
	var loc models.Location
	decodeBody(t, w, &loc)
	if loc.Name != "Sevilla" || loc.Latitude != 37.38 {
		t.Errorf("location = %+v", loc)
	}

	w = env.do(t, "POST", "/locations", `{"name":"Cadiz","latitude":36.53,"longitude":-6.29}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("numeric coordinates status = %d; body %s", w.Code, w.Body.String())
	}

	w = env.do(t, "GET", "/locations", "")
	var list struct {
		Locations []models.Location `json:"locations"`
	}
	decodeBody(t, w, &list)
	if len(list.Locations) != 2 || list.Locations[0].Name != "Cadiz" || list.Locations[1].Name != "Sevilla" {
		t.Errorf("locations = %+v, want Cadiz, Sevilla", list.Locations)
	}
}

func TestHandler_AddLocation_FirstIsSelectedAndMirrored(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	env.do(t, "POST", "/locations", `{"name":"Bilbao","latitude":"43.26","longitude":"-2.93"}`)

	w := env.do(t, "GET", "/selection", "")
	var sel struct {
		Selected string `json:"selected"`
		Set      bool   `json:"set"`
		Current  string `json:"current"`
	}
	decodeBody(t, w, &sel)
	if sel.Selected != "Bilbao" || !sel.Set || sel.Current != "Bilbao" {
		t.Errorf("selection = %+v, want Bilbao", sel)
	}

	w = env.do(t, "GET", "/snapshot", "")
	var snap models.Snapshot
	decodeBody(t, w, &snap)
	if snap.City != "Bilbao" || snap.Temperature != 43 || snap.Description != "Partly cloudy" || snap.Icon != "🌤️" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestHandler_AddLocation_Errors(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.do(t, "POST", "/locations", `{"name":"Madrid","latitude":"40.4","longitude":"-3.7"}`)

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
		wantMsg  string
	}{
		{"duplicate", `{"name":"Madrid","latitude":"40","longitude":"-3"}`, http.StatusConflict, "ALREADY_EXISTS", ""},
		{"blank name", `{"name":"  ","latitude":"40","longitude":"-3"}`, http.StatusBadRequest, "INVALID_INPUT", "Please enter a city name"},
		{"missing coordinates", `{"name":"X","latitude":"","longitude":"-3"}`, http.StatusBadRequest, "INVALID_INPUT", "Please fill in the coordinates"},
		{"not numeric", `{"name":"X","latitude":"north","longitude":"-3"}`, http.StatusBadRequest, "INVALID_INPUT", "Coordinates must be valid numbers"},
		{"latitude range", `{"name":"X","latitude":"91","longitude":"0"}`, http.StatusBadRequest, "INVALID_INPUT", "Latitude must be between -90 and 90"},
		{"longitude range", `{"name":"X","latitude":"0","longitude":-181}`, http.StatusBadRequest, "INVALID_INPUT", "Longitude must be between -180 and 180"},
		{"malformed json", `{"name":`, http.StatusBadRequest, "INVALID_INPUT", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/locations", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body %s", w.Code, tt.wantCode, w.Body.String())
			}
			var body errorBody
			decodeBody(t, w, &body)
			if body.Error.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", body.Error.Code, tt.wantErr)
			}
			if tt.wantMsg != "" && body.Error.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", body.Error.Message, tt.wantMsg)
			}
			if body.Error.RequestID == "" {
				t.Error("requestId missing")
			}
		})
	}
}

func TestHandler_UpdateAndDeleteLocation(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.do(t, "POST", "/locations", `{"name":"Madrid","latitude":"40.4","longitude":"-3.7"}`)
	env.do(t, "POST", "/locations", `{"name":"Bilbao","latitude":"43.26","longitude":"-2.93"}`)

	w := env.do(t, "PUT", "/locations/"+url.PathEscape("Madrid"), `{"name":"Madrid Centro","latitude":"40.41","longitude":"-3.70"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT status = %d; body %s", w.Code, w.Body.String())
	}
	name, _, _ := env.store.LastSelected(context.Background())
	if name != "Madrid Centro" {
		t.Errorf("selection after rename = %q, want Madrid Centro", name)
	}

	w = env.do(t, "PUT", "/locations/Nowhere", `{"name":"Somewhere","latitude":"1","longitude":"1"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("PUT unknown status = %d, want 404", w.Code)
	}
	w = env.do(t, "PUT", "/locations/Bilbao", `{"name":"Madrid Centro","latitude":"1","longitude":"1"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("PUT onto existing status = %d, want 409", w.Code)
	}

	w = env.do(t, "DELETE", "/locations/"+url.PathEscape("Madrid Centro"), "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d; body %s", w.Code, w.Body.String())
	}
	current, _ := env.app.CurrentLocation(context.Background())
	if current != "Bilbao" {
		t.Errorf("current after delete = %q, want Bilbao", current)
	}

	w = env.do(t, "DELETE", "/locations/Madrid", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("DELETE unknown status = %d, want 404", w.Code)
	}
}

func TestHandler_PutSelection(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.do(t, "POST", "/locations", `{"name":"Madrid","latitude":"40.4","longitude":"-3.7"}`)
	env.do(t, "POST", "/locations", `{"name":"Bilbao","latitude":"43.26","longitude":"-2.93"}`)

	w := env.do(t, "PUT", "/selection", `{"name":"Bilbao"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", w.Code, w.Body.String())
	}
	if cur, _ := env.app.CurrentLocation(context.Background()); cur != "Bilbao" {
		t.Errorf("current = %q, want Bilbao", cur)
	}

	w = env.do(t, "PUT", "/selection", `{"name":""}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("blank name status = %d, want 400", w.Code)
	}
}

func TestHandler_GetView(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(t, "GET", "/view", "")
	var empty app.View
	decodeBody(t, w, &empty)
	if !empty.Empty {
		t.Errorf("view with no locations = %+v, want empty state", empty)
	}

	env.do(t, "POST", "/locations", `{"name":"Madrid","latitude":"40.4","longitude":"-3.7"}`)
	w = env.do(t, "GET", "/view", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var v app.View
	decodeBody(t, w, &v)
	if v.Empty || v.Location != "Madrid" || !v.Available {
		t.Fatalf("view = %+v", v)
	}
	if v.Current.Temperature != 40 || v.Current.Sunrise != "06:00" {
		t.Errorf("current = %+v", v.Current)
	}
	if len(v.Hourly) != 1 || v.Hourly[0].Label != "3 PM" {
		t.Errorf("hourly = %+v", v.Hourly)
	}
	if len(v.Panels) != 1 || !v.Panels[0].Selected {
		t.Errorf("panels = %+v", v.Panels)
	}
}

func TestHandler_GetForecast(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.do(t, "POST", "/locations", `{"name":"Madrid","latitude":"40.4","longitude":"-3.7"}`)

	w := env.do(t, "GET", "/forecast/Madrid", "")
	var b models.ForecastBundle
	decodeBody(t, w, &b)
	if w.Code != http.StatusOK || !b.Success || b.Current.Temperature2m != 40.4 {
		t.Errorf("forecast = %d %+v", w.Code, b.Current)
	}

	w = env.do(t, "GET", "/forecast/Atlantis", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown location status = %d, want 404", w.Code)
	}
}

func TestHandler_GetForecast_UnavailableReturnsPlaceholder(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.forecast.setErr(client.ErrUpstreamFailure)
	env.do(t, "POST", "/locations", `{"name":"Quito","latitude":"-0.18","longitude":"-78.47"}`)

	w := env.do(t, "GET", "/forecast/Quito", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var b models.ForecastBundle
	decodeBody(t, w, &b)
	if b.Success {
		t.Error("success = true, want placeholder")
	}
	if len(b.Daily.Sunrise) != 1 || b.Daily.Sunrise[0] != "--:--" {
		t.Errorf("placeholder sunrise = %v", b.Daily.Sunrise)
	}
}

func TestHandler_Search(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.searcher.results = []models.GeoResult{{Name: "Valencia", Country: "Spain", Latitude: 39.47, Longitude: -0.38}}

	w := env.do(t, "GET", "/search?q=valen", "")
	var body struct {
		Results []models.GeoResult `json:"results"`
	}
	decodeBody(t, w, &body)
	if len(body.Results) != 1 || body.Results[0].Name != "Valencia" {
		t.Errorf("results = %+v", body.Results)
	}

	env.searcher.err = client.ErrRateLimited
	w = env.do(t, "GET", "/search?q=valen", "")
	body.Results = nil
	decodeBody(t, w, &body)
	if w.Code != http.StatusOK || body.Results == nil || len(body.Results) != 0 {
		t.Errorf("failed search = %d %+v, want 200 with empty results", w.Code, body.Results)
	}

	w = env.do(t, "GET", "/search?q="+strings.Repeat("a", 101), "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("long query status = %d, want 400", w.Code)
	}
}

func TestHandler_GestureTriggersRefresh(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.do(t, "POST", "/locations", `{"name":"Madrid","latitude":"40.4","longitude":"-3.7"}`)

	var st refresh.Status
	w := env.do(t, "POST", "/gesture/start", `{"y":0}`)
	decodeBody(t, w, &st)
	if st.State != "dragging" {
		t.Errorf("start state = %q", st.State)
	}

	w = env.do(t, "POST", "/gesture/move", `{"y":60}`)
	decodeBody(t, w, &st)
	if st.Indicator != 30 {
		t.Errorf("move indicator = %v, want 30", st.Indicator)
	}

	env.do(t, "POST", "/gesture/move", `{"y":120}`)
	w = env.do(t, "POST", "/gesture/end", "")
	decodeBody(t, w, &st)
	if !st.Triggered || st.State != "refreshing" || st.Indicator != 60 {
		t.Errorf("end status = %+v", st)
	}

	env.puller.Wait()
	if _, err := env.app.CurrentLocation(context.Background()); err != nil {
		t.Fatalf("flush dispatcher: %v", err)
	}
	if env.puller.Refreshing() {
		t.Error("still refreshing after completion")
	}

	w = env.do(t, "POST", "/gesture/twist", `{"y":0}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown phase status = %d, want 404", w.Code)
	}
}

func TestHandler_PostRefresh(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	w := env.do(t, "POST", "/refresh", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	var body map[string]bool
	decodeBody(t, w, &body)
	if !body["triggered"] {
		t.Error("triggered = false from idle")
	}
	env.puller.Wait()
}

func TestHandler_GetHealth(t *testing.T) {
	env := newTestEnv(t, nil, &HealthConfig{DegradedWindow: time.Minute, DegradedMinSamples: 3, DegradedErrorPct: 50})

	w := env.do(t, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decodeBody(t, w, &body)
	if body.Status != "healthy" || body.Checks["store"] != "healthy" {
		t.Errorf("health = %+v", body)
	}
	if _, ok := body.Checks["cache"]; ok {
		t.Error("cache check present without CachePing")
	}
}

func TestHandler_GetHealth_ShuttingDown(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	lifecycle.SetShuttingDown(true)
	defer lifecycle.SetShuttingDown(false)

	w := env.do(t, "GET", "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	var body map[string]interface{}
	decodeBody(t, w, &body)
	if body["status"] != "shutting-down" {
		t.Errorf("status = %v, want shutting-down", body["status"])
	}
}

func TestHandler_GetHealth_CachePingFailure(t *testing.T) {
	env := newTestEnv(t, nil, &HealthConfig{CachePing: func() error { return context.DeadlineExceeded }})
	w := env.do(t, "GET", "/health", "")
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decodeBody(t, w, &body)
	if body.Checks["cache"] != "unhealthy" {
		t.Errorf("cache check = %q, want unhealthy", body.Checks["cache"])
	}
	if body.Status != "healthy" {
		t.Errorf("status = %q; cache outage alone should not degrade", body.Status)
	}
}

func TestHandler_GetHealth_StoreClosed(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	_ = env.store.Close()
	w := env.do(t, "GET", "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestHandler_GetHealth_LogsTransition(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	env := newTestEnv(t, zap.New(core), &HealthConfig{DegradedWindow: time.Minute, DegradedMinSamples: 3, DegradedErrorPct: 50})

	traffic.RecordSuccess()
	traffic.RecordSuccess()
	if w := env.do(t, "GET", "/health", ""); w.Code != http.StatusOK {
		t.Fatalf("first GetHealth status = %d, want 200", w.Code)
	}

	traffic.RecordError()
	traffic.RecordError()
	if w := env.do(t, "GET", "/health", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("second GetHealth status = %d, want 503", w.Code)
	}

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("want 1 transition log, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["previous_status"] != "healthy" || ctx["current_status"] != "degraded" || ctx["reason"] != "error_rate_breach" {
		t.Errorf("transition fields = %v", ctx)
	}

	env.do(t, "GET", "/health", "")
	if n := logs.FilterMessage("health status transition").Len(); n != 1 {
		t.Errorf("unchanged status logged again; transitions = %d", n)
	}
}
