package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-display/internal/observability"
)

func TestMiddleware_ThroughRouter(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(t, http.MethodGet, "/locations", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("X-Correlation-ID") == "" {
		t.Error("X-Correlation-ID header missing")
	}
}

func TestMiddleware_CorrelationIDPropagated(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	req := httptest.NewRequest(http.MethodDelete, "/locations/nowhere", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("X-Correlation-ID = %q, want corr-123", got)
	}
	var errResp struct {
		Error struct {
			Code      string `json:"code"`
			RequestID string `json:"requestId"`
		} `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errResp.Error.RequestID != "corr-123" {
		t.Errorf("error.requestId = %q, want corr-123", errResp.Error.RequestID)
	}
}

func TestMiddleware_RecordsNonOKStatus(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	w := env.do(t, http.MethodPost, "/locations", `{"name":"","latitude":"1","longitude":"2"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var deadlineSet bool
	router := mux.NewRouter()
	router.Use(TimeoutMiddleware(50 * time.Millisecond))
	router.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		_, deadlineSet = r.Context().Deadline()
		select {
		case <-r.Context().Done():
			w.WriteHeader(http.StatusGatewayTimeout)
		case <-time.After(time.Second):
			w.WriteHeader(http.StatusOK)
		}
	})

	req := httptest.NewRequest(http.MethodGet, "/slow", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if !deadlineSet {
		t.Error("request context has no deadline")
	}
	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want %d", w.Code, http.StatusGatewayTimeout)
	}
}

func TestRateLimitMiddleware_Returns429WhenExceeded(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.router = NewRouter(env.handler, zap.NewNop(), rate.NewLimiter(1, 2), time.Second)

	for i := 0; i < 3; i++ {
		w := env.do(t, http.MethodGet, "/locations", "")
		if i < 2 {
			if w.Code != http.StatusOK {
				t.Errorf("request %d: status = %d, want 200", i, w.Code)
			}
			continue
		}
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("request %d: status = %d, want 429", i, w.Code)
		}
		var errResp struct {
			Error struct {
				Code      string `json:"code"`
				Message   string `json:"message"`
				RequestID string `json:"requestId"`
			} `json:"error"`
		}
		if err := json.NewDecoder(w.Body).Decode(&errResp); err != nil {
			t.Fatalf("decode 429 response: %v", err)
		}
		if errResp.Error.Code != "RATE_LIMITED" {
			t.Errorf("error.code = %q, want RATE_LIMITED", errResp.Error.Code)
		}
		if errResp.Error.RequestID == "" {
			t.Error("error.requestId missing")
		}
	}
}

func TestRateLimitMiddleware_HealthAndGesturesBypassLimiter(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.router = NewRouter(env.handler, zap.NewNop(), rate.NewLimiter(rate.Limit(0.001), 1), time.Second)

	for i := 0; i < 3; i++ {
		if w := env.do(t, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
			t.Errorf("health request %d: status = %d, want 200", i, w.Code)
		}
		if w := env.do(t, http.MethodGet, "/snapshot", ""); w.Code == http.StatusTooManyRequests {
			t.Errorf("snapshot request %d was rate limited", i)
		}
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	router := mux.NewRouter()
	router.Use(RateLimitMiddleware(nil))
	router.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ok", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200 (nil limiter should allow)", w.Code)
		}
	}
}

func TestGetRoute_UsesPathTemplate(t *testing.T) {
	var route string
	router := mux.NewRouter()
	router.HandleFunc("/forecast/{name}", func(w http.ResponseWriter, r *http.Request) {
		route = getRoute(r)
	})

	req := httptest.NewRequest(http.MethodGet, "/forecast/Bilbao", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)

	if route != "/forecast/{name}" {
		t.Errorf("getRoute() = %q, want /forecast/{name}", route)
	}
}

func TestGetRoute_Unmatched(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	if got := getRoute(req); got != "unmatched" {
		t.Errorf("getRoute() = %q, want unmatched", got)
	}
}

func TestMiddleware_MetricsRoute(t *testing.T) {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.Use(MetricsMiddleware)
	router.Handle("/metrics", observability.MetricsHandler())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestStatusCodeString(t *testing.T) {
	tests := map[int]string{200: "2xx", 201: "2xx", 404: "4xx", 503: "5xx"}
	for code, want := range tests {
		if got := statusCodeString(code); got != want {
			t.Errorf("statusCodeString(%d) = %q, want %q", code, got, want)
		}
	}
}
