package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-display/internal/observability"
)

// NewRouter wires the local API. Health, metrics and gestures bypass the rate limiter and
// request timeout; gestures arrive many times a second during a drag.
func NewRouter(h *Handler, logger *zap.Logger, limiter *rate.Limiter, requestTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)
	router.HandleFunc("/snapshot", h.GetSnapshot).Methods(http.MethodGet)
	router.HandleFunc("/gesture/{phase}", h.PostGesture).Methods(http.MethodPost)

	api := router.NewRoute().Subrouter()
	api.Use(RateLimitMiddleware(limiter))
	if requestTimeout > 0 {
		api.Use(TimeoutMiddleware(requestTimeout))
	}
	api.HandleFunc("/locations", h.ListLocations).Methods(http.MethodGet)
	api.HandleFunc("/locations", h.AddLocation).Methods(http.MethodPost)
	api.HandleFunc("/locations/{name}", h.UpdateLocation).Methods(http.MethodPut)
	api.HandleFunc("/locations/{name}", h.DeleteLocation).Methods(http.MethodDelete)
	api.HandleFunc("/selection", h.GetSelection).Methods(http.MethodGet)
	api.HandleFunc("/selection", h.PutSelection).Methods(http.MethodPut)
	api.HandleFunc("/view", h.GetView).Methods(http.MethodGet)
	api.HandleFunc("/forecast/{name}", h.GetForecast).Methods(http.MethodGet)
	api.HandleFunc("/search", h.Search).Methods(http.MethodGet)
	api.HandleFunc("/refresh", h.PostRefresh).Methods(http.MethodPost)

	return router
}
