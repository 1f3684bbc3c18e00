package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-display/internal/app"
	"github.com/kjstillabower/weather-display/internal/client"
	"github.com/kjstillabower/weather-display/internal/lifecycle"
	"github.com/kjstillabower/weather-display/internal/models"
	"github.com/kjstillabower/weather-display/internal/refresh"
	"github.com/kjstillabower/weather-display/internal/service"
	"github.com/kjstillabower/weather-display/internal/store"
	"github.com/kjstillabower/weather-display/internal/traffic"
	"github.com/kjstillabower/weather-display/internal/ui"
	"github.com/kjstillabower/weather-display/internal/validation"
)

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow     time.Duration
	DegradedMinSamples int
	DegradedErrorPct   int
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// SnapshotReader is satisfied by *snapshot.Shared.
type SnapshotReader interface {
	Read() models.Snapshot
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	app              *app.App
	service          *service.LocationService
	snapshot         SnapshotReader
	puller           *refresh.Puller
	ui               *ui.Dispatcher
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	a *app.App,
	svc *service.LocationService,
	snapshot SnapshotReader,
	puller *refresh.Puller,
	dispatcher *ui.Dispatcher,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		app:          a,
		service:      svc,
		snapshot:     snapshot,
		puller:       puller,
		ui:           dispatcher,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// locationRequest is the add/edit form. Coordinates arrive as text fields but plain JSON
// numbers are accepted too.
type locationRequest struct {
	Name      string     `json:"name"`
	Latitude  flexString `json:"latitude"`
	Longitude flexString `json:"longitude"`
}

func (l locationRequest) input() validation.LocationInput {
	return validation.LocationInput{Name: l.Name, Latitude: string(l.Latitude), Longitude: string(l.Longitude)}
}

// flexString decodes a JSON string or number into its text form.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// ListLocations handles GET /locations.
func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"locations": h.service.ListLocations(r.Context()),
	})
}

// AddLocation handles POST /locations.
func (h *Handler) AddLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "Request body must be a JSON location")
		return
	}
	loc, err := h.app.AddLocation(r.Context(), req.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	requestLogger(r, h.logger).Info("location added", zap.String("name", loc.Name))
	writeJSON(w, http.StatusCreated, loc)
}

// UpdateLocation handles PUT /locations/{name}.
func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	oldName := mux.Vars(r)["name"]
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "Request body must be a JSON location")
		return
	}
	loc, err := h.app.RenameLocation(r.Context(), oldName, req.input())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	requestLogger(r, h.logger).Info("location updated", zap.String("old_name", oldName), zap.String("name", loc.Name))
	writeJSON(w, http.StatusOK, loc)
}

// DeleteLocation handles DELETE /locations/{name}.
func (h *Handler) DeleteLocation(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.app.DeleteLocation(r.Context(), name); err != nil {
		writeServiceError(w, r, err)
		return
	}
	requestLogger(r, h.logger).Info("location deleted", zap.String("name", name))
	w.WriteHeader(http.StatusNoContent)
}

// GetSelection handles GET /selection.
func (h *Handler) GetSelection(w http.ResponseWriter, r *http.Request) {
	name, ok := h.service.LastSelected(r.Context())
	current, err := h.app.CurrentLocation(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"selected": name,
		"set":      ok,
		"current":  current,
	})
}

// PutSelection handles PUT /selection.
func (h *Handler) PutSelection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "name is required")
		return
	}
	name := strings.TrimSpace(req.Name)
	if err := h.app.Select(r.Context(), name); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"selected": name})
}

// GetView handles GET /view.
func (h *Handler) GetView(w http.ResponseWriter, r *http.Request) {
	v, err := h.app.Dashboard(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetForecast handles GET /forecast/{name}. An unavailable upstream still answers 200 with the
// placeholder bundle (success=false).
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	bundle, err := h.service.Forecast(r.Context(), name)
	if err != nil && !errors.Is(err, client.ErrUnavailable) {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

// Search handles GET /search?q=. Upstream failures answer with no results.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.SearchCities(r.Context(), r.URL.Query().Get("q"))
	switch {
	case err == nil:
	case errors.Is(err, service.ErrSearchDisabled):
		writeError(w, r, http.StatusNotFound, "SEARCH_DISABLED", "City search is not available")
		return
	case errors.Is(err, client.ErrUnavailable):
		requestLogger(r, h.logger).Warn("city search failed", zap.Error(err))
		results = []models.GeoResult{}
	default:
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// GetSnapshot handles GET /snapshot.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot.Read())
}

// PostRefresh handles POST /refresh. The refresh runs in the background; 202 reports whether
// this request started it.
func (h *Handler) PostRefresh(w http.ResponseWriter, r *http.Request) {
	triggered := h.puller.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]bool{"triggered": triggered})
}

// PostGesture handles POST /gesture/{phase} for start, move and end. The state machine runs
// on the UI thread.
func (h *Handler) PostGesture(w http.ResponseWriter, r *http.Request) {
	phase := mux.Vars(r)["phase"]
	var req struct {
		Y float64 `json:"y"`
	}
	if phase != "end" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "y is required")
			return
		}
	}

	var step func() refresh.Status
	switch phase {
	case "start":
		step = func() refresh.Status { return h.puller.Begin(req.Y) }
	case "move":
		step = func() refresh.Status { return h.puller.Move(req.Y) }
	case "end":
		step = h.puller.End
	default:
		writeError(w, r, http.StatusNotFound, "UNKNOWN_PHASE", "unknown gesture phase: "+phase)
		return
	}

	var st refresh.Status
	if err := h.ui.Do(r.Context(), func() { st = step() }); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	storeErr := h.service.Ping(r.Context())
	checks["store"] = checkLabel(storeErr)
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		checks["cache"] = checkLabel(h.healthConfig.CachePing())
	}

	result := h.computeHealthStatus(storeErr)
	if result.reason == "error_rate_breach" {
		checks["forecastApi"] = "unhealthy"
	} else {
		checks["forecastApi"] = "healthy"
	}

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "weather-display",
		"version":   "dev",
		"phase":     lifecycle.CurrentPhase().String(),
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates, in order: shutting-down > store unreachable > forecast error
// rate > healthy.
func (h *Handler) computeHealthStatus(storeErr error) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if storeErr != nil {
		return healthResult{"degraded", http.StatusServiceUnavailable, "store_unreachable"}
	}
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		if traffic.Degraded(h.healthConfig.DegradedWindow, h.healthConfig.DegradedMinSamples, h.healthConfig.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

func checkLabel(err error) string {
	if err != nil {
		return "unhealthy"
	}
	return "healthy"
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": correlationID(r),
		},
	})
}

// writeServiceError maps domain errors to statuses. message is what the UI shows in its
// transient notification.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *validation.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", ve.Reason)
	case errors.Is(err, store.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "ALREADY_EXISTS", "A city with that name already exists")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "City not found")
	case errors.Is(err, store.ErrStoreFault):
		writeError(w, r, http.StatusInternalServerError, "STORE_FAULT", "Could not save the change")
	case errors.Is(err, ui.ErrStopped):
		writeError(w, r, http.StatusServiceUnavailable, "SHUTTING_DOWN", "The app is shutting down")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, "TIMEOUT", "The request took too long")
	default:
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
	}
	requestLogger(r, nil).Debug("request failed", zap.Error(err))
}

func correlationID(r *http.Request) string {
	if v, ok := r.Context().Value("correlation_id").(string); ok {
		return v
	}
	return ""
}

// requestLogger returns the request-scoped logger set by CorrelationIDMiddleware, else fallback,
// else a no-op logger.
func requestLogger(r *http.Request, fallback *zap.Logger) *zap.Logger {
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		return logger
	}
	if fallback != nil {
		return fallback
	}
	return zap.NewNop()
}
