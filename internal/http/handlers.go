package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-know/internal/circuitbreaker"
	"github.com/kjstillabower/weather-know/internal/client"
	"github.com/kjstillabower/weather-know/internal/fetch"
	"github.com/kjstillabower/weather-know/internal/models"
	"github.com/kjstillabower/weather-know/internal/observability"
	"github.com/kjstillabower/weather-know/internal/traffic"
	"github.com/kjstillabower/weather-know/internal/validation"
)

const (
	cityMinLength = 1
	cityMaxLength = 100
)

// Fetcher performs a lookup. Implemented by *fetch.Coordinator.
type Fetcher interface {
	Fetch(ctx context.Context, kind models.Kind, city string) (fetch.Result, error)
}

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	// Window is the sliding window used for error rate and overload.
	Window               time.Duration
	DegradedErrorPct     int
	OverloadThresholdPct int
	RateLimitRPS         int
	RateLimitBurst       int // 0 when rate limiter disabled
	// CachePing, when set, is called to check store reachability.
	CachePing func(ctx context.Context) error
	// Breaker, when set, reports degraded while open.
	Breaker *circuitbreaker.CircuitBreaker
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	fetcher          Fetcher
	client           client.WeatherClient
	healthConfig     *HealthConfig
	traffic          *traffic.Tracker
	logger           *zap.Logger
	version          string
	shuttingDown     atomic.Bool
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. healthConfig may be nil.
func NewHandler(
	fetcher Fetcher,
	client client.WeatherClient,
	healthConfig *HealthConfig,
	tracker *traffic.Tracker,
	logger *zap.Logger,
	version string,
) *Handler {
	if tracker == nil {
		tracker = traffic.NewTracker(0)
	}
	if version == "" {
		version = "dev"
	}
	return &Handler{
		fetcher:      fetcher,
		client:       client,
		healthConfig: healthConfig,
		traffic:      tracker,
		logger:       logger,
		version:      version,
	}
}

// SetShuttingDown flips the health endpoint to shutting-down.
func (h *Handler) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

// lookupResponse is the body of a successful lookup.
type lookupResponse struct {
	Kind      models.Kind     `json:"kind"`
	City      string          `json:"city"`
	Cached    bool            `json:"cached"`
	FetchedAt time.Time       `json:"fetchedAt"`
	Data      json.RawMessage `json:"data"`
}

// GetWeather handles GET /weather/{city}.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	h.lookup(w, r, models.KindWeather)
}

// GetForecast handles GET /forecast/{city}. The body holds one entry per UTC day.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	h.lookup(w, r, models.KindForecast)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request, kind models.Kind) {
	city, err := validation.ValidateCity(mux.Vars(r)["city"], cityMinLength, cityMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", errorMessage(err))
		return
	}

	res, err := h.fetcher.Fetch(r.Context(), kind, city)
	if err != nil {
		status := h.writeFetchError(w, r, err)
		if status >= http.StatusInternalServerError {
			h.traffic.Record(traffic.Error)
		} else {
			h.traffic.Record(traffic.Success)
		}
		return
	}
	h.traffic.Record(traffic.Success)
	writeJSON(w, http.StatusOK, lookupResponse{
		Kind:      res.Kind,
		City:      res.City,
		Cached:    res.Cached,
		FetchedAt: res.FetchedAt.UTC(),
		Data:      res.Data,
	})
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, validation.ErrCityEmpty):
		return "city is required"
	case errors.Is(err, validation.ErrCityTooLong):
		return "city is too long"
	case errors.Is(err, validation.ErrCityTooShort):
		return "city is too short"
	default:
		return client.ErrorKindInvalidInput.Message()
	}
}

// statusFor maps a classified failure to an HTTP status and error code.
func statusFor(kind client.ErrorKind) (int, string) {
	switch kind {
	case client.ErrorKindInvalidInput:
		return http.StatusBadRequest, "INVALID_CITY"
	case client.ErrorKindNotFound:
		return http.StatusNotFound, "CITY_NOT_FOUND"
	case client.ErrorKindRateLimited:
		return http.StatusServiceUnavailable, "UPSTREAM_RATE_LIMITED"
	case client.ErrorKindInvalidAPIKey:
		return http.StatusServiceUnavailable, "UPSTREAM_AUTH_FAILED"
	case client.ErrorKindTimeout:
		return http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT"
	case client.ErrorKindCanceled:
		return http.StatusServiceUnavailable, "REQUEST_CANCELLED"
	case client.ErrorKindNetwork, client.ErrorKindServer:
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"
	case client.ErrorKindParse:
		return http.StatusBadGateway, "UPSTREAM_BAD_RESPONSE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// writeFetchError writes the error envelope for a failed lookup and returns the status used.
func (h *Handler) writeFetchError(w http.ResponseWriter, r *http.Request, err error) int {
	kind := client.ErrorKindUnknown
	msg := kind.Message()
	var fe *fetch.Error
	if errors.As(err, &fe) {
		kind = fe.Kind
		msg = fe.Message()
	}
	status, code := statusFor(kind)
	writeError(w, r, status, code, msg)
	observability.LoggerFrom(r.Context(), h.logger).Debug("lookup error",
		zap.String("error_kind", string(kind)),
		zap.Int("status", status),
		zap.Error(err))
	return status
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

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

	checks := make(map[string]string)
	if result.reason == "api_key_invalid" || result.reason == "circuit_open" || result.reason == "error_rate_breach" {
		checks["weatherApi"] = "unhealthy"
	} else {
		checks["weatherApi"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing(r.Context()) == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "weather-know",
		"version":   h.version,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > API key invalid > circuit open > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if h.shuttingDown.Load() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if err := h.client.ValidateAPIKey(ctx); err != nil {
		return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_invalid"}
	}
	cfg := h.healthConfig
	if cfg == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if cfg.Breaker != nil && cfg.Breaker.State() == circuitbreaker.StateOpen {
		return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open"}
	}
	if cfg.Window <= 0 {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	counts := h.traffic.Counts(cfg.Window)
	if cfg.RateLimitRPS > 0 && cfg.OverloadThresholdPct > 0 {
		threshold := float64(cfg.RateLimitRPS) * cfg.Window.Seconds() * float64(cfg.OverloadThresholdPct) / 100
		if float64(counts.Total()) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if cfg.DegradedErrorPct > 0 && counts.Success+counts.Errors > 0 {
		if counts.ErrorPct() >= float64(cfg.DegradedErrorPct) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
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
			"code":      strings.ToUpper(code),
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}
