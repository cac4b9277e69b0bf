package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/kjstillabower/weather-know/internal/traffic"
)

// GetTestStatus handles GET /test. Returns the traffic counts health is computed from.
func (h *Handler) GetTestStatus(w http.ResponseWriter, r *http.Request) {
	window := h.window()
	counts := h.traffic.Counts(window)

	cfg := make(map[string]interface{})
	if h.healthConfig != nil {
		cfg["rate_limit_rps"] = h.healthConfig.RateLimitRPS
		cfg["rate_limit_burst"] = h.healthConfig.RateLimitBurst
		cfg["overload_threshold_pct"] = h.healthConfig.OverloadThresholdPct
		cfg["degraded_error_pct"] = h.healthConfig.DegradedErrorPct
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success_in_window": counts.Success,
		"errors_in_window":  counts.Errors,
		"denied_in_window":  counts.Denied,
		"window_length":     window.String(),
		"state":             h.computeHealthStatus(r.Context()).status,
		"config":            cfg,
	})
}

// PostTestAction handles POST /test/{action} for load, error, reset, shutdown.
func (h *Handler) PostTestAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	switch action {
	case "load":
		n := readCount(r, 10)
		h.traffic.RecordN(traffic.Success, n)
		h.writeTestResult(w, r, action, "Recorded "+strconv.Itoa(n)+" requests")
	case "error":
		n := readCount(r, 1)
		h.traffic.RecordN(traffic.Error, n)
		h.writeTestResult(w, r, action, "Recorded "+strconv.Itoa(n)+" errors")
	case "reset":
		h.traffic.Reset()
		h.SetShuttingDown(false)
		h.writeTestResult(w, r, action, "All simulated state cleared")
	case "shutdown":
		h.SetShuttingDown(true)
		h.writeTestResult(w, r, action, "Shutting-down flag set")
	default:
		writeError(w, r, http.StatusNotFound, "UNKNOWN_ACTION", "unknown test action: "+action)
	}
}

func (h *Handler) writeTestResult(w http.ResponseWriter, r *http.Request, action, msg string) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"action":  action,
		"message": msg,
		"state":   h.computeHealthStatus(r.Context()).status,
	})
}

func (h *Handler) window() time.Duration {
	if h.healthConfig != nil && h.healthConfig.Window > 0 {
		return h.healthConfig.Window
	}
	return 60 * time.Second
}

func readCount(r *http.Request, def int) int {
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Count <= 0 {
		return def
	}
	return body.Count
}
