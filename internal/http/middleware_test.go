package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-know/internal/observability"
	"github.com/kjstillabower/weather-know/internal/traffic"
)

func TestCorrelationIDMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"generated", ""},
		{"propagated", "client-provided-id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			var hasLogger bool
			router := mux.NewRouter()
			router.Use(CorrelationIDMiddleware(zap.NewNop()))
			router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
				seen = observability.CorrelationID(r.Context())
				hasLogger = observability.LoggerFrom(r.Context(), nil) != nil
			})

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.header != "" {
				req.Header.Set("X-Correlation-ID", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			got := w.Header().Get("X-Correlation-ID")
			if got == "" {
				t.Fatal("X-Correlation-ID header missing")
			}
			if tt.header != "" && got != tt.header {
				t.Errorf("X-Correlation-ID = %q, want %q", got, tt.header)
			}
			if seen != got {
				t.Errorf("context correlation id = %q, want %q", seen, got)
			}
			if !hasLogger {
				t.Error("request context has no logger")
			}
		})
	}
}

// TestMetricsMiddleware_UsesRouteTemplate verifies city names never become label values.
func TestMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(MetricsMiddleware)
	router.HandleFunc("/forecast/{city}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	counter := observability.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/forecast/{city}", "4xx")
	before := testutil.ToFloat64(counter)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/forecast/Reykjavik", nil))
	if delta := testutil.ToFloat64(counter) - before; delta != 1 {
		t.Errorf("counter delta = %v, want 1", delta)
	}
}

func TestGetRoute_Fallback(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/weather/Paris", "/weather/{city}"},
		{"/forecast/Paris", "/forecast/{city}"},
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/nope", "other"},
	}
	for _, tt := range tests {
		if got := getRoute(httptest.NewRequest(http.MethodGet, tt.path, nil)); got != tt.want {
			t.Errorf("getRoute(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

// TestTimeoutMiddleware_DeadlineMapsToGatewayTimeout verifies a lookup that
// outlives the request deadline is reported as an upstream timeout.
func TestTimeoutMiddleware_DeadlineMapsToGatewayTimeout(t *testing.T) {
	mc := &mockWeatherClient{weather: london(), block: make(chan struct{})}
	defer close(mc.block)
	h, _ := newTestHandler(t, mc, nil, nil)

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.Use(TimeoutMiddleware(50 * time.Millisecond))
	router.HandleFunc("/weather/{city}", h.GetWeather)

	w := get(router, "/weather/London")
	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want %d", w.Code, http.StatusGatewayTimeout)
	}
	if env := decodeError(t, w); env.Error.RequestID == "" {
		t.Error("error envelope missing requestId")
	}
}

func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var ok bool
	h := TimeoutMiddleware(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil).WithContext(context.Background()))
	if !ok {
		t.Error("request context has no deadline")
	}
}

func TestRateLimitMiddleware_Returns429WhenExceeded(t *testing.T) {
	tracker := traffic.NewTracker(0)
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.Use(RateLimitMiddleware(rate.NewLimiter(1, 2), tracker))
	router.HandleFunc("/weather/{city}", func(w http.ResponseWriter, r *http.Request) {})

	denied := testutil.ToFloat64(observability.RateLimitDeniedTotal)
	for i := 0; i < 3; i++ {
		w := get(router, "/weather/Paris")
		if i < 2 {
			if w.Code != http.StatusOK {
				t.Errorf("request %d: status = %d, want 200", i, w.Code)
			}
			continue
		}
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("request %d: status = %d, want 429", i, w.Code)
		}
		env := decodeError(t, w)
		if env.Error.Code != "RATE_LIMITED" || env.Error.RequestID == "" {
			t.Errorf("error = %+v", env.Error)
		}
	}
	if c := tracker.Counts(time.Minute); c.Denied != 1 {
		t.Errorf("tracker denied = %d, want 1", c.Denied)
	}
	if delta := testutil.ToFloat64(observability.RateLimitDeniedTotal) - denied; delta != 1 {
		t.Errorf("rateLimitDeniedTotal delta = %v, want 1", delta)
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	router := mux.NewRouter()
	router.Use(RateLimitMiddleware(nil, nil))
	router.HandleFunc("/weather/{city}", func(w http.ResponseWriter, r *http.Request) {})

	for i := 0; i < 20; i++ {
		if w := get(router, "/weather/Paris"); w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}
}
