package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-know/internal/cache"
	"github.com/kjstillabower/weather-know/internal/client"
	"github.com/kjstillabower/weather-know/internal/models"
)

type mockWeatherClient struct {
	mu            sync.Mutex
	weatherCalls  int
	forecastCalls int
	weather       models.WeatherSnapshot
	forecast      []models.ForecastEntry
	weatherErr    error
	forecastErr   error
	delay         time.Duration
	// entered receives once per weather call; gate then holds the call
	// until closed or until ctx is done.
	entered chan struct{}
	gate    chan struct{}
}

func (m *mockWeatherClient) GetCurrentWeather(ctx context.Context, city string) (json.RawMessage, error) {
	m.mu.Lock()
	m.weatherCalls++
	m.mu.Unlock()
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.weatherErr != nil {
		return nil, m.weatherErr
	}
	w := m.weather
	if w.Name == "" {
		w.Name = city
	}
	return json.Marshal(w)
}

func (m *mockWeatherClient) GetForecast(ctx context.Context, city string) ([]json.RawMessage, error) {
	m.mu.Lock()
	m.forecastCalls++
	m.mu.Unlock()
	if m.forecastErr != nil {
		return nil, m.forecastErr
	}
	items := make([]json.RawMessage, 0, len(m.forecast))
	for _, e := range m.forecast {
		raw, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		items = append(items, raw)
	}
	return items, nil
}

func (m *mockWeatherClient) ValidateAPIKey(ctx context.Context) error { return nil }

func (m *mockWeatherClient) calls() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.weatherCalls, m.forecastCalls
}

type failingStore struct{ err error }

func (f failingStore) Get(ctx context.Context, key string) (models.CacheEntry, bool, error) {
	return models.CacheEntry{}, false, f.err
}

func (f failingStore) Set(ctx context.Context, key string, e models.CacheEntry) error {
	return f.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.FetchEvent
	err    error
	// hold, when set, blocks Publish until closed or ctx is done.
	hold chan struct{}
}

func (p *recordingPublisher) Publish(ctx context.Context, ev models.FetchEvent) error {
	if p.hold != nil {
		select {
		case <-p.hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) recorded() []models.FetchEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.FetchEvent(nil), p.events...)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func snapshot(name string, temp float64, humidity int, desc string) models.WeatherSnapshot {
	var w models.WeatherSnapshot
	w.Name = name
	w.Main.Temp = temp
	w.Main.Humidity = humidity
	w.Weather = []models.Condition{{Description: desc}}
	return w
}

func entryAt(ts time.Time, temp float64, desc string) models.ForecastEntry {
	var e models.ForecastEntry
	e.Dt = ts.Unix()
	e.Main.Temp = temp
	e.Weather = []models.Condition{{Description: desc}}
	return e
}

func TestCacheKey(t *testing.T) {
	tests := []struct {
		name      string
		kind      models.Kind
		city      string
		normalize bool
		want      string
	}{
		{"verbatim", models.KindWeather, "London", false, "weather_London"},
		{"verbatim keeps spaces", models.KindForecast, " Paris ", false, "forecast_ Paris "},
		{"normalized", models.KindWeather, "  LONDON ", true, "weather_london"},
		{"normalized forecast", models.KindForecast, "Paris", true, "forecast_paris"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CacheKey(tt.kind, tt.city, tt.normalize); got != tt.want {
				t.Errorf("CacheKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCoordinator_FreshnessWindow(t *testing.T) {
	tests := []struct {
		name      string
		age       time.Duration
		wantCalls int
		wantHit   bool
	}{
		{"just written", 0, 1, true},
		{"29m59s old", 29*time.Minute + 59*time.Second, 1, true},
		{"exactly 30m old", 30 * time.Minute, 2, false},
		{"30m01s old", 30*time.Minute + time.Second, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
			mc := &mockWeatherClient{weather: snapshot("London", 11.2, 80, "light rain")}
			co := NewCoordinator(mc, cache.NewInMemoryCache(), Options{Now: clk.now})
			ctx := context.Background()

			if _, err := co.Fetch(ctx, models.KindWeather, "London"); err != nil {
				t.Fatalf("first Fetch() error = %v", err)
			}
			clk.advance(tt.age)
			res, err := co.Fetch(ctx, models.KindWeather, "London")
			if err != nil {
				t.Fatalf("second Fetch() error = %v", err)
			}
			if res.Cached != tt.wantHit {
				t.Errorf("Cached = %v, want %v", res.Cached, tt.wantHit)
			}
			if calls, _ := mc.calls(); calls != tt.wantCalls {
				t.Errorf("upstream calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestCoordinator_KindsDoNotCollide(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mc := &mockWeatherClient{
		weather:  snapshot("Paris", 9, 70, "clear sky"),
		forecast: []models.ForecastEntry{entryAt(day, 8, "clouds")},
	}
	store := cache.NewInMemoryCache()
	co := NewCoordinator(mc, store, Options{})
	ctx := context.Background()

	if _, err := co.Fetch(ctx, models.KindWeather, "Paris"); err != nil {
		t.Fatalf("Fetch(weather) error = %v", err)
	}
	res, err := co.Fetch(ctx, models.KindForecast, "Paris")
	if err != nil {
		t.Fatalf("Fetch(forecast) error = %v", err)
	}
	if res.Cached {
		t.Error("forecast should not be served from the weather entry")
	}
	if store.Len() != 2 {
		t.Errorf("store has %d entries, want 2", store.Len())
	}
	w, f := mc.calls()
	if w != 1 || f != 1 {
		t.Errorf("calls = weather %d forecast %d, want 1 and 1", w, f)
	}
}

func TestCoordinator_ForecastReducedBeforeStore(t *testing.T) {
	d1 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	d2 := d1.Add(24 * time.Hour)
	d3 := d2.Add(24 * time.Hour)
	mc := &mockWeatherClient{forecast: []models.ForecastEntry{
		entryAt(d1, 1, "a"), entryAt(d1.Add(3*time.Hour), 2, "b"), entryAt(d1.Add(6*time.Hour), 3, "c"),
		entryAt(d2, 4, "d"), entryAt(d2.Add(3*time.Hour), 5, "e"),
		entryAt(d3, 6, "f"),
	}}
	store := cache.NewInMemoryCache()
	co := NewCoordinator(mc, store, Options{})

	res, err := co.Fetch(context.Background(), models.KindForecast, "Oslo")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	days, err := res.Forecast()
	if err != nil {
		t.Fatalf("Forecast() error = %v", err)
	}
	if len(days) != 3 {
		t.Fatalf("len(days) = %d, want 3", len(days))
	}
	for i, want := range []float64{1, 4, 6} {
		if days[i].Main.Temp != want {
			t.Errorf("days[%d].temp = %v, want %v", i, days[i].Main.Temp, want)
		}
	}

	stored, ok, _ := store.Get(context.Background(), "forecast_Oslo")
	if !ok {
		t.Fatal("forecast_Oslo not stored")
	}
	if string(stored.Data) != string(res.Data) {
		t.Errorf("stored data = %s, want reduced %s", stored.Data, res.Data)
	}
}

func TestCoordinator_NormalizedKeysShareEntry(t *testing.T) {
	mc := &mockWeatherClient{weather: snapshot("London", 10, 60, "mist")}
	co := NewCoordinator(mc, cache.NewInMemoryCache(), Options{NormalizeKeys: true})
	ctx := context.Background()

	first, err := co.Fetch(ctx, models.KindWeather, " London ")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if first.Key != "weather_london" {
		t.Errorf("Key = %q, want weather_london", first.Key)
	}
	second, err := co.Fetch(ctx, models.KindWeather, "LONDON")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !second.Cached {
		t.Error("case variant should hit the normalized entry")
	}
}

func TestCoordinator_CaseSensitiveWithoutNormalization(t *testing.T) {
	mc := &mockWeatherClient{}
	co := NewCoordinator(mc, cache.NewInMemoryCache(), Options{})
	ctx := context.Background()

	_, _ = co.Fetch(ctx, models.KindWeather, "London")
	res, _ := co.Fetch(ctx, models.KindWeather, "london")
	if res.Cached {
		t.Error("different case should miss without normalization")
	}
	if calls, _ := mc.calls(); calls != 2 {
		t.Errorf("upstream calls = %d, want 2", calls)
	}
}

func TestCoordinator_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind client.ErrorKind
		wantMsg  string
	}{
		{"not found", client.ErrLocationNotFound, client.ErrorKindNotFound, "City not found. Please try again."},
		{"rate limited", client.ErrRateLimited, client.ErrorKindRateLimited, "You have exceeded API call limit available"},
		{"server", fmt.Errorf("%w: status 503", client.ErrUpstreamFailure), client.ErrorKindServer, client.ErrorKindServer.Message()},
		{"unclassified", errors.New("boom"), client.ErrorKindUnknown, client.ErrorKindUnknown.Message()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.InfoLevel)
			mc := &mockWeatherClient{weatherErr: tt.err}
			store := cache.NewInMemoryCache()
			co := NewCoordinator(mc, store, Options{Logger: zap.New(core)})

			_, err := co.Fetch(context.Background(), models.KindWeather, "Atlantis")
			var fe *Error
			if !errors.As(err, &fe) {
				t.Fatalf("Fetch() error = %T %v, want *Error", err, err)
			}
			if fe.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", fe.Kind, tt.wantKind)
			}
			if fe.Message() != tt.wantMsg {
				t.Errorf("Message() = %q, want %q", fe.Message(), tt.wantMsg)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("error should wrap %v", tt.err)
			}
			if store.Len() != 0 {
				t.Error("failed fetch must not write the store")
			}
			if logs.FilterMessage("lookup failed").Len() != 1 {
				t.Errorf("expected one lookup failed log, got %d", logs.FilterMessage("lookup failed").Len())
			}
		})
	}
}

func TestCoordinator_InvalidInput(t *testing.T) {
	mc := &mockWeatherClient{}
	co := NewCoordinator(mc, cache.NewInMemoryCache(), Options{})
	ctx := context.Background()

	for _, tc := range []struct {
		kind models.Kind
		city string
	}{
		{models.KindWeather, "   "},
		{models.Kind("hourly"), "London"},
	} {
		_, err := co.Fetch(ctx, tc.kind, tc.city)
		var fe *Error
		if !errors.As(err, &fe) || fe.Kind != client.ErrorKindInvalidInput {
			t.Errorf("Fetch(%q, %q) error = %v, want invalid_input", tc.kind, tc.city, err)
		}
	}
	if w, f := mc.calls(); w+f != 0 {
		t.Errorf("invalid input reached the client (%d calls)", w+f)
	}
}

func TestCoordinator_StoreErrorIsMiss(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	mc := &mockWeatherClient{weather: snapshot("Rome", 20, 40, "sunny")}
	co := NewCoordinator(mc, failingStore{err: errors.New("connection refused")}, Options{Logger: zap.New(core)})

	res, err := co.Fetch(context.Background(), models.KindWeather, "Rome")
	if err != nil {
		t.Fatalf("Fetch() error = %v, want nil", err)
	}
	if res.Cached {
		t.Error("result should come from upstream")
	}
	if logs.FilterMessage("cache get failed").Len() != 1 || logs.FilterMessage("cache set failed").Len() != 1 {
		t.Errorf("expected store failures to be logged, got %v", logs.All())
	}
}

func TestCoordinator_PublishesOnUpstreamFetchOnly(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	mc := &mockWeatherClient{}
	co := NewCoordinator(mc, cache.NewInMemoryCache(), Options{Publisher: pub})
	ctx := context.Background()

	if _, err := co.Fetch(ctx, models.KindWeather, "Lima"); err != nil {
		t.Fatalf("Fetch() error = %v, publish failure must not fail the fetch", err)
	}
	if _, err := co.Fetch(ctx, models.KindWeather, "Lima"); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	co.Drain()
	events := pub.recorded()
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != models.KindWeather || ev.Key != "weather_Lima" || ev.City != "Lima" {
		t.Errorf("event = %+v", ev)
	}
}

// TestCoordinator_PublishDoesNotDelayLookup verifies a stalled broker does not
// hold up the lookup and that Drain waits for the pending event.
func TestCoordinator_PublishDoesNotDelayLookup(t *testing.T) {
	pub := &recordingPublisher{hold: make(chan struct{})}
	co := NewCoordinator(&mockWeatherClient{}, cache.NewInMemoryCache(), Options{Publisher: pub, PublishTimeout: 5 * time.Second})

	done := make(chan error, 1)
	go func() {
		_, err := co.Fetch(context.Background(), models.KindWeather, "Quito")
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Fetch() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Fetch() blocked on publish")
	}
	if n := len(pub.recorded()); n != 0 {
		t.Fatalf("published %d events before release, want 0", n)
	}

	close(pub.hold)
	co.Drain()
	if n := len(pub.recorded()); n != 1 {
		t.Errorf("published %d events after Drain, want 1", n)
	}
}

// TestCoordinator_PublishTimeoutBoundsDelivery verifies a publish that never
// completes is abandoned after the publish timeout.
func TestCoordinator_PublishTimeoutBoundsDelivery(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	pub := &recordingPublisher{hold: make(chan struct{})}
	co := NewCoordinator(&mockWeatherClient{}, cache.NewInMemoryCache(), Options{
		Publisher:      pub,
		PublishTimeout: 20 * time.Millisecond,
		Logger:         zap.New(core),
	})

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := co.Fetch(ctx, models.KindWeather, "Lagos"); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	cancel()
	co.Drain()
	if logs.FilterMessage("publish fetch event failed").Len() != 1 {
		t.Errorf("expected one publish failure log, got %v", logs.All())
	}
}

// TestCoordinator_ProviderFieldsPassThrough verifies provider fields outside
// the rendered view reach the result, the store and the fetch event intact.
func TestCoordinator_ProviderFieldsPassThrough(t *testing.T) {
	const weatherBody = `{"coord":{"lon":-0.13,"lat":51.51},"weather":[{"id":803,"main":"Clouds","description":"broken clouds","icon":"04d"}],"main":{"temp":14.3,"feels_like":13.6,"humidity":72,"pressure":1015},"wind":{"speed":4.6,"deg":250},"sys":{"country":"GB"},"name":"London"}`
	const forecastItem = `{"dt":1709251200,"main":{"temp":7.1,"feels_like":4.2},"weather":[{"description":"light rain","icon":"10n"}],"wind":{"speed":6.3},"dt_txt":"2024-03-01 00:00:00"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/weather":
			_, _ = w.Write([]byte(weatherBody))
		case "/forecast":
			_, _ = w.Write([]byte(`{"cod":"200","list":[` + forecastItem + `,{"dt":1709262000,"main":{"temp":8}}],"city":{"name":"London"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	wc, err := client.NewOpenWeatherClient("test-api-key-123", srv.URL, 2*time.Second)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	store := cache.NewInMemoryCache()
	pub := &recordingPublisher{}
	co := NewCoordinator(wc, store, Options{Publisher: pub})
	ctx := context.Background()

	tests := []struct {
		kind models.Kind
		key  string
		want string
	}{
		{models.KindWeather, "weather_London", weatherBody},
		{models.KindForecast, "forecast_London", "[" + forecastItem + "]"},
	}
	for _, tt := range tests {
		res, err := co.Fetch(ctx, tt.kind, "London")
		if err != nil {
			t.Fatalf("Fetch(%s) error = %v", tt.kind, err)
		}
		assertSameJSON(t, "result "+tt.key, res.Data, tt.want)

		stored, ok, _ := store.Get(ctx, tt.key)
		if !ok {
			t.Fatalf("%s not stored", tt.key)
		}
		assertSameJSON(t, "stored "+tt.key, stored.Data, tt.want)
	}

	co.Drain()
	events := pub.recorded()
	if len(events) != 2 {
		t.Fatalf("published %d events, want 2", len(events))
	}
	for _, ev := range events {
		if ev.Kind == models.KindWeather {
			assertSameJSON(t, "event", ev.Data, weatherBody)
		}
	}
}

func assertSameJSON(t *testing.T, what string, got []byte, want string) {
	t.Helper()
	var g, w interface{}
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("%s: decode %s: %v", what, got, err)
	}
	if err := json.Unmarshal([]byte(want), &w); err != nil {
		t.Fatalf("%s: decode want: %v", what, err)
	}
	if !reflect.DeepEqual(g, w) {
		t.Errorf("%s = %s, want %s", what, got, want)
	}
}

// TestCoordinator_CanceledCallerDoesNotFailCoalescedCaller verifies that when
// the caller that started a shared fetch goes away, a caller waiting on the
// same key still gets the result.
func TestCoordinator_CanceledCallerDoesNotFailCoalescedCaller(t *testing.T) {
	mc := &mockWeatherClient{entered: make(chan struct{}, 1), gate: make(chan struct{})}
	co := NewCoordinator(mc, cache.NewInMemoryCache(), Options{CoalesceTimeout: 5 * time.Second})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := co.Fetch(ctxA, models.KindWeather, "London")
		errA <- err
	}()
	<-mc.entered
	cancelA()
	var fe *Error
	if err := <-errA; !errors.As(err, &fe) || fe.Kind != client.ErrorKindCanceled {
		t.Fatalf("canceled caller error = %v, want canceled", err)
	}

	resB := make(chan error, 1)
	go func() {
		res, err := co.Fetch(context.Background(), models.KindWeather, "London")
		if err == nil && res.City != "London" {
			err = fmt.Errorf("city = %q", res.City)
		}
		resB <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(mc.gate)
	if err := <-resB; err != nil {
		t.Fatalf("waiting caller error = %v, want nil", err)
	}
	if calls, _ := mc.calls(); calls != 1 {
		t.Errorf("upstream calls = %d, want 1", calls)
	}
}

func TestCoordinator_PrefetchIgnoresFreshEntry(t *testing.T) {
	mc := &mockWeatherClient{}
	co := NewCoordinator(mc, cache.NewInMemoryCache(), Options{})
	ctx := context.Background()

	_, _ = co.Fetch(ctx, models.KindWeather, "Kyiv")
	if err := co.Prefetch(ctx, models.KindWeather, "Kyiv"); err != nil {
		t.Fatalf("Prefetch() error = %v", err)
	}
	if calls, _ := mc.calls(); calls != 2 {
		t.Errorf("upstream calls = %d, want 2", calls)
	}
}

func TestCoordinator_CoalescesConcurrentMisses(t *testing.T) {
	mc := &mockWeatherClient{delay: 50 * time.Millisecond}
	co := NewCoordinator(mc, cache.NewInMemoryCache(), Options{CoalesceTimeout: time.Second})

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := co.Fetch(context.Background(), models.KindWeather, "Seattle"); err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	if failures.Load() != 0 {
		t.Errorf("%d fetches failed", failures.Load())
	}
	if calls, _ := mc.calls(); calls != 1 {
		t.Errorf("upstream calls = %d, want 1", calls)
	}
}

func TestCoordinator_EndToEndLondon(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/weather" || r.URL.Query().Get("q") != "London" || r.URL.Query().Get("units") != "metric" {
			http.Error(w, "unexpected request "+r.URL.String(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"London","main":{"temp":14.3,"humidity":72},"weather":[{"main":"Clouds","description":"broken clouds"}]}`))
	}))
	defer srv.Close()

	wc, err := client.NewOpenWeatherClient("test-api-key-123", srv.URL, 2*time.Second)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	store := cache.NewInMemoryCache()
	co := NewCoordinator(wc, store, Options{})
	session := NewSession(co, NewView())
	ctx := context.Background()

	before := time.Now()
	if _, applied, err := session.Fetch(ctx, models.KindWeather, "London"); err != nil || !applied {
		t.Fatalf("Fetch() = applied %v, err %v", applied, err)
	}
	if hits.Load() != 1 {
		t.Fatalf("network calls = %d, want 1", hits.Load())
	}
	first := session.View().State()
	if first.Weather == nil || first.Weather.Name != "London" || first.Weather.Main.Temp != 14.3 ||
		first.Weather.Main.Humidity != 72 || first.Weather.Description() != "broken clouds" {
		t.Fatalf("view weather = %+v", first.Weather)
	}
	entry, ok, _ := store.Get(ctx, "weather_London")
	if !ok {
		t.Fatal("weather_London not stored")
	}
	if age := time.Since(time.UnixMilli(entry.Timestamp)); entry.Timestamp < before.UnixMilli() || age > 5*time.Second {
		t.Errorf("entry timestamp %d not close to now", entry.Timestamp)
	}

	res, _, err := session.Fetch(ctx, models.KindWeather, "London")
	if err != nil {
		t.Fatalf("repeat Fetch() error = %v", err)
	}
	if !res.Cached || hits.Load() != 1 {
		t.Errorf("repeat should be a cache hit: cached %v, network calls %d", res.Cached, hits.Load())
	}
	second := session.View().State()
	if !reflect.DeepEqual(second.Weather, first.Weather) {
		t.Errorf("repeat view = %+v, want %+v", second.Weather, first.Weather)
	}
}
