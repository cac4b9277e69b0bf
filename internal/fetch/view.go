package fetch

import (
	"context"
	"errors"
	"sync"

	"github.com/kjstillabower/weather-know/internal/models"
	"github.com/kjstillabower/weather-know/internal/observability"
)

// View is the UI-visible state: one slot per kind, the active panel and the
// error line. Only the most recently started request may change it.
type View struct {
	mu       sync.Mutex
	seq      uint64
	pending  int
	city     string
	weather  *models.WeatherSnapshot
	forecast []models.ForecastEntry
	active   models.Kind
	errMsg   string
}

// ViewState is a copy of the View at one point in time.
type ViewState struct {
	City     string
	Weather  *models.WeatherSnapshot
	Forecast []models.ForecastEntry
	Active   models.Kind
	Error    string
	Loading  bool
}

func NewView() *View {
	return &View{}
}

// Begin registers a new request and returns its sequence number. Any request
// begun earlier is superseded.
func (v *View) Begin() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	v.pending++
	return v.seq
}

// Apply records the outcome of request seq. It reports false, leaving the
// view untouched, when a later request has begun since.
//
// On success the kind's slot is set, the kind becomes active and the error is
// cleared. On failure the kind's slot is cleared and the error is set; the
// other slot keeps its contents.
func (v *View) Apply(seq uint64, kind models.Kind, res Result, err error) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pending > 0 {
		v.pending--
	}
	if seq != v.seq {
		observability.SupersededResultsTotal.WithLabelValues(string(kind)).Inc()
		return false
	}

	if err != nil {
		v.clear(kind)
		var fe *Error
		if errors.As(err, &fe) {
			v.errMsg = fe.Message()
		} else {
			v.errMsg = newError(err).Message()
		}
		return true
	}

	switch kind {
	case models.KindWeather:
		w, decErr := res.Weather()
		if decErr != nil {
			v.clear(kind)
			v.errMsg = newError(decErr).Message()
			return true
		}
		v.weather = &w
	case models.KindForecast:
		f, decErr := res.Forecast()
		if decErr != nil {
			v.clear(kind)
			v.errMsg = newError(decErr).Message()
			return true
		}
		v.forecast = f
	}
	v.city = res.City
	v.active = kind
	v.errMsg = ""
	return true
}

func (v *View) clear(kind models.Kind) {
	switch kind {
	case models.KindWeather:
		v.weather = nil
	case models.KindForecast:
		v.forecast = nil
	}
}

// State returns a copy of the current view.
func (v *View) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := ViewState{
		City:    v.city,
		Active:  v.active,
		Error:   v.errMsg,
		Loading: v.pending > 0,
	}
	if v.weather != nil {
		w := *v.weather
		s.Weather = &w
	}
	if v.forecast != nil {
		s.Forecast = append([]models.ForecastEntry(nil), v.forecast...)
	}
	return s
}

// Session binds a Coordinator to a View.
type Session struct {
	coord *Coordinator
	view  *View
}

func NewSession(coord *Coordinator, view *View) *Session {
	return &Session{coord: coord, view: view}
}

// View returns the session's view.
func (s *Session) View() *View { return s.view }

// Fetch runs a lookup and applies it to the view if no later request has
// begun. applied reports whether the view changed.
func (s *Session) Fetch(ctx context.Context, kind models.Kind, city string) (res Result, applied bool, err error) {
	return s.Complete(ctx, s.view.Begin(), kind, city)
}

// Begin reserves a sequence number for a lookup that will run later, so the
// order of requests follows the order of user actions rather than goroutine
// scheduling.
func (s *Session) Begin() uint64 {
	return s.view.Begin()
}

// Complete runs the lookup reserved by Begin and applies it to the view.
func (s *Session) Complete(ctx context.Context, seq uint64, kind models.Kind, city string) (res Result, applied bool, err error) {
	res, err = s.coord.Fetch(ctx, kind, city)
	applied = s.view.Apply(seq, kind, res, err)
	return res, applied, err
}
