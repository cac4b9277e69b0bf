package models

import "fmt"

// Kind selects which weather API endpoint a lookup targets.
type Kind string

const (
	KindWeather  Kind = "weather"
	KindForecast Kind = "forecast"
)

// ParseKind maps a request kind string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindWeather, KindForecast:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown request kind %q", s)
}

// Condition is one entry of the provider's weather array.
type Condition struct {
	Main        string `json:"main,omitempty"`
	Description string `json:"description"`
}

// WeatherSnapshot is a read-only view of the provider's current weather
// document. Only the rendered fields are modelled; stored data keeps the
// provider's full document.
type WeatherSnapshot struct {
	Name string `json:"name"`
	Dt   int64  `json:"dt,omitempty"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
	Weather []Condition `json:"weather"`
}

// Description returns the first condition description, or "".
func (w WeatherSnapshot) Description() string {
	return firstDescription(w.Weather)
}

// ForecastEntry is a read-only view of one 3-hour sample from the forecast feed.
type ForecastEntry struct {
	Dt   int64 `json:"dt"`
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
	Weather []Condition `json:"weather"`
	DtTxt   string      `json:"dt_txt,omitempty"`
}

// Description returns the first condition description, or "".
func (f ForecastEntry) Description() string {
	return firstDescription(f.Weather)
}

func firstDescription(c []Condition) string {
	if len(c) == 0 {
		return ""
	}
	if c[0].Description != "" {
		return c[0].Description
	}
	return c[0].Main
}
