package client

import (
	"context"
	"errors"

	"github.com/kjstillabower/weather-know/internal/circuitbreaker"
)

// ErrorKind is a stable classification of a failed lookup. Every kind has a
// user-facing message; the value doubles as a metric label.
type ErrorKind string

const (
	ErrorKindNotFound      ErrorKind = "not_found"
	ErrorKindRateLimited   ErrorKind = "rate_limited"
	ErrorKindInvalidAPIKey ErrorKind = "invalid_api_key"
	ErrorKindTimeout       ErrorKind = "timeout"
	ErrorKindCanceled      ErrorKind = "canceled"
	ErrorKindNetwork       ErrorKind = "network"
	ErrorKindServer        ErrorKind = "server"
	ErrorKindParse         ErrorKind = "parse"
	ErrorKindInvalidInput  ErrorKind = "invalid_input"
	ErrorKindUnknown       ErrorKind = "unknown"
)

var messages = map[ErrorKind]string{
	ErrorKindNotFound:      "City not found. Please try again.",
	ErrorKindRateLimited:   "You have exceeded API call limit available",
	ErrorKindInvalidAPIKey: "The weather service rejected the API key.",
	ErrorKindTimeout:       "The weather service took too long to respond.",
	ErrorKindCanceled:      "Request cancelled.",
	ErrorKindNetwork:       "Unable to reach the weather service.",
	ErrorKindServer:        "The weather service is unavailable. Please try again later.",
	ErrorKindParse:         "The weather service returned an unreadable response.",
	ErrorKindInvalidInput:  "Please enter a valid city name.",
	ErrorKindUnknown:       "Something went wrong. Please try again.",
}

// ErrInvalidInput marks lookups rejected before any network access.
var ErrInvalidInput = errors.New("invalid input")

// Message returns the user-facing text for the kind.
func (k ErrorKind) Message() string {
	if m, ok := messages[k]; ok {
		return m
	}
	return messages[ErrorKindUnknown]
}

// Classify maps an error to an ErrorKind. nil maps to "".
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return ErrorKindInvalidInput
	case errors.Is(err, ErrLocationNotFound):
		return ErrorKindNotFound
	case errors.Is(err, ErrRateLimited):
		return ErrorKindRateLimited
	case errors.Is(err, ErrInvalidAPIKey):
		return ErrorKindInvalidAPIKey
	case errors.Is(err, context.Canceled):
		return ErrorKindCanceled
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, ErrUpstreamFailure), errors.Is(err, circuitbreaker.ErrOpen):
		return ErrorKindServer
	case errors.Is(err, ErrMalformedResponse):
		return ErrorKindParse
	case errors.Is(err, ErrNetwork):
		return ErrorKindNetwork
	}
	return ErrorKindUnknown
}
