package fetch

import (
	"fmt"

	"github.com/kjstillabower/weather-know/internal/client"
)

// Error is the only error type Fetch returns. Kind is never empty.
type Error struct {
	Kind client.ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Message returns the user-facing text for the failure.
func (e *Error) Message() string { return e.Kind.Message() }

func newError(err error) *Error {
	kind := client.Classify(err)
	if kind == "" {
		kind = client.ErrorKindUnknown
	}
	return &Error{Kind: kind, Err: err}
}
