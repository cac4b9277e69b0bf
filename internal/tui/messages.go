package tui

import "github.com/kjstillabower/weather-know/internal/models"

// lookupDoneMsg reports a finished lookup. The view has already been updated
// when applied is true.
type lookupDoneMsg struct {
	seq     uint64
	kind    models.Kind
	applied bool
	err     error
}
