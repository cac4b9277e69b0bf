// Package publish emits fetch events to message brokers.
package publish

import (
	"context"
	"errors"

	"github.com/kjstillabower/weather-know/internal/models"
	"github.com/kjstillabower/weather-know/internal/observability"
)

// Publisher sends a FetchEvent somewhere. Implementations are safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev models.FetchEvent) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, models.FetchEvent) error { return nil }
func (Nop) Close() error                                     { return nil }

// Multi fans an event out to every publisher. All publishers are tried; the
// joined errors are returned.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev models.FetchEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func record(sink string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	observability.PublishTotal.WithLabelValues(sink, result).Inc()
}
