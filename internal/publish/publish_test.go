package publish

import (
	"context"
	"errors"
	"testing"

	"github.com/kjstillabower/weather-know/internal/models"
)

type stubPublisher struct {
	events   int
	err      error
	closed   bool
	closeErr error
}

func (s *stubPublisher) Publish(context.Context, models.FetchEvent) error {
	s.events++
	return s.err
}

func (s *stubPublisher) Close() error {
	s.closed = true
	return s.closeErr
}

func TestMulti_PublishesToAll(t *testing.T) {
	failing := &stubPublisher{err: errors.New("down")}
	ok := &stubPublisher{}
	m := Multi{failing, ok}

	err := m.Publish(context.Background(), models.FetchEvent{Kind: models.KindWeather})
	if err == nil || err.Error() != "down" {
		t.Errorf("Publish() error = %v, want down", err)
	}
	if failing.events != 1 || ok.events != 1 {
		t.Errorf("events = %d, %d; want one each", failing.events, ok.events)
	}
}

func TestMulti_CloseClosesAll(t *testing.T) {
	a := &stubPublisher{closeErr: errors.New("a")}
	b := &stubPublisher{}
	if err := (Multi{a, b}).Close(); err == nil {
		t.Error("Close() error = nil, want a")
	}
	if !a.closed || !b.closed {
		t.Error("every publisher should be closed")
	}
}

func TestMulti_Empty(t *testing.T) {
	if err := (Multi{}).Publish(context.Background(), models.FetchEvent{}); err != nil {
		t.Errorf("Publish() error = %v", err)
	}
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), models.FetchEvent{}); err != nil {
		t.Errorf("Publish() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
