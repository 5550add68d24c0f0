// Package bus publishes accepted readings and raised alerts to external
// consumers. Publishing is best-effort: the ingest pipeline never fails a
// reading because a broker is down.
package bus

import (
	"context"
	"errors"

	"github.com/moolen/driftwatch/internal/models"
)

// Publisher delivers pipeline events to downstream consumers.
type Publisher interface {
	PublishReading(ctx context.Context, reading *models.Reading) error
	PublishAlert(ctx context.Context, alert *models.Alert) error
	Close() error
}

// Noop discards everything. Used when no broker is configured.
type Noop struct{}

func (Noop) PublishReading(ctx context.Context, reading *models.Reading) error { return nil }
func (Noop) PublishAlert(ctx context.Context, alert *models.Alert) error       { return nil }
func (Noop) Close() error                                                      { return nil }

// Fanout publishes to every backend and aggregates their errors, so one
// failing broker does not starve the others.
type Fanout struct {
	publishers []Publisher
}

// NewFanout wraps the given publishers. A nil or empty list behaves like
// Noop.
func NewFanout(publishers ...Publisher) *Fanout {
	return &Fanout{publishers: publishers}
}

func (f *Fanout) PublishReading(ctx context.Context, reading *models.Reading) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.PublishReading(ctx, reading); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) PublishAlert(ctx context.Context, alert *models.Alert) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.PublishAlert(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Close() error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
