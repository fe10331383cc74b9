package schedule

import (
	"context"
	"errors"

	"github.com/cod31nvictus/eterny/server/recurrence"
	"github.com/cod31nvictus/eterny/server/storage"
	"github.com/emersion/go-ical"
)

// ExportSeries encodes one series as an iCalendar document with a single
// all-day VEVENT.
func (s *Service) ExportSeries(ctx context.Context, ownerID, seriesID string) ([]byte, error) {
	series, err := s.store.GetSeries(ctx, ownerID, seriesID)
	if err != nil {
		return nil, translate(err, 0)
	}
	event, err := s.event(ctx, series)
	if err != nil {
		return nil, err
	}
	return s.encode(event)
}

// ExportCalendar encodes every active series of the owner.
func (s *Service) ExportCalendar(ctx context.Context, ownerID string) ([]byte, error) {
	list, err := s.store.ListSeries(ctx, ownerID, &storage.ListOptions{ActiveOnly: true})
	if err != nil {
		return nil, translate(err, 0)
	}
	events := make([]*ical.Event, 0, len(list))
	for _, series := range list {
		event, err := s.event(ctx, series)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return s.encode(events...)
}

func (s *Service) event(ctx context.Context, series *storage.Series) (*ical.Event, error) {
	summary := series.TemplateID
	tpl, err := s.store.GetTemplate(ctx, series.OwnerID, series.TemplateID)
	switch {
	case err == nil && tpl.Name != "":
		summary = tpl.Name
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return nil, translate(err, 0)
	}

	return s.engine.NewEvent(recurrence.EventInfo{
		UID:         series.ID,
		Summary:     summary,
		Description: series.Notes,
		Window:      series.Window(),
		Rule:        series.Recurrence,
		ExDates:     series.ExceptionDates(),
		Stamp:       s.now(),
	}), nil
}

func (s *Service) encode(events ...*ical.Event) ([]byte, error) {
	data, err := recurrence.EncodeCalendar(events...)
	if err != nil {
		s.logger.Error("failed to encode calendar", "error", err)
		return nil, translate(err, 0)
	}
	return data, nil
}
