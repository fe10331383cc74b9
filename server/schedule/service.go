package schedule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cod31nvictus/eterny/server/recurrence"
	"github.com/cod31nvictus/eterny/server/storage"
	"github.com/google/uuid"
	"github.com/samber/mo"
)

// DefaultMaxRangeDays bounds GetOccurrences requests.
const DefaultMaxRangeDays = 366

// Service exposes the schedule operations on top of a Storage backend.
// Reads may run concurrently. Mutations of one series are serialized.
type Service struct {
	store        storage.Storage
	engine       *recurrence.Engine
	coordinator  *Coordinator
	logger       *slog.Logger
	now          func() time.Time
	newID        func() string
	maxRangeDays int
	locks        *keyedMutex
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithEngine replaces the default recurrence engine.
func WithEngine(engine *recurrence.Engine) Option {
	return func(s *Service) {
		s.engine = engine
	}
}

// WithClock sets the time source used for exports.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDGenerator sets how new series ids are made.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		s.newID = newID
	}
}

// WithMaxRangeDays limits the number of days GetOccurrences will expand.
func WithMaxRangeDays(days int) Option {
	return func(s *Service) {
		s.maxRangeDays = days
	}
}

// NewService creates a service backed by store.
func NewService(store storage.Storage, opts ...Option) *Service {
	s := &Service{
		store:        store,
		engine:       recurrence.NewEngine(),
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:          time.Now,
		newID:        uuid.NewString,
		maxRangeDays: DefaultMaxRangeDays,
		locks:        newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.coordinator = &Coordinator{Engine: s.engine, NewID: s.newID}
	return s
}

// Engine returns the recurrence engine used for resolution.
func (s *Service) Engine() *recurrence.Engine {
	return s.engine
}

// AssignRequest assigns a template to a start date.
type AssignRequest struct {
	TemplateID string
	StartDate  recurrence.Date
	EndDate    mo.Option[recurrence.Date]
	// Recurrence defaults to None when nil.
	Recurrence recurrence.Rule
	Notes      string
}

// EditRequest is a scoped edit of a recurring series.
type EditRequest struct {
	SeriesID     string
	Scope        Scope
	OriginalDate recurrence.Date
	TemplateID   mo.Option[string]
	Recurrence   mo.Option[recurrence.Rule]
	// ExpectedVersion, when present, must match the stored version.
	ExpectedVersion mo.Option[int64]
}

// DeleteRequest is a scoped delete of a recurring series.
type DeleteRequest struct {
	SeriesID        string
	Scope           Scope
	OriginalDate    recurrence.Date
	Reason          string
	ExpectedVersion mo.Option[int64]
}

// SeriesPatch is a direct, non-scoped edit. Absent fields are kept.
// EndDate holds None to clear the bound.
type SeriesPatch struct {
	EndDate         mo.Option[mo.Option[recurrence.Date]]
	Recurrence      mo.Option[recurrence.Rule]
	Notes           mo.Option[string]
	IsActive        mo.Option[bool]
	ExpectedVersion mo.Option[int64]
}

// AssignTemplate creates a series after checking the template belongs to
// the owner and the rule is well formed.
func (s *Service) AssignTemplate(ctx context.Context, ownerID string, req AssignRequest) (*storage.Series, error) {
	if req.Recurrence == nil {
		req.Recurrence = recurrence.None{}
	}
	if err := recurrence.Validate(req.Recurrence); err != nil {
		return nil, translate(err, 0)
	}
	if req.StartDate.IsZero() {
		return nil, fmt.Errorf("%w: start date is required", ErrValidation)
	}
	if end, ok := req.EndDate.Get(); ok && end.Before(req.StartDate) {
		return nil, fmt.Errorf("%w: end date %s is before start date %s", ErrValidation, end, req.StartDate)
	}
	if err := s.checkTemplate(ctx, ownerID, req.TemplateID); err != nil {
		return nil, err
	}

	series := &storage.Series{
		ID:         s.newID(),
		OwnerID:    ownerID,
		TemplateID: req.TemplateID,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		Recurrence: req.Recurrence,
		IsActive:   true,
		Notes:      req.Notes,
	}
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		return tx.CreateSeries(ctx, series)
	})
	if err != nil {
		s.logger.Error("failed to create series",
			"owner_id", ownerID,
			"template_id", req.TemplateID,
			"error", err)
		return nil, translate(err, 1)
	}

	s.logger.Info("template assigned",
		"owner_id", ownerID,
		"series_id", series.ID,
		"template_id", series.TemplateID,
		"start_date", series.StartDate,
		"recurrence", series.Recurrence.Kind())
	return series, nil
}

// GetOccurrences resolves the owner's active series over [start, end] and
// groups the result by date.
func (s *Service) GetOccurrences(ctx context.Context, ownerID string, start, end recurrence.Date) ([]Day, error) {
	if start.IsZero() || end.IsZero() {
		return nil, fmt.Errorf("%w: start and end are required", ErrInvalidRange)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s is before start %s", ErrInvalidRange, end, start)
	}
	if days := end.DaysSince(start) + 1; s.maxRangeDays > 0 && days > s.maxRangeDays {
		return nil, fmt.Errorf("%w: %d days requested, at most %d allowed", ErrInvalidRange, days, s.maxRangeDays)
	}

	list, err := s.store.ListSeries(ctx, ownerID, &storage.ListOptions{Start: &start, End: &end, ActiveOnly: true})
	if err != nil {
		s.logger.Error("failed to list series", "owner_id", ownerID, "error", err)
		return nil, translate(err, 0)
	}

	occurrences := Resolve(s.engine, list, start, end)
	s.logger.Debug("occurrences resolved",
		"owner_id", ownerID,
		"start", start,
		"end", end,
		"series", len(list),
		"occurrences", len(occurrences))
	return Group(occurrences), nil
}

// EditRecurring applies a scoped edit.
func (s *Service) EditRecurring(ctx context.Context, ownerID string, req EditRequest) error {
	if id, ok := req.TemplateID.Get(); ok {
		if err := s.checkTemplate(ctx, ownerID, id); err != nil {
			return err
		}
	}
	edit := &Edit{TemplateID: req.TemplateID, Recurrence: req.Recurrence}
	return s.mutate(ctx, ownerID, req.SeriesID, req.ExpectedVersion, Change{
		Scope:        req.Scope,
		OriginalDate: req.OriginalDate,
		Edit:         edit,
	})
}

// DeleteRecurring applies a scoped delete.
func (s *Service) DeleteRecurring(ctx context.Context, ownerID string, req DeleteRequest) error {
	return s.mutate(ctx, ownerID, req.SeriesID, req.ExpectedVersion, Change{
		Scope:        req.Scope,
		OriginalDate: req.OriginalDate,
		Reason:       req.Reason,
	})
}

func (s *Service) mutate(ctx context.Context, ownerID, seriesID string, expected mo.Option[int64], ch Change) error {
	if _, err := ParseScope(string(ch.Scope)); err != nil {
		return err
	}

	unlock := s.locks.Lock(seriesID)
	defer unlock()

	var m *Mutation
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		current, err := tx.GetSeries(ctx, ownerID, seriesID)
		if err != nil {
			return err
		}
		if err := checkVersion(current, expected); err != nil {
			return err
		}
		if m, err = s.coordinator.Apply(current, ch); err != nil {
			return err
		}
		return m.Commit(ctx, tx)
	})

	writes := 0
	if m != nil {
		writes = m.Writes()
	}
	if err != nil {
		err = translate(err, writes)
		if errors.Is(err, ErrPartialMutation) || errors.Is(err, ErrPersistence) {
			s.logger.Error("scoped mutation failed",
				"series_id", seriesID,
				"scope", ch.Scope,
				"original_date", ch.OriginalDate,
				"writes", writes,
				"error", err)
		} else {
			s.logger.Info("scoped mutation rejected",
				"series_id", seriesID,
				"scope", ch.Scope,
				"error", err)
		}
		return err
	}

	attrs := []any{
		"series_id", seriesID,
		"scope", ch.Scope,
		"original_date", ch.OriginalDate,
		"edit", ch.Edit != nil,
	}
	switch {
	case m.Delete != nil:
		attrs = append(attrs, "removed", true)
	case m.Update != nil && m.Update.EndDate.IsPresent() && ch.Scope == ScopeThisAndFuture:
		attrs = append(attrs, "end_date", m.Update.EndDate.MustGet())
	}
	if m.Create != nil {
		attrs = append(attrs, "new_series_id", m.Create.ID)
	}
	s.logger.Info("series mutated", attrs...)
	return nil
}

// AddException removes one date from a series' output. A second call for
// the same date fails with ErrDuplicateException and changes nothing.
func (s *Service) AddException(ctx context.Context, ownerID, seriesID string, date recurrence.Date, reason string) (*storage.Series, error) {
	if date.IsZero() {
		return nil, fmt.Errorf("%w: exception date is required", ErrValidation)
	}

	unlock := s.locks.Lock(seriesID)
	defer unlock()

	var updated *storage.Series
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		current, err := tx.GetSeries(ctx, ownerID, seriesID)
		if err != nil {
			return err
		}
		if err := current.AddException(date, storage.ActionDelete, reason); err != nil {
			return err
		}
		updated = current
		return tx.UpdateSeries(ctx, current)
	})
	if err != nil {
		return nil, translate(err, 1)
	}

	s.logger.Info("exception added",
		"series_id", seriesID,
		"date", date)
	return updated, nil
}

// UpdateSeries edits series metadata directly, without splitting.
func (s *Service) UpdateSeries(ctx context.Context, ownerID, seriesID string, patch SeriesPatch) (*storage.Series, error) {
	if r, ok := patch.Recurrence.Get(); ok {
		if err := recurrence.Validate(r); err != nil {
			return nil, translate(err, 0)
		}
	}

	unlock := s.locks.Lock(seriesID)
	defer unlock()

	var updated *storage.Series
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		current, err := tx.GetSeries(ctx, ownerID, seriesID)
		if err != nil {
			return err
		}
		if err := checkVersion(current, patch.ExpectedVersion); err != nil {
			return err
		}

		if end, ok := patch.EndDate.Get(); ok {
			current.EndDate = end
		}
		if r, ok := patch.Recurrence.Get(); ok {
			current.Recurrence = r
		}
		if notes, ok := patch.Notes.Get(); ok {
			current.Notes = notes
		}
		if active, ok := patch.IsActive.Get(); ok {
			current.IsActive = active
		}
		if err := current.Validate(); err != nil {
			return err
		}
		updated = current
		return tx.UpdateSeries(ctx, current)
	})
	if err != nil {
		return nil, translate(err, 1)
	}

	s.logger.Info("series updated",
		"series_id", seriesID,
		"version", updated.Version)
	return updated, nil
}

// DeleteSeries removes a series and its exceptions.
func (s *Service) DeleteSeries(ctx context.Context, ownerID, seriesID string) error {
	unlock := s.locks.Lock(seriesID)
	defer unlock()

	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		current, err := tx.GetSeries(ctx, ownerID, seriesID)
		if err != nil {
			return err
		}
		return tx.DeleteSeries(ctx, ownerID, seriesID, current.Version)
	})
	if err != nil {
		return translate(err, 1)
	}

	s.logger.Info("series deleted", "series_id", seriesID)
	return nil
}

// GetSeries returns one series.
func (s *Service) GetSeries(ctx context.Context, ownerID, seriesID string) (*storage.Series, error) {
	series, err := s.store.GetSeries(ctx, ownerID, seriesID)
	if err != nil {
		return nil, translate(err, 0)
	}
	return series, nil
}

// ListSeries returns every series of the owner, including inactive ones.
func (s *Service) ListSeries(ctx context.Context, ownerID string) ([]*storage.Series, error) {
	list, err := s.store.ListSeries(ctx, ownerID, nil)
	if err != nil {
		return nil, translate(err, 0)
	}
	return list, nil
}

func (s *Service) checkTemplate(ctx context.Context, ownerID, templateID string) error {
	if templateID == "" {
		return fmt.Errorf("%w: template id is required", ErrValidation)
	}
	if _, err := s.store.GetTemplate(ctx, ownerID, templateID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: template %s", ErrNotFound, templateID)
		}
		return translate(err, 0)
	}
	return nil
}

func checkVersion(current *storage.Series, expected mo.Option[int64]) error {
	if v, ok := expected.Get(); ok && v != current.Version {
		return fmt.Errorf("%w: series %s is at version %d, not %d", ErrConflict, current.ID, current.Version, v)
	}
	return nil
}
