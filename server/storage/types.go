package storage

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/cod31nvictus/eterny/server/recurrence"
	"github.com/samber/mo"
)

// Template is the read-only view of a day template this engine needs: who
// owns it and what to call it.
type Template struct {
	ID      string
	OwnerID string
	Name    string
}

// ExceptionAction is what an exception does to its occurrence.
type ExceptionAction string

const (
	// ActionDelete removes the occurrence.
	ActionDelete ExceptionAction = "delete"
	// ActionModify is reserved for per-date overrides. Nothing produces it
	// yet and resolution treats it like any other exception.
	ActionModify ExceptionAction = "modify"
)

// Exception overrides one occurrence of a series.
type Exception struct {
	Date   recurrence.Date
	Action ExceptionAction
	Reason string
}

// Series assigns a template to a start date and an optional recurrence.
type Series struct {
	ID         string
	OwnerID    string
	TemplateID string
	StartDate  recurrence.Date
	// EndDate is a hard upper bound independent of the rule's termination.
	EndDate    mo.Option[recurrence.Date]
	Recurrence recurrence.Rule
	Exceptions map[recurrence.Date]Exception
	IsActive   bool
	Notes      string

	// Version increases by one on every committed update. Updates carrying
	// a stale version fail with ErrConflict.
	Version  int64
	Created  time.Time
	Modified time.Time
}

// Window returns the date bounds used by the recurrence engine.
func (s *Series) Window() recurrence.Window {
	return recurrence.Window{Start: s.StartDate, End: s.EndDate}
}

// IsExcepted reports whether the ledger holds an entry for d.
func (s *Series) IsExcepted(d recurrence.Date) bool {
	_, ok := s.Exceptions[d]
	return ok
}

// AddException records an exception at d. An existing entry for the same
// date is never merged or replaced.
func (s *Series) AddException(d recurrence.Date, action ExceptionAction, reason string) error {
	if s.IsExcepted(d) {
		return fmt.Errorf("%w: series %s already has an exception on %s", ErrDuplicateException, s.ID, d)
	}
	if s.Exceptions == nil {
		s.Exceptions = make(map[recurrence.Date]Exception)
	}
	s.Exceptions[d] = Exception{Date: d, Action: action, Reason: reason}
	return nil
}

// ExceptionDates returns the excepted dates in ascending order.
func (s *Series) ExceptionDates() []recurrence.Date {
	out := slices.Collect(maps.Keys(s.Exceptions))
	slices.SortFunc(out, recurrence.Date.Compare)
	return out
}

// Validate checks the date and rule constraints that do not depend on storage.
func (s *Series) Validate() error {
	if s.TemplateID == "" {
		return fmt.Errorf("%w: template id is required", ErrInvalidInput)
	}
	if s.StartDate.IsZero() {
		return fmt.Errorf("%w: start date is required", ErrInvalidInput)
	}
	if end, ok := s.EndDate.Get(); ok && end.Before(s.StartDate) {
		return fmt.Errorf("%w: end date %s is before start date %s", ErrInvalidInput, end, s.StartDate)
	}
	if err := recurrence.Validate(s.Recurrence); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}

// Clone returns a deep copy. Rules are immutable values and are shared.
func (s *Series) Clone() *Series {
	c := *s
	c.Exceptions = maps.Clone(s.Exceptions)
	return &c
}

// ListOptions narrows ListSeries results.
type ListOptions struct {
	// Series whose [StartDate, EndDate] does not intersect [Start, End] are
	// skipped. Either bound may be nil.
	Start *recurrence.Date
	End   *recurrence.Date

	ActiveOnly bool
}

// Matches reports whether s passes the filter.
func (o *ListOptions) Matches(s *Series) bool {
	if o == nil {
		return true
	}
	if o.ActiveOnly && !s.IsActive {
		return false
	}
	if o.End != nil && s.StartDate.After(*o.End) {
		return false
	}
	if o.Start == nil {
		return true
	}
	// A single assignment only ever lands on its start date.
	if s.Recurrence == nil || s.Recurrence.Kind() == recurrence.KindNone {
		return !s.StartDate.Before(*o.Start)
	}
	if end, ok := s.EndDate.Get(); ok && end.Before(*o.Start) {
		return false
	}
	return true
}

// SortSeries orders series by start date, creation time, then id so that
// listings are stable across backends.
func SortSeries(list []*Series) {
	slices.SortFunc(list, func(a, b *Series) int {
		if c := a.StartDate.Compare(b.StartDate); c != 0 {
			return c
		}
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
