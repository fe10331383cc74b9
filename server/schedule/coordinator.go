package schedule

import (
	"context"
	"fmt"

	"github.com/cod31nvictus/eterny/server/recurrence"
	"github.com/cod31nvictus/eterny/server/storage"
	"github.com/samber/mo"
)

// Scope is the breadth of a mutation.
type Scope string

const (
	ScopeThis          Scope = "this"
	ScopeThisAndFuture Scope = "thisAndFuture"
	ScopeAll           Scope = "all"
)

// ParseScope validates a scope received from a caller.
func ParseScope(s string) (Scope, error) {
	switch sc := Scope(s); sc {
	case ScopeThis, ScopeThisAndFuture, ScopeAll:
		return sc, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidScope, s)
}

// Edit carries the new definition for an edit. An absent field keeps the
// series' current value.
type Edit struct {
	TemplateID mo.Option[string]
	Recurrence mo.Option[recurrence.Rule]
}

// Change describes one scoped mutation. Edit is nil for deletes.
type Change struct {
	Scope        Scope
	OriginalDate recurrence.Date
	Edit         *Edit
	Reason       string
}

// Mutation is the set of writes a Change turns into. Nothing is written
// until Commit runs inside a storage transaction.
type Mutation struct {
	// Update replaces the original series.
	Update *storage.Series
	// Delete removes the original series.
	Delete *storage.Series
	// Create is a new series split off the original.
	Create *storage.Series
}

// Writes returns how many documents the mutation touches.
func (m *Mutation) Writes() int {
	n := 0
	for _, s := range []*storage.Series{m.Update, m.Delete, m.Create} {
		if s != nil {
			n++
		}
	}
	return n
}

// Commit applies the writes through tx, original series first.
func (m *Mutation) Commit(ctx context.Context, tx storage.Tx) error {
	if m.Update != nil {
		if err := tx.UpdateSeries(ctx, m.Update); err != nil {
			return fmt.Errorf("update series %s: %w", m.Update.ID, err)
		}
	}
	if m.Delete != nil {
		if err := tx.DeleteSeries(ctx, m.Delete.OwnerID, m.Delete.ID, m.Delete.Version); err != nil {
			return fmt.Errorf("delete series %s: %w", m.Delete.ID, err)
		}
	}
	if m.Create != nil {
		if err := tx.CreateSeries(ctx, m.Create); err != nil {
			return fmt.Errorf("create series %s: %w", m.Create.ID, err)
		}
	}
	return nil
}

// Coordinator turns scoped edits and deletes into Mutations. It never
// touches storage itself.
type Coordinator struct {
	Engine *recurrence.Engine
	NewID  func() string
}

// Apply plans ch against s. The returned mutation holds copies; s is left
// untouched.
func (c *Coordinator) Apply(s *storage.Series, ch Change) (*Mutation, error) {
	if _, err := ParseScope(string(ch.Scope)); err != nil {
		return nil, err
	}
	if ch.Edit != nil {
		if err := validateEdit(ch.Edit); err != nil {
			return nil, err
		}
	}

	if ch.Scope != ScopeAll {
		d := ch.OriginalDate
		if !c.Engine.OccursOn(s.Window(), s.Recurrence, d) || s.IsExcepted(d) {
			return nil, fmt.Errorf("%w: series %s has no occurrence on %s", ErrNotOccurrence, s.ID, d)
		}
	}

	switch ch.Scope {
	case ScopeThis:
		return c.applyThis(s, ch)
	case ScopeThisAndFuture:
		return c.applyThisAndFuture(s, ch)
	default:
		return c.applyAll(s, ch)
	}
}

func (c *Coordinator) applyThis(s *storage.Series, ch Change) (*Mutation, error) {
	old := s.Clone()
	if err := old.AddException(ch.OriginalDate, storage.ActionDelete, ch.Reason); err != nil {
		return nil, err
	}
	m := &Mutation{Update: old}
	if ch.Edit == nil {
		return m, nil
	}

	m.Create = &storage.Series{
		ID:         c.NewID(),
		OwnerID:    s.OwnerID,
		TemplateID: ch.Edit.TemplateID.OrElse(s.TemplateID),
		StartDate:  ch.OriginalDate,
		EndDate:    mo.Some(ch.OriginalDate),
		Recurrence: recurrence.None{},
		IsActive:   true,
		Notes:      s.Notes,
	}
	return m, nil
}

func (c *Coordinator) applyThisAndFuture(s *storage.Series, ch Change) (*Mutation, error) {
	d := ch.OriginalDate
	m := &Mutation{}

	// Nothing remains before d, so the original goes away instead of
	// ending before it starts.
	if !d.After(s.StartDate) {
		m.Delete = s.Clone()
	} else {
		old := s.Clone()
		old.EndDate = mo.Some(d.AddDays(-1))
		for date := range old.Exceptions {
			if !date.Before(d) {
				delete(old.Exceptions, date)
			}
		}
		m.Update = old
	}
	if ch.Edit == nil {
		return m, nil
	}

	rule, ok := ch.Edit.Recurrence.Get()
	if !ok {
		rule = c.remainder(s, d)
	}
	next := &storage.Series{
		ID:         c.NewID(),
		OwnerID:    s.OwnerID,
		TemplateID: ch.Edit.TemplateID.OrElse(s.TemplateID),
		StartDate:  d,
		EndDate:    s.EndDate,
		Recurrence: rule,
		IsActive:   s.IsActive,
		Notes:      s.Notes,
	}
	for date, exc := range s.Exceptions {
		if date.After(d) {
			if next.Exceptions == nil {
				next.Exceptions = make(map[recurrence.Date]storage.Exception)
			}
			next.Exceptions[date] = exc
		}
	}
	m.Create = next
	return m, nil
}

// remainder returns the rule that continues s from d onwards. A count
// budget is reduced by the raw occurrences already spent before d.
func (c *Coordinator) remainder(s *storage.Series, d recurrence.Date) recurrence.Rule {
	n, ok := s.Recurrence.Termination().Count.Get()
	if !ok || !d.After(s.StartDate) {
		return s.Recurrence
	}
	spent := len(c.Engine.Occurrences(s.Window(), s.Recurrence, s.StartDate, d.AddDays(-1)))
	return recurrence.WithTermination(s.Recurrence, recurrence.Count(n-spent))
}

func (c *Coordinator) applyAll(s *storage.Series, ch Change) (*Mutation, error) {
	if ch.Edit == nil {
		return &Mutation{Delete: s.Clone()}, nil
	}
	old := s.Clone()
	old.TemplateID = ch.Edit.TemplateID.OrElse(old.TemplateID)
	old.Recurrence = ch.Edit.Recurrence.OrElse(old.Recurrence)
	return &Mutation{Update: old}, nil
}

func validateEdit(e *Edit) error {
	if e.TemplateID.IsAbsent() && e.Recurrence.IsAbsent() {
		return fmt.Errorf("%w: edit must change the template or the recurrence", ErrValidation)
	}
	if id, ok := e.TemplateID.Get(); ok && id == "" {
		return fmt.Errorf("%w: template id is empty", ErrValidation)
	}
	if r, ok := e.Recurrence.Get(); ok {
		if err := recurrence.Validate(r); err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}
	return nil
}
