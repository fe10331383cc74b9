package recurrence

import (
	"time"

	"github.com/samber/mo"
)

// Window bounds a series independently of its rule's own termination. End
// is inclusive.
type Window struct {
	Start Date
	End   mo.Option[Date]
}

// Engine evaluates rule membership. It holds no mutable state apart from an
// optional cache of count cut-off dates, so one Engine can be shared by
// concurrent readers.
type Engine struct {
	weekStart time.Weekday
	horizon   int
	cache     *CountCache
	config    EngineConfig
}

// NewEngine creates an engine with DefaultEngineConfig.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig)
}

var pureEngine = NewEngineWithConfig(DisabledCacheConfig)

// OccursOn reports whether a series with window w and rule r has an
// occurrence on d, using Sunday-based weeks and no cache.
func OccursOn(w Window, r Rule, d Date) bool {
	return pureEngine.OccursOn(w, r, d)
}

// WeekStart returns the first day of the week used for weekly intervals.
func (e *Engine) WeekStart() time.Weekday {
	return e.weekStart
}

// OccursOn reports whether a series with window w and rule r has an
// occurrence on d. Exceptions are not considered here.
func (e *Engine) OccursOn(w Window, r Rule, d Date) bool {
	if r == nil || d.Before(w.Start) {
		return false
	}
	if r.Kind() == KindNone {
		return d == w.Start
	}
	if end, ok := w.End.Get(); ok && d.After(end) {
		return false
	}
	term := r.Termination()
	if until, ok := term.Until.Get(); ok && d.After(until) {
		return false
	}
	if !r.matches(w.Start, d, e.weekStart) {
		return false
	}
	if n, ok := term.Count.Get(); ok {
		return !d.After(e.countCutoff(w.Start, r, n))
	}
	return true
}

// Occurrences lists the dates in [from, to] on which the series occurs, in
// ascending order.
func (e *Engine) Occurrences(w Window, r Rule, from, to Date) []Date {
	from, to, ok := e.clip(w, r, from, to)
	if !ok {
		return nil
	}
	var dates []Date
	for d := from; !d.After(to); d = d.AddDays(1) {
		if e.OccursOn(w, r, d) {
			dates = append(dates, d)
		}
	}
	return dates
}

// HasOccurrenceInRange reports whether the series occurs at least once in
// [from, to].
func (e *Engine) HasOccurrenceInRange(w Window, r Rule, from, to Date) bool {
	from, to, ok := e.clip(w, r, from, to)
	if !ok {
		return false
	}
	for d := from; !d.After(to); d = d.AddDays(1) {
		if e.OccursOn(w, r, d) {
			return true
		}
	}
	return false
}

// FirstOccurrence returns the earliest occurrence of the series, which is
// later than the window start when the start does not match the rule. It
// reports false when nothing occurs within the engine's horizon.
func (e *Engine) FirstOccurrence(w Window, r Rule) (Date, bool) {
	from, to, ok := e.clip(w, r, w.Start, w.Start.AddDays(e.horizon))
	if !ok {
		return Date{}, false
	}
	for d := from; !d.After(to); d = d.AddDays(1) {
		if e.OccursOn(w, r, d) {
			return d, true
		}
	}
	return Date{}, false
}

// LastOccurrence returns the final occurrence of a bounded series. It
// reports false for series that repeat indefinitely or never occur.
func (e *Engine) LastOccurrence(w Window, r Rule) (Date, bool) {
	if r == nil {
		return Date{}, false
	}
	if r.Kind() == KindNone {
		return w.Start, true
	}
	term := r.Termination()
	var bound Date
	switch {
	case term.Count.IsPresent():
		bound = e.countCutoff(w.Start, r, term.Count.MustGet())
	case term.Until.IsPresent():
		bound = term.Until.MustGet()
	case w.End.IsPresent():
		bound = w.End.MustGet()
	default:
		return Date{}, false
	}
	if end, ok := w.End.Get(); ok {
		bound = MinDate(bound, end)
	}
	for d := bound; !d.Before(w.Start); d = d.AddDays(-1) {
		if e.OccursOn(w, r, d) {
			return d, true
		}
	}
	return Date{}, false
}

// clip narrows [from, to] to the part that can contain occurrences.
func (e *Engine) clip(w Window, r Rule, from, to Date) (Date, Date, bool) {
	if r == nil {
		return from, to, false
	}
	from = MaxDate(from, w.Start)
	if r.Kind() == KindNone {
		to = MinDate(to, w.Start)
		return from, to, !from.After(to)
	}
	if end, ok := w.End.Get(); ok {
		to = MinDate(to, end)
	}
	if until, ok := r.Termination().Until.Get(); ok {
		to = MinDate(to, until)
	}
	return from, to, !from.After(to)
}

// countCutoff returns the date of the n-th raw occurrence counted forward
// from start. When fewer than n occurrences exist within the engine's
// horizon the horizon's last day is returned.
func (e *Engine) countCutoff(start Date, r Rule, n int) Date {
	if e.cache != nil {
		if cutoff, ok := e.cache.Get(start, r, e.weekStart, n); ok {
			return cutoff
		}
	}

	limit := start.AddDays(e.horizon)
	cutoff := limit
	seen := 0
	for d := start; !d.After(limit); d = d.AddDays(1) {
		if r.matches(start, d, e.weekStart) {
			seen++
			if seen == n {
				cutoff = d
				break
			}
		}
	}

	if e.cache != nil {
		e.cache.Set(start, r, e.weekStart, n, cutoff)
	}
	return cutoff
}
