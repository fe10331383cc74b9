package recurrence

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/samber/mo"
)

// ErrInvalidRule is returned when a rule's shape violates its kind's
// constraints.
var ErrInvalidRule = errors.New("invalid recurrence rule")

// Kind names a rule variant on the wire.
type Kind string

const (
	KindNone    Kind = "none"
	KindDaily   Kind = "daily"
	KindWeekly  Kind = "weekly"
	KindMonthly Kind = "monthly"
	KindYearly  Kind = "yearly"
)

// Rule is a recurrence pattern. The set of implementations is closed: None,
// Daily, Weekly, MonthlyByDate, MonthlyByWeekday and Yearly.
type Rule interface {
	Kind() Kind
	// Termination reports the rule's own end condition. None always returns
	// the zero Termination.
	Termination() Termination
	// Validate checks the rule's shape.
	Validate() error

	// matches reports pattern membership of d for a series starting at
	// start, ignoring every termination bound. d is never before start.
	matches(start, d Date, weekStart time.Weekday) bool
}

// Termination ends a repeating rule either on a date (inclusive) or after a
// number of raw occurrences. The zero value repeats indefinitely.
type Termination struct {
	Until mo.Option[Date]
	Count mo.Option[int]
}

// Until ends a rule on d, inclusive.
func Until(d Date) Termination {
	return Termination{Until: mo.Some(d)}
}

// Count ends a rule after n raw occurrences.
func Count(n int) Termination {
	return Termination{Count: mo.Some(n)}
}

func (t Termination) IsIndefinite() bool {
	return t.Until.IsAbsent() && t.Count.IsAbsent()
}

func (t Termination) validate() error {
	if t.Until.IsPresent() && t.Count.IsPresent() {
		return fmt.Errorf("%w: endDate and count are mutually exclusive", ErrInvalidRule)
	}
	if n, ok := t.Count.Get(); ok && n < 1 {
		return fmt.Errorf("%w: count must be at least 1, got %d", ErrInvalidRule, n)
	}
	return nil
}

// None is a single occurrence on the series start date.
type None struct{}

func (None) Kind() Kind               { return KindNone }
func (None) Termination() Termination { return Termination{} }
func (None) Validate() error          { return nil }

func (None) matches(start, d Date, _ time.Weekday) bool {
	return d == start
}

// Daily repeats every Interval days.
type Daily struct {
	Interval int
	End      Termination
}

func (r Daily) Kind() Kind               { return KindDaily }
func (r Daily) Termination() Termination { return r.End }

func (r Daily) Validate() error {
	if err := validateInterval(r.Interval); err != nil {
		return err
	}
	return r.End.validate()
}

func (r Daily) matches(start, d Date, _ time.Weekday) bool {
	return d.DaysSince(start)%r.Interval == 0
}

// Weekly repeats on the given weekdays of every Interval-th week, counting
// the week containing the start date as week zero.
type Weekly struct {
	Interval int
	Weekdays []time.Weekday
	End      Termination
}

func (r Weekly) Kind() Kind               { return KindWeekly }
func (r Weekly) Termination() Termination { return r.End }

func (r Weekly) Validate() error {
	if err := validateInterval(r.Interval); err != nil {
		return err
	}
	if err := validateWeekdays(r.Weekdays); err != nil {
		return err
	}
	return r.End.validate()
}

func (r Weekly) matches(start, d Date, weekStart time.Weekday) bool {
	if !slices.Contains(r.Weekdays, d.Weekday()) {
		return false
	}
	weeks := startOfWeek(d, weekStart).DaysSince(startOfWeek(start, weekStart)) / 7
	return weeks%r.Interval == 0
}

// MonthlyByDate repeats on the given days of month of every Interval-th
// month. A day missing from a month (e.g. 31 in April) yields nothing that
// month.
type MonthlyByDate struct {
	Interval int
	Days     []int
	End      Termination
}

func (r MonthlyByDate) Kind() Kind               { return KindMonthly }
func (r MonthlyByDate) Termination() Termination { return r.End }

func (r MonthlyByDate) Validate() error {
	if err := validateInterval(r.Interval); err != nil {
		return err
	}
	if len(r.Days) == 0 {
		return fmt.Errorf("%w: monthly rule needs at least one day of month", ErrInvalidRule)
	}
	for _, day := range r.Days {
		if day < 1 || day > 31 {
			return fmt.Errorf("%w: day of month %d out of range 1..31", ErrInvalidRule, day)
		}
	}
	return r.End.validate()
}

func (r MonthlyByDate) matches(start, d Date, _ time.Weekday) bool {
	return slices.Contains(r.Days, d.Day) && d.MonthsSince(start)%r.Interval == 0
}

// MonthlyByWeekday repeats on the n-th weekdays of every Interval-th month,
// e.g. the 2nd Tuesday. Position 5 means the last such weekday even in
// months that only have four.
type MonthlyByWeekday struct {
	Interval  int
	Weekdays  []time.Weekday
	Positions []int
	End       Termination
}

func (r MonthlyByWeekday) Kind() Kind               { return KindMonthly }
func (r MonthlyByWeekday) Termination() Termination { return r.End }

func (r MonthlyByWeekday) Validate() error {
	if err := validateInterval(r.Interval); err != nil {
		return err
	}
	if err := validateWeekdays(r.Weekdays); err != nil {
		return err
	}
	if len(r.Positions) == 0 {
		return fmt.Errorf("%w: monthly rule needs at least one bySetPos", ErrInvalidRule)
	}
	for _, pos := range r.Positions {
		if pos < 1 || pos > 5 {
			return fmt.Errorf("%w: bySetPos %d out of range 1..5", ErrInvalidRule, pos)
		}
	}
	return r.End.validate()
}

func (r MonthlyByWeekday) matches(start, d Date, _ time.Weekday) bool {
	if !slices.Contains(r.Weekdays, d.Weekday()) || d.MonthsSince(start)%r.Interval != 0 {
		return false
	}
	if slices.Contains(r.Positions, WeekOfMonth(d)) {
		return true
	}
	return slices.Contains(r.Positions, 5) && IsLastWeekdayOfMonth(d)
}

// Yearly repeats every Interval years on the start date's month and day.
type Yearly struct {
	Interval int
	End      Termination
}

func (r Yearly) Kind() Kind               { return KindYearly }
func (r Yearly) Termination() Termination { return r.End }

func (r Yearly) Validate() error {
	if err := validateInterval(r.Interval); err != nil {
		return err
	}
	return r.End.validate()
}

func (r Yearly) matches(start, d Date, _ time.Weekday) bool {
	return d.Month == start.Month && d.Day == start.Day && (d.Year-start.Year)%r.Interval == 0
}

// WeekOfMonth returns the 1-based ordinal of d's weekday within its month.
func WeekOfMonth(d Date) int {
	return (d.Day-1)/7 + 1
}

// IsLastWeekdayOfMonth reports whether no later day of d's month shares its
// weekday.
func IsLastWeekdayOfMonth(d Date) bool {
	return d.Day+7 > DaysIn(d.Year, d.Month)
}

func startOfWeek(d Date, weekStart time.Weekday) Date {
	offset := (int(d.Weekday()) - int(weekStart) + 7) % 7
	return d.AddDays(-offset)
}

func validateInterval(interval int) error {
	if interval < 1 {
		return fmt.Errorf("%w: interval must be at least 1, got %d", ErrInvalidRule, interval)
	}
	return nil
}

func validateWeekdays(days []time.Weekday) error {
	if len(days) == 0 {
		return fmt.Errorf("%w: at least one day of week is required", ErrInvalidRule)
	}
	for _, wd := range days {
		if wd < time.Sunday || wd > time.Saturday {
			return fmt.Errorf("%w: day of week %d out of range 0..6", ErrInvalidRule, int(wd))
		}
	}
	return nil
}

// Validate checks r, treating a nil rule as invalid.
func Validate(r Rule) error {
	if r == nil {
		return fmt.Errorf("%w: recurrence is required", ErrInvalidRule)
	}
	return r.Validate()
}

// WithTermination returns a copy of r ending with t. None has no
// termination and is returned unchanged.
func WithTermination(r Rule, t Termination) Rule {
	switch v := r.(type) {
	case Daily:
		v.End = t
		return v
	case Weekly:
		v.End = t
		return v
	case MonthlyByDate:
		v.End = t
		return v
	case MonthlyByWeekday:
		v.End = t
		return v
	case Yearly:
		v.End = t
		return v
	}
	return r
}
