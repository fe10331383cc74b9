package recurrence

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/samber/mo"
)

// Wire is the flat JSON shape of a rule. It is the only place optional
// per-kind fields live side by side; FromWire turns it into a Rule.
type Wire struct {
	Type        Kind  `json:"type"`
	Interval    *int  `json:"interval,omitempty"`
	DaysOfWeek  []int `json:"daysOfWeek,omitempty"`
	DaysOfMonth []int `json:"daysOfMonth,omitempty"`
	BySetPos    []int `json:"bySetPos,omitempty"`
	EndDate     *Date `json:"endDate,omitempty"`
	Count       *int  `json:"count,omitempty"`
}

// ToWire flattens r.
func ToWire(r Rule) Wire {
	w := Wire{Type: r.Kind()}
	interval := func(i int) *int { return &i }
	switch rule := r.(type) {
	case Daily:
		w.Interval = interval(rule.Interval)
	case Weekly:
		w.Interval = interval(rule.Interval)
		w.DaysOfWeek = weekdaysToInts(rule.Weekdays)
	case MonthlyByDate:
		w.Interval = interval(rule.Interval)
		w.DaysOfMonth = slices.Clone(rule.Days)
	case MonthlyByWeekday:
		w.Interval = interval(rule.Interval)
		w.DaysOfWeek = weekdaysToInts(rule.Weekdays)
		w.BySetPos = slices.Clone(rule.Positions)
	case Yearly:
		w.Interval = interval(rule.Interval)
	}
	term := r.Termination()
	if until, ok := term.Until.Get(); ok {
		w.EndDate = &until
	}
	if n, ok := term.Count.Get(); ok {
		w.Count = &n
	}
	return w
}

// FromWire builds and validates the rule described by w.
func FromWire(w Wire) (Rule, error) {
	interval := 1
	if w.Interval != nil {
		interval = *w.Interval
	}
	var end Termination
	if w.EndDate != nil {
		end.Until = mo.Some(*w.EndDate)
	}
	if w.Count != nil {
		end.Count = mo.Some(*w.Count)
	}

	var r Rule
	switch w.Type {
	case KindNone:
		r = None{}
	case KindDaily:
		r = Daily{Interval: interval, End: end}
	case KindWeekly:
		r = Weekly{Interval: interval, Weekdays: intsToWeekdays(w.DaysOfWeek), End: end}
	case KindMonthly:
		byDate := len(w.DaysOfMonth) > 0
		byWeekday := len(w.DaysOfWeek) > 0 || len(w.BySetPos) > 0
		switch {
		case byDate && byWeekday:
			return nil, fmt.Errorf("%w: monthly rule mixes daysOfMonth with daysOfWeek/bySetPos", ErrInvalidRule)
		case byWeekday:
			r = MonthlyByWeekday{
				Interval:  interval,
				Weekdays:  intsToWeekdays(w.DaysOfWeek),
				Positions: normalizeInts(w.BySetPos),
				End:       end,
			}
		default:
			r = MonthlyByDate{Interval: interval, Days: normalizeInts(w.DaysOfMonth), End: end}
		}
	case KindYearly:
		r = Yearly{Interval: interval, End: end}
	case "":
		return nil, fmt.Errorf("%w: recurrence type is required", ErrInvalidRule)
	default:
		return nil, fmt.Errorf("%w: unknown recurrence type %q", ErrInvalidRule, w.Type)
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// MarshalRule encodes r as JSON.
func MarshalRule(r Rule) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: recurrence is required", ErrInvalidRule)
	}
	return json.Marshal(ToWire(r))
}

// UnmarshalRule decodes and validates a JSON rule.
func UnmarshalRule(data []byte) (Rule, error) {
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return FromWire(w)
}

// Recurrence carries a Rule through encoding/json.
type Recurrence struct {
	Rule Rule
}

func (r Recurrence) MarshalJSON() ([]byte, error) {
	if r.Rule == nil {
		return []byte("null"), nil
	}
	return MarshalRule(r.Rule)
}

func (r *Recurrence) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		r.Rule = nil
		return nil
	}
	rule, err := UnmarshalRule(data)
	if err != nil {
		return err
	}
	r.Rule = rule
	return nil
}

func weekdaysToInts(days []time.Weekday) []int {
	out := make([]int, len(days))
	for i, d := range days {
		out[i] = int(d)
	}
	return out
}

func intsToWeekdays(days []int) []time.Weekday {
	days = normalizeInts(days)
	out := make([]time.Weekday, len(days))
	for i, d := range days {
		out[i] = time.Weekday(d)
	}
	return out
}

func normalizeInts(in []int) []int {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
