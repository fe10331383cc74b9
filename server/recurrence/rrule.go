package recurrence

import (
	"time"

	"github.com/teambition/rrule-go"
)

var rruleWeekdays = [...]rrule.Weekday{
	time.Sunday:    rrule.SU,
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
}

// ToROption converts a series window and rule into RFC 5545 options. It
// reports false for None, which has no RRULE form. A series end bound is
// folded into UNTIL; when it has to coexist with COUNT the effective last
// occurrence is used as UNTIL instead. DTSTART is the first occurrence so
// that clients counting DTSTART as an instance agree with the engine; the
// first occurrence always falls in an aligned period, so intervals keep
// their phase.
func (e *Engine) ToROption(w Window, r Rule) (*rrule.ROption, bool) {
	opt := &rrule.ROption{
		Dtstart: e.dtstart(w, r).Time(),
		Wkst:    rruleWeekdays[e.weekStart],
	}

	switch rule := r.(type) {
	case Daily:
		opt.Freq = rrule.DAILY
		opt.Interval = rule.Interval
	case Weekly:
		opt.Freq = rrule.WEEKLY
		opt.Interval = rule.Interval
		opt.Byweekday = toRRuleWeekdays(rule.Weekdays, 0)
	case MonthlyByDate:
		opt.Freq = rrule.MONTHLY
		opt.Interval = rule.Interval
		opt.Bymonthday = append([]int(nil), rule.Days...)
	case MonthlyByWeekday:
		opt.Freq = rrule.MONTHLY
		opt.Interval = rule.Interval
		for _, pos := range rule.Positions {
			// 5 is "last" for this rule; -1 says the same in RRULE terms and
			// also covers four-week months.
			if pos == 5 {
				pos = -1
			}
			opt.Byweekday = append(opt.Byweekday, toRRuleWeekdays(rule.Weekdays, pos)...)
		}
	case Yearly:
		opt.Freq = rrule.YEARLY
		opt.Interval = rule.Interval
	default:
		return nil, false
	}

	term := r.Termination()
	end, hasEnd := w.End.Get()
	switch {
	case term.Count.IsPresent() && hasEnd:
		last, ok := e.LastOccurrence(w, r)
		if !ok {
			last = w.Start.AddDays(-1)
		}
		opt.Until = last.Time()
	case term.Count.IsPresent():
		opt.Count = term.Count.MustGet()
	case term.Until.IsPresent():
		until := term.Until.MustGet()
		if hasEnd {
			until = MinDate(until, end)
		}
		opt.Until = until.Time()
	case hasEnd:
		opt.Until = end.Time()
	}
	return opt, true
}

// dtstart is the first occurrence, or the window start for a series that
// never occurs.
func (e *Engine) dtstart(w Window, r Rule) Date {
	if first, ok := e.FirstOccurrence(w, r); ok {
		return first
	}
	return w.Start
}

// RRuleString renders the RRULE value for a series, without the "RRULE:"
// prefix. It returns "" for None.
func (e *Engine) RRuleString(w Window, r Rule) string {
	opt, ok := e.ToROption(w, r)
	if !ok {
		return ""
	}
	return opt.RRuleString()
}

func toRRuleWeekdays(days []time.Weekday, nth int) []rrule.Weekday {
	out := make([]rrule.Weekday, 0, len(days))
	for _, d := range days {
		wd := rruleWeekdays[d]
		if nth != 0 {
			wd = wd.Nth(nth)
		}
		out = append(out, wd)
	}
	return out
}
