package recurrence

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"
)

// The evaluator must agree with an RFC 5545 implementation wherever the two
// define the same pattern.
func TestEngine_AgreesWithRRule(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name   string
		window Window
		rule   Rule
	}{
		{"Daily interval 3 with count", Window{Start: MustParseDate("2024-01-01")}, Daily{Interval: 3, End: Count(10)}},
		{"Weekly biweekly", Window{Start: MustParseDate("2024-01-01")}, Weekly{Interval: 2, Weekdays: []time.Weekday{time.Monday, time.Wednesday, time.Friday}}},
		{"Weekly with until", Window{Start: MustParseDate("2024-01-07")}, Weekly{Interval: 1, Weekdays: []time.Weekday{time.Sunday, time.Thursday}, End: Until(MustParseDate("2024-06-30"))}},
		{"Monthly 31st", Window{Start: MustParseDate("2024-01-31")}, MonthlyByDate{Interval: 1, Days: []int{31}}},
		{"Monthly 1st and 15th every 3 months", Window{Start: MustParseDate("2024-01-01")}, MonthlyByDate{Interval: 3, Days: []int{1, 15}, End: Count(6)}},
		{"Monthly 2nd Tuesday", Window{Start: MustParseDate("2024-01-09")}, MonthlyByWeekday{Interval: 1, Weekdays: []time.Weekday{time.Tuesday}, Positions: []int{2}}},
		{"Monthly last Friday", Window{Start: MustParseDate("2024-01-26")}, MonthlyByWeekday{Interval: 1, Weekdays: []time.Weekday{time.Friday}, Positions: []int{5}}},
		{"Yearly leap day", Window{Start: MustParseDate("2024-02-29")}, Yearly{Interval: 1}},
		{"Series end folded into until", Window{Start: MustParseDate("2024-01-01"), End: mo.Some(MustParseDate("2024-03-15"))}, Weekly{Interval: 1, Weekdays: []time.Weekday{time.Tuesday}}},
		{"Series end with count", Window{Start: MustParseDate("2024-01-01"), End: mo.Some(MustParseDate("2024-01-20"))}, Daily{Interval: 2, End: Count(20)}},
		{"Biweekly from off-pattern start", Window{Start: MustParseDate("2024-01-02")}, Weekly{Interval: 2, Weekdays: []time.Weekday{time.Monday}, End: Count(3)}},
		{"Monthly from off-pattern start", Window{Start: MustParseDate("2024-01-20")}, MonthlyByDate{Interval: 2, Days: []int{10}}},
	}

	from, to := MustParseDate("2024-01-01"), MustParseDate("2026-12-31")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt, ok := engine.ToROption(tt.window, tt.rule)
			require.True(t, ok)

			r, err := rrule.NewRRule(*opt)
			require.NoError(t, err)

			var want []Date
			for _, occ := range r.Between(from.Time(), to.Time(), true) {
				want = append(want, DateOf(occ.UTC()))
			}
			assert.Equal(t, want, engine.Occurrences(tt.window, tt.rule, from, to))
		})
	}
}

func TestEngine_ToROptionNone(t *testing.T) {
	_, ok := NewEngine().ToROption(Window{Start: MustParseDate("2024-01-01")}, None{})
	assert.False(t, ok)
	assert.Equal(t, "", NewEngine().RRuleString(Window{Start: MustParseDate("2024-01-01")}, None{}))
}

func TestEngine_RRuleString(t *testing.T) {
	engine := NewEngine()
	s := engine.RRuleString(Window{Start: MustParseDate("2024-01-01")}, MonthlyByWeekday{
		Interval:  2,
		Weekdays:  []time.Weekday{time.Monday},
		Positions: []int{1, 5},
		End:       Count(4),
	})

	assert.Contains(t, s, "FREQ=MONTHLY")
	assert.Contains(t, s, "INTERVAL=2")
	assert.Contains(t, s, "COUNT=4")
	assert.Contains(t, s, "BYDAY=")
	assert.Contains(t, s, "1MO,-1MO")
}

func TestEngine_NewEvent(t *testing.T) {
	engine := NewEngine()
	info := EventInfo{
		UID:         "series-1",
		Summary:     "Deep work day",
		Description: "focus",
		Window:      Window{Start: MustParseDate("2024-01-01")},
		Rule:        Weekly{Interval: 1, Weekdays: []time.Weekday{time.Monday}},
		ExDates:     dates("2024-01-15", "2024-01-22"),
		Stamp:       time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
	}

	data, err := EncodeCalendar(engine.NewEvent(info))
	require.NoError(t, err)

	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	require.NoError(t, err)
	events := cal.Events()
	require.Len(t, events, 1)

	event := events[0]
	uid, err := event.Props.Text(ical.PropUID)
	require.NoError(t, err)
	assert.Equal(t, "series-1", uid)

	summary, err := event.Props.Text(ical.PropSummary)
	require.NoError(t, err)
	assert.Equal(t, "Deep work day", summary)

	rruleProp := event.Props.Get(ical.PropRecurrenceRule)
	require.NotNil(t, rruleProp)
	assert.True(t, strings.HasPrefix(rruleProp.Value, "FREQ=WEEKLY"))
	assert.Contains(t, rruleProp.Value, "BYDAY=MO")

	exdate := event.Props.Get(ical.PropExceptionDates)
	require.NotNil(t, exdate)
	parsed, err := ParseExceptionDates(exdate.Value)
	require.NoError(t, err)
	assert.Equal(t, info.ExDates, parsed)
}

func TestEngine_NewEventStartsOnFirstOccurrence(t *testing.T) {
	engine := NewEngine()
	w := Window{Start: MustParseDate("2024-01-02")}
	rule := Weekly{Interval: 1, Weekdays: []time.Weekday{time.Monday}, End: Count(2)}

	event := engine.NewEvent(EventInfo{UID: "tuesday-start", Window: w, Rule: rule, Stamp: time.Now()})

	dtstart := event.Props.Get(ical.PropDateTimeStart)
	require.NotNil(t, dtstart)
	assert.Equal(t, "20240108", dtstart.Value)
	assert.Equal(t, "20240109", event.Props.Get(ical.PropDateTimeEnd).Value)
	assert.True(t, engine.OccursOn(w, rule, MustParseDate("2024-01-08")))
	assert.Nil(t, event.Props.Get(ical.PropExceptionDates))

	opt, ok := engine.ToROption(w, rule)
	require.True(t, ok)
	r, err := rrule.NewRRule(*opt)
	require.NoError(t, err)
	var got []Date
	for _, occ := range r.All() {
		got = append(got, DateOf(occ.UTC()))
	}
	assert.Equal(t, dates("2024-01-08", "2024-01-15"), got)
}

func TestEngine_NewEventWithoutOccurrences(t *testing.T) {
	engine := NewEngine()
	w := Window{Start: MustParseDate("2024-01-02"), End: mo.Some(MustParseDate("2024-01-05"))}
	rule := Weekly{Interval: 1, Weekdays: []time.Weekday{time.Monday}}

	_, ok := engine.FirstOccurrence(w, rule)
	assert.False(t, ok)

	event := engine.NewEvent(EventInfo{UID: "empty", Window: w, Rule: rule, Stamp: time.Now()})
	assert.Equal(t, "20240102", event.Props.Get(ical.PropDateTimeStart).Value)
	exdate := event.Props.Get(ical.PropExceptionDates)
	require.NotNil(t, exdate)
	assert.Equal(t, "20240102", exdate.Value)
}

func TestEngine_NewEventSingle(t *testing.T) {
	event := NewEngine().NewEvent(EventInfo{
		UID:    "single",
		Window: Window{Start: MustParseDate("2024-05-05")},
		Rule:   None{},
		// Exceptions are meaningless for a single occurrence.
		ExDates: dates("2024-05-05"),
		Stamp:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	assert.Nil(t, event.Props.Get(ical.PropRecurrenceRule))
	assert.Nil(t, event.Props.Get(ical.PropExceptionDates))
	assert.NotNil(t, event.Props.Get(ical.PropDateTimeStart))
}

func TestParseExceptionDates(t *testing.T) {
	got, err := ParseExceptionDates("20240101, 20240301")
	require.NoError(t, err)
	assert.Equal(t, dates("2024-01-01", "2024-03-01"), got)

	got, err = ParseExceptionDates("")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = ParseExceptionDates("2024-01-01")
	assert.Error(t, err)
}
