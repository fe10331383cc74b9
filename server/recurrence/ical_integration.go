package recurrence

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

// ProductID identifies exported calendars.
const ProductID = "-//eterny//Day Plan//EN"

// EventInfo is everything needed to render one series as a VEVENT.
type EventInfo struct {
	UID         string
	Summary     string
	Description string
	Window      Window
	Rule        Rule
	ExDates     []Date
	Stamp       time.Time
}

// NewEvent renders a series as an all-day VEVENT carrying RRULE and EXDATE.
// DTSTART is the first occurrence. A series without any occurrence keeps its
// start as DTSTART and excludes it.
func (e *Engine) NewEvent(info EventInfo) *ical.Event {
	start, occurs := e.FirstOccurrence(info.Window, info.Rule)
	exDates := info.ExDates
	if !occurs {
		start = info.Window.Start
		exDates = append([]Date{start}, exDates...)
	}

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, info.UID)
	event.Props.SetDateTime(ical.PropDateTimeStamp, info.Stamp.UTC())
	event.Props.SetDate(ical.PropDateTimeStart, start.Time())
	event.Props.SetDate(ical.PropDateTimeEnd, start.AddDays(1).Time())
	if info.Summary != "" {
		event.Props.SetText(ical.PropSummary, info.Summary)
	}
	if info.Description != "" {
		event.Props.SetText(ical.PropDescription, info.Description)
	}

	if rule := e.RRuleString(info.Window, info.Rule); rule != "" {
		prop := ical.NewProp(ical.PropRecurrenceRule)
		prop.Value = rule
		event.Props.Set(prop)

		if len(exDates) > 0 {
			values := make([]string, len(exDates))
			for i, d := range exDates {
				values[i] = d.Time().Format("20060102")
			}
			exdate := ical.NewProp(ical.PropExceptionDates)
			exdate.Params.Set(ical.ParamValue, string(ical.ValueDate))
			exdate.Value = strings.Join(values, ",")
			event.Props.Set(exdate)
		}
	}
	return event
}

// EncodeCalendar wraps events in a VCALENDAR and encodes it.
func EncodeCalendar(events ...*ical.Event) ([]byte, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)
	for _, event := range events {
		cal.Children = append(cal.Children, event.Component)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("failed to encode calendar: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseExceptionDates reads a VALUE=DATE EXDATE property value.
func ParseExceptionDates(value string) ([]Date, error) {
	if value == "" {
		return nil, nil
	}
	var dates []Date
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, err := time.Parse("20060102", part)
		if err != nil {
			return nil, fmt.Errorf("invalid EXDATE value %q: %w", part, err)
		}
		dates = append(dates, DateOf(t))
	}
	return dates, nil
}
