package schedule

import (
	"slices"

	"github.com/cod31nvictus/eterny/server/recurrence"
	"github.com/cod31nvictus/eterny/server/storage"
)

// Occurrence is one date a series lands on. It is computed, never stored.
type Occurrence struct {
	SeriesID   string
	TemplateID string
	Date       recurrence.Date
	Notes      string
	Recurrence recurrence.Rule
}

// Day groups the occurrences resolved for one date.
type Day struct {
	Date        recurrence.Date
	Occurrences []Occurrence
}

// Resolve expands series over [start, end]. A date is included for a series
// when the rule produces it and the ledger holds no exception for it.
// Inactive series are skipped. Results are ordered by date and then by the
// position of the series in the input; several series on one date are all
// returned.
func Resolve(engine *recurrence.Engine, series []*storage.Series, start, end recurrence.Date) []Occurrence {
	var out []Occurrence
	for _, s := range series {
		if s == nil || !s.IsActive {
			continue
		}
		for _, d := range engine.Occurrences(s.Window(), s.Recurrence, start, end) {
			if s.IsExcepted(d) {
				continue
			}
			out = append(out, Occurrence{
				SeriesID:   s.ID,
				TemplateID: s.TemplateID,
				Date:       d,
				Notes:      s.Notes,
				Recurrence: s.Recurrence,
			})
		}
	}
	slices.SortStableFunc(out, func(a, b Occurrence) int {
		return a.Date.Compare(b.Date)
	})
	return out
}

// Group collects date-ordered occurrences into days. Dates without
// occurrences do not appear.
func Group(occurrences []Occurrence) []Day {
	var days []Day
	for _, occ := range occurrences {
		if n := len(days); n > 0 && days[n-1].Date == occ.Date {
			days[n-1].Occurrences = append(days[n-1].Occurrences, occ)
			continue
		}
		days = append(days, Day{Date: occ.Date, Occurrences: []Occurrence{occ}})
	}
	return days
}
