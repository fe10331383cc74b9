package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cod31nvictus/eterny/server/recurrence"
	"github.com/cod31nvictus/eterny/server/schedule"
	"github.com/cod31nvictus/eterny/server/storage"
	"github.com/samber/mo"
)

// SeriesResponse is the JSON form of a series.
type SeriesResponse struct {
	ID         string                `json:"id"`
	TemplateID string                `json:"templateId"`
	StartDate  recurrence.Date       `json:"startDate"`
	EndDate    *recurrence.Date      `json:"endDate,omitempty"`
	Recurrence recurrence.Recurrence `json:"recurrence"`
	Exceptions []ExceptionResponse   `json:"exceptions"`
	IsActive   bool                  `json:"isActive"`
	Notes      string                `json:"notes,omitempty"`
	Version    int64                 `json:"version"`
	CreatedAt  time.Time             `json:"createdAt"`
	ModifiedAt time.Time             `json:"modifiedAt"`
}

// ExceptionResponse is one ledger entry.
type ExceptionResponse struct {
	Date   recurrence.Date `json:"date"`
	Action string          `json:"action"`
	Reason string          `json:"reason,omitempty"`
}

// DayResponse groups the occurrences of one date.
type DayResponse struct {
	Date        recurrence.Date      `json:"date"`
	Occurrences []OccurrenceResponse `json:"occurrences"`
}

// OccurrenceResponse is one series landing on a date.
type OccurrenceResponse struct {
	SeriesID   string                `json:"seriesId"`
	TemplateID string                `json:"templateId"`
	Notes      string                `json:"notes,omitempty"`
	Recurrence recurrence.Recurrence `json:"recurrence"`
}

// AssignRequest is the body of POST /series.
type AssignRequest struct {
	TemplateID string                 `json:"templateId"`
	StartDate  recurrence.Date        `json:"startDate"`
	EndDate    *recurrence.Date       `json:"endDate,omitempty"`
	Recurrence *recurrence.Recurrence `json:"recurrence,omitempty"`
	Notes      string                 `json:"notes,omitempty"`
}

// EditRequest is the body of POST /series/{id}/edit.
type EditRequest struct {
	Scope        string                 `json:"scope"`
	OriginalDate recurrence.Date        `json:"originalDate"`
	TemplateID   *string                `json:"templateId,omitempty"`
	Recurrence   *recurrence.Recurrence `json:"recurrence,omitempty"`
}

// DeleteRequest is the body of POST /series/{id}/delete.
type DeleteRequest struct {
	Scope        string          `json:"scope"`
	OriginalDate recurrence.Date `json:"originalDate"`
	Reason       string          `json:"reason,omitempty"`
}

// ExceptionRequest is the body of POST /series/{id}/exceptions.
type ExceptionRequest struct {
	Date   recurrence.Date `json:"date"`
	Reason string          `json:"reason,omitempty"`
}

// PatchRequest is the body of PATCH /series/{id}. A field that is absent is
// left alone; "endDate": null clears the end date.
type PatchRequest struct {
	EndDate    mo.Option[mo.Option[recurrence.Date]]
	Recurrence mo.Option[recurrence.Rule]
	Notes      mo.Option[string]
	IsActive   mo.Option[bool]
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody names the failure class in Code so clients can branch on it.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (p *PatchRequest) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for key, raw := range fields {
		null := bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
		switch key {
		case "endDate":
			if null {
				p.EndDate = mo.Some(mo.None[recurrence.Date]())
				continue
			}
			var d recurrence.Date
			if err := json.Unmarshal(raw, &d); err != nil {
				return fmt.Errorf("endDate: %w", err)
			}
			p.EndDate = mo.Some(mo.Some(d))
		case "recurrence":
			var r recurrence.Recurrence
			if err := json.Unmarshal(raw, &r); err != nil {
				return fmt.Errorf("recurrence: %w", err)
			}
			if r.Rule == nil {
				r.Rule = recurrence.None{}
			}
			p.Recurrence = mo.Some(r.Rule)
		case "notes":
			var notes string
			if !null {
				if err := json.Unmarshal(raw, &notes); err != nil {
					return fmt.Errorf("notes: %w", err)
				}
			}
			p.Notes = mo.Some(notes)
		case "isActive":
			var active bool
			if err := json.Unmarshal(raw, &active); err != nil {
				return fmt.Errorf("isActive: %w", err)
			}
			p.IsActive = mo.Some(active)
		default:
			return fmt.Errorf("unknown field %q", key)
		}
	}
	return nil
}

func newSeriesResponse(s *storage.Series) SeriesResponse {
	resp := SeriesResponse{
		ID:         s.ID,
		TemplateID: s.TemplateID,
		StartDate:  s.StartDate,
		Recurrence: recurrence.Recurrence{Rule: s.Recurrence},
		Exceptions: []ExceptionResponse{},
		IsActive:   s.IsActive,
		Notes:      s.Notes,
		Version:    s.Version,
		CreatedAt:  s.Created,
		ModifiedAt: s.Modified,
	}
	if end, ok := s.EndDate.Get(); ok {
		resp.EndDate = &end
	}
	for _, d := range s.ExceptionDates() {
		exc := s.Exceptions[d]
		resp.Exceptions = append(resp.Exceptions, ExceptionResponse{
			Date:   d,
			Action: string(exc.Action),
			Reason: exc.Reason,
		})
	}
	return resp
}

func newDayResponses(days []schedule.Day) []DayResponse {
	out := make([]DayResponse, 0, len(days))
	for _, day := range days {
		dr := DayResponse{Date: day.Date, Occurrences: make([]OccurrenceResponse, 0, len(day.Occurrences))}
		for _, occ := range day.Occurrences {
			dr.Occurrences = append(dr.Occurrences, OccurrenceResponse{
				SeriesID:   occ.SeriesID,
				TemplateID: occ.TemplateID,
				Notes:      occ.Notes,
				Recurrence: recurrence.Recurrence{Rule: occ.Recurrence},
			})
		}
		out = append(out, dr)
	}
	return out
}

func optionalDate(d *recurrence.Date) mo.Option[recurrence.Date] {
	if d == nil {
		return mo.None[recurrence.Date]()
	}
	return mo.Some(*d)
}
