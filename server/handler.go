package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/cod31nvictus/eterny/server/auth"
	"github.com/cod31nvictus/eterny/server/recurrence"
	"github.com/cod31nvictus/eterny/server/schedule"
	"github.com/cod31nvictus/eterny/server/storage"
	"github.com/samber/mo"
)

const (
	// HTTP headers
	headerContentType = "Content-Type"
	headerETag        = "ETag"
	headerIfMatch     = "If-Match"
	headerLocation    = "Location"

	// MIME types
	mimeTypeJSON     = "application/json"
	mimeTypeCalendar = "text/calendar; charset=utf-8"

	maxBodyBytes = 1 << 20
)

// Scheduler is the schedule API the handler serves. *schedule.Service
// implements it.
type Scheduler interface {
	AssignTemplate(ctx context.Context, ownerID string, req schedule.AssignRequest) (*storage.Series, error)
	GetOccurrences(ctx context.Context, ownerID string, start, end recurrence.Date) ([]schedule.Day, error)
	EditRecurring(ctx context.Context, ownerID string, req schedule.EditRequest) error
	DeleteRecurring(ctx context.Context, ownerID string, req schedule.DeleteRequest) error
	AddException(ctx context.Context, ownerID, seriesID string, date recurrence.Date, reason string) (*storage.Series, error)
	UpdateSeries(ctx context.Context, ownerID, seriesID string, patch schedule.SeriesPatch) (*storage.Series, error)
	DeleteSeries(ctx context.Context, ownerID, seriesID string) error
	GetSeries(ctx context.Context, ownerID, seriesID string) (*storage.Series, error)
	ListSeries(ctx context.Context, ownerID string) ([]*storage.Series, error)
	ExportSeries(ctx context.Context, ownerID, seriesID string) ([]byte, error)
	ExportCalendar(ctx context.Context, ownerID string) ([]byte, error)
}

// Handler serves the JSON schedule API. The owner of every request is the
// authenticated principal, so it must sit behind auth.Middleware or another
// layer that calls auth.WithPrincipal.
type Handler struct {
	scheduler Scheduler
	logger    *slog.Logger
	mux       *http.ServeMux
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLogger sets the handler logger.
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler creates a Handler over scheduler.
func NewHandler(scheduler Scheduler, opts ...HandlerOption) *Handler {
	h := &Handler{
		scheduler: scheduler,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		mux:       http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.mux.HandleFunc("GET /healthz", h.handleHealth)
	h.mux.HandleFunc("GET /occurrences", h.withOwner(h.handleOccurrences))
	h.mux.HandleFunc("GET /calendar.ics", h.withOwner(h.handleExportCalendar))
	h.mux.HandleFunc("POST /series", h.withOwner(h.handleAssign))
	h.mux.HandleFunc("GET /series", h.withOwner(h.handleListSeries))
	h.mux.HandleFunc("GET /series/{id}", h.withOwner(h.handleGetSeries))
	h.mux.HandleFunc("PATCH /series/{id}", h.withOwner(h.handlePatchSeries))
	h.mux.HandleFunc("DELETE /series/{id}", h.withOwner(h.handleDeleteSeries))
	h.mux.HandleFunc("POST /series/{id}/edit", h.withOwner(h.handleEditRecurring))
	h.mux.HandleFunc("POST /series/{id}/delete", h.withOwner(h.handleDeleteRecurring))
	h.mux.HandleFunc("POST /series/{id}/exceptions", h.withOwner(h.handleAddException))
	h.mux.HandleFunc("GET /series/{id}/export", h.withOwner(h.handleExportSeries))
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Debug("request received", "method", r.Method, "path", r.URL.Path)
	h.mux.ServeHTTP(w, r)
}

type ownerHandlerFunc func(w http.ResponseWriter, r *http.Request, ownerID string)

func (h *Handler) withOwner(next ownerHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := auth.GetPrincipalFromContext(r.Context())
		if principal == nil || principal.ID == "" {
			writeErrorCode(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
			return
		}
		next(w, r, principal.ID)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleOccurrences(w http.ResponseWriter, r *http.Request, ownerID string) {
	start, err := queryDate(r, "start")
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	end, err := queryDate(r, "end")
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}

	days, err := h.scheduler.GetOccurrences(r.Context(), ownerID, start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDayResponses(days))
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request, ownerID string) {
	var body AssignRequest
	if !h.decode(w, r, &body) {
		return
	}

	req := schedule.AssignRequest{
		TemplateID: body.TemplateID,
		StartDate:  body.StartDate,
		EndDate:    optionalDate(body.EndDate),
		Notes:      body.Notes,
	}
	if body.Recurrence != nil {
		req.Recurrence = body.Recurrence.Rule
	}

	series, err := h.scheduler.AssignTemplate(r.Context(), ownerID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("series assigned",
		"series_id", series.ID,
		"template_id", series.TemplateID,
		"owner_id", ownerID)

	w.Header().Set(headerLocation, "/series/"+series.ID)
	setETag(w, series)
	writeJSON(w, http.StatusCreated, newSeriesResponse(series))
}

func (h *Handler) handleListSeries(w http.ResponseWriter, r *http.Request, ownerID string) {
	list, err := h.scheduler.ListSeries(r.Context(), ownerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]SeriesResponse, 0, len(list))
	for _, s := range list {
		out = append(out, newSeriesResponse(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetSeries(w http.ResponseWriter, r *http.Request, ownerID string) {
	series, err := h.scheduler.GetSeries(r.Context(), ownerID, r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	setETag(w, series)
	writeJSON(w, http.StatusOK, newSeriesResponse(series))
}

func (h *Handler) handlePatchSeries(w http.ResponseWriter, r *http.Request, ownerID string) {
	expected, ok := ifMatch(w, r)
	if !ok {
		return
	}
	var body PatchRequest
	if !h.decode(w, r, &body) {
		return
	}

	series, err := h.scheduler.UpdateSeries(r.Context(), ownerID, r.PathValue("id"), schedule.SeriesPatch{
		EndDate:         body.EndDate,
		Recurrence:      body.Recurrence,
		Notes:           body.Notes,
		IsActive:        body.IsActive,
		ExpectedVersion: expected,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	setETag(w, series)
	writeJSON(w, http.StatusOK, newSeriesResponse(series))
}

func (h *Handler) handleDeleteSeries(w http.ResponseWriter, r *http.Request, ownerID string) {
	id := r.PathValue("id")
	if err := h.scheduler.DeleteSeries(r.Context(), ownerID, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("series deleted", "series_id", id, "owner_id", ownerID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEditRecurring(w http.ResponseWriter, r *http.Request, ownerID string) {
	expected, ok := ifMatch(w, r)
	if !ok {
		return
	}
	var body EditRequest
	if !h.decode(w, r, &body) {
		return
	}
	scope, err := schedule.ParseScope(body.Scope)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	req := schedule.EditRequest{
		SeriesID:        r.PathValue("id"),
		Scope:           scope,
		OriginalDate:    body.OriginalDate,
		ExpectedVersion: expected,
	}
	if body.TemplateID != nil {
		req.TemplateID = mo.Some(*body.TemplateID)
	}
	if body.Recurrence != nil {
		rule := body.Recurrence.Rule
		if rule == nil {
			rule = recurrence.None{}
		}
		req.Recurrence = mo.Some(rule)
	}

	if err := h.scheduler.EditRecurring(r.Context(), ownerID, req); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteRecurring(w http.ResponseWriter, r *http.Request, ownerID string) {
	expected, ok := ifMatch(w, r)
	if !ok {
		return
	}
	var body DeleteRequest
	if !h.decode(w, r, &body) {
		return
	}
	scope, err := schedule.ParseScope(body.Scope)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	err = h.scheduler.DeleteRecurring(r.Context(), ownerID, schedule.DeleteRequest{
		SeriesID:        r.PathValue("id"),
		Scope:           scope,
		OriginalDate:    body.OriginalDate,
		Reason:          body.Reason,
		ExpectedVersion: expected,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAddException(w http.ResponseWriter, r *http.Request, ownerID string) {
	var body ExceptionRequest
	if !h.decode(w, r, &body) {
		return
	}
	series, err := h.scheduler.AddException(r.Context(), ownerID, r.PathValue("id"), body.Date, body.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	setETag(w, series)
	writeJSON(w, http.StatusCreated, newSeriesResponse(series))
}

func (h *Handler) handleExportSeries(w http.ResponseWriter, r *http.Request, ownerID string) {
	data, err := h.scheduler.ExportSeries(r.Context(), ownerID, r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeCalendar(w, data)
}

func (h *Handler) handleExportCalendar(w http.ResponseWriter, r *http.Request, ownerID string) {
	data, err := h.scheduler.ExportCalendar(r.Context(), ownerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeCalendar(w, data)
}

// decode reads a JSON body into v, answering 400 itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		h.logger.Debug("invalid request body", "path", r.URL.Path, "error", err)
		writeErrorCode(w, http.StatusBadRequest, CodeValidation, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeCalendar(w http.ResponseWriter, data []byte) {
	w.Header().Set(headerContentType, mimeTypeCalendar)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func setETag(w http.ResponseWriter, s *storage.Series) {
	w.Header().Set(headerETag, formatETag(s.Version))
}

func formatETag(version int64) string {
	return `"` + strconv.FormatInt(version, 10) + `"`
}

// ifMatch turns an If-Match header into an expected version. "*" and a
// missing header mean no precondition. Unparsable tags fail the request.
func ifMatch(w http.ResponseWriter, r *http.Request) (mo.Option[int64], bool) {
	raw := strings.TrimSpace(r.Header.Get(headerIfMatch))
	if raw == "" || raw == "*" {
		return mo.None[int64](), true
	}
	raw = strings.TrimPrefix(raw, "W/")
	version, err := strconv.ParseInt(strings.Trim(raw, `"`), 10, 64)
	if err != nil {
		writeErrorCode(w, http.StatusPreconditionFailed, CodePreconditionFailed,
			fmt.Sprintf("unrecognised entity tag %s", raw))
		return mo.None[int64](), false
	}
	return mo.Some(version), true
}

func queryDate(r *http.Request, name string) (recurrence.Date, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return recurrence.Date{}, fmt.Errorf("query parameter %s is required", name)
	}
	d, err := recurrence.ParseDate(raw)
	if err != nil {
		return recurrence.Date{}, fmt.Errorf("query parameter %s: %w", name, err)
	}
	return d, nil
}
