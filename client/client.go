// Package client talks to an eterny server over its JSON API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/cod31nvictus/eterny/internal/httpclient"
	"github.com/cod31nvictus/eterny/server"
	"github.com/cod31nvictus/eterny/server/recurrence"
	"github.com/emersion/go-ical"
)

// APIError is a non-2xx reply from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Client is a schedule API client.
type Client struct {
	http   httpclient.HttpClientWrapper
	logger *slog.Logger
}

// Option configures New.
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// WithHTTPClient sets the client whose transport is wrapped with Basic auth.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New creates a client for the server at baseURL authenticating as username.
func New(baseURL, username, password string, opts ...Option) (*Client, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", baseURL)
	}

	hc := &http.Client{}
	if o.httpClient != nil {
		copied := *o.httpClient
		hc = &copied
	}
	hc.Transport = httpclient.NewBasicAuthTransport(username, password, hc.Transport, o.logger)

	wrapper, err := httpclient.NewHttpClientWrapper(hc, *base, o.logger)
	if err != nil {
		return nil, err
	}
	return &Client{http: wrapper, logger: o.logger}, nil
}

// Occurrences resolves the schedule over [start, end].
func (c *Client) Occurrences(ctx context.Context, start, end recurrence.Date) ([]server.DayResponse, error) {
	q := url.Values{}
	q.Set("start", start.String())
	q.Set("end", end.String())

	var days []server.DayResponse
	if _, err := c.http.DoJSON(ctx, http.MethodGet, "/occurrences?"+q.Encode(), "", nil, &days); err != nil {
		return nil, apiError(err)
	}
	return days, nil
}

// Assign creates a series.
func (c *Client) Assign(ctx context.Context, req server.AssignRequest) (*server.SeriesResponse, error) {
	var s server.SeriesResponse
	if _, err := c.http.DoJSON(ctx, http.MethodPost, "/series", "", req, &s); err != nil {
		return nil, apiError(err)
	}
	return &s, nil
}

// Series fetches one series.
func (c *Client) Series(ctx context.Context, id string) (*server.SeriesResponse, error) {
	var s server.SeriesResponse
	if _, err := c.http.DoJSON(ctx, http.MethodGet, seriesPath(id, ""), "", nil, &s); err != nil {
		return nil, apiError(err)
	}
	return &s, nil
}

// ListSeries fetches every series of the caller.
func (c *Client) ListSeries(ctx context.Context) ([]server.SeriesResponse, error) {
	var list []server.SeriesResponse
	if _, err := c.http.DoJSON(ctx, http.MethodGet, "/series", "", nil, &list); err != nil {
		return nil, apiError(err)
	}
	return list, nil
}

// EditRecurring applies a scoped edit. A non-empty etag makes the edit
// conditional on the series version.
func (c *Client) EditRecurring(ctx context.Context, id string, req server.EditRequest, etag string) error {
	_, err := c.http.DoJSON(ctx, http.MethodPost, seriesPath(id, "edit"), etag, req, nil)
	return apiError(err)
}

// DeleteRecurring applies a scoped delete.
func (c *Client) DeleteRecurring(ctx context.Context, id string, req server.DeleteRequest, etag string) error {
	_, err := c.http.DoJSON(ctx, http.MethodPost, seriesPath(id, "delete"), etag, req, nil)
	return apiError(err)
}

// AddException skips date in the series.
func (c *Client) AddException(ctx context.Context, id string, date recurrence.Date, reason string) (*server.SeriesResponse, error) {
	var s server.SeriesResponse
	req := server.ExceptionRequest{Date: date, Reason: reason}
	if _, err := c.http.DoJSON(ctx, http.MethodPost, seriesPath(id, "exceptions"), "", req, &s); err != nil {
		return nil, apiError(err)
	}
	return &s, nil
}

// UpdateSeries sends a direct patch. fields uses the JSON names of the
// series; a nil endDate clears it.
func (c *Client) UpdateSeries(ctx context.Context, id string, fields map[string]any, etag string) (*server.SeriesResponse, error) {
	var s server.SeriesResponse
	if _, err := c.http.DoJSON(ctx, http.MethodPatch, seriesPath(id, ""), etag, fields, &s); err != nil {
		return nil, apiError(err)
	}
	return &s, nil
}

// DeleteSeries removes a series outright.
func (c *Client) DeleteSeries(ctx context.Context, id string) error {
	_, err := c.http.DoJSON(ctx, http.MethodDelete, seriesPath(id, ""), "", nil, nil)
	return apiError(err)
}

// ExportSeries fetches one series as an iCalendar object.
func (c *Client) ExportSeries(ctx context.Context, id string) (*ical.Calendar, error) {
	return c.fetchCalendar(ctx, seriesPath(id, "export"))
}

// ExportCalendar fetches every active series as one iCalendar object.
func (c *Client) ExportCalendar(ctx context.Context) (*ical.Calendar, error) {
	return c.fetchCalendar(ctx, "/calendar.ics")
}

func (c *Client) fetchCalendar(ctx context.Context, path string) (*ical.Calendar, error) {
	data, err := c.http.DoGET(ctx, path)
	if err != nil {
		return nil, apiError(err)
	}
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to decode calendar: %w", err)
	}
	return cal, nil
}

func seriesPath(id, action string) string {
	p := "/series/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

// apiError decodes the server error envelope out of a status error.
func apiError(err error) error {
	var statusErr *httpclient.StatusError
	if !errors.As(err, &statusErr) {
		return err
	}
	apiErr := &APIError{StatusCode: statusErr.StatusCode}
	var body server.ErrorResponse
	if json.Unmarshal(statusErr.Body, &body) == nil {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
	}
	return apiErr
}
