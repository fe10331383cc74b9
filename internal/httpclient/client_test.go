package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWrapper(t *testing.T, h http.HandlerFunc) HttpClientWrapper {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	base, err := url.Parse(srv.URL + "/api/")
	require.NoError(t, err)
	client := &http.Client{Transport: NewBasicAuthTransport("alice", "secret", nil, nil)}
	w, err := NewHttpClientWrapper(client, *base, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return w
}

func TestNewHttpClientWrapper_RequiresLogger(t *testing.T) {
	_, err := NewHttpClientWrapper(nil, url.URL{}, nil)
	assert.Error(t, err)
}

func TestDoJSON(t *testing.T) {
	w := newTestWrapper(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "/api/series", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, `"3"`, r.Header.Get("If-Match"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var in map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		w.Header().Set("ETag", `"4"`)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["name"]})
	})

	var out map[string]string
	etag, err := w.DoJSON(context.Background(), http.MethodPost, "series", `"3"`, map[string]string{"name": "legs"}, &out)
	require.NoError(t, err)
	assert.Equal(t, `"4"`, etag)
	assert.Equal(t, "legs", out["echo"])
}

func TestDoJSON_NoContent(t *testing.T) {
	w := newTestWrapper(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	var out map[string]string
	_, err := w.DoJSON(context.Background(), http.MethodPost, "series/s1/edit", "", map[string]string{}, &out)
	assert.NoError(t, err)
	assert.Nil(t, out)
}

func TestDoJSON_StatusError(t *testing.T) {
	w := newTestWrapper(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":"not_found"}}`)
	})
	_, err := w.DoJSON(context.Background(), http.MethodGet, "series/nope", "", nil, nil)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.JSONEq(t, `{"error":{"code":"not_found"}}`, string(statusErr.Body))
}

func TestDoGET(t *testing.T) {
	w := newTestWrapper(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/calendar.ics", r.URL.Path)
		_, _ = io.WriteString(w, "BEGIN:VCALENDAR\r\n")
	})
	data, err := w.DoGET(context.Background(), "/calendar.ics")
	require.NoError(t, err)
	assert.Equal(t, "BEGIN:VCALENDAR\r\n", string(data))
}

func TestBasicAuthTransport_RequiresUsername(t *testing.T) {
	tr := NewBasicAuthTransport("", "secret", nil, nil)
	req := httptest.NewRequest(http.MethodGet, "http://example.invalid/", nil)
	_, err := tr.RoundTrip(req)
	assert.Error(t, err)
	assert.Empty(t, req.Header.Get("Authorization"))
}
