package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	authmemory "github.com/cod31nvictus/eterny/server/auth/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	users := authmemory.New()
	require.NoError(t, users.AddUser(authmemory.User{Username: "alice", Password: "secret"}))
	require.NoError(t, users.AddUser(authmemory.User{Username: "bob", Password: "hunter2"}))
	require.NoError(t, users.AddUser(authmemory.User{Username: "report", Password: "ro", ReadOnly: true}))

	srv, err := New(newTestScheduler(t), users, Options{Realm: "test"})
	require.NoError(t, err)
	return srv
}

func authed(method, path, body, user, pass string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.SetBasicAuth(user, pass)
	}
	return req
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(nil, authmemory.New(), Options{})
	assert.Error(t, err)
	_, err = New(newTestScheduler(t), nil, Options{})
	assert.Error(t, err)
}

func TestServer_Authentication(t *testing.T) {
	srv := setupTestServer(t)

	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"health is public", authed(http.MethodGet, "/healthz", "", "", ""), http.StatusOK},
		{"missing credentials", authed(http.MethodGet, "/series", "", "", ""), http.StatusUnauthorized},
		{"wrong password", authed(http.MethodGet, "/series", "", "alice", "nope"), http.StatusUnauthorized},
		{"valid credentials", authed(http.MethodGet, "/series", "", "alice", "secret"), http.StatusOK},
		{"read-only may read", authed(http.MethodGet, "/series", "", "report", "ro"), http.StatusOK},
		{"read-only may not write", authed(http.MethodPost, "/series", `{}`, "report", "ro"), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, tt.req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusUnauthorized {
				assert.Equal(t, `Basic realm="test"`, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestServer_OwnerScoping(t *testing.T) {
	srv := setupTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authed(http.MethodPost, "/series", `{"templateId":"T1","startDate":"2024-01-01"}`, "alice", "secret"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Templates belong to alice
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, authed(http.MethodPost, "/series", `{"templateId":"T1","startDate":"2024-01-01"}`, "bob", "hunter2"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, authed(http.MethodGet, "/series/series-1", "", "bob", "hunter2"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, authed(http.MethodGet, "/series", "", "bob", "hunter2"))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []SeriesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(t, list)
}

func TestServer_ServeShutsDownOnCancel(t *testing.T) {
	srv := setupTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
