package httpclient

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// maxLoggedBody caps how much of a body is copied into debug logs.
const maxLoggedBody = 4 << 10

// BasicAuthTransport implements http.RoundTripper and adds Basic Auth
// credentials to outgoing requests.
type BasicAuthTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// NewBasicAuthTransport creates a new BasicAuthTransport. If transport is
// nil, http.DefaultTransport is used.
func NewBasicAuthTransport(username, password string, transport http.RoundTripper, logger *slog.Logger) *BasicAuthTransport {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &BasicAuthTransport{
		Username:  username,
		Password:  password,
		Transport: transport,
		Logger:    logger,
	}
}

// RoundTrip implements http.RoundTripper. The request is cloned before the
// Authorization header is set, so the caller's request is left untouched.
func (t *BasicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Username == "" {
		return nil, errors.New("basic auth username cannot be empty")
	}
	if t.Transport == nil {
		return nil, errors.New("transport cannot be nil")
	}

	t.Logger.Debug("outgoing request",
		"method", req.Method,
		"url", req.URL.String(),
		"body", peekBody(&req.Body))

	authed := req.Clone(req.Context())
	authed.SetBasicAuth(t.Username, t.Password)
	resp, err := t.Transport.RoundTrip(authed)
	if err != nil {
		return nil, err
	}

	t.Logger.Debug("incoming response",
		"status", resp.Status,
		"body", peekBody(&resp.Body))
	return resp, nil
}

// peekBody reads *body for logging and puts an equivalent reader back.
func peekBody(body *io.ReadCloser) string {
	if *body == nil || *body == http.NoBody {
		return ""
	}
	data, err := io.ReadAll(*body)
	(*body).Close()
	*body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	if len(data) > maxLoggedBody {
		return string(data[:maxLoggedBody]) + "..."
	}
	return string(data)
}
