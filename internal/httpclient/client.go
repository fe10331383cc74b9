package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// HttpClientWrapper wraps http.Client with the request shapes the schedule
// API uses.
type HttpClientWrapper interface {
	// DoJSON sends in as a JSON body (when non-nil) and decodes a 2xx reply
	// into out (when non-nil). etag, if set, is sent as If-Match. The reply
	// ETag is returned.
	DoJSON(ctx context.Context, method, url, etag string, in, out any) (newEtag string, err error)
	// DoGET fetches url and returns the raw body of a 2xx reply.
	DoGET(ctx context.Context, url string) ([]byte, error)
}

// StatusError is returned for non-2xx replies. Body holds the reply as sent
// so callers can decode their own error envelope.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
}

type httpClientWrapper struct {
	client  *http.Client
	baseURL url.URL
	logger  *slog.Logger
}

// resolveURL resolves a URL string against the base URL
func (c *httpClientWrapper) resolveURL(urlStr string) (*url.URL, error) {
	ref, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL %q: %w", urlStr, err)
	}
	return c.baseURL.ResolveReference(ref), nil
}

// NewHttpClientWrapper creates a new client wrapper with logging
func NewHttpClientWrapper(client *http.Client, baseURL url.URL, logger *slog.Logger) (HttpClientWrapper, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &httpClientWrapper{client: client, baseURL: baseURL, logger: logger}, nil
}

func (c *httpClientWrapper) DoJSON(ctx context.Context, method, urlStr, etag string, in, out any) (string, error) {
	c.logger.Debug("starting request",
		"method", method,
		"url", urlStr,
		"etag", etag)

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return "", fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, urlStr, body)
	if err != nil {
		return "", err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if etag != "" {
		req.Header.Set("If-Match", etag)
	}

	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.logger.Debug("failed to decode response", "error", err)
			return "", fmt.Errorf("failed to decode response: %w", err)
		}
	}

	newEtag := resp.Header.Get("ETag")
	c.logger.Debug("request complete",
		"method", method,
		"status", resp.Status,
		"new_etag", newEtag)
	return newEtag, nil
}

func (c *httpClientWrapper) DoGET(ctx context.Context, urlStr string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}

func (c *httpClientWrapper) newRequest(ctx context.Context, method, urlStr string, body io.Reader) (*http.Request, error) {
	resolvedURL, err := c.resolveURL(urlStr)
	if err != nil {
		c.logger.Debug("failed to resolve URL", "url", urlStr, "error", err)
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, resolvedURL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	return req, nil
}

// do sends req and turns non-2xx replies into *StatusError.
func (c *httpClientWrapper) do(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "error", err)
		return nil, fmt.Errorf("failed to send %s request: %w", req.Method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		c.logger.Debug("unexpected status code",
			"status_code", resp.StatusCode,
			"status", resp.Status)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	return resp, nil
}
