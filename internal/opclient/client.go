// Package opclient sends registration, authorization and introspection
// requests to an OpenID Provider.
package opclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/teemow/oxd/internal/instrumentation"
)

const maxResponseSize = 1 << 20

// ErrNoEndpoint is returned when a request is built without a target URL.
var ErrNoEndpoint = errors.New("op endpoint is not set")

// OPError is an error reported by the OP, either as an OAuth error response
// or as an unexpected HTTP status.
type OPError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *OPError) Error() string {
	switch {
	case e.Code != "" && e.Description != "":
		return fmt.Sprintf("op error %s: %s", e.Code, e.Description)
	case e.Code != "":
		return "op error " + e.Code
	default:
		return fmt.Sprintf("op returned status %d", e.StatusCode)
	}
}

// Client talks to OPs over a shared HTTP client.
type Client struct {
	http    *http.Client
	metrics *instrumentation.Metrics
	logger  *slog.Logger
}

// New creates a Client. metrics may be nil.
func New(httpClient *http.Client, metrics *instrumentation.Metrics, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{http: httpClient, metrics: metrics, logger: logger}
}

// do executes req inside an op.<endpoint> span and records its metrics.
// The response body is read fully and closed.
func (c *Client) do(ctx context.Context, client *http.Client, endpoint string, req *http.Request) (*http.Response, []byte, error) {
	ctx, span := instrumentation.StartOPSpan(ctx, endpoint, req.URL.Host)
	defer span.End()

	start := time.Now()
	resp, body, err := roundTrip(client, req.WithContext(ctx))

	status := instrumentation.StatusSuccess
	if err != nil || resp.StatusCode >= http.StatusBadRequest {
		status = instrumentation.StatusError
		if err != nil {
			instrumentation.SetSpanError(span, err)
		}
	}
	c.metrics.RecordOPRequest(ctx, endpoint, req.URL.Scheme+"://"+req.URL.Host, status, time.Since(start))
	return resp, body, err
}

func roundTrip(client *http.Client, req *http.Request) (*http.Response, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, nil, fmt.Errorf("reading op response: %w", err)
	}
	return resp, body, nil
}

// errorFromResponse builds an OPError from an OAuth error body if present.
func errorFromResponse(statusCode int, body []byte) *OPError {
	e := &OPError{StatusCode: statusCode}
	if gjson.ValidBytes(body) {
		doc := gjson.ParseBytes(body)
		e.Code = doc.Get("error").String()
		e.Description = doc.Get("error_description").String()
	}
	return e
}

func newJSONRequest(ctx context.Context, method, url string, payload any) (*http.Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func newFormRequest(ctx context.Context, url, form string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(form))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	return req, nil
}
