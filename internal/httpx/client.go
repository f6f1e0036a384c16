// Package httpx is the JSON over HTTP client shared by the integrations
// with external services. Transport errors and 5xx responses are retried.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// StatusError is returned for unexpected response status codes.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, strings.TrimSpace(e.Body))
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == code
}

// Client sends requests relative to BaseURL.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Header is applied to every request.
	Header   http.Header
	Attempts uint
	Delay    time.Duration
}

// New returns a client with three attempts and a 10s timeout.
func New(baseURL string, header http.Header) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		HTTP:     &http.Client{Timeout: 10 * time.Second},
		Header:   header,
		Attempts: 3,
		Delay:    200 * time.Millisecond,
	}
}

// Request describes one call.
type Request struct {
	Method string
	Path   string
	// Body is encoded as JSON unless it is a []byte.
	Body any
	// Accept lists status codes treated as success in addition to 2xx.
	Accept []int
	Header http.Header
}

// Response is a completed call.
type Response struct {
	Status int
	Body   []byte
}

// JSON decodes the body into v.
func (r Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) accepted(status int, accept []int) bool {
	if status >= 200 && status < 300 {
		return true
	}
	for _, a := range accept {
		if a == status {
			return true
		}
	}
	return false
}

// Do performs req, retrying transport errors and 5xx responses.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	var payload []byte
	switch b := req.Body.(type) {
	case nil:
	case []byte:
		payload = b
	default:
		var err error
		if payload, err = json.Marshal(b); err != nil {
			return Response{}, fmt.Errorf("encode request: %w", err)
		}
	}
	url := c.BaseURL + req.Path
	attempts := c.Attempts
	if attempts == 0 {
		attempts = 1
	}
	return retry.DoWithData(func() (Response, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		hr, err := http.NewRequestWithContext(ctx, req.Method, url, body)
		if err != nil {
			return Response{}, retry.Unrecoverable(err)
		}
		for k, vs := range c.Header {
			hr.Header[k] = vs
		}
		for k, vs := range req.Header {
			hr.Header[k] = vs
		}
		if payload != nil && hr.Header.Get("Content-Type") == "" {
			hr.Header.Set("Content-Type", "application/json")
		}
		if hr.Header.Get("Accept") == "" {
			hr.Header.Set("Accept", "application/json")
		}
		resp, err := c.HTTP.Do(hr)
		if err != nil {
			return Response{}, err
		}
		defer func() { _ = resp.Body.Close() }()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return Response{}, err
		}
		out := Response{Status: resp.StatusCode, Body: data}
		if c.accepted(resp.StatusCode, req.Accept) {
			return out, nil
		}
		serr := &StatusError{Method: req.Method, URL: url, Status: resp.StatusCode, Body: string(data)}
		if resp.StatusCode >= 500 {
			return out, serr
		}
		return out, retry.Unrecoverable(serr)
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(c.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}
