// Package rems publishes REMS-enabled datasets to the REMS entitlement
// management service and proxies access applications of end users.
package rems

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"metax/internal/config"
	"metax/internal/httpx"
	"metax/internal/logging"
)

// Error is a failed or unsuccessful REMS request.
type Error struct {
	Method string
	Path   string
	Status int
	Body   string
	Err    error
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Error() string {
	return fmt.Sprintf("REMS request '%s %s' was unsuccessful, status_code=%d: %s", e.Method, e.Path, e.Status, e.Body)
}

// CallOption customizes one request.
type CallOption func(*callOptions)

type callOptions struct {
	allowNotFound bool
	query         url.Values
}

// AllowNotFound returns 404 responses as status instead of an error.
func AllowNotFound() CallOption { return func(o *callOptions) { o.allowNotFound = true } }

// Query adds query parameters.
func Query(q url.Values) CallOption { return func(o *callOptions) { o.query = q } }

// API performs REMS requests.
type API interface {
	// Do sends body as JSON and decodes the response into out when out is
	// not nil. It returns the response status.
	Do(ctx context.Context, method, path string, body, out any, opts ...CallOption) (int, error)
	// AsUser returns an API acting as userID.
	AsUser(userID string) API
}

// Client is the HTTP implementation of API.
type Client struct {
	http   *httpx.Client
	userID string
	apiKey string
	log    logging.Logger
}

// NewClient returns a client acting as the configured owner user.
func NewClient(cfg config.REMSConfig, log logging.Logger) *Client {
	return &Client{
		http:   httpx.New(cfg.BaseURL, nil),
		userID: cfg.UserID,
		apiKey: cfg.APIKey,
		log:    logging.OrNop(log),
	}
}

// AsUser implements API.
func (c *Client) AsUser(userID string) API {
	cp := *c
	cp.userID = userID
	return &cp
}

// Do implements API.
func (c *Client) Do(ctx context.Context, method, path string, body, out any, opts ...CallOption) (int, error) {
	if !strings.HasPrefix(path, "/") {
		return 0, fmt.Errorf("rems path %q should start with '/'", path)
	}
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	reqPath := path
	if len(o.query) > 0 {
		reqPath += "?" + o.query.Encode()
	}
	req := httpx.Request{
		Method: method,
		Path:   reqPath,
		Body:   body,
		Header: http.Header{"X-Rems-User-Id": {c.userID}, "X-Rems-Api-Key": {c.apiKey}},
	}
	if o.allowNotFound {
		req.Accept = []int{http.StatusNotFound}
	}
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		c.log.Errorw("rems request failed", "method", method, "path", path, "error", err)
		rerr := &Error{Method: method, Path: path, Body: err.Error(), Err: err}
		var se *httpx.StatusError
		if errors.As(err, &se) {
			rerr.Status, rerr.Body = se.Status, se.Body
		}
		return rerr.Status, rerr
	}
	if resp.Status == http.StatusNotFound {
		return resp.Status, nil
	}
	// Some errors are reported as 200 responses with success=false.
	var result struct {
		Success *bool `json:"success"`
	}
	if bytes.HasPrefix(bytes.TrimSpace(resp.Body), []byte("{")) {
		if err := json.Unmarshal(resp.Body, &result); err == nil && result.Success != nil && !*result.Success {
			c.log.Errorw("rems request unsuccessful", "method", method, "path", path, "body", string(resp.Body))
			return resp.Status, &Error{Method: method, Path: path, Status: resp.Status, Body: string(resp.Body)}
		}
	}
	if out != nil && len(resp.Body) > 0 {
		if err := resp.JSON(out); err != nil {
			return resp.Status, err
		}
	}
	return resp.Status, nil
}
