// Copyright (c) 2026 labPortal Team
// labPortal - host and service control plane
// This source code is licensed under the MIT license found in the LICENSE file.

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zjgordon/labportal/internal/model"
	"github.com/zjgordon/labportal/internal/security"
)

// Report is the body sent to POST /api/agent/report.
type Report struct {
	ActionID string `json:"actionId"`
	Status   string `json:"status"`
	ExitCode *int   `json:"exitCode,omitempty"`
	Message  string `json:"message,omitempty"`
}

type queueResponse struct {
	Actions []model.Action `json:"actions"`
}

// StatusError is a non-2xx answer from the portal.
type StatusError struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("portal returned %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("portal returned %d", e.Status)
}

// Retryable reports whether err may succeed if the same request is sent
// again later: transport failures, rate limiting and server errors.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status == http.StatusTooManyRequests || se.Status >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// Client talks to the portal's agent endpoints with the host's bearer token.
type Client struct {
	baseURL string
	token   security.Secret
	http    *http.Client
}

// NewClient returns a Client for the portal at baseURL. A nil hc uses a
// client with a 15 second timeout.
func NewClient(baseURL string, token security.Secret, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: hc}
}

// Heartbeat marks the host as seen and returns its summary.
func (c *Client) Heartbeat(ctx context.Context) (model.HostSummary, error) {
	var hs model.HostSummary
	err := c.do(ctx, http.MethodPost, "/api/agent/heartbeat", nil, &hs)
	return hs, err
}

// Pull claims up to max queued actions for this host.
func (c *Client) Pull(ctx context.Context, max int) ([]model.Action, error) {
	q := url.Values{}
	q.Set("max", strconv.Itoa(max))
	var resp queueResponse
	if err := c.do(ctx, http.MethodGet, "/api/agent/queue?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Actions, nil
}

// Report sends an action status report.
func (c *Client) Report(ctx context.Context, r Report) error {
	return c.do(ctx, http.MethodPost, "/api/agent/report", r, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token.Reveal())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(se)
		se.Status = resp.StatusCode
		return se
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
