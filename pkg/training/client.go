package training

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/synaptica-ai/trainwatch/pkg/common/httpclient"
	"github.com/synaptica-ai/trainwatch/pkg/common/logger"
)

// Backend is the boundary contract of a training service.
type Backend interface {
	Launch(ctx context.Context, params LaunchParams) (LaunchResult, error)
	Progress(ctx context.Context, sessionID string) (Progress, error)
	Stop(ctx context.Context, sessionID string) (StopResult, error)
}

const (
	pathStart    = "/api/ai-analytics/training/start"
	pathProgress = "/api/ai-analytics/training/progress/"
	pathStop     = "/api/ai-analytics/training/stop/"
	pathHistory  = "/api/ai-analytics/training/history"

	maxResponseBytes = 1 << 20
)

// envelope is the response wrapper every backend endpoint uses.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`

	status int
}

func (e envelope) reason() string {
	if e.Error != "" {
		return e.Error
	}
	if e.Message != "" {
		return e.Message
	}
	return "request rejected"
}

// Client talks to a training backend over HTTP.
type Client struct {
	baseURL      string
	http         *http.Client
	stopAttempts int
}

func NewClient(baseURL string, client *http.Client, stopAttempts int) *Client {
	if client == nil {
		client = httpclient.New(10 * time.Second)
	}
	if stopAttempts <= 0 {
		stopAttempts = 1
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         client,
		stopAttempts: stopAttempts,
	}
}

// Launch submits a job. Backend rejections and transport failures are
// returned as *LaunchError.
func (c *Client) Launch(ctx context.Context, params LaunchParams) (LaunchResult, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return LaunchResult{}, &LaunchError{Reason: "encode parameters", Err: err}
	}

	env, err := c.do(ctx, http.MethodPost, c.baseURL+pathStart, body)
	if err != nil {
		return LaunchResult{}, &LaunchError{Reason: "training backend unreachable", Err: err}
	}
	if !env.Success {
		return LaunchResult{}, &LaunchError{Reason: env.reason()}
	}

	var data struct {
		SessionID                string          `json:"sessionId"`
		ID                       string          `json:"id"`
		EstimatedDuration        json.RawMessage `json:"estimatedDuration"`
		EstimatedDurationMinutes *float64        `json:"estimatedDurationMinutes"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return LaunchResult{}, &LaunchError{Reason: "unreadable launch response", Err: fmt.Errorf("%v: %w", err, ErrMalformed)}
	}

	result := LaunchResult{SessionID: data.SessionID}
	if result.SessionID == "" {
		result.SessionID = data.ID
	}
	if result.SessionID == "" {
		return LaunchResult{}, &LaunchError{Reason: "backend returned no session id", Err: ErrMalformed}
	}
	if data.EstimatedDurationMinutes != nil {
		result.EstimatedDurationMinutes = *data.EstimatedDurationMinutes
	} else {
		result.EstimatedDurationMinutes = ParseEstimate(data.EstimatedDuration)
	}
	return result, nil
}

// Progress fetches the current status of a session. Errors wrap either
// ErrTransport or ErrMalformed.
func (c *Client) Progress(ctx context.Context, sessionID string) (Progress, error) {
	env, err := c.do(ctx, http.MethodGet, c.baseURL+pathProgress+url.PathEscape(sessionID), nil)
	if err != nil {
		return Progress{}, err
	}
	if !env.Success {
		if env.status == http.StatusNotFound {
			return Progress{}, fmt.Errorf("progress for %s: %w: %w", sessionID, ErrSessionNotFound, ErrMalformed)
		}
		// A rejection the backend may not repeat on the next poll.
		return Progress{}, fmt.Errorf("progress for %s: %s: %w", sessionID, env.reason(), ErrTransport)
	}

	var p Progress
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return Progress{}, fmt.Errorf("decode progress: %v: %w", err, ErrMalformed)
	}
	if p.SessionID == "" {
		p.SessionID = sessionID
	}
	if err := p.Validate(); err != nil {
		return Progress{}, err
	}
	return p, nil
}

// Stop asks the backend to stop a session, retrying transport failures.
func (c *Client) Stop(ctx context.Context, sessionID string) (StopResult, error) {
	var result StopResult
	err := httpclient.Retry(ctx, c.stopAttempts, 200*time.Millisecond, func(err error) bool {
		return errors.Is(err, ErrTransport)
	}, func() error {
		env, err := c.do(ctx, http.MethodPost, c.baseURL+pathStop+url.PathEscape(sessionID), nil)
		if err != nil {
			return err
		}
		if !env.Success {
			if env.status == http.StatusConflict {
				// Already finished on the backend.
				result = StopResult{Success: false}
				return nil
			}
			return fmt.Errorf("stop %s: %s: %w", sessionID, env.reason(), ErrMalformed)
		}
		result = StopResult{Success: true}
		if len(env.Data) > 0 && string(env.Data) != "null" {
			if err := json.Unmarshal(env.Data, &result); err != nil {
				logger.WithSession(sessionID).WithError(err).Debug("ignoring unreadable stop response data")
				result = StopResult{Success: true}
			}
		}
		return nil
	})
	return result, err
}

// History lists sessions known to the backend, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]SessionSummary, error) {
	target := c.baseURL + pathHistory
	if limit > 0 {
		target += "?limit=" + strconv.Itoa(limit)
	}
	env, err := c.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, fmt.Errorf("history: %s: %w", env.reason(), ErrMalformed)
	}
	var data struct {
		Sessions []SessionSummary `json:"sessions"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode history: %v: %w", err, ErrMalformed)
	}
	return data.Sessions, nil
}

// do performs one request and decodes the envelope. Network failures,
// error statuses without a readable envelope and retryable statuses (5xx,
// 408, 429) wrap ErrTransport. Only an unreadable 2xx body is ErrMalformed.
func (c *Client) do(ctx context.Context, method, target string, body []byte) (envelope, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return envelope{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.New().String())

	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("%s %s: %v: %w", method, target, err, ErrTransport)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return envelope{}, fmt.Errorf("read response: %v: %w", err, ErrTransport)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return envelope{}, fmt.Errorf("%s %s: status %d: %w", method, target, resp.StatusCode, ErrTransport)
		}
		return envelope{}, fmt.Errorf("%s %s: status %d: %v: %w", method, target, resp.StatusCode, err, ErrMalformed)
	}
	if retryableStatus(resp.StatusCode) && !env.Success {
		logger.Log.WithFields(map[string]interface{}{
			"url":    target,
			"status": resp.StatusCode,
			"error":  env.reason(),
		}).Debug("training backend returned server error")
		return envelope{}, fmt.Errorf("%s %s: status %d: %s: %w", method, target, resp.StatusCode, env.reason(), ErrTransport)
	}
	env.status = resp.StatusCode
	return env, nil
}

func retryableStatus(code int) bool {
	return code >= http.StatusInternalServerError ||
		code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests
}

var estimatePattern = regexp.MustCompile(`^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-zA-Z]*)\s*$`)

// ParseEstimate converts a backend duration estimate into minutes. It accepts
// a bare number of minutes, a Go duration ("90s") or "<n> <unit>" strings
// such as "10 minutes". Anything else yields 0.
func ParseEstimate(raw json.RawMessage) float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return 0
	}
	var minutes float64
	if err := json.Unmarshal(raw, &minutes); err == nil {
		return minutes
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return 0
	}
	if d, err := time.ParseDuration(strings.ReplaceAll(text, " ", "")); err == nil {
		return d.Minutes()
	}
	m := estimatePattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	switch strings.ToLower(m[2]) {
	case "", "m", "min", "mins", "minute", "minutes":
		return n
	case "h", "hr", "hrs", "hour", "hours":
		return n * 60
	case "s", "sec", "secs", "second", "seconds":
		return n / 60
	}
	return 0
}
