package appclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/g960059/setrouble/internal/api"
	"github.com/g960059/setrouble/internal/model"
)

type Client struct {
	baseURL      string
	client       *http.Client
	unaryTimeout time.Duration
}

const (
	watchScannerInitialBuffer = 64 * 1024
	watchScannerMaxBuffer     = 10 * 1024 * 1024
	defaultUnaryTimeout       = 10 * time.Second

	ScopeAlerts = "alerts"
)

// New returns a client that speaks HTTP over the daemon bridge socket.
func New(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	return NewWithClient("http://unix", &http.Client{Transport: transport})
}

func NewWithClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
		unaryTimeout: defaultUnaryTimeout,
	}
}

func (c *Client) WithUnaryTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.unaryTimeout = timeout
	return &clone
}

type WatchOptions struct {
	Scope  string
	Cursor string
}

type WatchLoopOptions struct {
	Scope           string
	Cursor          string
	PollInterval    time.Duration
	RetryMinBackoff time.Duration
	RetryMaxBackoff time.Duration
	Once            bool
}

type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

var ErrWatchPayloadInvalid = errors.New("watch payload invalid")

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	message := strings.TrimSpace(e.Message)
	switch {
	case code != "" && message != "":
		return fmt.Sprintf("%s: %s", code, message)
	case code != "" && e.StatusCode > 0:
		return fmt.Sprintf("http %d: %s", e.StatusCode, code)
	case code != "":
		return code
	case message != "" && e.StatusCode > 0:
		return fmt.Sprintf("http %d: %s", e.StatusCode, message)
	case message != "":
		return message
	case e.StatusCode > 0:
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return "http error"
}

func (e *RequestError) Retryable() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return true
	}
	return e.StatusCode >= 500
}

// cursorRejected reports whether the daemon refused the resume cursor.
// The watch restarts from the live tail in that case.
func (e *RequestError) cursorRejected() bool {
	if e == nil {
		return false
	}
	return e.Code == model.ErrCursorExpired || e.Code == model.ErrCursorInvalid
}

func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	body, err := c.request(ctx, http.MethodGet, "/v1/health", nil, nil, false)
	if err != nil {
		return api.HealthResponse{}, err
	}
	var resp api.HealthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return api.HealthResponse{}, errors.Wrap(err, "decode health response")
	}
	return resp, nil
}

func (c *Client) ListAlerts(ctx context.Context) (api.AlertsEnvelope, error) {
	body, err := c.request(ctx, http.MethodGet, "/v1/alerts", nil, nil, false)
	if err != nil {
		return api.AlertsEnvelope{}, err
	}
	var env api.AlertsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return api.AlertsEnvelope{}, errors.Wrap(err, "decode alerts envelope")
	}
	return env, nil
}

func (c *Client) GetAlert(ctx context.Context, localID string) (api.AlertDetailEnvelope, error) {
	id := strings.TrimSpace(localID)
	if id == "" {
		return api.AlertDetailEnvelope{}, errors.New("alert id is required")
	}
	body, err := c.request(ctx, http.MethodGet, "/v1/alerts/"+url.PathEscape(id), nil, nil, false)
	if err != nil {
		return api.AlertDetailEnvelope{}, err
	}
	var env api.AlertDetailEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return api.AlertDetailEnvelope{}, errors.Wrap(err, "decode alert detail envelope")
	}
	return env, nil
}

func (c *Client) Fix(ctx context.Context, alertID string, req api.FixRequest) (api.ActionResponse, error) {
	id := strings.TrimSpace(alertID)
	if id == "" {
		return api.ActionResponse{}, errors.New("alert id is required")
	}
	if strings.TrimSpace(req.AnalysisID) == "" {
		return api.ActionResponse{}, errors.New("analysis id is required")
	}
	body, err := c.request(ctx, http.MethodPost, "/v1/alerts/"+url.PathEscape(id)+"/fix", nil, req, false)
	if err != nil {
		return api.ActionResponse{}, err
	}
	var resp api.ActionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return api.ActionResponse{}, errors.Wrap(err, "decode action response")
	}
	return resp, nil
}

func (c *Client) WatchOnce(ctx context.Context, opts WatchOptions) ([]api.WatchLine, string, error) {
	scope := strings.TrimSpace(opts.Scope)
	if scope == "" {
		scope = ScopeAlerts
	}
	query := url.Values{}
	query.Set("scope", scope)
	if cursor := strings.TrimSpace(opts.Cursor); cursor != "" {
		query.Set("cursor", cursor)
	}
	body, err := c.request(ctx, http.MethodGet, "/v1/watch", query, nil, true)
	if err != nil {
		return nil, "", err
	}
	return decodeWatchLines(body)
}

// WatchLoop polls the watch endpoint until ctx is done, onLine fails or the
// daemon answers with a non-retryable error. Transient failures back off
// exponentially between RetryMinBackoff and RetryMaxBackoff.
func (c *Client) WatchLoop(ctx context.Context, opts WatchLoopOptions, onLine func(api.WatchLine) error) error {
	scope := strings.TrimSpace(opts.Scope)
	if scope == "" {
		scope = ScopeAlerts
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	minBackoff := opts.RetryMinBackoff
	if minBackoff <= 0 {
		minBackoff = 250 * time.Millisecond
	}
	maxBackoff := opts.RetryMaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 4 * time.Second
	}
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}
	cursor := strings.TrimSpace(opts.Cursor)
	backoff := minBackoff

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		lines, nextCursor, err := c.WatchOnce(ctx, WatchOptions{Scope: scope, Cursor: cursor})
		if err != nil {
			if opts.Once || errors.Is(err, ErrWatchPayloadInvalid) {
				return err
			}
			var reqErr *RequestError
			if errors.As(err, &reqErr) {
				if reqErr.cursorRejected() && cursor != "" {
					cursor = ""
					continue
				}
				if !reqErr.Retryable() {
					return err
				}
			}
			if waitErr := sleepWithContext(ctx, backoff); waitErr != nil {
				return waitErr
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = minBackoff
		if nextCursor != "" {
			cursor = nextCursor
		}
		for _, line := range lines {
			if onLine == nil {
				continue
			}
			if err := onLine(line); err != nil {
				return err
			}
		}
		if opts.Once {
			return nil
		}
		if err := sleepWithContext(ctx, pollInterval); err != nil {
			return err
		}
	}
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, body any, longLived bool) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	reqCtx := ctx
	if !longLived && c.unaryTimeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.unaryTimeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.unaryTimeout)
			defer cancel()
		}
	}

	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, errors.Wrap(err, "encode request body")
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(reqCtx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var er api.ErrorResponse
		if err := json.Unmarshal(payload, &er); err == nil && er.Error.Code != "" {
			return nil, &RequestError{
				StatusCode: resp.StatusCode,
				Code:       er.Error.Code,
				Message:    er.Error.Message,
			}
		}
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Code:       fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message:    strings.TrimSpace(string(payload)),
		}
	}
	return payload, nil
}

func decodeWatchLines(body []byte) ([]api.WatchLine, string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, watchScannerInitialBuffer), watchScannerMaxBuffer)
	lines := make([]api.WatchLine, 0)
	nextCursor := ""
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var line api.WatchLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return nil, "", errors.Wrapf(ErrWatchPayloadInvalid, "decode watch line: %v", err)
		}
		if c := strings.TrimSpace(line.Cursor); c != "" {
			nextCursor = c
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, "", errors.Wrapf(ErrWatchPayloadInvalid, "scan watch lines: %v", err)
	}
	return lines, nextCursor, nil
}

func sleepWithContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
