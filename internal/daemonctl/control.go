// Package daemonctl is the CLI side of daemon control: an HTTP client for
// the gather daemon API plus helpers for locating and terminating a local
// daemon process.
package daemonctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"gather/internal/api"
)

// ErrDaemonNotRunning indicates the daemon API is unreachable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// Client talks to a running gather daemon over its HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client for the daemon at the given bind address.
func NewClient(bind, token string) *Client {
	bind = strings.TrimSpace(bind)
	if !strings.HasPrefix(bind, "http://") && !strings.HasPrefix(bind, "https://") {
		bind = "http://" + bind
	}
	return &Client{
		baseURL: strings.TrimRight(bind, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonNotRunning, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Health checks the unauthenticated liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// Status fetches daemon runtime information.
func (c *Client) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var status api.DaemonStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// QueueList fetches queue entries with optional event and state filters.
func (c *Client) QueueList(ctx context.Context, eventID, state string) ([]api.QueueEntry, error) {
	path := "/api/queue"
	params := make([]string, 0, 2)
	if eventID != "" {
		params = append(params, "event="+eventID)
	}
	if state != "" {
		params = append(params, "state="+state)
	}
	if len(params) > 0 {
		path += "?" + strings.Join(params, "&")
	}

	var resp api.QueueListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// QueueStats fetches entry counts by state.
func (c *Client) QueueStats(ctx context.Context, eventID string) (*api.QueueStatsResponse, error) {
	path := "/api/queue/stats"
	if eventID != "" {
		path += "?event=" + eventID
	}
	var resp api.QueueStatsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) entryAction(ctx context.Context, entryID int64, action string, body any) (*api.QueueEntry, error) {
	var resp api.QueueEntryResponse
	path := fmt.Sprintf("/api/queue/%d/%s", entryID, action)
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return &resp.Entry, nil
}

// Retry re-enqueues a failed entry.
func (c *Client) Retry(ctx context.Context, entryID int64) (*api.QueueEntry, error) {
	return c.entryAction(ctx, entryID, "retry", nil)
}

// Pause takes an entry out of scheduling.
func (c *Client) Pause(ctx context.Context, entryID int64) (*api.QueueEntry, error) {
	return c.entryAction(ctx, entryID, "pause", nil)
}

// Resume puts a paused entry back on the schedule.
func (c *Client) Resume(ctx context.Context, entryID int64) (*api.QueueEntry, error) {
	return c.entryAction(ctx, entryID, "resume", nil)
}

// Cancel removes an entry from scheduling with an optional reason.
func (c *Client) Cancel(ctx context.Context, entryID int64, reason string) (*api.QueueEntry, error) {
	var body any
	if reason != "" {
		body = map[string]string{"reason": reason}
	}
	return c.entryAction(ctx, entryID, "cancel", body)
}

// ClearHistory removes terminal entries past the retention window.
func (c *Client) ClearHistory(ctx context.Context) (int, error) {
	var resp struct {
		Removed int `json:"removed"`
	}
	if err := c.do(ctx, http.MethodDelete, "/api/queue/history", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

// Approve flips a pending media job to approved.
func (c *Client) Approve(ctx context.Context, jobID string) (*api.ApprovalResponse, error) {
	var resp api.ApprovalResponse
	if err := c.do(ctx, http.MethodPost, "/api/media/"+jobID+"/approve", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WaitForReady polls the health endpoint until the daemon answers or the
// timeout elapses.
func (c *Client) WaitForReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		if err := c.Health(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return fmt.Errorf("daemon failed to start: %w", lastErr)
}

// ReadPIDFile parses the daemon pid file, returning 0 when absent.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read pid file %q: %w", path, err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(value)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %q holds %q, not a pid", path, value)
	}
	return pid, nil
}

// TerminateProcess sends SIGTERM to the pid recorded in the pid file.
func TerminateProcess(pidPath string) (int, error) {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return 0, err
	}
	if pid == 0 {
		return 0, ErrDaemonNotRunning
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Signal(os.Interrupt); err != nil {
		return 0, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	return pid, nil
}
