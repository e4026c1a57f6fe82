package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gather/internal/config"
	"gather/internal/queue"
)

const userAgent = "Gather-Go/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyJobFailed(ctx context.Context, job *queue.MediaJob, reason string) error
	NotifyBatchReceived(ctx context.Context, eventID string, accepted, rejected int) error
	NotifyDaemonStarted(ctx context.Context, bind string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:      topic,
		client:        &http.Client{Timeout: timeout},
		sendFailures:  cfg.Notifications.Failures,
		sendBatches:   cfg.Notifications.Batches,
		sendLifecycle: true,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint      string
	client        *http.Client
	sendFailures  bool
	sendBatches   bool
	sendLifecycle bool
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, job *queue.MediaJob, reason string) error {
	if !n.sendFailures || job == nil {
		return nil
	}
	data := payload{
		title: "Gather - Upload Failed",
		message: fmt.Sprintf("Processing failed for %s (event %s): %s",
			strings.TrimSpace(job.Filename), job.EventID, strings.TrimSpace(reason)),
		tags:     []string{"gather", "upload", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBatchReceived(ctx context.Context, eventID string, accepted, rejected int) error {
	if !n.sendBatches {
		return nil
	}
	message := fmt.Sprintf("Received %d uploads for event %s", accepted, eventID)
	if rejected > 0 {
		message = fmt.Sprintf("%s (%d rejected)", message, rejected)
	}
	data := payload{
		title:   "Gather - Batch Received",
		message: message,
		tags:    []string{"gather", "batch", "received"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDaemonStarted(ctx context.Context, bind string) error {
	if !n.sendLifecycle {
		return nil
	}
	data := payload{
		title:   "Gather - Started",
		message: fmt.Sprintf("Daemon listening on %s", bind),
		tags:    []string{"gather", "daemon", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Gather - Test",
		message:  "Notification system test",
		tags:     []string{"gather", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobFailed(context.Context, *queue.MediaJob, string) error {
	return nil
}

func (noopService) NotifyBatchReceived(context.Context, string, int, int) error {
	return nil
}

func (noopService) NotifyDaemonStarted(context.Context, string) error {
	return nil
}

func (noopService) TestNotification(context.Context) error {
	return nil
}
