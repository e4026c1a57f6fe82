package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"gather/internal/config"
	"gather/internal/notifications"
	"gather/internal/queue"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyJobFailed(context.Background(), &queue.MediaJob{ID: "j1"}, "boom"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsFailureNotice(t *testing.T) {
	type captured struct {
		title    string
		tags     string
		priority string
		body     string
	}
	var got captured

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Failures = true
	svc := notifications.NewService(&cfg)

	job := &queue.MediaJob{ID: "j1", EventID: "event-1", Filename: "party.jpg"}
	if err := svc.NotifyJobFailed(context.Background(), job, "generator unavailable"); err != nil {
		t.Fatalf("NotifyJobFailed failed: %v", err)
	}

	if got.title != "Gather - Upload Failed" {
		t.Fatalf("unexpected title: %q", got.title)
	}
	if got.tags != "gather,upload,failed" {
		t.Fatalf("unexpected tags: %q", got.tags)
	}
	if got.priority != "high" {
		t.Fatalf("unexpected priority: %q", got.priority)
	}
	if got.body != "Processing failed for party.jpg (event event-1): generator unavailable" {
		t.Fatalf("unexpected body: %q", got.body)
	}
}

func TestFailureNoticesRespectToggle(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Failures = false
	cfg.Notifications.Batches = false
	svc := notifications.NewService(&cfg)

	if err := svc.NotifyJobFailed(context.Background(), &queue.MediaJob{ID: "j1"}, "boom"); err != nil {
		t.Fatalf("NotifyJobFailed failed: %v", err)
	}
	if err := svc.NotifyBatchReceived(context.Background(), "event-1", 3, 0); err != nil {
		t.Fatalf("NotifyBatchReceived failed: %v", err)
	}
	if requests != 0 {
		t.Fatalf("disabled notices must not send, got %d requests", requests)
	}
}

func TestNtfyServiceSurfacesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic over quota", http.StatusTooManyRequests)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)

	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
