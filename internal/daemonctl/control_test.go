package daemonctl_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"gather/internal/daemonctl"
)

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"entries":[{"id":1,"jobId":"job-1","state":"waiting"}]}`))
	}))
	defer server.Close()

	client := daemonctl.NewClient(server.URL, "secret")
	entries, err := client.QueueList(context.Background(), "event-1", "waiting")
	if err != nil {
		t.Fatalf("QueueList: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("authorization header = %q", gotAuth)
	}
	if len(entries) != 1 || entries[0].JobID != "job-1" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestClientSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"entry is not failed"}`))
	}))
	defer server.Close()

	client := daemonctl.NewClient(server.URL, "")
	if _, err := client.Retry(context.Background(), 7); err == nil {
		t.Fatal("expected error from 409 response")
	}
}

func TestReadPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gather.pid")

	if pid, err := daemonctl.ReadPIDFile(path); err != nil || pid != 0 {
		t.Fatalf("missing file: pid=%d err=%v", pid, err)
	}

	if err := os.WriteFile(path, []byte("12345\n"), 0o644); err != nil {
		t.Fatalf("write pid file: %v", err)
	}
	pid, err := daemonctl.ReadPIDFile(path)
	if err != nil {
		t.Fatalf("ReadPIDFile: %v", err)
	}
	if pid != 12345 {
		t.Fatalf("pid = %d, want 12345", pid)
	}

	if err := os.WriteFile(path, []byte("junk"), 0o644); err != nil {
		t.Fatalf("write pid file: %v", err)
	}
	if _, err := daemonctl.ReadPIDFile(path); err == nil {
		t.Fatal("expected error for malformed pid file")
	}
}
