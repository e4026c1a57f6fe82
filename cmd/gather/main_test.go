package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootHelpListsCommands(t *testing.T) {
	out, err := executeCommand(t, "--help")
	if err != nil {
		t.Fatalf("help failed: %v", err)
	}
	for _, name := range []string{"start", "stop", "status", "queue", "approve", "config", "test-notify"} {
		if !strings.Contains(out, name) {
			t.Errorf("help output missing %q", name)
		}
	}
}

func TestQueueListRendersTable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/queue" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"entries":[{"id":3,"jobId":"job-3","eventId":"event-1","filename":"cake.jpg","uploader":"guest","state":"waiting","attempts":0}]}`))
	}))
	defer server.Close()

	out, err := executeCommand(t, "queue", "list", "--address", server.URL)
	if err != nil {
		t.Fatalf("queue list failed: %v", err)
	}
	if !strings.Contains(out, "cake.jpg") || !strings.Contains(out, "waiting") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestQueueStatsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"total":0,"counts":{}}`))
	}))
	defer server.Close()

	out, err := executeCommand(t, "queue", "stats", "--address", server.URL)
	if err != nil {
		t.Fatalf("queue stats failed: %v", err)
	}
	if !strings.Contains(out, "Queue is empty") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestQueueRetryRejectsBadID(t *testing.T) {
	if _, err := executeCommand(t, "queue", "retry", "abc", "--address", "127.0.0.1:1"); err == nil {
		t.Fatal("expected error for non-numeric entry id")
	}
}
