package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gather/internal/api"
	"gather/internal/config"
	"gather/internal/daemon"
	"gather/internal/intake"
	"gather/internal/testsupport"
)

func startDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()

	store := testsupport.MustOpenStore(t, cfg)
	d, err := daemon.New(cfg, store, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := startDaemon(t, cfg)

	status := d.Status(context.Background())
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.LockFilePath == "" || status.QueueDBPath == "" {
		t.Fatalf("expected populated paths, got %+v", status)
	}

	// Second start should fail while the first holds the lock.
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Status(context.Background()).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestHealthEndpoint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := startDaemon(t, cfg)

	resp, err := http.Get("http://" + d.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", resp.StatusCode)
	}
}

func TestBearerAuthGuardsOperatorRoutes(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken("secret"))
	d := startDaemon(t, cfg)
	base := "http://" + d.Addr()

	resp, err := http.Get(base + "/api/queue")
	if err != nil {
		t.Fatalf("unauthenticated request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, base+"/api/queue", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authenticated request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
}

func jpegBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.jpg")
	testsupport.WriteJPEG(t, path, width, height)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample jpeg: %v", err)
	}
	return data
}

func uploadBatch(t *testing.T, base, eventID string, fields map[string]string, filename string, content []byte) (*intake.BatchResult, *http.Response) {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field %s: %v", key, err)
		}
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, filename))
	header.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	resp, err := http.Post(base+"/api/events/"+eventID+"/uploads", writer.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read upload response: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("upload returned %d: %s", resp.StatusCode, raw)
	}
	var result intake.BatchResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	return &result, resp
}

func TestUploadThenListAndStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := startDaemon(t, cfg)
	base := "http://" + d.Addr()

	result, _ := uploadBatch(t, base, "event-1", map[string]string{
		"user_id":       "user-7",
		"uploader_role": "host",
	}, "beach.jpg", jpegBytes(t, 64, 48))

	if len(result.Files) != 1 || result.Files[0].Err != "" {
		t.Fatalf("unexpected batch result: %+v", result)
	}
	if result.Files[0].JobID == "" {
		t.Fatal("expected a job id for the accepted file")
	}
	if result.Files[0].Approval != "auto_approved" {
		t.Fatalf("host upload approval = %q, want auto_approved", result.Files[0].Approval)
	}

	resp, err := http.Get(base + "/api/queue?event=event-1")
	if err != nil {
		t.Fatalf("list request: %v", err)
	}
	defer resp.Body.Close()
	var list api.QueueListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(list.Entries))
	}
	if list.Entries[0].JobID != result.Files[0].JobID {
		t.Fatalf("listed job %q, want %q", list.Entries[0].JobID, result.Files[0].JobID)
	}
	if list.Entries[0].Uploader != "user" {
		t.Fatalf("uploader = %q, want user", list.Entries[0].Uploader)
	}

	statsResp, err := http.Get(base + "/api/queue/stats?event=event-1")
	if err != nil {
		t.Fatalf("stats request: %v", err)
	}
	defer statsResp.Body.Close()
	var stats api.QueueStatsResponse
	if err := json.NewDecoder(statsResp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 1 {
		t.Fatalf("stats total = %d, want 1", stats.Total)
	}
}

func TestGuestUploadSetsSessionCookieAndApproval(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := startDaemon(t, cfg)
	base := "http://" + d.Addr()

	result, resp := uploadBatch(t, base, "event-2", map[string]string{
		"require_approval": "true",
	}, "guest.jpg", jpegBytes(t, 32, 32))

	if result.GuestSessionID == "" {
		t.Fatal("expected a lazily created guest session")
	}
	var cookie string
	for _, c := range resp.Cookies() {
		if c.Name == "gather_guest_session" {
			cookie = c.Value
		}
	}
	if cookie != result.GuestSessionID {
		t.Fatalf("cookie %q does not match session %q", cookie, result.GuestSessionID)
	}
	if result.Files[0].Approval != "pending" {
		t.Fatalf("guest approval = %q, want pending", result.Files[0].Approval)
	}

	// Host approval flips the pending job.
	approveResp, err := http.Post(base+"/api/media/"+result.Files[0].JobID+"/approve", "application/json", nil)
	if err != nil {
		t.Fatalf("approve request: %v", err)
	}
	defer approveResp.Body.Close()
	if approveResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(approveResp.Body)
		t.Fatalf("approve returned %d: %s", approveResp.StatusCode, raw)
	}
	var approved api.ApprovalResponse
	if err := json.NewDecoder(approveResp.Body).Decode(&approved); err != nil {
		t.Fatalf("decode approve response: %v", err)
	}
	if approved.Approval != "approved" {
		t.Fatalf("approval = %q, want approved", approved.Approval)
	}
}

func TestClaimFlow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := startDaemon(t, cfg)
	base := "http://" + d.Addr()

	sessionResp, err := http.Post(base+"/api/events/event-3/sessions", "application/json", nil)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	defer sessionResp.Body.Close()
	if sessionResp.StatusCode != http.StatusCreated {
		t.Fatalf("issue session returned %d", sessionResp.StatusCode)
	}
	var session struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(sessionResp.Body).Decode(&session); err != nil {
		t.Fatalf("decode session: %v", err)
	}

	result, _ := uploadBatch(t, base, "event-3", map[string]string{
		"guest_session_id": session.SessionID,
	}, "claim-me.jpg", jpegBytes(t, 40, 40))
	if result.GuestSessionID != session.SessionID {
		t.Fatalf("upload bound to session %q, want %q", result.GuestSessionID, session.SessionID)
	}

	summaryReq, _ := http.NewRequest(http.MethodGet, base+"/api/claims/summary?event_id=event-3&session_id="+session.SessionID, nil)
	summaryReq.Header.Set("X-Gather-User", "user-9")
	summaryResp, err := http.DefaultClient.Do(summaryReq)
	if err != nil {
		t.Fatalf("claim summary: %v", err)
	}
	defer summaryResp.Body.Close()
	if summaryResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(summaryResp.Body)
		t.Fatalf("claim summary returned %d: %s", summaryResp.StatusCode, raw)
	}

	claimBody, _ := json.Marshal(api.ClaimRequest{
		EventID:    "event-3",
		SessionIDs: []string{session.SessionID},
	})
	claimReq, _ := http.NewRequest(http.MethodPost, base+"/api/claims", bytes.NewReader(claimBody))
	claimReq.Header.Set("Content-Type", "application/json")
	claimReq.Header.Set("X-Gather-User", "user-9")
	claimResp, err := http.DefaultClient.Do(claimReq)
	if err != nil {
		t.Fatalf("claim request: %v", err)
	}
	defer claimResp.Body.Close()
	if claimResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(claimResp.Body)
		t.Fatalf("claim returned %d: %s", claimResp.StatusCode, raw)
	}
	var claim struct {
		MigratedCount int `json:"migrated_count"`
	}
	if err := json.NewDecoder(claimResp.Body).Decode(&claim); err != nil {
		t.Fatalf("decode claim response: %v", err)
	}
	if claim.MigratedCount != 1 {
		t.Fatalf("migrated %d jobs, want 1", claim.MigratedCount)
	}

	// A claimed session cannot upload again.
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("guest_session_id", session.SessionID)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="files"; filename="late.jpg"`)
	header.Set("Content-Type", "image/jpeg")
	part, _ := writer.CreatePart(header)
	_, _ = part.Write(jpegBytes(t, 16, 16))
	_ = writer.Close()

	lateResp, err := http.Post(base+"/api/events/event-3/uploads", writer.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("late upload: %v", err)
	}
	defer lateResp.Body.Close()
	if lateResp.StatusCode == http.StatusAccepted {
		t.Fatal("expected upload with claimed session to be rejected")
	}
}

func TestClaimRequiresAuthenticatedCaller(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken("secret"))
	d := startDaemon(t, cfg)
	base := "http://" + d.Addr()

	claimBody, _ := json.Marshal(api.ClaimRequest{
		EventID:    "event-5",
		SessionIDs: []string{"whatever"},
	})

	// No bearer token at all.
	resp, err := http.Post(base+"/api/claims", "application/json", bytes.NewReader(claimBody))
	if err != nil {
		t.Fatalf("anonymous claim: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous claim returned %d, want 401", resp.StatusCode)
	}

	// Bearer token but no asserted user identity.
	req, _ := http.NewRequest(http.MethodPost, base+"/api/claims", bytes.NewReader(claimBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("claim without user: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("claim without user returned %d, want 401", resp.StatusCode)
	}

	// The summary route is guarded the same way.
	resp, err = http.Get(base + "/api/claims/summary?event_id=event-5")
	if err != nil {
		t.Fatalf("anonymous summary: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous summary returned %d, want 401", resp.StatusCode)
	}
}

func TestPreviewLocatorServesSource(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := startDaemon(t, cfg)
	base := "http://" + d.Addr()

	content := jpegBytes(t, 80, 60)
	result, _ := uploadBatch(t, base, "event-6", map[string]string{
		"user_id":       "user-12",
		"uploader_role": "host",
	}, "early.jpg", content)

	locator := result.Files[0].PreviewLocator
	if locator == "" {
		t.Fatal("expected a preview locator")
	}

	resp, err := http.Get(base + locator)
	if err != nil {
		t.Fatalf("fetch source: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("source returned %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "image/jpeg" {
		t.Fatalf("content type = %q, want image/jpeg", got)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read source: %v", err)
	}
	if !bytes.Equal(body, content) {
		t.Fatalf("served %d bytes, want the %d uploaded bytes", len(body), len(content))
	}

	missing, err := http.Get(base + "/api/media/no-such-job/source")
	if err != nil {
		t.Fatalf("fetch missing source: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing job returned %d, want 404", missing.StatusCode)
	}
}

func TestEntryActionRejectsBadID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := startDaemon(t, cfg)

	resp, err := http.Post("http://"+d.Addr()+"/api/queue/not-a-number/retry", "application/json", nil)
	if err != nil {
		t.Fatalf("retry request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", resp.StatusCode)
	}
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWorkerProcessesUploadedImage(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWorkerCount(1))
	cfg.Workers.PollIntervalSeconds = 1
	d := startDaemon(t, cfg)
	base := "http://" + d.Addr()

	result, _ := uploadBatch(t, base, "event-4", map[string]string{
		"user_id":       "user-11",
		"uploader_role": "host",
	}, "process.jpg", jpegBytes(t, 400, 300))

	jobID := result.Files[0].JobID
	waitFor(t, 10*time.Second, func() bool {
		resp, err := http.Get(base + "/api/queue?event=event-4&state=completed")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var list api.QueueListResponse
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
			return false
		}
		return len(list.Entries) == 1 && list.Entries[0].JobID == jobID
	})
}
