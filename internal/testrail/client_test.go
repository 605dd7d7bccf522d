package testrail

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func fastClient(baseURL string, attempts uint64) *Client {
	return NewClient(baseURL, "user@example.com", "key", WithMaxAttempts(attempts), WithTimeout(2*time.Second))
}

func TestAddRunSendsAuthAndPayload(t *testing.T) {
	var gotQuery, gotUser, gotKey string
	var gotBody addRunRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotUser, gotKey, _ = r.BasicAuth()
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(Run{ID: 42, Name: gotBody.Name})
	}))
	defer srv.Close()

	run, err := fastClient(srv.URL, 1).AddRun(context.Background(), 7, 3, "nightly", []int{1, 2})
	if err != nil {
		t.Fatalf("add run: %v", err)
	}
	if run.ID != 42 {
		t.Fatalf("expected run 42, got %d", run.ID)
	}
	if gotQuery != "/api/v2/add_run/7" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if gotUser != "user@example.com" || gotKey != "key" {
		t.Fatalf("basic auth not forwarded: %q/%q", gotUser, gotKey)
	}
	if gotBody.IncludeAll || gotBody.SuiteID != 3 || len(gotBody.CaseIDs) != 2 {
		t.Fatalf("unexpected payload %+v", gotBody)
	}
}

func TestRetriesTransientFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "upstream hiccup", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(CreatedResult{ID: 9})
	}))
	defer srv.Close()

	created, err := fastClient(srv.URL, 3).AddResultForCase(context.Background(), 1, 100, Result{StatusID: StatusPassed})
	if err != nil {
		t.Fatalf("expected retry to recover: %v", err)
	}
	if created.ID != 9 {
		t.Fatalf("unexpected result %+v", created)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRateLimitRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(CreatedResult{ID: 1})
	}))
	defer srv.Close()

	start := time.Now()
	_, err := fastClient(srv.URL, 3).AddResultForCase(context.Background(), 1, 1, Result{StatusID: StatusPassed})
	if err != nil {
		t.Fatalf("expected recovery after 429: %v", err)
	}
	if waited := time.Since(start); waited < time.Second {
		t.Fatalf("expected Retry-After to be honored, waited only %s", waited)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestClientErrorIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":"invalid case"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := fastClient(srv.URL, 5).AddResultForCase(context.Background(), 1, 1, Result{StatusID: StatusFailed})
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", apiErr.StatusCode)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("4xx must not retry, got %d calls", calls)
	}
}

func TestAttemptsExhausted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := fastClient(srv.URL, 2).CloseRun(context.Background(), 5)
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestGetRunUsesGET(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.RawQuery != "/api/v2/get_run/12" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(Run{ID: 12, Name: "existing"})
	}))
	defer srv.Close()

	run, err := fastClient(srv.URL, 1).GetRun(context.Background(), 12)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Name != "existing" {
		t.Fatalf("unexpected run %+v", run)
	}
}

func TestAddAttachmentUploadsMultipart(t *testing.T) {
	var gotQuery, gotName, gotContent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		file, header, err := r.FormFile("attachment")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		gotName = header.Filename
		data, _ := io.ReadAll(file)
		gotContent = string(data)
		json.NewEncoder(w).Encode(map[string]int{"attachment_id": 3})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "failure.log")
	if err := os.WriteFile(path, []byte("goroutine dump"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := fastClient(srv.URL, 1).AddAttachment(context.Background(), 9, path); err != nil {
		t.Fatalf("add attachment: %v", err)
	}
	if gotQuery != "/api/v2/add_attachment_to_result/9" {
		t.Fatalf("unexpected query %q", gotQuery)
	}
	if gotName != "failure.log" || gotContent != "goroutine dump" {
		t.Fatalf("unexpected upload %q %q", gotName, gotContent)
	}
}

func TestFormatElapsed(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{0, ""},
		{200 * time.Millisecond, "1s"},
		{3 * time.Second, "3s"},
		{90 * time.Second, "1m 30s"},
		{2 * time.Minute, "2m 0s"},
	}
	for _, c := range cases {
		if got := FormatElapsed(c.in); got != c.want {
			t.Errorf("FormatElapsed(%s) = %q, want %q", c.in, got, c.want)
		}
	}
}
