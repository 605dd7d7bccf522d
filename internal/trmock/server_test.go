package trmock

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func postJSON(t *testing.T, url, apiPath string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url+"/index.php?"+apiPath, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRunLifecycle(t *testing.T) {
	mock := New(nil)
	srv := httptest.NewServer(mock)
	defer srv.Close()

	resp := postJSON(t, srv.URL, "/api/v2/add_run/3", map[string]any{
		"name": "nightly", "suite_id": 2, "include_all": false, "case_ids": []int{1, 2},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add_run status %d", resp.StatusCode)
	}
	var run Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatal(err)
	}
	if run.ID != 1 || run.ProjectID != 3 || run.Name != "nightly" {
		t.Fatalf("unexpected run %+v", run)
	}

	resp = postJSON(t, srv.URL, "/api/v2/add_result_for_case/1/2", map[string]any{
		"status_id": 5, "comment": "boom", "elapsed": "3s",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add_result_for_case status %d", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL, "/api/v2/close_run/1", struct{}{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("close_run status %d", resp.StatusCode)
	}
	stored, _ := mock.RunByID(1)
	if !stored.IsCompleted {
		t.Fatal("run not marked completed")
	}

	// Closed runs reject further results.
	resp = postJSON(t, srv.URL, "/api/v2/add_result_for_case/1/2", map[string]any{"status_id": 1})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected rejection on closed run, got %d", resp.StatusCode)
	}

	results := mock.Results()
	if len(results) != 1 || results[0].CaseID != 2 || results[0].StatusID != 5 {
		t.Fatalf("unexpected results %+v", results)
	}
	if mock.RequestCount() != 4 {
		t.Fatalf("expected 4 requests, got %d", mock.RequestCount())
	}
}

func TestPlannedFailures(t *testing.T) {
	mock := New(nil)
	srv := httptest.NewServer(mock)
	defer srv.Close()

	mock.FailNext(http.StatusTooManyRequests, "7")
	mock.SeedRun(Run{ID: 9, Name: "seeded"})

	resp, err := http.Get(srv.URL + "/index.php?/api/v2/get_run/9")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected planned 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "7" {
		t.Fatalf("Retry-After not set: %q", resp.Header.Get("Retry-After"))
	}

	// Failure queue is consumed; the next request succeeds.
	resp, err = http.Get(srv.URL + "/index.php?/api/v2/get_run/9")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected recovery, got %d", resp.StatusCode)
	}
}

func TestBatchResults(t *testing.T) {
	mock := New(nil)
	srv := httptest.NewServer(mock)
	defer srv.Close()

	mock.SeedRun(Run{ID: 4, Name: "seeded"})
	resp := postJSON(t, srv.URL, "/api/v2/add_results_for_cases/4", map[string]any{
		"results": []map[string]any{
			{"case_id": 1, "status_id": 1},
			{"case_id": 2, "status_id": 5, "comment": "nope"},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	results := mock.Results()
	if len(results) != 2 || results[1].Comment != "nope" {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestAttachmentUpload(t *testing.T) {
	mock := New(nil)
	srv := httptest.NewServer(mock)
	defer srv.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("attachment", "log.txt")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("log line"))
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/index.php?/api/v2/add_attachment_to_result/1", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var out map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["attachment_id"] == 0 {
		t.Fatal("missing attachment id")
	}
}

func TestUnknownEndpoint(t *testing.T) {
	srv := httptest.NewServer(New(nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/index.php?/api/v2/get_suites/1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Fatal("unimplemented endpoint must not succeed")
	}
	if !strings.HasPrefix(resp.Status, "4") && !strings.HasPrefix(resp.Status, "5") {
		t.Fatalf("unexpected status %s", resp.Status)
	}
}
