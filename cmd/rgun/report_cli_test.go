package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"pkt.systems/railgun"
	"pkt.systems/railgun/internal/trmock"
)

const passingStream = `{"Action":"run","Package":"p","Test":"TestLogin"}
{"Action":"output","Package":"p","Test":"TestLogin","Output":"ok\n"}
{"Action":"pass","Package":"p","Test":"TestLogin","Elapsed":0.5}
{"Action":"pass","Package":"p","Test":"TestAnnotated_C200","Elapsed":0.1}
`

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReportCommandEndToEnd(t *testing.T) {
	mock := trmock.New(nil)
	srv := httptest.NewServer(mock)
	defer srv.Close()

	t.Setenv("TESTRAIL_USERNAME", "user@example.com")
	t.Setenv("TESTRAIL_API_KEY", "secret")

	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "testrail.yml",
		"testrail:\n  base_url: "+srv.URL+"\n  project_id: 1\n  suite_id: 2\n  run_name: CLI Run\n")
	mapPath := writeFile(t, dir, "cases.yml", "cases:\n  p.TestLogin: [100]\n")
	streamPath := writeFile(t, dir, "stream.json", passingStream)
	outPath := filepath.Join(dir, "summary.json")

	cmd := newRootCmd()
	cmd.SetContext(context.Background())
	cmd.SetArgs([]string{"report", streamPath,
		"--config", cfgPath,
		"--mapping", mapPath,
		"--output", outPath,
		"--log-level", "error",
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("report cmd: %v", err)
	}

	run, ok := mock.RunByID(1)
	if !ok {
		t.Fatal("run not created")
	}
	if run.Name != "CLI Run" || !run.IsCompleted {
		t.Fatalf("unexpected run %+v", run)
	}

	results := mock.Results()
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d: %+v", len(results), results)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("summary output missing: %v", err)
	}
	var sum railgun.Summary
	if err := json.Unmarshal(data, &sum); err != nil {
		t.Fatalf("summary not valid JSON: %v", err)
	}
	if sum.Submitted != 2 || sum.TestsTotal != 2 || sum.TestsFailed != 0 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestReportCommandDryRunWithoutConfig(t *testing.T) {
	dir := t.TempDir()
	streamPath := writeFile(t, dir, "stream.json", passingStream)
	outPath := filepath.Join(dir, "summary.json")

	cmd := newRootCmd()
	cmd.SetContext(context.Background())
	cmd.SetArgs([]string{"report", streamPath,
		"--dry-run",
		"--output", outPath,
		"--log-level", "error",
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("report cmd: %v", err)
	}

	var sum railgun.Summary
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &sum); err != nil {
		t.Fatal(err)
	}
	// No mapping file: only the annotated test resolves to a case.
	if sum.Submitted != 1 || sum.Unmapped != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}
