package testrail

import "fmt"

// TestRail result status IDs. These are the built-in statuses every
// installation ships with; custom statuses are out of scope.
const (
	StatusPassed  = 1
	StatusBlocked = 2
	StatusFailed  = 5
)

// Run mirrors the subset of the TestRail run object this module cares about.
type Run struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	ProjectID   int    `json:"project_id"`
	SuiteID     int    `json:"suite_id"`
	IsCompleted bool   `json:"is_completed"`
	URL         string `json:"url,omitempty"`
}

// Result is the payload for add_result_for_case.
type Result struct {
	StatusID int    `json:"status_id"`
	Comment  string `json:"comment,omitempty"`
	Elapsed  string `json:"elapsed,omitempty"` // TestRail span format, e.g. "2s" or "1m 30s"
	Version  string `json:"version,omitempty"`
}

// CaseResult is one entry of an add_results_for_cases batch.
type CaseResult struct {
	CaseID   int    `json:"case_id"`
	StatusID int    `json:"status_id"`
	Comment  string `json:"comment,omitempty"`
	Elapsed  string `json:"elapsed,omitempty"`
}

// CreatedResult is the response from add_result_for_case; the ID is needed
// to attach files to a result.
type CreatedResult struct {
	ID       int `json:"id"`
	TestID   int `json:"test_id"`
	StatusID int `json:"status_id"`
}

type addRunRequest struct {
	Name       string `json:"name"`
	SuiteID    int    `json:"suite_id,omitempty"`
	IncludeAll bool   `json:"include_all"`
	CaseIDs    []int  `json:"case_ids"`
}

type updateRunRequest struct {
	CaseIDs []int `json:"case_ids"`
}

type addResultsRequest struct {
	Results []CaseResult `json:"results"`
}

// APIError carries the HTTP status and response excerpt of a failed call so
// callers can log something actionable.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("testrail %s: status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("testrail %s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}
