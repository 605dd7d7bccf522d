// Package trmock is an in-memory TestRail lookalike covering the endpoints
// the client uses. Tests drive it through httptest; the CLI exposes it via
// the mock subcommand for local experiments.
package trmock

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"pkt.systems/pslog"
)

// Run is the mock's view of a TestRail run.
type Run struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	ProjectID   int    `json:"project_id"`
	SuiteID     int    `json:"suite_id"`
	IsCompleted bool   `json:"is_completed"`
	CaseIDs     []int  `json:"-"`
}

// Result is one stored submission.
type Result struct {
	ID       int
	RunID    int
	CaseID   int
	StatusID int
	Comment  string
	Elapsed  string
}

type plannedFailure struct {
	status     int
	retryAfter string
}

// Server implements the TestRail API surface used by this module.
type Server struct {
	router *mux.Router
	logger pslog.Base

	mu           sync.Mutex
	runs         map[int]*Run
	results      []Result
	nextRunID    int
	nextResultID int
	requests     int
	failures     []plannedFailure
}

// New builds a mock server; pass nil for a silent logger-less instance.
func New(logger pslog.Base) *Server {
	s := &Server{
		logger:       logger,
		runs:         map[int]*Run{},
		nextRunID:    1,
		nextResultID: 1,
	}
	r := mux.NewRouter()
	r.NewRoute().Methods(http.MethodPost).MatcherFunc(s.api("add_run/")).HandlerFunc(s.handleAddRun)
	r.NewRoute().Methods(http.MethodPost).MatcherFunc(s.api("update_run/")).HandlerFunc(s.handleUpdateRun)
	r.NewRoute().Methods(http.MethodGet).MatcherFunc(s.api("get_run/")).HandlerFunc(s.handleGetRun)
	r.NewRoute().Methods(http.MethodPost).MatcherFunc(s.api("add_result_for_case/")).HandlerFunc(s.handleAddResultForCase)
	r.NewRoute().Methods(http.MethodPost).MatcherFunc(s.api("add_results_for_cases/")).HandlerFunc(s.handleAddResultsForCases)
	r.NewRoute().Methods(http.MethodPost).MatcherFunc(s.api("close_run/")).HandlerFunc(s.handleCloseRun)
	r.NewRoute().Methods(http.MethodPost).MatcherFunc(s.api("add_attachment_to_result/")).HandlerFunc(s.handleAddAttachment)
	s.router = r
	return s
}

// TestRail tunnels its API path through index.php's query string, so routing
// matches on the raw query rather than the URL path.
func (s *Server) api(prefix string) mux.MatcherFunc {
	return func(r *http.Request, _ *mux.RouteMatch) bool {
		return r.URL.Path == "/index.php" && strings.HasPrefix(r.URL.RawQuery, "/api/v2/"+prefix)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests++
	if len(s.failures) > 0 {
		f := s.failures[0]
		s.failures = s.failures[1:]
		s.mu.Unlock()
		if f.retryAfter != "" {
			w.Header().Set("Retry-After", f.retryAfter)
		}
		http.Error(w, "planned failure", f.status)
		return
	}
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Debug("trmock", "method", r.Method, "query", r.URL.RawQuery)
	}
	s.router.ServeHTTP(w, r)
}

// apiArgs returns the slash-separated arguments after the endpoint name.
func apiArgs(r *http.Request, prefix string) []string {
	rest := strings.TrimPrefix(r.URL.RawQuery, "/api/v2/"+prefix)
	return strings.Split(rest, "/")
}

func (s *Server) handleAddRun(w http.ResponseWriter, r *http.Request) {
	args := apiArgs(r, "add_run/")
	projectID, _ := strconv.Atoi(args[0])
	var req struct {
		Name       string `json:"name"`
		SuiteID    int    `json:"suite_id"`
		IncludeAll bool   `json:"include_all"`
		CaseIDs    []int  `json:"case_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	run := &Run{ID: s.nextRunID, Name: req.Name, ProjectID: projectID, SuiteID: req.SuiteID, CaseIDs: req.CaseIDs}
	s.nextRunID++
	s.runs[run.ID] = run
	s.mu.Unlock()

	writeJSON(w, run)
}

func (s *Server) handleUpdateRun(w http.ResponseWriter, r *http.Request) {
	args := apiArgs(r, "update_run/")
	runID, _ := strconv.Atoi(args[0])
	var req struct {
		CaseIDs []int `json:"case_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	run, ok := s.runs[runID]
	if ok {
		run.CaseIDs = req.CaseIDs
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, fmt.Sprintf("run %d not found", runID), http.StatusBadRequest)
		return
	}
	writeJSON(w, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	args := apiArgs(r, "get_run/")
	runID, _ := strconv.Atoi(args[0])

	s.mu.Lock()
	run, ok := s.runs[runID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, fmt.Sprintf("run %d not found", runID), http.StatusBadRequest)
		return
	}
	writeJSON(w, run)
}

func (s *Server) handleAddResultForCase(w http.ResponseWriter, r *http.Request) {
	args := apiArgs(r, "add_result_for_case/")
	if len(args) < 2 {
		http.Error(w, "missing case id", http.StatusBadRequest)
		return
	}
	runID, _ := strconv.Atoi(args[0])
	caseID, _ := strconv.Atoi(args[1])
	var req struct {
		StatusID int    `json:"status_id"`
		Comment  string `json:"comment"`
		Elapsed  string `json:"elapsed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	run, ok := s.runs[runID]
	if !ok || run.IsCompleted {
		s.mu.Unlock()
		http.Error(w, fmt.Sprintf("run %d not available", runID), http.StatusBadRequest)
		return
	}
	res := Result{ID: s.nextResultID, RunID: runID, CaseID: caseID, StatusID: req.StatusID, Comment: req.Comment, Elapsed: req.Elapsed}
	s.nextResultID++
	s.results = append(s.results, res)
	s.mu.Unlock()

	writeJSON(w, map[string]int{"id": res.ID, "status_id": res.StatusID})
}

func (s *Server) handleAddResultsForCases(w http.ResponseWriter, r *http.Request) {
	args := apiArgs(r, "add_results_for_cases/")
	runID, _ := strconv.Atoi(args[0])
	var req struct {
		Results []struct {
			CaseID   int    `json:"case_id"`
			StatusID int    `json:"status_id"`
			Comment  string `json:"comment"`
			Elapsed  string `json:"elapsed"`
		} `json:"results"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	run, ok := s.runs[runID]
	if !ok || run.IsCompleted {
		s.mu.Unlock()
		http.Error(w, fmt.Sprintf("run %d not available", runID), http.StatusBadRequest)
		return
	}
	for _, in := range req.Results {
		s.results = append(s.results, Result{ID: s.nextResultID, RunID: runID, CaseID: in.CaseID, StatusID: in.StatusID, Comment: in.Comment, Elapsed: in.Elapsed})
		s.nextResultID++
	}
	s.mu.Unlock()

	writeJSON(w, []any{})
}

func (s *Server) handleCloseRun(w http.ResponseWriter, r *http.Request) {
	args := apiArgs(r, "close_run/")
	runID, _ := strconv.Atoi(args[0])

	s.mu.Lock()
	run, ok := s.runs[runID]
	if ok {
		run.IsCompleted = true
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, fmt.Sprintf("run %d not found", runID), http.StatusBadRequest)
		return
	}
	writeJSON(w, run)
}

func (s *Server) handleAddAttachment(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, _, err := r.FormFile("attachment"); err != nil {
		http.Error(w, "missing attachment", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]int{"attachment_id": 1})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// FailNext queues a failure response for the next request; retryAfter is an
// optional Retry-After header value.
func (s *Server) FailNext(status int, retryAfter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, plannedFailure{status: status, retryAfter: retryAfter})
}

// RunByID returns a copy of a stored run.
func (s *Server) RunByID(id int) (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// Results returns a copy of all stored submissions.
func (s *Server) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result, len(s.results))
	copy(out, s.results)
	return out
}

// RequestCount reports how many API calls the server has seen.
func (s *Server) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// SeedRun installs a run so tests can exercise run reuse.
func (s *Server) SeedRun(run Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID >= s.nextRunID {
		s.nextRunID = run.ID + 1
	}
	r := run
	s.runs[run.ID] = &r
}
