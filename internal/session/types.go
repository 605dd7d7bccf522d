package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/railgun/internal/config"
	"pkt.systems/railgun/internal/mapping"
	"pkt.systems/railgun/internal/testrail"
)

var (
	// ErrNotStarted is returned by Record before Start has run.
	ErrNotStarted = errors.New("session not started")
	// ErrClosed is returned by Record after Close.
	ErrClosed = errors.New("session closed")
)

// Outcome of a single host test.
type Outcome string

const (
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// StatusID maps an outcome to the TestRail status submitted for it.
// Skips report as blocked, not untested: untested is not submittable.
func (o Outcome) StatusID() int {
	switch o {
	case OutcomeFailed:
		return testrail.StatusFailed
	case OutcomeSkipped:
		return testrail.StatusBlocked
	default:
		return testrail.StatusPassed
	}
}

// TestResult is one finished host test handed to Record.
type TestResult struct {
	ID      string
	Outcome Outcome
	Comment string
	Elapsed time.Duration
}

// SubmitInfo describes one pending (test, case) submission. Hooks may mutate
// Status, Comment, or set Drop to suppress the submission.
type SubmitInfo struct {
	TestID  string
	CaseID  int
	Status  int
	Comment string
	Elapsed time.Duration
	Drop    bool
}

// PreSubmitHook runs before a result is sent and may mutate it.
type PreSubmitHook func(ctx context.Context, info *SubmitInfo, logger pslog.Base) error

// PostSubmitHook runs after a submission attempt; submitErr is nil on
// success. Hook errors abort the stream.
type PostSubmitHook func(ctx context.Context, info SubmitInfo, submitErr error, logger pslog.Base) error

// CaseRecord is the audit trail of one (test, case) submission attempt.
type CaseRecord struct {
	TestID    string
	CaseID    int
	Status    int
	Comment   string
	Elapsed   time.Duration
	Submitted bool
	Dropped   bool
	Error     string
}

// Summary aggregates a whole reporting session.
type Summary struct {
	RunID        int
	RunName      string
	Cases        []CaseRecord
	Submitted    int
	SubmitFailed int
	Unmapped     int
	Dropped      int
	TestsTotal   int
	TestsPassed  int
	TestsFailed  int
	TestsSkipped int
	TotalElapsed time.Duration
}

// Options configure a reporting session.
type Options struct {
	Config  config.Config
	Mapping *mapping.Mapping
	// RunName overrides the config-provided run name when non-empty.
	RunName string
	// Batch buffers submissions and flushes them in one
	// add_results_for_cases call at Close.
	Batch bool
	// HookScript is a path to a JS file run against each pending submission.
	HookScript string
	// PreSubmitCmd and PostSubmitCmd are external commands invoked around
	// each submission with RAILGUN_* environment variables.
	PreSubmitCmd  []string
	PostSubmitCmd []string
	// MappingLog receives the mapping table when log_mapping is on
	// (default os.Stdout).
	MappingLog io.Writer
}

// Session is the run-open/report/run-close lifecycle against TestRail. It is
// driven synchronously by the host test stream and is not safe for
// concurrent use.
type Session interface {
	Start(ctx context.Context) error
	Record(ctx context.Context, res TestResult) error
	Close(ctx context.Context) (Summary, error)
}

// Option modifies a Session at construction time.
type Option func(*sessionConfig)

type sessionConfig struct {
	logger     pslog.Base
	httpClient *http.Client
	timeout    time.Duration
	preHook    PreSubmitHook
	postHook   PostSubmitHook
}

// WithLogger overrides the default logger (pslog console).
func WithLogger(logger pslog.Base) Option {
	return func(sc *sessionConfig) { sc.logger = logger }
}

// WithHTTPClient sets a custom HTTP client for the TestRail API.
func WithHTTPClient(client *http.Client) Option {
	return func(sc *sessionConfig) { sc.httpClient = client }
}

// WithTimeout sets the per-API-call timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(sc *sessionConfig) { sc.timeout = timeout }
}

// WithPreSubmitHook registers a Go hook invoked before each submission.
func WithPreSubmitHook(h PreSubmitHook) Option {
	return func(sc *sessionConfig) { sc.preHook = h }
}

// WithPostSubmitHook registers a Go hook invoked after each submission.
func WithPostSubmitHook(h PostSubmitHook) Option {
	return func(sc *sessionConfig) { sc.postHook = h }
}
