package railgun

import (
	"context"

	"pkt.systems/railgun/internal/config"
	"pkt.systems/railgun/internal/mapping"
	"pkt.systems/railgun/internal/session"
	"pkt.systems/version"
)

// Public type aliases to the session and config packages

// Session drives the TestRail run lifecycle: Start, Record per finished
// test, Close.
type (
	Session = session.Session
	// Options configure a reporting session.
	Options = session.Options
	// TestResult is one finished host test.
	TestResult = session.TestResult
	// Outcome of a host test.
	Outcome = session.Outcome
	// SubmitInfo is the mutable view of a pending submission given to hooks.
	SubmitInfo = session.SubmitInfo
	// PreSubmitHook runs before each submission and may mutate it.
	PreSubmitHook = session.PreSubmitHook
	// PostSubmitHook runs after each submission attempt.
	PostSubmitHook = session.PostSubmitHook
	// CaseRecord is the audit record of one (test, case) submission.
	CaseRecord = session.CaseRecord
	// Summary aggregates a reporting session.
	Summary = session.Summary
	// Config holds the TestRail connection settings.
	Config = config.Config
	// Mapping is the test-to-case-ID table.
	Mapping = mapping.Mapping
)

// Outcomes accepted by Record.
const (
	OutcomePassed  = session.OutcomePassed
	OutcomeFailed  = session.OutcomeFailed
	OutcomeSkipped = session.OutcomeSkipped
)

// Option tweaks session construction.
type Option = session.Option

var (
	// WithLogger supplies a custom pslog logger.
	WithLogger = session.WithLogger
	// WithHTTPClient injects a custom HTTP client.
	WithHTTPClient = session.WithHTTPClient
	// WithTimeout sets the per-API-call timeout.
	WithTimeout = session.WithTimeout
	// WithPreSubmitHook registers a Go hook invoked before each submission.
	WithPreSubmitHook = session.WithPreSubmitHook
	// WithPostSubmitHook registers a Go hook invoked after each submission.
	WithPostSubmitHook = session.WithPostSubmitHook
)

// New constructs a Session.
func New(ctx context.Context, opts Options, o ...Option) (Session, error) {
	return session.New(ctx, opts, o...)
}

// LoadConfig reads and validates the YAML config at path.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// NewMapping returns an empty test-to-case mapping.
func NewMapping() *Mapping {
	return mapping.New()
}

// LoadMappingFile reads a YAML mapping file.
func LoadMappingFile(path string) (*Mapping, error) {
	return mapping.LoadFile(path)
}

// ParseCaseIDs extracts case-ID annotations from a test identifier.
func ParseCaseIDs(testID string) []int {
	return mapping.ParseCaseIDs(testID)
}

// Version returns the current module version (best effort).
func Version() string {
	return moduleVersion(modulePath)
}

const modulePath = "pkt.systems/railgun"

var moduleVersion = version.ModuleVersion
