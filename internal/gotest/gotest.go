// Package gotest decodes `go test -json` (test2json) event streams into
// per-test results. This is the integration point with the host test
// framework: the runner emits one terminal pass/fail/skip event per test,
// which maps onto one result submission.
package gotest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Event is a single test2json record.
type Event struct {
	Time    time.Time `json:"Time"`
	Action  string    `json:"Action"`
	Package string    `json:"Package"`
	Test    string    `json:"Test"`
	Elapsed float64   `json:"Elapsed"`
	Output  string    `json:"Output"`
}

// Outcome of a finished test.
type Outcome string

const (
	OutcomePass Outcome = "pass"
	OutcomeFail Outcome = "fail"
	OutcomeSkip Outcome = "skip"
)

// Result is one finished test with its accumulated output.
type Result struct {
	Package string
	Name    string
	Outcome Outcome
	Elapsed time.Duration
	Output  string
}

// ID returns the identifier used for case mapping: package-qualified when a
// package is known, bare test name otherwise.
func (r Result) ID() string {
	if r.Package == "" {
		return r.Name
	}
	return r.Package + "." + r.Name
}

// Handler receives each finished test in stream order. A non-nil error stops
// the stream.
type Handler func(Result) error

// Stream decodes events from r and invokes fn once per finished test.
// Package-level events (empty Test field) and intermediate actions (run,
// pause, cont, output) never reach fn. Malformed lines abort the stream;
// test2json output is machine-generated, so garbage means the input is not a
// -json stream at all.
func Stream(ctx context.Context, r io.Reader, fn Handler) error {
	dec := json.NewDecoder(r)
	outputs := map[string]*strings.Builder{}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode test event: %w", err)
		}
		if ev.Test == "" {
			continue
		}
		key := ev.Package + "." + ev.Test

		switch ev.Action {
		case "output":
			b, ok := outputs[key]
			if !ok {
				b = &strings.Builder{}
				outputs[key] = b
			}
			b.WriteString(ev.Output)
		case "pass", "fail", "skip":
			res := Result{
				Package: ev.Package,
				Name:    ev.Test,
				Outcome: Outcome(ev.Action),
				Elapsed: time.Duration(ev.Elapsed * float64(time.Second)),
			}
			if b, ok := outputs[key]; ok {
				res.Output = b.String()
				delete(outputs, key)
			}
			if err := fn(res); err != nil {
				return err
			}
		}
	}
}
