package railgun

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"
)

type recordingSession struct {
	results []TestResult
}

func (r *recordingSession) Start(context.Context) error { return nil }
func (r *recordingSession) Record(_ context.Context, res TestResult) error {
	r.results = append(r.results, res)
	return nil
}
func (r *recordingSession) Close(context.Context) (Summary, error) { return Summary{}, nil }

func TestReportStream(t *testing.T) {
	stream := `{"Action":"run","Package":"p","Test":"TestA_C1"}
{"Action":"output","Package":"p","Test":"TestA_C1","Output":"=== RUN TestA_C1\n"}
{"Action":"pass","Package":"p","Test":"TestA_C1","Elapsed":0.5}
{"Action":"output","Package":"p","Test":"TestB","Output":"broken\n"}
{"Action":"fail","Package":"p","Test":"TestB","Elapsed":0.1}
{"Action":"skip","Package":"p","Test":"TestC","Elapsed":0}
`
	s := &recordingSession{}
	if err := ReportStream(context.Background(), strings.NewReader(stream), s); err != nil {
		t.Fatalf("report stream: %v", err)
	}
	if len(s.results) != 3 {
		t.Fatalf("expected 3 recorded tests, got %d", len(s.results))
	}
	if s.results[0].ID != "p.TestA_C1" || s.results[0].Outcome != OutcomePassed {
		t.Fatalf("unexpected first result %+v", s.results[0])
	}
	if s.results[1].Outcome != OutcomeFailed || s.results[1].Comment != "broken" {
		t.Fatalf("unexpected second result %+v", s.results[1])
	}
	if s.results[2].Outcome != OutcomeSkipped {
		t.Fatalf("unexpected third result %+v", s.results[2])
	}
}

func TestTrimComment(t *testing.T) {
	long := strings.Repeat("x", maxCommentLen+50)
	got := trimComment(long)
	if !strings.HasSuffix(got, "[truncated]") {
		t.Fatalf("expected truncation marker, got tail %q", got[len(got)-20:])
	}
	if len(got) > maxCommentLen+len("\n[truncated]") {
		t.Fatalf("comment not truncated: %d bytes", len(got))
	}
	if trimComment("  ok \n") != "ok" {
		t.Fatal("expected whitespace trimmed")
	}
}

func TestTrimCommentKeepsRuneBoundary(t *testing.T) {
	// A two-byte rune straddles the truncation limit.
	long := strings.Repeat("x", maxCommentLen-1) + "é" + strings.Repeat("y", 100)
	got := trimComment(long)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated comment is not valid UTF-8: %q", got[maxCommentLen-8:])
	}
	if !strings.HasSuffix(got, "[truncated]") {
		t.Fatal("expected truncation marker")
	}
	if strings.ContainsRune(got, 'é') {
		t.Fatal("straddling rune should be dropped whole")
	}
}
