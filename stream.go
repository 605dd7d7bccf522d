package railgun

import (
	"context"
	"io"
	"strings"
	"unicode/utf8"

	"pkt.systems/railgun/internal/gotest"
)

// Comments longer than this are truncated before submission; TestRail
// renders giant comments poorly and caps request sizes.
const maxCommentLen = 4000

// ReportStream decodes a `go test -json` stream from r and records every
// finished test on the session. The session must already be started.
func ReportStream(ctx context.Context, r io.Reader, s Session) error {
	return gotest.Stream(ctx, r, func(res gotest.Result) error {
		return s.Record(ctx, TestResult{
			ID:      res.ID(),
			Outcome: outcomeOf(res.Outcome),
			Comment: trimComment(res.Output),
			Elapsed: res.Elapsed,
		})
	})
}

func outcomeOf(o gotest.Outcome) Outcome {
	switch o {
	case gotest.OutcomeFail:
		return OutcomeFailed
	case gotest.OutcomeSkip:
		return OutcomeSkipped
	default:
		return OutcomePassed
	}
}

func trimComment(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxCommentLen {
		// Cut on a rune boundary so a multi-byte rune straddling the limit is
		// dropped whole instead of being mangled.
		cut := maxCommentLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "\n[truncated]"
	}
	return s
}
