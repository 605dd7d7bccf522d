package mapping

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/iancoleman/orderedmap"
	"github.com/mattn/go-runewidth"
)

// ExportJSON renders the mapping as a JSON object whose keys keep
// registration order.
func (m *Mapping) ExportJSON() ([]byte, error) {
	o := orderedmap.New()
	for _, testID := range m.order {
		o.Set(testID, m.cases[testID])
	}
	return json.MarshalIndent(o, "", "  ")
}

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	warnColor   = color.New(color.FgYellow)
)

// WriteTable prints the mapping as an aligned two-column table followed by
// duplicate-case warnings.
func (m *Mapping) WriteTable(w io.Writer) {
	if m.Len() == 0 {
		fmt.Fprintln(w, "no mapped tests")
		return
	}

	testCol := runewidth.StringWidth("TEST")
	for _, testID := range m.order {
		if width := runewidth.StringWidth(testID); width > testCol {
			testCol = width
		}
	}

	headerColor.Fprintf(w, "%s  %s\n", pad("TEST", testCol), "CASES")
	for _, testID := range m.order {
		fmt.Fprintf(w, "%s  %s\n", pad(testID, testCol), joinCaseIDs(m.cases[testID]))
	}

	for _, d := range m.Duplicates() {
		warnColor.Fprintf(w, "warning: case C%d mapped by multiple tests: %s\n", d.CaseID, strings.Join(d.Tests, ", "))
	}
}

func pad(s string, width int) string {
	current := runewidth.StringWidth(s)
	if current >= width {
		return s
	}
	return s + strings.Repeat(" ", width-current)
}

func joinCaseIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = "C" + strconv.Itoa(id)
	}
	return strings.Join(parts, ", ")
}
