// Package mapping builds and queries the test-identifier to TestRail
// case-ID mapping. A mapping is append-only while results stream in and is
// never mutated for an identifier that has already been registered.
package mapping

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// casePattern matches case-ID annotations embedded in test names, e.g.
// TestLogin_C1234 or TestLogin/expired_token_C88_C90.
var casePattern = regexp.MustCompile(`_C(\d+)`)

// ParseCaseIDs extracts annotated case IDs from a test identifier, in the
// order they appear.
func ParseCaseIDs(testID string) []int {
	matches := casePattern.FindAllStringSubmatch(testID, -1)
	if len(matches) == 0 {
		return nil
	}
	ids := make([]int, 0, len(matches))
	for _, m := range matches {
		id, err := strconv.Atoi(m[1])
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// Mapping is the test-identifier to case-ID table plus its reverse.
type Mapping struct {
	order   []string
	cases   map[string][]int
	reverse map[int][]string
}

// New returns an empty mapping.
func New() *Mapping {
	return &Mapping{
		cases:   map[string][]int{},
		reverse: map[int][]string{},
	}
}

type mappingFile struct {
	Cases map[string][]int `yaml:"cases"`
}

// LoadFile reads a YAML mapping file with a top-level cases: map of test
// identifier to case-ID list.
func LoadFile(path string) (*Mapping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping file: %w", err)
	}
	var f mappingFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode mapping file: %w", err)
	}
	m := New()
	// YAML maps are unordered; sort identifiers so the table and run case
	// list stay stable between invocations.
	ids := make([]string, 0, len(f.Cases))
	for testID := range f.Cases {
		ids = append(ids, testID)
	}
	sort.Strings(ids)
	for _, testID := range ids {
		m.Add(testID, f.Cases[testID])
	}
	return m, nil
}

// Add registers case IDs for a test identifier. The first registration for
// an identifier wins; later calls for the same identifier are ignored so the
// mapping stays read-only once built.
func (m *Mapping) Add(testID string, caseIDs []int) {
	if len(caseIDs) == 0 {
		return
	}
	if _, ok := m.cases[testID]; ok {
		return
	}
	ids := make([]int, len(caseIDs))
	copy(ids, caseIDs)
	m.order = append(m.order, testID)
	m.cases[testID] = ids
	for _, cid := range ids {
		m.reverse[cid] = append(m.reverse[cid], testID)
	}
}

// CasesFor returns the case IDs mapped to a test identifier, registering a
// name annotation on first sight.
func (m *Mapping) CasesFor(testID string) []int {
	if ids, ok := m.cases[testID]; ok {
		return ids
	}
	ids := ParseCaseIDs(testID)
	if len(ids) > 0 {
		m.Add(testID, ids)
	}
	return ids
}

// Known reports whether the identifier is already in the mapping.
func (m *Mapping) Known(testID string) bool {
	_, ok := m.cases[testID]
	return ok
}

// TestIDs returns all mapped test identifiers in registration order.
func (m *Mapping) TestIDs() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// AllCaseIDs returns every mapped case ID, deduplicated, in first-seen order.
func (m *Mapping) AllCaseIDs() []int {
	seen := map[int]struct{}{}
	var out []int
	for _, testID := range m.order {
		for _, cid := range m.cases[testID] {
			if _, ok := seen[cid]; ok {
				continue
			}
			seen[cid] = struct{}{}
			out = append(out, cid)
		}
	}
	return out
}

// Duplicate pairs a case ID with the multiple tests claiming it.
type Duplicate struct {
	CaseID int
	Tests  []string
}

// Duplicates lists case IDs mapped by more than one test, sorted by case ID.
func (m *Mapping) Duplicates() []Duplicate {
	var dups []Duplicate
	for cid, tests := range m.reverse {
		if len(tests) > 1 {
			ts := make([]string, len(tests))
			copy(ts, tests)
			dups = append(dups, Duplicate{CaseID: cid, Tests: ts})
		}
	}
	sort.Slice(dups, func(i, j int) bool { return dups[i].CaseID < dups[j].CaseID })
	return dups
}

// Len returns the number of mapped test identifiers.
func (m *Mapping) Len() int {
	return len(m.order)
}
