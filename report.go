package railgun

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html/template"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"pkt.systems/railgun/internal/testrail"
)

// statusName renders a TestRail status ID for report output.
func statusName(id int) string {
	switch id {
	case testrail.StatusPassed:
		return "passed"
	case testrail.StatusBlocked:
		return "blocked"
	case testrail.StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status %d", id)
	}
}

// WriteReportJSON writes a session Summary to a JSON file.
func WriteReportJSON(path string, sum Summary) error {
	data, err := json.MarshalIndent(sum, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Minimal JUnit reporter for CI compatibility.
type junitTestsuite struct {
	XMLName  xml.Name        `xml:"testsuite"`
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Skipped  int             `xml:"skipped,attr"`
	Time     string          `xml:"time,attr"`
	Cases    []junitTestcase `xml:"testcase"`
}

type junitTestcase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Skipped   *junitSkipped `xml:"skipped,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

type junitSkipped struct {
	Message string `xml:"message,attr,omitempty"`
}

// WriteReportJUnit writes a session Summary to JUnit XML for CI consumers.
// One testcase per (test, case) submission.
func WriteReportJUnit(path string, sum Summary) error {
	ts := junitTestsuite{
		Name:  "railgun",
		Tests: len(sum.Cases),
		Time:  fmt.Sprintf("%.3f", sum.TotalElapsed.Seconds()),
	}
	for _, c := range sum.Cases {
		tc := junitTestcase{
			Name:      fmt.Sprintf("C%d", c.CaseID),
			Classname: c.TestID,
			Time:      fmt.Sprintf("%.3f", c.Elapsed.Seconds()),
		}
		switch {
		case c.Dropped:
			ts.Skipped++
			tc.Skipped = &junitSkipped{Message: "dropped by hook"}
		case c.Status == testrail.StatusBlocked:
			ts.Skipped++
			tc.Skipped = &junitSkipped{}
		case c.Status == testrail.StatusFailed:
			ts.Failures++
			msg := c.Comment
			if c.Error != "" {
				msg = c.Error
			}
			tc.Failure = &junitFailure{Message: msg, Type: "failure", Body: msg}
		}
		ts.Cases = append(ts.Cases, tc)
	}
	data, err := xml.MarshalIndent(ts, "", "  ")
	if err != nil {
		return err
	}
	data = append([]byte(xml.Header), data...)
	return os.WriteFile(path, data, 0o644)
}

// HTML template structured like the CLI's other reports (table-based, status classes)
var htmlTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"status": statusName,
}).Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <title>railgun report</title>
  <style>
    body { font-family: Arial, sans-serif; margin: 16px; background: #fafafa; }
    h1 { margin-bottom: 8px; }
    .summary { margin-bottom: 16px; }
    table { width: 100%; border-collapse: collapse; background: #fff; }
    th, td { padding: 8px 10px; border: 1px solid #e0e0e0; font-size: 14px; }
    th { background: #f5f5f5; text-align: left; }
    .status-passed { color: #2e7d32; font-weight: 600; }
    .status-failed { color: #c62828; font-weight: 600; }
    .status-blocked { color: #9e9e9e; font-weight: 600; }
    .mono { font-family: "SFMono-Regular", Consolas, "Liberation Mono", Menlo, monospace; font-size: 12px; }
  </style>
</head>
<body>
  <h1>railgun report</h1>
  <div class="summary">
    <div>Run: {{.RunName}}{{if .RunID}} (#{{.RunID}}){{end}} &nbsp; Submitted: {{.Submitted}} &nbsp; Failed submissions: {{.SubmitFailed}} &nbsp; Unmapped: {{.Unmapped}} &nbsp; Time: {{.TotalElapsed}}</div>
  </div>
  <table>
    <thead>
      <tr>
        <th>#</th>
        <th>Test</th>
        <th>Case</th>
        <th>Status</th>
        <th>Duration</th>
        <th>Error</th>
      </tr>
    </thead>
    <tbody>
      {{range $idx, $c := .Cases}}
      <tr>
        <td>{{$idx}}</td>
        <td class="mono">{{$c.TestID}}</td>
        <td>C{{$c.CaseID}}</td>
        <td><span class="status-{{status $c.Status}}">{{status $c.Status}}{{if $c.Dropped}} (dropped){{end}}</span></td>
        <td>{{$c.Elapsed}}</td>
        <td>{{if $c.Error}}<span class="mono">{{$c.Error}}</span>{{end}}</td>
      </tr>
      {{end}}
    </tbody>
  </table>
</body>
</html>`))

// WriteReportHTML renders a simple HTML table summary.
func WriteReportHTML(path string, sum Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return htmlTemplate.Execute(f, sum)
}

var xlsxHeaders = []string{"Test", "Case", "Status", "Comment", "Elapsed", "Submitted", "Error"}

// WriteReportXLSX writes the summary as a spreadsheet with failed
// submissions highlighted.
func WriteReportXLSX(path string, sum Summary) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Results"
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)
	_ = f.DeleteSheet("Sheet1")
	_ = f.SetColWidth(sheet, "A", "A", 48)
	_ = f.SetColWidth(sheet, "B", "G", 14)

	failStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"FF5900"}},
	})
	if err != nil {
		return err
	}

	for i, h := range xlsxHeaders {
		cell := fmt.Sprintf("%c1", 'A'+i)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, c := range sum.Cases {
		row := i + 2
		cells := []any{
			c.TestID,
			fmt.Sprintf("C%d", c.CaseID),
			statusName(c.Status),
			c.Comment,
			c.Elapsed.String(),
			c.Submitted,
			c.Error,
		}
		for j, val := range cells {
			cell := fmt.Sprintf("%c%d", 'A'+j, row)
			_ = f.SetCellValue(sheet, cell, val)
			if c.Status == testrail.StatusFailed || c.Error != "" {
				_ = f.SetCellStyle(sheet, cell, cell, failStyle)
			}
		}
	}

	summaryRow := len(sum.Cases) + 3
	lines := []string{
		fmt.Sprintf("Run: %s (#%d)", sum.RunName, sum.RunID),
		fmt.Sprintf("Submitted: %d", sum.Submitted),
		fmt.Sprintf("Failed submissions: %d", sum.SubmitFailed),
		fmt.Sprintf("Unmapped tests: %d", sum.Unmapped),
		fmt.Sprintf("Elapsed: %s", sum.TotalElapsed),
	}
	for i, line := range lines {
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", summaryRow+i), line)
	}

	return f.SaveAs(path)
}

// WriteReport picks the reporter function by format.
func WriteReport(format, path string, sum Summary) error {
	switch strings.ToLower(format) {
	case "json", "":
		return WriteReportJSON(path, sum)
	case "junit":
		return WriteReportJUnit(path, sum)
	case "html":
		return WriteReportHTML(path, sum)
	case "xlsx":
		return WriteReportXLSX(path, sum)
	default:
		return fmt.Errorf("unknown format %s", format)
	}
}
