package validate

import (
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
)

// Report is the stakeholder-facing summary of one table's validation
type Report struct {
	Table  string
	RanAt  time.Time
	Checks []Check
}

// NewReport creates an empty report for a table
func NewReport(table string) *Report {
	return &Report{Table: table, RanAt: time.Now()}
}

// Add appends one check result
func (r *Report) Add(c Check) {
	r.Checks = append(r.Checks, c)
}

// Passed reports whether every check passed
func (r *Report) Passed() bool {
	for _, c := range r.Checks {
		if c.Status == StatusFail {
			return false
		}
	}
	return true
}

// FailedCount returns the number of failed checks
func (r *Report) FailedCount() int {
	n := 0
	for _, c := range r.Checks {
		if c.Status == StatusFail {
			n++
		}
	}
	return n
}

// Render returns the report as a plain text table
func (r *Report) Render() string {
	var buf strings.Builder

	buf.WriteString("Validation report for " + r.Table + "\n")

	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Check", "Status", "Detail"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, c := range r.Checks {
		table.Append([]string{c.Name, string(c.Status), c.Detail})
	}
	table.Render()

	return buf.String()
}
