package pipeline

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"

	"lakeloader/internal/registry"
)

// Render returns the cycle report as a plain text summary table
func (r *LoadReport) Render() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Load cycle %s\n", r.CycleID)
	fmt.Fprintf(&buf, "Source %s, batch %s, as of %s\n",
		r.SourceSystem, r.BatchID, r.AsOf.Format("2006-01-02"))
	fmt.Fprintf(&buf, "Elapsed %s\n\n", r.FinishedAt.Sub(r.StartedAt).Round(1e6))

	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Table", "Kind", "Read", "Result", "Quarantined", "Status"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, tr := range r.Tables {
		table.Append([]string{
			tr.Table,
			string(tr.Kind),
			fmt.Sprintf("%d", tr.Read),
			tableOutcome(tr),
			fmt.Sprintf("%d", len(tr.Quarantined)),
			tableStatus(tr),
		})
	}
	table.Render()

	return buf.String()
}

func tableOutcome(tr TableReport) string {
	if tr.Skipped {
		return "-"
	}
	if tr.Kind == registry.KindDimension {
		return fmt.Sprintf("+%d new, %d expired, %d unchanged, %d dup dropped",
			tr.Inserted, tr.Expired, tr.Unchanged, tr.DuplicatesDropped)
	}
	return fmt.Sprintf("%d accepted, %d rejected", tr.Accepted, len(tr.Rejected))
}

func tableStatus(tr TableReport) string {
	switch {
	case tr.Skipped:
		return "SKIPPED"
	case tr.Err != nil:
		return "FAILED"
	case tr.FailedKeys > 0 || tr.FailedPartitions > 0:
		return "PARTIAL"
	default:
		return "OK"
	}
}

// Failed reports whether any table in the cycle failed outright
func (r *LoadReport) Failed() bool {
	for _, tr := range r.Tables {
		if tr.Err != nil {
			return true
		}
	}
	return false
}
