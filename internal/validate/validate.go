// Package validate runs post-load checks comparing a source extract
// against what landed in the warehouse: row counts, keyed checksums,
// schema conformance and null checks on critical columns.
package validate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"

	"lakeloader/internal/conform"
	"lakeloader/internal/observability"
	"lakeloader/internal/registry"
)

// Status is the outcome of one check
type Status string

const (
	StatusPass Status = "PASS"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
)

// Check is one validation result
type Check struct {
	Name   string
	Status Status
	Detail string
}

// Validator runs post-load checks for one table
type Validator struct {
	desc   registry.TableDescriptor
	logger *observability.Logger
}

// NewValidator creates a validator for a registered table
func NewValidator(desc registry.TableDescriptor, logger *observability.Logger) *Validator {
	if logger == nil {
		logger = observability.Default()
	}
	return &Validator{desc: desc, logger: logger.WithField("table", desc.Name)}
}

// Run executes every check against source and target row sets and
// returns the combined report
func (v *Validator) Run(source, target []map[string]interface{}) *Report {
	report := NewReport(v.desc.Name)
	report.Add(v.RowCounts(len(source), len(target)))
	report.Add(v.Checksums(source, target))
	report.Add(v.Schema(target))
	report.Add(v.Nulls(target))

	if !report.Passed() {
		v.logger.WarnWithFields("validation failed", map[string]interface{}{
			"failed_checks": report.FailedCount(),
		})
	}
	return report
}

// RowCounts compares source and target row counts
func (v *Validator) RowCounts(source, target int) Check {
	if source == target {
		return Check{Name: "row_counts", Status: StatusPass,
			Detail: fmt.Sprintf("%d rows", target)}
	}
	return Check{Name: "row_counts", Status: StatusFail,
		Detail: fmt.Sprintf("source has %d rows, target has %d", source, target)}
}

// Checksums hashes each row's canonical form keyed by natural key and
// reports the symmetric difference between source and target
func (v *Validator) Checksums(source, target []map[string]interface{}) Check {
	srcSums := v.checksumSet(source)
	tgtSums := v.checksumSet(target)

	var missing, extra, changed []string
	for key, sum := range srcSums {
		tsum, ok := tgtSums[key]
		switch {
		case !ok:
			missing = append(missing, key)
		case tsum != sum:
			changed = append(changed, key)
		}
	}
	for key := range tgtSums {
		if _, ok := srcSums[key]; !ok {
			extra = append(extra, key)
		}
	}

	if len(missing) == 0 && len(extra) == 0 && len(changed) == 0 {
		return Check{Name: "checksums", Status: StatusPass,
			Detail: fmt.Sprintf("%d rows matched", len(srcSums))}
	}

	sort.Strings(missing)
	sort.Strings(extra)
	sort.Strings(changed)
	return Check{Name: "checksums", Status: StatusFail,
		Detail: fmt.Sprintf("missing=%d extra=%d changed=%d%s",
			len(missing), len(extra), len(changed), sampleKeys(missing, extra, changed))}
}

// Schema verifies the target rows carry only declared columns and every
// required column is present
func (v *Validator) Schema(target []map[string]interface{}) Check {
	declared := make(map[string]bool, len(v.desc.Columns))
	for _, c := range v.desc.Columns {
		declared[c.Name] = true
	}

	unknown := make(map[string]bool)
	missingRequired := 0
	for _, row := range target {
		for name := range row {
			if !declared[name] {
				unknown[name] = true
			}
		}
		for _, c := range v.desc.Columns {
			if !c.Required {
				continue
			}
			if _, ok := row[c.Name]; !ok {
				missingRequired++
				break
			}
		}
	}

	if len(unknown) == 0 && missingRequired == 0 {
		return Check{Name: "schema", Status: StatusPass,
			Detail: fmt.Sprintf("%d declared columns", len(v.desc.Columns))}
	}

	names := make([]string, 0, len(unknown))
	for n := range unknown {
		names = append(names, n)
	}
	sort.Strings(names)
	return Check{Name: "schema", Status: StatusFail,
		Detail: fmt.Sprintf("unknown columns [%s], %d rows missing required columns",
			strings.Join(names, ", "), missingRequired)}
}

// Nulls verifies that no critical column carries a nil value. A table
// without critical columns passes with a warning-free note.
func (v *Validator) Nulls(target []map[string]interface{}) Check {
	if len(v.desc.CriticalColumns) == 0 {
		return Check{Name: "nulls", Status: StatusPass, Detail: "no critical columns declared"}
	}

	nulls := 0
	for _, row := range target {
		for _, col := range v.desc.CriticalColumns {
			if val, ok := row[col]; !ok || val == nil {
				nulls++
			}
		}
	}

	if nulls == 0 {
		return Check{Name: "nulls", Status: StatusPass,
			Detail: fmt.Sprintf("%d critical columns clean", len(v.desc.CriticalColumns))}
	}
	return Check{Name: "nulls", Status: StatusFail,
		Detail: fmt.Sprintf("%d null values in critical columns", nulls)}
}

// checksumSet hashes every row's canonical form keyed by the natural key
// columns. Rows without key columns are keyed by their full canonical
// form, so content-identical rows still match up.
func (v *Validator) checksumSet(rows []map[string]interface{}) map[string]uint64 {
	out := make(map[string]uint64, len(rows))
	for _, row := range rows {
		canonical := conform.CanonicalRow(row)
		key := v.rowKey(row)
		if key == "" {
			key = canonical
		}
		out[key] = xxh3.HashString(canonical)
	}
	return out
}

func (v *Validator) rowKey(row map[string]interface{}) string {
	if len(v.desc.KeyColumns) == 0 {
		return ""
	}
	parts := make([]string, 0, len(v.desc.KeyColumns))
	for _, k := range v.desc.KeyColumns {
		val, ok := row[k]
		if !ok {
			return ""
		}
		parts = append(parts, conform.CanonicalString(val))
	}
	return strings.Join(parts, "|")
}

func sampleKeys(groups ...[]string) string {
	const max = 3
	var sample []string
	for _, g := range groups {
		for _, k := range g {
			if len(sample) == max {
				return fmt.Sprintf(" e.g. [%s]", strings.Join(sample, ", "))
			}
			sample = append(sample, k)
		}
	}
	if len(sample) == 0 {
		return ""
	}
	return fmt.Sprintf(" e.g. [%s]", strings.Join(sample, ", "))
}
