// Package conform cleans raw records and maps them to the canonical
// silver-zone shape declared by the schema registry. Malformed records
// are reported for quarantine, never silently dropped.
package conform

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"lakeloader/internal/rawzone"
	"lakeloader/internal/registry"
	"lakeloader/pkg/errors"
)

// Lineage carries the provenance metadata attached to every conformed
// record
type Lineage struct {
	SourceSystem string
	BatchID      string
	IngestedAt   time.Time
}

// ConformedRecord is a raw record coerced to the canonical shape of its
// target table
type ConformedRecord struct {
	Table      string
	NaturalKey string
	Attributes map[string]interface{}
	Lineage    Lineage
	Position   int // arrival order within the batch
}

var nonWord = regexp.MustCompile(`[^\w]`)

// NormalizeName converts a source field name to its canonical snake_case
// form
func NormalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, " ", "_")
	return nonWord.ReplaceAllString(n, "")
}

// Conform coerces a raw record to the descriptor's declared types and
// resolves its natural key. Two raw records with identical key-forming
// fields always conform to the identical natural key value.
func Conform(raw *rawzone.RawRecord, desc registry.TableDescriptor, lineage Lineage) (*ConformedRecord, error) {
	fields := make(map[string]interface{}, len(raw.Fields))
	for name, value := range raw.Fields {
		fields[NormalizeName(name)] = value
	}

	attrs := make(map[string]interface{}, len(desc.Columns))
	for _, col := range desc.Columns {
		value, present := fields[col.Name]
		if !present || value == nil {
			if col.Required {
				return nil, errors.RequiredFieldError(col.Name).
					WithContext("table", desc.Name).
					WithContext("line", raw.Line)
			}
			continue
		}

		coerced, err := coerceValue(value, col.Type)
		if err != nil {
			return nil, errors.TypeMismatchError(col.Name, value, string(col.Type)).
				WithContext("table", desc.Name).
				WithContext("line", raw.Line)
		}
		attrs[col.Name] = coerced
	}

	rec := &ConformedRecord{
		Table:      desc.Name,
		Attributes: attrs,
		Lineage:    lineage,
	}

	if len(desc.KeyColumns) > 0 {
		key, err := naturalKey(attrs, desc.KeyColumns)
		if err != nil {
			return nil, err
		}
		rec.NaturalKey = key
	}

	return rec, nil
}

// naturalKey joins the canonical string forms of the key columns. The
// encoding is deterministic: identical key fields produce identical keys.
func naturalKey(attrs map[string]interface{}, keyColumns []string) (string, error) {
	parts := make([]string, 0, len(keyColumns))
	for _, k := range keyColumns {
		v, ok := attrs[k]
		if !ok {
			return "", errors.RequiredFieldError(k)
		}
		parts = append(parts, CanonicalString(v))
	}
	return strings.Join(parts, "|"), nil
}

// CanonicalString renders a coerced value in its single canonical string
// form
func CanonicalString(v interface{}) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// CanonicalRow renders a whole attribute map deterministically, used for
// checksum comparison during post-load validation
func CanonicalRow(attrs map[string]interface{}) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(CanonicalString(attrs[k]))
		b.WriteByte(';')
	}
	return b.String()
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func coerceValue(v interface{}, t registry.ColumnType) (interface{}, error) {
	switch t {
	case registry.TypeString:
		switch s := v.(type) {
		case string:
			return s, nil
		case float64, bool:
			return fmt.Sprintf("%v", s), nil
		}
		return nil, fmt.Errorf("not a string")

	case registry.TypeInt:
		switch n := v.(type) {
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("not integral")
			}
			return int64(n), nil
		case int64:
			return n, nil
		case string:
			parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
			if err != nil {
				return nil, err
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("not an int")

	case registry.TypeFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return nil, err
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("not a float")

	case registry.TypeBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return nil, err
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("not a bool")

	case registry.TypeDate:
		ts, err := coerceTime(v)
		if err != nil {
			return nil, err
		}
		return ts.Truncate(24 * time.Hour), nil

	case registry.TypeTimestamp:
		return coerceTime(v)
	}

	return nil, fmt.Errorf("unknown type %s", t)
}

func coerceTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		if ts, err := time.Parse("2006-01-02", s); err == nil {
			return ts.UTC(), nil
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable time %q", s)
	}
	return time.Time{}, fmt.Errorf("not a time value")
}
