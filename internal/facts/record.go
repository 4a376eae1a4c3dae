// Package facts loads fact rows into range-right partitioned gold tables.
// Rows are validated against current dimension surrogate keys, grouped by
// partition ordinal, staged, and swapped in atomically per partition.
package facts

import (
	"time"
)

// Record is one fact row ready for loading. Keys holds the resolved
// dimension surrogate keys by reference column name; Values holds every
// other column.
type Record struct {
	Table        string
	Values       map[string]interface{}
	Keys         map[string]int64
	PartitionKey time.Time
	SourceSystem string
	BatchID      string
	IngestedAt   time.Time
}

// Attribute implements security.Row. Reference columns resolve from Keys,
// everything else from Values.
func (r Record) Attribute(name string) (interface{}, bool) {
	if v, ok := r.Values[name]; ok {
		return v, true
	}
	if k, ok := r.Keys[name]; ok {
		return k, true
	}
	return nil, false
}

func cloneFactRecord(r Record) Record {
	out := r
	out.Values = make(map[string]interface{}, len(r.Values))
	for k, v := range r.Values {
		out.Values[k] = v
	}
	out.Keys = make(map[string]int64, len(r.Keys))
	for k, v := range r.Keys {
		out.Keys[k] = v
	}
	return out
}
