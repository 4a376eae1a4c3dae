// Package dimension implements slowly-changing-dimension type 2 history:
// attribute changes expire the prior current row and insert a new current
// version, never overwriting. The store keeps a version chain per natural
// key with compare-and-swap on the current pointer, so for every natural
// key ever ingested exactly one row is current at any time.
package dimension

import (
	"time"
)

// Record is one version of a dimension row. The surrogate key is assigned
// once at insertion and never reused; rows are never deleted, only marked
// non-current.
type Record struct {
	SurrogateKey   int64
	NaturalKey     string
	Attributes     map[string]interface{}
	EffectiveDate  time.Time
	ExpirationDate *time.Time
	IsCurrent      bool
}

// Attribute implements security.Row
func (r Record) Attribute(name string) (interface{}, bool) {
	v, ok := r.Attributes[name]
	return v, ok
}

func cloneRecord(r *Record) Record {
	out := *r
	out.Attributes = make(map[string]interface{}, len(r.Attributes))
	for k, v := range r.Attributes {
		out.Attributes[k] = v
	}
	if r.ExpirationDate != nil {
		exp := *r.ExpirationDate
		out.ExpirationDate = &exp
	}
	return out
}

func equalValue(a, b interface{}) bool {
	at, aok := a.(time.Time)
	bt, bok := b.(time.Time)
	if aok || bok {
		return aok && bok && at.Equal(bt)
	}
	return a == b
}
