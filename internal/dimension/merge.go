package dimension

import (
	"time"

	"lakeloader/internal/conform"
	"lakeloader/internal/registry"
	"lakeloader/pkg/errors"
)

// Expiration closes the current row of a natural key
type Expiration struct {
	NaturalKey     string
	ExpirationDate time.Time
}

// Quarantine reports a record excluded from merge, with the reason
type Quarantine struct {
	NaturalKey string
	Position   int
	Reason     error
}

// MergePlan is the reconciliation of an incoming batch against the
// existing current rows. Expire and insert entries for the same natural
// key must be applied as one atomic unit.
type MergePlan struct {
	ToInsert          []Record
	ToExpire          []Expiration
	Unchanged         int
	DuplicatesDropped int
	Quarantined       []Quarantine
}

type unitStatus int

const (
	statusInsert unitStatus = iota
	statusChange
	statusUnchanged
	statusQuarantined
)

// Merge reconciles incoming conformed rows against the existing current
// rows as of the given timestamp. Re-merging an unchanged batch against
// its own prior output produces zero inserts and zero expirations.
func Merge(existing map[string]Record, incoming []*conform.ConformedRecord, asOf time.Time,
	desc registry.TableDescriptor, nextKey func() int64) *MergePlan {

	plan := &MergePlan{}

	authoritative, dropped := dedupeLastWins(incoming)
	plan.DuplicatesDropped = dropped

	for _, rec := range authoritative {
		var cur *Record
		if c, ok := existing[rec.NaturalKey]; ok {
			cur = &c
		}

		insert, expireOn, status, reason := planUnit(cur, rec, asOf, desc, nextKey)
		switch status {
		case statusInsert:
			plan.ToInsert = append(plan.ToInsert, *insert)
		case statusChange:
			plan.ToExpire = append(plan.ToExpire, Expiration{NaturalKey: rec.NaturalKey, ExpirationDate: *expireOn})
			plan.ToInsert = append(plan.ToInsert, *insert)
		case statusUnchanged:
			plan.Unchanged++
		case statusQuarantined:
			plan.Quarantined = append(plan.Quarantined, Quarantine{
				NaturalKey: rec.NaturalKey,
				Position:   rec.Position,
				Reason:     reason,
			})
		}
	}

	return plan
}

// dedupeLastWins keeps only the last record in arrival order for each
// natural key. The surviving records keep their relative arrival order.
func dedupeLastWins(incoming []*conform.ConformedRecord) ([]*conform.ConformedRecord, int) {
	lastIdx := make(map[string]int, len(incoming))
	for i, rec := range incoming {
		lastIdx[rec.NaturalKey] = i
	}

	out := make([]*conform.ConformedRecord, 0, len(lastIdx))
	dropped := 0
	for i, rec := range incoming {
		if lastIdx[rec.NaturalKey] == i {
			out = append(out, rec)
		} else {
			dropped++
		}
	}
	return out, dropped
}

// planUnit decides the merge outcome for one natural key. The returned
// expire and insert must be applied atomically: a reader must never see
// zero or two current rows for the key.
func planUnit(cur *Record, rec *conform.ConformedRecord, asOf time.Time,
	desc registry.TableDescriptor, nextKey func() int64) (*Record, *time.Time, unitStatus, error) {

	for _, col := range desc.Columns {
		if !col.Required || desc.IsKeyColumn(col.Name) {
			continue
		}
		if _, ok := rec.Attributes[col.Name]; !ok {
			return nil, nil, statusQuarantined, errors.RequiredFieldError(col.Name).
				WithContext("natural_key", rec.NaturalKey)
		}
	}

	if cur == nil {
		return newVersion(rec, asOf, nextKey), nil, statusInsert, nil
	}

	if attributesEqual(cur.Attributes, rec.Attributes, desc.TrackedColumns()) {
		return nil, nil, statusUnchanged, nil
	}

	// One logical day before the new version takes effect
	expireOn := asOf.AddDate(0, 0, -1)
	return newVersion(rec, asOf, nextKey), &expireOn, statusChange, nil
}

func newVersion(rec *conform.ConformedRecord, asOf time.Time, nextKey func() int64) *Record {
	attrs := make(map[string]interface{}, len(rec.Attributes))
	for k, v := range rec.Attributes {
		attrs[k] = v
	}
	return &Record{
		SurrogateKey:  nextKey(),
		NaturalKey:    rec.NaturalKey,
		Attributes:    attrs,
		EffectiveDate: asOf,
		IsCurrent:     true,
	}
}

func attributesEqual(existing, incoming map[string]interface{}, tracked []string) bool {
	for _, col := range tracked {
		a, aok := existing[col]
		b, bok := incoming[col]
		if aok != bok {
			return false
		}
		if aok && !equalValue(a, b) {
			return false
		}
	}
	return true
}
