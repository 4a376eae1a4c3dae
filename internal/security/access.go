// Package security evaluates row-level access policies against a caller's
// resolved identity. Authorization is a pure function of (identity, row):
// it is re-evaluated on every row of every read and never cached, so a
// claims change takes effect immediately.
package security

import (
	"fmt"
)

// Identity is the resolved caller identity supplied by the external
// authentication provider. The evaluator never performs authentication
// itself.
type Identity struct {
	Subject string
	Claims  map[string]string
	Admin   bool
}

// Claim returns a claim value by name
func (id Identity) Claim(name string) (string, bool) {
	v, ok := id.Claims[name]
	return v, ok
}

// Row is any readable record that exposes named attributes. Both
// dimension and fact records implement it.
type Row interface {
	Attribute(name string) (interface{}, bool)
}

// Policy is a pluggable access predicate over (identity, row)
type Policy interface {
	Name() string
	// AppliesTo reports whether the policy governs this row at all
	AppliesTo(row Row) bool
	// Allows reports whether the identity may read the row
	Allows(id Identity, row Row) bool
}

// OwnershipPolicy grants access when a row attribute equals one of the
// caller's claims, e.g. region or tenant match.
type OwnershipPolicy struct {
	PolicyName   string
	RowAttribute string
	Claim        string
}

// Name implements Policy
func (p OwnershipPolicy) Name() string { return p.PolicyName }

// AppliesTo implements Policy: the policy governs every row that carries
// the attribute
func (p OwnershipPolicy) AppliesTo(row Row) bool {
	_, ok := row.Attribute(p.RowAttribute)
	return ok
}

// Allows implements Policy
func (p OwnershipPolicy) Allows(id Identity, row Row) bool {
	attr, ok := row.Attribute(p.RowAttribute)
	if !ok {
		return false
	}
	claim, ok := id.Claim(p.Claim)
	if !ok {
		return false
	}
	return fmt.Sprintf("%v", attr) == claim
}

// Evaluator applies the configured policies to each row. It is stateless:
// no result is memoized across identities or calls.
type Evaluator struct {
	policies []Policy
}

// NewEvaluator creates an evaluator over a fixed policy set
func NewEvaluator(policies ...Policy) *Evaluator {
	return &Evaluator{policies: policies}
}

// Authorize reports whether the identity may read the row. Administrative
// identities bypass row filtering entirely. Otherwise every policy that
// applies to the row must allow the identity, and at least one policy
// must apply: a row no policy governs is denied by default.
func (e *Evaluator) Authorize(id Identity, row Row) bool {
	if id.Admin {
		return true
	}

	matched := false
	for _, p := range e.policies {
		if !p.AppliesTo(row) {
			continue
		}
		matched = true
		if !p.Allows(id, row) {
			return false
		}
	}
	return matched
}
