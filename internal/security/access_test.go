package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type mapRow map[string]interface{}

func (r mapRow) Attribute(name string) (interface{}, bool) {
	v, ok := r[name]
	return v, ok
}

func regionPolicy() Policy {
	return OwnershipPolicy{PolicyName: "region_match", RowAttribute: "region", Claim: "region"}
}

func TestAuthorizeOwnershipMatch(t *testing.T) {
	eval := NewEvaluator(regionPolicy())
	row := mapRow{"region": "emea", "amount": 10.0}

	allowed := Identity{Subject: "alice", Claims: map[string]string{"region": "emea"}}
	denied := Identity{Subject: "bob", Claims: map[string]string{"region": "apac"}}
	noClaim := Identity{Subject: "carol"}

	assert.True(t, eval.Authorize(allowed, row))
	assert.False(t, eval.Authorize(denied, row))
	assert.False(t, eval.Authorize(noClaim, row))
}

func TestAuthorizeDefaultDeny(t *testing.T) {
	eval := NewEvaluator(regionPolicy())

	// Row without the governed attribute matches no policy
	row := mapRow{"amount": 10.0}

	identities := []Identity{
		{Subject: "alice", Claims: map[string]string{"region": "emea"}},
		{Subject: "bob"},
		{Subject: "carol", Claims: map[string]string{"tenant": "t1"}},
	}
	for _, id := range identities {
		assert.False(t, eval.Authorize(id, row), "identity %s", id.Subject)
	}
}

func TestAuthorizeNoPolicies(t *testing.T) {
	eval := NewEvaluator()
	row := mapRow{"region": "emea"}

	assert.False(t, eval.Authorize(Identity{Subject: "alice", Claims: map[string]string{"region": "emea"}}, row))
}

func TestAuthorizeAdminBypass(t *testing.T) {
	eval := NewEvaluator(regionPolicy())

	admin := Identity{Subject: "ops", Admin: true}

	assert.True(t, eval.Authorize(admin, mapRow{"region": "emea"}))
	assert.True(t, eval.Authorize(admin, mapRow{"amount": 1.0})) // even unmatched rows
}

func TestAuthorizeAllApplicablePoliciesMustAllow(t *testing.T) {
	eval := NewEvaluator(
		regionPolicy(),
		OwnershipPolicy{PolicyName: "tenant_match", RowAttribute: "tenant", Claim: "tenant"},
	)
	row := mapRow{"region": "emea", "tenant": "t1"}

	both := Identity{Subject: "alice", Claims: map[string]string{"region": "emea", "tenant": "t1"}}
	onlyRegion := Identity{Subject: "bob", Claims: map[string]string{"region": "emea", "tenant": "t2"}}

	assert.True(t, eval.Authorize(both, row))
	assert.False(t, eval.Authorize(onlyRegion, row))
}

func TestAuthorizeIsNotCachedAcrossClaimChanges(t *testing.T) {
	eval := NewEvaluator(regionPolicy())
	row := mapRow{"region": "emea"}

	id := Identity{Subject: "alice", Claims: map[string]string{"region": "emea"}}
	assert.True(t, eval.Authorize(id, row))

	// Claims change mid-session; the next evaluation must see it
	id.Claims["region"] = "apac"
	assert.False(t, eval.Authorize(id, row))
}
