package facts

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lakeloader/internal/registry"
	"lakeloader/internal/security"
	"lakeloader/pkg/errors"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func salesDesc() registry.TableDescriptor {
	return registry.TableDescriptor{
		Name:         "fact_sales",
		Kind:         registry.KindFact,
		SourceSystem: "pos",
		Columns: []registry.Column{
			{Name: "customer_key", Type: registry.TypeInt, Required: true},
			{Name: "sale_date", Type: registry.TypeDate, Required: true},
			{Name: "amount", Type: registry.TypeFloat, Required: true},
			{Name: "region", Type: registry.TypeString},
		},
		Distribution: registry.Distribution{Kind: registry.DistHash, Column: "customer_key"},
		Partition: registry.PartitionScheme{
			Kind:       registry.PartitionRangeRight,
			Column:     "sale_date",
			Boundaries: []time.Time{date("2024-01-01"), date("2024-04-01"), date("2024-07-01")},
		},
		References: []registry.Reference{
			{Column: "customer_key", Table: "dim_customer"},
		},
	}
}

// stubResolver marks a fixed set of surrogate keys as current
type stubResolver map[int64]bool

func (r stubResolver) IsCurrentSurrogate(table string, key int64) bool {
	return r[key]
}

func saleRow(key int64, day string, amount float64) Record {
	return Record{
		Table:        "fact_sales",
		Values:       map[string]interface{}{"sale_date": date(day), "amount": amount},
		Keys:         map[string]int64{"customer_key": key},
		PartitionKey: date(day),
		SourceSystem: "pos",
		BatchID:      "batch-001",
		IngestedAt:   date(day),
	}
}

func TestLoadGroupsByRangeRightPartition(t *testing.T) {
	store := NewMemoryPartitionStore()
	loader := NewLoader(salesDesc(), store, stubResolver{1: true}, nil)

	rows := []Record{
		saleRow(1, "2023-12-31", 10), // before first boundary
		saleRow(1, "2024-01-01", 20), // boundary value goes right
		saleRow(1, "2024-03-31", 30),
		saleRow(1, "2024-04-01", 40),
		saleRow(1, "2024-09-15", 50), // after last boundary
	}

	res := loader.Load(context.Background(), rows)
	require.Empty(t, res.Rejected)
	require.Empty(t, res.Failed)
	assert.Equal(t, 5, res.Accepted)

	assert.Len(t, store.Partition("fact_sales", 0), 1)
	assert.Len(t, store.Partition("fact_sales", 1), 2)
	assert.Len(t, store.Partition("fact_sales", 2), 1)
	assert.Len(t, store.Partition("fact_sales", 3), 1)
}

func TestLoadSwapReplacesPriorContents(t *testing.T) {
	store := NewMemoryPartitionStore()
	loader := NewLoader(salesDesc(), store, stubResolver{1: true}, nil)
	ctx := context.Background()

	first := loader.Load(ctx, []Record{
		saleRow(1, "2024-02-01", 10),
		saleRow(1, "2024-02-02", 20),
	})
	require.Equal(t, 2, first.Accepted)
	require.Len(t, store.Partition("fact_sales", 1), 2)

	// A reload of the same partition replaces, never appends
	second := loader.Load(ctx, []Record{saleRow(1, "2024-02-03", 30)})
	require.Equal(t, 1, second.Accepted)

	rows := store.Partition("fact_sales", 1)
	require.Len(t, rows, 1)
	assert.Equal(t, 30.0, rows[0].Values["amount"])
}

func TestLoadRejectsMissingReferenceKey(t *testing.T) {
	store := NewMemoryPartitionStore()
	loader := NewLoader(salesDesc(), store, stubResolver{1: true}, nil)

	row := saleRow(1, "2024-02-01", 10)
	delete(row.Keys, "customer_key")

	res := loader.Load(context.Background(), []Record{row})
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 0, res.Accepted)
	assert.True(t, errors.HasCode(res.Rejected[0].Reason, errors.ErrCodeRequiredFieldMissing))
	assert.Equal(t, 0, store.RowCount("fact_sales"))
}

func TestLoadRejectsDanglingReference(t *testing.T) {
	store := NewMemoryPartitionStore()

	// Key 7 once existed but its dimension row has been expired
	loader := NewLoader(salesDesc(), store, stubResolver{1: true, 7: false}, nil)

	res := loader.Load(context.Background(), []Record{
		saleRow(1, "2024-02-01", 10),
		saleRow(7, "2024-02-02", 20),
	})

	assert.Equal(t, 1, res.Accepted)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 1, res.Rejected[0].Index)
	assert.True(t, errors.HasCode(res.Rejected[0].Reason, errors.ErrCodeDanglingReference))
}

// faultySwapper fails swaps for one partition ordinal
type faultySwapper struct {
	inner         Swapper
	failPartition int
}

func (s *faultySwapper) SwapPartition(ctx context.Context, table string, partition int, rows []Record) error {
	if partition == s.failPartition {
		return fmt.Errorf("stage table lost")
	}
	return s.inner.SwapPartition(ctx, table, partition, rows)
}

func TestLoadFailedSwapIsAllOrNothing(t *testing.T) {
	store := NewMemoryPartitionStore()
	loader := NewLoader(salesDesc(), store, stubResolver{1: true}, nil)
	ctx := context.Background()

	// Seed partition 1 with prior contents
	seed := loader.Load(ctx, []Record{saleRow(1, "2024-02-01", 10)})
	require.Equal(t, 1, seed.Accepted)

	faulty := NewLoader(salesDesc(), &faultySwapper{inner: store, failPartition: 1}, stubResolver{1: true}, nil)

	res := faulty.Load(ctx, []Record{
		saleRow(1, "2024-02-15", 99), // partition 1, swap will fail
		saleRow(1, "2024-05-01", 50), // partition 2, unaffected
	})

	assert.Equal(t, 1, res.Accepted)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, 1, res.Failed[0].Partition)
	assert.Equal(t, 1, res.Failed[0].Rows)
	assert.True(t, errors.HasCode(res.Failed[0].Err, errors.ErrCodePartitionSwapFault))

	// Prior contents of the failed partition remain authoritative
	rows := store.Partition("fact_sales", 1)
	require.Len(t, rows, 1)
	assert.Equal(t, 10.0, rows[0].Values["amount"])

	// The sibling partition landed
	assert.Len(t, store.Partition("fact_sales", 2), 1)
}

// serialSwapper verifies no partition ever has two concurrent writers
type serialSwapper struct {
	inner  Swapper
	mu     sync.Mutex
	active map[int]bool
	racy   bool
}

func (s *serialSwapper) SwapPartition(ctx context.Context, table string, partition int, rows []Record) error {
	s.mu.Lock()
	if s.active[partition] {
		s.racy = true
	}
	s.active[partition] = true
	s.mu.Unlock()

	err := s.inner.SwapPartition(ctx, table, partition, rows)

	s.mu.Lock()
	s.active[partition] = false
	s.mu.Unlock()
	return err
}

func TestLoadOneWriterPerPartition(t *testing.T) {
	store := NewMemoryPartitionStore()
	guard := &serialSwapper{inner: store, active: make(map[int]bool)}
	loader := NewLoader(salesDesc(), guard, stubResolver{1: true}, nil)

	var rows []Record
	for i := 0; i < 50; i++ {
		rows = append(rows, saleRow(1, "2024-02-01", float64(i)))
		rows = append(rows, saleRow(1, "2024-05-01", float64(i)))
	}

	res := loader.Load(context.Background(), rows)
	assert.Equal(t, 100, res.Accepted)
	assert.False(t, guard.racy, "a partition saw two concurrent writers")
}

func TestVisibleRowsRowLevelSecurity(t *testing.T) {
	store := NewMemoryPartitionStore()
	loader := NewLoader(salesDesc(), store, stubResolver{1: true}, nil)

	emeaRow := saleRow(1, "2024-02-01", 10)
	emeaRow.Values["region"] = "emea"
	apacRow := saleRow(1, "2024-02-02", 20)
	apacRow.Values["region"] = "apac"

	res := loader.Load(context.Background(), []Record{emeaRow, apacRow})
	require.Equal(t, 2, res.Accepted)

	eval := security.NewEvaluator(security.OwnershipPolicy{
		PolicyName: "region_match", RowAttribute: "region", Claim: "region",
	})

	emea := security.Identity{Subject: "alice", Claims: map[string]string{"region": "emea"}}
	visible := store.VisibleRows("fact_sales", emea, eval)
	require.Len(t, visible, 1)
	assert.Equal(t, "emea", visible[0].Values["region"])

	admin := security.Identity{Subject: "ops", Admin: true}
	assert.Len(t, store.VisibleRows("fact_sales", admin, eval), 2)
}
