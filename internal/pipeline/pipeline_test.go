package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lakeloader/internal/facts"
	"lakeloader/internal/rawzone"
	"lakeloader/internal/registry"
	"lakeloader/internal/watermark"
	"lakeloader/pkg/errors"
	"lakeloader/pkg/models"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]models.TableDef{
		{
			Name:         "dim_customer",
			Kind:         "dimension",
			SourceSystem: "crm",
			Columns: []models.ColumnDef{
				{Name: "customer_id", Type: "string", Required: true},
				{Name: "city", Type: "string", Required: true},
			},
			KeyColumns: []string{"customer_id"},
		},
		{
			Name:         "fact_sales",
			Kind:         "fact",
			SourceSystem: "crm",
			Columns: []models.ColumnDef{
				{Name: "customer_id", Type: "string", Required: true},
				{Name: "sale_date", Type: "date", Required: true},
				{Name: "amount", Type: "float", Required: true},
			},
			Distribution: "hash:customer_id",
			Partition: &models.PartitionDef{
				Column:     "sale_date",
				Boundaries: []string{"2024-01-01", "2024-04-01"},
			},
			References: []models.ReferenceDef{
				{Column: "customer_id", Table: "dim_customer"},
			},
		},
	})
	require.NoError(t, err)
	return reg
}

func writeBatch(t *testing.T, root, source, table, batchID string, lines ...string) {
	t.Helper()
	dir := filepath.Join(root, source, table)
	require.NoError(t, os.MkdirAll(dir, 0o750))

	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, batchID+".ndjson"), []byte(content), 0o600))
}

func newTestPipeline(t *testing.T, bronze string) (*Pipeline, *facts.MemoryPartitionStore, *watermark.Store) {
	t.Helper()
	gold := facts.NewMemoryPartitionStore()
	marks, err := watermark.NewStore(filepath.Join(t.TempDir(), "watermarks"))
	require.NoError(t, err)

	reader := rawzone.NewReader(bronze, 30*time.Second, nil)
	p := New(testRegistry(t), reader, gold, marks, nil, 2)
	return p, gold, marks
}

func TestRunFullCycle(t *testing.T) {
	bronze := t.TempDir()
	writeBatch(t, bronze, "crm", "dim_customer", "b1",
		`{"customer_id": "C1", "city": "New York"}`,
		`{"customer_id": "C2", "city": "Boston"}`,
	)
	writeBatch(t, bronze, "crm", "fact_sales", "b1",
		`{"customer_id": "C1", "sale_date": "2024-02-01", "amount": 10.5}`,
		`{"customer_id": "C2", "sale_date": "2024-05-01", "amount": 20.0}`,
	)

	p, gold, marks := newTestPipeline(t, bronze)

	report, err := p.Run(context.Background(), "crm", "b1", date("2024-06-01"))
	require.NoError(t, err)
	require.Len(t, report.Tables, 2)

	// Dimensions merge before facts
	assert.Equal(t, "dim_customer", report.Tables[0].Table)
	assert.Equal(t, 2, report.Tables[0].Inserted)

	assert.Equal(t, "fact_sales", report.Tables[1].Table)
	assert.Equal(t, 2, report.Tables[1].Accepted)
	assert.Empty(t, report.Tables[1].Rejected)

	// Rows landed in the partitions their sale dates select
	assert.Len(t, gold.Partition("fact_sales", 1), 1)
	assert.Len(t, gold.Partition("fact_sales", 2), 1)

	// Surrogate keys were resolved from the freshly merged dimension
	row := gold.Partition("fact_sales", 1)[0]
	key, ok := p.DimensionStore("dim_customer").CurrentSurrogate("C1")
	require.True(t, ok)
	assert.Equal(t, key, row.Keys["customer_id"])

	// Watermarks advanced for both tables
	for _, table := range []string{"dim_customer", "fact_sales"} {
		wm, err := marks.Get(table)
		require.NoError(t, err)
		assert.Equal(t, date("2024-06-01"), wm, table)
	}
}

func TestRunSecondCycleTracksChanges(t *testing.T) {
	bronze := t.TempDir()
	writeBatch(t, bronze, "crm", "dim_customer", "b1",
		`{"customer_id": "C1", "city": "New York"}`,
	)
	writeBatch(t, bronze, "crm", "dim_customer", "b2",
		`{"customer_id": "C1", "city": "Los Angeles"}`,
	)

	p, _, _ := newTestPipeline(t, bronze)
	ctx := context.Background()

	_, err := p.Run(ctx, "crm", "b1", date("2024-01-15"))
	require.NoError(t, err)

	report, err := p.Run(ctx, "crm", "b2", date("2024-03-01"))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Tables[0].Inserted)
	assert.Equal(t, 1, report.Tables[0].Expired)

	history := p.DimensionStore("dim_customer").History("C1")
	require.Len(t, history, 2)
	assert.Equal(t, date("2024-02-29"), *history[0].ExpirationDate)
	assert.Equal(t, "Los Angeles", history[1].Attributes["city"])
}

func TestRunNoBatchAnywhereFails(t *testing.T) {
	p, _, _ := newTestPipeline(t, t.TempDir())

	report, err := p.Run(context.Background(), "crm", "missing", date("2024-06-01"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeBatchNotFound))
	for _, tr := range report.Tables {
		assert.True(t, tr.Skipped)
	}
}

func TestRunMissingTableBatchIsSkipped(t *testing.T) {
	bronze := t.TempDir()
	writeBatch(t, bronze, "crm", "dim_customer", "b1",
		`{"customer_id": "C1", "city": "New York"}`,
	)

	p, _, _ := newTestPipeline(t, bronze)

	report, err := p.Run(context.Background(), "crm", "b1", date("2024-06-01"))
	require.NoError(t, err)

	assert.False(t, report.Tables[0].Skipped)
	assert.True(t, report.Tables[1].Skipped)
}

func TestRunQuarantinesBadRecords(t *testing.T) {
	bronze := t.TempDir()
	writeBatch(t, bronze, "crm", "dim_customer", "b1",
		`{"customer_id": "C1", "city": "New York"}`,
		`{not json at all`,
		`{"customer_id": "C2"}`, // required city missing
	)

	p, _, _ := newTestPipeline(t, bronze)

	report, err := p.Run(context.Background(), "crm", "b1", date("2024-06-01"))
	require.NoError(t, err)

	tr := report.Tables[0]
	assert.Equal(t, 3, tr.Read)
	assert.Equal(t, 1, tr.Inserted)
	require.Len(t, tr.Quarantined, 2)
	assert.Equal(t, 2, tr.Quarantined[0].Line)
	assert.Equal(t, 3, tr.Quarantined[1].Line)
}

func TestRunFactWithUnknownCustomerQuarantined(t *testing.T) {
	bronze := t.TempDir()
	writeBatch(t, bronze, "crm", "dim_customer", "b1",
		`{"customer_id": "C1", "city": "New York"}`,
	)
	writeBatch(t, bronze, "crm", "fact_sales", "b1",
		`{"customer_id": "C1", "sale_date": "2024-02-01", "amount": 10.5}`,
		`{"customer_id": "C99", "sale_date": "2024-02-02", "amount": 20.0}`,
	)

	p, gold, _ := newTestPipeline(t, bronze)

	report, err := p.Run(context.Background(), "crm", "b1", date("2024-06-01"))
	require.NoError(t, err)

	tr := report.Tables[1]
	assert.Equal(t, 1, tr.Accepted)
	require.Len(t, tr.Quarantined, 1)
	assert.True(t, errors.HasCode(tr.Quarantined[0].Reason, errors.ErrCodeDanglingReference))
	assert.Equal(t, 1, gold.RowCount("fact_sales"))
}

func TestRunRerunIsIdempotent(t *testing.T) {
	bronze := t.TempDir()
	writeBatch(t, bronze, "crm", "dim_customer", "b1",
		`{"customer_id": "C1", "city": "New York"}`,
	)
	writeBatch(t, bronze, "crm", "fact_sales", "b1",
		`{"customer_id": "C1", "sale_date": "2024-02-01", "amount": 10.5}`,
	)

	p, gold, _ := newTestPipeline(t, bronze)
	ctx := context.Background()

	_, err := p.Run(ctx, "crm", "b1", date("2024-06-01"))
	require.NoError(t, err)

	report, err := p.Run(ctx, "crm", "b1", date("2024-06-01"))
	require.NoError(t, err)

	// Dimension merge is a no-op; the fact partition is replaced, not doubled
	assert.Equal(t, 0, report.Tables[0].Inserted)
	assert.Equal(t, 1, report.Tables[0].Unchanged)
	assert.Equal(t, 1, gold.RowCount("fact_sales"))
	assert.Len(t, p.DimensionStore("dim_customer").History("C1"), 1)
}

func TestReportRender(t *testing.T) {
	bronze := t.TempDir()
	writeBatch(t, bronze, "crm", "dim_customer", "b1",
		`{"customer_id": "C1", "city": "New York"}`,
	)

	p, _, _ := newTestPipeline(t, bronze)

	report, err := p.Run(context.Background(), "crm", "b1", date("2024-06-01"))
	require.NoError(t, err)

	out := report.Render()
	assert.Contains(t, out, "dim_customer")
	assert.Contains(t, out, "SKIPPED")
	assert.Contains(t, out, "OK")
	assert.Contains(t, out, fmt.Sprintf("batch %s", "b1"))
	assert.False(t, report.Failed())
}
