package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lakeloader/pkg/errors"
	"lakeloader/pkg/models"
)

func customerDef() models.TableDef {
	return models.TableDef{
		Name:         "dim_customer",
		Kind:         "dimension",
		SourceSystem: "legacy_sql_server",
		Columns: []models.ColumnDef{
			{Name: "customer_id", Type: "string", Required: true},
			{Name: "city", Type: "string", Required: true},
			{Name: "segment", Type: "string"},
		},
		KeyColumns:   []string{"customer_id"},
		Distribution: "replicate",
	}
}

func salesDef() models.TableDef {
	return models.TableDef{
		Name:         "fact_sales",
		Kind:         "fact",
		SourceSystem: "legacy_sql_server",
		Columns: []models.ColumnDef{
			{Name: "customer_key", Type: "int", Required: true},
			{Name: "sale_date", Type: "date", Required: true},
			{Name: "amount", Type: "float", Required: true},
		},
		Distribution: "hash:customer_key",
		Partition: &models.PartitionDef{
			Column:     "sale_date",
			Boundaries: []string{"2024-01-01", "2024-04-01", "2024-07-01"},
		},
		References: []models.ReferenceDef{
			{Column: "customer_key", Table: "dim_customer"},
		},
	}
}

func TestDescribe(t *testing.T) {
	r, err := New([]models.TableDef{customerDef(), salesDef()})
	require.NoError(t, err)

	desc, err := r.Describe("dim_customer")
	require.NoError(t, err)
	assert.Equal(t, KindDimension, desc.Kind)
	assert.Equal(t, DistReplicate, desc.Distribution.Kind)
	assert.Equal(t, []string{"customer_id"}, desc.KeyColumns)
	assert.Equal(t, []string{"city", "segment"}, desc.TrackedColumns())

	desc, err = r.Describe("fact_sales")
	require.NoError(t, err)
	assert.Equal(t, KindFact, desc.Kind)
	assert.Equal(t, DistHash, desc.Distribution.Kind)
	assert.Equal(t, "customer_key", desc.Distribution.Column)
	assert.Equal(t, PartitionRangeRight, desc.Partition.Kind)
	assert.Equal(t, 4, desc.Partition.Count())
}

func TestDescribeUnknownTable(t *testing.T) {
	r, err := New([]models.TableDef{customerDef()})
	require.NoError(t, err)

	_, err = r.Describe("dim_product")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnknownTable, errors.GetErrorCode(err))
}

func TestPartitionForRangeRight(t *testing.T) {
	r, err := New([]models.TableDef{customerDef(), salesDef()})
	require.NoError(t, err)
	desc, err := r.Describe("fact_sales")
	require.NoError(t, err)

	day := func(s string) time.Time {
		v, err := time.Parse("2006-01-02", s)
		require.NoError(t, err)
		return v
	}

	tests := []struct {
		value string
		want  int
	}{
		{"2023-12-15", 0},
		{"2024-01-01", 1}, // boundary value belongs to the right partition
		{"2024-02-20", 1},
		{"2024-04-01", 2},
		{"2024-06-30", 2},
		{"2024-07-01", 3},
		{"2025-01-01", 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, desc.Partition.PartitionFor(day(tt.value)), "value %s", tt.value)
	}
}

func TestTablesForSourceOrdersDimensionsFirst(t *testing.T) {
	r, err := New([]models.TableDef{salesDef(), customerDef()})
	require.NoError(t, err)

	tables := r.TablesForSource("legacy_sql_server")
	require.Len(t, tables, 2)
	assert.Equal(t, "dim_customer", tables[0].Name)
	assert.Equal(t, "fact_sales", tables[1].Name)

	assert.Empty(t, r.TablesForSource("unknown_source"))
}

func TestNewRejectsInvalidDefs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.TableDef)
	}{
		{"unknown kind", func(d *models.TableDef) { d.Kind = "view" }},
		{"unknown column type", func(d *models.TableDef) { d.Columns[0].Type = "decimal(10,2)" }},
		{"undeclared key column", func(d *models.TableDef) { d.KeyColumns = []string{"missing"} }},
		{"no key columns", func(d *models.TableDef) { d.KeyColumns = nil }},
		{"bad distribution", func(d *models.TableDef) { d.Distribution = "round_robin" }},
		{"undeclared hash column", func(d *models.TableDef) { d.Distribution = "hash:missing" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := customerDef()
			tt.mutate(&def)
			_, err := New([]models.TableDef{def})
			assert.Error(t, err)
		})
	}
}

func TestNewRejectsInvalidPartition(t *testing.T) {
	def := salesDef()
	def.Partition.Boundaries = []string{"2024-04-01", "2024-01-01"}
	_, err := New([]models.TableDef{def})
	assert.Error(t, err)

	def = salesDef()
	def.Partition.Column = "amount"
	_, err = New([]models.TableDef{def})
	assert.Error(t, err)

	def = salesDef()
	def.Partition.Boundaries = []string{"April 1st"}
	_, err = New([]models.TableDef{def})
	assert.Error(t, err)
}

func TestLoadDefsDir(t *testing.T) {
	dir := t.TempDir()
	content := `tables:
  - name: dim_customer
    kind: dimension
    source_system: legacy_sql_server
    columns:
      - name: customer_id
        type: string
        required: true
      - name: city
        type: string
        required: true
    key_columns: [customer_id]
    distribution: replicate
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dim_customer.yaml"), []byte(content), 0o600))

	defs, err := LoadDefsDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "dim_customer", defs[0].Name)

	r, err := New(defs)
	require.NoError(t, err)
	_, err = r.Describe("dim_customer")
	assert.NoError(t, err)
}

func TestLoadDefsDirBadYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("tables: {not a list"), 0o600))

	_, err := LoadDefsDir(dir)
	assert.Error(t, err)
}
