package conform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lakeloader/internal/rawzone"
	"lakeloader/internal/registry"
	"lakeloader/pkg/errors"
	"lakeloader/pkg/models"
)

func customerDescriptor(t *testing.T) registry.TableDescriptor {
	t.Helper()
	r, err := registry.New([]models.TableDef{{
		Name:         "dim_customer",
		Kind:         "dimension",
		SourceSystem: "crm",
		Columns: []models.ColumnDef{
			{Name: "customer_id", Type: "string", Required: true},
			{Name: "city", Type: "string", Required: true},
			{Name: "loyalty_points", Type: "int"},
			{Name: "active", Type: "bool"},
			{Name: "signup_date", Type: "date"},
		},
		KeyColumns: []string{"customer_id"},
	}})
	require.NoError(t, err)
	desc, err := r.Describe("dim_customer")
	require.NoError(t, err)
	return desc
}

func testLineage() Lineage {
	return Lineage{
		SourceSystem: "crm",
		BatchID:      "B1",
		IngestedAt:   time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestConform(t *testing.T) {
	desc := customerDescriptor(t)
	raw := &rawzone.RawRecord{
		Line: 1,
		Fields: map[string]interface{}{
			"Customer ID":    "C1",
			"City":           "NY",
			"Loyalty Points": float64(120),
			"Active":         "true",
			"Signup Date":    "2023-06-15",
		},
	}

	rec, err := Conform(raw, desc, testLineage())
	require.NoError(t, err)

	assert.Equal(t, "C1", rec.NaturalKey)
	assert.Equal(t, "NY", rec.Attributes["city"])
	assert.Equal(t, int64(120), rec.Attributes["loyalty_points"])
	assert.Equal(t, true, rec.Attributes["active"])
	assert.Equal(t, time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC), rec.Attributes["signup_date"])
	assert.Equal(t, "crm", rec.Lineage.SourceSystem)
}

func TestConformRequiredFieldMissing(t *testing.T) {
	desc := customerDescriptor(t)
	raw := &rawzone.RawRecord{Line: 3, Fields: map[string]interface{}{"city": "NY"}}

	_, err := Conform(raw, desc, testLineage())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeRequiredFieldMissing, errors.GetErrorCode(err))
}

func TestConformTypeMismatch(t *testing.T) {
	desc := customerDescriptor(t)
	raw := &rawzone.RawRecord{
		Line: 4,
		Fields: map[string]interface{}{
			"customer_id":    "C1",
			"city":           "NY",
			"loyalty_points": "not a number",
		},
	}

	_, err := Conform(raw, desc, testLineage())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTypeMismatch, errors.GetErrorCode(err))
}

func TestConformOptionalFieldAbsent(t *testing.T) {
	desc := customerDescriptor(t)
	raw := &rawzone.RawRecord{
		Fields: map[string]interface{}{"customer_id": "C1", "city": "NY"},
	}

	rec, err := Conform(raw, desc, testLineage())
	require.NoError(t, err)
	_, present := rec.Attributes["loyalty_points"]
	assert.False(t, present)
}

func TestNaturalKeyIsDeterministic(t *testing.T) {
	desc := customerDescriptor(t)

	a, err := Conform(&rawzone.RawRecord{
		Fields: map[string]interface{}{"customer_id": "C1", "city": "NY"},
	}, desc, testLineage())
	require.NoError(t, err)

	// Same key fields spelled differently in the raw feed
	b, err := Conform(&rawzone.RawRecord{
		Fields: map[string]interface{}{"Customer ID": "C1", "city": "LA"},
	}, desc, testLineage())
	require.NoError(t, err)

	assert.Equal(t, a.NaturalKey, b.NaturalKey)
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Customer ID", "customer_id"},
		{"  city  ", "city"},
		{"Last-Modified!", "lastmodified"},
		{"already_snake", "already_snake"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeName(tt.in))
	}
}

func TestCoerceValueGrid(t *testing.T) {
	tests := []struct {
		name    string
		value   interface{}
		colType registry.ColumnType
		want    interface{}
		wantErr bool
	}{
		{"int from string", "42", registry.TypeInt, int64(42), false},
		{"int rejects fraction", 1.5, registry.TypeInt, nil, true},
		{"float from int", int64(3), registry.TypeFloat, float64(3), false},
		{"bool from string", "false", registry.TypeBool, false, false},
		{"bool rejects junk", "maybe", registry.TypeBool, nil, true},
		{"timestamp from rfc3339", "2024-03-01T10:30:00Z", registry.TypeTimestamp,
			time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC), false},
		{"date rejects junk", "soon", registry.TypeDate, nil, true},
		{"string from number", float64(7), registry.TypeString, "7", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerceValue(tt.value, tt.colType)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanonicalRowIsStable(t *testing.T) {
	row := map[string]interface{}{
		"b": int64(2),
		"a": "x",
		"c": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	assert.Equal(t, CanonicalRow(row), CanonicalRow(row))
	assert.Equal(t, "a=x;b=2;c=2024-01-01T00:00:00Z;", CanonicalRow(row))
}
