package watermark

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "watermarks"))
	require.NoError(t, err)
	return store
}

func TestGetUnknownTableReturnsInitial(t *testing.T) {
	store := newTestStore(t)

	wm, err := store.Get("dim_customer")
	require.NoError(t, err)
	assert.Equal(t, InitialWatermark, wm)
}

func TestSetThenGetRoundTrip(t *testing.T) {
	store := newTestStore(t)

	want := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	require.NoError(t, store.Set("dim_customer", want))

	got, err := store.Get("dim_customer")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Other tables are unaffected
	other, err := store.Get("fact_sales")
	require.NoError(t, err)
	assert.Equal(t, InitialWatermark, other)
}

func TestSetOverwritesPriorMark(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Set("dim_customer", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, store.Set("dim_customer", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)))

	got, err := store.Get("dim_customer")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watermarks")

	store, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Set("dim_customer", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, store.Set("fact_sales", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)))

	reopened, err := NewStore(path)
	require.NoError(t, err)

	wm, err := reopened.Get("fact_sales")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), wm)
}

func TestLastLineWinsAndMalformedLinesSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watermarks")

	content := "dim_customer=2024-01-01T00:00:00Z\n" +
		"garbage line without separator\n" +
		"fact_sales=not-a-timestamp\n" +
		"dim_customer=2024-02-01T00:00:00Z\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	store, err := NewStore(path)
	require.NoError(t, err)

	wm, err := store.Get("dim_customer")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), wm)

	// The malformed fact_sales line falls back to the initial mark
	wm, err = store.Get("fact_sales")
	require.NoError(t, err)
	assert.Equal(t, InitialWatermark, wm)
}
