package storage

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insights-pipeline/models"
)

func sampleTable() *models.Table {
	t := models.NewTable("date")
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	t.AppendRow(base, map[string]float64{"cases": 10, "rate": 0.5}, map[string]string{"category": "Small"})
	t.AppendRow(base.AddDate(0, 0, 1), map[string]float64{"cases": 12}, map[string]string{"category": "Large"})
	return t
}

func TestWriteReadTableRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, sampleTable()))

	back, err := ReadTable(&buf)
	require.NoError(t, err)

	assert.Equal(t, "date", back.TimeColumn)
	assert.Equal(t, 2, back.Len())
	assert.Equal(t, []string{"date", "cases", "rate", "category"}, back.Columns())

	rate, ok := back.Numeric("rate")
	require.True(t, ok)
	assert.Equal(t, 0.5, rate[0])
	assert.True(t, math.IsNaN(rate[1]))

	cat, ok := back.Text("category")
	require.True(t, ok)
	assert.Equal(t, []string{"Small", "Large"}, cat)
	assert.True(t, back.Times[1].Equal(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)))
}

func TestReadTableRejectsRaggedRows(t *testing.T) {
	_, err := ReadTable(bytes.NewBufferString("date,a\n2024-01-01T00:00:00Z,1,2\n"))
	assert.Error(t, err)
}

func TestCSVStoreNamesAndReadsLatest(t *testing.T) {
	dir := t.TempDir()
	store, err := NewCSVStore(dir)
	require.NoError(t, err)
	store.now = func() time.Time { return time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC) }

	rawPath, err := store.WriteRaw(models.DomainCovid, sampleTable())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "raw_covid_20240506.csv"), rawPath)

	_, err = store.WriteProcessed(models.DomainCovid, sampleTable())
	require.NoError(t, err)

	got, err := store.ReadProcessed(context.Background(), models.DomainCovid, "date")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Len())

	none, err := store.ReadProcessed(context.Background(), models.DomainStock, "date")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestWriteFileAtomicReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bundle.json")
	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestLatestFile(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"trained_models_20240101_120000.json",
		"trained_models_20240301_080000.json",
		"trained_models_20240201_235959.json",
		"other.json",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644))
	}

	path, found, err := LatestFile(dir, "trained_models_*.json")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "trained_models_20240301_080000.json", filepath.Base(path))

	_, found, err = LatestFile(filepath.Join(dir, "missing"), "*.json")
	require.NoError(t, err)
	assert.False(t, found)
}
