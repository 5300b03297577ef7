package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"aumtracker/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

func TestCSVStoreMissingCells(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aum_data.csv")
	err := os.WriteFile(path, []byte(
		"Date,AUM_9008,AUM_9042,AUM_9439\n"+
			"2026-10-14,100,N/A,NaN\n"+
			"2026-10-15,,200,garbage\n"+
			"2026-10-16,nan,NA\n",
	), 0644)
	require.NoError(t, err)

	rec := telemetry.NewRecorder()
	store := NewCSVStore(path, rec)

	table, err := store.Table(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"AUM_9008", "AUM_9042", "AUM_9439"}, table.Columns)
	require.Len(t, table.Rows, 3)

	require.Equal(t, value(100), table.LastValue("AUM_9008"))
	require.Equal(t, value(200), table.LastValue("AUM_9042"))
	require.False(t, table.LastValue("AUM_9439").Valid)

	require.True(t, rec.Has(telemetry.KindWarning, report_csv_parse_cell))
}

func TestCSVStoreWritesEmptyCells(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aum_data.csv")
	store := NewCSVStore(path, telemetry.NewRecorder())

	r := NewRow("2026-10-16")
	r.Values["AUM_9008"] = value(123_400_000)
	r.Values["AUM_9042"] = value(0.5)
	err := store.Append(context.Background(), r, []string{"AUM_9008", "AUM_9042", "AUM_9439"})
	require.NoError(t, err)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "Date,AUM_9008,AUM_9042,AUM_9439\n2026-10-16,123400000,0.5,\n", string(contents))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0644), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestCSVStoreRequiresDateColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aum_data.csv")
	require.NoError(t, os.WriteFile(path, []byte("When,AUM_9008\n2026-10-16,1\n"), 0644))

	_, err := NewCSVStore(path, telemetry.NewRecorder()).Table(context.Background())
	require.Error(t, err)
}

func TestCSVStoreEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aum_data.csv")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	table, err := NewCSVStore(path, telemetry.NewRecorder()).Table(context.Background())
	require.NoError(t, err)
	require.Empty(t, table.Rows)
	require.Empty(t, table.Columns)
}
