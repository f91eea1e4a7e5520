package logger

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shaunagostinho/fieldtrack/internal/track"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLog(t *testing.T, dir string) [][]string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "fixes_*.csv"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	f, err := os.Open(files[0])
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRecordWritesHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir})
	l.now = func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }

	l.Record("s1", track.Observation{
		Raw:       track.RawFix{Latitude: 28.0000012, Longitude: 77.0000011, HorizontalAccuracy: 5, CapturedAtEpochMs: 2000},
		Latitude:  28.000001,
		Longitude: 77.000001,
		LatGain:   0.8333,
		LngGain:   0.8333,
	})
	l.Record("s1", track.Observation{
		Latitude: 28.00001, Longitude: 77, Accepted: true,
		Point: &track.TrackPoint{Latitude: 28.00001, Longitude: 77, TimestampSeconds: 3},
	})
	l.Close()

	rows := readLog(t, dir)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "s1", rows[1][1])
	assert.Equal(t, "28.0000012", rows[1][2])
	assert.Equal(t, "28.000001", rows[1][6])
	assert.Equal(t, "0", rows[1][10])
	assert.Equal(t, "", rows[1][11])
	assert.Equal(t, "1", rows[2][10])
	assert.Equal(t, "3", rows[2][11])
}

func TestRecordThrottlesRejectedObservations(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir, IntervalMs: 1000})
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Record("s", track.Observation{})
	now = now.Add(200 * time.Millisecond)
	l.Record("s", track.Observation{})               // throttled
	l.Record("s", track.Observation{Accepted: true}) // always written
	now = now.Add(time.Second)
	l.Record("s", track.Observation{})
	l.Close()

	assert.Len(t, readLog(t, dir), 4)
}

func TestDisabledLoggerWritesNothing(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: false, Path: dir})
	l.Record("s", track.Observation{Accepted: true})
	assert.False(t, l.IsEnabled())

	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	require.NoError(t, err)
	assert.Empty(t, files)

	l.SetEnabled(true)
	assert.True(t, l.IsEnabled())
}
