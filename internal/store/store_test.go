package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/shaunagostinho/fieldtrack/internal/track"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions", "fieldtrack.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func floatPtr(v float64) *float64 { return &v }

func timePtr(v time.Time) *time.Time { return &v }

func recordedSession(t *testing.T, name string, started time.Time) (track.Summary, track.Path) {
	t.Helper()
	sess, err := track.NewSession(track.SessionConfig{
		Name:  name,
		Notes: "north boundary",
		Now:   func() time.Time { return started },
	})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		acc := 0.0
		if i%2 == 0 {
			acc = 4
		}
		_, err := sess.Record(track.RawFix{
			Latitude:           28.6 + float64(i)*0.0001,
			Longitude:          77.2,
			HorizontalAccuracy: acc,
			CapturedAtEpochMs:  int64(i) * 1000,
		})
		require.NoError(t, err)
	}
	return sess.Stop(), sess.Path()
}

func TestSaveAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	sum, path := recordedSession(t, "plot A", time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))

	require.NoError(t, s.Save(ctx, sum, path))

	gotSum, gotPath, err := s.Get(ctx, sum.ID)
	require.NoError(t, err)
	assert.Equal(t, sum.ID, gotSum.ID)
	assert.Equal(t, "plot A", gotSum.Name)
	assert.Equal(t, "north boundary", gotSum.Notes)
	assert.True(t, sum.StartedAt.Equal(gotSum.StartedAt))
	require.NotNil(t, gotSum.StoppedAt)
	assert.True(t, sum.StoppedAt.Equal(*gotSum.StoppedAt))
	assert.Equal(t, sum.Accepted, gotSum.Accepted)
	assert.InDelta(t, sum.DistanceMeters, gotSum.DistanceMeters, 1e-9)
	assert.False(t, gotSum.Recording)
	assert.Equal(t, path, gotPath)
	require.NotNil(t, gotPath[0].Accuracy)
	assert.Nil(t, gotPath[1].Accuracy)
}

func TestSaveReplacesExisting(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	sum, path := recordedSession(t, "plot A", time.Now())

	require.NoError(t, s.Save(ctx, sum, path))
	sum.Name = "renamed"
	require.NoError(t, s.Save(ctx, sum, path[:2]))

	got, gotPath, err := s.Get(ctx, sum.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Len(t, gotPath, 2)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestListNewestFirst(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	empty, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i, name := range []string{"first", "second", "third"} {
		sum, path := recordedSession(t, name, base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, s.Save(ctx, sum, path))
	}

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "third", all[0].Name)
	assert.Equal(t, "first", all[2].Name)
}

func TestGetAndDeleteUnknown(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, _, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "missing"), ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	sum, path := recordedSession(t, "gone", time.Now())
	require.NoError(t, s.Save(ctx, sum, path))

	require.NoError(t, s.Delete(ctx, sum.ID))
	_, _, err := s.Get(ctx, sum.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM track_points`).Scan(&n))
	assert.Zero(t, n)
}

func TestExportGeoJSONLineString(t *testing.T) {
	sum := track.Summary{
		ID:        "abc",
		Name:      "transect",
		StartedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		StoppedAt: timePtr(time.Date(2026, 3, 1, 8, 5, 0, 0, time.UTC)),
	}
	path := track.Path{
		{Latitude: 28.0, Longitude: 77.0, Accuracy: floatPtr(5), TimestampSeconds: 0},
		{Latitude: 28.00001, Longitude: 77.0, TimestampSeconds: 1},
	}

	data, err := ExportGeoJSON(sum, path)
	require.NoError(t, err)

	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)

	f := fc.Features[0]
	ls, ok := f.Geometry.(orb.LineString)
	require.True(t, ok)
	assert.Equal(t, orb.Point{77.0, 28.0}, ls[0])
	assert.Equal(t, orb.Point{77.0, 28.00001}, ls[1])
	assert.Equal(t, "transect", f.Properties.MustString("name"))
	assert.Equal(t, "2026-03-01T08:05:00Z", f.Properties.MustString("stoppedAt"))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	props := raw["features"].([]any)[0].(map[string]any)["properties"].(map[string]any)
	assert.Equal(t, []any{5.0, nil}, props["accuracy"])
	assert.Equal(t, []any{0.0, 1.0}, props["timestampSeconds"])
}

func TestExportGeoJSONSinglePointAndEmpty(t *testing.T) {
	data, err := ExportGeoJSON(track.Summary{ID: "one"}, track.Path{{Latitude: 1, Longitude: 2}})
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, orb.Point{2, 1}, fc.Features[0].Geometry)

	data, err = ExportGeoJSON(track.Summary{ID: "none"}, nil)
	require.NoError(t, err)
	fc, err = geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	assert.Empty(t, fc.Features)
}
