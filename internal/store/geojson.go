package store

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/shaunagostinho/fieldtrack/internal/track"
)

// ExportGeoJSON renders a session as a FeatureCollection. A path of two or
// more points becomes a LineString, a single point a Point, and an empty
// path an empty collection. Per-point offsets and accuracies are carried
// as parallel property arrays.
func ExportGeoJSON(sum track.Summary, path track.Path) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	if len(path) == 0 {
		return fc.MarshalJSON()
	}

	var geom orb.Geometry
	if len(path) == 1 {
		geom = orb.Point{path[0].Longitude, path[0].Latitude}
	} else {
		ls := make(orb.LineString, len(path))
		for i, p := range path {
			ls[i] = orb.Point{p.Longitude, p.Latitude}
		}
		geom = ls
	}

	times := make([]int, len(path))
	accuracy := make([]any, len(path))
	for i, p := range path {
		times[i] = p.TimestampSeconds
		if p.Accuracy != nil {
			accuracy[i] = *p.Accuracy
		}
	}

	f := geojson.NewFeature(geom)
	f.ID = sum.ID
	f.Properties["name"] = sum.Name
	f.Properties["notes"] = sum.Notes
	f.Properties["startedAt"] = sum.StartedAt.Format(time.RFC3339)
	if sum.StoppedAt != nil {
		f.Properties["stoppedAt"] = sum.StoppedAt.Format(time.RFC3339)
	}
	f.Properties["distanceMeters"] = sum.DistanceMeters
	f.Properties["timestampSeconds"] = times
	f.Properties["accuracy"] = accuracy
	fc.Append(f)

	return fc.MarshalJSON()
}
