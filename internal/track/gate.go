package track

import "math"

const (
	// MetersPerDegree approximates the length of one degree at the equator.
	MetersPerDegree = 111320.0

	// DefaultMinDistance is the minimum movement, in metres, for a point
	// to be recorded.
	DefaultMinDistance = 0.3
)

// Distance returns the equirectangular distance in metres between two
// coordinates, applying MetersPerDegree to both axes. Longitude is not
// scaled by cos(latitude), so the result overstates east-west distance
// away from the equator.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := lat2 - lat1
	dLng := lng2 - lng1
	return math.Sqrt(dLat*dLat+dLng*dLng) * MetersPerDegree
}

// Gate suppresses points that have not moved far enough from the last
// accepted point.
type Gate struct {
	MinDistanceMeters float64
}

// NewGate returns a gate with the given threshold, or DefaultMinDistance
// when minDistance is not positive.
func NewGate(minDistance float64) Gate {
	if minDistance <= 0 || math.IsNaN(minDistance) {
		minDistance = DefaultMinDistance
	}
	return Gate{MinDistanceMeters: minDistance}
}

// ShouldAccept reports whether (lat, lng) should be appended to the path.
// The first point is always accepted; a point exactly on the threshold is
// accepted.
func (g Gate) ShouldAccept(lat, lng float64, last *TrackPoint) bool {
	if last == nil {
		return true
	}
	return Distance(last.Latitude, last.Longitude, lat, lng) >= g.MinDistanceMeters
}
