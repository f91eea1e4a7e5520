package track

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidFix is wrapped by RawFix.Validate.
var ErrInvalidFix = errors.New("track: invalid fix")

// RawFix is one reading from the location source.
type RawFix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	// HorizontalAccuracy in metres; 0 means the source did not report one.
	HorizontalAccuracy float64 `json:"horizontalAccuracy,omitempty"`
	CapturedAtEpochMs  int64   `json:"capturedAtEpochMs"`
}

// Validate rejects fixes that would corrupt the filter state.
func (f RawFix) Validate() error {
	switch {
	case !finite(f.Latitude) || !finite(f.Longitude):
		return fmt.Errorf("%w: non-finite coordinate (%v, %v)", ErrInvalidFix, f.Latitude, f.Longitude)
	case f.Latitude < -90 || f.Latitude > 90:
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidFix, f.Latitude)
	case f.Longitude < -180 || f.Longitude > 180:
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidFix, f.Longitude)
	case math.IsNaN(f.HorizontalAccuracy) || math.IsInf(f.HorizontalAccuracy, 0):
		return fmt.Errorf("%w: non-finite accuracy", ErrInvalidFix)
	case f.HorizontalAccuracy < 0:
		return fmt.Errorf("%w: negative accuracy %v", ErrInvalidFix, f.HorizontalAccuracy)
	}
	return nil
}

// TrackPoint is an accepted, smoothed point on a session path.
type TrackPoint struct {
	Latitude         float64  `json:"latitude"`
	Longitude        float64  `json:"longitude"`
	Accuracy         *float64 `json:"accuracy,omitempty"`
	TimestampSeconds int      `json:"timestampSeconds"`
}

// Path is the ordered list of accepted points for one session.
type Path []TrackPoint

// Length returns the great-circle length of the path in metres.
func (p Path) Length() float64 {
	var total float64
	for i := 1; i < len(p); i++ {
		total += haversineMeters(p[i-1].Latitude, p[i-1].Longitude, p[i].Latitude, p[i].Longitude)
	}
	return total
}

// RoundCoordinate rounds v to the given number of decimal places.
func RoundCoordinate(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// haversineMeters calculates the great-circle distance between two points.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0 // Earth radius m
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
