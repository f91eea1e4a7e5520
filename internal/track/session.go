package track

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaunagostinho/fieldtrack/internal/kalman"
	"gonum.org/v1/gonum/stat"
)

// DefaultPrecision is the number of decimal places kept for smoothed
// coordinates.
const DefaultPrecision = 6

// ErrSessionStopped is returned by Record after Stop.
var ErrSessionStopped = errors.New("track: session stopped")

// SessionConfig holds the tunables captured when a session starts.
type SessionConfig struct {
	Name  string `json:"name"`
	Notes string `json:"notes"`

	ProcessNoise         float64 `json:"processNoise"`
	BaseMeasurementNoise float64 `json:"baseMeasurementNoise"`
	MinDistanceMeters    float64 `json:"minDistanceMeters"`
	Precision            int     `json:"precision"`

	// Now overrides the wall clock for StartedAt/StoppedAt.
	Now func() time.Time `json:"-"`
}

// Observation is the outcome of recording one fix.
type Observation struct {
	Raw       RawFix      `json:"raw"`
	Latitude  float64     `json:"latitude"`
	Longitude float64     `json:"longitude"`
	LatGain   float64     `json:"latGain"`
	LngGain   float64     `json:"lngGain"`
	Accepted  bool        `json:"accepted"`
	Point     *TrackPoint `json:"point,omitempty"`
}

// Summary describes a session for listings and persistence.
type Summary struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Notes          string     `json:"notes"`
	StartedAt      time.Time  `json:"startedAt"`
	StoppedAt      *time.Time `json:"stoppedAt,omitempty"`
	Recording      bool       `json:"recording"`
	FixesSeen      int        `json:"fixesSeen"`
	Accepted       int        `json:"accepted"`
	Rejected       int        `json:"rejected"`
	Invalid        int        `json:"invalid"`
	DistanceMeters float64    `json:"distanceMeters"`
	AccuracyMean   float64    `json:"accuracyMean"`
	AccuracyStdDev float64    `json:"accuracyStdDev"`
}

// Session owns the filter pair, gate and path for one recording. It is
// driven by a single producer and is not safe for concurrent use; callers
// that share a Session across goroutines must serialize access.
type Session struct {
	id        string
	cfg       SessionConfig
	startedAt time.Time
	stoppedAt time.Time
	stopped   bool

	lat  *kalman.Filter
	lng  *kalman.Filter
	gate Gate

	path         Path
	firstMs      int64
	lastObserved *Observation

	fixes, rejected, invalid int
}

// NewSession starts a session with fresh, uninitialized filters. Zero
// noise values select the kalman defaults; a non-positive distance selects
// DefaultMinDistance.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.ProcessNoise == 0 {
		cfg.ProcessNoise = kalman.DefaultProcessNoise
	}
	if cfg.BaseMeasurementNoise == 0 {
		cfg.BaseMeasurementNoise = kalman.DefaultBaseMeasurementNoise
	}
	if cfg.Precision <= 0 {
		cfg.Precision = DefaultPrecision
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	lat, err := kalman.New(cfg.ProcessNoise, cfg.BaseMeasurementNoise)
	if err != nil {
		return nil, fmt.Errorf("track: latitude filter: %w", err)
	}
	lng, err := kalman.New(cfg.ProcessNoise, cfg.BaseMeasurementNoise)
	if err != nil {
		return nil, fmt.Errorf("track: longitude filter: %w", err)
	}

	gate := NewGate(cfg.MinDistanceMeters)
	cfg.MinDistanceMeters = gate.MinDistanceMeters

	return &Session{
		id:        uuid.NewString(),
		cfg:       cfg,
		startedAt: cfg.Now().UTC(),
		lat:       lat,
		lng:       lng,
		gate:      gate,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Config returns the settings the session was started with.
func (s *Session) Config() SessionConfig { return s.cfg }

// Record validates fix, advances both filters, and appends the smoothed
// point to the path if the gate accepts it. Filter state advances whether
// or not the point is accepted.
func (s *Session) Record(fix RawFix) (Observation, error) {
	if s.stopped {
		return Observation{}, ErrSessionStopped
	}
	if err := fix.Validate(); err != nil {
		s.invalid++
		return Observation{}, err
	}

	rawLat, err := s.lat.Filter(fix.Latitude, fix.HorizontalAccuracy)
	if err != nil {
		s.invalid++
		return Observation{}, err
	}
	rawLng, err := s.lng.Filter(fix.Longitude, fix.HorizontalAccuracy)
	if err != nil {
		// Latitude has already advanced; the pair stays usable because the
		// next valid fix updates both axes again.
		s.invalid++
		return Observation{}, err
	}
	s.fixes++

	obs := Observation{
		Raw:       fix,
		Latitude:  RoundCoordinate(rawLat, s.cfg.Precision),
		Longitude: RoundCoordinate(rawLng, s.cfg.Precision),
		LatGain:   s.lat.LastGain(),
		LngGain:   s.lng.LastGain(),
	}

	last := s.LastAccepted()
	if s.gate.ShouldAccept(obs.Latitude, obs.Longitude, last) {
		pt := TrackPoint{
			Latitude:  obs.Latitude,
			Longitude: obs.Longitude,
		}
		if fix.HorizontalAccuracy > 0 {
			acc := fix.HorizontalAccuracy
			pt.Accuracy = &acc
		}
		if last == nil {
			s.firstMs = fix.CapturedAtEpochMs
		} else {
			pt.TimestampSeconds = int((fix.CapturedAtEpochMs - s.firstMs) / 1000)
			if pt.TimestampSeconds < last.TimestampSeconds {
				pt.TimestampSeconds = last.TimestampSeconds
			}
		}
		s.path = append(s.path, pt)
		obs.Accepted = true
		obs.Point = &pt
	} else {
		s.rejected++
	}

	s.lastObserved = &obs
	return obs, nil
}

// Stop freezes the session. It is safe to call more than once.
func (s *Session) Stop() Summary {
	if !s.stopped {
		s.stopped = true
		s.stoppedAt = s.cfg.Now().UTC()
	}
	return s.Summary()
}

// Stopped reports whether Stop has been called.
func (s *Session) Stopped() bool { return s.stopped }

// Path returns a copy of the accepted points.
func (s *Session) Path() Path {
	out := make(Path, len(s.path))
	copy(out, s.path)
	return out
}

// LastAccepted returns the most recently accepted point, or nil.
func (s *Session) LastAccepted() *TrackPoint {
	if len(s.path) == 0 {
		return nil
	}
	pt := s.path[len(s.path)-1]
	return &pt
}

// LastObserved returns the most recent observation, accepted or not.
func (s *Session) LastObserved() *Observation {
	if s.lastObserved == nil {
		return nil
	}
	obs := *s.lastObserved
	return &obs
}

// Summary returns the current counters and path statistics.
func (s *Session) Summary() Summary {
	sum := Summary{
		ID:             s.id,
		Name:           s.cfg.Name,
		Notes:          s.cfg.Notes,
		StartedAt:      s.startedAt,
		Recording:      !s.stopped,
		FixesSeen:      s.fixes,
		Accepted:       len(s.path),
		Rejected:       s.rejected,
		Invalid:        s.invalid,
		DistanceMeters: s.path.Length(),
	}
	if s.stopped {
		stopped := s.stoppedAt
		sum.StoppedAt = &stopped
	}

	var acc []float64
	for _, p := range s.path {
		if p.Accuracy != nil {
			acc = append(acc, *p.Accuracy)
		}
	}
	if len(acc) > 0 {
		sum.AccuracyMean = stat.Mean(acc, nil)
	}
	if len(acc) > 1 {
		sum.AccuracyStdDev = stat.StdDev(acc, nil)
	}
	return sum
}
