package gps

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	demoWalkSeconds  = 60
	demoPauseSeconds = 30
	demoWalkSpeed    = 1.4 // m/s
	metersPerDegree  = 111320.0
)

// DemoGPS simulates a surveyor walking a straight transect with regular
// stops, with Gaussian position noise. Each Read advances one second of
// virtual time.
type DemoGPS struct {
	mu      sync.Mutex
	rng     *rand.Rand
	t       int
	walked  float64 // meters along the transect
	start   time.Time
	originL float64
	originG float64
}

// NewDemoGPS returns a demo source with a fixed seed so runs are
// repeatable.
func NewDemoGPS() *DemoGPS {
	return &DemoGPS{
		rng:     rand.New(rand.NewSource(1)),
		start:   time.Now(),
		originL: 28.6139, // New Delhi
		originG: 77.2090,
	}
}

func (d *DemoGPS) Name() string   { return "Demo GPS (Simulated)" }
func (d *DemoGPS) Connect() error { return nil }
func (d *DemoGPS) Close() error   { return nil }

func (d *DemoGPS) Read() (*Data, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	moving := d.t%(demoWalkSeconds+demoPauseSeconds) < demoWalkSeconds
	speed := 0.0
	if moving {
		d.walked += demoWalkSpeed
		speed = demoWalkSpeed * 3.6
	}
	d.t++

	accuracy := 3 + 3*d.rng.Float64()
	noise := accuracy / metersPerDegree
	heading := 45.0
	along := d.walked / metersPerDegree / math.Sqrt2

	return &Data{
		Valid:      true,
		Latitude:   d.originL + along + d.rng.NormFloat64()*noise*0.1,
		Longitude:  d.originG + along + d.rng.NormFloat64()*noise*0.1,
		Accuracy:   accuracy,
		Speed:      speed,
		Heading:    heading,
		Altitude:   216,
		Satellites: 12,
		FixQuality: 1,
		HDOP:       accuracy / DefaultUERE,
		Timestamp:  d.start.Add(time.Duration(d.t) * time.Second).UTC().Format("150405.00"),
		CapturedAt: d.start.Add(time.Duration(d.t) * time.Second),
	}, nil
}
