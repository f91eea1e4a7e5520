package kalman

import (
	"errors"
	"fmt"
	"math"
)

// Default noise terms for the adaptive filter used while recording.
const (
	DefaultProcessNoise         = 0.001
	DefaultBaseMeasurementNoise = 0.00001

	// initialCovariance is the uncertainty assigned to the seed sample.
	initialCovariance = 1.0
)

var (
	// ErrInvalidMeasurement is returned for NaN or infinite measurements.
	// The filter state is left untouched.
	ErrInvalidMeasurement = errors.New("kalman: invalid measurement")
	// ErrDegenerateGain is returned when the gain denominator is not a
	// positive finite number. Unreachable with a validated configuration.
	ErrDegenerateGain = errors.New("kalman: degenerate gain")
)

// State is a snapshot of a filter's recursion variables.
type State struct {
	Initialized     bool    `json:"initialized"`
	Estimate        float64 `json:"estimate"`
	ErrorCovariance float64 `json:"errorCovariance"`
	Gain            float64 `json:"gain"`
}

// Filter is a scalar Kalman filter over one coordinate axis. The state
// transition is the identity; measurement noise is scaled per call by the
// live accuracy figure reported with the sample.
//
// A Filter is owned by exactly one session and is not safe for concurrent
// use.
type Filter struct {
	processNoise         float64
	baseMeasurementNoise float64

	initialized bool
	estimate    float64
	covariance  float64
	gain        float64
}

// New creates an uninitialized filter. processNoise must be >= 0 and
// baseMeasurementNoise must be > 0.
func New(processNoise, baseMeasurementNoise float64) (*Filter, error) {
	if math.IsNaN(processNoise) || math.IsInf(processNoise, 0) || processNoise < 0 {
		return nil, fmt.Errorf("kalman: process noise must be a finite value >= 0, got %v", processNoise)
	}
	if math.IsNaN(baseMeasurementNoise) || math.IsInf(baseMeasurementNoise, 0) || baseMeasurementNoise <= 0 {
		return nil, fmt.Errorf("kalman: base measurement noise must be a finite value > 0, got %v", baseMeasurementNoise)
	}
	return &Filter{
		processNoise:         processNoise,
		baseMeasurementNoise: baseMeasurementNoise,
	}, nil
}

// NewDefault creates a filter with DefaultProcessNoise and
// DefaultBaseMeasurementNoise.
func NewDefault() *Filter {
	return &Filter{
		processNoise:         DefaultProcessNoise,
		baseMeasurementNoise: DefaultBaseMeasurementNoise,
	}
}

// Filter feeds one measurement through the filter and returns the new
// estimate. accuracy is the reported horizontal accuracy for the sample;
// a value <= 0 (or non-finite) means none is available and the base
// measurement noise is used.
//
// The first call seeds the filter and returns measurement unchanged.
func (f *Filter) Filter(measurement, accuracy float64) (float64, error) {
	if math.IsNaN(measurement) || math.IsInf(measurement, 0) {
		return f.estimate, fmt.Errorf("%w: %v", ErrInvalidMeasurement, measurement)
	}

	if !f.initialized {
		f.estimate = measurement
		f.covariance = initialCovariance
		f.gain = 1
		f.initialized = true
		return f.estimate, nil
	}

	predicted := f.estimate
	predictedCov := f.covariance + f.processNoise

	denom := predictedCov + f.measurementNoise(accuracy)
	if denom <= 0 || math.IsNaN(denom) || math.IsInf(denom, 0) {
		return f.estimate, fmt.Errorf("%w: denominator %v", ErrDegenerateGain, denom)
	}
	k := predictedCov / denom

	f.estimate = predicted + k*(measurement-predicted)
	f.covariance = (1 - k) * predictedCov
	f.gain = k
	return f.estimate, nil
}

// Smooth is the non-adaptive form: every sample uses the base noise.
func (f *Filter) Smooth(measurement float64) (float64, error) {
	return f.Filter(measurement, 0)
}

// measurementNoise scales the base noise by the square of the reported
// accuracy, which is a standard deviation.
func (f *Filter) measurementNoise(accuracy float64) float64 {
	if accuracy <= 0 || math.IsNaN(accuracy) || math.IsInf(accuracy, 0) {
		return f.baseMeasurementNoise
	}
	return f.baseMeasurementNoise * accuracy * accuracy
}

// Initialized reports whether the filter has seen its first sample.
func (f *Filter) Initialized() bool { return f.initialized }

// Estimate returns the current estimate, or 0 before the first sample.
func (f *Filter) Estimate() float64 { return f.estimate }

// LastGain returns the Kalman gain applied by the most recent update.
func (f *Filter) LastGain() float64 { return f.gain }

// State returns a snapshot of the recursion variables.
func (f *Filter) State() State {
	return State{
		Initialized:     f.initialized,
		Estimate:        f.estimate,
		ErrorCovariance: f.covariance,
		Gain:            f.gain,
	}
}
