package gps

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	rmcGP   = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"
	ggaGP   = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	gstGN   = "$GNGST,123519.00,2.4,3.1,2.0,45.0,3.0,4.0,5.5*74"
	rmcGN   = "$GNRMC,101010.00,A,2836.834,N,07712.540,E,0.5,90.0,010326,,,A*79"
	ggaGN   = "$GNGGA,101010.00,2836.834,N,07712.540,E,1,10,1.2,216.0,M,-35.0,M,,*5D"
	ggaNoFx = "$GPGGA,123519,4807.038,N,01131.000,E,0,00,99.9,,M,,M,,*45"
)

func stream(lines ...string) *strings.Reader {
	return strings.NewReader(strings.Join(lines, "\r\n") + "\r\n")
}

func TestValidateNMEAChecksum(t *testing.T) {
	assert.True(t, validateNMEAChecksum(rmcGP))
	assert.True(t, validateNMEAChecksum(gstGN))
	assert.False(t, validateNMEAChecksum(strings.Replace(rmcGP, "*6A", "*6B", 1)))
	assert.False(t, validateNMEAChecksum("$GPRMC,123519,A"))
	assert.False(t, validateNMEAChecksum("$GPRMC*Z"))
}

func TestParseNMEACoord(t *testing.T) {
	assert.InDelta(t, 48.1173, parseNMEACoord("4807.038", "N"), 1e-9)
	assert.InDelta(t, -11.516666667, parseNMEACoord("01131.000", "W"), 1e-9)
	assert.Zero(t, parseNMEACoord("", "N"))
	assert.Zero(t, parseNMEACoord("abc", "N"))
}

func TestReadAccuracyFromHDOP(t *testing.T) {
	n := newNMEAFromReader(stream(rmcGP, ggaGP), DefaultUERE)
	captured := time.Date(2026, 3, 1, 12, 35, 19, 0, time.UTC)
	n.now = func() time.Time { return captured }

	d, err := n.Read()
	require.NoError(t, err)
	assert.True(t, d.Valid)
	assert.InDelta(t, 48.1173, d.Latitude, 1e-9)
	assert.InDelta(t, 11.516666667, d.Longitude, 1e-9)
	assert.InDelta(t, 22.4*1.852, d.Speed, 1e-9)
	assert.Equal(t, 8, d.Satellites)
	assert.InDelta(t, 4.5, d.Accuracy, 1e-9)
	assert.Equal(t, captured, d.CapturedAt)
}

func TestReadPrefersGSTThenFallsBack(t *testing.T) {
	n := newNMEAFromReader(stream(gstGN, rmcGN, ggaGN, rmcGN, ggaGN), DefaultUERE)

	d, err := n.Read()
	require.NoError(t, err)
	assert.InDelta(t, 28.6139, d.Latitude, 1e-9)
	assert.InDelta(t, 77.209, d.Longitude, 1e-9)
	assert.InDelta(t, 5.0, d.Accuracy, 1e-9)

	d, err = n.Read()
	require.NoError(t, err)
	assert.InDelta(t, 6.0, d.Accuracy, 1e-9)
}

func TestReadSkipsCorruptSentences(t *testing.T) {
	bad := strings.Replace(rmcGN, "2836.834", "2936.834", 1)
	n := newNMEAFromReader(stream("garbage", bad, rmcGP, ggaGP), 2)

	d, err := n.Read()
	require.NoError(t, err)
	assert.InDelta(t, 48.1173, d.Latitude, 1e-9)
	assert.InDelta(t, 1.8, d.Accuracy, 1e-9)
}

func TestReadNoFixMarksInvalid(t *testing.T) {
	n := newNMEAFromReader(stream(rmcGP, ggaNoFx), DefaultUERE)
	d, err := n.Read()
	require.NoError(t, err)
	assert.False(t, d.Valid)
	assert.Equal(t, 0, d.FixQuality)
}

func TestReadReturnsCopy(t *testing.T) {
	n := newNMEAFromReader(stream(rmcGP, ggaGP), DefaultUERE)
	d, err := n.Read()
	require.NoError(t, err)
	d.Latitude = 0
	assert.InDelta(t, 48.1173, n.last.Latitude, 1e-9)
}

func TestReadWithoutNewSentencesReportsNoFix(t *testing.T) {
	n := newNMEAFromReader(stream(rmcGP, ggaGP), DefaultUERE)
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	d, err := n.Read()
	require.NoError(t, err)
	assert.True(t, d.Valid)
	first := d.CapturedAt

	for i := 0; i < 2; i++ {
		d, err = n.Read()
		assert.ErrorIs(t, err, ErrNoFix)
		require.NotNil(t, d)
		assert.Equal(t, first, d.CapturedAt)
	}
}

func TestReadNotConnected(t *testing.T) {
	n := NewNMEA(NMEAConfig{PortPath: "/dev/null-gps"})
	_, err := n.Read()
	assert.Error(t, err)
	assert.Equal(t, 9600, n.baudRate)
	assert.Equal(t, DefaultUERE, n.uere)
}

func TestDemoGPSWalksAndPauses(t *testing.T) {
	d := NewDemoGPS()
	first, err := d.Read()
	require.NoError(t, err)
	assert.True(t, first.Valid)
	assert.Greater(t, first.Accuracy, 0.0)

	var last *Data
	for i := 1; i < demoWalkSeconds; i++ {
		last, err = d.Read()
		require.NoError(t, err)
	}
	// ~83 m walked along the diagonal
	assert.Greater(t, last.Latitude-first.Latitude, 0.0004)
	assert.Equal(t, time.Duration(demoWalkSeconds-1)*time.Second, last.CapturedAt.Sub(first.CapturedAt))

	paused, err := d.Read()
	require.NoError(t, err)
	assert.Zero(t, paused.Speed)
}
