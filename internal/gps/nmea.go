package gps

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// DefaultUERE is the user equivalent range error, in meters, used to turn
// HDOP into a horizontal accuracy when the receiver does not emit GST.
const DefaultUERE = 5.0

// ErrNoFix is returned by Read when no position sentence arrived since the
// previous call. The last fix is returned alongside it for display only.
var ErrNoFix = errors.New("gps: no new fix")

// NMEAProvider reads standard NMEA 0183 sentences from a UART GPS.
// Compatible with u-blox NEO-M8N and any standard NMEA GPS.
type NMEAProvider struct {
	portPath string
	baudRate int
	uere     float64
	port     serial.Port
	scanner  *bufio.Scanner
	mu       sync.Mutex
	last     Data

	// GST error ellipse, valid only for the Read that parsed it.
	sigmaLat, sigmaLon float64
	gstFresh           bool

	now func() time.Time
}

// NMEAConfig holds configuration for the NMEA GPS provider.
type NMEAConfig struct {
	PortPath string  `yaml:"port_path" json:"portPath"`
	BaudRate int     `yaml:"baud_rate" json:"baudRate"`
	UERE     float64 `yaml:"uere" json:"uere"`
}

// NewNMEA creates a new NMEA GPS provider.
func NewNMEA(cfg NMEAConfig) *NMEAProvider {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600 // Standard NMEA default
	}
	if cfg.UERE <= 0 {
		cfg.UERE = DefaultUERE
	}
	return &NMEAProvider{
		portPath: cfg.PortPath,
		baudRate: cfg.BaudRate,
		uere:     cfg.UERE,
		now:      time.Now,
	}
}

// newNMEAFromReader wires a provider to an already-open sentence stream.
func newNMEAFromReader(r io.Reader, uere float64) *NMEAProvider {
	n := NewNMEA(NMEAConfig{UERE: uere})
	n.scanner = bufio.NewScanner(r)
	return n
}

func (n *NMEAProvider) Name() string { return "NMEA GPS" }

func (n *NMEAProvider) Connect() error {
	mode := &serial.Mode{
		BaudRate: n.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(n.portPath, mode)
	if err != nil {
		return fmt.Errorf("gps: failed to open %s: %w", n.portPath, err)
	}
	if err := port.SetReadTimeout(200 * time.Millisecond); err != nil {
		port.Close()
		return fmt.Errorf("gps: failed to set timeout: %w", err)
	}
	n.mu.Lock()
	n.port = port
	n.scanner = bufio.NewScanner(port)
	n.mu.Unlock()
	log.Printf("[gps] connected to %s at %d baud", n.portPath, n.baudRate)
	return nil
}

func (n *NMEAProvider) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.port != nil {
		err := n.port.Close()
		n.port = nil
		n.scanner = nil
		return err
	}
	return nil
}

// Read reads NMEA sentences until we have a complete fix update, or timeout.
// The returned Data is a copy owned by the caller.
func (n *NMEAProvider) Read() (*Data, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.scanner == nil {
		out := n.last
		return &out, fmt.Errorf("gps: not connected")
	}

	n.gstFresh = false
	gotRMC := false
	gotGGA := false
	for i := 0; i < 20 && !(gotRMC && gotGGA); i++ {
		if !n.scanner.Scan() {
			// Repeated empty reads on a quiet port stop the scanner for good.
			if errors.Is(n.scanner.Err(), io.ErrNoProgress) && n.port != nil {
				n.scanner = bufio.NewScanner(n.port)
			}
			break
		}
		switch n.parseLine(n.scanner.Text()) {
		case "RMC":
			gotRMC = true
		case "GGA":
			gotGGA = true
		}
	}

	if !gotRMC && !gotGGA {
		out := n.last
		return &out, ErrNoFix
	}
	n.last.CapturedAt = n.now()
	n.last.Accuracy = n.accuracy()
	out := n.last
	return &out, nil
}

// parseLine applies one sentence to the running fix and returns its type,
// or "" if the line was ignored.
func (n *NMEAProvider) parseLine(line string) string {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") || !validateNMEAChecksum(line) {
		return ""
	}
	parts := splitNMEA(line)
	if len(parts[0]) < 5 {
		return ""
	}
	// Talker IDs vary (GP, GN, GL, GA); the sentence type is what matters.
	kind := parts[0][2:]
	switch kind {
	case "RMC":
		n.parseRMC(parts)
	case "GGA":
		n.parseGGA(parts)
	case "GST":
		n.parseGST(parts)
	default:
		return ""
	}
	return kind
}

func (n *NMEAProvider) parseRMC(parts []string) {
	// $GPRMC,hhmmss.ss,A,llll.ll,a,yyyyy.yy,a,x.x,x.x,ddmmyy,x.x,a*hh
	if len(parts) < 10 {
		return
	}

	n.last.Timestamp = parts[1]
	n.last.Valid = parts[2] == "A"

	if n.last.Valid {
		n.last.Latitude = parseNMEACoord(parts[3], parts[4])
		n.last.Longitude = parseNMEACoord(parts[5], parts[6])

		if spd, err := strconv.ParseFloat(parts[7], 64); err == nil {
			n.last.Speed = spd * 1.852 // Knots to km/h
		}
		if hdg, err := strconv.ParseFloat(parts[8], 64); err == nil {
			n.last.Heading = hdg
		}
	}
}

func (n *NMEAProvider) parseGGA(parts []string) {
	// $GPGGA,hhmmss.ss,llll.ll,a,yyyyy.yy,a,x,xx,x.x,x.x,M,x.x,M,x.x,xxxx*hh
	if len(parts) < 11 {
		return
	}

	if fix, err := strconv.Atoi(parts[6]); err == nil {
		n.last.FixQuality = fix
		if fix == 0 {
			n.last.Valid = false
		}
	}
	if sats, err := strconv.Atoi(parts[7]); err == nil {
		n.last.Satellites = sats
	}
	if hdop, err := strconv.ParseFloat(parts[8], 64); err == nil {
		n.last.HDOP = hdop
	}
	if alt, err := strconv.ParseFloat(parts[9], 64); err == nil {
		n.last.Altitude = alt
	}
}

func (n *NMEAProvider) parseGST(parts []string) {
	// $GPGST,hhmmss.ss,rms,smaj,smin,orient,sigLat,sigLon,sigAlt*hh
	if len(parts) < 8 {
		return
	}
	sLat, errLat := strconv.ParseFloat(parts[6], 64)
	sLon, errLon := strconv.ParseFloat(parts[7], 64)
	if errLat != nil || errLon != nil {
		return
	}
	n.sigmaLat = sLat
	n.sigmaLon = sLon
	n.gstFresh = true
}

// accuracy prefers the GST error ellipse (2D RMS) and falls back to
// HDOP scaled by UERE.
func (n *NMEAProvider) accuracy() float64 {
	if n.gstFresh {
		return math.Sqrt(n.sigmaLat*n.sigmaLat + n.sigmaLon*n.sigmaLon)
	}
	if n.last.HDOP > 0 {
		return n.last.HDOP * n.uere
	}
	return 0
}

// splitNMEA splits a sentence and strips the checksum suffix.
func splitNMEA(line string) []string {
	if idx := strings.Index(line, "*"); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimPrefix(line, "$")
	return strings.Split(line, ",")
}

// parseNMEACoord converts NMEA ddmm.mmmm format to decimal degrees.
func parseNMEACoord(raw, dir string) float64 {
	if raw == "" || dir == "" {
		return 0
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	deg := math.Floor(val / 100)
	min := val - deg*100
	result := deg + min/60

	if dir == "S" || dir == "W" {
		result = -result
	}
	return result
}

// validateNMEAChecksum checks the XOR checksum after *.
func validateNMEAChecksum(line string) bool {
	idx := strings.Index(line, "*")
	if idx < 0 || idx+3 > len(line) {
		return false
	}
	body := line[1:idx] // Between $ and *
	var calc byte
	for i := 0; i < len(body); i++ {
		calc ^= body[i]
	}
	expected, err := strconv.ParseUint(line[idx+1:idx+3], 16, 8)
	if err != nil {
		return false
	}
	return byte(expected) == calc
}
