package logger

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shaunagostinho/fieldtrack/internal/track"
)

// Logger records every observation (raw fix, smoothed point, gate
// decision) to CSV files with automatic rotation. It is a diagnostic log
// for tuning the filter; the session store is the record of truth.
type Logger struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool

	file   *os.File
	writer *csv.Writer
	lastTs time.Time
	rows   int

	now func() time.Time
}

// Config holds logger configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
}

const (
	maxRowsPerFile = 100_000 // Rotate after 100k rows (~28 hrs at 1 Hz)
)

var csvHeader = []string{
	"timestamp", "session_id",
	"raw_lat", "raw_lng", "accuracy_m", "captured_ms",
	"lat", "lng", "lat_gain", "lng_gain",
	"accepted", "point_t_s",
}

// New creates a new Logger. An interval of 0 records every observation.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/fieldtrack"
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 0 {
		interval = 0
	}
	return &Logger{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
		now:      time.Now,
	}
}

// SetEnabled allows toggling logging at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether logging is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Record writes one observation if the minimum interval has elapsed.
// Accepted points are always written regardless of the interval.
func (l *Logger) Record(sessionID string, obs track.Observation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	now := l.now()
	if !obs.Accepted && now.Sub(l.lastTs) < l.interval {
		return
	}
	l.lastTs = now

	if l.writer == nil || l.rows >= maxRowsPerFile {
		if err := l.rotateFile(now); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
	}

	if err := l.writer.Write(buildRow(now, sessionID, obs)); err != nil {
		log.Printf("[logger] write failed: %v", err)
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("fixes_%s.csv", now.Format("2006-01-02_150405.000"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func buildRow(ts time.Time, sessionID string, o track.Observation) []string {
	row := make([]string, len(csvHeader))
	row[0] = ts.UTC().Format(time.RFC3339Nano)
	row[1] = sessionID
	row[2] = strconv.FormatFloat(o.Raw.Latitude, 'f', 7, 64)
	row[3] = strconv.FormatFloat(o.Raw.Longitude, 'f', 7, 64)
	row[4] = strconv.FormatFloat(o.Raw.HorizontalAccuracy, 'f', 1, 64)
	row[5] = strconv.FormatInt(o.Raw.CapturedAtEpochMs, 10)
	row[6] = strconv.FormatFloat(o.Latitude, 'f', 6, 64)
	row[7] = strconv.FormatFloat(o.Longitude, 'f', 6, 64)
	row[8] = strconv.FormatFloat(o.LatGain, 'f', 4, 64)
	row[9] = strconv.FormatFloat(o.LngGain, 'f', 4, 64)
	row[10] = boolStr(o.Accepted)
	if o.Point != nil {
		row[11] = strconv.Itoa(o.Point.TimestampSeconds)
	}
	return row
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
