package server

import (
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/shaunagostinho/fieldtrack/internal/gps"
	"github.com/shaunagostinho/fieldtrack/internal/kalman"
	"github.com/shaunagostinho/fieldtrack/internal/track"
	"gopkg.in/yaml.v3"
)

// Config holds all recorder configuration.
type Config struct {
	mu sync.RWMutex

	// Location source
	GPS GPSConfig `yaml:"gps" json:"gps"`

	// Smoothing and motion gating, captured at session start
	Filter    FilterConfig    `yaml:"filter" json:"filter"`
	Gate      GateConfig      `yaml:"gate" json:"gate"`
	Recording RecordingConfig `yaml:"recording" json:"recording"`

	// Session database
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Raw fix CSV log
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type GPSConfig struct {
	Type     string  `yaml:"type" json:"type"`          // "nmea" or "demo" or "disabled"
	PortPath string  `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyGPS
	BaudRate int     `yaml:"baud_rate" json:"baudRate"`
	UERE     float64 `yaml:"uere" json:"uere"` // meters per unit HDOP
}

// FilterConfig holds the per-axis Kalman filter noise terms.
type FilterConfig struct {
	ProcessNoise         float64 `yaml:"process_noise" json:"processNoise"`
	BaseMeasurementNoise float64 `yaml:"base_measurement_noise" json:"baseMeasurementNoise"`
}

// GateConfig holds the motion gate threshold.
type GateConfig struct {
	MinDistanceM float64 `yaml:"min_distance_m" json:"minDistanceM"`
}

type RecordingConfig struct {
	SampleIntervalMs int `yaml:"sample_interval_ms" json:"sampleIntervalMs"`
	Precision        int `yaml:"precision" json:"precision"` // decimal places kept
}

type StorageConfig struct {
	Path string `yaml:"path" json:"path"`
}

type LoggingConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Path     string `yaml:"path" json:"path"`
	Interval int    `yaml:"interval_ms" json:"intervalMs"` // ms between rejected-fix rows
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		GPS: GPSConfig{
			Type:     "demo",
			PortPath: "/dev/ttyGPS",
			BaudRate: 9600,
			UERE:     gps.DefaultUERE,
		},
		Filter: FilterConfig{
			ProcessNoise:         kalman.DefaultProcessNoise,
			BaseMeasurementNoise: kalman.DefaultBaseMeasurementNoise,
		},
		Gate: GateConfig{
			MinDistanceM: track.DefaultMinDistance,
		},
		Recording: RecordingConfig{
			SampleIntervalMs: 1000,
			Precision:        track.DefaultPrecision,
		},
		Storage: StorageConfig{
			Path: "/var/lib/fieldtrack/sessions.db",
		},
		Logging: LoggingConfig{
			Enabled:  false,
			Path:     "/var/log/fieldtrack",
			Interval: 1000,
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		log.Printf("[config] %v, using default filter and gate settings", err)
		def := DefaultConfig()
		cfg.Filter = def.Filter
		cfg.Gate = def.Gate
		cfg.Recording = def.Recording
	}
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		val = strings.Trim(val, `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: GPS_TYPE, GPS_PORT, GPS_BAUD, GPS_UERE, FILTER_PROCESS_NOISE,
// FILTER_BASE_NOISE, GATE_MIN_DISTANCE_M, SAMPLE_INTERVAL_MS, STORE_PATH,
// LISTEN_ADDR, LOG_ENABLED, LOG_PATH, LOG_INTERVAL_MS
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GPS_TYPE"); v != "" {
		c.GPS.Type = v
	}
	if v := os.Getenv("GPS_PORT"); v != "" {
		c.GPS.PortPath = v
	}
	if v := os.Getenv("GPS_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.GPS.BaudRate = n
		}
	}
	if v := os.Getenv("GPS_UERE"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.GPS.UERE = n
		}
	}
	if v := os.Getenv("FILTER_PROCESS_NOISE"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.Filter.ProcessNoise = n
		}
	}
	if v := os.Getenv("FILTER_BASE_NOISE"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.Filter.BaseMeasurementNoise = n
		}
	}
	if v := os.Getenv("GATE_MIN_DISTANCE_M"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.Gate.MinDistanceM = n
		}
	}
	if v := os.Getenv("SAMPLE_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Recording.SampleIntervalMs = n
		}
	}
	if v := os.Getenv("STORE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	// Logging
	if v := os.Getenv("LOG_ENABLED"); v != "" {
		c.Logging.Enabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("LOG_PATH"); v != "" {
		c.Logging.Path = v
	}
	if v := os.Getenv("LOG_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Logging.Interval = n
		}
	}
}

// Validate checks the settings that feed a new session.
func (c *Config) Validate() error {
	q, r := c.Filter.ProcessNoise, c.Filter.BaseMeasurementNoise
	if math.IsNaN(q) || math.IsInf(q, 0) || q < 0 {
		return fmt.Errorf("config: filter.process_noise must be >= 0, got %v", q)
	}
	if math.IsNaN(r) || math.IsInf(r, 0) || r <= 0 {
		return fmt.Errorf("config: filter.base_measurement_noise must be > 0, got %v", r)
	}
	if d := c.Gate.MinDistanceM; math.IsNaN(d) || d < 0 {
		return fmt.Errorf("config: gate.min_distance_m must be >= 0, got %v", d)
	}
	if c.Recording.SampleIntervalMs < 0 {
		return fmt.Errorf("config: recording.sample_interval_ms must be >= 0, got %d", c.Recording.SampleIntervalMs)
	}
	if p := c.Recording.Precision; p < 0 || p > 12 {
		return fmt.Errorf("config: recording.precision must be in [0, 12], got %d", p)
	}
	return nil
}

// SessionConfig builds the settings for a new recording session.
func (c *Config) SessionConfig(name, notes string) track.SessionConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return track.SessionConfig{
		Name:                 name,
		Notes:                notes,
		ProcessNoise:         c.Filter.ProcessNoise,
		BaseMeasurementNoise: c.Filter.BaseMeasurementNoise,
		MinDistanceMeters:    c.Gate.MinDistanceM,
		Precision:            c.Recording.Precision,
	}
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	path := c.path
	if path == "" {
		path = "/etc/fieldtrack/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved. The merged result is validated before it
// replaces the current settings; a running session keeps the settings it
// started with.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	candidate := &Config{}
	if err := json.Unmarshal(merged, candidate); err != nil {
		return fmt.Errorf("unmarshal merged config: %w", err)
	}
	if err := candidate.Validate(); err != nil {
		return err
	}

	c.GPS = candidate.GPS
	c.Filter = candidate.Filter
	c.Gate = candidate.Gate
	c.Recording = candidate.Recording
	c.Storage = candidate.Storage
	c.Logging = candidate.Logging
	c.Server = candidate.Server
	return nil
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
