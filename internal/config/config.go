// Package config loads the agent configuration from a JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Link kinds.
const (
	LinkBLE    = "ble"
	LinkSerial = "serial"
)

// ServerConfig - HTTP/WebSocket server settings
type ServerConfig struct {
	Port           string   `json:"port"`
	WebFilesDir    string   `json:"web_files_dir"`
	AllowedOrigins []string `json:"allowed_origins"`
	MetricsEnabled bool     `json:"metrics_enabled"`
}

// BLEConfig - Bluetooth Low Energy link settings
type BLEConfig struct {
	DeviceNames        []string `json:"device_names"`
	ServiceUUID        string   `json:"service_uuid"`
	CharacteristicUUID string   `json:"characteristic_uuid"`
	ScanTimeout        string   `json:"scan_timeout"`
	ConnectTimeout     string   `json:"connect_timeout"`
	HeartbeatInterval  string   `json:"heartbeat_interval"`
	RetryDelay         string   `json:"retry_delay"`
	RateLimit          float64  `json:"command_rate_limit"`
	RateBurst          int      `json:"command_rate_burst"`
}

// SerialConfig - serial link settings
type SerialConfig struct {
	Port      string  `json:"port"`
	Baud      int     `json:"baud"`
	RateLimit float64 `json:"command_rate_limit"`
	RateBurst int     `json:"command_rate_burst"`
}

// MQTTConfig - MQTT bridge settings
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	Broker      string `json:"broker"` // tcp://IP:PORT
	Username    string `json:"username"`
	Password    string `json:"password"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// LogConfig - logging settings. An empty File logs to stderr.
type LogConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"` // text | json
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// PoiConfig - properties of the controlled poi
type PoiConfig struct {
	LEDs int `json:"leds"`
}

// Config - root structure
type Config struct {
	Link   string       `json:"link"`
	Server ServerConfig `json:"server"`
	BLE    BLEConfig    `json:"ble"`
	Serial SerialConfig `json:"serial"`
	MQTT   MQTTConfig   `json:"mqtt"`
	Log    LogConfig    `json:"log"`
	Poi    PoiConfig    `json:"poi"`

	// File system settings
	ScriptsDir    string `json:"scripts_dir"`
	SchedulesFile string `json:"schedules_file"`
}

// BLEDurations holds the parsed BLE timing settings.
type BLEDurations struct {
	Scan      time.Duration
	Connect   time.Duration
	Heartbeat time.Duration
	Retry     time.Duration
}

// Load reads the file, parses JSON and applies sanitizing, defaults and validation.
// A missing file yields the defaults, environment overrides still apply.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	file, err := os.Open(path)
	switch {
	case err == nil:
		defer file.Close()
		dec := json.NewDecoder(file)
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode json: %w", err)
		}
	case os.IsNotExist(err):
		// nothing to decode, defaults fill in below
	default:
		return nil, fmt.Errorf("failed to open config file '%s': %w", path, err)
	}

	if port := os.Getenv("POI_SERVER_PORT"); port != "" {
		cfg.Server.Port = port
	}
	if dev := os.Getenv("POI_SERIAL_PORT"); dev != "" {
		cfg.Serial.Port = dev
	}

	cfg.sanitize()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) sanitize() {
	c.Link = strings.ToLower(strings.TrimSpace(c.Link))
	c.Server.Port = strings.TrimSpace(c.Server.Port)
	c.Server.WebFilesDir = strings.TrimSpace(c.Server.WebFilesDir)
	c.Serial.Port = strings.TrimSpace(c.Serial.Port)
	c.ScriptsDir = strings.TrimSpace(c.ScriptsDir)
	c.SchedulesFile = strings.TrimSpace(c.SchedulesFile)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	// device names are matched exactly, padding included
}

func (c *Config) setDefaults() {
	if c.Link == "" {
		c.Link = LinkBLE
	}

	// Server Defaults
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.WebFilesDir == "" {
		c.Server.WebFilesDir = "./web"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:8080"}
	}

	// BLE Defaults
	if len(c.BLE.DeviceNames) == 0 {
		c.BLE.DeviceNames = []string{"LEDPoi", "POI"}
	}
	if c.BLE.ScanTimeout == "" {
		c.BLE.ScanTimeout = "30s"
	}
	if c.BLE.ConnectTimeout == "" {
		c.BLE.ConnectTimeout = "7s"
	}
	if c.BLE.HeartbeatInterval == "" {
		c.BLE.HeartbeatInterval = "60s"
	}
	if c.BLE.RetryDelay == "" {
		c.BLE.RetryDelay = "5s"
	}
	if c.BLE.RateLimit == 0 {
		c.BLE.RateLimit = 25.0
	}
	if c.BLE.RateBurst <= 0 {
		c.BLE.RateBurst = 25
	}

	// Serial Defaults
	if c.Serial.Port == "" {
		c.Serial.Port = "/dev/ttyUSB0"
	}
	if c.Serial.Baud <= 0 {
		c.Serial.Baud = 115200
	}
	if c.Serial.RateBurst <= 0 {
		c.Serial.RateBurst = 1
	}

	// MQTT Defaults
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "poi-controller"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "poi"
	}

	// Log Defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 10
	}

	if c.Poi.LEDs <= 0 {
		c.Poi.LEDs = 36
	}

	// File Defaults
	if c.ScriptsDir == "" {
		c.ScriptsDir = "scripts"
	}
	if c.SchedulesFile == "" {
		c.SchedulesFile = "schedules.json"
	}
}

func (c *Config) validate() error {
	if c.Link != LinkBLE && c.Link != LinkSerial {
		return fmt.Errorf("config error: 'link' must be %q or %q, got %q", LinkBLE, LinkSerial, c.Link)
	}
	if c.BLE.RateLimit < 0 {
		return fmt.Errorf("config error: 'command_rate_limit' must be positive")
	}
	if c.Serial.RateLimit < 0 {
		return fmt.Errorf("config error: serial 'command_rate_limit' must not be negative")
	}
	if c.Poi.LEDs > 255 {
		return fmt.Errorf("config error: 'poi.leds' must be at most 255, got %d", c.Poi.LEDs)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("config error: 'log.format' must be text or json, got %q", c.Log.Format)
	}
	if _, err := c.BLEDurations(); err != nil {
		return err
	}
	return nil
}

// BLEDurations parses the BLE timing strings.
func (c *Config) BLEDurations() (BLEDurations, error) {
	var d BLEDurations
	fields := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"scan_timeout", c.BLE.ScanTimeout, &d.Scan},
		{"connect_timeout", c.BLE.ConnectTimeout, &d.Connect},
		{"heartbeat_interval", c.BLE.HeartbeatInterval, &d.Heartbeat},
		{"retry_delay", c.BLE.RetryDelay, &d.Retry},
	}
	for _, f := range fields {
		v, err := time.ParseDuration(f.value)
		if err != nil {
			return d, fmt.Errorf("config error: invalid '%s': %w", f.name, err)
		}
		if v <= 0 {
			return d, fmt.Errorf("config error: '%s' must be positive", f.name)
		}
		*f.dst = v
	}
	return d, nil
}
