// Package config loads the bridge configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// SERVO_BRIDGE_* environment variables. The result is validated before use.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SERVO_BRIDGE_"

// Bus backends.
const (
	BackendMock      = "mock"
	BackendSocketCAN = "socketcan"
	BackendReplay    = "replay"
)

// Config represents the complete bridge configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Bus     BusConfig     `yaml:"bus"`
	Servo   ServoConfig   `yaml:"servo"`
	Session SessionConfig `yaml:"session"`
	Storage StorageConfig `yaml:"storage"`
	Trace   TraceConfig   `yaml:"trace"`
	Log     LogConfig     `yaml:"log"`
	Auth    AuthConfig    `yaml:"auth"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// BusConfig selects and configures the CAN backend.
type BusConfig struct {
	Backend    string `yaml:"backend"`
	Interface  string `yaml:"interface"`
	ReplayFile string `yaml:"replay_file"`
	ReplayLoop bool   `yaml:"replay_loop"`
	RecordFile string `yaml:"record_file"`
}

// ServoConfig holds controller settings.
type ServoConfig struct {
	Count int `yaml:"count"`
}

// SessionConfig holds session loop settings.
type SessionConfig struct {
	TickPeriod   time.Duration `yaml:"tick_period"`
	QueueSize    int           `yaml:"queue_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StorageConfig holds session history settings. An empty DBPath disables
// history.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// TraceConfig sizes the in-memory bus frame trace. Zero disables it.
type TraceConfig struct {
	Frames int `yaml:"frames"`
}

// LogConfig configures the rotating log file. An empty File logs to stderr
// only.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// AuthConfig holds the upgrade token secret. An empty Secret disables
// token checks.
type AuthConfig struct {
	Secret string `yaml:"secret"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Bus: BusConfig{
			Backend:   BackendMock,
			Interface: "can0",
		},
		Servo: ServoConfig{
			Count: 2,
		},
		Session: SessionConfig{
			TickPeriod:   100 * time.Millisecond,
			QueueSize:    32,
			WriteTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			DBPath: "data/sessions.db",
		},
		Trace: TraceConfig{
			Frames: 256,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// not empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFile merges the YAML file at path over c. Unknown keys are errors.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return nil
}

// ApplyEnv applies SERVO_BRIDGE_* overrides read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return "", false
		}
		return v, true
	}

	if v, ok := get("ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := get("ALLOWED_ORIGINS"); ok {
		c.Server.AllowedOrigins = splitList(v)
	}
	if v, ok := get("BACKEND"); ok {
		c.Bus.Backend = v
	}
	if v, ok := get("INTERFACE"); ok {
		c.Bus.Interface = v
	}
	if v, ok := get("REPLAY_FILE"); ok {
		c.Bus.ReplayFile = v
	}
	if v, ok := get("REPLAY_LOOP"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sREPLAY_LOOP: %w", EnvPrefix, err)
		}
		c.Bus.ReplayLoop = b
	}
	if v, ok := get("RECORD_FILE"); ok {
		c.Bus.RecordFile = v
	}
	if err := envInt(get, "SERVO_COUNT", &c.Servo.Count); err != nil {
		return err
	}
	if err := envDuration(get, "TICK_PERIOD", &c.Session.TickPeriod); err != nil {
		return err
	}
	if err := envInt(get, "QUEUE_SIZE", &c.Session.QueueSize); err != nil {
		return err
	}
	if err := envDuration(get, "WRITE_TIMEOUT", &c.Session.WriteTimeout); err != nil {
		return err
	}
	if v, ok := lookup(EnvPrefix + "DB_PATH"); ok {
		// An explicit empty value disables history.
		c.Storage.DBPath = v
	}
	if err := envInt(get, "TRACE_FRAMES", &c.Trace.Frames); err != nil {
		return err
	}
	if v, ok := get("LOG_FILE"); ok {
		c.Log.File = v
	}
	if v, ok := get("AUTH_SECRET"); ok {
		c.Auth.Secret = v
	}

	return nil
}

func envInt(get func(string) (string, bool), key string, dst *int) error {
	v, ok := get(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	*dst = n
	return nil
}

func envDuration(get func(string) (string, bool), key string, dst *time.Duration) error {
	v, ok := get(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr must not be empty")
	}

	switch c.Bus.Backend {
	case BackendMock:
	case BackendSocketCAN:
		if c.Bus.Interface == "" {
			return errors.New("bus.interface is required for the socketcan backend")
		}
	case BackendReplay:
		if c.Bus.ReplayFile == "" {
			return errors.New("bus.replay_file is required for the replay backend")
		}
	default:
		return fmt.Errorf("unknown bus.backend %q (want %s, %s or %s)",
			c.Bus.Backend, BackendMock, BackendSocketCAN, BackendReplay)
	}

	if c.Servo.Count < 2 || c.Servo.Count > 256 {
		return fmt.Errorf("servo.count must be between 2 and 256, got %d", c.Servo.Count)
	}

	if c.Session.TickPeriod <= 0 {
		return fmt.Errorf("session.tick_period must be positive, got %s", c.Session.TickPeriod)
	}
	if c.Session.QueueSize < 1 {
		return fmt.Errorf("session.queue_size must be at least 1, got %d", c.Session.QueueSize)
	}
	if c.Session.WriteTimeout <= 0 {
		return fmt.Errorf("session.write_timeout must be positive, got %s", c.Session.WriteTimeout)
	}

	if c.Trace.Frames < 0 {
		return fmt.Errorf("trace.frames must not be negative, got %d", c.Trace.Frames)
	}

	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return errors.New("log rotation limits must not be negative")
	}

	return nil
}
