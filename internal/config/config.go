package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"postured/internal/calibration"
)

type Config struct {
	Calibration CalibrationConfig `yaml:"calibration"`
	Source      SourceConfig      `yaml:"source"`
	Record      RecordConfig      `yaml:"record"`
	Session     SessionConfig     `yaml:"session"`
	Events      EventsConfig      `yaml:"events"`
	HTTP        HTTPConfig        `yaml:"http"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Sysfs       SysfsConfig       `yaml:"sysfs"`
	DBus        DBusConfig        `yaml:"dbus"`
}

// CalibrationConfig either points at a calibration file or carries the two
// entries inline. Exactly one form must be used.
type CalibrationConfig struct {
	File string                 `yaml:"file"`
	Lid  *calibration.FileEntry `yaml:"lid"`
	Base *calibration.FileEntry `yaml:"base"`
}

type SourceConfig struct {
	// Kind is "iio" or "replay".
	Kind   string             `yaml:"kind"`
	IIO    IIOSourceConfig    `yaml:"iio"`
	Replay ReplaySourceConfig `yaml:"replay"`
}

type IIOSourceConfig struct {
	Root         string        `yaml:"root"`
	Lid          string        `yaml:"lid"`
	Base         string        `yaml:"base"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type ReplaySourceConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
	Loop  bool    `yaml:"loop"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type SessionConfig struct {
	// AngleEpsilonDeg is nil when unset so that an explicit 0 survives
	// defaulting.
	AngleEpsilonDeg      *float64 `yaml:"angle_epsilon_deg"`
	OrientationEvents    bool     `yaml:"orientation_events"`
	MaxConsecutiveErrors int      `yaml:"max_consecutive_errors"`

	// Mode filter; all zero commits every classification at once.
	ModeHysteresisDeg        float64 `yaml:"mode_hysteresis_deg"`
	ModeStabilitySamples     int     `yaml:"mode_stability_samples"`
	ModeAdjacentOnly         bool    `yaml:"mode_adjacent_only"`
	OrientationFreezeSamples int     `yaml:"orientation_freeze_samples"`
}

// AngleEpsilon returns the configured epsilon or the default.
func (s SessionConfig) AngleEpsilon() float64 {
	if s.AngleEpsilonDeg == nil {
		return DefaultAngleEpsilonDeg
	}
	return *s.AngleEpsilonDeg
}

type EventsConfig struct {
	SocketPath   string        `yaml:"socket_path"`
	SocketMode   string        `yaml:"socket_mode"`
	Buffer       int           `yaml:"buffer"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// FileMode parses SocketMode as an octal permission string.
func (e EventsConfig) FileMode() (os.FileMode, error) {
	if strings.TrimSpace(e.SocketMode) == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(strings.TrimSpace(e.SocketMode), 8, 32)
	if err != nil || v > 0o777 {
		return 0, fmt.Errorf("events.socket_mode must be an octal permission like 0660, got %q", e.SocketMode)
	}
	return os.FileMode(v), nil
}

type HTTPConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`

	// AllowedOrigins are cross-origin pages permitted to open /ws.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type MQTTConfig struct {
	Enable         bool          `yaml:"enable"`
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	QoS            int           `yaml:"qos"`
	Retain         bool          `yaml:"retain"`
	QueueSize      int           `yaml:"queue_size"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type SysfsConfig struct {
	Enable bool   `yaml:"enable"`
	Dir    string `yaml:"dir"`
}

type DBusConfig struct {
	Enable bool `yaml:"enable"`
	// Bus is "system" or "session".
	Bus  string `yaml:"bus"`
	Name string `yaml:"name"`
	// SensorProxy defaults to true when unset.
	SensorProxy *bool `yaml:"sensor_proxy"`
}

const (
	DefaultSocketPath      = "/run/postured/events.sock"
	DefaultAngleEpsilonDeg = 0.5
	DefaultSysfsDir        = "/sys/devices/platform/cmx"
	DefaultDBusName        = "dev.postured"
)

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	// Calibration.
	inline := cfg.Calibration.Lid != nil || cfg.Calibration.Base != nil
	if cfg.Calibration.File == "" && !inline {
		return fmt.Errorf("calibration.file or calibration.lid/base is required")
	}
	if cfg.Calibration.File != "" && inline {
		return fmt.Errorf("calibration.file cannot be combined with inline calibration.lid/base")
	}

	// Source.
	cfg.Source.Kind = strings.ToLower(strings.TrimSpace(cfg.Source.Kind))
	if cfg.Source.Kind == "" {
		cfg.Source.Kind = "iio"
	}
	switch cfg.Source.Kind {
	case "iio":
		if cfg.Source.IIO.Root == "" {
			cfg.Source.IIO.Root = "/sys/bus/iio/devices"
		}
		if cfg.Source.IIO.Lid == "" {
			return fmt.Errorf("source.iio.lid is required when source.kind is 'iio'")
		}
		if cfg.Source.IIO.Base == "" {
			return fmt.Errorf("source.iio.base is required when source.kind is 'iio'")
		}
		if cfg.Source.IIO.PollInterval <= 0 {
			cfg.Source.IIO.PollInterval = 100 * time.Millisecond
		}
	case "replay":
		if cfg.Source.Replay.Path == "" {
			return fmt.Errorf("source.replay.path is required when source.kind is 'replay'")
		}
		if cfg.Source.Replay.Speed == 0 {
			cfg.Source.Replay.Speed = 1
		}
		if speed := cfg.Source.Replay.Speed; !(speed > 0) || math.IsInf(speed, 0) {
			return fmt.Errorf("source.replay.speed must be a finite value > 0")
		}
	default:
		return fmt.Errorf("source.kind must be 'iio' or 'replay'")
	}

	if cfg.Record.Enable {
		if cfg.Record.Path == "" {
			return fmt.Errorf("record.path is required when record.enable is true")
		}
		if cfg.Source.Kind == "replay" {
			return fmt.Errorf("record cannot be used with source.kind=replay")
		}
	}

	// Session.
	if cfg.Session.AngleEpsilonDeg == nil {
		v := DefaultAngleEpsilonDeg
		cfg.Session.AngleEpsilonDeg = &v
	}
	if *cfg.Session.AngleEpsilonDeg < 0 {
		return fmt.Errorf("session.angle_epsilon_deg must be >= 0")
	}
	if cfg.Session.MaxConsecutiveErrors == 0 {
		cfg.Session.MaxConsecutiveErrors = 10
	}
	if h := cfg.Session.ModeHysteresisDeg; !(h >= 0 && h < 60) {
		return fmt.Errorf("session.mode_hysteresis_deg must be in [0, 60)")
	}
	if cfg.Session.ModeStabilitySamples < 0 {
		return fmt.Errorf("session.mode_stability_samples must be >= 0")
	}
	if cfg.Session.OrientationFreezeSamples < 0 {
		return fmt.Errorf("session.orientation_freeze_samples must be >= 0")
	}

	// Event socket.
	if cfg.Events.SocketPath == "" {
		cfg.Events.SocketPath = DefaultSocketPath
	}
	if cfg.Events.SocketMode == "" {
		cfg.Events.SocketMode = "0666"
	}
	if _, err := cfg.Events.FileMode(); err != nil {
		return err
	}
	if cfg.Events.Buffer <= 0 {
		cfg.Events.Buffer = 64
	}
	if cfg.Events.WriteTimeout <= 0 {
		cfg.Events.WriteTimeout = 2 * time.Second
	}

	if cfg.HTTP.Enable && cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = "127.0.0.1:8089"
	}

	if cfg.MQTT.Enable {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
		}
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = "postured"
		}
		if cfg.MQTT.TopicPrefix == "" {
			cfg.MQTT.TopicPrefix = "postured"
		}
		cfg.MQTT.TopicPrefix = strings.TrimRight(cfg.MQTT.TopicPrefix, "/")
		if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
		if cfg.MQTT.QueueSize <= 0 {
			cfg.MQTT.QueueSize = 256
		}
		if cfg.MQTT.ConnectTimeout <= 0 {
			cfg.MQTT.ConnectTimeout = 5 * time.Second
		}
	}

	if cfg.Sysfs.Enable && cfg.Sysfs.Dir == "" {
		cfg.Sysfs.Dir = DefaultSysfsDir
	}

	// D-Bus.
	if cfg.DBus.Bus == "" {
		cfg.DBus.Bus = "system"
	}
	if cfg.DBus.Bus != "system" && cfg.DBus.Bus != "session" {
		return fmt.Errorf("dbus.bus must be 'system' or 'session'")
	}
	if cfg.DBus.Name == "" {
		cfg.DBus.Name = DefaultDBusName
	}
	if cfg.DBus.SensorProxy == nil {
		v := true
		cfg.DBus.SensorProxy = &v
	}

	return nil
}

// LoadCalibration builds the calibration store from either the referenced
// file or the inline entries. Paths are relative to the working directory.
func (c CalibrationConfig) LoadCalibration() (*calibration.Store, error) {
	if c.File != "" {
		return calibration.LoadFile(c.File)
	}
	raw := map[string]calibration.FileEntry{}
	if c.Lid != nil {
		raw["lid"] = *c.Lid
	}
	if c.Base != nil {
		raw["base"] = *c.Base
	}
	return calibration.FromEntries(raw)
}
