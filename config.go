package dronesdk

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the runtime configuration of a drone. It can be loaded from a
// TOML or YAML file; unset values take their defaults.
type Config struct {
	LogLevel  string          `toml:"log_level" yaml:"logLevel"`
	Source    SourceConfig    `toml:"source" yaml:"source"`
	Stream    StreamConfig    `toml:"stream" yaml:"stream"`
	Processor ProcessorConfig `toml:"processor" yaml:"processor"`
	Monitor   MonitorConfig   `toml:"monitor" yaml:"monitor"`
	Forwarder ForwarderConfig `toml:"forwarder" yaml:"forwarder"`
	MQTT      MQTTConfig      `toml:"mqtt" yaml:"mqtt"`
	FlightLog FlightLogConfig `toml:"flight_log" yaml:"flightLog"`
}

// SourceConfig selects the registered connection telemetry is read from.
type SourceConfig struct {
	Kind string `toml:"kind" yaml:"kind"`
	// serial port or CAN interface for hardware sources
	Port string `toml:"port" yaml:"port"`
	// baud rate for serial sources
	BaudRate uint `toml:"baud_rate" yaml:"baudRate"`
	// CAN interface for the battery when the GPS is on Port
	BatteryPort string `toml:"battery_port" yaml:"batteryPort"`

	// simulator settings
	Seed      int64   `toml:"seed" yaml:"seed"`
	Latitude  float64 `toml:"latitude" yaml:"latitude"`
	Longitude float64 `toml:"longitude" yaml:"longitude"`
	Noise     float64 `toml:"noise" yaml:"noise"`
	DrainRate float64 `toml:"drain_rate" yaml:"drainRate"`
}

// StreamConfig holds the polling interval of each channel in milliseconds.
type StreamConfig struct {
	GPSInterval      int `toml:"gps_interval_ms" yaml:"gpsIntervalMs"`
	AttitudeInterval int `toml:"attitude_interval_ms" yaml:"attitudeIntervalMs"`
	BatteryInterval  int `toml:"battery_interval_ms" yaml:"batteryIntervalMs"`
	IMUInterval      int `toml:"imu_interval_ms" yaml:"imuIntervalMs"`
}

type ProcessorConfig struct {
	BufferSize        int `toml:"buffer_size" yaml:"bufferSize"`
	ConsumptionWindow int `toml:"consumption_window" yaml:"consumptionWindow"`
}

// ForwarderConfig configures the UDP state forwarder. An empty server
// disables it.
type ForwarderConfig struct {
	Server string `toml:"server" yaml:"server"`
	Port   int    `toml:"port" yaml:"port"`
}

// MQTTConfig configures the MQTT event notifier and telemetry source. An
// empty broker disables the notifier.
type MQTTConfig struct {
	Broker   string `toml:"broker" yaml:"broker"`
	ClientID string `toml:"client_id" yaml:"clientID"`
	Prefix   string `toml:"prefix" yaml:"prefix"`
}

// FlightLogConfig configures the sqlite flight log. An empty path disables
// it.
type FlightLogConfig struct {
	Path string `toml:"path" yaml:"path"`
	// record every nth state change
	StateEvery int `toml:"state_every" yaml:"stateEvery"`
}

const (
	DefaultSource   = "sim"
	defaultBaudRate = 9600
	defaultPrefix   = "dronesdk"
	defaultClientID = "dronesdk"
)

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Source.Kind == "" {
		c.Source.Kind = DefaultSource
	}
	if c.Source.BaudRate == 0 {
		c.Source.BaudRate = defaultBaudRate
	}
	if c.Stream.GPSInterval == 0 {
		c.Stream.GPSInterval = int(DefaultIntervals[ChannelGPS] / time.Millisecond)
	}
	if c.Stream.AttitudeInterval == 0 {
		c.Stream.AttitudeInterval = int(DefaultIntervals[ChannelAttitude] / time.Millisecond)
	}
	if c.Stream.BatteryInterval == 0 {
		c.Stream.BatteryInterval = int(DefaultIntervals[ChannelBattery] / time.Millisecond)
	}
	if c.Stream.IMUInterval == 0 {
		c.Stream.IMUInterval = int(DefaultIntervals[ChannelIMU] / time.Millisecond)
	}
	if c.Processor.BufferSize == 0 {
		c.Processor.BufferSize = DefaultBufferSize
	}
	if c.Processor.ConsumptionWindow == 0 {
		c.Processor.ConsumptionWindow = DefaultConsumptionWindow
	}
	if c.MQTT.Prefix == "" {
		c.MQTT.Prefix = defaultPrefix
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = defaultClientID
	}
	if c.FlightLog.StateEvery == 0 {
		c.FlightLog.StateEvery = 1
	}
	c.Monitor = c.Monitor.withDefaults()
	return c
}

// Intervals converts the stream section into per channel durations.
func (c StreamConfig) Intervals() map[Channel]time.Duration {
	return map[Channel]time.Duration{
		ChannelGPS:      time.Duration(c.GPSInterval) * time.Millisecond,
		ChannelAttitude: time.Duration(c.AttitudeInterval) * time.Millisecond,
		ChannelBattery:  time.Duration(c.BatteryInterval) * time.Millisecond,
		ChannelIMU:      time.Duration(c.IMUInterval) * time.Millisecond,
	}
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	for ch, d := range c.Stream.Intervals() {
		if d < 0 {
			return errors.Errorf("negative %s interval", ch)
		}
	}
	if c.Processor.BufferSize < 0 {
		return errors.New("negative processor buffer size")
	}
	if c.Processor.ConsumptionWindow > c.Processor.BufferSize {
		return errors.Errorf("consumption window %d exceeds buffer size %d",
			c.Processor.ConsumptionWindow, c.Processor.BufferSize)
	}
	if c.Monitor.CriticalBattery > c.Monitor.LowBattery {
		return errors.Errorf("critical battery threshold %v above low threshold %v",
			c.Monitor.CriticalBattery, c.Monitor.LowBattery)
	}
	if c.Monitor.VibrationInterval < 0 {
		return errors.New("negative vibration interval")
	}
	if c.Forwarder.Server != "" && (c.Forwarder.Port <= 0 || c.Forwarder.Port > 65535) {
		return errors.Errorf("invalid forwarder port %d", c.Forwarder.Port)
	}
	if _, ok := lookupConnection(c.Source.Kind); !ok {
		return errors.Errorf("unknown source %q", c.Source.Kind)
	}
	return nil
}

// LoadConfig reads a TOML or YAML file, chosen by extension, and applies
// defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "unable to open file %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAMLConfig(data)
	case ".toml", "":
		return ParseTOMLConfig(data)
	}
	return Config{}, errors.Errorf("unsupported config format %s", filepath.Ext(path))
}

func ParseTOMLConfig(data []byte) (Config, error) {
	var c Config
	if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&c); err != nil {
		return Config{}, errors.Wrap(err, "unable to decode toml configuration")
	}
	return c.withDefaults(), nil
}

func ParseYAMLConfig(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, errors.Wrap(err, "unable to decode yaml configuration")
	}
	return c.withDefaults(), nil
}
