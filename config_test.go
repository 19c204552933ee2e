package dronesdk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "sim", c.Source.Kind)
	assert.Equal(t, DefaultIntervals, c.Stream.Intervals())
	assert.Equal(t, DefaultBufferSize, c.Processor.BufferSize)
	assert.Equal(t, DefaultConsumptionWindow, c.Processor.ConsumptionWindow)
	assert.Equal(t, 20.0, c.Monitor.LowBattery)
	assert.Equal(t, "dronesdk", c.MQTT.Prefix)
	assert.NoError(t, c.Validate())
}

func TestParseTOMLConfig(t *testing.T) {
	c, err := ParseTOMLConfig([]byte(`
log_level = "debug"

[source]
kind = "skytraq"
port = "/dev/ttyAMA0"

[stream]
gps_interval_ms = 200

[monitor]
low_battery = 30
max_hdop = 2.5

[forwarder]
server = "10.0.0.2"
port = 9000
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "skytraq", c.Source.Kind)
	assert.Equal(t, "/dev/ttyAMA0", c.Source.Port)
	assert.Equal(t, 200*time.Millisecond, c.Stream.Intervals()[ChannelGPS])
	assert.Equal(t, 20*time.Millisecond, c.Stream.Intervals()[ChannelAttitude])
	assert.Equal(t, 30.0, c.Monitor.LowBattery)
	assert.Equal(t, 10.0, c.Monitor.CriticalBattery)
	assert.Equal(t, 2.5, c.Monitor.MaxHDOP)
	assert.Equal(t, 9000, c.Forwarder.Port)
	assert.NoError(t, c.Validate())
}

func TestParseYAMLConfig(t *testing.T) {
	c, err := ParseYAMLConfig([]byte(`
logLevel: warn
source:
  kind: sim
  seed: 7
processor:
  bufferSize: 50
  consumptionWindow: 5
monitor:
  vibrationThreshold: 3.5
flightLog:
  path: /tmp/flight.db
`))
	require.NoError(t, err)
	assert.Equal(t, "warn", c.LogLevel)
	assert.Equal(t, int64(7), c.Source.Seed)
	assert.Equal(t, 50, c.Processor.BufferSize)
	assert.Equal(t, 5, c.Processor.ConsumptionWindow)
	assert.Equal(t, 3.5, c.Monitor.VibrationThreshold)
	assert.Equal(t, "/tmp/flight.db", c.FlightLog.Path)
	assert.Equal(t, 1, c.FlightLog.StateEvery)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	tomlPath := filepath.Join(dir, "drone.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte("[source]\nkind = \"sim\"\n"), 0o600))
	c, err := LoadConfig(tomlPath)
	require.NoError(t, err)
	assert.Equal(t, "sim", c.Source.Kind)

	yamlPath := filepath.Join(dir, "drone.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("source:\n  kind: sim\n"), 0o600))
	_, err = LoadConfig(yamlPath)
	require.NoError(t, err)

	jsonPath := filepath.Join(dir, "drone.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte("{}"), 0o600))
	_, err = LoadConfig(jsonPath)
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)

	badPath := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(badPath, []byte("source = ["), 0o600))
	_, err = LoadConfig(badPath)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := DefaultConfig()
	c.Source.Kind = "carrier-pigeon"
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.Monitor.CriticalBattery = 40
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.Processor.ConsumptionWindow = c.Processor.BufferSize + 1
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.Stream.IMUInterval = -1
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.Forwarder.Server = "127.0.0.1"
	assert.Error(t, c.Validate(), "forwarder without a port")
	c.Forwarder.Port = 5000
	assert.NoError(t, c.Validate())
}
