package dronesdk

import (
	"time"

	"github.com/spf13/cast"
)

// Channel names a sensor channel polled from a Connection.
type Channel string

const (
	ChannelGPS      Channel = "GPS"
	ChannelAttitude Channel = "ATTITUDE"
	ChannelBattery  Channel = "BATTERY"
	ChannelIMU      Channel = "IMU"
)

// Channels lists every channel in a stable order.
var Channels = []Channel{ChannelGPS, ChannelAttitude, ChannelBattery, ChannelIMU}

// Fields is the raw keyed data a connection returns for one channel.
type Fields map[string]interface{}

// Float returns the named field as a float64. Missing or non-numeric
// fields read as zero.
func (f Fields) Float(key string) float64 {
	v, ok := f[key]
	if !ok {
		return 0
	}
	n, err := cast.ToFloat64E(v)
	if err != nil {
		return 0
	}
	return n
}

type GPSSample struct {
	Lat       float64
	Lon       float64
	Alt       float64
	HDOP      float64
	VDOP      float64
	Timestamp time.Time
}

type AttitudeSample struct {
	Roll      float64
	Pitch     float64
	Yaw       float64
	Timestamp time.Time
}

type BatterySample struct {
	Voltage   float64
	Current   float64
	Remaining float64 // percent
	Timestamp time.Time
}

type IMUSample struct {
	AccelX    float64
	AccelY    float64
	AccelZ    float64
	GyroX     float64
	GyroY     float64
	GyroZ     float64
	Timestamp time.Time
}

func gpsFromFields(f Fields, ts time.Time) GPSSample {
	return GPSSample{
		Lat:       f.Float("lat"),
		Lon:       f.Float("lon"),
		Alt:       f.Float("alt"),
		HDOP:      f.Float("hdop"),
		VDOP:      f.Float("vdop"),
		Timestamp: ts,
	}
}

func attitudeFromFields(f Fields, ts time.Time) AttitudeSample {
	return AttitudeSample{
		Roll:      f.Float("roll"),
		Pitch:     f.Float("pitch"),
		Yaw:       f.Float("yaw"),
		Timestamp: ts,
	}
}

func batteryFromFields(f Fields, ts time.Time) BatterySample {
	return BatterySample{
		Voltage:   f.Float("voltage"),
		Current:   f.Float("current"),
		Remaining: f.Float("remaining"),
		Timestamp: ts,
	}
}

func imuFromFields(f Fields, ts time.Time) IMUSample {
	return IMUSample{
		AccelX:    f.Float("accel_x"),
		AccelY:    f.Float("accel_y"),
		AccelZ:    f.Float("accel_z"),
		GyroX:     f.Float("gyro_x"),
		GyroY:     f.Float("gyro_y"),
		GyroZ:     f.Float("gyro_z"),
		Timestamp: ts,
	}
}

// PositionEstimate is a snapshot of the position filter state in local
// metres.
type PositionEstimate struct {
	X, Y   float64
	VX, VY float64
	AX, AY float64
}

// AltitudeEstimate is a snapshot of the altitude filter state.
type AltitudeEstimate struct {
	Alt      float64
	Velocity float64
	Accel    float64
}

// FusedState is what the drone hands to forwarders. The layout is fixed
// size so it can be written with encoding/binary.
type FusedState struct {
	Latitude           float64
	Longitude          float64
	Altitude           float64
	DistanceTraveled   float64
	BatteryRemaining   float64
	BatteryConsumption float64
	Roll               float64
	Pitch              float64
	Yaw                float64
	HDOP               float64
	Vibration          bool
}
