package dronesdk

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	simDefaultLatitude  = 37.7749
	simDefaultLongitude = -122.4194
	// metres of GPS noise either side of the true position
	simDefaultNoise = 0.1
	// percent per minute
	simDefaultDrainRate = 0.1

	simFullVoltage  = 12.6
	simEmptyVoltage = 10.5
	simHoverCurrent = 15.0
	gravity         = 9.80665
)

// Simulator is a Connection that generates plausible telemetry for a drone
// moving at a set velocity. Readings carry uniform noise and the battery
// drains with elapsed time.
type Simulator struct {
	mu    sync.Mutex
	clock clock.Clock
	rand  *rand.Rand

	lat, lon, alt    float64
	vx, vy, vz       float64 // metres per second, north east up
	roll, pitch, yaw float64
	battery          float64

	noise     float64
	drainRate float64
	last      time.Time
}

func NewSimulator(cfg SourceConfig) *Simulator {
	return newSimulator(cfg, clock.New())
}

func newSimulator(cfg SourceConfig, c clock.Clock) *Simulator {
	s := &Simulator{
		clock:     c,
		rand:      rand.New(rand.NewSource(cfg.Seed)),
		lat:       cfg.Latitude,
		lon:       cfg.Longitude,
		battery:   100,
		noise:     cfg.Noise,
		drainRate: cfg.DrainRate,
		last:      c.Now(),
	}
	if s.lat == 0 && s.lon == 0 {
		s.lat, s.lon = simDefaultLatitude, simDefaultLongitude
	}
	if s.noise == 0 {
		s.noise = simDefaultNoise
	}
	if s.drainRate == 0 {
		s.drainRate = simDefaultDrainRate
	}
	return s
}

// SetVelocity sets the ground velocity in metres per second.
func (s *Simulator) SetVelocity(north, east, up float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.vx, s.vy, s.vz = north, east, up
}

func (s *Simulator) SetPosition(lat, lon, alt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.lat, s.lon, s.alt = lat, lon, alt
}

func (s *Simulator) SetAttitude(roll, pitch, yaw float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roll, s.pitch, s.yaw = roll, pitch, yaw
}

func (s *Simulator) SetBattery(remaining float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.battery = remaining
}

func (s *Simulator) Battery() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return s.battery
}

func (s *Simulator) GetMessage(ctx context.Context, ch Channel) (Fields, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()

	switch ch {
	case ChannelGPS:
		return Fields{
			"lat":  s.lat + s.jitter(s.noise)/metresPerDegree,
			"lon":  s.lon + s.jitter(s.noise)/(metresPerDegree*math.Cos(radians(s.lat))),
			"alt":  s.alt + s.jitter(s.noise),
			"hdop": 0.8 + s.rand.Float64()*0.4,
			"vdop": 1.0 + s.rand.Float64()*0.5,
		}, nil
	case ChannelAttitude:
		return Fields{
			"roll":  s.roll + s.jitter(0.01),
			"pitch": s.pitch + s.jitter(0.01),
			"yaw":   s.yaw + s.jitter(0.01),
		}, nil
	case ChannelBattery:
		return Fields{
			"voltage":   simEmptyVoltage + (simFullVoltage-simEmptyVoltage)*s.battery/100,
			"current":   simHoverCurrent + s.jitter(0.5),
			"remaining": s.battery,
		}, nil
	case ChannelIMU:
		return Fields{
			"accel_x": s.jitter(0.05),
			"accel_y": s.jitter(0.05),
			"accel_z": gravity + s.jitter(0.05),
			"gyro_x":  s.jitter(0.001),
			"gyro_y":  s.jitter(0.001),
			"gyro_z":  s.jitter(0.001),
		}, nil
	}
	return nil, nil
}

// advance moves the drone and drains the battery for the time since the
// last call. Callers hold mu.
func (s *Simulator) advance() {
	now := s.clock.Now()
	dt := now.Sub(s.last).Seconds()
	s.last = now
	if dt <= 0 {
		return
	}
	s.lat += s.vx * dt / metresPerDegree
	s.lon += s.vy * dt / (metresPerDegree * math.Cos(radians(s.lat)))
	s.alt = math.Max(0, s.alt+s.vz*dt)
	s.battery = math.Max(0, s.battery-s.drainRate*dt/60)
}

func (s *Simulator) jitter(amplitude float64) float64 {
	return (s.rand.Float64()*2 - 1) * amplitude
}
