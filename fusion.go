package dronesdk

import (
	"math"
	"sync"

	"github.com/golang/geo/r2"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/jd3nn1s/dronesdk/kalman"
)

const (
	// DefaultTimestep is the fixed filter step in seconds.
	DefaultTimestep = 0.1

	metresPerDegree = 111000.0

	positionMeasurementNoise = 5.0
	positionProcessVariance  = 0.1
	positionInitialVariance  = 100.0

	altitudeMeasurementNoise = 2.0
	altitudeProcessVariance  = 0.02
	altitudeInitialVariance  = 10.0

	// lidar readings at or above this range are ignored
	maxLidarRange = 50.0
)

// Fusion smooths position and altitude with two independent Kalman
// filters. Each predict and update pair runs under the filter's lock.
type Fusion struct {
	posMu    sync.Mutex
	position *kalman.Filter

	altMu    sync.Mutex
	altitude *kalman.Filter
}

func NewFusion() *Fusion {
	return &Fusion{
		position: newPositionFilter(DefaultTimestep),
		altitude: newAltitudeFilter(DefaultTimestep),
	}
}

// state [x, y, vx, vy, ax, ay], constant acceleration, position observed
func newPositionFilter(dt float64) *kalman.Filter {
	f := kalman.New(6, 2)
	f.F = mat.NewDense(6, 6, []float64{
		1, 0, dt, 0, 0.5 * dt * dt, 0,
		0, 1, 0, dt, 0, 0.5 * dt * dt,
		0, 0, 1, 0, dt, 0,
		0, 0, 0, 1, 0, dt,
		0, 0, 0, 0, 1, 0,
		0, 0, 0, 0, 0, 1,
	})
	f.H = mat.NewDense(2, 6, []float64{
		1, 0, 0, 0, 0, 0,
		0, 1, 0, 0, 0, 0,
	})
	f.R.Scale(positionMeasurementNoise, f.R)
	f.Q = mustQ(3, dt, positionProcessVariance, 2)
	f.P.Scale(positionInitialVariance, f.P)
	return f
}

// state [alt, velocity, accel], altitude observed
func newAltitudeFilter(dt float64) *kalman.Filter {
	f := kalman.New(3, 1)
	f.F = mat.NewDense(3, 3, []float64{
		1, dt, 0.5 * dt * dt,
		0, 1, dt,
		0, 0, 1,
	})
	f.H = mat.NewDense(1, 3, []float64{1, 0, 0})
	f.R.Scale(altitudeMeasurementNoise, f.R)
	f.Q = mustQ(3, dt, altitudeProcessVariance, 1)
	f.P.Scale(altitudeInitialVariance, f.P)
	return f
}

func mustQ(dim int, dt, variance float64, blockSize int) *mat.Dense {
	q, err := kalman.QDiscreteWhiteNoise(dim, dt, variance, blockSize)
	if err != nil {
		panic(err)
	}
	return q
}

// FuseGPSIMU filters a GPS fix and returns the smoothed latitude and
// longitude. The IMU accelerations replace the filter's acceleration
// estimate after each update rather than entering the process model.
func (f *Fusion) FuseGPSIMU(lat, lon, accelX, accelY float64) (float64, float64) {
	x := lat * metresPerDegree
	y := lon * metresPerDegree * math.Cos(radians(lat))

	f.posMu.Lock()
	f.position.Predict()
	if err := f.position.Update([]float64{x, y}); err != nil {
		log.WithField("err", err).Warn("position filter update skipped")
	}
	f.position.SetState(4, accelX)
	f.position.SetState(5, accelY)
	state := f.position.State()
	f.posMu.Unlock()

	filteredLat := state[0] / metresPerDegree
	filteredLon := state[1] / (metresPerDegree * math.Cos(radians(filteredLat)))
	return filteredLat, filteredLon
}

// FuseAltitudeSensors filters the barometric altitude, or the GPS derived
// altitude when a lidar reading below 50m is available, and returns the
// smoothed altitude.
func (f *Fusion) FuseAltitudeSensors(gpsAlt, baroAlt float64, lidarDistance *float64) float64 {
	measurement := altitudeMeasurement(gpsAlt, baroAlt, lidarDistance)

	f.altMu.Lock()
	defer f.altMu.Unlock()
	f.altitude.Predict()
	if err := f.altitude.Update([]float64{measurement}); err != nil {
		log.WithField("err", err).Warn("altitude filter update skipped")
	}
	return f.altitude.State()[0]
}

// The terrain altitude under the drone is taken from GPS minus the lidar
// range and the lidar range is added back, which leaves the GPS altitude.
func altitudeMeasurement(gpsAlt, baroAlt float64, lidarDistance *float64) float64 {
	measurement := baroAlt
	if lidarDistance != nil && *lidarDistance < maxLidarRange {
		terrainAlt := gpsAlt - *lidarDistance
		measurement = terrainAlt + *lidarDistance
	}
	return measurement
}

// EstimateVelocity differentiates the last two positions of history
// assuming they are DefaultTimestep apart.
func (f *Fusion) EstimateVelocity(history []r2.Point) (float64, float64) {
	return EstimateVelocity(history)
}

func EstimateVelocity(history []r2.Point) (float64, float64) {
	if len(history) < 2 {
		return 0, 0
	}
	d := history[len(history)-1].Sub(history[len(history)-2])
	return d.X / DefaultTimestep, d.Y / DefaultTimestep
}

func (f *Fusion) Position() PositionEstimate {
	f.posMu.Lock()
	s := f.position.State()
	f.posMu.Unlock()
	return PositionEstimate{X: s[0], Y: s[1], VX: s[2], VY: s[3], AX: s[4], AY: s[5]}
}

func (f *Fusion) Altitude() AltitudeEstimate {
	f.altMu.Lock()
	s := f.altitude.State()
	f.altMu.Unlock()
	return AltitudeEstimate{Alt: s[0], Velocity: s[1], Accel: s[2]}
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
