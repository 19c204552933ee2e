package dronesdk

import (
	"context"
	"math"

	geo "github.com/kellydunn/golang-geo"
	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"

	"github.com/jd3nn1s/dronesdk/ring"
)

const (
	DefaultBufferSize         = 100
	DefaultConsumptionWindow  = 10
	DefaultVibrationThreshold = 2.0

	// number of most recent IMU samples inspected for vibration
	vibrationWindow = 10
)

// Processor keeps a bounded history per channel and derives metrics from
// it. Buffers are written by a single goroutine and may be read from any.
type Processor struct {
	gps      *ring.Buffer[GPSSample]
	attitude *ring.Buffer[AttitudeSample]
	battery  *ring.Buffer[BatterySample]
	imu      *ring.Buffer[IMUSample]
}

func NewProcessor(bufferSize int) *Processor {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Processor{
		gps:      ring.New[GPSSample](bufferSize),
		attitude: ring.New[AttitudeSample](bufferSize),
		battery:  ring.New[BatterySample](bufferSize),
		imu:      ring.New[IMUSample](bufferSize),
	}
}

func (p *Processor) AddGPS(s GPSSample)           { p.gps.Add(s) }
func (p *Processor) AddAttitude(s AttitudeSample) { p.attitude.Add(s) }
func (p *Processor) AddBattery(s BatterySample)   { p.battery.Add(s) }
func (p *Processor) AddIMU(s IMUSample)           { p.imu.Add(s) }

func (p *Processor) GPSHistory() []GPSSample           { return p.gps.Items() }
func (p *Processor) AttitudeHistory() []AttitudeSample { return p.attitude.Items() }
func (p *Processor) BatteryHistory() []BatterySample   { return p.battery.Items() }
func (p *Processor) IMUHistory() []IMUSample           { return p.imu.Items() }

// DistanceTraveled returns the great circle distance in metres along the
// buffered GPS track.
func (p *Processor) DistanceTraveled() float64 {
	track := p.gps.Items()
	if len(track) < 2 {
		return 0
	}

	total := 0.0
	prev := geo.NewPoint(track[0].Lat, track[0].Lon)
	for _, s := range track[1:] {
		cur := geo.NewPoint(s.Lat, s.Lon)
		total += prev.GreatCircleDistance(cur) * 1000
		prev = cur
	}
	return total
}

// AverageBatteryConsumption returns the drain in percent per minute over
// the newest window battery samples, or 0 when there is not enough
// history.
func (p *Processor) AverageBatteryConsumption(window int) float64 {
	if window < 2 || p.battery.Len() < window {
		return 0
	}
	recent := p.battery.Last(window)
	first, last := recent[0], recent[len(recent)-1]

	elapsed := last.Timestamp.Sub(first.Timestamp).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return (first.Remaining - last.Remaining) / elapsed * 60
}

// DetectVibration reports whether the population standard deviation of
// the acceleration magnitude over the last ten IMU samples exceeds
// threshold.
func (p *Processor) DetectVibration(threshold float64) bool {
	if p.imu.Len() < vibrationWindow {
		return false
	}

	magnitudes := make(stats.Float64Data, 0, vibrationWindow)
	for _, s := range p.imu.Last(vibrationWindow) {
		magnitudes = append(magnitudes, math.Sqrt(s.AccelX*s.AccelX+s.AccelY*s.AccelY+s.AccelZ*s.AccelZ))
	}
	sd, err := stats.StandardDeviationPopulation(magnitudes)
	if err != nil {
		log.WithField("err", err).Warn("unable to compute vibration deviation")
		return false
	}
	return sd > threshold
}

// Pump feeds every sample published by the stream into the buffers until
// the context ends or the stream stops. A Drone fills its processor from the
// fusion loop and does not use it.
func (p *Processor) Pump(ctx context.Context, s *Stream) {
	gpsChan, unsubGPS := s.SubscribeGPS(channelBufferSize)
	defer unsubGPS()
	attChan, unsubAtt := s.SubscribeAttitude(channelBufferSize)
	defer unsubAtt()
	batChan, unsubBat := s.SubscribeBattery(channelBufferSize)
	defer unsubBat()
	imuChan, unsubIMU := s.SubscribeIMU(channelBufferSize)
	defer unsubIMU()

	for open := 4; open > 0; {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-gpsChan:
			if !ok {
				gpsChan = nil
				open--
				continue
			}
			p.AddGPS(v)
		case v, ok := <-attChan:
			if !ok {
				attChan = nil
				open--
				continue
			}
			p.AddAttitude(v)
		case v, ok := <-batChan:
			if !ok {
				batChan = nil
				open--
				continue
			}
			p.AddBattery(v)
		case v, ok := <-imuChan:
			if !ok {
				imuChan = nil
				open--
				continue
			}
			p.AddIMU(v)
		}
	}
}
