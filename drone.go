package dronesdk

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// subscriber queue depth; samples beyond it are dropped for that subscriber
const channelBufferSize = 16

// Drone ties a connection to the stream, processor, fusion and event
// handler and keeps the fused state that forwarders receive.
type Drone struct {
	conn        Connection
	config      Config
	stream      *Stream
	processor   *Processor
	fusion      *Fusion
	events      *EventHandler
	rangeFinder RangeFinder

	mu         sync.Mutex
	state      FusedState
	latestIMU  IMUSample
	forwarders []Forwarder

	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewDrone(conn Connection, config Config, opts ...StreamOption) *Drone {
	config = config.withDefaults()
	opts = append([]StreamOption{WithIntervals(config.Stream.Intervals())}, opts...)
	d := &Drone{
		conn:      conn,
		config:    config,
		stream:    NewStream(conn, opts...),
		processor: NewProcessor(config.Processor.BufferSize),
		fusion:    NewFusion(),
		events:    NewEventHandler(config.Monitor),
	}
	d.events.SetClock(d.stream.clock)
	return d
}

func (d *Drone) Config() Config         { return d.config }
func (d *Drone) Stream() *Stream        { return d.stream }
func (d *Drone) Processor() *Processor  { return d.processor }
func (d *Drone) Fusion() *Fusion        { return d.fusion }
func (d *Drone) Events() *EventHandler  { return d.events }
func (d *Drone) Connection() Connection { return d.conn }

// SetRangeFinder adds a lidar or sonar reading to altitude fusion. It must
// be called before Start.
func (d *Drone) SetRangeFinder(rf RangeFinder) {
	d.rangeFinder = rf
}

func (d *Drone) AddForwarder(fwd Forwarder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forwarders = append(d.forwarders, fwd)
}

// State returns a snapshot of the fused state.
func (d *Drone) State() FusedState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Start runs the connection reader if it has one, the telemetry stream,
// the monitors and the fusion loop. The fusion loop also fills the
// processor, so derived metrics include the sample being fused.
func (d *Drone) Start(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return errors.New("drone already started")
	}
	ctx, d.cancel = context.WithCancel(ctx)

	if r, ok := d.conn.(Runner); ok {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithField("err", err).Error("connection done")
			}
		}()
	}

	// subscribe before the stream starts so no early samples are missed
	gps, unsubGPS := d.stream.SubscribeGPS(channelBufferSize)
	att, unsubAtt := d.stream.SubscribeAttitude(channelBufferSize)
	bat, unsubBat := d.stream.SubscribeBattery(channelBufferSize)
	imu, unsubIMU := d.stream.SubscribeIMU(channelBufferSize)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer unsubGPS()
		defer unsubAtt()
		defer unsubBat()
		defer unsubIMU()
		d.fuse(ctx, gps, att, bat, imu)
	}()

	if err := d.stream.Start(ctx); err != nil {
		d.cancel()
		return err
	}
	d.events.StartMonitoring(ctx, d.stream, d.processor)
	return nil
}

// Stop ends monitoring and the stream and waits for every goroutine the
// drone started.
func (d *Drone) Stop() {
	if !d.started.Load() {
		return
	}
	d.events.StopMonitoring()
	d.cancel()
	d.stream.Stop()
	d.wg.Wait()
	d.events.WaitMonitors()
	log.Info("drone stopped")
}

func (d *Drone) fuse(ctx context.Context, gps <-chan GPSSample, att <-chan AttitudeSample,
	bat <-chan BatterySample, imu <-chan IMUSample) {
	for open := 4; open > 0; {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-gps:
			if !ok {
				gps = nil
				open--
				continue
			}
			d.applyGPS(s)
		case s, ok := <-att:
			if !ok {
				att = nil
				open--
				continue
			}
			d.processor.AddAttitude(s)
			d.update(func(st *FusedState) {
				st.Roll, st.Pitch, st.Yaw = s.Roll, s.Pitch, s.Yaw
			})
		case s, ok := <-bat:
			if !ok {
				bat = nil
				open--
				continue
			}
			d.processor.AddBattery(s)
			consumption := d.processor.AverageBatteryConsumption(d.config.Processor.ConsumptionWindow)
			d.update(func(st *FusedState) {
				st.BatteryRemaining = s.Remaining
				st.BatteryConsumption = consumption
			})
		case s, ok := <-imu:
			if !ok {
				imu = nil
				open--
				continue
			}
			d.mu.Lock()
			d.latestIMU = s
			d.mu.Unlock()
			d.processor.AddIMU(s)
			vibration := d.processor.DetectVibration(d.config.Monitor.VibrationThreshold)
			d.update(func(st *FusedState) {
				st.Vibration = vibration
			})
		}
	}
}

func (d *Drone) applyGPS(s GPSSample) {
	d.processor.AddGPS(s)

	d.mu.Lock()
	accel := d.latestIMU
	d.mu.Unlock()

	lat, lon := d.fusion.FuseGPSIMU(s.Lat, s.Lon, accel.AccelX, accel.AccelY)

	var lidar *float64
	if d.rangeFinder != nil {
		if dist, ok := d.rangeFinder.Distance(); ok {
			lidar = &dist
		}
	}
	// no barometer channel, GPS altitude stands in for it
	alt := d.fusion.FuseAltitudeSensors(s.Alt, s.Alt, lidar)
	distance := d.processor.DistanceTraveled()

	d.update(func(st *FusedState) {
		st.Latitude, st.Longitude, st.Altitude = lat, lon, alt
		st.HDOP = s.HDOP
		st.DistanceTraveled = distance
	})
}

// update applies fn to a copy of the state and, if that changed anything,
// stores it and hands it to the forwarders.
func (d *Drone) update(fn func(*FusedState)) bool {
	d.mu.Lock()
	prev := d.state
	next := prev
	fn(&next)
	if next == prev {
		d.mu.Unlock()
		return false
	}
	d.state = next
	forwarders := append([]Forwarder(nil), d.forwarders...)
	d.mu.Unlock()

	for _, fwd := range forwarders {
		if err := fwd.Forward(&next, &prev); err != nil {
			log.WithField("err", err).Warn("unable to forward state")
		}
	}
	return true
}
