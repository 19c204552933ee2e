package dronesdk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// Connection supplies raw keyed fields for a channel. An empty Fields with
// a nil error means no data is available right now.
type Connection interface {
	GetMessage(ctx context.Context, ch Channel) (Fields, error)
}

// DefaultIntervals are the per channel polling intervals: GPS 10Hz,
// attitude 50Hz, battery 2Hz and IMU 100Hz.
var DefaultIntervals = map[Channel]time.Duration{
	ChannelGPS:      100 * time.Millisecond,
	ChannelAttitude: 20 * time.Millisecond,
	ChannelBattery:  500 * time.Millisecond,
	ChannelIMU:      10 * time.Millisecond,
}

// wait after a connection error before polling that channel again
var errorBackoff = time.Second

type StreamOption func(*Stream)

// WithIntervals overrides the polling interval of the given channels.
func WithIntervals(intervals map[Channel]time.Duration) StreamOption {
	return func(s *Stream) {
		for ch, d := range intervals {
			if d > 0 {
				s.intervals[ch] = d
			}
		}
	}
}

func WithClock(c clock.Clock) StreamOption {
	return func(s *Stream) {
		s.clock = c
	}
}

func WithBackoff(d time.Duration) StreamOption {
	return func(s *Stream) {
		s.backoff = d
	}
}

// Stream polls a Connection with one independent loop per channel and
// publishes typed samples to subscribers. A failing channel backs off on
// its own without affecting the others.
type Stream struct {
	conn      Connection
	clock     clock.Clock
	intervals map[Channel]time.Duration
	backoff   time.Duration

	running atomic.Bool
	started atomic.Bool
	wg      sync.WaitGroup

	gps      *hub[GPSSample]
	attitude *hub[AttitudeSample]
	battery  *hub[BatterySample]
	imu      *hub[IMUSample]
}

func NewStream(conn Connection, opts ...StreamOption) *Stream {
	s := &Stream{
		conn:      conn,
		clock:     clock.New(),
		intervals: map[Channel]time.Duration{},
		backoff:   errorBackoff,
		gps:       newHub[GPSSample](),
		attitude:  newHub[AttitudeSample](),
		battery:   newHub[BatterySample](),
		imu:       newHub[IMUSample](),
	}
	for ch, d := range DefaultIntervals {
		s.intervals[ch] = d
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type channelLoop struct {
	channel Channel
	emit    func(Fields, time.Time)
	done    func()
}

func (s *Stream) loops() []channelLoop {
	return []channelLoop{
		{
			channel: ChannelGPS,
			emit:    func(f Fields, ts time.Time) { s.gps.publish(gpsFromFields(f, ts)) },
			done:    s.gps.close,
		},
		{
			channel: ChannelAttitude,
			emit:    func(f Fields, ts time.Time) { s.attitude.publish(attitudeFromFields(f, ts)) },
			done:    s.attitude.close,
		},
		{
			channel: ChannelBattery,
			emit:    func(f Fields, ts time.Time) { s.battery.publish(batteryFromFields(f, ts)) },
			done:    s.battery.close,
		},
		{
			channel: ChannelIMU,
			emit:    func(f Fields, ts time.Time) { s.imu.publish(imuFromFields(f, ts)) },
			done:    s.imu.close,
		},
	}
}

// Start launches the channel loops. A stream can only be started once.
func (s *Stream) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("telemetry stream already started")
	}
	s.running.Store(true)
	for _, l := range s.loops() {
		s.wg.Add(1)
		go s.run(ctx, l)
	}
	log.Info("telemetry stream started")
	return nil
}

// Stop clears the running flag and waits for every loop to notice it.
// The wait is bounded by the longest channel interval or the backoff.
func (s *Stream) Stop() {
	s.running.Store(false)
	s.wg.Wait()
}

func (s *Stream) Running() bool {
	return s.running.Load()
}

func (s *Stream) SubscribeGPS(buffer int) (<-chan GPSSample, func()) {
	return s.gps.subscribe(buffer)
}

func (s *Stream) SubscribeAttitude(buffer int) (<-chan AttitudeSample, func()) {
	return s.attitude.subscribe(buffer)
}

func (s *Stream) SubscribeBattery(buffer int) (<-chan BatterySample, func()) {
	return s.battery.subscribe(buffer)
}

func (s *Stream) SubscribeIMU(buffer int) (<-chan IMUSample, func()) {
	return s.imu.subscribe(buffer)
}

func (s *Stream) run(ctx context.Context, l channelLoop) {
	defer s.wg.Done()
	defer l.done()

	for s.running.Load() {
		wait := s.poll(ctx, l)
		select {
		case <-ctx.Done():
			log.WithField("channel", l.channel).Debugf("telemetry loop done: %v", ctx.Err())
			return
		case <-s.clock.After(wait):
		}
	}
}

// poll runs one iteration for a channel and returns how long to wait
// before the next one.
func (s *Stream) poll(ctx context.Context, l channelLoop) (wait time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("channel", l.channel).
				WithField("err", fmt.Sprint(r)).
				Error("telemetry connection panicked")
			wait = s.backoff
		}
	}()

	raw, err := s.conn.GetMessage(ctx, l.channel)
	if err != nil {
		log.WithField("channel", l.channel).
			WithField("err", err).
			Error("telemetry error")
		return s.backoff
	}
	// an empty map carries no reading
	if len(raw) > 0 {
		l.emit(raw, s.clock.Now())
	}
	return s.intervals[l.channel]
}
