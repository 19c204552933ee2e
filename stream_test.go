package dronesdk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// connStub answers every channel from a function, counting calls.
type connStub struct {
	mu    sync.Mutex
	calls map[Channel]int
	fn    func(ch Channel, call int) (Fields, error)
}

func newConnStub(fn func(ch Channel, call int) (Fields, error)) *connStub {
	return &connStub{calls: map[Channel]int{}, fn: fn}
}

func (c *connStub) GetMessage(_ context.Context, ch Channel) (Fields, error) {
	c.mu.Lock()
	c.calls[ch]++
	call := c.calls[ch]
	c.mu.Unlock()
	return c.fn(ch, call)
}

func (c *connStub) count(ch Channel) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[ch]
}

var fastIntervals = map[Channel]time.Duration{
	ChannelGPS:      time.Millisecond,
	ChannelAttitude: time.Millisecond,
	ChannelBattery:  time.Millisecond,
	ChannelIMU:      time.Millisecond,
}

func TestStreamEmitsTypedSamples(t *testing.T) {
	conn := newConnStub(func(ch Channel, call int) (Fields, error) {
		switch ch {
		case ChannelGPS:
			return Fields{"lat": 47.5, "lon": 8.25, "alt": 410, "hdop": 0.9}, nil
		case ChannelAttitude:
			return Fields{"roll": 0.1, "pitch": "0.2", "yaw": 3}, nil
		case ChannelBattery:
			return Fields{"voltage": 12.1, "current": 9.5, "remaining": 77}, nil
		case ChannelIMU:
			return Fields{"accel_x": 0.5, "accel_z": 9.8, "gyro_y": int32(2)}, nil
		}
		return nil, nil
	})
	s := NewStream(conn, WithIntervals(fastIntervals))

	gps, unsubGPS := s.SubscribeGPS(1)
	defer unsubGPS()
	att, unsubAtt := s.SubscribeAttitude(1)
	defer unsubAtt()
	bat, unsubBat := s.SubscribeBattery(1)
	defer unsubBat()
	imu, unsubIMU := s.SubscribeIMU(1)
	defer unsubIMU()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	assert.True(t, s.Running())

	g := <-gps
	assert.Equal(t, 47.5, g.Lat)
	assert.Equal(t, 8.25, g.Lon)
	assert.Equal(t, 410.0, g.Alt)
	assert.Equal(t, 0.9, g.HDOP)
	assert.False(t, g.Timestamp.IsZero())

	a := <-att
	assert.Equal(t, AttitudeSample{Roll: 0.1, Pitch: 0.2, Yaw: 3, Timestamp: a.Timestamp}, a)

	b := <-bat
	assert.Equal(t, 77.0, b.Remaining)
	assert.Equal(t, 12.1, b.Voltage)

	i := <-imu
	assert.Equal(t, 0.5, i.AccelX)
	assert.Equal(t, 0.0, i.AccelY, "missing fields read as zero")
	assert.Equal(t, 2.0, i.GyroY)

	s.Stop()
	assert.False(t, s.Running())
}

func TestStreamChannelErrorIsolated(t *testing.T) {
	conn := newConnStub(func(ch Channel, call int) (Fields, error) {
		if ch == ChannelGPS {
			return nil, assert.AnError
		}
		return Fields{"remaining": float64(call)}, nil
	})
	// a long backoff keeps the failing channel parked
	s := NewStream(conn, WithIntervals(fastIntervals), WithBackoff(time.Hour))

	bat, unsub := s.SubscribeBattery(64)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	for i := 0; i < 5; i++ {
		<-bat
	}
	assert.Equal(t, 1, conn.count(ChannelGPS), "failing channel polled again before its backoff")
	assert.GreaterOrEqual(t, conn.count(ChannelBattery), 5)

	// the backoff wait is cut short by the context
	cancel()
	s.Stop()
}

func TestStreamPanicIsolated(t *testing.T) {
	conn := newConnStub(func(ch Channel, call int) (Fields, error) {
		if ch == ChannelIMU {
			panic("driver bug")
		}
		return Fields{"lat": 1.0}, nil
	})
	s := NewStream(conn, WithIntervals(fastIntervals), WithBackoff(time.Millisecond))
	gps, unsub := s.SubscribeGPS(1)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	<-gps
	assert.Eventually(t, func() bool { return conn.count(ChannelIMU) >= 2 }, time.Second, time.Millisecond)
	s.Stop()
}

func TestStreamPoll(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	var next Fields
	var nextErr error
	conn := newConnStub(func(Channel, int) (Fields, error) { return next, nextErr })
	s := NewStream(conn, WithClock(mock), WithBackoff(3*time.Second))

	var emitted []time.Time
	l := channelLoop{
		channel: ChannelBattery,
		emit:    func(_ Fields, ts time.Time) { emitted = append(emitted, ts) },
		done:    func() {},
	}
	ctx := context.Background()

	// no data keeps the cadence without emitting
	assert.Equal(t, 500*time.Millisecond, s.poll(ctx, l))
	assert.Empty(t, emitted)

	next = Fields{"remaining": 50}
	assert.Equal(t, 500*time.Millisecond, s.poll(ctx, l))
	mock.Add(time.Second)
	assert.Equal(t, 500*time.Millisecond, s.poll(ctx, l))
	require.Len(t, emitted, 2)
	assert.Equal(t, time.Second, emitted[1].Sub(emitted[0]))

	nextErr = assert.AnError
	assert.Equal(t, 3*time.Second, s.poll(ctx, l))
	assert.Len(t, emitted, 2)
}

func TestStreamSkipsEmptyFields(t *testing.T) {
	conn := newConnStub(func(ch Channel, call int) (Fields, error) {
		if ch == ChannelGPS && call > 3 {
			return Fields{"lat": 1.5, "lon": 2.5}, nil
		}
		return Fields{}, nil
	})
	s := NewStream(conn, WithIntervals(fastIntervals))
	gps, unsubGPS := s.SubscribeGPS(4)
	defer unsubGPS()
	bat, unsubBat := s.SubscribeBattery(4)
	defer unsubBat()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	g := <-gps
	assert.Equal(t, 1.5, g.Lat, "empty maps before the first fix are not samples")
	assert.Eventually(t, func() bool { return conn.count(ChannelBattery) >= 5 }, time.Second, time.Millisecond)
	select {
	case b := <-bat:
		t.Fatalf("unexpected battery sample %+v", b)
	default:
	}
	s.Stop()
}

func TestStreamStartTwice(t *testing.T) {
	s := NewStream(newConnStub(func(Channel, int) (Fields, error) { return nil, nil }),
		WithIntervals(fastIntervals))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx))
	s.Stop()
}

func TestStreamStopClosesSubscribers(t *testing.T) {
	s := NewStream(newConnStub(func(Channel, int) (Fields, error) { return nil, nil }),
		WithIntervals(fastIntervals))
	gps, _ := s.SubscribeGPS(1)

	require.NoError(t, s.Start(context.Background()))
	s.Stop()

	_, ok := <-gps
	assert.False(t, ok)

	// subscribing after the stream ended yields a closed channel
	late, _ := s.SubscribeIMU(1)
	_, ok = <-late
	assert.False(t, ok)
}

func TestDefaultIntervals(t *testing.T) {
	s := NewStream(nil, WithIntervals(map[Channel]time.Duration{ChannelGPS: 0, ChannelIMU: 5 * time.Millisecond}))
	assert.Equal(t, 100*time.Millisecond, s.intervals[ChannelGPS], "zero keeps the default")
	assert.Equal(t, 20*time.Millisecond, s.intervals[ChannelAttitude])
	assert.Equal(t, 500*time.Millisecond, s.intervals[ChannelBattery])
	assert.Equal(t, 5*time.Millisecond, s.intervals[ChannelIMU])
}
