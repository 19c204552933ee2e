package dronesdk

import (
	"context"
	"sync"

	"github.com/jd3nn1s/skytraq"

	"github.com/jd3nn1s/dronesdk/canbattery"
)

type sensorStub struct {
	startChan chan struct{}
	errChan   chan error
	fnChan    chan func()
}

type skytraqStub struct {
	sensorStub
	callbacks skytraq.Callbacks
}

type canBusStub struct {
	sensorStub
	mu             sync.Mutex
	alert          canbattery.AlertLevel
	alertCallCount int
	alertErr       error
	callbacks      canbattery.Callbacks
}

func createSensorStub() *sensorStub {
	ret := sensorStub{
		startChan: make(chan struct{}),
		errChan:   make(chan error),
		fnChan:    make(chan func()),
	}
	return &ret
}

func (s *sensorStub) Close() error {
	return nil
}

func (s *sensorStub) start(ctx context.Context) error {
	select {
	case s.startChan <- struct{}{}:
	default:
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-s.errChan:
			return err
		case fn := <-s.fnChan:
			fn()
		}
	}
}

func createGPSStub() *skytraqStub {
	return &skytraqStub{
		sensorStub: *createSensorStub(),
	}
}

func (k *skytraqStub) Start(ctx context.Context, callbacks skytraq.Callbacks) error {
	k.callbacks = callbacks
	return k.sensorStub.start(ctx)
}

func createCANBusStub() *canBusStub {
	return &canBusStub{
		sensorStub: *createSensorStub(),
	}
}

func (c *canBusStub) Start(ctx context.Context, callbacks canbattery.Callbacks) error {
	c.callbacks = callbacks
	return c.sensorStub.start(ctx)
}

func (c *canBusStub) SendAlert(level canbattery.AlertLevel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.alertErr != nil {
		return c.alertErr
	}
	c.alertCallCount++
	c.alert = level
	return nil
}

type forwarderStub struct {
	mu    sync.Mutex
	count int
	state FusedState
}

func (fwd *forwarderStub) Forward(newState *FusedState, prevState *FusedState) error {
	fwd.mu.Lock()
	defer fwd.mu.Unlock()
	fwd.count++
	fwd.state = *newState
	return nil
}

func (fwd *forwarderStub) last() (FusedState, int) {
	fwd.mu.Lock()
	defer fwd.mu.Unlock()
	return fwd.state, fwd.count
}
