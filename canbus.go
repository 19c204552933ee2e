package dronesdk

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jd3nn1s/dronesdk/canbattery"
)

// CANBattery serves battery fields decoded from a smart battery on a CAN
// bus. Each frame updates one value; the newest complete set is published.
type CANBattery struct {
	c        CANBus
	portName string
	cache    *FieldCache

	mu   sync.Mutex
	data BatteryReading
}

// BatteryReading is the last known value of each battery frame.
type BatteryReading struct {
	Voltage   float64
	Current   float64
	Remaining float64
}

func NewCANBattery(portName string) *CANBattery {
	return &CANBattery{
		portName: portName,
		cache:    NewFieldCache("can battery"),
	}
}

var canBusConnect = func(p string) (CANBus, error) {
	return canbattery.Connect(p)
}

func (bus *CANBattery) Open() error {
	c, err := canBusConnect(bus.portName)
	bus.mu.Lock()
	bus.c = c
	bus.mu.Unlock()
	if err == nil {
		bus.cache.SetConnected(true)
	}
	return err
}

func (bus *CANBattery) Close() error {
	bus.cache.SetConnected(false)
	bus.mu.Lock()
	c := bus.c
	bus.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

func (bus *CANBattery) Start(ctx context.Context) error {
	return bus.c.Start(ctx, canbattery.Callbacks{
		Voltage: func(v float64) {
			bus.update(func(d *BatteryReading) { d.Voltage = v })
		},
		Current: func(v float64) {
			bus.update(func(d *BatteryReading) { d.Current = v })
		},
		Remaining: func(v float64) {
			bus.update(func(d *BatteryReading) { d.Remaining = v })
		},
	})
}

func (bus *CANBattery) update(fn func(*BatteryReading)) {
	bus.mu.Lock()
	fn(&bus.data)
	data := bus.data
	bus.mu.Unlock()

	bus.cache.Put(ChannelBattery, Fields{
		"voltage":   data.Voltage,
		"current":   data.Current,
		"remaining": data.Remaining,
	})
}

func (bus *CANBattery) Name() string {
	return "can battery"
}

func (bus *CANBattery) Run(ctx context.Context) error {
	return Retry(ctx, bus)
}

func (bus *CANBattery) GetMessage(_ context.Context, ch Channel) (Fields, error) {
	if ch != ChannelBattery {
		return nil, nil
	}
	return bus.cache.Get(ch)
}

// SendAlert publishes the battery alert level on the bus.
func (bus *CANBattery) SendAlert(level canbattery.AlertLevel) error {
	bus.mu.Lock()
	c := bus.c
	bus.mu.Unlock()
	if c == nil {
		return errors.New("canbus is not initialized")
	}
	if err := c.SendAlert(level); err != nil {
		return errors.Wrapf(err, "unable to send alert %d to CAN bus", level)
	}
	log.WithField("level", level).Debug("battery alert sent")
	return nil
}
