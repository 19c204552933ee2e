package dronesdk

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/jd3nn1s/dronesdk/canbattery"
)

type alertSender interface {
	SendAlert(canbattery.AlertLevel) error
}

// CANAlertForwarder tells the battery over CAN how urgent its charge level
// is. A frame is only sent when the level changes.
type CANAlertForwarder struct {
	bus    alertSender
	config MonitorConfig

	mu   sync.Mutex
	sent bool
	last canbattery.AlertLevel
}

func NewCANAlertForwarder(bus alertSender, config MonitorConfig) *CANAlertForwarder {
	return &CANAlertForwarder{
		bus:    bus,
		config: config.withDefaults(),
	}
}

func (fwd *CANAlertForwarder) Forward(newState *FusedState, _ *FusedState) error {
	// zero until the first battery sample arrives
	if newState.BatteryRemaining == 0 {
		return nil
	}
	level := fwd.level(newState.BatteryRemaining)

	fwd.mu.Lock()
	defer fwd.mu.Unlock()
	if fwd.sent && level == fwd.last {
		return nil
	}
	if err := fwd.bus.SendAlert(level); err != nil {
		return errors.Wrap(err, "unable to forward battery alert")
	}
	fwd.sent = true
	fwd.last = level
	return nil
}

func (fwd *CANAlertForwarder) level(remaining float64) canbattery.AlertLevel {
	switch {
	case remaining < fwd.config.CriticalBattery:
		return canbattery.AlertCritical
	case remaining < fwd.config.LowBattery:
		return canbattery.AlertLow
	}
	return canbattery.AlertNone
}
