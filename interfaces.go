package dronesdk

import (
	"context"

	"github.com/jd3nn1s/skytraq"

	"github.com/jd3nn1s/dronesdk/canbattery"
)

type GPS interface {
	Close() error
	Start(context.Context, skytraq.Callbacks) error
}

type CANBus interface {
	Close() error
	Start(context.Context, canbattery.Callbacks) error
	SendAlert(canbattery.AlertLevel) error
}

// Forwarder receives the fused state whenever it changes.
type Forwarder interface {
	Forward(newState *FusedState, prevState *FusedState) error
}

// RangeFinder supplies a ground distance in metres for altitude fusion.
// ok is false when no reading is available.
type RangeFinder interface {
	Distance() (d float64, ok bool)
}
