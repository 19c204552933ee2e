package dronesdk

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

const (
	EventLowBattery         = "low_battery"
	EventCriticalBattery    = "critical_battery"
	EventPoorGPSSignal      = "poor_gps_signal"
	EventExcessiveVibration = "excessive_vibration"
)

// BuiltinEvents are the events raised by the telemetry monitors.
var BuiltinEvents = []string{
	EventLowBattery,
	EventCriticalBattery,
	EventPoorGPSSignal,
	EventExcessiveVibration,
}

// Callback handles a triggered event. Returned errors and panics are
// logged and do not stop later callbacks.
type Callback func(ctx context.Context, payload interface{}) error

type SubscriptionID string

type Subscription struct {
	ID       SubscriptionID
	Event    string
	Order    uint64
	Callback Callback
}

// EventHandler maps event names to callbacks invoked in registration
// order, and runs the telemetry monitors that trigger them.
type EventHandler struct {
	mu        sync.RWMutex
	callbacks map[string][]Subscription
	order     uint64

	monitorMu  sync.Mutex
	stop       chan struct{}
	monitoring atomic.Bool
	monitors   sync.WaitGroup
	config     MonitorConfig
	clock      clock.Clock
}

func NewEventHandler(config MonitorConfig) *EventHandler {
	return &EventHandler{
		callbacks: map[string][]Subscription{},
		config:    config.withDefaults(),
		clock:     clock.New(),
	}
}

// On registers cb for the named event and returns an ID that can be
// passed to Off.
func (h *EventHandler) On(name string, cb Callback) SubscriptionID {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.order++
	sub := Subscription{
		ID:       SubscriptionID(uuid.NewString()),
		Event:    name,
		Order:    h.order,
		Callback: cb,
	}
	h.callbacks[name] = append(h.callbacks[name], sub)
	return sub.ID
}

// Off removes the given subscriptions from the named event. Without IDs
// every callback for the event is removed.
func (h *EventHandler) Off(name string, ids ...SubscriptionID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.callbacks[name]
	if !ok {
		return
	}
	if len(ids) == 0 {
		h.callbacks[name] = nil
		return
	}

	remove := make(map[SubscriptionID]struct{}, len(ids))
	for _, id := range ids {
		remove[id] = struct{}{}
	}
	kept := subs[:0:0]
	for _, s := range subs {
		if _, ok := remove[s.ID]; !ok {
			kept = append(kept, s)
		}
	}
	h.callbacks[name] = kept
}

// Subscriptions returns the callbacks registered for name in invocation
// order.
func (h *EventHandler) Subscriptions(name string) []Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Subscription(nil), h.callbacks[name]...)
}

// Trigger invokes every callback registered for name in order. It returns
// the combined callback errors, which have already been logged.
func (h *EventHandler) Trigger(ctx context.Context, name string, payload interface{}) error {
	var errs error
	for _, sub := range h.Subscriptions(name) {
		if err := invoke(ctx, sub, payload); err != nil {
			log.WithField("event", name).
				WithField("err", err).
				Error("error in event callback")
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func invoke(ctx context.Context, sub Subscription, payload interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("callback %s panicked: %s", sub.ID, fmt.Sprint(r))
		}
	}()
	if err := sub.Callback(ctx, payload); err != nil {
		return errors.Wrapf(err, "callback %s", sub.ID)
	}
	return nil
}
