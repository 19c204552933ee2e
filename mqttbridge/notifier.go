package mqttbridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jd3nn1s/dronesdk"
)

// Event is the JSON document published for each triggered event.
type Event struct {
	Name    string      `json:"event"`
	Time    time.Time   `json:"time"`
	Payload interface{} `json:"payload,omitempty"`
}

// Notifier publishes triggered events to <prefix>/events/<name>.
type Notifier struct {
	c      client
	prefix string
	now    func() time.Time
}

func NewNotifier(cfg dronesdk.MQTTConfig) (*Notifier, error) {
	c := newClient(clientOptions(cfg, "events"))
	if err := connect(c, cfg.Broker); err != nil {
		return nil, err
	}
	log.WithField("broker", cfg.Broker).Info("event notifier connected")
	return newNotifier(c, cfg.Prefix), nil
}

func newNotifier(c client, prefix string) *Notifier {
	return &Notifier{
		c:      c,
		prefix: prefix,
		now:    time.Now,
	}
}

func (n *Notifier) Topic(event string) string {
	return n.prefix + "/events/" + event
}

// Callback returns an event callback that publishes the named event.
func (n *Notifier) Callback(event string) dronesdk.Callback {
	return func(_ context.Context, payload interface{}) error {
		return n.Publish(event, payload)
	}
}

func (n *Notifier) Publish(event string, payload interface{}) error {
	data, err := json.Marshal(Event{
		Name:    event,
		Time:    n.now(),
		Payload: payload,
	})
	if err != nil {
		return errors.Wrapf(err, "unable to marshal %s event", event)
	}
	if err := wait(n.c.Publish(n.Topic(event), qos, false, data)); err != nil {
		return errors.Wrapf(err, "unable to publish %s event", event)
	}
	return nil
}

// Attach subscribes the notifier to the given events, or to every built in
// event when none are named.
func (n *Notifier) Attach(h *dronesdk.EventHandler, events ...string) []dronesdk.SubscriptionID {
	if len(events) == 0 {
		events = dronesdk.BuiltinEvents
	}
	ids := make([]dronesdk.SubscriptionID, 0, len(events))
	for _, event := range events {
		ids = append(ids, h.On(event, n.Callback(event)))
	}
	return ids
}

func (n *Notifier) Close() error {
	n.c.Disconnect(disconnectQuiesce)
	return nil
}
