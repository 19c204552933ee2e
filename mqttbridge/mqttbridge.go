// Package mqttbridge connects a drone to an MQTT broker: events are
// published as they fire and telemetry published by other processes can be
// used as a connection.
package mqttbridge

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/jd3nn1s/dronesdk"
)

const (
	qos            = 0
	connectTimeout = 5 * time.Second
	// milliseconds to let in flight messages finish on disconnect
	disconnectQuiesce = 250
)

// client is the part of mqtt.Client the bridge uses.
type client interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
}

var newClient = func(opts *mqtt.ClientOptions) client {
	return mqtt.NewClient(opts)
}

func clientOptions(cfg dronesdk.MQTTConfig, role string) *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID + "-" + role).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)
}

func connect(c client, broker string) error {
	if err := wait(c.Connect()); err != nil {
		return errors.Wrapf(err, "unable to connect to mqtt broker %s", broker)
	}
	return nil
}

func wait(token mqtt.Token) error {
	token.Wait()
	return token.Error()
}
