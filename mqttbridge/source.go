package mqttbridge

import (
	"context"
	"encoding/json"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/jd3nn1s/dronesdk"
)

func init() {
	dronesdk.RegisterConnection("mqtt", func(cfg dronesdk.Config) (dronesdk.Connection, error) {
		if cfg.MQTT.Broker == "" {
			return nil, errors.New("mqtt source needs a broker")
		}
		return NewSource(cfg.MQTT)
	})
}

// Source is a connection serving telemetry published as JSON field maps to
// <prefix>/telemetry/<channel>, e.g. dronesdk/telemetry/gps.
type Source struct {
	c      client
	prefix string
	cache  *dronesdk.FieldCache
}

func NewSource(cfg dronesdk.MQTTConfig) (*Source, error) {
	s := &Source{
		prefix: cfg.Prefix,
		cache:  dronesdk.NewFieldCache("mqtt telemetry"),
	}
	opts := clientOptions(cfg, "telemetry").
		SetOnConnectHandler(func(mqtt.Client) {
			s.cache.SetConnected(true)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithField("err", err).Warn("mqtt telemetry connection lost")
			s.cache.SetConnected(false)
		})
	s.c = newClient(opts)
	if err := connect(s.c, cfg.Broker); err != nil {
		return nil, err
	}
	if err := s.subscribe(); err != nil {
		s.c.Disconnect(disconnectQuiesce)
		return nil, err
	}
	return s, nil
}

func (s *Source) topic() string {
	return s.prefix + "/telemetry/+"
}

func (s *Source) subscribe() error {
	if err := wait(s.c.Subscribe(s.topic(), qos, s.handleMessage)); err != nil {
		return errors.Wrapf(err, "unable to subscribe to %s", s.topic())
	}
	s.cache.SetConnected(true)
	log.Infof("subscribed to %s", s.topic())
	return nil
}

func (s *Source) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	ch, ok := channelFromTopic(msg.Topic())
	if !ok {
		log.WithField("topic", msg.Topic()).Debug("ignoring telemetry for unknown channel")
		return
	}
	var f dronesdk.Fields
	if err := json.Unmarshal(msg.Payload(), &f); err != nil {
		log.WithField("topic", msg.Topic()).
			WithField("err", err).
			Warn("unable to decode telemetry")
		return
	}
	s.cache.Put(ch, f)
}

func channelFromTopic(topic string) (dronesdk.Channel, bool) {
	i := strings.LastIndexByte(topic, '/')
	ch := dronesdk.Channel(strings.ToUpper(topic[i+1:]))
	return ch, lo.Contains(dronesdk.Channels, ch)
}

func (s *Source) GetMessage(_ context.Context, ch dronesdk.Channel) (dronesdk.Fields, error) {
	return s.cache.Get(ch)
}

func (s *Source) Close() error {
	s.cache.SetConnected(false)
	s.c.Disconnect(disconnectQuiesce)
	return nil
}
