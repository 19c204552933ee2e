package mqttbridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jd3nn1s/dronesdk"
)

type tokenStub struct {
	err error
}

func (t *tokenStub) Wait() bool                     { return true }
func (t *tokenStub) WaitTimeout(time.Duration) bool { return true }
func (t *tokenStub) Error() error                   { return t.err }

func (t *tokenStub) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	payload []byte
}

type clientStub struct {
	mu           sync.Mutex
	connectErr   error
	subscribeErr error
	publishErr   error
	published    []published
	handlers     map[string]mqtt.MessageHandler
	disconnected bool
}

func newClientStub() *clientStub {
	return &clientStub{handlers: map[string]mqtt.MessageHandler{}}
}

func (c *clientStub) Connect() mqtt.Token {
	return &tokenStub{err: c.connectErr}
}

func (c *clientStub) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return &tokenStub{err: c.publishErr}
	}
	c.published = append(c.published, published{topic: topic, payload: payload.([]byte)})
	return &tokenStub{}
}

func (c *clientStub) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	if c.subscribeErr != nil {
		return &tokenStub{err: c.subscribeErr}
	}
	c.handlers[topic] = callback
	return &tokenStub{}
}

func (c *clientStub) Disconnect(uint) {
	c.disconnected = true
}

type messageStub struct {
	topic   string
	payload []byte
}

func (m *messageStub) Duplicate() bool   { return false }
func (m *messageStub) Qos() byte         { return 0 }
func (m *messageStub) Retained() bool    { return false }
func (m *messageStub) Topic() string     { return m.topic }
func (m *messageStub) MessageID() uint16 { return 0 }
func (m *messageStub) Payload() []byte   { return m.payload }
func (m *messageStub) Ack()              {}

func withClient(t *testing.T, stub *clientStub) {
	orig := newClient
	newClient = func(*mqtt.ClientOptions) client { return stub }
	t.Cleanup(func() { newClient = orig })
}

func TestNotifier(t *testing.T) {
	stub := newClientStub()
	withClient(t, stub)

	n, err := NewNotifier(dronesdk.MQTTConfig{Broker: "tcp://localhost:1883", Prefix: "fleet/7"})
	require.NoError(t, err)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return ts }

	h := dronesdk.NewEventHandler(dronesdk.MonitorConfig{})
	ids := n.Attach(h)
	assert.Len(t, ids, 4)

	require.NoError(t, h.Trigger(context.Background(), dronesdk.EventLowBattery,
		dronesdk.BatterySample{Remaining: 15}))
	require.NoError(t, h.Trigger(context.Background(), dronesdk.EventExcessiveVibration, nil))

	require.Len(t, stub.published, 2)
	assert.Equal(t, "fleet/7/events/low_battery", stub.published[0].topic)
	assert.Equal(t, "fleet/7/events/excessive_vibration", stub.published[1].topic)

	var e struct {
		Name    string                 `json:"event"`
		Time    time.Time              `json:"time"`
		Payload map[string]interface{} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(stub.published[0].payload, &e))
	assert.Equal(t, dronesdk.EventLowBattery, e.Name)
	assert.True(t, ts.Equal(e.Time))
	assert.Equal(t, 15.0, e.Payload["Remaining"])

	assert.NotContains(t, string(stub.published[1].payload), "payload")

	assert.NoError(t, n.Close())
	assert.True(t, stub.disconnected)
}

func TestNotifierPublishError(t *testing.T) {
	stub := newClientStub()
	stub.publishErr = assert.AnError
	n := newNotifier(stub, "dronesdk")

	h := dronesdk.NewEventHandler(dronesdk.MonitorConfig{})
	n.Attach(h, dronesdk.EventPoorGPSSignal)
	assert.Error(t, h.Trigger(context.Background(), dronesdk.EventPoorGPSSignal, nil))
	assert.Len(t, h.Subscriptions(dronesdk.EventLowBattery), 0)
}

func TestNotifierConnectError(t *testing.T) {
	stub := newClientStub()
	stub.connectErr = assert.AnError
	withClient(t, stub)

	_, err := NewNotifier(dronesdk.MQTTConfig{Broker: "tcp://localhost:1883"})
	assert.Error(t, err)
}

func TestSource(t *testing.T) {
	stub := newClientStub()
	withClient(t, stub)

	s, err := NewSource(dronesdk.MQTTConfig{Broker: "tcp://localhost:1883", Prefix: "dronesdk"})
	require.NoError(t, err)
	handler, ok := stub.handlers["dronesdk/telemetry/+"]
	require.True(t, ok)

	ctx := context.Background()
	f, err := s.GetMessage(ctx, dronesdk.ChannelGPS)
	require.NoError(t, err)
	assert.Nil(t, f)

	handler(nil, &messageStub{topic: "dronesdk/telemetry/gps", payload: []byte(`{"lat":47.1,"lon":8.5,"alt":400,"hdop":0.9}`)})
	handler(nil, &messageStub{topic: "dronesdk/telemetry/radar", payload: []byte(`{"range":1}`)})
	handler(nil, &messageStub{topic: "dronesdk/telemetry/imu", payload: []byte(`not json`)})

	f, err = s.GetMessage(ctx, dronesdk.ChannelGPS)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, 47.1, f.Float("lat"))
	assert.Equal(t, 400.0, f.Float("alt"))

	f, err = s.GetMessage(ctx, dronesdk.ChannelIMU)
	require.NoError(t, err)
	assert.Nil(t, f, "undecodable payload is dropped")

	assert.NoError(t, s.Close())
	_, err = s.GetMessage(ctx, dronesdk.ChannelGPS)
	assert.Error(t, err)
}

func TestSourceSubscribeError(t *testing.T) {
	stub := newClientStub()
	stub.subscribeErr = assert.AnError
	withClient(t, stub)

	_, err := NewSource(dronesdk.MQTTConfig{Broker: "tcp://localhost:1883", Prefix: "dronesdk"})
	assert.Error(t, err)
	assert.True(t, stub.disconnected)
}

func TestChannelFromTopic(t *testing.T) {
	ch, ok := channelFromTopic("a/b/telemetry/attitude")
	assert.True(t, ok)
	assert.Equal(t, dronesdk.ChannelAttitude, ch)

	_, ok = channelFromTopic("nochannel")
	assert.False(t, ok)
}

func TestRegistered(t *testing.T) {
	stub := newClientStub()
	withClient(t, stub)

	cfg := dronesdk.DefaultConfig()
	cfg.Source.Kind = "mqtt"
	_, err := dronesdk.NewConnection(cfg)
	assert.Error(t, err, "no broker configured")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	conn, err := dronesdk.NewConnection(cfg)
	require.NoError(t, err)
	assert.IsType(t, &Source{}, conn)
}
