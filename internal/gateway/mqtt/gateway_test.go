package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/service/entities"
)

type tokenFake struct {
	err error
}

func (t *tokenFake) Wait() bool                     { return true }
func (t *tokenFake) WaitTimeout(time.Duration) bool { return true }
func (t *tokenFake) Error() error                   { return t.err }

func (t *tokenFake) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)

	return ch
}

type published struct {
	topic   string
	retain  bool
	payload string
}

type clientFake struct {
	mu        sync.Mutex
	published []published
	handlers  map[string]pahomqtt.MessageHandler
}

func (c *clientFake) IsConnected() bool { return true }
func (c *clientFake) Disconnect(uint)   {}

func (c *clientFake) Publish(topic string, _ byte, retained bool, payload any) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.published = append(c.published, published{topic: topic, retain: retained, payload: string(payload.([]byte))})

	return &tokenFake{}
}

func (c *clientFake) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handlers == nil {
		c.handlers = make(map[string]pahomqtt.MessageHandler)
	}

	c.handlers[topic] = callback

	return &tokenFake{}
}

func (c *clientFake) last(topic string) (published, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.published) - 1; i >= 0; i-- {
		if c.published[i].topic == topic {
			return c.published[i], true
		}
	}

	return published{}, false
}

type messageFake struct {
	topic   string
	payload []byte
}

func (m *messageFake) Duplicate() bool   { return false }
func (m *messageFake) Qos() byte         { return 0 }
func (m *messageFake) Retained() bool    { return false }
func (m *messageFake) Topic() string     { return m.topic }
func (m *messageFake) MessageID() uint16 { return 0 }
func (m *messageFake) Payload() []byte   { return m.payload }
func (m *messageFake) Ack()              {}

type commanderFake struct {
	calls []string
}

func (c *commanderFake) Arm(_ context.Context, mode alarm.State, _ *alarm.Actor, code string) (*alarm.Snapshot, error) {
	c.calls = append(c.calls, "arm:"+string(mode)+":"+code)

	return &alarm.Snapshot{}, nil
}

func (c *commanderFake) Disarm(_ context.Context, _ *alarm.Actor, code string) (*alarm.Snapshot, error) {
	c.calls = append(c.calls, "disarm:"+code)

	return &alarm.Snapshot{}, nil
}

func (c *commanderFake) Trigger(context.Context, *alarm.Actor) (*alarm.Snapshot, error) {
	c.calls = append(c.calls, "trigger")

	return &alarm.Snapshot{}, nil
}

func newTestGateway(commander Commander, sink EntitySink) (*Gateway, *clientFake) {
	current := func(context.Context) (*alarm.Snapshot, error) {
		return &alarm.Snapshot{CurrentState: alarm.StateDisarmed, EnteredAt: time.Unix(0, 0).UTC()}, nil
	}

	g := New(context.Background(), Options{Prefix: "alarm_panel", CodeRequired: true}, commander, sink, current)
	fake := &clientFake{}
	g.client = fake

	return g, fake
}

// TestSlugify verifies accents and punctuation are normalized.
func TestSlugify(t *testing.T) {
	t.Parallel()

	require.Equal(t, "cafe-front-door", Slugify("Café  Front/Door!"))
	require.Equal(t, "alarm-panel", Slugify("alarm_panel"))
}

// TestTopics verifies topic names and entity extraction.
func TestTopics(t *testing.T) {
	t.Parallel()

	topics := NewTopics("home/alarm/")
	require.Equal(t, "home/alarm/state", topics.State())
	require.Equal(t, "home/alarm/entity/+", topics.Entities())
	require.Equal(t, "homeassistant/alarm_control_panel/home-alarm/panel/config",
		topics.Discovery("homeassistant", "alarm_control_panel", "panel"))

	id, ok := topics.EntityID(topics.Entity("binary_sensor.door"))
	require.True(t, ok)
	require.Equal(t, "binary_sensor.door", id)

	_, ok = topics.EntityID("home/alarm/entity/a/b")
	require.False(t, ok)
}

// TestParseCommand verifies bare and JSON command payloads.
func TestParseCommand(t *testing.T) {
	t.Parallel()

	cmd, err := ParseCommand([]byte("arm_away"))
	require.NoError(t, err)

	mode, ok := cmd.ArmMode()
	require.True(t, ok)
	require.Equal(t, alarm.StateArmedAway, mode)

	cmd, err = ParseCommand([]byte(`{"action":"DISARM","code":"1234"}`))
	require.NoError(t, err)
	require.Equal(t, Command{Action: CommandDisarm, Code: "1234"}, cmd)

	_, ok = cmd.ArmMode()
	require.False(t, ok)

	for _, bad := range []string{"", "  ", "SELF_DESTRUCT", `{"code":"1"}`, `{broken`} {
		_, err = ParseCommand([]byte(bad))
		require.Error(t, err, bad)
	}
}

// TestGateway_OnConnect verifies availability, discovery, subscriptions and the state are published.
func TestGateway_OnConnect(t *testing.T) {
	t.Parallel()

	g, fake := newTestGateway(&commanderFake{}, entities.NewIngestor(entities.NewMemoryStore()))
	g.onConnect()

	msg, ok := fake.last(g.topics.Availability())
	require.True(t, ok)
	require.Equal(t, onlinePayload, msg.payload)
	require.True(t, msg.retain)

	msg, ok = fake.last(g.topics.State())
	require.True(t, ok)
	require.Equal(t, "disarmed", msg.payload)

	msg, ok = fake.last(g.topics.Discovery("homeassistant", componentAlarmPanel, "panel"))
	require.True(t, ok)

	var discovery map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg.payload), &discovery))
	require.Equal(t, g.topics.Command(), discovery["command_topic"])
	require.Equal(t, "REMOTE_CODE", discovery["code"])

	require.Contains(t, fake.handlers, g.topics.Command())
	require.Contains(t, fake.handlers, g.topics.Entities())
}

// TestGateway_Handlers verifies commands and entity states are dispatched.
func TestGateway_Handlers(t *testing.T) {
	t.Parallel()

	commander := &commanderFake{}
	ingestor := entities.NewIngestor(entities.NewMemoryStore())
	g, _ := newTestGateway(commander, ingestor)

	g.handleCommand(nil, &messageFake{topic: g.topics.Command(), payload: []byte(`{"action":"ARM_NIGHT","code":"42"}`)})
	g.handleCommand(nil, &messageFake{topic: g.topics.Command(), payload: []byte("DISARM")})
	g.handleCommand(nil, &messageFake{topic: g.topics.Command(), payload: []byte("TRIGGER")})
	g.handleCommand(nil, &messageFake{topic: g.topics.Command(), payload: []byte("bogus")})
	require.Equal(t, []string{"arm:armed_night:42", "disarm:", "trigger"}, commander.calls)

	g.handleEntity(nil, &messageFake{topic: g.topics.Entity("binary_sensor.door"), payload: []byte("on")})

	state, ok, err := ingestor.Store().Get(context.Background(), "binary_sensor.door")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "on", state)
}

// TestGateway_Export verifies events are JSON encoded and not retained.
func TestGateway_Export(t *testing.T) {
	t.Parallel()

	g, fake := newTestGateway(nil, nil)

	require.NoError(t, g.Export(context.Background(), &alarm.Event{ID: "e1", Type: alarm.EventArmed}))

	msg, ok := fake.last(g.topics.Events())
	require.True(t, ok)
	require.False(t, msg.retain)
	require.Contains(t, msg.payload, `"event_type":"armed"`)
}

// TestGateway_NotConnected verifies publishing without a client fails.
func TestGateway_NotConnected(t *testing.T) {
	t.Parallel()

	g := New(context.Background(), Options{Prefix: "p"}, nil, nil, nil)
	require.ErrorIs(t, g.Publish(context.Background(), "t", "x", false), errNotConnected)
}
