// Package mqtt publishes the alarm state over MQTT, exposes Home Assistant
// discovery, accepts commands and feeds entity states from MQTT topics.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/logger"
	"github.com/oshokin/alarm-panel/internal/metrics"
	"github.com/oshokin/alarm-panel/internal/service/entities"
)

const (
	offlinePayload = "offline"
	onlinePayload  = "online"

	gatewayName = "mqtt"

	disconnectQuiesce = 250
)

var errNotConnected = errors.New("mqtt client is not connected")

// Commander performs user commands received over MQTT.
type Commander interface {
	Arm(ctx context.Context, mode alarm.State, actor *alarm.Actor, rawCode string) (*alarm.Snapshot, error)
	Disarm(ctx context.Context, actor *alarm.Actor, rawCode string) (*alarm.Snapshot, error)
	Trigger(ctx context.Context, actor *alarm.Actor) (*alarm.Snapshot, error)
}

// EntitySink receives entity states published on MQTT.
type EntitySink interface {
	Apply(ctx context.Context, u entities.Update) (entities.Change, bool, error)
}

// Options configure the gateway.
type Options struct {
	Broker          string
	ClientID        string
	Username        string
	Password        string
	Prefix          string
	DiscoveryPrefix string
	Name            string
	QoS             byte
	PublishTimeout  time.Duration
	CodeRequired    bool
}

// client is the subset of the paho client the gateway uses.
type client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Gateway is the MQTT adapter.
type Gateway struct {
	opts      Options
	topics    *Topics
	client    client
	commander Commander
	entities  EntitySink
	// ctx is the base context for callbacks coming from the paho goroutines.
	ctx context.Context //nolint:containedctx // Callbacks have no context of their own.
	// last is the most recent state to republish after a reconnect.
	last func(ctx context.Context) (*alarm.Snapshot, error)
}

// New creates a gateway. commander and sink may be nil to disable commands or entity ingest.
func New(
	ctx context.Context,
	opts Options,
	commander Commander,
	sink EntitySink,
	current func(ctx context.Context) (*alarm.Snapshot, error),
) *Gateway {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}

	if opts.DiscoveryPrefix == "" {
		opts.DiscoveryPrefix = "homeassistant"
	}

	if opts.Name == "" {
		opts.Name = "Alarm Panel"
	}

	return &Gateway{
		opts:      opts,
		topics:    NewTopics(opts.Prefix),
		commander: commander,
		entities:  sink,
		ctx:       logger.WithName(ctx, gatewayName),
		last:      current,
	}
}

// Topics returns the topic builder.
func (g *Gateway) Topics() *Topics {
	return g.topics
}

// Connect dials the broker. Subscriptions and the initial publish happen in the
// connect handler so they are restored after every reconnect.
func (g *Gateway) Connect() error {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(g.opts.Broker)
	opts.SetClientID(g.opts.ClientID)
	opts.SetUsername(g.opts.Username)
	opts.SetPassword(g.opts.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { g.onConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.ErrorKV(g.ctx, "MQTT connection lost", "error", err)
	})
	opts.SetWill(g.topics.Availability(), offlinePayload, g.opts.QoS, true)

	c := pahomqtt.NewClient(opts)
	g.client = c

	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	logger.InfoKV(g.ctx, "Connected to MQTT broker", "broker", g.opts.Broker)

	return nil
}

func (g *Gateway) onConnect() {
	logger.Info(g.ctx, "MQTT connection established")

	if err := g.Publish(g.ctx, g.topics.Availability(), onlinePayload, true); err != nil {
		logger.ErrorKV(g.ctx, "Failed to publish availability", "error", err)
	}

	g.subscribe()
	g.publishDiscovery()

	if g.last == nil {
		return
	}

	snapshot, err := g.last(g.ctx)
	if err != nil {
		logger.ErrorKV(g.ctx, "Failed to read alarm state for MQTT", "error", err)

		return
	}

	g.StateChanged(g.ctx, snapshot)
}

func (g *Gateway) subscribe() {
	topics := make(map[string]pahomqtt.MessageHandler, 2)

	if g.commander != nil {
		topics[g.topics.Command()] = g.handleCommand
	}

	if g.entities != nil {
		topics[g.topics.Entities()] = g.handleEntity
	}

	for topic, handler := range topics {
		token := g.client.Subscribe(topic, g.opts.QoS, handler)
		if token.WaitTimeout(g.opts.PublishTimeout) && token.Error() != nil {
			logger.ErrorKV(g.ctx, "Failed to subscribe", "topic", topic, "error", token.Error())

			continue
		}

		logger.DebugKV(g.ctx, "Subscribed to topic", "topic", topic)
	}
}

// StateChanged publishes the retained state and attributes.
func (g *Gateway) StateChanged(ctx context.Context, snapshot *alarm.Snapshot) {
	if err := g.Publish(ctx, g.topics.State(), string(snapshot.CurrentState), true); err != nil {
		logger.ErrorKV(ctx, "Failed to publish alarm state", "error", err)
	}

	if err := g.Publish(ctx, g.topics.Attributes(), Attributes(snapshot), true); err != nil {
		logger.ErrorKV(ctx, "Failed to publish alarm attributes", "error", err)
	}
}

// Export publishes an event on the events topic.
func (g *Gateway) Export(ctx context.Context, event *alarm.Event) error {
	return g.Publish(ctx, g.topics.Events(), event, false)
}

// Publish sends payload to topic. Strings and byte slices are sent as-is,
// anything else is JSON encoded.
func (g *Gateway) Publish(_ context.Context, topic string, payload any, retain bool) error {
	started := time.Now()

	err := g.publish(topic, payload, retain)
	metrics.ObserveGatewayCall(gatewayName, err, time.Since(started))

	return err
}

func (g *Gateway) publish(topic string, payload any, retain bool) error {
	if g.client == nil || !g.client.IsConnected() {
		return errNotConnected
	}

	var data []byte

	switch p := payload.(type) {
	case string:
		data = []byte(p)
	case []byte:
		data = p
	default:
		encoded, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal message for topic %s: %w", topic, err)
		}

		data = encoded
	}

	token := g.client.Publish(topic, g.opts.QoS, retain, data)
	if !token.WaitTimeout(g.opts.PublishTimeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message to topic %s: %w", topic, err)
	}

	return nil
}

func (g *Gateway) handleCommand(_ pahomqtt.Client, msg pahomqtt.Message) {
	ctx := logger.WithKV(g.ctx, "topic", msg.Topic())

	cmd, err := ParseCommand(msg.Payload())
	if err != nil {
		logger.WarnKV(ctx, "Ignoring MQTT command", "error", err)

		return
	}

	actor := &alarm.Actor{Username: gatewayName, Source: gatewayName}

	switch {
	case cmd.Action == CommandDisarm:
		_, err = g.commander.Disarm(ctx, actor, cmd.Code)
	case cmd.Action == CommandTrigger:
		_, err = g.commander.Trigger(ctx, actor)
	default:
		mode, _ := cmd.ArmMode()
		_, err = g.commander.Arm(ctx, mode, actor, cmd.Code)
	}

	if err != nil {
		logger.WarnKV(ctx, "MQTT command failed", "action", cmd.Action, "error", err)

		return
	}

	logger.InfoKV(ctx, "MQTT command applied", "action", cmd.Action)
}

func (g *Gateway) handleEntity(_ pahomqtt.Client, msg pahomqtt.Message) {
	entityID, ok := g.topics.EntityID(msg.Topic())
	if !ok {
		return
	}

	if _, _, err := g.entities.Apply(g.ctx, entities.Update{EntityID: entityID, State: string(msg.Payload())}); err != nil {
		logger.ErrorKV(g.ctx, "Failed to apply MQTT entity state", "entity_id", entityID, "error", err)
	}
}

// Close publishes offline and disconnects.
func (g *Gateway) Close() {
	if g.client == nil || !g.client.IsConnected() {
		return
	}

	if err := g.Publish(g.ctx, g.topics.Availability(), offlinePayload, true); err != nil {
		logger.WarnKV(g.ctx, "Failed to publish offline status", "error", err)
	}

	g.client.Disconnect(disconnectQuiesce)
}

// Attributes renders the snapshot details published next to the state.
func Attributes(snapshot *alarm.Snapshot) map[string]any {
	attrs := map[string]any{
		"state":          snapshot.CurrentState,
		"previous_state": snapshot.PreviousState,
		"entered_at":     snapshot.EnteredAt.Format(time.RFC3339),
		"reason":         snapshot.LastReason,
		"profile":        snapshot.ProfileName,
	}

	if snapshot.TargetArmedState != "" {
		attrs["target_armed_state"] = snapshot.TargetArmedState
	}

	if snapshot.ExitAt != nil {
		attrs["exit_at"] = snapshot.ExitAt.Format(time.RFC3339)
	}

	if snapshot.LastActor != nil {
		attrs["actor"] = snapshot.LastActor.String()
	}

	return attrs
}
