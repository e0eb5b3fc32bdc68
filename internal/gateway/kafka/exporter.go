// Package kafka exports alarm events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/metrics"
)

const gatewayName = "kafka"

var errNoBrokers = errors.New("kafka: no brokers configured")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Exporter writes each event as a JSON message keyed by event type.
type Exporter struct {
	writer messageWriter
}

// NewExporter creates a synchronous writer for topic.
func NewExporter(brokers []string, topic string) (*Exporter, error) {
	if len(brokers) == 0 {
		return nil, errNoBrokers
	}

	return &Exporter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}, nil
}

// Export writes one event.
func (e *Exporter) Export(ctx context.Context, event *alarm.Event) error {
	started := time.Now()

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: encode event %s: %w", event.ID, err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Type),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}

	err = e.writer.WriteMessages(ctx, msg)
	metrics.ObserveGatewayCall(gatewayName, err, time.Since(started))

	if err != nil {
		return fmt.Errorf("kafka: write event %s: %w", event.ID, err)
	}

	return nil
}

// Close flushes and closes the writer.
func (e *Exporter) Close() error {
	return e.writer.Close()
}
