package entities

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/oshokin/alarm-panel/internal/logger"
)

// NATSSubscriber feeds entity updates published on a NATS subject into an Ingestor.
type NATSSubscriber struct {
	nc  *nats.Conn
	sub *nats.Subscription
}

// NATSOptions configure the subscriber.
type NATSOptions struct {
	URLs    []string
	Subject string
	// Queue makes several panel processes share the subject. Optional.
	Queue string
}

// NewNATSSubscriber connects and starts consuming. Messages are JSON objects
// with entity_id and state.
func NewNATSSubscriber(ctx context.Context, opts NATSOptions, ingestor *Ingestor) (*NATSSubscriber, error) {
	nc, err := nats.Connect(strings.Join(opts.URLs, ","), nats.Name("alarm-panel"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	ctx = logger.WithName(ctx, "nats")

	handler := func(message *nats.Msg) {
		update, decodeErr := DecodeUpdate(message.Data)
		if decodeErr != nil {
			logger.WarnKV(ctx, "Failed to decode entity update", "subject", message.Subject, "error", decodeErr)

			return
		}

		if _, _, applyErr := ingestor.Apply(ctx, update); applyErr != nil {
			logger.ErrorKV(ctx, "Failed to apply entity update", "entity_id", update.EntityID, "error", applyErr)
		}
	}

	var sub *nats.Subscription
	if opts.Queue != "" {
		sub, err = nc.QueueSubscribe(opts.Subject, opts.Queue, handler)
	} else {
		sub, err = nc.Subscribe(opts.Subject, handler)
	}

	if err != nil {
		nc.Close()

		return nil, fmt.Errorf("subscribe %q: %w", opts.Subject, err)
	}

	logger.InfoKV(ctx, "Subscribed to entity updates", "subject", opts.Subject, "queue", opts.Queue)

	return &NATSSubscriber{nc: nc, sub: sub}, nil
}

// Close drains the subscription and closes the connection.
func (s *NATSSubscriber) Close() error {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.nc.Close()

			return err
		}
	}

	s.nc.Close()

	return nil
}

// DecodeUpdate parses a JSON entity update.
func DecodeUpdate(data []byte) (Update, error) {
	var u Update
	if err := json.Unmarshal(data, &u); err != nil {
		return Update{}, fmt.Errorf("decode update: %w", err)
	}

	if strings.TrimSpace(u.EntityID) == "" {
		return Update{}, errEmptyEntityID
	}

	return u, nil
}
