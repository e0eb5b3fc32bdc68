package events

import (
	"context"

	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/logger"
)

// DefaultQueueSize is the default capacity of a Queue.
const DefaultQueueSize = 256

// Exporter delivers an event to an external system.
type Exporter interface {
	Export(ctx context.Context, event *alarm.Event) error
}

// Queue is a Sink that hands events to an Exporter on its own goroutine.
// Events are dropped when the buffer is full.
type Queue struct {
	name     string
	exporter Exporter
	ch       chan *alarm.Event
}

// NewQueue creates a queue. size <= 0 uses DefaultQueueSize.
func NewQueue(name string, exporter Exporter, size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}

	return &Queue{
		name:     name,
		exporter: exporter,
		ch:       make(chan *alarm.Event, size),
	}
}

// Publish enqueues the event without blocking.
func (q *Queue) Publish(ctx context.Context, event *alarm.Event) {
	select {
	case q.ch <- event:
	default:
		logger.WarnKV(ctx, "Event export queue full, dropping event", "sink", q.name, "id", event.ID)
	}
}

// Run drains the queue until ctx is done.
func (q *Queue) Run(ctx context.Context) {
	ctx = logger.WithName(ctx, q.name)

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-q.ch:
			if err := q.exporter.Export(ctx, event); err != nil {
				logger.ErrorKV(ctx, "Failed to export event", "id", event.ID, "error", err)
			}
		}
	}
}
