package events

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/logger"
	"github.com/oshokin/alarm-panel/internal/metrics"
	"github.com/oshokin/alarm-panel/internal/repository/state"
)

// Sink receives every recorded event. Sinks must not block.
type Sink interface {
	Publish(ctx context.Context, event *alarm.Event)
}

// UsageMarker stamps the last use of an accepted code.
type UsageMarker interface {
	MarkUsed(ctx context.Context, codeID int64, at time.Time) error
}

// Transition describes one committed state change.
type Transition struct {
	From     alarm.State
	To       alarm.State
	At       time.Time
	Reason   string
	Actor    *alarm.Actor
	CodeID   *int64
	SensorID string
	Metadata map[string]any
}

// Recorder appends events to the repository.
type Recorder struct {
	repo  state.EventRepository
	usage UsageMarker
	sinks []Sink
}

// NewRecorder creates a recorder. usage may be nil.
func NewRecorder(repo state.EventRepository, usage UsageMarker, sinks ...Sink) *Recorder {
	return &Recorder{repo: repo, usage: usage, sinks: sinks}
}

// AddSink registers another sink. It must be called before the recorder is shared.
func (r *Recorder) AddSink(sink Sink) {
	r.sinks = append(r.sinks, sink)
}

// Classify maps a transition target to the event type.
func Classify(to alarm.State) alarm.EventType {
	switch {
	case to == alarm.StateDisarmed:
		return alarm.EventDisarmed
	case to == alarm.StateArming:
		return alarm.EventArming
	case to.IsArmed():
		return alarm.EventArmed
	case to == alarm.StatePending:
		return alarm.EventPending
	case to == alarm.StateTriggered:
		return alarm.EventTriggered
	default:
		return alarm.EventStateChanged
	}
}

// RecordTransition writes the event for a committed state change.
func (r *Recorder) RecordTransition(ctx context.Context, t Transition) (*alarm.Event, error) {
	metadata := maps.Clone(t.Metadata)
	if metadata == nil {
		metadata = make(map[string]any, 1)
	}

	if t.Reason != "" {
		metadata["reason"] = t.Reason
	}

	return r.record(ctx, &alarm.Event{
		Type:      Classify(t.To),
		StateFrom: t.From,
		StateTo:   t.To,
		Timestamp: t.At,
		Actor:     t.Actor.Clone(),
		CodeID:    t.CodeID,
		SensorID:  t.SensorID,
		Metadata:  metadata,
	})
}

// RecordSensorTriggered writes a sensor activity event.
func (r *Recorder) RecordSensorTriggered(
	ctx context.Context,
	sensor *alarm.Sensor,
	current alarm.State,
	actor *alarm.Actor,
	at time.Time,
	reason string,
) (*alarm.Event, error) {
	metadata := map[string]any{
		"entry_point": sensor.EntryPoint,
		"entity_id":   sensor.EntityID,
	}

	if reason != "" {
		metadata["reason"] = reason
	}

	if sensor.Zone != nil {
		metadata["zone"] = sensor.Zone.ID
	}

	return r.record(ctx, &alarm.Event{
		Type:      alarm.EventSensorTriggered,
		StateFrom: current,
		Timestamp: at,
		Actor:     actor.Clone(),
		SensorID:  sensor.ID,
		Metadata:  metadata,
	})
}

// RecordCodeUsed stamps the code usage and writes a successful code event.
func (r *Recorder) RecordCodeUsed(
	ctx context.Context,
	codeID int64,
	actor *alarm.Actor,
	at time.Time,
	action string,
) (*alarm.Event, error) {
	if r.usage != nil {
		if err := r.usage.MarkUsed(ctx, codeID, at); err != nil {
			return nil, fmt.Errorf("mark code used: %w", err)
		}
	}

	id := codeID

	return r.record(ctx, &alarm.Event{
		Type:      alarm.EventCodeUsed,
		Timestamp: at,
		Actor:     actor.Clone(),
		CodeID:    &id,
		Metadata:  map[string]any{"action": action},
	})
}

// RecordFailedCode writes a rejected code event.
func (r *Recorder) RecordFailedCode(
	ctx context.Context,
	actor *alarm.Actor,
	at time.Time,
	action string,
	cause error,
) (*alarm.Event, error) {
	metadata := map[string]any{"action": action}
	if cause != nil {
		metadata["error"] = cause.Error()
	}

	return r.record(ctx, &alarm.Event{
		Type:      alarm.EventFailedCode,
		Timestamp: at,
		Actor:     actor.Clone(),
		Metadata:  metadata,
	})
}

// List returns the newest events first.
func (r *Recorder) List(ctx context.Context, limit int) ([]*alarm.Event, error) {
	if r.repo == nil {
		return nil, nil
	}

	return r.repo.ListEvents(ctx, limit)
}

func (r *Recorder) record(ctx context.Context, event *alarm.Event) (*alarm.Event, error) {
	event.ID = uuid.NewString()

	if r.repo != nil {
		if err := r.repo.AppendEvent(ctx, event); err != nil {
			return nil, fmt.Errorf("append event: %w", err)
		}
	}

	metrics.IncEvent(string(event.Type))
	logger.DebugKV(ctx, "Alarm event recorded",
		"id", event.ID,
		"type", event.Type,
		"from", event.StateFrom,
		"to", event.StateTo)

	for _, sink := range r.sinks {
		sink.Publish(ctx, event.Clone())
	}

	return event, nil
}
