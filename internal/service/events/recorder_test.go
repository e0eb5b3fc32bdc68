package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/repository/state"
)

type usageFake struct {
	calls []int64
	err   error
}

func (u *usageFake) MarkUsed(_ context.Context, codeID int64, _ time.Time) error {
	u.calls = append(u.calls, codeID)

	return u.err
}

type sinkFake struct {
	mu     sync.Mutex
	events []*alarm.Event
}

func (s *sinkFake) Publish(_ context.Context, event *alarm.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
}

// TestClassify verifies the transition target taxonomy.
func TestClassify(t *testing.T) {
	t.Parallel()

	cases := map[alarm.State]alarm.EventType{
		alarm.StateDisarmed:      alarm.EventDisarmed,
		alarm.StateArming:        alarm.EventArming,
		alarm.StateArmedHome:     alarm.EventArmed,
		alarm.StateArmedAway:     alarm.EventArmed,
		alarm.StateArmedNight:    alarm.EventArmed,
		alarm.StateArmedVacation: alarm.EventArmed,
		alarm.StatePending:       alarm.EventPending,
		alarm.StateTriggered:     alarm.EventTriggered,
		alarm.State("bogus"):     alarm.EventStateChanged,
	}

	for to, want := range cases {
		require.Equal(t, want, Classify(to), to)
	}
}

// TestRecorder_RecordTransition verifies the event carries the transition fields and reaches sinks.
func TestRecorder_RecordTransition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := state.NewMemoryRepository(10)
	sink := &sinkFake{}
	recorder := NewRecorder(repo, nil, sink)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	event, err := recorder.RecordTransition(ctx, Transition{
		From:   alarm.StateDisarmed,
		To:     alarm.StateArming,
		At:     now,
		Reason: "user",
		Actor:  &alarm.Actor{Username: "alice"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, event.ID)
	require.Equal(t, alarm.EventArming, event.Type)
	require.Equal(t, "user", event.Metadata["reason"])

	listed, err := recorder.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, event.ID, listed[0].ID)
	require.Len(t, sink.events, 1)
}

// TestRecorder_RecordCodeUsed verifies the usage marker runs before the event is written.
func TestRecorder_RecordCodeUsed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := state.NewMemoryRepository(10)
	usage := &usageFake{}
	recorder := NewRecorder(repo, usage)

	event, err := recorder.RecordCodeUsed(ctx, 7, nil, time.Now(), "disarm")
	require.NoError(t, err)
	require.Equal(t, alarm.EventCodeUsed, event.Type)
	require.Equal(t, int64(7), *event.CodeID)
	require.Equal(t, []int64{7}, usage.calls)

	usage.err = errors.New("boom")
	_, err = recorder.RecordCodeUsed(ctx, 7, nil, time.Now(), "disarm")
	require.Error(t, err)

	listed, err := recorder.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

// TestRecorder_NonStateEvents verifies sensor and failed code events.
func TestRecorder_NonStateEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	recorder := NewRecorder(state.NewMemoryRepository(10), nil)
	sensor := &alarm.Sensor{ID: "front", EntityID: "binary_sensor.front", EntryPoint: true, Zone: &alarm.Zone{ID: "hall"}}

	event, err := recorder.RecordSensorTriggered(ctx, sensor, alarm.StateArmedAway, nil, time.Now(), "")
	require.NoError(t, err)
	require.Equal(t, alarm.EventSensorTriggered, event.Type)
	require.Equal(t, "front", event.SensorID)
	require.Equal(t, "hall", event.Metadata["zone"])

	event, err = recorder.RecordFailedCode(ctx, nil, time.Now(), "arm", errors.New("invalid code"))
	require.NoError(t, err)
	require.Equal(t, alarm.EventFailedCode, event.Type)
	require.Equal(t, "invalid code", event.Metadata["error"])
}

type exporterFake struct {
	done chan *alarm.Event
}

func (e *exporterFake) Export(_ context.Context, event *alarm.Event) error {
	e.done <- event

	return nil
}

// TestQueue_Run verifies queued events are exported asynchronously.
func TestQueue_Run(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exporter := &exporterFake{done: make(chan *alarm.Event, 1)}
	queue := NewQueue("test", exporter, 1)

	go queue.Run(ctx)

	queue.Publish(ctx, &alarm.Event{ID: "e1"})

	select {
	case event := <-exporter.done:
		require.Equal(t, "e1", event.ID)
	case <-time.After(time.Second):
		t.Fatal("event was not exported")
	}
}
