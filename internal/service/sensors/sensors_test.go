package sensors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/service/entities"
	"github.com/oshokin/alarm-panel/internal/service/panel"
)

type triggererFake struct {
	sensors []string
}

func (f *triggererFake) SensorTriggered(_ context.Context, sensor *alarm.Sensor, _ panel.Request) (*alarm.Snapshot, error) {
	f.sensors = append(f.sensors, sensor.ID)

	return &alarm.Snapshot{}, nil
}

// TestIsActive verifies the active state vocabulary.
func TestIsActive(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"on", "open", "detected", "triggered", " ON "} {
		require.True(t, IsActive(s), s)
	}

	for _, s := range []string{"off", "closed", "clear", "", "unavailable"} {
		require.False(t, IsActive(s), s)
	}
}

// TestMonitor_EntityChanged verifies only inactive to active edges trigger.
func TestMonitor_EntityChanged(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	target := &triggererFake{}
	monitor := NewMonitor(target, []*alarm.Sensor{
		{ID: "front", EntityID: "binary_sensor.front", EntryPoint: true},
		{ID: "virtual"},
	})

	ingestor := entities.NewIngestor(entities.NewMemoryStore())
	ingestor.AddListener(monitor)

	apply := func(state string) {
		_, _, err := ingestor.Apply(ctx, entities.Update{EntityID: "binary_sensor.front", State: state})
		require.NoError(t, err)
	}

	apply("off")
	apply("on")
	apply("open")
	apply("off")
	apply("detected")

	_, _, err := ingestor.Apply(ctx, entities.Update{EntityID: "binary_sensor.other", State: "on"})
	require.NoError(t, err)

	require.Equal(t, []string{"front", "front"}, target.sensors)

	_, ok := monitor.Sensor("binary_sensor.front")
	require.True(t, ok)
}

// TestMonitor_Lookup verifies sensors are found by id and by entity.
func TestMonitor_Lookup(t *testing.T) {
	t.Parallel()

	m := NewMonitor(new(triggererFake), []*alarm.Sensor{
		{ID: "door", EntityID: "binary_sensor.door"},
		{ID: "manual"},
	})

	s, ok := m.ByID("manual")
	require.True(t, ok)
	require.Equal(t, "manual", s.ID)

	s, ok = m.Sensor("binary_sensor.door")
	require.True(t, ok)
	require.Equal(t, "door", s.ID)

	_, ok = m.ByID("window")
	require.False(t, ok)
}
