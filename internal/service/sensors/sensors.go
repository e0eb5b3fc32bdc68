// Package sensors turns entity state changes into panel sensor triggers.
package sensors

import (
	"context"
	"strings"

	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/logger"
	"github.com/oshokin/alarm-panel/internal/service/entities"
	"github.com/oshokin/alarm-panel/internal/service/panel"
)

// Triggerer receives sensor activations.
type Triggerer interface {
	SensorTriggered(ctx context.Context, sensor *alarm.Sensor, req panel.Request) (*alarm.Snapshot, error)
}

// IsActive reports whether an entity state means the sensor is tripped.
func IsActive(state string) bool {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "on", "open", "detected", "triggered":
		return true
	default:
		return false
	}
}

// Monitor maps entity ids to sensors and forwards activations.
type Monitor struct {
	target   Triggerer
	byEntity map[string]*alarm.Sensor
	byID     map[string]*alarm.Sensor
}

var _ entities.Listener = (*Monitor)(nil)

// NewMonitor creates a monitor for sensors. Sensors without an entity id are ignored.
func NewMonitor(target Triggerer, list []*alarm.Sensor) *Monitor {
	m := &Monitor{
		target:   target,
		byEntity: make(map[string]*alarm.Sensor, len(list)),
		byID:     make(map[string]*alarm.Sensor, len(list)),
	}

	for _, s := range list {
		m.byID[s.ID] = s

		if s.EntityID != "" {
			m.byEntity[s.EntityID] = s
		}
	}

	return m
}

// Sensor returns the sensor bound to entityID.
func (m *Monitor) Sensor(entityID string) (*alarm.Sensor, bool) {
	s, ok := m.byEntity[entityID]

	return s, ok
}

// ByID returns the sensor with the configured id.
func (m *Monitor) ByID(id string) (*alarm.Sensor, bool) {
	s, ok := m.byID[id]

	return s, ok
}

// EntityChanged triggers the sensor on an inactive to active edge.
func (m *Monitor) EntityChanged(ctx context.Context, change entities.Change) {
	sensor, ok := m.byEntity[change.EntityID]
	if !ok || !IsActive(change.Current) {
		return
	}

	if change.Known && IsActive(change.Previous) {
		return
	}

	_, err := m.target.SensorTriggered(ctx, sensor, panel.Request{
		Actor:  &alarm.Actor{Username: sensor.ID, Source: "sensor"},
		Reason: "sensor_triggered",
	})
	if err != nil {
		logger.ErrorKV(ctx, "Failed to handle sensor trigger", "sensor", sensor.ID, "error", err)
	}
}
