package alarm

import (
	"maps"
	"time"
)

// EventType classifies an alarm event.
type EventType string

const (
	// EventArmed is a transition into one of the armed modes.
	EventArmed EventType = "armed"
	// EventArming is a transition into the exit delay.
	EventArming EventType = "arming"
	// EventDisarmed is a transition into disarmed.
	EventDisarmed EventType = "disarmed"
	// EventPending is a transition into the entry delay.
	EventPending EventType = "pending"
	// EventTriggered is a transition into triggered.
	EventTriggered EventType = "triggered"
	// EventStateChanged is a transition into a state with no own classification.
	EventStateChanged EventType = "state_changed"
	// EventSensorTriggered records sensor activity, whether or not the state changed.
	EventSensorTriggered EventType = "sensor_triggered"
	// EventCodeUsed records an accepted user code.
	EventCodeUsed EventType = "code_used"
	// EventFailedCode records a rejected or missing user code.
	EventFailedCode EventType = "failed_code"
)

// Event is an immutable log record.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"event_type"`
	StateFrom State          `json:"state_from,omitempty"`
	StateTo   State          `json:"state_to,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     *Actor         `json:"actor,omitempty"`
	CodeID    *int64         `json:"code_id,omitempty"`
	SensorID  string         `json:"sensor_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Clone returns a copy with its own metadata map.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}

	cloned := *e
	cloned.Actor = e.Actor.Clone()
	cloned.Metadata = maps.Clone(e.Metadata)

	if e.CodeID != nil {
		id := *e.CodeID
		cloned.CodeID = &id
	}

	return &cloned
}

// Zone groups sensors and may override the entry delay.
type Zone struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// EntryDelaySeconds replaces the profile delay when set.
	EntryDelaySeconds *int `json:"entry_delay,omitempty"`
}

// Sensor is a monitored input bound to an entity.
type Sensor struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	EntityID   string `json:"entity_id"`
	EntryPoint bool   `json:"entry_point"`
	Zone       *Zone  `json:"zone,omitempty"`
}
