package alarm

import (
	"fmt"
	"time"
)

// State is one of the panel states.
type State string

const (
	// StateDisarmed means nothing is monitored.
	StateDisarmed State = "disarmed"
	// StateArming is the exit delay before an armed mode becomes active.
	StateArming State = "arming"
	// StateArmedHome is the stay/perimeter mode.
	StateArmedHome State = "armed_home"
	// StateArmedAway is the full mode.
	StateArmedAway State = "armed_away"
	// StateArmedNight is the night mode.
	StateArmedNight State = "armed_night"
	// StateArmedVacation is the long absence mode.
	StateArmedVacation State = "armed_vacation"
	// StatePending is the entry delay after an entry point opened.
	StatePending State = "pending"
	// StateTriggered means the alarm is sounding.
	StateTriggered State = "triggered"
)

// ArmedStates lists the armed modes in a stable order.
//
//nolint:gochecknoglobals // Read-only enumeration.
var ArmedStates = []State{StateArmedHome, StateArmedAway, StateArmedNight, StateArmedVacation}

// IsArmed reports whether s is one of the armed modes.
func (s State) IsArmed() bool {
	switch s {
	case StateArmedHome, StateArmedAway, StateArmedNight, StateArmedVacation:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateDisarmed, StateArming, StatePending, StateTriggered:
		return true
	default:
		return s.IsArmed()
	}
}

// String implements fmt.Stringer.
func (s State) String() string {
	return string(s)
}

// ParseArmedState validates an armed mode name.
func ParseArmedState(value string) (State, error) {
	s := State(value)
	if !s.IsArmed() {
		return "", fmt.Errorf("%q is not an armed mode", value)
	}

	return s, nil
}

// Actor identifies who performed an action.
type Actor struct {
	// Username is the user or subsystem that requested the action.
	Username string `json:"username,omitempty"`
	// Hostname is the machine the request came from, if known.
	Hostname string `json:"hostname,omitempty"`
	// Source names the adapter, e.g. grpc, mqtt, rules.
	Source string `json:"source,omitempty"`
}

// Clone returns a deep copy of the actor.
func (a *Actor) Clone() *Actor {
	if a == nil {
		return nil
	}

	cloned := *a

	return &cloned
}

// String renders user@host (source).
func (a *Actor) String() string {
	if a == nil {
		return "<system>"
	}

	s := a.Username
	if a.Hostname != "" {
		s += "@" + a.Hostname
	}

	if a.Source != "" {
		s += " (" + a.Source + ")"
	}

	return s
}

// Timing holds effective durations in whole seconds.
type Timing struct {
	DelaySeconds   int `json:"delay_time"`
	ArmingSeconds  int `json:"arming_time"`
	TriggerSeconds int `json:"trigger_time"`
}

// Delay is the entry delay.
func (t Timing) Delay() time.Duration { return time.Duration(t.DelaySeconds) * time.Second }

// Arming is the exit delay.
func (t Timing) Arming() time.Duration { return time.Duration(t.ArmingSeconds) * time.Second }

// Trigger is how long the alarm stays triggered.
func (t Timing) Trigger() time.Duration { return time.Duration(t.TriggerSeconds) * time.Second }

// Snapshot is the single alarm aggregate.
type Snapshot struct {
	CurrentState State `json:"current_state"`
	// PreviousState doubles as the return-to armed mode while pending or triggered.
	PreviousState    State      `json:"previous_state,omitempty"`
	TargetArmedState State      `json:"target_armed_state,omitempty"`
	EnteredAt        time.Time  `json:"entered_at"`
	ExitAt           *time.Time `json:"exit_at,omitempty"`
	LastReason       string     `json:"last_transition_reason,omitempty"`
	LastActor        *Actor     `json:"last_transition_actor,omitempty"`
	Timing           *Timing    `json:"timing_snapshot,omitempty"`
	ProfileName      string     `json:"settings_profile,omitempty"`
}

// NewDisarmed creates the initial aggregate.
func NewDisarmed(now time.Time, profile string) *Snapshot {
	return &Snapshot{
		CurrentState: StateDisarmed,
		EnteredAt:    now,
		LastReason:   "initial",
		ProfileName:  profile,
	}
}

// TimerDue reports whether a pending timer has passed at now.
func (s *Snapshot) TimerDue(now time.Time) bool {
	return s.ExitAt != nil && !now.Before(*s.ExitAt)
}

// Clone returns a deep copy so callers cannot mutate the panel aggregate.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}

	cloned := *s
	cloned.LastActor = s.LastActor.Clone()

	if s.ExitAt != nil {
		exitAt := *s.ExitAt
		cloned.ExitAt = &exitAt
	}

	if s.Timing != nil {
		timing := *s.Timing
		cloned.Timing = &timing
	}

	return &cloned
}
