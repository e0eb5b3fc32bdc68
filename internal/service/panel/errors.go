package panel

import (
	"errors"
	"fmt"

	"github.com/oshokin/alarm-panel/internal/domain/alarm"
)

var (
	// ErrInvalidTransition is returned when the current state forbids the operation.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrMissingTarget means the aggregate is arming without a target armed mode.
	// It cannot happen through the transition operations and indicates corrupt state.
	ErrMissingTarget = errors.New("arming without target armed state")
)

// TransitionError describes a rejected operation.
type TransitionError struct {
	Operation string
	From      alarm.State
	Target    alarm.State
}

func (e *TransitionError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s to %s is not allowed from %s", e.Operation, e.Target, e.From)
	}

	return fmt.Sprintf("%s is not allowed from %s", e.Operation, e.From)
}

// Unwrap makes errors.Is(err, ErrInvalidTransition) hold.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
