package panel

import (
	"context"
	"fmt"
	"time"

	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/logger"
	"github.com/oshokin/alarm-panel/internal/metrics"
	"github.com/oshokin/alarm-panel/internal/service/events"
	"github.com/oshokin/alarm-panel/internal/timing"
)

// Tx exposes the transition operations inside Panel.Do. It must not escape fn.
type Tx struct {
	ctx     context.Context //nolint:containedctx // Bound to one Do call.
	p       *Panel
	changed bool
}

// Context returns the context Do was called with.
func (tx *Tx) Context() context.Context {
	return tx.ctx
}

// Snapshot returns a copy of the aggregate as it stands inside the transaction.
func (tx *Tx) Snapshot() *alarm.Snapshot {
	return tx.p.snapshot.Clone()
}

// Arm moves a disarmed panel into the exit delay towards target.
func (tx *Tx) Arm(target alarm.State, req Request) (*alarm.Snapshot, error) {
	now := tx.p.clock.Now()

	if err := tx.expireTimers(now); err != nil {
		return nil, err
	}

	current := tx.p.snapshot
	if current.CurrentState != alarm.StateDisarmed || !target.IsArmed() {
		return nil, &TransitionError{Operation: "arm", From: current.CurrentState, Target: target}
	}

	profile := tx.p.profile()
	resolved := timing.Resolve(profile, target)
	exitAt := now.Add(resolved.Arming())

	next := &alarm.Snapshot{
		CurrentState:     alarm.StateArming,
		PreviousState:    current.CurrentState,
		TargetArmedState: target,
		EnteredAt:        now,
		ExitAt:           &exitAt,
		LastReason:       reasonOr(req.Reason, "arm"),
		LastActor:        req.Actor.Clone(),
		Timing:           &resolved,
		ProfileName:      profile.Name,
	}

	return tx.commit(now, next, req.CodeID, "", map[string]any{"target": string(target)})
}

// CancelArming aborts the exit delay.
func (tx *Tx) CancelArming(req Request) (*alarm.Snapshot, error) {
	now := tx.p.clock.Now()

	if err := tx.expireTimers(now); err != nil {
		return nil, err
	}

	current := tx.p.snapshot
	if current.CurrentState != alarm.StateArming {
		return nil, &TransitionError{Operation: "cancel arming", From: current.CurrentState}
	}

	return tx.commit(now, tx.disarmed(now, reasonOr(req.Reason, "cancel_arming"), req.Actor), req.CodeID, "", nil)
}

// Disarm disarms from any state. Disarming a disarmed panel is a no-op.
func (tx *Tx) Disarm(req Request) (*alarm.Snapshot, error) {
	now := tx.p.clock.Now()

	if err := tx.expireTimers(now); err != nil {
		return nil, err
	}

	if tx.p.snapshot.CurrentState == alarm.StateDisarmed {
		return tx.p.snapshot.Clone(), nil
	}

	return tx.commit(now, tx.disarmed(now, reasonOr(req.Reason, "disarm"), req.Actor), req.CodeID, "", nil)
}

// SensorTriggered records sensor activity and, when the panel is armed or arming,
// starts the entry delay for entry points or triggers immediately otherwise.
func (tx *Tx) SensorTriggered(sensor *alarm.Sensor, req Request) (*alarm.Snapshot, error) {
	now := tx.p.clock.Now()

	if err := tx.expireTimers(now); err != nil {
		return nil, err
	}

	current := tx.p.snapshot

	_, err := tx.p.recorder.RecordSensorTriggered(tx.ctx, sensor, current.CurrentState, req.Actor, now, req.Reason)
	if err != nil {
		logger.ErrorKV(tx.ctx, "Failed to record sensor event", "sensor", sensor.ID, "error", err)
	}

	var returnTo alarm.State

	switch {
	case current.CurrentState.IsArmed():
		returnTo = current.CurrentState
	case current.CurrentState == alarm.StateArming:
		returnTo = current.TargetArmedState
	default:
		// Disarmed, pending and triggered ignore sensors.
		return current.Clone(), nil
	}

	resolved := tx.timingFor(returnTo)
	resolved = timing.ApplyZoneDelay(resolved, sensor.Zone)

	nextState, exitAt := alarm.StateTriggered, now.Add(resolved.Trigger())
	if sensor.EntryPoint {
		nextState, exitAt = alarm.StatePending, now.Add(resolved.Delay())
	}

	next := &alarm.Snapshot{
		CurrentState:  nextState,
		PreviousState: returnTo,
		EnteredAt:     now,
		ExitAt:        &exitAt,
		LastReason:    reasonOr(req.Reason, "sensor_triggered"),
		LastActor:     req.Actor.Clone(),
		Timing:        &resolved,
		ProfileName:   tx.p.profile().Name,
	}

	return tx.commit(now, next, nil, sensor.ID, map[string]any{"entry_point": sensor.EntryPoint})
}

// Trigger sounds the alarm immediately. It fails when disarmed and is a no-op when
// already triggered.
func (tx *Tx) Trigger(req Request) (*alarm.Snapshot, error) {
	now := tx.p.clock.Now()

	if err := tx.expireTimers(now); err != nil {
		return nil, err
	}

	current := tx.p.snapshot

	var returnTo alarm.State

	switch {
	case current.CurrentState == alarm.StateDisarmed:
		return nil, &TransitionError{Operation: "trigger", From: current.CurrentState}
	case current.CurrentState == alarm.StateTriggered:
		return current.Clone(), nil
	case current.CurrentState.IsArmed():
		returnTo = current.CurrentState
	case current.CurrentState == alarm.StateArming:
		returnTo = current.TargetArmedState
	default:
		returnTo = current.PreviousState
	}

	resolved := tx.timingFor(returnTo)
	exitAt := now.Add(resolved.Trigger())

	next := &alarm.Snapshot{
		CurrentState:  alarm.StateTriggered,
		PreviousState: returnTo,
		EnteredAt:     now,
		ExitAt:        &exitAt,
		LastReason:    reasonOr(req.Reason, "trigger"),
		LastActor:     req.Actor.Clone(),
		Timing:        &resolved,
		ProfileName:   tx.p.profile().Name,
	}

	return tx.commit(now, next, req.CodeID, "", nil)
}

// TimerExpired resolves the pending timer if it is due. It is idempotent.
func (tx *Tx) TimerExpired(reason string) (*alarm.Snapshot, error) {
	now := tx.p.clock.Now()

	if err := tx.expireTimer(now, reasonOr(reason, "timer_expired")); err != nil {
		return nil, err
	}

	return tx.p.snapshot.Clone(), nil
}

func (tx *Tx) expireTimers(now time.Time) error {
	return tx.expireTimer(now, "timer_expired")
}

func (tx *Tx) expireTimer(now time.Time, reason string) error {
	current := tx.p.snapshot
	if !current.TimerDue(now) {
		return nil
	}

	var next *alarm.Snapshot

	switch current.CurrentState {
	case alarm.StateArming:
		if !current.TargetArmedState.IsArmed() {
			return fmt.Errorf("%w: target %q", ErrMissingTarget, current.TargetArmedState)
		}

		next = tx.base(now, reason, current.TargetArmedState)
		next.PreviousState = current.PreviousState
		next.Timing = cloneTiming(current.Timing)
	case alarm.StatePending:
		resolved := tx.timingFor(current.PreviousState)
		exitAt := now.Add(resolved.Trigger())

		next = tx.base(now, reason, alarm.StateTriggered)
		next.PreviousState = current.PreviousState
		next.ExitAt = &exitAt
		next.Timing = &resolved
	case alarm.StateTriggered:
		returnTo := current.PreviousState
		if tx.p.profile().DisarmAfterTrigger() || !returnTo.IsArmed() {
			next = tx.disarmed(now, reason, nil)

			break
		}

		next = tx.base(now, reason, returnTo)
		next.PreviousState = alarm.StateTriggered
		next.Timing = cloneTiming(current.Timing)
	default:
		// Armed and disarmed states have no timers; drop a stray one.
		next = current.Clone()
		next.ExitAt = nil

		if err := tx.save(next); err != nil {
			return err
		}

		return nil
	}

	_, err := tx.commit(now, next, nil, "", nil)

	return err
}

func (tx *Tx) timingFor(returnTo alarm.State) alarm.Timing {
	if t := tx.p.snapshot.Timing; t != nil {
		return *t
	}

	return timing.Resolve(tx.p.profile(), returnTo)
}

func (tx *Tx) base(now time.Time, reason string, to alarm.State) *alarm.Snapshot {
	return &alarm.Snapshot{
		CurrentState: to,
		EnteredAt:    now,
		LastReason:   reason,
		ProfileName:  tx.p.profile().Name,
	}
}

func (tx *Tx) disarmed(now time.Time, reason string, actor *alarm.Actor) *alarm.Snapshot {
	next := tx.base(now, reason, alarm.StateDisarmed)
	next.PreviousState = tx.p.snapshot.CurrentState
	next.LastActor = actor.Clone()

	return next
}

// commit persists next, swaps it in and records the transition event.
func (tx *Tx) commit(
	now time.Time,
	next *alarm.Snapshot,
	codeID *int64,
	sensorID string,
	metadata map[string]any,
) (*alarm.Snapshot, error) {
	from := tx.p.snapshot.CurrentState

	if err := tx.save(next); err != nil {
		return nil, err
	}

	tx.changed = true

	_, err := tx.p.recorder.RecordTransition(tx.ctx, events.Transition{
		From:     from,
		To:       next.CurrentState,
		At:       now,
		Reason:   next.LastReason,
		Actor:    next.LastActor,
		CodeID:   codeID,
		SensorID: sensorID,
		Metadata: metadata,
	})
	if err != nil {
		logger.ErrorKV(tx.ctx, "Failed to record transition event", "from", from, "to", next.CurrentState, "error", err)
	}

	metrics.ObserveTransition(string(from), string(next.CurrentState))
	logger.InfoKV(tx.ctx, "Alarm state changed",
		"from", from,
		"to", next.CurrentState,
		"reason", next.LastReason,
		"actor", next.LastActor.String())

	return next.Clone(), nil
}

func (tx *Tx) save(next *alarm.Snapshot) error {
	if err := tx.p.repo.Save(tx.ctx, next); err != nil {
		logger.Errorf(tx.ctx, "Failed to persist alarm state: %v", err)

		return fmt.Errorf("persist state: %w", err)
	}

	tx.p.snapshot = next

	return nil
}

func cloneTiming(t *alarm.Timing) *alarm.Timing {
	if t == nil {
		return nil
	}

	cloned := *t

	return &cloned
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}

	return reason
}
