// Package control is the adapter-facing entry point for user initiated alarm
// operations. It checks user codes, records code events and delegates to the panel.
package control

import (
	"context"
	"time"

	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/logger"
	"github.com/oshokin/alarm-panel/internal/service/codes"
	"github.com/oshokin/alarm-panel/internal/service/panel"
)

// Validator checks a raw user code and holds one of its uses until the
// guarded transition finished.
type Validator interface {
	Reserve(username, raw string, now time.Time) (*codes.Code, error)
	Release(codeID int64)
}

// Service combines code checks with panel transitions.
type Service struct {
	panel     *panel.Panel
	validator Validator
}

// New creates the service. A nil validator disables code checks.
func New(p *panel.Panel, validator Validator) *Service {
	return &Service{panel: p, validator: validator}
}

// Panel returns the underlying panel.
func (s *Service) Panel() *panel.Panel {
	return s.panel
}

// Arm arms towards mode. A code is required when the active profile says so.
func (s *Service) Arm(ctx context.Context, mode alarm.State, actor *alarm.Actor, rawCode string) (*alarm.Snapshot, error) {
	required := true
	if profile := s.panel.Settings().Active(); profile != nil {
		required = profile.CodeArmRequired()
	}

	return s.withCode(ctx, "arm", actor, rawCode, required, func(codeID *int64) (*alarm.Snapshot, error) {
		return s.panel.Arm(ctx, mode, panel.Request{Actor: actor, CodeID: codeID, Reason: "arm"})
	})
}

// Disarm disarms. A code is always required.
func (s *Service) Disarm(ctx context.Context, actor *alarm.Actor, rawCode string) (*alarm.Snapshot, error) {
	return s.withCode(ctx, "disarm", actor, rawCode, true, func(codeID *int64) (*alarm.Snapshot, error) {
		return s.panel.Disarm(ctx, panel.Request{Actor: actor, CodeID: codeID, Reason: "disarm"})
	})
}

// CancelArming aborts the exit delay. A code is always required.
func (s *Service) CancelArming(ctx context.Context, actor *alarm.Actor, rawCode string) (*alarm.Snapshot, error) {
	return s.withCode(ctx, "cancel_arming", actor, rawCode, true, func(codeID *int64) (*alarm.Snapshot, error) {
		return s.panel.CancelArming(ctx, panel.Request{Actor: actor, CodeID: codeID, Reason: "cancel_arming"})
	})
}

// Trigger is the manual panic trigger. No code is needed.
func (s *Service) Trigger(ctx context.Context, actor *alarm.Actor) (*alarm.Snapshot, error) {
	return s.panel.Trigger(ctx, panel.Request{Actor: actor, Reason: "manual_trigger"})
}

// SensorTriggered forwards sensor activity.
func (s *Service) SensorTriggered(ctx context.Context, sensor *alarm.Sensor, actor *alarm.Actor) (*alarm.Snapshot, error) {
	return s.panel.SensorTriggered(ctx, sensor, panel.Request{Actor: actor, Reason: "sensor_triggered"})
}

// Snapshot returns the current state with expired timers resolved.
func (s *Service) Snapshot(ctx context.Context) (*alarm.Snapshot, error) {
	return s.panel.Snapshot(ctx, true)
}

// Events returns the newest events first.
func (s *Service) Events(ctx context.Context, limit int) ([]*alarm.Event, error) {
	return s.panel.Recorder().List(ctx, limit)
}

func (s *Service) withCode(
	ctx context.Context,
	action string,
	actor *alarm.Actor,
	rawCode string,
	required bool,
	op func(codeID *int64) (*alarm.Snapshot, error),
) (*alarm.Snapshot, error) {
	if s.validator == nil || (!required && rawCode == "") {
		return op(nil)
	}

	now := s.panel.Clock().Now()
	recorder := s.panel.Recorder()

	var username string
	if actor != nil {
		username = actor.Username
	}

	code, err := s.validator.Reserve(username, rawCode, now)
	if err != nil {
		if _, recErr := recorder.RecordFailedCode(ctx, actor, now, action, err); recErr != nil {
			logger.ErrorKV(ctx, "Failed to record failed code", "error", recErr)
		}

		logger.WarnKV(ctx, "Code rejected", "action", action, "actor", actor.String(), "error", err)

		return nil, err
	}

	codeID := code.ID

	snapshot, err := op(&codeID)
	if err != nil {
		s.validator.Release(codeID)

		return nil, err
	}

	if _, err = recorder.RecordCodeUsed(ctx, codeID, actor, now, action); err != nil {
		logger.ErrorKV(ctx, "Failed to record code use", "code_id", codeID, "error", err)
	}

	return snapshot, nil
}
