package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	domain "github.com/oshokin/alarm-panel/internal/domain/rules"
	"github.com/oshokin/alarm-panel/internal/logger"
	"github.com/oshokin/alarm-panel/internal/service/panel"
)

// DefaultActionTimeout bounds one external gateway call.
const DefaultActionTimeout = 5 * time.Second

var (
	errNoServiceCaller = errors.New("service caller is not configured")
	errNoValueSetter   = errors.New("value setter is not configured")
)

// ServiceCaller calls a named home automation service.
type ServiceCaller interface {
	CallService(ctx context.Context, domain, service string, target, data map[string]any) error
}

// ValueSetter writes a device value.
type ValueSetter interface {
	SetValue(ctx context.Context, node domain.NodeRef, value any) error
}

// Executor runs the then-list of a rule inside a panel transaction.
type Executor struct {
	services ServiceCaller
	values   ValueSetter
	timeout  time.Duration
}

// NewExecutor creates an executor. Either gateway may be nil; actions needing it fail.
func NewExecutor(services ServiceCaller, values ValueSetter, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultActionTimeout
	}

	return &Executor{services: services, values: values, timeout: timeout}
}

// Execute runs every action of rule, each isolated from the others' failures,
// and returns the audit record.
func (e *Executor) Execute(tx *panel.Tx, rule *domain.Rule, now time.Time) *domain.ActionLog {
	ctx := logger.WithKV(tx.Context(), "rule", rule.Name)

	log := &domain.ActionLog{
		ID:          uuid.NewString(),
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		FiredAt:     now,
		Kind:        rule.Kind,
		Results:     make([]domain.ActionResult, 0, len(rule.Then)),
		StateBefore: tx.Snapshot().CurrentState,
	}

	var failures []string

	for i, action := range rule.Then {
		result := domain.ActionResult{Index: i, Type: action.Type(), OK: true}

		if err := e.run(ctx, tx, rule, action); err != nil {
			result.OK = false
			result.Error = err.Error()
			failures = append(failures, fmt.Sprintf("action %d (%s): %v", i, action.Type(), err))

			logger.ErrorKV(ctx, "Rule action failed", "index", i, "type", action.Type(), "error", err)
		}

		log.Results = append(log.Results, result)
	}

	log.StateAfter = tx.Snapshot().CurrentState
	log.Error = strings.Join(failures, "; ")

	return log
}

func (e *Executor) run(ctx context.Context, tx *panel.Tx, rule *domain.Rule, action domain.Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()

	req := panel.Request{
		Actor:  &alarm.Actor{Username: rule.Name, Source: "rules"},
		Reason: "rule:" + rule.Name,
	}

	switch a := action.(type) {
	case domain.AlarmArm:
		_, err = tx.Arm(a.Mode, req)
	case domain.AlarmDisarm:
		_, err = tx.Disarm(req)
	case domain.AlarmTrigger:
		_, err = tx.Trigger(req)
	case domain.CallService:
		if e.services == nil {
			return errNoServiceCaller
		}

		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		err = e.services.CallService(callCtx, a.Domain, a.Service, a.Target, a.Data)
	case domain.SetValue:
		if e.values == nil {
			return errNoValueSetter
		}

		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		err = e.values.SetValue(callCtx, a.Node, a.Value)
	case domain.Unsupported:
		err = fmt.Errorf("unsupported action %q: %s", a.Type(), a.Reason)
	default:
		err = fmt.Errorf("unsupported action %T", action)
	}

	return err
}
