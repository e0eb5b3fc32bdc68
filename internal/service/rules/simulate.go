package rules

import (
	"context"
	"fmt"
	"maps"
	"time"

	domain "github.com/oshokin/alarm-panel/internal/domain/rules"
)

// Simulation outcomes.
const (
	StatusWouldFire     = "would_fire"
	StatusWouldSchedule = "would_schedule"
	StatusScheduled     = "scheduled"
	StatusCooldown      = "cooldown"
	StatusNoMatch       = "no_match"
)

// SimulateRequest overlays entity states and optionally assumes sustained conditions.
type SimulateRequest struct {
	Entities map[string]string `json:"entities,omitempty"`
	// AssumeForSeconds treats for-conditions up to this duration as already sustained.
	AssumeForSeconds int `json:"assume_for_seconds,omitempty"`
}

// SimulatedRule is the dry-run verdict of one rule.
type SimulatedRule struct {
	RuleID       int64         `json:"rule_id"`
	Name         string        `json:"name"`
	Priority     int           `json:"priority"`
	Matched      bool          `json:"matched"`
	Status       string        `json:"status"`
	ForSeconds   int           `json:"for_seconds,omitempty"`
	ScheduledFor *time.Time    `json:"scheduled_for,omitempty"`
	Actions      []string      `json:"actions"`
	Trace        *domain.Trace `json:"trace"`
}

// SimulateResult is the outcome of SimulateRules.
type SimulateResult struct {
	Rules    []SimulatedRule   `json:"rules"`
	Entities map[string]string `json:"entities"`
}

// SimulateRules evaluates every enabled rule as a pass would at now, without
// touching runtime rows or executing actions.
func (e *Engine) SimulateRules(ctx context.Context, now time.Time, req SimulateRequest) (*SimulateResult, error) {
	live, err := e.snapshotEntities(ctx)
	if err != nil {
		return nil, err
	}

	entities := maps.Clone(live)
	if entities == nil {
		entities = domain.Entities{}
	}

	maps.Copy(entities, req.Entities)

	runtime, err := e.repo.ListRuntime(ctx)
	if err != nil {
		return nil, fmt.Errorf("list runtime: %w", err)
	}

	enabled := e.catalog.Enabled()
	result := &SimulateResult{
		Rules:    make([]SimulatedRule, 0, len(enabled)),
		Entities: entities,
	}

	for _, rule := range enabled {
		matched, trace := domain.Explain(rule.When, entities)

		sim := SimulatedRule{
			RuleID:   rule.ID,
			Name:     rule.Name,
			Priority: rule.Priority,
			Matched:  matched,
			Status:   StatusNoMatch,
			Actions:  make([]string, 0, len(rule.Then)),
			Trace:    trace,
		}

		for _, action := range rule.Then {
			sim.Actions = append(sim.Actions, action.Type())
		}

		var lastFired *time.Time

		row := runtime[rule.ID]
		if row != nil {
			lastFired = row.LastFiredAt
		}

		seconds, _, isFor := domain.ExtractFor(rule.When)
		sim.ForSeconds = seconds

		switch {
		case !matched:
		case rule.CooldownActive(lastFired, now):
			sim.Status = StatusCooldown
		case !isFor || req.AssumeForSeconds >= seconds:
			sim.Status = StatusWouldFire
		case row != nil && row.ScheduledFor != nil:
			sim.Status = StatusScheduled
			sim.ScheduledFor = row.ScheduledFor
		default:
			sim.Status = StatusWouldSchedule
		}

		result.Rules = append(result.Rules, sim)
	}

	return result, nil
}
