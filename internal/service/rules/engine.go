package rules

import (
	"context"
	"fmt"
	"time"

	domain "github.com/oshokin/alarm-panel/internal/domain/rules"
	"github.com/oshokin/alarm-panel/internal/logger"
	"github.com/oshokin/alarm-panel/internal/metrics"
	"github.com/oshokin/alarm-panel/internal/repository/state"
	"github.com/oshokin/alarm-panel/internal/service/panel"
)

// EntitySource yields the current external entity states.
type EntitySource interface {
	Snapshot(ctx context.Context) (map[string]string, error)
}

// Repository stores runtime rows and audit records.
type Repository interface {
	state.RuntimeRepository
	state.ActionLogRepository
}

// Result counts the outcomes of one pass.
type Result struct {
	Evaluated       int `json:"evaluated"`
	Fired           int `json:"fired"`
	Scheduled       int `json:"scheduled"`
	SkippedCooldown int `json:"skipped_cooldown"`
	Errors          int `json:"errors"`
}

// Engine runs rule passes against the panel.
type Engine struct {
	panel    *panel.Panel
	catalog  *Catalog
	entities EntitySource
	repo     Repository
	executor *Executor
}

// NewEngine wires an engine.
func NewEngine(p *panel.Panel, catalog *Catalog, entities EntitySource, repo Repository, executor *Executor) *Engine {
	if executor == nil {
		executor = NewExecutor(nil, nil, 0)
	}

	return &Engine{
		panel:    p,
		catalog:  catalog,
		entities: entities,
		repo:     repo,
		executor: executor,
	}
}

// Catalog returns the rule catalog.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// RunRules runs one pass at now. Action failures are counted, never returned.
func (e *Engine) RunRules(ctx context.Context, now time.Time) (*Result, error) {
	started := time.Now()
	ctx = logger.WithName(ctx, "rules")

	entities, err := e.snapshotEntities(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{}

	err = e.panel.Do(ctx, func(tx *panel.Tx) error {
		if _, err := tx.TimerExpired("timer_expired"); err != nil {
			return err
		}

		runtime, err := e.repo.ListRuntime(ctx)
		if err != nil {
			return fmt.Errorf("list runtime: %w", err)
		}

		pass := &pass{
			engine:   e,
			tx:       tx,
			now:      now,
			entities: entities,
			runtime:  runtime,
			result:   result,
		}

		enabled := e.catalog.Enabled()

		pass.resolveDue(enabled)
		pass.evaluate(enabled)

		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ObserveRulePass(time.Since(started), result.Fired, result.Scheduled, result.SkippedCooldown, result.Errors)
	logger.DebugKV(ctx, "Rule pass finished",
		"evaluated", result.Evaluated,
		"fired", result.Fired,
		"scheduled", result.Scheduled,
		"skipped_cooldown", result.SkippedCooldown,
		"errors", result.Errors)

	return result, nil
}

func (e *Engine) snapshotEntities(ctx context.Context) (domain.Entities, error) {
	if e.entities == nil {
		return domain.Entities{}, nil
	}

	snapshot, err := e.entities.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("entity snapshot: %w", err)
	}

	return domain.Entities(snapshot), nil
}

// pass is the state of one RunRules call. It only lives inside Panel.Do.
type pass struct {
	engine   *Engine
	tx       *panel.Tx
	now      time.Time
	entities domain.Entities
	runtime  map[int64]*domain.RuntimeState
	result   *Result
}

func (p *pass) row(ruleID int64) *domain.RuntimeState {
	if row, ok := p.runtime[ruleID]; ok {
		return row
	}

	row := domain.NewRuntimeState(ruleID)
	p.runtime[ruleID] = row

	return row
}

// resolveDue fires or drops rules whose sustained condition came due.
func (p *pass) resolveDue(enabled []*domain.Rule) {
	for _, rule := range enabled {
		row, ok := p.runtime[rule.ID]
		if !ok || !row.Due(p.now) {
			continue
		}

		_, inner, isFor := domain.ExtractFor(rule.When)
		if !isFor || !domain.Eval(inner, p.entities) {
			row.ClearSchedule()
			p.save(row)

			continue
		}

		if rule.CooldownActive(row.LastFiredAt, p.now) {
			// BecameTrueAt stays so the rule is not rescheduled until the
			// condition goes false and true again.
			row.ScheduledFor = nil
			p.save(row)
			p.result.SkippedCooldown++

			continue
		}

		p.fire(rule, row)
		row.ScheduledFor = nil
		p.save(row)
	}
}

// evaluate applies the immediate semantics of every enabled rule.
func (p *pass) evaluate(enabled []*domain.Rule) {
	for _, rule := range enabled {
		p.result.Evaluated++

		if seconds, inner, isFor := domain.ExtractFor(rule.When); isFor {
			p.schedule(rule, seconds, inner)

			continue
		}

		if !domain.Eval(rule.When, p.entities) {
			continue
		}

		row := p.row(rule.ID)
		if rule.CooldownActive(row.LastFiredAt, p.now) {
			p.result.SkippedCooldown++

			continue
		}

		p.fire(rule, row)
		p.save(row)
	}
}

func (p *pass) schedule(rule *domain.Rule, seconds int, inner domain.Condition) {
	row := p.row(rule.ID)

	if !domain.Eval(inner, p.entities) {
		if row.BecameTrueAt != nil || row.ScheduledFor != nil {
			row.ClearSchedule()
			p.save(row)
		}

		return
	}

	if row.BecameTrueAt != nil {
		return
	}

	scheduledFor := p.now.Add(time.Duration(seconds) * time.Second)
	row.BecameTrueAt = domain.TimePtr(p.now)
	row.ScheduledFor = &scheduledFor
	p.save(row)
	p.result.Scheduled++

	logger.DebugKV(p.tx.Context(), "Rule scheduled", "rule", rule.Name, "scheduled_for", scheduledFor)
}

func (p *pass) fire(rule *domain.Rule, row *domain.RuntimeState) {
	ctx := p.tx.Context()

	log := p.engine.executor.Execute(p.tx, rule, p.now)

	row.LastFiredAt = domain.TimePtr(p.now)
	p.result.Fired++

	if log.Error != "" {
		p.result.Errors++
	}

	if err := p.engine.repo.AppendActionLog(ctx, log); err != nil {
		logger.ErrorKV(ctx, "Failed to write rule action log", "rule", rule.Name, "error", err)
	}

	logger.InfoKV(ctx, "Rule fired",
		"rule", rule.Name,
		"state_before", log.StateBefore,
		"state_after", log.StateAfter,
		"error", log.Error)
}

func (p *pass) save(row *domain.RuntimeState) {
	row.UpdatedAt = p.now

	if err := p.engine.repo.SaveRuntime(p.tx.Context(), row); err != nil {
		logger.ErrorKV(p.tx.Context(), "Failed to save rule runtime", "rule_id", row.RuleID, "error", err)

		p.result.Errors++
	}
}
