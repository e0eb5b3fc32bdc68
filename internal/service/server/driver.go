package server

import (
	"context"
	"time"

	"github.com/oshokin/alarm-panel/internal/clock"
	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/logger"
	"github.com/oshokin/alarm-panel/internal/service/entities"
	"github.com/oshokin/alarm-panel/internal/service/rules"
)

// TimerSource resolves due panel timers.
type TimerSource interface {
	Snapshot(ctx context.Context, processTimers bool) (*alarm.Snapshot, error)
}

// RuleRunner runs one rule pass.
type RuleRunner interface {
	RunRules(ctx context.Context, now time.Time) (*rules.Result, error)
}

// Driver advances timers and runs rule passes on a ticker and whenever an
// entity changes. Both paths are idempotent so redundant passes are harmless.
type Driver struct {
	timers   TimerSource
	rules    RuleRunner
	clock    clock.Clock
	interval time.Duration
	kick     chan struct{}
}

var _ entities.Listener = (*Driver)(nil)

// NewDriver creates a driver. rules may be nil when no engine is configured.
func NewDriver(timers TimerSource, ruleRunner RuleRunner, c clock.Clock, interval time.Duration) *Driver {
	if c == nil {
		c = clock.Real{}
	}

	if interval <= 0 {
		interval = time.Second
	}

	return &Driver{
		timers:   timers,
		rules:    ruleRunner,
		clock:    c,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// EntityChanged schedules an immediate pass. Repeated changes coalesce.
func (d *Driver) EntityChanged(context.Context, entities.Change) {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Run ticks until ctx is done.
func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		case <-d.kick:
			d.Tick(ctx)
		}
	}
}

// Tick processes due timers, then runs one rule pass.
func (d *Driver) Tick(ctx context.Context) {
	if _, err := d.timers.Snapshot(ctx, true); err != nil {
		logger.ErrorKV(ctx, "Failed to process panel timers", "error", err)
	}

	if d.rules == nil {
		return
	}

	if _, err := d.rules.RunRules(ctx, d.clock.Now()); err != nil {
		logger.ErrorKV(ctx, "Rule pass failed", "error", err)
	}
}
