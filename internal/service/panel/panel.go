package panel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oshokin/alarm-panel/internal/clock"
	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/logger"
	"github.com/oshokin/alarm-panel/internal/metrics"
	"github.com/oshokin/alarm-panel/internal/repository/state"
	"github.com/oshokin/alarm-panel/internal/service/events"
	"github.com/oshokin/alarm-panel/internal/settings"
)

const defaultProfileName = "default"

// Listener is notified after a mutation committed, outside the lock.
// Notifications arrive in commit order. A listener must not mutate the panel.
type Listener interface {
	StateChanged(ctx context.Context, snapshot *alarm.Snapshot)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, snapshot *alarm.Snapshot)

// StateChanged calls f.
func (f ListenerFunc) StateChanged(ctx context.Context, snapshot *alarm.Snapshot) {
	f(ctx, snapshot)
}

// Request carries who asked for a transition and why.
type Request struct {
	Actor  *alarm.Actor
	CodeID *int64
	Reason string
}

// Options configure a Panel.
type Options struct {
	Repository state.SnapshotRepository
	Recorder   *events.Recorder
	Settings   settings.Source
	Clock      clock.Clock
}

// Panel is the alarm state aggregate. It is safe for concurrent use.
type Panel struct {
	repo      state.SnapshotRepository
	recorder  *events.Recorder
	settings  settings.Source
	clock     clock.Clock
	listeners []Listener

	mu       sync.RWMutex
	snapshot *alarm.Snapshot
	// notified is closed once listeners have seen the latest commit.
	notified chan struct{}
}

// New loads the aggregate, creating it disarmed when the repository has none.
func New(ctx context.Context, opts Options) (*Panel, error) {
	p := &Panel{
		repo:     opts.Repository,
		recorder: opts.Recorder,
		settings: opts.Settings,
		clock:    opts.Clock,
	}

	if p.clock == nil {
		p.clock = clock.Real{}
	}

	if p.settings == nil {
		p.settings = settings.NewStatic(settings.NewProfile(defaultProfileName, nil))
	}

	if p.recorder == nil {
		p.recorder = events.NewRecorder(nil, nil)
	}

	if p.repo == nil {
		p.repo = state.NewMemoryRepository(0)
	}

	snapshot, err := p.repo.Load(ctx)
	switch {
	case err == nil:
		p.snapshot = snapshot
	case errors.Is(err, state.ErrNotFound):
		p.snapshot = alarm.NewDisarmed(p.clock.Now(), p.profile().Name)

		if err = p.repo.Save(ctx, p.snapshot); err != nil {
			return nil, fmt.Errorf("create initial state: %w", err)
		}
	default:
		return nil, fmt.Errorf("load state: %w", err)
	}

	metrics.SetState(string(p.snapshot.CurrentState))
	logger.InfoKV(ctx, "Alarm state loaded",
		"state", p.snapshot.CurrentState,
		"entered_at", p.snapshot.EnteredAt,
		"profile", p.snapshot.ProfileName)

	return p, nil
}

// AddListener registers a listener. It must be called before the panel is shared.
func (p *Panel) AddListener(l Listener) {
	p.listeners = append(p.listeners, l)
}

// Clock returns the time source of the panel.
func (p *Panel) Clock() clock.Clock {
	return p.clock
}

// Settings returns the settings source of the panel.
func (p *Panel) Settings() settings.Source {
	return p.settings
}

// Recorder returns the event recorder of the panel.
func (p *Panel) Recorder() *events.Recorder {
	return p.recorder
}

// Do runs fn while holding the exclusive lock. Listeners are notified after the
// lock is released if fn committed at least one transition. A notification
// waits for the one of the previous commit, so listeners never see an older
// state after a newer one.
func (p *Panel) Do(ctx context.Context, fn func(tx *Tx) error) error {
	tx := &Tx{ctx: ctx, p: p}

	snapshot, prev, done, err := p.commit(tx, fn)
	if done == nil {
		return err
	}

	defer close(done)

	if prev != nil {
		<-prev
	}

	for _, l := range p.listeners {
		l.StateChanged(ctx, snapshot.Clone())
	}

	return err
}

// commit runs fn under the exclusive lock. When fn changed the state it also
// queues a notification slot behind the previous one.
func (p *Panel) commit(
	tx *Tx,
	fn func(tx *Tx) error,
) (snapshot *alarm.Snapshot, prev, done chan struct{}, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	err = fn(tx)
	if !tx.changed {
		return nil, nil, nil, err
	}

	prev, done = p.notified, make(chan struct{})
	p.notified = done

	return p.snapshot.Clone(), prev, done, err
}

// Snapshot returns the current aggregate. With processTimers an expired timer is
// resolved first, which takes the exclusive path.
func (p *Panel) Snapshot(ctx context.Context, processTimers bool) (*alarm.Snapshot, error) {
	if !processTimers {
		p.mu.RLock()
		defer p.mu.RUnlock()

		return p.snapshot.Clone(), nil
	}

	var result *alarm.Snapshot

	err := p.Do(ctx, func(tx *Tx) error {
		var err error

		result, err = tx.TimerExpired("timer_expired")

		return err
	})

	return result, err
}

// Arm starts the exit delay towards target.
func (p *Panel) Arm(ctx context.Context, target alarm.State, req Request) (*alarm.Snapshot, error) {
	return p.run(ctx, func(tx *Tx) (*alarm.Snapshot, error) { return tx.Arm(target, req) })
}

// CancelArming aborts the exit delay.
func (p *Panel) CancelArming(ctx context.Context, req Request) (*alarm.Snapshot, error) {
	return p.run(ctx, func(tx *Tx) (*alarm.Snapshot, error) { return tx.CancelArming(req) })
}

// Disarm disarms from any state.
func (p *Panel) Disarm(ctx context.Context, req Request) (*alarm.Snapshot, error) {
	return p.run(ctx, func(tx *Tx) (*alarm.Snapshot, error) { return tx.Disarm(req) })
}

// SensorTriggered reports sensor activity.
func (p *Panel) SensorTriggered(ctx context.Context, sensor *alarm.Sensor, req Request) (*alarm.Snapshot, error) {
	return p.run(ctx, func(tx *Tx) (*alarm.Snapshot, error) { return tx.SensorTriggered(sensor, req) })
}

// Trigger sounds the alarm immediately.
func (p *Panel) Trigger(ctx context.Context, req Request) (*alarm.Snapshot, error) {
	return p.run(ctx, func(tx *Tx) (*alarm.Snapshot, error) { return tx.Trigger(req) })
}

// TimerExpired resolves a due timer.
func (p *Panel) TimerExpired(ctx context.Context, reason string) (*alarm.Snapshot, error) {
	return p.run(ctx, func(tx *Tx) (*alarm.Snapshot, error) { return tx.TimerExpired(reason) })
}

func (p *Panel) profile() *settings.Profile {
	if profile := p.settings.Active(); profile != nil {
		return profile
	}

	return settings.NewProfile(defaultProfileName, nil)
}

func (p *Panel) run(ctx context.Context, op func(tx *Tx) (*alarm.Snapshot, error)) (*alarm.Snapshot, error) {
	var result *alarm.Snapshot

	err := p.Do(ctx, func(tx *Tx) error {
		var err error

		result, err = op(tx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
