package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/oshokin/alarm-panel/internal/config"
	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/logger"
	"github.com/oshokin/alarm-panel/internal/service/common"
	"github.com/oshokin/alarm-panel/internal/service/rules"
)

const (
	actorSource = "cli"

	// defaultRetryInterval is the delay between attempts while the server is unreachable.
	defaultRetryInterval = time.Second
)

// Options configures how alarm-ctl reaches the panel.
type Options struct {
	// ConfigPath to YAML settings file, defaults to standard filename if empty.
	ConfigPath string
	// ServerAddress overrides the client address from config when specified.
	ServerAddress string
	// Retries is how many extra attempts are made while the server is unavailable.
	Retries int
}

// Panel is the subset of the gRPC client used by the commands.
type Panel interface {
	GetState(ctx context.Context) (*alarm.Snapshot, error)
	Arm(ctx context.Context, actor *alarm.Actor, mode alarm.State, code string) (*alarm.Snapshot, error)
	Disarm(ctx context.Context, actor *alarm.Actor, code string) (*alarm.Snapshot, error)
	CancelArming(ctx context.Context, actor *alarm.Actor, code string) (*alarm.Snapshot, error)
	Trigger(ctx context.Context, actor *alarm.Actor) (*alarm.Snapshot, error)
	SensorTriggered(ctx context.Context, actor *alarm.Actor, sensorID string) (*alarm.Snapshot, error)
	RunRules(ctx context.Context) (*rules.Result, error)
	SimulateRules(ctx context.Context, req rules.SimulateRequest) (*rules.SimulateResult, error)
	ListEvents(ctx context.Context, limit int) ([]*alarm.Event, error)
}

// Session is one connected alarm-ctl invocation.
type Session struct {
	panel    Panel
	actor    *alarm.Actor
	out      io.Writer
	retries  int
	interval time.Duration
	close    func() error
}

// Connect loads settings and dials the panel.
func Connect(ctx context.Context, opts *Options, out io.Writer) (*Session, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	serverAddress := cfg.Client.ServerAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	// Identify current user and hostname for the audit trail.
	actor, err := common.DetectActor(actorSource)
	if err != nil {
		return nil, err
	}

	client, err := common.Dial(ctx, serverAddress, common.WithCallTimeout(cfg.Client.Timeout))
	if err != nil {
		return nil, err
	}

	logger.DebugKV(ctx, "Connected to alarm panel", "server_address", serverAddress, "actor", actor.String())

	session := NewSession(client, actor, out, opts.Retries)
	session.close = client.Close

	return session, nil
}

// NewSession wraps an existing panel client.
func NewSession(p Panel, actor *alarm.Actor, out io.Writer, retries int) *Session {
	return &Session{
		panel:    p,
		actor:    actor,
		out:      out,
		retries:  max(retries, 0),
		interval: defaultRetryInterval,
	}
}

// Close releases the connection.
func (s *Session) Close() error {
	if s.close == nil {
		return nil
	}

	return s.close()
}

// Status prints the current state.
func (s *Session) Status(ctx context.Context) error {
	return s.snapshotCall(ctx, func(ctx context.Context) (*alarm.Snapshot, error) {
		return s.panel.GetState(ctx)
	})
}

// Arm starts arming towards mode.
func (s *Session) Arm(ctx context.Context, mode, code string) error {
	target, err := alarm.ParseArmedState(mode)
	if err != nil {
		return err
	}

	return s.snapshotCall(ctx, func(ctx context.Context) (*alarm.Snapshot, error) {
		return s.panel.Arm(ctx, s.actor, target, code)
	})
}

// Disarm disarms the panel.
func (s *Session) Disarm(ctx context.Context, code string) error {
	return s.snapshotCall(ctx, func(ctx context.Context) (*alarm.Snapshot, error) {
		return s.panel.Disarm(ctx, s.actor, code)
	})
}

// CancelArming aborts the exit delay.
func (s *Session) CancelArming(ctx context.Context, code string) error {
	return s.snapshotCall(ctx, func(ctx context.Context) (*alarm.Snapshot, error) {
		return s.panel.CancelArming(ctx, s.actor, code)
	})
}

// Trigger triggers the panel.
func (s *Session) Trigger(ctx context.Context) error {
	return s.snapshotCall(ctx, func(ctx context.Context) (*alarm.Snapshot, error) {
		return s.panel.Trigger(ctx, s.actor)
	})
}

// SensorTriggered reports a sensor as tripped.
func (s *Session) SensorTriggered(ctx context.Context, sensorID string) error {
	return s.snapshotCall(ctx, func(ctx context.Context) (*alarm.Snapshot, error) {
		return s.panel.SensorTriggered(ctx, s.actor, sensorID)
	})
}

// Events prints the newest events.
func (s *Session) Events(ctx context.Context, limit int) error {
	var list []*alarm.Event

	err := s.retry(ctx, func(ctx context.Context) error {
		var err error

		list, err = s.panel.ListEvents(ctx, limit)

		return err
	})
	if err != nil {
		return err
	}

	return writeEvents(s.out, list)
}

// RunRules runs one pass and prints its counters.
func (s *Session) RunRules(ctx context.Context) error {
	var result *rules.Result

	err := s.retry(ctx, func(ctx context.Context) error {
		var err error

		result, err = s.panel.RunRules(ctx)

		return err
	})
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(s.out, "evaluated=%d fired=%d scheduled=%d skipped_cooldown=%d errors=%d\n",
		result.Evaluated, result.Fired, result.Scheduled, result.SkippedCooldown, result.Errors)

	return err
}

// Simulate prints the dry-run verdict of every rule.
func (s *Session) Simulate(ctx context.Context, assignments []string, assumeFor int) error {
	overlay, err := ParseAssignments(assignments)
	if err != nil {
		return err
	}

	var result *rules.SimulateResult

	err = s.retry(ctx, func(ctx context.Context) error {
		var err error

		result, err = s.panel.SimulateRules(ctx, rules.SimulateRequest{Entities: overlay, AssumeForSeconds: assumeFor})

		return err
	})
	if err != nil {
		return err
	}

	return writeSimulation(s.out, result)
}

func (s *Session) snapshotCall(ctx context.Context, call func(ctx context.Context) (*alarm.Snapshot, error)) error {
	var snapshot *alarm.Snapshot

	err := s.retry(ctx, func(ctx context.Context) error {
		var err error

		snapshot, err = call(ctx)

		return err
	})
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(s.out, FormatSnapshot(snapshot))

	return err
}

// retry repeats attempt while the server is unavailable, up to the configured retries.
func (s *Session) retry(ctx context.Context, attempt func(ctx context.Context) error) error {
	err := attempt(ctx)
	if err == nil || !transient(err) || s.retries == 0 {
		return err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for i := range s.retries {
		logger.WarnKV(ctx, "Alarm panel unavailable, retrying", "attempt", i+1, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err = attempt(ctx); err == nil || !transient(err) {
			return err
		}
	}

	return err
}

func transient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
