package client

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	domain "github.com/oshokin/alarm-panel/internal/domain/rules"
	"github.com/oshokin/alarm-panel/internal/service/rules"
)

// panelFake implements Panel; failures is the number of Unavailable replies before success.
type panelFake struct {
	failures int
	calls    int
	armed    alarm.State
	code     string
	request  rules.SimulateRequest
}

func (f *panelFake) reply() error {
	f.calls++

	if f.failures > 0 {
		f.failures--

		return status.Error(codes.Unavailable, "connection refused")
	}

	return nil
}

func (f *panelFake) snapshot() *alarm.Snapshot {
	return &alarm.Snapshot{
		CurrentState: alarm.StateDisarmed,
		EnteredAt:    time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
		LastActor:    &alarm.Actor{Username: "alice", Hostname: "desk", Source: "cli"},
		LastReason:   "disarm",
	}
}

func (f *panelFake) GetState(context.Context) (*alarm.Snapshot, error) {
	return f.snapshot(), f.reply()
}

func (f *panelFake) Arm(_ context.Context, _ *alarm.Actor, mode alarm.State, code string) (*alarm.Snapshot, error) {
	f.armed, f.code = mode, code

	return f.snapshot(), f.reply()
}

func (f *panelFake) Disarm(_ context.Context, _ *alarm.Actor, code string) (*alarm.Snapshot, error) {
	f.code = code

	return f.snapshot(), f.reply()
}

func (f *panelFake) CancelArming(context.Context, *alarm.Actor, string) (*alarm.Snapshot, error) {
	return f.snapshot(), f.reply()
}

func (f *panelFake) Trigger(context.Context, *alarm.Actor) (*alarm.Snapshot, error) {
	return f.snapshot(), f.reply()
}

func (f *panelFake) SensorTriggered(context.Context, *alarm.Actor, string) (*alarm.Snapshot, error) {
	return f.snapshot(), f.reply()
}

func (f *panelFake) RunRules(context.Context) (*rules.Result, error) {
	return &rules.Result{Evaluated: 3, Fired: 1}, f.reply()
}

func (f *panelFake) SimulateRules(_ context.Context, req rules.SimulateRequest) (*rules.SimulateResult, error) {
	f.request = req

	return &rules.SimulateResult{Rules: []rules.SimulatedRule{
		{RuleID: 1, Name: "away", Priority: 5, Matched: true, Status: rules.StatusWouldFire, Actions: []string{"alarm_arm"}},
		{RuleID: 2, Name: "night", Status: rules.StatusNoMatch, Trace: &domain.Trace{Op: "entity_state", Result: false}},
	}}, f.reply()
}

func (f *panelFake) ListEvents(context.Context, int) ([]*alarm.Event, error) {
	return []*alarm.Event{{
		Timestamp: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
		Type:      alarm.EventSensorTriggered,
		SensorID:  "door",
	}}, f.reply()
}

func newTestSession(p Panel, retries int) (*Session, *bytes.Buffer) {
	out := new(bytes.Buffer)
	s := NewSession(p, &alarm.Actor{Username: "alice"}, out, retries)
	s.interval = time.Millisecond

	return s, out
}

// TestSession_Arm verifies mode parsing and the printed snapshot.
func TestSession_Arm(t *testing.T) {
	t.Parallel()

	fake := new(panelFake)
	s, out := newTestSession(fake, 0)

	require.NoError(t, s.Arm(context.Background(), "armed_night", "1234"))
	require.Equal(t, alarm.StateArmedNight, fake.armed)
	require.Equal(t, "1234", fake.code)
	require.Equal(t, "disarmed since 2026-02-03T04:05:06Z by alice@desk (cli) (disarm)\n", out.String())

	require.Error(t, s.Arm(context.Background(), "disarmed", ""))
}

// TestSession_Retry verifies unavailable servers are retried only as configured.
func TestSession_Retry(t *testing.T) {
	t.Parallel()

	fake := &panelFake{failures: 2}
	s, _ := newTestSession(fake, 3)

	require.NoError(t, s.Status(context.Background()))
	require.Equal(t, 3, fake.calls)

	fake = &panelFake{failures: 2}
	s, _ = newTestSession(fake, 1)

	err := s.Disarm(context.Background(), "0000")
	require.Equal(t, codes.Unavailable, status.Code(err))
	require.Equal(t, 2, fake.calls)
}

// TestSession_Output verifies the events, rules and simulate renderings.
func TestSession_Output(t *testing.T) {
	t.Parallel()

	fake := new(panelFake)
	s, out := newTestSession(fake, 0)

	require.NoError(t, s.Events(context.Background(), 10))
	require.Contains(t, out.String(), "sensor_triggered")
	require.Contains(t, out.String(), "door")
	require.Contains(t, out.String(), "<system>")

	out.Reset()
	require.NoError(t, s.RunRules(context.Background()))
	require.Equal(t, "evaluated=3 fired=1 scheduled=0 skipped_cooldown=0 errors=0\n", out.String())

	out.Reset()
	require.NoError(t, s.Simulate(context.Background(), []string{"person.owner=home"}, 30))
	require.Equal(t, map[string]string{"person.owner": "home"}, fake.request.Entities)
	require.Equal(t, 30, fake.request.AssumeForSeconds)
	require.Contains(t, out.String(), "would_fire")
	require.Contains(t, out.String(), `rule 2 trace: {"op":"entity_state"`)

	require.Error(t, s.Simulate(context.Background(), []string{"broken"}, 0))
}

// TestFormatSnapshot verifies arming details and nil handling.
func TestFormatSnapshot(t *testing.T) {
	t.Parallel()

	exit := time.Date(2026, 2, 3, 4, 6, 6, 0, time.UTC)
	got := FormatSnapshot(&alarm.Snapshot{
		CurrentState:     alarm.StateArming,
		TargetArmedState: alarm.StateArmedAway,
		EnteredAt:        time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
		ExitAt:           &exit,
	})
	require.Equal(t, "arming -> armed_away since 2026-02-03T04:05:06Z until 2026-02-03T04:06:06Z by <system>", got)
	require.Equal(t, "<nil state>", FormatSnapshot(nil))
}
