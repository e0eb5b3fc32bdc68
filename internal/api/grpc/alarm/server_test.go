package alarm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/alarm-panel/internal/clock"
	"github.com/oshokin/alarm-panel/internal/codec"
	domain "github.com/oshokin/alarm-panel/internal/domain/alarm"
	alarmcodes "github.com/oshokin/alarm-panel/internal/service/codes"
	"github.com/oshokin/alarm-panel/internal/service/panel"
	"github.com/oshokin/alarm-panel/internal/service/rules"
)

// controllerFake implements Controller with a canned snapshot and error.
type controllerFake struct {
	snapshot *domain.Snapshot
	err      error

	lastMode  domain.State
	lastCode  string
	lastActor *domain.Actor
	lastLimit int
	sensor    *domain.Sensor
}

func (f *controllerFake) Arm(_ context.Context, mode domain.State, actor *domain.Actor, code string) (*domain.Snapshot, error) {
	f.lastMode, f.lastActor, f.lastCode = mode, actor, code

	return f.snapshot, f.err
}

func (f *controllerFake) Disarm(_ context.Context, actor *domain.Actor, code string) (*domain.Snapshot, error) {
	f.lastActor, f.lastCode = actor, code

	return f.snapshot, f.err
}

func (f *controllerFake) CancelArming(_ context.Context, actor *domain.Actor, code string) (*domain.Snapshot, error) {
	f.lastActor, f.lastCode = actor, code

	return f.snapshot, f.err
}

func (f *controllerFake) Trigger(_ context.Context, actor *domain.Actor) (*domain.Snapshot, error) {
	f.lastActor = actor

	return f.snapshot, f.err
}

func (f *controllerFake) SensorTriggered(_ context.Context, sensor *domain.Sensor, actor *domain.Actor) (*domain.Snapshot, error) {
	f.sensor, f.lastActor = sensor, actor

	return f.snapshot, f.err
}

func (f *controllerFake) Snapshot(context.Context) (*domain.Snapshot, error) {
	return f.snapshot, f.err
}

func (f *controllerFake) Events(_ context.Context, limit int) ([]*domain.Event, error) {
	f.lastLimit = limit

	return []*domain.Event{{ID: "e-1", Type: domain.EventArmed}}, f.err
}

type rulesFake struct {
	simulated rules.SimulateRequest
}

func (f *rulesFake) RunRules(context.Context, time.Time) (*rules.Result, error) {
	return &rules.Result{Evaluated: 2, Fired: 1}, nil
}

func (f *rulesFake) SimulateRules(_ context.Context, _ time.Time, req rules.SimulateRequest) (*rules.SimulateResult, error) {
	f.simulated = req

	return &rules.SimulateResult{Entities: req.Entities}, nil
}

type sensorsFake map[string]*domain.Sensor

func (f sensorsFake) ByID(id string) (*domain.Sensor, bool) {
	s, ok := f[id]

	return s, ok
}

func mustStruct(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()

	s, err := structpb.NewStruct(fields)
	require.NoError(t, err)

	return s
}

func newServer(ctrl *controllerFake, runner *rulesFake) *Server {
	return NewServer(ctrl, runner, sensorsFake{"door": {ID: "door"}}, clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
}

// TestServer_Arm verifies request decoding, actor tagging and the snapshot response.
func TestServer_Arm(t *testing.T) {
	t.Parallel()

	ctrl := &controllerFake{snapshot: &domain.Snapshot{CurrentState: domain.StateArming, TargetArmedState: domain.StateArmedAway}}
	s := newServer(ctrl, nil)

	resp, err := s.Arm(context.Background(), mustStruct(t, map[string]any{
		"mode":  "armed_away",
		"code":  "1234",
		"actor": map[string]any{"username": "alice"},
	}))
	require.NoError(t, err)
	require.Equal(t, "arming", codec.String(resp, "current_state"))
	require.Equal(t, domain.StateArmedAway, ctrl.lastMode)
	require.Equal(t, "1234", ctrl.lastCode)
	require.Equal(t, &domain.Actor{Username: "alice", Source: "grpc"}, ctrl.lastActor)

	_, err = s.Arm(context.Background(), mustStruct(t, map[string]any{"mode": "pending"}))
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

// TestServer_ErrorMapping verifies domain errors map to gRPC codes.
func TestServer_ErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		code codes.Code
	}{
		{&panel.TransitionError{Operation: "disarm", From: domain.StateDisarmed}, codes.FailedPrecondition},
		{alarmcodes.ErrCodeRequired, codes.Unauthenticated},
		{fmt.Errorf("wrapped: %w", alarmcodes.ErrInvalidCode), codes.PermissionDenied},
		{alarmcodes.ErrCodeExpired, codes.PermissionDenied},
		{alarmcodes.ErrCodeExhausted, codes.PermissionDenied},
		{errors.New("disk full"), codes.Internal},
	}

	for _, tc := range cases {
		s := newServer(&controllerFake{err: tc.err}, nil)

		_, err := s.Disarm(context.Background(), mustStruct(t, map[string]any{"code": "0000"}))
		require.Equal(t, tc.code, status.Code(err), tc.err.Error())
	}
}

// TestServer_SensorTriggered verifies sensor lookup by id.
func TestServer_SensorTriggered(t *testing.T) {
	t.Parallel()

	ctrl := &controllerFake{snapshot: &domain.Snapshot{CurrentState: domain.StatePending}}
	s := newServer(ctrl, nil)

	_, err := s.SensorTriggered(context.Background(), mustStruct(t, map[string]any{"sensor_id": "door"}))
	require.NoError(t, err)
	require.Equal(t, "door", ctrl.sensor.ID)

	_, err = s.SensorTriggered(context.Background(), mustStruct(t, map[string]any{"sensor_id": "window"}))
	require.Equal(t, codes.NotFound, status.Code(err))
}

// TestServer_Rules verifies rule calls and the missing engine case.
func TestServer_Rules(t *testing.T) {
	t.Parallel()

	runner := new(rulesFake)
	s := newServer(&controllerFake{}, runner)

	resp, err := s.RunRules(context.Background(), new(emptypb.Empty))
	require.NoError(t, err)
	require.Equal(t, 1, codec.Int(resp, "fired", 0))

	_, err = s.SimulateRules(context.Background(), mustStruct(t, map[string]any{
		"entities":           map[string]any{"person.owner": "home"},
		"assume_for_seconds": 30,
	}))
	require.NoError(t, err)
	require.Equal(t, map[string]string{"person.owner": "home"}, runner.simulated.Entities)
	require.Equal(t, 30, runner.simulated.AssumeForSeconds)

	_, err = s.SimulateRules(context.Background(), mustStruct(t, map[string]any{"assume_for_seconds": -1}))
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	bare := NewServer(&controllerFake{}, nil, nil, nil)

	_, err = bare.RunRules(context.Background(), new(emptypb.Empty))
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
}

// TestServiceDesc_Roundtrip calls the hand-declared service over an in-memory connection.
func TestServiceDesc_Roundtrip(t *testing.T) {
	t.Parallel()

	ctrl := &controllerFake{snapshot: &domain.Snapshot{CurrentState: domain.StateDisarmed}}

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	Register(server, newServer(ctrl, new(rulesFake)))

	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	state := new(structpb.Struct)
	require.NoError(t, conn.Invoke(ctx, FullMethod(MethodGetState), new(emptypb.Empty), state))
	require.Equal(t, "disarmed", codec.String(state, "current_state"))

	events := new(structpb.Struct)
	require.NoError(t, conn.Invoke(ctx, FullMethod(MethodListEvents), mustStruct(t, map[string]any{}), events))
	require.Equal(t, defaultEventLimit, ctrl.lastLimit)
	require.Len(t, events.GetFields()["events"].GetListValue().GetValues(), 1)

	ctrl.err = alarmcodes.ErrCodeRequired

	err = conn.Invoke(ctx, FullMethod(MethodDisarm), mustStruct(t, map[string]any{}), new(structpb.Struct))
	require.Equal(t, codes.Unauthenticated, status.Code(err))
}
