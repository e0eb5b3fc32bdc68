package alarm

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/alarm-panel/internal/clock"
	"github.com/oshokin/alarm-panel/internal/codec"
	domain "github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/logger"
	alarmcodes "github.com/oshokin/alarm-panel/internal/service/codes"
	"github.com/oshokin/alarm-panel/internal/service/panel"
	"github.com/oshokin/alarm-panel/internal/service/rules"
)

const (
	actorSource       = "grpc"
	defaultEventLimit = 50
)

// Controller abstracts the user operations the transport depends on.
type Controller interface {
	Arm(ctx context.Context, mode domain.State, actor *domain.Actor, rawCode string) (*domain.Snapshot, error)
	Disarm(ctx context.Context, actor *domain.Actor, rawCode string) (*domain.Snapshot, error)
	CancelArming(ctx context.Context, actor *domain.Actor, rawCode string) (*domain.Snapshot, error)
	Trigger(ctx context.Context, actor *domain.Actor) (*domain.Snapshot, error)
	SensorTriggered(ctx context.Context, sensor *domain.Sensor, actor *domain.Actor) (*domain.Snapshot, error)
	Snapshot(ctx context.Context) (*domain.Snapshot, error)
	Events(ctx context.Context, limit int) ([]*domain.Event, error)
}

// RuleRunner runs and simulates rule passes.
type RuleRunner interface {
	RunRules(ctx context.Context, now time.Time) (*rules.Result, error)
	SimulateRules(ctx context.Context, now time.Time, req rules.SimulateRequest) (*rules.SimulateResult, error)
}

// SensorLookup resolves configured sensors by id.
type SensorLookup interface {
	ByID(id string) (*domain.Sensor, bool)
}

// Server implements the AlarmPanel gRPC API.
type Server struct {
	control Controller
	rules   RuleRunner
	sensors SensorLookup
	clock   clock.Clock
}

var _ Handler = (*Server)(nil)

// NewServer wires the provided services into a gRPC handler. ruleRunner and
// sensors may be nil, the matching methods then report FailedPrecondition.
func NewServer(control Controller, ruleRunner RuleRunner, sensors SensorLookup, c clock.Clock) *Server {
	if c == nil {
		c = clock.Real{}
	}

	return &Server{
		control: control,
		rules:   ruleRunner,
		sensors: sensors,
		clock:   c,
	}
}

type codeRequest struct {
	Mode  string        `json:"mode"`
	Code  string        `json:"code"`
	Actor *domain.Actor `json:"actor"`
}

type sensorRequest struct {
	SensorID string        `json:"sensor_id"`
	Actor    *domain.Actor `json:"actor"`
}

type eventsRequest struct {
	Limit int `json:"limit"`
}

type eventsResponse struct {
	Events []*domain.Event `json:"events"`
}

// Arm starts arming towards the requested mode.
func (s *Server) Arm(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in codeRequest
	if err := codec.FromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	mode, err := domain.ParseArmedState(in.Mode)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	return s.snapshotResponse(ctx, MethodArm)(s.control.Arm(ctx, mode, actorOf(in.Actor), in.Code))
}

// CancelArming aborts an exit delay.
func (s *Server) CancelArming(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in codeRequest
	if err := codec.FromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	return s.snapshotResponse(ctx, MethodCancelArming)(s.control.CancelArming(ctx, actorOf(in.Actor), in.Code))
}

// Disarm disarms the panel.
func (s *Server) Disarm(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in codeRequest
	if err := codec.FromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	return s.snapshotResponse(ctx, MethodDisarm)(s.control.Disarm(ctx, actorOf(in.Actor), in.Code))
}

// Trigger triggers the panel immediately.
func (s *Server) Trigger(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in codeRequest
	if err := codec.FromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	return s.snapshotResponse(ctx, MethodTrigger)(s.control.Trigger(ctx, actorOf(in.Actor)))
}

// SensorTriggered reports a configured sensor as tripped.
func (s *Server) SensorTriggered(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in sensorRequest
	if err := codec.FromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if s.sensors == nil {
		return nil, status.Error(codes.FailedPrecondition, "no sensors configured")
	}

	sensor, ok := s.sensors.ByID(in.SensorID)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "sensor %q is not configured", in.SensorID)
	}

	return s.snapshotResponse(ctx, MethodSensorTriggered)(s.control.SensorTriggered(ctx, sensor, actorOf(in.Actor)))
}

// GetState returns the current snapshot after processing due timers.
func (s *Server) GetState(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.snapshotResponse(ctx, MethodGetState)(s.control.Snapshot(ctx))
}

// RunRules runs one rule pass now.
func (s *Server) RunRules(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s.rules == nil {
		return nil, status.Error(codes.FailedPrecondition, "rule engine is not configured")
	}

	result, err := s.rules.RunRules(ctx, s.clock.Now())
	if err != nil {
		return nil, toStatus(ctx, MethodRunRules, err)
	}

	return encode(result)
}

// SimulateRules evaluates rules against overlaid entity states without side effects.
func (s *Server) SimulateRules(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.rules == nil {
		return nil, status.Error(codes.FailedPrecondition, "rule engine is not configured")
	}

	var in rules.SimulateRequest
	if err := codec.FromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if in.AssumeForSeconds < 0 {
		return nil, status.Error(codes.InvalidArgument, "assume_for_seconds must not be negative")
	}

	result, err := s.rules.SimulateRules(ctx, s.clock.Now(), in)
	if err != nil {
		return nil, toStatus(ctx, MethodSimulateRules, err)
	}

	return encode(result)
}

// ListEvents returns the newest events first.
func (s *Server) ListEvents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in eventsRequest
	if err := codec.FromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if in.Limit <= 0 {
		in.Limit = defaultEventLimit
	}

	list, err := s.control.Events(ctx, in.Limit)
	if err != nil {
		return nil, toStatus(ctx, MethodListEvents, err)
	}

	return encode(eventsResponse{Events: list})
}

func (s *Server) snapshotResponse(
	ctx context.Context,
	method string,
) func(*domain.Snapshot, error) (*structpb.Struct, error) {
	return func(snapshot *domain.Snapshot, err error) (*structpb.Struct, error) {
		if err != nil {
			return nil, toStatus(ctx, method, err)
		}

		return encode(snapshot)
	}
}

func encode(v any) (*structpb.Struct, error) {
	s, err := codec.ToStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	return s, nil
}

// actorOf tags the caller's actor with the transport name.
func actorOf(actor *domain.Actor) *domain.Actor {
	if actor == nil {
		return &domain.Actor{Source: actorSource}
	}

	cloned := *actor
	if cloned.Source == "" {
		cloned.Source = actorSource
	}

	return &cloned
}

// toStatus maps domain errors to gRPC codes. Unexpected errors are logged and
// reported without detail.
func toStatus(ctx context.Context, method string, err error) error {
	switch {
	case errors.Is(err, panel.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, alarmcodes.ErrCodeRequired):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, alarmcodes.ErrInvalidCode),
		errors.Is(err, alarmcodes.ErrCodeExpired),
		errors.Is(err, alarmcodes.ErrCodeExhausted):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		logger.ErrorKV(ctx, "Alarm panel call failed", "method", method, "error", err)

		return status.Errorf(codes.Internal, "%s failed", method)
	}
}
