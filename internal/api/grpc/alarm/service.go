package alarm

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "alarmpanel.v1.AlarmPanel"

// Method names.
const (
	MethodArm             = "Arm"
	MethodCancelArming    = "CancelArming"
	MethodDisarm          = "Disarm"
	MethodTrigger         = "Trigger"
	MethodSensorTriggered = "SensorTriggered"
	MethodGetState        = "GetState"
	MethodRunRules        = "RunRules"
	MethodSimulateRules   = "SimulateRules"
	MethodListEvents      = "ListEvents"
)

// Handler is the server side of the AlarmPanel service.
type Handler interface {
	Arm(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CancelArming(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Disarm(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Trigger(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	SensorTriggered(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetState(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	RunRules(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	SimulateRules(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListEvents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// FullMethod returns the /service/method path used by clients.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// ServiceDesc describes the AlarmPanel service for grpc.Server.
//
//nolint:gochecknoglobals // Same shape as generated descriptors.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodArm, Handler: structHandler(MethodArm, Handler.Arm)},
		{MethodName: MethodCancelArming, Handler: structHandler(MethodCancelArming, Handler.CancelArming)},
		{MethodName: MethodDisarm, Handler: structHandler(MethodDisarm, Handler.Disarm)},
		{MethodName: MethodTrigger, Handler: structHandler(MethodTrigger, Handler.Trigger)},
		{MethodName: MethodSensorTriggered, Handler: structHandler(MethodSensorTriggered, Handler.SensorTriggered)},
		{MethodName: MethodGetState, Handler: emptyHandler(MethodGetState, Handler.GetState)},
		{MethodName: MethodRunRules, Handler: emptyHandler(MethodRunRules, Handler.RunRules)},
		{MethodName: MethodSimulateRules, Handler: structHandler(MethodSimulateRules, Handler.SimulateRules)},
		{MethodName: MethodListEvents, Handler: structHandler(MethodListEvents, Handler.ListEvents)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "alarmpanel/v1/alarm_panel.proto",
}

// Register adds the service to a gRPC server.
func Register(registrar grpc.ServiceRegistrar, h Handler) {
	registrar.RegisterService(&ServiceDesc, h)
}

func structHandler(
	method string,
	call func(Handler, context.Context, *structpb.Struct) (*structpb.Struct, error),
) grpc.MethodHandler {
	return unaryHandler(method, func() *structpb.Struct { return new(structpb.Struct) }, call)
}

func emptyHandler(
	method string,
	call func(Handler, context.Context, *emptypb.Empty) (*structpb.Struct, error),
) grpc.MethodHandler {
	return unaryHandler(method, func() *emptypb.Empty { return new(emptypb.Empty) }, call)
}

func unaryHandler[Req proto.Message](
	method string,
	newReq func() Req,
	call func(Handler, context.Context, Req) (*structpb.Struct, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}

		h, _ := srv.(Handler)
		if interceptor == nil {
			return call(h, ctx, in)
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: FullMethod(method),
		}

		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			typed, _ := req.(Req)

			return call(h, ctx, typed)
		})
	}
}
