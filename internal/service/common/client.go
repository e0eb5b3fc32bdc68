//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	api "github.com/oshokin/alarm-panel/internal/api/grpc/alarm"
	"github.com/oshokin/alarm-panel/internal/codec"
	"github.com/oshokin/alarm-panel/internal/config"
	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/service/rules"
)

// Client wraps a gRPC connection to the AlarmPanel service with convenience helpers.
type Client struct {
	// conn is the underlying gRPC connection to the panel server.
	conn grpc.ClientConnInterface
	// closer releases conn, nil for borrowed connections.
	closer func() error

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

var (
	// errAddressRequired is returned when a required address value is missing.
	errAddressRequired = errors.New("address must be provided")
	// errActorRequired is returned when an actor is not provided but is required for the operation.
	errActorRequired = errors.New("actor must be provided")
)

// Dial establishes a gRPC connection to the panel server.
// Note: this uses insecure transport credentials; deploy on a trusted network
// or terminate TLS in a proxy until native TLS is added.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial alarm panel: %w", err)
	}

	client := NewClient(conn, opts...)
	client.closer = conn.Close

	return client, nil
}

// NewClient wraps an existing connection. Close does not close it.
func NewClient(conn grpc.ClientConnInterface, opts ...Option) *Client {
	client := &Client{
		conn:        conn,
		callTimeout: config.DefaultTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}

	return c.closer()
}

// GetState retrieves the current panel snapshot.
func (c *Client) GetState(ctx context.Context) (*alarm.Snapshot, error) {
	var snapshot alarm.Snapshot
	if err := c.invoke(ctx, api.MethodGetState, new(emptypb.Empty), &snapshot); err != nil {
		return nil, err
	}

	return &snapshot, nil
}

// Arm starts arming towards mode.
func (c *Client) Arm(ctx context.Context, actor *alarm.Actor, mode alarm.State, code string) (*alarm.Snapshot, error) {
	return c.codeCall(ctx, api.MethodArm, actor, map[string]any{"mode": string(mode), "code": code})
}

// Disarm disarms the panel.
func (c *Client) Disarm(ctx context.Context, actor *alarm.Actor, code string) (*alarm.Snapshot, error) {
	return c.codeCall(ctx, api.MethodDisarm, actor, map[string]any{"code": code})
}

// CancelArming aborts the exit delay.
func (c *Client) CancelArming(ctx context.Context, actor *alarm.Actor, code string) (*alarm.Snapshot, error) {
	return c.codeCall(ctx, api.MethodCancelArming, actor, map[string]any{"code": code})
}

// Trigger triggers the panel immediately.
func (c *Client) Trigger(ctx context.Context, actor *alarm.Actor) (*alarm.Snapshot, error) {
	return c.codeCall(ctx, api.MethodTrigger, actor, map[string]any{})
}

// SensorTriggered reports a configured sensor as tripped.
func (c *Client) SensorTriggered(ctx context.Context, actor *alarm.Actor, sensorID string) (*alarm.Snapshot, error) {
	return c.codeCall(ctx, api.MethodSensorTriggered, actor, map[string]any{"sensor_id": sensorID})
}

// RunRules runs one rule pass on the server.
func (c *Client) RunRules(ctx context.Context) (*rules.Result, error) {
	var result rules.Result
	if err := c.invoke(ctx, api.MethodRunRules, new(emptypb.Empty), &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// SimulateRules evaluates rules on the server without side effects.
func (c *Client) SimulateRules(ctx context.Context, req rules.SimulateRequest) (*rules.SimulateResult, error) {
	in, err := codec.ToStruct(req)
	if err != nil {
		return nil, err
	}

	var result rules.SimulateResult
	if err = c.invoke(ctx, api.MethodSimulateRules, in, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// ListEvents returns up to limit events, newest first.
func (c *Client) ListEvents(ctx context.Context, limit int) ([]*alarm.Event, error) {
	in, err := structpb.NewStruct(map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	var out struct {
		Events []*alarm.Event `json:"events"`
	}

	if err = c.invoke(ctx, api.MethodListEvents, in, &out); err != nil {
		return nil, err
	}

	return out.Events, nil
}

func (c *Client) codeCall(
	ctx context.Context,
	method string,
	actor *alarm.Actor,
	fields map[string]any,
) (*alarm.Snapshot, error) {
	if actor == nil {
		return nil, errActorRequired
	}

	fields["actor"] = map[string]any{
		"username": actor.Username,
		"hostname": actor.Hostname,
		"source":   actor.Source,
	}

	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	var snapshot alarm.Snapshot
	if err = c.invoke(ctx, method, in, &snapshot); err != nil {
		return nil, err
	}

	return &snapshot, nil
}

// invoke calls method and decodes the Struct reply into out.
func (c *Client) invoke(ctx context.Context, method string, in proto.Message, out any) error {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	reply := new(structpb.Struct)
	if err := c.conn.Invoke(callCtx, api.FullMethod(method), in, reply); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	if err := codec.FromStruct(reply, out); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	return nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
