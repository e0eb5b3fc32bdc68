// Package zwavejs writes device values through a Z-Wave JS server websocket.
package zwavejs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	domain "github.com/oshokin/alarm-panel/internal/domain/rules"
	"github.com/oshokin/alarm-panel/internal/logger"
	"github.com/oshokin/alarm-panel/internal/metrics"
)

const (
	gatewayName = "zwavejs"

	// DefaultSchemaVersion is the API schema requested after connecting.
	DefaultSchemaVersion = 35

	defaultCallTimeout = 5 * time.Second
)

var (
	errEmptyURL      = errors.New("zwavejs: empty url")
	errUnexpectedMsg = errors.New("zwavejs: expected version message")
)

// CommandError is a failed command result.
type CommandError struct {
	Command   string
	ErrorCode string
	Message   string
}

func (e *CommandError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("zwavejs: %s failed: %s: %s", e.Command, e.ErrorCode, e.Message)
	}

	return fmt.Sprintf("zwavejs: %s failed: %s", e.Command, e.ErrorCode)
}

type message struct {
	Type      string          `json:"type"`
	MessageID string          `json:"messageId,omitempty"`
	Success   bool            `json:"success"`
	ErrorCode string          `json:"errorCode,omitempty"`
	Message   string          `json:"message,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// Client is a Z-Wave JS server client. Calls are serialized over one connection
// that is dialed on first use and redialed after a failure.
type Client struct {
	url           string
	schemaVersion int
	dialer        *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient creates a client for a ws:// or wss:// url.
func NewClient(url string, schemaVersion int) (*Client, error) {
	if url == "" {
		return nil, errEmptyURL
	}

	if schemaVersion <= 0 {
		schemaVersion = DefaultSchemaVersion
	}

	return &Client{
		url:           url,
		schemaVersion: schemaVersion,
		dialer:        websocket.DefaultDialer,
	}, nil
}

// SetValue sends node.set_value for the addressed value.
func (c *Client) SetValue(ctx context.Context, node domain.NodeRef, value any) error {
	started := time.Now()

	valueID := map[string]any{
		"commandClass": node.CommandClass,
		"endpoint":     node.Endpoint,
		"property":     node.Property,
	}

	if node.PropertyKey != nil {
		valueID["propertyKey"] = node.PropertyKey
	}

	_, err := c.Call(ctx, "node.set_value", map[string]any{
		"nodeId":  node.NodeID,
		"valueId": valueID,
		"value":   value,
	})
	metrics.ObserveGatewayCall(gatewayName, err, time.Since(started))

	return err
}

// Call sends a command and waits for its result.
func (c *Client) Call(ctx context.Context, command string, args map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	result, err := roundTrip(ctx, conn, command, args)
	if err != nil {
		var cmdErr *CommandError
		if !errors.As(err, &cmdErr) {
			// Transport failure, the connection state is unknown.
			c.closeLocked()
		}

		return nil, err
	}

	return result, nil
}

// Close closes the connection if one is open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil

	return err
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("zwavejs: dial %s: %w", c.url, err)
	}

	applyDeadline(ctx, conn)

	var hello message
	if err = conn.ReadJSON(&hello); err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("zwavejs: read version: %w", err)
	}

	if hello.Type != "version" {
		_ = conn.Close()

		return nil, fmt.Errorf("%w, got %q", errUnexpectedMsg, hello.Type)
	}

	if _, err = roundTrip(ctx, conn, "set_api_schema", map[string]any{"schemaVersion": c.schemaVersion}); err != nil {
		_ = conn.Close()

		return nil, err
	}

	logger.InfoKV(ctx, "Connected to Z-Wave JS server", "url", c.url, "schema", c.schemaVersion)

	c.conn = conn

	return conn, nil
}

func roundTrip(ctx context.Context, conn *websocket.Conn, command string, args map[string]any) (json.RawMessage, error) {
	id := uuid.NewString()

	payload := make(map[string]any, len(args)+2)
	for k, v := range args {
		payload[k] = v
	}

	payload["messageId"] = id
	payload["command"] = command

	applyDeadline(ctx, conn)

	if err := conn.WriteJSON(payload); err != nil {
		return nil, fmt.Errorf("zwavejs: send %s: %w", command, err)
	}

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return nil, fmt.Errorf("zwavejs: read %s result: %w", command, err)
		}

		if msg.Type != "result" || msg.MessageID != id {
			continue
		}

		if !msg.Success {
			return nil, &CommandError{Command: command, ErrorCode: msg.ErrorCode, Message: msg.Message}
		}

		return msg.Result, nil
	}
}

func applyDeadline(ctx context.Context, conn *websocket.Conn) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultCallTimeout)
	}

	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)
}
