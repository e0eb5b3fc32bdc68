package zwavejs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	domain "github.com/oshokin/alarm-panel/internal/domain/rules"
)

type serverFake struct {
	mu       sync.Mutex
	commands []map[string]any
	dials    int
}

func (s *serverFake) handler(t *testing.T) http.HandlerFunc {
	t.Helper()

	upgrader := websocket.Upgrader{}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		s.mu.Lock()
		s.dials++
		s.mu.Unlock()

		if err = conn.WriteJSON(map[string]any{"type": "version", "serverVersion": "1.0.0"}); err != nil {
			return
		}

		for {
			var cmd map[string]any
			if err = conn.ReadJSON(&cmd); err != nil {
				return
			}

			s.mu.Lock()
			s.commands = append(s.commands, cmd)
			s.mu.Unlock()

			// An unrelated event must be skipped by the client.
			_ = conn.WriteJSON(map[string]any{"type": "event", "event": map[string]any{"source": "controller"}})

			result := map[string]any{"type": "result", "messageId": cmd["messageId"], "success": true, "result": map[string]any{}}
			if cmd["command"] == "node.set_value" && cmd["nodeId"] == float64(99) {
				result = map[string]any{
					"type":      "result",
					"messageId": cmd["messageId"],
					"success":   false,
					"errorCode": "node_not_found",
				}
			}

			if err = conn.WriteJSON(result); err != nil {
				return
			}
		}
	}
}

// TestClient_SetValue verifies the handshake and the node.set_value payload.
func TestClient_SetValue(t *testing.T) {
	t.Parallel()

	fake := &serverFake{}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	client, err := NewClient("ws"+strings.TrimPrefix(server.URL, "http"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	node := domain.NodeRef{NodeID: 5, CommandClass: 37, Property: "targetValue"}

	require.NoError(t, client.SetValue(ctx, node, true))
	require.NoError(t, client.SetValue(ctx, node, false))

	err = client.SetValue(ctx, domain.NodeRef{NodeID: 99, CommandClass: 37, Property: "targetValue"}, true)

	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	require.Equal(t, "node_not_found", cmdErr.ErrorCode)

	fake.mu.Lock()
	defer fake.mu.Unlock()

	require.Equal(t, 1, fake.dials)
	require.Len(t, fake.commands, 4)
	require.Equal(t, "set_api_schema", fake.commands[0]["command"])
	require.Equal(t, float64(DefaultSchemaVersion), fake.commands[0]["schemaVersion"])

	setValue := fake.commands[1]
	require.Equal(t, "node.set_value", setValue["command"])
	require.Equal(t, float64(5), setValue["nodeId"])
	require.Equal(t, true, setValue["value"])
	require.Equal(t, map[string]any{
		"commandClass": float64(37),
		"endpoint":     float64(0),
		"property":     "targetValue",
	}, setValue["valueId"])
}

// TestClient_DialFailure verifies an unreachable server is reported.
func TestClient_DialFailure(t *testing.T) {
	t.Parallel()

	client, err := NewClient("ws://127.0.0.1:1", 0)
	require.NoError(t, err)

	err = client.SetValue(context.Background(), domain.NodeRef{NodeID: 1}, 1)
	require.Error(t, err)

	_, err = NewClient("", 0)
	require.ErrorIs(t, err, errEmptyURL)
}
