package integration

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/oshokin/alarm-panel/internal/config"
	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/service/common"
	"github.com/oshokin/alarm-panel/internal/service/rules"
	"github.com/oshokin/alarm-panel/internal/service/server"
	"github.com/oshokin/alarm-panel/internal/settings"
)

const rulesYAML = `
rules:
  - id: 1
    name: Smoke triggers the alarm
    priority: 100
    when:
      op: entity_state
      entity_id: binary_sensor.smoke
      equals: "on"
    then:
      - type: alarm_trigger
`

// startServer writes settings and rules into a temp dir and runs the real server.
// Returns a stop function to gracefully shutdown the server.
func startServer(t *testing.T, addr, statePath string) (stop func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "settings.yaml")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.yaml"), []byte(rulesYAML), 0o600))
	require.NoError(
		t,
		config.Save(cfgPath, &config.Config{
			Server: config.ServerConfig{
				GRPCAddress:  addr,
				TickInterval: 50 * time.Millisecond,
			},
			Storage: config.StorageConfig{Driver: config.DriverFile, StateFile: statePath},
			Profile: config.ProfileConfig{
				Name:     "integration",
				Settings: map[string]any{settings.KeyArmingTime: 60},
			},
			Sensors: []config.SensorConfig{
				{ID: "front_door", EntityID: "binary_sensor.front_door", EntryPoint: true},
			},
			Codes:     []config.CodeConfig{{ID: 1, Label: "owner", PIN: "1234"}},
			RulesFile: "rules.yaml",
		}),
	)

	done := make(chan struct{})

	go func() {
		defer close(done)

		_ = server.Run(ctx, &server.Options{ConfigPath: cfgPath}) //nolint:errcheck // Stopped by cancel.
	}()

	// Wait briefly for server to start listening.
	time.Sleep(150 * time.Millisecond)

	return func() {
		cancel()
		<-done
	}
}

// freeAddress reserves a loopback port for the test server.
func freeAddress(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	_ = l.Close()

	return addr
}

// TestGRPC_Roundtrip starts the real server and exercises arming, codes, rules and persistence.
func TestGRPC_Roundtrip(t *testing.T) {
	t.Parallel()

	addr := freeAddress(t)
	statePath := filepath.Join(t.TempDir(), "state.json")

	stop := startServer(t, addr, statePath)
	defer stop()

	ctx := context.Background()

	c, err := common.Dial(ctx, addr, common.WithCallTimeout(3*time.Second))
	require.NoError(t, err)

	defer func() {
		_ = c.Close()
	}()

	actor := &alarm.Actor{Hostname: "test-hostname", Username: "test-user", Source: "cli"}

	snapshot, err := c.GetState(ctx)
	require.NoError(t, err)
	require.Equal(t, alarm.StateDisarmed, snapshot.CurrentState)
	require.Equal(t, "integration", snapshot.ProfileName)

	snapshot, err = c.Arm(ctx, actor, alarm.StateArmedAway, "")
	require.NoError(t, err)
	require.Equal(t, alarm.StateArming, snapshot.CurrentState)

	// A wrong code is rejected and leaves the panel arming.
	_, err = c.CancelArming(ctx, actor, "0000")
	require.Equal(t, codes.PermissionDenied, status.Code(err))

	snapshot, err = c.CancelArming(ctx, actor, "1234")
	require.NoError(t, err)
	require.Equal(t, alarm.StateDisarmed, snapshot.CurrentState)

	_, err = c.SensorTriggered(ctx, actor, "missing")
	require.Equal(t, codes.NotFound, status.Code(err))

	simulation, err := c.SimulateRules(ctx, rules.SimulateRequest{
		Entities: map[string]string{"binary_sensor.smoke": "on"},
	})
	require.NoError(t, err)
	require.Len(t, simulation.Rules, 1)
	require.Equal(t, rules.StatusWouldFire, simulation.Rules[0].Status)

	// Nothing reports smoke, so a real pass evaluates without firing.
	result, err := c.RunRules(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Evaluated)
	require.Zero(t, result.Fired)

	list, err := c.ListEvents(ctx, 10)
	require.NoError(t, err)

	types := make([]alarm.EventType, 0, len(list))
	for _, event := range list {
		types = append(types, event.Type)
	}

	require.Contains(t, types, alarm.EventArming)
	require.Contains(t, types, alarm.EventFailedCode)
	require.Contains(t, types, alarm.EventCodeUsed)
	require.Contains(t, types, alarm.EventDisarmed)

	_, err = os.Stat(statePath)
	require.NoError(t, err)
}
