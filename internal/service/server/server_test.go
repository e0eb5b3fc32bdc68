package server

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/oshokin/alarm-panel/internal/clock"
	"github.com/oshokin/alarm-panel/internal/config"
	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/logger"
	"github.com/oshokin/alarm-panel/internal/repository/state"
	"github.com/oshokin/alarm-panel/internal/service/entities"
	"github.com/oshokin/alarm-panel/internal/service/rules"
)

type timersFake struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *timersFake) Snapshot(_ context.Context, processTimers bool) (*alarm.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if processTimers {
		f.calls++
	}

	return &alarm.Snapshot{}, f.err
}

func (f *timersFake) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

type runnerFake struct {
	mu   sync.Mutex
	runs []time.Time
	done chan struct{}
}

func (f *runnerFake) RunRules(_ context.Context, now time.Time) (*rules.Result, error) {
	f.mu.Lock()
	f.runs = append(f.runs, now)
	f.mu.Unlock()

	if f.done != nil {
		select {
		case f.done <- struct{}{}:
		default:
		}
	}

	return &rules.Result{}, nil
}

// TestDriver_Tick verifies a tick resolves timers before running rules, even when timers fail.
func TestDriver_Tick(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	timers := &timersFake{err: errors.New("storage down")}
	runner := new(runnerFake)

	d := NewDriver(timers, runner, clock.NewFake(at), time.Hour)
	d.Tick(context.Background())

	require.Equal(t, 1, timers.count())
	require.Equal(t, []time.Time{at}, runner.runs)

	// No engine configured.
	NewDriver(timers, nil, nil, 0).Tick(context.Background())
	require.Equal(t, 2, timers.count())
}

// TestDriver_EntityChangedKicksPass verifies entity changes coalesce into an immediate pass.
func TestDriver_EntityChangedKicksPass(t *testing.T) {
	t.Parallel()

	timers := new(timersFake)
	runner := &runnerFake{done: make(chan struct{}, 1)}
	d := NewDriver(timers, runner, nil, time.Hour)

	d.EntityChanged(context.Background(), entities.Change{EntityID: "a"})
	d.EntityChanged(context.Background(), entities.Change{EntityID: "b"})
	require.Len(t, d.kick, 1)

	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})

	go func() {
		d.Run(ctx)
		close(stopped)
	}()

	select {
	case <-runner.done:
	case <-time.After(5 * time.Second):
		t.Fatal("kick did not run a pass")
	}

	cancel()
	<-stopped

	require.Equal(t, 1, timers.count())
}

// TestResolveListenAddress covers override, loopback and wildcard binding.
func TestResolveListenAddress(t *testing.T) {
	t.Parallel()

	addr, err := resolveListenAddress("panel.local:50051", ":9090")
	require.NoError(t, err)
	require.Equal(t, ":9090", addr)

	addr, err = resolveListenAddress("panel.local:50051", "")
	require.NoError(t, err)
	require.Equal(t, ":50051", addr)

	addr, err = resolveListenAddress("127.0.0.1:50051", "")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:50051", addr)

	_, err = resolveListenAddress("", "")
	require.ErrorIs(t, err, ErrNoServerAddress)

	_, err = resolveListenAddress("no-port", "")
	require.Error(t, err)
}

// TestOpenRepository verifies the memory and file drivers.
func TestOpenRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	repo, err := openRepository(ctx, config.StorageConfig{Driver: config.DriverMemory, Retention: 10})
	require.NoError(t, err)
	require.IsType(t, &state.MemoryRepository{}, repo)

	path := filepath.Join(t.TempDir(), "state.json")

	repo, err = openRepository(ctx, config.StorageConfig{Driver: config.DriverFile, StateFile: path, Retention: 10})
	require.NoError(t, err)
	require.IsType(t, &state.FileRepository{}, repo)

	require.NoError(t, repo.Save(ctx, alarm.NewDisarmed(time.Now(), "default")))
	require.FileExists(t, path)
}

// TestOpenEntityStore_Memory verifies the default entity store.
func TestOpenEntityStore_Memory(t *testing.T) {
	t.Parallel()

	store, closeFn, err := openEntityStore(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	require.IsType(t, &entities.MemoryStore{}, store)
	require.NoError(t, closeFn())
}

// TestNewExecutor verifies gateways are optional.
func TestNewExecutor(t *testing.T) {
	t.Parallel()

	cfg := new(config.Config)
	require.NoError(t, config.Validate(cfg))

	executor, closeFn, err := newExecutor(cfg)
	require.NoError(t, err)
	require.NotNil(t, executor)
	require.NoError(t, closeFn())

	cfg.HomeAssistant.URL = "http://ha.local:8123"
	cfg.ZWaveJS.URL = "ws://zwave.local:3000"

	executor, closeFn, err = newExecutor(cfg)
	require.NoError(t, err)
	require.NotNil(t, executor)
	require.NoError(t, closeFn())
}

// TestLoggingInterceptor verifies calls get the server logger and keep their result.
func TestLoggingInterceptor(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	base := logger.ToContext(context.Background(), zap.New(core).Sugar())

	interceptor := loggingInterceptor(base)
	info := &grpc.UnaryServerInfo{FullMethod: "/alarmpanel.v1.AlarmPanel/Disarm"}

	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, _ any) (any, error) {
		logger.Info(ctx, "inside")

		return nil, status.Error(codes.Unauthenticated, "code required")
	})
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "inside", entries[0].Message)
	require.Equal(t, "/alarmpanel.v1.AlarmPanel/Disarm", entries[0].ContextMap()["method"])
	require.Equal(t, "Unauthenticated", entries[1].ContextMap()["code"])
}
