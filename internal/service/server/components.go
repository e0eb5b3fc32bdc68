package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oshokin/alarm-panel/internal/config"
	"github.com/oshokin/alarm-panel/internal/gateway/homeassistant"
	"github.com/oshokin/alarm-panel/internal/gateway/zwavejs"
	"github.com/oshokin/alarm-panel/internal/logger"
	"github.com/oshokin/alarm-panel/internal/metrics"
	"github.com/oshokin/alarm-panel/internal/repository/postgres"
	"github.com/oshokin/alarm-panel/internal/repository/state"
	"github.com/oshokin/alarm-panel/internal/service/entities"
	"github.com/oshokin/alarm-panel/internal/service/rules"
)

const (
	metricsPath              = "/metrics"
	metricsReadHeaderTimeout = 5 * time.Second
	shutdownTimeout          = 5 * time.Second
)

// ErrNoServerAddress indicates missing server configuration.
var ErrNoServerAddress = errors.New("no server address configured")

// openRepository picks the storage driver from the configuration.
//
//nolint:ireturn // The driver is chosen at runtime.
func openRepository(ctx context.Context, storage config.StorageConfig) (state.Repository, error) {
	switch storage.Driver {
	case config.DriverFile:
		logger.InfoKV(ctx, "Using file storage", "state_file", storage.StateFile)

		return state.NewFileRepository(storage.StateFile, storage.Retention), nil
	case config.DriverPostgres:
		repo, err := postgres.Open(ctx, storage.DSN)
		if err != nil {
			return nil, err
		}

		if err = repo.EnsureSchema(ctx); err != nil {
			_ = repo.Close()

			return nil, err
		}

		logger.Info(ctx, "Using postgres storage")

		return repo, nil
	default:
		logger.Info(ctx, "Using in-memory storage, state is lost on restart")

		return state.NewMemoryRepository(storage.Retention), nil
	}
}

// openEntityStore returns the Redis store when configured, memory otherwise.
//
//nolint:ireturn // The store is chosen at runtime.
func openEntityStore(ctx context.Context, cfg config.RedisConfig) (entities.Store, func() error, error) {
	if !cfg.Enabled() {
		return entities.NewMemoryStore(), func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, nil, fmt.Errorf("ping redis %s: %w", cfg.Address, err)
	}

	logger.InfoKV(ctx, "Using redis entity store", "addr", cfg.Address, "prefix", cfg.Prefix)

	return entities.NewRedisStore(client, cfg.Prefix), client.Close, nil
}

// newExecutor builds the rule action executor with whichever gateways are configured.
func newExecutor(cfg *config.Config) (*rules.Executor, func() error, error) {
	var (
		services rules.ServiceCaller
		values   rules.ValueSetter
		closer   = func() error { return nil }
	)

	if cfg.HomeAssistant.Enabled() {
		client, err := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token)
		if err != nil {
			return nil, nil, err
		}

		services = client
	}

	if cfg.ZWaveJS.Enabled() {
		client, err := zwavejs.NewClient(cfg.ZWaveJS.URL, cfg.ZWaveJS.SchemaVersion)
		if err != nil {
			return nil, nil, err
		}

		values = client
		closer = client.Close
	}

	return rules.NewExecutor(services, values, cfg.Server.ActionTimeout), closer, nil
}

// serveMetrics exposes /metrics until ctx is done.
func serveMetrics(ctx context.Context, address string) error {
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}

	mux := http.NewServeMux()
	mux.Handle(metricsPath, metrics.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.InfoKV(ctx, "Metrics listening", "listen_address", lis.Addr().String(), "path", metricsPath)

	if err = srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}

	return nil
}

// resolveListenAddress determines the listen address for the gRPC server.
// If override is provided, uses it directly. Otherwise extracts port from configAddr.
func resolveListenAddress(configAddr, override string) (string, error) {
	if override != "" {
		return override, nil
	}

	if configAddr == "" {
		return "", ErrNoServerAddress
	}

	host, port, err := net.SplitHostPort(configAddr)
	if err != nil {
		return "", fmt.Errorf("invalid server address format %q: %w", configAddr, err)
	}

	// Loopback stays loopback, anything else binds on all interfaces.
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return configAddr, nil
	}

	return ":" + port, nil
}
