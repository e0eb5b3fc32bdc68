package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	api "github.com/oshokin/alarm-panel/internal/api/grpc/alarm"
	"github.com/oshokin/alarm-panel/internal/clock"
	"github.com/oshokin/alarm-panel/internal/config"
	"github.com/oshokin/alarm-panel/internal/domain/alarm"
	"github.com/oshokin/alarm-panel/internal/gateway/kafka"
	"github.com/oshokin/alarm-panel/internal/gateway/mqtt"
	"github.com/oshokin/alarm-panel/internal/logger"
	"github.com/oshokin/alarm-panel/internal/metrics"
	"github.com/oshokin/alarm-panel/internal/service/codes"
	"github.com/oshokin/alarm-panel/internal/service/control"
	"github.com/oshokin/alarm-panel/internal/service/entities"
	"github.com/oshokin/alarm-panel/internal/service/events"
	"github.com/oshokin/alarm-panel/internal/service/panel"
	"github.com/oshokin/alarm-panel/internal/service/rules"
	"github.com/oshokin/alarm-panel/internal/service/sensors"
	"github.com/oshokin/alarm-panel/internal/settings"
	"github.com/oshokin/alarm-panel/internal/version"
)

// Options controls the alarm-panel process.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress provides an optional listen address override for the gRPC server.
	ListenAddress string
}

// Run starts every configured component and blocks until ctx is canceled or
// the gRPC server stops.
//
//nolint:funlen,cyclop // Linear wiring of the process.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "alarm-panel")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if !logger.SetLevelName(cfg.LogLevel) {
		logger.Warnf(ctx, "Unknown log level %q, using info", cfg.LogLevel)
	}

	logger.InfoKV(ctx, "Starting alarm panel", "version", version.Short())

	listenAddress, err := resolveListenAddress(cfg.Server.GRPCAddress, opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	metrics.Init()

	repo, err := openRepository(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	defer closeLogged(ctx, "storage", repo.Close)

	validator, err := codes.NewValidator(cfg.CodeDefinitions())
	if err != nil {
		return fmt.Errorf("load codes: %w", err)
	}

	// Background workers share this context and stop before storage closes.
	workCtx, stopWorkers := context.WithCancel(ctx)

	var workers sync.WaitGroup

	defer func() {
		stopWorkers()
		workers.Wait()
	}()

	recorder := events.NewRecorder(repo, validator)

	if cfg.Kafka.Enabled() {
		exporter, kafkaErr := kafka.NewExporter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if kafkaErr != nil {
			return fmt.Errorf("create kafka exporter: %w", kafkaErr)
		}

		defer closeLogged(ctx, "kafka", exporter.Close)

		queue := events.NewQueue("kafka", exporter, events.DefaultQueueSize)
		recorder.AddSink(queue)
		workers.Go(func() { queue.Run(workCtx) })
	}

	profile := cfg.ActiveProfile()
	realClock := clock.Real{}

	p, err := panel.New(ctx, panel.Options{
		Repository: repo,
		Recorder:   recorder,
		Settings:   settings.NewStatic(profile),
		Clock:      realClock,
	})
	if err != nil {
		return fmt.Errorf("initialise panel: %w", err)
	}

	ctrl := control.New(p, validator)

	store, closeStore, err := openEntityStore(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("open entity store: %w", err)
	}

	defer closeLogged(ctx, "entity store", closeStore)

	ingestor := entities.NewIngestor(store)
	monitor := sensors.NewMonitor(p, cfg.PanelSensors())
	ingestor.AddListener(monitor)

	ruleList, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	executor, closeExecutor, err := newExecutor(cfg)
	if err != nil {
		return fmt.Errorf("create rule executor: %w", err)
	}

	defer closeLogged(ctx, "rule executor", closeExecutor)

	engine := rules.NewEngine(p, rules.NewCatalog(ruleList), store, repo, executor)
	logger.InfoKV(ctx, "Rules loaded", "count", len(ruleList), "file", cfg.RulesFile)

	driver := NewDriver(p, engine, realClock, cfg.Server.TickInterval)
	ingestor.AddListener(driver)

	if cfg.MQTT.Enabled() {
		mqttCtx := logger.WithComponentLevel(ctx, "mqtt", cfg.LogLevels["mqtt"])
		gateway := mqtt.New(mqttCtx, mqtt.Options{
			Broker:          cfg.MQTT.Broker,
			ClientID:        cfg.MQTT.ClientID,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			Prefix:          cfg.MQTT.Prefix,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
			Name:            cfg.MQTT.Name,
			QoS:             cfg.MQTT.QoS,
			CodeRequired:    profile.CodeArmRequired(),
		}, ctrl, ingestor, func(ctx context.Context) (*alarm.Snapshot, error) {
			return p.Snapshot(ctx, false)
		})

		p.AddListener(gateway)

		if cfg.MQTT.ExportEvents {
			queue := events.NewQueue("mqtt-events", gateway, events.DefaultQueueSize)
			recorder.AddSink(queue)
			workers.Go(func() { queue.Run(workCtx) })
		}

		if err = gateway.Connect(); err != nil {
			return err
		}

		defer gateway.Close()
	}

	if cfg.NATS.Enabled() {
		subscriber, natsErr := entities.NewNATSSubscriber(
			logger.WithComponentLevel(ctx, "nats", cfg.LogLevels["nats"]),
			entities.NATSOptions{URLs: cfg.NATS.URLs, Subject: cfg.NATS.Subject, Queue: cfg.NATS.Queue},
			ingestor,
		)
		if natsErr != nil {
			return natsErr
		}

		defer closeLogged(ctx, "nats", subscriber.Close)
	}

	rulesCtx := logger.WithComponentLevel(workCtx, "driver", cfg.LogLevels["rules"])
	workers.Go(func() { driver.Run(rulesCtx) })

	if cfg.Server.MetricsAddress != "" {
		workers.Go(func() {
			if metricsErr := serveMetrics(workCtx, cfg.Server.MetricsAddress); metricsErr != nil {
				logger.ErrorKV(ctx, "Metrics server failed", "error", metricsErr)
			}
		})
	}

	grpcCtx := logger.WithComponentLevel(ctx, "grpc", cfg.LogLevels["grpc"])

	return serveGRPC(grpcCtx, listenAddress, api.NewServer(ctrl, engine, monitor, realClock))
}

// serveGRPC blocks until ctx is canceled or the server fails.
func serveGRPC(ctx context.Context, listenAddress string, handler api.Handler) error {
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor(ctx)))
	api.Register(grpcServer, handler)

	logger.InfoKV(ctx, "Alarm panel listening", "listen_address", lis.Addr().String())

	// Done channel is closed after GracefulStop finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down gRPC server")
		grpcServer.GracefulStop()
		close(done)
	}()

	if err = grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done
	logger.Info(ctx, "GRPC server stopped")

	return nil
}

// loggingInterceptor gives every call the server's logger and logs its outcome.
func loggingInterceptor(base context.Context) grpc.UnaryServerInterceptor {
	scoped := logger.FromContext(base)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = logger.ToContext(ctx, scoped.With("method", info.FullMethod))
		started := time.Now()

		resp, err := handler(ctx, req)
		logger.DebugKV(ctx, "Handled call", "code", status.Code(err).String(), "duration", time.Since(started))

		return resp, err
	}
}

func closeLogged(ctx context.Context, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.WarnKV(ctx, "Failed to close component", "component", name, "error", err)
	}
}
