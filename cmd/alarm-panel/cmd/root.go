package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-panel/internal/config"
	"github.com/oshokin/alarm-panel/internal/logger"
	"github.com/oshokin/alarm-panel/internal/service/server"
	"github.com/oshokin/alarm-panel/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// rootCmd represents the base command for running the panel server.
	rootCmd = &cobra.Command{
		Use:   "alarm-panel [listen-address]",
		Short: "Run the alarm panel server.",
		Long: `Starts the alarm panel: the arming state machine, the rule engine and every configured gateway.

Storage, sensors, user codes, rules and gateways (MQTT, Home Assistant, Z-Wave JS, NATS, Redis, Kafka)
are read from the settings file. A .env file next to it is loaded first and ${VAR} references are expanded.
The gRPC listen address can be provided as argument to override config (e.g., :9090, 0.0.0.0:50051).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			err := server.Run(ctx, &server.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
			})
			if err != nil {
				logger.Errorf(ctx, "Alarm panel stopped: %v", err)
			}

			return err
		},
	}
)

// Execute runs the alarm-panel CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
}
