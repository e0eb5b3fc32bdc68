package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-panel/internal/config"
	"github.com/oshokin/alarm-panel/internal/service/client"
	"github.com/oshokin/alarm-panel/internal/version"
)

const defaultEventLimit = 20

var (
	// options shared by every subcommand.
	options client.Options
	// code is the user PIN for arm, disarm and cancel.
	code string

	// rootCmd represents the base command for controlling a running panel.
	rootCmd = &cobra.Command{
		Use:   "alarm-ctl",
		Short: "Control a running alarm panel.",
		Long: `Sends commands to the alarm panel gRPC server and prints the result.

The server address comes from the client section of the settings file unless --server is given.
Every request is tagged with the local username and hostname for the event log.`,
		SilenceUsage: true,
	}
)

// Execute runs the alarm-ctl CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withSession connects, runs fn and closes the connection.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *client.Session) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	session, err := client.Connect(ctx, &options, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	defer func() {
		_ = session.Close()
	}()

	return fn(ctx, session)
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current alarm state.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, s *client.Session) error {
				return s.Status(ctx)
			})
		},
	}
}

func newArmCommand() *cobra.Command {
	c := &cobra.Command{
		Use:       "arm <armed_home|armed_away|armed_night|armed_vacation>",
		Short:     "Start arming towards an armed mode.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"armed_home", "armed_away", "armed_night", "armed_vacation"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *client.Session) error {
				return s.Arm(ctx, args[0], code)
			})
		},
	}
	c.Flags().StringVar(&code, "code", "", "user code")

	return c
}

func newDisarmCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "disarm",
		Short: "Disarm the panel.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, s *client.Session) error {
				return s.Disarm(ctx, code)
			})
		},
	}
	c.Flags().StringVar(&code, "code", "", "user code")

	return c
}

func newCancelCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel arming during the exit delay.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, s *client.Session) error {
				return s.CancelArming(ctx, code)
			})
		},
	}
	c.Flags().StringVar(&code, "code", "", "user code")

	return c
}

func newTriggerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Trigger the alarm immediately.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, s *client.Session) error {
				return s.Trigger(ctx)
			})
		},
	}
}

func newSensorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sensor <sensor-id>",
		Short: "Report a configured sensor as tripped.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *client.Session) error {
				return s.SensorTriggered(ctx, args[0])
			})
		},
	}
}

func newEventsCommand() *cobra.Command {
	var limit int

	c := &cobra.Command{
		Use:   "events",
		Short: "List the newest alarm events.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, s *client.Session) error {
				return s.Events(ctx, limit)
			})
		},
	}
	c.Flags().IntVarP(&limit, "limit", "n", defaultEventLimit, "number of events")

	return c
}

func newRunRulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run-rules",
		Short: "Run one rule pass now.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, s *client.Session) error {
				return s.RunRules(ctx)
			})
		},
	}
}

func newSimulateCommand() *cobra.Command {
	var (
		assignments []string
		assumeFor   int
	)

	c := &cobra.Command{
		Use:   "simulate",
		Short: "Show which rules would fire, without side effects.",
		Long: `Evaluates every enabled rule against the live entity states overlaid with --set values.
--assume-for treats for-conditions up to that many seconds as already sustained.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, func(ctx context.Context, s *client.Session) error {
				return s.Simulate(ctx, assignments, assumeFor)
			})
		},
	}
	c.Flags().StringArrayVar(&assignments, "set", nil, "entity override as entity_id=state, repeatable")
	c.Flags().IntVar(&assumeFor, "assume-for", 0, "seconds for-conditions are assumed to have held")

	return c
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&options.ConfigPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	flags.StringVarP(&options.ServerAddress, "server", "s", "", "panel gRPC address, overrides the settings file")
	flags.IntVar(&options.Retries, "retries", 0, "extra attempts while the panel is unavailable")

	rootCmd.AddCommand(
		newStatusCommand(),
		newArmCommand(),
		newDisarmCommand(),
		newCancelCommand(),
		newTriggerCommand(),
		newSensorCommand(),
		newEventsCommand(),
		newRunRulesCommand(),
		newSimulateCommand(),
	)
}
