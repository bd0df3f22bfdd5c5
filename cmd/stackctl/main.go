package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root := buildRoot(newCommand(os.Stdout, os.Stderr))
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every subcommand
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
}

// UpFlags holds flags for the up command
type UpFlags struct {
	WithDashboard bool
	Verify        bool
}

// DownFlags holds flags for the down command
type DownFlags struct {
	TeardownInfra bool
	Volumes       bool
	Grace         time.Duration
}

// buildRoot creates the root command and its subcommands
func buildRoot(c *command) *cobra.Command {
	globalFlags := &GlobalFlags{}
	upFlags := &UpFlags{}
	downFlags := &DownFlags{}
	c.global = globalFlags

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createUpCommand(c, upFlags),
		createDownCommand(c, downFlags),
		createStatusCommand(c),
	)
	return root
}

// createRootCommand creates the root command with its persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "stackctl",
		Short: "Bring a local application stack up and down",
		Long: `stackctl provisions container images, starts the compose-managed stores,
launches the backend service and optional dashboard, and tears it all down again.

Examples:
  stackctl up --with-dashboard --verify
  stackctl status
  stackctl down --teardown-infra --volumes`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", defaultConfigPath, "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "log level override (debug, info, warn, error)")

	return root
}

// createUpCommand creates the up subcommand
func createUpCommand(c *command, upFlags *UpFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Launch the stack",
		Long: `Pull missing images, start the stores and wait until they answer, start the
backend and wait for its health endpoint. Already running processes are reused.

Examples:
  stackctl up
  stackctl up --with-dashboard
  stackctl up --verify --config=./stack.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Up(cmd.Context(), UpFlags{
				WithDashboard: upFlags.WithDashboard,
				Verify:        upFlags.Verify,
			})
		},
	}

	cmd.Flags().BoolVar(&upFlags.WithDashboard, "with-dashboard", false, "also start the dashboard")
	cmd.Flags().BoolVar(&upFlags.Verify, "verify", false, "run the verification command after launch")

	return cmd
}

// createDownCommand creates the down subcommand
func createDownCommand(c *command, downFlags *DownFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop the stack",
		Long: `Ask the backend to stop, stop the backend and dashboard processes, sweep for
leftovers and optionally tear down the stores. Every step runs even when an
earlier one fails; the exit code is non-zero only if a step failed.

Examples:
  stackctl down
  stackctl down --teardown-infra
  stackctl down --teardown-infra --volumes --grace=30s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Down(cmd.Context(), DownFlags{
				TeardownInfra: downFlags.TeardownInfra,
				Volumes:       downFlags.Volumes,
				Grace:         downFlags.Grace,
			})
		},
	}

	cmd.Flags().BoolVar(&downFlags.TeardownInfra, "teardown-infra", false, "also stop the compose services")
	cmd.Flags().BoolVar(&downFlags.Volumes, "volumes", false, "remove compose volumes on teardown (needs --teardown-infra)")
	cmd.Flags().DurationVar(&downFlags.Grace, "grace", 0, "override the configured grace period before SIGKILL")

	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of the stack",
		Long: `Print pid, liveness, pid file and log file of each owned process together
with the backend health and the running compose services, as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context())
		},
	}
}
