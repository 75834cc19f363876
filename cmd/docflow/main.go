package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"docflow/internal/app"
	"docflow/internal/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// Version is injected at build time
	Version = "dev"
	// Build is injected at build time
	Build = "unknown"
	// ProgramName is injected at build time
	ProgramName = "docflow"
)

func main() {
	runMain(os.Args, os.Exit)
}

func runMain(args []string, exit func(int)) {
	if err := Execute(Version, Build, ProgramName, args[1:]); err != nil {
		exit(1)
	}
}

// Execute is the entry point for the CLI, extracted for testing
func Execute(version, build, programName string, args []string) error {
	rootCmd := &cobra.Command{
		Use:          programName,
		Short:        "Document management service",
		Long:         "docflow stores, extracts, indexes and searches documents",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Flags(), app.Serve)
		},
	}
	rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Version}} (%s)\n", build))
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API with periodic jobs and local extraction",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd.Flags(), app.Serve)
			},
		},
		&cobra.Command{
			Use:   "worker",
			Short: "Run Temporal extraction workers and periodic jobs",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd.Flags(), app.RunWorkers)
			},
		},
		&cobra.Command{
			Use:   "rebuild-index [template-id...]",
			Short: "Rebuild the given index templates, or all of them",
			RunE: func(cmd *cobra.Command, ids []string) error {
				return withApp(cmd.Flags(), func(ctx context.Context, a *app.App) error {
					if len(ids) == 0 {
						return a.Indexes.RebuildAll(ctx)
					}
					for _, id := range ids {
						if err := a.Indexes.Rebuild(ctx, id); err != nil {
							return fmt.Errorf("rebuild %s: %w", id, err)
						}
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "purge-locks",
			Short: "Drop every held lock, live or expired",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd.Flags(), func(ctx context.Context, a *app.App) error {
					return a.Locks.PurgeAll(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "sweep <job>",
			Short: "Run one periodic job now (trash-sweep, delete-sweep, orphan-blobs, source-<id>)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Flags(), func(ctx context.Context, a *app.App) error {
					return a.Periodic.RunOnce(ctx, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "ingest <source-id>",
			Short: "Poll one source immediately",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Flags(), func(ctx context.Context, a *app.App) error {
					src, err := a.Source(args[0])
					if err != nil {
						return err
					}
					rep, err := a.Ingestor.Poll(ctx, src)
					if err != nil {
						return err
					}
					if rep.Skipped {
						fmt.Fprintf(cmd.OutOrStdout(), "source %s is being ingested elsewhere\n", args[0])
						return nil
					}
					fmt.Fprintf(cmd.OutOrStdout(), "items=%d documents=%d failed=%d\n", rep.Items, len(rep.Documents), rep.Failed)
					return nil
				})
			},
		},
	)

	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func withApp(flags *pflag.FlagSet, run func(context.Context, *app.App) error) error {
	_ = godotenv.Load(".env")
	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	logger := config.NewLogger(cfg)
	config.LogWithLogger(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return run(ctx, a)
}
