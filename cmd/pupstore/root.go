package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/getpup/pupstore/internal/config"
	"github.com/getpup/pupstore/internal/telemetry"
	pupstore "github.com/getpup/pupstore/pkg"
)

// app carries what the persistent flags resolved for the running command.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	configPath string
	verbose    bool

	shutdown func(context.Context) error
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "pupstore",
		Short: "Administer an event-sourcing commit store",
		Long: `pupstore manages the schema and data of a commit store and follows
its commits in checkpoint order, printing them or relaying them to a broker.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.shutdown == nil {
				return nil
			}
			return a.shutdown(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "Path to a YAML config file")
	flags.String("driver", "", "Store driver: memory, sqlite, postgres or mysql")
	flags.String("dsn", "", "Store data source name")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(
		newMigrateCmd(),
		newInitCmd(a),
		newPurgeCmd(a),
		newDropCmd(a),
		newDeleteStreamCmd(a),
		newSnapshotCandidatesCmd(a),
		newTailCmd(a),
		newRelayCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)

	cfg, err := config.Load(a.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	shutdown, err := telemetry.Init(cmd.Context(), telemetry.Config{
		ServiceVersion: pupstore.Version(),
		UseStdout:      cfg.Telemetry.Stdout,
		Writer:         cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	a.shutdown = shutdown
	return nil
}
