package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/getpup/pupstore/es/migrations"
)

func newMigrateCmd() *cobra.Command {
	config := migrations.DefaultConfig()
	var (
		dialect  string
		filename string
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Generate the SQL migration of the commit store",
		Long: `Migrate writes the schema of the commit store for one database to a file,
for projects that manage migrations with their own tooling.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if filename != "" {
				config.OutputFilename = filename
			}
			if err := migrations.Generate(migrations.Dialect(dialect), &config); err != nil {
				return fmt.Errorf("generating migration: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated %s migration: %s/%s\n", dialect, config.OutputFolder, config.OutputFilename)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&dialect, "dialect", string(migrations.Postgres), "Database dialect: postgres, mysql or sqlite")
	flags.StringVar(&config.OutputFolder, "output", config.OutputFolder, "Output folder for the migration file")
	flags.StringVar(&filename, "filename", "", "Output filename (default: timestamp-based)")
	flags.StringVar(&config.CommitsTable, "commits-table", config.CommitsTable, "Name of the commits table")
	flags.StringVar(&config.SnapshotsTable, "snapshots-table", config.SnapshotsTable, "Name of the snapshots table")
	flags.StringVar(&config.StreamHeadsTable, "heads-table", config.StreamHeadsTable, "Name of the stream heads table")
	flags.StringVar(&config.CheckpointsTable, "checkpoints-table", config.CheckpointsTable, "Name of the consumer checkpoints table")
	return cmd
}
