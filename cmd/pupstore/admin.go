package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/getpup/pupstore/es/store"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the commit store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			if err := b.Initialize(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s store\n", a.cfg.Store.Driver)
			return nil
		},
	}
}

func newPurgeCmd(a *app) *cobra.Command {
	var bucket string
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every commit, snapshot and stream head",
		Long:  `Purge empties the store, or a single bucket with --bucket. Checkpoint numbers are not reused.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withAdmin(cmd, func(admin store.Admin) error {
				if bucket != "" {
					if err := admin.PurgeBucket(cmd.Context(), bucket); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Purged bucket %s\n", bucket)
					return nil
				}
				if err := admin.Purge(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Purged all buckets")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "Purge only this bucket")
	return cmd
}

func newDropCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drop",
		Short: "Destroy the commit store, consumer checkpoints included",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withAdmin(cmd, func(admin store.Admin) error {
				if err := admin.Drop(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Dropped store")
				return nil
			})
		},
	}
}

func newDeleteStreamCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-stream <bucket> <stream>",
		Short: "Delete the commits, snapshots and head of one stream",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withAdmin(cmd, func(admin store.Admin) error {
				if err := admin.DeleteStream(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted stream %s/%s\n", args[0], args[1])
				return nil
			})
		},
	}
}

// withAdmin runs fn on the facade's persistence so hooks observe the change.
func (a *app) withAdmin(cmd *cobra.Command, fn func(store.Admin) error) error {
	s, _, err := a.openEventStore(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s.Advanced())
}
