package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/getpup/pupstore/es"
	"github.com/getpup/pupstore/es/polling"
)

func newTailCmd(a *app) *cobra.Command {
	var (
		from   int64
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print commits in checkpoint order",
		Long: `Tail prints every commit after --from, from every bucket or from --bucket.
With --follow it keeps polling for new commits until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, _, err := a.openEventStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			handler := func(_ context.Context, c es.Commit) polling.HandlingResult {
				fmt.Fprintf(out, "%d\t%s/%s\tseq=%d\trev=%d\tevents=%d\t%s\n",
					c.CheckpointToken, c.BucketID, c.StreamID, c.CommitSequence,
					c.StreamRevision, len(c.Events), c.CommitStamp.Format("2006-01-02T15:04:05.000Z07:00"))
				return polling.MoveToNext
			}

			client := polling.New(s, handler, a.cfg.Polling.Interval,
				polling.WithLogger(a.esLogger()),
				polling.WithName("tail"))
			client.ConfigurePollingFunction(a.cfg.Polling.Bucket, from)

			if !follow {
				_, err := client.PollNow(ctx)
				return err
			}
			err = client.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().String("bucket", "", "Only print commits of this bucket")
	cmd.Flags().Int64Var(&from, "from", 0, "Print commits after this checkpoint")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep polling for new commits")
	return cmd
}
