package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/getpup/pupstore/es"
)

func newSnapshotCandidatesCmd(a *app) *cobra.Command {
	var (
		bucket    string
		threshold int64
	)
	cmd := &cobra.Command{
		Use:   "snapshot-candidates",
		Short: "List streams with many events since their latest snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, _, err := a.openEventStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STREAM\tHEAD\tSNAPSHOT\tPENDING")
			for head, err := range s.Advanced().GetStreamsToSnapshot(cmd.Context(), bucket, threshold) {
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", head.StreamID, head.HeadRevision, head.SnapshotRevision, head.Unsnapshotted())
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", es.DefaultBucket, "Bucket to inspect")
	cmd.Flags().Int64Var(&threshold, "threshold", 50, "Minimum number of events since the latest snapshot")
	return cmd
}
