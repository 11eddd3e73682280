package main

import (
	"fmt"

	"github.com/spf13/cobra"

	pupstore "github.com/getpup/pupstore/pkg"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of pupstore",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pupstore version %s\n", pupstore.Version())
		},
	}
}
