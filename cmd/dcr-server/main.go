/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Command dcr-server serves the dynamic client registration endpoint and,
// optionally, the introspection gateway in front of the protected agent.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/acronis/go-dcrkit/internal/libinfo"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "dcr-server",
		Short:        "OAuth dynamic client registration service",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newServeCmd(), newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), libinfo.LibName, libinfo.GetLibVersion())
		},
	}
}
