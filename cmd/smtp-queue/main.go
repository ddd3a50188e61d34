// Command smtp-queue captures outgoing mail over SMTP, holds it in a
// durable queue and delivers it in batches through a configured provider.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "smtp-queue",
		Short:         "Deferred transactional email queue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML configuration file (optional)")

	root.AddCommand(
		newServeCmd(&configPath),
		newSendCmd(&configPath),
		newClearCmd(&configPath),
		newListCmd(&configPath),
		newResendCmd(&configPath),
		newDeleteCmd(&configPath),
		newExportCmd(&configPath),
	)
	return root
}
