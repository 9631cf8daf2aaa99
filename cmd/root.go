package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// errFailed is returned after a failed result has been printed so the
// process exits non-zero.
var errFailed = errors.New("probe reported a failure")

var rootCmd = &cobra.Command{
	Use:   "probe",
	Short: "Fetch URLs and run shell commands inside a workload",
	Long: `probe inspects the environment it runs in. It fetches the raw content
of URLs and runs shell commands, either once from the command line or as a
service reachable over HTTP and NATS.

Examples:
  probe serve --config probe.yaml
  probe fetch https://example.com --format yaml
  probe run 'uname -a | tr a-z A-Z'`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(formatFlag)
	},
}

// Execute runs the root command until it returns or the process is signalled.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	initSharedFlags()
	rootCmd.AddCommand(serveCmd, fetchCmd, runCmd)
}
