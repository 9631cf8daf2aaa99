package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <command...>",
	Short: "Run a command line through the configured shell",
	Long: `Run joins its arguments into one command line, hands it to the configured
shell and prints the outcome. Flags after the first argument belong to the
command, so 'probe run ls -la' works as expected.
The command exits non-zero when the command fails or times out.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(configFlag)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := a.log.WithContext(cmd.Context())
		outcome := a.insp.RunCommand(ctx, strings.Join(args, " "))
		if err := printResult(cmd.OutOrStdout(), formatFlag, outcome); err != nil {
			return err
		}
		if res, ok := outcome.Result(); ok && res.Failed() {
			return errFailed
		}
		return nil
	},
}

func init() {
	runCmd.Flags().SetInterspersed(false)
}
