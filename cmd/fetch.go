package cmd

import (
	"github.com/spf13/cobra"

	"github.com/synadia-labs/workload-probe/internal/service"
)

var screenshotFlag bool

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Fetch the raw content of a URL",
	Long: `Fetch issues a single GET for the URL and prints the result record.
HTTP error statuses are returned as content unless fetch.fail_on_status is set.
The command exits non-zero when the record carries an error.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(configFlag)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := a.log.WithContext(cmd.Context())
		res := a.insp.FetchURL(ctx, service.FetchRequest{URL: args[0], TakeScreenshot: screenshotFlag})
		if err := printResult(cmd.OutOrStdout(), formatFlag, res); err != nil {
			return err
		}
		if res.Failed() {
			return errFailed
		}
		return nil
	},
}

func init() {
	fetchCmd.Flags().BoolVar(&screenshotFlag, "screenshot", false, "Request a screenshot of the page")
}
