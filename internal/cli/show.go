package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"market-scanner/internal/app"
)

var (
	showLimit  int
	showRunID  string
	showDedupe bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent runs or the items of one run",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:  showLimit,
			RunID:  showRunID,
			Dedupe: showDedupe,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of runs to display")
	showCmd.Flags().BoolVar(&showDedupe, "dedupe", false, "List the last delivery per symbol")
	showCmd.Flags().StringVar(&showRunID, "run-id", "", "Show the items of this run (\"latest\" for the newest)")
}
