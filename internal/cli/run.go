package cli

import (
	"github.com/spf13/cobra"

	"market-scanner/internal/app"
)

var runMetricsAddr string

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a single scan and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Scan(cmd.Context())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run scans on the configured schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{MetricsAddr: runMetricsAddr})
	},
}

func init() {
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Listen address for /metrics (defaults to config)")
}
