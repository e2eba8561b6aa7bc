package cli

import (
	"github.com/spf13/cobra"

	"market-scanner/internal/app"
)

var (
	exportRunID      string
	exportReportPath string
	exportPNGPath    string
	exportCSVPath    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a run report as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			RunID:      exportRunID,
			ReportPath: exportReportPath,
			PNGPath:    exportPNGPath,
			CSVPath:    exportCSVPath,
		}
		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportRunID, "run-id", "", "Run to export (defaults to the latest)")
	exportCmd.Flags().StringVar(&exportReportPath, "report", "", "Path to a report JSON file")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart of pre-scores")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV rows")
}
