package app

import (
	"context"
	"errors"

	"market-scanner/internal/report"
)

// Export renders a run report as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	r, err := a.loadReport(ctx, opts.RunID, opts.ReportPath)
	if err != nil {
		return err
	}
	if len(r.Items) == 0 {
		a.Logger.Info().Str("run_id", r.RunID).Msg("report has no items")
		return nil
	}

	if opts.CSVPath != "" {
		if err := report.WriteCSV(opts.CSVPath, r); err != nil {
			return err
		}
		a.Logger.Info().Str("path", opts.CSVPath).Int("rows", len(r.Items)).Msg("csv export complete")
	}

	if opts.PNGPath != "" {
		if err := report.WritePNG(opts.PNGPath, r); err != nil {
			return err
		}
		a.Logger.Info().Str("path", opts.PNGPath).Msg("png export complete")
	}

	return nil
}
