package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"market-scanner/internal/alerting"
	"market-scanner/internal/report"
	"market-scanner/internal/storage"
)

// Show prints recent runs, the items of one run when opts.RunID is set, or
// the dedupe state when opts.Dedupe is set.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if opts.Dedupe {
		return a.showDedupe(ctx, os.Stdout)
	}
	if opts.RunID != "" {
		r, err := a.loadReport(ctx, opts.RunID, "")
		if err != nil {
			return err
		}
		writeItems(os.Stdout, r)
		return nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if store != nil {
		records, err := store.ListRecentReports(ctx, opts.Limit)
		if err != nil {
			return err
		}
		writeRecords(os.Stdout, records)
		return nil
	}

	sink := report.NewFileSink(a.Config.Report.Dir)
	paths, err := sink.List(opts.Limit)
	if err != nil {
		return err
	}
	records := make([]storage.ReportRecord, 0, len(paths))
	for _, p := range paths {
		r, err := report.ReadFile(p)
		if err != nil {
			a.Logger.Warn().Err(err).Str("path", p).Msg("skipping unreadable report")
			continue
		}
		records = append(records, storage.ReportRecord{
			RunID:      r.RunID,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			Summary:    r.Summarize(),
		})
	}
	writeRecords(os.Stdout, records)
	return nil
}

func (a *App) showDedupe(ctx context.Context, out io.Writer) error {
	pg, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	store, closeDedupe, err := a.openDedupeStore(ctx, pg)
	if err != nil {
		return err
	}
	defer closeDedupe()

	state, err := alerting.LoadDedupeState(ctx, store)
	if err != nil {
		return err
	}
	writeDedupe(out, state.Snapshot(), time.Now(), a.Config.Alerting.DedupeCooldown)
	return nil
}

func writeDedupe(out io.Writer, last map[string]time.Time, now time.Time, cooldown time.Duration) {
	if len(last) == 0 {
		fmt.Fprintln(out, "no deliveries recorded")
		return
	}
	symbols := make([]string, 0, len(last))
	for sym := range last {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tLast delivered (UTC)\tCooling down")
	for _, sym := range symbols {
		at := last[sym]
		fmt.Fprintf(writer, "%s\t%s\t%t\n", sym, at.UTC().Format(time.RFC3339), now.Sub(at) < cooldown)
	}
	writer.Flush()
}

// loadReport resolves a report by explicit path, by run ID in the archive,
// or falls back to the latest file report.
func (a *App) loadReport(ctx context.Context, runID, path string) (report.RunReport, error) {
	if path != "" {
		return report.ReadFile(path)
	}
	sink := report.NewFileSink(a.Config.Report.Dir)
	if runID == "" || runID == "latest" {
		return sink.Latest()
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return report.RunReport{}, err
	}
	defer closeStore()
	if store != nil {
		r, err := store.LoadReport(ctx, runID)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, storage.ErrReportNotFound) {
			return report.RunReport{}, err
		}
	}

	paths, err := sink.List(0)
	if err != nil {
		return report.RunReport{}, err
	}
	for _, p := range paths {
		r, err := report.ReadFile(p)
		if err == nil && r.RunID == runID {
			return r, nil
		}
	}
	return report.RunReport{}, fmt.Errorf("report %s not found in %s", runID, filepath.Clean(sink.Dir))
}

func writeRecords(out io.Writer, records []storage.ReportRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "no reports found")
		return
	}
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Started (UTC)\tRun ID\tTotal\tOK\tFailed\tPromoted\tDelivered\tDuration")
	for _, rec := range records {
		fmt.Fprintf(writer, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			rec.StartedAt.UTC().Format(time.RFC3339),
			rec.RunID,
			rec.Summary.Total,
			rec.Summary.Succeeded,
			rec.Summary.Failed,
			rec.Summary.Promoted,
			rec.Summary.Delivered,
			rec.FinishedAt.Sub(rec.StartedAt).Round(time.Second),
		)
	}
	writer.Flush()
}

func writeItems(out io.Writer, r report.RunReport) {
	fmt.Fprintf(out, "run %s started %s\n", r.RunID, r.StartedAt.UTC().Format(time.RFC3339))
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tType\tPrice\tPre\tPromoted\tDecision\tAI\tNotification\tError")
	for _, it := range r.Items {
		price, pre, decision, ai := "-", "-", "-", "-"
		if it.Features != nil {
			if p, ok := it.Features.Price.Get(); ok {
				price = formatFloat(p, 2)
			}
		}
		if it.PreScore != nil {
			pre = strconv.Itoa(*it.PreScore)
		}
		if it.AI != nil {
			decision = string(it.AI.Decision)
			ai = strconv.Itoa(it.AI.Score)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%t\t%s\t%s\t%s\t%s\n",
			it.Symbol, it.Type, price, pre, it.Promoted, decision, ai, it.Notification, sanitizeInline(it.Error))
	}
	writer.Flush()
}

func printSummary(r report.RunReport) {
	s := r.Summarize()
	fmt.Fprintf(os.Stdout, "run %s: %d instruments, %d ok, %d failed, %d promoted, %d delivered\n",
		r.RunID, s.Total, s.Succeeded, s.Failed, s.Promoted, s.Delivered)
}

func formatFloat(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	if len(cleaned) > 80 {
		cleaned = cleaned[:77] + "..."
	}
	return cleaned
}
