package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"
)

// WriteCSV writes one row per item.
func WriteCSV(path string, r RunReport) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"symbol", "type", "price", "pre_score", "promoted", "decision", "ai_score", "risk", "notification", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, it := range r.Items {
		price, preScore, decision, aiScore, risk := "", "", "", "", ""
		if it.Features != nil {
			if p, ok := it.Features.Price.Get(); ok {
				price = decimal.NewFromFloat(p).StringFixed(4)
			}
		}
		if it.PreScore != nil {
			preScore = strconv.Itoa(*it.PreScore)
		}
		if it.AI != nil {
			decision = string(it.AI.Decision)
			aiScore = strconv.Itoa(it.AI.Score)
			risk = string(it.AI.Risk)
		}
		record := []string{
			it.Symbol,
			string(it.Type),
			price,
			preScore,
			strconv.FormatBool(it.Promoted),
			decision,
			aiScore,
			risk,
			it.Notification,
			sanitizeInline(it.Error),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// WritePNG renders the pre-scores of successful items as a bar chart,
// highest first.
func WritePNG(path string, r RunReport) error {
	type bar struct {
		label string
		score int
	}
	var bars []bar
	for _, it := range r.Items {
		if it.PreScore == nil {
			continue
		}
		bars = append(bars, bar{label: it.Symbol, score: *it.PreScore})
	}
	if len(bars) == 0 {
		return errors.New("report has no scored items to chart")
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].score > bars[j].score })

	if err := ensureDir(path); err != nil {
		return err
	}

	values := make([]chart.Value, len(bars))
	for i, b := range bars {
		values[i] = chart.Value{Value: float64(b.score), Label: b.label}
	}

	width := 80*len(values) + 160
	if width < 640 {
		width = 640
	}
	graph := chart.BarChart{
		Title:    fmt.Sprintf("Pre-scores %s", r.StartedAt.UTC().Format("2006-01-02 15:04 UTC")),
		Width:    width,
		Height:   480,
		BarWidth: 48,
		Background: chart.Style{
			Padding: chart.Box{Top: 40},
		},
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: 0, Max: 100},
		},
		Bars: values,
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
