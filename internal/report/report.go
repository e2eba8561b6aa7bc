// Package report assembles the per-run record of every instrument's outcome.
package report

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"market-scanner/internal/model"
	"market-scanner/internal/scoring"
)

// Item is the outcome for one instrument. Error is set when stage one
// failed or when the judgment for a promoted candidate failed.
type Item struct {
	Symbol        string                 `json:"symbol"`
	Type          model.Kind             `json:"type"`
	Features      *model.FeatureSet      `json:"features,omitempty"`
	Fundamentals  *model.Fundamentals    `json:"fundamentals,omitempty"`
	Headlines     []string               `json:"headlines,omitempty"`
	PreScore      *int                   `json:"preScore,omitempty"`
	Breakdown     []scoring.Contribution `json:"breakdown,omitempty"`
	Promoted      bool                   `json:"promoted"`
	AI            *model.Verdict         `json:"ai,omitempty"`
	Notification  string                 `json:"notification,omitempty"`
	Error         string                 `json:"error,omitempty"`
	DurationMilli int64                  `json:"durationMs,omitempty"`
}

// Succeeded reports whether stage one produced features for the item.
func (i Item) Succeeded() bool { return i.Features != nil }

// RunReport is the immutable record of one run, ordered as the universe.
type RunReport struct {
	RunID      string    `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Items      []Item    `json:"items"`
}

// Summary counts the outcomes of a report.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Promoted  int
	Delivered int
}

// Summarize counts the report's outcomes.
func (r RunReport) Summarize() Summary {
	s := Summary{Total: len(r.Items)}
	for _, it := range r.Items {
		if it.Succeeded() {
			s.Succeeded++
		}
		if it.Error != "" && !it.Succeeded() {
			s.Failed++
		}
		if it.Promoted {
			s.Promoted++
		}
		if it.Notification == "delivered" {
			s.Delivered++
		}
	}
	return s
}

// Assembler collects outcomes from concurrent workers. Items are addressed
// by their universe index so completion order does not matter.
type Assembler struct {
	mu       sync.Mutex
	report   RunReport
	finished bool
}

// NewAssembler starts a report with one placeholder item per instrument.
func NewAssembler(startedAt time.Time, universe []model.Instrument) *Assembler {
	items := make([]Item, len(universe))
	for i, inst := range universe {
		items[i] = Item{Symbol: inst.Symbol, Type: inst.Kind}
	}
	return &Assembler{report: RunReport{
		RunID:     uuid.NewString(),
		StartedAt: startedAt.UTC(),
		Items:     items,
	}}
}

// RunID returns the run identifier.
func (a *Assembler) RunID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.report.RunID
}

func (a *Assembler) update(index int, fn func(it *Item)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finished || index < 0 || index >= len(a.report.Items) {
		return
	}
	fn(&a.report.Items[index])
}

// RecordCandidate stores a successful stage-one result.
func (a *Assembler) RecordCandidate(c model.Candidate, breakdown []scoring.Contribution, took time.Duration) {
	a.update(c.Index, func(it *Item) {
		features := c.Features
		score := c.Score
		it.Features = &features
		it.Fundamentals = c.Fundamentals
		it.Headlines = c.Headlines
		it.PreScore = &score
		it.Breakdown = breakdown
		it.Error = ""
		it.DurationMilli = took.Milliseconds()
	})
}

// RecordFailure stores a stage-one failure.
func (a *Assembler) RecordFailure(index int, err error, took time.Duration) {
	a.update(index, func(it *Item) {
		it.Error = errString(err)
		it.DurationMilli = took.Milliseconds()
	})
}

// MarkPromoted flags a candidate as escalated to judgment.
func (a *Assembler) MarkPromoted(index int) {
	a.update(index, func(it *Item) { it.Promoted = true })
}

// RecordVerdict stores the judgment for a promoted candidate.
func (a *Assembler) RecordVerdict(index int, v model.Verdict) {
	a.update(index, func(it *Item) {
		verdict := v
		it.AI = &verdict
	})
}

// RecordJudgeError stores a terminal judgment failure as the item's error.
func (a *Assembler) RecordJudgeError(index int, err error) {
	a.update(index, func(it *Item) { it.Error = errString(err) })
}

// RecordNotification stores the gate outcome.
func (a *Assembler) RecordNotification(index int, outcome string, err error) {
	a.update(index, func(it *Item) {
		it.Notification = outcome
		if err != nil {
			it.Error = errString(err)
		}
	})
}

// Finish freezes the report and returns a copy of it. Later updates are
// ignored.
func (a *Assembler) Finish(at time.Time) RunReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.finished {
		a.finished = true
		a.report.FinishedAt = at.UTC()
	}
	out := a.report
	out.Items = append([]Item(nil), a.report.Items...)
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
