package report

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-scanner/internal/model"
)

func universe() []model.Instrument {
	return []model.Instrument{
		{Symbol: "AAPL", Kind: model.KindEquity},
		{Symbol: "MSFT", Kind: model.KindEquity},
		{Symbol: "BINANCE:BTCUSDT", Kind: model.KindCrypto},
	}
}

func TestAssemblerKeepsUniverseOrder(t *testing.T) {
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	a := NewAssembler(start, universe())

	var wg sync.WaitGroup
	for i := 2; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i == 1 {
				a.RecordFailure(i, errors.New("HTTP 404"), time.Millisecond)
				return
			}
			a.RecordCandidate(model.Candidate{Index: i, Score: 10 * i, Features: model.FeatureSet{Price: model.Some(1)}}, nil, time.Millisecond)
		}(i)
	}
	wg.Wait()

	a.MarkPromoted(2)
	a.RecordVerdict(2, model.Verdict{Decision: model.DecisionEscalate, Score: 90})
	a.RecordNotification(2, "delivered", nil)

	r := a.Finish(start.Add(time.Minute))
	require.Len(t, r.Items, 3)
	assert.NotEmpty(t, r.RunID)
	assert.Equal(t, "AAPL", r.Items[0].Symbol)
	assert.True(t, r.Items[0].Succeeded())
	assert.Equal(t, "HTTP 404", r.Items[1].Error)
	assert.False(t, r.Items[1].Succeeded())
	assert.Equal(t, 20, *r.Items[2].PreScore)
	assert.True(t, r.Items[2].Promoted)

	s := r.Summarize()
	assert.Equal(t, Summary{Total: 3, Succeeded: 2, Failed: 1, Promoted: 1, Delivered: 1}, s)
}

func TestAssemblerIgnoresUpdatesAfterFinish(t *testing.T) {
	a := NewAssembler(time.Now(), universe())
	first := a.Finish(time.Now())
	a.RecordFailure(0, errors.New("late"), 0)
	second := a.Finish(time.Now())

	assert.Empty(t, second.Items[0].Error)
	assert.Equal(t, first.FinishedAt, second.FinishedAt)
}

func TestAssemblerJudgeErrorKeepsFeatures(t *testing.T) {
	a := NewAssembler(time.Now(), universe())
	a.RecordCandidate(model.Candidate{Index: 0, Score: 70}, nil, 0)
	a.RecordJudgeError(0, errors.New("judge retries exhausted"))
	r := a.Finish(time.Now())
	assert.True(t, r.Items[0].Succeeded())
	assert.Equal(t, "judge retries exhausted", r.Items[0].Error)
}

func TestFileSinkWritesRunAndLatest(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileSink(dir)

	a := NewAssembler(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC), universe())
	a.RecordCandidate(model.Candidate{Index: 0, Score: 55, Features: model.FeatureSet{Price: model.Some(190.5)}}, nil, 0)
	r := a.Finish(time.Now())
	require.NoError(t, sink.WriteReport(context.Background(), r))

	_, err := os.Stat(filepath.Join(dir, FileName(r)))
	require.NoError(t, err)

	latest, err := sink.Latest()
	require.NoError(t, err)
	assert.Equal(t, r.RunID, latest.RunID)
	assert.Equal(t, 55, *latest.Items[0].PreScore)
	assert.False(t, latest.Items[0].Features.SMA200.Valid())
	assert.InDelta(t, 190.5, latest.Items[0].Features.Price.Float(), 1e-9)

	paths, err := sink.List(10)
	require.NoError(t, err)
	assert.Len(t, paths, 1)
}

func TestWriteCSV(t *testing.T) {
	a := NewAssembler(time.Now(), universe())
	a.RecordCandidate(model.Candidate{Index: 0, Score: 61, Features: model.FeatureSet{Price: model.Some(10)}}, nil, 0)
	a.RecordFailure(1, errors.New("line1\nline2"), 0)
	r := a.Finish(time.Now())

	path := filepath.Join(t.TempDir(), "out", "report.csv")
	require.NoError(t, WriteCSV(path, r))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "61", rows[1][3])
	assert.Equal(t, "10.0000", rows[1][2])
	assert.Equal(t, "line1 line2", rows[2][9])
}

func TestWritePNGRequiresScores(t *testing.T) {
	r := NewAssembler(time.Now(), universe()).Finish(time.Now())
	assert.Error(t, WritePNG(filepath.Join(t.TempDir(), "x.png"), r))
}
