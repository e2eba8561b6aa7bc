package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg, "test")

	r.Instrument("stock", true)
	r.Instrument("stock", true)
	r.Instrument("crypto", false)
	r.Judgment("escalate")
	r.Notification("delivered")
	r.Stage("stage1", 2*time.Second)
	r.RunFinished(time.Unix(1700000000, 0))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.instruments.WithLabelValues("stock", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.instruments.WithLabelValues("crypto", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.judgments.WithLabelValues("escalate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(r.lastRun))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "test_stage_duration_seconds")
	assert.Contains(t, names, "test_gate_decisions_total")
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.Instrument("stock", true)
		r.Judgment("hold")
		r.Notification("skipped")
		r.Stage("stage2", time.Second)
		r.RunFinished(time.Now())
	})
}
