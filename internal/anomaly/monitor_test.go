package anomaly

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midfuzz/midfuzz/internal/callgraph"
	"github.com/midfuzz/midfuzz/internal/ferr"
)

func traceWithLatency(id, latency float64) *callgraph.CallTrace {
	return &callgraph.CallTrace{
		ID:         id,
		CurLatency: latency,
		Trace:      map[uint64]*callgraph.CallbackInfo{1: {ID: 1}},
	}
}

func TestEventAnomalyWarmupThenTimeout(t *testing.T) {
	m := New("", 200, 3.0, nil)

	// Pin MaxTime high immediately so every later call lands in the
	// mean/stddev branch instead of repeatedly setting a new record.
	_, err := m.EvaluateEvent(traceWithLatency(5, 1000))
	require.NoError(t, err)

	for i := 0; i < 201; i++ {
		_, err := m.EvaluateEvent(traceWithLatency(5, 100))
		require.NoError(t, err)
	}
	// 201 identical samples: mean settles at 100 with zero spread.
	assert.InDelta(t, 100, m.eventBaselines[5].Mean, 0.0001)
	assert.InDelta(t, 0, m.eventBaselines[5].StdDev, 0.0001)

	// Appending 135 recomputes mean/stddev over the 202 samples
	// (mean≈100.17, stddev≈2.46), putting 135 well outside mean±2σ.
	interesting, err := m.EvaluateEvent(traceWithLatency(5, 135))
	assert.False(t, interesting)
	require.Error(t, err)
	var toe *ferr.TimeOutError
	assert.ErrorAs(t, err, &toe)

	// Appending 101 recomputes over the 203 samples including the prior
	// outlier (mean≈100.18, stddev≈2.45); 101 still falls inside mean±2σ.
	interesting, err = m.EvaluateEvent(traceWithLatency(5, 101))
	assert.False(t, interesting)
	assert.NoError(t, err)
}

func TestEdgeBaselineMonotonicity(t *testing.T) {
	m := New("", 200, 3.0, nil)
	pairs1 := []callgraph.DurationSizePair{{Duration: 10, Size: 100}}
	pairs2 := []callgraph.DurationSizePair{{Duration: 5, Size: 100}}
	pairs3 := []callgraph.DurationSizePair{{Duration: 2, Size: 10}}

	evaluateEdges(m.timerBaselines, 1, pairs1)
	maxAfter1 := m.timerBaselines[1].MaxTime
	minAfter1 := m.timerBaselines[1].MinTime

	evaluateEdges(m.timerBaselines, 1, pairs2)
	assert.GreaterOrEqual(t, m.timerBaselines[1].MaxTime, maxAfter1)

	evaluateEdges(m.timerBaselines, 1, pairs3)
	assert.LessOrEqual(t, m.timerBaselines[1].MinTime, minAfter1)
}
