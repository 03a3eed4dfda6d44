// Package anomaly maintains global baselines per trace stream and
// classifies each iteration's observation as interesting or erroneous.
package anomaly

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/midfuzz/midfuzz/internal/callgraph"
	"github.com/midfuzz/midfuzz/internal/ferr"
)

// EventBaseline is the global per-trace-id record the event monitor folds
// observations into.
type EventBaseline struct {
	MaxTime float64
	Trace   *callgraph.CallTrace
	TimeSet []float64
	Mean    float64
	StdDev  float64
}

// EdgeBaseline is the global per-edge extreme record the timer/topic
// monitors fold observations into.
type EdgeBaseline struct {
	MinTime float64
	MaxTime float64
}

// Predictor is the optional external ML hook: given (duration,size) pairs,
// it returns predicted durations. It is treated as an opaque pure function;
// the monitor runs without it when nil.
type Predictor func(pairs []callgraph.DurationSizePair) []float64

// Monitor holds the three global baseline maps and logs observations to the
// workdir's per-stream JSON files.
type Monitor struct {
	checkLen           int
	predictorThreshold float64
	predictor          Predictor
	workdir            string

	eventBaselines map[float64]*EventBaseline
	timerBaselines map[uint64]*EdgeBaseline
	topicBaselines map[uint64]*EdgeBaseline
}

// New constructs a Monitor. checkLen is the warm-up sample count (200 by
// default) after which mean/std bounds start being enforced.
func New(workdir string, checkLen int, predictorThreshold float64, predictor Predictor) *Monitor {
	return &Monitor{
		checkLen:           checkLen,
		predictorThreshold: predictorThreshold,
		predictor:          predictor,
		workdir:            workdir,
		eventBaselines:     map[float64]*EventBaseline{},
		timerBaselines:     map[uint64]*EdgeBaseline{},
		topicBaselines:     map[uint64]*EdgeBaseline{},
	}
}

// EvaluateEvent folds the current CallTrace into the global event baseline
// keyed by trace.ID, returning whether the observation is interesting.
func (m *Monitor) EvaluateEvent(trace *callgraph.CallTrace) (interesting bool, err error) {
	if len(trace.Trace) == 0 {
		return false, nil
	}
	base, ok := m.eventBaselines[trace.ID]
	if !ok {
		m.eventBaselines[trace.ID] = &EventBaseline{MaxTime: trace.CurLatency, Trace: trace}
		return false, nil
	}
	if trace.CurLatency > base.MaxTime {
		base.MaxTime = trace.CurLatency
		base.Trace = trace
		return true, nil
	}
	base.TimeSet = append(base.TimeSet, trace.CurLatency)
	if len(base.TimeSet) > m.checkLen {
		base.Mean, base.StdDev = meanStd(base.TimeSet)
		lo, hi := base.Mean-2*base.StdDev, base.Mean+2*base.StdDev
		if trace.CurLatency < lo || trace.CurLatency > hi {
			return false, &ferr.TimeOutError{Msg: fmt.Sprintf("event latency %.2f outside mean %.2f ± 2σ (%.2f)... trace id %.2f", trace.CurLatency, base.Mean, base.StdDev, trace.ID)}
		}
	}
	return false, nil
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	var sqSum float64
	for _, x := range xs {
		d := x - mean
		sqSum += d * d
	}
	std = math.Sqrt(sqSum / float64(len(xs)))
	return mean, std
}

func throughputs(pairs []callgraph.DurationSizePair) []float64 {
	out := make([]float64, 0, len(pairs))
	for _, p := range pairs {
		if p.Duration == 0 {
			continue
		}
		out = append(out, float64(p.Size)/float64(p.Duration))
	}
	return out
}

func minMax(xs []float64) (min, max float64, ok bool) {
	if len(xs) == 0 {
		return 0, 0, false
	}
	min, max = xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}
	return min, max, true
}

// evaluateEdges folds a per-edge current pairs map into a global edge
// baseline map: a missing edge is installed, an extreme beyond the global
// bound overwrites it and is interesting.
func evaluateEdges(baselines map[uint64]*EdgeBaseline, edge uint64, pairs []callgraph.DurationSizePair) bool {
	localMin, localMax, ok := minMax(throughputs(pairs))
	if !ok {
		return false
	}
	base, exists := baselines[edge]
	if !exists {
		baselines[edge] = &EdgeBaseline{MinTime: localMin, MaxTime: localMax}
		return false
	}
	interesting := false
	if localMin < base.MinTime {
		base.MinTime = localMin
		interesting = true
	}
	if localMax > base.MaxTime {
		base.MaxTime = localMax
		interesting = true
	}
	return interesting
}

// EvaluateTimer folds one callback's timer trace into the global timer
// baseline, keyed by the callback's rcl handle.
func (m *Monitor) EvaluateTimer(cbRclHandle uint64, tt *callgraph.TimerTrace) bool {
	return evaluateEdges(m.timerBaselines, cbRclHandle, tt.Pairs)
}

// EvaluateTopic folds one edge's topic trace into the global topic
// baseline.
func (m *Monitor) EvaluateTopic(edge uint64, tt *callgraph.TopicTrace) bool {
	return evaluateEdges(m.topicBaselines, edge, tt.Trace)
}

// EvaluatePredictor applies the optional predictor hook to pairs and
// escalates a large deviation to a TimeOutError via PredictorViolation.
func (m *Monitor) EvaluatePredictor(pairs []callgraph.DurationSizePair) error {
	if m.predictor == nil || len(pairs) == 0 {
		return nil
	}
	predicted := m.predictor(pairs)
	for i, p := range pairs {
		if i >= len(predicted) {
			break
		}
		actual := float64(p.Duration)
		if math.Abs(actual-predicted[i]) > m.predictorThreshold {
			return &ferr.PredictorViolationError{Actual: actual, Predicted: predicted[i], Threshold: m.predictorThreshold}
		}
	}
	return nil
}

// Observation is one iteration's per-stream record, appended to the
// workdir's *_monitor.json logs.
type Observation struct {
	Stream      string  `json:"stream"`
	Key         string  `json:"key"`
	Value       float64 `json:"value"`
	Interesting bool    `json:"interesting"`
}

func (m *Monitor) logObservation(file string, obs Observation) error {
	if m.workdir == "" {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(m.workdir, file), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("anomaly: open %s: %w", file, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	return enc.Encode(obs)
}

// MonitorResult is the aggregate outcome of running all three monitors for
// one iteration.
type MonitorResult struct {
	Interesting bool
	Err         error
}

// RunAll runs the event, timer, and topic monitors in sequence, ORs their
// interesting-flags, and propagates the first error. It logs each
// observation to the corresponding workdir file.
func (m *Monitor) RunAll(eventTrace *callgraph.CallTrace, timerTraces map[uint64]*callgraph.TimerTrace, topicTraces map[uint64]*callgraph.TopicTrace) MonitorResult {
	var interesting bool

	eventInteresting, err := m.EvaluateEvent(eventTrace)
	_ = m.logObservation("event_monitor.json", Observation{Stream: "event", Key: fmt.Sprintf("%.2f", eventTrace.ID), Value: eventTrace.CurLatency, Interesting: eventInteresting})
	if err != nil {
		return MonitorResult{Interesting: eventInteresting, Err: err}
	}
	interesting = interesting || eventInteresting

	for handle, tt := range timerTraces {
		i := m.EvaluateTimer(handle, tt)
		_ = m.logObservation("timer_monitor.json", Observation{Stream: "timer", Key: fmt.Sprintf("%d", handle), Interesting: i})
		interesting = interesting || i
	}

	for edge, tt := range topicTraces {
		i := m.EvaluateTopic(edge, tt)
		_ = m.logObservation("topic_monitor.json", Observation{Stream: "topic", Key: fmt.Sprintf("%d", edge), Interesting: i})
		interesting = interesting || i
	}

	return MonitorResult{Interesting: interesting}
}
