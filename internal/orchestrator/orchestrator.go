// Package orchestrator implements the fuzz loop: generate a candidate,
// dispatch it against a supervised target, classify the outcome, and
// recover the target via controlled reboot.
package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/midfuzz/midfuzz/internal/anomaly"
	"github.com/midfuzz/midfuzz/internal/callgraph"
	"github.com/midfuzz/midfuzz/internal/ferr"
	"github.com/midfuzz/midfuzz/internal/logging"
	"github.com/midfuzz/midfuzz/internal/metrics"
	"github.com/midfuzz/midfuzz/internal/prog"
	"github.com/midfuzz/midfuzz/internal/schema"
	"github.com/midfuzz/midfuzz/internal/shm"
	"github.com/midfuzz/midfuzz/internal/supervisor"
	"github.com/midfuzz/midfuzz/internal/target"
)

// mutatePeriod implements "idx mod 3 == 0 mutate, else generate from
// scratch": one in three iterations perturbs a copy of a corpus entry
// instead of building a fresh candidate from the endpoint templates.
const mutatePeriod = 3

// dispatchTimeout bounds the child-process wait per iteration.
const dispatchTimeout = 10 * time.Second

var errorLogPatterns = []string{"EOF", "Failed", "no attribute", "not found"}
var errorLogExclusions = []string{"xvfb", "Failed to populate field", "Node not found"}
var hangLogPattern = "Waiting for "

// Config bundles everything one orchestrator run needs.
type Config struct {
	WorkDir string
	ShmDir  string
}

// Orchestrator drives the round-robin fuzz loop for one target.
type Orchestrator struct {
	runID      string
	cfg        Config
	globals    *Globals
	sup        *supervisor.Supervisor
	target     *target.Target
	graph      *callgraph.Graph
	monitor    *anomaly.Monitor
	mirror     *shm.Mirror
	metrics    *metrics.Metrics
	logger     *logging.Logger
	rng        *rand.Rand
	corpus     []*prog.Prog
	lastProg   *prog.Prog
	iterations int
	crashSeen  map[string]int
	traceLog   []traceCSVRow
}

// New constructs an Orchestrator against an already-discovered Target and a
// booted Supervisor.
func New(cfg Config, globals *Globals, sup *supervisor.Supervisor, t *target.Target, logger *logging.Logger, seed int64) *Orchestrator {
	return &Orchestrator{
		runID:     uuid.NewString(),
		cfg:       cfg,
		globals:   globals,
		sup:       sup,
		target:    t,
		graph:     callgraph.New(),
		monitor:   anomaly.New(cfg.WorkDir, 200, 3.0, nil),
		metrics:   metrics.New(),
		logger:    logger,
		rng:       rand.New(rand.NewSource(seed)),
		crashSeen: map[string]int{},
	}
}

// Metrics exposes the run's Prometheus registry for an HTTP handler or the
// background reporter to scrape.
func (o *Orchestrator) Metrics() *metrics.Metrics { return o.metrics }

// Run executes iterations until the context is cancelled or Globals.Stop is
// called, then flushes per-trace CSVs.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("fuzz loop starting", "run", o.runID)
	defer o.flushCSV()
	for o.globals.Running() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := o.iterate(ctx); err != nil {
			o.logger.Warn("iteration error", "err", err.Error())
		}
		o.iterations++
		o.metrics.Iterations.Inc()
	}
	return nil
}

// iterate runs exactly one Prog end to end: generate, pre-check, dispatch,
// classify, post-check, ingest.
func (o *Orchestrator) iterate(ctx context.Context) error {
	p, err := o.generate()
	if err != nil {
		return fmt.Errorf("orchestrator: generate: %w", err)
	}
	o.lastProg = p

	if err := o.sup.CrashCheck(); err != nil {
		return o.handleCrash(err)
	}

	o.mirrorIfNeeded()
	if o.mirror != nil {
		o.mirror.ClearTimes()
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	exited, stdout, stderr, waitErr := dispatch(dispatchCtx, o.cfg.ShmDir, p.CallStream)

	classifyErr := o.classify(exited, stdout, stderr, waitErr)
	if classifyErr != nil {
		return o.handleCrash(classifyErr)
	}

	if err := o.sup.CrashCheck(); err != nil {
		return o.handleCrash(err)
	}

	o.ingestAndMonitor(p)
	return nil
}

// mirrorIfNeeded lazily maps the shared-memory regions once the supervised
// target's boot probe has observed all four telemetry files; repeated
// iterations reuse the same mapping.
func (o *Orchestrator) mirrorIfNeeded() {
	if o.mirror == nil && shm.BootReady(o.cfg.ShmDir) {
		m, err := shm.Load(o.cfg.ShmDir)
		if err == nil {
			o.mirror = m
		}
	}
}

// generate builds the next candidate. Every third iteration it mutates a
// copy of a random corpus entry; otherwise it picks a node with a callable
// endpoint, picks one of its non-empty endpoint kinds, fills the template,
// and serializes the call stream.
func (o *Orchestrator) generate() (*prog.Prog, error) {
	if o.iterations%mutatePeriod == 0 {
		if p, err := o.mutateFromCorpus(); err == nil {
			return p, nil
		}
	}

	nodes := o.target.CallableNodes()
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no callable node available")
	}
	node := nodes[o.rng.Intn(len(nodes))]
	kinds := node.NonEmptyKinds()
	if len(kinds) == 0 {
		return nil, fmt.Errorf("node %s has no callable kind", node.Name)
	}
	kind := kinds[o.rng.Intn(len(kinds))]

	switch kind {
	case target.KindParam:
		return o.generateParam(node)
	default:
		return o.generateEndpoint(node, kind)
	}
}

func (o *Orchestrator) generateEndpoint(n *target.Node, kind target.EndpointKind) (*prog.Prog, error) {
	var table map[string][]target.Endpoint
	var pkind prog.ItfKind
	switch kind {
	case target.KindTopic:
		table, pkind = n.Subscribers, prog.Topic
	case target.KindService:
		table, pkind = n.ServiceServers, prog.Service
	case target.KindAction:
		table, pkind = n.ActionServers, prog.Action
	}
	prefix, _ := callStreamPrefix(pkind)
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	name := names[o.rng.Intn(len(names))]
	eps := table[name]
	ep := eps[o.rng.Intn(len(eps))]
	if ep.Tmpl == nil {
		return nil, fmt.Errorf("endpoint %s has no template", name)
	}
	schema.GenValue(o.rng, ep.Tmpl, o.target.NodeNames())
	rendered := schema.Render(ep.Tmpl)
	callStream := fmt.Sprintf("ros2 %s %s %s \"%s\"", prefix, name, ep.Tmpl.ItfType, rendered)

	return &prog.Prog{
		ItfKind:    pkind,
		ItfName:    name,
		ItfType:    ep.Tmpl.ItfType,
		ItfInfo:    schema.CopyInterfaceVal(ep.Tmpl),
		CallStream: callStream,
	}, nil
}

// mutateFromCorpus picks a random corpus entry and perturbs a deep copy of
// its value tree, re-rendering the call stream against the mutated copy; the
// corpus entry itself is left unchanged. Param
// entries are skipped: their call stream is a single formatted value, not a
// rendered tree, so they have nothing for MutateValue to walk.
func (o *Orchestrator) mutateFromCorpus() (*prog.Prog, error) {
	if len(o.corpus) == 0 {
		return nil, fmt.Errorf("orchestrator: corpus is empty")
	}
	base := o.corpus[o.rng.Intn(len(o.corpus))]
	prefix, ok := callStreamPrefix(base.ItfKind)
	if !ok || base.ItfInfo == nil {
		return nil, fmt.Errorf("orchestrator: corpus entry not mutable")
	}
	iv := schema.CopyInterfaceVal(base.ItfInfo)
	schema.MutateValue(o.rng, iv)
	rendered := schema.Render(iv)
	callStream := fmt.Sprintf("ros2 %s %s %s \"%s\"", prefix, base.ItfName, base.ItfType, rendered)

	return &prog.Prog{
		ItfKind:    base.ItfKind,
		ItfName:    base.ItfName,
		ItfType:    base.ItfType,
		ItfInfo:    iv,
		CallStream: callStream,
	}, nil
}

// callStreamPrefix maps an endpoint-targeting ItfKind to its ros2 command
// prefix; Param has no tree-shaped template and is not mutable this way.
func callStreamPrefix(k prog.ItfKind) (string, bool) {
	switch k {
	case prog.Topic:
		return "topic pub --once", true
	case prog.Service:
		return "service call", true
	case prog.Action:
		return "action send_goal", true
	default:
		return "", false
	}
}

func (o *Orchestrator) generateParam(n *target.Node) (*prog.Prog, error) {
	var mutable []string
	for name, p := range n.Params {
		if !p.ReadOnly {
			mutable = append(mutable, name)
		}
	}
	if len(mutable) == 0 {
		return nil, fmt.Errorf("node %s has no mutable param", n.Name)
	}
	name := mutable[o.rng.Intn(len(mutable))]
	desc := n.Params[name]
	value := randomParamValue(o.rng, desc)
	callStream := fmt.Sprintf("ros2 param set %s %s %s", n.Name, name, value)
	iv := &schema.InterfaceVal{ItfName: name, ItfType: desc.Type}
	return &prog.Prog{
		ItfKind:    prog.Param,
		ItfName:    name,
		ItfType:    desc.Type,
		ItfInfo:    iv,
		CallStream: callStream,
	}, nil
}

func randomParamValue(rng *rand.Rand, desc target.ParamDescriptor) string {
	lo, hi := 0.0, 100.0
	if desc.Min != nil {
		lo = *desc.Min
	}
	if desc.Max != nil {
		hi = *desc.Max
	}
	if hi <= lo {
		hi = lo + 1
	}
	v := lo + rng.Float64()*(hi-lo)
	if strings.Contains(strings.ToLower(desc.Type), "int") {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.4f", v)
}

// classify turns a dispatch outcome into a nil (clean), benign (logged and
// skipped), or crash-worthy error.
func (o *Orchestrator) classify(exited bool, stdout, stderr string, waitErr error) error {
	combined := stdout + stderr
	if exited {
		if containsAny(combined, errorLogPatterns) && !containsAny(combined, errorLogExclusions) {
			return &ferr.LogError{Msg: firstMatch(combined, errorLogPatterns)}
		}
		return nil
	}
	// child did not exit within the timeout: it was killed by dispatch().
	if strings.TrimSpace(combined) == "" {
		return nil
	}
	if strings.Contains(stdout, hangLogPattern) || strings.Contains(stderr, hangLogPattern) {
		return &ferr.WaitingForError{Msg: hangLogPattern}
	}
	return nil
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func firstMatch(s string, needles []string) string {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return n
		}
	}
	return ""
}

// ingestAndMonitor folds the latest shared-memory snapshots into the call
// graph, derives per-input traces, runs the anomaly monitors, and promotes
// interesting inputs into the corpus.
func (o *Orchestrator) ingestAndMonitor(p *prog.Prog) {
	if o.mirror == nil {
		return
	}
	nodes := o.mirror.SnapshotNodes()
	cbs := o.mirror.SnapshotCallbacks()
	o.graph.UpdateCallbackInfo(nodes, cbs)

	times := o.mirror.SnapshotTimes()
	msgs := o.mirror.SnapshotMsgs()
	trimmed := callgraph.TrimTimes(times, 0)
	trimmedMsgs := callgraph.TrimMessages(msgs, 0)

	eventTrace := callgraph.BuildEventTrace(o.graph, trimmed)

	timerTraces := map[uint64]*callgraph.TimerTrace{}
	for _, cb := range o.graph.Callbacks {
		if cb.CbType != callgraph.CbTimer {
			continue
		}
		tt := callgraph.BuildTimerTrace(trimmed, cb.RclHandle)
		if len(tt.Pairs) > 0 {
			timerTraces[cb.RclHandle] = tt
		}
	}
	topicTraces := callgraph.BuildTopicTraces(trimmedMsgs)

	result := o.monitor.RunAll(eventTrace, timerTraces, topicTraces)
	if result.Err != nil {
		o.logger.Warn("monitor error", "err", result.Err.Error())
		return
	}
	if result.Interesting {
		o.corpus = append(o.corpus, p)
		o.metrics.CorpusSize.Set(float64(len(o.corpus)))
		o.metrics.Anomalies.Inc()
	}
	o.recordTraceRows(eventTrace)
}

// handleCrash saves and reboots from everything except the benign log/
// waiting classifications.
func (o *Orchestrator) handleCrash(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "ros2 log error") || strings.Contains(msg, "ros2 waiting for") {
		return nil
	}
	if saveErr := o.saveCrash(err); saveErr != nil {
		o.logger.Warn("save crash failed", "err", saveErr.Error())
	}
	return o.reboot()
}

func (o *Orchestrator) reboot() error {
	_ = o.sup.Kill()
	return o.sup.Boot(context.Background())
}
