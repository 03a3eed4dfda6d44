package orchestrator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/midfuzz/midfuzz/internal/callgraph"
	"github.com/midfuzz/midfuzz/internal/reporting"
)

// reportInterval is the background reporter's tick period.
const reportInterval = 10 * time.Second

// traceCSVRow is one recorded callback invocation, accumulated across
// iterations and flushed to a CSV export file on shutdown.
type traceCSVRow struct {
	TraceID float64
	CbID    uint64
	Start   uint64
	End     uint64
	CbName  string
}

// recordTraceRows flattens one iteration's event trace into traceLog rows.
func (o *Orchestrator) recordTraceRows(trace *callgraph.CallTrace) {
	for id, cb := range trace.Trace {
		n := len(cb.StartTime)
		if len(cb.EndTime) < n {
			n = len(cb.EndTime)
		}
		for i := 0; i < n; i++ {
			o.traceLog = append(o.traceLog, traceCSVRow{
				TraceID: trace.ID,
				CbID:    id,
				Start:   cb.StartTime[i],
				End:     cb.EndTime[i],
				CbName:  cb.CbName,
			})
		}
	}
}

// flushCSV writes the accumulated trace rows to workdir/csv on shutdown.
func (o *Orchestrator) flushCSV() {
	if len(o.traceLog) == 0 {
		return
	}
	rows := make([]reporting.TraceRow, len(o.traceLog))
	for i, r := range o.traceLog {
		rows[i] = reporting.TraceRow{TraceID: r.TraceID, CbID: r.CbID, Start: r.Start, End: r.End, CbName: r.CbName}
	}
	if err := reporting.WriteTraceCSV(o.cfg.WorkDir, rows); err != nil {
		o.logger.Warn("flush trace csv failed", "err", err.Error())
	}
}

// RunWithReporter runs the fuzz loop and a background reporter concurrently.
// The reporter ticks every reportInterval, appending an iteration/corpus
// summary line to workdir/logs and a line with the call graph's total node
// and callback counts to workdir/cover. It never blocks the fuzz loop: a write failure is logged
// and the reporter keeps ticking.
func (o *Orchestrator) RunWithReporter(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.Run(ctx) })
	g.Go(func() error { return o.reportLoop(ctx) })
	return g.Wait()
}

func (o *Orchestrator) reportLoop(ctx context.Context) error {
	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.tick()
		}
	}
}

func (o *Orchestrator) tick() {
	line := fmt.Sprintf("run=%s iterations=%d corpus=%d crashes=%d", o.runID, o.iterations, len(o.corpus), o.totalCrashes())
	if err := reporting.AppendLog(o.cfg.WorkDir, line); err != nil {
		o.logger.Warn("append log failed", "err", err.Error())
	}
	coverLine := fmt.Sprintf("run=%s nodes=%d callbacks=%d", o.runID, len(o.graph.Nodes), len(o.graph.Callbacks))
	if err := reporting.AppendCover(o.cfg.WorkDir, coverLine); err != nil {
		o.logger.Warn("append cover failed", "err", err.Error())
	}
}

func (o *Orchestrator) totalCrashes() int {
	total := 0
	for _, n := range o.crashSeen {
		total += n
	}
	return total
}
