// Package reporting writes the fuzz run's durable on-disk artifacts: the
// per-trace CSV export and the periodic text log/coverage summaries.
package reporting

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// TraceRow is one callback invocation's timing, flattened for CSV export.
type TraceRow struct {
	TraceID float64
	CbID    uint64
	Start   uint64
	End     uint64
	CbName  string
}

// WriteTraceCSV writes rows to workdir/csv/data<N>.csv, choosing N one past
// the highest existing data file so repeated runs against the same workdir
// never clobber earlier exports.
func WriteTraceCSV(workdir string, rows []TraceRow) error {
	if len(rows) == 0 {
		return nil
	}
	dir := filepath.Join(workdir, "csv")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("reporting: mkdir csv dir: %w", err)
	}
	idx := nextDataIndex(dir)
	path := filepath.Join(dir, fmt.Sprintf("data%d.csv", idx))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("reporting: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	if err := w.Write([]string{"trace_id", "cb_id", "start", "end", "cb_name"}); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			strconv.FormatFloat(r.TraceID, 'g', -1, 64),
			strconv.FormatUint(r.CbID, 10),
			strconv.FormatUint(r.Start, 10),
			strconv.FormatUint(r.End, 10),
			r.CbName,
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return w.Error()
}

func nextDataIndex(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	max := -1
	for _, e := range entries {
		var n int
		if _, err := fmt.Sscanf(e.Name(), "data%d.csv", &n); err == nil && n > max {
			max = n
		}
	}
	return max + 1
}

// AppendLog appends one line to workdir/logs, creating it if absent.
func AppendLog(workdir, line string) error {
	return appendLine(filepath.Join(workdir, "logs"), line)
}

// AppendCover appends one line to workdir/cover, creating it if absent.
func AppendCover(workdir, line string) error {
	return appendLine(filepath.Join(workdir, "cover"), line)
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("reporting: open %s: %w", path, err)
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}
