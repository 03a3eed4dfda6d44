package orchestrator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/midfuzz/midfuzz/internal/ferr"
	"github.com/midfuzz/midfuzz/internal/prog"
)

// sanitizeDir turns an error-prefix key into a filesystem-safe directory
// name: each path separator or whitespace character becomes an underscore,
// leading and trailing underscores are trimmed, and an empty result becomes
// "unknown".
func sanitizeDir(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, s)
	s = strings.Trim(s, "_")
	if s == "" {
		s = "unknown"
	}
	return s
}

// nextCrashIndex scans dir for "input-N" files and returns one past the
// highest N found, or 0 if the directory is new.
func nextCrashIndex(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	max := -1
	for _, e := range entries {
		n, ok := strings.CutPrefix(e.Name(), "input-")
		if !ok {
			continue
		}
		if idx, err := strconv.Atoi(n); err == nil && idx > max {
			max = idx
		}
	}
	return max + 1
}

// saveCrash accumulates crash artifacts for a given error kind under
// workdir/crash/<err_des>/, keyed by the message prefix up to the first
// "...".
func (o *Orchestrator) saveCrash(cause error) error {
	errDes := sanitizeDir(ferr.ErrPrefix(cause.Error()))
	dir := filepath.Join(o.cfg.WorkDir, "crash", errDes)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("orchestrator: mkdir crash dir: %w", err)
	}
	idx := nextCrashIndex(dir)

	if o.lastProg != nil {
		data, err := prog.Encode(o.lastProg)
		if err != nil {
			return fmt.Errorf("orchestrator: encode crashing input: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("input-%d", idx)), data, 0o644); err != nil {
			return fmt.Errorf("orchestrator: write crashing input: %w", err)
		}
	}

	if err := copyDir(o.cfg.ShmDir, filepath.Join(dir, fmt.Sprintf("shm-%d", idx))); err != nil {
		return fmt.Errorf("orchestrator: copy shm dir: %w", err)
	}
	if err := copyFile(filepath.Join(o.cfg.WorkDir, "instance_err"), filepath.Join(dir, fmt.Sprintf("instance_err-%d", idx))); err != nil {
		return fmt.Errorf("orchestrator: copy instance_err: %w", err)
	}
	if err := copyFile(filepath.Join(o.cfg.WorkDir, "instance_out"), filepath.Join(dir, fmt.Sprintf("instance_out-%d", idx))); err != nil {
		return fmt.Errorf("orchestrator: copy instance_out: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "description"), []byte(cause.Error()+"\n"), 0o644); err != nil {
		return fmt.Errorf("orchestrator: write description: %w", err)
	}
	o.crashSeen[errDes]++
	o.metrics.Crashes.WithLabelValues(errDes).Inc()
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

func copyDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
