// Package ferr defines the closed error taxonomy the fuzz orchestrator
// classifies every iteration outcome into. Callers branch on kind with
// errors.As, never by matching error strings (except where classification
// itself requires scanning captured process output for literal markers).
package ferr

import "fmt"

// BootTimeoutError reports that the boot probe did not observe all four
// telemetry files within the boot window.
type BootTimeoutError struct {
	Elapsed string
}

func (e *BootTimeoutError) Error() string {
	return fmt.Sprintf("boot timeout after %s", e.Elapsed)
}

// LogError reports that the dispatched child exited and its combined
// stdout+stderr matched one of the known error patterns.
type LogError struct {
	Msg string
}

func (e *LogError) Error() string { return fmt.Sprintf("ros2 log error: %s", e.Msg) }

// WaitingForError reports that the dispatched child hung waiting on an
// expected dependency.
type WaitingForError struct {
	Msg string
}

func (e *WaitingForError) Error() string { return fmt.Sprintf("ros2 waiting for: %s", e.Msg) }

// ProcessCrashedError reports that a descendant process was signaled.
type ProcessCrashedError struct {
	Signal int
}

func (e *ProcessCrashedError) Error() string {
	return fmt.Sprintf("process crashed: signal %d", e.Signal)
}

// ZombieDetectedError reports that the root PID's status was Zombie.
type ZombieDetectedError struct {
	PID int
}

func (e *ZombieDetectedError) Error() string {
	return fmt.Sprintf("zombie detected: pid %d", e.PID)
}

// TimeOutError reports that an event-trace latency fell outside the warmed
// baseline's mean±2σ window, or that a predictor violation escalated.
type TimeOutError struct {
	// Msg carries the "..." truncation point used to key crash artifact
	// directories: everything before the first "..." is the directory name
	// (see ErrPrefix).
	Msg string
}

func (e *TimeOutError) Error() string { return e.Msg }

// PredictorViolationError reports that the optional ML predictor hook's
// prediction deviated from the observed duration beyond threshold.
type PredictorViolationError struct {
	Actual, Predicted, Threshold float64
}

func (e *PredictorViolationError) Error() string {
	return fmt.Sprintf("predictor violation: |%.3f - %.3f| > %.3f", e.Actual, e.Predicted, e.Threshold)
}

// InvalidResultError reports an ambiguous classification outcome that is
// logged and the loop continues.
type InvalidResultError struct {
	Reason string
}

func (e *InvalidResultError) Error() string { return fmt.Sprintf("invalid result: %s", e.Reason) }

// ErrPrefix derives the crash-artifact directory key from an error message:
// the prefix up to the first "...". If no "..." is present the whole
// message is the key.
func ErrPrefix(msg string) string {
	if idx := indexOf(msg, "..."); idx >= 0 {
		return msg[:idx]
	}
	return msg
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
