package orchestrator

import "sync/atomic"

// Globals holds the three process-wide items the design calls out
// explicitly: the interrupt flag, the shared-memory path, and the (opaque,
// externally-owned) ML environment handle. Each is a process-lifetime
// singleton with explicit construction and no package-level ambient state.
type Globals struct {
	running  atomic.Bool
	ShmPath  string
	MLHandle interface{}
}

// NewGlobals constructs a Globals in the running state.
func NewGlobals(shmPath string) *Globals {
	g := &Globals{ShmPath: shmPath}
	g.running.Store(true)
	return g
}

// Running reports whether the orchestrator loop should keep iterating.
func (g *Globals) Running() bool { return g.running.Load() }

// Stop sets the interrupt flag, tested by the orchestrator before each
// iteration and at the loop head.
func (g *Globals) Stop() { g.running.Store(false) }
