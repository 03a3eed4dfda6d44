// Package supervisor launches and monitors the middleware node process
// under test: boot, crash detection via zombie/signal reaping, and kill.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/midfuzz/midfuzz/internal/ferr"
	"github.com/midfuzz/midfuzz/internal/logging"
	"github.com/midfuzz/midfuzz/internal/shm"
)

// State is the supervisor's lifecycle state.
type State int

const (
	Init State = iota
	Booting
	Running
	Killing
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Booting:
		return "booting"
	case Running:
		return "running"
	case Killing:
		return "killing"
	default:
		return "unknown"
	}
}

const bootTimeout = 10 * time.Second
const bootPollInterval = 100 * time.Millisecond

// Config configures one supervised target.
type Config struct {
	// LaunchArgs is the middleware launch command, e.g. ["ros2", "launch",
	// "demo_bringup", "demo.launch.py"].
	LaunchArgs []string
	// Xvfb wraps LaunchArgs in a virtual framebuffer when true.
	Xvfb bool
	ShmDir  string
	WorkDir string
}

// Supervisor drives one target's boot/run/kill state machine.
type Supervisor struct {
	cfg    Config
	logger *logging.Logger

	state   State
	cmd     *exec.Cmd
	rootPID int
	pgid    int

	stdout, stderr *os.File
}

// New constructs a Supervisor in the Init state.
func New(cfg Config, logger *logging.Logger) *Supervisor {
	return &Supervisor{cfg: cfg, logger: logger, state: Init}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State { return s.state }

// PID returns the supervised root process id, or 0 if not booted.
func (s *Supervisor) PID() int { return s.rootPID }

func (s *Supervisor) instanceOutPath() string { return filepath.Join(s.cfg.WorkDir, "instance_out") }
func (s *Supervisor) instanceErrPath() string { return filepath.Join(s.cfg.WorkDir, "instance_err") }

// Boot spawns the launch command in its own process group (inside a virtual
// framebuffer when Config.Xvfb is set), exports SHM_PATH to the child, and
// blocks until the boot probe succeeds or times out.
func (s *Supervisor) Boot(ctx context.Context) error {
	s.state = Booting

	argv := s.cfg.LaunchArgs
	if s.cfg.Xvfb {
		argv = append([]string{"xvfb-run", "-a"}, argv...)
	}
	if len(argv) == 0 {
		return fmt.Errorf("supervisor: empty launch command")
	}

	stdout, err := os.Create(s.instanceOutPath())
	if err != nil {
		return fmt.Errorf("supervisor: open instance_out: %w", err)
	}
	stderr, err := os.Create(s.instanceErrPath())
	if err != nil {
		stdout.Close()
		return fmt.Errorf("supervisor: open instance_err: %w", err)
	}
	s.stdout, s.stderr = stdout, stderr

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(), "SHM_PATH="+s.cfg.ShmDir)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("supervisor: start launch command: %w", err)
	}
	s.cmd = cmd
	s.rootPID = cmd.Process.Pid
	s.pgid = s.rootPID // Setpgid with Pgid=0 makes the child its own group leader

	if err := s.probeBoot(ctx); err != nil {
		return err
	}
	s.state = Running
	s.logger.Info("node booted", "pid", s.rootPID)
	return nil
}

// probeBoot polls for presence of all four non-empty telemetry files,
// giving up after bootTimeout with a BootTimeoutError.
func (s *Supervisor) probeBoot(ctx context.Context) error {
	deadline := time.Now().Add(bootTimeout)
	ticker := time.NewTicker(bootPollInterval)
	defer ticker.Stop()
	for {
		if shm.BootReady(s.cfg.ShmDir) {
			return nil
		}
		if time.Now().After(deadline) {
			return &ferr.BootTimeoutError{Elapsed: bootTimeout.String()}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// CrashCheck locates the root PID in the OS process table. If its status is
// Zombie, it reaps it and returns ZombieDetectedError. Otherwise every
// descendant is non-blockingly waited on; a Signaled descendant returns
// ProcessCrashedError. ECHILD on a descendant is benign.
func (s *Supervisor) CrashCheck() error {
	if s.rootPID == 0 {
		return nil
	}
	st, ok := readProcStat(s.rootPID)
	if ok && st.State == 'Z' {
		_, _, _, _ = nonBlockingWait(s.rootPID)
		return &ferr.ZombieDetectedError{PID: s.rootPID}
	}
	if !ok {
		// root process table entry is gone entirely: treat like crash via wait.
		exited, signaled, sig, err := nonBlockingWait(s.rootPID)
		if err != nil {
			return fmt.Errorf("supervisor: wait root: %w", err)
		}
		if exited && signaled {
			return &ferr.ProcessCrashedError{Signal: sig}
		}
	}

	for _, pid := range listGroupDescendants(s.pgid, s.rootPID) {
		exited, signaled, sig, err := nonBlockingWait(pid)
		if err != nil {
			return fmt.Errorf("supervisor: wait descendant %d: %w", pid, err)
		}
		if exited && signaled {
			return &ferr.ProcessCrashedError{Signal: sig}
		}
	}
	return nil
}

// Kill enumerates descendants, signals each, and cleans the shared-memory
// directory.
func (s *Supervisor) Kill() error {
	s.state = Killing
	if s.rootPID != 0 {
		for _, pid := range listGroupDescendants(s.pgid, s.rootPID) {
			_ = unix.Kill(pid, syscall.SIGKILL)
		}
		_ = unix.Kill(s.rootPID, syscall.SIGKILL)
		_, _, _, _ = nonBlockingWait(s.rootPID)
	}
	if s.stdout != nil {
		s.stdout.Close()
	}
	if s.stderr != nil {
		s.stderr.Close()
	}
	if err := shm.CleanShmFiles(s.cfg.ShmDir); err != nil {
		return fmt.Errorf("supervisor: clean shm dir: %w", err)
	}
	s.state = Init
	s.rootPID = 0
	return nil
}

// ReadInstanceOutput reads back the supervised target's captured stdout and
// stderr from instance_out and instance_err.
func (s *Supervisor) ReadInstanceOutput() (stdout, stderr string) {
	outData, _ := os.ReadFile(s.instanceOutPath())
	errData, _ := os.ReadFile(s.instanceErrPath())
	return string(outData), string(errData)
}

// Wait blocks until the supervised command exits on its own; no timeout is
// applied.
func (s *Supervisor) Wait() error {
	if s.cmd == nil {
		return fmt.Errorf("supervisor: wait called before boot")
	}
	return s.cmd.Wait()
}
