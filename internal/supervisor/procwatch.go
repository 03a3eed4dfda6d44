package supervisor

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// procStat is the subset of /proc/<pid>/stat fields the crash checker needs:
// state ('R','S','D','Z',...) and the process group id.
type procStat struct {
	PID   int
	State byte
	PGID  int
}

// readProcStat parses /proc/<pid>/stat. The comm field is parenthesized and
// may itself contain spaces or parens, so fields are read after the last
// ')'.
func readProcStat(pid int) (procStat, bool) {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return procStat{}, false
	}
	s := string(data)
	close := strings.LastIndexByte(s, ')')
	if close < 0 || close+2 >= len(s) {
		return procStat{}, false
	}
	rest := strings.Fields(s[close+2:])
	if len(rest) < 3 {
		return procStat{}, false
	}
	pgid, err := strconv.Atoi(rest[2])
	if err != nil {
		return procStat{}, false
	}
	return procStat{PID: pid, State: rest[0][0], PGID: pgid}, true
}

// listGroupDescendants returns the pids in /proc whose process group id is
// pgid, excluding the root pid itself, in ascending order.
func listGroupDescendants(pgid, rootPID int) []int {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil
	}
	var out []int
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		if pid == rootPID {
			continue
		}
		st, ok := readProcStat(pid)
		if !ok || st.PGID != pgid {
			continue
		}
		out = append(out, pid)
	}
	sort.Ints(out)
	return out
}

// nonBlockingWait reaps pid without blocking if it is one of our direct
// children. ECHILD is benign: the pid belongs to a grandchild we never
// directly wait() on, or it has already been reaped.
func nonBlockingWait(pid int) (exited bool, signaled bool, signal int, err error) {
	var ws unix.WaitStatus
	got, werr := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
	if werr != nil {
		if werr == unix.ECHILD {
			return false, false, 0, nil
		}
		return false, false, 0, werr
	}
	if got == 0 {
		return false, false, 0, nil
	}
	if ws.Signaled() {
		return true, true, int(ws.Signal()), nil
	}
	return true, false, 0, nil
}
