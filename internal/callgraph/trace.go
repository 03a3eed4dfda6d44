package callgraph

import (
	"sort"

	"github.com/midfuzz/midfuzz/internal/shm"
)

// ingressKinds are the event kinds trimming may begin a kept sequence on;
// an "egress" kind left over from a prior input is dropped.
var ingressKinds = map[shm.EventType]bool{
	shm.EventCbEnd: true,
	shm.EventRclSub: true,
	shm.EventSrvReq: true,
	shm.EventCliRsp: true,
	shm.EventExeExe: true,
	shm.EventExeRdy: true,
}

// TrimTimes walks the timing snapshot in reverse, discarding slots with
// zero cb/flag or time before startTime, and drops any kept slots preceding
// the first ingress-kind event. The surviving slots are deduplicated and
// re-sorted ascending by time.
func TrimTimes(raw []shm.TimeRecord, startTime uint64) []shm.TimeRecord {
	var kept []shm.TimeRecord
	sawIngress := false
	for i := len(raw) - 1; i >= 0; i-- {
		r := raw[i]
		if r.Cb == 0 || r.Flag == 0 || r.Time < startTime {
			continue
		}
		evt, ok := shm.ParseEventType(r.Flag)
		if !ok {
			continue
		}
		if !sawIngress {
			if !ingressKinds[evt] {
				continue
			}
			sawIngress = true
		}
		kept = append(kept, r)
	}

	seen := map[[3]uint64]bool{}
	var deduped []shm.TimeRecord
	for _, r := range kept {
		key := [3]uint64{r.Cb, r.Time, r.Flag}
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, r)
	}
	sort.SliceStable(deduped, func(i, j int) bool { return deduped[i].Time < deduped[j].Time })
	return deduped
}

// TrimMessages keeps only slots satisfying send_time >= startTime, with a
// non-zero callback and subscription handle, a receive time at or after the
// send time, and a size no larger than 2GiB.
func TrimMessages(raw []shm.MsgRecord, startTime uint64) []shm.MsgRecord {
	const maxSize = 2 << 30
	var out []shm.MsgRecord
	for _, m := range raw {
		if m.SendTime < startTime {
			continue
		}
		if m.Callback == 0 || m.Subscription == 0 {
			continue
		}
		if m.RecvTime < m.SendTime {
			continue
		}
		if m.Size > maxSize {
			continue
		}
		out = append(out, m)
	}
	return out
}

// CallTrace is the per-input event-latency signature.
type CallTrace struct {
	ID         float64
	Trace      map[uint64]*CallbackInfo
	TimeSet    []float64
	Mean       float64
	StdDev     float64
	CurLatency float64
	MaxTime    float64
	MinTime    float64
}

func pairDurations(starts, ends []uint64) uint64 {
	s := append([]uint64(nil), starts...)
	e := append([]uint64(nil), ends...)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	sort.Slice(e, func(i, j int) bool { return e[i] < e[j] })
	n := len(s)
	if len(e) < n {
		n = len(e)
	}
	var total uint64
	for i := 0; i < n; i++ {
		lo, hi := s[i], e[i]
		if hi < lo {
			lo, hi = hi, lo
		}
		total += hi - lo
	}
	return total
}

// BuildEventTrace builds a CallTrace from the trimmed, ordered timing
// slots: CbStart/CbEnd/ExeRdy entries are appended to the owning
// callback's start/end/invoke lists, callbacks with an empty side are
// dropped, and the trace id is the mean callback id.
func BuildEventTrace(g *Graph, trimmed []shm.TimeRecord) *CallTrace {
	perCb := map[uint64]*CallbackInfo{}
	for _, t := range trimmed {
		evt, ok := shm.ParseEventType(t.Flag)
		if !ok {
			continue
		}
		cb, ok := findCallbackByRclHandle(g, t.Cb)
		if !ok {
			continue
		}
		entry, ok := perCb[cb.ID]
		if !ok {
			entry = &CallbackInfo{ID: cb.ID, NodeName: cb.NodeName, CbName: cb.CbName, CbType: cb.CbType}
			perCb[cb.ID] = entry
		}
		switch evt {
		case shm.EventCbStart:
			entry.StartTime = append(entry.StartTime, t.Time)
		case shm.EventCbEnd:
			entry.EndTime = append(entry.EndTime, t.Time)
		case shm.EventExeRdy:
			entry.InvokeTime = append(entry.InvokeTime, t.Time)
		}
	}

	trace := &CallTrace{Trace: map[uint64]*CallbackInfo{}}
	var idSum uint64
	var latency float64
	for id, cb := range perCb {
		if len(cb.StartTime) == 0 || len(cb.EndTime) == 0 {
			continue
		}
		cb.Duration = pairDurations(cb.StartTime, cb.EndTime)
		trace.Trace[id] = cb
		idSum += id
		latency += float64(cb.Duration)
	}
	if len(trace.Trace) > 0 {
		trace.ID = float64(idSum) / float64(len(trace.Trace))
	}
	trace.CurLatency = latency
	return trace
}

func findCallbackByRclHandle(g *Graph, rclHandle uint64) (*CallbackInfo, bool) {
	for _, cb := range g.Callbacks {
		if cb.RclHandle == rclHandle {
			return cb, true
		}
	}
	return nil, false
}

// TimerTrace accumulates per-callback scheduling-to-start observations.
type TimerTrace struct {
	Pairs         []DurationSizePair
	ThroughputMap map[uint64]float64
	MinTime       float64
	MaxTime       float64

	schedVec []uint64
	queueVec []uint64
}

// DurationSizePair is one (duration, size) observation.
type DurationSizePair struct {
	Duration uint64
	Size     uint64
}

// BuildTimerTrace replays the trimmed timing slots for one callback through
// a sched/start/queue FIFO protocol: ExeRdy enqueues a scheduled time,
// ExeExe enqueues the in-flight queue size, and CbStart pairs one of each
// off their respective queues.
func BuildTimerTrace(trimmed []shm.TimeRecord, cbRclHandle uint64) *TimerTrace {
	tt := &TimerTrace{ThroughputMap: map[uint64]float64{}}
	for _, t := range trimmed {
		if t.Cb != cbRclHandle {
			continue
		}
		evt, ok := shm.ParseEventType(t.Flag)
		if !ok {
			continue
		}
		switch evt {
		case shm.EventExeRdy:
			tt.schedVec = append(tt.schedVec, t.Time)
		case shm.EventExeExe:
			tt.queueVec = append(tt.queueVec, t.MessageSize)
		case shm.EventCbStart:
			if len(tt.schedVec) > 0 && len(tt.queueVec) > 0 {
				sched := tt.schedVec[0]
				tt.schedVec = tt.schedVec[1:]
				qsize := tt.queueVec[0]
				tt.queueVec = tt.queueVec[1:]
				tt.Pairs = append(tt.Pairs, DurationSizePair{Duration: t.Time - sched, Size: qsize})
			}
		}
	}
	return tt
}

// TopicTrace accumulates per-(callback,subscription)-edge message transit
// observations.
type TopicTrace struct {
	Trace         []DurationSizePair
	ThroughputMap map[uint64]float64
	MinTime       float64
	MaxTime       float64
}

// BuildTopicTraces groups trimmed messages by (callback xor subscription)
// edge and appends (size, recv-send) to each edge's trace.
func BuildTopicTraces(msgs []shm.MsgRecord) map[uint64]*TopicTrace {
	out := map[uint64]*TopicTrace{}
	for _, m := range msgs {
		edge := m.Callback ^ m.Subscription
		tt, ok := out[edge]
		if !ok {
			tt = &TopicTrace{ThroughputMap: map[uint64]float64{}}
			out[edge] = tt
		}
		tt.Trace = append(tt.Trace, DurationSizePair{Duration: m.RecvTime - m.SendTime, Size: m.Size})
	}
	return out
}
