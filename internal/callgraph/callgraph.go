// Package callgraph merges shared-memory snapshots into a persistent graph
// of nodes and callbacks, and derives per-input traces from the timing
// ring.
package callgraph

import (
	"hash/fnv"

	"github.com/midfuzz/midfuzz/internal/shm"
)

// CbType mirrors shm.CbType plus the synthetic "Other" fallback, which is
// never stored in the graph.
type CbType int

const (
	CbSub CbType = iota
	CbPub
	CbSrv
	CbCli
	CbTimer
	CbOther
)

// syntheticNodeName is the owner attributed to callbacks whose node_handle
// does not resolve to a known node.
const syntheticNodeName = "ros2cli"

// CallbackInfo is one callback's identity and accumulated timing.
type CallbackInfo struct {
	ID             uint64
	RclHandle      uint64
	RclcppHandle   uint64
	RclcppHandle1  uint64
	RmwHandle      uint64
	Period         uint64
	PID            uint64
	NodeHandle     uint64
	NodeName       string
	CbName         string
	ItfName        string
	CbType         CbType

	InvokeTime []uint64
	StartTime  []uint64
	EndTime    []uint64
	Duration   uint64
}

// callbackID computes a stable id: hash(node_name ⊕ cb_name ⊕
// function_symbol) + cb_type.
func callbackID(nodeName, cbName, functionSymbol string, cbType CbType) uint64 {
	h := fnv.New64a()
	h.Write([]byte(nodeName))
	h.Write([]byte(cbName))
	h.Write([]byte(functionSymbol))
	return h.Sum64() + uint64(cbType)
}

func shmCbType(t shm.CbType) CbType {
	switch t {
	case shm.CbSub:
		return CbSub
	case shm.CbPub:
		return CbPub
	case shm.CbSrv:
		return CbSrv
	case shm.CbCli:
		return CbCli
	case shm.CbTimer:
		return CbTimer
	default:
		return CbOther
	}
}

// NodeEntry is one node slot's canonicalized record.
type NodeEntry struct {
	Handle uint64
	Name   string
	PID    uint64
}

// Graph is the persistent, arena-style DAG: nodes own callbacks by stable
// id, callbacks reference their owning node by handle — no pointer cycles.
type Graph struct {
	Nodes     map[string]*NodeEntry // canonical short name -> entry
	Callbacks map[uint64]*CallbackInfo
	// handleToNode resolves a callback's node_handle to the owning node's
	// canonical name, populated as node slots are ingested.
	handleToNode map[uint64]string
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		Nodes:        map[string]*NodeEntry{},
		Callbacks:    map[uint64]*CallbackInfo{},
		handleToNode: map[uint64]string{},
	}
}

// shortName returns the canonical map key for a raw node name. It returns
// the name unchanged: no trimming, case folding, or namespace joining.
func shortName(name string) string {
	return name
}

// UpdateCallbackInfo walks the latest nodes and callbacks snapshots and
// upserts the graph.
func (g *Graph) UpdateCallbackInfo(nodes []shm.NodeRecord, callbacks []shm.CallbackRecord) {
	for _, n := range nodes {
		if n.Handle == 0 {
			continue
		}
		key := shortName(n.Name)
		g.Nodes[key] = &NodeEntry{Handle: n.Handle, Name: key, PID: n.PID}
		g.handleToNode[n.Handle] = key
	}

	for _, cb := range callbacks {
		nodeName, ok := g.handleToNode[cb.NodeHandle]
		if !ok {
			nodeName = syntheticNodeName
		}
		cbType := shmCbType(cb.CbType)
		id := callbackID(nodeName, cb.CbName, cb.FunctionSymbol, cbType)
		candidate := &CallbackInfo{
			ID:            id,
			RclHandle:     cb.RclHandle,
			RclcppHandle:  cb.RclcppHandle,
			RclcppHandle1: cb.RclcppHandle1,
			RmwHandle:     cb.RmwHandle,
			Period:        cb.Period,
			PID:           cb.PID,
			NodeHandle:    cb.NodeHandle,
			NodeName:      nodeName,
			CbName:        cb.CbName,
			CbType:        cbType,
		}
		if !ValidCallback(candidate) {
			continue
		}
		existing, ok := g.Callbacks[id]
		if !ok {
			g.Callbacks[id] = candidate
			continue
		}
		if existing.PID != cb.PID {
			// a new process reused the slot: replace outright.
			g.Callbacks[id] = candidate
			continue
		}
		existing.RclcppHandle = cb.RclcppHandle
		existing.RclcppHandle1 = cb.RclcppHandle1
		existing.RmwHandle = cb.RmwHandle
		existing.Period = cb.Period
	}
}

// ValidCallback reports whether a stored callback has non-zero rcl/node
// handles and a resolved (non-Other) type.
func ValidCallback(c *CallbackInfo) bool {
	return c.RclHandle != 0 && c.NodeHandle != 0 && c.CbType != CbOther
}
