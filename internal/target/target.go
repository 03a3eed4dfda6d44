// Package target models the discovered runtime surface of a middleware
// install: its live nodes and their topic, service, action, and parameter
// endpoints.
package target

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/midfuzz/midfuzz/internal/schema"
)

// ParamDescriptor describes one discovered parameter: its declared type, an
// optional numeric range, and whether it is excluded from mutation.
type ParamDescriptor struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	ReadOnly bool     `json:"read_only"`
}

// Endpoint pairs a discovered interface name with its constructed value
// template.
type Endpoint struct {
	Name string
	Tmpl *schema.InterfaceVal
}

// EndpointKind enumerates the four callable endpoint kinds a node can host.
type EndpointKind int

const (
	KindTopic EndpointKind = iota
	KindService
	KindAction
	KindParam
)

// Node is one middleware node record: the endpoints it hosts across the
// four kinds, and its parameter descriptors. Subscribers/Publishers/etc are
// multimaps because one name may legally host multiple typed endpoints.
type Node struct {
	Name string

	Subscribers     map[string][]Endpoint
	Publishers      map[string][]Endpoint
	ServiceServers  map[string][]Endpoint
	ServiceClients  map[string][]Endpoint
	ActionServers   map[string][]Endpoint
	ActionClients   map[string][]Endpoint
	Params          map[string]ParamDescriptor
}

func newNode(name string) *Node {
	return &Node{
		Name:            name,
		Subscribers:     map[string][]Endpoint{},
		Publishers:      map[string][]Endpoint{},
		ServiceServers:  map[string][]Endpoint{},
		ServiceClients:  map[string][]Endpoint{},
		ActionServers:   map[string][]Endpoint{},
		ActionClients:   map[string][]Endpoint{},
		Params:          map[string]ParamDescriptor{},
	}
}

// HasCallableEndpoint reports whether the node hosts at least one endpoint
// across any of the four kinds, including mutable (non-read-only)
// parameters.
func (n *Node) HasCallableEndpoint() bool {
	if len(n.Subscribers) > 0 || len(n.ServiceServers) > 0 || len(n.ActionServers) > 0 {
		return true
	}
	for _, p := range n.Params {
		if !p.ReadOnly {
			return true
		}
	}
	return false
}

// NonEmptyKinds returns the endpoint kinds this node can currently serve a
// candidate for.
func (n *Node) NonEmptyKinds() []EndpointKind {
	var kinds []EndpointKind
	if len(n.Subscribers) > 0 {
		kinds = append(kinds, KindTopic)
	}
	if len(n.ServiceServers) > 0 {
		kinds = append(kinds, KindService)
	}
	if len(n.ActionServers) > 0 {
		kinds = append(kinds, KindAction)
	}
	for _, p := range n.Params {
		if !p.ReadOnly {
			kinds = append(kinds, KindParam)
			break
		}
	}
	return kinds
}

// nodeCacheRecord is the persisted form of a Node written to sys/node.json,
// one JSON object per line.
type nodeCacheRecord struct {
	Name           string                     `json:"name"`
	Subscribers    map[string]string          `json:"subscribers"`     // topic -> itf_type
	Publishers     map[string]string          `json:"publishers"`
	ServiceServers map[string]string          `json:"service_servers"`
	ServiceClients map[string]string          `json:"service_clients"`
	ActionServers  map[string]string          `json:"action_servers"`
	ActionClients  map[string]string          `json:"action_clients"`
	Params         map[string]ParamDescriptor `json:"params"`
}

// Target is the discovered surface of one middleware install: its nodes,
// catalogs, and the shared-memory directory the instrumented runtime writes
// telemetry into.
type Target struct {
	LaunchFile string
	Nodes      []*Node
	Catalog    *schema.Catalog
	ShmDir     string
	PID        int

	// BannedParams is the set of read-only parameter keys ("node/param")
	// excluded from mutation, persisted alongside the node cache.
	BannedParams map[string]bool
}

// New creates an empty Target against the given catalogs.
func New(launchFile, shmDir string, cat *schema.Catalog) *Target {
	return &Target{
		LaunchFile:   launchFile,
		Catalog:      cat,
		ShmDir:       shmDir,
		BannedParams: map[string]bool{},
	}
}

// NodeByName returns the cached node with the given name, if any.
func (t *Target) NodeByName(name string) (*Node, bool) {
	for _, n := range t.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return nil, false
}

// CallableNodes returns every node that currently hosts at least one
// callable endpoint.
func (t *Target) CallableNodes() []*Node {
	var out []*Node
	for _, n := range t.Nodes {
		if n.HasCallableEndpoint() {
			out = append(out, n)
		}
	}
	return out
}

// NodeNames returns the live node names, used for the schema's run-time
// "node" field substitution.
func (t *Target) NodeNames() []string {
	names := make([]string, len(t.Nodes))
	for i, n := range t.Nodes {
		names[i] = n.Name
	}
	return names
}

// nodeCachePath returns the path to the append-only node cache under the
// install directory.
func nodeCachePath(installDir string) string {
	return filepath.Join(installDir, "sys", "node.json")
}

// LoadNodeCache replays sys/node.json, appending cached nodes to the target
// and marking their read-only parameters banned, so re-discovery only
// covers unseen nodes. Every persisted endpoint type is rebuilt into a
// fresh value template via the catalog, the same way first-boot discovery
// builds them, so cache-reloaded nodes remain fully callable across runs.
func (t *Target) LoadNodeCache(installDir string, rng *rand.Rand) error {
	path := nodeCachePath(installDir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("target: read node cache: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var rec nodeCacheRecord
		if err := dec.Decode(&rec); err != nil {
			break
		}
		n := newNode(rec.Name)
		attachEndpoints(rng, t.Catalog, n.Subscribers, rec.Subscribers)
		attachEndpoints(rng, t.Catalog, n.Publishers, rec.Publishers)
		attachEndpoints(rng, t.Catalog, n.ServiceServers, rec.ServiceServers)
		attachEndpoints(rng, t.Catalog, n.ServiceClients, rec.ServiceClients)
		attachEndpoints(rng, t.Catalog, n.ActionServers, rec.ActionServers)
		attachEndpoints(rng, t.Catalog, n.ActionClients, rec.ActionClients)
		for name, p := range rec.Params {
			n.Params[name] = p
			if p.ReadOnly {
				t.BannedParams[rec.Name+"/"+name] = true
			}
		}
		t.Nodes = append(t.Nodes, n)
	}
	return nil
}

// AppendNodeCache appends newly discovered nodes to sys/node.json, one JSON
// object per line.
func (t *Target) AppendNodeCache(installDir string, nodes []*Node) error {
	if len(nodes) == 0 {
		return nil
	}
	path := nodeCachePath(installDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("target: mkdir sys dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("target: open node cache: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, n := range nodes {
		rec := nodeCacheRecord{
			Name:           n.Name,
			Subscribers:    namesOf(n.Subscribers),
			Publishers:     namesOf(n.Publishers),
			ServiceServers: namesOf(n.ServiceServers),
			ServiceClients: namesOf(n.ServiceClients),
			ActionServers:  namesOf(n.ActionServers),
			ActionClients:  namesOf(n.ActionClients),
			Params:         n.Params,
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("target: append node cache: %w", err)
		}
	}
	return nil
}

func namesOf(m map[string][]Endpoint) map[string]string {
	out := make(map[string]string, len(m))
	for k, eps := range m {
		if len(eps) > 0 && eps[0].Tmpl != nil {
			out[k] = eps[0].Tmpl.ItfType
		} else {
			out[k] = ""
		}
	}
	return out
}
