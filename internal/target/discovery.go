package target

import (
	"bufio"
	"context"
	"math/rand"
	"os/exec"
	"strconv"
	"strings"

	"github.com/midfuzz/midfuzz/internal/schema"
)

// CLI is the subset of the middleware's command-line tool discovery needs:
// listing live node names and interrogating one node's parameter and
// endpoint surface. Implemented against the real tool via exec.Command;
// abstracted as an interface so a fake can stand in for the real tool.
type CLI interface {
	ListNodes(ctx context.Context) ([]string, error)
	NodeInfo(ctx context.Context, node string) (NodeInfo, error)
}

// NodeInfo is the raw interrogation result for one node, before templates
// are built from it.
type NodeInfo struct {
	Subscribers    map[string]string // topic -> itf_type
	Publishers     map[string]string
	ServiceServers map[string]string
	ServiceClients map[string]string
	ActionServers  map[string]string
	ActionClients  map[string]string
	Params         []ParamDescriptor
}

// execCLI shells out to the installed middleware command-line tool.
type execCLI struct {
	binary string
}

// NewExecCLI returns a CLI backed by the named executable (e.g. the
// middleware's own "ros2"-equivalent launcher).
func NewExecCLI(binary string) CLI {
	return &execCLI{binary: binary}
}

func (c *execCLI) ListNodes(ctx context.Context) ([]string, error) {
	out, err := exec.CommandContext(ctx, c.binary, "node", "list").Output()
	if err != nil {
		return nil, err
	}
	var names []string
	sc := bufio.NewScanner(strings.NewReader(string(out)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

func (c *execCLI) NodeInfo(ctx context.Context, node string) (NodeInfo, error) {
	info := NodeInfo{
		Subscribers:    map[string]string{},
		Publishers:     map[string]string{},
		ServiceServers: map[string]string{},
		ServiceClients: map[string]string{},
		ActionServers:  map[string]string{},
		ActionClients:  map[string]string{},
	}
	out, err := exec.CommandContext(ctx, c.binary, "node", "info", node).Output()
	if err != nil {
		return info, err
	}
	parseNodeInfo(string(out), &info)

	out, err = exec.CommandContext(ctx, c.binary, "param", "list", node, "--no-daemon").Output()
	if err != nil {
		return info, nil // a node without parameters is not an error
	}
	paramNames := splitLines(string(out))
	for _, pname := range paramNames {
		descOut, err := exec.CommandContext(ctx, c.binary, "param", "describe", node, pname).Output()
		if err != nil {
			continue
		}
		info.Params = append(info.Params, parseParamDescribe(pname, string(descOut)))
	}
	return info, nil
}

// parseNodeInfo parses the "Subscribers:\n  /topic: pkg/msg/Type\n..."
// section layout the middleware's node-info subcommand emits.
func parseNodeInfo(out string, info *NodeInfo) {
	var current map[string]string
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "Subscribers:"):
			current = info.Subscribers
			continue
		case strings.HasPrefix(trimmed, "Publishers:"):
			current = info.Publishers
			continue
		case strings.HasPrefix(trimmed, "Service Servers:"):
			current = info.ServiceServers
			continue
		case strings.HasPrefix(trimmed, "Service Clients:"):
			current = info.ServiceClients
			continue
		case strings.HasPrefix(trimmed, "Action Servers:"):
			current = info.ActionServers
			continue
		case strings.HasPrefix(trimmed, "Action Clients:"):
			current = info.ActionClients
			continue
		}
		if current == nil || trimmed == "" {
			continue
		}
		name, typ, ok := strings.Cut(trimmed, ":")
		if !ok {
			continue
		}
		current[strings.TrimSpace(name)] = strings.TrimSpace(typ)
	}
}

func splitLines(s string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// parseParamDescribe parses a "Type: double\n Min Value: 0.0\n Max Value:
// 10.0\n Read only: True" style descriptor block.
func parseParamDescribe(name, out string) ParamDescriptor {
	desc := ParamDescriptor{Name: name}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		switch k {
		case "type":
			desc.Type = v
		case "min value":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				desc.Min = &f
			}
		case "max value":
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				desc.Max = &f
			}
		case "read only", "read_only":
			desc.ReadOnly = strings.EqualFold(v, "true") || v == "1"
		}
	}
	return desc
}

// skipParam reports whether a parameter name is excluded from discovery by
// the blanket "qos"/"use_sim_time" filter.
func skipParam(name string) bool {
	return strings.Contains(name, "qos") || strings.Contains(name, "use_sim_time")
}

// Discover performs first-boot target discovery: it enumerates live nodes,
// skips those already present in the node cache, interrogates each new
// node's endpoints and parameters, builds value templates for every
// endpoint via the schema package, and returns the newly discovered nodes
// for the caller to append to the persistent cache.
func Discover(ctx context.Context, cli CLI, t *Target, rng *rand.Rand) ([]*Node, error) {
	names, err := cli.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	var fresh []*Node
	for _, name := range names {
		if _, cached := t.NodeByName(name); cached {
			continue
		}
		info, err := cli.NodeInfo(ctx, name)
		if err != nil {
			continue
		}
		n := newNode(name)
		attachEndpoints(rng, t.Catalog, n.Subscribers, info.Subscribers)
		attachEndpoints(rng, t.Catalog, n.Publishers, info.Publishers)
		attachEndpoints(rng, t.Catalog, n.ServiceServers, info.ServiceServers)
		attachEndpoints(rng, t.Catalog, n.ServiceClients, info.ServiceClients)
		attachEndpoints(rng, t.Catalog, n.ActionServers, info.ActionServers)
		attachEndpoints(rng, t.Catalog, n.ActionClients, info.ActionClients)

		for _, p := range info.Params {
			if skipParam(p.Name) {
				continue
			}
			n.Params[p.Name] = p
			if p.ReadOnly {
				t.BannedParams[name+"/"+p.Name] = true
			}
		}

		t.Nodes = append(t.Nodes, n)
		fresh = append(fresh, n)
	}
	return fresh, nil
}

func attachEndpoints(rng *rand.Rand, cat *schema.Catalog, dst map[string][]Endpoint, src map[string]string) {
	for name, itfType := range src {
		tmpl, ok := schema.ConstructValueTemplate(rng, cat, itfType)
		if !ok {
			continue
		}
		dst[name] = append(dst[name], Endpoint{Name: name, Tmpl: tmpl})
	}
}
