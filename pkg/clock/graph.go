package clock

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/golang/glog"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/regfield"
)

type entry struct {
	name     string
	node     Node
	children []NodeID
	hooks    Hooks
}

// RateListener is called for every observed rate change of a node that
// backs one or more outputs.
type RateListener func(output string, id NodeID, oldRate, newRate uint32)

// Graph is an arena of clock nodes sharing one register block. Nodes are
// added parents first, so the parent relation is acyclic by construction,
// and never removed. Only register contents change at runtime.
type Graph struct {
	// configMu serialises configure, off_on, set_rate and state application
	configMu sync.Mutex

	regs *regfield.Accessor
	opts Options

	nodes   []entry
	byName  map[string]NodeID
	outputs map[string]*Output

	obsMu     sync.Mutex
	observed  map[NodeID]uint32
	held      map[NodeID]string
	listeners []RateListener
}

// NewGraph returns an empty graph over regs.
func NewGraph(regs *regfield.Accessor, opts Options) *Graph {
	return &Graph{
		regs:     regs,
		opts:     opts,
		byName:   make(map[string]NodeID),
		outputs:  make(map[string]*Output),
		observed: make(map[NodeID]uint32),
		held:     make(map[NodeID]string),
	}
}

// Regs ...
func (g *Graph) Regs() *regfield.Accessor {
	return g.regs
}

// Options ...
func (g *Graph) Options() Options {
	return g.opts
}

// Add appends a node to the arena. Every parent must already be in the
// graph (or be NoNode).
func (g *Graph) Add(name string, n Node) (NodeID, error) {
	if name == "" {
		return NoNode, fmt.Errorf("node name is empty: %w", ErrInvalidArgument)
	}
	if _, ok := g.byName[name]; ok {
		return NoNode, fmt.Errorf("node %s already defined: %w", name, ErrInvalidArgument)
	}
	id := NodeID(len(g.nodes))
	for _, p := range n.Parents() {
		if p == NoNode {
			continue
		}
		if p < 0 || p >= id {
			return NoNode, fmt.Errorf("node %s: parent %d is not defined yet: %w", name, p, ErrInvalidArgument)
		}
	}
	g.nodes = append(g.nodes, entry{name: name, node: n})
	g.byName[name] = id
	seen := map[NodeID]bool{}
	for _, p := range n.Parents() {
		if p == NoNode || seen[p] {
			continue
		}
		seen[p] = true
		g.nodes[p].children = append(g.nodes[p].children, id)
	}
	glog.V(4).Infof("clock graph: added node %d %s (%T)", id, name, n)
	return id, nil
}

// MustAdd is Add for statically known topologies.
func (g *Graph) MustAdd(name string, n Node) NodeID {
	id, err := g.Add(name, n)
	if err != nil {
		panic(err)
	}
	return id
}

// SetHooks registers before/after hooks for the state steps of id.
func (g *Graph) SetHooks(id NodeID, h Hooks) error {
	if !g.valid(id) {
		return fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	g.nodes[id].hooks = h
	return nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Lookup returns the id of the named node.
func (g *Graph) Lookup(name string) (NodeID, bool) {
	id, ok := g.byName[name]
	return id, ok
}

// Name returns the name of id, or "<none>".
func (g *Graph) Name(id NodeID) string {
	if !g.valid(id) {
		return "<none>"
	}
	return g.nodes[id].name
}

// Node returns the node stored at id.
func (g *Graph) Node(id NodeID) Node {
	if !g.valid(id) {
		return nil
	}
	return g.nodes[id].node
}

// Children returns the nodes having id as a parent.
func (g *Graph) Children(id NodeID) []NodeID {
	if !g.valid(id) {
		return nil
	}
	return g.nodes[id].children
}

// Roots returns the rate sources of the graph.
func (g *Graph) Roots() []NodeID {
	var roots []NodeID
	for i, e := range g.nodes {
		if len(e.node.Parents()) == 0 {
			roots = append(roots, NodeID(i))
		}
	}
	return roots
}

func (g *Graph) valid(id NodeID) bool {
	return id >= 0 && int(id) < len(g.nodes)
}

// Rate resolves the current rate of id by walking up its parent chain.
// Nothing is cached: every call reads the registers again. 0 means off.
func (g *Graph) Rate(id NodeID) uint32 {
	if !g.valid(id) {
		return 0
	}
	return g.nodes[id].node.GetRate(g)
}

// GetRate returns the rate of the named output, 0 if it is unknown or off.
func (g *Graph) GetRate(output string) uint32 {
	o, ok := g.outputs[output]
	if !ok {
		return 0
	}
	return g.Rate(o.Node)
}

// Configure passes value to the configure capability of id.
func (g *Graph) Configure(ctx context.Context, id NodeID, value uint32) error {
	g.configMu.Lock()
	defer g.configMu.Unlock()
	return g.runStep(ctx, Step{Node: id, Action: ActionConfigure, Value: value})
}

// OffOn turns id off or on.
func (g *Graph) OffOn(ctx context.Context, id NodeID, on bool) error {
	g.configMu.Lock()
	defer g.configMu.Unlock()
	a := ActionDisable
	if on {
		a = ActionEnable
	}
	return g.runStep(ctx, Step{Node: id, Action: a})
}

// RoundRate returns the rate id would produce for a set-rate request.
func (g *Graph) RoundRate(id NodeID, rate uint32) (uint32, error) {
	if !g.opts.SetRate {
		return 0, fmt.Errorf("round rate of %s: %w", g.Name(id), ErrNotSupported)
	}
	if !g.valid(id) {
		return 0, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	r, ok := g.nodes[id].node.(Rounder)
	if !ok {
		return 0, fmt.Errorf("round rate of %s: %w", g.Name(id), ErrNotSupported)
	}
	return r.RoundRate(g, rate), nil
}

// SetRate asks id to produce rate and returns the rate it settled on.
func (g *Graph) SetRate(ctx context.Context, id NodeID, rate uint32) (uint32, error) {
	if !g.opts.SetRate {
		return 0, fmt.Errorf("set rate of %s: %w", g.Name(id), ErrNotSupported)
	}
	g.configMu.Lock()
	defer g.configMu.Unlock()
	if !g.valid(id) {
		return 0, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	s, ok := g.nodes[id].node.(RateSetter)
	if !ok {
		return 0, fmt.Errorf("set rate of %s: %w", g.Name(id), ErrNotSupported)
	}
	if err := g.preChange(id, rate); err != nil {
		return 0, fmt.Errorf("set rate of %s: %w", g.Name(id), err)
	}
	got, err := s.SetRate(ctx, g, rate)
	if err != nil {
		return 0, fmt.Errorf("set rate of %s: %w", g.Name(id), err)
	}
	g.changed(id)
	return got, nil
}

// runStep executes one step, capability checks included. The caller holds
// configMu.
func (g *Graph) runStep(ctx context.Context, s Step) error {
	if !g.valid(s.Node) {
		return fmt.Errorf("node %d: %w", s.Node, ErrNotFound)
	}
	n := g.nodes[s.Node].node
	if err := g.preChange(s.Node, 0); err != nil {
		return err
	}

	var err error
	switch s.Action {
	case ActionConfigure:
		c, ok := n.(Configurer)
		if !ok {
			return fmt.Errorf("configure %s: %w", g.Name(s.Node), ErrNotSupported)
		}
		err = c.Configure(ctx, g, s.Value)
	case ActionEnable, ActionDisable:
		sw, ok := n.(Switcher)
		if !ok {
			return fmt.Errorf("%s %s: %w", s.Action, g.Name(s.Node), ErrNotSupported)
		}
		err = sw.OffOn(ctx, g, s.Action == ActionEnable)
	default:
		return fmt.Errorf("unknown action %d: %w", s.Action, ErrInvalidArgument)
	}
	if err != nil {
		return err
	}
	g.changed(s.Node)
	return nil
}

// Outputs returns the output names in lexical order.
func (g *Graph) Outputs() []string {
	names := make([]string, 0, len(g.outputs))
	for n := range g.outputs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
