package clock

import (
	"context"
	"fmt"

	"github.com/golang/glog"
)

// Action is what a state step does to its node.
type Action int

const (
	// ActionConfigure passes the step value to the node's configure.
	ActionConfigure Action = iota
	// ActionEnable turns the node on.
	ActionEnable
	// ActionDisable turns the node off.
	ActionDisable
)

func (a Action) String() string {
	switch a {
	case ActionConfigure:
		return "configure"
	case ActionEnable:
		return "enable"
	case ActionDisable:
		return "disable"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction is the inverse of Action.String.
func ParseAction(s string) (Action, error) {
	switch s {
	case "", "configure":
		return ActionConfigure, nil
	case "enable", "on":
		return ActionEnable, nil
	case "disable", "off":
		return ActionDisable, nil
	}
	return 0, fmt.Errorf("unknown action %q: %w", s, ErrInvalidArgument)
}

// Step is one (node, value) pair of a clock state.
type Step struct {
	Node   NodeID
	Action Action
	Value  uint32
}

// State is a named, ordered configuration recipe. The order of the steps is
// the order in which the hardware must be programmed.
type State struct {
	Name  string
	Steps []Step
}

// Output is a consumer-facing reference to a node, with the states that
// can be applied through it.
type Output struct {
	Name   string
	Node   NodeID
	States []State
}

// State returns the named state of the output.
func (o *Output) State(name string) (*State, bool) {
	for i := range o.States {
		if o.States[i].Name == name {
			return &o.States[i], true
		}
	}
	return nil, false
}

// AddOutput registers an output. States may only reference existing nodes.
func (g *Graph) AddOutput(o Output) error {
	if o.Name == "" {
		return fmt.Errorf("output name is empty: %w", ErrInvalidArgument)
	}
	if _, ok := g.outputs[o.Name]; ok {
		return fmt.Errorf("output %s already defined: %w", o.Name, ErrInvalidArgument)
	}
	if !g.valid(o.Node) {
		return fmt.Errorf("output %s: node %d: %w", o.Name, o.Node, ErrNotFound)
	}
	names := map[string]bool{}
	for _, s := range o.States {
		if names[s.Name] {
			return fmt.Errorf("output %s: state %s defined twice: %w", o.Name, s.Name, ErrInvalidArgument)
		}
		names[s.Name] = true
		for i, st := range s.Steps {
			if !g.valid(st.Node) {
				return fmt.Errorf("output %s state %s step %d: node %d: %w", o.Name, s.Name, i, st.Node, ErrNotFound)
			}
		}
	}
	out := o
	g.outputs[o.Name] = &out
	return nil
}

// Output returns the named output.
func (g *Graph) Output(name string) (*Output, bool) {
	o, ok := g.outputs[name]
	return o, ok
}

// ApplyState programs every step of state in order. It stops at the first
// failing step and returns its error wrapped with the step position; steps
// already applied are not rolled back.
func (g *Graph) ApplyState(ctx context.Context, output, state string) error {
	o, ok := g.outputs[output]
	if !ok {
		return fmt.Errorf("output %s: %w", output, ErrNotFound)
	}
	s, ok := o.State(state)
	if !ok {
		return fmt.Errorf("output %s state %s: %w", output, state, ErrNotFound)
	}

	g.configMu.Lock()
	defer g.configMu.Unlock()

	glog.Infof("applying clock state %s/%s (%d steps)", output, state, len(s.Steps))
	for i, step := range s.Steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("state %s/%s step %d: %w", output, state, i, err)
		}
		if err := g.applyStep(ctx, step); err != nil {
			return fmt.Errorf("state %s/%s step %d (%s %s=%d): %w",
				output, state, i, step.Action, g.Name(step.Node), step.Value, err)
		}
	}
	glog.Infof("clock state %s/%s applied, %s=%d Hz", output, state, output, g.Rate(o.Node))
	return nil
}

// graphView hides everything but the reads of a Graph.
type graphView struct {
	g *Graph
}

func (v graphView) Name(id NodeID) string        { return v.g.Name(id) }
func (v graphView) Rate(id NodeID) uint32        { return v.g.Rate(id) }
func (v graphView) GetRate(output string) uint32 { return v.g.GetRate(output) }

func (g *Graph) applyStep(ctx context.Context, step Step) error {
	h := g.nodes[step.Node].hooks
	if h.Before != nil {
		if err := h.Before(ctx, graphView{g}, step); err != nil {
			return fmt.Errorf("before hook: %w", err)
		}
	}
	glog.V(2).Infof("clock step: %s %s value=%d", step.Action, g.Name(step.Node), step.Value)
	if err := g.runStep(ctx, step); err != nil {
		return err
	}
	if h.After != nil {
		if err := h.After(ctx, graphView{g}, step); err != nil {
			return fmt.Errorf("after hook: %w", err)
		}
	}
	return nil
}
