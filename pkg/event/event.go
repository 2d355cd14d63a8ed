// Package event publishes clock output changes to external subscribers.
package event

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock"
)

// AllOutputs is the topic of subscribers interested in every output.
const AllOutputs = "*"

// Kind of a RateEvent
type Kind int

const (
	// RateChanged is sent when the rate of an output node changed.
	RateChanged Kind = iota
	// StateApplied is sent after a state was applied to an output.
	StateApplied
	// StateFailed is sent when applying a state failed.
	StateFailed
)

func (k Kind) String() string {
	switch k {
	case RateChanged:
		return "RateChanged"
	case StateApplied:
		return "StateApplied"
	case StateFailed:
		return "StateFailed"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// RateEvent ...
type RateEvent struct {
	Output  string
	Node    string
	Kind    Kind
	State   string
	OldRate uint32
	NewRate uint32
	Err     error
}

func (e RateEvent) String() string {
	switch e.Kind {
	case RateChanged:
		return fmt.Sprintf("%s (%s): %d -> %d Hz", e.Output, e.Node, e.OldRate, e.NewRate)
	case StateFailed:
		return fmt.Sprintf("%s: state %s failed: %v", e.Output, e.State, e.Err)
	}
	return fmt.Sprintf("%s: state %s applied, %d Hz", e.Output, e.State, e.NewRate)
}

// Attach publishes the rate changes observed on g. Rate changes are only
// observed when the graph runs with runtime notifications.
func (n *StateNotifier) Attach(g *clock.Graph) {
	if !g.Options().RuntimeNotify {
		glog.Warning("runtime notifications are disabled, rate change events will not be published")
	}
	g.OnRateChange(func(output string, id clock.NodeID, oldRate, newRate uint32) {
		n.Publish(RateEvent{
			Output:  output,
			Node:    g.Name(id),
			Kind:    RateChanged,
			OldRate: oldRate,
			NewRate: newRate,
		})
	})
}

// ApplyState applies state to output and publishes the outcome.
func (n *StateNotifier) ApplyState(apply func() error, g *clock.Graph, output, state string) error {
	err := apply()
	ev := RateEvent{Output: output, State: state, NewRate: g.GetRate(output), Kind: StateApplied}
	if o, ok := g.Output(output); ok {
		ev.Node = g.Name(o.Node)
	}
	if err != nil {
		ev.Kind = StateFailed
		ev.Err = err
	}
	n.Publish(ev)
	return err
}
