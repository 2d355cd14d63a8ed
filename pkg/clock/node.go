package clock

import (
	"context"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/regfield"
)

// NodeID identifies a node inside a Graph arena.
type NodeID int

// NoNode marks an absent input, e.g. a reserved mux slot.
const NoNode NodeID = -1

// Options are the engine-wide switches.
type Options struct {
	// StrictAsserts turns precondition violations into panics.
	StrictAsserts bool
	// RuntimeNotify enables the change notification mesh.
	RuntimeNotify bool
	// SetRate enables the round-rate / set-rate capabilities.
	SetRate bool
	// EnforceInactive makes nodes that cannot be safely reprogrammed while
	// running (PLL stages) reject configure with ErrBusy when enabled.
	EnforceInactive bool
}

// Env is what a node sees of the graph it belongs to.
type Env interface {
	// Regs returns the accessor of the register block shared by all nodes.
	Regs() *regfield.Accessor
	// Rate resolves the rate of another node. NoNode resolves to 0.
	Rate(id NodeID) uint32
	Options() Options
}

// Node is the mandatory capability: every node can report its rate.
// Nodes without parents are rate sources and must not call env.Rate.
type Node interface {
	Parents() []NodeID
	GetRate(env Env) uint32
}

// Configurer is implemented by nodes accepting a node-specific encoded value.
type Configurer interface {
	Configure(ctx context.Context, env Env, value uint32) error
}

// Switcher is implemented by nodes that can be turned off and on.
type Switcher interface {
	OffOn(ctx context.Context, env Env, on bool) error
}

// Rounder is implemented by nodes that can tell the closest rate they can
// produce for a request.
type Rounder interface {
	RoundRate(env Env, rate uint32) uint32
}

// RateSetter is implemented by nodes that can reprogram themselves to
// produce a requested rate. It returns the resulting rate.
type RateSetter interface {
	SetRate(ctx context.Context, env Env, rate uint32) (uint32, error)
}

// Notifiee is implemented by nodes taking part in the change notification
// mesh. Notify is called when the rate of parent changes (or is about to);
// it reports whether the node's own rate depends on that parent right now.
// A node may refuse an EventPreChange by returning ErrBusy.
type Notifiee interface {
	Notify(env Env, parent NodeID, ev Event) (bool, error)
}

// FollowsParent is embedded by nodes whose rate always derives from their
// parent(s), making every parent change relevant to them.
type FollowsParent struct{}

// Notify ...
func (FollowsParent) Notify(Env, NodeID, Event) (bool, error) {
	return true, nil
}

// EventKind is the kind of a rate-change notification.
type EventKind int

const (
	// EventQuery informs that a rate has already changed. It cannot be refused.
	EventQuery EventKind = iota
	// EventPreChange announces a change that has not been committed yet.
	EventPreChange
)

func (k EventKind) String() string {
	switch k {
	case EventQuery:
		return "query"
	case EventPreChange:
		return "pre-change"
	}
	return "unknown"
}

// Event describes a rate change of the notifying node. NewRate is 0 for
// pre-change events whose outcome is not known in advance.
type Event struct {
	Kind    EventKind
	OldRate uint32
	NewRate uint32
}

// View is the read-only side of a Graph.
type View interface {
	Name(id NodeID) string
	Rate(id NodeID) uint32
	GetRate(output string) uint32
}

// Hook is run around the state step of a node. It runs while the graph
// configuration lock is held, so it only gets a View of the graph.
type Hook func(ctx context.Context, v View, step Step) error

// Hooks holds the optional before/after hooks of a node.
type Hooks struct {
	Before Hook
	After  Hook
}
