package clock

import (
	"fmt"

	"github.com/golang/glog"
)

// OnRateChange registers a listener for observed rate changes of output
// nodes. Listeners run synchronously on the configuring goroutine.
func (g *Graph) OnRateChange(l RateListener) {
	g.obsMu.Lock()
	defer g.obsMu.Unlock()
	g.listeners = append(g.listeners, l)
}

// Hold pins the rate of id on behalf of owner: while held, any change that
// would reach id is refused with ErrBusy. Only enforced with RuntimeNotify.
func (g *Graph) Hold(id NodeID, owner string) error {
	if !g.valid(id) {
		return fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	g.obsMu.Lock()
	defer g.obsMu.Unlock()
	if cur, ok := g.held[id]; ok && cur != owner {
		return fmt.Errorf("%s already held by %s: %w", g.Name(id), cur, ErrBusy)
	}
	g.held[id] = owner
	return nil
}

// Release drops a hold taken with Hold.
func (g *Graph) Release(id NodeID) {
	g.obsMu.Lock()
	defer g.obsMu.Unlock()
	delete(g.held, id)
}

// HeldBy returns the owner of the hold on id, if any.
func (g *Graph) HeldBy(id NodeID) (string, bool) {
	g.obsMu.Lock()
	defer g.obsMu.Unlock()
	owner, ok := g.held[id]
	return owner, ok
}

// Observed returns the last rate the mesh recorded for id.
func (g *Graph) Observed(id NodeID) (uint32, bool) {
	g.obsMu.Lock()
	defer g.obsMu.Unlock()
	r, ok := g.observed[id]
	return r, ok
}

// Refresh records the current rate of every node, publishing the output
// changes since the previous observation.
func (g *Graph) Refresh() {
	for i := range g.nodes {
		id := NodeID(i)
		g.observe(id, g.Rate(id))
	}
}

// observe records rate as the observed rate of id and returns the previous
// observation.
func (g *Graph) observe(id NodeID, rate uint32) (uint32, bool) {
	g.obsMu.Lock()
	old, known := g.observed[id]
	g.observed[id] = rate
	listeners := g.listeners
	g.obsMu.Unlock()

	if (known && old == rate) || (!known && rate == 0) {
		return old, false
	}
	for name, o := range g.outputs {
		if o.Node != id {
			continue
		}
		for _, l := range listeners {
			l(name, id, old, rate)
		}
	}
	return old, true
}

// preChange announces an upcoming change of id to its consumers, which may
// refuse it.
func (g *Graph) preChange(id NodeID, newRate uint32) error {
	if !g.opts.RuntimeNotify {
		return nil
	}
	if owner, ok := g.HeldBy(id); ok {
		return fmt.Errorf("%s held by %s: %w", g.Name(id), owner, ErrBusy)
	}
	return g.preChangeChildren(id, Event{Kind: EventPreChange, OldRate: g.Rate(id), NewRate: newRate})
}

func (g *Graph) preChangeChildren(id NodeID, ev Event) error {
	for _, c := range g.nodes[id].children {
		n, ok := g.nodes[c].node.(Notifiee)
		if !ok {
			continue
		}
		affected, err := n.Notify(g, id, ev)
		if err != nil {
			return fmt.Errorf("%s refused change of %s: %w", g.Name(c), g.Name(id), err)
		}
		if !affected {
			continue
		}
		if owner, ok := g.HeldBy(c); ok {
			return fmt.Errorf("%s held by %s: %w", g.Name(c), owner, ErrBusy)
		}
		if err := g.preChangeChildren(c, Event{Kind: EventPreChange, OldRate: g.Rate(c)}); err != nil {
			return err
		}
	}
	return nil
}

// changed is called after id was successfully reprogrammed.
func (g *Graph) changed(id NodeID) {
	if !g.opts.RuntimeNotify {
		return
	}
	rate := g.Rate(id)
	old, changed := g.observe(id, rate)
	if !changed {
		return
	}
	glog.V(3).Infof("clock %s: %d -> %d Hz", g.Name(id), old, rate)
	g.notifyChildren(id, Event{Kind: EventQuery, OldRate: old, NewRate: rate})
}

func (g *Graph) notifyChildren(id NodeID, ev Event) {
	for _, c := range g.nodes[id].children {
		n, ok := g.nodes[c].node.(Notifiee)
		if !ok {
			continue
		}
		affected, err := n.Notify(g, id, ev)
		if err != nil {
			glog.Warningf("clock %s: ignoring error on %s notification from %s: %v", g.Name(c), ev.Kind, g.Name(id), err)
		}
		if !affected {
			continue
		}
		rate := g.Rate(c)
		old, changed := g.observe(c, rate)
		if !changed {
			continue
		}
		glog.V(3).Infof("clock %s: %d -> %d Hz (from %s)", g.Name(c), old, rate, g.Name(id))
		g.notifyChildren(c, Event{Kind: EventQuery, OldRate: old, NewRate: rate})
	}
}
