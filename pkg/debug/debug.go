// Package debug prints the clock graph as a tree.
package debug

import (
	"fmt"
	"io"
	"strings"

	"github.com/golang/glog"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/event"
)

// Node represents a clock node and its rate
type Node struct {
	id    clock.NodeID
	name  string
	rate  uint32
	extra string
}

func newNode(g *clock.Graph, id clock.NodeID) Node {
	n := Node{id: id, name: g.Name(id), rate: g.Rate(id)}
	if owner, ok := g.HeldBy(id); ok {
		n.extra = " held by " + owner
	}
	return n
}

func formatRate(rate uint32) string {
	switch {
	case rate == 0:
		return "off"
	case rate%1000000 == 0:
		return fmt.Sprintf("%d MHz", rate/1000000)
	case rate%1000 == 0:
		return fmt.Sprintf("%d kHz", rate/1000)
	}
	return fmt.Sprintf("%d Hz", rate)
}

// printTreeNode prints a tree node with its children
func printTreeNode(w io.Writer, g *clock.Graph, n Node, indent string, isLast bool, seen map[clock.NodeID]bool) {
	connector := "├──"
	if isLast {
		connector = "└──"
	}
	// mux inputs are shared, a node reached twice is only expanded once
	if seen[n.id] {
		fmt.Fprintf(w, "%s%s %s ...\n", indent, connector, n.name)
		return
	}
	seen[n.id] = true
	fmt.Fprintf(w, "%s%s %s (%s)%s\n", indent, connector, n.name, formatRate(n.rate), n.extra)

	childIndent := indent + "│   "
	if isLast {
		childIndent = indent + "    "
	}
	children := g.Children(n.id)
	for i, c := range children {
		printTreeNode(w, g, newNode(g, c), childIndent, i == len(children)-1, seen)
	}
}

// WriteTree writes the graph as a forest rooted at its parentless nodes.
func WriteTree(w io.Writer, g *clock.Graph) {
	seen := map[clock.NodeID]bool{}
	roots := g.Roots()
	for i, r := range roots {
		printTreeNode(w, g, newNode(g, r), "", i == len(roots)-1, seen)
	}
	for _, o := range g.Outputs() {
		out, _ := g.Output(o)
		fmt.Fprintf(w, "output %s -> %s (%s)\n", o, g.Name(out.Node), formatRate(g.GetRate(o)))
	}
}

// Tree returns the graph as printed by WriteTree.
func Tree(g *clock.Graph) string {
	var b strings.Builder
	WriteTree(&b, g)
	return b.String()
}

// PrintTree logs the tree
func PrintTree(g *clock.Graph) {
	for _, line := range strings.Split(strings.TrimRight(Tree(g), "\n"), "\n") {
		glog.Info(line)
	}
}

// Printer is an event subscriber logging the tree after every change.
type Printer struct {
	Graph *clock.Graph
}

// Notify ...
func (p *Printer) Notify(ev event.RateEvent) {
	glog.Info(ev.String())
	if glog.V(2) {
		PrintTree(p.Graph)
	}
}

// Topic ...
func (p *Printer) Topic() string {
	return event.AllOutputs
}

// ID ...
func (p *Printer) ID() string {
	return "debug"
}
