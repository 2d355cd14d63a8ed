package topology

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang/glog"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock/stm32"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/regfield"
)

// Board is a clock tree built from its description.
type Board struct {
	Name   string
	Graph  *clock.Graph
	Family *stm32.Family
	Tree   *ClockTree
}

// RegisterBase returns the physical address of the clock controller.
func (b *Board) RegisterBase() uint64 {
	return b.Tree.RegisterBase(b.Family)
}

// RegisterBase returns the clock controller address of the tree, falling
// back to the one of family.
func (t *ClockTree) RegisterBase(family *stm32.Family) uint64 {
	if t.Spec.RegisterBase != 0 {
		return t.Spec.RegisterBase
	}
	if family != nil {
		return family.RCCBase
	}
	return 0
}

// TimerPrescalerNodes returns the timer multipliers of t that read a TIMPRE
// bit.
func (t *ClockTree) TimerPrescalerNodes() []string {
	var names []string
	for _, n := range t.Spec.Nodes {
		if _, ok := n.Fields["timpre"]; ok && n.Compatible == timerFreqMulCompatible {
			names = append(names, n.Name)
		}
	}
	return names
}

// CheckTimerPrescaler fails when t uses the TIMPRE bit and enabled is false.
func (t *ClockTree) CheckTimerPrescaler(enabled bool) error {
	if nodes := t.TimerPrescalerNodes(); len(nodes) > 0 && !enabled {
		return fmt.Errorf("nodes %s use TIMPRE but the timer prescaler is disabled", strings.Join(nodes, ", "))
	}
	return nil
}

// FlashLatency returns the flash wait-state coordinator of the board, or
// nil if the board does not declare one.
func (b *Board) FlashLatency(flash *regfield.Accessor) (*stm32.FlashLatency, error) {
	spec := b.Tree.Spec.FlashLatency
	if spec == nil {
		return nil, nil
	}
	if b.Family == nil {
		return nil, fmt.Errorf("flash latency needs a family")
	}
	hclk, ok := b.Graph.Lookup(spec.HCLK)
	if !ok {
		return nil, fmt.Errorf("flash latency: node %s: %w", spec.HCLK, clock.ErrNotFound)
	}
	ahb, ok := b.Graph.Lookup(spec.AHB)
	if !ok {
		return nil, fmt.Errorf("flash latency: node %s: %w", spec.AHB, clock.ErrNotFound)
	}
	if _, ok := b.Graph.Node(ahb).(*stm32.BusPrescaler); !ok {
		return nil, fmt.Errorf("flash latency: %s is not a bus prescaler", spec.AHB)
	}
	return &stm32.FlashLatency{
		Family:   b.Family,
		Regs:     flash,
		HCLK:     hclk,
		AHB:      ahb,
		SysclkHz: spec.SysclkHz,
	}, nil
}

// Build validates tree and builds its graph over regs.
func Build(tree *ClockTree, regs *regfield.Accessor, opts clock.Options) (*Board, error) {
	order, family, err := Validate(tree)
	if err != nil {
		return nil, err
	}

	g := clock.NewGraph(regs, opts)
	byName := make(map[string]*NodeSpec, len(tree.Spec.Nodes))
	for i := range tree.Spec.Nodes {
		byName[tree.Spec.Nodes[i].Name] = &tree.Spec.Nodes[i]
	}

	ids := make(map[string]clock.NodeID, len(order))
	var errs []error
	for _, name := range order {
		spec := byName[name]
		b := &nodeBuilder{spec: spec, family: family, ids: ids}
		n, err := registry[spec.Compatible](b)
		if err != nil {
			errs = append(errs, fmt.Errorf("node %s (%s): %w", name, spec.Compatible, err))
			continue
		}
		id, err := g.Add(name, n)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ids[name] = id
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for _, o := range tree.Spec.Outputs {
		out := clock.Output{Name: o.Name, Node: ids[o.Node]}
		for _, s := range o.States {
			st := clock.State{Name: s.Name}
			for i, step := range s.Steps {
				cs, err := resolveStep(step, ids)
				if err != nil {
					errs = append(errs, fmt.Errorf("output %s state %s step %d: %w", o.Name, s.Name, i, err))
					continue
				}
				st.Steps = append(st.Steps, cs)
			}
			out.States = append(out.States, st)
		}
		if err := g.AddOutput(out); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	glog.Infof("clock tree %s: %d nodes, %d outputs", tree.Name, g.Len(), len(tree.Spec.Outputs))
	return &Board{Name: tree.Name, Graph: g, Family: family, Tree: tree}, nil
}

func resolveStep(step StepSpec, ids map[string]clock.NodeID) (clock.Step, error) {
	action, err := clock.ParseAction(step.Action)
	if err != nil {
		return clock.Step{}, err
	}
	value := step.Value
	switch {
	case step.PLL != nil:
		value, err = stm32.PLLConfig{
			DIVM:   step.PLL.DIVM,
			DIVN:   step.PLL.DIVN,
			FRACN:  step.PLL.FRACN,
			VCOSel: step.PLL.VCOSel,
			Range:  step.PLL.Range,
		}.Pack()
		if err != nil {
			return clock.Step{}, err
		}
	case step.ClkGen != nil:
		value = stm32.PackClkGen(step.ClkGen.Enable, step.ClkGen.Bypass, step.ClkGen.Drive)
	}
	return clock.Step{Node: ids[step.Node], Action: action, Value: value}, nil
}

// Validate checks tree and returns its nodes in an order where every node
// comes after its parents. All problems found are reported together.
func Validate(tree *ClockTree) ([]string, *stm32.Family, error) {
	var errs []error
	if tree.Kind != "" && tree.Kind != Kind {
		errs = append(errs, fmt.Errorf("unexpected kind %q", tree.Kind))
	}
	if tree.APIVersion != "" && tree.APIVersion != APIVersion {
		errs = append(errs, fmt.Errorf("unsupported apiVersion %q", tree.APIVersion))
	}

	var family *stm32.Family
	if tree.Spec.Family != "" {
		f, err := stm32.LookupFamily(tree.Spec.Family)
		if err != nil {
			errs = append(errs, err)
		}
		family = f
	}

	nodes := tree.Spec.Nodes
	if len(nodes) == 0 {
		errs = append(errs, fmt.Errorf("no nodes"))
	}
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if n.Name == "" {
			errs = append(errs, fmt.Errorf("node #%d has no name", i))
			continue
		}
		if _, dup := index[n.Name]; dup {
			errs = append(errs, fmt.Errorf("node %s defined twice", n.Name))
			continue
		}
		index[n.Name] = i
	}

	deps := make([][]string, len(nodes))
	for i, n := range nodes {
		if _, ok := registry[n.Compatible]; !ok {
			errs = append(errs, fmt.Errorf("node %s: unknown compatible %q", n.Name, n.Compatible))
		}
		switch {
		case rootCompatibles[n.Compatible]:
			if n.Parent != "" || len(n.Inputs) > 0 {
				errs = append(errs, fmt.Errorf("node %s: %s has no parent", n.Name, n.Compatible))
			}
		case muxCompatibles[n.Compatible]:
			if len(n.Inputs) == 0 {
				errs = append(errs, fmt.Errorf("node %s: mux without inputs", n.Name))
			}
			for _, in := range n.Inputs {
				if in != "" {
					deps[i] = append(deps[i], in)
				}
			}
		default:
			if n.Parent == "" {
				errs = append(errs, fmt.Errorf("node %s: parent is required", n.Name))
			} else {
				deps[i] = append(deps[i], n.Parent)
			}
		}
		for _, d := range deps[i] {
			if _, ok := index[d]; !ok {
				errs = append(errs, fmt.Errorf("node %s: unknown parent %s", n.Name, d))
			}
		}
		for key, fs := range n.Fields {
			if _, err := resolveField(family, fs); err != nil {
				errs = append(errs, fmt.Errorf("node %s field %s: %w", n.Name, key, err))
			}
		}
		if n.Table != "" && n.Table != "ahb" && n.Table != "apb" {
			errs = append(errs, fmt.Errorf("node %s: unknown prescaler table %q", n.Name, n.Table))
		}
	}
	if len(errs) > 0 {
		return nil, nil, errors.Join(errs...)
	}

	order, err := sortNodes(nodes, deps)
	if err != nil {
		errs = append(errs, err)
	}

	outputs := map[string]bool{}
	for _, o := range tree.Spec.Outputs {
		if o.Name == "" || outputs[o.Name] {
			errs = append(errs, fmt.Errorf("output %q: empty or duplicate name", o.Name))
		}
		outputs[o.Name] = true
		if _, ok := index[o.Node]; !ok {
			errs = append(errs, fmt.Errorf("output %s: unknown node %s", o.Name, o.Node))
		}
		for _, s := range o.States {
			for i, step := range s.Steps {
				if _, ok := index[step.Node]; !ok {
					errs = append(errs, fmt.Errorf("output %s state %s step %d: unknown node %s", o.Name, s.Name, i, step.Node))
				}
				if _, err := clock.ParseAction(step.Action); err != nil {
					errs = append(errs, fmt.Errorf("output %s state %s step %d: %w", o.Name, s.Name, i, err))
				}
				if step.PLL != nil && step.ClkGen != nil {
					errs = append(errs, fmt.Errorf("output %s state %s step %d: pll and clkgen are exclusive", o.Name, s.Name, i))
				}
			}
		}
	}
	for _, o := range tree.Spec.BackupDomain {
		if !outputs[o] {
			errs = append(errs, fmt.Errorf("backupDomain: unknown output %q", o))
		}
	}
	if family != nil {
		if err := tree.CheckTimerPrescaler(family.HasTIMPRE); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", family.Name, err))
		}
	}
	if fl := tree.Spec.FlashLatency; fl != nil {
		if family == nil {
			errs = append(errs, fmt.Errorf("flashLatency requires a family"))
		}
		for _, n := range []string{fl.HCLK, fl.AHB} {
			if _, ok := index[n]; !ok {
				errs = append(errs, fmt.Errorf("flashLatency: unknown node %q", n))
			}
		}
	}
	if len(errs) > 0 {
		return nil, nil, errors.Join(errs...)
	}
	return order, family, nil
}

// sortNodes orders nodes parents first (Kahn's algorithm). Among nodes that
// are ready at the same time the declaration order is kept.
func sortNodes(nodes []NodeSpec, deps [][]string) ([]string, error) {
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n.Name] = i
	}
	indegree := make([]int, len(nodes))
	children := make([][]int, len(nodes))
	for i := range nodes {
		seen := map[int]bool{}
		for _, d := range deps[i] {
			p := index[d]
			if seen[p] {
				continue
			}
			seen[p] = true
			indegree[i]++
			children[p] = append(children[p], i)
		}
	}

	var queue []int
	for i := range nodes {
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}
	order := make([]string, 0, len(nodes))
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		order = append(order, nodes[i].Name)
		for _, c := range children[i] {
			indegree[c]--
			if indegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}
	if len(order) != len(nodes) {
		var cyclic []string
		for i, d := range indegree {
			if d > 0 {
				cyclic = append(cyclic, nodes[i].Name)
			}
		}
		return nil, fmt.Errorf("parent cycle between nodes %s", strings.Join(cyclic, ", "))
	}
	return order, nil
}

func resolveField(family *stm32.Family, fs FieldSpec) (regfield.Field, error) {
	if fs.Ref != "" {
		if fs.Offset != nil {
			return regfield.Field{}, fmt.Errorf("ref and offset are exclusive")
		}
		if family == nil {
			return regfield.Field{}, fmt.Errorf("field reference %s without a family", fs.Ref)
		}
		return family.Field(fs.Ref)
	}
	if fs.Offset == nil {
		return regfield.Field{}, fmt.Errorf("either ref or offset is required")
	}
	width := fs.Width
	if width == 0 {
		width = 1
	}
	return regfield.NewField(*fs.Offset, fs.Pos, width)
}

// nodeBuilder gives constructors access to the resolved parts of a node
// description. Errors are accumulated and reported by err.
type nodeBuilder struct {
	spec   *NodeSpec
	family *stm32.Family
	ids    map[string]clock.NodeID
	errs   []error
}

func (b *nodeBuilder) fail(err error) {
	b.errs = append(b.errs, err)
}

func (b *nodeBuilder) err() error {
	return errors.Join(b.errs...)
}

func (b *nodeBuilder) parent() clock.NodeID {
	id, ok := b.ids[b.spec.Parent]
	if !ok {
		b.fail(fmt.Errorf("parent %s is not built", b.spec.Parent))
		return clock.NoNode
	}
	return id
}

func (b *nodeBuilder) inputs(allowAbsent bool) []clock.NodeID {
	ids := make([]clock.NodeID, len(b.spec.Inputs))
	for i, name := range b.spec.Inputs {
		if name == "" {
			if !allowAbsent {
				b.fail(fmt.Errorf("input %d is empty", i))
			}
			ids[i] = clock.NoNode
			continue
		}
		id, ok := b.ids[name]
		if !ok {
			b.fail(fmt.Errorf("input %s is not built", name))
			id = clock.NoNode
		}
		ids[i] = id
	}
	return ids
}

func (b *nodeBuilder) field(key string) regfield.Field {
	fs, ok := b.spec.Fields[key]
	if !ok {
		b.fail(fmt.Errorf("field %s is required", key))
		return regfield.Field{}
	}
	f, err := resolveField(b.family, fs)
	if err != nil {
		b.fail(fmt.Errorf("field %s: %w", key, err))
	}
	return f
}

func (b *nodeBuilder) optionalField(key string) regfield.Field {
	if _, ok := b.spec.Fields[key]; !ok {
		return regfield.Field{}
	}
	return b.field(key)
}

func (b *nodeBuilder) shiftTable() []uint8 {
	switch b.spec.Table {
	case "ahb":
		if b.family != nil {
			return b.family.AHBShifts
		}
		return stm32.AHBShifts
	case "apb":
		if b.family != nil {
			return b.family.APBShifts
		}
		return stm32.APBShifts
	}
	b.fail(fmt.Errorf("table must be ahb or apb"))
	return nil
}
