package clock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock/generic"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock/stm32"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/regfield"
)

type meshEvent struct {
	output   string
	old, new uint32
}

type mesh struct {
	g                          *clock.Graph
	osc, other, gate, mux, pre clock.NodeID
	events                     []meshEvent
}

// osc -> gate -> mux(gate, other) -> pre
func newMesh(t *testing.T) *mesh {
	mem := regfield.NewMemoryBlock()
	mem.Mirror(hseOn, hseRdy)
	regs := regfield.NewAccessor(mem, regfield.Options{PollTimeout: time.Second})
	m := &mesh{g: clock.NewGraph(regs, clock.Options{RuntimeNotify: true})}
	g := m.g

	m.osc = g.MustAdd("osc", &stm32.Generator{Rate: 8000000, Enable: hseOn, Status: hseRdy})
	m.other = g.MustAdd("other", &generic.FixedClock{Rate: 16000000})
	m.gate = g.MustAdd("gate", &generic.Gate{Parent: m.osc, Bit: regfield.Bit(0x38, 0)})
	m.mux = g.MustAdd("mux", &generic.Mux{Inputs: []clock.NodeID{m.gate, m.other}, Select: sw})
	m.pre = g.MustAdd("pre", &generic.Pow2Prescaler{Parent: m.mux, Log2: hpre})
	assert.NoError(t, g.AddOutput(clock.Output{Name: "out", Node: m.pre}))
	g.OnRateChange(func(output string, _ clock.NodeID, old, new uint32) {
		m.events = append(m.events, meshEvent{output, old, new})
	})

	ctx := context.Background()
	assert.NoError(t, g.Configure(ctx, m.osc, 1))
	assert.NoError(t, g.Configure(ctx, m.gate, 1))
	assert.NoError(t, g.Configure(ctx, m.pre, 1))
	g.Refresh()
	m.events = nil
	return m
}

func (m *mesh) observed(t *testing.T, id clock.NodeID) uint32 {
	r, ok := m.g.Observed(id)
	assert.True(t, ok, "%s has no observed rate", m.g.Name(id))
	return r
}

func TestNotifyPropagatesDownstream(t *testing.T) {
	m := newMesh(t)
	assert.Equal(t, uint32(4000000), m.observed(t, m.pre))

	assert.NoError(t, m.g.Configure(context.Background(), m.osc, 0))
	for _, id := range []clock.NodeID{m.osc, m.gate, m.mux, m.pre} {
		assert.Equal(t, m.g.Rate(id), m.observed(t, id), m.g.Name(id))
		assert.Equal(t, uint32(0), m.observed(t, id), m.g.Name(id))
	}
	// not downstream of the change
	assert.Equal(t, uint32(16000000), m.observed(t, m.other))
	assert.Equal(t, []meshEvent{{"out", 4000000, 0}}, m.events)

	assert.NoError(t, m.g.Configure(context.Background(), m.osc, 1))
	assert.Equal(t, uint32(4000000), m.observed(t, m.pre))
	assert.Equal(t, meshEvent{"out", 0, 4000000}, m.events[1])
}

func TestNotifyMiddleChangeLeavesUpstream(t *testing.T) {
	m := newMesh(t)

	assert.NoError(t, m.g.Configure(context.Background(), m.mux, 1))
	assert.Equal(t, uint32(16000000), m.observed(t, m.mux))
	assert.Equal(t, uint32(8000000), m.observed(t, m.pre))
	assert.Equal(t, uint32(8000000), m.observed(t, m.osc))
	assert.Equal(t, uint32(8000000), m.observed(t, m.gate))
}

func TestNotifyUnselectedInputIgnored(t *testing.T) {
	m := newMesh(t)
	assert.NoError(t, m.g.Configure(context.Background(), m.mux, 1))
	m.events = nil

	assert.NoError(t, m.g.Configure(context.Background(), m.gate, 0))
	assert.Equal(t, uint32(0), m.observed(t, m.gate))
	// the mux does not follow the gate, its observed rate stays correct
	assert.Equal(t, uint32(16000000), m.observed(t, m.mux))
	assert.Equal(t, uint32(8000000), m.observed(t, m.pre))
	assert.Empty(t, m.events)
}

func TestPreChangeVeto(t *testing.T) {
	m := newMesh(t)
	ctx := context.Background()

	assert.NoError(t, m.g.Hold(m.pre, "uart"))
	err := m.g.Configure(ctx, m.osc, 0)
	assert.True(t, errors.Is(err, clock.ErrBusy), "got %v", err)
	assert.Equal(t, uint32(8000000), m.g.Rate(m.osc), "refused change must not touch the hardware")

	err = m.g.Configure(ctx, m.pre, 2)
	assert.True(t, errors.Is(err, clock.ErrBusy), "got %v", err)

	assert.NoError(t, m.g.Hold(m.pre, "uart"))
	assert.Error(t, m.g.Hold(m.pre, "spi"))

	m.g.Release(m.pre)
	assert.NoError(t, m.g.Configure(ctx, m.osc, 0))
	assert.Equal(t, uint32(0), m.g.GetRate("out"))
}

func TestPreChangeVetoThroughState(t *testing.T) {
	m := newMesh(t)
	assert.NoError(t, m.g.AddOutput(clock.Output{Name: "cpu", Node: m.mux, States: []clock.State{
		{Name: "off", Steps: []clock.Step{
			{Node: m.gate, Action: clock.ActionDisable},
			{Node: m.osc, Value: 0},
		}},
	}}))
	assert.NoError(t, m.g.Hold(m.mux, "cpu"))
	err := m.g.ApplyState(context.Background(), "cpu", "off")
	assert.True(t, errors.Is(err, clock.ErrBusy), "got %v", err)
	assert.Contains(t, err.Error(), "step 0")
}

func TestNotifyDisabled(t *testing.T) {
	tt := newTestTree(t, clock.Options{})
	tt.g.OnRateChange(func(string, clock.NodeID, uint32, uint32) {
		t.Fatal("no notification expected")
	})
	assert.NoError(t, tt.g.Hold(tt.div, "uart"))
	// holds are only enforced by the notification mesh
	assert.NoError(t, tt.g.ApplyState(context.Background(), "cpu", "default"))
	_, ok := tt.g.Observed(tt.div)
	assert.False(t, ok)
}
