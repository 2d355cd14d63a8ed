package clock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock/generic"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock/stm32"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/regfield"
)

var (
	hseOn  = regfield.Bit(0x00, 16)
	hseRdy = regfield.Bit(0x00, 17)
	sw     = regfield.MustField(0x08, 0, 3)
	hpre   = regfield.MustField(0x08, 8, 4)
)

type testTree struct {
	g      *clock.Graph
	mem    *regfield.MemoryBlock
	hse    clock.NodeID
	hsi    clock.NodeID
	sysclk clock.NodeID
	div    clock.NodeID
}

// HSE (8 MHz) and HSI (16 MHz) -> SYSCLK mux -> sysclk prescaler.
func newTestTree(t *testing.T, opts clock.Options) *testTree {
	mem := regfield.NewMemoryBlock()
	mem.Mirror(hseOn, hseRdy)
	regs := regfield.NewAccessor(mem, regfield.Options{PollTimeout: time.Second})
	g := clock.NewGraph(regs, opts)

	tt := &testTree{g: g, mem: mem}
	tt.hse = g.MustAdd("hse", &stm32.Generator{Rate: 8000000, Enable: hseOn, Status: hseRdy})
	tt.hsi = g.MustAdd("hsi", &generic.FixedClock{Rate: 16000000})
	tt.sysclk = g.MustAdd("sysclk", &stm32.Mux{Inputs: []clock.NodeID{tt.hsi, tt.hse}, Field: sw})
	tt.div = g.MustAdd("hclk", &stm32.SysclkPrescaler{Parent: tt.sysclk, Field: hpre})

	assert.NoError(t, g.AddOutput(clock.Output{
		Name: "cpu",
		Node: tt.div,
		States: []clock.State{
			{Name: "default", Steps: []clock.Step{
				{Node: tt.hse, Value: 1},
				{Node: tt.sysclk, Value: 1},
				{Node: tt.div, Value: 1},
			}},
			{Name: "hsi", Steps: []clock.Step{
				{Node: tt.sysclk, Value: 0},
				{Node: tt.div, Value: 0},
				{Node: tt.hse, Value: 0},
			}},
			{Name: "broken", Steps: []clock.Step{
				{Node: tt.div, Value: 3},
				{Node: tt.sysclk, Value: 5},
				{Node: tt.hse, Value: 1},
			}},
		},
	}))
	return tt
}

func TestEndToEnd(t *testing.T) {
	tt := newTestTree(t, clock.Options{})
	assert.Equal(t, uint32(16000000), tt.g.GetRate("cpu"))

	assert.NoError(t, tt.g.ApplyState(context.Background(), "cpu", "default"))
	assert.Equal(t, uint32(4000000), tt.g.GetRate("cpu"))
	assert.Equal(t, uint32(8000000), tt.g.Rate(tt.sysclk))

	assert.NoError(t, tt.g.ApplyState(context.Background(), "cpu", "hsi"))
	assert.Equal(t, uint32(16000000), tt.g.GetRate("cpu"))
	assert.Equal(t, uint32(0), tt.g.Rate(tt.hse))

	assert.Equal(t, uint32(0), tt.g.GetRate("gpu"))
}

func TestApplyStateIdempotent(t *testing.T) {
	tt := newTestTree(t, clock.Options{RuntimeNotify: true})
	assert.NoError(t, tt.g.ApplyState(context.Background(), "cpu", "default"))
	regs := tt.mem.Snapshot()
	rates := make([]uint32, tt.g.Len())
	for i := range rates {
		rates[i] = tt.g.Rate(clock.NodeID(i))
	}

	assert.NoError(t, tt.g.ApplyState(context.Background(), "cpu", "default"))
	assert.Equal(t, regs, tt.mem.Snapshot())
	for i := range rates {
		assert.Equal(t, rates[i], tt.g.Rate(clock.NodeID(i)), tt.g.Name(clock.NodeID(i)))
	}
}

func TestApplyStateFailFast(t *testing.T) {
	tt := newTestTree(t, clock.Options{})
	err := tt.g.ApplyState(context.Background(), "cpu", "broken")
	assert.True(t, errors.Is(err, clock.ErrInvalidArgument), "got %v", err)
	assert.Contains(t, err.Error(), "step 1")
	assert.Contains(t, err.Error(), "sysclk")

	// step 0 stays applied, step 2 never ran
	assert.Equal(t, uint32(3), tt.g.Regs().Read(hpre))
	assert.Equal(t, uint32(0), tt.g.Regs().Read(hseOn))

	err = tt.g.ApplyState(context.Background(), "cpu", "turbo")
	assert.True(t, errors.Is(err, clock.ErrNotFound))
	err = tt.g.ApplyState(context.Background(), "gpu", "default")
	assert.True(t, errors.Is(err, clock.ErrNotFound))
}

func TestApplyStateCancelled(t *testing.T) {
	tt := newTestTree(t, clock.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := tt.g.ApplyState(ctx, "cpu", "default")
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Equal(t, uint32(0), tt.g.Regs().Read(hseOn))
}

func TestHooks(t *testing.T) {
	tt := newTestTree(t, clock.Options{})
	var calls []string
	assert.NoError(t, tt.g.SetHooks(tt.sysclk, clock.Hooks{
		Before: func(_ context.Context, g clock.View, s clock.Step) error {
			calls = append(calls, "before")
			// reconfiguring from a hook would block on the graph lock
			_, isGraph := g.(*clock.Graph)
			assert.False(t, isGraph)
			// HSE is enabled by the previous step, the switch has not happened yet
			assert.Equal(t, uint32(8000000), g.Rate(tt.hse))
			assert.Equal(t, uint32(16000000), g.Rate(s.Node))
			return nil
		},
		After: func(_ context.Context, g clock.View, s clock.Step) error {
			calls = append(calls, "after")
			assert.Equal(t, uint32(8000000), g.Rate(s.Node))
			assert.Equal(t, "sysclk", g.Name(s.Node))
			return nil
		},
	}))
	assert.NoError(t, tt.g.ApplyState(context.Background(), "cpu", "default"))
	assert.Equal(t, []string{"before", "after"}, calls)

	boom := errors.New("boom")
	assert.NoError(t, tt.g.SetHooks(tt.sysclk, clock.Hooks{
		Before: func(context.Context, clock.View, clock.Step) error { return boom },
	}))
	err := tt.g.ApplyState(context.Background(), "cpu", "hsi")
	assert.True(t, errors.Is(err, boom))
	// the switch did not happen
	assert.Equal(t, uint32(1), tt.g.Regs().Read(sw))
}

func TestCapabilities(t *testing.T) {
	tt := newTestTree(t, clock.Options{})
	ctx := context.Background()

	err := tt.g.Configure(ctx, tt.hsi, 1)
	assert.True(t, errors.Is(err, clock.ErrNotSupported), "got %v", err)
	err = tt.g.OffOn(ctx, tt.sysclk, true)
	assert.True(t, errors.Is(err, clock.ErrNotSupported), "got %v", err)
	_, err = tt.g.SetRate(ctx, tt.hse, 8000000)
	assert.True(t, errors.Is(err, clock.ErrNotSupported), "set_rate is disabled: %v", err)
	_, err = tt.g.RoundRate(tt.hse, 8000000)
	assert.True(t, errors.Is(err, clock.ErrNotSupported), "set_rate is disabled: %v", err)

	err = tt.g.Configure(ctx, clock.NodeID(42), 1)
	assert.True(t, errors.Is(err, clock.ErrNotFound))

	tt = newTestTree(t, clock.Options{SetRate: true})
	_, err = tt.g.SetRate(ctx, tt.sysclk, 8000000)
	assert.True(t, errors.Is(err, clock.ErrNotSupported), "got %v", err)
	r, err := tt.g.SetRate(ctx, tt.hse, 8000000)
	assert.NoError(t, err)
	assert.Equal(t, uint32(8000000), r)
}

func TestGraphConstruction(t *testing.T) {
	g := clock.NewGraph(regfield.NewAccessor(regfield.NewMemoryBlock(), regfield.Options{}), clock.Options{})
	a := g.MustAdd("a", &generic.FixedClock{Rate: 1})

	_, err := g.Add("a", &generic.FixedClock{Rate: 2})
	assert.Error(t, err)
	_, err = g.Add("", &generic.FixedClock{Rate: 2})
	assert.Error(t, err)
	// parents must exist before their children
	_, err = g.Add("b", &generic.FixedPrescaler{Parent: 5, Factor: 2})
	assert.Error(t, err)

	b := g.MustAdd("b", &generic.FixedPrescaler{Parent: a, Factor: 2})
	m := g.MustAdd("m", &stm32.Mux{Inputs: []clock.NodeID{a, clock.NoNode, b, a}, Field: sw})
	assert.Equal(t, []clock.NodeID{b, m}, g.Children(a))
	assert.Equal(t, []clock.NodeID{m}, g.Children(b))
	assert.Equal(t, []clock.NodeID{a}, g.Roots())

	id, ok := g.Lookup("m")
	assert.True(t, ok)
	assert.Equal(t, m, id)
	assert.Equal(t, "<none>", g.Name(clock.NoNode))
	assert.Equal(t, uint32(0), g.Rate(clock.NoNode))

	assert.Error(t, g.AddOutput(clock.Output{Name: "x", Node: 9}))
	assert.Error(t, g.AddOutput(clock.Output{Name: "x", Node: b, States: []clock.State{
		{Name: "s", Steps: []clock.Step{{Node: 9}}},
	}}))
	assert.NoError(t, g.AddOutput(clock.Output{Name: "x", Node: b}))
	assert.Error(t, g.AddOutput(clock.Output{Name: "x", Node: b}))
	assert.Equal(t, []string{"x"}, g.Outputs())
}

func TestAssertf(t *testing.T) {
	tt := newTestTree(t, clock.Options{StrictAsserts: true})
	assert.True(t, clock.Assertf(tt.g, true, "never"))
	assert.Panics(t, func() { clock.Assertf(tt.g, false, "value %d", 3) })

	tt = newTestTree(t, clock.Options{})
	assert.False(t, clock.Assertf(tt.g, false, "value %d", 3))
}

func TestParseAction(t *testing.T) {
	for _, a := range []clock.Action{clock.ActionConfigure, clock.ActionEnable, clock.ActionDisable} {
		got, err := clock.ParseAction(a.String())
		assert.NoError(t, err)
		assert.Equal(t, a, got)
	}
	_, err := clock.ParseAction("toggle")
	assert.Error(t, err)
}

func TestConcurrentApply(t *testing.T) {
	tt := newTestTree(t, clock.Options{RuntimeNotify: true})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			state := "default"
			if i%2 == 1 {
				state = "hsi"
			}
			assert.NoError(t, tt.g.ApplyState(context.Background(), "cpu", state))
		}(i)
	}
	wg.Wait()
	assert.Contains(t, []uint32{4000000, 16000000}, tt.g.GetRate("cpu"))
}
