package stm32

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/regfield"
)

var (
	hseOn  = regfield.Bit(0x00, 16)
	hseRdy = regfield.Bit(0x00, 17)
	hseByp = regfield.Bit(0x00, 18)
	lseDrv = regfield.MustField(0x5C, 3, 2)
)

func newGraph(opts clock.Options) (*clock.Graph, *regfield.MemoryBlock) {
	mem := regfield.NewMemoryBlock()
	regs := regfield.NewAccessor(mem, regfield.Options{
		PollTimeout:  100 * time.Millisecond,
		PollInterval: time.Millisecond,
	})
	return clock.NewGraph(regs, opts), mem
}

func TestGeneratorRateGating(t *testing.T) {
	g, mem := newGraph(clock.Options{})
	hse := g.MustAdd("hse", &Generator{Rate: 8000000, Enable: hseOn, Status: hseRdy})

	assert.Equal(t, uint32(0), g.Rate(hse))
	mem.PokeField(hseRdy, 1)
	assert.Equal(t, uint32(8000000), g.Rate(hse))
	// the enable bit alone does not count
	mem.PokeField(hseRdy, 0)
	mem.PokeField(hseOn, 1)
	assert.Equal(t, uint32(0), g.Rate(hse))
}

func TestGeneratorForwardsQuery(t *testing.T) {
	g, mem := newGraph(clock.Options{RuntimeNotify: true})
	mem.Mirror(hseOn, hseRdy)
	gen := &Generator{Rate: 8000000, Enable: hseOn, Status: hseRdy}
	hse := g.MustAdd("hse", gen)
	gateBit := regfield.Bit(0x34, 0)
	gate := g.MustAdd("hse_gate", &Gate{Parent: hse, Field: gateBit})
	mem.PokeField(gateBit, 1)

	// a root is never told about a parent change
	affected, err := gen.Notify(g, clock.NoNode, clock.Event{Kind: clock.EventQuery})
	assert.NoError(t, err)
	assert.False(t, affected)

	assert.NoError(t, g.Configure(context.Background(), hse, 1))
	rate, ok := g.Observed(gate)
	assert.True(t, ok)
	assert.Equal(t, uint32(8000000), rate)
}

func TestGeneratorConfigure(t *testing.T) {
	g, mem := newGraph(clock.Options{SetRate: true})
	hse := g.MustAdd("hse", &Generator{Rate: 8000000, Enable: hseOn, Status: hseRdy})

	// no ready handshake emulated
	err := g.Configure(context.Background(), hse, 1)
	assert.True(t, errors.Is(err, regfield.ErrNotReady), "got %v", err)

	mem.Mirror(hseOn, hseRdy)
	assert.NoError(t, g.Configure(context.Background(), hse, 1))
	assert.Equal(t, uint32(8000000), g.Rate(hse))

	r, err := g.RoundRate(hse, 12345)
	assert.NoError(t, err)
	assert.Equal(t, uint32(8000000), r)

	r, err = g.SetRate(context.Background(), hse, 0)
	assert.NoError(t, err)
	assert.Equal(t, uint32(0), r)
	assert.Equal(t, uint32(0), g.Rate(hse))

	r, err = g.SetRate(context.Background(), hse, 1)
	assert.NoError(t, err)
	assert.Equal(t, uint32(8000000), r)
}

func TestInternalClkGen(t *testing.T) {
	lseOn := regfield.Bit(0x5C, 0)
	lseRdy := regfield.Bit(0x5C, 1)

	t.Run("all settings", func(t *testing.T) {
		g, mem := newGraph(clock.Options{})
		mem.Mirror(lseOn, lseRdy)
		lse := g.MustAdd("lse", &InternalClkGen{
			Rate: 32768, Enable: lseOn, Status: lseRdy,
			Bypass: regfield.Bit(0x5C, 2), Drive: lseDrv,
		})
		assert.NoError(t, g.Configure(context.Background(), lse, PackClkGen(true, true, 3)))
		assert.Equal(t, uint32(32768), g.Rate(lse))
		assert.Equal(t, uint32(0b11111), mem.Peek(0x5C))

		assert.NoError(t, g.Configure(context.Background(), lse, PackClkGen(false, false, 1)))
		assert.Equal(t, uint32(0), g.Rate(lse))
		assert.Equal(t, uint32(1<<3), mem.Peek(0x5C))
	})

	t.Run("absent settings are skipped", func(t *testing.T) {
		g, mem := newGraph(clock.Options{})
		mem.Mirror(hseOn, hseRdy)
		hse := g.MustAdd("hse", &InternalClkGen{Rate: 8000000, Enable: hseOn, Status: hseRdy})
		assert.NoError(t, g.Configure(context.Background(), hse, PackClkGen(true, true, 3)))
		assert.Equal(t, uint32(8000000), g.Rate(hse))
		assert.Equal(t, uint32(0), mem.Peek(0x00)&hseByp.InPlaceMask())
	})
}

func TestBusPrescaler(t *testing.T) {
	hpre := regfield.MustField(0x08, 8, 4)
	ppre := regfield.MustField(0x08, 12, 3)

	g, mem := newGraph(clock.Options{})
	src := g.MustAdd("sys", &fixed{rate: 48000000})
	ahb := g.MustAdd("hclk", &BusPrescaler{Parent: src, Field: hpre, Table: AHBShifts})
	apb := g.MustAdd("pclk", &BusPrescaler{Parent: ahb, Field: ppre, Table: APBShifts})

	ahbTests := []struct {
		field uint32
		div   uint32
	}{
		{0b0000, 1}, {0b0011, 1}, {0b1000, 2}, {0b1001, 4}, {0b1010, 8}, {0b1011, 16},
		{0b1100, 64}, {0b1101, 128}, {0b1110, 256}, {0b1111, 512},
	}
	for _, tt := range ahbTests {
		mem.PokeField(hpre, tt.field)
		assert.Equal(t, 48000000/tt.div, g.Rate(ahb), "HPRE=%04b", tt.field)
	}

	mem.PokeField(hpre, 0)
	for field, div := range map[uint32]uint32{0b000: 1, 0b100: 2, 0b101: 4, 0b110: 8, 0b111: 16} {
		mem.PokeField(ppre, field)
		assert.Equal(t, 48000000/div, g.Rate(apb), "PPRE=%03b", field)
	}

	assert.NoError(t, g.Configure(context.Background(), ahb, 0b1011))
	assert.Equal(t, uint32(3000000), g.Rate(ahb))
	err := g.Configure(context.Background(), ahb, 0x1F)
	assert.True(t, errors.Is(err, clock.ErrInvalidArgument))
}

func TestSysclkPrescalerAndHSIDiv(t *testing.T) {
	g, mem := newGraph(clock.Options{})
	hsi := g.MustAdd("hsi48", &fixed{rate: 48000000})
	div := g.MustAdd("hsisys", &HSISysDiv{Parent: hsi, Field: regfield.MustField(0x00, 11, 3)})
	pre := g.MustAdd("sysclk", &SysclkPrescaler{Parent: div, Field: regfield.MustField(0x18, 8, 4)})

	// reset value of HSIDIV is /4
	mem.PokeField(regfield.MustField(0x00, 11, 3), 0b010)
	assert.Equal(t, uint32(12000000), g.Rate(div))
	assert.Equal(t, uint32(12000000), g.Rate(pre))

	assert.NoError(t, g.Configure(context.Background(), div, 0))
	assert.NoError(t, g.Configure(context.Background(), pre, 2))
	assert.Equal(t, uint32(48000000), g.Rate(div))
	assert.Equal(t, uint32(16000000), g.Rate(pre))

	assert.Error(t, g.Configure(context.Background(), div, 8))
}

func TestTimerFreqMul(t *testing.T) {
	ppre := regfield.MustField(0x1C, 4, 3)
	timpre := regfield.Bit(0x10, 15)

	tests := []struct {
		name   string
		apbpre uint32
		timpre uint32
		mul    uint32
	}{
		{name: "apb /1", apbpre: 0b000, mul: 1},
		{name: "apb /2", apbpre: 0b100, mul: 2},
		{name: "apb /4", apbpre: 0b101, mul: 2},
		{name: "apb /2 timpre", apbpre: 0b100, timpre: 1, mul: 2},
		{name: "apb /4 timpre", apbpre: 0b101, timpre: 1, mul: 4},
		{name: "apb /16 timpre", apbpre: 0b111, timpre: 1, mul: 4},
		{name: "apb /1 timpre", apbpre: 0b000, timpre: 1, mul: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, mem := newGraph(clock.Options{})
			pclk := g.MustAdd("pclk", &fixed{rate: 50000000})
			tim := g.MustAdd("timclk", &TimerFreqMul{Parent: pclk, APBPre: ppre, TIMPre: timpre})
			mem.PokeField(ppre, tt.apbpre)
			mem.PokeField(timpre, tt.timpre)
			assert.Equal(t, tt.mul*50000000, g.Rate(tim))
		})
	}

	t.Run("without TIMPRE", func(t *testing.T) {
		g, mem := newGraph(clock.Options{})
		pclk := g.MustAdd("pclk", &fixed{rate: 50000000})
		tim := g.MustAdd("timclk", &TimerFreqMul{Parent: pclk, APBPre: ppre})
		mem.PokeField(ppre, 0b111)
		mem.PokeField(timpre, 1)
		assert.Equal(t, uint32(100000000), g.Rate(tim))
	})
}

func TestMux(t *testing.T) {
	sw := regfield.MustField(0x08, 0, 3)
	g, mem := newGraph(clock.Options{})
	hsi := g.MustAdd("hsisys", &fixed{rate: 12000000})
	hse := g.MustAdd("hse", &fixed{rate: 8000000})
	lsi := g.MustAdd("lsi", &fixed{rate: 32000})
	mux := g.MustAdd("sysclk", &Mux{Inputs: []clock.NodeID{hsi, hse, clock.NoNode, lsi}, Field: sw})

	assert.Equal(t, uint32(12000000), g.Rate(mux))
	assert.NoError(t, g.Configure(context.Background(), mux, 1))
	assert.Equal(t, uint32(8000000), g.Rate(mux))

	before := mem.Snapshot()
	err := g.Configure(context.Background(), mux, 2)
	assert.True(t, errors.Is(err, clock.ErrNoDevice), "got %v", err)
	err = g.Configure(context.Background(), mux, 4)
	assert.True(t, errors.Is(err, clock.ErrInvalidArgument), "got %v", err)
	assert.Equal(t, before, mem.Snapshot())
	assert.Equal(t, uint32(8000000), g.Rate(mux))
}

func h7PLL(g *clock.Graph, src clock.NodeID) (clock.NodeID, clock.NodeID) {
	vco := g.MustAdd("pll1_vco", &PLLVCO{
		Parent: src,
		Enable: regfield.Bit(0x00, 24),
		Ready:  regfield.Bit(0x00, 25),
		DIVM:   regfield.MustField(0x28, 4, 6),
		DIVN:   regfield.MustField(0x30, 0, 9),
		FracEn: regfield.Bit(0x2C, 0),
		FRACN:  regfield.MustField(0x34, 3, 13),
		VCOSel: regfield.Bit(0x2C, 1),
		Range:  regfield.MustField(0x2C, 2, 2),
	})
	p := g.MustAdd("pll1_p", &PLLOutput{
		Parent: vco,
		Enable: regfield.Bit(0x2C, 16),
		Div:    regfield.MustField(0x30, 9, 7),
	})
	return vco, p
}

func TestPLLVCO(t *testing.T) {
	ctx := context.Background()

	t.Run("integer mode", func(t *testing.T) {
		g, mem := newGraph(clock.Options{})
		mem.Mirror(regfield.Bit(0x00, 24), regfield.Bit(0x00, 25))
		src := g.MustAdd("hse", &fixed{rate: 8000000})
		vco, _ := h7PLL(g, src)

		cfg, err := PLLConfig{DIVM: 1, DIVN: 49, Range: 3}.Pack()
		assert.NoError(t, err)
		assert.NoError(t, g.Configure(ctx, vco, cfg))
		// not running yet
		assert.Equal(t, uint32(0), g.Rate(vco))
		assert.NoError(t, g.OffOn(ctx, vco, true))
		assert.Equal(t, uint32(400000000), g.Rate(vco))
		assert.Equal(t, uint32(0), mem.Peek(0x2C)&1, "FRACEN must stay clear")
	})

	t.Run("fractional mode", func(t *testing.T) {
		g, mem := newGraph(clock.Options{})
		mem.Mirror(regfield.Bit(0x00, 24), regfield.Bit(0x00, 25))
		src := g.MustAdd("hse", &fixed{rate: 25000000})
		vco, _ := h7PLL(g, src)

		const divm, divn, fracn = 3, 47, 5000
		cfg, err := PLLConfig{DIVM: divm, DIVN: divn, FRACN: fracn}.Pack()
		assert.NoError(t, err)
		assert.NoError(t, g.Configure(ctx, vco, cfg))
		assert.NoError(t, g.OffOn(ctx, vco, true))

		ref := float64(25000000 / divm)
		baseline := uint32(ref) * (divn + 1)
		exact := ref * (float64(divn+1) + float64(fracn)/8192)
		got := g.Rate(vco)
		assert.Greater(t, got, baseline)
		assert.InDelta(t, exact, float64(got), exact*0.000063)
	})

	t.Run("prescaler disabled", func(t *testing.T) {
		g, mem := newGraph(clock.Options{})
		src := g.MustAdd("hse", &fixed{rate: 8000000})
		vco, _ := h7PLL(g, src)
		mem.PokeField(regfield.Bit(0x00, 25), 1)
		mem.PokeField(regfield.MustField(0x30, 0, 9), 49)
		assert.Equal(t, uint32(0), g.Rate(vco))
	})

	t.Run("enforce inactive", func(t *testing.T) {
		g, mem := newGraph(clock.Options{EnforceInactive: true})
		mem.Mirror(regfield.Bit(0x00, 24), regfield.Bit(0x00, 25))
		src := g.MustAdd("hse", &fixed{rate: 8000000})
		vco, p := h7PLL(g, src)
		cfg, _ := PLLConfig{DIVM: 1, DIVN: 49}.Pack()
		assert.NoError(t, g.Configure(ctx, vco, cfg))
		assert.NoError(t, g.OffOn(ctx, vco, true))
		// same configuration while running
		assert.NoError(t, g.Configure(ctx, vco, cfg))
		assert.Equal(t, uint32(400000000), g.Rate(vco))
		other, _ := PLLConfig{DIVM: 1, DIVN: 59}.Pack()
		err := g.Configure(ctx, vco, other)
		assert.True(t, errors.Is(err, clock.ErrBusy), "got %v", err)
		assert.Equal(t, uint32(400000000), g.Rate(vco))

		assert.NoError(t, g.Configure(ctx, p, 1))
		assert.NoError(t, g.OffOn(ctx, p, true))
		assert.NoError(t, g.Configure(ctx, p, 1))
		err = g.Configure(ctx, p, 3)
		assert.True(t, errors.Is(err, clock.ErrBusy), "got %v", err)
	})
}

func TestPLLConfigPack(t *testing.T) {
	c := PLLConfig{DIVM: 32, DIVN: 479, FRACN: 8191, VCOSel: 1, Range: 2}
	v, err := c.Pack()
	assert.NoError(t, err)
	assert.Equal(t, c, UnpackPLL(v))

	_, err = PLLConfig{DIVM: 64}.Pack()
	assert.True(t, errors.Is(err, clock.ErrInvalidArgument))
}

func TestPLLOutput(t *testing.T) {
	ctx := context.Background()
	g, mem := newGraph(clock.Options{})
	mem.Mirror(regfield.Bit(0x00, 24), regfield.Bit(0x00, 25))
	src := g.MustAdd("hse", &fixed{rate: 8000000})
	vco, p := h7PLL(g, src)
	cfg, _ := PLLConfig{DIVM: 1, DIVN: 49}.Pack()
	assert.NoError(t, g.Configure(ctx, vco, cfg))
	assert.NoError(t, g.OffOn(ctx, vco, true))

	assert.NoError(t, g.Configure(ctx, p, 1))
	assert.Equal(t, uint32(0), g.Rate(p))
	assert.NoError(t, g.OffOn(ctx, p, true))
	assert.Equal(t, uint32(200000000), g.Rate(p))

	before := mem.Snapshot()
	err := g.Configure(ctx, p, 0)
	assert.True(t, errors.Is(err, clock.ErrInvalidArgument), "got %v", err)
	err = g.Configure(ctx, p, 128)
	assert.True(t, errors.Is(err, clock.ErrInvalidArgument), "got %v", err)
	assert.Equal(t, before, mem.Snapshot())

	// divider 1 programmed behind our back
	strict, smem := newGraph(clock.Options{StrictAsserts: true})
	ssrc := strict.MustAdd("hse", &fixed{rate: 8000000})
	_, sp := h7PLL(strict, ssrc)
	smem.PokeField(regfield.Bit(0x2C, 16), 1)
	assert.Panics(t, func() { strict.Rate(sp) })
}

func TestFamilies(t *testing.T) {
	assert.Equal(t, []string{"stm32c0", "stm32f4", "stm32h7"}, Families())
	_, err := LookupFamily("stm32xx")
	assert.Error(t, err)

	c0, err := LookupFamily("stm32c0")
	assert.NoError(t, err)
	f, err := c0.Field("HSEON")
	assert.NoError(t, err)
	assert.Equal(t, hseOn, f)
	_, err = c0.Field("PLL1ON")
	assert.Error(t, err)

	tests := []struct {
		hclk uint32
		ws   uint32
	}{
		{12000000, 0}, {24000000, 0}, {24000001, 1}, {48000000, 1},
	}
	for _, tt := range tests {
		ws, err := c0.LatencyFor(tt.hclk)
		assert.NoError(t, err)
		assert.Equal(t, tt.ws, ws, "%d Hz", tt.hclk)
	}
	_, err = c0.LatencyFor(64000000)
	assert.Error(t, err)
}

func TestFlashLatency(t *testing.T) {
	c0, _ := LookupFamily("stm32c0")
	sw := c0.Fields["SW"]
	hpre := c0.Fields["HPRE"]
	hsidiv := c0.Fields["HSIDIV"]

	setup := func() (*clock.Graph, *FlashLatency, *[]string) {
		var order []string
		g, mem := newGraph(clock.Options{})
		mem.OnWrite(func(*regfield.MemoryBlock, uint16, uint32, uint32) { order = append(order, "rcc") })
		flash := regfield.NewMemoryBlock()
		flash.OnWrite(func(*regfield.MemoryBlock, uint16, uint32, uint32) { order = append(order, "flash") })

		hsi := g.MustAdd("hsi48", &fixed{rate: 48000000})
		div := g.MustAdd("hsisys", &HSISysDiv{Parent: hsi, Field: hsidiv})
		sys := g.MustAdd("sysclk", &Mux{Inputs: []clock.NodeID{div}, Field: sw})
		ahb := g.MustAdd("hclk", &BusPrescaler{Parent: sys, Field: hpre, Table: c0.AHBShifts})
		mem.PokeField(hsidiv, 0b010)

		for _, st := range []clock.State{
			{Name: "fast", Steps: []clock.Step{{Node: div, Value: 0}, {Node: sys, Value: 0}, {Node: ahb, Value: 0}}},
			{Name: "slow", Steps: []clock.Step{{Node: div, Value: 0}, {Node: sys, Value: 0}, {Node: ahb, Value: 0b1000}}},
		} {
			assert.NoError(t, g.AddOutput(clock.Output{Name: "cpu-" + st.Name, Node: ahb, States: []clock.State{st}}))
		}
		fl := &FlashLatency{
			Family:   c0,
			Regs:     regfield.NewAccessor(flash, regfield.Options{PollTimeout: time.Second}),
			HCLK:     ahb,
			AHB:      ahb,
			SysclkHz: 48000000,
		}
		return g, fl, &order
	}

	t.Run("raise before", func(t *testing.T) {
		g, fl, order := setup()
		assert.NoError(t, fl.Apply(context.Background(), g, "cpu-fast", "fast"))
		assert.Equal(t, "flash", (*order)[0])
		assert.Equal(t, uint32(48000000), g.GetRate("cpu-fast"))
		assert.Equal(t, uint32(1), fl.Regs.Read(c0.Latency))
	})

	t.Run("lower after", func(t *testing.T) {
		g, fl, order := setup()
		assert.NoError(t, fl.Apply(context.Background(), g, "cpu-fast", "fast"))
		*order = nil
		assert.NoError(t, fl.Apply(context.Background(), g, "cpu-slow", "slow"))
		assert.Equal(t, "flash", (*order)[len(*order)-1])
		assert.Equal(t, uint32(24000000), g.GetRate("cpu-slow"))
		assert.Equal(t, uint32(0), fl.Regs.Read(c0.Latency))
	})

	t.Run("unchanged", func(t *testing.T) {
		g, fl, order := setup()
		assert.NoError(t, fl.Apply(context.Background(), g, "cpu-fast", "fast"))
		*order = nil
		assert.NoError(t, fl.Apply(context.Background(), g, "cpu-fast", "fast"))
		assert.NotContains(t, *order, "flash")
	})

	t.Run("prediction ignores upstream dividers", func(t *testing.T) {
		g, fl, _ := setup()
		div, _ := g.Lookup("hsisys")
		ahb, _ := g.Lookup("hclk")
		st := clock.State{Name: "div4", Steps: []clock.Step{{Node: div, Value: 0b010}, {Node: ahb, Value: 0}}}
		hclk, err := fl.Predict(g, &st)
		assert.NoError(t, err)
		assert.Equal(t, uint32(48000000), hclk)

		assert.NoError(t, g.AddOutput(clock.Output{Name: "cpu-div4", Node: ahb, States: []clock.State{st}}))
		assert.NoError(t, fl.Apply(context.Background(), g, "cpu-div4", "div4"))
		assert.Equal(t, uint32(12000000), g.GetRate("cpu-div4"))
		// over-estimated, the wait state is kept
		assert.Equal(t, uint32(1), fl.Regs.Read(c0.Latency))
	})

	t.Run("unknown state", func(t *testing.T) {
		g, fl, _ := setup()
		err := fl.Apply(context.Background(), g, "cpu-fast", "turbo")
		assert.True(t, errors.Is(err, clock.ErrNotFound))
	})
}

type fixed struct {
	rate uint32
}

func (f *fixed) Parents() []clock.NodeID  { return nil }
func (f *fixed) GetRate(clock.Env) uint32 { return f.rate }
