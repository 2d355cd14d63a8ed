package topology

import (
	"fmt"
	"sort"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock/generic"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock/stm32"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/regfield"
)

// Constructor builds the node described by spec. Parents are already in
// the graph when it runs.
type Constructor func(b *nodeBuilder) (clock.Node, error)

var registry = map[string]Constructor{
	"fixed-clock": func(b *nodeBuilder) (clock.Node, error) {
		if b.spec.Rate == 0 {
			return nil, fmt.Errorf("rate is required")
		}
		return &generic.FixedClock{Rate: b.spec.Rate}, nil
	},
	"fixed-prescaler": func(b *nodeBuilder) (clock.Node, error) {
		if b.spec.Factor == 0 {
			return nil, fmt.Errorf("factor must be at least 1")
		}
		return &generic.FixedPrescaler{Parent: b.parent(), Factor: b.spec.Factor}, nil
	},
	"clock-gate": func(b *nodeBuilder) (clock.Node, error) {
		return &generic.Gate{Parent: b.parent(), Bit: b.field("gate")}, b.err()
	},
	"clock-mux": func(b *nodeBuilder) (clock.Node, error) {
		m := &generic.Mux{Inputs: b.inputs(false), Select: b.field("select")}
		b.checkSelector(m.Select, len(m.Inputs))
		return m, b.err()
	},
	"pow2-prescaler": func(b *nodeBuilder) (clock.Node, error) {
		return &generic.Pow2Prescaler{Parent: b.parent(), Log2: b.field("div")}, b.err()
	},
	"st,stm32-clock-generator": func(b *nodeBuilder) (clock.Node, error) {
		if b.spec.Rate == 0 {
			return nil, fmt.Errorf("rate is required")
		}
		return &stm32.Generator{Rate: b.spec.Rate, Enable: b.field("enable"), Status: b.field("status")}, b.err()
	},
	"st,stm32-internal-clkgen": func(b *nodeBuilder) (clock.Node, error) {
		if b.spec.Rate == 0 {
			return nil, fmt.Errorf("rate is required")
		}
		return &stm32.InternalClkGen{
			Rate:   b.spec.Rate,
			Enable: b.field("enable"),
			Status: b.field("status"),
			Bypass: b.optionalField("bypass"),
			Drive:  b.optionalField("drive"),
		}, b.err()
	},
	"st,stm32-clock-gate": func(b *nodeBuilder) (clock.Node, error) {
		return &stm32.Gate{Parent: b.parent(), Field: b.field("gate")}, b.err()
	},
	"st,stm32-clock-multiplexer": func(b *nodeBuilder) (clock.Node, error) {
		m := &stm32.Mux{Inputs: b.inputs(true), Field: b.field("select")}
		b.checkSelector(m.Field, len(m.Inputs))
		return m, b.err()
	},
	"st,stm32-bus-prescaler": func(b *nodeBuilder) (clock.Node, error) {
		p := &stm32.BusPrescaler{Parent: b.parent(), Field: b.field("div"), Table: b.shiftTable()}
		return p, b.err()
	},
	"st,stm32-sysclk-prescaler": func(b *nodeBuilder) (clock.Node, error) {
		return &stm32.SysclkPrescaler{Parent: b.parent(), Field: b.field("div")}, b.err()
	},
	"st,stm32c0-hsisys-div": func(b *nodeBuilder) (clock.Node, error) {
		return &stm32.HSISysDiv{Parent: b.parent(), Field: b.field("div")}, b.err()
	},
	"st,stm32-h7-pll-pvco": func(b *nodeBuilder) (clock.Node, error) {
		return &stm32.PLLVCO{
			Parent: b.parent(),
			Enable: b.field("enable"),
			Ready:  b.field("status"),
			DIVM:   b.field("divm"),
			DIVN:   b.field("divn"),
			FracEn: b.field("fracen"),
			FRACN:  b.field("fracn"),
			VCOSel: b.field("vcosel"),
			Range:  b.field("range"),
		}, b.err()
	},
	"st,stm32-h7-pll-output": func(b *nodeBuilder) (clock.Node, error) {
		return &stm32.PLLOutput{Parent: b.parent(), Enable: b.field("enable"), Div: b.field("div")}, b.err()
	},
	timerFreqMulCompatible: func(b *nodeBuilder) (clock.Node, error) {
		return &stm32.TimerFreqMul{
			Parent: b.parent(),
			APBPre: b.field("apbpre"),
			TIMPre: b.optionalField("timpre"),
		}, b.err()
	},
}

const timerFreqMulCompatible = "st,stm32-timer-freqmul"

// Register adds or replaces the constructor of a compatible.
func Register(compatible string, c Constructor) {
	registry[compatible] = c
}

// Compatibles returns the known compatibles.
func Compatibles() []string {
	names := make([]string, 0, len(registry))
	for c := range registry {
		names = append(names, c)
	}
	sort.Strings(names)
	return names
}

// single-parent compatibles, the others are roots or muxes
var rootCompatibles = map[string]bool{
	"fixed-clock":              true,
	"st,stm32-clock-generator": true,
	"st,stm32-internal-clkgen": true,
}

var muxCompatibles = map[string]bool{
	"clock-mux":                  true,
	"st,stm32-clock-multiplexer": true,
}

func (b *nodeBuilder) checkSelector(f regfield.Field, inputs int) {
	if f.IsZero() {
		return
	}
	if uint64(inputs) > uint64(f.Mask)+1 {
		b.fail(fmt.Errorf("%d inputs do not fit selector %s", inputs, f))
	}
}
