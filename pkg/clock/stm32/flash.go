package stm32

import (
	"context"
	"fmt"

	"github.com/golang/glog"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/regfield"
)

// FlashLatency keeps the flash wait states in line with the AHB clock
// while a clock state is applied: reading flash faster than its rated
// access time returns corrupted data.
type FlashLatency struct {
	Family *Family
	// Regs accesses the flash interface registers.
	Regs *regfield.Accessor
	// HCLK is the node feeding the flash (the AHB prescaler output).
	HCLK clock.NodeID
	// AHB is the AHB prescaler node configured by the states.
	AHB clock.NodeID
	// SysclkHz is the system clock rate the states program.
	SysclkHz uint32
}

// Predict returns the HCLK rate the graph will run at once state is
// applied: the nominal SysclkHz divided by the AHB prescaler the state
// programs. The mux selection and every divider upstream of the AHB
// prescaler (HSISYS, D1CPRE) are ignored, so the result is an upper bound
// and a state running below SysclkHz may keep more wait states than it
// needs.
func (f *FlashLatency) Predict(g *clock.Graph, state *clock.State) (uint32, error) {
	hclk := f.SysclkHz
	ahb, ok := g.Node(f.AHB).(*BusPrescaler)
	if !ok {
		return 0, fmt.Errorf("flash latency: %s is not a bus prescaler", g.Name(f.AHB))
	}
	for _, s := range state.Steps {
		if s.Node != f.AHB || s.Action != clock.ActionConfigure || s.Value == 0 {
			continue
		}
		shift, ok := BusShift(ahb.Table, ahb.Field.Mask, s.Value)
		if !ok {
			return 0, fmt.Errorf("flash latency: AHB prescaler value 0x%x: %w", s.Value, clock.ErrInvalidArgument)
		}
		hclk >>= shift
	}
	return hclk, nil
}

// Set programs the wait states for hclk and waits for the flash interface
// to take them into account.
func (f *FlashLatency) Set(ctx context.Context, hclk uint32) error {
	ws, err := f.Family.LatencyFor(hclk)
	if err != nil {
		return err
	}
	glog.Infof("flash latency: %d wait state(s) for HCLK %d Hz", ws, hclk)
	f.Regs.Write(f.Family.Latency, ws)
	return f.Regs.PollUntil(ctx, f.Family.Latency, ws)
}

// Apply applies state through output, raising the flash latency before a
// frequency increase and lowering it after a decrease.
func (f *FlashLatency) Apply(ctx context.Context, g *clock.Graph, output, state string) error {
	o, ok := g.Output(output)
	if !ok {
		return fmt.Errorf("output %s: %w", output, clock.ErrNotFound)
	}
	s, ok := o.State(state)
	if !ok {
		return fmt.Errorf("output %s state %s: %w", output, state, clock.ErrNotFound)
	}
	next, err := f.Predict(g, s)
	if err != nil {
		return err
	}
	cur := g.Rate(f.HCLK)

	switch {
	case cur < next:
		if err := f.Set(ctx, next); err != nil {
			return err
		}
		return g.ApplyState(ctx, output, state)
	case next < cur:
		if err := g.ApplyState(ctx, output, state); err != nil {
			return err
		}
		return f.Set(ctx, next)
	}
	return g.ApplyState(ctx, output, state)
}
