// Package stm32 implements the clock nodes of the STM32 reset and clock
// controller (RCC).
package stm32

import (
	"context"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/regfield"
)

// Generator is an oscillator with an enable bit and a status (ready) bit.
// It runs at Rate once the hardware reports it ready.
type Generator struct {
	Rate   uint32
	Enable regfield.Field
	Status regfield.Field
}

// Parents ...
func (g *Generator) Parents() []clock.NodeID {
	return nil
}

// GetRate ...
func (g *Generator) GetRate(env clock.Env) uint32 {
	if env.Regs().Read(g.Status) == 0 {
		return 0
	}
	return g.Rate
}

// Configure enables the generator for a non-zero value, disables it for 0,
// and waits for the status bit to follow.
func (g *Generator) Configure(ctx context.Context, env clock.Env, value uint32) error {
	var enable uint32
	if value != 0 {
		enable = 1
	}
	env.Regs().Write(g.Enable, enable)
	return env.Regs().PollUntil(ctx, g.Status, enable)
}

// RoundRate ...
func (g *Generator) RoundRate(clock.Env, uint32) uint32 {
	return g.Rate
}

// SetRate turns the generator on for any non-zero request and off for 0.
func (g *Generator) SetRate(ctx context.Context, env clock.Env, rate uint32) (uint32, error) {
	if err := g.Configure(ctx, env, rate); err != nil {
		return 0, err
	}
	if rate == 0 {
		return 0, nil
	}
	return g.Rate, nil
}

// Notify never reports a change: the rate of a generator does not depend on
// any other node.
func (g *Generator) Notify(clock.Env, clock.NodeID, clock.Event) (bool, error) {
	return false, nil
}

// Configuration word of an InternalClkGen.
const (
	ClkGenEnable     = 1 << 0
	ClkGenBypass     = 1 << 1
	ClkGenDriveShift = 2
)

// PackClkGen builds the configure value of an InternalClkGen.
func PackClkGen(enable, bypass bool, drive uint32) uint32 {
	v := drive << ClkGenDriveShift
	if enable {
		v |= ClkGenEnable
	}
	if bypass {
		v |= ClkGenBypass
	}
	return v
}

// InternalClkGen is an external-crystal style generator (HSE, LSE) with
// optional bypass and drive capability settings. A zero Bypass or Drive
// field means the instance has no such setting and the matching bits of
// the configure value are ignored.
type InternalClkGen struct {
	Rate   uint32
	Enable regfield.Field
	Status regfield.Field
	Bypass regfield.Field
	Drive  regfield.Field
}

// Parents ...
func (c *InternalClkGen) Parents() []clock.NodeID {
	return nil
}

// GetRate ...
func (c *InternalClkGen) GetRate(env clock.Env) uint32 {
	if env.Regs().Read(c.Status) == 0 {
		return 0
	}
	return c.Rate
}

// Configure applies a word built with PackClkGen. Bypass and drive are
// programmed before the enable bit.
func (c *InternalClkGen) Configure(ctx context.Context, env clock.Env, value uint32) error {
	regs := env.Regs()
	if !c.Bypass.IsZero() {
		var bypass uint32
		if value&ClkGenBypass != 0 {
			bypass = 1
		}
		regs.Write(c.Bypass, bypass)
	}
	if !c.Drive.IsZero() {
		regs.Write(c.Drive, (value>>ClkGenDriveShift)&c.Drive.Mask)
	}

	var enable uint32
	if value&ClkGenEnable != 0 {
		enable = 1
	}
	regs.Write(c.Enable, enable)
	return regs.PollUntil(ctx, c.Status, enable)
}
