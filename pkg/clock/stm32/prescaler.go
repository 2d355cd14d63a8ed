package stm32

import (
	"context"
	"fmt"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/regfield"
)

// Shift tables of the bus prescalers, indexed by the field value without
// its top bit.
var (
	// AHBShifts: 0b1000 = /2 ... 0b1011 = /16, 0b1100 = /64 ... 0b1111 = /512
	AHBShifts = []uint8{1, 2, 3, 4, 6, 7, 8, 9}
	// APBShifts: 0b100 = /2 ... 0b111 = /16
	APBShifts = []uint8{1, 2, 3, 4}
)

// BusShift returns the right shift applied by a bus prescaler whose field
// has the given mask and holds value. A clear top bit means no division.
func BusShift(table []uint8, mask, value uint32) (uint32, bool) {
	top := (mask >> 1) + 1
	if value&top == 0 {
		return 0, true
	}
	idx := value & (mask >> 1)
	if idx >= uint32(len(table)) {
		return 0, false
	}
	return uint32(table[idx]), true
}

// BusPrescaler is an AHB or APB prescaler.
type BusPrescaler struct {
	clock.FollowsParent
	Parent clock.NodeID
	Field  regfield.Field
	Table  []uint8
}

// Parents ...
func (p *BusPrescaler) Parents() []clock.NodeID {
	return []clock.NodeID{p.Parent}
}

// GetRate ...
func (p *BusPrescaler) GetRate(env clock.Env) uint32 {
	v := env.Regs().Read(p.Field)
	if v == 0 {
		return env.Rate(p.Parent)
	}
	shift, ok := BusShift(p.Table, p.Field.Mask, v)
	if !clock.Assertf(env, ok, "bus prescaler %s: no divisor for 0x%x", p.Field, v) {
		return 0
	}
	return env.Rate(p.Parent) >> shift
}

// Configure writes the raw prescaler field.
func (p *BusPrescaler) Configure(_ context.Context, env clock.Env, value uint32) error {
	if !p.Field.Fits(value) {
		return fmt.Errorf("bus prescaler value 0x%x does not fit %s: %w", value, p.Field, clock.ErrInvalidArgument)
	}
	if _, ok := BusShift(p.Table, p.Field.Mask, value); !ok {
		return fmt.Errorf("bus prescaler value 0x%x: %w", value, clock.ErrInvalidArgument)
	}
	env.Regs().Write(p.Field, value)
	return nil
}

// SysclkPrescaler divides its parent by the field value plus one.
type SysclkPrescaler struct {
	clock.FollowsParent
	Parent clock.NodeID
	Field  regfield.Field
}

// Parents ...
func (p *SysclkPrescaler) Parents() []clock.NodeID {
	return []clock.NodeID{p.Parent}
}

// GetRate ...
func (p *SysclkPrescaler) GetRate(env clock.Env) uint32 {
	return env.Rate(p.Parent) / (env.Regs().Read(p.Field) + 1)
}

// Configure writes the division factor minus one.
func (p *SysclkPrescaler) Configure(_ context.Context, env clock.Env, value uint32) error {
	if !p.Field.Fits(value) {
		return fmt.Errorf("sysclk prescaler value %d does not fit %s: %w", value, p.Field, clock.ErrInvalidArgument)
	}
	env.Regs().Write(p.Field, value)
	return nil
}

// HSISysDiv is the HSI48 power-of-two divider of the STM32C0.
type HSISysDiv struct {
	clock.FollowsParent
	Parent clock.NodeID
	Field  regfield.Field
}

// Parents ...
func (d *HSISysDiv) Parents() []clock.NodeID {
	return []clock.NodeID{d.Parent}
}

// GetRate ...
func (d *HSISysDiv) GetRate(env clock.Env) uint32 {
	return env.Rate(d.Parent) >> env.Regs().Read(d.Field)
}

// Configure writes log2 of the divisor.
func (d *HSISysDiv) Configure(_ context.Context, env clock.Env, value uint32) error {
	if !d.Field.Fits(value) {
		return fmt.Errorf("hsisys divider %d does not fit %s: %w", value, d.Field, clock.ErrInvalidArgument)
	}
	env.Regs().Write(d.Field, value)
	return nil
}

// TimerFreqMul derives the timer kernel clock from an APB clock: timers run
// at 1x, 2x or 4x PCLK depending on the APB prescaler and, when the part has
// one, the TIMPRE bit.
type TimerFreqMul struct {
	clock.FollowsParent
	Parent clock.NodeID
	APBPre regfield.Field
	TIMPre regfield.Field
}

// Parents ...
func (m *TimerFreqMul) Parents() []clock.NodeID {
	return []clock.NodeID{m.Parent}
}

// Multiplier returns the current PCLK multiplier.
func (m *TimerFreqMul) Multiplier(env clock.Env) uint32 {
	apbpre := env.Regs().Read(m.APBPre)
	var timpre uint32
	if !m.TIMPre.IsZero() {
		timpre = env.Regs().Read(m.TIMPre)
	}
	switch {
	case timpre != 0 && apbpre >= 0x5:
		return 4
	case apbpre >= 0x4:
		return 2
	}
	return 1
}

// GetRate ...
func (m *TimerFreqMul) GetRate(env clock.Env) uint32 {
	return m.Multiplier(env) * env.Rate(m.Parent)
}
