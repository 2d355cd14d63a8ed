package stm32

import (
	"context"
	"fmt"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/regfield"
)

// Layout of the PLL configure value.
var (
	pllDIVM   = regfield.MustField(0, 0, 6)
	pllDIVN   = regfield.MustField(0, 6, 9)
	pllFRACN  = regfield.MustField(0, 15, 13)
	pllVCOSel = regfield.MustField(0, 28, 1)
	pllRange  = regfield.MustField(0, 29, 2)
)

// PLL reference clock limits.
const (
	PLLRefMin = 1000000
	PLLRefMax = 16000000
)

// PLLConfig holds the register values of a PLL VCO stage. DIVN is the
// multiplier minus one, as in the register.
type PLLConfig struct {
	DIVM   uint32
	DIVN   uint32
	FRACN  uint32
	VCOSel uint32
	Range  uint32
}

func pack(f regfield.Field, v uint32) uint32 {
	return (v & f.Mask) << f.Pos
}

func unpack(f regfield.Field, v uint32) uint32 {
	return (v >> f.Pos) & f.Mask
}

// Pack encodes c as a PLLVCO configure value. It fails if a value does not
// fit its field.
func (c PLLConfig) Pack() (uint32, error) {
	for _, fv := range []regfield.FieldValue{
		{Field: pllDIVM, Value: c.DIVM},
		{Field: pllDIVN, Value: c.DIVN},
		{Field: pllFRACN, Value: c.FRACN},
		{Field: pllVCOSel, Value: c.VCOSel},
		{Field: pllRange, Value: c.Range},
	} {
		if !fv.Field.Fits(fv.Value) {
			return 0, fmt.Errorf("pll value %d does not fit %d bits: %w", fv.Value, fv.Field.Width(), clock.ErrInvalidArgument)
		}
	}
	return pack(pllDIVM, c.DIVM) | pack(pllDIVN, c.DIVN) | pack(pllFRACN, c.FRACN) |
		pack(pllVCOSel, c.VCOSel) | pack(pllRange, c.Range), nil
}

// UnpackPLL decodes a PLLVCO configure value.
func UnpackPLL(v uint32) PLLConfig {
	return PLLConfig{
		DIVM:   unpack(pllDIVM, v),
		DIVN:   unpack(pllDIVN, v),
		FRACN:  unpack(pllFRACN, v),
		VCOSel: unpack(pllVCOSel, v),
		Range:  unpack(pllRange, v),
	}
}

// PLLVCO is the reference divider and VCO of a fractional PLL.
type PLLVCO struct {
	clock.FollowsParent
	Parent clock.NodeID

	Enable regfield.Field
	Ready  regfield.Field
	DIVM   regfield.Field
	DIVN   regfield.Field
	FracEn regfield.Field
	FRACN  regfield.Field
	VCOSel regfield.Field
	Range  regfield.Field
}

// Parents ...
func (p *PLLVCO) Parents() []clock.NodeID {
	return []clock.NodeID{p.Parent}
}

// GetRate returns ref * (DIVN + 1 + FRACN / 2^13) with ref = source / DIVM.
// The fractional part is computed on ref >> 5 to stay within 32 bits, which
// loses at most 31 Hz of ref.
func (p *PLLVCO) GetRate(env clock.Env) uint32 {
	regs := env.Regs()
	if regs.Read(p.Ready) == 0 {
		return 0
	}
	divm := regs.Read(p.DIVM)
	if divm == 0 {
		// prescaler disabled
		return 0
	}
	ref := env.Rate(p.Parent) / divm
	clock.Assertf(env, ref >= PLLRefMin && ref <= PLLRefMax, "pll reference %d Hz out of hardware limits", ref)

	vco := ref * (regs.Read(p.DIVN) + 1)
	if regs.Read(p.FracEn) != 0 {
		vco += ((ref >> 5) * regs.Read(p.FRACN)) >> (13 - 5)
	}
	return vco
}

// programmed returns the configuration currently held by the registers,
// with FRACN reported as zero while FRACEN is clear.
func (p *PLLVCO) programmed(regs *regfield.Accessor) PLLConfig {
	c := PLLConfig{
		DIVM:   regs.Read(p.DIVM),
		DIVN:   regs.Read(p.DIVN),
		VCOSel: regs.Read(p.VCOSel),
		Range:  regs.Read(p.Range),
	}
	if regs.Read(p.FracEn) != 0 {
		c.FRACN = regs.Read(p.FRACN)
	}
	return c
}

// Configure programs a value built with PLLConfig.Pack. FRACEN is set only
// when FRACN is not zero. Programming the configuration already in place is
// a no-op, also while the PLL runs.
func (p *PLLVCO) Configure(_ context.Context, env clock.Env, value uint32) error {
	regs := env.Regs()
	c := UnpackPLL(value)
	if !p.DIVM.Fits(c.DIVM) || !p.DIVN.Fits(c.DIVN) || !p.FRACN.Fits(c.FRACN) ||
		!p.VCOSel.Fits(c.VCOSel) || !p.Range.Fits(c.Range) {
		return fmt.Errorf("pll configuration %+v: %w", c, clock.ErrInvalidArgument)
	}
	if p.programmed(regs) == c {
		return nil
	}
	if env.Options().EnforceInactive && regs.Read(p.Enable) != 0 {
		return fmt.Errorf("pll is running: %w", clock.ErrBusy)
	}

	values := []regfield.FieldValue{
		{Field: p.DIVM, Value: c.DIVM},
		{Field: p.VCOSel, Value: c.VCOSel},
		{Field: p.Range, Value: c.Range},
		{Field: p.DIVN, Value: c.DIVN},
	}
	if c.FRACN == 0 {
		values = append(values, regfield.FieldValue{Field: p.FracEn, Value: 0})
	} else {
		values = append(values,
			regfield.FieldValue{Field: p.FracEn, Value: 1},
			regfield.FieldValue{Field: p.FRACN, Value: c.FRACN})
	}
	regs.WriteMany(values...)
	return nil
}

// OffOn starts or stops the PLL and waits for the ready flag.
func (p *PLLVCO) OffOn(ctx context.Context, env clock.Env, on bool) error {
	var v uint32
	if on {
		v = 1
	}
	env.Regs().Write(p.Enable, v)
	return env.Regs().PollUntil(ctx, p.Ready, v)
}

// PLLOutput is one of the P/Q/R dividers of a PLL.
type PLLOutput struct {
	clock.FollowsParent
	Parent clock.NodeID
	Enable regfield.Field
	Div    regfield.Field
}

// Parents ...
func (o *PLLOutput) Parents() []clock.NodeID {
	return []clock.NodeID{o.Parent}
}

// GetRate ...
func (o *PLLOutput) GetRate(env clock.Env) uint32 {
	regs := env.Regs()
	if regs.Read(o.Enable) == 0 {
		return 0
	}
	div := regs.Read(o.Div) + 1
	clock.Assertf(env, div != 1, "pll output %s programmed with the illegal divider 1", o.Div)
	return env.Rate(o.Parent) / div
}

// Configure writes the division factor minus one. 0 (divide by one) is not
// allowed by the hardware. Rewriting the current divider is a no-op.
func (o *PLLOutput) Configure(_ context.Context, env clock.Env, value uint32) error {
	regs := env.Regs()
	if value == 0 || !o.Div.Fits(value) {
		return fmt.Errorf("pll output divider %d: %w", value, clock.ErrInvalidArgument)
	}
	if regs.Read(o.Div) == value {
		return nil
	}
	if env.Options().EnforceInactive && regs.Read(o.Enable) != 0 {
		return fmt.Errorf("pll output is enabled: %w", clock.ErrBusy)
	}
	regs.Write(o.Div, value)
	return nil
}

// OffOn ...
func (o *PLLOutput) OffOn(_ context.Context, env clock.Env, on bool) error {
	var v uint32
	if on {
		v = 1
	}
	env.Regs().Write(o.Enable, v)
	return nil
}
