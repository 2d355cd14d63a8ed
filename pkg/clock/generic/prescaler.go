package generic

import (
	"context"
	"fmt"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/regfield"
)

// Pow2Prescaler divides its parent rate by 2^field.
type Pow2Prescaler struct {
	clock.FollowsParent
	Parent clock.NodeID
	Log2   regfield.Field
}

// Parents ...
func (p *Pow2Prescaler) Parents() []clock.NodeID {
	return []clock.NodeID{p.Parent}
}

// GetRate ...
func (p *Pow2Prescaler) GetRate(env clock.Env) uint32 {
	return env.Rate(p.Parent) >> env.Regs().Read(p.Log2)
}

// Configure writes log2 of the divisor.
func (p *Pow2Prescaler) Configure(_ context.Context, env clock.Env, value uint32) error {
	if !p.Log2.Fits(value) {
		return fmt.Errorf("log2 divisor %d does not fit %s: %w", value, p.Log2, clock.ErrInvalidArgument)
	}
	env.Regs().Write(p.Log2, value)
	return nil
}
