package stm32

import (
	"context"
	"fmt"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/regfield"
)

// Gate passes its parent rate while its gate field is non-zero.
type Gate struct {
	clock.FollowsParent
	Parent clock.NodeID
	Field  regfield.Field
}

// Parents ...
func (g *Gate) Parents() []clock.NodeID {
	return []clock.NodeID{g.Parent}
}

// GetRate ...
func (g *Gate) GetRate(env clock.Env) uint32 {
	if env.Regs().Read(g.Field) == 0 {
		return 0
	}
	return env.Rate(g.Parent)
}

// Configure writes value to the gate field.
func (g *Gate) Configure(_ context.Context, env clock.Env, value uint32) error {
	if !g.Field.Fits(value) {
		return fmt.Errorf("gate value %d does not fit %s: %w", value, g.Field, clock.ErrInvalidArgument)
	}
	env.Regs().Write(g.Field, value)
	return nil
}
