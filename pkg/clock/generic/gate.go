package generic

import (
	"context"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock"
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/regfield"
)

// Gate passes its parent rate through while its enable bit is set.
type Gate struct {
	clock.FollowsParent
	Parent clock.NodeID
	Bit    regfield.Field
}

// Parents ...
func (g *Gate) Parents() []clock.NodeID {
	return []clock.NodeID{g.Parent}
}

// GetRate ...
func (g *Gate) GetRate(env clock.Env) uint32 {
	if env.Regs().Read(g.Bit) == 0 {
		return 0
	}
	return env.Rate(g.Parent)
}

// Configure opens the gate for any non-zero value and closes it for 0.
func (g *Gate) Configure(ctx context.Context, env clock.Env, value uint32) error {
	return g.OffOn(ctx, env, value != 0)
}

// OffOn ...
func (g *Gate) OffOn(_ context.Context, env clock.Env, on bool) error {
	var v uint32
	if on {
		v = 1
	}
	env.Regs().Write(g.Bit, v)
	return nil
}
